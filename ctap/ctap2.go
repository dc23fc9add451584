// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ctap encodes and decodes authenticator operations for the
// CTAP2 (CBOR) and CTAP1/U2F (APDU) protocols. It owns only the wire
// encoding; the operations themselves are performed by an Authenticator.
package ctap

import "github.com/fido-device-onboard/go-fdo/cbor"

// CTAP2 command codes, the first byte of a CBOR request.
const (
	CmdMakeCredential   byte = 0x01
	CmdGetAssertion     byte = 0x02
	CmdGetInfo          byte = 0x04
	CmdClientPIN        byte = 0x06
	CmdReset            byte = 0x07
	CmdGetNextAssertion byte = 0x08
	CmdVendorFirst      byte = 0x40
	CmdVendorLast       byte = 0x7F
)

// PublicKeyCredentialType is the only credential type defined by WebAuthn.
const PublicKeyCredentialType = "public-key"

// RelyingParty is PublicKeyCredentialRpEntity.
type RelyingParty struct {
	ID   string
	Name string
}

// User is PublicKeyCredentialUserEntity.
type User struct {
	ID          []byte
	Name        string
	DisplayName string
}

// CredentialParam is one entry of pubKeyCredParams.
type CredentialParam struct {
	Type string
	Alg  int64
}

// CredentialDescriptor identifies a credential in allow and exclude lists.
type CredentialDescriptor struct {
	Type string
	ID   []byte
}

// MakeCredentialParams are the authenticatorMakeCredential parameters.
type MakeCredentialParams struct {
	Extensions       map[string]cbor.RawBytes
	Options          map[string]bool
	RP               RelyingParty
	User             User
	ClientDataHash   []byte
	PubKeyCredParams []CredentialParam
	ExcludeList      []CredentialDescriptor
	PinAuth          []byte
	PinProtocol      int64
}

// GetAssertionParams are the authenticatorGetAssertion parameters.
type GetAssertionParams struct {
	Extensions     map[string]cbor.RawBytes
	Options        map[string]bool
	RPID           string
	ClientDataHash []byte
	AllowList      []CredentialDescriptor
	PinAuth        []byte
	PinProtocol    int64
}

// AttestationObject is the authenticatorMakeCredential result.
type AttestationObject struct {
	AttStmt  map[string]any
	Fmt      string
	AuthData []byte
}

// AssertionResponse is the authenticatorGetAssertion result.
type AssertionResponse struct {
	Credential          *CredentialDescriptor
	User                *User
	AuthData            []byte
	Signature           []byte
	NumberOfCredentials int
}

// AuthenticatorInfo is the authenticatorGetInfo result.
type AuthenticatorInfo struct {
	Options      map[string]bool
	Versions     []string
	Extensions   []string
	AAGUID       []byte
	PinProtocols []int64
	MaxMsgSize   int64
}

// fields holds a decoded CBOR map with integer keys.
type fields map[int64]cbor.RawBytes

func decodeFields(data []byte) (fields, error) {
	var m map[int64]cbor.RawBytes
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, ErrInvalidCbor
	}
	return m, nil
}

// get decodes key into dst. Missing required keys report
// ErrMissingParameter; values of the wrong type ErrCborUnexpectedType.
func get[T any](f fields, key int64, required bool, dst *T) error {
	raw, ok := f[key]
	if !ok {
		if required {
			return ErrMissingParameter
		}
		return nil
	}
	if err := cbor.Unmarshal(raw, dst); err != nil {
		return ErrCborUnexpectedType
	}
	return nil
}

func decodeRelyingParty(raw map[string]cbor.RawBytes) (RelyingParty, error) {
	var rp RelyingParty
	f := stringFields(raw)
	if err := getString(f, "id", true, &rp.ID); err != nil {
		return rp, err
	}
	return rp, getString(f, "name", false, &rp.Name)
}

func decodeUser(raw map[string]cbor.RawBytes) (User, error) {
	var u User
	f := stringFields(raw)
	if err := getString(f, "id", true, &u.ID); err != nil {
		return u, err
	}
	if err := getString(f, "name", false, &u.Name); err != nil {
		return u, err
	}
	return u, getString(f, "displayName", false, &u.DisplayName)
}

func decodeDescriptors(raw []map[string]cbor.RawBytes) ([]CredentialDescriptor, error) {
	out := make([]CredentialDescriptor, 0, len(raw))
	for _, m := range raw {
		var d CredentialDescriptor
		f := stringFields(m)
		if err := getString(f, "type", true, &d.Type); err != nil {
			return nil, err
		}
		if err := getString(f, "id", true, &d.ID); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

type stringFields map[string]cbor.RawBytes

func getString[T any](f stringFields, key string, required bool, dst *T) error {
	raw, ok := f[key]
	if !ok {
		if required {
			return ErrMissingParameter
		}
		return nil
	}
	if err := cbor.Unmarshal(raw, dst); err != nil {
		return ErrCborUnexpectedType
	}
	return nil
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (p *MakeCredentialParams) UnmarshalCBOR(data []byte) error {
	f, err := decodeFields(data)
	if err != nil {
		return err
	}
	var (
		rp, user map[string]cbor.RawBytes
		params   []map[string]cbor.RawBytes
		exclude  []map[string]cbor.RawBytes
	)
	steps := []error{
		get(f, 1, true, &p.ClientDataHash),
		get(f, 2, true, &rp),
		get(f, 3, true, &user),
		get(f, 4, true, &params),
		get(f, 5, false, &exclude),
		get(f, 6, false, &p.Extensions),
		get(f, 7, false, &p.Options),
		get(f, 8, false, &p.PinAuth),
		get(f, 9, false, &p.PinProtocol),
	}
	if err := firstError(steps); err != nil {
		return err
	}

	if p.RP, err = decodeRelyingParty(rp); err != nil {
		return err
	}
	if p.User, err = decodeUser(user); err != nil {
		return err
	}
	for _, m := range params {
		var cp CredentialParam
		sf := stringFields(m)
		if err := getString(sf, "type", true, &cp.Type); err != nil {
			return err
		}
		if err := getString(sf, "alg", true, &cp.Alg); err != nil {
			return err
		}
		p.PubKeyCredParams = append(p.PubKeyCredParams, cp)
	}
	p.ExcludeList, err = decodeDescriptors(exclude)
	return err
}

// MarshalCBOR implements cbor.Marshaler.
func (p *MakeCredentialParams) MarshalCBOR() ([]byte, error) {
	params := make([]map[string]any, 0, len(p.PubKeyCredParams))
	for _, cp := range p.PubKeyCredParams {
		params = append(params, map[string]any{"type": cp.Type, "alg": cp.Alg})
	}
	m := map[int]any{
		1: p.ClientDataHash,
		2: encodeRelyingParty(p.RP),
		3: encodeUser(&p.User),
		4: params,
	}
	if len(p.ExcludeList) > 0 {
		m[5] = encodeDescriptors(p.ExcludeList)
	}
	if len(p.Options) > 0 {
		m[7] = p.Options
	}
	if len(p.PinAuth) > 0 {
		m[8] = p.PinAuth
		m[9] = p.PinProtocol
	}
	return cbor.Marshal(m)
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (p *GetAssertionParams) UnmarshalCBOR(data []byte) error {
	f, err := decodeFields(data)
	if err != nil {
		return err
	}
	var allow []map[string]cbor.RawBytes
	steps := []error{
		get(f, 1, true, &p.RPID),
		get(f, 2, true, &p.ClientDataHash),
		get(f, 3, false, &allow),
		get(f, 4, false, &p.Extensions),
		get(f, 5, false, &p.Options),
		get(f, 6, false, &p.PinAuth),
		get(f, 7, false, &p.PinProtocol),
	}
	if err := firstError(steps); err != nil {
		return err
	}
	p.AllowList, err = decodeDescriptors(allow)
	return err
}

// MarshalCBOR implements cbor.Marshaler.
func (p *GetAssertionParams) MarshalCBOR() ([]byte, error) {
	m := map[int]any{
		1: p.RPID,
		2: p.ClientDataHash,
	}
	if len(p.AllowList) > 0 {
		m[3] = encodeDescriptors(p.AllowList)
	}
	if len(p.Options) > 0 {
		m[5] = p.Options
	}
	return cbor.Marshal(m)
}

// MarshalCBOR implements cbor.Marshaler.
func (a *AttestationObject) MarshalCBOR() ([]byte, error) {
	stmt := a.AttStmt
	if stmt == nil {
		stmt = map[string]any{}
	}
	return cbor.Marshal(map[int]any{
		1: a.Fmt,
		2: a.AuthData,
		3: stmt,
	})
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (a *AttestationObject) UnmarshalCBOR(data []byte) error {
	f, err := decodeFields(data)
	if err != nil {
		return err
	}
	var stmt map[string]any
	steps := []error{
		get(f, 1, true, &a.Fmt),
		get(f, 2, true, &a.AuthData),
		get(f, 3, true, &stmt),
	}
	if err := firstError(steps); err != nil {
		return err
	}
	a.AttStmt = stmt
	return nil
}

// MarshalCBOR implements cbor.Marshaler.
func (r *AssertionResponse) MarshalCBOR() ([]byte, error) {
	m := map[int]any{
		2: r.AuthData,
		3: r.Signature,
	}
	if r.Credential != nil {
		m[1] = encodeDescriptors([]CredentialDescriptor{*r.Credential})[0]
	}
	if r.User != nil {
		m[4] = encodeUser(r.User)
	}
	if r.NumberOfCredentials > 1 {
		m[5] = r.NumberOfCredentials
	}
	return cbor.Marshal(m)
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (r *AssertionResponse) UnmarshalCBOR(data []byte) error {
	f, err := decodeFields(data)
	if err != nil {
		return err
	}
	var cred, user map[string]cbor.RawBytes
	steps := []error{
		get(f, 1, false, &cred),
		get(f, 2, true, &r.AuthData),
		get(f, 3, true, &r.Signature),
		get(f, 4, false, &user),
		get(f, 5, false, &r.NumberOfCredentials),
	}
	if err := firstError(steps); err != nil {
		return err
	}
	if cred != nil {
		ds, err := decodeDescriptors([]map[string]cbor.RawBytes{cred})
		if err != nil {
			return err
		}
		r.Credential = &ds[0]
	}
	if user != nil {
		u, err := decodeUser(user)
		if err != nil {
			return err
		}
		r.User = &u
	}
	return nil
}

// MarshalCBOR implements cbor.Marshaler.
func (i *AuthenticatorInfo) MarshalCBOR() ([]byte, error) {
	m := map[int]any{
		1: i.Versions,
		3: i.AAGUID,
	}
	if len(i.Extensions) > 0 {
		m[2] = i.Extensions
	}
	if len(i.Options) > 0 {
		m[4] = i.Options
	}
	if i.MaxMsgSize > 0 {
		m[5] = i.MaxMsgSize
	}
	if len(i.PinProtocols) > 0 {
		m[6] = i.PinProtocols
	}
	return cbor.Marshal(m)
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (i *AuthenticatorInfo) UnmarshalCBOR(data []byte) error {
	f, err := decodeFields(data)
	if err != nil {
		return err
	}
	steps := []error{
		get(f, 1, true, &i.Versions),
		get(f, 2, false, &i.Extensions),
		get(f, 3, true, &i.AAGUID),
		get(f, 4, false, &i.Options),
		get(f, 5, false, &i.MaxMsgSize),
		get(f, 6, false, &i.PinProtocols),
	}
	return firstError(steps)
}

func encodeRelyingParty(rp RelyingParty) map[string]any {
	m := map[string]any{"id": rp.ID}
	if rp.Name != "" {
		m["name"] = rp.Name
	}
	return m
}

func encodeUser(u *User) map[string]any {
	m := map[string]any{"id": u.ID}
	if u.Name != "" {
		m["name"] = u.Name
	}
	if u.DisplayName != "" {
		m["displayName"] = u.DisplayName
	}
	return m
}

func encodeDescriptors(ds []CredentialDescriptor) []map[string]any {
	out := make([]map[string]any, 0, len(ds))
	for _, d := range ds {
		out = append(out, map[string]any{"type": d.Type, "id": d.ID})
	}
	return out
}

func firstError(steps []error) error {
	for _, err := range steps {
		if err != nil {
			return err
		}
	}
	return nil
}

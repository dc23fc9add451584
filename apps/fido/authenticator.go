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

package fido

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ZaparooProject/go-authkey"
	"github.com/ZaparooProject/go-authkey/ctap"
	"github.com/ZaparooProject/go-authkey/internal/frame"
	"github.com/fido-device-onboard/go-fdo/cose"
)

// Authenticator data flags.
const (
	FlagUserPresent  byte = 0x01
	FlagUserVerified byte = 0x04
	FlagAttested     byte = 0x40
)

// AttestationFormatNone is the only attestation statement format produced.
const AttestationFormatNone = "none"

const (
	credentialIDSize = 32
	coordinateSize   = 32
	aaguidSize       = 16
)

// DefaultAAGUID is the all-zero AAGUID used with none attestation.
var DefaultAAGUID = make([]byte, aaguidSize)

// PresenceFunc asks for user presence. Returning false denies the operation.
type PresenceFunc func(ctx context.Context) bool

// Authenticator is a software CTAP2 authenticator supporting ES256
// credentials.
type Authenticator struct {
	store    CredentialStore
	presence PresenceFunc
	rand     io.Reader
	now      func() time.Time
	aaguid   []byte
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithAAGUID sets the authenticator model identifier.
func WithAAGUID(aaguid []byte) Option {
	return func(a *Authenticator) { a.aaguid = aaguid }
}

// WithPresence installs a user presence check.
func WithPresence(fn PresenceFunc) Option {
	return func(a *Authenticator) { a.presence = fn }
}

// WithRand sets the entropy source for keys and credential ids.
func WithRand(r io.Reader) Option {
	return func(a *Authenticator) { a.rand = r }
}

// NewAuthenticator returns an Authenticator keeping credentials in store.
func NewAuthenticator(store CredentialStore, opts ...Option) *Authenticator {
	a := &Authenticator{
		store:  store,
		aaguid: DefaultAAGUID,
		rand:   rand.Reader,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

var _ ctap.Authenticator = (*Authenticator)(nil)

// GetInfo implements ctap.Authenticator.
func (a *Authenticator) GetInfo(context.Context) (*ctap.AuthenticatorInfo, error) {
	return &ctap.AuthenticatorInfo{
		Versions:   []string{"FIDO_2_0", ctap.U2FVersionString},
		AAGUID:     a.aaguid,
		Options:    map[string]bool{"rk": true, "up": true, "plat": false},
		MaxMsgSize: frame.MaxMessageSize,
	}, nil
}

// Reset implements ctap.Authenticator.
func (a *Authenticator) Reset(ctx context.Context) error {
	if !a.userPresent(ctx) {
		return ctap.ErrOperationDenied
	}
	return a.store.Clear(ctx)
}

// MakeCredential implements ctap.Authenticator.
func (a *Authenticator) MakeCredential(
	ctx context.Context, p *ctap.MakeCredentialParams,
) (*ctap.AttestationObject, error) {
	if !supportsES256(p.PubKeyCredParams) {
		return nil, ctap.ErrUnsupportedAlgorithm
	}
	if p.Options["uv"] {
		return nil, ctap.ErrUnsupportedOption
	}
	for _, d := range p.ExcludeList {
		cred, err := a.store.Get(ctx, d.ID)
		if errors.Is(err, ErrCredentialNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if cred.RPID == p.RP.ID {
			a.userPresent(ctx)
			return nil, ctap.ErrCredentialExcluded
		}
	}
	if !a.userPresent(ctx) {
		return nil, ctap.ErrOperationDenied
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), a.rand)
	if err != nil {
		return nil, fmt.Errorf("generating credential key: %w", err)
	}
	pkcs8, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("encoding credential key: %w", err)
	}
	id := make([]byte, credentialIDSize)
	if _, err := io.ReadFull(a.rand, id); err != nil {
		return nil, fmt.Errorf("generating credential id: %w", err)
	}
	cred := &Credential{
		ID:          id,
		RPID:        p.RP.ID,
		UserID:      p.User.ID,
		UserName:    p.User.Name,
		DisplayName: p.User.DisplayName,
		PrivateKey:  pkcs8,
		Created:     a.now(),
	}
	if err := a.store.Put(ctx, cred); err != nil {
		return nil, err
	}

	coseKey, err := encodePublicKey(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	authData := authenticatorData(p.RP.ID, FlagUserPresent|FlagAttested, 0)
	authData = append(authData, a.aaguid...)
	authData = binary.BigEndian.AppendUint16(authData, uint16(len(id))) //nolint:gosec // fixed size
	authData = append(authData, id...)
	authData = append(authData, coseKey...)

	authkey.Debugf("fido: registered credential %s for %s", authkey.FormatHex(id[:8]), p.RP.ID)
	return &ctap.AttestationObject{
		Fmt:      AttestationFormatNone,
		AuthData: authData,
		AttStmt:  map[string]any{},
	}, nil
}

// GetAssertion implements ctap.Authenticator.
func (a *Authenticator) GetAssertion(
	ctx context.Context, p *ctap.GetAssertionParams,
) (*ctap.AssertionResponse, error) {
	if p.Options["uv"] {
		return nil, ctap.ErrUnsupportedOption
	}
	creds, err := a.candidates(ctx, p)
	if err != nil {
		return nil, err
	}
	if len(creds) == 0 {
		return nil, ctap.ErrNoCredentials
	}
	if !a.userPresent(ctx) {
		return nil, ctap.ErrOperationDenied
	}

	cred := creds[0]
	parsed, err := x509.ParsePKCS8PrivateKey(cred.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("decoding credential key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("credential key is %T, not ECDSA", parsed)
	}

	count := cred.SignCount + 1
	if err := a.store.SetSignCount(ctx, cred.ID, count); err != nil {
		return nil, err
	}
	authData := authenticatorData(p.RPID, FlagUserPresent, count)
	digest := sha256.Sum256(append(append([]byte(nil), authData...), p.ClientDataHash...))
	sig, err := ecdsa.SignASN1(a.rand, key, digest[:])
	if err != nil {
		return nil, fmt.Errorf("signing assertion: %w", err)
	}

	resp := &ctap.AssertionResponse{
		Credential: &ctap.CredentialDescriptor{Type: ctap.PublicKeyCredentialType, ID: cred.ID},
		AuthData:   authData,
		Signature:  sig,
	}
	if len(p.AllowList) == 0 {
		resp.User = &ctap.User{ID: cred.UserID, Name: cred.UserName, DisplayName: cred.DisplayName}
		resp.NumberOfCredentials = len(creds)
	}
	return resp, nil
}

// candidates returns the usable credentials, preferring allowList order.
func (a *Authenticator) candidates(ctx context.Context, p *ctap.GetAssertionParams) ([]*Credential, error) {
	if len(p.AllowList) == 0 {
		return a.store.List(ctx, p.RPID)
	}
	var out []*Credential
	for _, d := range p.AllowList {
		cred, err := a.store.Get(ctx, d.ID)
		if errors.Is(err, ErrCredentialNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if cred.RPID == p.RPID {
			out = append(out, cred)
		}
	}
	return out, nil
}

func (a *Authenticator) userPresent(ctx context.Context) bool {
	return a.presence == nil || a.presence(ctx)
}

func supportsES256(params []ctap.CredentialParam) bool {
	for _, cp := range params {
		if cp.Type == ctap.PublicKeyCredentialType && cp.Alg == int64(cose.ES256Alg) {
			return true
		}
	}
	return false
}

// authenticatorData returns rpIdHash || flags || signCount.
func authenticatorData(rpID string, flags byte, count uint32) []byte {
	hash := sha256.Sum256([]byte(rpID))
	out := make([]byte, 0, len(hash)+5)
	out = append(out, hash[:]...)
	out = append(out, flags)
	return binary.BigEndian.AppendUint32(out, count)
}

// encodePublicKey returns the COSE_Key of pub with fixed width coordinates.
func encodePublicKey(pub *ecdsa.PublicKey) ([]byte, error) {
	key, err := cose.NewKey(pub)
	if err != nil {
		return nil, err
	}
	key[cose.KeyLabel{Int64: -2}] = pub.X.FillBytes(make([]byte, coordinateSize))
	key[cose.KeyLabel{Int64: -3}] = pub.Y.FillBytes(make([]byte, coordinateSize))
	key[cose.AlgKeyLabel] = int64(cose.ES256Alg)
	return key.MarshalCBOR()
}

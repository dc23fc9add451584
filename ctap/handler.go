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

package ctap

import (
	"context"
	"errors"

	"github.com/ZaparooProject/go-authkey"
	"github.com/fido-device-onboard/go-fdo/cbor"
)

// Authenticator performs the CTAP2 operations. Returning a ctap.Error
// selects the status code; any other error answers ErrOther.
type Authenticator interface {
	MakeCredential(ctx context.Context, params *MakeCredentialParams) (*AttestationObject, error)
	GetAssertion(ctx context.Context, params *GetAssertionParams) (*AssertionResponse, error)
	GetInfo(ctx context.Context) (*AuthenticatorInfo, error)
	Reset(ctx context.Context) error
}

// VendorHandler is implemented by authenticators that accept vendor
// commands 0x40 to 0x7F.
type VendorHandler interface {
	Vendor(ctx context.Context, cmd byte, params []byte) ([]byte, error)
}

// HandleCBOR decodes a CTAP2 request, invokes auth and encodes the
// response as a status byte followed by the CBOR result.
func HandleCBOR(ctx context.Context, auth Authenticator, req []byte) []byte {
	if len(req) == 0 {
		return status(ErrInvalidLength)
	}
	op, params := req[0], req[1:]

	switch {
	case op == CmdMakeCredential:
		var p MakeCredentialParams
		if err := cbor.Unmarshal(params, &p); err != nil {
			return status(decodeStatus(err))
		}
		res, err := auth.MakeCredential(ctx, &p)
		return encodeResult(res, err)
	case op == CmdGetAssertion:
		var p GetAssertionParams
		if err := cbor.Unmarshal(params, &p); err != nil {
			return status(decodeStatus(err))
		}
		res, err := auth.GetAssertion(ctx, &p)
		return encodeResult(res, err)
	case op == CmdGetInfo:
		res, err := auth.GetInfo(ctx)
		return encodeResult(res, err)
	case op == CmdReset:
		if err := auth.Reset(ctx); err != nil {
			return status(statusOf(err))
		}
		return status(StatusOK)
	case op >= CmdVendorFirst && op <= CmdVendorLast:
		vh, ok := auth.(VendorHandler)
		if !ok {
			return status(ErrInvalidCommand)
		}
		out, err := vh.Vendor(ctx, op, params)
		if err != nil {
			return status(statusOf(err))
		}
		return append(status(StatusOK), out...)
	default:
		authkey.Debugf("ctap: unsupported command 0x%02X", op)
		return status(ErrInvalidCommand)
	}
}

type marshalerPtr[T any] interface {
	*T
	cbor.Marshaler
}

func encodeResult[T any, P marshalerPtr[T]](res P, err error) []byte {
	if err != nil {
		return status(statusOf(err))
	}
	if res == nil {
		return status(ErrOther)
	}
	out, err := res.MarshalCBOR()
	if err != nil {
		authkey.Debugf("ctap: encoding result: %v", err)
		return status(ErrOther)
	}
	return append(status(StatusOK), out...)
}

// decodeStatus maps a parameter decode failure to its status. Structural
// CBOR failures are ErrInvalidCbor.
func decodeStatus(err error) Error {
	var ce Error
	if errors.As(err, &ce) {
		return ce
	}
	return ErrInvalidCbor
}

func statusOf(err error) Error {
	var ce Error
	if errors.As(err, &ce) {
		return ce
	}
	authkey.Debugf("ctap: authenticator error: %v", err)
	return ErrOther
}

func status(code Error) []byte { return []byte{byte(code)} }

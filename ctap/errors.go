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

import "fmt"

// Error is a CTAP status code. Every non-success status is an error.
type Error byte

// CTAP status codes.
const (
	StatusOK                Error = 0x00
	ErrInvalidCommand       Error = 0x01
	ErrInvalidParameter     Error = 0x02
	ErrInvalidLength        Error = 0x03
	ErrCborUnexpectedType   Error = 0x11
	ErrInvalidCbor          Error = 0x12
	ErrMissingParameter     Error = 0x14
	ErrCredentialExcluded   Error = 0x19
	ErrUnsupportedAlgorithm Error = 0x26
	ErrOperationDenied      Error = 0x27
	ErrKeyStoreFull         Error = 0x28
	ErrUnsupportedOption    Error = 0x2B
	ErrNoCredentials        Error = 0x2E
	ErrNotAllowed           Error = 0x30
	ErrOther                Error = 0x7F
)

var errorNames = map[Error]string{
	StatusOK:                "ok",
	ErrInvalidCommand:       "invalid command",
	ErrInvalidParameter:     "invalid parameter",
	ErrInvalidLength:        "invalid length",
	ErrCborUnexpectedType:   "unexpected CBOR type",
	ErrInvalidCbor:          "invalid CBOR",
	ErrMissingParameter:     "missing parameter",
	ErrCredentialExcluded:   "credential excluded",
	ErrUnsupportedAlgorithm: "unsupported algorithm",
	ErrOperationDenied:      "operation denied",
	ErrKeyStoreFull:         "key store full",
	ErrUnsupportedOption:    "unsupported option",
	ErrNoCredentials:        "no credentials",
	ErrNotAllowed:           "not allowed",
	ErrOther:                "other error",
}

func (e Error) Error() string {
	if name, ok := errorNames[e]; ok {
		return fmt.Sprintf("ctap: %s (0x%02X)", name, byte(e))
	}
	return fmt.Sprintf("ctap: status 0x%02X", byte(e))
}

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
	"encoding/binary"

	"github.com/ZaparooProject/go-authkey/apdu"
)

// U2F instructions.
const (
	U2FRegister     byte = 0x01
	U2FAuthenticate byte = 0x02
	U2FVersion      byte = 0x03
)

// U2FVersionString is the answer to U2F_VERSION.
const U2FVersionString = "U2F_V2"

const (
	registerDataLen  = 64
	authKeyHandleOff = 64
	authMinDataLen   = 65
)

// ParseU2F parses a raw U2F request. U2F framing always uses the extended
// length encoding, so the body after the header is empty, a 3 byte Le, or
// 00 Lc Lc data with an optional 2 byte Le. A failure returns the status
// word to answer with.
func ParseU2F(raw []byte) (apdu.Command, apdu.Status) {
	if len(raw) < 4 {
		return apdu.Command{}, apdu.WrongLength
	}
	cmd := apdu.Command{Class: raw[0], Ins: raw[1], P1: raw[2], P2: raw[3], Extended: true}
	if cmd.Class != 0 {
		return apdu.Command{}, apdu.ClassNotSupported
	}
	if cmd.Ins == U2FVersion {
		return cmd, apdu.Success
	}

	body := raw[4:]
	switch {
	case len(body) == 0:
	case len(body) == 3 && body[0] == 0:
		cmd.Le = int(binary.BigEndian.Uint16(body[1:]))
	case len(body) > 3 && body[0] == 0:
		lc := int(binary.BigEndian.Uint16(body[1:3]))
		switch len(body) {
		case 3 + lc:
			cmd.Data = body[3:]
		case 5 + lc:
			cmd.Data = body[3 : 3+lc]
			cmd.Le = int(binary.BigEndian.Uint16(body[3+lc:]))
		default:
			return apdu.Command{}, apdu.WrongLength
		}
	default:
		return apdu.Command{}, apdu.WrongLength
	}
	return cmd, apdu.Success
}

// HandleU2FCommand answers a parsed U2F command. Only U2F_VERSION is
// implemented; well-formed registration and authentication requests are
// answered with instruction-not-supported.
func HandleU2FCommand(cmd apdu.Command) apdu.Response {
	if cmd.Class != 0 {
		return apdu.StatusResponse(apdu.ClassNotSupported)
	}
	switch cmd.Ins {
	case U2FVersion:
		return apdu.NewResponse(apdu.Success, []byte(U2FVersionString))
	case U2FRegister:
		if len(cmd.Data) != registerDataLen {
			return apdu.StatusResponse(apdu.WrongData)
		}
	case U2FAuthenticate:
		if !validAuthenticate(cmd) {
			return apdu.StatusResponse(apdu.WrongData)
		}
	}
	return apdu.StatusResponse(apdu.InstructionNotSupported)
}

func validAuthenticate(cmd apdu.Command) bool {
	switch cmd.P1 {
	case 0x03, 0x07, 0x08: // enforce, check-only, don't-enforce
	default:
		return false
	}
	if len(cmd.Data) < authMinDataLen {
		return false
	}
	return len(cmd.Data) == authMinDataLen+int(cmd.Data[authKeyHandleOff])
}

// HandleU2F parses and answers a raw U2F request.
func HandleU2F(raw []byte) []byte {
	cmd, status := ParseU2F(raw)
	if status != apdu.Success {
		return apdu.StatusResponse(status).Bytes()
	}
	return HandleU2FCommand(cmd).Bytes()
}

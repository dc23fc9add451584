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

// Package apdu parses and serializes ISO 7816-4 command and response
// APDUs in both short and extended length encodings.
package apdu

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Instructions the applications dispatch on.
const (
	InsSelect     = 0xA4
	InsReadBinary = 0xB0
)

// Parse errors.
var (
	ErrTooShort              = errors.New("apdu: command shorter than header")
	ErrInvalidClass          = errors.New("apdu: invalid class byte")
	ErrInvalidLength         = errors.New("apdu: body length does not match Lc/Le")
	ErrInvalidExtendedLength = errors.New("apdu: invalid extended length encoding")
)

const (
	headerLen        = 4
	maxShortLe       = 256
	maxExtendedLe    = 65536
	maxShortDataSize = 255
)

// Command is a parsed command APDU. Le is the expected response length;
// zero means no response data is expected.
type Command struct {
	Data     []byte
	Le       int
	Class    byte
	Ins      byte
	P1       byte
	P2       byte
	Extended bool
}

// ParseCommand parses raw command bytes. Data aliases b.
func ParseCommand(b []byte) (Command, error) {
	if len(b) < headerLen {
		return Command{}, ErrTooShort
	}
	cmd := Command{Class: b[0], Ins: b[1], P1: b[2], P2: b[3]}
	if cmd.Class == 0xFF {
		return Command{}, ErrInvalidClass
	}

	body := b[headerLen:]
	switch {
	case len(body) == 0:
		return cmd, nil
	case len(body) == 1:
		cmd.Le = shortLe(body[0])
		return cmd, nil
	case body[0] == 0 && len(body) >= 3:
		return parseExtended(cmd, body)
	default:
		return parseShort(cmd, body)
	}
}

func parseShort(cmd Command, body []byte) (Command, error) {
	lc := int(body[0])
	if lc == 0 {
		return Command{}, ErrInvalidLength
	}
	switch len(body) {
	case 1 + lc:
		cmd.Data = body[1:]
	case 2 + lc:
		cmd.Data = body[1 : 1+lc]
		cmd.Le = shortLe(body[1+lc])
	default:
		return Command{}, ErrInvalidLength
	}
	return cmd, nil
}

func parseExtended(cmd Command, body []byte) (Command, error) {
	cmd.Extended = true
	if len(body) == 3 {
		cmd.Le = extendedLe(binary.BigEndian.Uint16(body[1:3]))
		return cmd, nil
	}
	lc := int(binary.BigEndian.Uint16(body[1:3]))
	if lc == 0 {
		return Command{}, ErrInvalidExtendedLength
	}
	switch len(body) {
	case 3 + lc:
		cmd.Data = body[3:]
	case 5 + lc:
		cmd.Data = body[3 : 3+lc]
		cmd.Le = extendedLe(binary.BigEndian.Uint16(body[3+lc:]))
	default:
		return Command{}, ErrInvalidExtendedLength
	}
	return cmd, nil
}

func shortLe(b byte) int {
	if b == 0 {
		return maxShortLe
	}
	return int(b)
}

func extendedLe(v uint16) int {
	if v == 0 {
		return maxExtendedLe
	}
	return int(v)
}

// Bytes serializes the command. The extended encoding is used when
// Extended is set or the data or Le do not fit the short form.
func (c Command) Bytes() []byte {
	out := []byte{c.Class, c.Ins, c.P1, c.P2}
	extended := c.Extended || len(c.Data) > maxShortDataSize || c.Le > maxShortLe

	if !extended {
		if len(c.Data) > 0 {
			out = append(out, byte(len(c.Data)))
			out = append(out, c.Data...)
		}
		if c.Le > 0 {
			out = append(out, byte(c.Le)) // 256 wraps to 0x00
		}
		return out
	}

	if len(c.Data) == 0 && c.Le == 0 {
		return out
	}
	out = append(out, 0x00)
	if len(c.Data) > 0 {
		out = binary.BigEndian.AppendUint16(out, uint16(len(c.Data))) //nolint:gosec // bounded by caller
		out = append(out, c.Data...)
	}
	if c.Le > 0 {
		out = binary.BigEndian.AppendUint16(out, uint16(c.Le)) //nolint:gosec // 65536 wraps to 0x0000
	}
	return out
}

// IsSelectByName reports whether the command is SELECT by DF name.
func (c Command) IsSelectByName() bool {
	return c.Class&0x80 == 0 && c.Ins == InsSelect && c.P1 == 0x04
}

func (c Command) String() string {
	return fmt.Sprintf("CLA=%02X INS=%02X P1=%02X P2=%02X Lc=%d Le=%d",
		c.Class, c.Ins, c.P1, c.P2, len(c.Data), c.Le)
}

// go-authkey
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-authkey.
//
// go-authkey is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-authkey is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-authkey; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package testing

import (
	"encoding/binary"

	"github.com/ZaparooProject/go-authkey/apdu"
)

// SelectAPDU builds SELECT by DF name.
func SelectAPDU(aid []byte) []byte {
	return apdu.Command{Ins: apdu.InsSelect, P1: 0x04, Data: aid, Le: 256}.Bytes()
}

// SelectFileAPDU builds SELECT by file identifier, first or only
// occurrence, no response data.
func SelectFileAPDU(fid uint16) []byte {
	return apdu.Command{
		Ins:  apdu.InsSelect,
		P2:   0x0C,
		Data: binary.BigEndian.AppendUint16(nil, fid),
	}.Bytes()
}

// ReadBinaryAPDU builds READ BINARY at offset.
func ReadBinaryAPDU(offset uint16, le int) []byte {
	return apdu.Command{
		Ins: apdu.InsReadBinary,
		P1:  byte(offset >> 8),
		P2:  byte(offset),
		Le:  le,
	}.Bytes()
}

// CTAP2APDU wraps a CTAP2 request in NFCCTAP_MSG.
func CTAP2APDU(request []byte) []byte {
	return apdu.Command{Class: 0x80, Ins: 0x10, Data: request, Le: 256}.Bytes()
}

// SplitStatus separates response data from the status word. A response
// shorter than a status word yields a zero status.
func SplitStatus(resp []byte) ([]byte, apdu.Status) {
	r, ok := apdu.ParseResponse(resp)
	if !ok {
		return nil, 0
	}
	return r.Data, r.Status
}

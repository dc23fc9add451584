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

// Package ndef is a read-only NFC Forum type 4 tag application serving a
// single NDEF message.
package ndef

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/ZaparooProject/go-authkey"
	"github.com/ZaparooProject/go-authkey/apdu"
)

// AID is the NDEF tag application identifier.
var AID = []byte{0xD2, 0x76, 0x00, 0x00, 0x85, 0x01, 0x01}

// File identifiers.
const (
	CCFileID   uint16 = 0xE103
	NDEFFileID uint16 = 0xE104
)

const (
	ccVersion      = 0x20
	maxRAPDU       = 0x7F
	maxCAPDU       = 0x7F
	ndefFileTLV    = 0x04
	readAccessOpen = 0x00
	writeNever     = 0xFF

	// MaxNDEFSize bounds the NDEF file including its length prefix.
	MaxNDEFSize = 0x7FFF
)

// App serves the capability container and one NDEF file.
type App struct {
	cc       []byte
	ndef     []byte
	selected []byte
}

// NewApp builds the tag files for msg.
func NewApp(msg Message) (*App, error) {
	body, err := msg.Encode()
	if err != nil {
		return nil, err
	}
	if len(body)+2 > MaxNDEFSize {
		return nil, fmt.Errorf("ndef: message of %d bytes does not fit the file", len(body))
	}
	file := binary.BigEndian.AppendUint16(nil, uint16(len(body))) //nolint:gosec // bounded above
	file = append(file, body...)
	return &App{cc: capabilityContainer(len(file)), ndef: file}, nil
}

// NewURIApp serves a single URI record.
func NewURIApp(uri string) (*App, error) {
	return NewApp(Message{URIRecord(uri)})
}

func capabilityContainer(fileSize int) []byte {
	cc := []byte{0x00, 0x0F, ccVersion, 0x00, maxRAPDU, 0x00, maxCAPDU, ndefFileTLV, 0x06}
	cc = binary.BigEndian.AppendUint16(cc, NDEFFileID)
	cc = binary.BigEndian.AppendUint16(cc, uint16(fileSize)) //nolint:gosec // bounded by MaxNDEFSize
	return append(cc, readAccessOpen, writeNever)
}

// AID implements dispatch.App.
func (*App) AID() []byte { return AID }

// Select implements dispatch.Selecter.
func (a *App) Select(context.Context, apdu.Command) apdu.Response {
	a.selected = nil
	return apdu.StatusResponse(apdu.Success)
}

// Deselect implements dispatch.Deselecter.
func (a *App) Deselect() { a.selected = nil }

// Call implements dispatch.App.
func (a *App) Call(_ context.Context, cmd apdu.Command) apdu.Response {
	switch cmd.Ins {
	case apdu.InsSelect:
		return a.selectFile(cmd)
	case apdu.InsReadBinary:
		return a.readBinary(cmd)
	default:
		return apdu.StatusResponse(apdu.ConditionsNotSatisfied)
	}
}

func (a *App) selectFile(cmd apdu.Command) apdu.Response {
	if len(cmd.Data) != 2 {
		return apdu.StatusResponse(apdu.WrongLength)
	}
	switch binary.BigEndian.Uint16(cmd.Data) {
	case CCFileID:
		a.selected = a.cc
	case NDEFFileID:
		a.selected = a.ndef
	default:
		authkey.Debugf("ndef: unknown file %s", authkey.FormatHex(cmd.Data))
		return apdu.StatusResponse(apdu.FileNotFound)
	}
	return apdu.StatusResponse(apdu.Success)
}

func (a *App) readBinary(cmd apdu.Command) apdu.Response {
	if a.selected == nil {
		return apdu.StatusResponse(apdu.CommandNotAllowedNoEF)
	}
	offset := int(cmd.P1&0xEF)<<8 | int(cmd.P2)
	if offset >= len(a.selected) {
		return apdu.StatusResponse(apdu.WrongParameters)
	}
	n := len(a.selected) - offset
	if cmd.Le > 0 && cmd.Le < n {
		n = cmd.Le
	}
	return apdu.NewResponse(apdu.Success, a.selected[offset:offset+n])
}

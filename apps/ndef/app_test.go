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

package ndef

import (
	"context"
	"testing"

	"github.com/ZaparooProject/go-authkey/apdu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func selectFile(id uint16) apdu.Command {
	return apdu.Command{Ins: apdu.InsSelect, P1: 0x00, P2: 0x0C, Data: []byte{byte(id >> 8), byte(id)}}
}

func readBinary(offset, le int) apdu.Command {
	return apdu.Command{Ins: apdu.InsReadBinary, P1: byte(offset >> 8), P2: byte(offset), Le: le}
}

func TestApp_TypeFourReadSequence(t *testing.T) {
	t.Parallel()

	app, err := NewURIApp("https://www.zaparoo.org/t/")
	require.NoError(t, err)
	ctx := context.Background()

	assert.Equal(t, AID, app.AID())
	assert.Equal(t, apdu.Success, app.Select(ctx, apdu.Command{}).Status)

	resp := app.Call(ctx, readBinary(0, 2))
	assert.Equal(t, apdu.CommandNotAllowedNoEF, resp.Status, "no file selected")

	require.Equal(t, apdu.Success, app.Call(ctx, selectFile(CCFileID)).Status)
	resp = app.Call(ctx, readBinary(0, 15))
	require.Equal(t, apdu.Success, resp.Status)
	assert.Equal(t, []byte{
		0x00, 0x0F, 0x20, 0x00, 0x7F, 0x00, 0x7F,
		0x04, 0x06, 0xE1, 0x04, 0x00, 0x15, 0x00, 0xFF,
	}, resp.Data)

	require.Equal(t, apdu.Success, app.Call(ctx, selectFile(NDEFFileID)).Status)
	resp = app.Call(ctx, readBinary(0, 2))
	assert.Equal(t, []byte{0x00, 0x13}, resp.Data)

	resp = app.Call(ctx, readBinary(2, 0x13))
	require.Equal(t, apdu.Success, resp.Status)
	msg, err := DecodeMessage(resp.Data)
	require.NoError(t, err)
	require.Len(t, msg, 1)
	uri, err := msg[0].URI()
	require.NoError(t, err)
	assert.Equal(t, "https://www.zaparoo.org/t/", uri)
}

func TestApp_ReadBinaryBounds(t *testing.T) {
	t.Parallel()

	app, err := NewURIApp("https://example.com")
	require.NoError(t, err)
	ctx := context.Background()
	require.Equal(t, apdu.Success, app.Call(ctx, selectFile(NDEFFileID)).Status)
	size := len(app.ndef)

	tests := []struct {
		name    string
		offset  int
		le      int
		wantLen int
		want    apdu.Status
	}{
		{name: "whole file when Le absent", offset: 0, le: 0, wantLen: size, want: apdu.Success},
		{name: "clamped at end", offset: size - 3, le: 200, wantLen: 3, want: apdu.Success},
		{name: "last byte", offset: size - 1, le: 1, wantLen: 1, want: apdu.Success},
		{name: "offset at end", offset: size, le: 1, want: apdu.WrongParameters},
		{name: "offset past end", offset: 0x0200, le: 1, want: apdu.WrongParameters},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp := app.Call(ctx, readBinary(tt.offset, tt.le))
			assert.Equal(t, tt.want, resp.Status)
			assert.Len(t, resp.Data, tt.wantLen)
		})
	}
}

func TestApp_Errors(t *testing.T) {
	t.Parallel()

	app, err := NewURIApp("tel:123")
	require.NoError(t, err)
	ctx := context.Background()

	assert.Equal(t, apdu.FileNotFound, app.Call(ctx, selectFile(0xE105)).Status)
	assert.Equal(t, apdu.WrongLength, app.Call(ctx, apdu.Command{Ins: apdu.InsSelect, Data: []byte{0xE1}}).Status)
	assert.Equal(t, apdu.ConditionsNotSatisfied, app.Call(ctx, apdu.Command{Ins: 0xD6}).Status)

	require.Equal(t, apdu.Success, app.Call(ctx, selectFile(CCFileID)).Status)
	app.Deselect()
	assert.Equal(t, apdu.CommandNotAllowedNoEF, app.Call(ctx, readBinary(0, 1)).Status)

	_, err = NewApp(nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

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

package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_AppendAndReset(t *testing.T) {
	t.Parallel()

	buf := NewBuffer(8)
	require.NoError(t, buf.Append([]byte{1, 2, 3}))
	require.NoError(t, buf.Append([]byte{4, 5}))
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, buf.Bytes())
	assert.Equal(t, 5, buf.Len())
	assert.Equal(t, 3, buf.Free())

	buf.Reset()
	assert.True(t, buf.IsEmpty())
	assert.Empty(t, buf.Bytes())
	assert.Equal(t, 8, buf.Cap())
}

func TestBuffer_AppendOverflowLeavesContents(t *testing.T) {
	t.Parallel()

	buf := NewBuffer(4)
	require.NoError(t, buf.Append([]byte{1, 2, 3}))
	err := buf.Append([]byte{4, 5})
	require.ErrorIs(t, err, ErrBufferFull)
	assert.Equal(t, []byte{1, 2, 3}, buf.Bytes())
}

func TestBuffer_Set(t *testing.T) {
	t.Parallel()

	buf := NewBuffer(4)
	require.NoError(t, buf.Append([]byte{9, 9, 9}))
	require.NoError(t, buf.Set([]byte{1}))
	assert.Equal(t, []byte{1}, buf.Bytes())
	require.ErrorIs(t, buf.Set(make([]byte, 5)), ErrBufferFull)
	assert.True(t, buf.IsEmpty())
}

func TestBuffer_SliceClamps(t *testing.T) {
	t.Parallel()

	buf := NewBuffer(16)
	require.NoError(t, buf.Append([]byte{0, 1, 2, 3, 4}))

	tests := []struct {
		name       string
		expected   []byte
		start, end int
	}{
		{name: "inner range", start: 1, end: 3, expected: []byte{1, 2}},
		{name: "end past length", start: 3, end: 10, expected: []byte{3, 4}},
		{name: "negative start", start: -2, end: 2, expected: []byte{0, 1}},
		{name: "empty range", start: 4, end: 2, expected: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, buf.Slice(tt.start, tt.end))
		})
	}
}

func TestBuffer_CloneIsIndependent(t *testing.T) {
	t.Parallel()

	buf := NewBuffer(4)
	require.NoError(t, buf.Append([]byte{1, 2}))
	clone := buf.Clone()
	buf.Reset()
	require.NoError(t, buf.Append([]byte{7, 7}))
	assert.Equal(t, []byte{1, 2}, clone)
}

func TestChecksum(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		data     []byte
		expected byte
	}{
		{name: "empty", data: nil, expected: 0x00},
		{name: "single", data: []byte{0x42}, expected: 0x42},
		{name: "wraps", data: []byte{0xFF, 0x02}, expected: 0x01},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, CalculateChecksum(tt.data))
			withComplement := append(append([]byte{}, tt.data...), ComplementChecksum(tt.data))
			assert.True(t, ChecksumValid(withComplement))
		})
	}
}

func TestBridgeFrame_RoundTrip(t *testing.T) {
	t.Parallel()

	report := make([]byte, ReportSize)
	for i := range report {
		report[i] = byte(i * 7)
	}
	encoded := EncodeBridgeFrame(report)
	require.Len(t, encoded, BridgeFrameSize)
	assert.Equal(t, byte(BridgeStart), encoded[0])

	decoded, ok := DecodeBridgeFrame(encoded)
	require.True(t, ok)
	assert.Equal(t, report, decoded)

	encoded[10] ^= 0x01
	_, ok = DecodeBridgeFrame(encoded)
	assert.False(t, ok, "corrupted frame must fail the checksum")
}

func TestDecodeBridgeFrame_Rejects(t *testing.T) {
	t.Parallel()

	good := EncodeBridgeFrame([]byte{1, 2, 3})
	badStart := append([]byte{}, good...)
	badStart[0] = 0x00

	for name, data := range map[string][]byte{
		"empty":     nil,
		"short":     good[:10],
		"bad start": badStart,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, ok := DecodeBridgeFrame(data)
			assert.False(t, ok)
		})
	}
}

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

package iso14443

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_TotalPartition(t *testing.T) {
	t.Parallel()

	counts := map[Kind]int{}
	for pcb := range 256 {
		b := byte(pcb)
		kind := Classify(b)
		counts[kind]++

		isI := b&iBlockMask == iBlockPattern
		isR := b&rBlockMask == rBlockPattern
		require.False(t, isI && isR, "pcb %02X matches both I and R masks", b)

		switch kind {
		case KindInformation:
			assert.True(t, isI, "pcb %02X", b)
		case KindReceiveReady:
			assert.True(t, isR, "pcb %02X", b)
		case KindSupervisory:
			assert.False(t, isI || isR, "pcb %02X", b)
		}
	}
	assert.Equal(t, 256, counts[KindInformation]+counts[KindReceiveReady]+counts[KindSupervisory])
	assert.Positive(t, counts[KindInformation])
	assert.Positive(t, counts[KindReceiveReady])
	assert.Positive(t, counts[KindSupervisory])
}

func TestParseBlock(t *testing.T) {
	t.Parallel()

	tests := []struct {
		expectedErr error
		name        string
		frame       []byte
		payload     []byte
		kind        Kind
		cid         byte
		nad         byte
		chaining    bool
		nak         bool
		wtx         bool
	}{
		{name: "plain I-block", frame: []byte{0x02, 0x00, 0xA4}, kind: KindInformation, payload: []byte{0x00, 0xA4}},
		{
			name: "chained I-block with CID and NAD", frame: []byte{0x1F, 0x05, 0x10, 0xAA},
			kind: KindInformation, cid: 0x05, nad: 0x10, chaining: true, payload: []byte{0xAA},
		},
		{name: "R(ACK)", frame: []byte{0xA3}, kind: KindReceiveReady, payload: []byte{}},
		{name: "R(NAK) with CID", frame: []byte{0xBA, 0x01}, kind: KindReceiveReady, cid: 0x01, nak: true, payload: []byte{}},
		{name: "S(WTX) reply", frame: []byte{0xF2, 0x01}, kind: KindSupervisory, wtx: true, payload: []byte{0x01}},
		{name: "S(DESELECT)", frame: []byte{0xC2}, kind: KindSupervisory, payload: []byte{}},
		{name: "empty", frame: nil, expectedErr: ErrEmptyFrame},
		{name: "CID missing", frame: []byte{0x0A}, expectedErr: ErrTruncatedBlock},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			blk, err := ParseBlock(tt.frame)
			if tt.expectedErr != nil {
				require.ErrorIs(t, err, tt.expectedErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, blk.Kind)
			assert.Equal(t, tt.cid, blk.CID)
			assert.Equal(t, tt.nad, blk.NAD)
			assert.Equal(t, tt.chaining, blk.Chaining())
			assert.Equal(t, tt.nak, blk.IsNAK())
			assert.Equal(t, tt.wtx, blk.IsWTX())
			assert.Equal(t, tt.payload, blk.Payload)
		})
	}
}

func TestBuildAck(t *testing.T) {
	t.Parallel()

	plain, err := ParseBlock([]byte{0x13, 0x00})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xA3}, BuildAck(plain))

	withCID, err := ParseBlock([]byte{0x0A, 0x07, 0x00})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0x07}, BuildAck(withCID))
}

func TestSupervisoryBuilders(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []byte{0xF2, 0x01}, WTXRequest(Block{}))
	assert.Equal(t, []byte{0xC2}, DeselectResponse(Block{}))

	withCID := Block{Kind: KindInformation, PCB: 0x0A, CID: 0x03}
	assert.Equal(t, []byte{0xFA, 0x03, 0x01}, WTXRequest(withCID))
	assert.Equal(t, []byte{0xCA, 0x03}, DeselectResponse(withCID))
}

func TestBuildIBlock_TogglesBlockNumber(t *testing.T) {
	t.Parallel()

	for _, pcb := range []byte{0x02, 0x03} {
		to := Block{Kind: KindInformation, PCB: pcb}
		out, n := BuildIBlock(to, []byte{0x90, 0x00}, 32)
		assert.Equal(t, 2, n)
		assert.Equal(t, (pcb^BlockNumberBit)&BlockNumberBit, out[0]&BlockNumberBit)
		assert.Equal(t, KindInformation, Classify(out[0]))
		assert.False(t, out[0]&ChainingBit != 0)
	}
}

func TestBuildIBlock_CopiesCIDAndNAD(t *testing.T) {
	t.Parallel()

	to, err := ParseBlock([]byte{0x0E, 0x01, 0x22, 0x00})
	require.NoError(t, err)

	out, n := BuildIBlock(to, []byte{0x90, 0x00}, 16)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{0x0F, 0x01, 0x22, 0x90, 0x00}, out)
}

// reassemble feeds fragments back through the parser the way a reader
// would and returns the reconstructed payload.
func reassemble(t *testing.T, payload []byte, frameSize int, to Block) []byte {
	t.Helper()

	var got []byte
	offset := 0
	for {
		out, n := BuildIBlock(to, payload[offset:], frameSize)
		require.LessOrEqual(t, len(out)+crcLen, max(frameSize, to.HeaderLen()+crcLen+1))

		blk, err := ParseBlock(out)
		require.NoError(t, err)
		require.Equal(t, KindInformation, blk.Kind)
		got = append(got, blk.Payload...)
		offset += n

		last := offset == len(payload)
		require.Equal(t, !last, blk.Chaining(), "chaining at offset %d", offset)
		if last {
			return got
		}
		to = Block{Kind: KindReceiveReady, PCB: rAckHeader | (blk.BlockNumber() ^ BlockNumberBit)}
	}
}

func TestBuildIBlock_FragmentRoundTrip(t *testing.T) {
	t.Parallel()

	frameSizes := []int{16, 24, 32, 64, 128, 256}
	lengths := []int{2, 13, 14, 30, 255, 256, 257, 1024, 7609}

	for _, fs := range frameSizes {
		for _, n := range lengths {
			payload := make([]byte, n)
			for i := range payload {
				payload[i] = byte(i*31 + n)
			}
			got := reassemble(t, payload, fs, Block{Kind: KindInformation, PCB: 0x02})
			require.True(t, bytes.Equal(payload, got), "frame size %d, length %d", fs, n)
		}
	}
}

func FuzzParseBlock(f *testing.F) {
	f.Add([]byte{0x02, 0x00, 0xA4, 0x04, 0x00})
	f.Add([]byte{0x1F, 0x05, 0x10})
	f.Add([]byte{0xB2})
	f.Add([]byte{0xF2, 0x01})

	f.Fuzz(func(t *testing.T, data []byte) {
		blk, err := ParseBlock(data)
		if err != nil {
			return
		}
		if blk.HeaderLen()+len(blk.Payload) != len(data) {
			t.Fatalf("header %d + payload %d != frame %d", blk.HeaderLen(), len(blk.Payload), len(data))
		}
	})
}

func FuzzBuildIBlock(f *testing.F) {
	f.Add([]byte("hello"), 16, byte(0x02))
	f.Add(make([]byte, 300), 256, byte(0x0F))

	f.Fuzz(func(t *testing.T, payload []byte, frameSize int, pcb byte) {
		if frameSize < 16 || frameSize > MaxFrameSize || len(payload) == 0 {
			return
		}
		to := Block{Kind: KindInformation, PCB: pcb&^ChainingBit | iBlockPattern}
		if to.HasCID() || to.HasNAD() {
			to.CID, to.NAD = 1, 2
		}
		got := reassemble(t, payload, frameSize, to)
		if !bytes.Equal(got, payload) {
			t.Fatalf("round trip mismatch")
		}
	})
}

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

// Package iso14443 implements the card side of the ISO/IEC 14443-4
// half-duplex block transmission protocol.
package iso14443

import (
	"errors"
	"fmt"
)

// Kind is the block type encoded in the protocol control byte (PCB).
type Kind int

const (
	KindInformation Kind = iota
	KindReceiveReady
	KindSupervisory
)

func (k Kind) String() string {
	switch k {
	case KindInformation:
		return "I"
	case KindReceiveReady:
		return "R"
	case KindSupervisory:
		return "S"
	default:
		return "?"
	}
}

// PCB bit layout.
const (
	iBlockMask    = 0xC2
	iBlockPattern = 0x02
	rBlockMask    = 0xE2
	rBlockPattern = 0xA2

	BlockNumberBit = 0x01
	NADFollowing   = 0x04
	CIDFollowing   = 0x08
	ChainingBit    = 0x10
	NAKBit         = 0x10
	wtxBits        = 0x30

	iBlockHeader   = 0x02
	rAckHeader     = 0xA2
	sWTXHeader     = 0xF2
	sDeselectReply = 0xC2

	// crcLen is the CRC_A trailer counted in the peer's frame size.
	crcLen = 2
)

// Block parse errors.
var (
	ErrEmptyFrame     = errors.New("iso14443: empty frame")
	ErrTruncatedBlock = errors.New("iso14443: frame shorter than its header")
)

// Classify returns the block type of a PCB. Every byte maps to exactly one
// kind: anything that is neither an I-block nor an R-block is an S-block.
func Classify(pcb byte) Kind {
	switch {
	case pcb&iBlockMask == iBlockPattern:
		return KindInformation
	case pcb&rBlockMask == rBlockPattern:
		return KindReceiveReady
	default:
		return KindSupervisory
	}
}

// Block is a parsed protocol block. Payload aliases the frame it was
// parsed from.
type Block struct {
	Payload []byte
	Kind    Kind
	PCB     byte
	CID     byte
	NAD     byte
}

// ParseBlock parses one frame with its CRC already removed.
func ParseBlock(frame []byte) (Block, error) {
	if len(frame) == 0 {
		return Block{}, ErrEmptyFrame
	}
	b := Block{PCB: frame[0], Kind: Classify(frame[0])}
	if len(frame) < b.HeaderLen() {
		return Block{}, ErrTruncatedBlock
	}
	off := 1
	if b.HasCID() {
		b.CID = frame[off]
		off++
	}
	if b.HasNAD() {
		b.NAD = frame[off]
		off++
	}
	b.Payload = frame[off:]
	return b, nil
}

// BlockNumber returns the block-number bit.
func (b Block) BlockNumber() byte { return b.PCB & BlockNumberBit }

// HasCID reports whether a CID byte follows the PCB.
func (b Block) HasCID() bool { return b.PCB&CIDFollowing != 0 }

// HasNAD reports whether a NAD byte follows. Only I-blocks carry a NAD.
func (b Block) HasNAD() bool { return b.Kind == KindInformation && b.PCB&NADFollowing != 0 }

// Chaining reports whether more I-blocks of the same message follow.
func (b Block) Chaining() bool { return b.Kind == KindInformation && b.PCB&ChainingBit != 0 }

// IsNAK reports whether an R-block is a negative acknowledgement.
func (b Block) IsNAK() bool { return b.Kind == KindReceiveReady && b.PCB&NAKBit != 0 }

// IsWTX reports whether an S-block is a waiting time extension.
func (b Block) IsWTX() bool { return b.Kind == KindSupervisory && b.PCB&wtxBits == wtxBits }

// HeaderLen is the PCB plus any CID and NAD bytes.
func (b Block) HeaderLen() int {
	n := 1
	if b.HasCID() {
		n++
	}
	if b.HasNAD() {
		n++
	}
	return n
}

func (b Block) String() string {
	return fmt.Sprintf("%s-block pcb=%02X len=%d", b.Kind, b.PCB, len(b.Payload))
}

// appendCID adds the CID flag and byte when the block being answered had one.
func appendCID(header byte, to Block) []byte {
	if !to.HasCID() {
		return []byte{header}
	}
	return []byte{header | CIDFollowing, to.CID}
}

// BuildAck returns an R(ACK) acknowledging block to.
func BuildAck(to Block) []byte {
	return appendCID(rAckHeader|to.BlockNumber(), to)
}

// WTXRequest returns an S(WTX) asking the reader for one more frame
// waiting time.
func WTXRequest(to Block) []byte {
	return append(appendCID(sWTXHeader, to), 0x01)
}

// DeselectResponse returns the S(DESELECT) acknowledgement.
func DeselectResponse(to Block) []byte {
	return appendCID(sDeselectReply, to)
}

// BuildIBlock builds the next I-block answering block to, carrying as much
// of payload as fits a frame of frameSize bytes (CRC included). It returns
// the frame and the number of payload bytes consumed. The chaining bit is
// set when payload did not fit.
func BuildIBlock(to Block, payload []byte, frameSize int) (frame []byte, consumed int) {
	header := byte(iBlockHeader) | (to.BlockNumber() ^ BlockNumberBit)
	if to.HasCID() {
		header |= CIDFollowing
	}
	if to.HasNAD() {
		header |= NADFollowing
	}
	frame = make([]byte, 0, frameSize)
	frame = append(frame, header)
	if to.HasCID() {
		frame = append(frame, to.CID)
	}
	if to.HasNAD() {
		frame = append(frame, to.NAD)
	}

	room := max(frameSize-crcLen-len(frame), 1)
	consumed = min(room, len(payload))
	if consumed < len(payload) {
		frame[0] |= ChainingBit
	}
	frame = append(frame, payload[:consumed]...)
	return frame, consumed
}

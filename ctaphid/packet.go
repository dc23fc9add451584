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

package ctaphid

import (
	"encoding/binary"
	"errors"
)

// ErrShortPacket is returned for a report shorter than its header.
var ErrShortPacket = errors.New("ctaphid: packet shorter than header")

// Packet is a parsed report. Payload aliases the report and always holds
// the whole payload area, padding included; Length tells how much of the
// message it is part of.
type Packet struct {
	Payload  []byte
	Channel  uint32
	Length   int
	Init     bool
	Command  Command
	Sequence byte
}

// ParsePacket parses one report.
func ParsePacket(report []byte) (Packet, error) {
	if len(report) < ContHeaderSize {
		return Packet{}, ErrShortPacket
	}
	p := Packet{Channel: binary.BigEndian.Uint32(report[0:4])}
	if report[4]&initBit == 0 {
		p.Sequence = report[4]
		p.Payload = report[ContHeaderSize:]
		return p, nil
	}
	if len(report) < InitHeaderSize {
		return Packet{}, ErrShortPacket
	}
	p.Init = true
	p.Command = Command(report[4] &^ initBit)
	p.Length = int(binary.BigEndian.Uint16(report[5:7]))
	p.Payload = report[InitHeaderSize:]
	return p, nil
}

// InitPacket builds an initialisation report. At most InitPayloadSize
// bytes of payload are copied; the rest of the report is zero.
func InitPacket(channel uint32, cmd Command, length int, payload []byte) []byte {
	report := make([]byte, PacketSize)
	binary.BigEndian.PutUint32(report[0:4], channel)
	report[4] = byte(cmd) | initBit
	binary.BigEndian.PutUint16(report[5:7], uint16(length)) //nolint:gosec // bounded by MessageSize
	copy(report[InitHeaderSize:], payload)
	return report
}

// ContPacket builds a continuation report.
func ContPacket(channel uint32, seq byte, payload []byte) []byte {
	report := make([]byte, PacketSize)
	binary.BigEndian.PutUint32(report[0:4], channel)
	report[4] = seq &^ initBit
	copy(report[ContHeaderSize:], payload)
	return report
}

// MessageState tracks a multi-packet transfer. Transmitted counts the
// payload bytes carried so far, including the initialisation packet.
type MessageState struct {
	Transmitted  int
	NextSequence byte
}

// NewMessageState returns the state after an initialisation packet.
func NewMessageState() MessageState {
	return MessageState{Transmitted: InitPayloadSize}
}

// Absorb records one continuation packet.
func (m *MessageState) Absorb() {
	m.Transmitted += ContPayloadSize
	m.NextSequence++
}

// Complete reports whether length bytes have been carried.
func (m MessageState) Complete(length int) bool {
	return m.Transmitted >= length
}

// Fragment splits a message into reports as the Pipe sends them.
func Fragment(channel uint32, cmd Command, msg []byte) [][]byte {
	reports := [][]byte{InitPacket(channel, cmd, len(msg), msg)}
	state := NewMessageState()
	for !state.Complete(len(msg)) {
		end := min(state.Transmitted+ContPayloadSize, len(msg))
		reports = append(reports, ContPacket(channel, state.NextSequence, msg[state.Transmitted:end]))
		state.Absorb()
	}
	return reports
}

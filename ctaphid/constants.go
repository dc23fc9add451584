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

import "fmt"

// Report layout.
const (
	PacketSize      = 64
	InitHeaderSize  = 7
	ContHeaderSize  = 5
	InitPayloadSize = PacketSize - InitHeaderSize
	ContPayloadSize = PacketSize - ContHeaderSize
	// MessageSize is the largest message: one initialisation packet and
	// 128 continuation packets.
	MessageSize = InitPayloadSize + 128*ContPayloadSize
)

// BroadcastChannel is reserved for channel allocation.
const BroadcastChannel uint32 = 0xFFFFFFFF

// ProtocolVersion is reported in the INIT response.
const ProtocolVersion = 2

// Capability flags reported in the INIT response.
const (
	CapWink byte = 0x01
	CapCBOR byte = 0x04
	CapNMSG byte = 0x08
)

// Keepalive status codes.
const (
	KeepAliveProcessing byte = 1
	KeepAliveUpNeeded   byte = 2
)

const initNonceSize = 8

// initResponseSize is nonce, channel, protocol version, three device
// version bytes and the capability byte.
const initResponseSize = initNonceSize + 4 + 1 + 3 + 1

// Command is a CTAPHID command code without the initialisation bit.
type Command byte

// CTAPHID commands.
const (
	CmdPing      Command = 0x01
	CmdMsg       Command = 0x03
	CmdLock      Command = 0x04
	CmdInit      Command = 0x06
	CmdWink      Command = 0x08
	CmdCBOR      Command = 0x10
	CmdCancel    Command = 0x11
	CmdKeepAlive Command = 0x3B
	CmdError     Command = 0x3F
)

// initBit marks an initialisation packet.
const initBit = 0x80

var commandNames = map[Command]string{
	CmdPing:      "PING",
	CmdMsg:       "MSG",
	CmdLock:      "LOCK",
	CmdInit:      "INIT",
	CmdWink:      "WINK",
	CmdCBOR:      "CBOR",
	CmdCancel:    "CANCEL",
	CmdKeepAlive: "KEEPALIVE",
	CmdError:     "ERROR",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CMD(0x%02X)", byte(c))
}

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

package testing

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	authkey "github.com/ZaparooProject/go-authkey"
	"github.com/ZaparooProject/go-authkey/ctaphid"
)

// ErrChannelMismatch is returned when the device answers on another channel.
var ErrChannelMismatch = errors.New("virtual hid host: response on unexpected channel")

// VirtualHIDHost is a scripted CTAPHID host. The device under test sees it
// as a ctaphid.Endpoint; tests talk to the device through Init and
// Transact.
type VirtualHIDHost struct {
	writeErr   error
	toDevice   [][]byte
	fromDevice chan []byte
	keepAlives []byte
	reads      int
	blockEvery int
	mu         sync.Mutex
}

// HostOption configures a VirtualHIDHost.
type HostOption func(*VirtualHIDHost)

// WithBlockEvery makes every nth ReadReport return ErrWouldBlock even
// when a report is queued.
func WithBlockEvery(n int) HostOption {
	return func(h *VirtualHIDHost) { h.blockEvery = n }
}

// WithOutQueue sets how many device reports may be pending before
// WriteReport returns ErrWouldBlock.
func WithOutQueue(n int) HostOption {
	return func(h *VirtualHIDHost) { h.fromDevice = make(chan []byte, n) }
}

// NewVirtualHIDHost returns a host with an empty report queue.
func NewVirtualHIDHost(opts ...HostOption) *VirtualHIDHost {
	h := &VirtualHIDHost{fromDevice: make(chan []byte, 256)}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

var _ ctaphid.Endpoint = (*VirtualHIDHost)(nil)

// ReadReport implements ctaphid.Endpoint.
func (h *VirtualHIDHost) ReadReport(buf []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.reads++
	if h.blockEvery > 0 && h.reads%h.blockEvery == 0 {
		return 0, authkey.ErrWouldBlock
	}
	if len(h.toDevice) == 0 {
		return 0, authkey.ErrWouldBlock
	}
	next := h.toDevice[0]
	h.toDevice = h.toDevice[1:]
	return copy(buf, next), nil
}

// WriteReport implements ctaphid.Endpoint.
func (h *VirtualHIDHost) WriteReport(report []byte) (int, error) {
	h.mu.Lock()
	err := h.writeErr
	h.mu.Unlock()
	if err != nil {
		return 0, err
	}
	select {
	case h.fromDevice <- append([]byte(nil), report...):
		return len(report), nil
	default:
		return 0, authkey.ErrWouldBlock
	}
}

// SetWriteError makes every device write fail with err until cleared.
func (h *VirtualHIDHost) SetWriteError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.writeErr = err
}

// Queue hands raw reports to the device.
func (h *VirtualHIDHost) Queue(reports ...[]byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range reports {
		h.toDevice = append(h.toDevice, append([]byte(nil), r...))
	}
}

// Pending returns how many queued reports the device has not read yet.
func (h *VirtualHIDHost) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.toDevice)
}

// KeepAlives returns the status byte of every KEEPALIVE skipped by Transact.
func (h *VirtualHIDHost) KeepAlives() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]byte(nil), h.keepAlives...)
}

// Next returns the next report written by the device.
func (h *VirtualHIDHost) Next(ctx context.Context) ([]byte, error) {
	select {
	case r := <-h.fromDevice:
		return r, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("virtual hid host: waiting for device: %w", ctx.Err())
	}
}

// Init allocates a channel with a random nonce.
func (h *VirtualHIDHost) Init(ctx context.Context) (uint32, error) {
	nonce := make([]byte, 8)
	if _, err := rand.Read(nonce); err != nil {
		return 0, fmt.Errorf("virtual hid host: nonce: %w", err)
	}
	cmd, resp, err := h.Transact(ctx, ctaphid.BroadcastChannel, ctaphid.CmdInit, nonce)
	if err != nil {
		return 0, err
	}
	if cmd != ctaphid.CmdInit || len(resp) < 17 {
		return 0, fmt.Errorf("%w: %s with %d bytes", ErrMalformedReport, cmd, len(resp))
	}
	if string(resp[:8]) != string(nonce) {
		return 0, fmt.Errorf("%w: nonce mismatch", ErrMalformedReport)
	}
	return binary.BigEndian.Uint32(resp[8:12]), nil
}

// Transact sends one message and returns the device's reply, skipping
// keepalives.
func (h *VirtualHIDHost) Transact(
	ctx context.Context, channel uint32, cmd ctaphid.Command, data []byte,
) (ctaphid.Command, []byte, error) {
	h.Queue(ctaphid.Fragment(channel, cmd, data)...)

	for {
		report, err := h.Next(ctx)
		if err != nil {
			return 0, nil, err
		}
		pkt, err := ctaphid.ParsePacket(report)
		if err != nil {
			return 0, nil, fmt.Errorf("%w: %w", ErrMalformedReport, err)
		}
		if !pkt.Init {
			return 0, nil, fmt.Errorf("%w: continuation without initialisation", ErrMalformedReport)
		}
		if pkt.Channel != channel {
			return 0, nil, fmt.Errorf("%w: %08X", ErrChannelMismatch, pkt.Channel)
		}
		if pkt.Command == ctaphid.CmdKeepAlive {
			h.mu.Lock()
			h.keepAlives = append(h.keepAlives, pkt.Payload[0])
			h.mu.Unlock()
			continue
		}
		msg, err := h.reassemble(ctx, pkt)
		if err != nil {
			return 0, nil, err
		}
		return pkt.Command, msg, nil
	}
}

func (h *VirtualHIDHost) reassemble(ctx context.Context, first ctaphid.Packet) ([]byte, error) {
	msg := make([]byte, 0, first.Length)
	msg = append(msg, first.Payload[:min(first.Length, len(first.Payload))]...)
	var seq byte
	for len(msg) < first.Length {
		report, err := h.Next(ctx)
		if err != nil {
			return nil, err
		}
		pkt, err := ctaphid.ParsePacket(report)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedReport, err)
		}
		if pkt.Init || pkt.Sequence != seq || pkt.Channel != first.Channel {
			return nil, fmt.Errorf("%w: out of order continuation %d", ErrMalformedReport, pkt.Sequence)
		}
		seq++
		msg = append(msg, pkt.Payload[:min(first.Length-len(msg), len(pkt.Payload))]...)
	}
	return msg, nil
}

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
	"context"
	"errors"
	"fmt"
	"sync"

	authkey "github.com/ZaparooProject/go-authkey"
	"github.com/ZaparooProject/go-authkey/iso14443"
)

// Errors reported by the virtual peers.
var (
	ErrUnexpectedBlock = errors.New("virtual pcd: unexpected block")
	ErrMalformedReport = errors.New("virtual hid host: malformed report")
)

const (
	pcdChainingBit = 0x10
	pcdIBlock      = 0x02
	pcdDeselect    = 0xC2
	pcdCRCLen      = 2
)

// VirtualPCD is a scripted contactless reader. The card under test sees it
// through the iso14443.Reader methods; tests drive it with Activate,
// Exchange and Deselect, which play the reader half of the block protocol:
// chaining long commands, acknowledging chained responses and answering
// wait extensions.
type VirtualPCD struct {
	sendErr        error
	inbox          [][]byte
	sent           chan []byte
	activity       chan struct{}
	frames         [][]byte
	frameSize      int
	waitExtensions int
	mu             sync.Mutex
	blockNumber    byte
	newSession     bool
}

// NewVirtualPCD returns a reader that negotiated frameSize (CRC included).
func NewVirtualPCD(frameSize int) *VirtualPCD {
	return &VirtualPCD{
		frameSize: frameSize,
		sent:      make(chan []byte, 64),
		activity:  make(chan struct{}, 1),
	}
}

var _ iso14443.Reader = (*VirtualPCD)(nil)

// Read implements iso14443.Reader.
func (p *VirtualPCD) Read(buf []byte) (n int, newSession bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	newSession = p.newSession
	p.newSession = false
	if len(p.inbox) == 0 {
		if newSession {
			return 0, false, authkey.ErrSessionReset
		}
		return 0, false, authkey.ErrNoActivity
	}
	next := p.inbox[0]
	p.inbox = p.inbox[1:]
	return copy(buf, next), newSession, nil
}

// Send implements iso14443.Reader.
func (p *VirtualPCD) Send(frame []byte) error {
	p.mu.Lock()
	err := p.sendErr
	if err == nil {
		p.frames = append(p.frames, append([]byte(nil), frame...))
	}
	p.mu.Unlock()
	if err != nil {
		return err
	}
	p.sent <- append([]byte(nil), frame...)
	return nil
}

// FrameSize implements iso14443.Reader.
func (p *VirtualPCD) FrameSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frameSize
}

// Activity signals every frame delivered to the card.
func (p *VirtualPCD) Activity() <-chan struct{} {
	return p.activity
}

// SetSendError makes every Send fail with err until cleared with nil.
func (p *VirtualPCD) SetSendError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sendErr = err
}

// Frames returns every frame the card has sent.
func (p *VirtualPCD) Frames() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.frames...)
}

// WaitExtensions returns how many S(WTX) requests were answered.
func (p *VirtualPCD) WaitExtensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitExtensions
}

// Activate starts a new field session: the next Read reports it.
func (p *VirtualPCD) Activate() {
	p.mu.Lock()
	p.newSession = true
	p.blockNumber = 0
	p.inbox = nil
	p.mu.Unlock()
	p.signal()
}

// Deliver queues a raw frame for the card.
func (p *VirtualPCD) Deliver(frame []byte) {
	p.mu.Lock()
	p.inbox = append(p.inbox, append([]byte(nil), frame...))
	p.mu.Unlock()
	p.signal()
}

func (p *VirtualPCD) signal() {
	select {
	case p.activity <- struct{}{}:
	default:
	}
}

// Await returns the next frame sent by the card.
func (p *VirtualPCD) Await(ctx context.Context) ([]byte, error) {
	select {
	case f := <-p.sent:
		return f, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("virtual pcd: waiting for card: %w", ctx.Err())
	}
}

// Exchange sends one command APDU and returns the complete response APDU,
// status word included.
func (p *VirtualPCD) Exchange(ctx context.Context, command []byte) ([]byte, error) {
	room := p.FrameSize() - pcdCRCLen - 1
	rest := command
	for {
		chunk := min(room, len(rest))
		pcb := pcdIBlock | p.currentBlockNumber()
		if chunk < len(rest) {
			pcb |= pcdChainingBit
		}
		p.Deliver(append([]byte{pcb}, rest[:chunk]...))
		rest = rest[chunk:]
		if pcb&pcdChainingBit == 0 {
			break
		}

		ack, err := p.awaitBlock(ctx)
		if err != nil {
			return nil, err
		}
		if ack.Kind != iso14443.KindReceiveReady || ack.IsNAK() {
			return nil, fmt.Errorf("%w: %s while chaining", ErrUnexpectedBlock, ack)
		}
		p.toggleBlockNumber()
	}

	var resp []byte
	for {
		blk, err := p.awaitBlock(ctx)
		if err != nil {
			return nil, err
		}
		switch {
		case blk.IsWTX():
			p.mu.Lock()
			p.waitExtensions++
			p.mu.Unlock()
			p.Deliver(append([]byte{blk.PCB}, blk.Payload...))
		case blk.Kind == iso14443.KindInformation:
			resp = append(resp, blk.Payload...)
			p.setBlockNumber(blk.BlockNumber())
			if !blk.Chaining() {
				return resp, nil
			}
			p.Deliver(iso14443.BuildAck(blk))
		default:
			return nil, fmt.Errorf("%w: %s awaiting response", ErrUnexpectedBlock, blk)
		}
	}
}

// Deselect sends S(DESELECT) and waits for the card's acknowledgement.
func (p *VirtualPCD) Deselect(ctx context.Context) error {
	p.Deliver([]byte{pcdDeselect})
	blk, err := p.awaitBlock(ctx)
	if err != nil {
		return err
	}
	if blk.Kind != iso14443.KindSupervisory || blk.IsWTX() {
		return fmt.Errorf("%w: %s after DESELECT", ErrUnexpectedBlock, blk)
	}
	return nil
}

func (p *VirtualPCD) awaitBlock(ctx context.Context) (iso14443.Block, error) {
	f, err := p.Await(ctx)
	if err != nil {
		return iso14443.Block{}, err
	}
	blk, err := iso14443.ParseBlock(f)
	if err != nil {
		return iso14443.Block{}, fmt.Errorf("virtual pcd: %w", err)
	}
	return blk, nil
}

func (p *VirtualPCD) currentBlockNumber() byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.blockNumber
}

func (p *VirtualPCD) toggleBlockNumber() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blockNumber ^= iso14443.BlockNumberBit
}

func (p *VirtualPCD) setBlockNumber(bn byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blockNumber = bn
}

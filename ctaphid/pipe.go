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

// Package ctaphid implements the CTAPHID framing protocol: 64-byte HID
// reports carrying channel-addressed messages between a FIDO client and
// the authenticator.
package ctaphid

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/ZaparooProject/go-authkey"
	"github.com/ZaparooProject/go-authkey/ctap"
	"github.com/ZaparooProject/go-authkey/internal/frame"
	"github.com/ZaparooProject/go-authkey/internal/syncutil"
)

// State is the Pipe state.
type State int

const (
	Idle State = iota
	Receiving
	Processing
	ResponsePending
	Sending
	// Halted follows a write fault; the Pipe no longer does anything.
	Halted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Receiving:
		return "receiving"
	case Processing:
		return "processing"
	case ResponsePending:
		return "response pending"
	case Sending:
		return "sending"
	case Halted:
		return "halted"
	default:
		return "unknown"
	}
}

// Request identifies a message in either direction.
type Request struct {
	Channel uint32
	Command Command
	Length  int
}

// Option configures a Pipe.
type Option func(*Pipe)

// WithWinker installs the handler for CTAPHID_WINK.
func WithWinker(w Winker) Option {
	return func(p *Pipe) { p.winker = w }
}

// Pipe is the CTAPHID engine for one HID interface. It must not be shared
// between interfaces: channel numbers are allocated per Pipe.
type Pipe struct {
	ep       Endpoint
	auth     ctap.Authenticator
	winker   Winker
	haltErr  error
	request  *frame.Buffer
	response *frame.Buffer
	report   []byte
	req      Request
	resp     Request
	progress MessageState
	mu       syncutil.Mutex
	state    State
	// lastChannel is the most recently allocated channel.
	lastChannel uint32
	dispatching bool
}

// NewPipe returns an idle Pipe reading and writing ep and answering CBOR
// requests with auth.
func NewPipe(ep Endpoint, auth ctap.Authenticator, opts ...Option) *Pipe {
	p := &Pipe{
		ep:       ep,
		auth:     auth,
		request:  frame.NewBuffer(MessageSize),
		response: frame.NewBuffer(MessageSize),
		report:   make([]byte, PacketSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns the current state.
func (p *Pipe) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Err returns the fault that halted the Pipe, if any.
func (p *Pipe) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.haltErr
}

// ReadAndHandlePacket reads at most one report and advances the state
// machine, dispatching the request once it is complete. It reports
// whether a report was read.
func (p *Pipe) ReadAndHandlePacket(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == Halted {
		return false
	}
	n, err := p.ep.ReadReport(p.report)
	if err != nil {
		if !errors.Is(err, authkey.ErrWouldBlock) {
			authkey.Debugf("ctaphid: read failed: %v", err)
		}
		return false
	}
	if n != PacketSize {
		authkey.Debugf("ctaphid: dropped %d byte report", n)
		return true
	}
	pkt, err := ParsePacket(p.report)
	if err != nil {
		return true
	}

	if pkt.Init {
		p.handleInit(pkt)
	} else {
		p.handleCont(pkt)
	}
	if p.state == Processing && !p.dispatching {
		p.dispatch(ctx)
	}
	return true
}

func (p *Pipe) handleInit(pkt Packet) {
	if p.state != Idle {
		authkey.Debugf("ctaphid: busy in %s, dropped %s on channel %08X", p.state, pkt.Command, pkt.Channel)
		return
	}
	if pkt.Channel == BroadcastChannel {
		if pkt.Command != CmdInit || pkt.Length != initNonceSize {
			authkey.Debugf("ctaphid: dropped %s on broadcast channel", pkt.Command)
			return
		}
		p.lastChannel++
		authkey.Debugf("ctaphid: allocated channel %08X", p.lastChannel)
		p.setResponse(Request{Channel: BroadcastChannel, Command: CmdInit},
			initResponse(pkt.Payload[:initNonceSize], p.lastChannel))
		if _, err := p.writeLocked(); err != nil {
			authkey.Debugf("ctaphid: INIT response write failed: %v", err)
		}
		return
	}
	if _, known := commandNames[pkt.Command]; !known {
		authkey.Debugf("ctaphid: unknown %s on channel %08X, dropped", pkt.Command, pkt.Channel)
		return
	}
	if pkt.Length > MessageSize {
		authkey.Debugf("ctaphid: declared length %d exceeds %d, dropped", pkt.Length, MessageSize)
		return
	}

	p.req = Request{Channel: pkt.Channel, Command: pkt.Command, Length: pkt.Length}
	p.request.Reset()
	_ = p.request.Append(pkt.Payload[:min(pkt.Length, InitPayloadSize)])
	if pkt.Length <= InitPayloadSize {
		p.state = Processing
		return
	}
	p.progress = NewMessageState()
	p.state = Receiving
}

func (p *Pipe) handleCont(pkt Packet) {
	if p.state != Receiving {
		authkey.Debugf("ctaphid: continuation seq=%d outside a transfer, dropped", pkt.Sequence)
		return
	}
	if pkt.Channel != p.req.Channel {
		authkey.Debugf("ctaphid: continuation on channel %08X while receiving %08X, dropped",
			pkt.Channel, p.req.Channel)
		return
	}
	if pkt.Sequence != p.progress.NextSequence {
		authkey.Debugf("ctaphid: expected seq=%d, got %d, dropped", p.progress.NextSequence, pkt.Sequence)
		return
	}
	n := min(ContPayloadSize, p.req.Length-p.progress.Transmitted)
	_ = p.request.Append(pkt.Payload[:n])
	p.progress.Absorb()
	if p.progress.Complete(p.req.Length) {
		p.state = Processing
	}
}

// dispatch runs with p.mu held. The authenticator is called with the lock
// released so keepalives can be written meanwhile.
func (p *Pipe) dispatch(ctx context.Context) {
	req := p.req
	data := p.request.Clone()

	switch req.Command {
	case CmdPing:
		p.setResponse(req, data)
	case CmdWink:
		if p.winker != nil {
			p.winker.Wink()
		}
		p.setResponse(req, nil)
	case CmdMsg:
		p.setResponse(req, ctap.HandleU2F(data))
	case CmdCBOR:
		p.dispatching = true
		p.mu.Unlock()
		out := ctap.HandleCBOR(ctx, p.auth, data)
		p.mu.Lock()
		p.dispatching = false
		if p.state != Processing {
			return
		}
		p.setResponse(req, out)
	case CmdInit:
		if len(data) != initNonceSize {
			p.state = Idle
			return
		}
		// Resynchronise an existing channel.
		p.setResponse(req, initResponse(data, req.Channel))
	default:
		authkey.Debugf("ctaphid: %s on channel %08X ignored", req.Command, req.Channel)
		p.state = Idle
	}
}

func (p *Pipe) setResponse(to Request, data []byte) {
	if err := p.response.Set(data); err != nil {
		authkey.Debugf("ctaphid: %d byte response too large, dropped", len(data))
		p.state = Idle
		return
	}
	p.resp = Request{Channel: to.Channel, Command: to.Command, Length: len(data)}
	p.state = ResponsePending
}

// MaybeWritePacket writes the next report of a pending response. It
// reports whether a report was written. Once a write has failed with
// anything but authkey.ErrWouldBlock, every call returns the halting
// error.
func (p *Pipe) MaybeWritePacket() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeLocked()
}

func (p *Pipe) writeLocked() (bool, error) {
	var report []byte
	switch p.state {
	case Halted:
		return false, p.haltErr
	case ResponsePending:
		report = InitPacket(p.resp.Channel, p.resp.Command, p.resp.Length, p.response.Bytes())
	case Sending:
		end := min(p.progress.Transmitted+ContPayloadSize, p.resp.Length)
		report = ContPacket(p.resp.Channel, p.progress.NextSequence, p.response.Slice(p.progress.Transmitted, end))
	default:
		return false, nil
	}

	if err := p.write(report); err != nil {
		if errors.Is(err, authkey.ErrWouldBlock) {
			return false, nil
		}
		return false, err
	}

	if p.state == ResponsePending {
		p.progress = NewMessageState()
	} else {
		p.progress.Absorb()
	}
	if p.progress.Complete(p.resp.Length) {
		p.state = Idle
	} else {
		p.state = Sending
	}
	return true, nil
}

// SendKeepAlive writes a KEEPALIVE report while a request is being
// processed and asks to be called again after KeepAliveInterval.
func (p *Pipe) SendKeepAlive(upNeeded bool) authkey.PollStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Processing {
		return authkey.Idle
	}
	status := KeepAliveProcessing
	if upNeeded {
		status = KeepAliveUpNeeded
	}
	err := p.write(InitPacket(p.req.Channel, CmdKeepAlive, 1, []byte{status}))
	if err != nil && !errors.Is(err, authkey.ErrWouldBlock) {
		return authkey.Idle
	}
	return authkey.RecheckAfter(authkey.KeepAliveInterval)
}

// write sends one report, halting the Pipe on any error other than
// ErrWouldBlock.
func (p *Pipe) write(report []byte) error {
	_, err := p.ep.WriteReport(report)
	if err == nil || errors.Is(err, authkey.ErrWouldBlock) {
		return err
	}
	p.haltErr = authkey.NewHaltedError("write report", "ctaphid", err)
	p.state = Halted
	authkey.Debugf("ctaphid: halted: %v", err)
	return p.haltErr
}

func initResponse(nonce []byte, channel uint32) []byte {
	out := make([]byte, 0, initResponseSize)
	out = append(out, nonce...)
	out = binary.BigEndian.AppendUint32(out, channel)
	out = append(out, ProtocolVersion, 0, 0, 0, CapWink|CapCBOR)
	return out
}

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
	"errors"

	"github.com/ZaparooProject/go-authkey"
	"github.com/ZaparooProject/go-authkey/apdu"
	"github.com/ZaparooProject/go-authkey/interchange"
	"github.com/ZaparooProject/go-authkey/internal/frame"
	"github.com/ZaparooProject/go-authkey/internal/syncutil"
)

// State is the engine's transmission state.
type State int

const (
	Receiving State = iota
	Transmitting
)

func (s State) String() string {
	if s == Transmitting {
		return "transmitting"
	}
	return "receiving"
}

// byteRange is a half-open range into the response buffer.
type byteRange struct{ start, end int }

// Engine runs the card side of the block protocol over a Reader and hands
// complete commands to an Interchange.
//
// All methods return without blocking. The caller must invoke Poll when
// the reader signals activity or a response becomes ready, and
// PollWaitExtensions on a timer shorter than the frame waiting time while
// a command is being processed.
type Engine struct {
	reader  Reader
	ic      interchange.Requester[apdu.Command, apdu.Response]
	request *frame.Buffer
	resp    *frame.Buffer
	rx      []byte
	// lastFrame holds the last sent I-block for retransmission.
	lastFrame []byte
	lastI     Block
	lastBlock Block
	sent      byteRange
	mu        syncutil.Mutex
	state     State
	haveLastI bool
	haveLast  bool
	wtxSent   bool
}

// NewEngine returns an engine reading from reader and requesting on ic.
func NewEngine(reader Reader, ic interchange.Requester[apdu.Command, apdu.Response]) *Engine {
	return &Engine{
		reader:    reader,
		ic:        ic,
		request:   frame.NewBuffer(frame.MaxMessageSize),
		resp:      frame.NewBuffer(frame.MaxMessageSize),
		rx:        make([]byte, MaxFrameSize),
		lastFrame: make([]byte, 0, MaxFrameSize),
	}
}

// State returns the transmission state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// WaitExtensionOutstanding reports whether an S(WTX) is awaiting its reply.
func (e *Engine) WaitExtensionOutstanding() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wtxSent
}

// IsReadyToTransmit reports whether a response is waiting to be sent.
func (e *Engine) IsReadyToTransmit() bool {
	return e.ic.State() == interchange.Responded
}

// Reset discards all session state.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked()
}

func (e *Engine) resetLocked() {
	e.request.Reset()
	e.resp.Reset()
	e.lastFrame = e.lastFrame[:0]
	e.lastI = Block{}
	e.lastBlock = Block{}
	e.haveLastI = false
	e.haveLast = false
	e.sent = byteRange{}
	e.state = Receiving
	e.wtxSent = false
	if e.ic.Cancel() {
		authkey.Debugln("iso14443: withdrew undispatched request")
	}
}

// Poll sends a ready response, or reads and handles one frame.
func (e *Engine) Poll() authkey.PollStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ic.State() == interchange.Responded {
		if resp, ok := e.ic.TakeResponse(); ok {
			e.startResponse(resp.Bytes())
		}
		return authkey.Idle
	}
	return e.checkForCommand()
}

// PollWaitExtensions keeps the reader waiting while a command is processed.
func (e *Engine) PollWaitExtensions() authkey.PollStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.ic.State() {
	case interchange.Responded:
		return authkey.RecheckAfter(authkey.WaitExtensionRecheck)
	case interchange.Requested, interchange.Processing:
		if !e.haveLastI {
			// Session gone; keep polling so the late response is collected.
			return authkey.RecheckAfter(authkey.WaitExtensionRecheck)
		}
		authkey.Debugln("iso14443: requesting wait extension")
		e.send(WTXRequest(e.lastI))
		e.wtxSent = true
		return authkey.RecheckAfter(authkey.WaitExtensionRecheck)
	default:
		return authkey.Idle
	}
}

func (e *Engine) checkForCommand() authkey.PollStatus {
	n, newSession, err := e.reader.Read(e.rx)
	if newSession {
		authkey.Debugln("iso14443: new session")
		e.resetLocked()
	}
	if err != nil {
		switch {
		case errors.Is(err, authkey.ErrSessionReset):
			e.resetLocked()
		case errors.Is(err, authkey.ErrNoActivity):
		default:
			authkey.Debugf("iso14443: read failed: %s", failureDetail(err))
		}
		return authkey.Idle
	}
	if n == 0 {
		return authkey.Idle
	}

	blk, err := ParseBlock(e.rx[:n])
	if err != nil {
		authkey.Debugf("iso14443: dropped frame %s: %v", authkey.FormatHex(e.rx[:n]), err)
		return authkey.Idle
	}

	switch blk.Kind {
	case KindInformation:
		return e.handleIBlock(blk)
	case KindReceiveReady:
		e.handleRBlock(blk)
	case KindSupervisory:
		e.handleSBlock(blk)
	}
	return authkey.Idle
}

func (e *Engine) handleIBlock(blk Block) authkey.PollStatus {
	if e.state == Transmitting {
		if e.sent.end < e.resp.Len() {
			authkey.Debugln("iso14443: new I-block abandons pending response")
		}
		e.state = Receiving
		e.resp.Reset()
	}
	if err := e.request.Append(blk.Payload); err != nil {
		authkey.Debugf("iso14443: request exceeds %d bytes, resetting", e.request.Cap())
		e.resetLocked()
		return authkey.Idle
	}
	e.remember(blk)
	e.lastI = headerOnly(blk)
	e.haveLastI = true

	if blk.Chaining() {
		e.send(BuildAck(blk))
		return authkey.Idle
	}
	e.wtxSent = false
	return e.dispatch()
}

func (e *Engine) handleRBlock(blk Block) {
	if blk.IsNAK() || e.state != Transmitting {
		if blk.IsNAK() {
			authkey.Debugln("iso14443: NAK received")
		}
		if e.haveLastI {
			e.send(BuildAck(e.lastI))
		} else {
			e.send(BuildAck(blk))
		}
		return
	}

	if e.haveLast && blk.BlockNumber() == e.lastBlock.BlockNumber() {
		authkey.Debugln("iso14443: duplicate ACK, retransmitting")
		e.send(e.lastFrame)
		return
	}
	e.remember(blk)

	if e.sent.end < e.resp.Len() {
		e.sendFragment(blk, e.sent.end)
		return
	}
	authkey.Debugln("iso14443: ACK after final fragment, resetting")
	e.send(BuildAck(blk))
	e.resetLocked()
}

func (e *Engine) handleSBlock(blk Block) {
	if blk.IsWTX() {
		if !e.wtxSent {
			authkey.Debugln("iso14443: unsolicited WTX reply")
		}
		e.wtxSent = false
		return
	}
	authkey.Debugln("iso14443: deselected")
	e.send(DeselectResponse(blk))
	e.resetLocked()
}

func (e *Engine) dispatch() authkey.PollStatus {
	raw := e.request.Clone()
	e.request.Reset()

	cmd, err := apdu.ParseCommand(raw)
	if err != nil {
		authkey.Debugf("iso14443: malformed command %s: %v", authkey.FormatHex(raw), err)
		e.startResponse(apdu.StatusResponse(apdu.UnspecifiedCheckingError).Bytes())
		return authkey.Idle
	}
	if err := e.ic.Request(cmd); err != nil {
		authkey.Debugf("iso14443: dropped %s: %v", cmd, err)
		return authkey.Idle
	}
	return authkey.RecheckAfter(authkey.ActivityRecheck)
}

func (e *Engine) startResponse(data []byte) {
	if !e.haveLastI {
		authkey.Debugf("iso14443: no session for %d byte response, dropped", len(data))
		return
	}
	if err := e.resp.Set(data); err != nil {
		authkey.Debugf("iso14443: %d byte response too large", len(data))
		_ = e.resp.Set(apdu.StatusResponse(apdu.UnspecifiedCheckingError).Bytes())
	}
	e.sendFragment(e.lastI, 0)
}

// sendFragment sends the response bytes from start onward as one I-block
// answering to. A chained response stays Transmitting until the reader
// acknowledges the final fragment or starts a new command.
func (e *Engine) sendFragment(to Block, start int) {
	out, n := BuildIBlock(to, e.resp.Slice(start, e.resp.Len()), e.reader.FrameSize())
	e.sent = byteRange{start: start, end: start + n}
	e.lastFrame = append(e.lastFrame[:0], out...)
	switch {
	case e.sent.end < e.resp.Len():
		e.state = Transmitting
	case start == 0:
		e.state = Receiving
	}
	e.send(out)
}

func (e *Engine) remember(blk Block) {
	e.lastBlock = headerOnly(blk)
	e.haveLast = true
}

func (e *Engine) send(out []byte) {
	if err := e.reader.Send(out); err != nil {
		authkey.Debugf("iso14443: send %s failed: %s", authkey.FormatHex(out), failureDetail(err))
	}
}

func headerOnly(blk Block) Block {
	blk.Payload = nil
	return blk
}

// failureDetail renders a frontend error with the register trace the
// frontend attached to it, if any.
func failureDetail(err error) string {
	te := authkey.GetTrace(err)
	if te == nil {
		return err.Error()
	}
	return err.Error() + "\n" + te.FormatTrace()
}

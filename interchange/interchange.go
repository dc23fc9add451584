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

// Package interchange provides the single-slot request/response handoff
// between a transport engine and application dispatch.
//
// The slot moves Idle → Requested → Processing → Responded → Idle. Only one
// request can be in flight, which bounds every engine to one outstanding
// command.
package interchange

import (
	"errors"

	"github.com/ZaparooProject/go-authkey/internal/syncutil"
)

// State is the slot state.
type State int

const (
	Idle State = iota
	Requested
	Processing
	Responded
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Requested:
		return "requested"
	case Processing:
		return "processing"
	case Responded:
		return "responded"
	default:
		return "unknown"
	}
}

var (
	// ErrBusy is returned by Request when the slot is not idle.
	ErrBusy = errors.New("interchange busy")
	// ErrNotReady is returned when an operation does not match the slot state.
	ErrNotReady = errors.New("interchange not ready")
)

// Requester is the transport engine's view of the slot.
type Requester[Req, Resp any] interface {
	State() State
	Request(req Req) error
	TakeResponse() (Resp, bool)
	Cancel() bool
	Responded() <-chan struct{}
}

// Responder is the dispatch side's view of the slot.
type Responder[Req, Resp any] interface {
	State() State
	TakeRequest() (Req, bool)
	Respond(resp Resp) error
	Requests() <-chan struct{}
}

// Interchange is a capacity-one request/response slot. The zero value is
// not usable; call New.
type Interchange[Req, Resp any] struct {
	requests  chan struct{}
	responded chan struct{}
	request   Req
	response  Resp
	state     State
	mu        syncutil.Mutex
}

// New returns an idle Interchange.
func New[Req, Resp any]() *Interchange[Req, Resp] {
	return &Interchange[Req, Resp]{
		requests:  make(chan struct{}, 1),
		responded: make(chan struct{}, 1),
	}
}

// State returns the current slot state.
func (i *Interchange[Req, Resp]) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Request deposits req. It fails with ErrBusy unless the slot is idle.
func (i *Interchange[Req, Resp]) Request(req Req) error {
	i.mu.Lock()
	if i.state != Idle {
		i.mu.Unlock()
		return ErrBusy
	}
	i.request = req
	i.state = Requested
	i.mu.Unlock()
	notify(i.requests)
	return nil
}

// TakeRequest moves a pending request to Processing and returns it.
func (i *Interchange[Req, Resp]) TakeRequest() (Req, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	var zero Req
	if i.state != Requested {
		return zero, false
	}
	req := i.request
	i.request = zero
	i.state = Processing
	return req, true
}

// Respond stores the response for the request being processed.
func (i *Interchange[Req, Resp]) Respond(resp Resp) error {
	i.mu.Lock()
	if i.state != Processing {
		i.mu.Unlock()
		return ErrNotReady
	}
	i.response = resp
	i.state = Responded
	i.mu.Unlock()
	notify(i.responded)
	return nil
}

// TakeResponse returns the response and frees the slot. It only succeeds
// in the Responded state.
func (i *Interchange[Req, Resp]) TakeResponse() (Resp, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	var zero Resp
	if i.state != Responded {
		return zero, false
	}
	resp := i.response
	i.response = zero
	i.state = Idle
	return resp, true
}

// Cancel withdraws a request that dispatch has not picked up yet. Work
// already in Processing cannot be aborted and Cancel reports false.
func (i *Interchange[Req, Resp]) Cancel() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != Requested {
		return false
	}
	var zero Req
	i.request = zero
	i.state = Idle
	return true
}

// Requests signals each new request. The channel has capacity one, so
// several requests between two receives collapse into one signal.
func (i *Interchange[Req, Resp]) Requests() <-chan struct{} { return i.requests }

// Responded signals each new response, collapsing like Requests.
func (i *Interchange[Req, Resp]) Responded() <-chan struct{} { return i.responded }

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

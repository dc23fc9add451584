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

package polling

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-authkey"
	"github.com/ZaparooProject/go-authkey/internal/syncutil"
)

// ContactlessEngine is the block engine side driven by ContactlessActor.
type ContactlessEngine interface {
	Poll() authkey.PollStatus
	PollWaitExtensions() authkey.PollStatus
}

// ContactlessMetrics tracks operational metrics for ContactlessActor
type ContactlessMetrics struct {
	Polls           int64         // Total number of Poll calls
	FramesHandled   int64         // Polls that reported follow-up activity
	WaitExtensions  int64         // Wait extension checks that kept the reader waiting
	LastPollLatency time.Duration // Duration of last Poll call
}

// ContactlessActor schedules a contactless engine. Polls run on reader
// activity, on the poll ticker and when a response is deposited; wait
// extensions run from a Clock timer while a command is outstanding.
type ContactlessActor struct {
	engine    ContactlessEngine
	clock     Clock
	config    *Config
	activity  <-chan struct{}
	responded <-chan struct{}
	stopChan  chan struct{}
	wtxTimer  Timer
	wg        sync.WaitGroup
	mu        syncutil.Mutex
	// Atomic counters for metrics
	polls           int64
	framesHandled   int64
	waitExtensions  int64
	lastPollLatency int64 // in nanoseconds
	// Running state to prevent multiple goroutines
	running int64 // 0 = stopped, 1 = running
	stopped atomic.Bool
}

// ContactlessOption configures a ContactlessActor.
type ContactlessOption func(*ContactlessActor)

// WithActivity wakes the actor on frontend interrupts.
func WithActivity(ch <-chan struct{}) ContactlessOption {
	return func(a *ContactlessActor) { a.activity = ch }
}

// WithClock replaces the SystemClock.
func WithClock(c Clock) ContactlessOption {
	return func(a *ContactlessActor) { a.clock = c }
}

// NewContactlessActor creates an actor for engine. responded is the
// Interchange's responded notification.
func NewContactlessActor(
	engine ContactlessEngine, responded <-chan struct{}, config *Config, opts ...ContactlessOption,
) *ContactlessActor {
	if config == nil {
		config = DefaultConfig()
	}
	a := &ContactlessActor{
		engine:    engine,
		config:    config,
		clock:     SystemClock{},
		responded: responded,
		stopChan:  make(chan struct{}, 1), // Buffered to prevent deadlock in Stop()
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start launches the poll loop. Calling Start on a running actor does nothing.
func (a *ContactlessActor) Start(ctx context.Context) error {
	if atomic.CompareAndSwapInt64(&a.running, 0, 1) {
		a.stopped.Store(false)
		drain(a.stopChan)
		a.wg.Add(1)
		go a.pollLoop(ctx)
	}
	return nil
}

func (a *ContactlessActor) pollLoop(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.config.PollInterval)
	defer func() {
		ticker.Stop()
		atomic.StoreInt64(&a.running, 0)
	}()

	a.performPoll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopChan:
			return
		case <-ticker.C:
		case <-a.activity:
		case <-a.responded:
		}
		a.performPoll()
	}
}

func (a *ContactlessActor) performPoll() {
	start := a.clock.Now()
	status := a.engine.Poll()
	atomic.AddInt64(&a.polls, 1)
	atomic.StoreInt64(&a.lastPollLatency, a.clock.Now().Sub(start).Nanoseconds())

	if d, ok := status.After(); ok {
		atomic.AddInt64(&a.framesHandled, 1)
		a.armWaitExtension(d)
	}
}

// armWaitExtension schedules PollWaitExtensions unless a check is pending.
func (a *ContactlessActor) armWaitExtension(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.wtxTimer != nil || a.stopped.Load() {
		return
	}
	a.wtxTimer = a.clock.AfterFunc(min(d, a.config.WaitExtensionInterval), a.waitExtension)
}

func (a *ContactlessActor) waitExtension() {
	a.mu.Lock()
	a.wtxTimer = nil
	a.mu.Unlock()
	if a.stopped.Load() {
		return
	}

	status := a.engine.PollWaitExtensions()
	if d, ok := status.After(); ok {
		atomic.AddInt64(&a.waitExtensions, 1)
		a.armWaitExtension(d)
	}
}

// Stop stops the poll loop and any pending wait extension check.
func (a *ContactlessActor) Stop(_ context.Context) error {
	a.stopped.Store(true)
	select {
	case a.stopChan <- struct{}{}:
	default:
	}
	a.wg.Wait()

	a.mu.Lock()
	if a.wtxTimer != nil {
		a.wtxTimer.Stop()
		a.wtxTimer = nil
	}
	a.mu.Unlock()
	return nil
}

// GetMetrics returns current operational metrics
func (a *ContactlessActor) GetMetrics() ContactlessMetrics {
	return ContactlessMetrics{
		Polls:           atomic.LoadInt64(&a.polls),
		FramesHandled:   atomic.LoadInt64(&a.framesHandled),
		WaitExtensions:  atomic.LoadInt64(&a.waitExtensions),
		LastPollLatency: time.Duration(atomic.LoadInt64(&a.lastPollLatency)),
	}
}

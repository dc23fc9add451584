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

package polling

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-authkey"
	"github.com/ZaparooProject/go-authkey/internal/syncutil"
)

// maxReportsPerTick bounds the reads drained in one ReportInterval.
const maxReportsPerTick = 16

// USBEngine is the HID transport side driven by USBActor.
type USBEngine interface {
	ReadAndHandlePacket(ctx context.Context) bool
	MaybeWritePacket() (bool, error)
	SendKeepAlive(upNeeded bool) authkey.PollStatus
}

// USBCallbacks defines callback functions for USB actor events
type USBCallbacks struct {
	// OnFatal is called once when the engine halts.
	OnFatal func(err error)
	// UpNeeded reports whether keepalives should ask for user presence.
	UpNeeded func() bool
}

// USBMetrics tracks operational metrics for USBActor
type USBMetrics struct {
	FatalError     error
	ReportsRead    int64
	ReportsWritten int64
	KeepAlives     int64
}

// USBActor runs a HID engine's read/write loop every ReportInterval and
// sends keepalives from a Clock timer, since request processing blocks
// the loop.
type USBActor struct {
	engine    USBEngine
	clock     Clock
	config    *Config
	callbacks USBCallbacks
	stopChan  chan struct{}
	kaTimer   Timer
	fatalErr  error
	wg        sync.WaitGroup
	mu        syncutil.Mutex
	// Atomic counters for metrics
	reportsRead    int64
	reportsWritten int64
	keepAlives     int64
	running        int64
	stopped        atomic.Bool
}

// NewUSBActor creates an actor for engine.
func NewUSBActor(engine USBEngine, config *Config, callbacks USBCallbacks, clock Clock) *USBActor {
	if config == nil {
		config = DefaultConfig()
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &USBActor{
		engine:    engine,
		config:    config,
		callbacks: callbacks,
		clock:     clock,
		stopChan:  make(chan struct{}, 1),
	}
}

// Start launches the report loop and the keepalive timer.
func (a *USBActor) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt64(&a.running, 0, 1) {
		return nil
	}
	a.stopped.Store(false)
	drain(a.stopChan)
	a.armKeepAlive(a.config.KeepAliveInterval)
	a.wg.Add(1)
	go a.reportLoop(ctx)
	return nil
}

func (a *USBActor) reportLoop(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.config.ReportInterval)
	defer func() {
		ticker.Stop()
		atomic.StoreInt64(&a.running, 0)
	}()

	for {
		if err := a.service(ctx); err != nil {
			a.halt(err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-a.stopChan:
			return
		case <-ticker.C:
		}
	}
}

// service drains pending reports and writes at most one response report.
func (a *USBActor) service(ctx context.Context) error {
	for range maxReportsPerTick {
		if !a.engine.ReadAndHandlePacket(ctx) {
			break
		}
		atomic.AddInt64(&a.reportsRead, 1)
	}
	wrote, err := a.engine.MaybeWritePacket()
	if wrote {
		atomic.AddInt64(&a.reportsWritten, 1)
	}
	if err != nil && authkey.IsFatal(err) {
		return err
	}
	if err != nil {
		authkey.Debugf("usb actor: write: %v", err)
	}
	return nil
}

func (a *USBActor) halt(err error) {
	a.mu.Lock()
	a.fatalErr = err
	a.mu.Unlock()
	a.stopKeepAlive()
	authkey.Debugf("usb actor: stopped: %v", err)
	if a.callbacks.OnFatal != nil {
		a.callbacks.OnFatal(err)
	}
}

func (a *USBActor) armKeepAlive(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped.Load() {
		return
	}
	a.kaTimer = a.clock.AfterFunc(d, a.keepAlive)
}

func (a *USBActor) keepAlive() {
	if a.stopped.Load() {
		return
	}
	upNeeded := a.callbacks.UpNeeded != nil && a.callbacks.UpNeeded()
	status := a.engine.SendKeepAlive(upNeeded)
	d, ok := status.After()
	if ok {
		atomic.AddInt64(&a.keepAlives, 1)
	} else {
		d = a.config.KeepAliveInterval
	}
	a.armKeepAlive(d)
}

func (a *USBActor) stopKeepAlive() {
	a.stopped.Store(true)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.kaTimer != nil {
		a.kaTimer.Stop()
		a.kaTimer = nil
	}
}

// Stop stops the report loop and the keepalive timer.
func (a *USBActor) Stop(_ context.Context) error {
	a.stopKeepAlive()
	select {
	case a.stopChan <- struct{}{}:
	default:
	}
	a.wg.Wait()
	return nil
}

// Err returns the error that stopped the actor, if any.
func (a *USBActor) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fatalErr
}

// GetMetrics returns current operational metrics
func (a *USBActor) GetMetrics() USBMetrics {
	return USBMetrics{
		ReportsRead:    atomic.LoadInt64(&a.reportsRead),
		ReportsWritten: atomic.LoadInt64(&a.reportsWritten),
		KeepAlives:     atomic.LoadInt64(&a.keepAlives),
		FatalError:     a.Err(),
	}
}

func drain(ch chan struct{}) {
	select {
	case <-ch:
	default:
	}
}

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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ZaparooProject/go-authkey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUSB struct {
	writeErr   error
	upNeeded   []bool
	reads      int
	writes     int
	processing bool
	mu         sync.Mutex
}

func (f *fakeUSB) ReadAndHandlePacket(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reads == 0 {
		return false
	}
	f.reads--
	return true
}

func (f *fakeUSB) MaybeWritePacket() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return false, f.writeErr
	}
	if f.writes == 0 {
		return false, nil
	}
	f.writes--
	return true, nil
}

func (f *fakeUSB) SendKeepAlive(upNeeded bool) authkey.PollStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.processing {
		return authkey.Idle
	}
	f.upNeeded = append(f.upNeeded, upNeeded)
	return authkey.RecheckAfter(authkey.KeepAliveInterval)
}

func (f *fakeUSB) set(fn func(*fakeUSB)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func TestUSBActor_ReadsAndWrites(t *testing.T) {
	t.Parallel()

	engine := &fakeUSB{reads: 40, writes: 3}
	actor := NewUSBActor(engine, nil, USBCallbacks{}, newFakeClock())
	require.NoError(t, actor.Start(context.Background()))
	defer func() { _ = actor.Stop(context.Background()) }()

	require.Eventually(t, func() bool {
		m := actor.GetMetrics()
		return m.ReportsRead == 40 && m.ReportsWritten == 3
	}, time.Second, time.Millisecond)
	assert.NoError(t, actor.Err())
}

func TestUSBActor_KeepAlive(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	engine := &fakeUSB{}
	up := false
	var upMu sync.Mutex
	actor := NewUSBActor(engine, nil, USBCallbacks{UpNeeded: func() bool {
		upMu.Lock()
		defer upMu.Unlock()
		return up
	}}, clock)
	require.NoError(t, actor.Start(context.Background()))
	defer func() { _ = actor.Stop(context.Background()) }()

	assert.Equal(t, []time.Duration{100 * time.Millisecond}, clock.pending())
	clock.Advance(100 * time.Millisecond)
	assert.Zero(t, actor.GetMetrics().KeepAlives, "no keepalive while idle")
	assert.Len(t, clock.pending(), 1, "timer keeps running")

	engine.set(func(f *fakeUSB) { f.processing = true })
	clock.Advance(100 * time.Millisecond)
	upMu.Lock()
	up = true
	upMu.Unlock()
	clock.Advance(100 * time.Millisecond)

	assert.Equal(t, int64(2), actor.GetMetrics().KeepAlives)
	engine.set(func(f *fakeUSB) { assert.Equal(t, []bool{false, true}, f.upNeeded) })
}

func TestUSBActor_HaltsOnFatalError(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	halted := authkey.NewHaltedError("write report", "ctaphid", errors.New("endpoint stalled"))
	engine := &fakeUSB{writeErr: halted}
	fatal := make(chan error, 1)
	actor := NewUSBActor(engine, nil, USBCallbacks{OnFatal: func(err error) { fatal <- err }}, clock)
	require.NoError(t, actor.Start(context.Background()))

	select {
	case err := <-fatal:
		assert.ErrorIs(t, err, authkey.ErrHalted)
	case <-time.After(time.Second):
		t.Fatal("OnFatal not called")
	}
	require.NoError(t, actor.Stop(context.Background()))
	assert.ErrorIs(t, actor.GetMetrics().FatalError, authkey.ErrHalted)
	assert.Empty(t, clock.pending(), "keepalive timer stopped")
}

func TestUSBActor_TransientWriteErrorContinues(t *testing.T) {
	t.Parallel()

	transient := authkey.NewTransportError("write", "uart", authkey.ErrTransportTimeout, authkey.ErrorTypeTimeout)
	engine := &fakeUSB{writeErr: transient}
	actor := NewUSBActor(engine, DefaultConfig(), USBCallbacks{}, newFakeClock())
	require.NoError(t, actor.Start(context.Background()))

	engine.set(func(f *fakeUSB) { f.reads = 2 })
	require.Eventually(t, func() bool { return actor.GetMetrics().ReportsRead == 2 }, time.Second, time.Millisecond)
	require.NoError(t, actor.Stop(context.Background()))
	assert.NoError(t, actor.Err())
}

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

package interchange

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterchange_FullCycle(t *testing.T) {
	t.Parallel()

	ic := New[string, int]()
	assert.Equal(t, Idle, ic.State())

	require.NoError(t, ic.Request("select"))
	assert.Equal(t, Requested, ic.State())

	req, ok := ic.TakeRequest()
	require.True(t, ok)
	assert.Equal(t, "select", req)
	assert.Equal(t, Processing, ic.State())

	require.NoError(t, ic.Respond(0x9000))
	assert.Equal(t, Responded, ic.State())

	resp, ok := ic.TakeResponse()
	require.True(t, ok)
	assert.Equal(t, 0x9000, resp)
	assert.Equal(t, Idle, ic.State())
}

func TestInterchange_RequestWhileBusy(t *testing.T) {
	t.Parallel()

	ic := New[string, int]()
	require.NoError(t, ic.Request("first"))

	for _, step := range []func(){
		func() {},
		func() { _, _ = ic.TakeRequest() },
		func() { _ = ic.Respond(1) },
	} {
		step()
		require.ErrorIs(t, ic.Request("second"), ErrBusy, "state %s", ic.State())
	}

	_, ok := ic.TakeResponse()
	require.True(t, ok)
	require.NoError(t, ic.Request("second"))
}

func TestInterchange_OutOfOrderOperations(t *testing.T) {
	t.Parallel()

	ic := New[string, int]()

	_, ok := ic.TakeRequest()
	assert.False(t, ok)
	_, ok = ic.TakeResponse()
	assert.False(t, ok)
	require.ErrorIs(t, ic.Respond(1), ErrNotReady)

	require.NoError(t, ic.Request("x"))
	_, ok = ic.TakeResponse()
	assert.False(t, ok, "no response while requested")
	require.ErrorIs(t, ic.Respond(1), ErrNotReady, "respond needs processing")
}

func TestInterchange_Cancel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		setup    func(ic *Interchange[string, int])
		name     string
		after    State
		expected bool
	}{
		{name: "idle", setup: func(*Interchange[string, int]) {}, expected: false, after: Idle},
		{
			name:     "requested",
			setup:    func(ic *Interchange[string, int]) { _ = ic.Request("x") },
			expected: true,
			after:    Idle,
		},
		{
			name: "processing",
			setup: func(ic *Interchange[string, int]) {
				_ = ic.Request("x")
				_, _ = ic.TakeRequest()
			},
			expected: false,
			after:    Processing,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ic := New[string, int]()
			tt.setup(ic)
			assert.Equal(t, tt.expected, ic.Cancel())
			assert.Equal(t, tt.after, ic.State())
		})
	}
}

func TestInterchange_Notifications(t *testing.T) {
	t.Parallel()

	ic := New[string, int]()
	require.NoError(t, ic.Request("x"))

	select {
	case <-ic.Requests():
	default:
		t.Fatal("expected request notification")
	}

	_, _ = ic.TakeRequest()
	require.NoError(t, ic.Respond(7))

	select {
	case <-ic.Responded():
	default:
		t.Fatal("expected response notification")
	}
}

func TestInterchange_ConcurrentRequestsAdmitOne(t *testing.T) {
	t.Parallel()

	ic := New[int, int]()
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0

	for i := range 32 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if ic.Request(n) == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Equal(t, Requested, ic.State())
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "requested", Requested.String())
	assert.Equal(t, "processing", Processing.String())
	assert.Equal(t, "responded", Responded.String())
	assert.Equal(t, "unknown", State(42).String())
}

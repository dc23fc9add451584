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

package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/ZaparooProject/go-authkey/apdu"
	"github.com/ZaparooProject/go-authkey/interchange"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoApp struct {
	aid        []byte
	calls      int
	deselected int
}

func (a *echoApp) AID() []byte { return a.aid }

func (a *echoApp) Call(_ context.Context, cmd apdu.Command) apdu.Response {
	a.calls++
	return apdu.NewResponse(apdu.Success, []byte{cmd.Ins})
}

func (a *echoApp) Deselect() { a.deselected++ }

type selectingApp struct{ echoApp }

func (a *selectingApp) Select(context.Context, apdu.Command) apdu.Response {
	return apdu.NewResponse(apdu.Success, []byte("hello"))
}

func selectCmd(aid []byte) apdu.Command {
	return apdu.Command{Ins: apdu.InsSelect, P1: 0x04, Data: aid}
}

func TestDispatcher_Handle(t *testing.T) {
	t.Parallel()

	first := &echoApp{aid: []byte{0xD2, 0x76, 0x00, 0x00, 0x85, 0x01, 0x01}}
	second := &selectingApp{echoApp{aid: []byte{0xA0, 0x00, 0x00, 0x06, 0x47, 0x2F, 0x00, 0x01}}}
	d := New(interchange.New[apdu.Command, apdu.Response](), first, second)
	ctx := context.Background()

	resp := d.Handle(ctx, apdu.Command{Ins: 0xB0})
	assert.Equal(t, apdu.ConditionsNotSatisfied, resp.Status, "nothing selected")

	resp = d.Handle(ctx, selectCmd(first.aid))
	assert.Equal(t, apdu.Success, resp.Status)
	assert.Empty(t, resp.Data)
	assert.Equal(t, first.aid, d.Selected())

	resp = d.Handle(ctx, apdu.Command{Ins: 0xB0})
	assert.Equal(t, []byte{0xB0}, resp.Data)
	assert.Equal(t, 1, first.calls)

	resp = d.Handle(ctx, selectCmd(second.aid[:6]))
	assert.Equal(t, []byte("hello"), resp.Data, "partial AID selects")
	assert.Equal(t, 1, first.deselected)

	resp = d.Handle(ctx, selectCmd([]byte{0x01, 0x02}))
	assert.Equal(t, apdu.FileNotFound, resp.Status)
	assert.Equal(t, second.aid, d.Selected(), "failed select keeps the current app")
}

func TestDispatcher_Serve(t *testing.T) {
	t.Parallel()

	app := &echoApp{aid: []byte{0xF0, 0x01, 0x02, 0x03, 0x04}}
	ic := interchange.New[apdu.Command, apdu.Response]()
	d := New(ic, app)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx) }()

	require.NoError(t, ic.Request(selectCmd(app.aid)))
	require.Eventually(t, func() bool { return ic.State() == interchange.Responded }, time.Second, time.Millisecond)
	resp, ok := ic.TakeResponse()
	require.True(t, ok)
	assert.Equal(t, apdu.Success, resp.Status)

	require.NoError(t, ic.Request(apdu.Command{Ins: 0x42}))
	require.Eventually(t, func() bool { return ic.State() == interchange.Responded }, time.Second, time.Millisecond)
	resp, _ = ic.TakeResponse()
	assert.Equal(t, []byte{0x42}, resp.Data)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestDispatcher_ServeOnceWithoutRequest(t *testing.T) {
	t.Parallel()

	d := New(interchange.New[apdu.Command, apdu.Response]())
	assert.False(t, d.ServeOnce(context.Background()))
}

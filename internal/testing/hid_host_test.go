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
	"bytes"
	"context"
	"errors"
	"testing"

	authkey "github.com/ZaparooProject/go-authkey"
	"github.com/ZaparooProject/go-authkey/apps/fido"
	"github.com/ZaparooProject/go-authkey/ctap"
	"github.com/ZaparooProject/go-authkey/ctaphid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startKey(t *testing.T, ep ctaphid.Endpoint) *ctaphid.Pipe {
	t.Helper()
	auth := fido.NewAuthenticator(fido.NewMemoryStore())
	session, pipe, err := StartKey(context.Background(), ep, auth)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return pipe
}

func TestVirtualHIDHost_InitAndGetInfo(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	host := NewVirtualHIDHost()
	startKey(t, host)

	channel, err := host.Init(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, ctaphid.BroadcastChannel, channel)
	assert.NotZero(t, channel)

	cmd, resp, err := host.Transact(ctx, channel, ctaphid.CmdCBOR, []byte{ctap.CmdGetInfo})
	require.NoError(t, err)
	assert.Equal(t, ctaphid.CmdCBOR, cmd)
	require.NotEmpty(t, resp)
	assert.Equal(t, byte(ctap.StatusOK), resp[0])
}

func TestVirtualHIDHost_LongPing(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	host := NewVirtualHIDHost(WithBlockEvery(3), WithOutQueue(2))
	startKey(t, host)

	channel, err := host.Init(ctx)
	require.NoError(t, err)

	payload := bytes.Repeat([]byte("authkey "), 100)
	cmd, resp, err := host.Transact(ctx, channel, ctaphid.CmdPing, payload)
	require.NoError(t, err)
	assert.Equal(t, ctaphid.CmdPing, cmd)
	assert.Equal(t, payload, resp)
	assert.Zero(t, host.Pending())
}

func TestVirtualHIDHost_WriteErrorHaltsPipe(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	host := NewVirtualHIDHost()
	pipe := startKey(t, host)
	channel, err := host.Init(ctx)
	require.NoError(t, err)

	gone := errors.New("endpoint gone")
	host.SetWriteError(gone)
	host.Queue(ctaphid.Fragment(channel, ctaphid.CmdPing, []byte{1})...)

	require.Eventually(t, func() bool { return pipe.State() == ctaphid.Halted }, testTimeout, testTick)
	require.ErrorIs(t, pipe.Err(), authkey.ErrHalted)
}

func TestVirtualHIDHost_EndpointSide(t *testing.T) {
	t.Parallel()

	host := NewVirtualHIDHost(WithOutQueue(1))
	buf := make([]byte, ctaphid.PacketSize)

	_, err := host.ReadReport(buf)
	require.ErrorIs(t, err, authkey.ErrWouldBlock)

	report := ctaphid.InitPacket(7, ctaphid.CmdWink, 0, nil)
	host.Queue(report)
	assert.Equal(t, 1, host.Pending())
	n, err := host.ReadReport(buf)
	require.NoError(t, err)
	assert.Equal(t, report, buf[:n])

	_, err = host.WriteReport(report)
	require.NoError(t, err)
	_, err = host.WriteReport(report)
	require.ErrorIs(t, err, authkey.ErrWouldBlock, "full queue pushes back")

	got, err := host.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, report, got)
}

func TestVirtualHIDHost_RejectsForeignChannel(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	host := NewVirtualHIDHost()
	go func() {
		_, _ = host.WriteReport(ctaphid.InitPacket(9, ctaphid.CmdPing, 0, nil))
	}()
	_, _, err := host.Transact(ctx, 5, ctaphid.CmdPing, nil)
	require.ErrorIs(t, err, ErrChannelMismatch)
}

func TestVirtualHIDHost_SkipsKeepAlives(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	host := NewVirtualHIDHost()
	_, _ = host.WriteReport(ctaphid.InitPacket(5, ctaphid.CmdKeepAlive, 1, []byte{ctaphid.KeepAliveProcessing}))
	_, _ = host.WriteReport(ctaphid.InitPacket(5, ctaphid.CmdKeepAlive, 1, []byte{ctaphid.KeepAliveUpNeeded}))
	_, _ = host.WriteReport(ctaphid.InitPacket(5, ctaphid.CmdCBOR, 1, []byte{0x00}))

	cmd, resp, err := host.Transact(ctx, 5, ctaphid.CmdCBOR, []byte{ctap.CmdGetInfo})
	require.NoError(t, err)
	assert.Equal(t, ctaphid.CmdCBOR, cmd)
	assert.Equal(t, []byte{0x00}, resp)
	assert.Equal(t, []byte{ctaphid.KeepAliveProcessing, ctaphid.KeepAliveUpNeeded}, host.KeepAlives())
}

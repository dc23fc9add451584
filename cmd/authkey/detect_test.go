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

package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/ZaparooProject/go-authkey/detection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDevices = []detection.DeviceInfo{
	{Transport: detection.TransportI2C, Path: "/dev/i2c-0", Confidence: detection.Medium},
	{
		Transport: detection.TransportI2C, Path: "/dev/i2c-1", Name: "I2C1", Confidence: detection.High,
		Metadata: map[string]string{"uid": "1D223344556677"},
	},
	{
		Transport: detection.TransportUART, Path: "/dev/ttyUSB0", Name: "CP2102N USB to UART",
		Confidence: detection.Medium, Metadata: map[string]string{"vidpid": "10C4:EA60"},
	},
}

// stubDetect replaces detection and records the options it was called with.
func stubDetect(t *testing.T, devices []detection.DeviceInfo, err error) *detection.Options {
	t.Helper()
	orig := detectFn
	t.Cleanup(func() { detectFn = orig })

	var seen detection.Options
	detectFn = func(_ context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
		seen = *opts
		return devices, err
	}
	return &seen
}

func TestParseDetectMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want detection.Mode
	}{
		{"passive", detection.Passive},
		{"SAFE", detection.Safe},
		{"", detection.Safe},
		{"full", detection.Full},
	}
	for _, tc := range tests {
		got, err := parseDetectMode(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, tc.in)
	}

	_, err := parseDetectMode("aggressive")
	require.ErrorIs(t, err, errUnknownDetectMode)
}

//nolint:paralleltest // Replaces detectFn
func TestResolveAuto(t *testing.T) {
	seen := stubDetect(t, testDevices, nil)

	cfg := &config{nfcBus: autoPath, hidBridge: autoPath, detectMode: "full"}
	var out bytes.Buffer
	require.NoError(t, resolveAuto(context.Background(), cfg, &out))

	assert.Equal(t, "/dev/i2c-1", cfg.nfcBus)
	assert.Equal(t, "/dev/ttyUSB0", cfg.hidBridge)
	assert.Equal(t, detection.Full, seen.Mode)
	assert.ElementsMatch(t, []string{detection.TransportI2C, detection.TransportUART}, seen.Transports)
	assert.Contains(t, out.String(), "Using i2c device at /dev/i2c-1 (confidence: high)")
}

//nolint:paralleltest // Replaces detectFn
func TestResolveAuto_OnlyRequestedTransports(t *testing.T) {
	seen := stubDetect(t, testDevices, nil)

	cfg := &config{nfcBus: "/dev/i2c-3", hidBridge: autoPath}
	require.NoError(t, resolveAuto(context.Background(), cfg, &bytes.Buffer{}))
	assert.Equal(t, "/dev/i2c-3", cfg.nfcBus)
	assert.Equal(t, "/dev/ttyUSB0", cfg.hidBridge)
	assert.Equal(t, []string{detection.TransportUART}, seen.Transports)
}

//nolint:paralleltest // Replaces detectFn
func TestResolveAuto_Failures(t *testing.T) {
	stubDetect(t, testDevices[:2], nil)
	cfg := &config{hidBridge: autoPath}
	err := resolveAuto(context.Background(), cfg, &bytes.Buffer{})
	require.ErrorIs(t, err, detection.ErrNoDevicesFound)
	assert.Equal(t, autoPath, cfg.hidBridge)

	errBus := errors.New("bus locked")
	stubDetect(t, nil, errBus)
	err = resolveAuto(context.Background(), &config{nfcBus: autoPath}, &bytes.Buffer{})
	require.ErrorIs(t, err, errBus)

	err = resolveAuto(context.Background(), &config{nfcBus: autoPath, detectMode: "loud"}, &bytes.Buffer{})
	require.ErrorIs(t, err, errUnknownDetectMode)
}

//nolint:paralleltest // Replaces detectFn
func TestRunDetect(t *testing.T) {
	seen := stubDetect(t, testDevices, nil)

	var out bytes.Buffer
	require.NoError(t, runDetect(context.Background(), &config{detectMode: "passive"}, &out))
	assert.Equal(t, detection.Passive, seen.Mode)
	assert.Empty(t, seen.Transports)

	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)
	assert.Equal(t, "i2c device at /dev/i2c-1 (confidence: high) \"I2C1\" uid=1D223344556677", string(lines[1]))
	assert.Contains(t, string(lines[2]), "usb=10C4:EA60")

	stubDetect(t, nil, detection.ErrNoDevicesFound)
	out.Reset()
	require.NoError(t, runDetect(context.Background(), &config{}, &out))
	assert.Equal(t, "No devices found\n", out.String())
}

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

//nolint:paralleltest // Tests share the package registry and cache
package detection

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfidenceString(t *testing.T) {
	assert.Equal(t, Low, Confidence(0))
	assert.Equal(t, "low", Low.String())
	assert.Equal(t, "medium", Medium.String())
	assert.Equal(t, "high", High.String())
	assert.Equal(t, "unknown", Confidence(99).String())
	assert.Less(t, Passive, Safe)
	assert.Less(t, Safe, Full)
}

func TestDeviceInfo_String(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		device   DeviceInfo
	}{
		{
			name:     "bridge",
			device:   DeviceInfo{Transport: TransportUART, Path: "/dev/ttyACM0", Confidence: Medium},
			expected: "uart device at /dev/ttyACM0 (confidence: medium)",
		},
		{
			name:     "frontend",
			device:   DeviceInfo{Transport: TransportI2C, Path: "/dev/i2c-1", Confidence: High},
			expected: "i2c device at /dev/i2c-1 (confidence: high)",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.device.String())
		})
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	assert.Equal(t, Safe, opts.Mode)
	assert.Equal(t, 5*time.Second, opts.Timeout)
	assert.True(t, opts.EnableCache)
	assert.Equal(t, 30*time.Second, opts.CacheTTL)
	assert.Contains(t, opts.Blocklist, "1546:01A8")
}

// --- Cache ---

func uartKey(mode Mode) cacheKey {
	return cacheKey{transport: TransportUART, mode: mode}
}

func TestCache_GetSet(t *testing.T) {
	clearCache()
	defer clearCache()

	cached, found := getCached(uartKey(Safe), time.Minute)
	assert.False(t, found)
	assert.Nil(t, cached)

	setCached(uartKey(Safe), []DeviceInfo{{Transport: TransportUART, Path: "/dev/ttyACM0", Confidence: High}})

	cached, found = getCached(uartKey(Safe), time.Minute)
	require.True(t, found)
	require.Len(t, cached, 1)
	assert.Equal(t, "/dev/ttyACM0", cached[0].Path)

	_, found = getCached(uartKey(Full), time.Minute)
	assert.False(t, found, "results are cached per mode")
}

func TestCache_TTLExpiry(t *testing.T) {
	clearCache()
	defer clearCache()

	setCached(uartKey(Safe), []DeviceInfo{{Transport: TransportUART, Path: "/dev/ttyACM0"}})

	time.Sleep(time.Millisecond)
	cached, found := getCached(uartKey(Safe), time.Nanosecond)
	assert.False(t, found)
	assert.Nil(t, cached)
}

func TestCache_ClearForTransport(t *testing.T) {
	clearCache()
	defer clearCache()

	setCached(uartKey(Safe), []DeviceInfo{{Transport: TransportUART}})
	setCached(uartKey(Full), []DeviceInfo{{Transport: TransportUART}})
	i2cKey := cacheKey{transport: TransportI2C, mode: Safe}
	setCached(i2cKey, []DeviceInfo{{Transport: TransportI2C}})

	ClearDetectionCacheForTransport(TransportUART)

	_, found := getCached(uartKey(Safe), time.Minute)
	assert.False(t, found)
	_, found = getCached(uartKey(Full), time.Minute)
	assert.False(t, found)
	_, found = getCached(i2cKey, time.Minute)
	assert.True(t, found)

	ClearDetectionCache()
	_, found = getCached(i2cKey, time.Minute)
	assert.False(t, found)
}

func TestCache_CopyBehavior(t *testing.T) {
	clearCache()
	defer clearCache()

	devices := []DeviceInfo{{
		Transport: TransportI2C,
		Path:      "/dev/i2c-1",
		Metadata:  map[string]string{"uid": "1D2A3B4C5D6E7F"},
	}}
	setCached(cacheKey{transport: TransportI2C}, devices)

	devices[0].Path = "/dev/i2c-2"
	devices[0].Metadata["uid"] = "00"

	cached, found := getCached(cacheKey{transport: TransportI2C}, time.Minute)
	require.True(t, found)
	assert.Equal(t, "/dev/i2c-1", cached[0].Path)
	assert.Equal(t, "1D2A3B4C5D6E7F", cached[0].Metadata["uid"])

	cached[0].Metadata["uid"] = "FF"
	again, _ := getCached(cacheKey{transport: TransportI2C}, time.Minute)
	assert.Equal(t, "1D2A3B4C5D6E7F", again[0].Metadata["uid"])
}

// --- Registry and DetectAll ---

type mockDetector struct {
	err       error
	transport string
	devices   []DeviceInfo
	calls     atomic.Int32
}

func (m *mockDetector) Detect(context.Context, *Options) ([]DeviceInfo, error) {
	m.calls.Add(1)
	return m.devices, m.err
}

func (m *mockDetector) Transport() string {
	return m.transport
}

// blockingDetector never finds anything before its context ends.
type blockingDetector struct{}

func (*blockingDetector) Detect(ctx context.Context, _ *Options) ([]DeviceInfo, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (*blockingDetector) Transport() string {
	return "blocking"
}

func withRegistry(t *testing.T, detectors ...Detector) {
	t.Helper()
	original := registry
	registry = nil
	for _, d := range detectors {
		RegisterDetector(d)
	}
	clearCache()
	t.Cleanup(func() {
		registry = original
		clearCache()
	})
}

func TestGetDetectors_FilterByTransport(t *testing.T) {
	withRegistry(t,
		&mockDetector{transport: TransportUART},
		&mockDetector{transport: TransportI2C},
	)

	tests := []struct {
		name       string
		transports []string
		expected   int
	}{
		{"All transports", nil, 2},
		{"Single transport", []string{TransportUART}, 1},
		{"Both transports", []string{TransportUART, TransportI2C}, 2},
		{"Non-existent transport", []string{"spi"}, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Len(t, getDetectors(tc.transports), tc.expected)
		})
	}
}

func TestDetectAll_NoDetectors(t *testing.T) {
	withRegistry(t)

	opts := DefaultOptions()
	opts.Transports = []string{"nonexistent"}

	_, err := DetectAll(context.Background(), &opts)
	require.ErrorIs(t, err, ErrNoDetectors)
}

func TestDetectAll_Timeout(t *testing.T) {
	withRegistry(t, &blockingDetector{})

	opts := DefaultOptions()
	opts.Timeout = 10 * time.Millisecond
	opts.EnableCache = false

	_, err := DetectAll(context.Background(), &opts)
	require.ErrorIs(t, err, ErrDetectionTimeout)
}

func TestDetectAll_PartialFailure(t *testing.T) {
	errBus := errors.New("bus locked")
	withRegistry(t,
		&mockDetector{transport: TransportI2C, err: errBus},
		&mockDetector{transport: TransportUART, devices: []DeviceInfo{
			{Transport: TransportUART, Path: "/dev/ttyACM0", Confidence: Medium},
		}},
	)

	opts := DefaultOptions()
	opts.EnableCache = false

	devices, err := DetectAll(context.Background(), &opts)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "/dev/ttyACM0", devices[0].Path)
}

func TestDetectAll_AllFail(t *testing.T) {
	errBus := errors.New("bus locked")
	errPort := errors.New("permission denied")
	withRegistry(t,
		&mockDetector{transport: TransportI2C, err: errBus},
		&mockDetector{transport: TransportUART, err: errPort},
	)

	opts := DefaultOptions()
	opts.EnableCache = false

	_, err := DetectAll(context.Background(), &opts)
	require.ErrorIs(t, err, errBus)
	require.ErrorIs(t, err, errPort)
	assert.Contains(t, err.Error(), "i2c: bus locked")
}

func TestDetectAll_NothingFound(t *testing.T) {
	withRegistry(t, &mockDetector{transport: TransportI2C, err: ErrNoDevicesFound})

	opts := DefaultOptions()
	_, err := DetectAll(context.Background(), &opts)
	require.ErrorIs(t, err, ErrNoDevicesFound)
}

func TestDetectAll_CachedResultsAreFiltered(t *testing.T) {
	det := &mockDetector{transport: TransportUART, devices: []DeviceInfo{
		{Transport: TransportUART, Path: "/dev/ttyACM0", Metadata: map[string]string{"vidpid": "1209:A5A5"}},
		{Transport: TransportUART, Path: "/dev/ttyACM1", Metadata: map[string]string{"vidpid": "2E8A:000A"}},
	}}
	withRegistry(t, det)

	opts := DefaultOptions()
	devices, err := DetectAll(context.Background(), &opts)
	require.NoError(t, err)
	assert.Len(t, devices, 2)

	opts.IgnorePaths = []string{"/dev/ttyACM0"}
	opts.Blocklist = []string{"vid=2e8a pid=000a"}
	devices, err = DetectAll(context.Background(), &opts)
	require.ErrorIs(t, err, ErrNoDevicesFound)
	assert.Empty(t, devices)
	assert.Equal(t, int32(1), det.calls.Load(), "second scan is served from cache")
}

func TestDetectAll_EmptyScanClearsCache(t *testing.T) {
	det := &mockDetector{transport: TransportI2C, devices: []DeviceInfo{{Transport: TransportI2C, Path: "/dev/i2c-1"}}}
	withRegistry(t, det)

	setCached(cacheKey{transport: TransportI2C, mode: Full}, det.devices)
	det.devices = nil

	opts := DefaultOptions()
	_, err := DetectAll(context.Background(), &opts)
	require.ErrorIs(t, err, ErrNoDevicesFound)

	_, found := getCached(cacheKey{transport: TransportI2C, mode: Full}, time.Minute)
	assert.False(t, found, "an empty scan drops stale entries of every mode")
}

func TestBest(t *testing.T) {
	devices := []DeviceInfo{
		{Transport: TransportUART, Path: "/dev/ttyUSB0", Confidence: Low},
		{Transport: TransportI2C, Path: "/dev/i2c-1", Confidence: High},
		{Transport: TransportUART, Path: "/dev/ttyACM0", Confidence: High},
		{Transport: TransportUART, Path: "/dev/ttyACM1", Confidence: High},
	}

	best, ok := Best(devices, TransportUART)
	require.True(t, ok)
	assert.Equal(t, "/dev/ttyACM0", best.Path, "ties keep enumeration order")

	_, ok = Best(devices, "spi")
	assert.False(t, ok)
}

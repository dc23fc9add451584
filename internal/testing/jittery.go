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

package testing

import (
	"math/rand/v2"
	"sync"
	"time"

	authkey "github.com/ZaparooProject/go-authkey"
	"github.com/ZaparooProject/go-authkey/ctaphid"
	"github.com/ZaparooProject/go-authkey/iso14443"
)

// JitterConfig configures the jittery wrappers.
type JitterConfig struct {
	// MaxLatency is the upper bound of the random delay before each call.
	MaxLatency time.Duration
	// StallRate is the probability in [0, 1] that a call reports nothing
	// ready without touching the wrapped transport.
	StallRate float64
	// Seed makes the sequence reproducible. Zero picks a random seed.
	Seed uint64
}

// DefaultJitterConfig returns a sensible default configuration for testing.
func DefaultJitterConfig() JitterConfig {
	return JitterConfig{
		MaxLatency: 500 * time.Microsecond,
		StallRate:  0.3,
	}
}

// jitter is the shared random source. Stalls return before the wrapped
// transport is called, so no data is lost.
type jitter struct {
	rng    *rand.Rand
	config JitterConfig
	stalls int
	mu     sync.Mutex
}

func newJitter(config JitterConfig) *jitter {
	var rng *rand.Rand
	if config.Seed != 0 {
		rng = rand.New(rand.NewPCG(config.Seed, config.Seed^0xDEADBEEF)) //nolint:gosec // Test code, not crypto
	} else {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) //nolint:gosec // Test code, not crypto
	}
	return &jitter{rng: rng, config: config}
}

// next sleeps for a random latency and reports whether the call stalls.
func (j *jitter) next() bool {
	j.delay()
	j.mu.Lock()
	defer j.mu.Unlock()
	stall := j.rng.Float64() < j.config.StallRate
	if stall {
		j.stalls++
	}
	return stall
}

func (j *jitter) delay() {
	if j.config.MaxLatency <= 0 {
		return
	}
	j.mu.Lock()
	d := time.Duration(j.rng.Int64N(int64(j.config.MaxLatency) + 1))
	j.mu.Unlock()
	time.Sleep(d)
}

// Stalls returns how many calls were stalled.
func (j *jitter) Stalls() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stalls
}

// JitteryEndpoint wraps a ctaphid.Endpoint the way a busy USB controller
// behaves: reports arrive late and writes are refused with ErrWouldBlock
// at random.
type JitteryEndpoint struct {
	backend ctaphid.Endpoint
	*jitter
}

// NewJitteryEndpoint wraps backend with jitter simulation.
func NewJitteryEndpoint(backend ctaphid.Endpoint, config JitterConfig) *JitteryEndpoint {
	return &JitteryEndpoint{backend: backend, jitter: newJitter(config)}
}

// ReadReport implements ctaphid.Endpoint.
func (j *JitteryEndpoint) ReadReport(buf []byte) (int, error) {
	if j.next() {
		return 0, authkey.ErrWouldBlock
	}
	return j.backend.ReadReport(buf) //nolint:wrapcheck // Pass-through wrapper
}

// WriteReport implements ctaphid.Endpoint.
func (j *JitteryEndpoint) WriteReport(report []byte) (int, error) {
	if j.next() {
		return 0, authkey.ErrWouldBlock
	}
	return j.backend.WriteReport(report) //nolint:wrapcheck // Pass-through wrapper
}

// JitteryReader wraps an iso14443.Reader so frames are picked up a random
// number of polls late.
type JitteryReader struct {
	backend iso14443.Reader
	*jitter
}

// NewJitteryReader wraps backend with jitter simulation.
func NewJitteryReader(backend iso14443.Reader, config JitterConfig) *JitteryReader {
	return &JitteryReader{backend: backend, jitter: newJitter(config)}
}

// Read implements iso14443.Reader.
func (j *JitteryReader) Read(buf []byte) (n int, newSession bool, err error) {
	if j.next() {
		return 0, false, authkey.ErrNoActivity
	}
	return j.backend.Read(buf) //nolint:wrapcheck // Pass-through wrapper
}

// Send implements iso14443.Reader.
func (j *JitteryReader) Send(frame []byte) error {
	j.delay()
	return j.backend.Send(frame) //nolint:wrapcheck // Pass-through wrapper
}

// FrameSize implements iso14443.Reader.
func (j *JitteryReader) FrameSize() int { return j.backend.FrameSize() }

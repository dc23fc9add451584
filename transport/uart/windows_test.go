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

package uart

import (
	"runtime"
	"testing"
	"time"
)

// TestWindowsPlatformDetection tests Windows platform detection utility
func TestWindowsPlatformDetection(t *testing.T) {
	t.Parallel()

	isWindowsActual := isWindows()
	expectedWindows := runtime.GOOS == "windows"

	if isWindowsActual != expectedWindows {
		t.Errorf("isWindows() = %v, want %v", isWindowsActual, expectedWindows)
	}
}

// TestPollReadTimeout tests the per-platform ReadReport timeout
func TestPollReadTimeout(t *testing.T) {
	t.Parallel()

	timeout := pollReadTimeout()

	want := 2 * time.Millisecond
	if runtime.GOOS == "windows" {
		want = 10 * time.Millisecond
	}
	if timeout != want {
		t.Errorf("pollReadTimeout() = %v, want %v", timeout, want)
	}
	if timeout >= time.Millisecond*20 {
		t.Errorf("pollReadTimeout() = %v would stall the report loop", timeout)
	}
}

// TestInterruptedSystemCall tests EINTR detection on read errors
func TestInterruptedSystemCall(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		name string
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "eintr", err: errString("read /dev/ttyACM0: interrupted system call"), want: true},
		{name: "short name", err: errString("EINTR"), want: true},
		{name: "other", err: errString("no such device"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := isInterruptedSystemCall(tt.err); got != tt.want {
				t.Errorf("isInterruptedSystemCall(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

type errString string

func (e errString) Error() string { return string(e) }

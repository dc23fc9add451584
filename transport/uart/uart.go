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

// Package uart carries 64-byte USB HID reports over a serial link to a
// USB bridge chip. Each report travels in one frame:
//
//	0xA5 | report(64) | checksum
//
// where the checksum makes the report bytes plus checksum sum to zero.
package uart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"time"

	authkey "github.com/ZaparooProject/go-authkey"
	"github.com/ZaparooProject/go-authkey/ctaphid"
	"github.com/ZaparooProject/go-authkey/internal/frame"
	"github.com/ZaparooProject/go-authkey/internal/syncutil"
	"go.bug.st/serial"
)

// DefaultBaudRate is the bridge's line rate.
const DefaultBaudRate = 921600

// Bridge implements ctaphid.Endpoint over a serial HID bridge.
type Bridge struct {
	port     serial.Port
	portName string
	pending  []byte
	scratch  []byte
	mu       syncutil.Mutex
}

var _ ctaphid.Endpoint = (*Bridge)(nil)

// isWindows returns true if running on Windows
func isWindows() bool {
	return runtime.GOOS == "windows"
}

// pollReadTimeout returns how long one ReadReport may block. Windows
// serial drivers do not honour very short timeouts.
func pollReadTimeout() time.Duration {
	if isWindows() {
		return 10 * time.Millisecond
	}
	return 2 * time.Millisecond
}

// Open opens portName at baud (DefaultBaudRate when zero), retrying while
// the port is still being enumerated, and discards stale input.
func Open(ctx context.Context, portName string, baud int) (*Bridge, error) {
	mode := PortMode(baud)

	var port serial.Port
	err := authkey.RetryWithConfig(ctx, authkey.BridgeOpenRetryConfig(), func() error {
		p, err := serial.Open(portName, mode)
		if err != nil {
			return authkey.NewTransportError("open", portName, err, authkey.ErrorTypeTransient)
		}
		port = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open bridge port %s: %w", portName, err)
	}

	if err := port.SetReadTimeout(pollReadTimeout()); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to set bridge read timeout: %w", err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		authkey.Debugf("uart: input reset on %s failed: %v", portName, err)
	}
	return New(port, portName), nil
}

// PortMode returns the 8N1 line settings of the bridge at baud, or at
// DefaultBaudRate when baud is zero.
func PortMode(baud int) *serial.Mode {
	if baud == 0 {
		baud = DefaultBaudRate
	}
	return &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// PollReadTimeout is the read timeout Open sets on the port.
func PollReadTimeout() time.Duration {
	return pollReadTimeout()
}

// New wraps an open port.
func New(port serial.Port, portName string) *Bridge {
	return &Bridge{
		port:     port,
		portName: portName,
		pending:  make([]byte, 0, frame.BridgeFrameSize),
		scratch:  make([]byte, frame.BridgeFrameSize),
	}
}

// ReadReport implements ctaphid.Endpoint. It returns authkey.ErrWouldBlock
// until a whole frame has arrived. A frame with a bad checksum is dropped
// and reported as a retryable checksum error.
func (b *Bridge) ReadReport(buf []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(buf) < frame.ReportSize {
		return 0, fmt.Errorf("uart: %d byte buffer: %w", len(buf), io.ErrShortBuffer)
	}

	need := frame.BridgeFrameSize - len(b.pending)
	n, err := b.port.Read(b.scratch[:need])
	if err != nil {
		if isInterruptedSystemCall(err) {
			return 0, authkey.ErrWouldBlock
		}
		return 0, b.wrap("read", err)
	}
	b.pending = append(b.pending, b.scratch[:n]...)
	b.resync()
	if len(b.pending) < frame.BridgeFrameSize {
		return 0, authkey.ErrWouldBlock
	}

	report, ok := frame.DecodeBridgeFrame(b.pending)
	b.pending = b.pending[:0]
	if !ok {
		authkey.Debugf("uart: dropped frame with bad checksum on %s", b.portName)
		return 0, authkey.NewChecksumMismatchError("read report", b.portName)
	}
	return copy(buf, report), nil
}

// resync drops bytes ahead of the next start marker.
func (b *Bridge) resync() {
	i := 0
	for i < len(b.pending) && b.pending[i] != frame.BridgeStart {
		i++
	}
	if i > 0 {
		authkey.Debugf("uart: skipped %d bytes before frame start", i)
		b.pending = append(b.pending[:0], b.pending[i:]...)
	}
}

// WriteReport implements ctaphid.Endpoint. The whole frame is written
// before it returns.
func (b *Bridge) WriteReport(report []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(report) > frame.ReportSize {
		return 0, authkey.NewDataTooLargeError("write report", b.portName)
	}
	out := frame.EncodeBridgeFrame(report)
	for written := 0; written < len(out); {
		n, err := b.port.Write(out[written:])
		if err != nil {
			return 0, b.wrap("write", err)
		}
		if n == 0 {
			return 0, authkey.NewTransportWriteError("write report", b.portName)
		}
		written += n
	}
	return len(report), nil
}

// Close closes the port.
func (b *Bridge) Close() error {
	if err := b.port.Close(); err != nil {
		return fmt.Errorf("bridge close failed: %w", err)
	}
	return nil
}

// wrap classifies a port error: a vanished device or closed port is
// permanent, anything else transient.
func (b *Bridge) wrap(op string, err error) error {
	var portErr *serial.PortError
	if errors.As(err, &portErr) && portErr.Code() == serial.PortClosed {
		err = fmt.Errorf("%w: %w", authkey.ErrTransportClosed, err)
	}
	errType := authkey.ErrorTypeTransient
	if authkey.IsFatal(err) {
		errType = authkey.ErrorTypePermanent
	}
	return authkey.NewTransportError(op, b.portName, err, errType)
}

// isInterruptedSystemCall checks if an error is caused by an interrupted system call
func isInterruptedSystemCall(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "interrupted system call") ||
		strings.Contains(errStr, "eintr")
}

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

// Package uart detects HID report bridges among the host's serial ports.
package uart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	authkey "github.com/ZaparooProject/go-authkey"
	"github.com/ZaparooProject/go-authkey/detection"
	"github.com/ZaparooProject/go-authkey/internal/frame"
	"github.com/ZaparooProject/go-authkey/transport/uart"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// listenWindow is how long a probe waits for a bridge frame. A bridge
// forwards host traffic, so an idle one stays silent.
var listenWindow = 250 * time.Millisecond

// probeResult is what one listening probe observed on a port.
type probeResult int

const (
	probeSilent probeResult = iota
	probeFrame
	probeGarbage
	probeFailed
)

// Injectable for tests.
var (
	listPortsFn = enumerator.GetDetailedPortsList
	openPortFn  = serial.Open
	probePortFn = probePort
)

// detector implements the Detector interface for UART bridges.
type detector struct{}

// New creates a new UART detector
func New() detection.Detector {
	return &detector{}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return detection.TransportUART
}

// Detect searches for bridges on serial ports
func (*detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	details, err := listPortsFn()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	var devices []detection.DeviceInfo
	for _, port := range details {
		if ctx.Err() != nil {
			break
		}
		if !candidate(port, opts) {
			continue
		}
		if device, ok := processPort(ctx, port, opts.Mode); ok {
			devices = append(devices, device)
		}
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

func vidpid(port *enumerator.PortDetails) string {
	if !port.IsUSB || port.VID == "" || port.PID == "" {
		return ""
	}
	return strings.ToUpper(port.VID + ":" + port.PID)
}

// candidate applies the ignore and block lists. Ports that are not USB
// are only considered in Full mode.
func candidate(port *enumerator.PortDetails, opts *detection.Options) bool {
	if detection.IsPathIgnored(port.Name, opts.IgnorePaths) {
		return false
	}
	if id := vidpid(port); id != "" && detection.IsBlocked(id, opts.Blocklist) {
		return false
	}
	return port.IsUSB || opts.Mode == detection.Full
}

// processPort decides a port's confidence. A frame proves a bridge. Noise
// that never forms a frame rules one out. Silence keeps what the
// descriptor suggests, except for unknown ports in Safe mode.
func processPort(ctx context.Context, port *enumerator.PortDetails, mode detection.Mode) (detection.DeviceInfo, bool) {
	device := detection.DeviceInfo{
		Transport:  detection.TransportUART,
		Path:       port.Name,
		Name:       port.Name,
		Confidence: detection.Low,
		Metadata:   portMetadata(port),
	}
	if port.Product != "" {
		device.Name = port.Product
	}
	likely := isLikelyBridge(port)
	if likely {
		device.Confidence = detection.Medium
	}

	if mode == detection.Passive {
		return device, likely
	}

	switch probePortFn(ctx, port.Name) {
	case probeFrame:
		device.Confidence = detection.High
		return device, true
	case probeSilent:
		return device, likely || mode == detection.Full
	default:
		return device, false
	}
}

func portMetadata(port *enumerator.PortDetails) map[string]string {
	md := make(map[string]string)
	if id := vidpid(port); id != "" {
		md["vidpid"] = id
	}
	if port.Product != "" {
		md["product"] = port.Product
	}
	if port.SerialNumber != "" {
		md["serial"] = port.SerialNumber
	}
	return md
}

// isLikelyBridge checks the USB descriptor against the serial chips the
// bridge firmware is known to run behind.
func isLikelyBridge(port *enumerator.PortDetails) bool {
	knownBridges := []string{
		"10C4:EA60", // Silicon Labs CP210x
		"1A86:7523", // QinHeng CH340
		"1A86:55D4", // QinHeng CH9102
		"0403:6015", // FTDI FT231X
		"2E8A:000A", // Raspberry Pi RP2040 CDC
	}
	id := vidpid(port)
	for _, known := range knownBridges {
		if id == known {
			return true
		}
	}

	product := strings.ToLower(port.Product)
	for _, keyword := range []string{"hid bridge", "ctaphid", "fido", "authkey"} {
		if strings.Contains(product, keyword) {
			return true
		}
	}
	return false
}

// probePort opens path once and listens for a bridge frame.
//
// NO RETRY POLICY: a port that fails to open is skipped. Retrying
// during detection would keep busy or unrelated devices open for longer.
func probePort(ctx context.Context, path string) probeResult {
	port, err := openPortFn(path, uart.PortMode(0))
	if err != nil {
		authkey.Debugf("detect: open %s: %v", path, err)
		return probeFailed
	}
	if err := port.SetReadTimeout(uart.PollReadTimeout()); err != nil {
		_ = port.Close()
		return probeFailed
	}
	bridge := uart.New(port, path)
	defer func() { _ = bridge.Close() }()

	ctx, cancel := context.WithTimeout(ctx, listenWindow)
	defer cancel()
	return listen(ctx, bridge)
}

// listen reads reports until one decodes, a checksum fails or ctx ends.
func listen(ctx context.Context, bridge *uart.Bridge) probeResult {
	buf := make([]byte, frame.ReportSize)
	for ctx.Err() == nil {
		n, err := bridge.ReadReport(buf)
		switch {
		case err == nil && n > 0:
			return probeFrame
		case errors.Is(err, authkey.ErrWouldBlock):
		case errors.Is(err, authkey.ErrChecksumMismatch):
			return probeGarbage
		case err != nil:
			return probeFailed
		}
	}
	return probeSilent
}

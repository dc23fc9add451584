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

// Package i2c detects FM11NT08x frontends on the host's I2C buses.
package i2c

import (
	"context"
	"encoding/hex"
	"fmt"
	"runtime"
	"strings"

	authkey "github.com/ZaparooProject/go-authkey"
	"github.com/ZaparooProject/go-authkey/detection"
	"github.com/ZaparooProject/go-authkey/transport/i2c"
	periphi2c "periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// bus is one enumerated I2C bus. path is what i2c.Open accepts.
type bus struct {
	path string
	name string
}

// Injectable for tests.
var (
	listBusesFn = listBuses
	openBusFn   = func(path string) (periphi2c.BusCloser, error) { return i2creg.Open(path) }
)

// detector implements the Detector interface for I2C frontends
type detector struct{}

// New creates a new I2C detector
func New() detection.Detector {
	return &detector{}
}

func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return detection.TransportI2C
}

// Detect looks for a frontend at its fixed address on every bus. Passive
// mode reports each bus at Low confidence without touching it.
func (*detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	buses, err := listBusesFn()
	if err != nil {
		return nil, err
	}

	var devices []detection.DeviceInfo
	for _, b := range buses {
		if ctx.Err() != nil {
			break
		}
		if detection.IsPathIgnored(b.path, opts.IgnorePaths) {
			continue
		}

		device := detection.DeviceInfo{
			Transport:  detection.TransportI2C,
			Path:       b.path,
			Name:       b.name,
			Confidence: detection.Low,
			Metadata:   map[string]string{},
		}
		if opts.Mode != detection.Passive {
			if !probeBus(b, opts.Mode, &device) {
				continue
			}
		}
		devices = append(devices, device)
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

// probeBus reports whether a frontend answered on b. Safe mode performs a
// single register read; Full mode also reads and checks the UID.
func probeBus(b bus, mode detection.Mode, device *detection.DeviceInfo) bool {
	bc, err := openBusFn(b.path)
	if err != nil {
		authkey.Debugf("detect: open %s: %v", b.path, err)
		return false
	}
	defer func() { _ = bc.Close() }()

	f := i2c.New(bc, i2c.WithName(b.path))
	if err := f.Probe(); err != nil {
		authkey.Debugf("detect: no frontend on %s: %v", b.path, err)
		return false
	}
	device.Confidence = detection.Medium

	if mode == detection.Full {
		uid, err := f.UID()
		if err != nil {
			authkey.Debugf("detect: UID on %s: %v", b.path, err)
			return true
		}
		device.Confidence = detection.High
		device.Metadata["uid"] = strings.ToUpper(hex.EncodeToString(uid))
	}
	return true
}

func listBuses() ([]bus, error) {
	if runtime.GOOS != "linux" {
		return nil, detection.ErrUnsupportedPlatform
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	var buses []bus
	for _, ref := range i2creg.All() {
		b := bus{path: ref.Name, name: ref.Name}
		for _, alias := range ref.Aliases {
			if strings.HasPrefix(alias, "/dev/") {
				b.path = alias
				break
			}
		}
		buses = append(buses, b)
	}
	return buses, nil
}

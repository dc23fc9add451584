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
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ZaparooProject/go-authkey/detection"
	// Register the frontend and bridge detectors.
	_ "github.com/ZaparooProject/go-authkey/detection/i2c"
	_ "github.com/ZaparooProject/go-authkey/detection/uart"
)

// autoPath is the flag value that asks for auto-detection.
const autoPath = "auto"

var errUnknownDetectMode = errors.New("unknown detection mode")

// detectFn is replaced in tests.
var detectFn = detection.DetectAll

func parseDetectMode(s string) (detection.Mode, error) {
	switch strings.ToLower(s) {
	case "passive":
		return detection.Passive, nil
	case "safe", "":
		return detection.Safe, nil
	case "full":
		return detection.Full, nil
	default:
		return 0, fmt.Errorf("%w: %q", errUnknownDetectMode, s)
	}
}

func detectOptions(cfg *config, transports ...string) (detection.Options, error) {
	opts := detection.DefaultOptions()
	mode, err := parseDetectMode(cfg.detectMode)
	if err != nil {
		return opts, err
	}
	opts.Mode = mode
	opts.Transports = transports
	return opts, nil
}

// resolveAuto replaces "auto" transport paths with the most confident
// device found.
func resolveAuto(ctx context.Context, cfg *config, w io.Writer) error {
	var transports []string
	if cfg.nfcBus == autoPath {
		transports = append(transports, detection.TransportI2C)
	}
	if cfg.hidBridge == autoPath {
		transports = append(transports, detection.TransportUART)
	}
	if len(transports) == 0 {
		return nil
	}

	opts, err := detectOptions(cfg, transports...)
	if err != nil {
		return err
	}
	devices, err := detectFn(ctx, &opts)
	if err != nil {
		return fmt.Errorf("auto-detection failed: %w", err)
	}

	for _, target := range []struct {
		path      *string
		transport string
	}{
		{&cfg.nfcBus, detection.TransportI2C},
		{&cfg.hidBridge, detection.TransportUART},
	} {
		if *target.path != autoPath {
			continue
		}
		best, ok := detection.Best(devices, target.transport)
		if !ok {
			return fmt.Errorf("no %s device: %w", target.transport, detection.ErrNoDevicesFound)
		}
		_, _ = fmt.Fprintf(w, "Using %s\n", best)
		*target.path = best.Path
	}
	return nil
}

// runDetect prints every device found and fails only when detection does.
func runDetect(ctx context.Context, cfg *config, w io.Writer) error {
	opts, err := detectOptions(cfg)
	if err != nil {
		return err
	}
	devices, err := detectFn(ctx, &opts)
	if errors.Is(err, detection.ErrNoDevicesFound) {
		_, _ = fmt.Fprintln(w, "No devices found")
		return nil
	}
	if err != nil {
		return err
	}

	for _, d := range devices {
		_, _ = fmt.Fprintf(w, "%s", d)
		if d.Name != "" && d.Name != d.Path {
			_, _ = fmt.Fprintf(w, " %q", d.Name)
		}
		if uid := d.Metadata["uid"]; uid != "" {
			_, _ = fmt.Fprintf(w, " uid=%s", uid)
		}
		if id := d.Metadata["vidpid"]; id != "" {
			_, _ = fmt.Fprintf(w, " usb=%s", id)
		}
		_, _ = fmt.Fprintln(w)
	}
	return nil
}

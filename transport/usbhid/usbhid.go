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

// Package usbhid exposes a FIDO HID interface built on the softusb device
// stack as a CTAPHID endpoint.
package usbhid

import (
	"context"
	"errors"
	"fmt"
	"time"

	authkey "github.com/ZaparooProject/go-authkey"
	"github.com/ZaparooProject/go-authkey/ctaphid"
	"github.com/ardnew/softusb/device"
	"github.com/ardnew/softusb/device/class/hid"
	"github.com/ardnew/softusb/device/hal"
	"github.com/ardnew/softusb/device/hal/fifo"
	"github.com/ardnew/softusb/pkg"
)

// Timeout is the default deadline of one report transfer. A transfer that
// misses it reports authkey.ErrWouldBlock.
const Timeout = 2 * time.Millisecond

// Interrupt endpoint addresses and polling interval in frames.
const (
	inEndpoint      = 0x81
	outEndpoint     = 0x01
	pollingInterval = 5
)

// ReportDescriptor declares the FIDO usage page 0xF1D0 with 64-byte input
// and output reports.
var ReportDescriptor = []byte{
	0x06, 0xD0, 0xF1, // Usage Page (FIDO Alliance)
	0x09, 0x01, //       Usage (CTAPHID)
	0xA1, 0x01, //       Collection (Application)
	0x09, 0x20, //         Usage (Input Report Data)
	0x15, 0x00, //         Logical Minimum (0)
	0x26, 0xFF, 0x00, //   Logical Maximum (255)
	0x75, 0x08, //         Report Size (8)
	0x95, 0x40, //         Report Count (64)
	0x81, 0x02, //         Input (Data, Variable, Absolute)
	0x09, 0x21, //         Usage (Output Report Data)
	0x15, 0x00, //         Logical Minimum (0)
	0x26, 0xFF, 0x00, //   Logical Maximum (255)
	0x75, 0x08, //         Report Size (8)
	0x95, 0x40, //         Report Count (64)
	0x91, 0x02, //         Output (Data, Variable, Absolute)
	0xC0, //             End Collection
}

// ReportIO is the report surface of a HID class driver. *hid.HID
// satisfies it.
type ReportIO interface {
	SendReport(ctx context.Context, data []byte) error
	ReceiveReport(ctx context.Context, buf []byte) (int, error)
}

// Endpoint implements ctaphid.Endpoint on top of a HID class driver.
type Endpoint struct {
	io      ReportIO
	timeout time.Duration
}

var _ ctaphid.Endpoint = (*Endpoint)(nil)

// NewEndpoint returns an Endpoint whose transfers give up after timeout.
// A zero timeout selects Timeout.
func NewEndpoint(rio ReportIO, timeout time.Duration) *Endpoint {
	if timeout <= 0 {
		timeout = Timeout
	}
	return &Endpoint{io: rio, timeout: timeout}
}

// ReadReport implements ctaphid.Endpoint.
func (e *Endpoint) ReadReport(buf []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	n, err := e.io.ReceiveReport(ctx, buf)
	if err != nil {
		return 0, classify("receive report", err)
	}
	return n, nil
}

// WriteReport implements ctaphid.Endpoint.
func (e *Endpoint) WriteReport(report []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	if err := e.io.SendReport(ctx, report); err != nil {
		return 0, classify("send report", err)
	}
	return len(report), nil
}

// classify maps softusb transfer errors onto the endpoint contract. A
// missed deadline, a NAK or a host that has not configured the device yet
// are all worth retrying on the next poll; a vanished device or stopped
// stack is not.
func classify(op string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, pkg.ErrTimeout),
		errors.Is(err, pkg.ErrNAK),
		errors.Is(err, pkg.ErrBusy),
		errors.Is(err, pkg.ErrNotConfigured):
		return authkey.ErrWouldBlock
	case errors.Is(err, pkg.ErrNoDevice),
		errors.Is(err, pkg.ErrCancelled),
		errors.Is(err, context.Canceled):
		return authkey.NewTransportError(op, "usbhid", fmt.Errorf("%w: %w", authkey.ErrTransportClosed, err),
			authkey.ErrorTypePermanent)
	default:
		return authkey.NewTransportError(op, "usbhid", err, authkey.ErrorTypeTransient)
	}
}

// DeviceConfig holds the USB identity of the authenticator.
type DeviceConfig struct {
	Manufacturer string
	Product      string
	Serial       string
	VendorID     uint16
	ProductID    uint16
}

// DefaultDeviceConfig returns the identity used by the CLI.
func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		Manufacturer: "Zaparoo",
		Product:      "go-authkey",
		Serial:       "0000000001",
		VendorID:     0x20A0,
		ProductID:    0x42B2,
	}
}

// Device is a running softusb stack with one FIDO HID interface.
type Device struct {
	stack    *device.Stack
	hid      *hid.HID
	endpoint *Endpoint
}

// buildDevice assembles the descriptors: one configuration, one HID
// interface with 64-byte interrupt IN and OUT endpoints.
func buildDevice(ctx context.Context, cfg DeviceConfig) (*device.Device, *hid.HID, error) {
	builder := device.NewDeviceBuilder().
		WithVendorProduct(cfg.VendorID, cfg.ProductID).
		WithStrings(cfg.Manufacturer, cfg.Product, cfg.Serial).
		AddConfiguration(1).
		AddInterface(hid.ClassHID, hid.SubclassNone, hid.ProtocolNone).
		AddEndpoint(inEndpoint, device.EndpointTypeInterrupt, ctaphid.PacketSize).
		AddEndpoint(outEndpoint, device.EndpointTypeInterrupt, ctaphid.PacketSize)

	dev, err := builder.Build(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build USB device: %w", err)
	}

	iface := dev.GetConfiguration(1).GetInterface(0)
	for _, ep := range iface.Endpoints() {
		ep.Interval = pollingInterval
	}

	driver := hid.New(ReportDescriptor)
	if err := driver.AttachToInterface(dev, 1, 0); err != nil {
		return nil, nil, fmt.Errorf("failed to attach HID driver: %w", err)
	}
	return dev, driver, nil
}

// NewDevice builds the FIDO HID device on h and starts its stack. The
// endpoint reports ErrWouldBlock until the host has configured the device.
func NewDevice(ctx context.Context, h hal.DeviceHAL, cfg DeviceConfig) (*Device, error) {
	dev, driver, err := buildDevice(ctx, cfg)
	if err != nil {
		return nil, err
	}

	stack := device.NewStack(dev, h)
	driver.SetStack(stack)
	if err := stack.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start USB stack: %w", err)
	}
	authkey.Debugf("usbhid: stack started %04X:%04X", cfg.VendorID, cfg.ProductID)

	return &Device{
		stack:    stack,
		hid:      driver,
		endpoint: NewEndpoint(driver, Timeout),
	}, nil
}

// OpenFIFO starts the device on softusb's named-pipe bus in busDir, where
// a softusb host process can enumerate it.
func OpenFIFO(ctx context.Context, busDir string, cfg DeviceConfig) (*Device, error) {
	return NewDevice(ctx, fifo.New(busDir), cfg)
}

// Endpoint returns the CTAPHID endpoint of the interface.
func (d *Device) Endpoint() *Endpoint {
	return d.endpoint
}

// WaitConnect blocks until a host is attached or ctx ends.
func (d *Device) WaitConnect(ctx context.Context) error {
	if err := d.stack.WaitConnect(ctx); err != nil {
		return fmt.Errorf("waiting for USB host: %w", err)
	}
	return nil
}

// Close stops the stack and detaches the class driver.
func (d *Device) Close() error {
	if err := d.stack.Stop(); err != nil {
		return fmt.Errorf("failed to stop USB stack: %w", err)
	}
	return d.hid.Close()
}

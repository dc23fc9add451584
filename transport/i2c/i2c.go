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

// Package i2c drives an FM11NT08x contactless frontend over I2C and exposes
// it as an ISO 14443-4 reader.
package i2c

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	authkey "github.com/ZaparooProject/go-authkey"
	"github.com/ZaparooProject/go-authkey/internal/syncutil"
	"github.com/ZaparooProject/go-authkey/iso14443"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

const (
	// Max clock frequency (400 kHz).
	maxClockFreq = 400 * physic.KiloHertz

	// irqWaitTimeout bounds one WaitForEdge call so Close is noticed.
	irqWaitTimeout = 100 * time.Millisecond

	// eepromPollAttempts bounds the acknowledge polling after an eeprom write.
	eepromPollAttempts = 20
)

var (
	errNotTransmitting = errors.New("fm11nt08: chip did not start transmitting")
	errSerialCheck     = errors.New("fm11nt08: serial check byte mismatch")
)

// IRQPin is the part of a GPIO input used for the chip's interrupt line.
// gpio.PinIn satisfies it.
type IRQPin interface {
	In(pull gpio.Pull, edge gpio.Edge) error
	WaitForEdge(timeout time.Duration) bool
}

// Config describes how to open a frontend on the host.
type Config struct {
	// Personalisation, when set, is written to eeprom by Open.
	Personalisation *Personalisation
	// Bus is the periph bus name, e.g. "/dev/i2c-1" or "1".
	Bus string
	// IRQPin is the optional GPIO name of the chip's IRQ output.
	IRQPin string
	// Speed overrides the bus clock. Zero selects 400 kHz.
	Speed physic.Frequency
}

// Personalisation is the eeprom configuration of the contactless
// interface: anti-collision answer and ATS historical parameters.
type Personalisation struct {
	ATQA       uint16
	SAK1       byte
	SAK2       byte
	TL         byte
	T0         byte
	TA         byte
	TB         byte
	TC         byte
	VoutResCfg byte
	UserCfg    [3]byte
}

// DefaultPersonalisation returns an ISO 14443-4 compliant type A setup:
// FSCI 256, FWI 7, SFGI 8, no CID or NAD.
func DefaultPersonalisation() Personalisation {
	return Personalisation{
		ATQA:    0x4400,
		SAK1:    0x04,
		SAK2:    0x20,
		TL:      0x05,
		T0:      0x78,
		TA:      0x91,
		TB:      0x78,
		TC:      0x00,
		UserCfg: [3]byte{0x91, 0x82, 0x21},
	}
}

// Option configures a Frontend built with New.
type Option func(*Frontend)

// WithIRQ watches pin for falling edges and reports them on Activity.
func WithIRQ(pin IRQPin) Option {
	return func(f *Frontend) {
		f.irq = pin
	}
}

// WithName sets the bus name used in errors and traces.
func WithName(name string) Option {
	return func(f *Frontend) {
		f.busName = name
	}
}

func withSleep(sleep func(time.Duration)) Option {
	return func(f *Frontend) {
		f.sleep = sleep
	}
}

// Frontend implements iso14443.Reader for an FM11NT08x.
type Frontend struct {
	dev          *i2c.Dev
	closer       io.Closer
	irq          IRQPin
	activity     chan struct{}
	done         chan struct{}
	currentTrace *authkey.TraceBuffer
	sleep        func(time.Duration)
	busName      string
	packet       [iso14443.MaxFrameSize + fifoDepth]byte
	wg           sync.WaitGroup
	offset       int
	frameSize    int
	mu           syncutil.Mutex
}

var _ iso14443.Reader = (*Frontend)(nil)

// parseI2CPath extracts the bus path from a composite path.
// Accepts "/dev/i2c-1:0x57" or "/dev/i2c-1" (bare bus).
func parseI2CPath(path string) string {
	bus, _, _ := strings.Cut(path, ":")
	return bus
}

// Open initialises the host, opens the bus and prepares the chip's
// registers. A configured IRQ pin is armed for falling edges.
func Open(cfg Config) (*Frontend, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	bus, err := i2creg.Open(parseI2CPath(cfg.Bus))
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus %s: %w", cfg.Bus, err)
	}

	speed := cfg.Speed
	if speed == 0 {
		speed = maxClockFreq
	}
	_ = bus.SetSpeed(speed) // Ignore error, continue with default speed

	opts := []Option{WithName(cfg.Bus)}
	if cfg.IRQPin != "" {
		pin := gpioreg.ByName(cfg.IRQPin)
		if pin == nil {
			_ = bus.Close()
			return nil, fmt.Errorf("IRQ pin %s: %w", cfg.IRQPin, authkey.ErrDeviceNotFound)
		}
		opts = append(opts, WithIRQ(pin))
	}

	f := New(bus, opts...)
	f.closer = bus
	if err := f.start(cfg.Personalisation); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

// New wraps an already opened bus. The chip is not touched until Init or
// the first Read.
func New(bus i2c.Bus, opts ...Option) *Frontend {
	f := &Frontend{
		dev:       &i2c.Dev{Addr: chipAddr, Bus: bus},
		busName:   bus.String(),
		frameSize: defaultFrameSize,
		sleep:     time.Sleep,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Frontend) start(p *Personalisation) error {
	if err := f.Init(); err != nil {
		return err
	}
	if p != nil {
		if err := f.Configure(*p); err != nil {
			return err
		}
	}
	if f.irq != nil {
		if err := f.irq.In(gpio.PullUp, gpio.FallingEdge); err != nil {
			return fmt.Errorf("failed to arm IRQ pin: %w", err)
		}
		f.activity = make(chan struct{}, 1)
		f.wg.Add(1)
		go f.watchIRQ()
	}
	return nil
}

func (f *Frontend) watchIRQ() {
	defer f.wg.Done()
	for {
		select {
		case <-f.done:
			return
		default:
		}
		if f.irq.WaitForEdge(irqWaitTimeout) {
			select {
			case f.activity <- struct{}{}:
			default:
			}
		}
	}
}

// Activity delivers a signal for every IRQ edge. It is nil when the
// frontend has no IRQ line.
func (f *Frontend) Activity() <-chan struct{} {
	return f.activity
}

// Init silences the chip after reset, loads the user configuration into
// the volatile registers and unmasks the RX and FIFO water-level
// interrupts.
//
//nolint:wrapcheck // WrapError intentionally wraps errors with trace data
func (f *Frontend) Init() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beginTrace()
	defer f.endTrace()

	cfg := DefaultPersonalisation().UserCfg
	writes := []struct {
		reg uint16
		val byte
	}{
		{regResetSilence, resetSilenceValue},
		{regNfcTxen, txenSwitchToReceive},
		{regUserCfg0, cfg[0]},
		{regUserCfg1, cfg[1]},
		{regUserCfg2, cfg[2]},
		{regAuxIrq, 0},
		{regFifoIrqMask, defaultFifoIrqMask},
		{regMainIrqMask, defaultMainIrqMask},
		{regAuxIrqMask, 0},
	}
	for _, w := range writes {
		if err := f.writeRegister(w.reg, w.val); err != nil {
			return f.currentTrace.WrapError(err)
		}
	}
	f.offset = 0
	f.frameSize = defaultFrameSize
	return nil
}

// Probe reads the NFC status register once, without retries. It only
// tells that something acknowledges the chip address.
func (f *Frontend) Probe() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var v [1]byte
	return f.tx(addrBytes(regNfcStatus), v[:])
}

// UID reads the 7-byte UID from the eeprom serial block and checks its
// second check byte.
func (f *Frontend) UID() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var serial [serialLen]byte
	if err := f.txRetry(addrBytes(eepromSerial), serial[:]); err != nil {
		return nil, err
	}
	if serial[4]^serial[5]^serial[6]^serial[7] != serial[8] {
		return nil, fmt.Errorf("%w: serial %s", errSerialCheck, authkey.FormatHex(serial[:]))
	}
	uid := make([]byte, 0, 7)
	uid = append(uid, serial[0:3]...)
	return append(uid, serial[4:8]...), nil
}

// Configure writes p to eeprom and refreshes the header checksum. Eeprom
// has limited write endurance, so this is meant for provisioning.
//
//nolint:wrapcheck // WrapError intentionally wraps errors with trace data
func (f *Frontend) Configure(p Personalisation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beginTrace()
	defer f.endTrace()

	chk := ^(p.UserCfg[0] ^ p.UserCfg[1] ^ p.UserCfg[2])
	pages := []struct {
		addr uint16
		data []byte
	}{
		{eepromUserCfg, []byte{p.UserCfg[0], p.UserCfg[1], p.UserCfg[2], chk}},
		{eepromUserCfgDup, p.UserCfg[:]},
		{eepromATQA, []byte{byte(p.ATQA >> 8), byte(p.ATQA), p.SAK1, p.SAK2}},
		{eepromNfcConfig, []byte{p.TL, p.T0, p.VoutResCfg, chipAddr, p.TA, p.TB, p.TC}},
	}
	for _, page := range pages {
		if err := f.writeEeprom(page.addr, page.data); err != nil {
			return f.currentTrace.WrapError(err)
		}
	}

	header := make([]byte, serialLen+4)
	if err := f.tx(addrBytes(eepromSerial), header[:serialLen]); err != nil {
		return f.currentTrace.WrapError(err)
	}
	if err := f.tx(addrBytes(eepromATQA), header[serialLen:]); err != nil {
		return f.currentTrace.WrapError(err)
	}
	if err := f.writeEeprom(eepromCRC8, []byte{crc8(header)}); err != nil {
		return f.currentTrace.WrapError(err)
	}
	return nil
}

// Read implements iso14443.Reader. Frames arrive through the 32-byte FIFO,
// so a long frame is collected over several calls; the CRC is stripped once
// RX done is flagged.
//
//nolint:wrapcheck // WrapError intentionally wraps errors with trace data
func (f *Frontend) Read(buf []byte) (n int, newSession bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beginTrace()
	defer f.endTrace()

	mainIrq, err := f.readRegister(regMainIrq)
	if err != nil {
		return 0, false, f.currentTrace.WrapError(err)
	}

	if mainIrq&mainIrqActive != 0 {
		f.offset = 0
		newSession = true
	}

	if mainIrq&mainIrqRxStart != 0 {
		f.offset = 0
		rats, err := f.readRegister(regNfcRats)
		if err != nil {
			return 0, newSession, f.currentTrace.WrapError(err)
		}
		f.frameSize = fsdiToFrameSize(rats >> 4)
		authkey.Debugf("fm11nt08: rx start, frame size %d", f.frameSize)
	}

	if mainIrq&mainIrqRxDone != 0 {
		if err := f.drainFifo(); err != nil {
			return 0, newSession, f.currentTrace.WrapError(err)
		}
		if f.offset <= 2 {
			authkey.Debugf("fm11nt08: ignoring short frame %s", authkey.FormatHex(f.packet[:f.offset]))
			f.offset = 0
		} else {
			l := f.offset - 2
			f.offset = 0
			if l > len(buf) {
				return 0, newSession, fmt.Errorf("fm11nt08: %d byte frame: %w", l, io.ErrShortBuffer)
			}
			return copy(buf, f.packet[:l]), newSession, nil
		}
	}

	status, err := f.readRegister(regNfcStatus)
	if err != nil {
		return 0, newSession, f.currentTrace.WrapError(err)
	}
	if status&nfcStatusTx == 0 {
		if err := f.drainFifo(); err != nil {
			return 0, newSession, f.currentTrace.WrapError(err)
		}
	}

	if newSession {
		return 0, false, authkey.ErrSessionReset
	}
	return 0, false, authkey.ErrNoActivity
}

// drainFifo appends up to one FIFO chunk to the pending frame.
func (f *Frontend) drainFifo() error {
	cnt, err := f.readRegister(regFifoWordCnt)
	if err != nil {
		return err
	}
	count := min(int(cnt&fifoWordCntMask), fifoChunk)
	if count == 0 {
		return nil
	}
	if f.offset+count > len(f.packet) {
		f.offset = 0
		return authkey.NewFrameCorruptedError("fm11nt08 read", f.busName)
	}
	if err := f.tx(addrBytes(regFifoAccess), f.packet[f.offset:f.offset+count]); err != nil {
		return err
	}
	f.offset += count
	return nil
}

// Send implements iso14443.Reader. The first chunk fills the FIFO; each
// later chunk tops it up once it drains below the water level.
//
//nolint:wrapcheck // WrapError intentionally wraps errors with trace data
func (f *Frontend) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beginTrace()
	defer f.endTrace()

	chunk := min(len(frame), fifoDepth)
	for {
		if err := f.writeFifo(frame[:chunk]); err != nil {
			return f.currentTrace.WrapError(err)
		}
		if err := f.waitForTransmission(); err != nil {
			return f.currentTrace.WrapError(err)
		}
		frame = frame[chunk:]
		if len(frame) == 0 {
			return nil
		}
		chunk = min(len(frame), fifoChunk)
	}
}

func (f *Frontend) waitForTransmission() error {
	if err := f.writeRegister(regNfcTxen, txenSendBack); err != nil {
		return err
	}

	transmitting := false
	for range authkey.TxStartPolls {
		status, err := f.readRegister(regNfcStatus)
		if err != nil {
			return err
		}
		if status&nfcStatusTx != 0 {
			transmitting = true
			break
		}
	}
	if !transmitting {
		f.traceTimeout("tx start")
		return errNotTransmitting
	}

	for range authkey.TxWaterLevelPolls {
		cnt, err := f.readRegister(regFifoWordCnt)
		if err != nil {
			return err
		}
		if int(cnt&fifoWordCntMask) < fifoWaterMark {
			return nil
		}
		irq, err := f.readRegister(regFifoIrq)
		if err != nil {
			return err
		}
		if irq&fifoIrqWaterLevel != 0 {
			return nil
		}
	}
	f.traceTimeout("fifo water level")
	return authkey.NewTimeoutError("fm11nt08 send", f.busName)
}

// FrameSize implements iso14443.Reader.
func (f *Frontend) FrameSize() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frameSize
}

// Close stops the IRQ watcher and releases the bus if Open acquired it.
func (f *Frontend) Close() error {
	select {
	case <-f.done:
		return nil
	default:
		close(f.done)
	}
	f.wg.Wait()
	if f.closer != nil {
		if err := f.closer.Close(); err != nil {
			return fmt.Errorf("failed to close I2C bus: %w", err)
		}
		f.closer = nil
	}
	return nil
}

func (f *Frontend) readRegister(reg uint16) (byte, error) {
	var v [1]byte
	if err := f.txRetry(addrBytes(reg), v[:]); err != nil {
		return 0, err
	}
	return v[0], nil
}

func (f *Frontend) writeRegister(reg uint16, val byte) error {
	return f.txRetry(append(addrBytes(reg), val), nil)
}

func (f *Frontend) writeFifo(data []byte) error {
	return f.tx(append(addrBytes(regFifoAccess), data...), nil)
}

// writeEeprom writes one page, then polls until the chip acknowledges its
// address again, which marks the end of the internal write cycle.
func (f *Frontend) writeEeprom(addr uint16, data []byte) error {
	if err := f.tx(append(addrBytes(addr), data...), nil); err != nil {
		return err
	}
	f.sleep(authkey.EepromWriteDelay)

	var lastErr error
	for range eepromPollAttempts {
		var probe [1]byte
		if lastErr = f.tx([]byte{0x00, 0x00}, probe[:]); lastErr == nil {
			return nil
		}
		f.sleep(time.Millisecond)
	}
	return fmt.Errorf("eeprom write at %04X not acknowledged: %w", addr, lastErr)
}

// txRetry retries register access. FIFO transfers are never retried: a
// repeated FIFO read or write would corrupt the frame.
func (f *Frontend) txRetry(w, r []byte) error {
	return authkey.RetryWithConfig(context.Background(), authkey.BusRetryConfig(), func() error {
		return f.tx(w, r)
	})
}

func (f *Frontend) tx(w, r []byte) error {
	f.traceTX(w, "")
	if err := f.dev.Tx(w, r); err != nil {
		errType := authkey.ErrorTypeTransient
		if authkey.IsFatal(err) {
			errType = authkey.ErrorTypePermanent
		}
		return authkey.NewTransportError("fm11nt08 tx", f.busName, err, errType)
	}
	if len(r) > 0 {
		f.traceRX(r, "")
	}
	return nil
}

func (f *Frontend) beginTrace() {
	f.currentTrace = authkey.NewTraceBuffer("I2C", f.busName, 32)
}

func (f *Frontend) endTrace() {
	f.currentTrace = nil
}

// traceTX records a TX operation if trace buffer is active
func (f *Frontend) traceTX(data []byte, note string) {
	if f.currentTrace != nil {
		f.currentTrace.RecordTX(data, note)
	}
}

// traceRX records an RX operation if trace buffer is active
func (f *Frontend) traceRX(data []byte, note string) {
	if f.currentTrace != nil {
		f.currentTrace.RecordRX(data, note)
	}
}

// traceTimeout records a timeout if trace buffer is active
func (f *Frontend) traceTimeout(note string) {
	if f.currentTrace != nil {
		f.currentTrace.RecordTimeout(note)
	}
}

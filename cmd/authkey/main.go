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

// Command authkey runs a FIDO security key and NFC tag on an FM11NT08x
// contactless frontend and a USB HID link.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	authkey "github.com/ZaparooProject/go-authkey"
	"github.com/ZaparooProject/go-authkey/apdu"
	"github.com/ZaparooProject/go-authkey/apps/fido"
	"github.com/ZaparooProject/go-authkey/apps/ndef"
	"github.com/ZaparooProject/go-authkey/ctaphid"
	"github.com/ZaparooProject/go-authkey/dispatch"
	"github.com/ZaparooProject/go-authkey/interchange"
	"github.com/ZaparooProject/go-authkey/iso14443"
	"github.com/ZaparooProject/go-authkey/polling"
	"github.com/ZaparooProject/go-authkey/transport/i2c"
	"github.com/ZaparooProject/go-authkey/transport/uart"
	"github.com/ZaparooProject/go-authkey/transport/usbhid"
	"github.com/ardnew/softusb/pkg"
)

var errNoTransport = errors.New("no transport: set -nfc-bus, -hid-bridge or -usb-fifo")

type config struct {
	nfcBus         string
	nfcIRQ         string
	hidBridge      string
	usbFIFO        string
	store          string
	storePassword  string
	ndefURI        string
	selftestDir    string
	detectMode     string
	baud           int
	selftestRounds int
	personalise    bool
	debug          bool
	sessionLog     bool
	selftest       bool
	detect         bool
}

// Package-level flag variables
var (
	flagNFCBus         string
	flagNFCIRQ         string
	flagHIDBridge      string
	flagUSBFIFO        string
	flagStore          string
	flagStorePassword  string
	flagNDEFURI        string
	flagSelftestDir    string
	flagDetectMode     string
	flagBaud           int
	flagSelftestRounds int
	flagPersonalise    bool
	flagDebug          bool
	flagLog            bool
	flagSelftest       bool
	flagDetect         bool
)

func init() {
	flag.StringVar(&flagNFCBus, "nfc-bus", "",
		"I2C bus of the FM11NT08x frontend, or auto (contactless disabled if empty)")
	flag.StringVar(&flagNFCIRQ, "nfc-irq", "", "GPIO name of the frontend IRQ line (polls if empty)")
	flag.BoolVar(&flagPersonalise, "nfc-personalise", false, "Write the default ISO 14443-4 setup to the frontend eeprom")
	flag.StringVar(&flagHIDBridge, "hid-bridge", "", "Serial port of a HID report bridge, or auto")
	flag.IntVar(&flagBaud, "baud", uart.DefaultBaudRate, "Baud rate of the HID report bridge")
	flag.StringVar(&flagUSBFIFO, "usb-fifo", "", "softusb FIFO bus directory for the USB HID interface")
	flag.StringVar(&flagStore, "store", "", "SQLite credential database (in memory if empty)")
	flag.StringVar(&flagStorePassword, "store-password", "", "Encrypt the credential database with this password")
	flag.StringVar(&flagNDEFURI, "ndef-uri", "", "URI served by the NDEF tag application (disabled if empty)")
	flag.BoolVar(&flagDebug, "debug", false, "Enable debug output")
	flag.BoolVar(&flagLog, "log", false, "Write debug output to a session log file")
	flag.BoolVar(&flagSelftest, "selftest", false, "Run a loopback self-test against virtual peers and exit")
	flag.IntVar(&flagSelftestRounds, "selftest-rounds", 1, "Number of self-test rounds")
	flag.StringVar(&flagSelftestDir, "selftest-dir", ".", "Directory for self-test crash reports")
	flag.BoolVar(&flagDetect, "detect", false, "List detected frontends and bridges and exit")
	flag.StringVar(&flagDetectMode, "detect-mode", "safe", "Detection mode: passive, safe or full")
}

func parseConfig() *config {
	return &config{
		nfcBus:         flagNFCBus,
		nfcIRQ:         flagNFCIRQ,
		hidBridge:      flagHIDBridge,
		usbFIFO:        flagUSBFIFO,
		store:          flagStore,
		storePassword:  flagStorePassword,
		ndefURI:        flagNDEFURI,
		selftestDir:    flagSelftestDir,
		detectMode:     flagDetectMode,
		baud:           flagBaud,
		selftestRounds: flagSelftestRounds,
		personalise:    flagPersonalise,
		debug:          flagDebug,
		sessionLog:     flagLog,
		selftest:       flagSelftest,
		detect:         flagDetect,
	}
}

func setupLogging(cfg *config) (func(), error) {
	if cfg.debug {
		authkey.SetDebugEnabled(true)
		pkg.SetLogLevel(slog.LevelDebug)
	}
	if !cfg.sessionLog {
		return func() {}, nil
	}
	var details []authkey.SessionDetail
	for _, d := range []authkey.SessionDetail{
		{Key: "NFC bus", Value: cfg.nfcBus},
		{Key: "HID bridge", Value: cfg.hidBridge},
		{Key: "USB FIFO", Value: cfg.usbFIFO},
	} {
		if d.Value != "" {
			details = append(details, d)
		}
	}
	path, err := authkey.InitSessionLog("", details...)
	if err != nil {
		return nil, fmt.Errorf("failed to open session log: %w", err)
	}
	_, _ = fmt.Fprintf(os.Stderr, "Session log: %s\n", path)
	return func() {
		if err := authkey.CloseSessionLog(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to close session log: %v\n", err)
		}
	}, nil
}

func openStore(cfg *config) (fido.CredentialStore, io.Closer, error) {
	if cfg.store == "" {
		return fido.NewMemoryStore(), io.NopCloser(nil), nil
	}
	store, err := fido.OpenSQLiteStore(cfg.store, cfg.storePassword)
	if err != nil {
		return nil, nil, err
	}
	return store, store, nil
}

// device collects the actors, services and resources of one run.
type device struct {
	actors   []polling.Actor
	services []polling.Service
	closers  []io.Closer
}

func (d *device) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i].Close(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to close: %v\n", err)
		}
	}
}

func (d *device) addContactless(cfg *config, apps []dispatch.App) error {
	icfg := i2c.Config{Bus: cfg.nfcBus, IRQPin: cfg.nfcIRQ}
	if cfg.personalise {
		p := i2c.DefaultPersonalisation()
		icfg.Personalisation = &p
	}
	frontend, err := i2c.Open(icfg)
	if err != nil {
		return err
	}
	d.closers = append(d.closers, frontend)

	ic := interchange.New[apdu.Command, apdu.Response]()
	engine := iso14443.NewEngine(frontend, ic)
	var opts []polling.ContactlessOption
	if act := frontend.Activity(); act != nil {
		opts = append(opts, polling.WithActivity(act))
	}
	d.actors = append(d.actors, polling.NewContactlessActor(engine, ic.Responded(), polling.DefaultConfig(), opts...))
	d.services = append(d.services, dispatch.New(ic, apps...))
	return nil
}

func (d *device) addUSB(ctx context.Context, cfg *config, auth *fido.Authenticator, onFatal func(error)) error {
	var ep ctaphid.Endpoint
	switch {
	case cfg.hidBridge != "":
		bridge, err := uart.Open(ctx, cfg.hidBridge, cfg.baud)
		if err != nil {
			return err
		}
		d.closers = append(d.closers, bridge)
		ep = bridge
	case cfg.usbFIFO != "":
		usb, err := usbhid.OpenFIFO(ctx, cfg.usbFIFO, usbhid.DefaultDeviceConfig())
		if err != nil {
			return err
		}
		d.closers = append(d.closers, usb)
		go func() {
			if err := usb.WaitConnect(ctx); err == nil {
				authkey.Debugln("usb: host connected")
			}
		}()
		ep = usb.Endpoint()
	default:
		return nil
	}

	pipe := ctaphid.NewPipe(ep, auth)
	callbacks := polling.USBCallbacks{OnFatal: onFatal}
	d.actors = append(d.actors, polling.NewUSBActor(pipe, polling.DefaultConfig(), callbacks, nil))
	return nil
}

func run(ctx context.Context, cfg *config) error {
	if cfg.nfcBus == "" && cfg.hidBridge == "" && cfg.usbFIFO == "" {
		return errNoTransport
	}
	if err := resolveAuto(ctx, cfg, os.Stdout); err != nil {
		return err
	}

	store, storeCloser, err := openStore(cfg)
	if err != nil {
		return err
	}
	dev := &device{closers: []io.Closer{storeCloser}}
	defer dev.close()

	auth := fido.NewAuthenticator(store)
	apps := []dispatch.App{fido.NewApp(auth)}
	if cfg.ndefURI != "" {
		tag, err := ndef.NewURIApp(cfg.ndefURI)
		if err != nil {
			return err
		}
		apps = append(apps, tag)
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	if cfg.nfcBus != "" {
		if err := dev.addContactless(cfg, apps); err != nil {
			return err
		}
	}
	if err := dev.addUSB(ctx, cfg, auth, cancel); err != nil {
		return err
	}

	session := polling.NewSession(dev.actors...)
	for _, svc := range dev.services {
		session.AddService(svc)
	}
	if err := session.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = session.Close() }()
	_, _ = fmt.Println("authkey running, press Ctrl+C to stop")

	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case err := <-session.Errors():
		return err
	}
}

func main() {
	flag.Parse()
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	// Parse command-line flags
	cfg := parseConfig()

	closeLog, err := setupLogging(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeLog()

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		_, _ = fmt.Print("\nShutting down gracefully...\n")
		cancel()
	}()

	if cfg.selftest {
		if err := runSelfTest(ctx, cfg, os.Stdout); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Self-test failed: %v\n", err)
			return 1
		}
		return 0
	}

	if cfg.detect {
		if err := runDetect(ctx, cfg, os.Stdout); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Detection failed: %v\n", err)
			return 1
		}
		return 0
	}

	// Run the main application logic
	if err := run(ctx, cfg); err != nil {
		if errors.Is(err, context.Canceled) {
			// User requested shutdown, exit cleanly
			return 0
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

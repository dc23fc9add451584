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

// Package dispatch routes application commands taken from an Interchange
// to a fixed set of applications selected by AID.
package dispatch

import (
	"bytes"
	"context"

	"github.com/ZaparooProject/go-authkey"
	"github.com/ZaparooProject/go-authkey/apdu"
	"github.com/ZaparooProject/go-authkey/interchange"
	"github.com/ZaparooProject/go-authkey/internal/syncutil"
)

// minPartialAID is the RID length; shorter SELECT names never match.
const minPartialAID = 5

// App is an application reachable over the contactless link.
type App interface {
	AID() []byte
	Call(ctx context.Context, cmd apdu.Command) apdu.Response
}

// Selecter is implemented by apps that answer their own SELECT.
type Selecter interface {
	Select(ctx context.Context, cmd apdu.Command) apdu.Response
}

// Deselecter is implemented by apps that drop state when another app is
// selected.
type Deselecter interface {
	Deselect()
}

// Dispatcher serves one Interchange.
type Dispatcher struct {
	ic       interchange.Responder[apdu.Command, apdu.Response]
	selected App
	apps     []App
	mu       syncutil.Mutex
}

// New returns a Dispatcher serving ic with apps. The app list is fixed for
// the Dispatcher's lifetime.
func New(ic interchange.Responder[apdu.Command, apdu.Response], apps ...App) *Dispatcher {
	return &Dispatcher{ic: ic, apps: apps}
}

// Serve answers requests until ctx is done.
func (d *Dispatcher) Serve(ctx context.Context) error {
	for {
		for d.ServeOnce(ctx) {
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.ic.Requests():
		}
	}
}

// ServeOnce answers the pending request, if there is one.
func (d *Dispatcher) ServeOnce(ctx context.Context) bool {
	cmd, ok := d.ic.TakeRequest()
	if !ok {
		return false
	}
	resp := d.Handle(ctx, cmd)
	if err := d.ic.Respond(resp); err != nil {
		authkey.Debugf("dispatch: respond: %v", err)
	}
	return true
}

// Handle routes one command.
func (d *Dispatcher) Handle(ctx context.Context, cmd apdu.Command) apdu.Response {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cmd.IsSelectByName() {
		return d.selectApp(ctx, cmd)
	}
	if d.selected == nil {
		return apdu.StatusResponse(apdu.ConditionsNotSatisfied)
	}
	return d.selected.Call(ctx, cmd)
}

// Selected returns the AID of the selected app, or nil.
func (d *Dispatcher) Selected() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.selected == nil {
		return nil
	}
	return d.selected.AID()
}

func (d *Dispatcher) selectApp(ctx context.Context, cmd apdu.Command) apdu.Response {
	app := d.find(cmd.Data)
	if app == nil {
		authkey.Debugf("dispatch: no app for AID %s", authkey.FormatHex(cmd.Data))
		return apdu.StatusResponse(apdu.FileNotFound)
	}
	if d.selected != nil && d.selected != app {
		if ds, ok := d.selected.(Deselecter); ok {
			ds.Deselect()
		}
	}
	d.selected = app
	if s, ok := app.(Selecter); ok {
		return s.Select(ctx, cmd)
	}
	return apdu.StatusResponse(apdu.Success)
}

func (d *Dispatcher) find(name []byte) App {
	for _, app := range d.apps {
		aid := app.AID()
		if bytes.HasPrefix(name, aid) {
			return app
		}
		if len(name) >= minPartialAID && bytes.HasPrefix(aid, name) {
			return app
		}
	}
	return nil
}

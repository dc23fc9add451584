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

// Package fido provides the contactless FIDO application and a software
// CTAP2 authenticator with memory and SQLite credential stores.
package fido

import (
	"context"

	"github.com/ZaparooProject/go-authkey/apdu"
	"github.com/ZaparooProject/go-authkey/ctap"
)

// AID is the FIDO application identifier.
var AID = []byte{0xA0, 0x00, 0x00, 0x06, 0x47, 0x2F, 0x00, 0x01}

// NFCCTAP_MSG.
const (
	claProprietary byte = 0x80
	insCTAPMsg     byte = 0x10
)

// App carries CTAP2 and U2F requests over ISO 7816 commands.
type App struct {
	auth ctap.Authenticator
}

// NewApp returns an App answering with auth.
func NewApp(auth ctap.Authenticator) *App {
	return &App{auth: auth}
}

// AID implements dispatch.App.
func (*App) AID() []byte { return AID }

// Select implements dispatch.Selecter.
func (*App) Select(context.Context, apdu.Command) apdu.Response {
	return apdu.NewResponse(apdu.Success, []byte(ctap.U2FVersionString))
}

// Call implements dispatch.App.
func (a *App) Call(ctx context.Context, cmd apdu.Command) apdu.Response {
	switch {
	case cmd.Class == claProprietary && cmd.Ins == insCTAPMsg:
		return apdu.NewResponse(apdu.Success, ctap.HandleCBOR(ctx, a.auth, cmd.Data))
	case cmd.Class == 0:
		return ctap.HandleU2FCommand(cmd)
	default:
		return apdu.StatusResponse(apdu.ClassNotSupported)
	}
}

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

package testing

import (
	"context"

	"github.com/ZaparooProject/go-authkey/apdu"
	"github.com/ZaparooProject/go-authkey/ctap"
	"github.com/ZaparooProject/go-authkey/ctaphid"
	"github.com/ZaparooProject/go-authkey/dispatch"
	"github.com/ZaparooProject/go-authkey/interchange"
	"github.com/ZaparooProject/go-authkey/iso14443"
	"github.com/ZaparooProject/go-authkey/polling"
)

// StartCard runs a contactless device over reader: block engine,
// dispatcher and poll scheduler. activity may be nil. Close the returned
// session to stop it.
func StartCard(
	ctx context.Context, reader iso14443.Reader, activity <-chan struct{}, apps ...dispatch.App,
) (*polling.Session, error) {
	ic := interchange.New[apdu.Command, apdu.Response]()
	engine := iso14443.NewEngine(reader, ic)

	var opts []polling.ContactlessOption
	if activity != nil {
		opts = append(opts, polling.WithActivity(activity))
	}
	actor := polling.NewContactlessActor(engine, ic.Responded(), polling.DefaultConfig(), opts...)
	session := polling.NewSession(actor)
	session.AddService(dispatch.New(ic, apps...))
	if err := session.Start(ctx); err != nil {
		return nil, err
	}
	return session, nil
}

// StartKey runs a CTAPHID device over ep answering with auth.
func StartKey(
	ctx context.Context, ep ctaphid.Endpoint, auth ctap.Authenticator,
) (*polling.Session, *ctaphid.Pipe, error) {
	pipe := ctaphid.NewPipe(ep, auth)
	actor := polling.NewUSBActor(pipe, polling.DefaultConfig(), polling.USBCallbacks{}, nil)
	session := polling.NewSession(actor)
	if err := session.Start(ctx); err != nil {
		return nil, nil, err
	}
	return session, pipe, nil
}

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

package polling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingActor struct {
	startErr error
	log      *[]string
	mu       *sync.Mutex
	name     string
}

func (a *recordingActor) record(event string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	*a.log = append(*a.log, a.name+" "+event)
}

func (a *recordingActor) Start(context.Context) error {
	if a.startErr != nil {
		return a.startErr
	}
	a.record("start")
	return nil
}

func (a *recordingActor) Stop(context.Context) error {
	a.record("stop")
	return nil
}

type serviceFunc func(ctx context.Context) error

func (f serviceFunc) Serve(ctx context.Context) error { return f(ctx) }

func TestSession_StartAndClose(t *testing.T) {
	t.Parallel()

	var (
		log []string
		mu  sync.Mutex
	)
	nfc := &recordingActor{name: "nfc", log: &log, mu: &mu}
	usb := &recordingActor{name: "usb", log: &log, mu: &mu}
	served := make(chan struct{})
	s := NewSession(nfc, usb)
	s.AddService(serviceFunc(func(ctx context.Context) error {
		close(served)
		<-ctx.Done()
		return ctx.Err()
	}))

	require.NoError(t, s.Start(context.Background()))
	<-served
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "double close")

	assert.Equal(t, []string{"nfc start", "usb start", "nfc stop", "usb stop"}, log)
	assert.ErrorIs(t, s.Start(context.Background()), ErrSessionClosed)
}

func TestSession_StartFailureRollsBack(t *testing.T) {
	t.Parallel()

	var (
		log []string
		mu  sync.Mutex
	)
	boom := errors.New("no such bus")
	s := NewSession(
		&recordingActor{name: "nfc", log: &log, mu: &mu},
		&recordingActor{name: "usb", log: &log, mu: &mu, startErr: boom},
	)
	err := s.Start(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"nfc start", "nfc stop"}, log)
}

func TestSession_ServiceErrorReported(t *testing.T) {
	t.Parallel()

	boom := errors.New("dispatcher failed")
	s := NewSession()
	s.AddService(serviceFunc(func(context.Context) error { return boom }))
	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Close() }()

	select {
	case err := <-s.Errors():
		assert.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("service error not reported")
	}
}

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
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ZaparooProject/go-authkey"
)

// Actor is a scheduler that owns a goroutine between Start and Stop.
type Actor interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Service is a blocking loop that runs until its context is cancelled,
// such as an application dispatcher.
type Service interface {
	Serve(ctx context.Context) error
}

// ErrSessionClosed is returned by Start after Close.
var ErrSessionClosed = errors.New("polling: session closed")

// Session runs a device's actors and services as one unit.
type Session struct {
	cancel   context.CancelFunc
	errs     chan error
	actors   []Actor
	services []Service
	wg       sync.WaitGroup
	started  atomic.Bool
	closed   atomic.Bool
}

// NewSession creates a session over actors.
func NewSession(actors ...Actor) *Session {
	return &Session{actors: actors, errs: make(chan error, 1)}
}

// AddService registers a service to run alongside the actors. It must be
// called before Start.
func (s *Session) AddService(svc Service) {
	s.services = append(s.services, svc)
}

// Start runs the services and starts every actor. If an actor fails to
// start, the ones already started are stopped.
func (s *Session) Start(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}
	ctx, s.cancel = context.WithCancel(ctx)

	for _, svc := range s.services {
		s.wg.Add(1)
		go func(svc Service) {
			defer s.wg.Done()
			if err := svc.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
				authkey.Debugf("session: service stopped: %v", err)
				select {
				case s.errs <- err:
				default:
				}
			}
		}(svc)
	}

	for i, actor := range s.actors {
		if err := actor.Start(ctx); err != nil {
			for _, started := range s.actors[:i] {
				_ = started.Stop(context.Background())
			}
			s.cancel()
			s.wg.Wait()
			return fmt.Errorf("failed to start actor %d: %w", i, err)
		}
	}
	return nil
}

// Errors delivers the first unexpected service failure.
func (s *Session) Errors() <-chan error { return s.errs }

// Close stops the actors, then cancels the services and waits for them.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if !s.started.Load() {
		return nil
	}
	var errs []error
	for _, actor := range s.actors {
		if err := actor.Stop(context.Background()); err != nil {
			errs = append(errs, err)
		}
	}
	s.cancel()
	s.wg.Wait()
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to stop actors: %w", err)
	}
	return nil
}

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

package fido

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"time"

	"github.com/ZaparooProject/go-authkey/internal/syncutil"
)

// ErrCredentialNotFound is returned by stores for unknown credential ids.
var ErrCredentialNotFound = errors.New("fido: credential not found")

// Credential is a stored ES256 credential. PrivateKey holds the PKCS #8
// encoding of the key.
type Credential struct {
	Created     time.Time
	RPID        string
	UserName    string
	DisplayName string
	ID          []byte
	UserID      []byte
	PrivateKey  []byte
	SignCount   uint32
}

// CredentialStore persists credentials.
type CredentialStore interface {
	Put(ctx context.Context, cred *Credential) error
	Get(ctx context.Context, id []byte) (*Credential, error)
	// List returns the credentials for rpID, newest first.
	List(ctx context.Context, rpID string) ([]*Credential, error)
	SetSignCount(ctx context.Context, id []byte, count uint32) error
	Clear(ctx context.Context) error
}

// MemoryStore is a CredentialStore that lives for the process lifetime.
type MemoryStore struct {
	creds []*Credential
	mu    syncutil.RWMutex
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) index(id []byte) int {
	return slices.IndexFunc(s.creds, func(c *Credential) bool { return bytes.Equal(c.ID, id) })
}

// Put stores a copy of cred, replacing any credential with the same id.
func (s *MemoryStore) Put(_ context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *cred
	if i := s.index(cred.ID); i >= 0 {
		s.creds[i] = &c
		return nil
	}
	s.creds = append(s.creds, &c)
	return nil
}

// Get returns a copy of the credential with id.
func (s *MemoryStore) Get(_ context.Context, id []byte) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.index(id)
	if i < 0 {
		return nil, ErrCredentialNotFound
	}
	c := *s.creds[i]
	return &c, nil
}

// List returns the credentials for rpID, newest first.
func (s *MemoryStore) List(_ context.Context, rpID string) ([]*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Credential
	for i := len(s.creds) - 1; i >= 0; i-- {
		if s.creds[i].RPID == rpID {
			c := *s.creds[i]
			out = append(out, &c)
		}
	}
	return out, nil
}

// SetSignCount updates the signature counter of id.
func (s *MemoryStore) SetSignCount(_ context.Context, id []byte, count uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return ErrCredentialNotFound
	}
	s.creds[i].SignCount = count
	return nil
}

// Clear removes every credential.
func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = nil
	return nil
}

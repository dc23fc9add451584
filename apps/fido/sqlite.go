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
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ncruces/go-sqlite3/driver"    // Load database/sql driver
	_ "github.com/ncruces/go-sqlite3/embed"   // Load sqlite WASM binary
	_ "github.com/ncruces/go-sqlite3/vfs/xts" // Encryption VFS
)

// SQLiteStore is a CredentialStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore creates or opens a credential database using a single
// connection. A non-empty password encrypts the file with the xts VFS.
func OpenSQLiteStore(filename, password string) (*SQLiteStore, error) {
	query := "?_pragma=busy_timeout(1000)"
	if password != "" {
		query += fmt.Sprintf("&vfs=xts&_pragma=textkey(%q)&_pragma=temp_store(memory)", password)
	}
	connector, err := (&driver.SQLite{}).OpenConnector("file:" + filepath.Clean(filename) + query)
	if err != nil {
		return nil, fmt.Errorf("error creating sqlite connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(1)
	s, err := NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore creates the schema in db if needed.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS credentials
			( id BLOB PRIMARY KEY
			, rp_id TEXT NOT NULL
			, user_id BLOB
			, user_name TEXT
			, display_name TEXT
			, pkcs8 BLOB NOT NULL
			, sign_count INTEGER NOT NULL DEFAULT 0
			, created INTEGER NOT NULL
			)`,
		`CREATE INDEX IF NOT EXISTS credentials_rp
			ON credentials(rp_id, created DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("error initializing credential store: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Put inserts or replaces cred.
func (s *SQLiteStore) Put(ctx context.Context, cred *Credential) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO credentials
			(id, rp_id, user_id, user_name, display_name, pkcs8, sign_count, created)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cred.ID, cred.RPID, cred.UserID, cred.UserName, cred.DisplayName,
		cred.PrivateKey, cred.SignCount, cred.Created.UnixNano())
	if err != nil {
		return fmt.Errorf("error storing credential: %w", err)
	}
	return nil
}

const credentialColumns = `id, rp_id, user_id, user_name, display_name, pkcs8, sign_count, created`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (*Credential, error) {
	var (
		c       Credential
		created int64
	)
	if err := row.Scan(&c.ID, &c.RPID, &c.UserID, &c.UserName, &c.DisplayName,
		&c.PrivateKey, &c.SignCount, &created); err != nil {
		return nil, err
	}
	c.Created = time.Unix(0, created)
	return &c, nil
}

// Get returns the credential with id.
func (s *SQLiteStore) Get(ctx context.Context, id []byte) (*Credential, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE id = ?`, id)
	c, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error loading credential: %w", err)
	}
	return c, nil
}

// List returns the credentials for rpID, newest first.
func (s *SQLiteStore) List(ctx context.Context, rpID string) ([]*Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE rp_id = ?
			ORDER BY created DESC, rowid DESC`, rpID)
	if err != nil {
		return nil, fmt.Errorf("error listing credentials: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("error listing credentials: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetSignCount updates the signature counter of id.
func (s *SQLiteStore) SetSignCount(ctx context.Context, id []byte, count uint32) error {
	res, err := s.db.ExecContext(ctx, `UPDATE credentials SET sign_count = ? WHERE id = ?`, count, id)
	if err != nil {
		return fmt.Errorf("error updating sign count: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

// Clear removes every credential.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials`); err != nil {
		return fmt.Errorf("error clearing credentials: %w", err)
	}
	return nil
}

// Copyright 2025 Tom Barlow
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

package workspace

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SignatureIndex is the sqlite-backed step -> signature store behind
// <project>/.pipeline/cache/signatures.db. It implements
// engine.SignatureStore.
type SignatureIndex struct {
	db *sql.DB
}

// OpenSignatureIndex opens (creating if needed) the signature database.
func OpenSignatureIndex(paths Paths) (*SignatureIndex, error) {
	if err := ensureDir(filepath.Dir(paths.SignaturesDB)); err != nil {
		return nil, err
	}

	// WAL mode for concurrent readers during a parallel layer.
	connStr := paths.SignaturesDB + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening signature index: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging signature index: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS signatures (
	step       TEXT PRIMARY KEY,
	signature  TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating signature index: %w", err)
	}
	return &SignatureIndex{db: db}, nil
}

// Get returns the stored signature for one step.
func (s *SignatureIndex) Get(step string) (string, bool, error) {
	var sig string
	err := s.db.QueryRow(`SELECT signature FROM signatures WHERE step = ?`, step).Scan(&sig)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return sig, true, nil
}

// Put upserts a step's signature.
func (s *SignatureIndex) Put(step, signature string) error {
	_, err := s.db.Exec(`
INSERT INTO signatures (step, signature, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(step) DO UPDATE SET signature = excluded.signature, updated_at = CURRENT_TIMESTAMP`,
		step, signature)
	return err
}

// Delete removes the given steps' signatures. No steps means remove all.
func (s *SignatureIndex) Delete(steps ...string) error {
	if len(steps) == 0 {
		_, err := s.db.Exec(`DELETE FROM signatures`)
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	for _, step := range steps {
		if _, err := tx.Exec(`DELETE FROM signatures WHERE step = ?`, step); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// All returns the full step -> signature map.
func (s *SignatureIndex) All() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT step, signature FROM signatures`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var step, sig string
		if err := rows.Scan(&step, &sig); err != nil {
			return nil, err
		}
		out[step] = sig
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *SignatureIndex) Close() error {
	return s.db.Close()
}

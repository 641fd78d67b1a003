// Copyright (C) 2025 oesp-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oesp-project/oesp/pkg/storage"
)

// SessionStore implements storage.SessionStore for PostgreSQL.
type SessionStore struct {
	db *pgxpool.Pool
}

// advisoryLockKey hashes a session ID to the bigint pg_advisory_xact_lock wants.
func advisoryLockKey(sessionID string) int64 {
	sum := sha256.Sum256([]byte(sessionID))
	return int64(uint64(sum[0])<<56 | uint64(sum[1])<<48 | uint64(sum[2])<<40 | uint64(sum[3])<<32 |
		uint64(sum[4])<<24 | uint64(sum[5])<<16 | uint64(sum[6])<<8 | uint64(sum[7]))
}

func (s *SessionStore) Create(ctx context.Context, sess storage.SyncSession) error {
	meta, err := json.Marshal(sess.ClientMeta)
	if err != nil {
		return fmt.Errorf("storage/postgres: marshal client_meta: %w", err)
	}
	query := `
		INSERT INTO sync_sessions
			(id, device_did, client_meta, expected_total_bytes, expected_total_items, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
	`
	_, err = s.db.Exec(ctx, query, sess.ID, sess.DeviceDID, meta, sess.ExpectedTotalBytes, sess.ExpectedTotalItems, sess.Status)
	if err != nil {
		return fmt.Errorf("storage/postgres: create session: %w", err)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, id string) (*storage.SyncSession, error) {
	query := `
		SELECT id, device_did, client_meta, expected_total_bytes, expected_total_items,
			status, last_acked_seq, acked_chunks, final_hash, created_at, updated_at
		FROM sync_sessions WHERE id = $1
	`
	return s.scanOne(s.db.QueryRow(ctx, query, id))
}

func (s *SessionStore) FindOpenByDeviceAndMeta(ctx context.Context, deviceDID, metaHash string) (*storage.SyncSession, error) {
	query := `
		SELECT id, device_did, client_meta, expected_total_bytes, expected_total_items,
			status, last_acked_seq, acked_chunks, final_hash, created_at, updated_at
		FROM sync_sessions
		WHERE device_did = $1 AND status = 'open' AND encode(sha256(client_meta::text::bytea), 'hex') = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	return s.scanOne(s.db.QueryRow(ctx, query, deviceDID, metaHash))
}

func (s *SessionStore) scanOne(row pgx.Row) (*storage.SyncSession, error) {
	var sess storage.SyncSession
	var meta []byte
	var finalHash *string
	err := row.Scan(&sess.ID, &sess.DeviceDID, &meta, &sess.ExpectedTotalBytes, &sess.ExpectedTotalItems,
		&sess.Status, &sess.LastAckedSeq, &sess.AckedChunks, &finalHash, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("storage/postgres: scan session: %w", err)
	}
	if finalHash != nil {
		sess.FinalHash = *finalHash
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &sess.ClientMeta); err != nil {
			return nil, fmt.Errorf("storage/postgres: unmarshal client_meta: %w", err)
		}
	}
	return &sess, nil
}

func (s *SessionStore) PutChunk(ctx context.Context, c storage.SyncChunk) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage/postgres: begin put chunk: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryLockKey(c.SessionID)); err != nil {
		return fmt.Errorf("storage/postgres: lock session: %w", err)
	}

	var status string
	if err := tx.QueryRow(ctx, `SELECT status FROM sync_sessions WHERE id = $1`, c.SessionID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("storage/postgres: check session status: %w", err)
	}
	if status != string(storage.SessionOpen) {
		return storage.ErrWrongStatus
	}

	query := `
		INSERT INTO sync_chunks (session_id, seq, payload, sha256, size)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id, seq) DO UPDATE SET payload = EXCLUDED.payload, sha256 = EXCLUDED.sha256, size = EXCLUDED.size
	`
	if _, err := tx.Exec(ctx, query, c.SessionID, c.Seq, c.Payload, c.SHA256, c.Size); err != nil {
		return fmt.Errorf("storage/postgres: put chunk: %w", err)
	}

	update := `
		UPDATE sync_sessions
		SET acked_chunks = (SELECT count(*) FROM sync_chunks WHERE session_id = $1), updated_at = now()
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, update, c.SessionID); err != nil {
		return fmt.Errorf("storage/postgres: update acked_chunks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage/postgres: commit put chunk: %w", err)
	}
	return nil
}

func (s *SessionStore) GetChunk(ctx context.Context, sessionID string, seq int64) (*storage.SyncChunk, error) {
	query := `SELECT session_id, seq, payload, sha256, size FROM sync_chunks WHERE session_id = $1 AND seq = $2`
	row := s.db.QueryRow(ctx, query, sessionID, seq)

	var c storage.SyncChunk
	if err := row.Scan(&c.SessionID, &c.Seq, &c.Payload, &c.SHA256, &c.Size); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("storage/postgres: get chunk: %w", err)
	}
	return &c, nil
}

func (s *SessionStore) ChunkCount(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM sync_chunks WHERE session_id = $1`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage/postgres: count chunks: %w", err)
	}
	return n, nil
}

func (s *SessionStore) Commit(ctx context.Context, sessionID, finalHash string, result storage.CommitResult) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage/postgres: begin commit: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryLockKey(sessionID)); err != nil {
		return fmt.Errorf("storage/postgres: lock session: %w", err)
	}

	var status string
	if err := tx.QueryRow(ctx, `SELECT status FROM sync_sessions WHERE id = $1`, sessionID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("storage/postgres: check session status: %w", err)
	}
	if status != string(storage.SessionOpen) {
		return storage.ErrWrongStatus
	}

	query := `UPDATE sync_sessions SET status = $2, final_hash = $3, updated_at = now() WHERE id = $1`
	if _, err := tx.Exec(ctx, query, sessionID, result.Status, finalHash); err != nil {
		return fmt.Errorf("storage/postgres: commit session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage/postgres: commit tx: %w", err)
	}
	return nil
}

func (s *SessionStore) Abort(ctx context.Context, sessionID, reason string) error {
	query := `UPDATE sync_sessions SET status = 'aborted', updated_at = now() WHERE id = $1 AND status = 'open'`
	tag, err := s.db.Exec(ctx, query, sessionID)
	if err != nil {
		return fmt.Errorf("storage/postgres: abort session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrWrongStatus
	}
	return nil
}

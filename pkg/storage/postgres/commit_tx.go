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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/oesp-project/oesp/pkg/storage"
)

// WithCommitTx wraps fn in a single pgx transaction scoped to
// sessionID: the same advisory-lock-then-check-status sequence
// PutChunk/Commit use, so a hash-mismatch rollback undoes every
// message insert and session-item record fn made, and a concurrent
// reader never observes a half-applied commit.
func (s *Store) WithCommitTx(ctx context.Context, sessionID string, fn func(ctx context.Context, tx storage.CommitTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage/postgres: begin commit tx: %w", err)
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

	if err := fn(ctx, &commitTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage/postgres: commit tx: %w", err)
	}
	return nil
}

// commitTx implements storage.CommitTx over one pgx.Tx. Every write it
// issues lives or dies with the transaction WithCommitTx opened.
type commitTx struct {
	tx pgx.Tx
}

func (c *commitTx) InsertMessage(ctx context.Context, msg storage.StoredMessage) (bool, error) {
	envelope, err := json.Marshal(msg.Envelope)
	if err != nil {
		return false, fmt.Errorf("storage/postgres: marshal envelope: %w", err)
	}
	query := `
		INSERT INTO oesp_messages (from_did, mid, token, envelope, is_expired, stored_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (from_did, mid) DO NOTHING
	`
	tag, err := c.tx.Exec(ctx, query, msg.FromDID, msg.MID, msg.Token, envelope, msg.IsExpired)
	if err != nil {
		return false, fmt.Errorf("storage/postgres: insert message: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (c *commitTx) RecordItem(ctx context.Context, item storage.SessionItem) error {
	query := `
		INSERT INTO session_items (session_id, mid, from_did)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`
	if _, err := c.tx.Exec(ctx, query, item.SessionID, item.MID, item.FromDID); err != nil {
		return fmt.Errorf("storage/postgres: record session item: %w", err)
	}
	return nil
}

func (c *commitTx) CommitSession(ctx context.Context, sessionID, finalHash string, result storage.CommitResult) error {
	query := `UPDATE sync_sessions SET status = $2, final_hash = $3, updated_at = now() WHERE id = $1`
	if _, err := c.tx.Exec(ctx, query, sessionID, result.Status, finalHash); err != nil {
		return fmt.Errorf("storage/postgres: commit session: %w", err)
	}
	return nil
}

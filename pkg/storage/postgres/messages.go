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
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oesp-project/oesp/pkg/storage"
)

// MessageStore implements storage.MessageStore for PostgreSQL.
type MessageStore struct {
	db *pgxpool.Pool
}

func (s *MessageStore) Insert(ctx context.Context, msg storage.StoredMessage) (bool, error) {
	envelope, err := json.Marshal(msg.Envelope)
	if err != nil {
		return false, fmt.Errorf("storage/postgres: marshal envelope: %w", err)
	}
	query := `
		INSERT INTO oesp_messages (from_did, mid, token, envelope, is_expired, stored_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (from_did, mid) DO NOTHING
	`
	tag, err := s.db.Exec(ctx, query, msg.FromDID, msg.MID, msg.Token, envelope, msg.IsExpired)
	if err != nil {
		return false, fmt.Errorf("storage/postgres: insert message: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *MessageStore) RecordItem(ctx context.Context, item storage.SessionItem) error {
	query := `
		INSERT INTO session_items (session_id, mid, from_did)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`
	if _, err := s.db.Exec(ctx, query, item.SessionID, item.MID, item.FromDID); err != nil {
		return fmt.Errorf("storage/postgres: record session item: %w", err)
	}
	return nil
}

func (s *MessageStore) Get(ctx context.Context, fromDID, mid string) (*storage.StoredMessage, error) {
	query := `SELECT from_did, mid, token, envelope, is_expired, stored_at FROM oesp_messages WHERE from_did = $1 AND mid = $2`
	row := s.db.QueryRow(ctx, query, fromDID, mid)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return msg, nil
}

func (s *MessageStore) Delete(ctx context.Context, fromDID, mid string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM session_items WHERE from_did = $1 AND mid = $2`, fromDID, mid); err != nil {
		return fmt.Errorf("storage/postgres: delete session items: %w", err)
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM oesp_messages WHERE from_did = $1 AND mid = $2`, fromDID, mid); err != nil {
		return fmt.Errorf("storage/postgres: delete message: %w", err)
	}
	return nil
}

func (s *MessageStore) ListBySession(ctx context.Context, sessionID string) ([]storage.StoredMessage, error) {
	query := `
		SELECT m.from_did, m.mid, m.token, m.envelope, m.is_expired, m.stored_at
		FROM oesp_messages m
		JOIN session_items si ON si.from_did = m.from_did AND si.mid = m.mid
		WHERE si.session_id = $1
		ORDER BY m.stored_at
	`
	rows, err := s.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("storage/postgres: list session messages: %w", err)
	}
	defer rows.Close()

	var out []storage.StoredMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage/postgres: iterate session messages: %w", err)
	}
	return out, nil
}

func scanMessage(row pgx.Row) (*storage.StoredMessage, error) {
	var msg storage.StoredMessage
	var envelope []byte
	if err := row.Scan(&msg.FromDID, &msg.MID, &msg.Token, &envelope, &msg.IsExpired, &msg.StoredAt); err != nil {
		return nil, fmt.Errorf("storage/postgres: scan message: %w", err)
	}
	if len(envelope) > 0 {
		if err := json.Unmarshal(envelope, &msg.Envelope); err != nil {
			return nil, fmt.Errorf("storage/postgres: unmarshal envelope: %w", err)
		}
	}
	return &msg, nil
}

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
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oesp-project/oesp/pkg/storage"
)

// DeviceStore implements storage.DeviceStore for PostgreSQL.
type DeviceStore struct {
	db *pgxpool.Pool
}

func (s *DeviceStore) Upsert(ctx context.Context, d storage.Device) error {
	query := `
		INSERT INTO devices (did, public_key, created_at)
		VALUES ($1, $2, COALESCE($3, now()))
		ON CONFLICT (did) DO UPDATE SET public_key = EXCLUDED.public_key
	`
	var createdAt interface{}
	if !d.CreatedAt.IsZero() {
		createdAt = d.CreatedAt
	}
	if _, err := s.db.Exec(ctx, query, d.DID, d.PublicKey, createdAt); err != nil {
		return fmt.Errorf("storage/postgres: upsert device: %w", err)
	}
	return nil
}

func (s *DeviceStore) Get(ctx context.Context, did string) (*storage.Device, error) {
	query := `SELECT did, public_key, created_at FROM devices WHERE did = $1`
	row := s.db.QueryRow(ctx, query, did)

	var d storage.Device
	if err := row.Scan(&d.DID, &d.PublicKey, &d.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("storage/postgres: get device: %w", err)
	}
	return &d, nil
}

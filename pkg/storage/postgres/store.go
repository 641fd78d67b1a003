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

// Package postgres implements storage.Store against PostgreSQL via
// pgx. Session commits serialize through pg_advisory_xact_lock so two
// concurrent commits of the same session never race.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oesp-project/oesp/pkg/storage"
)

// Store implements storage.Store for PostgreSQL.
type Store struct {
	pool     *pgxpool.Pool
	devices  *DeviceStore
	sessions *SessionStore
	messages *MessageStore
}

// Config holds PostgreSQL connection configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
}

// NewStore opens a connection pool and pings it before returning.
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("storage/postgres: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage/postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage/postgres: ping: %w", err)
	}

	return &Store{
		pool:     pool,
		devices:  &DeviceStore{db: pool},
		sessions: &SessionStore{db: pool},
		messages: &MessageStore{db: pool},
	}, nil
}

// NewStoreFromDSN opens a connection pool from a libpq-style DSN
// (the form the DATABASE_URL environment variable carries).
func NewStoreFromDSN(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage/postgres: parse dsn: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage/postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage/postgres: ping: %w", err)
	}

	return &Store{
		pool:     pool,
		devices:  &DeviceStore{db: pool},
		sessions: &SessionStore{db: pool},
		messages: &MessageStore{db: pool},
	}, nil
}

func (s *Store) Devices() storage.DeviceStore   { return s.devices }
func (s *Store) Sessions() storage.SessionStore { return s.sessions }
func (s *Store) Messages() storage.MessageStore { return s.messages }

func (s *Store) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

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

package storage

import (
	"context"
	"errors"
)

var (
	ErrNotFound      = errors.New("storage: not found")
	ErrAlreadyExists = errors.New("storage: already exists")
	ErrWrongStatus   = errors.New("storage: session not open")
)

// DeviceStore registers sync clients and binds each DID to the
// Ed25519 public key it first presented.
type DeviceStore interface {
	Upsert(ctx context.Context, d Device) error
	Get(ctx context.Context, did string) (*Device, error)
}

// SessionStore manages SyncSession lifecycle: open, append chunks,
// and the single atomic transition into committed or aborted.
type SessionStore interface {
	Create(ctx context.Context, s SyncSession) error
	Get(ctx context.Context, id string) (*SyncSession, error)
	// FindOpenByDeviceAndMeta returns an existing open session for the
	// device whose canonicalized ClientMeta matches meta, if any. It
	// backs the idempotent start operation.
	FindOpenByDeviceAndMeta(ctx context.Context, deviceDID string, metaHash string) (*SyncSession, error)

	PutChunk(ctx context.Context, c SyncChunk) error
	GetChunk(ctx context.Context, sessionID string, seq int64) (*SyncChunk, error)
	ChunkCount(ctx context.Context, sessionID string) (int64, error)

	// Commit atomically transitions an open session to result.Status,
	// recording finalHash; the counts in result are not stored. It must
	// serialize against concurrent
	// commits of the same session (see postgres advisory locking).
	Commit(ctx context.Context, sessionID string, finalHash string, result CommitResult) error
	Abort(ctx context.Context, sessionID string, reason string) error
}

// MessageStore deduplicates committed messages on (FromDID, MID) and
// records which sessions carried them.
type MessageStore interface {
	// Insert stores msg if (FromDID, MID) is new, returning inserted=false
	// if it already existed (a duplicate, not an error).
	Insert(ctx context.Context, msg StoredMessage) (inserted bool, err error)
	RecordItem(ctx context.Context, item SessionItem) error
	Get(ctx context.Context, fromDID, mid string) (*StoredMessage, error)
	ListBySession(ctx context.Context, sessionID string) ([]StoredMessage, error)
	// Delete removes a message and its session_items rows. Exposed for
	// out-of-band cleanup; the commit rollback path goes through
	// Store.WithCommitTx instead so a hash mismatch never leaves a
	// partially-applied commit visible.
	Delete(ctx context.Context, fromDID, mid string) error
}

// CommitTx is the set of writes a single session commit performs,
// scoped to one transaction: insert each verified token, record its
// session membership, and seal the session once the streamed corpus's
// hash has been checked. fn must call CommitSession exactly once, as
// the last write, once it has decided the commit succeeds.
type CommitTx interface {
	InsertMessage(ctx context.Context, msg StoredMessage) (inserted bool, err error)
	RecordItem(ctx context.Context, item SessionItem) error
	CommitSession(ctx context.Context, sessionID, finalHash string, result CommitResult) error
}

// Store aggregates the stores the sync server needs.
type Store interface {
	Devices() DeviceStore
	Sessions() SessionStore
	Messages() MessageStore
	Close(ctx context.Context) error
	Ping(ctx context.Context) error

	// WithCommitTx runs fn inside a single transaction scoped to
	// sessionID, serialized against concurrent commits of the same
	// session the same way SessionStore.Commit is (see postgres's
	// pg_advisory_xact_lock). Every InsertMessage/RecordItem fn makes,
	// plus the CommitSession it ends with, commits atomically if fn
	// returns nil; if fn returns an error (including a final-hash
	// mismatch the caller detects itself), nothing fn wrote is visible
	// and the session is left open for retry.
	WithCommitTx(ctx context.Context, sessionID string, fn func(ctx context.Context, tx CommitTx) error) error
}

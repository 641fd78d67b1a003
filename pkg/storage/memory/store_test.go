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

package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oesp-project/oesp/pkg/storage"
)

func TestDeviceStore_UpsertGet(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.Devices().Upsert(ctx, storage.Device{DID: "oesp:did:a", PublicKey: []byte("pub")}))
	dev, err := s.Devices().Get(ctx, "oesp:did:a")
	require.NoError(t, err)
	assert.Equal(t, []byte("pub"), dev.PublicKey)

	_, err = s.Devices().Get(ctx, "oesp:did:missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSessionStore_CreateChunkCommit(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	sess := storage.SyncSession{ID: "sess-1", DeviceDID: "oesp:did:a", Status: storage.SessionOpen}
	require.NoError(t, s.Sessions().Create(ctx, sess))
	require.ErrorIs(t, s.Sessions().Create(ctx, sess), storage.ErrAlreadyExists)

	require.NoError(t, s.Sessions().PutChunk(ctx, storage.SyncChunk{SessionID: "sess-1", Seq: 0, Payload: []byte("a")}))
	require.NoError(t, s.Sessions().PutChunk(ctx, storage.SyncChunk{SessionID: "sess-1", Seq: 1, Payload: []byte("b")}))

	n, err := s.Sessions().ChunkCount(ctx, "sess-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	require.NoError(t, s.Sessions().Commit(ctx, "sess-1", "deadbeef", storage.CommitResult{Status: storage.SessionCommitted, Inserted: 2}))

	got, err := s.Sessions().Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, storage.SessionCommitted, got.Status)
	assert.Equal(t, "deadbeef", got.FinalHash)

	err = s.Sessions().PutChunk(ctx, storage.SyncChunk{SessionID: "sess-1", Seq: 2})
	assert.ErrorIs(t, err, storage.ErrWrongStatus)
}

func TestSessionStore_Abort(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	sess := storage.SyncSession{ID: "sess-abort", DeviceDID: "oesp:did:a", Status: storage.SessionOpen}
	require.NoError(t, s.Sessions().Create(ctx, sess))

	require.NoError(t, s.Sessions().Abort(ctx, "sess-abort", "client cancelled"))

	got, err := s.Sessions().Get(ctx, "sess-abort")
	require.NoError(t, err)
	assert.Equal(t, storage.SessionAborted, got.Status)

	// A session already out of "open" can't be aborted again.
	assert.ErrorIs(t, s.Sessions().Abort(ctx, "sess-abort", "retry"), storage.ErrWrongStatus)

	// PutChunk against an aborted session must be rejected the same way
	// commit would reject it.
	err = s.Sessions().PutChunk(ctx, storage.SyncChunk{SessionID: "sess-abort", Seq: 0, Payload: []byte("x")})
	assert.ErrorIs(t, err, storage.ErrWrongStatus)
}

func TestSessionStore_AbortUnknownSession(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	err := s.Sessions().Abort(ctx, "does-not-exist", "reason")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSessionStore_IdempotentStartLookup(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	sess := storage.SyncSession{ID: "sess-1", DeviceDID: "oesp:did:a", Status: storage.SessionOpen}
	require.NoError(t, s.Sessions().Create(ctx, sess))
	s.sessions.RegisterMeta("oesp:did:a", "hash-1", "sess-1")

	found, err := s.Sessions().FindOpenByDeviceAndMeta(ctx, "oesp:did:a", "hash-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", found.ID)

	_, err = s.Sessions().FindOpenByDeviceAndMeta(ctx, "oesp:did:a", "hash-2")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMessageStore_InsertDeduplicates(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	msg := storage.StoredMessage{FromDID: "oesp:did:a", MID: "m1", Token: "tok"}
	inserted, err := s.Messages().Insert(ctx, msg)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.Messages().Insert(ctx, msg)
	require.NoError(t, err)
	assert.False(t, inserted)

	require.NoError(t, s.Messages().RecordItem(ctx, storage.SessionItem{SessionID: "sess-1", MID: "m1", FromDID: "oesp:did:a"}))
	items, err := s.Messages().ListBySession(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "m1", items[0].MID)
}

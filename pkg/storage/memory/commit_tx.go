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
	"fmt"
	"time"

	"github.com/oesp-project/oesp/pkg/storage"
)

// WithCommitTx holds sessionID's entry lock for the whole of fn and
// stages every write fn makes in commitTx rather than touching the
// real maps; nothing becomes visible to another reader until fn
// returns nil and the staged writes are applied in one step, mirroring
// the postgres backend's begin/commit-or-rollback transaction.
func (s *Store) WithCommitTx(ctx context.Context, sessionID string, fn func(ctx context.Context, tx storage.CommitTx) error) error {
	e, err := s.sessions.entry(sessionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.Status != storage.SessionOpen {
		return storage.ErrWrongStatus
	}

	tx := &commitTx{messages: s.messages, sessionID: sessionID, staged: make(map[string]storage.StoredMessage)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if !tx.committed {
		return fmt.Errorf("storage/memory: commit tx: fn returned without calling CommitSession")
	}
	tx.apply(e)
	return nil
}

// commitTx implements storage.CommitTx by staging writes in memory
// until CommitSession runs; apply is the only point that mutates the
// store's real maps.
type commitTx struct {
	messages  *MessageStore
	sessionID string

	staged map[string]storage.StoredMessage // key(fromDID, mid) -> msg, inserts not yet applied
	items  []storage.SessionItem

	committed bool
	finalHash string
	result    storage.CommitResult
}

func (tx *commitTx) InsertMessage(ctx context.Context, msg storage.StoredMessage) (bool, error) {
	k := key(msg.FromDID, msg.MID)
	if _, staged := tx.staged[k]; staged {
		return false, nil
	}
	tx.messages.mu.RLock()
	_, exists := tx.messages.data[k]
	tx.messages.mu.RUnlock()
	if exists {
		return false, nil
	}
	tx.staged[k] = msg
	return true, nil
}

func (tx *commitTx) RecordItem(ctx context.Context, item storage.SessionItem) error {
	tx.items = append(tx.items, item)
	return nil
}

func (tx *commitTx) CommitSession(ctx context.Context, sessionID, finalHash string, result storage.CommitResult) error {
	tx.finalHash = finalHash
	tx.result = result
	tx.committed = true
	return nil
}

// apply merges every staged write into the store's real maps and
// seals the session. Called only after fn has returned nil, so it
// never partially applies a failed commit.
func (tx *commitTx) apply(e *sessionEntry) {
	tx.messages.mu.Lock()
	for k, msg := range tx.staged {
		if msg.StoredAt.IsZero() {
			msg.StoredAt = time.Now()
		}
		tx.messages.data[k] = msg
	}
	tx.messages.items[tx.sessionID] = append(tx.messages.items[tx.sessionID], tx.items...)
	tx.messages.mu.Unlock()

	e.session.Status = tx.result.Status
	e.session.FinalHash = tx.finalHash
	e.session.UpdatedAt = time.Now()
}

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

// Package memory implements storage.Store backed by mutex-guarded
// maps. It is a drop-in for postgres in tests and single-node runs;
// each session carries its own lock so Commit serializes the same
// way the postgres store uses an advisory lock.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/oesp-project/oesp/pkg/storage"
)

// Store is the in-memory storage.Store implementation.
type Store struct {
	devices  *DeviceStore
	sessions *SessionStore
	messages *MessageStore
}

// NewStore builds an empty in-memory store.
func NewStore() *Store {
	s := &Store{
		devices: &DeviceStore{data: make(map[string]storage.Device)},
		messages: &MessageStore{
			data:  make(map[string]storage.StoredMessage),
			items: make(map[string][]storage.SessionItem),
		},
	}
	s.sessions = &SessionStore{
		data:       make(map[string]*sessionEntry),
		metaLookup: make(map[string]string),
	}
	return s
}

func (s *Store) Devices() storage.DeviceStore    { return s.devices }
func (s *Store) Sessions() storage.SessionStore  { return s.sessions }
func (s *Store) Messages() storage.MessageStore  { return s.messages }
func (s *Store) Close(ctx context.Context) error { return nil }
func (s *Store) Ping(ctx context.Context) error  { return nil }

// DeviceStore is the in-memory storage.DeviceStore.
type DeviceStore struct {
	mu   sync.RWMutex
	data map[string]storage.Device
}

func (d *DeviceStore) Upsert(ctx context.Context, dev storage.Device) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.data[dev.DID]; ok {
		dev.CreatedAt = existing.CreatedAt
	} else if dev.CreatedAt.IsZero() {
		dev.CreatedAt = time.Now()
	}
	d.data[dev.DID] = dev
	return nil
}

func (d *DeviceStore) Get(ctx context.Context, did string) (*storage.Device, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	dev, ok := d.data[did]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := dev
	return &cp, nil
}

type sessionEntry struct {
	mu      sync.Mutex
	session storage.SyncSession
	chunks  map[int64]storage.SyncChunk
}

// SessionStore is the in-memory storage.SessionStore.
type SessionStore struct {
	mu         sync.RWMutex
	data       map[string]*sessionEntry
	metaLookup map[string]string // deviceDID + "\x00" + metaHash -> sessionID
}

func (s *SessionStore) Create(ctx context.Context, sess storage.SyncSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[sess.ID]; ok {
		return storage.ErrAlreadyExists
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	sess.UpdatedAt = sess.CreatedAt
	s.data[sess.ID] = &sessionEntry{session: sess, chunks: make(map[int64]storage.SyncChunk)}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, id string) (*storage.SyncSession, error) {
	s.mu.RLock()
	e, ok := s.data[id]
	s.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := e.session
	return &cp, nil
}

func (s *SessionStore) FindOpenByDeviceAndMeta(ctx context.Context, deviceDID, metaHash string) (*storage.SyncSession, error) {
	s.mu.RLock()
	id, ok := s.metaLookup[deviceDID+"\x00"+metaHash]
	s.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s.Get(ctx, id)
}

// RegisterMeta indexes sess under (deviceDID, metaHash) for the
// idempotent-start lookup. Callers invoke it right after Create.
func (s *SessionStore) RegisterMeta(deviceDID, metaHash, sessionID string) {
	s.mu.Lock()
	s.metaLookup[deviceDID+"\x00"+metaHash] = sessionID
	s.mu.Unlock()
}

func (s *SessionStore) entry(id string) (*sessionEntry, error) {
	s.mu.RLock()
	e, ok := s.data[id]
	s.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	return e, nil
}

func (s *SessionStore) PutChunk(ctx context.Context, c storage.SyncChunk) error {
	e, err := s.entry(c.SessionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.Status != storage.SessionOpen {
		return storage.ErrWrongStatus
	}
	e.chunks[c.Seq] = c
	e.session.AckedChunks = int64(len(e.chunks))
	e.session.UpdatedAt = time.Now()
	return nil
}

func (s *SessionStore) GetChunk(ctx context.Context, sessionID string, seq int64) (*storage.SyncChunk, error) {
	e, err := s.entry(sessionID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.chunks[seq]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := c
	return &cp, nil
}

func (s *SessionStore) ChunkCount(ctx context.Context, sessionID string) (int64, error) {
	e, err := s.entry(sessionID)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return int64(len(e.chunks)), nil
}

func (s *SessionStore) Commit(ctx context.Context, sessionID, finalHash string, result storage.CommitResult) error {
	e, err := s.entry(sessionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.Status != storage.SessionOpen {
		return storage.ErrWrongStatus
	}
	e.session.Status = result.Status
	e.session.FinalHash = finalHash
	e.session.UpdatedAt = time.Now()
	return nil
}

func (s *SessionStore) Abort(ctx context.Context, sessionID, reason string) error {
	e, err := s.entry(sessionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.Status != storage.SessionOpen {
		return storage.ErrWrongStatus
	}
	e.session.Status = storage.SessionAborted
	e.session.UpdatedAt = time.Now()
	return nil
}

// MessageStore is the in-memory storage.MessageStore.
type MessageStore struct {
	mu    sync.RWMutex
	data  map[string]storage.StoredMessage // key: fromDID + "\x00" + mid
	items map[string][]storage.SessionItem // key: sessionID
}

func key(fromDID, mid string) string { return fromDID + "\x00" + mid }

func (m *MessageStore) Insert(ctx context.Context, msg storage.StoredMessage) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(msg.FromDID, msg.MID)
	if _, ok := m.data[k]; ok {
		return false, nil
	}
	if msg.StoredAt.IsZero() {
		msg.StoredAt = time.Now()
	}
	m.data[k] = msg
	return true, nil
}

func (m *MessageStore) RecordItem(ctx context.Context, item storage.SessionItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.SessionID] = append(m.items[item.SessionID], item)
	return nil
}

func (m *MessageStore) Get(ctx context.Context, fromDID, mid string) (*storage.StoredMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.data[key(fromDID, mid)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := msg
	return &cp, nil
}

func (m *MessageStore) Delete(ctx context.Context, fromDID, mid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key(fromDID, mid))
	for sid, items := range m.items {
		kept := items[:0]
		for _, it := range items {
			if it.FromDID == fromDID && it.MID == mid {
				continue
			}
			kept = append(kept, it)
		}
		m.items[sid] = kept
	}
	return nil
}

func (m *MessageStore) ListBySession(ctx context.Context, sessionID string) ([]storage.StoredMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := m.items[sessionID]
	out := make([]storage.StoredMessage, 0, len(items))
	for _, it := range items {
		if msg, ok := m.data[key(it.FromDID, it.MID)]; ok {
			out = append(out, msg)
		}
	}
	return out, nil
}

// Clear removes all data. Useful for tests.
func (s *Store) Clear() {
	s.devices.mu.Lock()
	s.devices.data = make(map[string]storage.Device)
	s.devices.mu.Unlock()

	s.sessions.mu.Lock()
	s.sessions.data = make(map[string]*sessionEntry)
	s.sessions.metaLookup = make(map[string]string)
	s.sessions.mu.Unlock()

	s.messages.mu.Lock()
	s.messages.data = make(map[string]storage.StoredMessage)
	s.messages.items = make(map[string][]storage.SessionItem)
	s.messages.mu.Unlock()
}

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

// Package storage defines the entities and persistence contracts the
// sync server needs: registered devices, in-flight upload sessions
// and their chunks, and the deduplicated message log those sessions
// commit into.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/oesp-project/oesp"
)

// SessionStatus is a SyncSession's lifecycle state.
type SessionStatus string

const (
	SessionOpen      SessionStatus = "open"
	SessionCommitted SessionStatus = "committed"
	SessionAborted   SessionStatus = "aborted"
)

// Device is a sync client the server has seen before, identified by
// its OESP DID and bound to the Ed25519 public key it first presented.
type Device struct {
	DID       string
	PublicKey []byte
	CreatedAt time.Time
}

// SyncSession is one client's in-flight (or terminal) upload.
type SyncSession struct {
	ID                  string
	DeviceDID           string
	ClientMeta          map[string]interface{}
	ExpectedTotalBytes  int64
	ExpectedTotalItems  int64
	Status              SessionStatus
	LastAckedSeq        int64
	AckedChunks         int64
	FinalHash           string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// SyncChunk is one uploaded slice of a session's JSONL payload.
type SyncChunk struct {
	SessionID string
	Seq       int64
	Payload   []byte
	SHA256    string
	Size      int
}

// StoredMessage is a committed OESP token, deduplicated on
// (FromDID, MID).
type StoredMessage struct {
	FromDID   string
	MID       string
	Token     string
	Envelope  oesp.Envelope
	IsExpired bool
	StoredAt  time.Time
}

// SessionItem records that a message was carried by a given session's
// commit, whether the message was newly inserted or already present.
type SessionItem struct {
	SessionID string
	MID       string
	FromDID   string
}

// CommitResult summarizes the outcome of a session commit.
type CommitResult struct {
	Status     SessionStatus
	Inserted   int
	Duplicates int
	Invalid    int
}

// ClientMetaHash computes the hash FindOpenByDeviceAndMeta matches
// against: sha256 of the canonicalized client_meta JSON. Callers must
// canonicalize meta (see core/canonical.JSON) before hashing, so key
// reordering never defeats the idempotent-start comparison.
func ClientMetaHash(canonicalMeta []byte) string {
	sum := sha256.Sum256(canonicalMeta)
	return hex.EncodeToString(sum[:])
}

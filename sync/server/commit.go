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

package server

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/oesp-project/oesp"
	"github.com/oesp-project/oesp/core/verify"
	"github.com/oesp-project/oesp/internal/metrics"
	"github.com/oesp-project/oesp/pkg/storage"
)

// runCommit streams session sid's chunks in seq order, verifying every
// token, and drives the whole insert/record/seal sequence through
// Store.WithCommitTx so a final-hash mismatch rolls back the entire
// transaction — every message insert and session-item record this
// commit made — instead of manually undoing autocommitted writes.
// Chunk reads themselves stay outside the transaction: chunks were
// already durably written by earlier PutChunk calls, so streaming them
// is read-only and needs no rollback path.
func runCommit(ctx context.Context, s *Server, sid string, finalHash []byte, allowExpired bool) (*storage.CommitResult, error) {
	policy := verify.Policy{
		AllowExpired:    allowExpired,
		MaxClockSkewSec: s.cfg.MaxClockSkewSec,
	}

	var result storage.CommitResult
	txErr := s.store.WithCommitTx(ctx, sid, func(ctx context.Context, tx storage.CommitTx) error {
		var inserted, duplicates, invalid int

		handle := func(ctx context.Context, line chunkLine, parseErr error) error {
			if parseErr != nil {
				invalid++
				metrics.EnvelopesProcessed.WithLabelValues("verify", "failure").Inc()
				return nil
			}

			ve, err := verify.Verify(ctx, line.Token, verify.Options{Policy: policy})
			if err != nil {
				invalid++
				code := "UNKNOWN"
				if oe, ok := err.(*oesp.Error); ok {
					code = oe.Code
				}
				metrics.VerifyOutcomes.WithLabelValues(code).Inc()
				metrics.EnvelopesProcessed.WithLabelValues("verify", "failure").Inc()
				return nil
			}
			metrics.EnvelopesProcessed.WithLabelValues("verify", "success").Inc()

			wasInserted, err := tx.InsertMessage(ctx, storage.StoredMessage{
				FromDID:   ve.SignerDID,
				MID:       ve.Envelope.Mid,
				Token:     line.Token,
				Envelope:  ve.Envelope,
				IsExpired: ve.Envelope.Exp < time.Now().Unix(),
			})
			if err != nil {
				return fmt.Errorf("sync/server: insert message: %w", err)
			}

			item := storage.SessionItem{SessionID: sid, MID: ve.Envelope.Mid, FromDID: ve.SignerDID}
			if err := tx.RecordItem(ctx, item); err != nil {
				return fmt.Errorf("sync/server: record session item: %w", err)
			}

			if wasInserted {
				inserted++
			} else {
				duplicates++
			}
			return nil
		}

		computedHex, err := streamCommit(ctx, s.store.Sessions(), sid, handle)
		if err != nil {
			return oesp.WithDetail(oesp.ErrStorageError, err.Error())
		}

		computed, err := hex.DecodeString(computedHex)
		if err != nil {
			return oesp.WithDetail(oesp.ErrStorageError, "bad computed hash encoding")
		}
		if !bytes.Equal(computed, finalHash) {
			return oesp.WithDetail(oesp.ErrInvalidHash, "final hash does not match uploaded corpus")
		}

		result = storage.CommitResult{
			Status:     storage.SessionCommitted,
			Inserted:   inserted,
			Duplicates: duplicates,
			Invalid:    invalid,
		}
		return tx.CommitSession(ctx, sid, computedHex, result)
	})
	if txErr != nil {
		switch txErr {
		case storage.ErrWrongStatus:
			return nil, oesp.ErrSessionClosed
		case storage.ErrNotFound:
			return nil, oesp.ErrSessionNotFound
		}
		if _, ok := txErr.(*oesp.Error); ok {
			return nil, txErr
		}
		return nil, oesp.WithDetail(oesp.ErrStorageError, txErr.Error())
	}
	return &result, nil
}

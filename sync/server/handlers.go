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
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/oesp-project/oesp"
	"github.com/oesp-project/oesp/core/canonical"
	"github.com/oesp-project/oesp/health"
	"github.com/oesp-project/oesp/internal/logger"
	"github.com/oesp-project/oesp/internal/metrics"
	"github.com/oesp-project/oesp/pkg/storage"
)

func newSessionID() string { return uuid.NewString() }

func (s *Server) checkAuth(r *http.Request, bodyDeviceDID string) error {
	deviceDID := r.Header.Get("X-OESP-DEVICE")
	if deviceDID == "" {
		return oesp.WithDetail(oesp.ErrUnauthorized, "missing X-OESP-DEVICE header")
	}
	if bodyDeviceDID != "" && deviceDID != bodyDeviceDID {
		return oesp.WithDetail(oesp.ErrUnauthorized, "X-OESP-DEVICE does not match device_did")
	}
	if s.cfg.APIKeyRequired {
		key := r.Header.Get("X-OESP-APIKEY")
		if key == "" || key != s.cfg.GlobalAPIKey {
			return oesp.WithDetail(oesp.ErrUnauthorized, "missing or invalid X-OESP-APIKEY")
		}
	}
	return nil
}

type startRequest struct {
	DeviceDID          string                 `json:"device_did"`
	DevicePubB64       string                 `json:"device_pub_b64"`
	ExpectedTotalBytes int64                  `json:"expected_total_bytes"`
	ExpectedTotalItems int64                  `json:"expected_total_items"`
	ClientMeta         map[string]interface{} `json:"client_meta"`
}

type resumeHint struct {
	LastAckedSeq int64 `json:"last_acked_seq"`
	AckedChunks  int64 `json:"acked_chunks"`
}

type startResponse struct {
	SessionID     string     `json:"session_id"`
	MaxChunkBytes int        `json:"max_chunk_bytes"`
	Resume        resumeHint `json:"resume"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, oesp.WithDetail(oesp.ErrBadRequest, "malformed json body"))
		return
	}
	if req.DeviceDID == "" {
		writeError(w, oesp.WithDetail(oesp.ErrBadRequest, "device_did required"))
		return
	}
	if err := s.checkAuth(r, req.DeviceDID); err != nil {
		writeError(w, err)
		return
	}

	device, err := s.store.Devices().Get(ctx, req.DeviceDID)
	if err != nil && err != storage.ErrNotFound {
		writeError(w, oesp.WithDetail(oesp.ErrStorageError, err.Error()))
		return
	}

	var pub []byte
	if req.DevicePubB64 != "" {
		pub, err = canonical.DecodeB64(req.DevicePubB64)
		if err != nil {
			writeError(w, oesp.WithDetail(oesp.ErrBadRequest, "bad device_pub_b64"))
			return
		}
	}

	if device == nil {
		if len(pub) == 0 {
			writeError(w, oesp.WithDetail(oesp.ErrBadRequest, "device_pub_b64 required for unknown device"))
			return
		}
		if err := s.store.Devices().Upsert(ctx, storage.Device{DID: req.DeviceDID, PublicKey: pub}); err != nil {
			writeError(w, oesp.WithDetail(oesp.ErrStorageError, err.Error()))
			return
		}
	} else if len(pub) > 0 && !bytes.Equal(pub, device.PublicKey) {
		writeError(w, oesp.ErrBadDeviceKey)
		return
	}

	metaJSON, err := canonical.JSON(req.ClientMeta)
	if err != nil {
		writeError(w, oesp.WithDetail(oesp.ErrBadRequest, "bad client_meta"))
		return
	}
	metaHash := storage.ClientMetaHash(metaJSON)

	// Two resumes racing for the same device+meta key must not both miss
	// FindOpenByDeviceAndMeta and create duplicate sessions; singleflight
	// collapses them onto one find-or-create.
	sfKey := req.DeviceDID + ":" + metaHash
	v, err, _ := s.startGroup.Do(sfKey, func() (interface{}, error) {
		if existing, err := s.store.Sessions().FindOpenByDeviceAndMeta(ctx, req.DeviceDID, metaHash); err == nil {
			return startResult{session: existing, resumed: true}, nil
		} else if err != storage.ErrNotFound {
			return nil, oesp.WithDetail(oesp.ErrStorageError, err.Error())
		}

		sess := storage.SyncSession{
			ID:                 s.idGen(),
			DeviceDID:          req.DeviceDID,
			ClientMeta:         req.ClientMeta,
			ExpectedTotalBytes: req.ExpectedTotalBytes,
			ExpectedTotalItems: req.ExpectedTotalItems,
			Status:             storage.SessionOpen,
		}
		if err := s.store.Sessions().Create(ctx, sess); err != nil {
			return nil, oesp.WithDetail(oesp.ErrStorageError, err.Error())
		}
		if reg, ok := s.store.Sessions().(interface {
			RegisterMeta(deviceDID, metaHash, sessionID string)
		}); ok {
			reg.RegisterMeta(req.DeviceDID, metaHash, sess.ID)
		}
		return startResult{session: sess, resumed: false}, nil
	})
	if err != nil {
		writeError(w, err)
		return
	}

	result := v.(startResult)
	if result.resumed {
		s.log.Debug("sync session resumed",
			logger.DID("device_did", req.DeviceDID),
			logger.String("session_id", result.session.ID),
		)
		metrics.SyncSessionsCreated.WithLabelValues("resumed").Inc()
		writeJSON(w, http.StatusOK, startResponse{
			SessionID:     result.session.ID,
			MaxChunkBytes: s.cfg.MaxChunkBytes,
			Resume:        resumeHint{LastAckedSeq: result.session.LastAckedSeq, AckedChunks: result.session.AckedChunks},
		})
		return
	}

	s.log.Info("sync session opened",
		logger.DID("device_did", req.DeviceDID),
		logger.String("session_id", result.session.ID),
	)
	metrics.SyncSessionsCreated.WithLabelValues("new").Inc()
	metrics.SyncSessionsOpen.Inc()
	writeJSON(w, http.StatusCreated, startResponse{
		SessionID:     result.session.ID,
		MaxChunkBytes: s.cfg.MaxChunkBytes,
		Resume:        resumeHint{},
	})
}

// startResult is the value singleflight.Group.Do returns for a
// find-or-create start call, so both branches (resumed or newly
// created) can share one dedup path.
type startResult struct {
	session storage.SyncSession
	resumed bool
}

type chunkRequest struct {
	Seq        int64  `json:"seq"`
	PayloadB64 string `json:"payload_b64"`
	SHA256B64  string `json:"sha256_b64"`
}

type chunkResponse struct {
	AckedSeq     int64                 `json:"acked_seq"`
	LastAckedSeq int64                 `json:"last_acked_seq"`
	AckedChunks  int64                 `json:"acked_chunks"`
	Status       storage.SessionStatus `json:"status"`
}

func (s *Server) handleChunk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sid := r.PathValue("sid")

	if err := s.checkAuth(r, ""); err != nil {
		writeError(w, err)
		return
	}

	sess, err := s.store.Sessions().Get(ctx, sid)
	if err != nil {
		if err == storage.ErrNotFound {
			writeError(w, oesp.ErrSessionNotFound)
			return
		}
		writeError(w, oesp.WithDetail(oesp.ErrStorageError, err.Error()))
		return
	}
	if sess.Status != storage.SessionOpen {
		writeError(w, oesp.ErrSessionClosed)
		return
	}

	var req chunkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, oesp.WithDetail(oesp.ErrBadRequest, "malformed json body"))
		return
	}
	payload, err := canonical.DecodeB64(req.PayloadB64)
	if err != nil {
		writeError(w, oesp.WithDetail(oesp.ErrBadRequest, "bad payload_b64"))
		return
	}
	if len(payload) > s.cfg.MaxChunkBytes {
		writeError(w, oesp.ErrTooLarge)
		return
	}
	wantSum, err := canonical.DecodeB64(req.SHA256B64)
	if err != nil {
		writeError(w, oesp.WithDetail(oesp.ErrBadRequest, "bad sha256_b64"))
		return
	}
	gotSum := sha256Sum(payload)
	if !bytes.Equal(wantSum, gotSum) {
		writeError(w, oesp.WithDetail(oesp.ErrInvalidHash, "payload does not match sha256_b64"))
		return
	}

	if existing, err := s.store.Sessions().GetChunk(ctx, sid, req.Seq); err == nil {
		if !bytes.Equal(existing.Payload, payload) {
			writeError(w, oesp.WithDetail(oesp.ErrInvalidHash, "seq already uploaded with different payload"))
			return
		}
		// identical re-upload: no-op, fall through to the current ack state
	} else if err != storage.ErrNotFound {
		writeError(w, oesp.WithDetail(oesp.ErrStorageError, err.Error()))
		return
	} else {
		chunk := storage.SyncChunk{SessionID: sid, Seq: req.Seq, Payload: payload, SHA256: hexEncode(gotSum), Size: len(payload)}
		if err := s.store.Sessions().PutChunk(ctx, chunk); err != nil {
			if err == storage.ErrWrongStatus {
				writeError(w, oesp.ErrSessionClosed)
				return
			}
			writeError(w, oesp.WithDetail(oesp.ErrStorageError, err.Error()))
			return
		}
		metrics.SyncChunkSize.Observe(float64(len(payload)))
	}

	updated, err := s.store.Sessions().Get(ctx, sid)
	if err != nil {
		writeError(w, oesp.WithDetail(oesp.ErrStorageError, err.Error()))
		return
	}
	lastAcked := updated.LastAckedSeq
	if req.Seq > lastAcked {
		lastAcked = req.Seq
	}
	writeJSON(w, http.StatusOK, chunkResponse{
		AckedSeq:     req.Seq,
		LastAckedSeq: lastAcked,
		AckedChunks:  updated.AckedChunks,
		Status:       updated.Status,
	})
}

type statusResponse struct {
	Status       storage.SessionStatus `json:"status"`
	LastAckedSeq int64                 `json:"last_acked_seq"`
	AckedChunks  int64                 `json:"acked_chunks"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")
	if err := s.checkAuth(r, ""); err != nil {
		writeError(w, err)
		return
	}
	sess, err := s.store.Sessions().Get(r.Context(), sid)
	if err != nil {
		if err == storage.ErrNotFound {
			writeError(w, oesp.ErrSessionNotFound)
			return
		}
		writeError(w, oesp.WithDetail(oesp.ErrStorageError, err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:       sess.Status,
		LastAckedSeq: sess.LastAckedSeq,
		AckedChunks:  sess.AckedChunks,
	})
}

type commitRequest struct {
	FinalHashB64 string `json:"final_hash_b64"`
	Format       string `json:"format"`
	AllowExpired bool   `json:"allow_expired"`
}

type commitResponse struct {
	Status     storage.SessionStatus `json:"status"`
	Inserted   int                   `json:"inserted"`
	Duplicates int                   `json:"duplicates"`
	Invalid    int                   `json:"invalid"`
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sid := r.PathValue("sid")

	if err := s.checkAuth(r, ""); err != nil {
		writeError(w, err)
		return
	}

	var req commitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, oesp.WithDetail(oesp.ErrBadRequest, "malformed json body"))
		return
	}
	finalHash, err := canonical.DecodeB64(req.FinalHashB64)
	if err != nil {
		writeError(w, oesp.WithDetail(oesp.ErrBadRequest, "bad final_hash_b64"))
		return
	}

	sess, err := s.store.Sessions().Get(ctx, sid)
	if err != nil {
		if err == storage.ErrNotFound {
			writeError(w, oesp.ErrSessionNotFound)
			return
		}
		writeError(w, oesp.WithDetail(oesp.ErrStorageError, err.Error()))
		return
	}
	if sess.Status != storage.SessionOpen {
		writeError(w, oesp.ErrSessionClosed)
		return
	}

	start := time.Now()
	result, err := runCommit(ctx, s, sid, finalHash, req.AllowExpired)
	metrics.SyncSessionDuration.WithLabelValues("commit").Observe(time.Since(start).Seconds())
	if err != nil {
		if oe, ok := err.(*oesp.Error); ok {
			s.log.Warn("sync commit failed", logger.String("session_id", sid), logger.OESPError(oe))
		}
		writeError(w, err)
		return
	}

	s.log.Info("sync session committed",
		logger.String("session_id", sid),
		logger.Int("inserted", result.Inserted),
		logger.Int("duplicates", result.Duplicates),
		logger.Int("invalid", result.Invalid),
	)
	metrics.SyncSessionsCommitted.Inc()
	metrics.SyncSessionsOpen.Dec()
	writeJSON(w, http.StatusOK, commitResponse{
		Status:     result.Status,
		Inserted:   result.Inserted,
		Duplicates: result.Duplicates,
		Invalid:    result.Invalid,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.health.GetOverallStatus(r.Context())
	code := http.StatusOK
	if status != health.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": string(status)})
}

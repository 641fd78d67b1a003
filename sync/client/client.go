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

// Package client is the sync upload client: it drives a device's
// start/chunk/commit exchange against a sync server over plain
// net/http, splitting a token corpus into JSONL chunks no larger than
// the server-advertised max_chunk_bytes and retrying only on transport
// errors.
package client

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/oesp-project/oesp/core/canonical"
)

// SyncMeta is the caller-supplied identity and bookkeeping data for a
// sync session: the device's DID, its public key (required the first
// time a device is seen), and an arbitrary client_meta payload the
// server hashes to recognize a resumed upload.
type SyncMeta struct {
	DeviceDID  string
	DevicePub  []byte
	ClientMeta map[string]interface{}
}

// Summary is the outcome of a completed Sync call.
type Summary struct {
	SessionID  string
	Inserted   int
	Duplicates int
	Invalid    int
}

// Config controls a Client's transport behavior.
type Config struct {
	BaseURL        string
	APIKey         string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
}

// DefaultConfig returns the Config a demo or CLI caller should start from.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		HTTPClient:     &http.Client{},
		RequestTimeout: 10 * time.Second,
		MaxRetries:     3,
		RetryBackoff:   250 * time.Millisecond,
	}
}

// Client is a sync upload client bound to one server.
type Client struct {
	cfg Config
}

// New builds a Client from cfg, filling in defaults for a zero Config.
func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 250 * time.Millisecond
	}
	return &Client{cfg: cfg}
}

// Sync uploads tokens (OESP1.* wire strings, one per JSONL line) as a
// single sync session: start, chunk, commit. It is safe to call again
// with the same meta.ClientMeta after a transport failure — start is
// idempotent on (device_did, client_meta) and chunk re-upload of an
// identical payload is a no-op.
func (c *Client) Sync(ctx context.Context, tokens []string, meta SyncMeta, maxChunkBytesHint int) (*Summary, error) {
	corpus, err := buildJSONL(tokens)
	if err != nil {
		return nil, err
	}

	start, err := c.start(ctx, meta, int64(len(corpus)), int64(len(tokens)))
	if err != nil {
		return nil, err
	}

	chunkSize := start.MaxChunkBytes
	if chunkSize <= 0 {
		chunkSize = maxChunkBytesHint
	}
	if chunkSize <= 0 {
		chunkSize = 500_000
	}

	if err := c.uploadChunks(ctx, meta.DeviceDID, start.SessionID, corpus, chunkSize, start.Resume.LastAckedSeq); err != nil {
		return nil, err
	}

	sum := sha256.Sum256(corpus)
	commit, err := c.commit(ctx, meta.DeviceDID, start.SessionID, sum[:], false)
	if err != nil {
		return nil, err
	}

	return &Summary{
		SessionID:  start.SessionID,
		Inserted:   commit.Inserted,
		Duplicates: commit.Duplicates,
		Invalid:    commit.Invalid,
	}, nil
}

// buildJSONL serializes tokens into newline-delimited {"token":...} lines.
func buildJSONL(tokens []string) ([]byte, error) {
	var buf bytes.Buffer
	for _, t := range tokens {
		line, err := json.Marshal(struct {
			Token string `json:"token"`
		}{Token: t})
		if err != nil {
			return nil, fmt.Errorf("sync/client: marshal line: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func (c *Client) uploadChunks(ctx context.Context, deviceDID, sessionID string, corpus []byte, chunkSize int, resumeFrom int64) error {
	var seq int64
	for off := 0; off < len(corpus); off += chunkSize {
		end := off + chunkSize
		if end > len(corpus) {
			end = len(corpus)
		}
		if seq <= resumeFrom && resumeFrom > 0 {
			seq++
			continue
		}
		if err := c.chunk(ctx, deviceDID, sessionID, seq, corpus[off:end]); err != nil {
			return err
		}
		seq++
	}
	return nil
}

// isTransportError reports whether err is worth retrying: a network
// timeout or a context deadline, never an HTTP 4xx/5xx response.
func isTransportError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var body struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return fmt.Errorf("sync/client: %s: %s", body.Error.Code, body.Error.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("sync/client: decode response: %w", err)
	}
	return nil
}

type startRequest struct {
	DeviceDID          string                 `json:"device_did"`
	DevicePubB64       string                 `json:"device_pub_b64,omitempty"`
	ExpectedTotalBytes int64                  `json:"expected_total_bytes"`
	ExpectedTotalItems int64                  `json:"expected_total_items"`
	ClientMeta         map[string]interface{} `json:"client_meta,omitempty"`
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

func (c *Client) start(ctx context.Context, meta SyncMeta, totalBytes, totalItems int64) (*startResponse, error) {
	req := startRequest{
		DeviceDID:          meta.DeviceDID,
		ExpectedTotalBytes: totalBytes,
		ExpectedTotalItems: totalItems,
		ClientMeta:         meta.ClientMeta,
	}
	if len(meta.DevicePub) > 0 {
		req.DevicePubB64 = canonical.EncodeB64(meta.DevicePub)
	}

	var resp startResponse
	if err := c.doWithRetry(ctx, http.MethodPost, "/v1/sync/start", meta.DeviceDID, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type chunkRequest struct {
	Seq        int64  `json:"seq"`
	PayloadB64 string `json:"payload_b64"`
	SHA256B64  string `json:"sha256_b64"`
}

type chunkResponse struct {
	AckedSeq     int64  `json:"acked_seq"`
	LastAckedSeq int64  `json:"last_acked_seq"`
	AckedChunks  int64  `json:"acked_chunks"`
	Status       string `json:"status"`
}

func (c *Client) chunk(ctx context.Context, deviceDID, sessionID string, seq int64, payload []byte) error {
	sum := sha256.Sum256(payload)
	req := chunkRequest{
		Seq:        seq,
		PayloadB64: canonical.EncodeB64(payload),
		SHA256B64:  canonical.EncodeB64(sum[:]),
	}
	var resp chunkResponse
	return c.doWithRetry(ctx, http.MethodPost, fmt.Sprintf("/v1/sync/%s/chunk", sessionID), deviceDID, req, &resp)
}

type commitRequest struct {
	FinalHashB64 string `json:"final_hash_b64"`
	Format       string `json:"format"`
	AllowExpired bool   `json:"allow_expired"`
}

type commitResponse struct {
	Status     string `json:"status"`
	Inserted   int    `json:"inserted"`
	Duplicates int    `json:"duplicates"`
	Invalid    int    `json:"invalid"`
}

func (c *Client) commit(ctx context.Context, deviceDID, sessionID string, finalHash []byte, allowExpired bool) (*commitResponse, error) {
	req := commitRequest{
		FinalHashB64: canonical.EncodeB64(finalHash),
		Format:       "tokens-jsonl",
		AllowExpired: allowExpired,
	}
	var resp commitResponse
	if err := c.doWithRetry(ctx, http.MethodPost, fmt.Sprintf("/v1/sync/%s/commit", sessionID), deviceDID, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// doWithRetry sends body as JSON to path, tagging the request with
// deviceDID's X-OESP-DEVICE header, retrying only on transport errors
// up to cfg.MaxRetries times with linear backoff.
func (c *Client) doWithRetry(ctx context.Context, method, path, deviceDID string, body interface{}, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("sync/client: marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.RetryBackoff * time.Duration(attempt)):
			}
		}

		reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		req, rerr := http.NewRequestWithContext(reqCtx, method, c.cfg.BaseURL+path, bytes.NewReader(raw))
		if rerr != nil {
			cancel()
			return fmt.Errorf("sync/client: build request: %w", rerr)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-OESP-DEVICE", deviceDID)
		if c.cfg.APIKey != "" {
			req.Header.Set("X-OESP-APIKEY", c.cfg.APIKey)
		}

		err = c.do(req, out)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransportError(err) {
			return err
		}
	}
	return lastErr
}

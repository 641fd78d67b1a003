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
	"crypto/sha256"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oesp-project/oesp/core/canonical"
	"github.com/oesp-project/oesp/core/envelope"
	"github.com/oesp-project/oesp/crypto/keys"
	"github.com/oesp-project/oesp/did"
	"github.com/oesp-project/oesp/pkg/storage/memory"
)

// newTestToken builds one real, verifiable OESP token from a fresh
// sender identity addressed to a fresh recipient.
func newTestToken(t *testing.T) string {
	t.Helper()
	senderEd, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)
	recipientEd, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)
	recipientX, err := keys.GenerateX25519KeyPair()
	require.NoError(t, err)

	recipientDID := did.Derive(recipientEd.PublicKeyBytes())
	resolver := did.NewStaticResolver(map[string][]byte{recipientDID: recipientX.PublicKeyBytes()})
	packer := envelope.NewPacker(envelope.NewIdentity(senderEd), resolver)

	token, err := packer.Pack(context.Background(), recipientDID, envelope.Body{Raw: []byte(`{"msg":"hi"}`)}, time.Hour, "")
	require.NoError(t, err)
	return token
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	store := memory.NewStore()
	srv := New(store, DefaultConfig(), nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func doJSON(t *testing.T, ts *httptest.Server, method, path, deviceDID string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(method, ts.URL+path, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if deviceDID != "" {
		req.Header.Set("X-OESP-DEVICE", deviceDID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func startSession(t *testing.T, ts *httptest.Server, deviceDID string, devicePub []byte, meta map[string]interface{}) map[string]interface{} {
	t.Helper()
	resp, body := doJSON(t, ts, http.MethodPost, "/v1/sync/start", deviceDID, map[string]interface{}{
		"device_did":           deviceDID,
		"device_pub_b64":       canonical.EncodeB64(devicePub),
		"expected_total_bytes": 0,
		"expected_total_items": 0,
		"client_meta":          meta,
	})
	require.Contains(t, []int{http.StatusOK, http.StatusCreated}, resp.StatusCode)
	return body
}

func uploadTokens(t *testing.T, ts *httptest.Server, deviceDID, sessionID string, tokens []string) {
	t.Helper()
	for seq, tok := range tokens {
		line, err := json.Marshal(struct {
			Token string `json:"token"`
		}{Token: tok})
		require.NoError(t, err)
		line = append(line, '\n')
		sum := sha256.Sum256(line)

		resp, body := doJSON(t, ts, http.MethodPost, "/v1/sync/"+sessionID+"/chunk", deviceDID, map[string]interface{}{
			"seq":         int64(seq),
			"payload_b64": canonical.EncodeB64(line),
			"sha256_b64":  canonical.EncodeB64(sum[:]),
		})
		require.Equal(t, http.StatusOK, resp.StatusCode, body)
	}
}

func commitSession(t *testing.T, ts *httptest.Server, deviceDID, sessionID string, tokens []string, allowExpired bool) (*http.Response, map[string]interface{}) {
	t.Helper()
	var corpus bytes.Buffer
	for _, tok := range tokens {
		line, err := json.Marshal(struct {
			Token string `json:"token"`
		}{Token: tok})
		require.NoError(t, err)
		corpus.Write(line)
		corpus.WriteByte('\n')
	}
	sum := sha256.Sum256(corpus.Bytes())
	return doJSON(t, ts, http.MethodPost, "/v1/sync/"+sessionID+"/commit", deviceDID, map[string]interface{}{
		"final_hash_b64": canonical.EncodeB64(sum[:]),
		"format":         "tokens-jsonl",
		"allow_expired":  allowExpired,
	})
}

func TestSyncFlow_TwoValidTokens(t *testing.T) {
	_, ts := newTestServer(t)
	deviceEd, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)
	deviceDID := did.Derive(deviceEd.PublicKeyBytes())

	start := startSession(t, ts, deviceDID, deviceEd.PublicKeyBytes(), map[string]interface{}{"batch": "one"})
	sessionID := start["session_id"].(string)
	require.NotEmpty(t, sessionID)

	tokens := []string{newTestToken(t), newTestToken(t)}
	uploadTokens(t, ts, deviceDID, sessionID, tokens)

	resp, body := commitSession(t, ts, deviceDID, sessionID, tokens, true)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	require.Equal(t, "committed", body["status"])
	require.EqualValues(t, 2, body["inserted"])
	require.EqualValues(t, 0, body["duplicates"])
	require.EqualValues(t, 0, body["invalid"])
}

func TestSyncFlow_IdempotentStart(t *testing.T) {
	_, ts := newTestServer(t)
	deviceEd, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)
	deviceDID := did.Derive(deviceEd.PublicKeyBytes())
	meta := map[string]interface{}{"batch": "resume-me"}

	first := startSession(t, ts, deviceDID, deviceEd.PublicKeyBytes(), meta)
	second := startSession(t, ts, deviceDID, deviceEd.PublicKeyBytes(), meta)

	require.Equal(t, first["session_id"], second["session_id"])
}

func TestSyncFlow_ChunkReuploadIsNoOp(t *testing.T) {
	_, ts := newTestServer(t)
	deviceEd, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)
	deviceDID := did.Derive(deviceEd.PublicKeyBytes())

	start := startSession(t, ts, deviceDID, deviceEd.PublicKeyBytes(), map[string]interface{}{"batch": "reup"})
	sessionID := start["session_id"].(string)

	tokens := []string{newTestToken(t)}
	uploadTokens(t, ts, deviceDID, sessionID, tokens)
	// re-upload the identical chunk: must be accepted as a no-op.
	uploadTokens(t, ts, deviceDID, sessionID, tokens)

	resp, body := commitSession(t, ts, deviceDID, sessionID, tokens, true)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	require.EqualValues(t, 1, body["inserted"])
}

func TestSyncFlow_RepeatCommitYieldsDuplicates(t *testing.T) {
	_, ts := newTestServer(t)
	deviceEd, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)
	deviceDID := did.Derive(deviceEd.PublicKeyBytes())

	tokens := []string{newTestToken(t), newTestToken(t)}

	start := startSession(t, ts, deviceDID, deviceEd.PublicKeyBytes(), map[string]interface{}{"batch": "a"})
	sessionID := start["session_id"].(string)
	uploadTokens(t, ts, deviceDID, sessionID, tokens)
	resp, body := commitSession(t, ts, deviceDID, sessionID, tokens, true)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	require.EqualValues(t, 2, body["inserted"])

	// A fresh session carrying the very same tokens should see them
	// as duplicates against the message log, not re-insert them.
	start2 := startSession(t, ts, deviceDID, deviceEd.PublicKeyBytes(), map[string]interface{}{"batch": "b"})
	sessionID2 := start2["session_id"].(string)
	require.NotEqual(t, sessionID, sessionID2)
	uploadTokens(t, ts, deviceDID, sessionID2, tokens)
	resp2, body2 := commitSession(t, ts, deviceDID, sessionID2, tokens, true)
	require.Equal(t, http.StatusOK, resp2.StatusCode, body2)
	require.EqualValues(t, 0, body2["inserted"])
	require.EqualValues(t, 2, body2["duplicates"])
}

func TestSyncFlow_InvalidLinesCounted(t *testing.T) {
	_, ts := newTestServer(t)
	deviceEd, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)
	deviceDID := did.Derive(deviceEd.PublicKeyBytes())

	start := startSession(t, ts, deviceDID, deviceEd.PublicKeyBytes(), map[string]interface{}{"batch": "bad"})
	sessionID := start["session_id"].(string)

	tokens := []string{"OESP1.not-a-real-token", "OESP1.also-garbage"}
	uploadTokens(t, ts, deviceDID, sessionID, tokens)

	resp, body := commitSession(t, ts, deviceDID, sessionID, tokens, true)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	require.EqualValues(t, 0, body["inserted"])
	require.EqualValues(t, 2, body["invalid"])
}

func TestSyncFlow_CommitHashMismatchRollsBack(t *testing.T) {
	_, ts := newTestServer(t)
	deviceEd, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)
	deviceDID := did.Derive(deviceEd.PublicKeyBytes())

	start := startSession(t, ts, deviceDID, deviceEd.PublicKeyBytes(), map[string]interface{}{"batch": "mismatch"})
	sessionID := start["session_id"].(string)

	tokens := []string{newTestToken(t)}
	uploadTokens(t, ts, deviceDID, sessionID, tokens)

	// Commit against a hash that does not match the uploaded corpus.
	resp, body := doJSON(t, ts, http.MethodPost, "/v1/sync/"+sessionID+"/commit", deviceDID, map[string]interface{}{
		"final_hash_b64": canonical.EncodeB64(bytes.Repeat([]byte{0}, 32)),
		"format":         "tokens-jsonl",
		"allow_expired":  true,
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, body)

	statusResp, statusBody := doJSON(t, ts, http.MethodGet, "/v1/sync/"+sessionID+"/status", deviceDID, map[string]interface{}{})
	require.Equal(t, http.StatusOK, statusResp.StatusCode)
	require.Equal(t, "open", statusBody["status"])

	// The session is still open: a correct commit now must see the
	// message as newly inserted, proving the failed attempt rolled back.
	resp2, body2 := commitSession(t, ts, deviceDID, sessionID, tokens, true)
	require.Equal(t, http.StatusOK, resp2.StatusCode, body2)
	require.EqualValues(t, 1, body2["inserted"])
	require.EqualValues(t, 0, body2["duplicates"])
}

func TestHandleHealth(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

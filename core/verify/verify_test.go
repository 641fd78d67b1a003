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

package verify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oesp-project/oesp"
	"github.com/oesp-project/oesp/core/canonical"
)

func tokenFor(t *testing.T, overrides map[string]interface{}) string {
	t.Helper()
	base := map[string]interface{}{
		"v":       1,
		"typ":     "oesp.envelope",
		"mid":     "abc",
		"sid":     "oesp:did:x",
		"ts":      1,
		"exp":     2,
		"from":    map[string]interface{}{"did": "oesp:did:x", "pub": "AA"},
		"to":      map[string]interface{}{"did": "oesp:did:y"},
		"enc":     "CHACHA20-POLY1305",
		"kex":     "X25519",
		"ek":      "AA",
		"iv":      "AA",
		"ct":      "AA",
		"sig_alg": "Ed25519",
		"sig":     "AA",
	}
	for k, v := range overrides {
		base[k] = v
	}
	raw, err := json.Marshal(base)
	require.NoError(t, err)
	return oesp.WirePrefix + canonical.EncodeB64(raw)
}

func TestVerify_RejectsMissingPrefix(t *testing.T) {
	_, err := Verify(context.Background(), "not-a-token", Options{Policy: DefaultPolicy()})
	assert.ErrorIs(t, err, oesp.ErrInvalidFormat)
}

func TestVerify_RejectsBadBase64(t *testing.T) {
	_, err := Verify(context.Background(), oesp.WirePrefix+"!!!not-base64!!!", Options{Policy: DefaultPolicy()})
	assert.ErrorIs(t, err, oesp.ErrInvalidFormat)
}

func TestVerify_RejectsBadJSON(t *testing.T) {
	token := oesp.WirePrefix + canonical.EncodeB64([]byte("not json"))
	_, err := Verify(context.Background(), token, Options{Policy: DefaultPolicy()})
	assert.ErrorIs(t, err, oesp.ErrInvalidFormat)
}

func TestVerify_RejectsWrongVersion(t *testing.T) {
	token := tokenFor(t, map[string]interface{}{"v": 2})
	_, err := Verify(context.Background(), token, Options{Policy: DefaultPolicy()})
	assert.ErrorIs(t, err, oesp.ErrInvalidFormat)
}

func TestVerify_RejectsUnsupportedAlgorithm(t *testing.T) {
	// ts is set to now so the clock-skew check, which runs first, passes.
	token := tokenFor(t, map[string]interface{}{"enc": "AES-256-GCM", "ts": time.Now().Unix()})
	_, err := Verify(context.Background(), token, Options{Policy: DefaultPolicy()})
	assert.ErrorIs(t, err, oesp.ErrUnsupportedAlg)
}

func TestVerify_RejectsTypMismatch(t *testing.T) {
	token := tokenFor(t, nil)
	_, err := Verify(context.Background(), token, Options{Policy: Policy{
		AllowExpired:    true,
		MaxClockSkewSec: 300,
		EnforceTyp:      "some.other.type",
	}})
	assert.ErrorIs(t, err, oesp.ErrInvalidFormat)
}

func TestVerify_RejectsMissingRequiredFields(t *testing.T) {
	token := tokenFor(t, map[string]interface{}{"mid": ""})
	_, err := Verify(context.Background(), token, Options{Policy: DefaultPolicy()})
	assert.ErrorIs(t, err, oesp.ErrInvalidFormat)
}

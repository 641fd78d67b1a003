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

package envelope

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oesp-project/oesp"
	"github.com/oesp-project/oesp/core/canonical"
	"github.com/oesp-project/oesp/core/replay"
	"github.com/oesp-project/oesp/core/verify"
	"github.com/oesp-project/oesp/crypto/keys"
	"github.com/oesp-project/oesp/did"
)

func newTestPacker(t *testing.T, resolver did.Resolver) (*Packer, Identity) {
	t.Helper()
	ed, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)
	id := NewIdentity(ed)
	return NewPacker(id, resolver), id
}

func newTestUnpacker(t *testing.T) (*Unpacker, []byte) {
	t.Helper()
	x, err := keys.GenerateX25519KeyPair()
	require.NoError(t, err)
	store := replay.NewMemoryStore(0)
	t.Cleanup(store.Close)
	return NewUnpacker(x, store), x.PublicKeyBytes()
}

func TestPackUnpack_RoundTrip(t *testing.T) {
	unpacker, recipientX25519Pub := newTestUnpacker(t)
	recipientIdentity, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)
	recipientDID := did.Derive(recipientIdentity.PublicKeyBytes())

	resolver := did.NewStaticResolver(map[string][]byte{recipientDID: recipientX25519Pub})
	packer, senderID := newTestPacker(t, resolver)

	token, err := packer.Pack(context.Background(), recipientDID, Body{Raw: []byte(`{"msg":"hello"}`)}, time.Hour, "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, oesp.WirePrefix))

	plaintext, verified, err := unpacker.Unpack(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, `{"msg":"hello"}`, string(plaintext))
	assert.Equal(t, senderID.DID, verified.SignerDID)
}

func TestPackUnpack_StructBody(t *testing.T) {
	unpacker, recipientX25519Pub := newTestUnpacker(t)
	recipientIdentity, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)
	recipientDID := did.Derive(recipientIdentity.PublicKeyBytes())

	resolver := did.NewStaticResolver(map[string][]byte{recipientDID: recipientX25519Pub})
	packer, _ := newTestPacker(t, resolver)

	token, err := packer.Pack(context.Background(), recipientDID, Body{Struct: map[string]int{"n": 1}}, time.Hour, "")
	require.NoError(t, err)

	plaintext, _, err := unpacker.Unpack(context.Background(), token)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(plaintext))
}

func TestUnpack_TamperedMidFailsSignature(t *testing.T) {
	unpacker, recipientX25519Pub := newTestUnpacker(t)
	recipientIdentity, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)
	recipientDID := did.Derive(recipientIdentity.PublicKeyBytes())

	resolver := did.NewStaticResolver(map[string][]byte{recipientDID: recipientX25519Pub})
	packer, _ := newTestPacker(t, resolver)

	token, err := packer.Pack(context.Background(), recipientDID, Body{Raw: []byte("hi")}, time.Hour, "")
	require.NoError(t, err)

	tampered := tamperField(t, token, "mid", "corrupted")
	_, _, err = unpacker.Unpack(context.Background(), tampered)
	assert.ErrorIs(t, err, oesp.ErrInvalidSignature)
}

func TestUnpack_ReplayDetected(t *testing.T) {
	unpacker, recipientX25519Pub := newTestUnpacker(t)
	recipientIdentity, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)
	recipientDID := did.Derive(recipientIdentity.PublicKeyBytes())

	resolver := did.NewStaticResolver(map[string][]byte{recipientDID: recipientX25519Pub})
	packer, _ := newTestPacker(t, resolver)

	token, err := packer.Pack(context.Background(), recipientDID, Body{Raw: []byte("hi")}, time.Hour, "")
	require.NoError(t, err)

	_, _, err = unpacker.Unpack(context.Background(), token)
	require.NoError(t, err)

	_, _, err = unpacker.Unpack(context.Background(), token)
	assert.ErrorIs(t, err, oesp.ErrReplay)
}

func TestUnpack_DecryptFailureDoesNotPoisonReplay(t *testing.T) {
	store := replay.NewMemoryStore(0)
	t.Cleanup(store.Close)

	wrongRecipient, err := keys.GenerateX25519KeyPair()
	require.NoError(t, err)
	correctRecipient, err := keys.GenerateX25519KeyPair()
	require.NoError(t, err)

	recipientIdentity, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)
	recipientDID := did.Derive(recipientIdentity.PublicKeyBytes())

	resolver := did.NewStaticResolver(map[string][]byte{recipientDID: correctRecipient.PublicKeyBytes()})
	packer, _ := newTestPacker(t, resolver)

	token, err := packer.Pack(context.Background(), recipientDID, Body{Raw: []byte("hi")}, time.Hour, "")
	require.NoError(t, err)

	// The wrong recipient can't open the sealed box; this must not mark
	// mid seen, or the legitimate recipient's retry below would wrongly
	// see REPLAY instead of decrypting successfully.
	wrongUnpacker := NewUnpacker(wrongRecipient, store)
	_, _, err = wrongUnpacker.Unpack(context.Background(), token)
	assert.ErrorIs(t, err, oesp.ErrKexFailed)

	correctUnpacker := NewUnpacker(correctRecipient, store)
	plaintext, _, err := correctUnpacker.Unpack(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(plaintext))
}

func TestUnpack_ExpiryPolicy(t *testing.T) {
	unpacker, recipientX25519Pub := newTestUnpacker(t)
	recipientIdentity, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)
	recipientDID := did.Derive(recipientIdentity.PublicKeyBytes())

	resolver := did.NewStaticResolver(map[string][]byte{recipientDID: recipientX25519Pub})
	packer, _ := newTestPacker(t, resolver)

	issued := time.Now().Add(-20 * time.Second)
	packer.NowFn = func() time.Time { return issued }

	token, err := packer.Pack(context.Background(), recipientDID, Body{Raw: []byte("hi")}, time.Second, "")
	require.NoError(t, err)

	unpacker.Policy = verify.Policy{AllowExpired: false, MaxClockSkewSec: 3600}
	unpacker.NowFn = func() time.Time { return issued.Add(10 * time.Second) }
	_, _, err = unpacker.Unpack(context.Background(), token)
	assert.ErrorIs(t, err, oesp.ErrExpired)

	unpacker.Policy = verify.Policy{AllowExpired: true, MaxClockSkewSec: 3600}
	_, _, err = unpacker.Unpack(context.Background(), token)
	assert.NoError(t, err)
}

// tamperField decodes token, sets field to value in the envelope JSON,
// and re-encodes — without resigning, simulating an on-wire attacker.
func tamperField(t *testing.T, token, field, value string) string {
	t.Helper()
	body := strings.TrimPrefix(token, oesp.WirePrefix)
	raw, err := canonical.DecodeB64(body)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &m))
	m[field] = value

	out, err := json.Marshal(m)
	require.NoError(t, err)
	return oesp.WirePrefix + canonical.EncodeB64(out)
}

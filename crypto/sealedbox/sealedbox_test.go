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

package sealedbox

import (
	"testing"

	"github.com/oesp-project/oesp/crypto/keys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen_RoundTrip(t *testing.T) {
	recipient, err := keys.GenerateX25519KeyPair()
	require.NoError(t, err)

	sessionKey := make([]byte, 32)
	for i := range sessionKey {
		sessionKey[i] = byte(i)
	}
	info := []byte("oesp.envelope:mid-123")

	packet, err := Seal(recipient.PublicKeyBytes(), sessionKey, info)
	require.NoError(t, err)
	assert.NotEmpty(t, packet)

	got, err := Open(recipient.PrivateKeyECDH(), packet, info)
	require.NoError(t, err)
	assert.Equal(t, sessionKey, got)
}

func TestOpen_WrongInfoFails(t *testing.T) {
	recipient, err := keys.GenerateX25519KeyPair()
	require.NoError(t, err)

	sessionKey := []byte("0123456789abcdef0123456789abcdef")
	packet, err := Seal(recipient.PublicKeyBytes(), sessionKey, []byte("info-a"))
	require.NoError(t, err)

	_, err = Open(recipient.PrivateKeyECDH(), packet, []byte("info-b"))
	assert.Error(t, err)
}

func TestOpen_WrongKeyFails(t *testing.T) {
	recipient, err := keys.GenerateX25519KeyPair()
	require.NoError(t, err)
	other, err := keys.GenerateX25519KeyPair()
	require.NoError(t, err)

	sessionKey := []byte("session-key-32-bytes-long-enough")
	packet, err := Seal(recipient.PublicKeyBytes(), sessionKey, []byte("info"))
	require.NoError(t, err)

	_, err = Open(other.PrivateKeyECDH(), packet, []byte("info"))
	assert.Error(t, err)
}

func TestOpen_TruncatedPacketFails(t *testing.T) {
	recipient, err := keys.GenerateX25519KeyPair()
	require.NoError(t, err)

	_, err = Open(recipient.PrivateKeyECDH(), []byte("short"), []byte("info"))
	assert.Error(t, err)
}

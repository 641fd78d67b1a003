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

package keys

import (
	"testing"

	oespcrypto "github.com/oesp-project/oesp/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEd25519KeyPair_SignVerify(t *testing.T) {
	kp, err := GenerateEd25519KeyPair()
	require.NoError(t, err)
	assert.Equal(t, oespcrypto.KeyTypeEd25519, kp.Type())

	msg := []byte("hello oesp")
	sig, err := kp.Sign(msg)
	require.NoError(t, err)
	assert.NoError(t, kp.Verify(msg, sig))

	assert.Error(t, kp.Verify([]byte("tampered"), sig))
}

func TestEd25519KeyPair_FromSeed(t *testing.T) {
	kp, err := GenerateEd25519KeyPair()
	require.NoError(t, err)

	restored := NewEd25519KeyPairFromSeed(kp.Seed())
	assert.Equal(t, kp.PublicKeyBytes(), restored.PublicKeyBytes())
}

func TestVerifyDetached(t *testing.T) {
	kp, err := GenerateEd25519KeyPair()
	require.NoError(t, err)

	msg := []byte("detached verify")
	sig, err := kp.Sign(msg)
	require.NoError(t, err)

	assert.True(t, VerifyDetached(kp.PublicKeyBytes(), msg, sig))
	assert.False(t, VerifyDetached(kp.PublicKeyBytes(), []byte("other"), sig))
}

func TestX25519KeyPair_SignNotSupported(t *testing.T) {
	kp, err := GenerateX25519KeyPair()
	require.NoError(t, err)
	assert.Equal(t, oespcrypto.KeyTypeX25519, kp.Type())

	_, err = kp.Sign([]byte("x"))
	assert.ErrorIs(t, err, oespcrypto.ErrSignNotSupported)
	assert.ErrorIs(t, kp.Verify([]byte("x"), []byte("y")), oespcrypto.ErrVerifyNotSupported)
}

func TestX25519KeyPair_DeriveSharedSecret(t *testing.T) {
	alice, err := GenerateX25519KeyPair()
	require.NoError(t, err)
	bob, err := GenerateX25519KeyPair()
	require.NoError(t, err)

	secretA, err := alice.DeriveSharedSecret(bob.PublicKeyBytes())
	require.NoError(t, err)
	secretB, err := bob.DeriveSharedSecret(alice.PublicKeyBytes())
	require.NoError(t, err)

	assert.Equal(t, secretA, secretB)
	assert.Len(t, secretA, 32)
}

func TestX25519KeyPair_FromBytes(t *testing.T) {
	kp, err := GenerateX25519KeyPair()
	require.NoError(t, err)

	restored, err := NewX25519KeyPairFromBytes(kp.PrivateKeyECDH().Bytes())
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKeyBytes(), restored.PublicKeyBytes())
}

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
	"crypto"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	oespcrypto "github.com/oesp-project/oesp/crypto"
)

// X25519KeyPair holds an X25519 private key and its public key, used
// for sealed-box key exchange. It does not sign.
type X25519KeyPair struct {
	privateKey *ecdh.PrivateKey
	publicKey  *ecdh.PublicKey
	id         string
}

// GenerateX25519KeyPair generates a fresh X25519 key-exchange key pair.
func GenerateX25519KeyPair() (*X25519KeyPair, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("keys: generate x25519: %w", err)
	}
	return newX25519KeyPair(priv), nil
}

// NewX25519KeyPairFromBytes reconstructs a key pair from a 32-byte
// raw X25519 private scalar, as loaded from a key store.
func NewX25519KeyPairFromBytes(raw []byte) (*X25519KeyPair, error) {
	priv, err := ecdh.X25519().NewPrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("keys: parse x25519 private key: %w", err)
	}
	return newX25519KeyPair(priv), nil
}

func newX25519KeyPair(priv *ecdh.PrivateKey) *X25519KeyPair {
	pub := priv.PublicKey()
	hash := sha256.Sum256(pub.Bytes())
	return &X25519KeyPair{
		privateKey: priv,
		publicKey:  pub,
		id:         hex.EncodeToString(hash[:8]),
	}
}

func (kp *X25519KeyPair) PublicKey() crypto.PublicKey   { return kp.publicKey }
func (kp *X25519KeyPair) PrivateKey() crypto.PrivateKey { return kp.privateKey }
func (kp *X25519KeyPair) Type() oespcrypto.KeyType       { return oespcrypto.KeyTypeX25519 }
func (kp *X25519KeyPair) ID() string                     { return kp.id }

// PublicKeyBytes returns the raw 32-byte X25519 public key.
func (kp *X25519KeyPair) PublicKeyBytes() []byte {
	return kp.publicKey.Bytes()
}

// PrivateKeyECDH exposes the underlying *ecdh.PrivateKey, consumed by
// the sealedbox package's HPKE receiver setup.
func (kp *X25519KeyPair) PrivateKeyECDH() *ecdh.PrivateKey {
	return kp.privateKey
}

// Sign always fails: X25519 keys are for key agreement only.
func (kp *X25519KeyPair) Sign(message []byte) ([]byte, error) {
	return nil, oespcrypto.ErrSignNotSupported
}

// Verify always fails: X25519 keys are for key agreement only.
func (kp *X25519KeyPair) Verify(message, signature []byte) error {
	return oespcrypto.ErrVerifyNotSupported
}

// DeriveSharedSecret computes SHA-256 of the raw X25519 ECDH shared
// point with a peer's public key bytes. Exposed for callers that need
// a symmetric secret without going through the HPKE sealed-box path.
func (kp *X25519KeyPair) DeriveSharedSecret(peerPubBytes []byte) ([]byte, error) {
	peerPub, err := ecdh.X25519().NewPublicKey(peerPubBytes)
	if err != nil {
		return nil, fmt.Errorf("keys: parse peer x25519 public key: %w", err)
	}
	shared, err := kp.privateKey.ECDH(peerPub)
	if err != nil {
		return nil, fmt.Errorf("keys: ecdh: %w", err)
	}
	sum := sha256.Sum256(shared)
	return sum[:], nil
}

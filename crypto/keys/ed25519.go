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

// Package keys implements the two key-pair types OESP devices carry:
// an Ed25519 identity key (signing, and the seed of the device's DID)
// and an X25519 key-exchange key (sealed-box encryption).
package keys

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	oespcrypto "github.com/oesp-project/oesp/crypto"
)

// Ed25519KeyPair is a device's signing identity key pair.
type Ed25519KeyPair struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	id         string
}

// GenerateEd25519KeyPair generates a fresh Ed25519 identity key pair.
func GenerateEd25519KeyPair() (*Ed25519KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return newEd25519KeyPair(priv, pub), nil
}

// NewEd25519KeyPairFromSeed reconstructs a key pair from a 32-byte
// Ed25519 seed, as loaded from a key store.
func NewEd25519KeyPairFromSeed(seed []byte) *Ed25519KeyPair {
	priv := ed25519.NewKeyFromSeed(seed)
	return newEd25519KeyPair(priv, priv.Public().(ed25519.PublicKey))
}

func newEd25519KeyPair(priv ed25519.PrivateKey, pub ed25519.PublicKey) *Ed25519KeyPair {
	hash := sha256.Sum256(pub)
	return &Ed25519KeyPair{
		privateKey: priv,
		publicKey:  pub,
		id:         hex.EncodeToString(hash[:8]),
	}
}

func (kp *Ed25519KeyPair) PublicKey() crypto.PublicKey   { return kp.publicKey }
func (kp *Ed25519KeyPair) PrivateKey() crypto.PrivateKey { return kp.privateKey }
func (kp *Ed25519KeyPair) Type() oespcrypto.KeyType       { return oespcrypto.KeyTypeEd25519 }
func (kp *Ed25519KeyPair) ID() string                     { return kp.id }

// PublicKeyBytes returns the raw 32-byte Ed25519 public key.
func (kp *Ed25519KeyPair) PublicKeyBytes() []byte {
	return []byte(kp.publicKey)
}

// Seed returns the 32-byte seed this key pair was generated from.
func (kp *Ed25519KeyPair) Seed() []byte {
	return kp.privateKey.Seed()
}

func (kp *Ed25519KeyPair) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(kp.privateKey, message), nil
}

func (kp *Ed25519KeyPair) Verify(message, signature []byte) error {
	if !ed25519.Verify(kp.publicKey, message, signature) {
		return oespcrypto.ErrInvalidSignature
	}
	return nil
}

// VerifyDetached verifies a signature against a raw Ed25519 public key,
// without constructing a key pair. Used by the verifier, which only
// ever holds the sender's public key, never its private key.
func VerifyDetached(pub, message, signature []byte) bool {
	return ed25519.Verify(pub, message, signature)
}

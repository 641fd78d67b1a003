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

package crypto

import (
	"crypto"
	"errors"
)

// KeyType identifies the algorithm a KeyPair implements.
type KeyType string

const (
	// KeyTypeEd25519 is a device's signing identity key.
	KeyTypeEd25519 KeyType = "Ed25519"
	// KeyTypeX25519 is a device's key-exchange key.
	KeyTypeX25519 KeyType = "X25519"
)

// KeyPair is a generic asymmetric key pair. X25519 pairs implement
// Sign/Verify by returning ErrSignNotSupported/ErrVerifyNotSupported:
// key agreement keys don't sign.
type KeyPair interface {
	PublicKey() crypto.PublicKey
	PrivateKey() crypto.PrivateKey
	Type() KeyType
	Sign(message []byte) ([]byte, error)
	Verify(message, signature []byte) error
	ID() string
}

// KeyStorage persists key pairs by ID.
type KeyStorage interface {
	Store(id string, keyPair KeyPair) error
	Load(id string) (KeyPair, error)
	Delete(id string) error
	List() ([]string, error)
	Exists(id string) bool
}

// Common errors shared by every KeyPair implementation and KeyStorage.
var (
	ErrKeyNotFound        = errors.New("key not found")
	ErrInvalidKeyType     = errors.New("invalid key type")
	ErrKeyExists          = errors.New("key already exists")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrSignNotSupported   = errors.New("key agreement keys cannot sign")
	ErrVerifyNotSupported = errors.New("key agreement keys cannot verify signatures")
)

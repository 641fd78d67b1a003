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

// Package sealedbox implements OESP's "ek" field: an HPKE base-mode
// seal of the envelope's per-message session key to the recipient's
// X25519 public key. The sealed packet is self-contained — an
// ephemeral encapsulated key plus an AEAD ciphertext — so the
// recipient needs only its own static private key to recover the
// session key.
package sealedbox

import (
	"crypto/ecdh"
	"crypto/rand"
	"fmt"

	"github.com/cloudflare/circl/hpke"
)

// suite fixes the HPKE algorithm triple for every OESP sealed box:
// X25519 KEM, HKDF-SHA256, ChaCha20-Poly1305 AEAD.
func suite() hpke.Suite {
	return hpke.NewSuite(
		hpke.KEM_X25519_HKDF_SHA256,
		hpke.KDF_HKDF_SHA256,
		hpke.AEAD_ChaCha20Poly1305,
	)
}

// encLen is the X25519 HPKE KEM's encapsulated-key length.
const encLen = 32

// Seal encrypts sessionKey to the recipient's X25519 public key,
// binding info as associated data, and returns the packet carried in
// the envelope's ek field: enc (32 bytes) || ciphertext.
func Seal(recipientPub []byte, sessionKey, info []byte) ([]byte, error) {
	pub, err := ecdh.X25519().NewPublicKey(recipientPub)
	if err != nil {
		return nil, fmt.Errorf("sealedbox: parse recipient public key: %w", err)
	}

	kem := hpke.KEM_X25519_HKDF_SHA256.Scheme()
	rp, err := kem.UnmarshalBinaryPublicKey(pub.Bytes())
	if err != nil {
		return nil, fmt.Errorf("sealedbox: unmarshal recipient key: %w", err)
	}

	sender, err := suite().NewSender(rp, info)
	if err != nil {
		return nil, fmt.Errorf("sealedbox: new sender: %w", err)
	}

	enc, sealer, err := sender.Setup(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("sealedbox: sender setup: %w", err)
	}

	ct, err := sealer.Seal(sessionKey, info)
	if err != nil {
		return nil, fmt.Errorf("sealedbox: seal: %w", err)
	}

	packet := make([]byte, 0, len(enc)+len(ct))
	packet = append(packet, enc...)
	packet = append(packet, ct...)
	return packet, nil
}

// Open recovers the session key from a packet produced by Seal, using
// the recipient's X25519 private key. info must match what Seal used.
func Open(recipientPriv *ecdh.PrivateKey, packet, info []byte) ([]byte, error) {
	if len(packet) < encLen {
		return nil, fmt.Errorf("sealedbox: packet too short: %d bytes", len(packet))
	}
	enc := packet[:encLen]
	ct := packet[encLen:]

	kem := hpke.KEM_X25519_HKDF_SHA256.Scheme()
	skR, err := kem.UnmarshalBinaryPrivateKey(recipientPriv.Bytes())
	if err != nil {
		return nil, fmt.Errorf("sealedbox: unmarshal recipient private key: %w", err)
	}

	receiver, err := suite().NewReceiver(skR, info)
	if err != nil {
		return nil, fmt.Errorf("sealedbox: new receiver: %w", err)
	}

	opener, err := receiver.Setup(enc)
	if err != nil {
		return nil, fmt.Errorf("sealedbox: receiver setup: %w", err)
	}

	pt, err := opener.Open(ct, info)
	if err != nil {
		return nil, fmt.Errorf("sealedbox: open: %w", err)
	}
	return pt, nil
}

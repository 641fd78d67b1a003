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

// Package envelope implements pack and unpack: the sealing and
// opening of an OESP v1 envelope. Both sides build their signing and
// AEAD inputs from core/canonical, the single trust anchor shared
// with the verifier.
package envelope

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/oesp-project/oesp"
	"github.com/oesp-project/oesp/core/canonical"
	"github.com/oesp-project/oesp/core/verify"
	"github.com/oesp-project/oesp/crypto/keys"
	"github.com/oesp-project/oesp/crypto/sealedbox"
	"github.com/oesp-project/oesp/did"
)

// Identity is the sender's signing identity: an Ed25519 key pair plus
// the DID derived from it.
type Identity struct {
	KeyPair *keys.Ed25519KeyPair
	DID     string
}

// NewIdentity derives an Identity from an Ed25519 key pair.
func NewIdentity(kp *keys.Ed25519KeyPair) Identity {
	return Identity{KeyPair: kp, DID: did.Derive(kp.PublicKeyBytes())}
}

// RNG supplies the randomness Pack consumes: the session key, the
// message ID and the AEAD nonce. Tests can substitute a deterministic
// source.
type RNG interface {
	io.Reader
}

// Packer builds OESP tokens on behalf of one sender identity.
type Packer struct {
	Identity Identity
	Resolver did.Resolver
	RNG      RNG
	NowFn    func() time.Time
}

// NewPacker builds a Packer using crypto/rand and the wall clock.
func NewPacker(identity Identity, resolver did.Resolver) *Packer {
	return &Packer{
		Identity: identity,
		Resolver: resolver,
		RNG:      rand.Reader,
		NowFn:    time.Now,
	}
}

// Body is the application payload handed to Pack. Supply exactly one
// of Raw or Struct: Raw passes through verbatim, Struct is marshaled
// with compact JSON separators.
type Body struct {
	Raw    []byte
	Struct interface{}
}

func (b Body) bytes() ([]byte, error) {
	if b.Raw != nil {
		return b.Raw, nil
	}
	out, err := json.Marshal(b.Struct)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal body: %w", err)
	}
	return out, nil
}

// Pack seals body for toDID, returning the wire token "OESP1.<...>".
func (p *Packer) Pack(ctx context.Context, toDID string, body Body, ttl time.Duration, typ string) (string, error) {
	if typ == "" {
		typ = oesp.DefaultTyp
	}

	recipientPub, err := p.Resolver.ResolveX25519(ctx, toDID)
	if err != nil {
		return "", oesp.WithDetail(oesp.ErrResolveFailed, err.Error())
	}

	plaintext, err := body.bytes()
	if err != nil {
		return "", err
	}

	sessionKey := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(p.RNG, sessionKey); err != nil {
		return "", fmt.Errorf("envelope: generate session key: %w", err)
	}

	mid := make([]byte, 12)
	if _, err := io.ReadFull(p.RNG, mid); err != nil {
		return "", fmt.Errorf("envelope: generate mid: %w", err)
	}

	now := p.NowFn()
	env := oesp.Envelope{
		V:   oesp.EnvelopeVersion,
		Typ: typ,
		Mid: canonical.EncodeB64(mid),
		Sid: p.Identity.DID,
		Ts:  now.Unix(),
		Exp: now.Add(ttl).Unix(),
		From: oesp.From{
			DID: p.Identity.DID,
			Pub: canonical.EncodeB64(p.Identity.KeyPair.PublicKeyBytes()),
		},
		To:     oesp.To{DID: toDID},
		Enc:    oesp.AlgChaCha20Poly1305,
		Kex:    oesp.AlgX25519,
		SigAlg: oesp.AlgEd25519,
	}

	sealInfo := []byte(env.Mid + "|" + env.Sid + "|" + env.To.DID)
	ek, err := sealedbox.Seal(recipientPub, sessionKey, sealInfo)
	if err != nil {
		return "", oesp.WithDetail(oesp.ErrKexFailed, err.Error())
	}
	env.Ek = canonical.EncodeB64(ek)

	aad, err := canonical.JSON(env, "ct", "sig", "iv")
	if err != nil {
		return "", fmt.Errorf("envelope: compute aad: %w", err)
	}

	aead, err := chacha20poly1305.New(sessionKey)
	if err != nil {
		return "", fmt.Errorf("envelope: new aead: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := io.ReadFull(p.RNG, nonce); err != nil {
		return "", fmt.Errorf("envelope: generate nonce: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, aad)

	env.Iv = canonical.EncodeB64(nonce)
	env.Ct = canonical.EncodeB64(ciphertext)

	signingInput, err := verify.SigningInput(env, ciphertext)
	if err != nil {
		return "", fmt.Errorf("envelope: compute signing input: %w", err)
	}
	sig, err := p.Identity.KeyPair.Sign(signingInput)
	if err != nil {
		return "", fmt.Errorf("envelope: sign: %w", err)
	}
	env.Sig = canonical.EncodeB64(sig)

	wire, err := canonical.JSON(env)
	if err != nil {
		return "", fmt.Errorf("envelope: encode token: %w", err)
	}
	return oesp.WirePrefix + canonical.EncodeB64(wire), nil
}

// Unpacker opens OESP tokens on behalf of one recipient identity.
type Unpacker struct {
	X25519 *keys.X25519KeyPair
	Policy verify.Policy
	Replay verify.ReplayStore
	NowFn  func() time.Time
}

// NewUnpacker builds an Unpacker with the default verification policy.
func NewUnpacker(x25519 *keys.X25519KeyPair, replay verify.ReplayStore) *Unpacker {
	return &Unpacker{
		X25519: x25519,
		Policy: verify.DefaultPolicy(),
		Replay: replay,
		NowFn:  time.Now,
	}
}

// Unpack verifies token, opens the sealed session key, and decrypts
// the body. The returned VerifiedEnvelope carries the signer's DID.
func (u *Unpacker) Unpack(ctx context.Context, token string) ([]byte, *oesp.VerifiedEnvelope, error) {
	now := time.Now
	if u.NowFn != nil {
		now = u.NowFn
	}

	// Verify runs without a replay store: mark_seen must not fire until
	// the sealed box and AEAD both open successfully below (spec.md
	// §4.2 step 6), so the atomic CheckAndMark Verify would otherwise
	// use is split into an early Seen check and a late MarkSeen here.
	verified, err := verify.Verify(ctx, token, verify.Options{
		Policy: u.Policy,
		Now:    now,
	})
	if err != nil {
		return nil, nil, err
	}
	env := verified.Envelope

	if u.Replay != nil {
		seen, err := u.Replay.Seen(ctx, env.From.DID, env.Mid)
		if err != nil {
			return nil, nil, oesp.WithDetail(oesp.ErrStorageError, err.Error())
		}
		if seen {
			return nil, nil, oesp.ErrReplay
		}
	}

	ek, err := canonical.DecodeB64(env.Ek)
	if err != nil {
		return nil, nil, oesp.WithDetail(oesp.ErrInvalidFormat, "bad ek encoding")
	}
	sealInfo := []byte(env.Mid + "|" + env.Sid + "|" + env.To.DID)
	sessionKey, err := sealedbox.Open(ecdhPriv(u.X25519), ek, sealInfo)
	if err != nil {
		return nil, nil, oesp.WithDetail(oesp.ErrKexFailed, err.Error())
	}

	aad, err := canonical.JSON(env, "ct", "sig", "iv")
	if err != nil {
		return nil, nil, fmt.Errorf("envelope: compute aad: %w", err)
	}
	ciphertext, err := canonical.DecodeB64(env.Ct)
	if err != nil {
		return nil, nil, oesp.WithDetail(oesp.ErrInvalidFormat, "bad ct encoding")
	}
	nonce, err := canonical.DecodeB64(env.Iv)
	if err != nil {
		return nil, nil, oesp.WithDetail(oesp.ErrInvalidFormat, "bad iv encoding")
	}

	aead, err := chacha20poly1305.New(sessionKey)
	if err != nil {
		return nil, nil, fmt.Errorf("envelope: new aead: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, nil, oesp.WithDetail(oesp.ErrDecryptionFailed, err.Error())
	}

	if u.Replay != nil {
		if err := u.Replay.MarkSeen(ctx, env.From.DID, env.Mid, time.Unix(env.Exp, 0)); err != nil {
			return nil, nil, oesp.WithDetail(oesp.ErrStorageError, err.Error())
		}
	}

	return plaintext, verified, nil
}

func ecdhPriv(kp *keys.X25519KeyPair) *ecdh.PrivateKey {
	return kp.PrivateKeyECDH()
}

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

// Package verify runs the ordered checks that turn a wire token back
// into a trusted envelope: format, policy, expiry, DID binding,
// signature, and replay — in that order, first failure wins.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oesp-project/oesp"
	"github.com/oesp-project/oesp/core/canonical"
	"github.com/oesp-project/oesp/crypto/keys"
	"github.com/oesp-project/oesp/did"
)

// Policy configures which checks a Verify call enforces.
type Policy struct {
	// AllowExpired, when false, rejects envelopes whose exp has passed.
	AllowExpired bool
	// MaxClockSkewSec bounds how far ts may diverge from now.
	MaxClockSkewSec int64
	// RequireKnownDevice rejects envelopes from a DID the caller's
	// KnownDevices set doesn't contain.
	RequireKnownDevice bool
	KnownDevices       map[string]struct{}
	// EnforceTyp, if non-empty, rejects any envelope whose typ differs.
	EnforceTyp string
}

// DefaultPolicy matches the OESP default: expired envelopes accepted,
// a five-minute clock skew budget, no device allowlist, no typ pin.
func DefaultPolicy() Policy {
	return Policy{
		AllowExpired:    true,
		MaxClockSkewSec: 300,
	}
}

// ReplayStore is the contract Verify and the on-device Unpacker need:
// an atomic check-and-mark for Verify's own replay step, plus the
// check and mark split apart for callers (Unpacker.Unpack) that must
// defer marking a message seen until work past the replay check has
// actually succeeded. Scoped per sender: (from, mid), never mid alone.
type ReplayStore interface {
	CheckAndMark(ctx context.Context, from, mid string, exp time.Time) (alreadySeen bool, err error)
	Seen(ctx context.Context, from, mid string) (bool, error)
	MarkSeen(ctx context.Context, from, mid string, exp time.Time) error
}

// Options configures one Verify call.
type Options struct {
	Policy Policy
	// Replay is optional; when nil, replay detection is skipped.
	Replay ReplayStore
	// Now defaults to time.Now.
	Now func() time.Time
}

// SigningInput reproduces the exact bytes an envelope's signature
// covers: canonical_json(envelope \ {sig}) followed by the raw
// (already-decoded) ciphertext bytes, appended without re-encoding.
func SigningInput(env oesp.Envelope, ciphertext []byte) ([]byte, error) {
	body, err := canonical.JSON(env, "sig")
	if err != nil {
		return nil, fmt.Errorf("verify: canonicalize signing input: %w", err)
	}
	out := make([]byte, 0, len(body)+len(ciphertext))
	out = append(out, body...)
	out = append(out, ciphertext...)
	return out, nil
}

// Verify runs the full check sequence against a wire token and
// returns the envelope plus signer DID on success.
func Verify(ctx context.Context, token string, opts Options) (*oesp.VerifiedEnvelope, error) {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	// 1. Token prefix, base64url, JSON, schema.
	env, err := parseToken(token)
	if err != nil {
		return nil, err
	}

	// 2. enforce_typ.
	if opts.Policy.EnforceTyp != "" && env.Typ != opts.Policy.EnforceTyp {
		return nil, oesp.WithDetail(oesp.ErrInvalidFormat, "typ mismatch")
	}

	// 3. Expiry and skew.
	wall := now()
	if !opts.Policy.AllowExpired && env.Exp < wall.Unix() {
		return nil, oesp.ErrExpired
	}
	skew := wall.Unix() - env.Ts
	if skew < 0 {
		skew = -skew
	}
	if opts.Policy.MaxClockSkewSec > 0 && skew > opts.Policy.MaxClockSkewSec {
		return nil, oesp.ErrClockSkew
	}

	// Enumerated algorithms: reject anything this verifier can't
	// actually check rather than silently skipping the signature
	// check, which the checks-in-order list implies but never states.
	if env.Enc != oesp.AlgChaCha20Poly1305 || env.Kex != oesp.AlgX25519 || env.SigAlg != oesp.AlgEd25519 {
		return nil, oesp.ErrUnsupportedAlg
	}

	if opts.Policy.RequireKnownDevice {
		if _, ok := opts.Policy.KnownDevices[env.From.DID]; !ok {
			return nil, oesp.WithDetail(oesp.ErrUnknownDevice, env.From.DID)
		}
	}

	// 4. derive_did(decode(from.pub)) == from.did, and sid must agree.
	pub, err := canonical.DecodeB64(env.From.Pub)
	if err != nil {
		return nil, oesp.WithDetail(oesp.ErrInvalidFormat, "bad from.pub encoding")
	}
	if !did.Matches(env.From.DID, pub) || env.From.DID != env.Sid {
		return nil, oesp.ErrInvalidDID
	}

	// 5. Signature.
	sig, err := canonical.DecodeB64(env.Sig)
	if err != nil {
		return nil, oesp.WithDetail(oesp.ErrInvalidFormat, "bad sig encoding")
	}
	ciphertext, err := canonical.DecodeB64(env.Ct)
	if err != nil {
		return nil, oesp.WithDetail(oesp.ErrInvalidFormat, "bad ct encoding")
	}
	signingInput, err := SigningInput(env, ciphertext)
	if err != nil {
		return nil, err
	}
	if !keys.VerifyDetached(pub, signingInput, sig) {
		return nil, oesp.ErrInvalidSignature
	}

	// 6. Replay.
	if opts.Replay != nil {
		expiry := time.Unix(env.Exp, 0)
		seen, err := opts.Replay.CheckAndMark(ctx, env.From.DID, env.Mid, expiry)
		if err != nil {
			return nil, oesp.WithDetail(oesp.ErrStorageError, err.Error())
		}
		if seen {
			return nil, oesp.ErrReplay
		}
	}

	return &oesp.VerifiedEnvelope{Envelope: env, SignerDID: env.From.DID}, nil
}

func parseToken(token string) (oesp.Envelope, error) {
	var env oesp.Envelope
	if !strings.HasPrefix(token, oesp.WirePrefix) {
		return env, oesp.WithDetail(oesp.ErrInvalidFormat, "missing OESP1. prefix")
	}
	body := strings.TrimPrefix(token, oesp.WirePrefix)

	raw, err := canonical.DecodeB64(body)
	if err != nil {
		return env, oesp.WithDetail(oesp.ErrInvalidFormat, "bad base64url body")
	}

	if err := json.Unmarshal(raw, &env); err != nil {
		return env, oesp.WithDetail(oesp.ErrInvalidFormat, "bad envelope json")
	}

	if env.V != oesp.EnvelopeVersion {
		return env, oesp.WithDetail(oesp.ErrInvalidFormat, "unsupported envelope version")
	}
	if env.From.DID == "" || env.To.DID == "" || env.Mid == "" {
		return env, oesp.WithDetail(oesp.ErrInvalidFormat, "missing required field")
	}
	return env, nil
}

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

// Package oesp defines the OESP v1 envelope: the signed, encrypted,
// timestamped unit exchanged between devices over any bearer.
package oesp

// Version of this module.
const Version = "0.1.0"

// WirePrefix is the literal token prefix preceding the base64url body.
const WirePrefix = "OESP1."

// EnvelopeVersion is the only supported envelope format version.
const EnvelopeVersion = 1

// DefaultTyp is the envelope type tag used when the caller doesn't
// specify one.
const DefaultTyp = "oesp.envelope"

const (
	AlgChaCha20Poly1305 = "CHACHA20-POLY1305"
	AlgX25519           = "X25519"
	AlgEd25519          = "Ed25519"
)

// From identifies the envelope's sender: a DID and the Ed25519 public
// key it was derived from.
type From struct {
	DID string `json:"did"`
	Pub string `json:"pub"`
}

// To identifies the envelope's intended recipient by DID.
type To struct {
	DID string `json:"did"`
}

// Envelope is the OESP v1 signed, encrypted message object. Field
// names and JSON tags are the wire contract — do not rename without
// bumping V.
type Envelope struct {
	V      int    `json:"v"`
	Typ    string `json:"typ"`
	Mid    string `json:"mid"`
	Sid    string `json:"sid"`
	Ts     int64  `json:"ts"`
	Exp    int64  `json:"exp"`
	From   From   `json:"from"`
	To     To     `json:"to"`
	Enc    string `json:"enc"`
	Kex    string `json:"kex"`
	Ek     string `json:"ek"`
	Iv     string `json:"iv"`
	Ct     string `json:"ct"`
	SigAlg string `json:"sig_alg"`
	Sig    string `json:"sig"`
	Tag    string `json:"tag,omitempty"`
}

// VerifiedEnvelope is returned by the verifier on success: the parsed
// envelope plus the DID that produced a valid signature over it.
type VerifiedEnvelope struct {
	Envelope  Envelope
	SignerDID string
}

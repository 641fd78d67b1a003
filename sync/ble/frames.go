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

// Package ble implements the OESP BLE framing protocol: a single
// outstanding-ACK cooperative scheduler layered over an abstract byte
// transport. The radio itself is out of scope; Link is the seam.
package ble

// ServiceUUID and characteristic UUIDs of the OESP GATT service.
const (
	ServiceUUID  = "e95f1234-5678-4321-8765-abcdef012345"
	CharRXUUID   = "e95f1235-5678-4321-8765-abcdef012345" // central -> peripheral, write
	CharTXUUID   = "e95f1236-5678-4321-8765-abcdef012345" // peripheral -> central, notify
	CharMetaUUID = "e95f1237-5678-4321-8765-abcdef012345" // read-only meta
)

// FrameType tags every frame on the wire.
type FrameType string

const (
	FrameHello FrameType = "HELLO"
	FrameStart FrameType = "START"
	FrameChunk FrameType = "CHUNK"
	FrameEnd   FrameType = "END"
	FrameAck   FrameType = "ACK"
	FrameNack  FrameType = "NACK"
)

// NACK reason codes.
const (
	ReasonBadHash = "BAD_HASH"
	ReasonTimeout = "TIMEOUT"
	ReasonBadSeq  = "BAD_SEQ"
	ReasonUnknown = "UNKNOWN"
)

// base carries the two fields present on every frame.
type base struct {
	T   FrameType `json:"t"`
	Sid string    `json:"sid"`
}

// HelloFrame announces a device's presence and capabilities ahead of
// any upload; OESP's BLE transport never requires it, but a
// peripheral may emit one as a liveness probe.
type HelloFrame struct {
	base
	Ver  int                    `json:"ver"`
	DID  string                 `json:"did"`
	Caps map[string]interface{} `json:"caps,omitempty"`
}

// StartFrame opens a session carrying one token.
type StartFrame struct {
	base
	Mid      string `json:"mid"`
	TotalLen int    `json:"totalLen"`
	Parts    int    `json:"parts"`
	SHA256   string `json:"sha256"`
}

// ChunkFrame carries one base64-encoded slice of the token, tagged by
// sequence number so the receiver can reassemble out of order.
type ChunkFrame struct {
	base
	Seq  int    `json:"seq"`
	Data string `json:"data"`
}

// EndFrame closes a session; the receiver verifies reassembly here.
type EndFrame struct {
	base
}

// AckFrame acknowledges a START, CHUNK, or END. Ack is -1 for
// START/END, else the acknowledged chunk's seq.
type AckFrame struct {
	base
	Ack int `json:"ack"`
}

// NackFrame rejects a session at frame At (-1 for a whole-session
// failure like a bad reassembly hash) with a reason code.
type NackFrame struct {
	base
	At     int    `json:"at"`
	Reason string `json:"reason"`
}

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

package ble

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"sync"
)

type recvSession struct {
	expectedSHA   string
	expectedParts int
	chunks        [][]byte
	received      map[int]struct{}
}

// Receiver reassembles tokens carried over one BLE link: it tracks at
// most one in-flight session per sid, reassembling CHUNKs by seq and
// verifying the sha256 carried in START against the joined payload at
// END.
type Receiver struct {
	link    Link
	OnToken func(token string)

	mu       sync.Mutex
	sessions map[string]*recvSession
}

// NewReceiver builds a Receiver bound to link; onToken is invoked
// synchronously from the link's notify callback for every
// successfully reassembled token.
func NewReceiver(link Link, onToken func(token string)) *Receiver {
	r := &Receiver{link: link, OnToken: onToken, sessions: make(map[string]*recvSession)}
	link.OnNotify(r.onNotify)
	return r
}

func (r *Receiver) onNotify(data []byte) {
	var b base
	if err := json.Unmarshal(data, &b); err != nil {
		return
	}
	switch b.T {
	case FrameStart:
		r.handleStart(data)
	case FrameChunk:
		r.handleChunk(data)
	case FrameEnd:
		r.handleEnd(data)
	}
}

func (r *Receiver) handleStart(data []byte) {
	var f StartFrame
	if err := json.Unmarshal(data, &f); err != nil || f.Parts < 0 {
		return
	}
	r.mu.Lock()
	r.sessions[f.Sid] = &recvSession{
		expectedSHA:   f.SHA256,
		expectedParts: f.Parts,
		chunks:        make([][]byte, f.Parts),
		received:      make(map[int]struct{}, f.Parts),
	}
	r.mu.Unlock()
	r.ack(f.Sid, -1)
}

func (r *Receiver) handleChunk(data []byte) {
	var f ChunkFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return
	}
	r.mu.Lock()
	sess, ok := r.sessions[f.Sid]
	if ok && f.Seq >= 0 && f.Seq < len(sess.chunks) {
		if raw, err := base64.RawURLEncoding.DecodeString(f.Data); err == nil {
			sess.chunks[f.Seq] = raw
			sess.received[f.Seq] = struct{}{}
		}
	}
	r.mu.Unlock()
	if ok {
		r.ack(f.Sid, f.Seq)
	}
}

func (r *Receiver) handleEnd(data []byte) {
	var f EndFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return
	}
	r.mu.Lock()
	sess, ok := r.sessions[f.Sid]
	if ok {
		delete(r.sessions, f.Sid)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	if len(sess.received) != sess.expectedParts {
		r.nack(f.Sid, -1, ReasonBadSeq)
		return
	}

	var buf bytes.Buffer
	for _, c := range sess.chunks {
		buf.Write(c)
	}
	sum := sha256.Sum256(buf.Bytes())
	if base64.StdEncoding.EncodeToString(sum[:]) != sess.expectedSHA {
		r.nack(f.Sid, -1, ReasonBadHash)
		return
	}

	r.ack(f.Sid, -1)
	if r.OnToken != nil {
		r.OnToken(buf.String())
	}
}

func (r *Receiver) ack(sid string, ack int) {
	f := AckFrame{base: base{T: FrameAck, Sid: sid}, Ack: ack}
	raw, err := json.Marshal(f)
	if err != nil {
		return
	}
	_ = r.link.WriteRX(raw)
}

func (r *Receiver) nack(sid string, at int, reason string) {
	f := NackFrame{base: base{T: FrameNack, Sid: sid}, At: at, Reason: reason}
	raw, err := json.Marshal(f)
	if err != nil {
		return
	}
	_ = r.link.WriteRX(raw)
}

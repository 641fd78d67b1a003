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
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// mockLink wires two mockLinks back to back: a WriteRX on one side
// invokes the other side's registered notify callback synchronously.
type mockLink struct {
	peer *mockLink
	cb   func([]byte)
}

func (m *mockLink) WriteRX(data []byte) error {
	if m.peer != nil && m.peer.cb != nil {
		m.peer.cb(data)
	}
	return nil
}

func (m *mockLink) OnNotify(cb func([]byte)) { m.cb = cb }
func (m *mockLink) GetMTUHint() (int, bool)  { return 0, false }

func pairedLinks() (a, b *mockLink) {
	a = &mockLink{}
	b = &mockLink{}
	a.peer = b
	b.peer = a
	return a, b
}

func TestSendToken_RoundTrip(t *testing.T) {
	senderLink, receiverLink := pairedLinks()

	var got string
	receiver := NewReceiver(receiverLink, func(token string) { got = token })
	_ = receiver
	sender := NewSender(senderLink)
	sender.MaxChunkBytes = 8

	token := strings.Repeat("a", 37)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, sender.SendToken(ctx, token))
	require.Equal(t, token, got)
}

func TestSendToken_SmallerThanOneChunk(t *testing.T) {
	senderLink, receiverLink := pairedLinks()

	var got string
	NewReceiver(receiverLink, func(token string) { got = token })
	sender := NewSender(senderLink)

	token := "hi"
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, sender.SendToken(ctx, token))
	require.Equal(t, token, got)
}

func TestSendToken_NoAckTimesOut(t *testing.T) {
	link := &mockLink{} // no peer: WriteRX is a silent no-op, so no ACK ever arrives
	sender := NewSender(link)
	sender.Timeout = 10 * time.Millisecond
	sender.Retries = 2

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := sender.SendToken(ctx, "hello")
	require.Error(t, err)
}

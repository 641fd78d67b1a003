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

// Link is the abstract byte transport a Sender or Receiver runs over.
// A real implementation writes to the RX characteristic and delivers
// TX notifications through the registered callback; this package
// never touches a radio directly.
type Link interface {
	// WriteRX sends one frame's raw bytes to the peer.
	WriteRX(data []byte) error
	// OnNotify registers the callback invoked for every frame the
	// peer sends. A Link has exactly one active callback at a time;
	// registering again replaces it.
	OnNotify(cb func(data []byte))
	// GetMTUHint reports the link's negotiated MTU, if known, so a
	// Sender can size its chunks to avoid fragmentation.
	GetMTUHint() (int, bool)
}

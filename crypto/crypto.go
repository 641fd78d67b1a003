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


// Package crypto defines the key-pair and key-storage abstractions
// shared by OESP's signing and key-exchange subpackages.
// Implementations live in the subpackages:
//   - crypto/keys: Ed25519 identity and X25519 key-exchange pairs
//   - crypto/storage: file-backed and in-memory key storage
//   - crypto/sealedbox: HPKE-based envelope sealing over X25519
package crypto
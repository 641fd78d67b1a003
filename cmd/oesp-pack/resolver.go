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

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/oesp-project/oesp/core/canonical"
	"github.com/oesp-project/oesp/did"
)

// buildResolver resolves the recipient's X25519 key from a JSON file
// mapping DID to base64url-encoded X25519 public keys (the format a
// paired-device address book would export), optionally overlaid with
// a single directly supplied key for toDID.
func buildResolver(toDID, toPubB64, resolverPath string) (did.Resolver, error) {
	table := make(map[string][]byte)

	if resolverPath != "" {
		raw, err := os.ReadFile(resolverPath)
		if err != nil {
			return nil, fmt.Errorf("read resolver file: %w", err)
		}
		var entries map[string]string
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, fmt.Errorf("parse resolver file: %w", err)
		}
		for recipientDID, pubB64 := range entries {
			pub, err := canonical.DecodeB64(pubB64)
			if err != nil {
				return nil, fmt.Errorf("resolver file: bad key for %s: %w", recipientDID, err)
			}
			table[recipientDID] = pub
		}
	}

	if toPubB64 != "" {
		pub, err := canonical.DecodeB64(toPubB64)
		if err != nil {
			return nil, fmt.Errorf("decode --to-pub: %w", err)
		}
		table[toDID] = pub
	}

	return did.NewStaticResolver(table), nil
}

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
	"fmt"
	"path/filepath"
	"strings"

	"github.com/oesp-project/oesp/core/envelope"
	oespcrypto "github.com/oesp-project/oesp/crypto"
	"github.com/oesp-project/oesp/crypto/keys"
	cryptostorage "github.com/oesp-project/oesp/crypto/storage"
)

// identityKeyStorage opens a crypto/storage.KeyStorage rooted at the
// identity file's parent directory — the same layout
// config.KeyStoreConfig.Directory names for a deployed keystore — and
// resolves the file's base name (extension stripped) as the key ID the
// device's Ed25519 identity is stored under.
func identityKeyStorage(path string) (oespcrypto.KeyStorage, string, error) {
	dir := filepath.Dir(path)
	id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if id == "" {
		return nil, "", fmt.Errorf("identity path %q has no usable key id", path)
	}
	ks, err := cryptostorage.NewFileKeyStorage(dir)
	if err != nil {
		return nil, "", fmt.Errorf("open key storage: %w", err)
	}
	return ks, id, nil
}

func loadIdentity(path string) (envelope.Identity, error) {
	ks, id, err := identityKeyStorage(path)
	if err != nil {
		return envelope.Identity{}, err
	}
	kp, err := ks.Load(id)
	if err != nil {
		return envelope.Identity{}, fmt.Errorf("load identity: %w", err)
	}
	ed, ok := kp.(*keys.Ed25519KeyPair)
	if !ok {
		return envelope.Identity{}, fmt.Errorf("load identity: key %q is type %s, not Ed25519", id, kp.Type())
	}
	return envelope.NewIdentity(ed), nil
}

func generateIdentity(path string) (envelope.Identity, error) {
	ks, id, err := identityKeyStorage(path)
	if err != nil {
		return envelope.Identity{}, err
	}
	kp, err := keys.GenerateEd25519KeyPair()
	if err != nil {
		return envelope.Identity{}, fmt.Errorf("generate identity: %w", err)
	}
	if err := ks.Store(id, kp); err != nil {
		return envelope.Identity{}, fmt.Errorf("store identity: %w", err)
	}
	return envelope.NewIdentity(kp), nil
}

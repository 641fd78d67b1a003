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

package storage

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	oespcrypto "github.com/oesp-project/oesp/crypto"
	"github.com/oesp-project/oesp/crypto/keys"
)

// fileKeyStorage implements KeyStorage by writing one file per key to
// a directory, each holding the key's type and raw private material.
type fileKeyStorage struct {
	directory string
	mu        sync.RWMutex
}

// keyFileData is the on-disk representation of a stored key pair.
type keyFileData struct {
	Type    oespcrypto.KeyType `json:"type"`
	DataB64 string             `json:"data_b64"`
	ID      string             `json:"id"`
}

// NewFileKeyStorage creates a key storage rooted at directory, which
// is created with owner-only permissions if it does not already exist.
func NewFileKeyStorage(directory string) (oespcrypto.KeyStorage, error) {
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return nil, fmt.Errorf("crypto/storage: create key directory: %w", err)
	}
	return &fileKeyStorage{directory: directory}, nil
}

// validateKeyID rejects IDs that could escape the storage directory.
func validateKeyID(id string) error {
	if id == "" || strings.Contains(id, "/") || strings.Contains(id, "\\") || strings.Contains(id, "..") {
		return fmt.Errorf("crypto/storage: invalid key id %q", id)
	}
	return nil
}

func (s *fileKeyStorage) path(id string) string {
	return filepath.Join(s.directory, id+".key")
}

// Store writes keyPair's raw private material to id's key file. Only
// Ed25519 and X25519 pairs are supported; both expose their private
// scalar as raw bytes via the concrete types in package keys.
func (s *fileKeyStorage) Store(id string, keyPair oespcrypto.KeyPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validateKeyID(id); err != nil {
		return err
	}

	var raw []byte
	switch kp := keyPair.(type) {
	case *keys.Ed25519KeyPair:
		raw = kp.Seed()
	case *keys.X25519KeyPair:
		raw = kp.PrivateKeyECDH().Bytes()
	default:
		return fmt.Errorf("%w: %T", oespcrypto.ErrInvalidKeyType, keyPair)
	}

	fileData := keyFileData{
		Type:    keyPair.Type(),
		DataB64: base64.StdEncoding.EncodeToString(raw),
		ID:      keyPair.ID(),
	}
	jsonData, err := json.MarshalIndent(fileData, "", "  ")
	if err != nil {
		return fmt.Errorf("crypto/storage: marshal key file: %w", err)
	}
	if err := os.WriteFile(s.path(id), jsonData, 0o600); err != nil {
		return fmt.Errorf("crypto/storage: write key file: %w", err)
	}
	return nil
}

// Load reconstructs the key pair stored under id.
func (s *fileKeyStorage) Load(id string) (oespcrypto.KeyPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := validateKeyID(id); err != nil {
		return nil, err
	}

	jsonData, err := os.ReadFile(s.path(id))
	if os.IsNotExist(err) {
		return nil, oespcrypto.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("crypto/storage: read key file: %w", err)
	}

	var fileData keyFileData
	if err := json.Unmarshal(jsonData, &fileData); err != nil {
		return nil, fmt.Errorf("crypto/storage: unmarshal key file: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(fileData.DataB64)
	if err != nil {
		return nil, fmt.Errorf("crypto/storage: decode key data: %w", err)
	}

	switch fileData.Type {
	case oespcrypto.KeyTypeEd25519:
		return keys.NewEd25519KeyPairFromSeed(raw), nil
	case oespcrypto.KeyTypeX25519:
		return keys.NewX25519KeyPairFromBytes(raw)
	default:
		return nil, fmt.Errorf("%w: %s", oespcrypto.ErrInvalidKeyType, fileData.Type)
	}
}

// Delete removes id's key file.
func (s *fileKeyStorage) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validateKeyID(id); err != nil {
		return err
	}
	if err := os.Remove(s.path(id)); err != nil {
		if os.IsNotExist(err) {
			return oespcrypto.ErrKeyNotFound
		}
		return fmt.Errorf("crypto/storage: delete key file: %w", err)
	}
	return nil
}

// List returns every stored key ID, sorted.
func (s *fileKeyStorage) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.directory)
	if err != nil {
		return nil, fmt.Errorf("crypto/storage: read key directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".key") {
			ids = append(ids, strings.TrimSuffix(entry.Name(), ".key"))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Exists reports whether id has a key file.
func (s *fileKeyStorage) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := validateKeyID(id); err != nil {
		return false
	}
	_, err := os.Stat(s.path(id))
	return err == nil
}

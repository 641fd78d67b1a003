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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateIdentity_LoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device-a.identity")

	generated, err := generateIdentity(path)
	require.NoError(t, err)
	assert.NotEmpty(t, generated.DID)

	loaded, err := loadIdentity(path)
	require.NoError(t, err)
	assert.Equal(t, generated.DID, loaded.DID)
	assert.Equal(t, generated.KeyPair.PublicKeyBytes(), loaded.KeyPair.PublicKeyBytes())
}

func TestLoadIdentity_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonexistent.identity")
	_, err := loadIdentity(path)
	assert.Error(t, err)
}

func TestGenerateIdentity_DistinctIDsDontCollide(t *testing.T) {
	dir := t.TempDir()

	a, err := generateIdentity(filepath.Join(dir, "device-a.identity"))
	require.NoError(t, err)
	b, err := generateIdentity(filepath.Join(dir, "device-b.identity"))
	require.NoError(t, err)

	assert.NotEqual(t, a.DID, b.DID)

	loadedA, err := loadIdentity(filepath.Join(dir, "device-a.identity"))
	require.NoError(t, err)
	assert.Equal(t, a.DID, loadedA.DID)
}

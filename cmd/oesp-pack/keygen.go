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

	"github.com/spf13/cobra"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen <identity-file>",
	Short: "Generate a new Ed25519 signing identity",
	Long: `Generate a fresh Ed25519 identity key pair, store its seed as a
JSON key record named after identity-file (in its directory, as
<name without extension>.key), and print the device's derived OESP DID.`,
	Args: cobra.ExactArgs(1),
	RunE: runKeygen,
}

var keygenForce bool

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().BoolVar(&keygenForce, "force", false, "overwrite an existing identity file")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	path := args[0]
	if !keygenForce {
		if _, err := loadIdentity(path); err == nil {
			return fmt.Errorf("%s already exists; pass --force to overwrite", path)
		}
	}

	id, err := generateIdentity(path)
	if err != nil {
		return err
	}
	fmt.Printf("identity: %s\n", path)
	fmt.Printf("did:      %s\n", id.DID)
	return nil
}

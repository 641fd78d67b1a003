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
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/oesp-project/oesp/core/envelope"
)

var sealCmd = &cobra.Command{
	Use:   "seal",
	Short: "Seal a message into an OESP wire token",
	Long: `Seal reads a plaintext message, signs and encrypts it for the
recipient named by --to, and writes the resulting OESP1.<...> token.`,
	Args: cobra.NoArgs,
	RunE: runSeal,
}

var (
	sealIdentityPath string
	sealTo           string
	sealToPub        string
	sealResolverPath string
	sealIn           string
	sealOut          string
	sealTTL          time.Duration
	sealTyp          string
)

func init() {
	rootCmd.AddCommand(sealCmd)

	sealCmd.Flags().StringVar(&sealIdentityPath, "identity", "", "path to the sender's identity file (required)")
	sealCmd.Flags().StringVar(&sealTo, "to", "", "recipient device DID (required)")
	sealCmd.Flags().StringVar(&sealToPub, "to-pub", "", "recipient's X25519 public key, base64url")
	sealCmd.Flags().StringVar(&sealResolverPath, "resolver", "", "path to a DID-to-X25519-key JSON table")
	sealCmd.Flags().StringVar(&sealIn, "in", "", "input file (default stdin)")
	sealCmd.Flags().StringVar(&sealOut, "out", "", "output file (default stdout)")
	sealCmd.Flags().DurationVar(&sealTTL, "ttl", 24*time.Hour, "envelope time-to-live")
	sealCmd.Flags().StringVar(&sealTyp, "typ", "", "envelope type tag (default oesp.envelope)")

	_ = sealCmd.MarkFlagRequired("identity")
	_ = sealCmd.MarkFlagRequired("to")
}

func runSeal(cmd *cobra.Command, args []string) error {
	id, err := loadIdentity(sealIdentityPath)
	if err != nil {
		return err
	}

	resolver, err := buildResolver(sealTo, sealToPub, sealResolverPath)
	if err != nil {
		return err
	}

	body, err := readInput(sealIn)
	if err != nil {
		return err
	}

	packer := envelope.NewPacker(id, resolver)
	token, err := packer.Pack(context.Background(), sealTo, envelope.Body{Raw: body}, sealTTL, sealTyp)
	if err != nil {
		return fmt.Errorf("seal: %w", err)
	}

	return writeOutput(sealOut, token)
}

func readInput(path string) ([]byte, error) {
	if path == "" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func writeOutput(path, token string) error {
	if path == "" {
		fmt.Println(token)
		return nil
	}
	return os.WriteFile(path, []byte(token+"\n"), 0o644)
}

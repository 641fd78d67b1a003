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
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/oesp-project/oesp"
	"github.com/oesp-project/oesp/core/verify"
)

var rootCmd = &cobra.Command{
	Use:   "oesp-verify [token]",
	Short: "Verify an OESP wire token without decrypting it",
	Long: `oesp-verify runs the full ordered check sequence against a wire
token — format, expiry and clock skew, algorithm support, DID binding,
and signature — and prints the verified envelope as JSON. It never
opens the sealed body; that requires the recipient's X25519 key.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runVerify,
}

var (
	verifyIn              string
	verifyAllowExpired     bool
	verifyMaxClockSkewSec  int64
	verifyEnforceTyp       string
)

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.Flags().StringVar(&verifyIn, "in", "", "read the token from a file instead of the argument or stdin")
	rootCmd.Flags().BoolVar(&verifyAllowExpired, "allow-expired", true, "accept envelopes whose exp has passed")
	rootCmd.Flags().Int64Var(&verifyMaxClockSkewSec, "max-clock-skew", 300, "maximum allowed |now - ts| in seconds, 0 disables the check")
	rootCmd.Flags().StringVar(&verifyEnforceTyp, "enforce-typ", "", "reject any envelope whose typ differs")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runVerify(cmd *cobra.Command, args []string) error {
	token, err := readToken(args)
	if err != nil {
		return err
	}

	policy := verify.Policy{
		AllowExpired:    verifyAllowExpired,
		MaxClockSkewSec: verifyMaxClockSkewSec,
		EnforceTyp:      verifyEnforceTyp,
	}

	verified, err := verify.Verify(context.Background(), token, verify.Options{Policy: policy})
	if err != nil {
		if oerr, ok := err.(*oesp.Error); ok {
			fmt.Fprintf(os.Stderr, "verification failed: %s: %s\n", oerr.Code, oerr.Message)
			os.Exit(1)
		}
		return err
	}

	out, err := json.MarshalIndent(verified, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal verified envelope: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func readToken(args []string) (string, error) {
	if verifyIn != "" {
		raw, err := os.ReadFile(verifyIn)
		if err != nil {
			return "", fmt.Errorf("read --in: %w", err)
		}
		return trimNewline(raw), nil
	}
	if len(args) == 1 {
		return args[0], nil
	}
	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return trimNewline(raw), nil
}

func trimNewline(raw []byte) string {
	for len(raw) > 0 && (raw[len(raw)-1] == '\n' || raw[len(raw)-1] == '\r') {
		raw = raw[:len(raw)-1]
	}
	return string(raw)
}

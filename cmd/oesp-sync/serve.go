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
	"net/http"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/oesp-project/oesp/internal/logger"
	"github.com/oesp-project/oesp/pkg/storage"
	"github.com/oesp-project/oesp/pkg/storage/memory"
	"github.com/oesp-project/oesp/pkg/storage/postgres"
	"github.com/oesp-project/oesp/sync/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sync HTTP server",
	Long: `serve starts the sync server's HTTP surface on --addr. Flags
default to environment variables (OESP_SYNC_ADDR, DATABASE_URL,
MAX_CHUNK_BYTES, MAX_CLOCK_SKEW_SEC, API_KEY_REQUIRED, GLOBAL_API_KEY)
so the same binary runs unmodified under a container orchestrator.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveAddr            string
	serveMemory          bool
	serveDatabaseURL     string
	serveMaxChunkBytes   int
	serveMaxClockSkewSec int64
	serveAPIKeyRequired  bool
	serveGlobalAPIKey    string
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", envOr("OESP_SYNC_ADDR", ":8443"), "listen address")
	serveCmd.Flags().BoolVar(&serveMemory, "memory", false, "use an in-memory store instead of PostgreSQL")
	serveCmd.Flags().StringVar(&serveDatabaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL DSN")
	serveCmd.Flags().IntVar(&serveMaxChunkBytes, "max-chunk-bytes", envOrInt("MAX_CHUNK_BYTES", 500_000), "largest accepted chunk payload, in bytes")
	serveCmd.Flags().Int64Var(&serveMaxClockSkewSec, "max-clock-skew-sec", envOrInt64("MAX_CLOCK_SKEW_SEC", 300), "clock skew budget applied during commit verification")
	serveCmd.Flags().BoolVar(&serveAPIKeyRequired, "api-key-required", envOrBool("API_KEY_REQUIRED", false), "require X-OESP-APIKEY on every request")
	serveCmd.Flags().StringVar(&serveGlobalAPIKey, "global-api-key", os.Getenv("GLOBAL_API_KEY"), "API key accepted when api-key-required is set")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}

	cfg := server.Config{
		MaxChunkBytes:   serveMaxChunkBytes,
		MaxClockSkewSec: serveMaxClockSkewSec,
		APIKeyRequired:  serveAPIKeyRequired,
		GlobalAPIKey:    serveGlobalAPIKey,
	}
	srv := server.New(store, cfg, nil)

	log := logger.GetDefaultLogger()
	log.Info("sync server listening", logger.String("addr", serveAddr), logger.Bool("memory", serveMemory))

	return http.ListenAndServe(serveAddr, srv.Handler())
}

func openStore(ctx context.Context) (storage.Store, error) {
	if serveMemory {
		return memory.NewStore(), nil
	}
	if serveDatabaseURL == "" {
		return nil, fmt.Errorf("serve: --database-url or DATABASE_URL is required unless --memory is set")
	}
	return postgres.NewStoreFromDSN(ctx, serveDatabaseURL, 10)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envOrBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

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

// Package server implements the OESP sync HTTP surface: session
// start/chunk/status/commit backed by pkg/storage, streaming commit
// verification through core/verify, and the /health and /metrics
// endpoints the ambient stack expects of every OESP service.
package server

import (
	"net/http"

	"golang.org/x/sync/singleflight"

	"github.com/oesp-project/oesp/health"
	"github.com/oesp-project/oesp/internal/logger"
	"github.com/oesp-project/oesp/internal/metrics"
	"github.com/oesp-project/oesp/pkg/storage"
)

// Config bounds what the server accepts, mirroring the MAX_CHUNK_BYTES,
// MAX_CLOCK_SKEW_SEC, API_KEY_REQUIRED and GLOBAL_API_KEY environment
// variables.
type Config struct {
	MaxChunkBytes   int
	MaxClockSkewSec int64
	APIKeyRequired  bool
	GlobalAPIKey    string
}

// DefaultConfig matches the documented environment defaults.
func DefaultConfig() Config {
	return Config{
		MaxChunkBytes:   500_000,
		MaxClockSkewSec: 300,
	}
}

// Server holds the dependencies the sync HTTP handlers need.
type Server struct {
	store  storage.Store
	cfg    Config
	health *health.HealthChecker
	log    logger.Logger
	idGen  func() string

	// startGroup collapses concurrent start requests for the same
	// device+client_meta key into a single find-or-create, so two
	// racing resumes can't each miss the open session and create a
	// duplicate.
	startGroup singleflight.Group
}

// New builds a Server over store. checker may be nil, in which case a
// fresh HealthChecker is created; either way a "database" check over
// store.Ping is registered on it.
func New(store storage.Store, cfg Config, checker *health.HealthChecker) *Server {
	if checker == nil {
		checker = health.NewHealthChecker(0)
	}
	checker.RegisterCheck("database", health.DatabaseHealthCheck(store.Ping))

	return &Server{
		store:  store,
		cfg:    cfg,
		health: checker,
		log:    logger.GetDefaultLogger(),
		idGen:  newSessionID,
	}
}

// Handler returns the http.Handler exposing the full sync surface plus
// /health and /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sync/start", s.handleStart)
	mux.HandleFunc("POST /v1/sync/{sid}/chunk", s.handleChunk)
	mux.HandleFunc("GET /v1/sync/{sid}/status", s.handleStatus)
	mux.HandleFunc("POST /v1/sync/{sid}/commit", s.handleCommit)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

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

// Package config loads OESP component configuration from YAML or JSON
// files, with ${VAR} placeholders substituted from the environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for an oesp-sync deployment.
type Config struct {
	Environment string          `yaml:"environment" json:"environment"`
	KeyStore    *KeyStoreConfig `yaml:"keystore" json:"keystore"`
	Logging     *LoggingConfig  `yaml:"logging" json:"logging"`
	Metrics     *MetricsConfig  `yaml:"metrics" json:"metrics"`
	Health      *HealthConfig   `yaml:"health" json:"health"`
	Database    *DatabaseConfig `yaml:"database" json:"database"`
	Sync        *SyncConfig     `yaml:"sync" json:"sync"`
}

// KeyStoreConfig configures where an OESP device's Ed25519/X25519
// identity material is held.
type KeyStoreConfig struct {
	Type          string `yaml:"type" json:"type"`
	Directory     string `yaml:"directory" json:"directory"`
	PassphraseEnv string `yaml:"passphrase_env" json:"passphrase_env"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// HealthConfig configures the liveness/readiness endpoint.
type HealthConfig struct {
	Enabled bool     `yaml:"enabled" json:"enabled"`
	Port    int      `yaml:"port" json:"port"`
	Path    string   `yaml:"path" json:"path"`
	Checks  []string `yaml:"checks" json:"checks"`
}

// DatabaseConfig configures the sync server's Postgres connection.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxConns        int32         `yaml:"max_conns" json:"max_conns"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
}

// SyncConfig bounds the sync server's acceptance of client uploads.
type SyncConfig struct {
	MaxChunkBytes    int           `yaml:"max_chunk_bytes" json:"max_chunk_bytes"`
	SessionTTL       time.Duration `yaml:"session_ttl" json:"session_ttl"`
	MaxClockSkewSec  int           `yaml:"max_clock_skew_sec" json:"max_clock_skew_sec"`
}

// LoadFromFile loads configuration from path, trying YAML then JSON,
// with ${VAR} placeholders resolved from the environment.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	data = SubstituteEnvVars(data)

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return nil, fmt.Errorf("config: parse %s as YAML (%v) or JSON (%w)", path, err, jsonErr)
		}
	}

	setDefaults(cfg)
	return cfg, nil
}

// SaveToFile writes cfg to path, choosing JSON or YAML by extension.
func SaveToFile(cfg *Config, path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if cfg.KeyStore != nil {
		if cfg.KeyStore.Type == "" {
			cfg.KeyStore.Type = "encrypted-file"
		}
		if cfg.KeyStore.Directory == "" {
			cfg.KeyStore.Directory = ".oesp/keys"
		}
	}

	if cfg.Logging != nil {
		if cfg.Logging.Level == "" {
			cfg.Logging.Level = "info"
		}
		if cfg.Logging.Format == "" {
			cfg.Logging.Format = "json"
		}
		if cfg.Logging.Output == "" {
			cfg.Logging.Output = "stdout"
		}
	}

	if cfg.Metrics != nil && cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Health != nil && cfg.Health.Path == "" {
		cfg.Health.Path = "/health"
	}

	if cfg.Database != nil {
		if cfg.Database.MaxConns == 0 {
			cfg.Database.MaxConns = 10
		}
		if cfg.Database.ConnectTimeout == 0 {
			cfg.Database.ConnectTimeout = 5 * time.Second
		}
	}

	if cfg.Sync != nil {
		if cfg.Sync.MaxChunkBytes == 0 {
			cfg.Sync.MaxChunkBytes = 500_000
		}
		if cfg.Sync.SessionTTL == 0 {
			cfg.Sync.SessionTTL = 24 * time.Hour
		}
		if cfg.Sync.MaxClockSkewSec == 0 {
			cfg.Sync.MaxClockSkewSec = 300
		}
	}
}

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

package config

import (
	"os"
	"regexp"
	"strings"
)

// envVarPattern matches ${VAR} or ${VAR:default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// SubstituteEnvVars replaces ${VAR} or ${VAR:default} placeholders in
// input with environment variable values.
func SubstituteEnvVars(input []byte) []byte {
	return envVarPattern.ReplaceAllFunc(input, func(match []byte) []byte {
		parts := envVarPattern.FindSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		varName := string(parts[1])
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = string(parts[2])
		}
		if value, ok := os.LookupEnv(varName); ok {
			return []byte(value)
		}
		return []byte(defaultValue)
	})
}

// GetEnvironment returns the current environment from OESP_ENV or
// ENVIRONMENT, defaulting to "development".
func GetEnvironment() string {
	env := os.Getenv("OESP_ENV")
	if env == "" {
		env = os.Getenv("ENVIRONMENT")
	}
	if env == "" {
		env = "development"
	}
	return strings.ToLower(env)
}

// IsProduction reports whether GetEnvironment returns "production".
func IsProduction() bool {
	return GetEnvironment() == "production"
}

// IsDevelopment reports whether GetEnvironment returns "development" or "local".
func IsDevelopment() bool {
	env := GetEnvironment()
	return env == "development" || env == "local"
}

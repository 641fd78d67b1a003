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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CryptoOperations tracks sign/verify/seal/open calls by algorithm.
	CryptoOperations = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crypto",
			Name:      "operations_total",
			Help:      "Total number of cryptographic operations",
		},
		[]string{"operation", "algorithm"}, // sign/verify/seal/open, ed25519/x25519/chacha20poly1305
	)

	// CryptoErrors tracks crypto errors by operation.
	CryptoErrors = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crypto",
			Name:      "errors_total",
			Help:      "Total number of cryptographic errors",
		},
		[]string{"operation"},
	)

	// CryptoOperationDuration tracks crypto operation durations.
	CryptoOperationDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "crypto",
			Name:      "operation_duration_seconds",
			Help:      "Cryptographic operation duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 15), // 10us to 163ms
		},
		[]string{"operation", "algorithm"},
	)
)

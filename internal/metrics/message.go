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
	// EnvelopesProcessed tracks pack/unpack/verify calls by outcome.
	EnvelopesProcessed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "envelopes",
			Name:      "processed_total",
			Help:      "Total number of envelopes processed",
		},
		[]string{"operation", "status"}, // pack/unpack/verify, success/failure
	)

	// ReplaysDetected tracks duplicate (from_did, mid) hits.
	ReplaysDetected = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "envelopes",
			Name:      "replays_detected_total",
			Help:      "Total number of replay detections",
		},
	)

	// VerifyOutcomes tracks verify failures by error code.
	VerifyOutcomes = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "envelopes",
			Name:      "verify_outcomes_total",
			Help:      "Total number of verify outcomes by error code",
		},
		[]string{"code"}, // OK or one of the oesp.Error codes
	)

	// EnvelopeProcessingDuration tracks pack/unpack/verify duration.
	EnvelopeProcessingDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "envelopes",
			Name:      "processing_duration_seconds",
			Help:      "Envelope processing duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12), // 0.1ms to 205ms
		},
		[]string{"operation"},
	)

	// EnvelopeSize tracks wire token sizes.
	EnvelopeSize = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "envelopes",
			Name:      "size_bytes",
			Help:      "Size of wire tokens in bytes",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10), // 64B to 16MB
		},
	)
)

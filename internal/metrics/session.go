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
	// SyncSessionsCreated tracks sync sessions opened via start.
	SyncSessionsCreated = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync_sessions",
			Name:      "created_total",
			Help:      "Total number of sync sessions created",
		},
		[]string{"status"}, // new, resumed
	)

	// SyncSessionsOpen tracks currently open sync sessions.
	SyncSessionsOpen = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync_sessions",
			Name:      "open",
			Help:      "Number of currently open sync sessions",
		},
	)

	// SyncSessionsCommitted tracks sessions reaching committed.
	SyncSessionsCommitted = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync_sessions",
			Name:      "committed_total",
			Help:      "Total number of sync sessions committed",
		},
	)

	// SyncSessionsAborted tracks sessions reaching aborted.
	SyncSessionsAborted = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync_sessions",
			Name:      "aborted_total",
			Help:      "Total number of sync sessions aborted",
		},
	)

	// SyncSessionDuration tracks sync operation durations.
	SyncSessionDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync_sessions",
			Name:      "duration_seconds",
			Help:      "Sync session operation duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15), // 0.1ms to 1.6s
		},
		[]string{"operation"}, // start, chunk, commit
	)

	// SyncChunkSize tracks uploaded chunk sizes.
	SyncChunkSize = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync_sessions",
			Name:      "chunk_size_bytes",
			Help:      "Size of uploaded sync chunks in bytes",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10), // 64B to 16MB
		},
	)
)

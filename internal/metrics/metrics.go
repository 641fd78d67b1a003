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

// Package metrics exposes Prometheus counters/histograms for the
// sync server's HTTP surface alongside a lighter in-process collector
// (MetricsCollector) for call sites outside request handling, such as
// CLI invocations of pack/verify.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "oesp"

// Registry is the Prometheus registry every metric in this package
// registers against. sync/server.Handler mounts Handler() at GET /metrics.
var Registry = prometheus.NewRegistry()

// Handler serves Registry in both classic and OpenMetrics exposition
// formats, for mounting at GET /metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

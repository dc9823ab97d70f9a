// Copyright 2026 The MySQL MCP Gateway Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package executor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mysql-mcp/gateway/mysqlerr"
)

const namespace = "mysql_gateway"

// slowQueryThreshold flags queries for the slow counter.
const slowQueryThreshold = time.Second

var (
	queryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "query_duration_seconds",
			Help:      "Query latency by verb and outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"verb", "outcome"},
	)
	slowQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "slow_queries_total",
			Help:      "Queries slower than the slow-query threshold.",
		},
		[]string{"verb"},
	)
	queryErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "errors_total",
			Help:      "Failed operations by error kind.",
		},
		[]string{"verb", "kind"},
	)
)

// RegisterMetrics registers the executor metrics on reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(queryDuration, slowQueries, queryErrors)
}

func observeQuery(verb, outcome string, elapsed time.Duration) {
	if verb == "" {
		verb = "unknown"
	}
	queryDuration.WithLabelValues(verb, outcome).Observe(elapsed.Seconds())
	if elapsed > slowQueryThreshold {
		slowQueries.WithLabelValues(verb).Inc()
	}
}

func observeError(verb string, err error) {
	if verb == "" {
		verb = "unknown"
	}
	queryErrors.WithLabelValues(verb, string(mysqlerr.KindOf(err))).Inc()
}

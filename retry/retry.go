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

// Package retry re-runs operations that failed with a transient error kind.
// Non-retryable kinds surface immediately; everything else backs off
// exponentially with jitter until the attempt budget runs out.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mysql-mcp/gateway/mysqlerr"
)

const namespace = "mysql_gateway"

var (
	attemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "attempts_total",
			Help:      "Operation attempts by outcome.",
		},
		[]string{"outcome"},
	)
	exhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "exhausted_total",
			Help:      "Operations that failed after all retry attempts.",
		},
	)
)

// RegisterMetrics registers the retry metrics on reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(attemptsTotal, exhaustedTotal)
}

// Policy configures the driver.
type Policy struct {
	// MaxAttempts is the total attempt budget including the first try.
	MaxAttempts int
	// BaseDelay seeds the exponential schedule.
	BaseDelay time.Duration
	// MaxDelay caps a single wait.
	MaxDelay time.Duration
}

// DefaultPolicy is 3 attempts starting at 100ms, capped at 2s per wait.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second}
}

// Driver runs operations under a Policy.
type Driver struct {
	policy Policy
	logger *slog.Logger
}

func NewDriver(policy Policy, logger *slog.Logger) *Driver {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Driver{policy: policy, logger: logger}
}

// Report says how hard an operation had to work.
type Report struct {
	Attempts   int
	TotalDelay time.Duration
}

// Do runs op until it succeeds, fails with a non-retryable kind, the context
// ends, or the attempt budget is spent. The returned error on exhaustion
// wraps the last failure.
func (d *Driver) Do(ctx context.Context, name string, op func(context.Context) error) (Report, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.policy.BaseDelay
	bo.MaxInterval = d.policy.MaxDelay
	bo.RandomizationFactor = 0.5
	bo.MaxElapsedTime = 0
	bo.Reset()

	var (
		lastErr error
		report  Report
	)
	for attempt := 1; ; attempt++ {
		report.Attempts = attempt
		lastErr = op(ctx)
		if lastErr == nil {
			attemptsTotal.WithLabelValues("success").Inc()
			return report, nil
		}

		kind := mysqlerr.KindOf(lastErr)
		if !kind.Retryable() {
			attemptsTotal.WithLabelValues("permanent").Inc()
			return report, lastErr
		}
		attemptsTotal.WithLabelValues("retryable").Inc()

		if attempt >= d.policy.MaxAttempts {
			break
		}

		wait := bo.NextBackOff()
		d.logger.Debug("Retrying operation",
			"op", name, "attempt", attempt, "kind", string(kind), "wait", wait)
		select {
		case <-ctx.Done():
			return report, mysqlerr.Wrap(mysqlerr.KindTimeout,
				fmt.Sprintf("%s canceled during retry wait", name), ctx.Err())
		case <-time.After(wait):
			report.TotalDelay += wait
		}
	}

	exhaustedTotal.Inc()
	return report, mysqlerr.Wrap(mysqlerr.KindRetryExhausted,
		fmt.Sprintf("%s failed after %d attempts", name, d.policy.MaxAttempts), lastErr)
}

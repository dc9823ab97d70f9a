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

// Package ratelimit applies per-client token buckets whose capacity shrinks
// under memory pressure.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/mysql-mcp/gateway/mysqlerr"
)

const namespace = "mysql_gateway"

// minCapacityFraction floors the adaptive capacity so clients are never
// starved entirely, even at full load.
const minCapacityFraction = 0.1

var (
	throttledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "throttled_total",
			Help:      "Requests rejected by the rate limiter.",
		},
		[]string{"client"},
	)
	capacityGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "effective_capacity",
			Help:      "Current per-client burst capacity after load scaling.",
		},
	)
)

// RegisterMetrics registers the limiter metrics on reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(throttledTotal, capacityGauge)
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter hands out one token bucket per client key. The configured maximum
// is interpreted as "max events per window"; burst equals the scaled
// capacity so a quiet client can spend its whole allowance at once.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	max    int
	window time.Duration
	// load in [0,1] scales effective capacity; fed by the memory controller.
	load float64

	now func() time.Time
}

func New(max int, window time.Duration) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		max:     max,
		window:  window,
		now:     time.Now,
	}
}

// SetLoad updates the load factor. Existing buckets are re-shaped lazily the
// next time their client shows up.
func (l *Limiter) SetLoad(load float64) {
	if load < 0 {
		load = 0
	}
	if load > 1 {
		load = 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.load = load
	cap := l.capacityLocked()
	for _, b := range l.buckets {
		b.limiter.SetLimit(l.rateLocked(cap))
		b.limiter.SetBurst(cap)
	}
	capacityGauge.Set(float64(cap))
}

func (l *Limiter) capacityLocked() int {
	scaled := float64(l.max) * (1 - l.load)
	floor := float64(l.max) * minCapacityFraction
	if scaled < floor {
		scaled = floor
	}
	cap := int(scaled)
	if cap < 1 {
		cap = 1
	}
	return cap
}

func (l *Limiter) rateLocked(cap int) rate.Limit {
	return rate.Limit(float64(cap) / l.window.Seconds())
}

// Acquire consumes one token for the client and returns a refund function.
// Callers that reject the request before doing any real work (validation or
// authorization failures) call the refund so a hostile caller cannot burn a
// client's budget with garbage.
func (l *Limiter) Acquire(client string) (func(), error) {
	l.mu.Lock()
	b, ok := l.buckets[client]
	if !ok {
		cap := l.capacityLocked()
		b = &bucket{limiter: rate.NewLimiter(l.rateLocked(cap), cap)}
		l.buckets[client] = b
	}
	b.lastSeen = l.now()
	l.mu.Unlock()

	r := b.limiter.ReserveN(l.now(), 1)
	if !r.OK() || r.DelayFrom(l.now()) > 0 {
		if r.OK() {
			r.CancelAt(l.now())
		}
		throttledTotal.WithLabelValues(client).Inc()
		return nil, mysqlerr.New(mysqlerr.KindRateLimited,
			fmt.Sprintf("client %s exceeded %d requests per %s", client, l.max, l.window))
	}
	return func() { r.CancelAt(l.now()) }, nil
}

// Allow is Acquire without the refund option.
func (l *Limiter) Allow(client string) error {
	_, err := l.Acquire(client)
	return err
}

// Sweep drops buckets idle longer than maxIdle and returns how many were
// removed. Called periodically so one-off clients do not accumulate.
func (l *Limiter) Sweep(maxIdle time.Duration) int {
	cutoff := l.now().Add(-maxIdle)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
			throttledTotal.DeleteLabelValues(key)
			removed++
		}
	}
	return removed
}

// Len reports the number of live buckets.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

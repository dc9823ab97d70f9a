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

package pool

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mysql-mcp/gateway/config"
	"github.com/mysql-mcp/gateway/eventlog"
)

const namespace = "mysql_gateway"

var (
	inUseDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "pool", "in_use_connections"),
		"Borrowed connections per pool.", []string{"pool"}, nil,
	)
	idleDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "pool", "idle_connections"),
		"Idle connections per pool.", []string{"pool"}, nil,
	)
	capDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "pool", "capacity"),
		"Current connection cap per pool.", []string{"pool"}, nil,
	)
	waitDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "pool", "avg_wait_seconds"),
		"Average recent acquire wait per pool.", []string{"pool"}, nil,
	)
	breakerDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "pool", "breaker_open"),
		"1 when the pool's circuit breaker is open.", []string{"pool"}, nil,
	)
	leaksDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "pool", "leaks_reclaimed_total"),
		"Connections reclaimed by the leak detector.", []string{"pool"}, nil,
	)
)

// Cluster routes reads and writes across the primary and its replicas.
// Writes always go to the primary; reads round-robin over healthy replicas
// and fall back to the primary when none are healthy.
type Cluster struct {
	primary  *Pool
	replicas []*Pool
	rr       atomic.Uint64
	logger   *slog.Logger
}

// NewCluster opens the primary and every configured replica. Replica open
// failures are logged and skipped; the primary is mandatory.
func NewCluster(cfg config.DatabaseConfig, logger *slog.Logger, events *eventlog.Log) (*Cluster, error) {
	primaryDSN, err := cfg.FormDSN("")
	if err != nil {
		return nil, err
	}
	primary, err := New("primary", primaryDSN, cfg, false, logger, events)
	if err != nil {
		return nil, err
	}

	c := &Cluster{primary: primary, logger: logger}
	for i, rep := range cfg.Replicas {
		addr := fmt.Sprintf("%s:%d", rep.Host, rep.Port)
		dsn, err := cfg.FormDSN(addr)
		if err != nil {
			logger.Warn("Skipping replica with invalid address", "addr", addr, "err", err)
			continue
		}
		name := fmt.Sprintf("replica-%d", i)
		pool, err := New(name, dsn, cfg, true, logger, events)
		if err != nil {
			logger.Warn("Skipping unreachable replica", "replica", name, "err", err)
			continue
		}
		c.replicas = append(c.replicas, pool)
	}
	return c, nil
}

// Primary returns the write pool.
func (c *Cluster) Primary() *Pool { return c.primary }

// Replicas returns the read pools.
func (c *Cluster) Replicas() []*Pool { return c.replicas }

// AcquireWrite borrows a read-write connection from the primary.
func (c *Cluster) AcquireWrite(ctx context.Context) (*Conn, error) {
	return c.primary.Acquire(ctx)
}

// AcquireRead borrows a connection from the next healthy replica, falling
// back to the primary when no replica can serve.
func (c *Cluster) AcquireRead(ctx context.Context) (*Conn, error) {
	n := len(c.replicas)
	if n > 0 {
		start := c.rr.Add(1)
		for i := 0; i < n; i++ {
			rep := c.replicas[(int(start)+i)%n]
			if !rep.Healthy() {
				continue
			}
			conn, err := rep.Acquire(ctx)
			if err == nil {
				return conn, nil
			}
			c.logger.Debug("Replica acquire failed, trying next", "replica", rep.Name(), "err", err)
		}
		c.logger.Debug("No healthy replica, reading from primary")
	}
	return c.primary.Acquire(ctx)
}

// Start launches background loops on every pool. Stats files live under
// stateDir, one per pool.
func (c *Cluster) Start(stateDir string) {
	for _, p := range c.all() {
		p.LoadStats(c.statsPath(stateDir, p))
		p.Start(c.statsPath(stateDir, p))
	}
}

// OnPressure propagates memory pressure to every pool's sizing logic.
func (c *Cluster) OnPressure(pressure float64) {
	for _, p := range c.all() {
		p.OnPressure(pressure)
	}
}

// Snapshots captures every pool's state, primary first.
func (c *Cluster) Snapshots() []Snapshot {
	out := make([]Snapshot, 0, 1+len(c.replicas))
	for _, p := range c.all() {
		out = append(out, p.SnapshotNow())
	}
	return out
}

// Close shuts down every pool and persists final stats.
func (c *Cluster) Close(stateDir string) error {
	var first error
	for _, p := range c.all() {
		if err := p.SaveStats(c.statsPath(stateDir, p)); err != nil && first == nil {
			first = err
		}
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (c *Cluster) all() []*Pool {
	return append([]*Pool{c.primary}, c.replicas...)
}

func (c *Cluster) statsPath(stateDir string, p *Pool) string {
	return filepath.Join(stateDir, "pool-stats-"+p.name+".json")
}

// Describe implements prometheus.Collector.
func (c *Cluster) Describe(ch chan<- *prometheus.Desc) {
	ch <- inUseDesc
	ch <- idleDesc
	ch <- capDesc
	ch <- waitDesc
	ch <- breakerDesc
	ch <- leaksDesc
}

// Collect implements prometheus.Collector.
func (c *Cluster) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.Snapshots() {
		ch <- prometheus.MustNewConstMetric(inUseDesc, prometheus.GaugeValue, float64(s.InUse), s.Name)
		ch <- prometheus.MustNewConstMetric(idleDesc, prometheus.GaugeValue, float64(s.Idle), s.Name)
		ch <- prometheus.MustNewConstMetric(capDesc, prometheus.GaugeValue, float64(s.Cap), s.Name)
		ch <- prometheus.MustNewConstMetric(waitDesc, prometheus.GaugeValue, s.AvgWait.Seconds(), s.Name)
		open := 0.0
		if s.BreakerState == "open" {
			open = 1
		}
		ch <- prometheus.MustNewConstMetric(breakerDesc, prometheus.GaugeValue, open, s.Name)
		ch <- prometheus.MustNewConstMetric(leaksDesc, prometheus.CounterValue, float64(s.Stats.LeaksReclaimed), s.Name)
	}
}

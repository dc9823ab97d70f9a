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

package cache

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mysql-mcp/gateway/config"
	"github.com/mysql-mcp/gateway/memwatch"
)

const namespace = "mysql_gateway"

// Region names. Schema-shaped regions hold DESCRIBE/SHOW results keyed by
// object name; the query-result region is managed by QueryCache.
const (
	RegionSchema      = "schema"
	RegionTableExists = "table_exists"
	RegionIndex       = "index"
	RegionQueryResult = "query_result"
	RegionGeneric     = "generic"
)

var (
	hitsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "cache", "hits_total"),
		"Cache hits per region.", []string{"region"}, nil,
	)
	missesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "cache", "misses_total"),
		"Cache misses per region.", []string{"region"}, nil,
	)
	evictionsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "cache", "evictions_total"),
		"Cache evictions per region.", []string{"region"}, nil,
	)
	entriesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "cache", "entries"),
		"Live cache entries per region and tier.", []string{"region", "tier"}, nil,
	)
)

// Manager owns the named regions and reacts to memory pressure.
type Manager struct {
	cfg    config.CacheConfig
	logger *slog.Logger

	mu      sync.RWMutex
	regions map[string]*Region

	// tracked follows large entries across all regions through weak
	// references; the memory controller sweeps it.
	tracked *memwatch.Registry[entry]

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func NewManager(cfg config.CacheConfig, logger *slog.Logger) *Manager {
	m := &Manager{
		cfg:     cfg,
		logger:  logger,
		regions: make(map[string]*Region),
		tracked: memwatch.NewRegistry[entry](),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	// L2 holds twice the hot capacity; demoted entries get a second chance
	// without doubling the hot working set.
	m.addRegion(RegionSchema, cfg.SchemaCacheSize, cfg.TTL)
	m.addRegion(RegionTableExists, cfg.TableExistsCacheSize, cfg.TTL)
	m.addRegion(RegionIndex, cfg.IndexCacheSize, cfg.TTL)
	m.addRegion(RegionGeneric, cfg.SchemaCacheSize, cfg.TTL)
	if cfg.EnableQueryCache {
		m.addRegion(RegionQueryResult, cfg.QueryCacheSize, cfg.QueryCacheTTL)
	}
	return m
}

func (m *Manager) addRegion(name string, size int, ttl time.Duration) {
	r := newRegion(name, size, 2*size, ttl, m.cfg.EnableTiered, m.cfg.EnableTTLAdjustment)
	r.tracker = m.tracked
	m.regions[name] = r
}

// Tracker exposes the large-entry registry for the memory controller's
// cleanup pass.
func (m *Manager) Tracker() memwatch.Cleaner { return m.tracked }

// Region returns the named region, or nil when it does not exist (the
// query-result region is absent when the query cache is disabled).
func (m *Manager) Region(name string) *Region {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.regions[name]
}

// Start runs the TTL janitor until Close.
func (m *Manager) Start(interval time.Duration) {
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				removed := 0
				m.mu.RLock()
				for _, r := range m.regions {
					removed += r.Expire()
				}
				m.mu.RUnlock()
				if removed > 0 {
					m.logger.Debug("Expired cache entries", "count", removed)
				}
			}
		}
	}()
}

func (m *Manager) Close() {
	m.once.Do(func() {
		close(m.stop)
		<-m.done
	})
}

// OnPressure is the memory controller subscriber. At the pressure threshold
// regions shrink; at the clear threshold cold tiers are purged outright.
func (m *Manager) OnPressure(snap memwatch.Snapshot, pressureThreshold, clearThreshold float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.regions {
		r.SetPressure(snap.Pressure, pressureThreshold)
	}
	if snap.Pressure >= clearThreshold {
		for _, r := range m.regions {
			r.PurgeL2()
		}
		m.logger.Warn("Purged cold cache tiers under memory pressure",
			"pressure", snap.Pressure)
	}
}

// InvalidateByOperation invalidates whatever a successful write made stale.
// DDL flushes the schema-shaped regions; any write invalidates the query
// cache entries touching the written tables.
func (m *Manager) InvalidateByOperation(verb string, tables []string, qc *QueryCache) {
	switch strings.ToUpper(verb) {
	case "CREATE", "ALTER", "DROP", "TRUNCATE":
		for _, name := range []string{RegionSchema, RegionTableExists, RegionIndex} {
			if r := m.Region(name); r != nil {
				for _, table := range tables {
					r.Remove(strings.ToLower(table))
				}
			}
		}
		// DROP/CREATE DATABASE and statements we could not parse a table
		// from flush the schema regions entirely.
		if len(tables) == 0 {
			for _, name := range []string{RegionSchema, RegionTableExists, RegionIndex} {
				if r := m.Region(name); r != nil {
					r.Purge()
				}
			}
		}
	}
	if qc != nil {
		for _, table := range tables {
			qc.InvalidateTable(table)
		}
	}
}

// PurgeAll empties every region.
func (m *Manager) PurgeAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.regions {
		r.Purge()
	}
}

// StatsAll snapshots every region, sorted by construction order not
// guaranteed; callers sort if they need stable output.
func (m *Manager) StatsAll() []Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Stats, 0, len(m.regions))
	for _, r := range m.regions {
		out = append(out, r.Stats())
	}
	return out
}

// Describe implements prometheus.Collector.
func (m *Manager) Describe(ch chan<- *prometheus.Desc) {
	ch <- hitsDesc
	ch <- missesDesc
	ch <- evictionsDesc
	ch <- entriesDesc
}

// Collect implements prometheus.Collector.
func (m *Manager) Collect(ch chan<- prometheus.Metric) {
	for _, s := range m.StatsAll() {
		ch <- prometheus.MustNewConstMetric(hitsDesc, prometheus.CounterValue, float64(s.Hits), s.Name)
		ch <- prometheus.MustNewConstMetric(missesDesc, prometheus.CounterValue, float64(s.Misses), s.Name)
		ch <- prometheus.MustNewConstMetric(evictionsDesc, prometheus.CounterValue, float64(s.Evictions), s.Name)
		ch <- prometheus.MustNewConstMetric(entriesDesc, prometheus.GaugeValue, float64(s.L1Len), s.Name, "l1")
		ch <- prometheus.MustNewConstMetric(entriesDesc, prometheus.GaugeValue, float64(s.L2Len), s.Name, "l2")
	}
}

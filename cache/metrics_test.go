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
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/promslog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatherFamily(t *testing.T, m *Manager, name string) *dto.MetricFamily {
	t.Helper()
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(m))
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func metricFor(mf *dto.MetricFamily, labels map[string]string) *dto.Metric {
	for _, m := range mf.GetMetric() {
		match := true
		for _, lp := range m.GetLabel() {
			if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
				match = false
			}
		}
		if match {
			return m
		}
	}
	return nil
}

func TestManagerCollectsRegionMetrics(t *testing.T) {
	m := NewManager(testCacheConfig(), promslog.NewNopLogger())

	r := m.Region(RegionSchema)
	r.Set("users", []string{"id", "name"}, 0)
	_, ok := r.Get("users")
	require.True(t, ok)
	_, ok = r.Get("absent")
	require.False(t, ok)

	hits := gatherFamily(t, m, "mysql_gateway_cache_hits_total")
	require.NotNil(t, hits)
	assert.Equal(t, dto.MetricType_COUNTER, hits.GetType())
	schemaHits := metricFor(hits, map[string]string{"region": RegionSchema})
	require.NotNil(t, schemaHits)
	assert.Equal(t, float64(1), schemaHits.GetCounter().GetValue())

	misses := gatherFamily(t, m, "mysql_gateway_cache_misses_total")
	require.NotNil(t, misses)
	schemaMisses := metricFor(misses, map[string]string{"region": RegionSchema})
	require.NotNil(t, schemaMisses)
	assert.Equal(t, float64(1), schemaMisses.GetCounter().GetValue())

	entries := gatherFamily(t, m, "mysql_gateway_cache_entries")
	require.NotNil(t, entries)
	assert.Equal(t, dto.MetricType_GAUGE, entries.GetType())
	l1 := metricFor(entries, map[string]string{"region": RegionSchema, "tier": "l1"})
	require.NotNil(t, l1)
	assert.Equal(t, float64(1), l1.GetGauge().GetValue())
}

func TestManagerDescribeCoversEveryMetric(t *testing.T) {
	m := NewManager(testCacheConfig(), promslog.NewNopLogger())
	ch := make(chan *prometheus.Desc, 8)
	m.Describe(ch)
	close(ch)

	var got int
	for range ch {
		got++
	}
	assert.Equal(t, 4, got)
}

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
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/common/promslog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mysql-mcp/gateway/config"
	"github.com/mysql-mcp/gateway/memwatch"
)

func testCacheConfig() config.CacheConfig {
	return config.CacheConfig{
		SchemaCacheSize:      16,
		TableExistsCacheSize: 16,
		IndexCacheSize:       16,
		TTL:                  time.Minute,
		EnableQueryCache:     true,
		QueryCacheSize:       16,
		QueryCacheTTL:        time.Minute,
		MaxQueryResultBytes:  1024,
		EnableTiered:         true,
	}
}

func TestManagerRegions(t *testing.T) {
	m := NewManager(testCacheConfig(), promslog.NewNopLogger())

	for _, name := range []string{RegionSchema, RegionTableExists, RegionIndex, RegionGeneric, RegionQueryResult} {
		assert.NotNil(t, m.Region(name), name)
	}
	assert.Nil(t, m.Region("unknown"))

	cfg := testCacheConfig()
	cfg.EnableQueryCache = false
	m = NewManager(cfg, promslog.NewNopLogger())
	assert.Nil(t, m.Region(RegionQueryResult))
}

func TestInvalidateByOperationDDL(t *testing.T) {
	m := NewManager(testCacheConfig(), promslog.NewNopLogger())
	qc := NewQueryCache(m.Region(RegionQueryResult), 1024)

	m.Region(RegionSchema).Set("users", "cols", 1)
	m.Region(RegionTableExists).Set("users", true, 1)
	m.Region(RegionIndex).Set("users", "idx", 1)
	m.Region(RegionSchema).Set("orders", "cols", 1)
	qc.Put("SELECT * FROM users", nil, "r1", 10)

	m.InvalidateByOperation("ALTER", []string{"users"}, qc)

	for _, name := range []string{RegionSchema, RegionTableExists, RegionIndex} {
		_, ok := m.Region(name).Get("users")
		assert.False(t, ok, name)
	}
	_, ok := m.Region(RegionSchema).Get("orders")
	assert.True(t, ok)
	_, ok = qc.Get("SELECT * FROM users", nil)
	assert.False(t, ok)
}

func TestInvalidateByOperationUnparsedDDLFlushesAll(t *testing.T) {
	m := NewManager(testCacheConfig(), promslog.NewNopLogger())

	m.Region(RegionSchema).Set("users", "cols", 1)
	m.Region(RegionSchema).Set("orders", "cols", 1)

	m.InvalidateByOperation("DROP", nil, nil)

	assert.Empty(t, m.Region(RegionSchema).Keys())
}

func TestInvalidateByOperationDMLLeavesSchema(t *testing.T) {
	m := NewManager(testCacheConfig(), promslog.NewNopLogger())
	qc := NewQueryCache(m.Region(RegionQueryResult), 1024)

	m.Region(RegionSchema).Set("users", "cols", 1)
	qc.Put("SELECT * FROM users", nil, "r1", 10)

	m.InvalidateByOperation("UPDATE", []string{"users"}, qc)

	_, ok := m.Region(RegionSchema).Get("users")
	assert.True(t, ok)
	_, ok = qc.Get("SELECT * FROM users", nil)
	assert.False(t, ok)
}

func TestManagerOnPressure(t *testing.T) {
	m := NewManager(testCacheConfig(), promslog.NewNopLogger())
	schema := m.Region(RegionSchema)
	for i := 0; i < 16; i++ {
		schema.Set(string(rune('a'+i)), i, 1)
	}

	m.OnPressure(memwatch.Snapshot{Pressure: 0.9}, 0.8, 0.95)
	assert.Less(t, schema.Stats().L1Len, 16)
	assert.Greater(t, schema.Stats().L2Len, 0)

	// At the clear threshold the cold tiers are dropped outright.
	m.OnPressure(memwatch.Snapshot{Pressure: 0.96}, 0.8, 0.95)
	assert.Equal(t, 0, schema.Stats().L2Len)
}

func TestManagerJanitorLifecycle(t *testing.T) {
	m := NewManager(testCacheConfig(), promslog.NewNopLogger())
	m.Start(10 * time.Millisecond)
	m.Close()
	// Close is idempotent.
	m.Close()
}

type fakeSchemaSource struct {
	tables  []string
	listErr error
	failOn  string
}

func (f *fakeSchemaSource) ListTables(context.Context) ([]string, error) {
	return f.tables, f.listErr
}

func (f *fakeSchemaSource) DescribeTable(_ context.Context, table string) (any, error) {
	if table == f.failOn {
		return nil, errors.New("describe failed")
	}
	return "columns of " + table, nil
}

func TestWarmupPreloadsSchemaRegions(t *testing.T) {
	m := NewManager(testCacheConfig(), promslog.NewNopLogger())
	src := &fakeSchemaSource{tables: []string{"Users", "orders", "broken"}, failOn: "broken"}

	require.NoError(t, Warmup(context.Background(), m, src, promslog.NewNopLogger()))

	_, ok := m.Region(RegionTableExists).Get("users")
	assert.True(t, ok)
	_, ok = m.Region(RegionSchema).Get("orders")
	assert.True(t, ok)
	// A failed describe still marks existence but caches no schema.
	_, ok = m.Region(RegionTableExists).Get("broken")
	assert.True(t, ok)
	_, ok = m.Region(RegionSchema).Get("broken")
	assert.False(t, ok)
}

func TestWarmupListFailure(t *testing.T) {
	m := NewManager(testCacheConfig(), promslog.NewNopLogger())
	src := &fakeSchemaSource{listErr: errors.New("no connection")}

	assert.Error(t, Warmup(context.Background(), m, src, promslog.NewNopLogger()))
}

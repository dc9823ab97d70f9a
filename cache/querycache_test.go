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
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueryCache() *QueryCache {
	region := newRegion(RegionQueryResult, 64, 128, time.Minute, true, false)
	return NewQueryCache(region, 1024)
}

func TestFingerprintNormalizesFormatting(t *testing.T) {
	a := Fingerprint("SELECT * FROM users WHERE id = ?", []any{1})
	b := Fingerprint("select  *\n from users\twhere id = ?", []any{1})
	assert.Equal(t, a, b)

	// Different parameters are different results.
	c := Fingerprint("SELECT * FROM users WHERE id = ?", []any{2})
	assert.NotEqual(t, a, c)

	// Parameter boundaries matter: ("ab","c") must not collide with ("a","bc").
	d := Fingerprint("SELECT 1", []any{"ab", "c"})
	e := Fingerprint("SELECT 1", []any{"a", "bc"})
	assert.NotEqual(t, d, e)
}

func TestNormalizeSQL(t *testing.T) {
	assert.Equal(t, "select * from users",
		NormalizeSQL("  SELECT   *\nFROM\tusers  "))
}

func TestExtractTables(t *testing.T) {
	cases := []struct {
		sql  string
		want []string
	}{
		{"SELECT * FROM users", []string{"users"}},
		{"SELECT * FROM users u JOIN orders o ON u.id = o.user_id", []string{"users", "orders"}},
		{"INSERT INTO logs (msg) VALUES (?)", []string{"logs"}},
		{"UPDATE accounts SET balance = 0", []string{"accounts"}},
		{"DELETE FROM sessions WHERE expired = 1", []string{"sessions"}},
		{"TRUNCATE TABLE staging", []string{"staging"}},
		{"DROP TABLE IF EXISTS tmp_import", []string{"tmp_import"}},
		{"ALTER TABLE users ADD COLUMN age INT", []string{"users"}},
		{"CREATE TABLE IF NOT EXISTS audit (id INT)", []string{"audit"}},
		{"SELECT * FROM `quoted` JOIN users ON 1=1", []string{"quoted", "users"}},
		{"SELECT * FROM users JOIN users ON 1=1", []string{"users"}},
		{"SELECT 1 FROM dual", nil},
		{"SELECT 1", nil},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ExtractTables(tc.sql), tc.sql)
	}
}

func TestQueryCachePutGet(t *testing.T) {
	qc := newTestQueryCache()

	qc.Put("SELECT * FROM users", nil, "result", 10)
	got, ok := qc.Get("select *  from users", nil)
	require.True(t, ok)
	assert.Equal(t, "result", got)

	_, ok = qc.Get("SELECT * FROM orders", nil)
	assert.False(t, ok)
}

func TestQueryCacheRejectsOversizedResult(t *testing.T) {
	qc := newTestQueryCache()

	qc.Put("SELECT * FROM big", nil, "huge", 4096)
	_, ok := qc.Get("SELECT * FROM big", nil)
	assert.False(t, ok)
}

func TestInvalidateTableDropsReferencingQueries(t *testing.T) {
	qc := newTestQueryCache()

	qc.Put("SELECT * FROM users", nil, "r1", 10)
	qc.Put("SELECT * FROM users JOIN orders ON 1=1", nil, "r2", 10)
	qc.Put("SELECT * FROM orders", nil, "r3", 10)

	n := qc.InvalidateTable("USERS")
	assert.Equal(t, 2, n)

	_, ok := qc.Get("SELECT * FROM users", nil)
	assert.False(t, ok)
	_, ok = qc.Get("SELECT * FROM users JOIN orders ON 1=1", nil)
	assert.False(t, ok)
	_, ok = qc.Get("SELECT * FROM orders", nil)
	assert.True(t, ok)

	// Idempotent: a second invalidation finds nothing.
	assert.Equal(t, 0, qc.InvalidateTable("users"))
}

func TestQueryCachePurge(t *testing.T) {
	qc := newTestQueryCache()

	qc.Put("SELECT * FROM users", nil, "r1", 10)
	qc.Purge()

	_, ok := qc.Get("SELECT * FROM users", nil)
	assert.False(t, ok)
	assert.Equal(t, 0, qc.InvalidateTable("users"))
}

func TestQueryCacheDisabled(t *testing.T) {
	var qc *QueryCache
	assert.False(t, qc.Enabled())
	_, ok := qc.Get("SELECT 1", nil)
	assert.False(t, ok)
	qc.Put("SELECT 1", nil, "r", 1)
	assert.Equal(t, 0, qc.InvalidateTable("users"))
	qc.Purge()

	// A cache without a backing region behaves the same way.
	qc = NewQueryCache(nil, 10)
	assert.False(t, qc.Enabled())
}

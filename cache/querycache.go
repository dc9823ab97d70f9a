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
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// QueryCache caches read-query results in the query-result region, keyed by
// a fingerprint of the normalized SQL plus its parameters. A reverse index
// from table name to fingerprints makes table-level invalidation cheap.
type QueryCache struct {
	region   *Region
	maxBytes int

	mu sync.Mutex
	// byTable maps a lower-cased table name to the fingerprints whose
	// queries read it.
	byTable map[string]map[string]struct{}
	// tablesOf is the inverse, needed to unlink on eviction-by-overwrite.
	tablesOf map[string][]string
}

func NewQueryCache(region *Region, maxBytes int) *QueryCache {
	return &QueryCache{
		region:   region,
		maxBytes: maxBytes,
		byTable:  make(map[string]map[string]struct{}),
		tablesOf: make(map[string][]string),
	}
}

// Enabled reports whether the cache has a backing region.
func (q *QueryCache) Enabled() bool { return q != nil && q.region != nil }

// Fingerprint hashes the normalized SQL together with its parameter tuple.
func Fingerprint(sql string, params []any) string {
	h := xxhash.New()
	h.WriteString(NormalizeSQL(sql))
	for _, p := range params {
		h.WriteString("\x1f")
		fmt.Fprintf(h, "%v", p)
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// NormalizeSQL lower-cases and collapses whitespace so formatting variants
// of the same query share a cache slot.
func NormalizeSQL(sql string) string {
	return strings.Join(strings.Fields(strings.ToLower(sql)), " ")
}

// tableRefRE captures identifiers following FROM/JOIN/INTO/UPDATE and
// table-targeting DDL. Good enough for cache invalidation; a miss only
// costs a stale entry its TTL.
var tableRefRE = regexp.MustCompile(
	`(?i)\b(?:from|join|into|update|truncate(?:\s+table)?|drop\s+table(?:\s+if\s+exists)?|alter\s+table|create\s+table(?:\s+if\s+not\s+exists)?)\s+` +
		"[`\"]?([a-zA-Z_][a-zA-Z0-9_$]*)[`\"]?")

// ExtractTables returns the distinct lower-cased table names referenced by
// sql, in order of first appearance.
func ExtractTables(sql string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range tableRefRE.FindAllStringSubmatch(sql, -1) {
		name := strings.ToLower(m[1])
		switch name {
		case "select", "dual":
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// Get looks up a cached result.
func (q *QueryCache) Get(sql string, params []any) (any, bool) {
	if !q.Enabled() {
		return nil, false
	}
	return q.region.Get(Fingerprint(sql, params))
}

// Put stores a result unless it exceeds the size ceiling. size is the
// caller's estimate of the result's footprint in bytes.
func (q *QueryCache) Put(sql string, params []any, result any, size int) {
	if !q.Enabled() || size > q.maxBytes {
		return
	}
	fp := Fingerprint(sql, params)
	tables := ExtractTables(sql)

	q.mu.Lock()
	q.unlinkLocked(fp)
	for _, table := range tables {
		set, ok := q.byTable[table]
		if !ok {
			set = make(map[string]struct{})
			q.byTable[table] = set
		}
		set[fp] = struct{}{}
	}
	q.tablesOf[fp] = tables
	q.mu.Unlock()

	q.region.Set(fp, result, size)
}

// InvalidateTable drops every cached result that read the table. Idempotent.
func (q *QueryCache) InvalidateTable(table string) int {
	if !q.Enabled() {
		return 0
	}
	table = strings.ToLower(table)

	q.mu.Lock()
	set := q.byTable[table]
	fps := make([]string, 0, len(set))
	for fp := range set {
		fps = append(fps, fp)
	}
	for _, fp := range fps {
		q.unlinkLocked(fp)
	}
	q.mu.Unlock()

	for _, fp := range fps {
		q.region.Remove(fp)
	}
	return len(fps)
}

// unlinkLocked removes fp from both index directions.
func (q *QueryCache) unlinkLocked(fp string) {
	for _, table := range q.tablesOf[fp] {
		if set := q.byTable[table]; set != nil {
			delete(set, fp)
			if len(set) == 0 {
				delete(q.byTable, table)
			}
		}
	}
	delete(q.tablesOf, fp)
}

// Purge empties the region and the reverse index.
func (q *QueryCache) Purge() {
	if !q.Enabled() {
		return
	}
	q.mu.Lock()
	q.byTable = make(map[string]map[string]struct{})
	q.tablesOf = make(map[string][]string)
	q.mu.Unlock()
	q.region.Purge()
}

// Stats snapshots the backing region.
func (q *QueryCache) Stats() Stats {
	if !q.Enabled() {
		return Stats{Name: RegionQueryResult}
	}
	return q.region.Stats()
}

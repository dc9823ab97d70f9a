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

// Package cache provides the gateway's tiered in-memory caches: a hot L1
// tier backed by a cold L2 tier, both LRU with per-entry TTL. Entries
// evicted from L1 demote to L2; an L2 hit promotes back to L1.
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mysql-mcp/gateway/memwatch"
)

const (
	// hotAccessThreshold hits make an entry eligible for TTL extension.
	hotAccessThreshold = 3
	// maxTTLFactor caps an extended lifetime relative to the region TTL.
	maxTTLFactor = 3
	// trackBytesThreshold is the entry size above which the weak-ref
	// registry starts tracking it.
	trackBytesThreshold = 4096
)

type entry struct {
	value     any
	size      int
	expiresAt time.Time
	storedAt  time.Time
	accesses  uint64
}

// Stats is a point-in-time snapshot of one region.
type Stats struct {
	Name      string  `json:"name"`
	L1Len     int     `json:"l1_len"`
	L2Len     int     `json:"l2_len"`
	L1Cap     int     `json:"l1_cap"`
	L2Cap     int     `json:"l2_cap"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

// Region is one named tiered cache. The zero value is not usable; construct
// with newRegion.
type Region struct {
	name string

	mu sync.Mutex
	l1 *lru.Cache[string, *entry]
	l2 *lru.Cache[string, *entry]

	baseL1 int
	baseL2 int
	ttl    time.Duration
	tiered bool
	// adjustTTL shortens effective TTL under pressure when enabled.
	adjustTTL bool
	// suppressDemote is set around explicit removals; the lru eviction
	// callback fires for Remove too, and those must not land in L2.
	suppressDemote bool
	pressure       float64

	// tracker, when set, follows large entries through weak references so
	// the memory controller's cleanup pass can see what is still live.
	tracker *memwatch.Registry[entry]

	hits      uint64
	misses    uint64
	evictions uint64

	now func() time.Time
}

func newRegion(name string, l1Size, l2Size int, ttl time.Duration, tiered, adjustTTL bool) *Region {
	r := &Region{
		name:      name,
		baseL1:    l1Size,
		baseL2:    l2Size,
		ttl:       ttl,
		tiered:    tiered,
		adjustTTL: adjustTTL,
		now:       time.Now,
	}
	r.l1 = r.mustLRU(l1Size, r.onEvictL1)
	if tiered {
		r.l2 = r.mustLRU(l2Size, r.onEvictL2)
	}
	return r
}

func (r *Region) mustLRU(size int, onEvict func(string, *entry)) *lru.Cache[string, *entry] {
	if size < 1 {
		size = 1
	}
	c, err := lru.NewWithEvict[string, *entry](size, onEvict)
	if err != nil {
		// Only reachable with a non-positive size, which we clamp above.
		panic(err)
	}
	return c
}

// onEvictL1 demotes capacity-evicted entries into L2. Runs with r.mu held
// because all lru mutations happen under it.
func (r *Region) onEvictL1(key string, e *entry) {
	r.evictions++
	if r.tiered && !r.suppressDemote && r.now().Before(e.expiresAt) {
		r.l2.Add(key, e)
	}
}

func (r *Region) onEvictL2(string, *entry) {
	r.evictions++
}

// Name returns the region's name.
func (r *Region) Name() string { return r.name }

// Set stores value under key with the region TTL.
func (r *Region) Set(key string, value any, size int) {
	r.SetTTL(key, value, size, r.ttl)
}

// SetTTL stores value with an explicit TTL.
func (r *Region) SetTTL(key string, value any, size int, ttl time.Duration) {
	if r.adjustTTL && r.pressure > 0 {
		// High pressure halves, then quarters, the effective lifetime.
		ttl = time.Duration(float64(ttl) * (1 - r.pressure/2))
	}
	now := r.now()
	e := &entry{value: value, size: size, expiresAt: now.Add(ttl), storedAt: now}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(key)
	r.l1.Add(key, e)
	if r.tracker != nil && size >= trackBytesThreshold {
		r.tracker.Track(r.name+"/"+key, e, int64(size))
	}
}

// Get returns the cached value. An L2 hit promotes the entry back into L1;
// repeated hits on an adjustTTL region extend the entry's lifetime.
func (r *Region) Get(key string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.l1.Get(key); ok {
		now := r.now()
		if now.Before(e.expiresAt) {
			r.touchLocked(key, e, now)
			r.hits++
			return e.value, true
		}
		r.removeFromLocked(r.l1, key)
	}
	if r.tiered {
		if e, ok := r.l2.Get(key); ok {
			now := r.now()
			if now.Before(e.expiresAt) {
				r.touchLocked(key, e, now)
				r.hits++
				r.removeFromLocked(r.l2, key)
				r.l1.Add(key, e)
				return e.value, true
			}
			r.removeFromLocked(r.l2, key)
		}
	}
	r.misses++
	return nil, false
}

// touchLocked records the access and, on adjustTTL regions, slides the
// expiry of hot entries forward by one region TTL, never past maxTTLFactor
// times the TTL from the original store.
func (r *Region) touchLocked(key string, e *entry, now time.Time) {
	e.accesses++
	if r.tracker != nil && e.size >= trackBytesThreshold {
		r.tracker.Touch(r.name + "/" + key)
	}
	if !r.adjustTTL || e.accesses < hotAccessThreshold {
		return
	}
	next := now.Add(r.ttl)
	if ceiling := e.storedAt.Add(maxTTLFactor * r.ttl); next.After(ceiling) {
		next = ceiling
	}
	if next.After(e.expiresAt) {
		e.expiresAt = next
	}
}

// Remove drops key from both tiers.
func (r *Region) Remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(key)
}

func (r *Region) removeLocked(key string) {
	r.suppressDemote = true
	r.l1.Remove(key)
	if r.tiered {
		r.l2.Remove(key)
	}
	r.suppressDemote = false
	if r.tracker != nil {
		r.tracker.Forget(r.name + "/" + key)
	}
}

// removeFromLocked removes from one tier without demotion side effects.
func (r *Region) removeFromLocked(c *lru.Cache[string, *entry], key string) {
	r.suppressDemote = true
	c.Remove(key)
	r.suppressDemote = false
}

// Purge empties both tiers.
func (r *Region) Purge() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.suppressDemote = true
	r.l1.Purge()
	if r.tiered {
		r.l2.Purge()
	}
	r.suppressDemote = false
}

// PurgeL2 empties only the cold tier. Used by the pressure responder, which
// sheds cold entries before touching hot ones.
func (r *Region) PurgeL2() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tiered {
		r.l2.Purge()
	}
}

// Keys returns the live keys across both tiers.
func (r *Region) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := r.l1.Keys()
	if r.tiered {
		keys = append(keys, r.l2.Keys()...)
	}
	return keys
}

// SetPressure re-sizes the region for the given memory pressure. Above the
// threshold the capacity shrinks linearly; shrinking an lru cache evicts
// from the LRU end, which demotes (L1) or drops (L2) the overflow.
func (r *Region) SetPressure(pressure, threshold float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pressure = pressure
	if pressure < threshold {
		r.l1.Resize(r.baseL1)
		if r.tiered {
			r.l2.Resize(r.baseL2)
		}
		return
	}
	// factor runs 1.0 at the threshold down toward 0.3 at pressure 1.0.
	factor := 1 - pressure + (1 - threshold)
	if factor < 0.3 {
		factor = 0.3
	}
	r.l1.Resize(scaled(r.baseL1, factor))
	if r.tiered {
		r.l2.Resize(scaled(r.baseL2, factor))
	}
}

func scaled(base int, factor float64) int {
	n := int(float64(base) * factor)
	if n < 1 {
		n = 1
	}
	return n
}

// Expire removes entries past their TTL and returns how many were dropped.
func (r *Region) Expire() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	removed := 0
	for _, key := range r.l1.Keys() {
		if e, ok := r.l1.Peek(key); ok && !now.Before(e.expiresAt) {
			r.removeFromLocked(r.l1, key)
			removed++
		}
	}
	if r.tiered {
		for _, key := range r.l2.Keys() {
			if e, ok := r.l2.Peek(key); ok && !now.Before(e.expiresAt) {
				r.removeFromLocked(r.l2, key)
				removed++
			}
		}
	}
	return removed
}

// Stats snapshots the region counters.
func (r *Region) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Stats{
		Name:      r.name,
		L1Len:     r.l1.Len(),
		L1Cap:     r.baseL1,
		Hits:      r.hits,
		Misses:    r.misses,
		Evictions: r.evictions,
	}
	if r.tiered {
		s.L2Len = r.l2.Len()
		s.L2Cap = r.baseL2
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

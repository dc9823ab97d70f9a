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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mysql-mcp/gateway/memwatch"
)

func frozenRegion(l1, l2 int, ttl time.Duration, tiered bool) (*Region, *time.Time) {
	r := newRegion("test", l1, l2, ttl, tiered, false)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	return r, &now
}

func adaptiveRegion(ttl time.Duration) (*Region, *time.Time) {
	r := newRegion("test", 8, 16, ttl, true, true)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	return r, &now
}

func TestRegionRoundTrip(t *testing.T) {
	r, _ := frozenRegion(4, 8, time.Minute, true)

	r.Set("k", "v", 1)
	got, ok := r.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", got)

	_, ok = r.Get("missing")
	assert.False(t, ok)

	s := r.Stats()
	assert.Equal(t, uint64(1), s.Hits)
	assert.Equal(t, uint64(1), s.Misses)
	assert.Equal(t, 0.5, s.HitRate)
}

func TestRegionTTLExpiry(t *testing.T) {
	r, now := frozenRegion(4, 8, time.Minute, true)

	r.Set("k", "v", 1)
	*now = now.Add(2 * time.Minute)

	_, ok := r.Get("k")
	assert.False(t, ok)
	// The expired entry is gone from both tiers, not just masked.
	assert.Empty(t, r.Keys())
}

func TestRegionDemoteAndPromote(t *testing.T) {
	r, _ := frozenRegion(2, 4, time.Minute, true)

	r.Set("a", 1, 1)
	r.Set("b", 2, 1)
	r.Set("c", 3, 1)

	// "a" was evicted from the hot tier and demoted.
	s := r.Stats()
	assert.Equal(t, 2, s.L1Len)
	assert.Equal(t, 1, s.L2Len)

	// Reading it promotes it back; exactly one tier holds it afterward.
	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, got)
	s = r.Stats()
	assert.Equal(t, 2, s.L1Len)
	assert.Equal(t, 1, s.L2Len)
}

func TestRegionRemoveDoesNotDemote(t *testing.T) {
	r, _ := frozenRegion(2, 4, time.Minute, true)

	r.Set("a", 1, 1)
	r.Remove("a")

	_, ok := r.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Stats().L2Len)
}

func TestRegionOverwriteReplacesBothTiers(t *testing.T) {
	r, _ := frozenRegion(2, 4, time.Minute, true)

	r.Set("a", 1, 1)
	r.Set("b", 2, 1)
	r.Set("c", 3, 1) // demotes "a" to L2
	r.Set("a", 10, 1)

	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, 10, got)
}

func TestRegionUntiered(t *testing.T) {
	r, _ := frozenRegion(2, 0, time.Minute, false)

	r.Set("a", 1, 1)
	r.Set("b", 2, 1)
	r.Set("c", 3, 1)

	_, ok := r.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Stats().L2Len)
}

func TestRegionPressureShrinksAndEvicts(t *testing.T) {
	r, _ := frozenRegion(10, 20, time.Minute, true)

	for i := 0; i < 8; i++ {
		r.Set(fmt.Sprintf("k%d", i), i, 1)
	}
	require.Equal(t, 8, r.Stats().L1Len)

	r.SetPressure(0.9, 0.8)

	// factor = 1 - 0.9 + (1 - 0.8) = 0.3, so the hot tier shrinks to 3 and
	// the overflow demotes to the (also shrunk) cold tier.
	s := r.Stats()
	assert.Equal(t, 3, s.L1Len)
	assert.Equal(t, 5, s.L2Len)

	// Oldest entries fall out of the hot tier but remain reachable via L2.
	_, ok := r.Get("k0")
	assert.True(t, ok)

	// Below the threshold the region grows back to its base capacity.
	r.SetPressure(0.1, 0.8)
	for i := 0; i < 8; i++ {
		r.Set(fmt.Sprintf("n%d", i), i, 1)
	}
	assert.GreaterOrEqual(t, r.Stats().L1Len, 8)
}

func TestRegionPressureFactorFloor(t *testing.T) {
	r, _ := frozenRegion(10, 20, time.Minute, true)

	r.SetPressure(1.0, 0.95)
	for i := 0; i < 10; i++ {
		r.Set(fmt.Sprintf("k%d", i), i, 1)
	}
	// Capacity never drops below 30% of the base.
	assert.Equal(t, 3, r.Stats().L1Len)
}

func TestRegionExpireJanitor(t *testing.T) {
	r, now := frozenRegion(8, 16, time.Minute, true)

	r.Set("old", 1, 1)
	*now = now.Add(30 * time.Second)
	r.Set("fresh", 2, 1)
	*now = now.Add(45 * time.Second)

	removed := r.Expire()
	assert.Equal(t, 1, removed)
	_, ok := r.Get("fresh")
	assert.True(t, ok)
}

func TestRegionHotEntryExtendsTTL(t *testing.T) {
	r, now := adaptiveRegion(time.Minute)

	r.Set("hot", "v", 1)
	for i := 0; i < hotAccessThreshold; i++ {
		_, ok := r.Get("hot")
		require.True(t, ok)
	}

	// A hot entry read just before its base expiry slides a full TTL forward.
	*now = now.Add(50 * time.Second)
	_, ok := r.Get("hot")
	require.True(t, ok)

	*now = now.Add(50 * time.Second)
	_, ok = r.Get("hot")
	assert.True(t, ok, "hot entry should survive past the base TTL")
}

func TestRegionColdEntryExpiresAtBaseTTL(t *testing.T) {
	r, now := adaptiveRegion(time.Minute)

	r.Set("cold", "v", 1)
	_, ok := r.Get("cold")
	require.True(t, ok)

	*now = now.Add(61 * time.Second)
	_, ok = r.Get("cold")
	assert.False(t, ok, "an entry below the hot threshold keeps its base TTL")
}

func TestRegionExtensionCapsAtThreeTimesTTL(t *testing.T) {
	r, now := adaptiveRegion(time.Minute)

	r.Set("hot", "v", 1)
	for i := 0; i < hotAccessThreshold; i++ {
		_, ok := r.Get("hot")
		require.True(t, ok)
	}

	// Keep the entry hot right up to the lifetime ceiling at 180s.
	for i := 0; i < 5; i++ {
		*now = now.Add(35 * time.Second)
		_, ok := r.Get("hot")
		require.True(t, ok, "read %d", i)
	}

	*now = now.Add(10 * time.Second)
	_, ok := r.Get("hot")
	assert.False(t, ok, "no read can push the lifetime past three TTLs")
}

func TestRegionHitsDoNotExtendWithoutAdjustTTL(t *testing.T) {
	r, now := frozenRegion(8, 16, time.Minute, true)

	r.Set("hot", "v", 1)
	for i := 0; i < 5; i++ {
		_, ok := r.Get("hot")
		require.True(t, ok)
	}

	*now = now.Add(61 * time.Second)
	_, ok := r.Get("hot")
	assert.False(t, ok)
}

func TestRegionTracksLargeEntries(t *testing.T) {
	r, _ := frozenRegion(8, 16, time.Minute, true)
	reg := memwatch.NewRegistry[entry]()
	r.tracker = reg

	big := strings.Repeat("x", trackBytesThreshold)
	r.Set("big", big, len(big))
	r.Set("small", "v", 1)

	assert.Equal(t, 1, reg.Len(), "only entries at the size threshold are tracked")
	assert.Equal(t, int64(len(big)), reg.LiveBytes())

	r.Remove("big")
	assert.Equal(t, 0, reg.Len())
}

func TestRegionPurgeL2(t *testing.T) {
	r, _ := frozenRegion(2, 4, time.Minute, true)

	r.Set("a", 1, 1)
	r.Set("b", 2, 1)
	r.Set("c", 3, 1)
	require.Equal(t, 1, r.Stats().L2Len)

	r.PurgeL2()
	assert.Equal(t, 0, r.Stats().L2Len)
	assert.Equal(t, 2, r.Stats().L1Len)

	r.Purge()
	assert.Empty(t, r.Keys())
}

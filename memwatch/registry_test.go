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

package memwatch

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRegistryTrackAndLiveBytes(t *testing.T) {
	r := NewRegistry[string]()

	a, b := new(string), new(string)
	r.Track("a", a, 100)
	r.Track("b", b, 200)

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, int64(300), r.LiveBytes())

	// Replacing an entry keeps one slot.
	r.Track("a", a, 150)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, int64(350), r.LiveBytes())

	r.Forget("a")
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, int64(200), r.LiveBytes())

	runtime.KeepAlive(a)
	runtime.KeepAlive(b)
}

func TestRegistryCleanupDropsDeadReferents(t *testing.T) {
	r := NewRegistry[[]byte]()

	track := func(id string) {
		buf := make([]byte, 1024)
		r.Track(id, &buf, 1024)
	}
	track("dead")

	kept := make([]byte, 1024)
	r.Track("alive", &kept, 1024)

	runtime.GC()
	runtime.GC()

	removed := r.Cleanup(time.Hour)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, int64(1024), r.LiveBytes())

	runtime.KeepAlive(&kept)
}

func TestRegistryCleanupDropsIdleEntries(t *testing.T) {
	r := NewRegistry[string]()

	v := new(string)
	r.Track("x", v, 10)

	// Entries below the idle threshold survive.
	assert.Equal(t, 0, r.Cleanup(time.Hour))

	// Backdate the entry past the threshold.
	r.mu.Lock()
	r.entries["x"].lastAccess = time.Now().Add(-2 * time.Hour)
	r.mu.Unlock()

	assert.Equal(t, 1, r.Cleanup(time.Hour))
	assert.Equal(t, 0, r.Len())

	runtime.KeepAlive(v)
}

func TestRegistryTouchRefreshesIdleClock(t *testing.T) {
	r := NewRegistry[string]()

	v := new(string)
	r.Track("x", v, 10)
	r.mu.Lock()
	r.entries["x"].lastAccess = time.Now().Add(-2 * time.Hour)
	r.mu.Unlock()

	r.Touch("x")
	assert.Equal(t, 0, r.Cleanup(time.Hour))

	runtime.KeepAlive(v)
}

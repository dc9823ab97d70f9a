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
	"sync"
	"time"
	"weak"
)

// DefaultIdleThreshold is how long a tracked object may go untouched before
// a cleanup pass drops it.
const DefaultIdleThreshold = 5 * time.Minute

type tracked[T any] struct {
	ref        weak.Pointer[T]
	size       int64
	lastAccess time.Time
}

// Registry tracks large objects through weak references so cleanup can
// observe what is still alive without keeping anything alive itself.
type Registry[T any] struct {
	mu      sync.Mutex
	entries map[string]*tracked[T]
}

func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{entries: make(map[string]*tracked[T])}
}

// Track registers ptr under id, replacing any previous entry.
func (r *Registry[T]) Track(id string, ptr *T, size int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = &tracked[T]{ref: weak.Make(ptr), size: size, lastAccess: time.Now()}
}

// Touch refreshes the last-access time for id.
func (r *Registry[T]) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.lastAccess = time.Now()
	}
}

// Forget drops id without waiting for cleanup.
func (r *Registry[T]) Forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Len returns the number of tracked entries, dead or alive.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// LiveBytes sums the sizes of entries whose referent is still reachable.
func (r *Registry[T]) LiveBytes() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for _, e := range r.entries {
		if e.ref.Value() != nil {
			total += e.size
		}
	}
	return total
}

// Cleanup removes entries whose referent is gone or whose idle time exceeds
// idleThreshold, returning how many were dropped.
func (r *Registry[T]) Cleanup(idleThreshold time.Duration) int {
	if idleThreshold <= 0 {
		idleThreshold = DefaultIdleThreshold
	}
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, e := range r.entries {
		if e.ref.Value() == nil || now.Sub(e.lastAccess) > idleThreshold {
			delete(r.entries, id)
			removed++
		}
	}
	return removed
}

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

package config

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	configReloadSuccess = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mysql_gateway",
		Name:      "config_last_reload_successful",
		Help:      "Whether the last configuration reload attempt was successful.",
	})
	configReloadSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mysql_gateway",
		Name:      "config_last_reload_success_timestamp_seconds",
		Help:      "Timestamp of the last successful configuration reload.",
	})
)

// RegisterMetrics registers the reload gauges on reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(configReloadSuccess, configReloadSeconds)
}

// Store publishes the current snapshot. Readers call Get and never observe a
// partially updated configuration; writers replace the whole value.
type Store struct {
	current atomic.Pointer[Config]
	version atomic.Uint64

	mu   sync.Mutex
	subs []func(*Config)
}

func NewStore(c *Config) *Store {
	s := &Store{}
	s.current.Store(c)
	s.version.Store(1)
	return s
}

// Get returns the current snapshot. The returned value must not be mutated.
func (s *Store) Get() *Config { return s.current.Load() }

// Version increases by one for every successful swap, so subscribers can
// detect drift without comparing snapshots.
func (s *Store) Version() uint64 { return s.version.Load() }

// Subscribe registers fn to run after every swap. fn must not block.
func (s *Store) Subscribe(fn func(*Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Swap validates and publishes a new snapshot.
func (s *Store) Swap(c *Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.current.Store(c)
	s.version.Add(1)

	s.mu.Lock()
	subs := make([]func(*Config), len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(c)
	}
	return nil
}

// Reloader rebuilds the snapshot from its sources and swaps it into a Store.
type Reloader interface {
	Reload() error
}

type reloader struct {
	store  *Store
	path   string // my.cnf path, may be empty
	logger *slog.Logger
}

// NewReloader builds a Reloader that re-reads defaults, the optional my.cnf
// file, and the environment, in that order.
func NewReloader(store *Store, mycnfPath string, logger *slog.Logger) Reloader {
	return &reloader{store: store, path: mycnfPath, logger: logger}
}

func (r *reloader) Reload() error {
	next := Default()
	if r.path != "" {
		if err := LoadMycnf(r.path, next); err != nil {
			configReloadSuccess.Set(0)
			return err
		}
	}
	if err := FromEnv(next); err != nil {
		configReloadSuccess.Set(0)
		return err
	}
	if err := r.store.Swap(next); err != nil {
		configReloadSuccess.Set(0)
		return err
	}
	configReloadSuccess.Set(1)
	configReloadSeconds.SetToCurrentTime()
	r.logger.Info("Configuration reloaded", "version", r.store.Version())
	return nil
}

// Watch reloads whenever the my.cnf file changes on disk. It returns a stop
// function. Reload failures keep the previous snapshot and are only logged.
func Watch(r Reloader, path string, logger *slog.Logger) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				// Editors often emit bursts of events; a short settle
				// avoids reloading a half-written file.
				time.Sleep(100 * time.Millisecond)
				if err := r.Reload(); err != nil {
					logger.Error("Error reloading configuration", "path", path, "err", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error("Error watching configuration", "path", path, "err", err)
			}
		}
	}()

	return func() {
		watcher.Close()
		<-done
	}, nil
}

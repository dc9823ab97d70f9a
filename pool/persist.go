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

package pool

import (
	"encoding/json"
	"errors"
	"os"
	"time"
)

const statsSaveInterval = 5 * time.Minute

// statsFile is the persisted pool state. Counters are restored at startup
// so dashboards do not regress across restarts.
type statsFile struct {
	TS              time.Time `json:"ts"`
	DB              string    `json:"db"`
	Stats           Stats     `json:"stats"`
	Cap             int       `json:"cap"`
	RecentWaitsMS   []int64   `json:"recentWaits"`
	HealthFailures  uint64    `json:"healthFailures"`
	LastHealthCheck time.Time `json:"lastHealthCheck"`
}

// SaveStats writes the stats file, replacing it atomically via a temp file
// rename so readers never see a partial document.
func (p *Pool) SaveStats(path string) error {
	p.mu.Lock()
	doc := statsFile{
		TS:              time.Now().UTC(),
		DB:              p.cfg.Database,
		Stats:           p.stats,
		Cap:             p.cap,
		RecentWaitsMS:   p.waits.snapshot(),
		HealthFailures:  p.stats.HealthFailures,
		LastHealthCheck: p.stats.LastHealthCheck,
	}
	p.mu.Unlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadStats restores persisted counters. A missing or unparseable file is
// not an error; the pool simply starts from zero.
func (p *Pool) LoadStats(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			p.logger.Warn("Stats file unreadable, starting fresh", "path", path, "err", err)
		}
		return
	}
	var doc statsFile
	if err := json.Unmarshal(data, &doc); err != nil {
		p.logger.Warn("Stats file corrupt, starting fresh", "path", path, "err", err)
		return
	}

	p.mu.Lock()
	p.stats = doc.Stats
	for _, ms := range doc.RecentWaitsMS {
		p.waits.record(time.Duration(ms) * time.Millisecond)
	}
	p.mu.Unlock()
	p.logger.Info("Restored pool stats", "path", path, "saved_at", doc.TS)
}

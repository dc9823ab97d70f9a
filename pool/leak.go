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
	"time"

	"github.com/mysql-mcp/gateway/mysqlerr"
)

const (
	leakScanInterval = 30 * time.Second
	// leakThreshold is the borrow age past which a connection counts as
	// leaked and is forcibly reclaimed.
	leakThreshold = 60 * time.Second
	// leakAlertThreshold reclaims before a critical alert is raised.
	leakAlertThreshold = 10
)

// scanLeaks reclaims connections whose borrowers never released them. The
// acquire-time stack pinpoints the leaking call site.
func (p *Pool) scanLeaks() {
	cutoff := time.Now().Add(-leakThreshold)

	p.mu.Lock()
	var leaked []*Conn
	for _, c := range p.inUse {
		if c.acquiredAt.Before(cutoff) {
			leaked = append(leaked, c)
		}
	}
	p.mu.Unlock()

	for _, c := range leaked {
		p.logger.Error("Reclaiming leaked connection",
			"conn_id", c.id, "age", c.Age().Round(time.Second), "stack", string(c.stack))
		c.forceRelease()
	}
	if len(leaked) == 0 {
		return
	}

	p.mu.Lock()
	p.stats.LeaksReclaimed += uint64(len(leaked))
	total := p.stats.LeaksReclaimed
	p.mu.Unlock()

	p.events.Record(mysqlerr.SeverityMedium, "connection_leak", map[string]any{
		"pool":  p.name,
		"count": len(leaked),
	})
	if total >= leakAlertThreshold {
		p.events.Record(mysqlerr.SeverityCritical, "connection_leak_persistent", map[string]any{
			"pool":            p.name,
			"total_reclaimed": total,
		})
	}
}

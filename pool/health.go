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
	"context"
	"time"

	"github.com/mysql-mcp/gateway/mysqlerr"
)

const (
	healthInterval = 15 * time.Second
	// resizeAfterFailures consecutive probe failures trigger a sizing pass.
	resizeAfterFailures = 3
	// recoveryAfterFailures consecutive probe failures enter staged recovery.
	recoveryAfterFailures = 5
)

// healthCheck runs one probe. Overlapping probes and probes during a resize
// swap are suppressed.
func (p *Pool) healthCheck(ctx context.Context) {
	p.mu.Lock()
	if p.checking || p.pausedChecks || p.closed {
		p.mu.Unlock()
		return
	}
	p.checking = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.checking = false
		p.mu.Unlock()
	}()

	err := p.Ping(ctx)

	p.mu.Lock()
	p.stats.LastHealthCheck = time.Now().UTC()
	if err == nil {
		p.consecutiveFailures = 0
		p.mu.Unlock()
		return
	}
	// A fast-failed probe while the breaker is open adds nothing new.
	if mysqlerr.KindOf(err) == mysqlerr.KindCircuitOpen {
		p.mu.Unlock()
		return
	}
	p.stats.HealthFailures++
	p.consecutiveFailures++
	failures := p.consecutiveFailures
	p.mu.Unlock()

	p.logger.Warn("Health check failed", "consecutive", failures, "err", err)

	switch {
	case failures >= recoveryAfterFailures:
		go p.recover(context.Background())
	case failures >= resizeAfterFailures:
		p.adjustSize(0)
	}
}

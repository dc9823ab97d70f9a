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

const recoveryPause = 2 * time.Second

// recover runs the staged recovery after sustained health failures: rebuild
// at a reduced cap, escalate to a forced rebuild at the minimum, then warm
// and re-validate. Only one recovery runs at a time.
func (p *Pool) recover(ctx context.Context) {
	p.mu.Lock()
	if p.recovering || p.closed {
		p.mu.Unlock()
		return
	}
	p.recovering = true
	p.stats.RecoveryRuns++
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.recovering = false
		p.mu.Unlock()
	}()

	p.events.Record(mysqlerr.SeverityHigh, "recovery_started", map[string]any{
		"pool": p.name,
	})
	p.logger.Warn("Starting staged recovery")

	// Stage 1: rebuild at a reduced cap and see if the endpoint answers.
	reduced := p.cfg.PoolMin + (p.cfg.PoolMax-p.cfg.PoolMin)/2
	if err := p.rebuild(ctx, reduced, false); err == nil {
		p.finishRecovery(ctx)
		return
	}

	// Stage 2: force out every borrower and rebuild at the minimum.
	p.logger.Warn("Recovery escalating: forcing in-use connections closed")
	p.forceCloseInUse()
	if err := p.rebuild(ctx, p.cfg.PoolMin, true); err != nil {
		p.events.Record(mysqlerr.SeverityCritical, "recovery_failed", map[string]any{
			"pool": p.name,
			"err":  err.Error(),
		})
		p.logger.Error("Staged recovery failed", "err", err)
		return
	}
	p.finishRecovery(ctx)
}

// rebuild replaces the endpoint at the given cap and validates it with a
// direct ping (not through the breaker, which may be open).
func (p *Pool) rebuild(ctx context.Context, capacity int, force bool) error {
	fresh, err := p.open(capacity)
	if err != nil {
		return err
	}
	pingCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	err = fresh.PingContext(pingCtx)
	cancel()
	if err != nil {
		fresh.Close()
		return mysqlerr.ClassifyWrap("recovery validation ping", err)
	}

	p.mu.Lock()
	old := p.db
	p.db = fresh
	p.cap = capacity
	p.mu.Unlock()

	if force {
		old.Close()
	} else {
		go p.drain(old)
	}
	return nil
}

func (p *Pool) forceCloseInUse() {
	p.mu.Lock()
	stale := make([]*Conn, 0, len(p.inUse))
	for _, c := range p.inUse {
		stale = append(stale, c)
	}
	p.mu.Unlock()
	for _, c := range stale {
		c.forceRelease()
	}
}

// finishRecovery pauses, warms to the floor, and resets the failure state.
// The breaker is replaced outright so the pool re-opens immediately rather
// than waiting out the open window.
func (p *Pool) finishRecovery(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(recoveryPause):
	}

	p.resetBreaker()
	if err := p.Warm(ctx); err != nil {
		p.logger.Warn("Post-recovery warm-up incomplete", "err", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.events.Record(mysqlerr.SeverityCritical, "recovery_failed", map[string]any{
			"pool": p.name,
			"err":  err.Error(),
		})
		return
	}

	p.mu.Lock()
	p.consecutiveFailures = 0
	p.mu.Unlock()
	p.events.Record(mysqlerr.SeverityMedium, "recovery_succeeded", map[string]any{
		"pool": p.name,
		"cap":  p.cap,
	})
	p.logger.Info("Staged recovery complete")
}

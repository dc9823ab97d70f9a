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
	"database/sql"
	"time"
)

const (
	// Wait-time bands driving cap adjustment.
	waitGrowThreshold   = 200 * time.Millisecond
	waitShrinkThreshold = 50 * time.Millisecond
	growStep            = 3
	shrinkStep          = 2
	// drainTimeout bounds how long a replaced endpoint waits for its
	// borrowers before being closed anyway.
	drainTimeout = 10 * time.Second
)

// waitRing keeps the most recent acquire wait times for sizing decisions.
type waitRing struct {
	buf  []time.Duration
	next int
	full bool
}

func newWaitRing(size int) *waitRing {
	return &waitRing{buf: make([]time.Duration, size)}
}

func (w *waitRing) record(d time.Duration) {
	w.buf[w.next] = d
	w.next++
	if w.next == len(w.buf) {
		w.next = 0
		w.full = true
	}
}

func (w *waitRing) length() int {
	if w.full {
		return len(w.buf)
	}
	return w.next
}

func (w *waitRing) average() time.Duration {
	n := w.length()
	if n == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < n; i++ {
		sum += w.buf[i]
	}
	return sum / time.Duration(n)
}

// rising compares the newer half of the window against the older half.
func (w *waitRing) rising() bool {
	n := w.length()
	if n < 4 {
		return false
	}
	ordered := w.ordered()
	half := n / 2
	var older, newer time.Duration
	for i := 0; i < half; i++ {
		older += ordered[i]
	}
	for i := half; i < n; i++ {
		newer += ordered[i]
	}
	return newer/time.Duration(n-half) > older/time.Duration(half)
}

func (w *waitRing) ordered() []time.Duration {
	n := w.length()
	out := make([]time.Duration, 0, n)
	if w.full {
		out = append(out, w.buf[w.next:]...)
	}
	out = append(out, w.buf[:w.next]...)
	return out[:n]
}

func (w *waitRing) snapshot() []int64 {
	ordered := w.ordered()
	out := make([]int64, len(ordered))
	for i, d := range ordered {
		out[i] = d.Milliseconds()
	}
	return out
}

// adjustSize picks a new cap from recent wait behavior and system load,
// then applies it. A zero load means "not sampled"; loads come from the
// memory controller via OnPressure.
func (p *Pool) adjustSize(load float64) {
	p.mu.Lock()
	avg := p.waits.average()
	rising := p.waits.rising()
	cur := p.cap
	p.mu.Unlock()

	target := cur
	switch {
	case avg > waitGrowThreshold && rising && cur < p.cfg.PoolMax:
		target = cur + growStep
	case avg < waitShrinkThreshold && !rising && cur > p.cfg.PoolMin:
		target = cur - shrinkStep
	}
	if load > 0.8 && target > p.cfg.PoolMin {
		target--
	}
	if target > p.cfg.PoolMax {
		target = p.cfg.PoolMax
	}
	if target < p.cfg.PoolMin {
		target = p.cfg.PoolMin
	}
	if target == cur {
		return
	}
	if err := p.Resize(context.Background(), target); err != nil {
		p.logger.Warn("Pool resize failed", "target", target, "err", err)
	}
}

// OnPressure lets the memory controller shrink the pool under load.
func (p *Pool) OnPressure(pressure float64) {
	if pressure <= 0 {
		return
	}
	p.adjustSize(pressure)
}

// Resize swaps in a freshly opened endpoint at the new cap, warms it, and
// drains the old one in the background. Health checks pause across the
// swap so a half-drained endpoint is not probed.
func (p *Pool) Resize(ctx context.Context, newCap int) error {
	if newCap < p.cfg.PoolMin {
		newCap = p.cfg.PoolMin
	}
	if newCap > p.cfg.PoolMax {
		newCap = p.cfg.PoolMax
	}

	fresh, err := p.open(newCap)
	if err != nil {
		return err
	}
	warmCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()
	if err := fresh.PingContext(warmCtx); err != nil {
		fresh.Close()
		return err
	}

	p.mu.Lock()
	old := p.db
	oldCap := p.cap
	p.db = fresh
	p.cap = newCap
	p.stats.Resizes++
	p.pausedChecks = true
	p.mu.Unlock()

	p.logger.Info("Pool resized", "from", oldCap, "to", newCap)

	go func() {
		p.drain(old)
		p.mu.Lock()
		p.pausedChecks = false
		p.mu.Unlock()
	}()
	return nil
}

// drain waits for the replaced endpoint's borrowed connections to come
// back, then closes it. After drainTimeout it closes regardless; the
// driver invalidates stragglers on release.
func (p *Pool) drain(old *sql.DB) {
	deadline := time.Now().Add(drainTimeout)
	for time.Now().Before(deadline) {
		if old.Stats().InUse == 0 {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err := old.Close(); err != nil {
		p.logger.Debug("Drained endpoint close failed", "err", err)
	}
}

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

// Package pool manages the gateway's MySQL connections: a primary pool and
// zero or more replica pools, each with its own circuit breaker, health
// probe, leak detector, and dynamic sizing.
package pool

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/mysql-mcp/gateway/config"
	"github.com/mysql-mcp/gateway/eventlog"
	"github.com/mysql-mcp/gateway/mysqlerr"
)

const (
	// breakerFailureThreshold consecutive failures open the breaker.
	breakerFailureThreshold = 5
	// breakerOpenWindow is how long the breaker stays open before probing.
	breakerOpenWindow = 30 * time.Second
	// breakerProbeBudget successes in half-open close the breaker.
	breakerProbeBudget = 3
)

// Stats are the pool's monotonic counters. They survive restarts through
// the stats file.
type Stats struct {
	Acquired        uint64 `json:"acquired"`
	Released        uint64 `json:"released"`
	Timeouts        uint64 `json:"timeouts"`
	LeaksReclaimed  uint64 `json:"leaks_reclaimed"`
	HealthFailures  uint64 `json:"health_failures"`
	BreakerOpens    uint64 `json:"breaker_opens"`
	Resizes         uint64 `json:"resizes"`
	RecoveryRuns    uint64 `json:"recovery_runs"`
	LastHealthCheck time.Time `json:"last_health_check"`
}

// Snapshot is a point-in-time view for the pool_stats tool.
type Snapshot struct {
	Name         string        `json:"name"`
	Cap          int           `json:"cap"`
	InUse        int           `json:"in_use"`
	Idle         int           `json:"idle"`
	BreakerState string        `json:"breaker_state"`
	AvgWait      time.Duration `json:"avg_wait"`
	Stats        Stats         `json:"stats"`
}

// Pool wraps one database endpoint. The inner *sql.DB enforces the cap and
// idle lifetime; the Pool layers borrow tracking, the breaker, and sizing
// on top.
type Pool struct {
	name     string
	dsn      string
	cfg      config.DatabaseConfig
	readOnly bool
	logger   *slog.Logger
	events   *eventlog.Log

	mu    sync.Mutex
	db    *sql.DB
	cap   int
	inUse map[string]*Conn
	waits *waitRing
	stats Stats
	// checking suppresses overlapping health probes.
	checking bool
	// consecutiveFailures drives resize scheduling and staged recovery; the
	// breaker keeps its own count.
	consecutiveFailures int
	// pausedChecks is set across a resize swap.
	pausedChecks bool
	recovering   bool
	closed       bool

	breaker *gobreaker.CircuitBreaker

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// New opens a pool against dsn. The pool starts at PoolMin warm connections
// and grows on demand up to the current cap.
func New(name, dsn string, cfg config.DatabaseConfig, readOnly bool, logger *slog.Logger, events *eventlog.Log) (*Pool, error) {
	p := &Pool{
		name:     name,
		dsn:      dsn,
		cfg:      cfg,
		readOnly: readOnly,
		logger:   logger.With("pool", name),
		events:   events,
		cap:      cfg.PoolMax,
		inUse:    make(map[string]*Conn),
		waits:    newWaitRing(32),
		stop:     make(chan struct{}),
	}
	p.breaker = p.newBreaker()

	db, err := p.open(p.cap)
	if err != nil {
		return nil, err
	}
	p.db = db
	return p, nil
}

func (p *Pool) newBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        p.name,
		MaxRequests: breakerProbeBudget,
		Timeout:     breakerOpenWindow,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		OnStateChange: p.onBreakerChange,
	})
}

// resetBreaker swaps in a fresh, closed breaker. Used by staged recovery
// once the endpoint has been rebuilt and validated.
func (p *Pool) resetBreaker() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.breaker = p.newBreaker()
}

func (p *Pool) cb() *gobreaker.CircuitBreaker {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.breaker
}

func (p *Pool) open(capacity int) (*sql.DB, error) {
	db, err := sql.Open("mysql", p.dsn)
	if err != nil {
		return nil, mysqlerr.Wrap(mysqlerr.KindConfiguration, "invalid DSN", err)
	}
	db.SetMaxOpenConns(capacity)
	db.SetMaxIdleConns(p.cfg.PoolMin)
	db.SetConnMaxIdleTime(p.cfg.IdleTimeout)
	return db, nil
}

// Warm establishes PoolMin connections up front so the first queries do not
// pay the dial cost.
func (p *Pool) Warm(ctx context.Context) error {
	conns := make([]*Conn, 0, p.cfg.PoolMin)
	for i := 0; i < p.cfg.PoolMin; i++ {
		c, err := p.Acquire(ctx)
		if err != nil {
			for _, warmed := range conns {
				warmed.Release()
			}
			return err
		}
		conns = append(conns, c)
	}
	for _, c := range conns {
		c.Release()
	}
	return nil
}

// Name returns the pool's name ("primary", "replica-0", ...).
func (p *Pool) Name() string { return p.name }

// Healthy reports whether the breaker currently admits traffic.
func (p *Pool) Healthy() bool {
	return p.cb().State() != gobreaker.StateOpen
}

// Acquire borrows a connection, waiting up to the connect timeout for a
// free slot. Fails fast with circuit-open while the breaker is open.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	v, err := p.cb().Execute(func() (any, error) {
		return p.acquire(ctx)
	})
	if err != nil {
		switch err {
		case gobreaker.ErrOpenState:
			return nil, mysqlerr.Wrap(mysqlerr.KindCircuitOpen,
				fmt.Sprintf("pool %s is shedding load", p.name), err)
		case gobreaker.ErrTooManyRequests:
			return nil, mysqlerr.Wrap(mysqlerr.KindCircuitOpen,
				fmt.Sprintf("pool %s probe budget exhausted", p.name), err)
		}
		return nil, err
	}
	return v.(*Conn), nil
}

func (p *Pool) acquire(ctx context.Context) (*Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, mysqlerr.New(mysqlerr.KindConnection, "pool is closed")
	}
	db := p.db
	p.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()

	start := time.Now()
	sqlConn, err := db.Conn(waitCtx)
	wait := time.Since(start)

	p.mu.Lock()
	p.waits.record(wait)
	p.mu.Unlock()

	if err != nil {
		werr := mysqlerr.ClassifyWrap("acquire connection", err)
		if mysqlerr.KindOf(werr) == mysqlerr.KindTimeout {
			p.mu.Lock()
			p.stats.Timeouts++
			p.mu.Unlock()
		}
		return nil, werr
	}

	c := newConn(sqlConn, p, p.readOnly)
	if err := p.initSession(waitCtx, c); err != nil {
		sqlConn.Close()
		return nil, err
	}

	p.mu.Lock()
	p.inUse[c.id] = c
	p.stats.Acquired++
	p.mu.Unlock()
	return c, nil
}

// initSession captures the server thread id and applies the session query
// timeout. max_execution_time is in milliseconds and SELECT-only, which is
// exactly the exposure we want to bound.
func (p *Pool) initSession(ctx context.Context, c *Conn) error {
	if err := c.sqlConn.QueryRowContext(ctx, "SELECT CONNECTION_ID()").Scan(&c.threadID); err != nil {
		return mysqlerr.ClassifyWrap("read connection id", err)
	}
	timeoutMS := p.cfg.QueryTimeout.Milliseconds()
	if _, err := c.sqlConn.ExecContext(ctx,
		fmt.Sprintf("SET SESSION max_execution_time = %d", timeoutMS)); err != nil {
		return mysqlerr.ClassifyWrap("set session timeout", err)
	}
	return nil
}

// release is called by Conn.Release. Returning the *sql.Conn to the inner
// pool happens outside the lock.
func (p *Pool) release(c *Conn) {
	p.mu.Lock()
	_, tracked := p.inUse[c.id]
	delete(p.inUse, c.id)
	if tracked {
		p.stats.Released++
	}
	p.mu.Unlock()
	if err := c.sqlConn.Close(); err != nil {
		p.logger.Debug("Connection close failed", "conn_id", c.id, "err", err)
	}
}

// Ping probes the endpoint through the breaker with a strict timeout of
// half the connect timeout.
func (p *Pool) Ping(ctx context.Context) error {
	_, err := p.cb().Execute(func() (any, error) {
		pingCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout/2)
		defer cancel()
		p.mu.Lock()
		db := p.db
		p.mu.Unlock()
		if err := db.PingContext(pingCtx); err != nil {
			return nil, mysqlerr.ClassifyWrap("ping", err)
		}
		return nil, nil
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return mysqlerr.Wrap(mysqlerr.KindCircuitOpen,
			fmt.Sprintf("pool %s breaker is open", p.name), err)
	}
	return err
}

func (p *Pool) onBreakerChange(name string, from, to gobreaker.State) {
	p.logger.Warn("Circuit breaker state change",
		"from", from.String(), "to", to.String())
	if to == gobreaker.StateOpen {
		p.mu.Lock()
		p.stats.BreakerOpens++
		p.mu.Unlock()
		p.events.Record(mysqlerr.SeverityHigh, "breaker_open", map[string]any{
			"pool": name,
		})
	}
}

// Start launches the background loops: health probe, leak detection, and
// stats persistence.
func (p *Pool) Start(statsPath string) {
	p.runLoop("health", healthInterval, p.healthCheck)
	p.runLoop("leaks", leakScanInterval, func(ctx context.Context) { p.scanLeaks() })
	if statsPath != "" {
		p.runLoop("stats", statsSaveInterval, func(ctx context.Context) {
			if err := p.SaveStats(statsPath); err != nil {
				p.logger.Warn("Stats save failed", "err", err)
			}
		})
	}
}

func (p *Pool) runLoop(name string, interval time.Duration, fn func(context.Context)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				fn(ctx)
				cancel()
			}
		}
	}()
}

// Close stops the loops and closes the endpoint. Borrowed connections are
// invalidated by the driver as they are released.
func (p *Pool) Close() error {
	var err error
	p.once.Do(func() {
		close(p.stop)
		p.wg.Wait()
		p.mu.Lock()
		p.closed = true
		db := p.db
		p.mu.Unlock()
		err = db.Close()
	})
	return err
}

// SnapshotNow captures the pool's current state.
func (p *Pool) SnapshotNow() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	dbStats := p.db.Stats()
	return Snapshot{
		Name:         p.name,
		Cap:          p.cap,
		InUse:        len(p.inUse),
		Idle:         dbStats.Idle,
		BreakerState: p.breaker.State().String(),
		AvgWait:      p.waits.average(),
		Stats:        p.stats,
	}
}

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
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Conn is a borrowed connection. The pool owns it; the caller must call
// Release exactly once on every exit path. A second Release is a warned
// no-op.
type Conn struct {
	id         string
	sqlConn    *sql.Conn
	owner      *Pool
	readOnly   bool
	acquiredAt time.Time
	// stack is the caller's stack at acquire time, reported when the leak
	// detector reclaims the connection.
	stack []byte
	// threadID is the server-side connection id, used for best-effort KILL
	// QUERY on caller cancellation.
	threadID uint64

	releaseOnce sync.Once
	released    atomic.Bool
	// reclaimed marks connections force-released by the leak detector; the
	// late legitimate Release then skips the double-release warning.
	reclaimed atomic.Bool
}

func newConn(sqlConn *sql.Conn, owner *Pool, readOnly bool) *Conn {
	return &Conn{
		id:         uuid.NewString(),
		sqlConn:    sqlConn,
		owner:      owner,
		readOnly:   readOnly,
		acquiredAt: time.Now(),
		stack:      debug.Stack(),
	}
}

// ID returns the synthetic connection id.
func (c *Conn) ID() string { return c.id }

// ReadOnly reports whether the connection came from a replica pool.
func (c *Conn) ReadOnly() bool { return c.readOnly }

// Age returns how long the connection has been borrowed.
func (c *Conn) Age() time.Duration { return time.Since(c.acquiredAt) }

// ThreadID returns the server-side connection id, 0 if unknown.
func (c *Conn) ThreadID() uint64 { return c.threadID }

// QueryContext runs a read query on the borrowed connection.
func (c *Conn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.sqlConn.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query on the borrowed connection.
func (c *Conn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.sqlConn.QueryRowContext(ctx, query, args...)
}

// ExecContext runs a statement on the borrowed connection.
func (c *Conn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.sqlConn.ExecContext(ctx, query, args...)
}

// BeginTx opens a transaction on the borrowed connection.
func (c *Conn) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return c.sqlConn.BeginTx(ctx, opts)
}

// PingContext verifies the connection is alive.
func (c *Conn) PingContext(ctx context.Context) error {
	return c.sqlConn.PingContext(ctx)
}

// Release returns the connection to the pool. Safe to call from defer on
// every path; only the first call does anything.
func (c *Conn) Release() {
	first := false
	c.releaseOnce.Do(func() {
		first = true
		c.released.Store(true)
		c.owner.release(c)
	})
	if !first && !c.reclaimed.Load() {
		c.owner.logger.Warn("Double release of pooled connection ignored", "conn_id", c.id)
	}
}

// forceRelease is the leak detector's reclaim path. It bypasses the
// double-release warning for the borrower's eventual Release call.
func (c *Conn) forceRelease() {
	c.reclaimed.Store(true)
	c.releaseOnce.Do(func() {
		c.released.Store(true)
		c.owner.release(c)
	})
}

// Kill issues a best-effort server-side KILL QUERY for the connection's
// thread. Used when the caller's context ends mid-query.
func (c *Conn) Kill(ctx context.Context, admin *sql.DB) error {
	if c.threadID == 0 {
		return nil
	}
	_, err := admin.ExecContext(ctx, "KILL QUERY ?", c.threadID)
	return err
}

// CancelQuery kills this connection's in-flight statement server side. It
// runs on the pool's shared endpoint because the borrowed connection is
// still occupied by the cancelled statement.
func (c *Conn) CancelQuery(ctx context.Context) error {
	c.owner.mu.Lock()
	admin := c.owner.db
	c.owner.mu.Unlock()
	if admin == nil {
		return nil
	}
	return c.Kill(ctx, admin)
}

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

// Package executor orchestrates a query through rate limiting, validation,
// authorization, caching, the connection pools, and retry. It depends only
// on the narrow interfaces below; concrete implementations are wired at
// startup.
package executor

import (
	"context"
	"database/sql"
	"time"

	"github.com/mysql-mcp/gateway/retry"
)

// SQLValidator checks query text and returns the leading verb.
type SQLValidator interface {
	ValidateQuery(sql string) (string, error)
}

// InputValidator checks caller-supplied parameter values.
type InputValidator interface {
	ValidateAll(values []any) error
	Validate(value any) error
}

// Authorizer answers permission checks. A nil Authorizer disables RBAC.
type Authorizer interface {
	Check(userID, permission string) bool
}

// RateLimiter admits or rejects a request for a client key. Acquire returns
// a refund callback so requests rejected before touching a connection give
// the token back.
type RateLimiter interface {
	Acquire(client string) (func(), error)
}

// Conn is a borrowed connection. Release must be called exactly once on
// every path; the pool's wrapper warns on double release. CancelQuery kills
// the in-flight statement server side after the caller's context ends.
type Conn interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	CancelQuery(ctx context.Context) error
	Release()
}

// ConnProvider hands out pooled connections split by intent.
type ConnProvider interface {
	AcquireRead(ctx context.Context) (Conn, error)
	AcquireWrite(ctx context.Context) (Conn, error)
}

// Retrier re-runs an operation on transient failures and reports how hard
// it had to work.
type Retrier interface {
	Do(ctx context.Context, name string, op func(context.Context) error) (retry.Report, error)
}

// Query is one statement with its parameter tuple.
type Query struct {
	SQL    string `json:"sql"`
	Params []any  `json:"params,omitempty"`
}

// Result is the uniform outcome of Exec. Row fields are set for reads,
// Affected/LastInsertID for writes.
type Result struct {
	Verb         string        `json:"verb"`
	Columns      []string      `json:"columns,omitempty"`
	Rows         [][]any       `json:"rows,omitempty"`
	Affected     int64         `json:"affected,omitempty"`
	LastInsertID int64         `json:"last_insert_id,omitempty"`
	Truncated    bool          `json:"truncated,omitempty"`
	Cached       bool          `json:"cached"`
	Attempts     int           `json:"attempts"`
	TotalDelay   time.Duration `json:"total_delay,omitempty"`
	Elapsed      time.Duration `json:"elapsed"`
}

// BatchInsertResult is the outcome of BatchInsert.
type BatchInsertResult struct {
	Affected  int64 `json:"affected"`
	Batches   int   `json:"batches"`
	BatchSize int   `json:"batch_size"`
	Parallel  bool  `json:"parallel"`
}

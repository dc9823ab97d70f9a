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

package executor

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mysql-mcp/gateway/cache"
	"github.com/mysql-mcp/gateway/config"
	"github.com/mysql-mcp/gateway/mysqlerr"
	"github.com/mysql-mcp/gateway/redact"
)

// DefaultClient is the rate-limit key used when no user id accompanies a
// request.
const DefaultClient = "global"

// writeVerbs route to the primary pool and trigger invalidation.
var writeVerbs = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "CREATE": true,
	"ALTER": true, "DROP": true, "TRUNCATE": true,
}

// readVerbs may be served from the query cache.
var readVerbs = map[string]bool{
	"SELECT": true, "SHOW": true, "DESCRIBE": true, "EXPLAIN": true,
}

// nondeterministicRE rejects queries from the cache whose results change
// between identical calls.
var nondeterministicRE = regexp.MustCompile(
	`(?i)\b(?:now|rand|uuid|sysdate|curdate|curtime|last_insert_id|connection_id)\s*\(|\bcurrent_(?:date|time|timestamp|user)\b`)

// Executor is the stateless facade in front of the core runtime. All shared
// state lives behind its interfaces.
type Executor struct {
	security config.SecurityConfig

	limiter  RateLimiter
	sqlVal   SQLValidator
	inputVal InputValidator
	authz    Authorizer
	conns    ConnProvider
	retrier  Retrier
	caches   *cache.Manager
	qcache   *cache.QueryCache
	logger   *slog.Logger

	// pressure feeds batch sizing; nil means "no pressure signal".
	pressure func() float64

	// sf collapses concurrent identical cache misses to one upstream query.
	sf singleflight.Group
}

// Deps bundles the collaborators for New.
type Deps struct {
	Security config.SecurityConfig
	Limiter  RateLimiter
	SQLVal   SQLValidator
	InputVal InputValidator
	Authz    Authorizer
	Conns    ConnProvider
	Retrier  Retrier
	Caches   *cache.Manager
	QCache   *cache.QueryCache
	Logger   *slog.Logger
	Pressure func() float64
}

func New(d Deps) *Executor {
	return &Executor{
		security: d.Security,
		limiter:  d.Limiter,
		sqlVal:   d.SQLVal,
		inputVal: d.InputVal,
		authz:    d.Authz,
		conns:    d.Conns,
		retrier:  d.Retrier,
		caches:   d.Caches,
		qcache:   d.QCache,
		logger:   d.Logger,
		pressure: d.Pressure,
	}
}

// Exec runs one statement through the full pipeline.
func (e *Executor) Exec(ctx context.Context, sqlText string, params []any, userID string) (*Result, error) {
	start := time.Now()
	verb, tables, err := e.admit(sqlText, params, userID)
	if err != nil {
		observeError(verb, err)
		return nil, err
	}

	isWrite := writeVerbs[verb]

	// Cache probe happens before any connection is touched.
	if !isWrite && e.cacheable(sqlText, verb) {
		if cached, ok := e.qcache.Get(sqlText, params); ok {
			res := cached.(*Result).clone()
			res.Cached = true
			res.Elapsed = time.Since(start)
			observeQuery(verb, "cache_hit", res.Elapsed)
			return res, nil
		}
	}

	res, err := e.runQuery(ctx, verb, sqlText, params, isWrite)
	if err != nil {
		observeError(verb, err)
		return nil, err
	}

	if isWrite {
		e.invalidate(verb, tables)
	} else if e.cacheable(sqlText, verb) {
		e.qcache.Put(sqlText, params, res.clone(), res.approxSize())
	}

	res.Elapsed = time.Since(start)
	observeQuery(verb, "ok", res.Elapsed)
	return res, nil
}

// admit runs steps 1-3: rate limit, validation, authorization. It returns
// the verb and the referenced tables. A request rejected here refunds its
// rate-limit token: the caller did no real work with it.
func (e *Executor) admit(sqlText string, params []any, userID string) (string, []string, error) {
	client := userID
	if client == "" {
		client = DefaultClient
	}
	refund, err := e.limiter.Acquire(client)
	if err != nil {
		return "", nil, err
	}

	verb, err := e.sqlVal.ValidateQuery(sqlText)
	if err != nil {
		refund()
		return "", nil, err
	}
	if err := e.inputVal.ValidateAll(params); err != nil {
		refund()
		return verb, nil, err
	}

	tables := cache.ExtractTables(sqlText)
	if err := e.authorize(userID, verb, tables); err != nil {
		refund()
		return verb, nil, err
	}
	return verb, tables, nil
}

func (e *Executor) authorize(userID, verb string, tables []string) error {
	if e.authz == nil {
		return nil
	}
	if userID == "" {
		userID = DefaultClient
	}
	if len(tables) == 0 {
		if !e.authz.Check(userID, verb) {
			return mysqlerr.New(mysqlerr.KindAccessDenied,
				fmt.Sprintf("user %s lacks %s permission", userID, verb))
		}
		return nil
	}
	for _, table := range tables {
		if !e.authz.Check(userID, verb+":"+table) {
			return mysqlerr.New(mysqlerr.KindAccessDenied,
				fmt.Sprintf("user %s lacks %s permission on %s", userID, verb, table))
		}
	}
	return nil
}

// runQuery performs steps 5-6: acquire, execute under retry, post-process.
// Reads collapse through singleflight so a thundering herd on one cold key
// issues a single upstream query.
func (e *Executor) runQuery(ctx context.Context, verb, sqlText string, params []any, isWrite bool) (*Result, error) {
	if isWrite {
		return e.execute(ctx, verb, sqlText, params, true)
	}
	key := cache.Fingerprint(sqlText, params)
	v, err, shared := e.sf.Do(key, func() (any, error) {
		return e.execute(ctx, verb, sqlText, params, false)
	})
	if err != nil {
		return nil, err
	}
	res := v.(*Result)
	if shared {
		res = res.clone()
	}
	return res, nil
}

func (e *Executor) execute(ctx context.Context, verb, sqlText string, params []any, isWrite bool) (*Result, error) {
	res := &Result{Verb: verb}
	report, err := e.retrier.Do(ctx, strings.ToLower(verb), func(ctx context.Context) error {
		var (
			conn Conn
			err  error
		)
		if isWrite {
			conn, err = e.conns.AcquireWrite(ctx)
		} else {
			conn, err = e.conns.AcquireRead(ctx)
		}
		if err != nil {
			return err
		}
		defer conn.Release()

		if isWrite {
			return e.runExec(ctx, conn, sqlText, params, res)
		}
		return e.runRows(ctx, conn, sqlText, params, res)
	})
	res.Attempts = report.Attempts
	res.TotalDelay = report.TotalDelay
	if err != nil {
		return nil, err
	}
	return res, nil
}

// cancelServerSide kills the in-flight statement on the server when the
// caller's context ended mid-query. The driver has already abandoned the
// result; without the KILL the server keeps burning on it.
func (e *Executor) cancelServerSide(ctx context.Context, conn Conn) {
	if ctx.Err() == nil {
		return
	}
	killCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.CancelQuery(killCtx); err != nil {
		e.logger.Debug("Server-side query cancel failed", "err", err)
	}
}

func (e *Executor) runExec(ctx context.Context, conn Conn, sqlText string, params []any, res *Result) error {
	out, err := conn.ExecContext(ctx, sqlText, params...)
	if err != nil {
		e.cancelServerSide(ctx, conn)
		return mysqlerr.ClassifyWrap("execute statement", err)
	}
	if n, err := out.RowsAffected(); err == nil {
		res.Affected = n
	}
	// The id comes from the statement handle, not a session variable, so
	// concurrent writers cannot cross-contaminate it.
	if id, err := out.LastInsertId(); err == nil {
		res.LastInsertID = id
	}
	return nil
}

func (e *Executor) runRows(ctx context.Context, conn Conn, sqlText string, params []any, res *Result) error {
	rows, err := conn.QueryContext(ctx, sqlText, params...)
	if err != nil {
		e.cancelServerSide(ctx, conn)
		return mysqlerr.ClassifyWrap("run query", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return mysqlerr.ClassifyWrap("read columns", err)
	}

	var out [][]any
	for rows.Next() {
		if len(out) >= e.security.MaxResultRows {
			res.Truncated = true
			break
		}
		row, err := scanRow(rows, len(columns))
		if err != nil {
			return mysqlerr.ClassifyWrap("scan row", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		e.cancelServerSide(ctx, conn)
		return mysqlerr.ClassifyWrap("iterate rows", err)
	}

	res.Columns = columns
	res.Rows = redact.Rows(columns, out)
	return nil
}

// scanRow reads one row into plain Go values; []byte columns become strings
// so results serialize as text.
func scanRow(rows *sql.Rows, n int) ([]any, error) {
	raw := make([]any, n)
	ptrs := make([]any, n)
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	for i, v := range raw {
		if b, ok := v.([]byte); ok {
			raw[i] = string(b)
		}
	}
	return raw, nil
}

func (e *Executor) cacheable(sqlText, verb string) bool {
	if !e.qcache.Enabled() || !readVerbs[verb] {
		return false
	}
	return !nondeterministicRE.MatchString(sqlText)
}

// invalidate publishes staleness before the caller sees the write result,
// so a subsequent read cannot observe a stale cached value.
func (e *Executor) invalidate(verb string, tables []string) {
	if len(tables) == 0 && writeVerbs[verb] {
		// Could not parse a table from a mutating statement; drop the whole
		// query cache rather than risk serving stale rows.
		e.qcache.Purge()
	}
	e.caches.InvalidateByOperation(verb, tables, e.qcache)
}

func (r *Result) clone() *Result {
	dup := *r
	dup.Rows = make([][]any, len(r.Rows))
	for i, row := range r.Rows {
		dup.Rows[i] = append([]any(nil), row...)
	}
	dup.Columns = append([]string(nil), r.Columns...)
	return &dup
}

// approxSize estimates the result's footprint for the cache size ceiling.
func (r *Result) approxSize() int {
	size := 0
	for _, c := range r.Columns {
		size += len(c)
	}
	for _, row := range r.Rows {
		for _, v := range row {
			switch val := v.(type) {
			case string:
				size += len(val)
			case nil:
				size += 4
			default:
				size += 8
			}
		}
	}
	return size
}

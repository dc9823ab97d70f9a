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
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mysql-mcp/gateway/mysqlerr"
	"github.com/mysql-mcp/gateway/redact"
)

const (
	// Batch-insert chunk sizing. Higher memory pressure shrinks chunks.
	defaultBatchSize = 500
	minBatchSize     = 50
	maxBatchSize     = 1000
	// parallelFanout caps concurrent batch-insert transactions.
	parallelFanout = 4
)

var identifierRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

// BatchExec runs all queries in one transaction on a primary connection.
// On any failure the transaction rolls back and the first error surfaces.
// Cache invalidation for every mutated table happens after commit, before
// the results are returned.
func (e *Executor) BatchExec(ctx context.Context, queries []Query, userID string) ([]*Result, error) {
	if len(queries) == 0 {
		return nil, mysqlerr.New(mysqlerr.KindValidation, "empty batch")
	}

	// Admit every statement before touching a connection.
	verbs := make([]string, len(queries))
	mutated := make(map[string]struct{})
	unparsedWrite := false
	for i, q := range queries {
		verb, tables, err := e.admit(q.SQL, q.Params, userID)
		if err != nil {
			observeError(verb, err)
			return nil, fmt.Errorf("query %d: %w", i, err)
		}
		verbs[i] = verb
		if writeVerbs[verb] {
			if len(tables) == 0 {
				unparsedWrite = true
			}
			for _, t := range tables {
				mutated[t] = struct{}{}
			}
		}
	}

	start := time.Now()
	results := make([]*Result, len(queries))
	report, err := e.retrier.Do(ctx, "batch_exec", func(ctx context.Context) error {
		conn, err := e.conns.AcquireWrite(ctx)
		if err != nil {
			return err
		}
		defer conn.Release()
		return e.runBatchTx(ctx, conn, queries, verbs, results)
	})
	if err != nil {
		observeError("BATCH", err)
		return nil, err
	}

	if unparsedWrite {
		e.qcache.Purge()
	}
	for table := range mutated {
		e.caches.InvalidateByOperation("UPDATE", []string{table}, e.qcache)
	}
	hasDDL := false
	for _, v := range verbs {
		switch v {
		case "CREATE", "ALTER", "DROP", "TRUNCATE":
			hasDDL = true
		}
	}
	if hasDDL {
		tables := make([]string, 0, len(mutated))
		for t := range mutated {
			tables = append(tables, t)
		}
		e.caches.InvalidateByOperation("ALTER", tables, e.qcache)
	}

	elapsed := time.Since(start)
	for _, res := range results {
		res.Attempts = report.Attempts
		res.TotalDelay = report.TotalDelay
		res.Elapsed = elapsed
	}
	observeQuery("BATCH", "ok", elapsed)
	return results, nil
}

func (e *Executor) runBatchTx(ctx context.Context, conn Conn, queries []Query, verbs []string, results []*Result) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return mysqlerr.ClassifyWrap("begin transaction", err)
	}
	for i, q := range queries {
		res := &Result{Verb: verbs[i]}
		if writeVerbs[verbs[i]] {
			out, err := tx.ExecContext(ctx, q.SQL, q.Params...)
			if err != nil {
				tx.Rollback()
				return mysqlerr.ClassifyWrap(fmt.Sprintf("batch statement %d", i), err)
			}
			if n, err := out.RowsAffected(); err == nil {
				res.Affected = n
			}
			if id, err := out.LastInsertId(); err == nil {
				res.LastInsertID = id
			}
		} else {
			rows, err := tx.QueryContext(ctx, q.SQL, q.Params...)
			if err != nil {
				tx.Rollback()
				return mysqlerr.ClassifyWrap(fmt.Sprintf("batch statement %d", i), err)
			}
			columns, err := rows.Columns()
			if err != nil {
				rows.Close()
				tx.Rollback()
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
					rows.Close()
					tx.Rollback()
					return mysqlerr.ClassifyWrap("scan row", err)
				}
				out = append(out, row)
			}
			err = rows.Err()
			rows.Close()
			if err != nil {
				tx.Rollback()
				return mysqlerr.ClassifyWrap("iterate rows", err)
			}
			res.Columns = columns
			res.Rows = redact.Rows(columns, out)
		}
		results[i] = res
	}
	if err := tx.Commit(); err != nil {
		return mysqlerr.ClassifyWrap("commit transaction", err)
	}
	return nil
}

// BatchInsert inserts rows into table in chunks, each chunk in its own
// transaction. Large inputs fan out across up to four parallel workers.
func (e *Executor) BatchInsert(ctx context.Context, table string, columns []string, rows [][]any, userID string) (*BatchInsertResult, error) {
	client := userID
	if client == "" {
		client = DefaultClient
	}
	refund, err := e.limiter.Acquire(client)
	if err != nil {
		return nil, err
	}
	if err := e.validateInsert(table, columns, rows); err != nil {
		refund()
		return nil, err
	}
	if err := e.authorize(userID, "INSERT", []string{strings.ToLower(table)}); err != nil {
		refund()
		return nil, err
	}

	batchSize := e.batchSize()
	batches := chunkRows(rows, batchSize)
	stmt := insertStatement(table, columns)

	var affected atomic.Int64
	parallel := len(batches) > parallelFanout
	if parallel {
		g, gctx := errgroup.WithContext(ctx)
		limit := len(batches) / 2
		if limit > parallelFanout {
			limit = parallelFanout
		}
		g.SetLimit(limit)
		for _, batch := range batches {
			g.Go(func() error {
				n, err := e.insertBatch(gctx, stmt, len(columns), batch)
				affected.Add(n)
				return err
			})
		}
		if err := g.Wait(); err != nil {
			observeError("INSERT", err)
			return nil, err
		}
	} else {
		for _, batch := range batches {
			n, err := e.insertBatch(ctx, stmt, len(columns), batch)
			affected.Add(n)
			if err != nil {
				observeError("INSERT", err)
				return nil, err
			}
		}
	}

	e.caches.InvalidateByOperation("INSERT", []string{strings.ToLower(table)}, e.qcache)
	return &BatchInsertResult{
		Affected:  affected.Load(),
		Batches:   len(batches),
		BatchSize: batchSize,
		Parallel:  parallel,
	}, nil
}

// validateInsert checks the identifiers and every cell before any
// connection is touched.
func (e *Executor) validateInsert(table string, columns []string, rows [][]any) error {
	if err := validateIdentifier(table); err != nil {
		return err
	}
	if len(columns) == 0 || len(rows) == 0 {
		return mysqlerr.New(mysqlerr.KindValidation, "columns and rows must not be empty")
	}
	for _, col := range columns {
		if err := validateIdentifier(col); err != nil {
			return err
		}
	}
	for i, row := range rows {
		if len(row) != len(columns) {
			return mysqlerr.New(mysqlerr.KindValidation,
				fmt.Sprintf("row %d has %d values, want %d", i, len(row), len(columns)))
		}
		for _, cell := range row {
			if err := e.inputVal.Validate(cell); err != nil {
				return fmt.Errorf("row %d: %w", i, err)
			}
		}
	}
	return nil
}

// insertBatch runs one chunk in its own transaction under retry.
func (e *Executor) insertBatch(ctx context.Context, stmtPrefix string, width int, batch [][]any) (int64, error) {
	var affected int64
	_, err := e.retrier.Do(ctx, "batch_insert", func(ctx context.Context) error {
		conn, err := e.conns.AcquireWrite(ctx)
		if err != nil {
			return err
		}
		defer conn.Release()

		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return mysqlerr.ClassifyWrap("begin transaction", err)
		}
		sqlText, args := expandInsert(stmtPrefix, width, batch)
		out, err := tx.ExecContext(ctx, sqlText, args...)
		if err != nil {
			tx.Rollback()
			return mysqlerr.ClassifyWrap("batch insert", err)
		}
		if err := tx.Commit(); err != nil {
			return mysqlerr.ClassifyWrap("commit batch", err)
		}
		affected, _ = out.RowsAffected()
		return nil
	})
	return affected, err
}

// batchSize shrinks the chunk size as memory pressure rises.
func (e *Executor) batchSize() int {
	size := defaultBatchSize
	if e.pressure != nil {
		size = int(float64(defaultBatchSize) * (1 - e.pressure()))
	}
	if size < minBatchSize {
		size = minBatchSize
	}
	if size > maxBatchSize {
		size = maxBatchSize
	}
	return size
}

func chunkRows(rows [][]any, size int) [][][]any {
	var out [][][]any
	for len(rows) > 0 {
		n := size
		if n > len(rows) {
			n = len(rows)
		}
		out = append(out, rows[:n])
		rows = rows[n:]
	}
	return out
}

func insertStatement(table string, columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = "`" + c + "`"
	}
	return fmt.Sprintf("INSERT INTO `%s` (%s) VALUES ", table, strings.Join(quoted, ", "))
}

// expandInsert appends one placeholder tuple per row to the prefix.
func expandInsert(prefix string, width int, batch [][]any) (string, []any) {
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?,", width), ",") + ")"
	tuples := make([]string, len(batch))
	args := make([]any, 0, len(batch)*width)
	for i, row := range batch {
		tuples[i] = tuple
		args = append(args, row...)
	}
	return prefix + strings.Join(tuples, ", "), args
}

func validateIdentifier(name string) error {
	if !identifierRE.MatchString(name) {
		return mysqlerr.New(mysqlerr.KindValidation,
			fmt.Sprintf("invalid identifier %q", name))
	}
	return nil
}

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

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mysql-mcp/gateway/cache"
	"github.com/mysql-mcp/gateway/executor"
	"github.com/mysql-mcp/gateway/pool"
)

// toolTimeout bounds any single tool call end to end.
const toolTimeout = 2 * time.Minute

// registerTools declares every tool on srv. Handlers close over the
// Runtime; nothing here holds its own state.
func (r *Runtime) registerTools(srv *server.MCPServer) {
	srv.AddTool(mcp.NewTool("query",
		mcp.WithDescription("Run a read query (SELECT/SHOW/DESCRIBE/EXPLAIN) and return rows."),
		mcp.WithString("sql", mcp.Required(), mcp.Description("The SQL text, placeholders as ?.")),
		mcp.WithArray("params", mcp.Description("Positional parameter values.")),
		mcp.WithString("user_id", mcp.Description("Caller identity for RBAC and rate limiting.")),
	), r.handleQuery)

	srv.AddTool(mcp.NewTool("execute",
		mcp.WithDescription("Run a mutating statement (INSERT/UPDATE/DELETE/DDL)."),
		mcp.WithString("sql", mcp.Required(), mcp.Description("The SQL text, placeholders as ?.")),
		mcp.WithArray("params", mcp.Description("Positional parameter values.")),
		mcp.WithString("user_id", mcp.Description("Caller identity for RBAC and rate limiting.")),
	), r.handleQuery)

	srv.AddTool(mcp.NewTool("batch_execute",
		mcp.WithDescription("Run multiple statements in a single transaction; rolls back on any failure."),
		mcp.WithArray("queries", mcp.Required(), mcp.Description("Array of {sql, params} objects.")),
		mcp.WithString("user_id", mcp.Description("Caller identity.")),
	), r.handleBatchExecute)

	srv.AddTool(mcp.NewTool("batch_insert",
		mcp.WithDescription("Insert many rows in chunked, optionally parallel transactions."),
		mcp.WithString("table", mcp.Required(), mcp.Description("Target table name.")),
		mcp.WithArray("columns", mcp.Required(), mcp.Description("Column names.")),
		mcp.WithArray("rows", mcp.Required(), mcp.Description("Array of row value arrays.")),
		mcp.WithString("user_id", mcp.Description("Caller identity.")),
	), r.handleBatchInsert)

	srv.AddTool(mcp.NewTool("list_tables",
		mcp.WithDescription("List the tables in the configured database."),
		mcp.WithString("user_id", mcp.Description("Caller identity.")),
	), r.handleListTables)

	srv.AddTool(mcp.NewTool("describe_table",
		mcp.WithDescription("Describe a table's columns; served from the schema cache when warm."),
		mcp.WithString("table", mcp.Required(), mcp.Description("Table name.")),
		mcp.WithString("user_id", mcp.Description("Caller identity.")),
	), r.handleDescribeTable)

	srv.AddTool(mcp.NewTool("table_exists",
		mcp.WithDescription("Report whether a table exists."),
		mcp.WithString("table", mcp.Required(), mcp.Description("Table name.")),
		mcp.WithString("user_id", mcp.Description("Caller identity.")),
	), r.handleTableExists)

	srv.AddTool(mcp.NewTool("list_indexes",
		mcp.WithDescription("List the indexes of a table; served from the index cache when warm."),
		mcp.WithString("table", mcp.Required(), mcp.Description("Table name.")),
		mcp.WithString("user_id", mcp.Description("Caller identity.")),
	), r.handleListIndexes)

	srv.AddTool(mcp.NewTool("server_status",
		mcp.WithDescription("Probe the primary server: version, uptime, connections."),
	), r.handleServerStatus)

	srv.AddTool(mcp.NewTool("pool_stats",
		mcp.WithDescription("Snapshot every connection pool: cap, in-use, breaker state, counters."),
	), r.handlePoolStats)

	srv.AddTool(mcp.NewTool("cache_stats",
		mcp.WithDescription("Snapshot every cache region: sizes, hit rates, evictions."),
	), r.handleCacheStats)

	srv.AddTool(mcp.NewTool("cache_invalidate",
		mcp.WithDescription("Invalidate cached data for a table, or everything when no table is given."),
		mcp.WithString("table", mcp.Description("Table whose cached data should be dropped.")),
	), r.handleCacheInvalidate)

	srv.AddTool(mcp.NewTool("rbac_check",
		mcp.WithDescription("Report whether a user holds a permission."),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("User to check.")),
		mcp.WithString("permission", mcp.Required(), mcp.Description("Permission key, e.g. SELECT or SELECT:users.")),
	), r.handleRBACCheck)

	srv.AddTool(mcp.NewTool("memory_status",
		mcp.WithDescription("Report current memory pressure and the recent sample history."),
	), r.handleMemoryStatus)
}

func (r *Runtime) handleQuery(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	args := getArgs(request)
	sqlText := stringArg(args, "sql", "")
	if sqlText == "" {
		return errResult("sql is required"), nil
	}
	res, err := r.Executor.Exec(ctx, sqlText, sliceArg(args, "params"), stringArg(args, "user_id", ""))
	if err != nil {
		return errorPayload(err), nil
	}
	return jsonResult(res), nil
}

func (r *Runtime) handleBatchExecute(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	args := getArgs(request)
	raw := sliceArg(args, "queries")
	if len(raw) == 0 {
		return errResult("queries is required"), nil
	}
	queries := make([]executor.Query, 0, len(raw))
	for i, item := range raw {
		obj, ok := item.(map[string]any)
		if !ok {
			return errResult(fmt.Sprintf("query %d: expected an object with sql and params", i)), nil
		}
		q := executor.Query{SQL: stringArg(obj, "sql", "")}
		if q.SQL == "" {
			return errResult(fmt.Sprintf("query %d: sql is required", i)), nil
		}
		q.Params = sliceArg(obj, "params")
		queries = append(queries, q)
	}

	results, err := r.Executor.BatchExec(ctx, queries, stringArg(args, "user_id", ""))
	if err != nil {
		return errorPayload(err), nil
	}
	return jsonResult(results), nil
}

func (r *Runtime) handleBatchInsert(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	args := getArgs(request)
	table := stringArg(args, "table", "")
	if table == "" {
		return errResult("table is required"), nil
	}
	var columns []string
	for _, c := range sliceArg(args, "columns") {
		s, ok := c.(string)
		if !ok {
			return errResult("columns must be strings"), nil
		}
		columns = append(columns, s)
	}
	var rows [][]any
	for i, rv := range sliceArg(args, "rows") {
		row, ok := rv.([]any)
		if !ok {
			return errResult(fmt.Sprintf("row %d must be an array", i)), nil
		}
		rows = append(rows, row)
	}

	res, err := r.Executor.BatchInsert(ctx, table, columns, rows, stringArg(args, "user_id", ""))
	if err != nil {
		return errorPayload(err), nil
	}
	return jsonResult(res), nil
}

func (r *Runtime) handleListTables(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	args := getArgs(request)
	res, err := r.Executor.Exec(ctx, "SHOW TABLES", nil, stringArg(args, "user_id", ""))
	if err != nil {
		return errorPayload(err), nil
	}
	tables := make([]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		if len(row) > 0 {
			if s, ok := row[0].(string); ok {
				tables = append(tables, s)
			}
		}
	}
	return jsonResult(map[string]any{"tables": tables, "cached": res.Cached}), nil
}

func (r *Runtime) handleDescribeTable(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	args := getArgs(request)
	table := stringArg(args, "table", "")
	if table == "" {
		return errResult("table is required"), nil
	}
	key := strings.ToLower(table)

	region := r.Caches.Region(cache.RegionSchema)
	if v, ok := region.Get(key); ok {
		return jsonResult(map[string]any{"table": table, "columns": v, "cached": true}), nil
	}

	res, err := r.Executor.Exec(ctx, fmt.Sprintf("DESCRIBE `%s`", key), nil, stringArg(args, "user_id", ""))
	if err != nil {
		return errorPayload(err), nil
	}
	desc := rowsAsObjects(res)
	region.Set(key, desc, 0)
	return jsonResult(map[string]any{"table": table, "columns": desc, "cached": false}), nil
}

func (r *Runtime) handleTableExists(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	args := getArgs(request)
	table := stringArg(args, "table", "")
	if table == "" {
		return errResult("table is required"), nil
	}
	key := strings.ToLower(table)

	region := r.Caches.Region(cache.RegionTableExists)
	if v, ok := region.Get(key); ok {
		return jsonResult(map[string]any{"table": table, "exists": v, "cached": true}), nil
	}

	res, err := r.Executor.Exec(ctx,
		"SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?",
		[]any{key}, stringArg(args, "user_id", ""))
	if err != nil {
		return errorPayload(err), nil
	}
	exists := len(res.Rows) > 0 && fmt.Sprintf("%v", res.Rows[0][0]) != "0"
	region.Set(key, exists, 1)
	return jsonResult(map[string]any{"table": table, "exists": exists, "cached": false}), nil
}

func (r *Runtime) handleListIndexes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	args := getArgs(request)
	table := stringArg(args, "table", "")
	if table == "" {
		return errResult("table is required"), nil
	}
	key := strings.ToLower(table)

	region := r.Caches.Region(cache.RegionIndex)
	if v, ok := region.Get(key); ok {
		return jsonResult(map[string]any{"table": table, "indexes": v, "cached": true}), nil
	}

	res, err := r.Executor.Exec(ctx, fmt.Sprintf("SHOW INDEX FROM `%s`", key), nil, stringArg(args, "user_id", ""))
	if err != nil {
		return errorPayload(err), nil
	}
	indexes := rowsAsObjects(res)
	region.Set(key, indexes, 0)
	return jsonResult(map[string]any{"table": table, "indexes": indexes, "cached": false}), nil
}

func (r *Runtime) handleServerStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	conn, err := r.Cluster.AcquireRead(ctx)
	if err != nil {
		return errorPayload(err), nil
	}
	defer conn.Release()

	info, err := pool.ProbeServer(ctx, conn)
	if err != nil {
		return errorPayload(err), nil
	}
	return jsonResult(info), nil
}

func (r *Runtime) handlePoolStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(r.Cluster.Snapshots()), nil
}

func (r *Runtime) handleCacheStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(r.Caches.StatsAll()), nil
}

func (r *Runtime) handleCacheInvalidate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	table := stringArg(args, "table", "")
	if table == "" {
		r.Caches.PurgeAll()
		r.QCache.Purge()
		return jsonResult(map[string]any{"invalidated": "all"}), nil
	}
	dropped := r.QCache.InvalidateTable(table)
	r.Caches.InvalidateByOperation("ALTER", []string{table}, r.QCache)
	return jsonResult(map[string]any{"invalidated": table, "query_entries_dropped": dropped}), nil
}

func (r *Runtime) handleRBACCheck(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	userID := stringArg(args, "user_id", "")
	permission := stringArg(args, "permission", "")
	if userID == "" || permission == "" {
		return errResult("user_id and permission are required"), nil
	}
	allowed := false
	if r.Authz != nil {
		allowed = r.Authz.Check(userID, permission)
	}
	return jsonResult(map[string]any{"user_id": userID, "permission": permission, "allowed": allowed}), nil
}

func (r *Runtime) handleMemoryStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	history := r.Memory.History()
	var latest any
	if len(history) > 0 {
		latest = history[len(history)-1]
	}
	out := map[string]any{
		"pressure": r.Memory.Pressure(),
		"latest":   latest,
		"samples":  len(history),
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return errResult(err.Error()), nil
	}
	return newTextResult(string(data)), nil
}

// rowsAsObjects reshapes positional rows into column-keyed maps for
// metadata tools, whose consumers want named fields.
func rowsAsObjects(res *executor.Result) []map[string]any {
	out := make([]map[string]any, 0, len(res.Rows))
	for _, row := range res.Rows {
		obj := make(map[string]any, len(res.Columns))
		for i, col := range res.Columns {
			if i < len(row) {
				obj[col] = row[i]
			}
		}
		out = append(out, obj)
	}
	return out
}

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

// Package mcp exposes the gateway's tools over the Model Context Protocol.
// Tools are thin adapters; all semantics live in the executor and its
// collaborators.
package mcp

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mysql-mcp/gateway/cache"
	"github.com/mysql-mcp/gateway/config"
	"github.com/mysql-mcp/gateway/executor"
	"github.com/mysql-mcp/gateway/memwatch"
	"github.com/mysql-mcp/gateway/mysqlerr"
	"github.com/mysql-mcp/gateway/pool"
	"github.com/mysql-mcp/gateway/ratelimit"
	"github.com/mysql-mcp/gateway/rbac"
	"github.com/mysql-mcp/gateway/redact"
)

// Runtime bundles the long-lived core components handed to every tool.
// It is created once at startup; there are no package-level singletons.
type Runtime struct {
	Config   *config.Store
	Executor *executor.Executor
	Caches   *cache.Manager
	QCache   *cache.QueryCache
	Cluster  *pool.Cluster
	Memory   *memwatch.Controller
	Authz    *rbac.Authorizer
	Limiter  *ratelimit.Limiter
	Logger   *slog.Logger
}

func getArgs(request mcp.CallToolRequest) map[string]any {
	if request.Params.Arguments == nil {
		return map[string]any{}
	}
	args, ok := request.Params.Arguments.(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return args
}

// stringArg extracts a string argument with a default value.
func stringArg(args map[string]any, key, defaultVal string) string {
	val, ok := args[key]
	if !ok || val == nil {
		return defaultVal
	}
	s, ok := val.(string)
	if !ok || s == "" {
		return defaultVal
	}
	return s
}

// sliceArg extracts an array argument; absent or mistyped yields nil.
func sliceArg(args map[string]any, key string) []any {
	val, ok := args[key]
	if !ok || val == nil {
		return nil
	}
	s, _ := val.([]any)
	return s
}

// jsonResult marshals v into a successful text result.
func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errResult("encoding result: " + err.Error())
	}
	return newTextResult(string(data))
}

// newTextResult creates a successful MCP tool result with text content.
func newTextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

// errResult creates a tool-level error result. The message is scrubbed so a
// driver error can never leak credentials to the caller.
func errResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: redact.String(msg)},
		},
	}
}

// errorPayload shapes a typed failure for the caller: category, severity,
// whether a retry is worthwhile, and static recovery hints.
func errorPayload(err error) *mcp.CallToolResult {
	type payload struct {
		Category  string   `json:"category"`
		Severity  string   `json:"severity"`
		Message   string   `json:"message"`
		Retryable bool     `json:"retryable"`
		Hints     []string `json:"recovery_hints,omitempty"`
	}
	p := payload{Category: "unknown", Message: redact.Error(err)}
	if typed := asTyped(err); typed != nil {
		p.Category = string(typed.Kind)
		p.Severity = typed.Severity.String()
		p.Retryable = typed.Retryable()
		p.Hints = typed.Hints()
	}
	data, merr := json.Marshal(p)
	if merr != nil {
		return errResult(p.Message)
	}
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: string(data)},
		},
	}
}

func asTyped(err error) *mysqlerr.Error {
	var e *mysqlerr.Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

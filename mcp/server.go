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
	"github.com/mark3labs/mcp-go/server"
)

// NewServer builds the MCP server with every gateway tool registered.
func NewServer(r *Runtime, version string) *server.MCPServer {
	srv := server.NewMCPServer(
		"mysql-mcp-gateway",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	r.registerTools(srv)
	return srv
}

// ServeStdio runs the server on stdin/stdout until the client disconnects.
// This is the framing MCP clients spawn subprocesses with.
func ServeStdio(srv *server.MCPServer) error {
	return server.ServeStdio(srv)
}

// NewHTTPServer wraps srv for the streamable HTTP transport, used when the
// gateway runs as a long-lived service instead of a child process.
func NewHTTPServer(srv *server.MCPServer) *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(srv)
}

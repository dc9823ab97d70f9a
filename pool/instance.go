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
	"fmt"
	"regexp"
	"strings"

	"github.com/blang/semver/v4"

	"github.com/mysql-mcp/gateway/mysqlerr"
)

const (
	FlavorMySQL   = "mysql"
	FlavorMariaDB = "mariadb"
)

// ServerInfo describes the server behind a pool, probed once per borrow by
// the server_status tool.
type ServerInfo struct {
	Flavor        string         `json:"flavor"`
	Version       semver.Version `json:"version"`
	VersionString string         `json:"version_string"`
	Uptime        uint64         `json:"uptime_seconds"`
	Threads       uint64         `json:"threads_connected"`
	MaxConns      uint64         `json:"max_connections"`
	ReadOnly      bool           `json:"read_only"`
}

// The result of SELECT @@version is something like:
// for MariaDB: "10.5.17-MariaDB-1:10.5.17+maria~ubu2004-log"
// for MySQL: "8.0.36-28.1"
var versionRegex = regexp.MustCompile(`^((\d+)(\.\d+)(\.\d+))`)

// ProbeServer reads version and status variables over the borrowed
// connection.
func ProbeServer(ctx context.Context, c *Conn) (*ServerInfo, error) {
	info := &ServerInfo{}

	var versionString string
	if err := c.QueryRowContext(ctx, "SELECT @@version").Scan(&versionString); err != nil {
		return nil, mysqlerr.ClassifyWrap("probe server version", err)
	}
	info.VersionString = versionString
	matches := versionRegex.FindStringSubmatch(versionString)
	if len(matches) > 1 {
		parsed, err := semver.ParseTolerant(matches[1])
		if err != nil {
			return nil, fmt.Errorf("could not parse version from %q", matches[1])
		}
		info.Version = parsed
	} else {
		return nil, fmt.Errorf("could not parse version from %q", versionString)
	}
	if strings.Contains(strings.ToLower(versionString), "mariadb") {
		info.Flavor = FlavorMariaDB
	} else {
		info.Flavor = FlavorMySQL
	}

	if err := c.QueryRowContext(ctx,
		"SHOW STATUS LIKE 'Uptime'").Scan(new(string), &info.Uptime); err != nil {
		return nil, mysqlerr.ClassifyWrap("probe server uptime", err)
	}
	if err := c.QueryRowContext(ctx,
		"SHOW STATUS LIKE 'Threads_connected'").Scan(new(string), &info.Threads); err != nil {
		return nil, mysqlerr.ClassifyWrap("probe thread count", err)
	}
	if err := c.QueryRowContext(ctx, "SELECT @@max_connections").Scan(&info.MaxConns); err != nil {
		return nil, mysqlerr.ClassifyWrap("probe max connections", err)
	}
	if err := c.QueryRowContext(ctx, "SELECT @@read_only").Scan(&info.ReadOnly); err != nil {
		return nil, mysqlerr.ClassifyWrap("probe read_only flag", err)
	}
	return info, nil
}

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

// Package redact scrubs credentials from strings and result rows before
// they reach logs or callers.
package redact

import (
	"regexp"
	"strings"
)

const mask = "****"

var (
	// user:password@tcp(host)/ in driver DSNs and error text.
	dsnRE = regexp.MustCompile(`([A-Za-z0-9_\-.]+):([^@/\s]+)@(tcp|unix)\(`)
	// password=..., identified by '...', and similar credential assignments.
	assignRE = regexp.MustCompile(`(?i)(password|passwd|secret|token|api[_-]?key|authorization)(\s*[=:]\s*)('[^']*'|"[^"]*"|\S+)`)
	identRE  = regexp.MustCompile(`(?i)(identified\s+by\s+)('[^']*'|"[^"]*"|\S+)`)
)

// sensitiveColumns marks result columns whose string values are masked.
var sensitiveColumns = map[string]bool{
	"password": true, "passwd": true, "secret": true, "token": true,
	"api_key": true, "apikey": true, "authentication_string": true,
	"private_key": true, "access_key": true, "session_token": true,
}

// String scrubs credential material from s.
func String(s string) string {
	s = dsnRE.ReplaceAllString(s, "$1:"+mask+"@$3(")
	s = assignRE.ReplaceAllString(s, "$1$2"+mask)
	s = identRE.ReplaceAllString(s, "$1"+mask)
	return s
}

// Error scrubs an error's message, preserving nil.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}

// SensitiveColumn reports whether a result column should be masked.
func SensitiveColumn(name string) bool {
	return sensitiveColumns[strings.ToLower(name)]
}

// Rows masks sensitive columns in place and returns rows. Rows are
// positional; columns names the fields in order.
func Rows(columns []string, rows [][]any) [][]any {
	var hot []int
	for i, c := range columns {
		if SensitiveColumn(c) {
			hot = append(hot, i)
		}
	}
	if len(hot) == 0 {
		return rows
	}
	for _, row := range rows {
		for _, i := range hot {
			if i < len(row) && row[i] != nil {
				row[i] = mask
			}
		}
	}
	return rows
}

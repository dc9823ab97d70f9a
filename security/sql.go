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

package security

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/mysql-mcp/gateway/config"
	"github.com/mysql-mcp/gateway/eventlog"
	"github.com/mysql-mcp/gateway/mysqlerr"
)

// riskThreshold is the detector score at or above which a query is blocked.
const riskThreshold = 50

// SQLValidator enforces the query-level rules: length, verb allow-list,
// forbidden operations, and the pattern detector's risk score.
type SQLValidator struct {
	cfg      config.SecurityConfig
	allowed  map[string]bool
	detector *Detector
	logger   *slog.Logger
	events   *eventlog.Log
}

func NewSQLValidator(cfg config.SecurityConfig, det *Detector, logger *slog.Logger, events *eventlog.Log) *SQLValidator {
	allowed := make(map[string]bool, len(cfg.AllowedQueries))
	for _, verb := range cfg.AllowedQueries {
		allowed[strings.ToUpper(verb)] = true
	}
	return &SQLValidator{cfg: cfg, allowed: allowed, detector: det, logger: logger, events: events}
}

// ValidateQuery checks sql and returns its leading verb on success.
func (v *SQLValidator) ValidateQuery(sql string) (string, error) {
	if len(sql) > v.cfg.MaxQueryLength {
		return "", v.violation("query-too-long", sql,
			fmt.Sprintf("query length %d exceeds limit %d", len(sql), v.cfg.MaxQueryLength),
			mysqlerr.KindValidation)
	}

	verb := FirstKeyword(sql)
	if verb == "" {
		return "", v.violation("empty-query", sql, "empty query", mysqlerr.KindValidation)
	}
	if !v.allowed[verb] {
		return "", v.violation("verb-not-allowed", sql,
			fmt.Sprintf("query type %s is not allowed", verb), mysqlerr.KindSecurityViolation)
	}

	if HasMultipleStatements(sql) {
		return "", v.violation("multi-statement", sql,
			"multiple statements are not allowed", mysqlerr.KindSecurityViolation)
	}

	res := v.detector.Detect(sql, v.cfg.ValidationLevel)
	if res.Risk >= riskThreshold {
		return "", v.violation("threat-pattern", sql,
			fmt.Sprintf("query matches threat pattern %s (risk %d)", res.Matches[0].PatternID, res.Risk),
			mysqlerr.KindSecurityViolation)
	}

	return verb, nil
}

func (v *SQLValidator) violation(event, sql, message string, kind mysqlerr.Kind) error {
	err := mysqlerr.New(kind, message)
	v.logger.Warn("Query rejected", "reason", event, "length", len(sql))
	v.events.Record(err.Severity, "security_violation", map[string]any{
		"reason": event,
		"detail": message,
	})
	return err
}

// FirstKeyword returns the query's leading keyword, upper-cased, skipping
// leading whitespace and comments.
func FirstKeyword(sql string) string {
	s := stripLeading(sql)
	end := 0
	for end < len(s) {
		ch := s[end]
		if (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') {
			end++
			continue
		}
		break
	}
	return strings.ToUpper(s[:end])
}

func stripLeading(s string) string {
	for {
		s = strings.TrimLeft(s, " \t\r\n")
		switch {
		case strings.HasPrefix(s, "--"):
			if i := strings.IndexByte(s, '\n'); i >= 0 {
				s = s[i+1:]
				continue
			}
			return ""
		case strings.HasPrefix(s, "/*"):
			if i := strings.Index(s, "*/"); i >= 0 {
				s = s[i+2:]
				continue
			}
			return ""
		case strings.HasPrefix(s, "#"):
			if i := strings.IndexByte(s, '\n'); i >= 0 {
				s = s[i+1:]
				continue
			}
			return ""
		}
		return s
	}
}

// HasMultipleStatements reports whether sql contains a statement separator
// outside of string literals and identifiers. A single trailing semicolon
// does not count.
func HasMultipleStatements(sql string) bool {
	sql = strings.TrimRight(strings.TrimSpace(sql), ";")
	var quote byte
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		if quote != 0 {
			if ch == '\\' && quote != '`' {
				i++ // skip escaped char inside ' or "
				continue
			}
			if ch == quote {
				quote = 0
			}
			continue
		}
		switch ch {
		case '\'', '"', '`':
			quote = ch
		case ';':
			return true
		}
	}
	return false
}

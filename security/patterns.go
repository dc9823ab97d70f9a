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

import "regexp"

// PatternType groups threat patterns. Validation levels enable groups
// incrementally: basic runs sql-injection, moderate adds dangerous-op,
// strict adds xss and path-traversal.
type PatternType string

const (
	PatternSQLInjection  PatternType = "sql-injection"
	PatternDangerousOp   PatternType = "dangerous-op"
	PatternXSS           PatternType = "xss"
	PatternPathTraversal PatternType = "path-traversal"
)

// PatternSeverity scores a match. Critical maps to risk 100, high to 80,
// medium to 50, low to 20.
type PatternSeverity string

const (
	SeverityCritical PatternSeverity = "critical"
	SeverityHigh     PatternSeverity = "high"
	SeverityMedium   PatternSeverity = "medium"
	SeverityLow      PatternSeverity = "low"
)

// Pattern is one precompiled threat signature. Patterns match against the
// normalized form of the input: lowercase, collapsed whitespace, common
// percent-encodings decoded.
type Pattern struct {
	ID       string
	Type     PatternType
	Severity PatternSeverity
	re       *regexp.Regexp
}

// All patterns are compiled once at package init and shared; Detector holds
// only immutable state after construction.
var defaultPatterns = []Pattern{
	// Classic tautology injections.
	{"sqli-or-true", PatternSQLInjection, SeverityCritical,
		regexp.MustCompile(`(?:'|")\s*or\s+(?:'|")?\d*(?:'|")?\s*=\s*(?:'|")?\d*`)},
	{"sqli-or-string-eq", PatternSQLInjection, SeverityCritical,
		regexp.MustCompile(`'\s*or\s*'[^']*'\s*=\s*'`)},
	{"sqli-union-select", PatternSQLInjection, SeverityCritical,
		regexp.MustCompile(`union\s+(?:all\s+)?select`)},
	{"sqli-comment-trail", PatternSQLInjection, SeverityHigh,
		regexp.MustCompile(`(?:--|#)[^\n]*$|/\*.*?\*/`)},
	{"sqli-stacked", PatternSQLInjection, SeverityHigh,
		regexp.MustCompile(`;\s*(?:select|insert|update|delete|drop|create|alter)\b`)},
	{"sqli-sleep", PatternSQLInjection, SeverityHigh,
		regexp.MustCompile(`\b(?:sleep|benchmark)\s*\(`)},
	{"sqli-info-schema-probe", PatternSQLInjection, SeverityMedium,
		regexp.MustCompile(`\bfrom\s+information_schema\.(?:tables|columns)\b.*\bwhere\b.*\blike\b`)},
	{"sqli-hex-literal", PatternSQLInjection, SeverityLow,
		regexp.MustCompile(`\b0x[0-9a-f]{16,}\b`)},

	// Server-side file and process access.
	{"dangerous-load-file", PatternDangerousOp, SeverityCritical,
		regexp.MustCompile(`\bload_file\s*\(`)},
	{"dangerous-outfile", PatternDangerousOp, SeverityCritical,
		regexp.MustCompile(`\binto\s+(?:outfile|dumpfile)\b`)},
	{"dangerous-load-data", PatternDangerousOp, SeverityCritical,
		regexp.MustCompile(`\bload\s+data\b`)},
	{"dangerous-grant", PatternDangerousOp, SeverityHigh,
		regexp.MustCompile(`\b(?:grant|revoke)\b.*\b(?:on|from|to)\b`)},
	{"dangerous-sys-schema", PatternDangerousOp, SeverityHigh,
		regexp.MustCompile(`\bmysql\.(?:user|db|tables_priv)\b`)},
	{"dangerous-set-global", PatternDangerousOp, SeverityMedium,
		regexp.MustCompile(`\bset\s+(?:global|persist)\b`)},
	{"dangerous-shutdown", PatternDangerousOp, SeverityCritical,
		regexp.MustCompile(`\b(?:shutdown|kill)\s`)},

	// Script injection in values destined for downstream renderers.
	{"xss-script-tag", PatternXSS, SeverityHigh,
		regexp.MustCompile(`<\s*script[^>]*>`)},
	{"xss-event-handler", PatternXSS, SeverityMedium,
		regexp.MustCompile(`\bon(?:error|load|click|mouseover)\s*=`)},
	{"xss-javascript-uri", PatternXSS, SeverityMedium,
		regexp.MustCompile(`javascript\s*:`)},

	// Filesystem escape attempts in string parameters.
	{"path-dotdot", PatternPathTraversal, SeverityHigh,
		regexp.MustCompile(`\.\./|\.\.\\`)},
	{"path-etc", PatternPathTraversal, SeverityMedium,
		regexp.MustCompile(`/etc/(?:passwd|shadow)|c:\\windows\\`)},
}

var severityRisk = map[PatternSeverity]int{
	SeverityCritical: 100,
	SeverityHigh:     80,
	SeverityMedium:   50,
	SeverityLow:      20,
}

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

// Package security validates tool-caller input and SQL text before anything
// reaches a connection.
package security

import (
	"strings"

	"github.com/mysql-mcp/gateway/config"
)

// Match is one pattern hit.
type Match struct {
	PatternID string
	Type      PatternType
	Severity  PatternSeverity
}

// DetectResult is the outcome of a detector pass.
type DetectResult struct {
	Matches []Match
	// Risk is 0..100; the maximum severity among matches decides it.
	Risk int
}

// Detector holds the immutable, precompiled pattern sets.
type Detector struct {
	byType map[PatternType][]Pattern
}

func NewDetector() *Detector {
	byType := make(map[PatternType][]Pattern)
	for _, p := range defaultPatterns {
		byType[p.Type] = append(byType[p.Type], p)
	}
	return &Detector{byType: byType}
}

// levelGroups maps a validation level to the pattern groups it runs.
var levelGroups = map[config.ValidationLevel][]PatternType{
	config.ValidationBasic:    {PatternSQLInjection},
	config.ValidationModerate: {PatternSQLInjection, PatternDangerousOp},
	config.ValidationStrict:   {PatternSQLInjection, PatternDangerousOp, PatternXSS, PatternPathTraversal},
}

var percentDecoder = strings.NewReplacer(
	"%27", "'", "%22", `"`, "%2d", "-", "%2D", "-",
	"%23", "#", "%3b", ";", "%3B", ";", "%20", " ",
	"%0a", "\n", "%0A", "\n",
)

// Normalize lowers, collapses whitespace, and decodes common
// percent-encodings. It is idempotent.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = percentDecoder.Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// Detect runs the pattern groups enabled by level against the normalized
// input.
func (d *Detector) Detect(input string, level config.ValidationLevel) DetectResult {
	normalized := Normalize(input)
	var res DetectResult
	for _, group := range levelGroups[level] {
		for _, p := range d.byType[group] {
			if p.re.MatchString(normalized) {
				res.Matches = append(res.Matches, Match{PatternID: p.ID, Type: p.Type, Severity: p.Severity})
				if r := severityRisk[p.Severity]; r > res.Risk {
					res.Risk = r
				}
			}
		}
	}
	return res
}

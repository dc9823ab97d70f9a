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

// Package eventlog appends security, recovery, and alert events as one JSON
// object per line. Write failures are logged and swallowed: persistence of
// events may never fail a user request.
package eventlog

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mysql-mcp/gateway/mysqlerr"
)

// Event is one log line.
type Event struct {
	TS       time.Time      `json:"ts"`
	Severity string         `json:"severity"`
	Type     string         `json:"type"`
	Details  map[string]any `json:"details,omitempty"`
}

// Log appends events to an event file and mirrors severity >= high into a
// separate alert file.
type Log struct {
	mu        sync.Mutex
	eventPath string
	alertPath string
	logger    *slog.Logger
}

// New builds a Log writing under dir. A nil *Log is a valid no-op sink.
func New(dir string, logger *slog.Logger) *Log {
	return &Log{
		eventPath: filepath.Join(dir, "gateway-events.log"),
		alertPath: filepath.Join(dir, "gateway-alerts.log"),
		logger:    logger,
	}
}

// Record appends an event. Safe on a nil receiver.
func (l *Log) Record(severity mysqlerr.Severity, eventType string, details map[string]any) {
	if l == nil {
		return
	}
	ev := Event{TS: time.Now().UTC(), Severity: severity.String(), Type: eventType, Details: details}
	line, err := json.Marshal(ev)
	if err != nil {
		l.logger.Error("Error encoding event", "type", eventType, "err", err)
		return
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	l.append(l.eventPath, line)
	if severity >= mysqlerr.SeverityHigh {
		l.append(l.alertPath, line)
	}
}

func (l *Log) append(path string, line []byte) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		l.logger.Error("Error opening event log", "path", path, "err", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		l.logger.Error("Error writing event log", "path", path, "err", err)
	}
}

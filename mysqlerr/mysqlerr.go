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

// Package mysqlerr defines the gateway's error taxonomy and classifies
// driver, network, and context errors into it.
package mysqlerr

import (
	"errors"
	"fmt"
)

// Kind is the error category visible to callers and to the retry driver.
type Kind string

const (
	KindSecurityViolation   Kind = "security-violation"
	KindValidation          Kind = "validation-error"
	KindAccessDenied        Kind = "access-denied"
	KindObjectNotFound      Kind = "object-not-found"
	KindConstraintViolation Kind = "constraint-violation"
	KindSyntax              Kind = "syntax-error"
	KindConnection          Kind = "connection-error"
	KindTimeout             Kind = "timeout"
	KindDeadlock            Kind = "deadlock"
	KindLockWaitTimeout     Kind = "lock-wait-timeout"
	KindQueryInterrupted    Kind = "query-interrupted"
	KindResourceExhausted   Kind = "resource-exhausted"
	KindRateLimited         Kind = "rate-limited"
	KindCircuitOpen         Kind = "circuit-open"
	KindRetryExhausted      Kind = "retry-exhausted"
	KindTransientNet        Kind = "transient-net"
	KindConfiguration       Kind = "configuration-error"
	KindUnknown             Kind = "unknown"
)

// Severity orders error kinds for logging and for the alert log filter.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	case SeverityFatal:
		return "fatal"
	}
	return "unknown"
}

var kindSeverity = map[Kind]Severity{
	KindSecurityViolation:   SeverityCritical,
	KindValidation:          SeverityLow,
	KindAccessDenied:        SeverityHigh,
	KindObjectNotFound:      SeverityLow,
	KindConstraintViolation: SeverityMedium,
	KindSyntax:              SeverityLow,
	KindConnection:          SeverityHigh,
	KindTimeout:             SeverityMedium,
	KindDeadlock:            SeverityMedium,
	KindLockWaitTimeout:     SeverityMedium,
	KindQueryInterrupted:    SeverityLow,
	KindResourceExhausted:   SeverityHigh,
	KindRateLimited:         SeverityMedium,
	KindCircuitOpen:         SeverityHigh,
	KindRetryExhausted:      SeverityHigh,
	KindTransientNet:        SeverityMedium,
	KindConfiguration:       SeverityFatal,
	KindUnknown:             SeverityMedium,
}

// retryableKinds mirrors the retry policy: only transient downstream
// failures are ever retried.
var retryableKinds = map[Kind]bool{
	KindTransientNet:    true,
	KindDeadlock:        true,
	KindLockWaitTimeout: true,
	KindConnection:      true,
	KindTimeout:         true,
}

// Retryable reports whether ops failing with this kind may be retried.
func (k Kind) Retryable() bool { return retryableKinds[k] }

// Severity returns the default severity for the kind.
func (k Kind) Severity() Severity { return kindSeverity[k] }

var recoveryHints = map[Kind][]string{
	KindAccessDenied:        {"verify user privileges", "check GRANT statements for the gateway account"},
	KindObjectNotFound:      {"verify the table or database name", "refresh the schema cache"},
	KindConstraintViolation: {"inspect unique and foreign key constraints", "verify input values"},
	KindSyntax:              {"check SQL syntax near the reported position"},
	KindConnection:          {"verify the server is reachable", "check network and credentials"},
	KindTimeout:             {"retry with a smaller result set", "raise the query timeout"},
	KindDeadlock:            {"retry the transaction", "access tables in a consistent order"},
	KindLockWaitTimeout:     {"retry", "consider index tuning to shorten lock spans"},
	KindResourceExhausted:   {"reduce concurrency", "raise max_connections on the server"},
	KindRateLimited:         {"slow down request rate", "raise the configured rate limit"},
	KindCircuitOpen:         {"wait for the breaker window to elapse", "check server health"},
	KindRetryExhausted:      {"inspect the wrapped cause", "check server health"},
	KindSecurityViolation:   {"inspect the query for injection patterns"},
}

// Error is the typed error every surfaced failure is wrapped in.
type Error struct {
	Kind     Kind
	Severity Severity
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the error's kind is retryable.
func (e *Error) Retryable() bool { return e.Kind.Retryable() }

// Hints returns the static recovery hints for the error's kind.
func (e *Error) Hints() []string { return recoveryHints[e.Kind] }

// New builds a typed error with the kind's default severity.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Severity: kind.Severity(), Message: message}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Severity: kind.Severity(), Message: message, Err: err}
}

// KindOf extracts the kind from err, classifying raw errors on the fly.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Classify(err)
}

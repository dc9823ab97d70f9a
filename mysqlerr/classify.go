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

package mysqlerr

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/go-sql-driver/mysql"
)

// Server error numbers the classifier cares about. See
// https://dev.mysql.com/doc/mysql-errors/8.0/en/server-error-reference.html
var mysqlErrorKinds = map[uint16]Kind{
	1044: KindAccessDenied, // ER_DBACCESS_DENIED_ERROR
	1045: KindAccessDenied, // ER_ACCESS_DENIED_ERROR
	1142: KindAccessDenied, // ER_TABLEACCESS_DENIED_ERROR
	1143: KindAccessDenied, // ER_COLUMNACCESS_DENIED_ERROR
	1227: KindAccessDenied, // ER_SPECIFIC_ACCESS_DENIED_ERROR

	1049: KindObjectNotFound, // ER_BAD_DB_ERROR
	1054: KindObjectNotFound, // ER_BAD_FIELD_ERROR
	1146: KindObjectNotFound, // ER_NO_SUCH_TABLE
	1305: KindObjectNotFound, // ER_SP_DOES_NOT_EXIST

	1022: KindConstraintViolation, // ER_DUP_KEY
	1048: KindConstraintViolation, // ER_BAD_NULL_ERROR
	1062: KindConstraintViolation, // ER_DUP_ENTRY
	1451: KindConstraintViolation, // ER_ROW_IS_REFERENCED_2
	1452: KindConstraintViolation, // ER_NO_REFERENCED_ROW_2
	3819: KindConstraintViolation, // ER_CHECK_CONSTRAINT_VIOLATED

	1064: KindSyntax, // ER_PARSE_ERROR
	1149: KindSyntax, // ER_SYNTAX_ERROR

	1213: KindDeadlock,        // ER_LOCK_DEADLOCK
	1205: KindLockWaitTimeout, // ER_LOCK_WAIT_TIMEOUT

	1317: KindQueryInterrupted, // ER_QUERY_INTERRUPTED
	3024: KindTimeout,          // ER_QUERY_TIMEOUT

	1040: KindResourceExhausted, // ER_CON_COUNT_ERROR
	1041: KindResourceExhausted, // ER_OUT_OF_RESOURCES
	1203: KindResourceExhausted, // ER_TOO_MANY_USER_CONNECTIONS

	1129: KindConnection, // ER_HOST_IS_BLOCKED
	1130: KindConnection, // ER_HOST_NOT_PRIVILEGED
	2002: KindConnection, // CR_CONNECTION_ERROR
	2003: KindConnection, // CR_CONN_HOST_ERROR
	2006: KindConnection, // CR_SERVER_GONE_ERROR
	2013: KindConnection, // CR_SERVER_LOST
}

// Classify maps a raw error to a Kind.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		if kind, ok := mysqlErrorKinds[myErr.Number]; ok {
			return kind
		}
		return KindUnknown
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindQueryInterrupted
	case errors.Is(err, mysql.ErrInvalidConn), errors.Is(err, sql.ErrConnDone),
		errors.Is(err, mysql.ErrBusyBuffer):
		return KindConnection
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return KindTransientNet
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return KindTransientNet
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindTransientNet
	}

	// Some driver paths only surface message text.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "deadlock"):
		return KindDeadlock
	case strings.Contains(msg, "lock wait timeout"):
		return KindLockWaitTimeout
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "connection reset"):
		return KindTransientNet
	case strings.Contains(msg, "timeout"):
		return KindTimeout
	}
	return KindUnknown
}

// ClassifyWrap classifies err and wraps it as a typed Error.
func ClassifyWrap(message string, err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(Classify(err), message, err)
}

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

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/prometheus/common/promslog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mysql-mcp/gateway/mysqlerr"
)

func fastPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestDoSucceedsFirstTry(t *testing.T) {
	d := NewDriver(fastPolicy(), promslog.NewNopLogger())

	calls := 0
	report, err := d.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, report.Attempts)
	assert.Equal(t, time.Duration(0), report.TotalDelay)
}

func TestDoRetriesDeadlockThenSucceeds(t *testing.T) {
	d := NewDriver(fastPolicy(), promslog.NewNopLogger())

	calls := 0
	report, err := d.Do(context.Background(), "op", func(context.Context) error {
		calls++
		if calls == 1 {
			return &mysql.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Attempts)
	assert.Greater(t, report.TotalDelay, time.Duration(0))
}

func TestDoSurfacesNonRetryableImmediately(t *testing.T) {
	d := NewDriver(fastPolicy(), promslog.NewNopLogger())

	cause := mysqlerr.New(mysqlerr.KindSecurityViolation, "injection pattern detected")
	calls := 0
	report, err := d.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return cause
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, error(cause))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, report.Attempts)
}

func TestDoExhaustsBudget(t *testing.T) {
	d := NewDriver(fastPolicy(), promslog.NewNopLogger())

	cause := &mysql.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"}
	calls := 0
	report, err := d.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return cause
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, report.Attempts)
	assert.Equal(t, mysqlerr.KindRetryExhausted, mysqlerr.KindOf(err))
	assert.True(t, errors.Is(err, error(cause)))
}

func TestDoStopsOnContextDuringWait(t *testing.T) {
	d := NewDriver(Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Second}, promslog.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	report, err := d.Do(ctx, "op", func(context.Context) error {
		cancel()
		return &mysql.MySQLError{Number: 1213}
	})
	require.Error(t, err)
	assert.Equal(t, 1, report.Attempts)
	assert.Equal(t, mysqlerr.KindTimeout, mysqlerr.KindOf(err))
}

func TestNewDriverClampsAttempts(t *testing.T) {
	d := NewDriver(Policy{MaxAttempts: 0, BaseDelay: time.Millisecond}, promslog.NewNopLogger())

	calls := 0
	_, err := d.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return &mysql.MySQLError{Number: 1213}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

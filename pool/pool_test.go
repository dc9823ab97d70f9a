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
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/common/promslog"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/mysql-mcp/gateway/config"
	"github.com/mysql-mcp/gateway/mysqlerr"
)

func testDatabaseConfig() config.DatabaseConfig {
	return config.DatabaseConfig{
		Host:           "127.0.0.1",
		Port:           3306,
		User:           "gateway",
		Database:       "app",
		PoolMin:        1,
		PoolMax:        4,
		ConnectTimeout: 200 * time.Millisecond,
		IdleTimeout:    time.Minute,
		QueryTimeout:   time.Second,
	}
}

// newMockPool builds a Pool over a sqlmock endpoint, bypassing New so no
// real driver dial happens.
func newMockPool(t *testing.T) (*Pool, sqlmock.Sqlmock) {
	return newNamedMockPool(t, "primary", false)
}

func newNamedMockPool(t *testing.T, name string, readOnly bool) (*Pool, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatal(err)
	}
	p := &Pool{
		name:     name,
		cfg:      testDatabaseConfig(),
		readOnly: readOnly,
		logger:   promslog.NewNopLogger(),
		cap:      4,
		inUse:    make(map[string]*Conn),
		waits:    newWaitRing(32),
		stop:     make(chan struct{}),
		db:       db,
	}
	p.breaker = p.newBreaker()
	t.Cleanup(func() { db.Close() })
	return p, mock
}

func expectSessionInit(mock sqlmock.Sqlmock, threadID uint64) {
	mock.ExpectQuery("SELECT CONNECTION_ID").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(threadID))
	mock.ExpectExec("SET SESSION max_execution_time").
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestAcquireRelease(t *testing.T) {
	Convey("Acquire initializes the session and Release returns the slot", t, func() {
		p, mock := newMockPool(t)
		expectSessionInit(mock, 42)

		conn, err := p.Acquire(context.Background())
		So(err, ShouldBeNil)
		So(conn.ThreadID(), ShouldEqual, 42)
		So(conn.ReadOnly(), ShouldBeFalse)

		snap := p.SnapshotNow()
		So(snap.InUse, ShouldEqual, 1)
		So(snap.Stats.Acquired, ShouldEqual, 1)

		conn.Release()
		snap = p.SnapshotNow()
		So(snap.InUse, ShouldEqual, 0)
		So(snap.Stats.Released, ShouldEqual, 1)

		Convey("A second Release is a counted-once no-op", func() {
			conn.Release()
			So(p.SnapshotNow().Stats.Released, ShouldEqual, 1)
		})
	})
}

func TestAcquireTimeoutWhenExhausted(t *testing.T) {
	Convey("With every slot borrowed, Acquire times out", t, func() {
		p, mock := newMockPool(t)
		p.db.SetMaxOpenConns(1)
		expectSessionInit(mock, 1)

		held, err := p.Acquire(context.Background())
		So(err, ShouldBeNil)

		_, err = p.Acquire(context.Background())
		So(err, ShouldNotBeNil)
		So(mysqlerr.KindOf(err), ShouldEqual, mysqlerr.KindTimeout)
		So(p.SnapshotNow().Stats.Timeouts, ShouldEqual, 1)

		held.Release()
	})
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	Convey("Five consecutive probe failures open the breaker", t, func() {
		p, mock := newMockPool(t)
		for i := 0; i < breakerFailureThreshold; i++ {
			mock.ExpectPing().WillReturnError(errors.New("server gone"))
		}

		for i := 0; i < breakerFailureThreshold; i++ {
			So(p.Ping(context.Background()), ShouldNotBeNil)
		}
		So(p.Healthy(), ShouldBeFalse)
		So(p.SnapshotNow().Stats.BreakerOpens, ShouldEqual, 1)

		Convey("Acquire fails fast with circuit-open", func() {
			_, err := p.Acquire(context.Background())
			So(mysqlerr.KindOf(err), ShouldEqual, mysqlerr.KindCircuitOpen)
		})

		Convey("Ping reports circuit-open without touching the endpoint", func() {
			err := p.Ping(context.Background())
			So(mysqlerr.KindOf(err), ShouldEqual, mysqlerr.KindCircuitOpen)
		})

		Convey("A breaker reset restores traffic", func() {
			p.resetBreaker()
			So(p.Healthy(), ShouldBeTrue)
			mock.ExpectPing()
			So(p.Ping(context.Background()), ShouldBeNil)
		})
	})
}

func TestBreakerStaysClosedBelowThreshold(t *testing.T) {
	Convey("A success resets the consecutive failure count", t, func() {
		p, mock := newMockPool(t)
		for i := 0; i < breakerFailureThreshold-1; i++ {
			mock.ExpectPing().WillReturnError(errors.New("flaky"))
		}
		mock.ExpectPing()
		mock.ExpectPing().WillReturnError(errors.New("flaky"))

		for i := 0; i < breakerFailureThreshold-1; i++ {
			So(p.Ping(context.Background()), ShouldNotBeNil)
		}
		So(p.Ping(context.Background()), ShouldBeNil)
		So(p.Ping(context.Background()), ShouldNotBeNil)
		So(p.Healthy(), ShouldBeTrue)
	})
}

func TestHealthCheckCountsFailures(t *testing.T) {
	Convey("Failed probes increment the counters, success clears them", t, func() {
		p, mock := newMockPool(t)
		mock.ExpectPing().WillReturnError(errors.New("down"))
		mock.ExpectPing().WillReturnError(errors.New("down"))
		mock.ExpectPing()

		p.healthCheck(context.Background())
		p.healthCheck(context.Background())
		So(p.SnapshotNow().Stats.HealthFailures, ShouldEqual, 2)
		So(p.consecutiveFailures, ShouldEqual, 2)

		p.healthCheck(context.Background())
		So(p.consecutiveFailures, ShouldEqual, 0)
		So(p.SnapshotNow().Stats.LastHealthCheck.IsZero(), ShouldBeFalse)
	})

	Convey("Probes are suppressed during a resize swap", t, func() {
		p, _ := newMockPool(t)
		p.pausedChecks = true
		p.healthCheck(context.Background())
		So(p.SnapshotNow().Stats.LastHealthCheck.IsZero(), ShouldBeTrue)
	})
}

func TestScanLeaksReclaims(t *testing.T) {
	Convey("A connection borrowed past the threshold is reclaimed", t, func() {
		p, mock := newMockPool(t)
		expectSessionInit(mock, 7)

		conn, err := p.Acquire(context.Background())
		So(err, ShouldBeNil)
		conn.acquiredAt = time.Now().Add(-2 * leakThreshold)

		p.scanLeaks()
		snap := p.SnapshotNow()
		So(snap.Stats.LeaksReclaimed, ShouldEqual, 1)
		So(snap.InUse, ShouldEqual, 0)
		So(snap.Stats.Released, ShouldEqual, 1)

		Convey("The borrower's late Release stays a silent no-op", func() {
			conn.Release()
			So(p.SnapshotNow().Stats.Released, ShouldEqual, 1)
		})
	})

	Convey("Fresh connections are left alone", t, func() {
		p, mock := newMockPool(t)
		expectSessionInit(mock, 8)

		conn, err := p.Acquire(context.Background())
		So(err, ShouldBeNil)
		p.scanLeaks()
		So(p.SnapshotNow().Stats.LeaksReclaimed, ShouldEqual, 0)
		conn.Release()
	})
}

func TestStatsPersistence(t *testing.T) {
	Convey("Stats round-trip through the stats file", t, func() {
		p, _ := newMockPool(t)
		p.stats = Stats{Acquired: 10, Released: 9, Timeouts: 2, BreakerOpens: 1}
		p.waits.record(12 * time.Millisecond)
		p.waits.record(30 * time.Millisecond)

		path := filepath.Join(t.TempDir(), "pool-stats.json")
		So(p.SaveStats(path), ShouldBeNil)

		restored, _ := newMockPool(t)
		restored.LoadStats(path)
		So(restored.stats, ShouldResemble, p.stats)
		So(restored.waits.average(), ShouldEqual, 21*time.Millisecond)
	})

	Convey("A missing or corrupt file starts from zero", t, func() {
		p, _ := newMockPool(t)
		p.LoadStats(filepath.Join(t.TempDir(), "absent.json"))
		So(p.stats, ShouldResemble, Stats{})
	})
}

func TestWaitRing(t *testing.T) {
	Convey("The ring averages and orders its window", t, func() {
		w := newWaitRing(4)
		So(w.average(), ShouldEqual, 0)
		So(w.rising(), ShouldBeFalse)

		w.record(10 * time.Millisecond)
		w.record(20 * time.Millisecond)
		So(w.average(), ShouldEqual, 15*time.Millisecond)

		w.record(30 * time.Millisecond)
		w.record(40 * time.Millisecond)
		So(w.rising(), ShouldBeTrue)

		Convey("Wrapping keeps the newest entries", func() {
			w.record(50 * time.Millisecond)
			ordered := w.ordered()
			So(ordered, ShouldResemble, []time.Duration{
				20 * time.Millisecond, 30 * time.Millisecond,
				40 * time.Millisecond, 50 * time.Millisecond,
			})
			So(w.snapshot(), ShouldResemble, []int64{20, 30, 40, 50})
		})
	})

	Convey("A falling window is not rising", t, func() {
		w := newWaitRing(4)
		for _, d := range []time.Duration{40, 30, 20, 10} {
			w.record(d * time.Millisecond)
		}
		So(w.rising(), ShouldBeFalse)
	})
}

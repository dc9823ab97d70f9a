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

// Package memwatch samples process memory, derives a pressure scalar in
// [0,1], and fans it out to the pool and cache subsystems.
package memwatch

import (
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/procfs"

	"github.com/mysql-mcp/gateway/config"
	"github.com/mysql-mcp/gateway/eventlog"
	"github.com/mysql-mcp/gateway/mysqlerr"
)

// Snapshot is one memory sample.
type Snapshot struct {
	RSS           uint64
	HeapUsed      uint64
	HeapTotal     uint64
	TS            time.Time
	Pressure      float64
	LeakSuspected bool
}

// Subscriber receives every published snapshot. Implementations must not
// block; failures are logged and never propagated.
type Subscriber func(Snapshot)

// Cleaner is a weak-reference registry swept by the controller's cleanup
// pass. Registry[T] satisfies it for any T.
type Cleaner interface {
	Cleanup(idleThreshold time.Duration) int
}

// Controller runs the sampling loop.
//
// Pressure is max(heapUsed/heapTotal, rss/systemRef) clamped to [0,1]. The
// system reference is /proc/meminfo MemTotal read once at startup; when
// procfs is unavailable the RSS term is dropped and pressure is the heap
// ratio alone.
type Controller struct {
	cfg    config.MemoryConfig
	logger *slog.Logger
	events *eventlog.Log

	proc      *procfs.Proc
	systemRef uint64

	mu       sync.Mutex
	history  []Snapshot
	subs     map[string]Subscriber
	cleaners map[string]Cleaner

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	pressureGauge prometheus.Gauge
	rssGauge      prometheus.Gauge
	heapGauge     prometheus.Gauge
	leakGauge     prometheus.Gauge
}

func New(cfg config.MemoryConfig, logger *slog.Logger, events *eventlog.Log) *Controller {
	c := &Controller{
		cfg:      cfg,
		logger:   logger,
		events:   events,
		history:  make([]Snapshot, 0, cfg.HistorySize),
		subs:     make(map[string]Subscriber),
		cleaners: make(map[string]Cleaner),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		pressureGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mysql_gateway", Subsystem: "memory",
			Name: "pressure", Help: "Current memory pressure in [0,1].",
		}),
		rssGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mysql_gateway", Subsystem: "memory",
			Name: "rss_bytes", Help: "Resident set size of the gateway process.",
		}),
		heapGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mysql_gateway", Subsystem: "memory",
			Name: "heap_inuse_bytes", Help: "Heap bytes in use.",
		}),
		leakGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mysql_gateway", Subsystem: "memory",
			Name: "leak_suspected", Help: "Whether the leak heuristic is currently firing.",
		}),
	}

	if proc, err := procfs.Self(); err == nil {
		c.proc = &proc
		if fs, err := procfs.NewDefaultFS(); err == nil {
			if mi, err := fs.Meminfo(); err == nil && mi.MemTotal != nil {
				c.systemRef = *mi.MemTotal * 1024
			}
		}
	}
	if c.systemRef == 0 {
		c.logger.Warn("procfs unavailable, pressure uses heap ratio only")
	}
	return c
}

func (c *Controller) RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(c.pressureGauge, c.rssGauge, c.heapGauge, c.leakGauge)
}

// Subscribe registers a named subscriber. Registering an existing name
// replaces the previous subscriber.
func (c *Controller) Subscribe(name string, fn Subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[name] = fn
}

// RegisterCleaner registers a named registry for the periodic cleanup pass.
// Registering an existing name replaces the previous cleaner.
func (c *Controller) RegisterCleaner(name string, cl Cleaner) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleaners[name] = cl
}

// runCleanup sweeps the registered registries, dropping collected and idle
// entries. The emergency path passes a short threshold to shed harder.
func (c *Controller) runCleanup(idle time.Duration) {
	c.mu.Lock()
	cleaners := make(map[string]Cleaner, len(c.cleaners))
	for name, cl := range c.cleaners {
		cleaners[name] = cl
	}
	c.mu.Unlock()

	for name, cl := range cleaners {
		if n := cl.Cleanup(idle); n > 0 {
			c.logger.Debug("Registry cleanup", "registry", name, "removed", n)
		}
	}
}

// Start launches the sampling loop.
func (c *Controller) Start() {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.SampleOnce()
			case <-c.stop:
				return
			}
		}
	}()
}

// Close stops the loop and waits for it to exit.
func (c *Controller) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
}

// Pressure returns the most recent pressure value, 0 before the first sample.
func (c *Controller) Pressure() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.history) == 0 {
		return 0
	}
	return c.history[len(c.history)-1].Pressure
}

// History returns a copy of the sample ring, oldest first.
func (c *Controller) History() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Snapshot, len(c.history))
	copy(out, c.history)
	return out
}

// SampleOnce takes one sample, appends it to the ring, and publishes it.
func (c *Controller) SampleOnce() Snapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	snap := Snapshot{
		HeapUsed:  ms.HeapInuse,
		HeapTotal: ms.HeapSys,
		TS:        time.Now(),
	}
	if c.proc != nil {
		if stat, err := c.proc.Stat(); err == nil {
			snap.RSS = uint64(stat.ResidentMemory())
		}
	}
	snap.Pressure = c.computePressure(snap)

	c.mu.Lock()
	c.history = append(c.history, snap)
	if len(c.history) > c.cfg.HistorySize {
		c.history = c.history[len(c.history)-c.cfg.HistorySize:]
	}
	snap.LeakSuspected = heapSlopeSuspicious(c.history)
	c.history[len(c.history)-1] = snap
	subs := make([]Subscriber, 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	c.pressureGauge.Set(snap.Pressure)
	c.rssGauge.Set(float64(snap.RSS))
	c.heapGauge.Set(float64(snap.HeapUsed))
	if snap.LeakSuspected {
		c.leakGauge.Set(1)
		c.logger.Warn("Heap growth suggests a leak",
			"heap_used", snap.HeapUsed, "samples", len(c.history))
	} else {
		c.leakGauge.Set(0)
	}

	c.publish(snap, subs)
	c.runCleanup(0)

	if snap.Pressure > 0.95 {
		c.emergency(snap)
	} else if snap.Pressure >= c.cfg.CacheClearThreshold && c.cfg.AutoGC {
		runtime.GC()
	}
	return snap
}

// publish fans the snapshot out in parallel. A slow or panicking subscriber
// never stalls the sampler or its peers.
func (c *Controller) publish(snap Snapshot, subs []Subscriber) {
	var wg sync.WaitGroup
	for _, fn := range subs {
		wg.Add(1)
		go func(fn Subscriber) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("Memory pressure subscriber panicked", "panic", r)
				}
			}()
			fn(snap)
		}(fn)
	}
	wg.Wait()
}

func (c *Controller) computePressure(snap Snapshot) float64 {
	var p float64
	if snap.HeapTotal > 0 {
		p = float64(snap.HeapUsed) / float64(snap.HeapTotal)
	}
	if c.systemRef > 0 && snap.RSS > 0 {
		if r := float64(snap.RSS) / float64(c.systemRef); r > p {
			p = r
		}
	}
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return p
}

func (c *Controller) emergency(snap Snapshot) {
	c.mu.Lock()
	c.history = c.history[:0]
	c.mu.Unlock()

	c.logger.Error("Extreme memory pressure, history cleared",
		"pressure", snap.Pressure, "rss", snap.RSS)
	c.events.Record(mysqlerr.SeverityCritical, "memory_emergency", map[string]any{
		"pressure": snap.Pressure,
		"rss":      snap.RSS,
		"heapUsed": snap.HeapUsed,
	})
	if c.cfg.AutoGC {
		runtime.GC()
	}
	// Under emergency pressure anything idle at all is worth dropping.
	c.runCleanup(time.Second)
}

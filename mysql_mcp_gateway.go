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

// Main entry point for the MySQL MCP gateway.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/promslog"
	"github.com/prometheus/common/promslog/flag"
	"github.com/prometheus/common/version"
	"github.com/prometheus/exporter-toolkit/web"
	"github.com/prometheus/exporter-toolkit/web/kingpinflag"

	"github.com/mysql-mcp/gateway/cache"
	"github.com/mysql-mcp/gateway/config"
	"github.com/mysql-mcp/gateway/eventlog"
	"github.com/mysql-mcp/gateway/executor"
	"github.com/mysql-mcp/gateway/mcp"
	"github.com/mysql-mcp/gateway/memwatch"
	"github.com/mysql-mcp/gateway/pool"
	"github.com/mysql-mcp/gateway/ratelimit"
	"github.com/mysql-mcp/gateway/rbac"
	"github.com/mysql-mcp/gateway/retry"
	"github.com/mysql-mcp/gateway/security"
)

var (
	mycnf = kingpin.Flag(
		"config.my-cnf",
		"Path to a my.cnf-style file with a [client] section. Environment variables overlay it.",
	).String()
	watchConfig = kingpin.Flag(
		"config.watch",
		"Reload the configuration when the my.cnf file changes.",
	).Bool()
	mcpTransport = kingpin.Flag(
		"mcp.transport",
		"MCP transport: stdio (spawned by a client) or http (long-lived service).",
	).Default("stdio").Enum("stdio", "http")
	mcpAddress = kingpin.Flag(
		"mcp.http-address",
		"Listen address for the MCP streamable HTTP transport.",
	).Default(":8080").String()
	metricsPath = kingpin.Flag(
		"web.telemetry-path",
		"Path under which to expose metrics.",
	).Default("/metrics").String()
	toolkitFlags = kingpinflag.AddFlags(kingpin.CommandLine, ":9104")
)

func main() {
	promslogConfig := &promslog.Config{}
	flag.AddFlags(kingpin.CommandLine, promslogConfig)
	kingpin.Version(version.Print("mysql_mcp_gateway"))
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()
	logger := promslog.New(promslogConfig)

	os.Exit(run(logger))
}

func run(logger *slog.Logger) int {
	logger.Info("Starting mysql_mcp_gateway", "version", version.Info())
	logger.Info("Build context", "build_context", version.BuildContext())

	store := config.NewStore(config.Default())
	reloader := config.NewReloader(store, *mycnf, logger)
	if err := reloader.Reload(); err != nil {
		logger.Error("Error loading configuration", "err", err)
		return 1
	}
	cfg := store.Get()

	events := eventlog.New(cfg.StateDir, logger)

	// Core components, leaves first.
	mem := memwatch.New(cfg.Memory, logger, events)
	caches := cache.NewManager(cfg.Cache, logger)
	qcache := cache.NewQueryCache(caches.Region(cache.RegionQueryResult), cfg.Cache.MaxQueryResultBytes)
	limiter := ratelimit.New(cfg.Security.RateLimitMax, cfg.Security.RateLimitWindow)
	retrier := retry.NewDriver(retry.DefaultPolicy(), logger)
	detector := security.NewDetector()
	sqlVal := security.NewSQLValidator(cfg.Security, detector, logger, events)
	inputVal := security.NewInputValidator(cfg.Security, detector)
	authz := bootstrapRBAC(cfg, logger)

	cluster, err := pool.NewCluster(cfg.Database, logger, events)
	if err != nil {
		logger.Error("Error opening connection pools", "err", err)
		return 1
	}

	exec := executor.New(executor.Deps{
		Security: cfg.Security,
		Limiter:  limiter,
		SQLVal:   sqlVal,
		InputVal: inputVal,
		Authz:    authz,
		Conns:    clusterConns{cluster},
		Retrier:  retrier,
		Caches:   caches,
		QCache:   qcache,
		Logger:   logger,
		Pressure: mem.Pressure,
	})

	registerMetrics(mem, caches, cluster)

	// Pressure fan-out: caches shrink, pools adjust, the limiter sheds.
	mem.Subscribe("caches", func(snap memwatch.Snapshot) {
		caches.OnPressure(snap, cfg.Memory.PressureThreshold, cfg.Memory.CacheClearThreshold)
	})
	mem.Subscribe("pools", func(snap memwatch.Snapshot) {
		cluster.OnPressure(snap.Pressure)
	})
	mem.Subscribe("ratelimit", func(snap memwatch.Snapshot) {
		limiter.SetLoad(snap.Pressure)
	})
	mem.RegisterCleaner("cache", caches.Tracker())

	mem.Start()
	caches.Start(time.Minute)
	cluster.Start(cfg.StateDir)

	// Warm the schema caches in the background; failures are never fatal.
	warmCtx, cancelWarm := context.WithTimeout(context.Background(), 2*time.Minute)
	go func() {
		defer cancelWarm()
		if err := cache.Warmup(warmCtx, caches, &schemaSource{cluster: cluster}, logger); err != nil {
			logger.Warn("Schema warm-up failed", "err", err)
		}
	}()

	// SIGHUP reloads; the optional watcher reloads on file change too.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			if err := reloader.Reload(); err != nil {
				logger.Error("Error reloading configuration", "err", err)
			}
		}
	}()
	if *watchConfig && *mycnf != "" {
		stopWatch, err := config.Watch(reloader, *mycnf, logger)
		if err != nil {
			logger.Error("Error watching configuration", "err", err)
			return 1
		}
		defer stopWatch()
	}

	go serveMetrics(logger)

	runtime := &mcp.Runtime{
		Config:   store,
		Executor: exec,
		Caches:   caches,
		QCache:   qcache,
		Cluster:  cluster,
		Memory:   mem,
		Authz:    authz,
		Limiter:  limiter,
		Logger:   logger,
	}
	srv := mcp.NewServer(runtime, version.Version)

	errCh := make(chan error, 1)
	switch *mcpTransport {
	case "http":
		httpSrv := mcp.NewHTTPServer(srv)
		logger.Info("MCP server listening", "transport", "http", "address", *mcpAddress)
		go func() { errCh <- httpSrv.Start(*mcpAddress) }()
	default:
		logger.Info("MCP server on stdio")
		go func() { errCh <- mcp.ServeStdio(srv) }()
	}

	term := make(chan os.Signal, 1)
	signal.Notify(term, os.Interrupt, syscall.SIGTERM)
	exitCode := 0
	select {
	case <-term:
		logger.Info("Received termination signal, shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error("MCP server stopped", "err", err)
			exitCode = 1
		}
	}

	mem.Close()
	caches.Close()
	if err := cluster.Close(cfg.StateDir); err != nil {
		logger.Warn("Error closing pools", "err", err)
	}
	return exitCode
}

// bootstrapRBAC grants the default identity the configured allow-list, so a
// gateway run without explicit users still enforces the verb policy.
func bootstrapRBAC(cfg *config.Config, logger *slog.Logger) *rbac.Authorizer {
	authz := rbac.New()
	if err := authz.AddRole("default", "Default role"); err != nil {
		logger.Warn("RBAC bootstrap", "err", err)
	}
	for _, verb := range cfg.Security.AllowedQueries {
		if err := authz.AssignPermission("default", verb); err != nil {
			logger.Warn("RBAC bootstrap", "err", err)
		}
	}
	if err := authz.AddUser(executor.DefaultClient, "Anonymous caller"); err != nil {
		logger.Warn("RBAC bootstrap", "err", err)
	}
	if err := authz.AssignRole(executor.DefaultClient, "default"); err != nil {
		logger.Warn("RBAC bootstrap", "err", err)
	}
	return authz
}

func registerMetrics(mem *memwatch.Controller, caches *cache.Manager, cluster *pool.Cluster) {
	reg := prometheus.DefaultRegisterer
	config.RegisterMetrics(reg)
	ratelimit.RegisterMetrics(reg)
	retry.RegisterMetrics(reg)
	executor.RegisterMetrics(reg)
	mem.RegisterMetrics(reg)
	reg.MustRegister(caches, cluster)
}

func serveMetrics(logger *slog.Logger) {
	http.Handle(*metricsPath, promhttp.Handler())
	if *metricsPath != "/" {
		landingConfig := web.LandingConfig{
			Name:        "MySQL MCP Gateway",
			Description: "MCP gateway in front of MySQL",
			Version:     version.Info(),
			Links: []web.LandingLinks{
				{Address: *metricsPath, Text: "Metrics"},
			},
		}
		landingPage, err := web.NewLandingPage(landingConfig)
		if err != nil {
			logger.Error("Error building landing page", "err", err)
			os.Exit(1)
		}
		http.Handle("/", landingPage)
	}
	srv := &http.Server{}
	if err := web.ListenAndServe(srv, toolkitFlags, logger); err != nil {
		logger.Error("Error running telemetry server", "err", err)
		os.Exit(1)
	}
}

// clusterConns adapts the pool cluster to the executor's provider interface.
type clusterConns struct {
	c *pool.Cluster
}

func (p clusterConns) AcquireRead(ctx context.Context) (executor.Conn, error) {
	return p.c.AcquireRead(ctx)
}

func (p clusterConns) AcquireWrite(ctx context.Context) (executor.Conn, error) {
	return p.c.AcquireWrite(ctx)
}

// schemaSource feeds the cache warm-up from the read pools.
type schemaSource struct {
	cluster *pool.Cluster
}

func (s *schemaSource) ListTables(ctx context.Context) ([]string, error) {
	conn, err := s.cluster.AcquireRead(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.QueryContext(ctx, "SHOW TABLES")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (s *schemaSource) DescribeTable(ctx context.Context, table string) (any, error) {
	conn, err := s.cluster.AcquireRead(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.QueryContext(ctx, "DESCRIBE `"+strings.ToLower(table)+"`")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type column struct {
		Field   string  `json:"field"`
		Type    string  `json:"type"`
		Null    string  `json:"null"`
		Key     string  `json:"key"`
		Default *string `json:"default"`
		Extra   string  `json:"extra"`
	}
	var columns []column
	for rows.Next() {
		var c column
		if err := rows.Scan(&c.Field, &c.Type, &c.Null, &c.Key, &c.Default, &c.Extra); err != nil {
			return nil, err
		}
		columns = append(columns, c)
	}
	return columns, rows.Err()
}

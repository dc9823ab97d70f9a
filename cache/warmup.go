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

package cache

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"
)

// warmupConcurrency bounds parallel DESCRIBE statements during warm-up so
// startup does not monopolize the pool.
const warmupConcurrency = 4

// SchemaSource supplies the metadata that warm-up preloads.
type SchemaSource interface {
	ListTables(ctx context.Context) ([]string, error)
	DescribeTable(ctx context.Context, table string) (any, error)
}

// Warmup preloads the table-exists and schema regions from src. Individual
// describe failures are logged and skipped; only the initial listing can
// fail the warm-up.
func Warmup(ctx context.Context, m *Manager, src SchemaSource, logger *slog.Logger) error {
	tables, err := src.ListTables(ctx)
	if err != nil {
		return err
	}

	exists := m.Region(RegionTableExists)
	schema := m.Region(RegionSchema)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(warmupConcurrency)
	for _, table := range tables {
		exists.Set(strings.ToLower(table), true, 1)
		g.Go(func() error {
			desc, err := src.DescribeTable(ctx, table)
			if err != nil {
				logger.Debug("Schema warm-up skipped table", "table", table, "err", err)
				return nil
			}
			schema.Set(strings.ToLower(table), desc, 0)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Schema cache warmed", "tables", len(tables))
	return nil
}

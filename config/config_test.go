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

package config

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretNeverPrints(t *testing.T) {
	s := Secret("hunter2")
	assert.Equal(t, "<secret>", s.String())
	assert.Equal(t, "<secret>", fmt.Sprintf("%v", s))
	assert.Equal(t, "<secret>", fmt.Sprintf("%#v", s))
	assert.Equal(t, "hunter2", s.Value())

	b, err := json.Marshal(struct{ P Secret }{s})
	require.NoError(t, err)
	assert.Equal(t, `{"P":"<secret>"}`, string(b))

	assert.Equal(t, "", Secret("").String())
}

func TestDefaultValidates(t *testing.T) {
	c := Default()
	c.Database.User = "gateway"
	assert.NoError(t, c.Validate())
}

func TestValidateRejectsBadSnapshots(t *testing.T) {
	base := func() *Config {
		c := Default()
		c.Database.User = "gateway"
		return c
	}
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no host or socket", func(c *Config) { c.Database.Host = "" }},
		{"bad port", func(c *Config) { c.Database.Port = 70000 }},
		{"no user", func(c *Config) { c.Database.User = "" }},
		{"iam without region", func(c *Config) { c.Database.AuthMethod = AuthAWSIAM }},
		{"pool min zero", func(c *Config) { c.Database.PoolMin = 0 }},
		{"pool max below min", func(c *Config) { c.Database.PoolMax = 1; c.Database.PoolMin = 5 }},
		{"zero connect timeout", func(c *Config) { c.Database.ConnectTimeout = 0 }},
		{"bad replica", func(c *Config) { c.Database.Replicas = []ReplicaConfig{{Host: "", Port: 3306}} }},
		{"zero query length", func(c *Config) { c.Security.MaxQueryLength = 0 }},
		{"empty allow-list", func(c *Config) { c.Security.AllowedQueries = nil }},
		{"unknown verb", func(c *Config) { c.Security.AllowedQueries = []string{"MERGE"} }},
		{"zero rate limit", func(c *Config) { c.Security.RateLimitMax = 0 }},
		{"bad validation level", func(c *Config) { c.Security.ValidationLevel = "paranoid" }},
		{"zero cache size", func(c *Config) { c.Cache.SchemaCacheSize = 0 }},
		{"query cache without ttl", func(c *Config) { c.Cache.QueryCacheTTL = 0 }},
		{"zero memory interval", func(c *Config) { c.Memory.Interval = 0 }},
		{"threshold above one", func(c *Config) { c.Memory.PressureThreshold = 1.5 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := base()
			tc.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestValidateSocketSkipsPortCheck(t *testing.T) {
	c := Default()
	c.Database.User = "gateway"
	c.Database.Host = ""
	c.Database.Port = 0
	c.Database.Socket = "/var/run/mysqld/mysqld.sock"
	assert.NoError(t, c.Validate())
}

func TestFromEnvOverlay(t *testing.T) {
	env := map[string]string{
		"MYSQLD_MCP_HOST":                "db.internal",
		"MYSQLD_MCP_PORT":                "3307",
		"MYSQLD_MCP_USER":                "svc",
		"MYSQLD_MCP_PASSWORD":            "pw",
		"MYSQLD_MCP_CONNECTION_LIMIT":    "20",
		"MYSQLD_MCP_CONNECT_TIMEOUT":     "5",
		"MYSQLD_MCP_ALLOWED_QUERY_TYPES": "select, insert ,Update",
		"MYSQLD_MCP_VALIDATION_LEVEL":    "STRICT",
		"MYSQLD_MCP_ENABLE_QUERY_CACHE":  "false",
		"MYSQLD_MCP_REPLICAS":            "r1.internal:3306,r2.internal",
		"MYSQLD_MCP_MEMORY_PRESSURE_THRESHOLD": "0.8",
	}
	c := Default()
	require.NoError(t, fromEnv(c, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))

	assert.Equal(t, "db.internal", c.Database.Host)
	assert.Equal(t, 3307, c.Database.Port)
	assert.Equal(t, "svc", c.Database.User)
	assert.Equal(t, "pw", c.Database.Password.Value())
	assert.Equal(t, 20, c.Database.PoolMax)
	assert.Equal(t, 5*time.Second, c.Database.ConnectTimeout)
	assert.Equal(t, []string{"SELECT", "INSERT", "UPDATE"}, c.Security.AllowedQueries)
	assert.Equal(t, ValidationStrict, c.Security.ValidationLevel)
	assert.False(t, c.Cache.EnableQueryCache)
	assert.Equal(t, 0.8, c.Memory.PressureThreshold)
	require.Len(t, c.Database.Replicas, 2)
	assert.Equal(t, ReplicaConfig{Host: "r1.internal", Port: 3306}, c.Database.Replicas[0])
	assert.Equal(t, ReplicaConfig{Host: "r2.internal", Port: 3306}, c.Database.Replicas[1])
}

func TestFromEnvMalformedValue(t *testing.T) {
	c := Default()
	err := fromEnv(c, func(k string) (string, bool) {
		if k == "MYSQLD_MCP_PORT" {
			return "not-a-number", true
		}
		return "", false
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MYSQLD_MCP_PORT")
}

func TestStoreSwapAndSubscribe(t *testing.T) {
	c := Default()
	c.Database.User = "gateway"
	s := NewStore(c)
	assert.Equal(t, uint64(1), s.Version())

	var notified *Config
	s.Subscribe(func(next *Config) { notified = next })

	next := Default()
	next.Database.User = "other"
	require.NoError(t, s.Swap(next))
	assert.Equal(t, uint64(2), s.Version())
	assert.Same(t, next, s.Get())
	assert.Same(t, next, notified)

	// An invalid snapshot is rejected and the old one stays published.
	bad := Default()
	require.Error(t, s.Swap(bad))
	assert.Same(t, next, s.Get())
	assert.Equal(t, uint64(2), s.Version())
}

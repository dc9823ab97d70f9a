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
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix is prepended to every recognized environment key.
const EnvPrefix = "MYSQLD_MCP_"

type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (r *envReader) str(key string, dst *string) {
	if v, ok := r.lookup(EnvPrefix + key); ok {
		*dst = v
	}
}

func (r *envReader) secret(key string, dst *Secret) {
	if v, ok := r.lookup(EnvPrefix + key); ok {
		*dst = Secret(v)
	}
}

func (r *envReader) intval(key string, dst *int) {
	v, ok := r.lookup(EnvPrefix + key)
	if !ok || r.err != nil {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.err = fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		return
	}
	*dst = n
}

func (r *envReader) boolean(key string, dst *bool) {
	v, ok := r.lookup(EnvPrefix + key)
	if !ok || r.err != nil {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.err = fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		return
	}
	*dst = b
}

func (r *envReader) float(key string, dst *float64) {
	v, ok := r.lookup(EnvPrefix + key)
	if !ok || r.err != nil {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.err = fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		return
	}
	*dst = f
}

// seconds reads a plain number of seconds, the unit all recognized keys use.
func (r *envReader) seconds(key string, dst *time.Duration) {
	v, ok := r.lookup(EnvPrefix + key)
	if !ok || r.err != nil {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.err = fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		return
	}
	*dst = time.Duration(n) * time.Second
}

// FromEnv overlays recognized environment keys onto c. Unrecognized keys are
// ignored; malformed values are an error.
func FromEnv(c *Config) error {
	return fromEnv(c, func(k string) (string, bool) { return os.LookupEnv(k) })
}

func fromEnv(c *Config, lookup func(string) (string, bool)) error {
	r := &envReader{lookup: lookup}

	r.str("HOST", &c.Database.Host)
	r.intval("PORT", &c.Database.Port)
	r.str("USER", &c.Database.User)
	r.secret("PASSWORD", &c.Database.Password)
	r.str("DATABASE", &c.Database.Database)
	r.intval("CONNECTION_LIMIT", &c.Database.PoolMax)
	r.seconds("CONNECT_TIMEOUT", &c.Database.ConnectTimeout)
	r.seconds("IDLE_TIMEOUT", &c.Database.IdleTimeout)
	r.boolean("SSL", &c.Database.SSL)
	r.str("CHARSET", &c.Database.Charset)
	r.str("TIMEZONE", &c.Database.Timezone)
	if v, ok := lookup(EnvPrefix + "REPLICAS"); ok && r.err == nil {
		replicas, err := parseReplicas(v)
		if err != nil {
			r.err = fmt.Errorf("%sREPLICAS: %w", EnvPrefix, err)
		} else {
			c.Database.Replicas = replicas
		}
	}

	r.intval("MAX_QUERY_LENGTH", &c.Security.MaxQueryLength)
	r.intval("MAX_INPUT_LENGTH", &c.Security.MaxInputLength)
	r.intval("MAX_RESULT_ROWS", &c.Security.MaxResultRows)
	r.seconds("QUERY_TIMEOUT", &c.Database.QueryTimeout)
	r.intval("RATE_LIMIT_MAX", &c.Security.RateLimitMax)
	r.seconds("RATE_LIMIT_WINDOW", &c.Security.RateLimitWindow)
	if v, ok := lookup(EnvPrefix + "ALLOWED_QUERY_TYPES"); ok {
		var verbs []string
		for _, verb := range strings.Split(v, ",") {
			if verb = strings.ToUpper(strings.TrimSpace(verb)); verb != "" {
				verbs = append(verbs, verb)
			}
		}
		c.Security.AllowedQueries = verbs
	}
	if v, ok := lookup(EnvPrefix + "VALIDATION_LEVEL"); ok {
		c.Security.ValidationLevel = ValidationLevel(strings.ToLower(v))
	}

	r.intval("SCHEMA_CACHE_SIZE", &c.Cache.SchemaCacheSize)
	r.intval("TABLE_EXISTS_CACHE_SIZE", &c.Cache.TableExistsCacheSize)
	r.intval("INDEX_CACHE_SIZE", &c.Cache.IndexCacheSize)
	r.seconds("CACHE_TTL", &c.Cache.TTL)
	r.boolean("ENABLE_QUERY_CACHE", &c.Cache.EnableQueryCache)
	r.intval("QUERY_CACHE_SIZE", &c.Cache.QueryCacheSize)
	r.seconds("QUERY_CACHE_TTL", &c.Cache.QueryCacheTTL)
	r.intval("MAX_QUERY_RESULT_SIZE", &c.Cache.MaxQueryResultBytes)
	r.boolean("ENABLE_TIERED_CACHE", &c.Cache.EnableTiered)
	r.boolean("ENABLE_TTL_ADJUSTMENT", &c.Cache.EnableTTLAdjustment)

	r.seconds("MEMORY_MONITORING_INTERVAL", &c.Memory.Interval)
	r.intval("MEMORY_HISTORY_SIZE", &c.Memory.HistorySize)
	r.float("MEMORY_PRESSURE_THRESHOLD", &c.Memory.PressureThreshold)
	r.float("MEMORY_CACHE_CLEAR_THRESHOLD", &c.Memory.CacheClearThreshold)
	r.boolean("MEMORY_AUTO_GC", &c.Memory.AutoGC)

	r.str("STATE_DIR", &c.StateDir)

	return r.err
}

func parseReplicas(v string) ([]ReplicaConfig, error) {
	var out []ReplicaConfig
	for _, hp := range strings.Split(v, ",") {
		hp = strings.TrimSpace(hp)
		if hp == "" {
			continue
		}
		host, portStr, err := net.SplitHostPort(hp)
		if err != nil {
			// Bare host, default port.
			out = append(out, ReplicaConfig{Host: hp, Port: 3306})
			continue
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("replica %q: %w", hp, err)
		}
		out = append(out, ReplicaConfig{Host: host, Port: port})
	}
	return out, nil
}

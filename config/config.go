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

// Package config holds the gateway's typed configuration snapshot and the
// sources it is loaded from: a my.cnf-style ini file and MYSQLD_MCP_*
// environment keys. Snapshots are immutable; reloads swap the whole value.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Secret is a string that never prints its value.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "<secret>"
}

func (s Secret) GoString() string { return s.String() }

func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"<secret>"`), nil
}

// Value returns the underlying secret. Call sites are the DSN builder and
// nothing else.
func (s Secret) Value() string { return string(s) }

// AuthMethod selects how the database password is obtained.
type AuthMethod string

const (
	AuthPassword AuthMethod = "password"
	AuthAWSIAM   AuthMethod = "aws-iam"
)

type DatabaseConfig struct {
	Host           string
	Port           int
	Socket         string
	User           string
	Password       Secret
	Database       string
	AuthMethod     AuthMethod
	AWSRegion      string
	PoolMin        int
	PoolMax        int
	ConnectTimeout time.Duration
	IdleTimeout    time.Duration
	QueryTimeout   time.Duration
	Charset        string
	Timezone       string
	SSL            bool
	SSLCa          string
	SSLCert        string
	SSLKey         string
	SSLSkipVerify  bool
	Replicas       []ReplicaConfig
}

type ReplicaConfig struct {
	Host string
	Port int
}

// ValidationLevel tunes which security pattern groups run.
type ValidationLevel string

const (
	ValidationStrict   ValidationLevel = "strict"
	ValidationModerate ValidationLevel = "moderate"
	ValidationBasic    ValidationLevel = "basic"
)

type SecurityConfig struct {
	MaxQueryLength  int
	MaxInputLength  int
	MaxResultRows   int
	AllowedQueries  []string
	RateLimitMax    int
	RateLimitWindow time.Duration
	ValidationLevel ValidationLevel
}

type CacheConfig struct {
	SchemaCacheSize      int
	TableExistsCacheSize int
	IndexCacheSize       int
	TTL                  time.Duration
	EnableQueryCache     bool
	QueryCacheSize       int
	QueryCacheTTL        time.Duration
	MaxQueryResultBytes  int
	EnableTiered         bool
	EnableTTLAdjustment  bool
}

type MemoryConfig struct {
	Interval            time.Duration
	HistorySize         int
	PressureThreshold   float64
	CacheClearThreshold float64
	AutoGC              bool
}

// Config is the immutable configuration snapshot. It is created once at
// startup and replaced wholesale by the Store on reload.
type Config struct {
	Database DatabaseConfig
	Security SecurityConfig
	Cache    CacheConfig
	Memory   MemoryConfig

	// StateDir holds the pool stats file and the event/alert logs.
	StateDir string
}

// knownVerbs is the full set the allow-list may mention.
var knownVerbs = map[string]bool{
	"SELECT": true, "INSERT": true, "UPDATE": true, "DELETE": true,
	"CREATE": true, "ALTER": true, "DROP": true, "TRUNCATE": true,
	"SHOW": true, "DESCRIBE": true, "EXPLAIN": true, "USE": true,
}

// Validate checks the snapshot. Any error here fails startup.
func (c *Config) Validate() error {
	d := &c.Database
	if d.Host == "" && d.Socket == "" {
		return errors.New("database: host or socket must be set")
	}
	if d.Socket == "" && (d.Port < 1 || d.Port > 65535) {
		return fmt.Errorf("database: invalid port %d", d.Port)
	}
	if d.User == "" {
		return errors.New("database: user must be set")
	}
	if d.AuthMethod == AuthAWSIAM && d.AWSRegion == "" {
		return errors.New("database: aws-iam auth requires a region")
	}
	if d.PoolMin < 1 || d.PoolMax < d.PoolMin {
		return fmt.Errorf("database: pool bounds %d..%d are invalid", d.PoolMin, d.PoolMax)
	}
	if d.ConnectTimeout <= 0 || d.QueryTimeout <= 0 {
		return errors.New("database: timeouts must be positive")
	}
	for _, r := range d.Replicas {
		if r.Host == "" || r.Port < 1 || r.Port > 65535 {
			return fmt.Errorf("database: invalid replica %s:%d", r.Host, r.Port)
		}
	}

	s := &c.Security
	if s.MaxQueryLength <= 0 || s.MaxInputLength <= 0 || s.MaxResultRows <= 0 {
		return errors.New("security: limits must be positive")
	}
	if len(s.AllowedQueries) == 0 {
		return errors.New("security: allowed query types must not be empty")
	}
	for _, verb := range s.AllowedQueries {
		if !knownVerbs[verb] {
			return fmt.Errorf("security: unknown query type %q in allow-list", verb)
		}
	}
	if s.RateLimitMax <= 0 || s.RateLimitWindow <= 0 {
		return errors.New("security: rate limit must be positive")
	}
	switch s.ValidationLevel {
	case ValidationStrict, ValidationModerate, ValidationBasic:
	default:
		return fmt.Errorf("security: unknown validation level %q", s.ValidationLevel)
	}

	ca := &c.Cache
	if ca.SchemaCacheSize <= 0 || ca.TableExistsCacheSize <= 0 || ca.IndexCacheSize <= 0 {
		return errors.New("cache: region sizes must be positive")
	}
	if ca.EnableQueryCache && (ca.QueryCacheSize <= 0 || ca.QueryCacheTTL <= 0) {
		return errors.New("cache: query cache size and ttl must be positive")
	}
	if ca.MaxQueryResultBytes <= 0 {
		return errors.New("cache: max query result size must be positive")
	}

	m := &c.Memory
	if m.Interval <= 0 || m.HistorySize <= 0 {
		return errors.New("memory: interval and history size must be positive")
	}
	if m.PressureThreshold <= 0 || m.PressureThreshold > 1 ||
		m.CacheClearThreshold <= 0 || m.CacheClearThreshold > 1 {
		return errors.New("memory: thresholds must be in (0,1]")
	}
	return nil
}

// Default returns a snapshot with the documented defaults. Sources overlay it.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:           "127.0.0.1",
			Port:           3306,
			AuthMethod:     AuthPassword,
			PoolMin:        2,
			PoolMax:        10,
			ConnectTimeout: 10 * time.Second,
			IdleTimeout:    5 * time.Minute,
			QueryTimeout:   30 * time.Second,
			Charset:        "utf8mb4",
			Timezone:       "UTC",
		},
		Security: SecurityConfig{
			MaxQueryLength:  10000,
			MaxInputLength:  1000,
			MaxResultRows:   1000,
			AllowedQueries:  []string{"SELECT", "SHOW", "DESCRIBE", "EXPLAIN"},
			RateLimitMax:    100,
			RateLimitWindow: time.Minute,
			ValidationLevel: ValidationModerate,
		},
		Cache: CacheConfig{
			SchemaCacheSize:      128,
			TableExistsCacheSize: 256,
			IndexCacheSize:       128,
			TTL:                  5 * time.Minute,
			EnableQueryCache:     true,
			QueryCacheSize:       512,
			QueryCacheTTL:        time.Minute,
			MaxQueryResultBytes:  1 << 20,
			EnableTiered:         true,
			EnableTTLAdjustment:  false,
		},
		Memory: MemoryConfig{
			Interval:            30 * time.Second,
			HistorySize:         100,
			PressureThreshold:   0.7,
			CacheClearThreshold: 0.85,
			AutoGC:              true,
		},
		StateDir: ".",
	}
}

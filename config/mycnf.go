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
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/rds/auth"
	"github.com/go-sql-driver/mysql"
	"gopkg.in/ini.v1"
)

// LoadMycnf overlays the [client] section of a my.cnf-style file onto c.
func LoadMycnf(path string, c *Config) error {
	opts := ini.LoadOptions{
		// MySQL ini files can have boolean keys.
		AllowBooleanKeys: true,
	}
	file, err := ini.LoadSources(opts, path)
	if err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	sec, err := file.GetSection("client")
	if err != nil {
		return fmt.Errorf("%s: no [client] section", path)
	}

	d := &c.Database
	if sec.HasKey("user") {
		d.User = sec.Key("user").String()
	}
	if sec.HasKey("password") {
		d.Password = Secret(sec.Key("password").String())
	}
	if sec.HasKey("host") {
		d.Host = sec.Key("host").String()
	}
	if sec.HasKey("port") {
		d.Port = sec.Key("port").MustInt(3306)
	}
	if sec.HasKey("socket") {
		d.Socket = sec.Key("socket").String()
	}
	if sec.HasKey("database") {
		d.Database = sec.Key("database").String()
	}
	if sec.HasKey("ssl-ca") {
		d.SSLCa = sec.Key("ssl-ca").String()
		d.SSL = true
	}
	if sec.HasKey("ssl-cert") {
		d.SSLCert = sec.Key("ssl-cert").String()
	}
	if sec.HasKey("ssl-key") {
		d.SSLKey = sec.Key("ssl-key").String()
	}
	if sec.HasKey("ssl-skip-verification") {
		d.SSLSkipVerify = sec.Key("ssl-skip-verification").MustBool(false)
	}
	return nil
}

const tlsConfigName = "gateway"

// FormDSN builds a driver DSN for the given server address. addr may be
// empty (primary from the snapshot), "host:port" (replica), or a unix
// socket path prefixed with "unix://".
func (d *DatabaseConfig) FormDSN(addr string) (string, error) {
	cfg := mysql.NewConfig()
	cfg.User = d.User
	cfg.Passwd = d.Password.Value()
	cfg.DBName = d.Database
	cfg.Net = "tcp"
	cfg.Timeout = d.ConnectTimeout
	cfg.ReadTimeout = d.QueryTimeout
	cfg.WriteTimeout = d.QueryTimeout
	// The gateway never allows stacked statements on the wire.
	cfg.MultiStatements = false
	cfg.InterpolateParams = false
	cfg.Params = map[string]string{
		"charset": d.Charset,
	}
	if d.Timezone != "" {
		cfg.Params["time_zone"] = fmt.Sprintf("'%s'", d.Timezone)
	}

	switch {
	case addr == "" && d.Socket != "":
		cfg.Net = "unix"
		cfg.Addr = d.Socket
	case addr == "":
		cfg.Addr = net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
	default:
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return "", fmt.Errorf("failed to parse address %q: %w", addr, err)
		}
		cfg.Addr = addr
	}

	if d.AuthMethod == AuthAWSIAM {
		token, err := d.iamToken(cfg.Addr)
		if err != nil {
			return "", err
		}
		cfg.Passwd = token
		cfg.AllowCleartextPasswords = true
		// IAM auth requires TLS on the wire.
		cfg.TLSConfig = "true"
	}

	if d.SSLSkipVerify {
		cfg.TLSConfig = "skip-verify"
	} else if d.SSLCa != "" {
		if err := d.registerTLS(); err != nil {
			return "", fmt.Errorf("failed to register a custom TLS configuration for mysql dsn: %w", err)
		}
		cfg.TLSConfig = tlsConfigName
	} else if d.SSL {
		cfg.TLSConfig = "preferred"
	}

	return cfg.FormatDSN(), nil
}

func (d *DatabaseConfig) registerTLS() error {
	pool := x509.NewCertPool()
	ca, err := os.ReadFile(d.SSLCa)
	if err != nil {
		return err
	}
	if !pool.AppendCertsFromPEM(ca) {
		return fmt.Errorf("failed to parse CA certificate %s", d.SSLCa)
	}
	tlsCfg := &tls.Config{RootCAs: pool}
	if d.SSLCert != "" && d.SSLKey != "" {
		cert, err := tls.LoadX509KeyPair(d.SSLCert, d.SSLKey)
		if err != nil {
			return err
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return mysql.RegisterTLSConfig(tlsConfigName, tlsCfg)
}

// iamToken builds a short-lived RDS IAM auth token used in place of a
// password. Tokens are valid for 15 minutes; the pool re-forms the DSN on
// reconnect, so no refresh loop is needed here.
func (d *DatabaseConfig) iamToken(addr string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(d.AWSRegion))
	if err != nil {
		return "", fmt.Errorf("loading AWS configuration: %w", err)
	}
	token, err := auth.BuildAuthToken(ctx, addr, d.AWSRegion, d.User, awsCfg.Credentials)
	if err != nil {
		return "", fmt.Errorf("building RDS auth token: %w", err)
	}
	return token, nil
}

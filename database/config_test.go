/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, TypeYugabyteDB, cfg.ConnectionConfig.Type)
	assert.Equal(t, YugabyteDBPort, cfg.ConnectionConfig.Port)
	assert.Equal(t, 3, cfg.TxConfig.MaxAttempts)
	assert.False(t, cfg.SchemaConfig.CreateOnStartup)
}

func TestNormalizeType(t *testing.T) {
	cases := map[string]string{
		"ysql":        TypeYugabyteDB,
		" YugaByte ":  TypeYugabyteDB,
		"postgresql":  TypePostgres,
		"pg":          TypePostgres,
		"sqlite3":     TypeSQLite,
		"MySQL":       TypeMySQL,
		"cockroachdb": "cockroachdb",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeType(in), in)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConnectionConfig()
	cfg.Type = "ysql"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, TypeYugabyteDB, cfg.Type)

	cfg = DefaultConnectionConfig()
	cfg.Type = "oracle"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConnectionConfig()
	cfg.Port = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConnectionConfig()
	cfg.Port = 70000
	assert.Error(t, cfg.Validate())

	cfg = DefaultConnectionConfig()
	cfg.SSLMode = "sometimes"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConnectionConfig()
	cfg.DBName = ""
	assert.Error(t, cfg.Validate())

	// sqlite needs neither host nor port
	lite := &ConnectionConfig{Type: "sqlite", DBName: ":memory:", SSLMode: "whatever"}
	assert.NoError(t, lite.Validate())

	full := DefaultConfig()
	full.TxConfig.MaxAttempts = -1
	assert.Error(t, full.Validate())
}

func TestDriverName(t *testing.T) {
	cases := map[string]string{
		TypeYugabyteDB: "postgres",
		TypePostgres:   "postgres",
		TypeMySQL:      "mysql",
		TypeSQLite:     sqliteshim.ShimName,
	}
	for typ, want := range cases {
		got, err := (&ConnectionConfig{Type: typ}).DriverName()
		require.NoError(t, err)
		assert.Equal(t, want, got, typ)
	}
	_, err := (&ConnectionConfig{Type: "oracle"}).DriverName()
	assert.Error(t, err)
}

func TestPostgresDSN(t *testing.T) {
	cfg := DefaultConnectionConfig()
	cfg.ApplicationName = "orders"
	dsn, err := cfg.DSN()
	require.NoError(t, err)
	assert.Equal(t, "postgres://yugabyte@127.0.0.1:5433/yugabyte?application_name=orders&connect_timeout=10&sslmode=disable", dsn)

	cfg = &ConnectionConfig{Type: TypeYugabyteDB, Host: "yb", Username: "app", Password: "p@ss", DBName: "shop"}
	dsn, err = cfg.DSN()
	require.NoError(t, err)
	assert.Equal(t, "postgres://app:p%40ss@yb:5433/shop?sslmode=disable", dsn)

	cfg = &ConnectionConfig{Type: TypePostgres, Host: "pg", Port: 5432, DBName: "shop", SSLMode: "require"}
	dsn, err = cfg.DSN()
	require.NoError(t, err)
	assert.Equal(t, "postgres://pg:5432/shop?sslmode=require", dsn)
}

func TestMySQLDSN(t *testing.T) {
	cfg := &ConnectionConfig{
		Type:           TypeMySQL,
		Host:           "db",
		Port:           3306,
		Username:       "root",
		Password:       "secret",
		DBName:         "shop",
		ConnectTimeout: 5 * time.Second,
	}
	dsn, err := cfg.DSN()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dsn, "root:secret@tcp(db:3306)/shop?"), dsn)
	assert.Contains(t, dsn, "charset=utf8mb4")
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "timeout=5s")
}

func TestSQLiteDSN(t *testing.T) {
	cases := map[string]string{
		":memory:":             "file::memory:?cache=shared",
		"file:test.db?mode=rw": "file:test.db?mode=rw",
		"/tmp/app.db":          "/tmp/app.db",
		"app":                  "app.db",
	}
	for name, want := range cases {
		dsn, err := (&ConnectionConfig{Type: TypeSQLite, DBName: name}).DSN()
		require.NoError(t, err)
		assert.Equal(t, want, dsn, name)
	}
	_, err := (&ConnectionConfig{Type: "oracle"}).DSN()
	assert.Error(t, err)
}

func TestNewDialect(t *testing.T) {
	cases := map[string]dialect.Name{
		"ysql":     dialect.PG,
		"postgres": dialect.PG,
		"mysql":    dialect.MySQL,
		"sqlite3":  dialect.SQLite,
	}
	for typ, want := range cases {
		d, err := NewDialect(typ)
		require.NoError(t, err)
		assert.Equal(t, want, d.Name(), typ)
	}
	_, err := NewDialect("oracle")
	assert.Error(t, err)
}

const configYAML = `
connection_config:
  type: ysql
  host: yb-tserver-0
  port: 5433
  dbname: orders
  application_name: orders-api
  slow_query_time: 500ms
  health_check_interval: 0s
schema_config:
  create_on_startup: true
tx_config:
  max_attempts: 5
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "database.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, configYAML))
	require.NoError(t, err)

	conn := cfg.ConnectionConfig
	assert.Equal(t, TypeYugabyteDB, conn.Type)
	assert.Equal(t, "yb-tserver-0", conn.Host)
	assert.Equal(t, "orders", conn.DBName)
	assert.Equal(t, "orders-api", conn.ApplicationName)
	assert.Equal(t, 500*time.Millisecond, conn.SlowQueryTime)
	assert.Zero(t, conn.HealthCheckInterval)
	// untouched keys keep their defaults
	assert.Equal(t, "yugabyte", conn.Username)
	assert.Equal(t, 100, conn.MaxOpenConns)
	assert.True(t, cfg.SchemaConfig.CreateOnStartup)
	assert.Equal(t, 5, cfg.TxConfig.MaxAttempts)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("DB_HOST", "yb-tserver-1")
	t.Setenv("DB_PORT", "15433")
	t.Setenv("DB_NAME", "billing")
	t.Setenv("DB_PASSWORD", "secret")

	cfg, err := LoadConfig(writeConfig(t, configYAML))
	require.NoError(t, err)
	assert.Equal(t, "yb-tserver-1", cfg.ConnectionConfig.Host)
	assert.Equal(t, 15433, cfg.ConnectionConfig.Port)
	assert.Equal(t, "billing", cfg.ConnectionConfig.DBName)
	assert.Equal(t, "secret", cfg.ConnectionConfig.Password)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "connection_config: [not, a, map]"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "connection_config:\n  type: oracle\n"))
	assert.Error(t, err)
}

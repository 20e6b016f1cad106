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
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-sql-driver/mysql"
	"github.com/uptrace/bun/driver/sqliteshim"
	"gopkg.in/yaml.v3"
)

// Supported values of ConnectionConfig.Type.
const (
	TypeYugabyteDB = "yugabytedb"
	TypePostgres   = "postgres"
	TypeMySQL      = "mysql"
	TypeSQLite     = "sqlite"
)

// YugabyteDBPort is the default YSQL port.
const YugabyteDBPort = 5433

var typeAliases = map[string]string{
	"yugabyte":   TypeYugabyteDB,
	"ysql":       TypeYugabyteDB,
	"postgresql": TypePostgres,
	"pg":         TypePostgres,
	"sqlite3":    TypeSQLite,
}

// NormalizeType maps aliases such as "ysql" or "sqlite3" to a supported type.
func NormalizeType(typ string) string {
	typ = strings.ToLower(strings.TrimSpace(typ))
	if canonical, ok := typeAliases[typ]; ok {
		return canonical
	}
	return typ
}

// HealthStatus holds the result of a health check against the database.
type HealthStatus struct {
	Healthy       bool          `json:"healthy"`
	Connected     bool          `json:"connected"`
	ResponseTime  time.Duration `json:"response_time"`
	ActiveConns   int           `json:"active_conns"`
	IdleConns     int           `json:"idle_conns"`
	MaxOpenConns  int           `json:"max_open_conns"`
	LastError     string        `json:"last_error,omitempty"`
	LastCheckTime time.Time     `json:"last_check_time"`
}

// DBStats mirrors database/sql stats returned by the manager.
type DBStats struct {
	MaxOpenConns      int           `json:"max_open_conns"`
	OpenConns         int           `json:"open_conns"`
	InUse             int           `json:"in_use"`
	Idle              int           `json:"idle"`
	WaitCount         int64         `json:"wait_count"`
	WaitDuration      time.Duration `json:"wait_duration"`
	MaxIdleClosed     int64         `json:"max_idle_closed"`
	MaxIdleTimeClosed int64         `json:"max_idle_time_closed"`
	MaxLifetimeClosed int64         `json:"max_lifetime_closed"`
}

// ConnectionConfig describes how to connect to a database and tune its pool.
type ConnectionConfig struct {
	Type                string        `json:"type" yaml:"type"` // yugabytedb, postgres, mysql, sqlite
	Host                string        `json:"host" yaml:"host"`
	Port                int           `json:"port" yaml:"port"`
	Username            string        `json:"username" yaml:"username"`
	Password            string        `json:"password" yaml:"password"`
	DBName              string        `json:"dbname" yaml:"dbname"`
	SSLMode             string        `json:"sslmode" yaml:"sslmode"`
	ApplicationName     string        `json:"application_name" yaml:"application_name"`
	MaxIdleConns        int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	MaxOpenConns        int           `json:"max_open_conns" yaml:"max_open_conns"`
	ConnMaxLifetime     time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime     time.Duration `json:"conn_max_idle_time" yaml:"conn_max_idle_time"`
	ConnectTimeout      time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
	ReadTimeout         time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout        time.Duration `json:"write_timeout" yaml:"write_timeout"`
	EnableReconnect     bool          `json:"enable_reconnect" yaml:"enable_reconnect"`
	ReconnectInterval   time.Duration `json:"reconnect_interval" yaml:"reconnect_interval"`
	MaxReconnectTries   int           `json:"max_reconnect_tries" yaml:"max_reconnect_tries"`
	HealthCheckInterval time.Duration `json:"health_check_interval" yaml:"health_check_interval"`
	EnableQueryLog      bool          `json:"enable_query_log" yaml:"enable_query_log"`
	ColorQueryLog       bool          `json:"color_query_log" yaml:"color_query_log"` // colored QueryHook instead of bundebug
	SlowQueryTime       time.Duration `json:"slow_query_time" yaml:"slow_query_time"`
	Charset             string        `json:"charset" yaml:"charset"` // MySQL only, utf8mb4 by default
}

// SchemaConfig controls table creation on startup.
type SchemaConfig struct {
	CreateOnStartup bool `json:"create_on_startup" yaml:"create_on_startup"`
}

// TxConfig bounds retries of transactions aborted by serialization conflicts.
type TxConfig struct {
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`
}

// Config aggregates connection, schema and transaction settings.
type Config struct {
	ConnectionConfig ConnectionConfig `json:"connection_config" yaml:"connection_config"`
	SchemaConfig     SchemaConfig     `json:"schema_config" yaml:"schema_config"`
	TxConfig         TxConfig         `json:"tx_config" yaml:"tx_config"`
}

// DefaultConnectionConfig returns settings for a local YugabyteDB node.
func DefaultConnectionConfig() *ConnectionConfig {
	return &ConnectionConfig{
		Type:                TypeYugabyteDB,
		Host:                "127.0.0.1",
		Port:                YugabyteDBPort,
		Username:            "yugabyte",
		DBName:              "yugabyte",
		SSLMode:             "disable",
		MaxIdleConns:        10,
		MaxOpenConns:        100,
		ConnMaxLifetime:     time.Hour,
		ConnMaxIdleTime:     time.Minute * 30,
		ConnectTimeout:      time.Second * 10,
		ReadTimeout:         time.Second * 30,
		WriteTimeout:        time.Second * 30,
		EnableReconnect:     true,
		ReconnectInterval:   time.Second * 5,
		MaxReconnectTries:   3,
		HealthCheckInterval: time.Minute * 5,
		EnableQueryLog:      false,
		SlowQueryTime:       time.Second * 2,
	}
}

// DefaultConfig returns DefaultConnectionConfig with three transaction attempts.
func DefaultConfig() *Config {
	return &Config{
		ConnectionConfig: *DefaultConnectionConfig(),
		TxConfig:         TxConfig{MaxAttempts: 3},
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig, applies DB_*
// environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	cfg.ConnectionConfig.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := c.ConnectionConfig.Validate(); err != nil {
		return err
	}
	return validation.ValidateStruct(&c.TxConfig,
		validation.Field(&c.TxConfig.MaxAttempts, validation.Min(0)),
	)
}

// Validate normalizes Type and checks the settings needed to connect.
func (c *ConnectionConfig) Validate() error {
	c.Type = NormalizeType(c.Type)
	network := c.Type != TypeSQLite
	err := validation.ValidateStruct(c,
		validation.Field(&c.Type, validation.Required,
			validation.In(TypeYugabyteDB, TypePostgres, TypeMySQL, TypeSQLite).Error("must be one of yugabytedb, postgres, mysql, sqlite")),
		validation.Field(&c.Host, validation.When(network, validation.Required)),
		validation.Field(&c.Port, validation.When(network, validation.Required, validation.Min(1), validation.Max(65535))),
		validation.Field(&c.DBName, validation.Required),
		validation.Field(&c.SSLMode, validation.When(c.Type == TypeYugabyteDB || c.Type == TypePostgres,
			validation.In("disable", "allow", "prefer", "require", "verify-ca", "verify-full"))),
		validation.Field(&c.MaxIdleConns, validation.Min(0)),
		validation.Field(&c.MaxOpenConns, validation.Min(0)),
		validation.Field(&c.MaxReconnectTries, validation.Min(0)),
	)
	if err != nil {
		return fmt.Errorf("invalid database configuration: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from DB_* environment variables.
func (c *ConnectionConfig) ApplyEnv() {
	if typ := os.Getenv("DB_TYPE"); typ != "" {
		c.Type = typ
	}
	if host := os.Getenv("DB_HOST"); host != "" {
		c.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Port = p
		}
	}
	if username := os.Getenv("DB_USERNAME"); username != "" {
		c.Username = username
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		c.Password = password
	}
	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		c.DBName = dbname
	}
	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		c.SSLMode = sslmode
	}
	if maxIdle := os.Getenv("DB_MAX_IDLE_CONNS"); maxIdle != "" {
		if val, err := strconv.Atoi(maxIdle); err == nil {
			c.MaxIdleConns = val
		}
	}
	if maxOpen := os.Getenv("DB_MAX_OPEN_CONNS"); maxOpen != "" {
		if val, err := strconv.Atoi(maxOpen); err == nil {
			c.MaxOpenConns = val
		}
	}
	if maxLifetime := os.Getenv("DB_CONN_MAX_LIFETIME"); maxLifetime != "" {
		if val, err := strconv.Atoi(maxLifetime); err == nil {
			c.ConnMaxLifetime = time.Duration(val) * time.Second
		}
	}
	if enableReconnect := os.Getenv("DB_ENABLE_RECONNECT"); enableReconnect != "" {
		c.EnableReconnect = enableReconnect == "true"
	}
	if reconnectInterval := os.Getenv("DB_RECONNECT_INTERVAL"); reconnectInterval != "" {
		if val, err := strconv.Atoi(reconnectInterval); err == nil {
			c.ReconnectInterval = time.Duration(val) * time.Second
		}
	}
	if enableQueryLog := os.Getenv("DB_ENABLE_QUERY_LOG"); enableQueryLog != "" {
		c.EnableQueryLog = enableQueryLog == "true"
	}
	if colorQueryLog := os.Getenv("DB_COLOR_QUERY_LOG"); colorQueryLog != "" {
		c.ColorQueryLog = colorQueryLog == "true"
	}
}

// DriverName returns the database/sql driver registered for the type.
func (c *ConnectionConfig) DriverName() (string, error) {
	switch NormalizeType(c.Type) {
	case TypeYugabyteDB, TypePostgres:
		return "postgres", nil
	case TypeMySQL:
		return "mysql", nil
	case TypeSQLite:
		return sqliteshim.ShimName, nil
	default:
		return "", fmt.Errorf("unsupported database type: %s", c.Type)
	}
}

// DSN renders the connection string for the configured driver.
func (c *ConnectionConfig) DSN() (string, error) {
	switch NormalizeType(c.Type) {
	case TypeYugabyteDB, TypePostgres:
		return c.postgresDSN(), nil
	case TypeMySQL:
		return c.mysqlDSN(), nil
	case TypeSQLite:
		return c.sqliteDSN(), nil
	default:
		return "", fmt.Errorf("unsupported database type: %s", c.Type)
	}
}

func (c *ConnectionConfig) postgresDSN() string {
	port := c.Port
	if port == 0 && NormalizeType(c.Type) == TypeYugabyteDB {
		port = YugabyteDBPort
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	q := url.Values{}
	q.Set("sslmode", sslMode)
	if c.ConnectTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(c.ConnectTimeout.Seconds())))
	}
	if c.ApplicationName != "" {
		q.Set("application_name", c.ApplicationName)
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(port)),
		Path:     "/" + c.DBName,
		RawQuery: q.Encode(),
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	} else if c.Username != "" {
		u.User = url.User(c.Username)
	}
	return u.String()
}

func (c *ConnectionConfig) mysqlDSN() string {
	charset := c.Charset
	if charset == "" {
		charset = "utf8mb4"
	}
	mc := mysql.NewConfig()
	mc.User = c.Username
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	mc.DBName = c.DBName
	mc.ParseTime = true
	mc.Loc = time.Local
	mc.Timeout = c.ConnectTimeout
	mc.ReadTimeout = c.ReadTimeout
	mc.WriteTimeout = c.WriteTimeout
	mc.Params = map[string]string{"charset": charset}
	return mc.FormatDSN()
}

func (c *ConnectionConfig) sqliteDSN() string {
	switch {
	case c.DBName == ":memory:":
		return "file::memory:?cache=shared"
	case strings.HasPrefix(c.DBName, "file:"), strings.HasSuffix(c.DBName, ".db"):
		return c.DBName
	default:
		return c.DBName + ".db"
	}
}

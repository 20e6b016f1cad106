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
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/extra/bundebug"

	"github.com/tomoncle/hummer-ysql/mapping"
)

// ErrNotConnected is returned by operations that need an open pool.
var ErrNotConnected = errors.New("database not connected")

// AbstractDatabaseManager owns one connection pool and reports its health.
type AbstractDatabaseManager interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Reconnect(ctx context.Context) error
	Ping(ctx context.Context) error
	HealthCheck(ctx context.Context) *HealthStatus
	GetDB() *bun.DB
	GetSQLDB() *sql.DB
	GetStats() *DBStats
	// CreateSchema creates the missing tables of the entities in mc. It is
	// safe to call on every startup.
	CreateSchema(ctx context.Context, mc *mapping.Context) error
	SetLogger(logger Logger)
}

// pool pairs a database/sql handle with the bun DB wrapping it.
type pool struct {
	sql *sql.DB
	bun *bun.DB
}

// poolManager keeps a single pool for a ConnectionConfig. When
// HealthCheckInterval is set a monitor pings the pool and, with
// EnableReconnect, reopens it after failures. YSQL tservers restart during
// rolling upgrades, so a dropped pool is expected rather than fatal.
type poolManager struct {
	config *ConnectionConfig

	mu      sync.RWMutex
	pool    *pool
	logger  Logger
	monitor context.CancelFunc
}

// NewDatabaseManager returns a manager for config, or for
// DefaultConnectionConfig when config is nil.
func NewDatabaseManager(config *ConnectionConfig) AbstractDatabaseManager {
	if config == nil {
		config = DefaultConnectionConfig()
	}
	return &poolManager{config: config}
}

func (m *poolManager) log() Logger {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.logger
}

func (m *poolManager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pool != nil {
		return nil
	}

	p, err := m.open(ctx)
	if err != nil {
		return err
	}
	m.pool = p

	if m.config.HealthCheckInterval > 0 {
		monitorCtx, cancel := context.WithCancel(context.Background())
		m.monitor = cancel
		go m.watch(monitorCtx, m.config.HealthCheckInterval)
	}
	if m.logger != nil {
		m.logger.Info("Database connected successfully",
			"type", m.config.Type, "host", m.config.Host, "dbname", m.config.DBName)
	}
	return nil
}

// open builds and verifies a pool. The pool is closed again when the first
// ping fails.
func (m *poolManager) open(ctx context.Context) (*pool, error) {
	driver, err := m.config.DriverName()
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}
	dsn, err := m.config.DSN()
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}
	dialect, err := NewDialect(m.config.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}
	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	sqlDB.SetMaxIdleConns(m.config.MaxIdleConns)
	sqlDB.SetMaxOpenConns(m.config.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(m.config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(m.config.ConnMaxIdleTime)

	db := bun.NewDB(sqlDB, dialect)
	for _, hook := range m.queryHooks() {
		db.AddQueryHook(hook)
	}

	timeout := m.config.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database connection test failed: %w", err)
	}
	return &pool{sql: sqlDB, bun: db}, nil
}

func (m *poolManager) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeLocked()
}

func (m *poolManager) closeLocked() error {
	if m.monitor != nil {
		m.monitor()
		m.monitor = nil
	}
	if m.pool == nil {
		return nil
	}
	err := m.pool.bun.Close()
	m.pool = nil

	if m.logger != nil {
		if err != nil {
			m.logger.Error("Failed to close database connection", "error", err)
		} else {
			m.logger.Info("Database connection closed")
		}
	}
	return err
}

func (m *poolManager) Reconnect(ctx context.Context) error {
	if l := m.log(); l != nil {
		l.Info("Attempting to reconnect to the database")
	}
	if err := m.Disconnect(); err != nil {
		if l := m.log(); l != nil {
			l.Warn("Error disconnecting existing connection", "error", err)
		}
	}
	return m.Connect(ctx)
}

// watch runs health checks until ctx is cancelled.
func (m *poolManager) watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		status := m.HealthCheck(checkCtx)
		cancel()
		if status.Healthy || !m.config.EnableReconnect {
			continue
		}
		// Reconnect replaces this monitor with a fresh one on success.
		if m.recover(ctx) {
			return
		}
	}
}

// recover retries Reconnect up to MaxReconnectTries times.
func (m *poolManager) recover(ctx context.Context) bool {
	for try := 1; try <= m.config.MaxReconnectTries; try++ {
		if l := m.log(); l != nil {
			l.Info("Starting database reconnect", "try", try)
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(m.config.ReconnectInterval):
		}
		timeout := m.config.ConnectTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		reconnectCtx, cancel := context.WithTimeout(context.Background(), timeout)
		err := m.Reconnect(reconnectCtx)
		cancel()
		if err == nil {
			if l := m.log(); l != nil {
				l.Info("Reconnect succeeded", "try", try)
			}
			return true
		}
		if l := m.log(); l != nil {
			l.Error("Reconnect failed", "error", err, "try", try)
		}
	}
	if l := m.log(); l != nil {
		l.Error("Max reconnect attempts reached, stopping", "tries", m.config.MaxReconnectTries)
	}
	return false
}

func (m *poolManager) current() *pool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pool
}

func (m *poolManager) Ping(ctx context.Context) error {
	p := m.current()
	if p == nil {
		return ErrNotConnected
	}
	return p.bun.PingContext(ctx)
}

func (m *poolManager) GetDB() *bun.DB {
	if p := m.current(); p != nil {
		return p.bun
	}
	return nil
}

func (m *poolManager) GetSQLDB() *sql.DB {
	if p := m.current(); p != nil {
		return p.sql
	}
	return nil
}

func (m *poolManager) HealthCheck(ctx context.Context) *HealthStatus {
	p := m.current()
	start := time.Now()
	if p == nil {
		return &HealthStatus{LastCheckTime: start, LastError: "Database not initialized"}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := p.bun.PingContext(pingCtx)

	stats := p.sql.Stats()
	status := &HealthStatus{
		LastCheckTime: start,
		ResponseTime:  time.Since(start),
		Healthy:       err == nil,
		Connected:     err == nil,
		ActiveConns:   stats.InUse,
		IdleConns:     stats.Idle,
		MaxOpenConns:  stats.MaxOpenConnections,
	}
	if err != nil {
		status.LastError = err.Error()
	}
	return status
}

func (m *poolManager) GetStats() *DBStats {
	p := m.current()
	if p == nil {
		return &DBStats{}
	}
	return statsOf(p.sql.Stats())
}

func statsOf(s sql.DBStats) *DBStats {
	return &DBStats{
		MaxOpenConns:      s.MaxOpenConnections,
		OpenConns:         s.OpenConnections,
		InUse:             s.InUse,
		Idle:              s.Idle,
		WaitCount:         s.WaitCount,
		WaitDuration:      s.WaitDuration,
		MaxIdleClosed:     s.MaxIdleClosed,
		MaxIdleTimeClosed: s.MaxIdleTimeClosed,
		MaxLifetimeClosed: s.MaxLifetimeClosed,
	}
}

// queryHooks returns the hooks installed on every new pool. BUNDEBUG
// overrides EnableQueryLog for either query log.
func (m *poolManager) queryHooks() []bun.QueryHook {
	var hooks []bun.QueryHook
	switch {
	case m.config.EnableQueryLog && m.config.ColorQueryLog:
		hooks = append(hooks, NewQueryHook("BUNDEBUG", true, true, nil))
	case m.config.EnableQueryLog:
		hooks = append(hooks, bundebug.NewQueryHook(bundebug.WithVerbose(true), bundebug.FromEnv("BUNDEBUG")))
	}
	if m.config.SlowQueryTime > 0 {
		hooks = append(hooks, NewSlowQueryHook(m.config.SlowQueryTime, m.logger, nil))
	}
	return hooks
}

func (m *poolManager) CreateSchema(ctx context.Context, mc *mapping.Context) error {
	db := m.GetDB()
	if db == nil {
		return ErrNotConnected
	}
	if err := SyncSchema(ctx, db, mc); err != nil {
		return err
	}
	m.log().Info("Schema synchronized", "tables", len(mc.PersistentEntities()))
	return nil
}

func (m *poolManager) SetLogger(logger Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = logger
}

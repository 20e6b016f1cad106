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
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/tomoncle/hummer-ysql/mapping"
)

// BaseDatabaseFactory opens one managed database from a Config and exposes
// its handle, health and statistics.
type BaseDatabaseFactory struct {
	manager AbstractDatabaseManager
	logger  Logger
}

// NewDatabaseFactory returns a factory logging to logger, or to the package
// logger when logger is nil.
func NewDatabaseFactory(logger Logger) *BaseDatabaseFactory {
	if logger == nil {
		logger = GetLogger()
	}
	return &BaseDatabaseFactory{logger: logger}
}

// Open applies DB_* overrides to cfg, validates it and connects. The tables
// of mc are created when cfg.SchemaConfig.CreateOnStartup is set. A factory
// opens at most one database.
func (f *BaseDatabaseFactory) Open(ctx context.Context, cfg *Config, mc *mapping.Context) (*bun.DB, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration cannot be empty")
	}
	if f.manager != nil {
		return nil, fmt.Errorf("database factory already opened")
	}
	cfg.ConnectionConfig.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	manager := NewDatabaseManager(&cfg.ConnectionConfig)
	manager.SetLogger(f.logger)
	if err := manager.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if cfg.SchemaConfig.CreateOnStartup && mc != nil {
		if err := manager.CreateSchema(ctx, mc); err != nil {
			_ = manager.Disconnect()
			return nil, fmt.Errorf("failed to create database schema: %w", err)
		}
	}
	f.manager = manager
	f.logger.Info("Database initialization completed!", "type", cfg.ConnectionConfig.Type)
	return manager.GetDB(), nil
}

// Migrate applies the versioned migrations not yet recorded in the opened
// database.
func (f *BaseDatabaseFactory) Migrate(ctx context.Context, migrations ...MigrationItem) error {
	db := f.GetDB()
	if db == nil {
		return ErrNotConnected
	}
	return NewMigrationManager(db, f.logger).RunMigrations(ctx, migrations...)
}

func (f *BaseDatabaseFactory) GetManager() AbstractDatabaseManager { return f.manager }

// GetDB returns the opened database, or nil before Open.
func (f *BaseDatabaseFactory) GetDB() *bun.DB {
	if f.manager == nil {
		return nil
	}
	return f.manager.GetDB()
}

func (f *BaseDatabaseFactory) Close() error {
	if f.manager == nil {
		return nil
	}
	return f.manager.Disconnect()
}

func (f *BaseDatabaseFactory) GetHealthStatus(ctx context.Context) *HealthStatus {
	if f.manager == nil {
		return &HealthStatus{LastError: "Database manager not initialized", LastCheckTime: time.Now()}
	}
	return f.manager.HealthCheck(ctx)
}

func (f *BaseDatabaseFactory) GetStats() *DBStats {
	if f.manager == nil {
		return &DBStats{}
	}
	return f.manager.GetStats()
}

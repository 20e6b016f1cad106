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
	"os"
	"sort"
	"time"

	"github.com/uptrace/bun"

	"github.com/tomoncle/hummer-ysql/mapping"
)

// Migration is an applied migration record.
type Migration struct {
	bun.BaseModel `bun:"table:schema_migrations"`

	Version     string    `bun:"version,pk"`
	Name        string    `bun:"name"`
	AppliedAt   time.Time `bun:"applied_at"`
	Description string    `bun:"description"`
}

// MigrationFunc is a migration step executed within a transaction.
type MigrationFunc func(ctx context.Context, db bun.IDB) error

// MigrationItem describes a single migration version.
type MigrationItem struct {
	Version     string
	Name        string
	Description string
	Up          MigrationFunc
}

// MigrationManager applies migrations once each, recording them in
// schema_migrations.
type MigrationManager struct {
	db     *bun.DB
	logger Logger
}

func NewMigrationManager(db *bun.DB, logger Logger) *MigrationManager {
	return &MigrationManager{db: db, logger: logger}
}

// RunMigrations applies the migrations not yet recorded, in ascending
// version order. Each migration runs in its own transaction.
func (mm *MigrationManager) RunMigrations(ctx context.Context, migrations ...MigrationItem) error {
	if mm.db == nil {
		return fmt.Errorf("database not initialized")
	}
	defer quiet()()

	if _, err := mm.db.NewCreateTable().Model((*Migration)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	sorted := append([]MigrationItem(nil), migrations...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Version < sorted[j].Version
	})
	for _, migration := range sorted {
		if err := mm.runMigration(ctx, migration); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", migration.Version, err)
		}
	}
	return nil
}

func (mm *MigrationManager) runMigration(ctx context.Context, migration MigrationItem) error {
	exists, err := mm.db.NewSelect().
		Model((*Migration)(nil)).
		Where("version = ?", migration.Version).
		Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	err = mm.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if migration.Up != nil {
			if err := migration.Up(ctx, tx); err != nil {
				return err
			}
		}
		_, err := tx.NewInsert().
			Model(&Migration{
				Version:     migration.Version,
				Name:        migration.Name,
				AppliedAt:   time.Now(),
				Description: migration.Description,
			}).
			Exec(ctx)
		return err
	})
	if err != nil {
		return err
	}
	if mm.logger != nil {
		mm.logger.Info("Migration executed successfully", "version", migration.Version, "name", migration.Name)
	}
	return nil
}

// AppliedMigrations returns the recorded migrations ordered by version.
func (mm *MigrationManager) AppliedMigrations(ctx context.Context) ([]Migration, error) {
	var applied []Migration
	err := mm.db.NewSelect().Model(&applied).Order("version ASC").Scan(ctx)
	return applied, err
}

// SyncSchema creates the missing tables of mc in one transaction. It runs
// on every startup, so aggregates added after the first deployment get their
// tables too. Versioned changes to existing tables belong in migrations.
func SyncSchema(ctx context.Context, db *bun.DB, mc *mapping.Context) error {
	if mc == nil {
		return fmt.Errorf("mapping context cannot be nil")
	}
	defer quiet()()
	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return CreateSchema(ctx, tx, mc)
	})
}

// quiet silences the query hooks unless BUNDEBUG_MIGRATION is set and returns
// the function restoring them.
func quiet() func() {
	if _, ok := os.LookupEnv("BUNDEBUG_MIGRATION"); ok {
		return func() {}
	}
	EnableBunSqlSilent(true)
	return func() { EnableBunSqlSilent(false) }
}

// CreateSchema creates the table of every entity in mc that does not exist yet.
func CreateSchema(ctx context.Context, db bun.IDB, mc *mapping.Context) error {
	if mc == nil {
		return fmt.Errorf("mapping context cannot be nil")
	}
	for _, entity := range mc.PersistentEntities() {
		_, err := db.NewCreateTable().
			Model(entity.NewInstance()).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create table %s: %w", entity.TableName(), err)
		}
	}
	return nil
}

// DropSchema drops the table of every entity in mc.
func DropSchema(ctx context.Context, db bun.IDB, mc *mapping.Context) error {
	if mc == nil {
		return fmt.Errorf("mapping context cannot be nil")
	}
	for _, entity := range mc.PersistentEntities() {
		_, err := db.NewDropTable().
			Model(entity.NewInstance()).
			IfExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to drop table %s: %w", entity.TableName(), err)
		}
	}
	return nil
}

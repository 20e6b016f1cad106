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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/extra/bundebug"

	"github.com/tomoncle/hummer-ysql/mapping"
)

type Widget struct {
	bun.BaseModel `bun:"table:widgets"`

	ID   int64  `bun:"id,pk,autoincrement"`
	Name string `bun:"name,notnull"`
}

func sqliteConfig(t *testing.T) *ConnectionConfig {
	t.Helper()
	return &ConnectionConfig{
		Type:         TypeSQLite,
		DBName:       filepath.Join(t.TempDir(), "widgets.db"),
		MaxIdleConns: 2,
		MaxOpenConns: 4,
	}
}

func widgetContext(t *testing.T) *mapping.Context {
	t.Helper()
	mc := mapping.NewContext(sqlitedialect.New())
	require.NoError(t, mc.Register(&Widget{}))
	return mc
}

func TestManagerLifecycle(t *testing.T) {
	ctx := context.Background()
	logger := &recordingLogger{}
	dm := NewDatabaseManager(sqliteConfig(t))
	dm.SetLogger(logger)

	assert.Error(t, dm.Ping(ctx))
	assert.Equal(t, "Database not initialized", dm.HealthCheck(ctx).LastError)
	assert.Equal(t, &DBStats{}, dm.GetStats())

	require.NoError(t, dm.Connect(ctx))
	require.NoError(t, dm.Connect(ctx))
	assert.NotNil(t, dm.GetDB())
	assert.NotNil(t, dm.GetSQLDB())
	require.NoError(t, dm.Ping(ctx))

	status := dm.HealthCheck(ctx)
	assert.True(t, status.Healthy)
	assert.True(t, status.Connected)
	assert.Equal(t, 4, status.MaxOpenConns)
	assert.Equal(t, 4, dm.GetStats().MaxOpenConns)

	require.NoError(t, dm.Reconnect(ctx))
	require.NoError(t, dm.Ping(ctx))

	require.NoError(t, dm.Disconnect())
	require.NoError(t, dm.Disconnect())
	assert.Nil(t, dm.GetDB())
	assert.Error(t, dm.Ping(ctx))
	assert.Contains(t, logger.Lines(), "INFO Database connection closed")
}

func TestManagerConnectFailure(t *testing.T) {
	dm := NewDatabaseManager(&ConnectionConfig{Type: "oracle", DBName: "x"})
	assert.Error(t, dm.Connect(context.Background()))
	assert.Nil(t, dm.GetDB())
}

type Gadget struct {
	bun.BaseModel `bun:"table:gadgets"`

	ID    int64  `bun:"id,pk,autoincrement"`
	Label string `bun:"label"`
}

func TestManagerCreateSchema(t *testing.T) {
	ctx := context.Background()
	cfg := sqliteConfig(t)
	mc := widgetContext(t)
	dm := NewDatabaseManager(cfg)
	assert.ErrorIs(t, dm.CreateSchema(ctx, mc), ErrNotConnected)

	require.NoError(t, dm.Connect(ctx))
	require.NoError(t, dm.CreateSchema(ctx, mc))
	require.NoError(t, dm.CreateSchema(ctx, mc))
	assert.Error(t, dm.CreateSchema(ctx, nil))

	_, err := dm.GetDB().NewInsert().Model(&Widget{Name: "sprocket"}).Exec(ctx)
	require.NoError(t, err)
	require.NoError(t, dm.Disconnect())

	// A later release maps one more aggregate against the same database.
	grown := widgetContext(t)
	require.NoError(t, grown.Register(&Gadget{}))
	restarted := NewDatabaseManager(cfg)
	require.NoError(t, restarted.Connect(ctx))
	t.Cleanup(func() { _ = restarted.Disconnect() })
	require.NoError(t, restarted.CreateSchema(ctx, grown))

	db := restarted.GetDB()
	widgets, err := db.NewSelect().Model((*Widget)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, widgets)

	_, err = db.NewInsert().Model(&Gadget{Label: "lever"}).Exec(ctx)
	require.NoError(t, err)
	gadgets, err := db.NewSelect().Model((*Gadget)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, gadgets)
}

func TestRunMigrationsInOrder(t *testing.T) {
	ctx := context.Background()
	dm := NewDatabaseManager(sqliteConfig(t))
	require.NoError(t, dm.Connect(ctx))
	t.Cleanup(func() { _ = dm.Disconnect() })

	var order []string
	step := func(version string) MigrationItem {
		return MigrationItem{
			Version: version,
			Name:    "step_" + version,
			Up: func(ctx context.Context, db bun.IDB) error {
				order = append(order, version)
				return nil
			},
		}
	}
	mm := NewMigrationManager(dm.GetDB(), nil)
	require.NoError(t, mm.RunMigrations(ctx, step("002"), step("001")))
	require.NoError(t, mm.RunMigrations(ctx, step("003"), step("001")))
	assert.Equal(t, []string{"001", "002", "003"}, order)

	failing := MigrationItem{Version: "004", Up: func(ctx context.Context, db bun.IDB) error {
		_, err := db.NewRaw("SELECT * FROM missing_table").Exec(ctx)
		return err
	}}
	assert.Error(t, mm.RunMigrations(ctx, failing))

	applied, err := mm.AppliedMigrations(ctx)
	require.NoError(t, err)
	assert.Len(t, applied, 3)

	assert.Error(t, NewMigrationManager(nil, nil).RunMigrations(ctx))
}

func TestCreateAndDropSchema(t *testing.T) {
	ctx := context.Background()
	mc := widgetContext(t)
	dm := NewDatabaseManager(sqliteConfig(t))
	require.NoError(t, dm.Connect(ctx))
	t.Cleanup(func() { _ = dm.Disconnect() })
	db := dm.GetDB()

	assert.Error(t, CreateSchema(ctx, db, nil))
	assert.Error(t, DropSchema(ctx, db, nil))

	require.NoError(t, CreateSchema(ctx, db, mc))
	_, err := db.NewInsert().Model(&Widget{Name: "gear"}).Exec(ctx)
	require.NoError(t, err)

	require.NoError(t, DropSchema(ctx, db, mc))
	_, err = db.NewInsert().Model(&Widget{Name: "gear"}).Exec(ctx)
	is, code := IsSqlError(err)
	assert.True(t, is)
	assert.Equal(t, NoTableErr, code)
}

func TestGlobalDatabase(t *testing.T) {
	t.Cleanup(func() { _ = CloseDB() })
	assert.Nil(t, GetDB())
	assert.Equal(t, "Database not initialized", GetHealthStatus(context.Background()).LastError)

	_, err := InitDB(nil, nil)
	assert.Error(t, err)
	_, err = InitDB(&Config{ConnectionConfig: ConnectionConfig{Type: "oracle"}}, nil)
	assert.Error(t, err)

	cfg := &Config{
		ConnectionConfig: *sqliteConfig(t),
		SchemaConfig:     SchemaConfig{CreateOnStartup: true},
	}
	db, err := InitDB(cfg, widgetContext(t))
	require.NoError(t, err)
	assert.Same(t, db, GetDB())
	assert.Same(t, cfg, GetConfig())
	assert.NotNil(t, GetDatabaseManager())
	assert.True(t, GetHealthStatus(context.Background()).Healthy)
	assert.Equal(t, 4, GetDatabaseStats().MaxOpenConns)

	_, err = db.NewInsert().Model(&Widget{Name: "bolt"}).Exec(context.Background())
	require.NoError(t, err)

	require.NoError(t, CloseDB())
	assert.Nil(t, GetDB())
	assert.Nil(t, GetConfig())
	assert.Nil(t, GetDatabaseManager())
}

func TestDatabaseFactory(t *testing.T) {
	ctx := context.Background()
	logger := &recordingLogger{}
	f := NewDatabaseFactory(logger)
	assert.Nil(t, f.GetDB())
	assert.Nil(t, f.GetManager())
	assert.ErrorIs(t, f.Migrate(ctx), ErrNotConnected)
	assert.Equal(t, "Database manager not initialized", f.GetHealthStatus(ctx).LastError)
	assert.Equal(t, &DBStats{}, f.GetStats())
	assert.NoError(t, f.Close())

	_, err := f.Open(ctx, nil, nil)
	assert.Error(t, err)

	cfg := &Config{ConnectionConfig: *sqliteConfig(t)}
	db, err := f.Open(ctx, cfg, widgetContext(t))
	require.NoError(t, err)
	assert.Same(t, db, f.GetDB())
	// CreateOnStartup is off, so no table was created
	_, err = db.NewInsert().Model(&Widget{Name: "nut"}).Exec(ctx)
	assert.Error(t, err)

	_, err = f.Open(ctx, cfg, nil)
	assert.Error(t, err)
	assert.True(t, f.GetHealthStatus(ctx).Healthy)
	assert.Contains(t, logger.Lines(), "INFO Database initialization completed! type=sqlite")

	mc := widgetContext(t)
	widgets := MigrationItem{
		Version: "001",
		Name:    "create_widgets",
		Up: func(ctx context.Context, db bun.IDB) error {
			return CreateSchema(ctx, db, mc)
		},
	}
	require.NoError(t, f.Migrate(ctx, widgets))
	require.NoError(t, f.Migrate(ctx, widgets))
	_, err = db.NewInsert().Model(&Widget{Name: "nut"}).Exec(ctx)
	require.NoError(t, err)
	assert.Contains(t, logger.Lines(), "INFO Migration executed successfully version=001 name=create_widgets")

	require.NoError(t, f.Close())
	assert.Nil(t, f.GetDB())
}

func TestQueryHooksFollowConfig(t *testing.T) {
	m := &poolManager{config: &ConnectionConfig{}}
	assert.Empty(t, m.queryHooks())

	m.config = &ConnectionConfig{EnableQueryLog: true, SlowQueryTime: time.Second}
	hooks := m.queryHooks()
	require.Len(t, hooks, 2)
	assert.IsType(t, &bundebug.QueryHook{}, hooks[0])
	assert.IsType(t, &SlowQueryHook{}, hooks[1])

	t.Setenv("DB_COLOR_QUERY_LOG", "true")
	m.config.ApplyEnv()
	assert.True(t, m.config.ColorQueryLog)
	hooks = m.queryHooks()
	require.Len(t, hooks, 2)
	assert.IsType(t, &QueryHook{}, hooks[0])

	m.config.EnableQueryLog = false
	hooks = m.queryHooks()
	require.Len(t, hooks, 1)
	assert.IsType(t, &SlowQueryHook{}, hooks[0])

	cfg := sqliteConfig(t)
	cfg.EnableQueryLog, cfg.ColorQueryLog = true, true
	t.Setenv("BUNDEBUG", "0")
	dm := NewDatabaseManager(cfg)
	require.NoError(t, dm.Connect(context.Background()))
	t.Cleanup(func() { _ = dm.Disconnect() })
	require.NoError(t, dm.Ping(context.Background()))
}

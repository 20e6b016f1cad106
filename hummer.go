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

// Package hummer wires YSQL repositories together: a mapping context for the
// registered aggregates, a bun data access strategy and a repository factory,
// plus a Service facade over the resulting typed repositories.
package hummer

import (
	"fmt"

	"github.com/uptrace/bun"

	"github.com/tomoncle/hummer-ysql/access"
	"github.com/tomoncle/hummer-ysql/convert"
	"github.com/tomoncle/hummer-ysql/database"
	"github.com/tomoncle/hummer-ysql/event"
	"github.com/tomoncle/hummer-ysql/mapping"
	"github.com/tomoncle/hummer-ysql/repository"
)

// NewFactory builds a repository factory for models on db. A nil publisher
// discards lifecycle events.
func NewFactory(db *bun.DB, publisher event.Publisher, models ...any) (*repository.Factory, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: nil database", repository.ErrInvalidConfiguration)
	}
	mc := mapping.NewContext(db.Dialect())
	if err := mc.Register(models...); err != nil {
		return nil, err
	}
	return newFactory(db, publisher, mc)
}

func newFactory(db *bun.DB, publisher event.Publisher, mc *mapping.Context) (*repository.Factory, error) {
	if publisher == nil {
		publisher = event.NopPublisher{}
	}
	strategy, err := access.NewStrategy(db)
	if err != nil {
		return nil, err
	}
	return repository.NewFactory(strategy, mc, convert.NewConverter(), db.Dialect(), publisher, db)
}

// Open connects the global database described by cfg, creating the tables of
// models when cfg.SchemaConfig.CreateOnStartup is set, and returns a factory
// for them. The tables and the repositories share one mapping context.
func Open(cfg *database.Config, publisher event.Publisher, models ...any) (*repository.Factory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration cannot be empty")
	}
	cfg.ConnectionConfig.ApplyEnv()
	dialect, err := database.NewDialect(cfg.ConnectionConfig.Type)
	if err != nil {
		return nil, err
	}
	mc := mapping.NewContext(dialect)
	if err := mc.Register(models...); err != nil {
		return nil, err
	}
	db, err := database.InitDB(cfg, mc)
	if err != nil {
		return nil, err
	}
	factory, err := newFactory(db, publisher, mc)
	if err != nil {
		return nil, err
	}
	if cfg.TxConfig.MaxAttempts > 0 {
		factory.SetTxAttempts(cfg.TxConfig.MaxAttempts)
	}
	return factory, nil
}

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

package repository

import (
	"context"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"

	"github.com/tomoncle/hummer-ysql/mapping"
	"github.com/tomoncle/hummer-ysql/types"
)

// CrudRepository defines the basic operations on aggregates of type T.
type CrudRepository[T any] interface {
	// Save inserts entity when its id is unset and updates it otherwise.
	Save(ctx context.Context, entity *T) (*T, error)

	SaveAll(ctx context.Context, entities ...*T) ([]*T, error)

	// Update fails with core.ErrIncorrectUpdateSemantics when no row has
	// the entity's id.
	Update(ctx context.Context, entity *T) (*T, error)

	// FindByID returns core.ErrEntityNotFound when no row has the id.
	FindByID(ctx context.Context, id any) (*T, error)

	ExistsByID(ctx context.Context, id any) (bool, error)

	FindAll(ctx context.Context) ([]*T, error)

	FindAllByID(ctx context.Context, ids ...any) ([]*T, error)

	Count(ctx context.Context) (int64, error)

	DeleteByID(ctx context.Context, id any) error

	Delete(ctx context.Context, entity *T) error

	DeleteAllByID(ctx context.Context, ids ...any) error

	DeleteAll(ctx context.Context) error
}

// QueryRepository runs filters, pages and declared query methods.
type QueryRepository[T any] interface {
	List(ctx context.Context, filter *types.QueryFilter) ([]*T, error)

	Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error)

	// Find runs a query method and returns its aggregates.
	Find(ctx context.Context, method string, args ...any) ([]*T, error)

	// FindOne runs a query method expected to return at most one aggregate.
	// It returns nil when nothing matched.
	FindOne(ctx context.Context, method string, args ...any) (*T, error)

	// Execute runs a query method and returns its raw result.
	Execute(ctx context.Context, method string, args ...any) (any, error)
}

// TransactionRepository defines upserts and transactional work.
type TransactionRepository[T any] interface {
	Upsert(ctx context.Context, fields []string, entity ...*T) error

	// InTx runs fn with a repository bound to a transaction. Serialization
	// conflicts are retried.
	InTx(ctx context.Context, fn func(ctx context.Context, repo Repository[T]) error) error
}

// Repository combines CRUD, query and transactional operations and exposes
// Bun query builders for advanced use cases.
type Repository[T any] interface {
	CrudRepository[T]
	QueryRepository[T]
	TransactionRepository[T]
	Information() mapping.EntityInformation
	Dialect() schema.Dialect
	NewSelect() *bun.SelectQuery
	NewInsert() *bun.InsertQuery
	NewUpdate() *bun.UpdateQuery
	NewDelete() *bun.DeleteQuery
	NewRaw(query string, args ...any) *bun.RawQuery
}

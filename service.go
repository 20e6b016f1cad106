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

package hummer

import (
	"context"

	"github.com/uptrace/bun"

	"github.com/tomoncle/hummer-ysql/query"
	"github.com/tomoncle/hummer-ysql/repository"
	"github.com/tomoncle/hummer-ysql/types"
)

type Service[T any] interface {
	// Get returns a single entity by its identifier.
	Get(ctx context.Context, id any) (*T, error)

	// All returns all entities.
	All(ctx context.Context) ([]*T, error)

	// List returns entities that match the provided filter.
	List(ctx context.Context, filter *types.QueryFilter) ([]*T, error)

	// Query executes a raw query and maps the results to entities.
	Query(ctx context.Context, query string, args ...interface{}) ([]*T, error)

	// Find runs a query method declared when the service was created.
	Find(ctx context.Context, method string, args ...interface{}) ([]*T, error)

	// Page returns a paginated list of entities.
	Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error)

	// Update modifies an existing entity.
	Update(ctx context.Context, model *T) error

	// Delete removes an entity by its identifier.
	Delete(ctx context.Context, id any) error

	// Save inserts new entities and updates the others.
	Save(ctx context.Context, model ...*T) error

	// SaveOrUpdate upserts entities on their primary key, overwriting fields
	// of existing rows. No fields means every column.
	SaveOrUpdate(ctx context.Context, fields []string, model ...*T) error

	// InTx runs fn with a service bound to a transaction. Serialization
	// conflicts are retried.
	InTx(ctx context.Context, fn func(ctx context.Context, svc Service[T]) error) error

	// SelectBuilder returns a Bun select query builder for the entity.
	SelectBuilder() *bun.SelectQuery

	// InsertBuilder returns a Bun insert query builder for the entity.
	InsertBuilder() *bun.InsertQuery

	// UpdateBuilder returns a Bun update query builder for the entity.
	UpdateBuilder() *bun.UpdateQuery

	// DeleteBuilder returns a Bun delete query builder for the entity.
	DeleteBuilder() *bun.DeleteQuery
}

type baseServiceImpl[T any] struct {
	repo repository.Repository[T]
}

// NewService returns the default Service for T, backed by a repository
// assembled by factory with the given query methods.
func NewService[T any](factory *repository.Factory, methods ...*query.Method) (Service[T], error) {
	repo, err := repository.For[T](factory, methods...)
	if err != nil {
		return nil, err
	}
	return &baseServiceImpl[T]{repo: repo}, nil
}

// Repository returns the repository behind a service created by NewService.
func Repository[T any](svc Service[T]) (repository.Repository[T], bool) {
	impl, ok := svc.(*baseServiceImpl[T])
	if !ok {
		return nil, false
	}
	return impl.repo, true
}

func (s *baseServiceImpl[T]) Save(ctx context.Context, model ...*T) error {
	_, err := s.repo.SaveAll(ctx, model...)
	return err
}

func (s *baseServiceImpl[T]) SaveOrUpdate(ctx context.Context, fields []string, model ...*T) error {
	return s.repo.Upsert(ctx, fields, model...)
}

func (s *baseServiceImpl[T]) Get(ctx context.Context, id any) (*T, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *baseServiceImpl[T]) All(ctx context.Context) ([]*T, error) {
	return s.repo.FindAll(ctx)
}

func (s *baseServiceImpl[T]) List(ctx context.Context, filter *types.QueryFilter) ([]*T, error) {
	return s.repo.List(ctx, filter)
}

func (s *baseServiceImpl[T]) Query(ctx context.Context, query string, args ...interface{}) ([]*T, error) {
	entities := make([]*T, 0)
	if err := s.repo.NewRaw(query, args...).Scan(ctx, &entities); err != nil {
		return nil, err
	}
	return entities, nil
}

func (s *baseServiceImpl[T]) Find(ctx context.Context, method string, args ...interface{}) ([]*T, error) {
	return s.repo.Find(ctx, method, args...)
}

func (s *baseServiceImpl[T]) Update(ctx context.Context, model *T) error {
	_, err := s.repo.Update(ctx, model)
	return err
}

func (s *baseServiceImpl[T]) Delete(ctx context.Context, id any) error {
	return s.repo.DeleteByID(ctx, id)
}

func (s *baseServiceImpl[T]) Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error) {
	return s.repo.Page(ctx, page)
}

func (s *baseServiceImpl[T]) InTx(ctx context.Context, fn func(ctx context.Context, svc Service[T]) error) error {
	return s.repo.InTx(ctx, func(ctx context.Context, repo repository.Repository[T]) error {
		return fn(ctx, &baseServiceImpl[T]{repo: repo})
	})
}

func (s *baseServiceImpl[T]) SelectBuilder() *bun.SelectQuery {
	var model *T
	return s.repo.NewSelect().Model(model)
}

func (s *baseServiceImpl[T]) InsertBuilder() *bun.InsertQuery {
	return s.repo.NewInsert()
}

func (s *baseServiceImpl[T]) UpdateBuilder() *bun.UpdateQuery {
	var model *T
	return s.repo.NewUpdate().Model(model)
}

func (s *baseServiceImpl[T]) DeleteBuilder() *bun.DeleteQuery {
	var model *T
	return s.repo.NewDelete().Model(model)
}

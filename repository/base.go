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
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"

	"github.com/tomoncle/hummer-ysql/mapping"
	"github.com/tomoncle/hummer-ysql/query"
	"github.com/tomoncle/hummer-ysql/types"
)

type baseRepositoryImpl[T any] struct {
	simple   *SimpleRepository
	instance *Instance
}

// For assembles a Repository[T] through f. methods are the query methods
// available to Find, FindOne and Execute.
func For[T any](f *Factory, methods ...*query.Method) (Repository[T], error) {
	if f == nil {
		return nil, fmt.Errorf("%w: nil factory", ErrInvalidConfiguration)
	}
	instance, err := f.Repository(&Metadata{Domain: mapping.TypeOf[T](), Methods: methods})
	if err != nil {
		return nil, err
	}
	simple, ok := instance.Target().(*SimpleRepository)
	if !ok {
		return nil, fmt.Errorf("%w: %s target is a %T", ErrRepositoryInstantiation, instance, instance.Target())
	}
	return &baseRepositoryImpl[T]{simple: simple, instance: instance}, nil
}

func (r *baseRepositoryImpl[T]) Information() mapping.EntityInformation { return r.simple.Information() }

func (r *baseRepositoryImpl[T]) Dialect() schema.Dialect {
	return r.simple.Template().MappingContext().Dialect()
}

func (r *baseRepositoryImpl[T]) db() bun.IDB { return r.simple.Template().Strategy().DB() }

func (r *baseRepositoryImpl[T]) NewSelect() *bun.SelectQuery { return r.db().NewSelect() }

func (r *baseRepositoryImpl[T]) NewInsert() *bun.InsertQuery { return r.db().NewInsert() }

func (r *baseRepositoryImpl[T]) NewUpdate() *bun.UpdateQuery { return r.db().NewUpdate() }

func (r *baseRepositoryImpl[T]) NewDelete() *bun.DeleteQuery { return r.db().NewDelete() }

func (r *baseRepositoryImpl[T]) NewRaw(query string, args ...any) *bun.RawQuery {
	return r.db().NewRaw(query, args...)
}

func (r *baseRepositoryImpl[T]) Save(ctx context.Context, entity *T) (*T, error) {
	saved, err := r.simple.Save(ctx, entity)
	if err != nil {
		return nil, err
	}
	return cast[T](saved)
}

func (r *baseRepositoryImpl[T]) Update(ctx context.Context, entity *T) (*T, error) {
	updated, err := r.simple.Update(ctx, entity)
	if err != nil {
		return nil, err
	}
	return cast[T](updated)
}

func (r *baseRepositoryImpl[T]) SaveAll(ctx context.Context, entities ...*T) ([]*T, error) {
	saved, err := r.simple.SaveAll(ctx, toAny(entities))
	if err != nil {
		return nil, err
	}
	return castAll[T](saved)
}

func (r *baseRepositoryImpl[T]) Upsert(ctx context.Context, fields []string, entity ...*T) error {
	for _, e := range entity {
		if _, err := r.simple.Upsert(ctx, e, fields...); err != nil {
			return err
		}
	}
	return nil
}

func (r *baseRepositoryImpl[T]) FindByID(ctx context.Context, id any) (*T, error) {
	found, err := r.simple.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return cast[T](found)
}

func (r *baseRepositoryImpl[T]) ExistsByID(ctx context.Context, id any) (bool, error) {
	return r.simple.ExistsByID(ctx, id)
}

func (r *baseRepositoryImpl[T]) FindAll(ctx context.Context) ([]*T, error) {
	found, err := r.simple.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	return castAll[T](found)
}

func (r *baseRepositoryImpl[T]) FindAllByID(ctx context.Context, ids ...any) ([]*T, error) {
	found, err := r.simple.FindAllByID(ctx, ids)
	if err != nil {
		return nil, err
	}
	return castAll[T](found)
}

func (r *baseRepositoryImpl[T]) Count(ctx context.Context) (int64, error) {
	return r.simple.Count(ctx)
}

func (r *baseRepositoryImpl[T]) DeleteByID(ctx context.Context, id any) error {
	return r.simple.DeleteByID(ctx, id)
}

func (r *baseRepositoryImpl[T]) Delete(ctx context.Context, entity *T) error {
	return r.simple.Delete(ctx, entity)
}

func (r *baseRepositoryImpl[T]) DeleteAllByID(ctx context.Context, ids ...any) error {
	return r.simple.DeleteAllByID(ctx, ids)
}

func (r *baseRepositoryImpl[T]) DeleteAll(ctx context.Context) error {
	return r.simple.DeleteAll(ctx)
}

func (r *baseRepositoryImpl[T]) List(ctx context.Context, filter *types.QueryFilter) ([]*T, error) {
	found, err := r.simple.FindWhere(ctx, filter)
	if err != nil {
		return nil, err
	}
	return castAll[T](found)
}

func (r *baseRepositoryImpl[T]) Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error) {
	if page == nil {
		page = types.NewDefaultPageRequest(1, 10)
	}
	found, total, err := r.simple.FindPage(ctx, page)
	if err != nil {
		return nil, err
	}
	items, err := castAll[T](found)
	if err != nil {
		return nil, err
	}
	return types.NewPagination(page, total, items), nil
}

func (r *baseRepositoryImpl[T]) Execute(ctx context.Context, method string, args ...any) (any, error) {
	return r.instance.Execute(ctx, method, args...)
}

func (r *baseRepositoryImpl[T]) Find(ctx context.Context, method string, args ...any) ([]*T, error) {
	result, err := r.Execute(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	switch v := result.(type) {
	case nil:
		return []*T{}, nil
	case []any:
		return castAll[T](v)
	default:
		one, err := cast[T](v)
		if err != nil {
			return nil, err
		}
		return []*T{one}, nil
	}
}

func (r *baseRepositoryImpl[T]) FindOne(ctx context.Context, method string, args ...any) (*T, error) {
	found, err := r.Find(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	switch len(found) {
	case 0:
		return nil, nil
	case 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("%w: %s returned %d results", query.ErrIncorrectResultSize, method, len(found))
	}
}

// InTx binds the CRUD operations to the transaction. Query methods keep
// running on the factory's operations handle.
func (r *baseRepositoryImpl[T]) InTx(ctx context.Context, fn func(ctx context.Context, repo Repository[T]) error) error {
	return r.simple.InTx(ctx, func(ctx context.Context, tx *SimpleRepository) error {
		return fn(ctx, &baseRepositoryImpl[T]{simple: tx, instance: r.instance})
	})
}

func cast[T any](v any) (*T, error) {
	t, ok := v.(*T)
	if !ok {
		return nil, fmt.Errorf("%w: got %T, want %T", mapping.ErrTypeMismatch, v, (*T)(nil))
	}
	return t, nil
}

func castAll[T any](values []any) ([]*T, error) {
	result := make([]*T, 0, len(values))
	for _, v := range values {
		t, err := cast[T](v)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, nil
}

func toAny[T any](entities []*T) []any {
	values := make([]any, len(entities))
	for i, e := range entities {
		values[i] = e
	}
	return values
}

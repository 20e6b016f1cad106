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

	"github.com/tomoncle/hummer-ysql/core"
	"github.com/tomoncle/hummer-ysql/mapping"
	"github.com/tomoncle/hummer-ysql/types"
)

// SimpleRepository implements CRUD for one aggregate type on top of an
// AggregateTemplate. Values are pointers to the aggregate struct.
type SimpleRepository struct {
	template *core.AggregateTemplate
	entity   *mapping.PersistentEntity
}

func NewSimpleRepository(template *core.AggregateTemplate, entity *mapping.PersistentEntity) (*SimpleRepository, error) {
	if template == nil {
		return nil, fmt.Errorf("%w: nil aggregate template", ErrRepositoryInstantiation)
	}
	if entity == nil {
		return nil, fmt.Errorf("%w: nil persistent entity", ErrRepositoryInstantiation)
	}
	return &SimpleRepository{template: template, entity: entity}, nil
}

func (r *SimpleRepository) Template() *core.AggregateTemplate { return r.template }

func (r *SimpleRepository) Entity() *mapping.PersistentEntity { return r.entity }

func (r *SimpleRepository) Information() mapping.EntityInformation {
	return mapping.NewPersistentEntityInformation(r.entity)
}

// Save inserts or updates value depending on whether it already has an id.
func (r *SimpleRepository) Save(ctx context.Context, value any) (any, error) {
	if err := r.check(value); err != nil {
		return nil, err
	}
	return r.template.Save(ctx, value)
}

// Update overwrites the row of value. It fails with
// core.ErrIncorrectUpdateSemantics when the row does not exist.
func (r *SimpleRepository) Update(ctx context.Context, value any) (any, error) {
	if err := r.check(value); err != nil {
		return nil, err
	}
	return r.template.Update(ctx, value)
}

// SaveAll saves values in order and stops at the first failure.
func (r *SimpleRepository) SaveAll(ctx context.Context, values []any) ([]any, error) {
	saved := make([]any, 0, len(values))
	for _, v := range values {
		s, err := r.Save(ctx, v)
		if err != nil {
			return saved, err
		}
		saved = append(saved, s)
	}
	return saved, nil
}

// Upsert inserts value or overwrites fields of the row with the same key.
// Without fields every column is overwritten.
func (r *SimpleRepository) Upsert(ctx context.Context, value any, fields ...string) (any, error) {
	if err := r.check(value); err != nil {
		return nil, err
	}
	return r.template.Upsert(ctx, value, fields...)
}

func (r *SimpleRepository) FindByID(ctx context.Context, id any) (any, error) {
	return r.template.FindByID(ctx, r.entity.Type(), id)
}

func (r *SimpleRepository) ExistsByID(ctx context.Context, id any) (bool, error) {
	return r.template.ExistsByID(ctx, r.entity.Type(), id)
}

func (r *SimpleRepository) FindAll(ctx context.Context) ([]any, error) {
	return r.template.FindAll(ctx, r.entity.Type())
}

func (r *SimpleRepository) FindAllByID(ctx context.Context, ids []any) ([]any, error) {
	return r.template.FindAllByID(ctx, r.entity.Type(), ids)
}

// FindWhere returns the aggregates matching filter.
func (r *SimpleRepository) FindWhere(ctx context.Context, filter *types.QueryFilter) ([]any, error) {
	return r.template.FindWhere(ctx, r.entity.Type(), filter)
}

// FindPage returns one page of aggregates and the total number of matches.
func (r *SimpleRepository) FindPage(ctx context.Context, page *types.PageRequest) ([]any, int, error) {
	if page == nil {
		page = types.NewDefaultPageRequest(1, 10)
	}
	return r.template.FindPage(ctx, r.entity.Type(), page)
}

func (r *SimpleRepository) Count(ctx context.Context) (int64, error) {
	return r.template.Count(ctx, r.entity.Type())
}

func (r *SimpleRepository) DeleteByID(ctx context.Context, id any) error {
	return r.template.DeleteByID(ctx, r.entity.Type(), id)
}

func (r *SimpleRepository) Delete(ctx context.Context, value any) error {
	if err := r.check(value); err != nil {
		return err
	}
	return r.template.Delete(ctx, value)
}

func (r *SimpleRepository) DeleteAllByID(ctx context.Context, ids []any) error {
	for _, id := range ids {
		if err := r.DeleteByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *SimpleRepository) DeleteAll(ctx context.Context) error {
	return r.template.DeleteAll(ctx, r.entity.Type())
}

// InTx runs fn with a repository bound to a transaction.
func (r *SimpleRepository) InTx(ctx context.Context, fn func(ctx context.Context, repo *SimpleRepository) error) error {
	return r.template.InTx(ctx, func(ctx context.Context, tx *core.AggregateTemplate) error {
		return fn(ctx, &SimpleRepository{template: tx, entity: r.entity})
	})
}

func (r *SimpleRepository) check(value any) error {
	_, err := r.entity.Struct(value)
	return err
}

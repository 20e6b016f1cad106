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

package core

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/uptrace/bun"

	"github.com/tomoncle/hummer-ysql/access"
	"github.com/tomoncle/hummer-ysql/convert"
	"github.com/tomoncle/hummer-ysql/database"
	"github.com/tomoncle/hummer-ysql/event"
	"github.com/tomoncle/hummer-ysql/mapping"
	"github.com/tomoncle/hummer-ysql/types"
)

// DefaultTxAttempts is how often InTx runs a transaction that keeps failing
// with a retryable conflict.
const DefaultTxAttempts = 3

// AggregateTemplate persists whole aggregates. It publishes a lifecycle event
// and then runs the matching callbacks around every write and load.
type AggregateTemplate struct {
	publisher  event.Publisher
	context    *mapping.Context
	converter  convert.Converter
	strategy   access.Strategy
	callbacks  *event.Callbacks
	txAttempts int
}

func NewAggregateTemplate(
	publisher event.Publisher,
	mappingContext *mapping.Context,
	converter convert.Converter,
	strategy access.Strategy,
) *AggregateTemplate {
	return &AggregateTemplate{
		publisher:  publisher,
		context:    mappingContext,
		converter:  converter,
		strategy:   strategy,
		callbacks:  event.NewCallbacks(),
		txAttempts: DefaultTxAttempts,
	}
}

// SetEntityCallbacks replaces the callbacks. Nil resets to an empty registry.
func (t *AggregateTemplate) SetEntityCallbacks(callbacks *event.Callbacks) {
	if callbacks == nil {
		callbacks = event.NewCallbacks()
	}
	t.callbacks = callbacks
}

func (t *AggregateTemplate) EntityCallbacks() *event.Callbacks { return t.callbacks }

func (t *AggregateTemplate) MappingContext() *mapping.Context { return t.context }

func (t *AggregateTemplate) Converter() convert.Converter { return t.converter }

func (t *AggregateTemplate) Strategy() access.Strategy { return t.strategy }

func (t *AggregateTemplate) Publisher() event.Publisher { return t.publisher }

// SetTxAttempts bounds the retries of InTx. Values below one mean one attempt.
func (t *AggregateTemplate) SetTxAttempts(n int) {
	if n < 1 {
		n = 1
	}
	t.txAttempts = n
}

func (t *AggregateTemplate) TxAttempts() int { return t.txAttempts }

// Save inserts value when its identifier is unset and updates it otherwise.
// The returned aggregate may differ from value when a callback replaced it.
func (t *AggregateTemplate) Save(ctx context.Context, value any) (any, error) {
	entity, err := t.context.EntityFor(value)
	if err != nil {
		return nil, err
	}
	isNew, err := entity.IsNew(value)
	if err != nil {
		return nil, err
	}
	return t.store(ctx, entity, value, isNew)
}

// Insert stores value as a new row regardless of its identifier.
func (t *AggregateTemplate) Insert(ctx context.Context, value any) (any, error) {
	entity, err := t.context.EntityFor(value)
	if err != nil {
		return nil, err
	}
	return t.store(ctx, entity, value, true)
}

// Update overwrites the row of value. It fails with
// ErrIncorrectUpdateSemantics when no such row exists.
func (t *AggregateTemplate) Update(ctx context.Context, value any) (any, error) {
	entity, err := t.context.EntityFor(value)
	if err != nil {
		return nil, err
	}
	return t.store(ctx, entity, value, false)
}

func (t *AggregateTemplate) store(ctx context.Context, entity *mapping.PersistentEntity, value any, insert bool) (any, error) {
	value, err := t.trigger(ctx, event.BeforeConvert, entity, value, nil)
	if err != nil {
		return nil, err
	}
	row, err := t.converter.Write(entity, value)
	if err != nil {
		return nil, err
	}
	if value, err = t.trigger(ctx, event.BeforeSave, entity, value, row); err != nil {
		return nil, err
	}

	if insert {
		if err := t.strategy.Insert(ctx, entity, value); err != nil {
			return nil, translate(err)
		}
	} else {
		n, err := t.strategy.Update(ctx, entity, value)
		if err != nil {
			return nil, translate(err)
		}
		if n == 0 {
			id, _ := entity.ID(value)
			return nil, fmt.Errorf("%w: %s with id %v", ErrIncorrectUpdateSemantics, entity.Name(), id)
		}
	}

	if row, err = t.converter.Write(entity, value); err != nil {
		return nil, err
	}
	return t.trigger(ctx, event.AfterSave, entity, value, row)
}

// Upsert inserts value or updates the given fields of the existing row.
func (t *AggregateTemplate) Upsert(ctx context.Context, value any, fields ...string) (any, error) {
	entity, err := t.context.EntityFor(value)
	if err != nil {
		return nil, err
	}
	value, err = t.trigger(ctx, event.BeforeConvert, entity, value, nil)
	if err != nil {
		return nil, err
	}
	row, err := t.converter.Write(entity, value)
	if err != nil {
		return nil, err
	}
	if value, err = t.trigger(ctx, event.BeforeSave, entity, value, row); err != nil {
		return nil, err
	}
	if err := t.strategy.Upsert(ctx, entity, value, fields...); err != nil {
		return nil, translate(err)
	}
	return t.trigger(ctx, event.AfterSave, entity, value, row)
}

// FindByID loads one aggregate. A missing row yields ErrEntityNotFound.
func (t *AggregateTemplate) FindByID(ctx context.Context, typ reflect.Type, id any) (any, error) {
	entity, id, err := t.resolve(typ, id)
	if err != nil {
		return nil, err
	}
	found, err := t.strategy.FindByID(ctx, entity, id)
	if err != nil {
		return nil, translate(err)
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s with id %v", ErrEntityNotFound, entity.Name(), id)
	}
	return t.afterLoad(ctx, entity, found)
}

func (t *AggregateTemplate) ExistsByID(ctx context.Context, typ reflect.Type, id any) (bool, error) {
	entity, id, err := t.resolve(typ, id)
	if err != nil {
		return false, err
	}
	ok, err := t.strategy.ExistsByID(ctx, entity, id)
	return ok, translate(err)
}

func (t *AggregateTemplate) FindAll(ctx context.Context, typ reflect.Type) ([]any, error) {
	entity, err := t.context.RequiredPersistentEntity(typ)
	if err != nil {
		return nil, err
	}
	found, err := t.strategy.FindAll(ctx, entity)
	if err != nil {
		return nil, translate(err)
	}
	return t.afterLoadAll(ctx, entity, found)
}

// FindAllByID loads the aggregates whose identifiers are in ids. Unknown
// identifiers are skipped.
func (t *AggregateTemplate) FindAllByID(ctx context.Context, typ reflect.Type, ids []any) ([]any, error) {
	entity, err := t.context.RequiredPersistentEntity(typ)
	if err != nil {
		return nil, err
	}
	converted := make([]any, 0, len(ids))
	for _, id := range ids {
		c, err := t.converter.ConvertID(entity, id)
		if err != nil {
			return nil, err
		}
		converted = append(converted, c)
	}
	found, err := t.strategy.FindAllByID(ctx, entity, converted)
	if err != nil {
		return nil, translate(err)
	}
	return t.afterLoadAll(ctx, entity, found)
}

// FindWhere loads the aggregates matching filter; nil matches every row.
func (t *AggregateTemplate) FindWhere(ctx context.Context, typ reflect.Type, filter *types.QueryFilter) ([]any, error) {
	entity, err := t.context.RequiredPersistentEntity(typ)
	if err != nil {
		return nil, err
	}
	found, err := t.strategy.FindWhere(ctx, entity, filter)
	if err != nil {
		return nil, translate(err)
	}
	return t.afterLoadAll(ctx, entity, found)
}

func (t *AggregateTemplate) FindPage(ctx context.Context, typ reflect.Type, page *types.PageRequest) ([]any, int, error) {
	entity, err := t.context.RequiredPersistentEntity(typ)
	if err != nil {
		return nil, 0, err
	}
	found, total, err := t.strategy.FindPage(ctx, entity, page)
	if err != nil {
		return nil, 0, translate(err)
	}
	loaded, err := t.afterLoadAll(ctx, entity, found)
	return loaded, total, err
}

func (t *AggregateTemplate) Count(ctx context.Context, typ reflect.Type) (int64, error) {
	entity, err := t.context.RequiredPersistentEntity(typ)
	if err != nil {
		return 0, err
	}
	n, err := t.strategy.Count(ctx, entity)
	return n, translate(err)
}

// DeleteByID removes the row with id. Deleting a missing row is not an error.
func (t *AggregateTemplate) DeleteByID(ctx context.Context, typ reflect.Type, id any) error {
	entity, id, err := t.resolve(typ, id)
	if err != nil {
		return err
	}
	if err := t.publish(ctx, event.New(event.BeforeDelete, entity.Type(), id, nil)); err != nil {
		return err
	}
	if _, err := t.strategy.DeleteByID(ctx, entity, id); err != nil {
		return translate(err)
	}
	return t.publish(ctx, event.New(event.AfterDelete, entity.Type(), id, nil))
}

// Delete removes the row of value.
func (t *AggregateTemplate) Delete(ctx context.Context, value any) error {
	entity, err := t.context.EntityFor(value)
	if err != nil {
		return err
	}
	id, err := entity.ID(value)
	if err != nil {
		return err
	}
	if id == nil {
		return fmt.Errorf("%w: %s without id", ErrEntityNotFound, entity.Name())
	}
	if value, err = t.trigger(ctx, event.BeforeDelete, entity, value, nil); err != nil {
		return err
	}
	if _, err := t.strategy.DeleteByID(ctx, entity, id); err != nil {
		return translate(err)
	}
	_, err = t.trigger(ctx, event.AfterDelete, entity, value, nil)
	return err
}

func (t *AggregateTemplate) DeleteAll(ctx context.Context, typ reflect.Type) error {
	entity, err := t.context.RequiredPersistentEntity(typ)
	if err != nil {
		return err
	}
	if err := t.publish(ctx, event.New(event.BeforeDelete, entity.Type(), nil, nil)); err != nil {
		return err
	}
	if _, err := t.strategy.DeleteAll(ctx, entity); err != nil {
		return translate(err)
	}
	return t.publish(ctx, event.New(event.AfterDelete, entity.Type(), nil, nil))
}

// InTx runs fn with a template bound to a transaction. Serialization
// conflicts roll back and run fn again, up to the configured attempts.
func (t *AggregateTemplate) InTx(ctx context.Context, fn func(ctx context.Context, tx *AggregateTemplate) error) error {
	var err error
	for attempt := 1; attempt <= t.txAttempts; attempt++ {
		err = t.strategy.DB().RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			bound := *t
			bound.strategy = t.strategy.WithDB(tx)
			return fn(ctx, &bound)
		})
		if err == nil || !(database.IsRetryable(err) || errors.Is(err, ErrTransactionConflict)) {
			break
		}
	}
	return translate(err)
}

func (t *AggregateTemplate) resolve(typ reflect.Type, id any) (*mapping.PersistentEntity, any, error) {
	entity, err := t.context.RequiredPersistentEntity(typ)
	if err != nil {
		return nil, nil, err
	}
	id, err = t.converter.ConvertID(entity, id)
	if err != nil {
		return nil, nil, err
	}
	return entity, id, nil
}

func (t *AggregateTemplate) afterLoadAll(ctx context.Context, entity *mapping.PersistentEntity, values []any) ([]any, error) {
	for i, v := range values {
		loaded, err := t.afterLoad(ctx, entity, v)
		if err != nil {
			return nil, err
		}
		values[i] = loaded
	}
	return values, nil
}

func (t *AggregateTemplate) afterLoad(ctx context.Context, entity *mapping.PersistentEntity, value any) (any, error) {
	id, _ := entity.ID(value)
	if err := t.publish(ctx, event.New(event.AfterLoad, entity.Type(), id, value)); err != nil {
		return nil, err
	}
	return t.callbacks.Callback(ctx, event.AfterConvert, value)
}

// trigger publishes kind for value and then runs the callbacks of kind.
func (t *AggregateTemplate) trigger(
	ctx context.Context, kind event.Kind, entity *mapping.PersistentEntity, value any, row convert.Row,
) (any, error) {
	id, _ := entity.ID(value)
	if err := t.publish(ctx, event.New(kind, entity.Type(), id, value).WithRow(row)); err != nil {
		return nil, err
	}
	return t.callbacks.Callback(ctx, kind, value)
}

func (t *AggregateTemplate) publish(ctx context.Context, e *event.Event) error {
	if t.publisher == nil {
		return nil
	}
	return t.publisher.Publish(ctx, e)
}

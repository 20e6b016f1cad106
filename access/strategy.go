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

package access

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/feature"

	"github.com/tomoncle/hummer-ysql/mapping"
	"github.com/tomoncle/hummer-ysql/types"
)

// ErrNilDB is returned by NewStrategy when no database handle is given.
var ErrNilDB = errors.New("access: database handle is nil")

// Strategy performs the row level work behind an aggregate template. Values
// passed in are pointers to aggregates of the given entity; values returned
// are freshly allocated pointers.
type Strategy interface {
	// DB returns the handle statements run on.
	DB() bun.IDB
	// WithDB returns a copy bound to db, typically a transaction.
	WithDB(db bun.IDB) Strategy

	Insert(ctx context.Context, entity *mapping.PersistentEntity, value any) error
	// Update writes every column of value and returns the number of rows changed.
	Update(ctx context.Context, entity *mapping.PersistentEntity, value any) (int64, error)
	// Upsert inserts value or, on an identifier conflict, updates fields.
	// No fields means every non key column.
	Upsert(ctx context.Context, entity *mapping.PersistentEntity, value any, fields ...string) error
	DeleteByID(ctx context.Context, entity *mapping.PersistentEntity, id any) (int64, error)
	DeleteAll(ctx context.Context, entity *mapping.PersistentEntity) (int64, error)

	// FindByID returns nil without error when no row matches.
	FindByID(ctx context.Context, entity *mapping.PersistentEntity, id any) (any, error)
	FindAll(ctx context.Context, entity *mapping.PersistentEntity) ([]any, error)
	FindAllByID(ctx context.Context, entity *mapping.PersistentEntity, ids []any) ([]any, error)
	FindWhere(ctx context.Context, entity *mapping.PersistentEntity, filter *types.QueryFilter) ([]any, error)
	// FindPage returns one page of rows and the total number of rows matching
	// the request filter.
	FindPage(ctx context.Context, entity *mapping.PersistentEntity, page *types.PageRequest) ([]any, int, error)
	Count(ctx context.Context, entity *mapping.PersistentEntity) (int64, error)
	ExistsByID(ctx context.Context, entity *mapping.PersistentEntity, id any) (bool, error)
}

type bunStrategy struct {
	db bun.IDB
}

// NewStrategy returns a Strategy issuing bun queries on db.
func NewStrategy(db bun.IDB) (Strategy, error) {
	if db == nil || (reflect.ValueOf(db).Kind() == reflect.Pointer && reflect.ValueOf(db).IsNil()) {
		return nil, ErrNilDB
	}
	return &bunStrategy{db: db}, nil
}

func (s *bunStrategy) DB() bun.IDB { return s.db }

func (s *bunStrategy) WithDB(db bun.IDB) Strategy { return &bunStrategy{db: db} }

func (s *bunStrategy) Insert(ctx context.Context, entity *mapping.PersistentEntity, value any) error {
	if _, err := entity.Struct(value); err != nil {
		return err
	}
	_, err := s.db.NewInsert().Model(value).Exec(ctx)
	return err
}

func (s *bunStrategy) Update(ctx context.Context, entity *mapping.PersistentEntity, value any) (int64, error) {
	if _, err := entity.Struct(value); err != nil {
		return 0, err
	}
	res, err := s.db.NewUpdate().Model(value).WherePK().Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *bunStrategy) Upsert(ctx context.Context, entity *mapping.PersistentEntity, value any, fields ...string) error {
	if _, err := entity.Struct(value); err != nil {
		return err
	}
	features := s.db.Dialect().Features()
	switch {
	case features.Has(feature.InsertOnConflict):
		q := s.db.NewInsert().Model(value).
			On("CONFLICT (?) DO UPDATE", bun.Ident(entity.IDColumn()))
		for _, f := range fields {
			q = q.Set("? = EXCLUDED.?", bun.Ident(f), bun.Ident(f))
		}
		_, err := q.Exec(ctx)
		return err
	case features.Has(feature.InsertOnDuplicateKey):
		q := s.db.NewInsert().Model(value).On("DUPLICATE KEY UPDATE")
		for _, f := range fields {
			q = q.Set("? = VALUES(?)", bun.Ident(f), bun.Ident(f))
		}
		_, err := q.Exec(ctx)
		return err
	default:
		return s.upsertFallback(ctx, value)
	}
}

func (s *bunStrategy) upsertFallback(ctx context.Context, value any) error {
	_, err := s.db.NewInsert().Model(value).Exec(ctx)
	if err == nil {
		return nil
	}
	if _, updateErr := s.db.NewUpdate().Model(value).WherePK().Exec(ctx); updateErr != nil {
		return fmt.Errorf("upsert failed: insert error: %v, update error: %w", err, updateErr)
	}
	return nil
}

func (s *bunStrategy) DeleteByID(ctx context.Context, entity *mapping.PersistentEntity, id any) (int64, error) {
	res, err := s.db.NewDelete().
		Model(entity.NewInstance()).
		Where("? = ?", bun.Ident(entity.IDColumn()), id).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *bunStrategy) DeleteAll(ctx context.Context, entity *mapping.PersistentEntity) (int64, error) {
	res, err := s.db.NewDelete().Model(entity.NewInstance()).Where("1 = 1").Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *bunStrategy) FindByID(ctx context.Context, entity *mapping.PersistentEntity, id any) (any, error) {
	instance := entity.NewInstance()
	err := s.db.NewSelect().
		Model(instance).
		Where("? = ?", bun.Ident(entity.IDColumn()), id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func (s *bunStrategy) FindAll(ctx context.Context, entity *mapping.PersistentEntity) ([]any, error) {
	return s.FindWhere(ctx, entity, nil)
}

func (s *bunStrategy) FindAllByID(ctx context.Context, entity *mapping.PersistentEntity, ids []any) ([]any, error) {
	if len(ids) == 0 {
		return []any{}, nil
	}
	return s.FindWhere(ctx, entity,
		types.NewQueryFilter("? IN (?)", bun.Ident(entity.IDColumn()), bun.In(ids)))
}

func (s *bunStrategy) FindWhere(ctx context.Context, entity *mapping.PersistentEntity, filter *types.QueryFilter) ([]any, error) {
	slice := entity.NewSlice()
	q := s.db.NewSelect().Model(slice)
	if filter != nil {
		q = q.Where(filter.Schema, filter.Args...)
	}
	if err := q.Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return Flatten(slice), nil
}

func (s *bunStrategy) FindPage(ctx context.Context, entity *mapping.PersistentEntity, page *types.PageRequest) ([]any, int, error) {
	if page == nil {
		page = types.NewDefaultPageRequest(1, 10)
	}
	slice := entity.NewSlice()
	q := s.db.NewSelect().Model(slice)
	if f := page.GetFilter(); f != nil {
		q = q.Where(f.Schema, f.Args...)
	}
	total, err := q.Count(ctx)
	if err != nil || total == 0 {
		return []any{}, total, err
	}
	err = q.
		Offset(page.GetOffset()).
		Limit(page.GetPageSize()).
		Order(page.GetOrders()...).
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, 0, err
	}
	return Flatten(slice), total, nil
}

func (s *bunStrategy) Count(ctx context.Context, entity *mapping.PersistentEntity) (int64, error) {
	n, err := s.db.NewSelect().Model(entity.NewInstance()).Count(ctx)
	return int64(n), err
}

func (s *bunStrategy) ExistsByID(ctx context.Context, entity *mapping.PersistentEntity, id any) (bool, error) {
	return s.db.NewSelect().
		Model(entity.NewInstance()).
		Where("? = ?", bun.Ident(entity.IDColumn()), id).
		Exists(ctx)
}

// Flatten turns a pointer to a slice of aggregate pointers into []any.
func Flatten(slice any) []any {
	rv := reflect.Indirect(reflect.ValueOf(slice))
	if rv.Kind() != reflect.Slice {
		return nil
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

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
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/tomoncle/hummer-ysql/access"
	"github.com/tomoncle/hummer-ysql/convert"
	"github.com/tomoncle/hummer-ysql/event"
	"github.com/tomoncle/hummer-ysql/mapping"
	"github.com/tomoncle/hummer-ysql/types"
)

type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID     int64  `bun:"id,pk,autoincrement"`
	Status string `bun:"status"`
}

type Ghost struct {
	ID int64 `bun:"id,pk"`
}

var orderType = mapping.TypeOf[Order]()

type fixture struct {
	template *AggregateTemplate
	bus      *event.Bus
	kinds    []event.Kind
	rows     []convert.Row
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.NewCreateTable().Model((*Order)(nil)).Exec(context.Background())
	require.NoError(t, err)

	mc := mapping.NewContext(db.Dialect())
	require.NoError(t, mc.Register(&Order{}))
	strategy, err := access.NewStrategy(db)
	require.NoError(t, err)

	f := &fixture{bus: event.NewBus()}
	_, err = f.bus.Subscribe(func(_ context.Context, e *event.Event) error {
		f.kinds = append(f.kinds, e.Kind)
		f.rows = append(f.rows, e.Row)
		return nil
	})
	require.NoError(t, err)
	f.template = NewAggregateTemplate(f.bus, mc, convert.NewConverter(), strategy)
	return f
}

func TestSaveInsertsNewAggregate(t *testing.T) {
	f := newFixture(t)
	saved, err := f.template.Save(context.Background(), &Order{Status: "open"})
	require.NoError(t, err)

	order := saved.(*Order)
	assert.NotZero(t, order.ID)
	assert.Equal(t, []event.Kind{event.BeforeConvert, event.BeforeSave, event.AfterSave}, f.kinds)
	assert.Nil(t, f.rows[0])
	assert.Equal(t, order.ID, f.rows[2]["id"])
}

func TestSaveUpdatesExistingAggregate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	saved, err := f.template.Save(ctx, &Order{Status: "open"})
	require.NoError(t, err)

	order := saved.(*Order)
	order.Status = "paid"
	_, err = f.template.Save(ctx, order)
	require.NoError(t, err)

	found, err := f.template.FindByID(ctx, orderType, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "paid", found.(*Order).Status)

	n, err := f.template.Count(ctx, orderType)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestUpdateMissingRow(t *testing.T) {
	f := newFixture(t)
	_, err := f.template.Update(context.Background(), &Order{ID: 41, Status: "x"})
	assert.ErrorIs(t, err, ErrIncorrectUpdateSemantics)
}

func TestInsertDuplicateKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.template.Insert(ctx, &Order{ID: 5, Status: "open"})
	require.NoError(t, err)
	_, err = f.template.Insert(ctx, &Order{ID: 5, Status: "again"})
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestUpsert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.template.Upsert(ctx, &Order{ID: 3, Status: "open"})
	require.NoError(t, err)
	_, err = f.template.Upsert(ctx, &Order{ID: 3, Status: "paid"}, "status")
	require.NoError(t, err)

	found, err := f.template.FindByID(ctx, orderType, "3")
	require.NoError(t, err)
	assert.Equal(t, "paid", found.(*Order).Status)
}

func TestFindByIDMissing(t *testing.T) {
	f := newFixture(t)
	_, err := f.template.FindByID(context.Background(), orderType, 99)
	assert.ErrorIs(t, err, ErrEntityNotFound)

	ok, err := f.template.ExistsByID(context.Background(), orderType, 99)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnmappedType(t *testing.T) {
	f := newFixture(t)
	_, err := f.template.FindAll(context.Background(), mapping.TypeOf[Ghost]())
	assert.ErrorIs(t, err, mapping.ErrUnmappedType)

	_, err = f.template.Save(context.Background(), &Ghost{})
	assert.ErrorIs(t, err, mapping.ErrUnmappedType)
}

func TestCallbacksShapeAggregates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.template.SetEntityCallbacks(event.NewCallbacks().
		Register(event.BeforeSave, func(_ context.Context, e any) (any, error) {
			o := e.(*Order)
			o.Status = strings.ToUpper(o.Status)
			return o, nil
		}).
		Register(event.AfterConvert, func(_ context.Context, e any) (any, error) {
			o := *e.(*Order)
			o.Status = "loaded:" + o.Status
			return &o, nil
		}))

	saved, err := f.template.Save(ctx, &Order{Status: "open"})
	require.NoError(t, err)
	assert.Equal(t, "OPEN", saved.(*Order).Status)

	all, err := f.template.FindAll(ctx, orderType)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "loaded:OPEN", all[0].(*Order).Status)
}

func TestCallbackVetoStopsSave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	veto := errors.New("veto")
	cbs := event.NewCallbacks().Register(event.BeforeSave, func(context.Context, any) (any, error) {
		return nil, veto
	})
	f.template.SetEntityCallbacks(cbs)
	assert.Same(t, cbs, f.template.EntityCallbacks())

	_, err := f.template.Save(ctx, &Order{Status: "open"})
	assert.ErrorIs(t, err, veto)

	f.template.SetEntityCallbacks(nil)
	n, err := f.template.Count(ctx, orderType)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListenerErrorAborts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	boom := errors.New("listener failed")
	_, err := f.bus.Subscribe(func(context.Context, *event.Event) error { return boom }, event.BeforeSave)
	require.NoError(t, err)

	_, err = f.template.Save(ctx, &Order{Status: "open"})
	assert.ErrorIs(t, err, boom)
}

func TestDeletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.template.Save(ctx, &Order{Status: "a"})
	require.NoError(t, err)
	b, err := f.template.Save(ctx, &Order{Status: "b"})
	require.NoError(t, err)
	_, err = f.template.Save(ctx, &Order{Status: "c"})
	require.NoError(t, err)

	f.kinds = nil
	require.NoError(t, f.template.Delete(ctx, a))
	assert.Equal(t, []event.Kind{event.BeforeDelete, event.AfterDelete}, f.kinds)

	require.NoError(t, f.template.DeleteByID(ctx, orderType, b.(*Order).ID))
	require.NoError(t, f.template.DeleteByID(ctx, orderType, b.(*Order).ID))

	err = f.template.Delete(ctx, &Order{})
	assert.ErrorIs(t, err, ErrEntityNotFound)

	n, err := f.template.Count(ctx, orderType)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, f.template.DeleteAll(ctx, orderType))
	n, err = f.template.Count(ctx, orderType)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFindAllByIDAndPage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var ids []any
	for _, s := range []string{"a", "b", "c", "d"} {
		saved, err := f.template.Save(ctx, &Order{Status: s})
		require.NoError(t, err)
		ids = append(ids, saved.(*Order).ID)
	}

	found, err := f.template.FindAllByID(ctx, orderType, []any{ids[0], "2", int64(404)})
	require.NoError(t, err)
	assert.Len(t, found, 2)

	_, err = f.template.FindAllByID(ctx, orderType, []any{"x"})
	assert.ErrorIs(t, err, convert.ErrConversion)

	where, err := f.template.FindWhere(ctx, orderType, types.NewQueryFilter("status IN (?)", bun.In([]string{"a", "d"})))
	require.NoError(t, err)
	assert.Len(t, where, 2)

	page, total, err := f.template.FindPage(ctx, orderType, types.NewPageRequestWithOrders(2, 3, []string{"id ASC"}))
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, page, 1)
	assert.Equal(t, "d", page[0].(*Order).Status)
}

func TestInTx(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rollback := errors.New("rollback")

	err := f.template.InTx(ctx, func(ctx context.Context, tx *AggregateTemplate) error {
		if _, err := tx.Save(ctx, &Order{Status: "tx"}); err != nil {
			return err
		}
		return rollback
	})
	assert.ErrorIs(t, err, rollback)
	n, err := f.template.Count(ctx, orderType)
	require.NoError(t, err)
	assert.Zero(t, n)

	attempts := 0
	err = f.template.InTx(ctx, func(ctx context.Context, tx *AggregateTemplate) error {
		attempts++
		if _, err := tx.Save(ctx, &Order{Status: "tx"}); err != nil {
			return err
		}
		if attempts == 1 {
			return &pq.Error{Code: "40001", Message: "could not serialize access"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	n, err = f.template.Count(ctx, orderType)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestInTxGivesUpAfterAttempts(t *testing.T) {
	f := newFixture(t)
	f.template.SetTxAttempts(2)
	attempts := 0
	err := f.template.InTx(context.Background(), func(context.Context, *AggregateTemplate) error {
		attempts++
		return &pq.Error{Code: "40001"}
	})
	assert.ErrorIs(t, err, ErrTransactionConflict)
	assert.Equal(t, 2, attempts)
}

func TestTranslate(t *testing.T) {
	assert.NoError(t, translate(nil))

	plain := errors.New("plain")
	assert.Same(t, plain, translate(plain))

	err := translate(&pq.Error{Code: "23505"})
	assert.ErrorIs(t, err, ErrDuplicateKey)
	var pqErr *pq.Error
	assert.ErrorAs(t, err, &pqErr)

	assert.ErrorIs(t, translate(&pq.Error{Code: "40001"}), ErrTransactionConflict)
}

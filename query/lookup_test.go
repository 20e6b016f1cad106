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

package query

import (
	"context"
	"database/sql"
	"reflect"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/schema"

	"github.com/tomoncle/hummer-ysql/convert"
	"github.com/tomoncle/hummer-ysql/event"
	"github.com/tomoncle/hummer-ysql/mapping"
)

type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID         int64   `bun:"id,pk,autoincrement"`
	CustomerID int64   `bun:"customer_id"`
	Status     string  `bun:"status"`
	Total      int64   `bun:"total"`
	Note       *string `bun:"note"`
	Paid       bool    `bun:"paid"`
}

type Ghost struct {
	ID int64 `bun:"id,pk"`
}

func strPtr(s string) *string { return &s }

type harness struct {
	db       *bun.DB
	context  *mapping.Context
	bus      *event.Bus
	loaded   int
	deleted  []any
	callback *event.Callbacks
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	_, err = db.NewCreateTable().Model((*Order)(nil)).Exec(ctx)
	require.NoError(t, err)
	orders := []*Order{
		{CustomerID: 1, Status: "open", Total: 10},
		{CustomerID: 1, Status: "paid", Total: 25, Paid: true, Note: strPtr("gift wrap")},
		{CustomerID: 2, Status: "open", Total: 40},
		{CustomerID: 3, Status: "Cancelled", Total: 5, Note: strPtr("late")},
	}
	_, err = db.NewInsert().Model(&orders).Exec(ctx)
	require.NoError(t, err)

	h := &harness{db: db, bus: event.NewBus(), callback: event.NewCallbacks()}
	h.context = mapping.NewContext(db.Dialect())
	require.NoError(t, h.context.Register(&Order{}))
	_, err = h.bus.Subscribe(func(context.Context, *event.Event) error {
		h.loaded++
		return nil
	}, event.AfterLoad)
	require.NoError(t, err)
	_, err = h.bus.Subscribe(func(_ context.Context, e *event.Event) error {
		h.deleted = append(h.deleted, e.EntityID)
		return nil
	}, event.AfterDelete)
	require.NoError(t, err)
	return h
}

func (h *harness) strategy(config MappingConfiguration, beans BeanResolver) *LookupStrategy {
	return NewLookupStrategy(h.bus, h.callback, h.context, convert.NewConverter(), h.db.Dialect(), config, h.db, beans)
}

func (h *harness) run(t *testing.T, m *Method, args ...any) any {
	t.Helper()
	m.Domain = mapping.TypeOf[Order]()
	q, err := h.strategy(nil, nil).ResolveQuery(m)
	require.NoError(t, err)
	assert.Same(t, m, q.Method())
	out, err := q.Execute(context.Background(), args...)
	require.NoError(t, err)
	return out
}

func statuses(t *testing.T, v any) []string {
	t.Helper()
	rows, ok := v.([]any)
	require.True(t, ok, "%T", v)
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.(*Order).Status)
	}
	return out
}

func TestNewLookupStrategyDefaults(t *testing.T) {
	s := NewLookupStrategy(event.NopPublisher{}, nil, mapping.NewContext(pgdialect.New()), convert.NewConverter(),
		pgdialect.New(), nil, nil, nil)
	assert.Equal(t, EmptyMappingConfiguration, s.MappingConfiguration())
	assert.NotNil(t, s.EntityCallbacks())
	assert.Nil(t, s.Operations())
	assert.Nil(t, s.BeanResolver())
	assert.Equal(t, event.NopPublisher{}, s.Publisher())
}

func TestResolveQueryValidation(t *testing.T) {
	h := newHarness(t)
	s := h.strategy(nil, nil)

	_, err := s.ResolveQuery(nil)
	assert.ErrorIs(t, err, ErrInvalidMethod)
	_, err = s.ResolveQuery(&Method{Name: "FindByStatus"})
	assert.ErrorIs(t, err, ErrInvalidMethod)
	_, err = s.ResolveQuery(&Method{Name: "FindByID", Domain: mapping.TypeOf[Ghost]()})
	assert.ErrorIs(t, err, mapping.ErrUnmappedType)
	_, err = s.ResolveQuery(&Method{Name: "FindByColour", Domain: mapping.TypeOf[Order]()})
	assert.ErrorIs(t, err, ErrInvalidMethod)
}

func TestResolveQueryWithoutOperations(t *testing.T) {
	h := newHarness(t)
	m := &Method{Name: "FindByStatus", Domain: mapping.TypeOf[Order]()}

	s := NewLookupStrategy(h.bus, nil, h.context, convert.NewConverter(), h.db.Dialect(), nil, nil, nil)
	_, err := s.ResolveQuery(m)
	assert.ErrorIs(t, err, ErrOperationsUnavailable)

	var db *bun.DB
	s = NewLookupStrategy(h.bus, nil, h.context, convert.NewConverter(), h.db.Dialect(), nil, db, nil)
	_, err = s.ResolveQuery(m)
	assert.ErrorIs(t, err, ErrOperationsUnavailable)
}

func TestDerivedFind(t *testing.T) {
	h := newHarness(t)

	assert.ElementsMatch(t, []string{"open", "open"}, statuses(t, h.run(t, &Method{Name: "FindByStatus"}, "open")))
	assert.Equal(t, 2, h.loaded)

	assert.Equal(t, []string{"Cancelled"}, statuses(t, h.run(t, &Method{Name: "FindByStatusIgnoreCase"}, "cancelled")))
	assert.Equal(t, []string{"open", "paid"},
		statuses(t, h.run(t, &Method{Name: "FindTop2ByCustomerIDLessThanEqualOrderByTotalAsc"}, 2)))
	assert.Equal(t, []string{"paid", "open"},
		statuses(t, h.run(t, &Method{Name: "FindByTotalBetweenOrderByTotalDesc"}, 10, 25)))
	assert.ElementsMatch(t, []string{"paid", "Cancelled"},
		statuses(t, h.run(t, &Method{Name: "FindByStatusIn"}, []string{"paid", "Cancelled"})))
	assert.ElementsMatch(t, []string{"open", "open"},
		statuses(t, h.run(t, &Method{Name: "FindByNoteIsNull"})))
	assert.Equal(t, []string{"paid"}, statuses(t, h.run(t, &Method{Name: "FindByPaidTrue"})))
	assert.Equal(t, []string{"paid"}, statuses(t, h.run(t, &Method{Name: "FindByNoteContaining"}, "wrap")))
	assert.ElementsMatch(t, []string{"paid", "Cancelled"},
		statuses(t, h.run(t, &Method{Name: "FindByStatusOrTotalLessThan"}, "paid", 6)))
	assert.Len(t, statuses(t, h.run(t, &Method{Name: "FindAll"})), 4)
	assert.Len(t, statuses(t, h.run(t, &Method{Name: "FindTopicsByCustomerID"}, 1)), 2)
}

func TestDerivedSingleResult(t *testing.T) {
	h := newHarness(t)

	got := h.run(t, &Method{Name: "FindByTotal", Single: true}, 40)
	require.IsType(t, &Order{}, got)
	assert.Equal(t, int64(2), got.(*Order).CustomerID)

	assert.Nil(t, h.run(t, &Method{Name: "FindByTotal", Single: true}, 999))

	q, err := h.strategy(nil, nil).ResolveQuery(&Method{Name: "FindByCustomerID", Domain: mapping.TypeOf[Order](), Single: true})
	require.NoError(t, err)
	_, err = q.Execute(context.Background(), 1)
	assert.ErrorIs(t, err, ErrIncorrectResultSize)
}

func TestDerivedCountExistsDelete(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, int64(2), h.run(t, &Method{Name: "CountByStatus"}, "open"))
	assert.Equal(t, true, h.run(t, &Method{Name: "ExistsByCustomerID"}, 3))
	assert.Equal(t, false, h.run(t, &Method{Name: "ExistsByCustomerID"}, 9))

	h.callback.Register(event.BeforeDelete, func(_ context.Context, e any) (any, error) {
		assert.Equal(t, "open", e.(*Order).Status)
		return nil, nil
	})
	assert.Equal(t, int64(2), h.run(t, &Method{Name: "DeleteByStatus"}, "open"))
	assert.Len(t, h.deleted, 2)
	assert.Equal(t, int64(2), h.run(t, &Method{Name: "CountByStatusNot"}, "open"))
}

func TestDerivedArgumentErrors(t *testing.T) {
	h := newHarness(t)
	s := h.strategy(nil, nil)

	q, err := s.ResolveQuery(&Method{Name: "FindByStatus", Domain: mapping.TypeOf[Order]()})
	require.NoError(t, err)
	_, err = q.Execute(context.Background())
	assert.ErrorIs(t, err, ErrInvalidMethod)

	q, err = s.ResolveQuery(&Method{Name: "FindByStatusIn", Domain: mapping.TypeOf[Order]()})
	require.NoError(t, err)
	_, err = q.Execute(context.Background(), "open")
	assert.ErrorIs(t, err, ErrInvalidMethod)
}

func TestDerivedCaseInsensitiveSQLFollowsDialect(t *testing.T) {
	render := func(t *testing.T, d schema.Dialect) string {
		t.Helper()
		sqldb, _, err := sqlmock.New()
		require.NoError(t, err)
		db := bun.NewDB(sqldb, d)
		t.Cleanup(func() { _ = db.Close() })

		mc := mapping.NewContext(db.Dialect())
		require.NoError(t, mc.Register(&Order{}))
		s := NewLookupStrategy(nil, nil, mc, convert.NewConverter(), db.Dialect(), nil, db, nil)
		rq, err := s.ResolveQuery(&Method{Name: "FindByStatusContainingIgnoreCase", Domain: mapping.TypeOf[Order]()})
		require.NoError(t, err)

		dq := rq.(*derivedQuery)
		sq, err := dq.selectQuery(dq.entity.NewSlice(), []any{"pen"}, true)
		require.NoError(t, err)
		return sq.String()
	}

	assert.Contains(t, render(t, pgdialect.New()), `"status" ILIKE '%pen%' ESCAPE '\'`)
	assert.Contains(t, render(t, sqlitedialect.New()), `LOWER("status") LIKE LOWER('%pen%') ESCAPE '\'`)
	assert.Contains(t, render(t, mysqldialect.New()), "LOWER(`status`) LIKE LOWER('%pen%') ESCAPE '\\\\'")
}

func TestDerivedLikeEscapesWildcards(t *testing.T) {
	h := newHarness(t)

	assert.Empty(t, statuses(t, h.run(t, &Method{Name: "FindByNoteContaining"}, "%")))
	assert.Empty(t, statuses(t, h.run(t, &Method{Name: "FindByStatusStartingWith"}, "_")))
	assert.Empty(t, statuses(t, h.run(t, &Method{Name: "FindByStatusEndingWith"}, "_")))

	_, err := h.db.NewInsert().Model(&Order{CustomerID: 4, Status: "50%_off", Note: strPtr(`c:\tmp`)}).Exec(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"50%_off"}, statuses(t, h.run(t, &Method{Name: "FindByStatusContaining"}, "%_")))
	assert.Equal(t, []string{"50%_off"}, statuses(t, h.run(t, &Method{Name: "FindByStatusStartingWith"}, "50%")))
	assert.Equal(t, []string{"50%_off"}, statuses(t, h.run(t, &Method{Name: "FindByStatusContainingIgnoreCase"}, "%_OFF")))
	assert.Equal(t, []string{"50%_off"}, statuses(t, h.run(t, &Method{Name: "FindByNoteEndingWith"}, `:\tmp`)))
	assert.Len(t, statuses(t, h.run(t, &Method{Name: "FindByStatusNotContaining"}, "%")), 4)

	// Like keeps the caller's pattern.
	assert.ElementsMatch(t, []string{"open", "open"}, statuses(t, h.run(t, &Method{Name: "FindByStatusLike"}, "o_e%")))
}

func TestDeclaredQueryUsesEntityMapping(t *testing.T) {
	h := newHarness(t)
	h.callback.Register(event.AfterConvert, func(_ context.Context, e any) (any, error) {
		e.(*Order).Status += "!"
		return nil, nil
	})

	out := h.run(t, &Method{Name: "openOrders", Query: "SELECT * FROM orders WHERE status = ? ORDER BY total"}, "open")
	assert.Equal(t, []string{"open!", "open!"}, statuses(t, out))
	assert.Equal(t, 2, h.loaded)
}

func TestDeclaredModifyingQuery(t *testing.T) {
	h := newHarness(t)
	n := h.run(t, &Method{Name: "closeAll", Query: "UPDATE orders SET status = ? WHERE status = ?", Modifying: true},
		"closed", "open")
	assert.Equal(t, int64(2), n)
}

func TestDeclaredQueryRowMapperBeans(t *testing.T) {
	h := newHarness(t)
	statusMapper := RowMapperFunc(func(rows *sql.Rows, _ int) (any, error) {
		var s string
		err := rows.Scan(&s)
		return s, err
	})
	m := &Method{
		Name:         "statuses",
		Domain:       mapping.TypeOf[Order](),
		Query:        "SELECT status FROM orders ORDER BY id",
		RowMapperRef: "statusMapper",
	}

	_, err := h.strategy(nil, nil).ResolveQuery(m)
	assert.ErrorIs(t, err, ErrBeanResolverMissing)

	_, err = h.strategy(nil, Beans{}).ResolveQuery(m)
	assert.ErrorIs(t, err, ErrUnknownBean)

	_, err = h.strategy(nil, Beans{"statusMapper": 42}).ResolveQuery(m)
	assert.ErrorIs(t, err, ErrInvalidMethod)

	q, err := h.strategy(nil, Beans{"statusMapper": statusMapper}).ResolveQuery(m)
	require.NoError(t, err)
	out, err := q.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []any{"open", "paid", "open", "Cancelled"}, out)
	assert.Zero(t, h.loaded)
}

func TestDeclaredQueryResultSetExtractor(t *testing.T) {
	h := newHarness(t)
	counter := ResultSetExtractorFunc(func(rows *sql.Rows) (any, error) {
		n := 0
		for rows.Next() {
			n++
		}
		return n, nil
	})
	m := &Method{
		Name:                  "countRows",
		Domain:                mapping.TypeOf[Order](),
		Query:                 "SELECT id FROM orders",
		ResultSetExtractorRef: "counter",
	}
	q, err := h.strategy(nil, Beans{"counter": counter}).ResolveQuery(m)
	require.NoError(t, err)
	out, err := q.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, out)
}

func TestDeclaredQueryMappingConfiguration(t *testing.T) {
	h := newHarness(t)
	config := NewDefaultMappingConfiguration().RegisterRowMapper(reflect.TypeOf(&Order{}), RowMapperFunc(
		func(rows *sql.Rows, rowNum int) (any, error) {
			o := &Order{}
			if err := rows.Scan(&o.ID, &o.Status); err != nil {
				return nil, err
			}
			o.Total = int64(rowNum)
			return o, nil
		}))
	_, ok := config.RowMapper(mapping.TypeOf[Order]())
	require.True(t, ok)

	q, err := h.strategy(config, nil).ResolveQuery(&Method{
		Name:   "idsAndStatus",
		Domain: mapping.TypeOf[Order](),
		Query:  "SELECT id, status FROM orders WHERE customer_id = ? ORDER BY id",
	})
	require.NoError(t, err)
	out, err := q.Execute(context.Background(), 1)
	require.NoError(t, err)
	rows := out.([]any)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[1].(*Order).Total)
	assert.Equal(t, 2, h.loaded)
}

func TestDeclaredQueryFormatsArgumentsThroughHandle(t *testing.T) {
	sqldb, mock, err := sqlmock.New()
	require.NoError(t, err)
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	mc := mapping.NewContext(db.Dialect())
	require.NoError(t, mc.Register(&Order{}))
	s := NewLookupStrategy(event.NopPublisher{}, nil, mc, convert.NewConverter(), db.Dialect(),
		EmptyMappingConfiguration, db, nil)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, status FROM orders WHERE status = 'open'`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow(int64(7), "open"))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM orders WHERE id = 7`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	q, err := s.ResolveQuery(&Method{
		Name:   "byStatus",
		Domain: mapping.TypeOf[Order](),
		Query:  "SELECT id, status FROM orders WHERE status = ?",
		Single: true,
	})
	require.NoError(t, err)
	out, err := q.Execute(context.Background(), "open")
	require.NoError(t, err)
	assert.Equal(t, int64(7), out.(*Order).ID)

	q, err = s.ResolveQuery(&Method{
		Name:      "purge",
		Domain:    mapping.TypeOf[Order](),
		Query:     "DELETE FROM orders WHERE id = ?",
		Modifying: true,
	})
	require.NoError(t, err)
	n, err := q.Execute(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "CREATE_IF_NOT_FOUND", CreateIfNotFound.String())
	assert.Equal(t, "USE_DECLARED_QUERY", UseDeclaredQuery.String())
	assert.Equal(t, "Key(9)", Key(9).String())
	assert.Nil(t, DefaultEvaluationContextProvider.EvaluationContext(&Method{}, nil))
}

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
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"github.com/tomoncle/hummer-ysql/access"
	"github.com/tomoncle/hummer-ysql/event"
)

// derivedQuery runs a statement built from the method name.
type derivedQuery struct {
	base
	tree *partTree
}

func (q *derivedQuery) Execute(ctx context.Context, args ...any) (any, error) {
	switch q.tree.subject {
	case subjectCount:
		sq, err := q.selectQuery(q.entity.NewInstance(), args, false)
		if err != nil {
			return nil, err
		}
		n, err := sq.Count(ctx)
		return int64(n), err
	case subjectExists:
		sq, err := q.selectQuery(q.entity.NewInstance(), args, false)
		if err != nil {
			return nil, err
		}
		return sq.Exists(ctx)
	case subjectDelete:
		return q.delete(ctx, args)
	default:
		values, err := q.find(ctx, args)
		if err != nil {
			return nil, err
		}
		return q.result(values)
	}
}

func (q *derivedQuery) find(ctx context.Context, args []any) ([]any, error) {
	slice := q.entity.NewSlice()
	sq, err := q.selectQuery(slice, args, true)
	if err != nil {
		return nil, err
	}
	if err := sq.Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return q.loadedAll(ctx, access.Flatten(slice))
}

// delete removes every matching aggregate one by one so that delete events
// and callbacks see each of them. It returns the number removed.
func (q *derivedQuery) delete(ctx context.Context, args []any) (int64, error) {
	slice := q.entity.NewSlice()
	sq, err := q.selectQuery(slice, args, false)
	if err != nil {
		return 0, err
	}
	if err := sq.Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	var n int64
	for _, v := range access.Flatten(slice) {
		id, err := q.entity.ID(v)
		if err != nil {
			return n, err
		}
		if v, err = q.trigger(ctx, event.BeforeDelete, id, v); err != nil {
			return n, err
		}
		res, err := q.operations.NewDelete().
			Model(q.entity.NewInstance()).
			Where("? = ?", bun.Ident(q.entity.IDColumn()), id).
			Exec(ctx)
		if err != nil {
			return n, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return n, err
		}
		n += affected
		if _, err := q.trigger(ctx, event.AfterDelete, id, v); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (q *derivedQuery) trigger(ctx context.Context, kind event.Kind, id, value any) (any, error) {
	if q.publisher != nil {
		if err := q.publisher.Publish(ctx, event.New(kind, q.entity.Type(), id, value)); err != nil {
			return nil, err
		}
	}
	return q.callbacks.Callback(ctx, kind, value)
}

// selectQuery builds the SELECT for model. Sorting, distinct and limits only
// apply when shaped is set.
func (q *derivedQuery) selectQuery(model any, args []any, shaped bool) (*bun.SelectQuery, error) {
	where, whereArgs, err := q.where(args)
	if err != nil {
		return nil, err
	}
	sq := q.operations.NewSelect().Model(model)
	if where != "" {
		sq = sq.Where(where, whereArgs...)
	}
	if !shaped {
		return sq, nil
	}
	if q.tree.distinct {
		sq = sq.Distinct()
	}
	for _, o := range q.tree.orders {
		if o.desc {
			sq = sq.OrderExpr("? DESC", bun.Ident(o.column))
		} else {
			sq = sq.OrderExpr("? ASC", bun.Ident(o.column))
		}
	}
	if q.tree.limit > 0 {
		sq = sq.Limit(q.tree.limit)
	}
	return sq, nil
}

// where renders the predicate as a bun query fragment with its arguments.
func (q *derivedQuery) where(args []any) (string, []any, error) {
	if want := q.tree.arity(); len(args) != want {
		return "", nil, fmt.Errorf("%w: %s takes %d arguments, got %d", ErrInvalidMethod, q.method, want, len(args))
	}
	var (
		groups  []string
		outArgs []any
		next    int
	)
	for _, group := range q.tree.groups {
		conds := make([]string, 0, len(group))
		for _, p := range group {
			n := p.op.arity()
			cond, condArgs, err := q.condition(p, args[next:next+n])
			if err != nil {
				return "", nil, err
			}
			next += n
			conds = append(conds, cond)
			outArgs = append(outArgs, condArgs...)
		}
		expr := strings.Join(conds, " AND ")
		if len(q.tree.groups) > 1 {
			expr = "(" + expr + ")"
		}
		groups = append(groups, expr)
	}
	return strings.Join(groups, " OR "), outArgs, nil
}

func (q *derivedQuery) condition(p part, args []any) (string, []any, error) {
	col := bun.Ident(p.column)
	switch p.op {
	case opEquals:
		return q.compare("=", p.ignoreCase), []any{col, args[0]}, nil
	case opNot:
		return q.compare("<>", p.ignoreCase), []any{col, args[0]}, nil
	case opGreaterThan:
		return "? > ?", []any{col, args[0]}, nil
	case opGreaterThanEqual:
		return "? >= ?", []any{col, args[0]}, nil
	case opLessThan:
		return "? < ?", []any{col, args[0]}, nil
	case opLessThanEqual:
		return "? <= ?", []any{col, args[0]}, nil
	case opBetween:
		return "? BETWEEN ? AND ?", []any{col, args[0], args[1]}, nil
	case opLike:
		return q.like(false, p.ignoreCase, false), []any{col, args[0]}, nil
	case opNotLike:
		return q.like(true, p.ignoreCase, false), []any{col, args[0]}, nil
	case opContaining:
		return q.like(false, p.ignoreCase, true), []any{col, "%" + escapeLike(args[0]) + "%"}, nil
	case opNotContaining:
		return q.like(true, p.ignoreCase, true), []any{col, "%" + escapeLike(args[0]) + "%"}, nil
	case opStartingWith:
		return q.like(false, p.ignoreCase, true), []any{col, escapeLike(args[0]) + "%"}, nil
	case opEndingWith:
		return q.like(false, p.ignoreCase, true), []any{col, "%" + escapeLike(args[0])}, nil
	case opIsNull:
		return "? IS NULL", []any{col}, nil
	case opIsNotNull:
		return "? IS NOT NULL", []any{col}, nil
	case opIn, opNotIn:
		if k := reflect.ValueOf(args[0]).Kind(); k != reflect.Slice && k != reflect.Array {
			return "", nil, fmt.Errorf("%w: %s needs a slice for %s, got %T", ErrInvalidMethod, q.method, p.column, args[0])
		}
		if p.op == opNotIn {
			return "? NOT IN (?)", []any{col, bun.In(args[0])}, nil
		}
		return "? IN (?)", []any{col, bun.In(args[0])}, nil
	case opTrue:
		return "? = ?", []any{col, true}, nil
	case opFalse:
		return "? = ?", []any{col, false}, nil
	default:
		return "", nil, fmt.Errorf("%w: unsupported operator on %s", ErrInvalidMethod, p.column)
	}
}

func (q *derivedQuery) compare(op string, ignoreCase bool) string {
	if ignoreCase {
		return "LOWER(?) " + op + " LOWER(?)"
	}
	return "? " + op + " ?"
}

// likeEscaper quotes the LIKE wildcards of a literal operand.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(v any) string {
	return likeEscaper.Replace(fmt.Sprint(v))
}

// like renders a LIKE comparison. PostgreSQL and YSQL match case-insensitively
// with ILIKE; other engines compare lower-cased values. Escaped patterns carry
// an ESCAPE clause naming the backslash.
func (q *derivedQuery) like(not, ignoreCase, escaped bool) string {
	keyword := "LIKE"
	if not {
		keyword = "NOT LIKE"
	}
	var expr string
	switch {
	case !ignoreCase:
		expr = "? " + keyword + " ?"
	case q.dialect != nil && q.dialect.Name() == dialect.PG:
		expr = "? " + strings.Replace(keyword, "LIKE", "ILIKE", 1) + " ?"
	default:
		expr = "LOWER(?) " + keyword + " LOWER(?)"
	}
	if !escaped {
		return expr
	}
	if q.dialect != nil && q.dialect.Name() == dialect.MySQL {
		return expr + ` ESCAPE '\\'`
	}
	return expr + ` ESCAPE '\'`
}

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
)

// declaredQuery runs the SQL attached to a method.
type declaredQuery struct {
	base
	mapper    RowMapper
	extractor ResultSetExtractor
}

func (q *declaredQuery) Execute(ctx context.Context, args ...any) (any, error) {
	if q.method.Modifying {
		res, err := q.operations.ExecContext(ctx, q.method.Query, args...)
		if err != nil {
			return nil, err
		}
		return res.RowsAffected()
	}

	rows, err := q.operations.QueryContext(ctx, q.method.Query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if q.extractor != nil {
		v, err := q.extractor.ExtractData(rows)
		if err != nil {
			return nil, err
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return q.loaded(ctx, v)
	}

	var values []any
	for i := 0; rows.Next(); i++ {
		v, err := q.mapper.MapRow(rows, i)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if values == nil {
		values = []any{}
	}
	if values, err = q.loadedAll(ctx, values); err != nil {
		return nil, err
	}
	return q.result(values)
}

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

package database

import (
	"fmt"

	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

// NewDialect returns the bun dialect for a database type. YugabyteDB speaks
// the PostgreSQL wire protocol and SQL dialect, so it shares pgdialect.
func NewDialect(typ string) (schema.Dialect, error) {
	switch NormalizeType(typ) {
	case TypeYugabyteDB, TypePostgres:
		return pgdialect.New(), nil
	case TypeMySQL:
		return mysqldialect.New(), nil
	case TypeSQLite:
		return sqlitedialect.New(), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", typ)
	}
}

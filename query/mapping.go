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
	"database/sql"
	"reflect"

	"github.com/tomoncle/hummer-ysql/convert"
	"github.com/tomoncle/hummer-ysql/mapping"
)

// RowMapper maps the current row of rows. rowNum starts at zero.
type RowMapper interface {
	MapRow(rows *sql.Rows, rowNum int) (any, error)
}

type RowMapperFunc func(rows *sql.Rows, rowNum int) (any, error)

func (f RowMapperFunc) MapRow(rows *sql.Rows, rowNum int) (any, error) { return f(rows, rowNum) }

// ResultSetExtractor consumes a whole result set. It must not close rows.
type ResultSetExtractor interface {
	ExtractData(rows *sql.Rows) (any, error)
}

type ResultSetExtractorFunc func(rows *sql.Rows) (any, error)

func (f ResultSetExtractorFunc) ExtractData(rows *sql.Rows) (any, error) { return f(rows) }

// MappingConfiguration supplies row mappers for declared queries by result type.
type MappingConfiguration interface {
	RowMapper(typ reflect.Type) (RowMapper, bool)
}

type emptyMappingConfiguration struct{}

func (emptyMappingConfiguration) RowMapper(reflect.Type) (RowMapper, bool) { return nil, false }

// EmptyMappingConfiguration has no mappers, so entity mapping always applies.
var EmptyMappingConfiguration MappingConfiguration = emptyMappingConfiguration{}

// DefaultMappingConfiguration is a map backed MappingConfiguration. Fill it
// before handing it to a factory; it is not safe for concurrent writes.
type DefaultMappingConfiguration struct {
	mappers map[reflect.Type]RowMapper
}

func NewDefaultMappingConfiguration() *DefaultMappingConfiguration {
	return &DefaultMappingConfiguration{mappers: make(map[reflect.Type]RowMapper)}
}

// RegisterRowMapper maps results of typ with mapper. Pointer types are
// registered under their element type.
func (c *DefaultMappingConfiguration) RegisterRowMapper(typ reflect.Type, mapper RowMapper) *DefaultMappingConfiguration {
	c.mappers[indirect(typ)] = mapper
	return c
}

func (c *DefaultMappingConfiguration) RowMapper(typ reflect.Type) (RowMapper, bool) {
	m, ok := c.mappers[indirect(typ)]
	return m, ok
}

// entityRowMapper builds aggregates through the converter.
type entityRowMapper struct {
	entity    *mapping.PersistentEntity
	converter convert.Converter
}

func (m *entityRowMapper) MapRow(rows *sql.Rows, _ int) (any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	values := make([]any, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, err
	}
	return m.converter.Read(m.entity, columns, values)
}

func indirect(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

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

package mapping

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/uptrace/bun/schema"
)

// PersistentEntity describes how a domain type is stored: its table, its
// columns and the field that carries its identity.
type PersistentEntity struct {
	table   *schema.Table
	idField *schema.Field
	columns []string
}

func newPersistentEntity(table *schema.Table) (*PersistentEntity, error) {
	switch len(table.PKs) {
	case 0:
		return nil, fmt.Errorf("%w: %s has no primary key", ErrInvalidModel, table.TypeName)
	case 1:
	default:
		return nil, fmt.Errorf("%w: %s has a composite primary key", ErrInvalidModel, table.TypeName)
	}

	columns := make([]string, 0, len(table.Fields))
	for _, f := range table.Fields {
		columns = append(columns, f.Name)
	}
	return &PersistentEntity{
		table:   table,
		idField: table.PKs[0],
		columns: columns,
	}, nil
}

// Type returns the struct type of the entity.
func (e *PersistentEntity) Type() reflect.Type { return e.table.Type }

// Name returns the Go type name.
func (e *PersistentEntity) Name() string { return e.table.TypeName }

// TableName returns the unquoted table name.
func (e *PersistentEntity) TableName() string { return e.table.Name }

// Table exposes the underlying bun table metadata.
func (e *PersistentEntity) Table() *schema.Table { return e.table }

// IDField returns the bun field mapped to the primary key.
func (e *PersistentEntity) IDField() *schema.Field { return e.idField }

// IDProperty returns the Go name of the identifier field.
func (e *PersistentEntity) IDProperty() string { return e.idField.GoName }

// IDColumn returns the column name of the identifier.
func (e *PersistentEntity) IDColumn() string { return e.idField.Name }

// IDType returns the non-pointer Go type of the identifier.
func (e *PersistentEntity) IDType() reflect.Type { return e.idField.IndirectType }

// Columns returns the persisted column names in struct order.
func (e *PersistentEntity) Columns() []string {
	out := make([]string, len(e.columns))
	copy(out, e.columns)
	return out
}

// Field returns the field for a column name or a Go property name.
func (e *PersistentEntity) Field(name string) (*schema.Field, bool) {
	if f, ok := e.table.FieldMap[name]; ok {
		return f, true
	}
	for _, f := range e.table.Fields {
		if strings.EqualFold(f.GoName, name) {
			return f, true
		}
	}
	return nil, false
}

// Column resolves a property name such as "CustomerID" to its column.
func (e *PersistentEntity) Column(property string) (string, bool) {
	f, ok := e.Field(property)
	if !ok {
		return "", false
	}
	return f.Name, true
}

// NewInstance returns a pointer to a new zero value of the entity.
func (e *PersistentEntity) NewInstance() any {
	return reflect.New(e.table.Type).Interface()
}

// NewSlice returns a pointer to an empty []*Entity, suitable for bun scans.
func (e *PersistentEntity) NewSlice() any {
	return reflect.New(reflect.SliceOf(reflect.PointerTo(e.table.Type))).Interface()
}

// Struct returns the struct value behind v, which may be a pointer or a value.
func (e *PersistentEntity) Struct(v any) (reflect.Value, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return reflect.Value{}, fmt.Errorf("%w: nil %s", ErrTypeMismatch, e.table.TypeName)
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return reflect.Value{}, fmt.Errorf("%w: nil %s", ErrTypeMismatch, e.table.TypeName)
	}
	if rv.Type() != e.table.Type {
		return reflect.Value{}, fmt.Errorf("%w: got %s, want %s", ErrTypeMismatch, rv.Type(), e.table.Type)
	}
	return rv, nil
}

// ID returns the identifier held by v, or nil for an unset pointer identifier.
func (e *PersistentEntity) ID(v any) (any, error) {
	rv, err := e.Struct(v)
	if err != nil {
		return nil, err
	}
	if e.idField.IsPtr && e.idField.HasNilValue(rv) {
		return nil, nil
	}
	fv := e.idField.Value(rv)
	if fv.Kind() == reflect.Pointer {
		fv = fv.Elem()
	}
	return fv.Interface(), nil
}

// IsNew reports whether v has not been persisted yet, i.e. its identifier
// holds the zero value.
func (e *PersistentEntity) IsNew(v any) (bool, error) {
	rv, err := e.Struct(v)
	if err != nil {
		return false, err
	}
	if e.idField.IsPtr {
		return e.idField.HasNilValue(rv), nil
	}
	return e.idField.HasZeroValue(rv), nil
}

func (e *PersistentEntity) String() string {
	return fmt.Sprintf("PersistentEntity<%s table=%s id=%s>", e.table.TypeName, e.table.Name, e.idField.Name)
}

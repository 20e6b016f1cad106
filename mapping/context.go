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
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/uptrace/bun/schema"
)

// Context is the registry of persistent entities. Models are registered once
// during startup; lookups are safe for concurrent use afterwards.
type Context struct {
	dialect  schema.Dialect
	entities *xsync.MapOf[reflect.Type, *PersistentEntity]
}

// NewContext creates an empty mapping context whose table metadata is derived
// by the given dialect.
func NewContext(dialect schema.Dialect) *Context {
	return &Context{
		dialect:  dialect,
		entities: xsync.NewMapOf[reflect.Type, *PersistentEntity](),
	}
}

// Dialect returns the dialect used to derive table metadata.
func (c *Context) Dialect() schema.Dialect { return c.dialect }

// Register adds struct models, given as pointers or values, to the context.
func (c *Context) Register(models ...any) error {
	for _, model := range models {
		if model == nil {
			return fmt.Errorf("%w: nil model", ErrInvalidModel)
		}
		typ := indirectType(reflect.TypeOf(model))
		if typ.Kind() != reflect.Struct {
			return fmt.Errorf("%w: %s is not a struct", ErrInvalidModel, typ)
		}
		if _, ok := c.entities.Load(typ); ok {
			continue
		}
		entity, err := newPersistentEntity(c.dialect.Tables().Get(typ))
		if err != nil {
			return err
		}
		c.entities.Store(typ, entity)
	}
	return nil
}

// MustRegister is like Register but panics on error.
func (c *Context) MustRegister(models ...any) *Context {
	if err := c.Register(models...); err != nil {
		panic(err)
	}
	return c
}

// PersistentEntity returns the entity for typ if it is registered.
func (c *Context) PersistentEntity(typ reflect.Type) (*PersistentEntity, bool) {
	if typ == nil {
		return nil, false
	}
	return c.entities.Load(indirectType(typ))
}

// RequiredPersistentEntity returns the entity for typ or an UnmappedTypeError.
func (c *Context) RequiredPersistentEntity(typ reflect.Type) (*PersistentEntity, error) {
	entity, ok := c.PersistentEntity(typ)
	if !ok {
		return nil, &UnmappedTypeError{Type: typ}
	}
	return entity, nil
}

// EntityFor resolves the entity of a domain value.
func (c *Context) EntityFor(v any) (*PersistentEntity, error) {
	if v == nil {
		return nil, &UnmappedTypeError{}
	}
	return c.RequiredPersistentEntity(reflect.TypeOf(v))
}

// PersistentEntities returns every registered entity ordered by table name.
func (c *Context) PersistentEntities() []*PersistentEntity {
	result := make([]*PersistentEntity, 0, c.entities.Size())
	c.entities.Range(func(_ reflect.Type, e *PersistentEntity) bool {
		result = append(result, e)
		return true
	})
	sort.Slice(result, func(i, j int) bool {
		return result[i].TableName() < result[j].TableName()
	})
	return result
}

// TypeOf returns the struct type of T, dereferencing pointers.
func TypeOf[T any]() reflect.Type {
	return indirectType(reflect.TypeOf((*T)(nil)).Elem())
}

func indirectType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

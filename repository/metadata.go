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

package repository

import (
	"fmt"
	"reflect"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/tomoncle/hummer-ysql/core"
	"github.com/tomoncle/hummer-ysql/mapping"
	"github.com/tomoncle/hummer-ysql/query"
)

// BaseClass names a registered repository implementation.
type BaseClass string

// SimpleRepositoryClass is the implementation every factory repository is built on.
const SimpleRepositoryClass BaseClass = "SimpleRepository"

// Metadata describes a repository declaration.
type Metadata struct {
	// Interface is the name the repository is known by, used in logs.
	Interface string
	// Domain is the aggregate type the repository manages.
	Domain reflect.Type
	// Methods are the query methods beyond the base CRUD operations. A
	// method without a Domain inherits the repository's.
	Methods []*query.Method
}

func (m *Metadata) String() string {
	if m.Interface != "" {
		return m.Interface
	}
	if m.Domain == nil {
		return "Repository[?]"
	}
	return "Repository[" + m.Domain.Name() + "]"
}

// Information is Metadata plus the implementation chosen for it.
type Information struct {
	Metadata
	BaseClass BaseClass
}

// Builder creates a target repository for entity on top of template.
type Builder func(template *core.AggregateTemplate, entity *mapping.PersistentEntity) (any, error)

var builders = xsync.NewMapOf[BaseClass, Builder]()

func init() {
	_ = RegisterBuilder(SimpleRepositoryClass, func(template *core.AggregateTemplate, entity *mapping.PersistentEntity) (any, error) {
		return NewSimpleRepository(template, entity)
	})
}

// RegisterBuilder associates class with builder, replacing any previous one.
func RegisterBuilder(class BaseClass, builder Builder) error {
	if class == "" {
		return fmt.Errorf("%w: empty base class", ErrInvalidConfiguration)
	}
	if builder == nil {
		return fmt.Errorf("%w: nil builder for %s", ErrInvalidConfiguration, class)
	}
	builders.Store(class, builder)
	return nil
}

// LookupBuilder returns the builder registered for class.
func LookupBuilder(class BaseClass) (Builder, bool) {
	return builders.Load(class)
}

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
	"fmt"
	"reflect"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"

	"github.com/tomoncle/hummer-ysql/convert"
	"github.com/tomoncle/hummer-ysql/event"
	"github.com/tomoncle/hummer-ysql/mapping"
)

// LookupStrategy turns query methods into executable queries. Methods with
// declared SQL run it as is; the others are derived from the method name.
type LookupStrategy struct {
	publisher  event.Publisher
	callbacks  *event.Callbacks
	context    *mapping.Context
	converter  convert.Converter
	dialect    schema.Dialect
	config     MappingConfiguration
	operations bun.IDB
	beans      BeanResolver
}

// NewLookupStrategy creates a strategy. callbacks, config, operations and
// beans may be nil.
func NewLookupStrategy(
	publisher event.Publisher,
	callbacks *event.Callbacks,
	mappingContext *mapping.Context,
	converter convert.Converter,
	dialect schema.Dialect,
	config MappingConfiguration,
	operations bun.IDB,
	beans BeanResolver,
) *LookupStrategy {
	if callbacks == nil {
		callbacks = event.NewCallbacks()
	}
	if config == nil {
		config = EmptyMappingConfiguration
	}
	return &LookupStrategy{
		publisher:  publisher,
		callbacks:  callbacks,
		context:    mappingContext,
		converter:  converter,
		dialect:    dialect,
		config:     config,
		operations: operations,
		beans:      beans,
	}
}

func (s *LookupStrategy) Dialect() schema.Dialect { return s.dialect }

func (s *LookupStrategy) MappingConfiguration() MappingConfiguration { return s.config }

func (s *LookupStrategy) Operations() bun.IDB { return s.operations }

func (s *LookupStrategy) BeanResolver() BeanResolver { return s.beans }

func (s *LookupStrategy) EntityCallbacks() *event.Callbacks { return s.callbacks }

func (s *LookupStrategy) Publisher() event.Publisher { return s.publisher }

// ResolveQuery validates method and returns its executable form. Every
// problem, including missing beans and unknown properties, surfaces here
// rather than on the first call.
func (s *LookupStrategy) ResolveQuery(method *Method) (RepositoryQuery, error) {
	if method == nil || method.Name == "" {
		return nil, fmt.Errorf("%w: method without a name", ErrInvalidMethod)
	}
	if method.Domain == nil {
		return nil, fmt.Errorf("%w: %s has no domain type", ErrInvalidMethod, method.Name)
	}
	entity, err := s.context.RequiredPersistentEntity(method.Domain)
	if err != nil {
		return nil, err
	}
	if isNilHandle(s.operations) {
		return nil, fmt.Errorf("%w: %s", ErrOperationsUnavailable, method)
	}

	if strings.TrimSpace(method.Query) == "" {
		tree, err := parseMethodName(method.Name, entity)
		if err != nil {
			return nil, err
		}
		return &derivedQuery{base: s.base(method, entity), tree: tree}, nil
	}

	q := &declaredQuery{base: s.base(method, entity)}
	if method.Modifying {
		return q, nil
	}
	if q.extractor, err = s.resultSetExtractor(method); err != nil {
		return nil, err
	}
	if q.extractor == nil {
		if q.mapper, err = s.rowMapper(method, entity); err != nil {
			return nil, err
		}
	}
	return q, nil
}

func (s *LookupStrategy) base(method *Method, entity *mapping.PersistentEntity) base {
	return base{
		method:     method,
		entity:     entity,
		publisher:  s.publisher,
		callbacks:  s.callbacks,
		converter:  s.converter,
		dialect:    s.dialect,
		operations: s.operations,
	}
}

func (s *LookupStrategy) resultSetExtractor(method *Method) (ResultSetExtractor, error) {
	if method.ResultSetExtractor != nil {
		return method.ResultSetExtractor, nil
	}
	if method.ResultSetExtractorRef == "" {
		return nil, nil
	}
	bean, err := s.bean(method.ResultSetExtractorRef)
	if err != nil {
		return nil, err
	}
	extractor, ok := bean.(ResultSetExtractor)
	if !ok {
		return nil, fmt.Errorf("%w: bean %q of %s is a %T, not a ResultSetExtractor",
			ErrInvalidMethod, method.ResultSetExtractorRef, method, bean)
	}
	return extractor, nil
}

func (s *LookupStrategy) rowMapper(method *Method, entity *mapping.PersistentEntity) (RowMapper, error) {
	if method.RowMapper != nil {
		return method.RowMapper, nil
	}
	if method.RowMapperRef != "" {
		bean, err := s.bean(method.RowMapperRef)
		if err != nil {
			return nil, err
		}
		mapper, ok := bean.(RowMapper)
		if !ok {
			return nil, fmt.Errorf("%w: bean %q of %s is a %T, not a RowMapper",
				ErrInvalidMethod, method.RowMapperRef, method, bean)
		}
		return mapper, nil
	}
	if mapper, ok := s.config.RowMapper(method.Domain); ok && mapper != nil {
		return mapper, nil
	}
	return &entityRowMapper{entity: entity, converter: s.converter}, nil
}

func (s *LookupStrategy) bean(name string) (any, error) {
	if s.beans == nil {
		return nil, fmt.Errorf("%w: %q", ErrBeanResolverMissing, name)
	}
	bean, ok := s.beans.Resolve(name)
	if !ok || bean == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBean, name)
	}
	return bean, nil
}

// base holds what every resolved query needs at execution time.
type base struct {
	method     *Method
	entity     *mapping.PersistentEntity
	publisher  event.Publisher
	callbacks  *event.Callbacks
	converter  convert.Converter
	dialect    schema.Dialect
	operations bun.IDB
}

func (b *base) Method() *Method { return b.method }

// loaded publishes AfterLoad and runs the AfterConvert callbacks for values
// that are aggregates of the queried entity. Other values pass through.
func (b *base) loaded(ctx context.Context, value any) (any, error) {
	rv := reflect.ValueOf(value)
	if !rv.IsValid() || rv.Kind() != reflect.Pointer || rv.Type().Elem() != b.entity.Type() {
		return value, nil
	}
	id, _ := b.entity.ID(value)
	if b.publisher != nil {
		if err := b.publisher.Publish(ctx, event.New(event.AfterLoad, b.entity.Type(), id, value)); err != nil {
			return nil, err
		}
	}
	return b.callbacks.Callback(ctx, event.AfterConvert, value)
}

func (b *base) loadedAll(ctx context.Context, values []any) ([]any, error) {
	for i, v := range values {
		l, err := b.loaded(ctx, v)
		if err != nil {
			return nil, err
		}
		values[i] = l
	}
	return values, nil
}

// result shapes a list of rows according to Method.Single.
func (b *base) result(values []any) (any, error) {
	if !b.method.Single {
		return values, nil
	}
	switch len(values) {
	case 0:
		return nil, nil
	case 1:
		return values[0], nil
	default:
		return nil, fmt.Errorf("%w: %s expected at most one result, got %d",
			ErrIncorrectResultSize, b.method, len(values))
	}
}

func isNilHandle(db bun.IDB) bool {
	if db == nil {
		return true
	}
	v := reflect.ValueOf(db)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

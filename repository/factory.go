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
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"

	"github.com/tomoncle/hummer-ysql/access"
	"github.com/tomoncle/hummer-ysql/convert"
	"github.com/tomoncle/hummer-ysql/core"
	"github.com/tomoncle/hummer-ysql/database"
	"github.com/tomoncle/hummer-ysql/event"
	"github.com/tomoncle/hummer-ysql/mapping"
	"github.com/tomoncle/hummer-ysql/query"
)

// Factory creates repositories for YSQL backed aggregates.
//
// A Factory is configured once, through NewFactory and the setters, before
// it is shared. Afterwards its methods are safe for concurrent use.
type Factory struct {
	access     access.Strategy
	context    *mapping.Context
	converter  convert.Converter
	dialect    schema.Dialect
	publisher  event.Publisher
	operations bun.IDB

	beans     query.BeanResolver
	config    query.MappingConfiguration
	callbacks *event.Callbacks
	logger    database.Logger

	txAttempts int
}

// NewFactory validates the collaborators and returns a factory. operations
// may be nil, in which case resolving any query method fails with
// query.ErrOperationsUnavailable.
func NewFactory(
	strategy access.Strategy,
	mappingContext *mapping.Context,
	converter convert.Converter,
	dialect schema.Dialect,
	publisher event.Publisher,
	operations bun.IDB,
) (*Factory, error) {
	for _, c := range []struct {
		name  string
		value any
	}{
		{"data access strategy", strategy},
		{"mapping context", mappingContext},
		{"converter", converter},
		{"dialect", dialect},
		{"event publisher", publisher},
	} {
		if isNil(c.value) {
			return nil, fmt.Errorf("%w: %s must not be nil", ErrInvalidConfiguration, c.name)
		}
	}
	if isNil(operations) {
		operations = nil
	}
	return &Factory{
		access:     strategy,
		context:    mappingContext,
		converter:  converter,
		dialect:    dialect,
		publisher:  publisher,
		operations: operations,
		config:     query.EmptyMappingConfiguration,
		logger:     database.GetLogger(),
		txAttempts: core.DefaultTxAttempts,
	}, nil
}

// SetQueryMappingConfiguration sets the row mappers used by declared queries.
func (f *Factory) SetQueryMappingConfiguration(config query.MappingConfiguration) error {
	if isNil(config) {
		return fmt.Errorf("%w: query mapping configuration must not be nil", ErrInvalidConfiguration)
	}
	f.config = config
	return nil
}

// SetEntityCallbacks sets the callbacks attached to every template and lookup
// strategy created afterwards.
func (f *Factory) SetEntityCallbacks(callbacks *event.Callbacks) error {
	if callbacks == nil {
		return fmt.Errorf("%w: entity callbacks must not be nil", ErrInvalidConfiguration)
	}
	f.callbacks = callbacks
	return nil
}

// SetBeanResolver sets the resolver for row mapper and extractor references.
func (f *Factory) SetBeanResolver(beans query.BeanResolver) error {
	if isNil(beans) {
		return fmt.Errorf("%w: bean resolver must not be nil", ErrInvalidConfiguration)
	}
	f.beans = beans
	return nil
}

// SetLogger replaces the logger used for repository creation messages.
func (f *Factory) SetLogger(logger database.Logger) {
	if logger != nil {
		f.logger = logger
	}
}

// SetTxAttempts bounds how often repositories run a transaction that failed
// with a serialization conflict.
func (f *Factory) SetTxAttempts(n int) {
	if n < 1 {
		n = 1
	}
	f.txAttempts = n
}

func (f *Factory) TxAttempts() int { return f.txAttempts }

func (f *Factory) QueryMappingConfiguration() query.MappingConfiguration { return f.config }

func (f *Factory) EntityCallbacks() *event.Callbacks { return f.callbacks }

func (f *Factory) BeanResolver() query.BeanResolver { return f.beans }

func (f *Factory) MappingContext() *mapping.Context { return f.context }

func (f *Factory) Dialect() schema.Dialect { return f.dialect }

func (f *Factory) Operations() bun.IDB { return f.operations }

// EntityInformation returns the identity metadata of typ.
func (f *Factory) EntityInformation(typ reflect.Type) (mapping.EntityInformation, error) {
	entity, err := f.context.RequiredPersistentEntity(typ)
	if err != nil {
		return nil, err
	}
	return mapping.NewPersistentEntityInformation(entity), nil
}

// RepositoryBaseClass reports the implementation used for meta.
func (f *Factory) RepositoryBaseClass(*Metadata) BaseClass {
	return SimpleRepositoryClass
}

// TargetRepository builds the base implementation for info on a fresh
// aggregate template.
func (f *Factory) TargetRepository(info *Information) (any, error) {
	if info == nil || info.Domain == nil {
		return nil, fmt.Errorf("%w: repository information without domain type", ErrRepositoryInstantiation)
	}
	template := core.NewAggregateTemplate(f.publisher, f.context, f.converter, f.access)
	template.SetTxAttempts(f.txAttempts)
	if f.callbacks != nil {
		template.SetEntityCallbacks(f.callbacks)
	}
	entity, err := f.context.RequiredPersistentEntity(info.Domain)
	if err != nil {
		return nil, err
	}
	builder, ok := LookupBuilder(info.BaseClass)
	if !ok {
		return nil, fmt.Errorf("%w: no builder registered for %q", ErrRepositoryInstantiation, info.BaseClass)
	}
	target, err := builder(template, entity)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRepositoryInstantiation, info.BaseClass, err)
	}
	if target == nil {
		return nil, fmt.Errorf("%w: %s builder returned nil", ErrRepositoryInstantiation, info.BaseClass)
	}
	return target, nil
}

// QueryLookupStrategy returns a new strategy wired with the factory's
// current collaborators. key and provider do not influence the result.
func (f *Factory) QueryLookupStrategy(key query.Key, provider query.EvaluationContextProvider) (*query.LookupStrategy, bool) {
	return query.NewLookupStrategy(
		f.publisher,
		f.callbacks,
		f.context,
		f.converter,
		f.dialect,
		f.config,
		f.operations,
		f.beans,
	), true
}

// Repository assembles the repository described by meta: its target
// implementation and every declared query method, resolved eagerly.
func (f *Factory) Repository(meta *Metadata) (*Instance, error) {
	if meta == nil || meta.Domain == nil {
		return nil, fmt.Errorf("%w: repository metadata without domain type", ErrInvalidConfiguration)
	}
	info := &Information{Metadata: *meta, BaseClass: f.RepositoryBaseClass(meta)}
	target, err := f.TargetRepository(info)
	if err != nil {
		return nil, err
	}

	instance := &Instance{info: info, target: target, queries: make(map[string]query.RepositoryQuery, len(meta.Methods))}
	if len(meta.Methods) > 0 {
		strategy, _ := f.QueryLookupStrategy(query.CreateIfNotFound, query.DefaultEvaluationContextProvider)
		for _, m := range meta.Methods {
			if m == nil {
				return nil, fmt.Errorf("%w: %s declares a nil method", ErrInvalidConfiguration, meta)
			}
			if _, dup := instance.queries[m.Name]; dup {
				return nil, fmt.Errorf("%w: %s declares %s twice", ErrInvalidConfiguration, meta, m.Name)
			}
			method := *m
			if method.Domain == nil {
				method.Domain = meta.Domain
			}
			q, err := strategy.ResolveQuery(&method)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", meta, m.Name, err)
			}
			instance.queries[m.Name] = q
		}
	}

	f.logger.Debug("repository created",
		"repository", meta.String(),
		"domain", meta.Domain.String(),
		"base", info.BaseClass,
		"queries", len(instance.queries))
	return instance, nil
}

// Instance is an assembled repository.
type Instance struct {
	info    *Information
	target  any
	queries map[string]query.RepositoryQuery
}

func (r *Instance) String() string { return r.info.String() }

func (r *Instance) Information() *Information { return r.info }

// Target returns the base implementation, a *SimpleRepository unless another
// builder was registered for the base class.
func (r *Instance) Target() any { return r.target }

func (r *Instance) Query(method string) (query.RepositoryQuery, bool) {
	q, ok := r.queries[method]
	return q, ok
}

// Methods returns the names of the resolved query methods, sorted.
func (r *Instance) Methods() []string {
	names := make([]string, 0, len(r.queries))
	for name := range r.queries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs the query method with the given arguments.
func (r *Instance) Execute(ctx context.Context, method string, args ...any) (any, error) {
	q, ok := r.queries[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownMethod, r, method)
	}
	return q.Execute(ctx, args...)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Func, reflect.Interface, reflect.Slice, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

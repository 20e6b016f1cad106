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
)

// Key selects how query methods are turned into queries. Strategies built by
// the repository factory treat every key alike.
type Key int

const (
	CreateIfNotFound Key = iota
	Create
	UseDeclaredQuery
)

func (k Key) String() string {
	switch k {
	case CreateIfNotFound:
		return "CREATE_IF_NOT_FOUND"
	case Create:
		return "CREATE"
	case UseDeclaredQuery:
		return "USE_DECLARED_QUERY"
	default:
		return fmt.Sprintf("Key(%d)", int(k))
	}
}

// EvaluationContextProvider exposes extra named values to query evaluation.
type EvaluationContextProvider interface {
	EvaluationContext(method *Method, args []any) map[string]any
}

// EvaluationContextProviderFunc adapts a function to EvaluationContextProvider.
type EvaluationContextProviderFunc func(method *Method, args []any) map[string]any

func (f EvaluationContextProviderFunc) EvaluationContext(method *Method, args []any) map[string]any {
	return f(method, args)
}

// DefaultEvaluationContextProvider contributes no values.
var DefaultEvaluationContextProvider EvaluationContextProvider = EvaluationContextProviderFunc(
	func(*Method, []any) map[string]any { return nil },
)

// Method describes a query method declared on a repository.
//
// A method with Query set runs that SQL; bun placeholders (?, ?0) bind the
// call arguments. Without Query, the statement is derived from Name, e.g.
// FindByStatusAndCustomerID or CountByStatusIn.
type Method struct {
	Name   string
	Domain reflect.Type
	Query  string
	// Modifying marks declared statements that return no rows. They report
	// the number of affected rows.
	Modifying bool
	// Single makes a query return one aggregate, or nil, instead of a slice.
	Single bool

	// RowMapperRef and ResultSetExtractorRef name beans resolved through the
	// bean resolver. An explicit RowMapper or ResultSetExtractor wins.
	RowMapperRef          string
	ResultSetExtractorRef string
	RowMapper             RowMapper
	ResultSetExtractor    ResultSetExtractor
}

func (m *Method) String() string {
	if m.Domain == nil {
		return m.Name
	}
	return m.Domain.String() + "." + m.Name
}

// RepositoryQuery is an executable query method.
type RepositoryQuery interface {
	Method() *Method
	Execute(ctx context.Context, args ...any) (any, error)
}

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

import "errors"

var (
	// ErrOperationsUnavailable is returned when a query method is resolved
	// by a strategy that has no query-execution handle.
	ErrOperationsUnavailable = errors.New("query: no query-execution handle configured")
	ErrBeanResolverMissing   = errors.New("query: bean reference used without a bean resolver")
	ErrUnknownBean           = errors.New("query: unknown bean")
	ErrInvalidMethod         = errors.New("query: invalid query method")
	ErrIncorrectResultSize   = errors.New("query: incorrect result size")
)

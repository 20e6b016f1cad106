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

// BeanResolver looks up named helper components such as row mappers.
type BeanResolver interface {
	Resolve(name string) (any, bool)
}

// Beans is a map backed BeanResolver.
type Beans map[string]any

func (b Beans) Resolve(name string) (any, bool) {
	v, ok := b[name]
	return v, ok
}

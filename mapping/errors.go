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
	"errors"
	"fmt"
	"reflect"
)

var (
	// ErrUnmappedType is matched by every UnmappedTypeError.
	ErrUnmappedType = errors.New("mapping: type has no persistent entity")
	// ErrInvalidModel is returned when a model cannot be registered.
	ErrInvalidModel = errors.New("mapping: invalid model")
	// ErrTypeMismatch is returned when a value does not belong to an entity.
	ErrTypeMismatch = errors.New("mapping: value type does not match entity")
)

// UnmappedTypeError reports a domain type missing from the mapping context.
type UnmappedTypeError struct {
	Type reflect.Type
}

func (e *UnmappedTypeError) Error() string {
	if e.Type == nil {
		return ErrUnmappedType.Error()
	}
	return fmt.Sprintf("%s: %s", ErrUnmappedType.Error(), e.Type)
}

func (e *UnmappedTypeError) Is(target error) bool {
	return target == ErrUnmappedType
}

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

package convert

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"

	"github.com/google/uuid"

	"github.com/tomoncle/hummer-ysql/mapping"
)

// ErrConversion is returned when a value cannot be converted.
var ErrConversion = errors.New("convert: conversion failed")

// Row is a column name to value snapshot of an aggregate.
type Row map[string]any

// Converter translates between aggregates and row level values.
type Converter interface {
	// Write snapshots the persisted columns of value.
	Write(entity *mapping.PersistentEntity, value any) (Row, error)
	// Read builds a new aggregate from driver values. Unknown columns are ignored.
	Read(entity *mapping.PersistentEntity, columns []string, values []any) (any, error)
	// ConvertID coerces an identifier argument to the identifier type of entity.
	ConvertID(entity *mapping.PersistentEntity, id any) (any, error)
}

// EntityConverter is the default Converter. It relies on the bun field
// scanners, so it accepts anything the database drivers return.
type EntityConverter struct{}

var _ Converter = (*EntityConverter)(nil)

func NewConverter() *EntityConverter {
	return &EntityConverter{}
}

func (c *EntityConverter) Write(entity *mapping.PersistentEntity, value any) (Row, error) {
	rv, err := entity.Struct(value)
	if err != nil {
		return nil, err
	}
	fields := entity.Table().Fields
	row := make(Row, len(fields))
	for _, f := range fields {
		fv, err := rv.FieldByIndexErr(f.Index)
		if err != nil {
			row[f.Name] = nil
			continue
		}
		if fv.Kind() == reflect.Pointer && fv.IsNil() {
			row[f.Name] = nil
			continue
		}
		row[f.Name] = fv.Interface()
	}
	return row, nil
}

func (c *EntityConverter) Read(entity *mapping.PersistentEntity, columns []string, values []any) (any, error) {
	if len(columns) != len(values) {
		return nil, fmt.Errorf("%w: %d columns, %d values", ErrConversion, len(columns), len(values))
	}
	instance := reflect.New(entity.Type())
	strct := instance.Elem()
	for i, col := range columns {
		f, ok := entity.Table().FieldMap[col]
		if !ok {
			continue
		}
		if err := f.ScanValue(strct, values[i]); err != nil {
			return nil, fmt.Errorf("%w: column %s of %s: %v", ErrConversion, col, entity.Name(), err)
		}
	}
	return instance.Interface(), nil
}

func (c *EntityConverter) ConvertID(entity *mapping.PersistentEntity, id any) (any, error) {
	if id == nil {
		return nil, fmt.Errorf("%w: nil identifier for %s", ErrConversion, entity.Name())
	}
	target := entity.IDType()
	v := reflect.ValueOf(id)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, fmt.Errorf("%w: nil identifier for %s", ErrConversion, entity.Name())
		}
		v = v.Elem()
	}
	if v.Type() == target {
		return v.Interface(), nil
	}
	out, err := convertID(v, target)
	if err != nil {
		return nil, fmt.Errorf("%w: %s identifier of %s: %v", ErrConversion, target, entity.Name(), err)
	}
	return out, nil
}

var uuidType = reflect.TypeOf(uuid.UUID{})

// convertID converts v to target without losing information. Values that
// would wrap, truncate or round are rejected.
func convertID(v reflect.Value, target reflect.Type) (any, error) {
	out := reflect.New(target).Elem()
	switch {
	case target == uuidType:
		return convertUUID(v)
	case target.Kind() == reflect.String:
		if v.Kind() == reflect.String {
			out.SetString(v.String())
			return out.Interface(), nil
		}
		if s, ok := v.Interface().(fmt.Stringer); ok {
			out.SetString(s.String())
			return out.Interface(), nil
		}
	case v.Kind() == reflect.String && isNumber(target.Kind()):
		return parseNumber(v.String(), out)
	case isNumber(v.Kind()) && isNumber(target.Kind()):
		return convertNumber(v, out)
	}
	return nil, fmt.Errorf("cannot use %s", v.Type())
}

func convertUUID(v reflect.Value) (any, error) {
	switch {
	case v.Kind() == reflect.String:
		u, err := uuid.Parse(v.String())
		if err != nil {
			return nil, fmt.Errorf("%q: %v", v.String(), err)
		}
		return u, nil
	case v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8:
		return uuid.FromBytes(v.Bytes())
	case v.Kind() == reflect.Array && v.Type().ConvertibleTo(uuidType):
		return v.Convert(uuidType).Interface(), nil
	}
	return nil, fmt.Errorf("cannot use %s", v.Type())
}

func parseNumber(s string, out reflect.Value) (any, error) {
	switch {
	case isSigned(out.Kind()):
		n, err := strconv.ParseInt(s, 10, out.Type().Bits())
		if err != nil {
			return nil, fmt.Errorf("%q: %v", s, err)
		}
		out.SetInt(n)
	case isUnsigned(out.Kind()):
		n, err := strconv.ParseUint(s, 10, out.Type().Bits())
		if err != nil {
			return nil, fmt.Errorf("%q: %v", s, err)
		}
		out.SetUint(n)
	default:
		f, err := strconv.ParseFloat(s, out.Type().Bits())
		if err != nil {
			return nil, fmt.Errorf("%q: %v", s, err)
		}
		out.SetFloat(f)
	}
	return out.Interface(), nil
}

func convertNumber(v, out reflect.Value) (any, error) {
	switch {
	case isSigned(v.Kind()):
		n := v.Int()
		switch {
		case isSigned(out.Kind()):
			if out.OverflowInt(n) {
				return nil, fmt.Errorf("%d overflows", n)
			}
			out.SetInt(n)
		case isUnsigned(out.Kind()):
			if n < 0 || out.OverflowUint(uint64(n)) {
				return nil, fmt.Errorf("%d out of range", n)
			}
			out.SetUint(uint64(n))
		default:
			out.SetFloat(float64(n))
		}
	case isUnsigned(v.Kind()):
		n := v.Uint()
		switch {
		case isSigned(out.Kind()):
			if n > math.MaxInt64 || out.OverflowInt(int64(n)) {
				return nil, fmt.Errorf("%d overflows", n)
			}
			out.SetInt(int64(n))
		case isUnsigned(out.Kind()):
			if out.OverflowUint(n) {
				return nil, fmt.Errorf("%d overflows", n)
			}
			out.SetUint(n)
		default:
			out.SetFloat(float64(n))
		}
	default:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%v is not a finite number", f)
		}
		switch {
		case isSigned(out.Kind()):
			if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 || out.OverflowInt(int64(f)) {
				return nil, fmt.Errorf("%v is not a %s", f, out.Type())
			}
			out.SetInt(int64(f))
		case isUnsigned(out.Kind()):
			if f != math.Trunc(f) || f < 0 || f >= math.MaxUint64 || out.OverflowUint(uint64(f)) {
				return nil, fmt.Errorf("%v is not a %s", f, out.Type())
			}
			out.SetUint(uint64(f))
		default:
			if out.OverflowFloat(f) {
				return nil, fmt.Errorf("%v overflows", f)
			}
			out.SetFloat(f)
		}
	}
	return out.Interface(), nil
}

func isSigned(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isUnsigned(k reflect.Kind) bool {
	switch k {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}

func isInteger(k reflect.Kind) bool {
	return isSigned(k) || isUnsigned(k)
}

func isNumber(k reflect.Kind) bool {
	return isInteger(k) || k == reflect.Float32 || k == reflect.Float64
}

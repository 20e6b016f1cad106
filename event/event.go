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

package event

import (
	"context"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/tomoncle/hummer-ysql/convert"
)

// Kind identifies an aggregate lifecycle step.
type Kind int

const (
	BeforeConvert Kind = iota
	BeforeSave
	AfterSave
	BeforeDelete
	AfterDelete
	AfterLoad
	AfterConvert
)

func (k Kind) String() string {
	switch k {
	case BeforeConvert:
		return "BeforeConvert"
	case BeforeSave:
		return "BeforeSave"
	case AfterSave:
		return "AfterSave"
	case BeforeDelete:
		return "BeforeDelete"
	case AfterDelete:
		return "AfterDelete"
	case AfterLoad:
		return "AfterLoad"
	case AfterConvert:
		return "AfterConvert"
	default:
		return "Unknown"
	}
}

// Event is a lifecycle notification. Entity is nil for deletes by id; Row is
// only filled for save events.
type Event struct {
	ID       uuid.UUID
	Kind     Kind
	Type     reflect.Type
	EntityID any
	Entity   any
	Row      convert.Row
	Time     time.Time
}

// New creates an event stamped with a random id and the current time.
func New(kind Kind, typ reflect.Type, id any, entity any) *Event {
	return &Event{
		ID:       uuid.New(),
		Kind:     kind,
		Type:     typ,
		EntityID: id,
		Entity:   entity,
		Time:     time.Now(),
	}
}

// WithRow attaches a column snapshot and returns the event.
func (e *Event) WithRow(row convert.Row) *Event {
	e.Row = row
	return e
}

// Publisher receives lifecycle events. A listener error aborts the running
// operation.
type Publisher interface {
	Publish(ctx context.Context, e *Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, e *Event) error

func (f PublisherFunc) Publish(ctx context.Context, e *Event) error { return f(ctx, e) }

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, *Event) error { return nil }

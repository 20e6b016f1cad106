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
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"sync"
)

var (
	ErrBusClosed    = errors.New("event: bus is closed")
	ErrNilHandler   = errors.New("event: handler is nil")
	ErrHandlerPanic = errors.New("event: handler panicked")
)

// Handler reacts to a published event.
type Handler func(ctx context.Context, e *Event) error

type subscription struct {
	id      uint64
	kinds   map[Kind]struct{}
	typ     reflect.Type
	handler Handler
}

func (s *subscription) matches(e *Event) bool {
	if len(s.kinds) > 0 {
		if _, ok := s.kinds[e.Kind]; !ok {
			return false
		}
	}
	return s.typ == nil || s.typ == e.Type
}

// Bus is a synchronous in-memory Publisher. Handlers run in subscription
// order on the publishing goroutine; the first error stops delivery.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscription
	nextID uint64
	closed bool
}

var _ Publisher = (*Bus)(nil)

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers h for the given kinds; no kinds means every kind.
// The returned function removes the subscription.
func (b *Bus) Subscribe(h Handler, kinds ...Kind) (func(), error) {
	return b.subscribe(nil, h, kinds)
}

// SubscribeType is like Subscribe but only for events about aggregates of typ.
func (b *Bus) SubscribeType(typ reflect.Type, h Handler, kinds ...Kind) (func(), error) {
	for typ != nil && typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	return b.subscribe(typ, h, kinds)
}

func (b *Bus) subscribe(typ reflect.Type, h Handler, kinds []Kind) (func(), error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	set := make(map[Kind]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, &subscription{id: id, kinds: set, typ: typ, handler: h})
	return func() { b.unsubscribe(id) }, nil
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

func (b *Bus) Publish(ctx context.Context, e *Event) error {
	if e == nil {
		return nil
	}
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	subs := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.matches(e) {
			subs = append(subs, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range subs {
		if err := deliver(ctx, s.handler, e); err != nil {
			return err
		}
	}
	return nil
}

// Close rejects further subscriptions and publications.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = nil
	return nil
}

func deliver(ctx context.Context, h Handler, e *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s on %v: %v\n%s", ErrHandlerPanic, e.Kind, e.Type, r, debug.Stack())
		}
	}()
	return h(ctx, e)
}

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
	"sync"
)

// Callback may return a replacement aggregate. Returning nil keeps the
// aggregate it was given.
type Callback func(ctx context.Context, entity any) (any, error)

// Callbacks is an ordered registry of entity callbacks per lifecycle kind.
// Unlike published events, callbacks can change the aggregate that flows
// through an operation.
type Callbacks struct {
	mu     sync.RWMutex
	byKind map[Kind][]Callback
}

func NewCallbacks() *Callbacks {
	return &Callbacks{byKind: make(map[Kind][]Callback)}
}

// Register appends cb for kind. Nil callbacks are ignored.
func (c *Callbacks) Register(kind Kind, cb Callback) *Callbacks {
	if cb == nil {
		return c
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byKind[kind] = append(c.byKind[kind], cb)
	return c
}

// Has reports whether at least one callback is registered for kind.
func (c *Callbacks) Has(kind Kind) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byKind[kind]) > 0
}

// Len returns the total number of registered callbacks.
func (c *Callbacks) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, cbs := range c.byKind {
		n += len(cbs)
	}
	return n
}

// Callback runs the callbacks of kind in order, threading the aggregate
// through each of them.
func (c *Callbacks) Callback(ctx context.Context, kind Kind, entity any) (any, error) {
	c.mu.RLock()
	cbs := append([]Callback(nil), c.byKind[kind]...)
	c.mu.RUnlock()

	current := entity
	for _, cb := range cbs {
		next, err := cb(ctx, current)
		if err != nil {
			return nil, err
		}
		if next != nil {
			current = next
		}
	}
	return current, nil
}

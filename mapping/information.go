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

import "reflect"

// EntityInformation exposes the identity of a domain type to repositories.
type EntityInformation interface {
	Type() reflect.Type
	IDType() reflect.Type
	IDProperty() string
	IDColumn() string
	TableName() string
	ID(entity any) (any, error)
	IsNew(entity any) (bool, error)
}

// PersistentEntityInformation is the EntityInformation backed by a
// PersistentEntity.
type PersistentEntityInformation struct {
	entity *PersistentEntity
}

var _ EntityInformation = (*PersistentEntityInformation)(nil)

func NewPersistentEntityInformation(entity *PersistentEntity) *PersistentEntityInformation {
	return &PersistentEntityInformation{entity: entity}
}

func (i *PersistentEntityInformation) Type() reflect.Type { return i.entity.Type() }

func (i *PersistentEntityInformation) IDType() reflect.Type { return i.entity.IDType() }

func (i *PersistentEntityInformation) IDProperty() string { return i.entity.IDProperty() }

func (i *PersistentEntityInformation) IDColumn() string { return i.entity.IDColumn() }

func (i *PersistentEntityInformation) TableName() string { return i.entity.TableName() }

func (i *PersistentEntityInformation) ID(entity any) (any, error) { return i.entity.ID(entity) }

func (i *PersistentEntityInformation) IsNew(entity any) (bool, error) { return i.entity.IsNew(entity) }

// PersistentEntity returns the descriptor the information was derived from.
func (i *PersistentEntityInformation) PersistentEntity() *PersistentEntity { return i.entity }

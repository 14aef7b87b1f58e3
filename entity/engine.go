// Copyright 2024 The ChronoGraph Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package entity

// EngineKind identifies the storage driver that a StorageEngine speaks.
// Recognized kinds are opaque to this module; it only ever round-trips them.
type EngineKind string

// StorageEngine is a physical backend database instance.
type StorageEngine struct {
	Id        uint64
	Host      string
	Port      int
	Kind      EngineKind
	Params    map[string]string
	CreatorId uint64

	// StorageUnitIds is the back-pointer index of units currently assigned
	// to this engine; cache.Cache adds a unit's id here whenever the unit
	// is added or updated.
	StorageUnitIds map[string]struct{}
}

func NewStorageEngine(host string, port int, kind EngineKind, params map[string]string, creatorId uint64) *StorageEngine {
	return &StorageEngine{
		Host:           host,
		Port:           port,
		Kind:           kind,
		Params:         params,
		CreatorId:      creatorId,
		StorageUnitIds: make(map[string]struct{}),
	}
}

func (e *StorageEngine) AddStorageUnit(unitId string) {
	if e.StorageUnitIds == nil {
		e.StorageUnitIds = make(map[string]struct{})
	}
	e.StorageUnitIds[unitId] = struct{}{}
}

func (e *StorageEngine) RemoveStorageUnit(unitId string) {
	delete(e.StorageUnitIds, unitId)
}

func (e *StorageEngine) Clone() *StorageEngine {
	if e == nil {
		return nil
	}
	c := *e
	c.Params = make(map[string]string, len(e.Params))
	for k, v := range e.Params {
		c.Params[k] = v
	}
	c.StorageUnitIds = make(map[string]struct{}, len(e.StorageUnitIds))
	for k := range e.StorageUnitIds {
		c.StorageUnitIds[k] = struct{}{}
	}
	return &c
}

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

// Package topology manages the lifecycle of storage engines and storage
// units: their master/replica trees and the back-pointer index between
// engines and the units assigned to them (spec.md §4.3).
package topology

import (
	"context"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/chronograph-db/metacore/cache"
	"github.com/chronograph-db/metacore/dispatch"
	"github.com/chronograph-db/metacore/entity"
	mcerrors "github.com/chronograph-db/metacore/errors"
	"github.com/chronograph-db/metacore/metrics"
	"github.com/chronograph-db/metacore/store"
)

// Manager owns StorageEngine and StorageUnit lifecycle on top of a MetaCache
// and MetaStore pair.
type Manager struct {
	store  store.MetaStore
	cache  *cache.Cache
	selfId uint64

	engineHooks *dispatch.EngineChangeHooks[*entity.StorageEngine]
}

// NewManager wires st and c together and installs the storage-engine and
// storage-unit change observers. selfId is used to suppress echoes of this
// node's own writes. Engine-discovery hooks registered via
// RegisterEngineChangeHook are delivered through d, one at a time and in
// order, so a panicking hook does not stop the hooks after it (spec.md §4.6).
func NewManager(st store.MetaStore, c *cache.Cache, selfId uint64, d *dispatch.Dispatcher) *Manager {
	m := &Manager{store: st, cache: c, selfId: selfId, engineHooks: dispatch.NewEngineChangeHooks[*entity.StorageEngine](d)}
	st.OnStorageEngineChange(m.onStorageEngineChange)
	st.OnStorageUnitChange(m.onStorageUnitChange)
	return m
}

// LoadInitial bulk-loads every known engine into cache. Called once during
// manager bootstrap, after NewManager has already installed the change
// observers.
func (m *Manager) LoadInitial(ctx context.Context) error {
	engines, err := m.store.LoadStorageEngines(ctx)
	if err != nil {
		return err
	}
	for _, e := range engines {
		m.cache.AddEngine(e)
	}
	return nil
}

// AddStorageEngines publishes each engine to the MetaStore and installs it
// into cache. It is all-or-nothing only at the per-engine granularity:
// engines already added before a failing one are not rolled back
// (spec.md §4.3).
func (m *Manager) AddStorageEngines(ctx context.Context, engines []*entity.StorageEngine) bool {
	span := trace.SpanFromContext(ctx)
	for _, e := range engines {
		e.CreatorId = m.selfId
		id, err := m.store.AddStorageEngine(ctx, e)
		if err != nil {
			span.Errorf("add storage engine %s:%d failed: %v", e.Host, e.Port, err)
			return false
		}
		e.Id = id
		m.cache.AddEngine(e)
	}
	return true
}

// RegisterEngineChangeHook appends a best-effort observer of newly
// discovered storage engines (spec.md §4.6).
func (m *Manager) RegisterEngineChangeHook(hook func(*entity.StorageEngine)) {
	m.engineHooks.Register(hook)
}

func (m *Manager) onStorageEngineChange(id uint64, engine *entity.StorageEngine) {
	if engine == nil {
		return
	}
	if engine.CreatorId == m.selfId {
		metrics.ChangeEventsTotal.WithLabelValues("storageEngine", "local_echo_suppressed").Inc()
		return
	}
	m.cache.AddEngine(engine)
	metrics.ChangeEventsTotal.WithLabelValues("storageEngine", "applied").Inc()
	m.engineHooks.Fire(engine)
}

// onStorageUnitChange implements the filtering rules of spec.md §4.3: skip
// self-originated, skip initial-flagged (those flow through the bootstrap
// path only), skip if cache has not finished bootstrap.
func (m *Manager) onStorageUnitChange(id string, unit *entity.StorageUnit) {
	if unit == nil {
		return
	}
	if unit.CreatorId == m.selfId {
		metrics.ChangeEventsTotal.WithLabelValues("storageUnit", "local_echo_suppressed").Inc()
		return
	}
	if unit.Initial {
		metrics.ChangeEventsTotal.WithLabelValues("storageUnit", "initial_suppressed").Inc()
		return
	}
	if !m.cache.HasStorageUnit() {
		metrics.ChangeEventsTotal.WithLabelValues("storageUnit", "pre_bootstrap_suppressed").Inc()
		return
	}

	metrics.ChangeEventsTotal.WithLabelValues("storageUnit", "applied").Inc()
	existing, existed := m.cache.GetStorageUnit(id)
	if !existed {
		if !unit.IsMaster() {
			master, ok := m.cache.GetStorageUnit(unit.MasterId)
			if !ok {
				trace.SpanFromContextSafe(context.Background()).Errorf(
					"%v: replica %s references absent master %s", mcerrors.ErrInvariantViolation, unit.Id, unit.MasterId)
			} else {
				master.AddReplica(unit)
				m.cache.UpdateStorageUnit(master)
			}
		}
		m.cache.AddStorageUnit(unit)
		return
	}

	if unit.IsMaster() {
		unit.Replicas = existing.Replicas
	} else {
		if oldMaster, ok := m.cache.GetStorageUnit(existing.MasterId); ok {
			oldMaster.RemoveReplica(id)
			m.cache.UpdateStorageUnit(oldMaster)
		}
		if newMaster, ok := m.cache.GetStorageUnit(unit.MasterId); ok {
			newMaster.AddReplica(unit)
			m.cache.UpdateStorageUnit(newMaster)
		}
	}
	m.cache.UpdateStorageUnit(unit)
}

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

// Package fragment runs the two fragment-creation protocols (initial
// cluster bootstrap and incremental growth) and the change-event handling
// that keeps MetaCache's fragment index consistent with MetaStore
// (spec.md §4.4).
package fragment

import (
	"context"
	"sort"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/chronograph-db/metacore/cache"
	"github.com/chronograph-db/metacore/entity"
	mcerrors "github.com/chronograph-db/metacore/errors"
	"github.com/chronograph-db/metacore/metrics"
	"github.com/chronograph-db/metacore/store"
)

// bootstrapSingleRunKey is the sole singleflight.Group key: every
// concurrent bootstrap attempt within this process collapses onto one
// live lock-and-recheck cycle rather than queuing behind the MetaStore
// advisory lock redundantly.
const bootstrapSingleRunKey = "bootstrap"

// Manager runs the fragment-creation protocols of spec.md §4.4 against a
// MetaStore/MetaCache pair.
type Manager struct {
	store  store.MetaStore
	cache  *cache.Cache
	selfId uint64

	singleRun singleflight.Group
}

// NewManager wires st and c together and installs the fragment change
// observer.
func NewManager(st store.MetaStore, c *cache.Cache, selfId uint64) *Manager {
	m := &Manager{store: st, cache: c, selfId: selfId}
	st.OnFragmentChange(m.onFragmentChange)
	return m
}

// onFragmentChange mirrors the storage-unit filtering of topology.Manager:
// skip local-originated events, skip initial-flagged fragments (those flow
// through the bootstrap path only), skip until cache has finished
// bootstrap.
func (m *Manager) onFragmentChange(create bool, f *entity.Fragment) {
	if f == nil || f.Initial {
		metrics.ChangeEventsTotal.WithLabelValues("fragment", "initial_suppressed").Inc()
		return
	}
	if create && f.CreatorId == m.selfId {
		metrics.ChangeEventsTotal.WithLabelValues("fragment", "local_echo_suppressed").Inc()
		return
	}
	if !create && f.UpdaterId == m.selfId {
		metrics.ChangeEventsTotal.WithLabelValues("fragment", "local_echo_suppressed").Inc()
		return
	}
	if !m.cache.HasFragment() {
		metrics.ChangeEventsTotal.WithLabelValues("fragment", "pre_bootstrap_suppressed").Inc()
		return
	}
	if _, ok := m.cache.GetStorageUnit(f.MasterStorageUnitId); !ok {
		trace.SpanFromContextSafe(context.Background()).Errorf(
			"%v: fragment [%s,%s) references absent master unit %s",
			mcerrors.ErrInvariantViolation, f.TsInterval.StartSeries, f.TsInterval.EndSeries, f.MasterStorageUnitId)
	}
	m.cache.AddFragment(f)
	metrics.ChangeEventsTotal.WithLabelValues("fragment", "applied").Inc()
}

// translation resolves the placeholder id a proposal used for a storage
// unit to the real, store-assigned StorageUnit (spec.md §4.4/§9).
type translation map[string]*entity.StorageUnit

// publishStorageUnits reserves a real id for every proposed unit, renames
// it (and, for replicas, its master pointer) through the translation
// table, and publishes each renamed unit to the store and cache. Masters
// are resolved before their replicas so a replica's real master id is
// always available.
func (m *Manager) publishStorageUnits(ctx context.Context, proposals []*entity.StorageUnit) (translation, error) {
	tr := make(translation, len(proposals))
	var masters, replicas []*entity.StorageUnit
	for _, u := range proposals {
		if u.IsMaster() {
			masters = append(masters, u)
		} else {
			replicas = append(replicas, u)
		}
	}

	for _, master := range masters {
		realId, err := m.store.AddStorageUnit(ctx)
		if err != nil {
			return nil, errors.Info(err, "reserve master storage unit id failed")
		}
		renamed := master.Renamed(realId, realId)
		renamed.CreatorId = m.selfId
		if err := m.store.UpdateStorageUnit(ctx, renamed); err != nil {
			return nil, errors.Info(err, "publish master storage unit failed")
		}
		m.cache.AddStorageUnit(renamed)
		tr[master.Id] = renamed
	}
	for _, replica := range replicas {
		master, ok := tr[replica.MasterId]
		if !ok {
			return nil, errors.Info(mcerrors.ErrStorageUnitNotFound, "replica proposal references unknown placeholder master id")
		}
		realId, err := m.store.AddStorageUnit(ctx)
		if err != nil {
			return nil, errors.Info(err, "reserve replica storage unit id failed")
		}
		renamed := replica.Renamed(realId, master.Id)
		renamed.CreatorId = m.selfId
		if err := m.store.UpdateStorageUnit(ctx, renamed); err != nil {
			return nil, errors.Info(err, "publish replica storage unit failed")
		}
		m.cache.AddStorageUnit(renamed)
		master.AddReplica(renamed)
		if err := m.store.UpdateStorageUnit(ctx, master); err != nil {
			return nil, errors.Info(err, "publish master storage unit replica set failed")
		}
		m.cache.UpdateStorageUnit(master)
		tr[replica.Id] = renamed
	}
	return tr, nil
}

// resolveMaster follows a fragment's placeholder master id through tr to
// the real master StorageUnit id, rewriting through a replica's own master
// pointer if the placeholder resolved to a replica (spec.md §4.4 step 6).
func (tr translation) resolveMaster(fakeId string) (string, bool) {
	u, ok := tr[fakeId]
	if !ok {
		return "", false
	}
	if u.IsMaster() {
		return u.Id, true
	}
	return u.MasterId, true
}

// CreateInitialFragmentsAndStorageUnits runs the exactly-once cluster
// bootstrap protocol of spec.md §4.4. units and fragments carry
// placeholder ids chosen by the caller (a FragmentGenerator). It returns
// true iff this call produced the cluster's initial layout; false means
// either a fast-path no-op or that another node won the race (in which
// case cache now mirrors the winner's layout). Concurrent callers within
// this process collapse onto a single in-flight attempt.
func (m *Manager) CreateInitialFragmentsAndStorageUnits(ctx context.Context, units []*entity.StorageUnit, fragments []*entity.Fragment) bool {
	v, _, _ := m.singleRun.Do(bootstrapSingleRunKey, func() (interface{}, error) {
		return m.createInitialFragmentsAndStorageUnits(ctx, units, fragments), nil
	})
	return v.(bool)
}

func (m *Manager) createInitialFragmentsAndStorageUnits(ctx context.Context, units []*entity.StorageUnit, fragments []*entity.Fragment) bool {
	span := trace.SpanFromContextSafe(ctx)

	if m.cache.HasFragment() && m.cache.HasStorageUnit() {
		metrics.BootstrapRaces.WithLabelValues("noop").Inc()
		return false
	}

	lockWait := prometheus.NewTimer(metrics.LockWaitSeconds.WithLabelValues("fragment"))
	if err := m.store.LockFragment(ctx); err != nil {
		lockWait.ObserveDuration()
		span.Errorf("%v: lock fragment failed: %v", mcerrors.ErrLockLost, err)
		return false
	}
	lockWait.ObserveDuration()
	defer m.store.ReleaseFragment(ctx) //nolint:errcheck // best-effort release; session expiry already lost the lock

	lockWait = prometheus.NewTimer(metrics.LockWaitSeconds.WithLabelValues("storageUnit"))
	if err := m.store.LockStorageUnit(ctx); err != nil {
		lockWait.ObserveDuration()
		span.Errorf("%v: lock storage unit failed: %v", mcerrors.ErrLockLost, err)
		return false
	}
	lockWait.ObserveDuration()
	defer m.store.ReleaseStorageUnit(ctx) //nolint:errcheck

	if m.cache.HasFragment() && m.cache.HasStorageUnit() {
		metrics.BootstrapRaces.WithLabelValues("noop").Inc()
		return false
	}

	existingUnits, err := m.store.LoadStorageUnits(ctx)
	if err != nil {
		span.Errorf("load storage units failed: %v", err)
		return false
	}
	if len(existingUnits) > 0 {
		m.cache.InitStorageUnit(existingUnits)
		existingFragments, err := m.store.LoadFragments(ctx)
		if err != nil {
			span.Errorf("load fragments failed: %v", err)
			return false
		}
		m.cache.InitFragment(existingFragments)
		metrics.BootstrapRaces.WithLabelValues("lost").Inc()
		span.Infof("initial bootstrap lost the race, adopted winner's layout")
		return false
	}

	tr, err := m.publishStorageUnits(ctx, units)
	if err != nil {
		span.Errorf("publish initial storage units failed: %v", err)
		return false
	}

	sort.Slice(fragments, func(i, j int) bool {
		return fragments[i].TimeInterval.StartTime < fragments[j].TimeInterval.StartTime
	})
	for _, f := range fragments {
		masterId, ok := tr.resolveMaster(f.FakeMasterId)
		if !ok {
			span.Errorf("fragment references unknown placeholder master id %s", f.FakeMasterId)
			return false
		}
		f.MasterStorageUnitId = masterId
		f.CreatorId = m.selfId
		f.Initial = true
		if err := m.store.AddFragment(ctx, f); err != nil {
			span.Errorf("publish initial fragment failed: %v", err)
			return false
		}
		m.cache.AddFragment(f)
	}

	reloadedUnits, err := m.store.LoadStorageUnits(ctx)
	if err == nil {
		for _, u := range reloadedUnits {
			m.cache.AddStorageUnit(u)
		}
	}
	reloadedFragments, err := m.store.LoadFragments(ctx)
	if err == nil {
		for _, list := range reloadedFragments {
			for _, f := range list {
				m.cache.AddFragment(f)
			}
		}
	}

	metrics.BootstrapRaces.WithLabelValues("won").Inc()
	span.Infof("initial bootstrap won the race, created %d storage units and %d fragments", len(units), len(fragments))
	return true
}

// CreateFragmentsAndStorageUnits grows an already-bootstrapped cluster:
// the same two-lock discipline as the initial path, but it first closes
// each series interval's currently-open fragment at the earliest new
// fragment's start time so readers never observe two open fragments for
// the same series interval (spec.md §4.4).
func (m *Manager) CreateFragmentsAndStorageUnits(ctx context.Context, units []*entity.StorageUnit, fragments []*entity.Fragment) bool {
	span := trace.SpanFromContextSafe(ctx)

	lockWait := prometheus.NewTimer(metrics.LockWaitSeconds.WithLabelValues("fragment"))
	if err := m.store.LockFragment(ctx); err != nil {
		lockWait.ObserveDuration()
		span.Errorf("%v: lock fragment failed: %v", mcerrors.ErrLockLost, err)
		return false
	}
	lockWait.ObserveDuration()
	defer m.store.ReleaseFragment(ctx) //nolint:errcheck

	lockWait = prometheus.NewTimer(metrics.LockWaitSeconds.WithLabelValues("storageUnit"))
	if err := m.store.LockStorageUnit(ctx); err != nil {
		lockWait.ObserveDuration()
		span.Errorf("%v: lock storage unit failed: %v", mcerrors.ErrLockLost, err)
		return false
	}
	lockWait.ObserveDuration()
	defer m.store.ReleaseStorageUnit(ctx) //nolint:errcheck

	tr, err := m.publishStorageUnits(ctx, units)
	if err != nil {
		span.Errorf("publish storage units failed: %v", err)
		return false
	}

	sort.Slice(fragments, func(i, j int) bool {
		return fragments[i].TimeInterval.StartTime < fragments[j].TimeInterval.StartTime
	})

	for ts, latest := range m.cache.GetLatestFragmentMap() {
		if len(fragments) == 0 {
			break
		}
		closed := latest.Ended(fragments[0].TimeInterval.StartTime)
		closed.UpdaterId = m.selfId
		if err := m.store.UpdateFragment(ctx, closed); err != nil {
			span.Errorf("close latest fragment for [%s,%s) failed: %v", ts.StartSeries, ts.EndSeries, err)
			return false
		}
		m.cache.UpdateFragment(closed)
	}

	for _, f := range fragments {
		masterId, ok := tr.resolveMaster(f.FakeMasterId)
		if !ok {
			span.Errorf("fragment references unknown placeholder master id %s", f.FakeMasterId)
			return false
		}
		f.MasterStorageUnitId = masterId
		f.CreatorId = m.selfId
		f.Initial = false
		if err := m.store.AddFragment(ctx, f); err != nil {
			span.Errorf("publish fragment failed: %v", err)
			return false
		}
		m.cache.AddFragment(f)
	}

	span.Infof("created %d storage units and %d fragments incrementally", len(units), len(fragments))
	return true
}

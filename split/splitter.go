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

// Package split turns a query or write plan's (series, time) footprint
// into the set of storage units that must execute it, and tracks a
// sliding path-prefix frequency table that arms cluster rebalancing
// (spec.md §4.5).
package split

import (
	"context"
	"sync"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/chronograph-db/metacore/cache"
	"github.com/chronograph-db/metacore/entity"
	mcerrors "github.com/chronograph-db/metacore/errors"
	"github.com/chronograph-db/metacore/fragment"
)

// PlanKind identifies the kind of query or write plan a SplitInfo was
// produced for, carried through to the execution layer for downsample
// sub-plan dispatch.
type PlanKind string

const (
	PlanInsertRow       PlanKind = "insert_row"
	PlanInsertColumn    PlanKind = "insert_column"
	PlanDeleteData      PlanKind = "delete_data"
	PlanDeleteColumns   PlanKind = "delete_columns"
	PlanQuery           PlanKind = "query"
	PlanValueFilter     PlanKind = "value_filter_query"
	PlanMax             PlanKind = "max"
	PlanMin             PlanKind = "min"
	PlanSum             PlanKind = "sum"
	PlanCount           PlanKind = "count"
	PlanAvg             PlanKind = "avg"
	PlanFirst           PlanKind = "first"
	PlanLast            PlanKind = "last"
	PlanDownsampleMax   PlanKind = "downsample_max"
	PlanDownsampleMin   PlanKind = "downsample_min"
	PlanDownsampleSum   PlanKind = "downsample_sum"
	PlanDownsampleCount PlanKind = "downsample_count"
	PlanDownsampleAvg   PlanKind = "downsample_avg"
	PlanDownsampleFirst PlanKind = "downsample_first"
	PlanDownsampleLast  PlanKind = "downsample_last"
)

// SplitInfo is one (time range, series range, storage unit) target a plan
// fans out to. Every Split method sets PlanKind; CombineGroup is only
// meaningful for downsample sub-plans and is zero elsewhere.
type SplitInfo struct {
	TimeInterval entity.TimeInterval
	TsInterval   entity.TimeSeriesInterval
	StorageUnit  *entity.StorageUnit
	PlanKind     PlanKind
	CombineGroup int
}

// FragmentGenerator synthesizes the initial fragment layout for a brand
// new series range, injected by the caller so the splitter stays agnostic
// to sharding policy (spec.md §4.5 step 3).
type FragmentGenerator interface {
	GenerateInitialFragmentsAndStorageUnits(paths []string, timeInterval entity.TimeInterval) ([]*entity.StorageUnit, []*entity.Fragment)
}

// Config configures the prefix-frequency table and rebalance sizing.
type Config struct {
	// FlushThreshold is the initial table size at which the prefix table
	// is flushed (a snapshot is handed to onPrefixFlush); it grows by the
	// same increment on every flush.
	FlushThreshold int
	// FragmentSplitPerEngine (k) scales Reallocate's fan-out.
	FragmentSplitPerEngine int
}

// Splitter is the plan splitter of spec.md §4.5.
type Splitter struct {
	cache       *cache.Cache
	fragmentMgr *fragment.Manager
	generator   FragmentGenerator
	cfg         Config

	prefixMu       sync.RWMutex
	prefixCounts   map[string]float64
	flushThreshold int
	isFirstFlush   bool
	needReallocate bool
}

// New wires a Splitter against cache c, using fragmentMgr to run the
// bootstrap and incremental fragment-creation protocols and generator to
// synthesize layouts for series ranges the cluster has never seen.
func New(c *cache.Cache, fragmentMgr *fragment.Manager, generator FragmentGenerator, cfg Config) *Splitter {
	return &Splitter{
		cache:          c,
		fragmentMgr:    fragmentMgr,
		generator:      generator,
		cfg:            cfg,
		prefixCounts:   make(map[string]float64),
		flushThreshold: cfg.FlushThreshold,
		isFirstFlush:   true,
	}
}

// recordPaths folds paths into the prefix-frequency table, each
// contributing weight 1/len(paths), and flushes-and-grows the table once
// it reaches flushThreshold. The first flush arms needReallocate
// (spec.md §4.5 step 1 / SPEC_FULL.md §6).
func (s *Splitter) recordPaths(ctx context.Context, paths []string) {
	if len(paths) == 0 {
		return
	}
	weight := 1.0 / float64(len(paths))

	s.prefixMu.Lock()
	for _, p := range paths {
		s.prefixCounts[p] += weight
	}
	shouldFlush := len(s.prefixCounts) >= s.flushThreshold
	var flushed map[string]float64
	if shouldFlush {
		flushed = make(map[string]float64, len(s.prefixCounts))
		for k, v := range s.prefixCounts {
			flushed[k] = v
		}
		s.flushThreshold += s.cfg.FlushThreshold
		if s.isFirstFlush {
			s.isFirstFlush = false
			s.needReallocate = true
		}
	}
	s.prefixMu.Unlock()

	if shouldFlush {
		trace.SpanFromContextSafe(ctx).Infof("flushed prefix table with %d entries", len(flushed))
		s.onPrefixFlush(flushed)
	}
}

// onPrefixFlush receives each flushed snapshot of the prefix table and
// discards it: the flushed values are not published to the MetaStore or to
// any other layer, and nothing can replace this method.
func (s *Splitter) onPrefixFlush(map[string]float64) {}

func (s *Splitter) consumeReallocateFlag() bool {
	s.prefixMu.Lock()
	defer s.prefixMu.Unlock()
	v := s.needReallocate
	s.needReallocate = false
	return v
}

// selectStorageUnits returns the master for a query, or master+replicas
// for a write (spec.md §4.5 step 4).
func selectStorageUnits(f *entity.Fragment, c *cache.Cache, isQuery bool) []*entity.StorageUnit {
	master, ok := c.GetStorageUnit(f.MasterStorageUnitId)
	if !ok {
		return nil
	}
	if isQuery {
		return []*entity.StorageUnit{master}
	}
	out := make([]*entity.StorageUnit, 0, 1+len(master.Replicas))
	out = append(out, master)
	out = append(out, master.ReplicaList()...)
	return out
}

func fragmentsToSplitInfos(fragments map[entity.TimeSeriesInterval][]*entity.Fragment, c *cache.Cache, isQuery bool) []SplitInfo {
	var out []SplitInfo
	for ts, list := range fragments {
		for _, f := range list {
			for _, u := range selectStorageUnits(f, c, isQuery) {
				out = append(out, SplitInfo{TimeInterval: f.TimeInterval, TsInterval: ts, StorageUnit: u})
			}
		}
	}
	return out
}

// ensureFragments returns the fragment map overlapping (tsInterval,
// timeInterval), bootstrapping the initial layout via generator if the
// series range is brand new, or triggering a rebalance if the prefix
// table's first flush armed one (spec.md §4.5 steps 2-3, SPEC_FULL.md §6).
func (s *Splitter) ensureFragments(ctx context.Context, tsInterval entity.TimeSeriesInterval, timeInterval entity.TimeInterval, paths []string, isWrite bool) map[entity.TimeSeriesInterval][]*entity.Fragment {
	fragments := s.cache.GetFragmentMapByTimeSeriesIntervalAndTimeInterval(tsInterval, timeInterval)
	if len(fragments) == 0 {
		if !isWrite {
			return fragments
		}
		s.consumeReallocateFlag()
		units, newFragments := s.generator.GenerateInitialFragmentsAndStorageUnits(paths, timeInterval)
		s.fragmentMgr.CreateInitialFragmentsAndStorageUnits(ctx, units, newFragments)
		return s.cache.GetFragmentMapByTimeSeriesIntervalAndTimeInterval(tsInterval, timeInterval)
	}
	if isWrite && s.consumeReallocateFlag() {
		engines := len(s.cache.GetEngines())
		s.fragmentMgr.Reallocate(ctx, s.cfg.FragmentSplitPerEngine*engines, timeInterval.EndTime)
		fragments = s.cache.GetFragmentMapByTimeSeriesIntervalAndTimeInterval(tsInterval, timeInterval)
	}
	return fragments
}

// SplitInsertRow is the split method for row-oriented inserts.
func (s *Splitter) SplitInsertRow(ctx context.Context, paths []string, tsInterval entity.TimeSeriesInterval, timeInterval entity.TimeInterval) []SplitInfo {
	s.recordPaths(ctx, paths)
	fragments := s.ensureFragments(ctx, tsInterval, timeInterval, paths, true)
	infos := fragmentsToSplitInfos(fragments, s.cache, false)
	for i := range infos {
		infos[i].PlanKind = PlanInsertRow
	}
	return infos
}

// SplitInsertColumn is the split method for column-oriented inserts.
func (s *Splitter) SplitInsertColumn(ctx context.Context, paths []string, tsInterval entity.TimeSeriesInterval, timeInterval entity.TimeInterval) []SplitInfo {
	s.recordPaths(ctx, paths)
	fragments := s.ensureFragments(ctx, tsInterval, timeInterval, paths, true)
	infos := fragmentsToSplitInfos(fragments, s.cache, false)
	for i := range infos {
		infos[i].PlanKind = PlanInsertColumn
	}
	return infos
}

// SplitDeleteData is the split method for time-range deletes.
func (s *Splitter) SplitDeleteData(ctx context.Context, paths []string, tsInterval entity.TimeSeriesInterval, timeInterval entity.TimeInterval) []SplitInfo {
	s.recordPaths(ctx, paths)
	fragments := s.cache.GetFragmentMapByTimeSeriesIntervalAndTimeInterval(tsInterval, timeInterval)
	infos := fragmentsToSplitInfos(fragments, s.cache, false)
	for i := range infos {
		infos[i].PlanKind = PlanDeleteData
	}
	return infos
}

// SplitDeleteColumns is the split method for schema-mutating column
// deletes: like other writes it addresses master plus replicas, and
// always uses the full [0, +inf) time range.
func (s *Splitter) SplitDeleteColumns(ctx context.Context, paths []string, tsInterval entity.TimeSeriesInterval) []SplitInfo {
	s.recordPaths(ctx, paths)
	fragments := s.cache.GetFragmentMapByTimeSeriesInterval(tsInterval)
	infos := fragmentsToSplitInfos(fragments, s.cache, false)
	for i := range infos {
		infos[i].PlanKind = PlanDeleteColumns
		infos[i].TimeInterval = entity.TimeInterval{StartTime: 0, EndTime: entity.NoUpperBound}
	}
	return infos
}

// SplitQuery is the shared split method for plain queries, value-filter
// queries, and the non-downsampled aggregates: all address the master
// storage unit only.
func (s *Splitter) SplitQuery(ctx context.Context, paths []string, tsInterval entity.TimeSeriesInterval, timeInterval entity.TimeInterval, kind PlanKind) []SplitInfo {
	s.recordPaths(ctx, paths)
	fragments := s.cache.GetFragmentMapByTimeSeriesIntervalAndTimeInterval(tsInterval, timeInterval)
	infos := fragmentsToSplitInfos(fragments, s.cache, true)
	for i := range infos {
		infos[i].PlanKind = kind
	}
	return infos
}

// SplitFirst and SplitLast address a single series name's fragment history
// rather than a series range.
func (s *Splitter) SplitFirst(ctx context.Context, paths []string, timeInterval entity.TimeInterval) []SplitInfo {
	return s.splitPointSeries(ctx, paths, timeInterval, PlanFirst)
}

func (s *Splitter) SplitLast(ctx context.Context, paths []string, timeInterval entity.TimeInterval) []SplitInfo {
	return s.splitPointSeries(ctx, paths, timeInterval, PlanLast)
}

func (s *Splitter) splitPointSeries(ctx context.Context, paths []string, timeInterval entity.TimeInterval, kind PlanKind) []SplitInfo {
	s.recordPaths(ctx, paths)
	var out []SplitInfo
	for _, path := range paths {
		tsInterval := entity.TimeSeriesInterval{StartSeries: path, EndSeries: path}
		if !tsInterval.IsSeriesName() {
			trace.SpanFromContextSafe(ctx).Errorf("%v: point-series split given empty path", mcerrors.ErrInvariantViolation)
			continue
		}
		for _, f := range s.cache.GetFragmentListByTimeSeriesNameAndTimeInterval(path, timeInterval) {
			for _, u := range selectStorageUnits(f, s.cache, true) {
				out = append(out, SplitInfo{
					TimeInterval: f.TimeInterval,
					TsInterval:   tsInterval,
					StorageUnit:  u,
					PlanKind:     kind,
				})
			}
		}
	}
	return out
}

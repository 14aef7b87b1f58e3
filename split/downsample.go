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

package split

import (
	"context"
	"sort"

	"github.com/chronograph-db/metacore/entity"
)

// downsamplePlanKinds maps a downsample aggregate to the sub-precision
// interval-query plan kind its straddling shards should carry, per
// spec.md §4.5's distinction between whole-precision-group shards (which
// stay tagged as the downsample kind) and shorter shards that must be
// combined client-side before the aggregate can be finished.
var downsamplePlanKinds = map[PlanKind]PlanKind{
	PlanDownsampleMax:   PlanMax,
	PlanDownsampleMin:   PlanMin,
	PlanDownsampleSum:   PlanSum,
	PlanDownsampleCount: PlanCount,
	PlanDownsampleAvg:   PlanAvg,
	PlanDownsampleFirst: PlanFirst,
	PlanDownsampleLast:  PlanLast,
}

// SplitDownsample implements the numeric core of spec.md §4.5: it splits
// [beginTime, endTime) into precision-aligned groups against the
// irregular fragment boundaries already present in the cluster, and tags
// each emitted shard with a combineGroup so the execution layer can
// reunite partial aggregates that straddle a fragment boundary.
func (s *Splitter) SplitDownsample(ctx context.Context, paths []string, tsInterval entity.TimeSeriesInterval, beginTime, endTime, precision int64, kind PlanKind) []SplitInfo {
	s.recordPaths(ctx, paths)

	fragments := s.cache.GetFragmentMapByTimeSeriesIntervalAndTimeInterval(tsInterval, entity.TimeInterval{StartTime: beginTime, EndTime: endTime})

	groups := groupFragmentsByStartTime(fragments)
	if len(groups) == 0 {
		return nil
	}

	boundaries := make([]entity.TimeInterval, len(groups))
	for i, g := range groups {
		boundaries[i] = g[0].TimeInterval
	}
	planIntervals := splitTimeIntervalForDownsampleQuery(boundaries, beginTime, endTime, precision)

	subKind, ok := downsamplePlanKinds[kind]
	if !ok {
		subKind = kind
	}

	var out []SplitInfo
	combineGroup := 0
	index := 0
	var timespan int64
	for _, group := range groups {
		groupEnd := group[0].TimeInterval.EndTime
		for index < len(planIntervals) && planIntervals[index].EndTime <= groupEnd {
			interval := planIntervals[index]
			index++

			wholeGroup := interval.Span() >= precision
			planKind := subKind
			if wholeGroup {
				planKind = kind
			}
			for _, f := range group {
				for _, u := range selectStorageUnits(f, s.cache, true) {
					out = append(out, SplitInfo{
						TimeInterval: interval,
						TsInterval:   f.TsInterval,
						StorageUnit:  u,
						PlanKind:     planKind,
						CombineGroup: combineGroup,
					})
				}
			}
			if wholeGroup {
				timespan = 0
				combineGroup++
			} else {
				timespan += interval.Span()
				if timespan >= precision {
					timespan = 0
					combineGroup++
				}
			}
		}
	}
	return out
}

// groupFragmentsByStartTime gathers, across every series interval
// returned for a downsample plan's footprint, the fragments that share a
// start time - these are the sibling shards of one globally time-aligned
// sharding generation - then returns the groups sorted by that shared
// start time.
func groupFragmentsByStartTime(fragments map[entity.TimeSeriesInterval][]*entity.Fragment) [][]*entity.Fragment {
	byStart := make(map[int64][]*entity.Fragment)
	for _, list := range fragments {
		for _, f := range list {
			byStart[f.TimeInterval.StartTime] = append(byStart[f.TimeInterval.StartTime], f)
		}
	}
	starts := make([]int64, 0, len(byStart))
	for start := range byStart {
		starts = append(starts, start)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	groups := make([][]*entity.Fragment, len(starts))
	for i, start := range starts {
		groups[i] = byStart[start]
	}
	return groups
}

// splitTimeIntervalForDownsampleQuery is a direct port of the original
// cluster's prefix/whole-groups/suffix shard split: for each fragment
// boundary interval, it emits up to three sub-intervals clipped to
// [beginTime, endTime) - a prefix shard completing a precision group that
// straddles the boundary, a run of whole precision-aligned groups, and a
// trailing suffix shard - so precision-period boundaries line up across
// fragment boundaries wherever possible.
func splitTimeIntervalForDownsampleQuery(timeIntervals []entity.TimeInterval, beginTime, endTime, precision int64) []entity.TimeInterval {
	query := entity.TimeInterval{StartTime: beginTime, EndTime: endTime}
	var result []entity.TimeInterval
	for _, ti := range timeIntervals {
		clipped := ti.Intersect(query)
		midBegin, midEnd := clipped.StartTime, clipped.EndTime

		if ti.StartTime > beginTime && (ti.StartTime-beginTime)%precision != 0 {
			prefixEnd := minInt64(midBegin+precision-(ti.StartTime-beginTime)%precision, midEnd)
			result = append(result, entity.TimeInterval{StartTime: midBegin, EndTime: prefixEnd})
			midBegin = prefixEnd
		}

		if midEnd-midBegin >= precision {
			midEnd -= (midEnd - midBegin) % precision
			result = append(result, entity.TimeInterval{StartTime: midBegin, EndTime: midEnd})
		} else {
			midEnd = midBegin
		}

		if midEnd != clipped.EndTime {
			result = append(result, entity.TimeInterval{StartTime: midEnd, EndTime: clipped.EndTime})
		}
	}
	return result
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

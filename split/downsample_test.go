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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chronograph-db/metacore/entity"
)

func TestSplitTimeIntervalForDownsampleQuery_SingleAlignedInterval(t *testing.T) {
	out := splitTimeIntervalForDownsampleQuery(
		[]entity.TimeInterval{{StartTime: 0, EndTime: 100}}, 0, 100, 10)
	require.Equal(t, []entity.TimeInterval{{StartTime: 0, EndTime: 100}}, out)
}

func TestSplitTimeIntervalForDownsampleQuery_StraddlingBoundary(t *testing.T) {
	// Second fragment starts at 25, precision 10, begin 0: not aligned to
	// the 10-wide grid, so it needs a 5-wide prefix shard before the
	// aligned run resumes.
	out := splitTimeIntervalForDownsampleQuery(
		[]entity.TimeInterval{{StartTime: 0, EndTime: 25}, {StartTime: 25, EndTime: 60}}, 0, 60, 10)
	require.Equal(t, []entity.TimeInterval{
		{StartTime: 0, EndTime: 20},
		{StartTime: 20, EndTime: 25},
		{StartTime: 25, EndTime: 30},
		{StartTime: 30, EndTime: 60},
	}, out)
}

func TestSplitTimeIntervalForDownsampleQuery_SuffixShard(t *testing.T) {
	out := splitTimeIntervalForDownsampleQuery(
		[]entity.TimeInterval{{StartTime: 0, EndTime: 27}}, 0, 27, 10)
	require.Equal(t, []entity.TimeInterval{
		{StartTime: 0, EndTime: 20},
		{StartTime: 20, EndTime: 27},
	}, out)
}

func TestGroupFragmentsByStartTime_SortsByStartTime(t *testing.T) {
	fragments := map[entity.TimeSeriesInterval][]*entity.Fragment{
		{StartSeries: "a", EndSeries: "m"}: {
			{TsInterval: entity.TimeSeriesInterval{StartSeries: "a", EndSeries: "m"}, TimeInterval: entity.TimeInterval{StartTime: 100, EndTime: 200}},
		},
		{StartSeries: "m", EndSeries: ""}: {
			{TsInterval: entity.TimeSeriesInterval{StartSeries: "m", EndSeries: ""}, TimeInterval: entity.TimeInterval{StartTime: 0, EndTime: 100}},
		},
	}
	groups := groupFragmentsByStartTime(fragments)
	require.Len(t, groups, 2)
	require.Equal(t, int64(0), groups[0][0].TimeInterval.StartTime)
	require.Equal(t, int64(100), groups[1][0].TimeInterval.StartTime)
}

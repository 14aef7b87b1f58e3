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

package cache

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chronograph-db/metacore/entity"
)

func frag(start, end int64) *entity.Fragment {
	return &entity.Fragment{
		TsInterval:   entity.TimeSeriesInterval{StartSeries: "a", EndSeries: "z"},
		TimeInterval: entity.TimeInterval{StartTime: start, EndTime: end},
	}
}

func TestAddFragment_KeepsSortedByStartTime(t *testing.T) {
	c := New()
	c.AddFragment(frag(100, 200))
	c.AddFragment(frag(0, 100))
	c.AddFragment(frag(200, entity.NoUpperBound))

	ts := entity.TimeSeriesInterval{StartSeries: "a", EndSeries: "z"}
	list := c.GetFragmentMapByTimeSeriesInterval(ts)[ts]
	require.Len(t, list, 3)
	require.Equal(t, int64(0), list[0].TimeInterval.StartTime)
	require.Equal(t, int64(100), list[1].TimeInterval.StartTime)
	require.Equal(t, int64(200), list[2].TimeInterval.StartTime)
}

func TestAddFragment_LatestIndexTracksOpenFragment(t *testing.T) {
	c := New()
	ts := entity.TimeSeriesInterval{StartSeries: "a", EndSeries: "z"}
	c.AddFragment(frag(0, entity.NoUpperBound))

	latest := c.GetLatestFragmentMap()
	require.Contains(t, latest, ts)
	require.True(t, latest[ts].TimeInterval.IsOpen())

	c.UpdateFragment(frag(0, 50))
	latest = c.GetLatestFragmentMap()
	require.NotContains(t, latest, ts)
}

func TestGetFragmentMapByTimeSeriesIntervalAndTimeInterval_Filters(t *testing.T) {
	c := New()
	c.AddFragment(frag(0, 100))
	c.AddFragment(frag(100, 200))
	c.AddFragment(frag(200, 300))

	ts := entity.TimeSeriesInterval{StartSeries: "a", EndSeries: "z"}
	out := c.GetFragmentMapByTimeSeriesIntervalAndTimeInterval(ts, entity.TimeInterval{StartTime: 150, EndTime: 250})
	require.Len(t, out[ts], 2)
	require.Equal(t, int64(100), out[ts][0].TimeInterval.StartTime)
	require.Equal(t, int64(200), out[ts][1].TimeInterval.StartTime)
}

func TestGetFragmentListByTimeSeriesName_MatchesContainingIntervals(t *testing.T) {
	c := New()
	c.AddFragment(&entity.Fragment{
		TsInterval:   entity.TimeSeriesInterval{StartSeries: "a", EndSeries: "m"},
		TimeInterval: entity.TimeInterval{StartTime: 0, EndTime: entity.NoUpperBound},
	})
	c.AddFragment(&entity.Fragment{
		TsInterval:   entity.TimeSeriesInterval{StartSeries: "m", EndSeries: ""},
		TimeInterval: entity.TimeInterval{StartTime: 0, EndTime: entity.NoUpperBound},
	})

	require.Len(t, c.GetFragmentListByTimeSeriesName("b"), 1)
	require.Len(t, c.GetFragmentListByTimeSeriesName("z"), 1)
	require.Len(t, c.GetFragmentListByTimeSeriesName("m"), 1)
}

func TestInitStorageUnit_IsIdempotentPerId(t *testing.T) {
	c := New()
	u := &entity.StorageUnit{Id: "unit1", MasterId: "unit1"}
	c.InitStorageUnit(map[string]*entity.StorageUnit{"unit1": u})
	c.InitStorageUnit(map[string]*entity.StorageUnit{"unit1": {Id: "unit1", MasterId: "unit1", Initial: true}})

	got, ok := c.GetStorageUnit("unit1")
	require.True(t, ok)
	require.False(t, got.Initial)
}

func TestHasFragmentAndHasStorageUnit(t *testing.T) {
	c := New()
	require.False(t, c.HasFragment())
	require.False(t, c.HasStorageUnit())

	c.AddFragment(frag(0, entity.NoUpperBound))
	c.AddStorageUnit(&entity.StorageUnit{Id: "unit1", MasterId: "unit1"})

	require.True(t, c.HasFragment())
	require.True(t, c.HasStorageUnit())
}

func TestGetSchemaMappingItem_AbsentReturnsRemoveSentinel(t *testing.T) {
	c := New()
	require.Equal(t, entity.RemoveSentinel, c.GetSchemaMappingItem("s", "k"))

	c.AddOrUpdateSchemaMappingItem("s", "k", 42)
	require.Equal(t, 42, c.GetSchemaMappingItem("s", "k"))
	require.Equal(t, entity.RemoveSentinel, c.GetSchemaMappingItem("s", "other"))
}

func TestAddOrUpdateSchemaMappingItem_SentinelRemovesKey(t *testing.T) {
	c := New()
	c.AddOrUpdateSchemaMappingItem("s", "k", 42)
	c.AddOrUpdateSchemaMappingItem("s", "k", entity.RemoveSentinel)

	require.Equal(t, entity.RemoveSentinel, c.GetSchemaMappingItem("s", "k"))
	mapping, ok := c.GetSchemaMapping("s")
	require.True(t, ok)
	_, present := mapping["k"]
	require.False(t, present)
}

func BenchmarkAddFragment(b *testing.B) {
	c := New()
	for i := 0; i < b.N; i++ {
		c.AddFragment(frag(int64(rand.Intn(1_000_000)), int64(rand.Intn(1_000_000))+1_000_001))
	}
}

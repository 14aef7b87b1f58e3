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

package fragment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chronograph-db/metacore/cache"
	"github.com/chronograph-db/metacore/entity"
	"github.com/chronograph-db/metacore/store/file"
)

func newTestStore(t *testing.T) *file.Store {
	t.Helper()
	st, err := file.Open(t.TempDir() + "/meta.json")
	require.NoError(t, err)
	return st
}

func proposeInitialLayout() ([]*entity.StorageUnit, []*entity.Fragment) {
	units := []*entity.StorageUnit{
		{Id: "fake-master", MasterId: "fake-master"},
		{Id: "fake-replica", MasterId: "fake-master"},
	}
	fragments := []*entity.Fragment{
		{
			TsInterval:   entity.TimeSeriesInterval{StartSeries: "", EndSeries: ""},
			TimeInterval: entity.TimeInterval{StartTime: 0, EndTime: entity.NoUpperBound},
			FakeMasterId: "fake-master",
		},
	}
	return units, fragments
}

func TestCreateInitialFragmentsAndStorageUnits_WinsRace(t *testing.T) {
	st := newTestStore(t)
	c := cache.New()
	m := NewManager(st, c, 1)

	units, fragments := proposeInitialLayout()
	ok := m.CreateInitialFragmentsAndStorageUnits(context.Background(), units, fragments)
	require.True(t, ok)
	require.True(t, c.HasFragment())
	require.True(t, c.HasStorageUnit())

	list := c.GetFragmentListByTimeSeriesName("anything")
	require.Len(t, list, 1)
	require.NotEmpty(t, list[0].MasterStorageUnitId)

	master, ok := c.GetStorageUnit(list[0].MasterStorageUnitId)
	require.True(t, ok)
	require.Len(t, master.Replicas, 1)
}

func TestCreateInitialFragmentsAndStorageUnits_FastPathNoOp(t *testing.T) {
	st := newTestStore(t)
	c := cache.New()
	m := NewManager(st, c, 1)

	units, fragments := proposeInitialLayout()
	require.True(t, m.CreateInitialFragmentsAndStorageUnits(context.Background(), units, fragments))

	units2, fragments2 := proposeInitialLayout()
	require.False(t, m.CreateInitialFragmentsAndStorageUnits(context.Background(), units2, fragments2))
}

func TestCreateFragmentsAndStorageUnits_ClosesPriorLatest(t *testing.T) {
	st := newTestStore(t)
	c := cache.New()
	m := NewManager(st, c, 1)

	units, fragments := proposeInitialLayout()
	require.True(t, m.CreateInitialFragmentsAndStorageUnits(context.Background(), units, fragments))

	newUnits := []*entity.StorageUnit{{Id: "fake-master-2", MasterId: "fake-master-2"}}
	newFragments := []*entity.Fragment{{
		TsInterval:   entity.TimeSeriesInterval{StartSeries: "", EndSeries: ""},
		TimeInterval: entity.TimeInterval{StartTime: 1000, EndTime: entity.NoUpperBound},
		FakeMasterId: "fake-master-2",
	}}
	ok := m.CreateFragmentsAndStorageUnits(context.Background(), newUnits, newFragments)
	require.True(t, ok)

	list := c.GetFragmentListByTimeSeriesName("anything")
	require.Len(t, list, 2)
	require.Equal(t, int64(1000), list[0].TimeInterval.EndTime)
	require.True(t, list[1].TimeInterval.IsOpen())
}

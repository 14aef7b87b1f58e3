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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chronograph-db/metacore/cache"
	"github.com/chronograph-db/metacore/entity"
	"github.com/chronograph-db/metacore/fragment"
	"github.com/chronograph-db/metacore/store/file"
)

type stubGenerator struct{}

func (stubGenerator) GenerateInitialFragmentsAndStorageUnits(paths []string, timeInterval entity.TimeInterval) ([]*entity.StorageUnit, []*entity.Fragment) {
	unit := &entity.StorageUnit{Id: "fake-master", MasterId: "fake-master"}
	frag := &entity.Fragment{
		TsInterval:   entity.TimeSeriesInterval{StartSeries: "", EndSeries: ""},
		TimeInterval: entity.TimeInterval{StartTime: 0, EndTime: entity.NoUpperBound},
		FakeMasterId: "fake-master",
	}
	return []*entity.StorageUnit{unit}, []*entity.Fragment{frag}
}

func newTestSplitter(t *testing.T) *Splitter {
	t.Helper()
	st, err := file.Open(t.TempDir() + "/meta.json")
	require.NoError(t, err)
	c := cache.New()
	fm := fragment.NewManager(st, c, 1)
	return New(c, fm, stubGenerator{}, Config{FlushThreshold: 1000, FragmentSplitPerEngine: 2})
}

func TestSplitInsertRow_BootstrapsOnEmptyFragmentMap(t *testing.T) {
	s := newTestSplitter(t)
	infos := s.SplitInsertRow(context.Background(), []string{"a.b.c"},
		entity.TimeSeriesInterval{StartSeries: "", EndSeries: ""},
		entity.TimeInterval{StartTime: 0, EndTime: 100})

	require.Len(t, infos, 1)
	require.Equal(t, PlanInsertRow, infos[0].PlanKind)
	require.True(t, s.cache.HasFragment())
}

func TestSplitQuery_AddressesMasterOnly(t *testing.T) {
	s := newTestSplitter(t)
	s.SplitInsertRow(context.Background(), []string{"a.b.c"},
		entity.TimeSeriesInterval{StartSeries: "", EndSeries: ""},
		entity.TimeInterval{StartTime: 0, EndTime: 100})

	infos := s.SplitQuery(context.Background(), []string{"a.b.c"},
		entity.TimeSeriesInterval{StartSeries: "", EndSeries: ""},
		entity.TimeInterval{StartTime: 0, EndTime: entity.NoUpperBound}, PlanQuery)
	require.Len(t, infos, 1)
}

func TestRecordPaths_FlushArmsReallocateOnFirstFlush(t *testing.T) {
	s := newTestSplitter(t)
	s.flushThreshold = 1
	s.recordPaths(context.Background(), []string{"a.b.c"})

	require.True(t, s.consumeReallocateFlag())
	require.False(t, s.consumeReallocateFlag())
}

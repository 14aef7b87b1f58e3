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

package topology

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chronograph-db/metacore/cache"
	"github.com/chronograph-db/metacore/dispatch"
	"github.com/chronograph-db/metacore/entity"
	"github.com/chronograph-db/metacore/store/file"
)

func newTestStore(t *testing.T) *file.Store {
	t.Helper()
	dir := t.TempDir()
	st, err := file.Open(dir + "/meta.json")
	require.NoError(t, err)
	return st
}

func TestAddStorageEngines_InstallsIntoCache(t *testing.T) {
	st := newTestStore(t)
	c := cache.New()
	m := NewManager(st, c, 1, dispatch.New(0))

	ok := m.AddStorageEngines(context.Background(), []*entity.StorageEngine{
		entity.NewStorageEngine("h1", 1234, "influxdb", nil, 1),
	})
	require.True(t, ok)
	require.True(t, c.HasStorageEngine())
}

func TestRegisterEngineChangeHook_FiresThroughDispatcher(t *testing.T) {
	st := newTestStore(t)
	c := cache.New()
	d := dispatch.New(0)
	m := NewManager(st, c, 1, d)

	seen := make(chan *entity.StorageEngine, 1)
	m.RegisterEngineChangeHook(func(e *entity.StorageEngine) { seen <- e })

	m.onStorageEngineChange(1, entity.NewStorageEngine("h1", 1234, "influxdb", nil, 2))

	select {
	case e := <-seen:
		require.Equal(t, "h1", e.Host)
	case <-time.After(time.Second):
		t.Fatal("engine change hook never fired")
	}
	d.Close()
}

func TestOnStorageUnitChange_IgnoresSelfOriginated(t *testing.T) {
	st := newTestStore(t)
	c := cache.New()
	c.AddFragment(&entity.Fragment{TsInterval: entity.TimeSeriesInterval{StartSeries: "a"}, TimeInterval: entity.TimeInterval{EndTime: entity.NoUpperBound}})
	m := NewManager(st, c, 1, dispatch.New(0))

	m.onStorageUnitChange("unit1", &entity.StorageUnit{Id: "unit1", MasterId: "unit1", CreatorId: 1})
	_, ok := c.GetStorageUnit("unit1")
	require.False(t, ok)
}

func TestOnStorageUnitChange_SplicesReplicaIntoMaster(t *testing.T) {
	st := newTestStore(t)
	c := cache.New()
	c.AddFragment(&entity.Fragment{TsInterval: entity.TimeSeriesInterval{StartSeries: "a"}, TimeInterval: entity.TimeInterval{EndTime: entity.NoUpperBound}})
	c.AddStorageUnit(&entity.StorageUnit{Id: "master1", MasterId: "master1", CreatorId: 1})

	m := NewManager(st, c, 1, dispatch.New(0))
	m.onStorageUnitChange("replica1", &entity.StorageUnit{Id: "replica1", MasterId: "master1", CreatorId: 2})

	master, ok := c.GetStorageUnit("master1")
	require.True(t, ok)
	require.Contains(t, master.Replicas, "replica1")
}

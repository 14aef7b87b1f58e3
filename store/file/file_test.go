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

package file

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chronograph-db/metacore/entity"
)

func TestOpen_StartsEmptyWhenFileMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.json")
	s, err := Open(path)
	require.NoError(t, err)

	nodes, err := s.LoadNodes(context.Background())
	require.NoError(t, err)
	require.Empty(t, nodes)
}

func TestRegisterNode_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.json")
	s, err := Open(path)
	require.NoError(t, err)

	id, err := s.RegisterNode(context.Background(), &entity.FrontEndNode{Host: "127.0.0.1", Port: 6888})
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)

	reopened, err := Open(path)
	require.NoError(t, err)
	nodes, err := reopened.LoadNodes(context.Background())
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	require.Equal(t, "127.0.0.1", nodes[id].Host)
}

func TestAddStorageUnit_IssuesDistinctIds(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "meta.json"))
	require.NoError(t, err)

	a, err := s.AddStorageUnit(context.Background())
	require.NoError(t, err)
	b, err := s.AddStorageUnit(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestAddUser_RejectsDuplicateUsername(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "meta.json"))
	require.NoError(t, err)

	require.NoError(t, s.AddUser(context.Background(), &entity.User{Username: "root", Password: "x"}))
	require.Error(t, s.AddUser(context.Background(), &entity.User{Username: "root", Password: "y"}))
}

func TestOnFragmentChange_FiresOnAddAndUpdate(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "meta.json"))
	require.NoError(t, err)

	var creates, updates int
	s.OnFragmentChange(func(create bool, f *entity.Fragment) {
		if create {
			creates++
		} else {
			updates++
		}
	})

	f := &entity.Fragment{
		TsInterval:   entity.TimeSeriesInterval{StartSeries: "", EndSeries: ""},
		TimeInterval: entity.TimeInterval{StartTime: 0, EndTime: entity.NoUpperBound},
	}
	require.NoError(t, s.AddFragment(context.Background(), f))
	require.NoError(t, s.UpdateFragment(context.Background(), f.Ended(100)))

	require.Equal(t, 1, creates)
	require.Equal(t, 1, updates)
}

func TestLocks_AreNoOps(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "meta.json"))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.LockFragment(ctx))
	require.NoError(t, s.LockStorageUnit(ctx))
	require.NoError(t, s.ReleaseStorageUnit(ctx))
	require.NoError(t, s.ReleaseFragment(ctx))
}

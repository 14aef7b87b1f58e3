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

package manager

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chronograph-db/metacore/cache"
	"github.com/chronograph-db/metacore/entity"
	mcerrors "github.com/chronograph-db/metacore/errors"
	"github.com/chronograph-db/metacore/store/file"
)

func newTestManager(t *testing.T) *MetaManager {
	st, err := file.Open(filepath.Join(t.TempDir(), "meta.json"))
	require.NoError(t, err)
	return &MetaManager{store: st, cache: cache.New()}
}

func TestUpdateUser_NilFieldsLeaveThemUnchanged(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	user := &entity.User{Username: "admin", Password: "secret", Kind: entity.Administrator, Auths: map[entity.Auth]struct{}{entity.AuthRead: {}, entity.AuthWrite: {}}}
	require.NoError(t, m.AddUser(ctx, user))

	require.NoError(t, m.UpdateUser(ctx, "admin", nil, map[entity.Auth]struct{}{entity.AuthRead: {}}))

	got, ok := m.GetUser("admin")
	require.True(t, ok)
	require.Equal(t, "secret", got.Password)
	require.Equal(t, map[entity.Auth]struct{}{entity.AuthRead: {}}, got.Auths)
}

func TestUpdateUser_UnknownUsernameFails(t *testing.T) {
	m := newTestManager(t)
	err := m.UpdateUser(context.Background(), "ghost", nil, nil)
	require.ErrorIs(t, err, mcerrors.ErrUserNotFound)
}

func TestAddOrUpdateSchemaMappingItem_RemoveSentinelDropsKeyInStoreAndCache(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.AddOrUpdateSchemaMappingItem(ctx, "s", "k", 42))
	require.Equal(t, 42, m.GetSchemaMappingItem("s", "k"))

	require.NoError(t, m.AddOrUpdateSchemaMappingItem(ctx, "s", "k", entity.RemoveSentinel))
	require.Equal(t, entity.RemoveSentinel, m.GetSchemaMappingItem("s", "k"))

	mapping, err := m.store.LoadSchemaMappings(ctx)
	require.NoError(t, err)
	_, present := mapping["s"]["k"]
	require.False(t, present)
}

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

// Package file is the single-process MetaStore fallback (spec.md §6): it
// persists to a local JSON file but, per spec.md, "does not support
// multi-node coordination" - its advisory locks are no-ops within the
// process, because there is only ever one process using it.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/chronograph-db/metacore/entity"
	mcerrors "github.com/chronograph-db/metacore/errors"
	"github.com/chronograph-db/metacore/store"
)

type document struct {
	Nodes           map[uint64]*entity.FrontEndNode    `json:"nodes"`
	Engines         map[uint64]*entity.StorageEngine    `json:"engines"`
	Units           map[string]*entity.StorageUnit       `json:"units"`
	Fragments       []*entity.Fragment                   `json:"fragments"`
	SchemaMappings  map[string]entity.SchemaMapping       `json:"schema_mappings"`
	Users           []*entity.User                        `json:"users"`
	NextNodeId      uint64                                 `json:"next_node_id"`
	NextEngineId    uint64                                 `json:"next_engine_id"`
	NextUnitSeq     uint64                                 `json:"next_unit_seq"`
}

// Store is the file-backed MetaStore implementation.
type Store struct {
	path string

	mu  sync.RWMutex
	doc document

	nodeHooks    []store.NodeChangeHook
	engineHooks  []store.StorageEngineChangeHook
	unitHooks    []store.StorageUnitChangeHook
	fragHooks    []store.FragmentChangeHook
	schemaHooks  []store.SchemaMappingChangeHook
	userHooks    []store.UserChangeHook
}

// Open loads path if it exists, or starts from an empty document.
func Open(path string) (*Store, error) {
	s := &Store{
		path: path,
		doc: document{
			Nodes:          make(map[uint64]*entity.FrontEndNode),
			Engines:        make(map[uint64]*entity.StorageEngine),
			Units:          make(map[string]*entity.StorageUnit),
			SchemaMappings: make(map[string]entity.SchemaMapping),
		},
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, store.Fail("open", err)
	}
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s.doc); err != nil {
		return nil, store.Fail("open", err)
	}
	if s.doc.Nodes == nil {
		s.doc.Nodes = make(map[uint64]*entity.FrontEndNode)
	}
	if s.doc.Engines == nil {
		s.doc.Engines = make(map[uint64]*entity.StorageEngine)
	}
	if s.doc.Units == nil {
		s.doc.Units = make(map[string]*entity.StorageUnit)
	}
	if s.doc.SchemaMappings == nil {
		s.doc.SchemaMappings = make(map[string]entity.SchemaMapping)
	}
	return s, nil
}

// persist must be called with mu held (read or write; we only ever persist
// under a write lock from the mutating methods below).
func (s *Store) persist() error {
	raw, err := json.MarshalIndent(&s.doc, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.tmp", uuid.NewString()))
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) RegisterNode(_ context.Context, node *entity.FrontEndNode) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.NextNodeId++
	id := s.doc.NextNodeId
	n := node.Clone()
	n.Id = id
	s.doc.Nodes[id] = n
	if err := s.persist(); err != nil {
		return 0, store.Fail("RegisterNode", err)
	}
	for _, h := range s.nodeHooks {
		h(id, n.Clone())
	}
	return id, nil
}

func (s *Store) LoadNodes(_ context.Context) (map[uint64]*entity.FrontEndNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uint64]*entity.FrontEndNode, len(s.doc.Nodes))
	for k, v := range s.doc.Nodes {
		out[k] = v.Clone()
	}
	return out, nil
}

func (s *Store) OnNodeChange(hook store.NodeChangeHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodeHooks = append(s.nodeHooks, hook)
}

func (s *Store) AddStorageEngine(_ context.Context, engine *entity.StorageEngine) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.NextEngineId++
	id := s.doc.NextEngineId
	e := engine.Clone()
	e.Id = id
	s.doc.Engines[id] = e
	if err := s.persist(); err != nil {
		return 0, store.Fail("AddStorageEngine", err)
	}
	for _, h := range s.engineHooks {
		h(id, e.Clone())
	}
	return id, nil
}

func (s *Store) LoadStorageEngines(_ context.Context) (map[uint64]*entity.StorageEngine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uint64]*entity.StorageEngine, len(s.doc.Engines))
	for k, v := range s.doc.Engines {
		out[k] = v.Clone()
	}
	return out, nil
}

func (s *Store) OnStorageEngineChange(hook store.StorageEngineChangeHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engineHooks = append(s.engineHooks, hook)
}

func (s *Store) AddStorageUnit(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.NextUnitSeq++
	id := fmt.Sprintf("unit%016x", s.doc.NextUnitSeq)
	if err := s.persist(); err != nil {
		return "", store.Fail("AddStorageUnit", err)
	}
	return id, nil
}

func (s *Store) UpdateStorageUnit(_ context.Context, unit *entity.StorageUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := unit.Clone()
	s.doc.Units[u.Id] = u
	if err := s.persist(); err != nil {
		return store.Fail("UpdateStorageUnit", err)
	}
	for _, h := range s.unitHooks {
		h(u.Id, u.Clone())
	}
	return nil
}

func (s *Store) LoadStorageUnits(_ context.Context) (map[string]*entity.StorageUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*entity.StorageUnit, len(s.doc.Units))
	for k, v := range s.doc.Units {
		out[k] = v.Clone()
	}
	return out, nil
}

func (s *Store) OnStorageUnitChange(hook store.StorageUnitChangeHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unitHooks = append(s.unitHooks, hook)
}

func (s *Store) AddFragment(_ context.Context, fragment *entity.Fragment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := fragment.Clone()
	s.doc.Fragments = append(s.doc.Fragments, f)
	if err := s.persist(); err != nil {
		return store.Fail("AddFragment", err)
	}
	for _, h := range s.fragHooks {
		h(true, f.Clone())
	}
	return nil
}

func (s *Store) UpdateFragment(_ context.Context, fragment *entity.Fragment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, f := range s.doc.Fragments {
		if f.TsInterval == fragment.TsInterval && f.TimeInterval.StartTime == fragment.TimeInterval.StartTime {
			s.doc.Fragments[i] = fragment.Clone()
			if err := s.persist(); err != nil {
				return store.Fail("UpdateFragment", err)
			}
			for _, h := range s.fragHooks {
				h(false, fragment.Clone())
			}
			return nil
		}
	}
	s.doc.Fragments = append(s.doc.Fragments, fragment.Clone())
	if err := s.persist(); err != nil {
		return store.Fail("UpdateFragment", err)
	}
	for _, h := range s.fragHooks {
		h(false, fragment.Clone())
	}
	return nil
}

func (s *Store) LoadFragments(_ context.Context) (map[entity.TimeSeriesInterval][]*entity.Fragment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[entity.TimeSeriesInterval][]*entity.Fragment)
	for _, f := range s.doc.Fragments {
		out[f.TsInterval] = append(out[f.TsInterval], f.Clone())
	}
	return out, nil
}

func (s *Store) OnFragmentChange(hook store.FragmentChangeHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fragHooks = append(s.fragHooks, hook)
}

func (s *Store) UpdateSchemaMapping(_ context.Context, schema string, mapping entity.SchemaMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(mapping) == 0 {
		delete(s.doc.SchemaMappings, schema)
	} else {
		s.doc.SchemaMappings[schema] = mapping.Clone()
	}
	if err := s.persist(); err != nil {
		return store.Fail("UpdateSchemaMapping", err)
	}
	for _, h := range s.schemaHooks {
		h(schema, mapping)
	}
	return nil
}

func (s *Store) LoadSchemaMappings(_ context.Context) (map[string]entity.SchemaMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]entity.SchemaMapping, len(s.doc.SchemaMappings))
	for k, v := range s.doc.SchemaMappings {
		out[k] = v.Clone()
	}
	return out, nil
}

func (s *Store) OnSchemaMappingChange(hook store.SchemaMappingChangeHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemaHooks = append(s.schemaHooks, hook)
}

func (s *Store) AddUser(_ context.Context, user *entity.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.doc.Users {
		if u.Username == user.Username {
			return store.Fail("AddUser", fmt.Errorf("%w: %q", mcerrors.ErrUserAlreadyExists, user.Username))
		}
	}
	s.doc.Users = append(s.doc.Users, user.Clone())
	if err := s.persist(); err != nil {
		return store.Fail("AddUser", err)
	}
	for _, h := range s.userHooks {
		h(user.Username, user.Clone())
	}
	return nil
}

func (s *Store) UpdateUser(_ context.Context, user *entity.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, u := range s.doc.Users {
		if u.Username == user.Username {
			s.doc.Users[i] = user.Clone()
			if err := s.persist(); err != nil {
				return store.Fail("UpdateUser", err)
			}
			for _, h := range s.userHooks {
				h(user.Username, user.Clone())
			}
			return nil
		}
	}
	return store.Fail("UpdateUser", fmt.Errorf("%w: %q", mcerrors.ErrUserNotFound, user.Username))
}

func (s *Store) RemoveUser(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, u := range s.doc.Users {
		if u.Username == username {
			s.doc.Users = append(s.doc.Users[:i], s.doc.Users[i+1:]...)
			if err := s.persist(); err != nil {
				return store.Fail("RemoveUser", err)
			}
			for _, h := range s.userHooks {
				h(username, nil)
			}
			return nil
		}
	}
	return nil
}

func (s *Store) LoadUsers(_ context.Context) ([]*entity.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*entity.User, 0, len(s.doc.Users))
	for _, u := range s.doc.Users {
		out = append(out, u.Clone())
	}
	return out, nil
}

func (s *Store) OnUserChange(hook store.UserChangeHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userHooks = append(s.userHooks, hook)
}

// Advisory locks are no-ops: a single process never contends with itself,
// and the file backend explicitly does not support multi-node coordination
// (spec.md §6).
func (s *Store) LockFragment(context.Context) error      { return nil }
func (s *Store) ReleaseFragment(context.Context) error   { return nil }
func (s *Store) LockStorageUnit(context.Context) error   { return nil }
func (s *Store) ReleaseStorageUnit(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

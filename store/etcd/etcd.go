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

// Package etcd is the etcd-backed MetaStore (spec.md §6): every entity is a
// key under a configurable prefix, watches drive the change hooks, and the
// two advisory locks are etcd concurrency.Mutex sessions.
package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"github.com/chronograph-db/metacore/entity"
	mcerrors "github.com/chronograph-db/metacore/errors"
	"github.com/chronograph-db/metacore/store"
)

const (
	nodesPrefix      = "nodes/"
	enginesPrefix    = "engines/"
	unitsPrefix      = "units/"
	fragmentsPrefix  = "fragments/"
	schemasPrefix    = "schemas/"
	usersPrefix      = "users/"
	countersKey       = "counters"
	fragmentLockPath  = "locks/fragment"
	storageUnitLockPath = "locks/storage_unit"
)

// Store is the etcd-backed MetaStore implementation.
type Store struct {
	cli    *clientv3.Client
	prefix string

	session *concurrency.Session

	mu          sync.Mutex
	fragMu      *concurrency.Mutex
	unitMu      *concurrency.Mutex

	watchCancel context.CancelFunc

	nodeHooks   []store.NodeChangeHook
	engineHooks []store.StorageEngineChangeHook
	unitHooks   []store.StorageUnitChangeHook
	fragHooks   []store.FragmentChangeHook
	schemaHooks []store.SchemaMappingChangeHook
	userHooks   []store.UserChangeHook
}

// Config configures the etcd backend.
type Config struct {
	Endpoints []string
	Prefix    string
}

// Open dials etcd and starts watching the configured key prefix.
func Open(cfg Config) (*Store, error) {
	cli, err := clientv3.New(clientv3.Config{Endpoints: cfg.Endpoints})
	if err != nil {
		return nil, store.Fail("Open", err)
	}
	sess, err := concurrency.NewSession(cli)
	if err != nil {
		cli.Close()
		return nil, store.Fail("Open", err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "/chronograph/metacore/"
	} else if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	s := &Store{
		cli:     cli,
		prefix:  prefix,
		session: sess,
		fragMu:  concurrency.NewMutex(sess, prefix+fragmentLockPath),
		unitMu:  concurrency.NewMutex(sess, prefix+storageUnitLockPath),
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.watchCancel = cancel
	go s.watch(ctx)
	return s, nil
}

func (s *Store) key(parts ...string) string {
	return s.prefix + strings.Join(parts, "")
}

func (s *Store) put(ctx context.Context, op, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return store.Fail(op, err)
	}
	if _, err := s.cli.Put(ctx, key, string(raw)); err != nil {
		return store.Fail(op, err)
	}
	return nil
}

func (s *Store) watch(ctx context.Context) {
	wc := s.cli.Watch(ctx, s.prefix, clientv3.WithPrefix())
	for resp := range wc {
		for _, ev := range resp.Events {
			s.dispatch(ev)
		}
	}
}

func (s *Store) dispatch(ev *clientv3.Event) {
	key := strings.TrimPrefix(string(ev.Kv.Key), s.prefix)
	deleted := ev.Type == clientv3.EventTypeDelete
	switch {
	case strings.HasPrefix(key, nodesPrefix):
		id, err := strconv.ParseUint(strings.TrimPrefix(key, nodesPrefix), 10, 64)
		if err != nil {
			return
		}
		var n *entity.FrontEndNode
		if !deleted {
			n = &entity.FrontEndNode{}
			if json.Unmarshal(ev.Kv.Value, n) != nil {
				return
			}
		}
		for _, h := range s.nodeHooks {
			h(id, n)
		}
	case strings.HasPrefix(key, enginesPrefix):
		id, err := strconv.ParseUint(strings.TrimPrefix(key, enginesPrefix), 10, 64)
		if err != nil {
			return
		}
		var e *entity.StorageEngine
		if !deleted {
			e = &entity.StorageEngine{}
			if json.Unmarshal(ev.Kv.Value, e) != nil {
				return
			}
		}
		for _, h := range s.engineHooks {
			h(id, e)
		}
	case strings.HasPrefix(key, unitsPrefix):
		id := strings.TrimPrefix(key, unitsPrefix)
		var u *entity.StorageUnit
		if !deleted {
			u = &entity.StorageUnit{}
			if json.Unmarshal(ev.Kv.Value, u) != nil {
				return
			}
		}
		for _, h := range s.unitHooks {
			h(id, u)
		}
	case strings.HasPrefix(key, fragmentsPrefix):
		if deleted {
			return
		}
		f := &entity.Fragment{}
		if json.Unmarshal(ev.Kv.Value, f) != nil {
			return
		}
		for _, h := range s.fragHooks {
			h(ev.IsCreate(), f)
		}
	case strings.HasPrefix(key, schemasPrefix):
		schema := strings.TrimPrefix(key, schemasPrefix)
		var m entity.SchemaMapping
		if !deleted {
			m = entity.SchemaMapping{}
			if json.Unmarshal(ev.Kv.Value, &m) != nil {
				return
			}
		}
		for _, h := range s.schemaHooks {
			h(schema, m)
		}
	case strings.HasPrefix(key, usersPrefix):
		username := strings.TrimPrefix(key, usersPrefix)
		var u *entity.User
		if !deleted {
			u = &entity.User{}
			if json.Unmarshal(ev.Kv.Value, u) != nil {
				return
			}
		}
		for _, h := range s.userHooks {
			h(username, u)
		}
	}
}

func (s *Store) RegisterNode(ctx context.Context, node *entity.FrontEndNode) (uint64, error) {
	id, err := s.nextId(ctx, "node")
	if err != nil {
		return 0, err
	}
	n := node.Clone()
	n.Id = id
	if err := s.put(ctx, "RegisterNode", s.key(nodesPrefix, strconv.FormatUint(id, 10)), n); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) nextId(ctx context.Context, counter string) (uint64, error) {
	key := s.key(countersKey, "/", counter)
	for {
		resp, err := s.cli.Get(ctx, key)
		if err != nil {
			return 0, store.Fail("nextId", err)
		}
		var cur uint64
		var modRev int64
		if len(resp.Kvs) > 0 {
			cur, _ = strconv.ParseUint(string(resp.Kvs[0].Value), 10, 64)
			modRev = resp.Kvs[0].ModRevision
		}
		next := cur + 1
		txn := s.cli.Txn(ctx).If(
			clientv3.Compare(clientv3.ModRevision(key), "=", modRev),
		).Then(
			clientv3.OpPut(key, strconv.FormatUint(next, 10)),
		)
		tresp, err := txn.Commit()
		if err != nil {
			return 0, store.Fail("nextId", err)
		}
		if tresp.Succeeded {
			return next, nil
		}
	}
}

func (s *Store) LoadNodes(ctx context.Context) (map[uint64]*entity.FrontEndNode, error) {
	resp, err := s.cli.Get(ctx, s.key(nodesPrefix), clientv3.WithPrefix())
	if err != nil {
		return nil, store.Fail("LoadNodes", err)
	}
	out := make(map[uint64]*entity.FrontEndNode, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		id, err := strconv.ParseUint(strings.TrimPrefix(string(kv.Key), s.key(nodesPrefix)), 10, 64)
		if err != nil {
			continue
		}
		n := &entity.FrontEndNode{}
		if json.Unmarshal(kv.Value, n) != nil {
			continue
		}
		out[id] = n
	}
	return out, nil
}

func (s *Store) OnNodeChange(hook store.NodeChangeHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodeHooks = append(s.nodeHooks, hook)
}

func (s *Store) AddStorageEngine(ctx context.Context, engine *entity.StorageEngine) (uint64, error) {
	id, err := s.nextId(ctx, "engine")
	if err != nil {
		return 0, err
	}
	e := engine.Clone()
	e.Id = id
	if err := s.put(ctx, "AddStorageEngine", s.key(enginesPrefix, strconv.FormatUint(id, 10)), e); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) LoadStorageEngines(ctx context.Context) (map[uint64]*entity.StorageEngine, error) {
	resp, err := s.cli.Get(ctx, s.key(enginesPrefix), clientv3.WithPrefix())
	if err != nil {
		return nil, store.Fail("LoadStorageEngines", err)
	}
	out := make(map[uint64]*entity.StorageEngine, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		id, err := strconv.ParseUint(strings.TrimPrefix(string(kv.Key), s.key(enginesPrefix)), 10, 64)
		if err != nil {
			continue
		}
		e := &entity.StorageEngine{}
		if json.Unmarshal(kv.Value, e) != nil {
			continue
		}
		out[id] = e
	}
	return out, nil
}

func (s *Store) OnStorageEngineChange(hook store.StorageEngineChangeHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engineHooks = append(s.engineHooks, hook)
}

func (s *Store) AddStorageUnit(ctx context.Context) (string, error) {
	seq, err := s.nextId(ctx, "unit")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("unit%016x", seq), nil
}

func (s *Store) UpdateStorageUnit(ctx context.Context, unit *entity.StorageUnit) error {
	return s.put(ctx, "UpdateStorageUnit", s.key(unitsPrefix, unit.Id), unit)
}

func (s *Store) LoadStorageUnits(ctx context.Context) (map[string]*entity.StorageUnit, error) {
	resp, err := s.cli.Get(ctx, s.key(unitsPrefix), clientv3.WithPrefix())
	if err != nil {
		return nil, store.Fail("LoadStorageUnits", err)
	}
	out := make(map[string]*entity.StorageUnit, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		id := strings.TrimPrefix(string(kv.Key), s.key(unitsPrefix))
		u := &entity.StorageUnit{}
		if json.Unmarshal(kv.Value, u) != nil {
			continue
		}
		out[id] = u
	}
	return out, nil
}

func (s *Store) OnStorageUnitChange(hook store.StorageUnitChangeHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unitHooks = append(s.unitHooks, hook)
}

func fragmentKeySuffix(f *entity.Fragment) string {
	return fmt.Sprintf("%s\x00%s\x00%020d", f.TsInterval.StartSeries, f.TsInterval.EndSeries, f.TimeInterval.StartTime)
}

func (s *Store) AddFragment(ctx context.Context, fragment *entity.Fragment) error {
	return s.put(ctx, "AddFragment", s.key(fragmentsPrefix, fragmentKeySuffix(fragment)), fragment)
}

func (s *Store) UpdateFragment(ctx context.Context, fragment *entity.Fragment) error {
	return s.put(ctx, "UpdateFragment", s.key(fragmentsPrefix, fragmentKeySuffix(fragment)), fragment)
}

func (s *Store) LoadFragments(ctx context.Context) (map[entity.TimeSeriesInterval][]*entity.Fragment, error) {
	resp, err := s.cli.Get(ctx, s.key(fragmentsPrefix), clientv3.WithPrefix())
	if err != nil {
		return nil, store.Fail("LoadFragments", err)
	}
	out := make(map[entity.TimeSeriesInterval][]*entity.Fragment)
	for _, kv := range resp.Kvs {
		f := &entity.Fragment{}
		if json.Unmarshal(kv.Value, f) != nil {
			continue
		}
		out[f.TsInterval] = append(out[f.TsInterval], f)
	}
	return out, nil
}

func (s *Store) OnFragmentChange(hook store.FragmentChangeHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fragHooks = append(s.fragHooks, hook)
}

func (s *Store) UpdateSchemaMapping(ctx context.Context, schema string, mapping entity.SchemaMapping) error {
	if len(mapping) == 0 {
		if _, err := s.cli.Delete(ctx, s.key(schemasPrefix, schema)); err != nil {
			return store.Fail("UpdateSchemaMapping", err)
		}
		return nil
	}
	return s.put(ctx, "UpdateSchemaMapping", s.key(schemasPrefix, schema), mapping)
}

func (s *Store) LoadSchemaMappings(ctx context.Context) (map[string]entity.SchemaMapping, error) {
	resp, err := s.cli.Get(ctx, s.key(schemasPrefix), clientv3.WithPrefix())
	if err != nil {
		return nil, store.Fail("LoadSchemaMappings", err)
	}
	out := make(map[string]entity.SchemaMapping, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		schema := strings.TrimPrefix(string(kv.Key), s.key(schemasPrefix))
		m := entity.SchemaMapping{}
		if json.Unmarshal(kv.Value, &m) != nil {
			continue
		}
		out[schema] = m
	}
	return out, nil
}

func (s *Store) OnSchemaMappingChange(hook store.SchemaMappingChangeHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemaHooks = append(s.schemaHooks, hook)
}

func (s *Store) AddUser(ctx context.Context, user *entity.User) error {
	key := s.key(usersPrefix, user.Username)
	resp, err := s.cli.Get(ctx, key)
	if err != nil {
		return store.Fail("AddUser", err)
	}
	if len(resp.Kvs) > 0 {
		return store.Fail("AddUser", fmt.Errorf("%w: %q", mcerrors.ErrUserAlreadyExists, user.Username))
	}
	return s.put(ctx, "AddUser", key, user)
}

func (s *Store) UpdateUser(ctx context.Context, user *entity.User) error {
	return s.put(ctx, "UpdateUser", s.key(usersPrefix, user.Username), user)
}

func (s *Store) RemoveUser(ctx context.Context, username string) error {
	if _, err := s.cli.Delete(ctx, s.key(usersPrefix, username)); err != nil {
		return store.Fail("RemoveUser", err)
	}
	return nil
}

func (s *Store) LoadUsers(ctx context.Context) ([]*entity.User, error) {
	resp, err := s.cli.Get(ctx, s.key(usersPrefix), clientv3.WithPrefix())
	if err != nil {
		return nil, store.Fail("LoadUsers", err)
	}
	out := make([]*entity.User, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		u := &entity.User{}
		if json.Unmarshal(kv.Value, u) != nil {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

func (s *Store) OnUserChange(hook store.UserChangeHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userHooks = append(s.userHooks, hook)
}

func (s *Store) LockFragment(ctx context.Context) error {
	if err := s.fragMu.Lock(ctx); err != nil {
		return store.Fail("LockFragment", err)
	}
	return nil
}

func (s *Store) ReleaseFragment(ctx context.Context) error {
	if err := s.fragMu.Unlock(ctx); err != nil {
		return store.Fail("ReleaseFragment", err)
	}
	return nil
}

func (s *Store) LockStorageUnit(ctx context.Context) error {
	if err := s.unitMu.Lock(ctx); err != nil {
		return store.Fail("LockStorageUnit", err)
	}
	return nil
}

func (s *Store) ReleaseStorageUnit(ctx context.Context) error {
	if err := s.unitMu.Unlock(ctx); err != nil {
		return store.Fail("ReleaseStorageUnit", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.watchCancel()
	s.session.Close()
	return s.cli.Close()
}

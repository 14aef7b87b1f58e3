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

// Package zk is the ZooKeeper-backed MetaStore (spec.md §6): every entity is
// a persistent znode under a configurable root, children watches drive the
// change hooks, and the two advisory locks are zk.Lock sequential-ephemeral
// znodes.
package zk

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"

	"github.com/chronograph-db/metacore/entity"
	mcerrors "github.com/chronograph-db/metacore/errors"
	"github.com/chronograph-db/metacore/store"
)

const (
	nodesNode     = "nodes"
	enginesNode   = "engines"
	unitsNode     = "units"
	fragmentsNode = "fragments"
	schemasNode   = "schemas"
	usersNode     = "users"
	countersNode  = "counters"

	fragmentLockNode    = "locks-fragment"
	storageUnitLockNode = "locks-storage-unit"
)

// Store is the ZooKeeper-backed MetaStore implementation.
type Store struct {
	conn *zk.Conn
	root string

	fragLock *zk.Lock
	unitLock *zk.Lock

	mu          sync.Mutex
	nodeHooks   []store.NodeChangeHook
	engineHooks []store.StorageEngineChangeHook
	unitHooks   []store.StorageUnitChangeHook
	fragHooks   []store.FragmentChangeHook
	schemaHooks []store.SchemaMappingChangeHook
	userHooks   []store.UserChangeHook

	stop chan struct{}
}

// Config configures the ZooKeeper backend.
type Config struct {
	Servers []string
	Root    string
	Timeout time.Duration
}

// Open connects to ZooKeeper and ensures the fixed directory layout exists.
func Open(cfg Config) (*Store, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	conn, _, err := zk.Connect(cfg.Servers, timeout)
	if err != nil {
		return nil, store.Fail("Open", err)
	}
	root := cfg.Root
	if root == "" {
		root = "/chronograph/metacore"
	}
	root = strings.TrimSuffix(root, "/")

	s := &Store{conn: conn, root: root, stop: make(chan struct{})}
	for _, dir := range []string{"", "/" + nodesNode, "/" + enginesNode, "/" + unitsNode, "/" + fragmentsNode, "/" + schemasNode, "/" + usersNode, "/" + countersNode} {
		if err := s.ensureDir(root + dir); err != nil {
			conn.Close()
			return nil, err
		}
	}
	s.fragLock = zk.NewLock(conn, root+"/"+fragmentLockNode, zk.WorldACL(zk.PermAll))
	s.unitLock = zk.NewLock(conn, root+"/"+storageUnitLockNode, zk.WorldACL(zk.PermAll))

	go s.watchChildren(nodesNode, s.dispatchNode)
	go s.watchChildren(enginesNode, s.dispatchEngine)
	go s.watchChildren(unitsNode, s.dispatchUnit)
	go s.watchChildren(fragmentsNode, s.dispatchFragment)
	go s.watchChildren(schemasNode, s.dispatchSchema)
	go s.watchChildren(usersNode, s.dispatchUser)

	return s, nil
}

func (s *Store) ensureDir(path string) error {
	exists, _, err := s.conn.Exists(path)
	if err != nil {
		return store.Fail("ensureDir", err)
	}
	if exists {
		return nil
	}
	_, err = s.conn.Create(path, nil, 0, zk.WorldACL(zk.PermAll))
	if err != nil && err != zk.ErrNodeExists {
		return store.Fail("ensureDir", err)
	}
	return nil
}

func (s *Store) path(dir, name string) string { return s.root + "/" + dir + "/" + name }

func (s *Store) put(op, p string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return store.Fail(op, err)
	}
	exists, stat, err := s.conn.Exists(p)
	if err != nil {
		return store.Fail(op, err)
	}
	if !exists {
		_, err = s.conn.Create(p, raw, 0, zk.WorldACL(zk.PermAll))
		if err != nil {
			return store.Fail(op, err)
		}
		return nil
	}
	if _, err := s.conn.Set(p, raw, stat.Version); err != nil {
		return store.Fail(op, err)
	}
	return nil
}

// watchChildren polls the children of dir under root, re-arming a
// ChildrenW watch after each fire, and invokes dispatch(name) for every
// child that appeared or disappeared since the last list. A change to the
// data of an existing child does not fire the watch and is not dispatched.
func (s *Store) watchChildren(dir string, dispatch func(name string)) {
	prev := map[string]struct{}{}
	dirPath := s.root + "/" + dir
	for {
		children, _, ch, err := s.conn.ChildrenW(dirPath)
		if err != nil {
			select {
			case <-s.stop:
				return
			case <-time.After(time.Second):
				continue
			}
		}
		cur := make(map[string]struct{}, len(children))
		for _, c := range children {
			cur[c] = struct{}{}
			if _, ok := prev[c]; !ok {
				dispatch(c)
			}
		}
		for c := range prev {
			if _, ok := cur[c]; !ok {
				dispatch(c)
			}
		}
		prev = cur
		select {
		case <-s.stop:
			return
		case <-ch:
		}
	}
}

func (s *Store) dispatchNode(name string) {
	id, err := strconv.ParseUint(name, 10, 64)
	if err != nil {
		return
	}
	raw, _, err := s.conn.Get(s.path(nodesNode, name))
	var n *entity.FrontEndNode
	if err == nil {
		n = &entity.FrontEndNode{}
		if json.Unmarshal(raw, n) != nil {
			n = nil
		}
	}
	for _, h := range s.nodeHooks {
		h(id, n)
	}
}

func (s *Store) dispatchEngine(name string) {
	id, err := strconv.ParseUint(name, 10, 64)
	if err != nil {
		return
	}
	raw, _, err := s.conn.Get(s.path(enginesNode, name))
	var e *entity.StorageEngine
	if err == nil {
		e = &entity.StorageEngine{}
		if json.Unmarshal(raw, e) != nil {
			e = nil
		}
	}
	for _, h := range s.engineHooks {
		h(id, e)
	}
}

func (s *Store) dispatchUnit(name string) {
	raw, _, err := s.conn.Get(s.path(unitsNode, name))
	var u *entity.StorageUnit
	if err == nil {
		u = &entity.StorageUnit{}
		if json.Unmarshal(raw, u) != nil {
			u = nil
		}
	}
	for _, h := range s.unitHooks {
		h(name, u)
	}
}

func (s *Store) dispatchFragment(name string) {
	raw, _, err := s.conn.Get(s.path(fragmentsNode, name))
	if err != nil {
		return
	}
	f := &entity.Fragment{}
	if json.Unmarshal(raw, f) != nil {
		return
	}
	for _, h := range s.fragHooks {
		h(true, f)
	}
}

func (s *Store) dispatchSchema(name string) {
	schema := unescapeZKName(name)
	raw, _, err := s.conn.Get(s.path(schemasNode, name))
	var m entity.SchemaMapping
	if err == nil {
		m = entity.SchemaMapping{}
		if json.Unmarshal(raw, &m) != nil {
			m = nil
		}
	}
	for _, h := range s.schemaHooks {
		h(schema, m)
	}
}

func (s *Store) dispatchUser(name string) {
	username := unescapeZKName(name)
	raw, _, err := s.conn.Get(s.path(usersNode, name))
	var u *entity.User
	if err == nil {
		u = &entity.User{}
		if json.Unmarshal(raw, u) != nil {
			u = nil
		}
	}
	for _, h := range s.userHooks {
		h(username, u)
	}
}

// escapeZKName maps arbitrary strings (schema names, usernames) onto legal
// znode names: ZooKeeper forbids '/' in a path component.
func escapeZKName(s string) string {
	return strings.ReplaceAll(s, "/", "%2F")
}

func unescapeZKName(s string) string {
	return strings.ReplaceAll(s, "%2F", "/")
}

func (s *Store) RegisterNode(_ context.Context, node *entity.FrontEndNode) (uint64, error) {
	id, err := s.nextId("node")
	if err != nil {
		return 0, err
	}
	n := node.Clone()
	n.Id = id
	if err := s.put("RegisterNode", s.path(nodesNode, strconv.FormatUint(id, 10)), n); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) nextId(counter string) (uint64, error) {
	p := s.root + "/" + countersNode + "/" + counter
	for {
		exists, stat, err := s.conn.Exists(p)
		if err != nil {
			return 0, store.Fail("nextId", err)
		}
		if !exists {
			_, err := s.conn.Create(p, []byte("1"), 0, zk.WorldACL(zk.PermAll))
			if err == nil {
				return 1, nil
			}
			if err != zk.ErrNodeExists {
				return 0, store.Fail("nextId", err)
			}
			continue
		}
		raw, stat2, err := s.conn.Get(p)
		if err != nil {
			return 0, store.Fail("nextId", err)
		}
		cur, _ := strconv.ParseUint(string(raw), 10, 64)
		next := cur + 1
		if _, err := s.conn.Set(p, []byte(strconv.FormatUint(next, 10)), stat2.Version); err != nil {
			if err == zk.ErrBadVersion {
				continue
			}
			return 0, store.Fail("nextId", err)
		}
		_ = stat
		return next, nil
	}
}

func (s *Store) LoadNodes(_ context.Context) (map[uint64]*entity.FrontEndNode, error) {
	names, _, err := s.conn.Children(s.root + "/" + nodesNode)
	if err != nil {
		return nil, store.Fail("LoadNodes", err)
	}
	out := make(map[uint64]*entity.FrontEndNode, len(names))
	for _, name := range names {
		id, err := strconv.ParseUint(name, 10, 64)
		if err != nil {
			continue
		}
		raw, _, err := s.conn.Get(s.path(nodesNode, name))
		if err != nil {
			continue
		}
		n := &entity.FrontEndNode{}
		if json.Unmarshal(raw, n) != nil {
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

func (s *Store) AddStorageEngine(_ context.Context, engine *entity.StorageEngine) (uint64, error) {
	id, err := s.nextId("engine")
	if err != nil {
		return 0, err
	}
	e := engine.Clone()
	e.Id = id
	if err := s.put("AddStorageEngine", s.path(enginesNode, strconv.FormatUint(id, 10)), e); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) LoadStorageEngines(_ context.Context) (map[uint64]*entity.StorageEngine, error) {
	names, _, err := s.conn.Children(s.root + "/" + enginesNode)
	if err != nil {
		return nil, store.Fail("LoadStorageEngines", err)
	}
	out := make(map[uint64]*entity.StorageEngine, len(names))
	for _, name := range names {
		id, err := strconv.ParseUint(name, 10, 64)
		if err != nil {
			continue
		}
		raw, _, err := s.conn.Get(s.path(enginesNode, name))
		if err != nil {
			continue
		}
		e := &entity.StorageEngine{}
		if json.Unmarshal(raw, e) != nil {
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

func (s *Store) AddStorageUnit(context.Context) (string, error) {
	seq, err := s.nextId("unit")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("unit%016x", seq), nil
}

func (s *Store) UpdateStorageUnit(_ context.Context, unit *entity.StorageUnit) error {
	return s.put("UpdateStorageUnit", s.path(unitsNode, unit.Id), unit)
}

func (s *Store) LoadStorageUnits(_ context.Context) (map[string]*entity.StorageUnit, error) {
	names, _, err := s.conn.Children(s.root + "/" + unitsNode)
	if err != nil {
		return nil, store.Fail("LoadStorageUnits", err)
	}
	out := make(map[string]*entity.StorageUnit, len(names))
	for _, name := range names {
		raw, _, err := s.conn.Get(s.path(unitsNode, name))
		if err != nil {
			continue
		}
		u := &entity.StorageUnit{}
		if json.Unmarshal(raw, u) != nil {
			continue
		}
		out[name] = u
	}
	return out, nil
}

func (s *Store) OnStorageUnitChange(hook store.StorageUnitChangeHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unitHooks = append(s.unitHooks, hook)
}

func fragmentNodeName(f *entity.Fragment) string {
	return escapeZKName(fmt.Sprintf("%s_%s_%020d", f.TsInterval.StartSeries, f.TsInterval.EndSeries, f.TimeInterval.StartTime))
}

func (s *Store) AddFragment(_ context.Context, fragment *entity.Fragment) error {
	return s.put("AddFragment", s.path(fragmentsNode, fragmentNodeName(fragment)), fragment)
}

func (s *Store) UpdateFragment(_ context.Context, fragment *entity.Fragment) error {
	return s.put("UpdateFragment", s.path(fragmentsNode, fragmentNodeName(fragment)), fragment)
}

func (s *Store) LoadFragments(_ context.Context) (map[entity.TimeSeriesInterval][]*entity.Fragment, error) {
	names, _, err := s.conn.Children(s.root + "/" + fragmentsNode)
	if err != nil {
		return nil, store.Fail("LoadFragments", err)
	}
	out := make(map[entity.TimeSeriesInterval][]*entity.Fragment)
	for _, name := range names {
		raw, _, err := s.conn.Get(s.path(fragmentsNode, name))
		if err != nil {
			continue
		}
		f := &entity.Fragment{}
		if json.Unmarshal(raw, f) != nil {
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

func (s *Store) UpdateSchemaMapping(_ context.Context, schema string, mapping entity.SchemaMapping) error {
	p := s.path(schemasNode, escapeZKName(schema))
	if len(mapping) == 0 {
		exists, stat, err := s.conn.Exists(p)
		if err != nil {
			return store.Fail("UpdateSchemaMapping", err)
		}
		if !exists {
			return nil
		}
		if err := s.conn.Delete(p, stat.Version); err != nil && err != zk.ErrNoNode {
			return store.Fail("UpdateSchemaMapping", err)
		}
		return nil
	}
	return s.put("UpdateSchemaMapping", p, mapping)
}

func (s *Store) LoadSchemaMappings(_ context.Context) (map[string]entity.SchemaMapping, error) {
	names, _, err := s.conn.Children(s.root + "/" + schemasNode)
	if err != nil {
		return nil, store.Fail("LoadSchemaMappings", err)
	}
	out := make(map[string]entity.SchemaMapping, len(names))
	for _, name := range names {
		raw, _, err := s.conn.Get(s.path(schemasNode, name))
		if err != nil {
			continue
		}
		m := entity.SchemaMapping{}
		if json.Unmarshal(raw, &m) != nil {
			continue
		}
		out[unescapeZKName(name)] = m
	}
	return out, nil
}

func (s *Store) OnSchemaMappingChange(hook store.SchemaMappingChangeHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemaHooks = append(s.schemaHooks, hook)
}

func (s *Store) AddUser(_ context.Context, user *entity.User) error {
	p := s.path(usersNode, escapeZKName(user.Username))
	exists, _, err := s.conn.Exists(p)
	if err != nil {
		return store.Fail("AddUser", err)
	}
	if exists {
		return store.Fail("AddUser", fmt.Errorf("%w: %q", mcerrors.ErrUserAlreadyExists, user.Username))
	}
	return s.put("AddUser", p, user)
}

func (s *Store) UpdateUser(_ context.Context, user *entity.User) error {
	return s.put("UpdateUser", s.path(usersNode, escapeZKName(user.Username)), user)
}

func (s *Store) RemoveUser(_ context.Context, username string) error {
	p := s.path(usersNode, escapeZKName(username))
	_, stat, err := s.conn.Exists(p)
	if err != nil {
		return store.Fail("RemoveUser", err)
	}
	if stat == nil || stat.Version < 0 {
		return nil
	}
	if err := s.conn.Delete(p, stat.Version); err != nil && err != zk.ErrNoNode {
		return store.Fail("RemoveUser", err)
	}
	return nil
}

func (s *Store) LoadUsers(_ context.Context) ([]*entity.User, error) {
	names, _, err := s.conn.Children(s.root + "/" + usersNode)
	if err != nil {
		return nil, store.Fail("LoadUsers", err)
	}
	out := make([]*entity.User, 0, len(names))
	for _, name := range names {
		raw, _, err := s.conn.Get(s.path(usersNode, name))
		if err != nil {
			continue
		}
		u := &entity.User{}
		if json.Unmarshal(raw, u) != nil {
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

func (s *Store) LockFragment(context.Context) error {
	if err := s.fragLock.Lock(); err != nil {
		return store.Fail("LockFragment", err)
	}
	return nil
}

func (s *Store) ReleaseFragment(context.Context) error {
	if err := s.fragLock.Unlock(); err != nil {
		return store.Fail("ReleaseFragment", err)
	}
	return nil
}

func (s *Store) LockStorageUnit(context.Context) error {
	if err := s.unitLock.Lock(); err != nil {
		return store.Fail("LockStorageUnit", err)
	}
	return nil
}

func (s *Store) ReleaseStorageUnit(context.Context) error {
	if err := s.unitLock.Unlock(); err != nil {
		return store.Fail("ReleaseStorageUnit", err)
	}
	return nil
}

func (s *Store) Close() error {
	close(s.stop)
	s.conn.Close()
	return nil
}

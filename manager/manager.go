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

// Package manager assembles every other package behind the single
// MetaManager facade upper layers embed: construction wires identity,
// topology, fragment, dispatch and split together against one MetaStore
// (spec.md §6's "Exposed operations to upper layers").
package manager

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"
	"golang.org/x/sync/errgroup"

	"github.com/chronograph-db/metacore/cache"
	"github.com/chronograph-db/metacore/dispatch"
	"github.com/chronograph-db/metacore/entity"
	mcerrors "github.com/chronograph-db/metacore/errors"
	"github.com/chronograph-db/metacore/fragment"
	"github.com/chronograph-db/metacore/identity"
	"github.com/chronograph-db/metacore/split"
	"github.com/chronograph-db/metacore/store"
	"github.com/chronograph-db/metacore/topology"
)

// MetaManager is the process-wide singleton facade over the metadata core.
// A single instance exists per process; NewManager takes no lock of its
// own and must not be called concurrently for the same store (spec.md §5
// class 1).
type MetaManager struct {
	cfg   *Config
	store store.MetaStore
	cache *cache.Cache

	self *identity.Self

	dispatcher *dispatch.Dispatcher
	topology   *topology.Manager
	fragment   *fragment.Manager
	splitter   *split.Splitter
}

// NewManager constructs and bootstraps a MetaManager: opens the
// configured MetaStore backend, resolves this node's identity, loads
// every entity kind into cache, installs change observers, and - if
// cfg.StorageEngineList names any engines that are not yet known -
// publishes them.
func NewManager(ctx context.Context, cfg *Config, generator split.FragmentGenerator) (*MetaManager, error) {
	span := trace.SpanFromContext(ctx)

	st, err := cfg.OpenStore()
	if err != nil {
		return nil, errors.Info(err, "open meta store failed")
	}

	c := cache.New()
	self, err := identity.Bootstrap(ctx, st, c, cfg.Host, cfg.Port)
	if err != nil {
		st.Close()
		return nil, errors.Info(err, "bootstrap node identity failed")
	}

	dispatcher := dispatch.New(0)

	topologyMgr := topology.NewManager(st, c, self.Node.Id, dispatcher)
	if err := topologyMgr.LoadInitial(ctx); err != nil {
		dispatcher.Close()
		st.Close()
		return nil, errors.Info(err, "load storage engines failed")
	}

	fragmentMgr := fragment.NewManager(st, c, self.Node.Id)

	if err := loadStorageUnitsAndFragments(ctx, st, c); err != nil {
		dispatcher.Close()
		st.Close()
		return nil, errors.Info(err, "load storage units and fragments failed")
	}

	splitter := split.New(c, fragmentMgr, generator, split.Config{
		FlushThreshold:         cfg.PrefixFlushThreshold,
		FragmentSplitPerEngine: cfg.FragmentSplitPerEngine,
	})

	m := &MetaManager{
		cfg:        cfg,
		store:      st,
		cache:      c,
		self:       self,
		dispatcher: dispatcher,
		topology:   topologyMgr,
		fragment:   fragmentMgr,
		splitter:   splitter,
	}

	if err := m.seedAdministrator(ctx); err != nil {
		return nil, errors.Info(err, "seed administrator user failed")
	}
	if err := m.seedStaticStorageEngines(ctx); err != nil {
		span.Errorf("seed static storage engines failed: %v", err)
	}

	span.Infof("meta manager bootstrapped, node id %d, addr %s:%d", self.Node.Id, cfg.Host, cfg.Port)
	return m, nil
}

// loadStorageUnitsAndFragments bulk-loads the four remaining entity kinds
// concurrently - they touch disjoint cache indexes and neither reads the
// other's result, so an errgroup.Group fans them out instead of loading
// one at a time.
func loadStorageUnitsAndFragments(ctx context.Context, st store.MetaStore, c *cache.Cache) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		units, err := st.LoadStorageUnits(ctx)
		if err != nil {
			return err
		}
		c.InitStorageUnit(units)
		return nil
	})

	g.Go(func() error {
		fragments, err := st.LoadFragments(ctx)
		if err != nil {
			return err
		}
		c.InitFragment(fragments)
		return nil
	})

	g.Go(func() error {
		schemas, err := st.LoadSchemaMappings(ctx)
		if err != nil {
			return err
		}
		for schema, mapping := range schemas {
			c.UpdateSchemaMapping(schema, mapping)
		}
		st.OnSchemaMappingChange(func(schema string, mapping entity.SchemaMapping) {
			c.UpdateSchemaMapping(schema, mapping)
		})
		return nil
	})

	g.Go(func() error {
		users, err := st.LoadUsers(ctx)
		if err != nil {
			return err
		}
		for _, u := range users {
			c.AddUser(u)
		}
		st.OnUserChange(func(username string, u *entity.User) {
			if u == nil {
				c.RemoveUser(username)
				return
			}
			c.AddUser(u)
		})
		return nil
	})

	return g.Wait()
}

func (m *MetaManager) seedAdministrator(ctx context.Context) error {
	if m.cfg.AdminUsername == "" {
		return nil
	}
	if _, ok := m.cache.GetUser(m.cfg.AdminUsername); ok {
		return nil
	}
	admin := &entity.User{
		Username: m.cfg.AdminUsername,
		Password: m.cfg.AdminPassword,
		Kind:     entity.Administrator,
		Auths:    entity.AdministratorAuths,
	}
	if err := m.store.AddUser(ctx, admin); err != nil {
		return err
	}
	m.cache.AddUser(admin)
	return nil
}

func (m *MetaManager) seedStaticStorageEngines(ctx context.Context) error {
	proposed, err := ParseStorageEngines(m.cfg.StorageEngineList)
	if err != nil {
		return err
	}
	if len(proposed) == 0 {
		return nil
	}
	known := m.cache.GetEngines()
	var fresh []*entity.StorageEngine
	for _, e := range proposed {
		seen := false
		for _, k := range known {
			if k.Host == e.Host && k.Port == e.Port {
				seen = true
				break
			}
		}
		if !seen {
			fresh = append(fresh, e)
		}
	}
	if len(fresh) == 0 {
		return nil
	}
	if !m.topology.AddStorageEngines(ctx, fresh) {
		return errors.New("add static storage engines failed")
	}
	return nil
}

// Close releases the MetaStore connection and stops the dispatcher.
func (m *MetaManager) Close() error {
	m.dispatcher.Close()
	return m.store.Close()
}

// --- exposed operations (spec.md §6's MetaManager capability set) ---

func (m *MetaManager) AddStorageEngines(ctx context.Context, engines []*entity.StorageEngine) bool {
	return m.topology.AddStorageEngines(ctx, engines)
}

func (m *MetaManager) RegisterEngineChangeHook(hook func(*entity.StorageEngine)) {
	m.topology.RegisterEngineChangeHook(hook)
}

func (m *MetaManager) GetStorageEngines() map[uint64]*entity.StorageEngine { return m.cache.GetEngines() }

func (m *MetaManager) GetStorageUnit(id string) (*entity.StorageUnit, bool) {
	return m.cache.GetStorageUnit(id)
}

func (m *MetaManager) GetNodes() map[uint64]*entity.FrontEndNode { return m.cache.GetNodes() }

func (m *MetaManager) Self() *entity.FrontEndNode { return m.self.Node }

func (m *MetaManager) NextId(ctx context.Context) int64 { return m.self.Ids.Next(ctx) }

func (m *MetaManager) GetFragmentMapByTimeSeriesInterval(ts entity.TimeSeriesInterval) map[entity.TimeSeriesInterval][]*entity.Fragment {
	return m.cache.GetFragmentMapByTimeSeriesInterval(ts)
}

func (m *MetaManager) GetFragmentMapByTimeSeriesIntervalAndTimeInterval(ts entity.TimeSeriesInterval, t entity.TimeInterval) map[entity.TimeSeriesInterval][]*entity.Fragment {
	return m.cache.GetFragmentMapByTimeSeriesIntervalAndTimeInterval(ts, t)
}

func (m *MetaManager) CreateInitialFragmentsAndStorageUnits(ctx context.Context, units []*entity.StorageUnit, fragments []*entity.Fragment) bool {
	return m.fragment.CreateInitialFragmentsAndStorageUnits(ctx, units, fragments)
}

func (m *MetaManager) CreateFragmentsAndStorageUnits(ctx context.Context, units []*entity.StorageUnit, fragments []*entity.Fragment) bool {
	return m.fragment.CreateFragmentsAndStorageUnits(ctx, units, fragments)
}

func (m *MetaManager) GetStorageEngineNum() int { return len(m.cache.GetEngines()) }

// SelectStorageEngineIdList returns a random sample of size 1+r engine
// ids, or every engine id if the cluster has 1+r or fewer (spec.md §6).
func (m *MetaManager) SelectStorageEngineIdList() []uint64 {
	engines := m.cache.GetEngines()
	ids := make([]uint64, 0, len(engines))
	for id := range engines {
		ids = append(ids, id)
	}
	sampleSize := 1 + m.cfg.ReplicaCount
	if sampleSize >= len(ids) {
		return ids
	}
	rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	return ids[:sampleSize]
}

func (m *MetaManager) UpdateSchemaMapping(ctx context.Context, schema string, mapping entity.SchemaMapping) error {
	if err := m.store.UpdateSchemaMapping(ctx, schema, mapping); err != nil {
		return err
	}
	m.cache.UpdateSchemaMapping(schema, mapping)
	return nil
}

func (m *MetaManager) GetSchemaMapping(schema string) (entity.SchemaMapping, bool) {
	return m.cache.GetSchemaMapping(schema)
}

// AddOrUpdateSchemaMappingItem sets a single key within schema's mapping, or
// removes it if value is entity.RemoveSentinel (spec.md §3/§8 scenario 5).
// The store always receives the full, post-mutation mapping, since
// UpdateSchemaMapping has no item-level write.
func (m *MetaManager) AddOrUpdateSchemaMappingItem(ctx context.Context, schema, key string, value int) error {
	mapping, ok := m.cache.GetSchemaMapping(schema)
	if !ok {
		mapping = entity.SchemaMapping{}
	}
	if value == entity.RemoveSentinel {
		delete(mapping, key)
	} else {
		mapping[key] = value
	}
	if err := m.store.UpdateSchemaMapping(ctx, schema, mapping); err != nil {
		return err
	}
	m.cache.AddOrUpdateSchemaMappingItem(schema, key, value)
	return nil
}

// GetSchemaMappingItem returns schema[key], or entity.RemoveSentinel if
// absent (spec.md §8 scenario 5).
func (m *MetaManager) GetSchemaMappingItem(schema, key string) int {
	return m.cache.GetSchemaMappingItem(schema, key)
}

func (m *MetaManager) GetSchemaMappings() map[string]entity.SchemaMapping { return m.cache.GetSchemaMappings() }

func (m *MetaManager) AddUser(ctx context.Context, user *entity.User) error {
	if err := m.store.AddUser(ctx, user); err != nil {
		return err
	}
	m.cache.AddUser(user)
	return nil
}

// UpdateUser read-modify-writes the cached user identified by username,
// applying password and auths only where non-nil: a nil password leaves the
// existing password unchanged, and a nil auths set leaves the existing
// auths unchanged (spec.md §8 scenario 6).
func (m *MetaManager) UpdateUser(ctx context.Context, username string, password *string, auths map[entity.Auth]struct{}) error {
	user, ok := m.cache.GetUser(username)
	if !ok {
		return fmt.Errorf("%w: %q", mcerrors.ErrUserNotFound, username)
	}
	if password != nil {
		user.Password = *password
	}
	if auths != nil {
		user.Auths = auths
	}
	if err := m.store.UpdateUser(ctx, user); err != nil {
		return err
	}
	m.cache.UpdateUser(user)
	return nil
}

func (m *MetaManager) RemoveUser(ctx context.Context, username string) error {
	if err := m.store.RemoveUser(ctx, username); err != nil {
		return err
	}
	m.cache.RemoveUser(username)
	return nil
}

func (m *MetaManager) GetUser(username string) (*entity.User, bool) { return m.cache.GetUser(username) }

func (m *MetaManager) GetUsers() []*entity.User { return m.cache.GetUsers() }

func (m *MetaManager) Splitter() *split.Splitter { return m.splitter }

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

// Package cache is the in-memory read index over everything the MetaStore
// durably tracks (spec.md §5). It is optimistic: callers publish to the
// store first and mirror the result here, or bulk-load once at startup via
// Init*.
package cache

import (
	"sort"
	"sync"

	"github.com/chronograph-db/metacore/entity"
	"github.com/chronograph-db/metacore/metrics"
)

// Cache is the process-local metadata index. All methods are safe for
// concurrent use.
type Cache struct {
	mu sync.RWMutex

	nodes   map[uint64]*entity.FrontEndNode
	engines map[uint64]*entity.StorageEngine
	units   map[string]*entity.StorageUnit
	schemas map[string]entity.SchemaMapping
	users   map[string]*entity.User

	// fragments holds, per series interval, the fragment list sorted
	// ascending by TimeInterval.StartTime.
	fragments map[entity.TimeSeriesInterval][]*entity.Fragment
	// latest indexes the open (NoUpperBound) fragment per series interval,
	// if one currently exists.
	latest map[entity.TimeSeriesInterval]*entity.Fragment
}

// publishGaugesLocked refreshes the CacheEntries gauges from the index
// sizes. Callers must hold c.mu (read or write) when calling it.
func (c *Cache) publishGaugesLocked() {
	metrics.CacheEntries.WithLabelValues("node").Set(float64(len(c.nodes)))
	metrics.CacheEntries.WithLabelValues("engine").Set(float64(len(c.engines)))
	metrics.CacheEntries.WithLabelValues("storageUnit").Set(float64(len(c.units)))
	metrics.CacheEntries.WithLabelValues("schema").Set(float64(len(c.schemas)))
	metrics.CacheEntries.WithLabelValues("user").Set(float64(len(c.users)))
	metrics.CacheEntries.WithLabelValues("fragmentSeriesInterval").Set(float64(len(c.fragments)))
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{
		nodes:     make(map[uint64]*entity.FrontEndNode),
		engines:   make(map[uint64]*entity.StorageEngine),
		units:     make(map[string]*entity.StorageUnit),
		schemas:   make(map[string]entity.SchemaMapping),
		users:     make(map[string]*entity.User),
		fragments: make(map[entity.TimeSeriesInterval][]*entity.Fragment),
		latest:    make(map[entity.TimeSeriesInterval]*entity.Fragment),
	}
}

// --- front-end nodes ---

func (c *Cache) AddNode(n *entity.FrontEndNode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes[n.Id] = n.Clone()
	c.publishGaugesLocked()
}

func (c *Cache) RemoveNode(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.nodes, id)
	c.publishGaugesLocked()
}

func (c *Cache) GetNode(id uint64) (*entity.FrontEndNode, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.nodes[id]
	if !ok {
		return nil, false
	}
	return n.Clone(), true
}

func (c *Cache) GetNodes() map[uint64]*entity.FrontEndNode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[uint64]*entity.FrontEndNode, len(c.nodes))
	for k, v := range c.nodes {
		out[k] = v.Clone()
	}
	return out
}

// --- storage engines ---

func (c *Cache) AddEngine(e *entity.StorageEngine) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.engines[e.Id] = e.Clone()
	c.publishGaugesLocked()
}

func (c *Cache) UpdateEngine(e *entity.StorageEngine) {
	c.AddEngine(e)
}

func (c *Cache) GetEngine(id uint64) (*entity.StorageEngine, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.engines[id]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

func (c *Cache) GetEngines() map[uint64]*entity.StorageEngine {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[uint64]*entity.StorageEngine, len(c.engines))
	for k, v := range c.engines {
		out[k] = v.Clone()
	}
	return out
}

// HasStorageEngine reports whether any storage engine is known.
func (c *Cache) HasStorageEngine() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.engines) > 0
}

// --- storage units ---

func (c *Cache) addOrUpdateUnitLocked(u *entity.StorageUnit) {
	c.units[u.Id] = u.Clone()
	if !u.IsMaster() {
		if master, ok := c.units[u.MasterId]; ok {
			master.AddReplica(u)
		}
	}
	if eng, ok := c.engines[u.StorageEngineId]; ok {
		eng.AddStorageUnit(u.Id)
	}
}

func (c *Cache) AddStorageUnit(u *entity.StorageUnit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addOrUpdateUnitLocked(u)
	c.publishGaugesLocked()
}

func (c *Cache) UpdateStorageUnit(u *entity.StorageUnit) {
	c.AddStorageUnit(u)
}

func (c *Cache) GetStorageUnit(id string) (*entity.StorageUnit, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.units[id]
	if !ok {
		return nil, false
	}
	return u.Clone(), true
}

func (c *Cache) GetStorageUnits() map[string]*entity.StorageUnit {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*entity.StorageUnit, len(c.units))
	for k, v := range c.units {
		out[k] = v.Clone()
	}
	return out
}

// HasStorageUnit reports whether any storage unit is known.
func (c *Cache) HasStorageUnit() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.units) > 0
}

// InitStorageUnit bulk-loads units at startup. It is idempotent: units
// already present are left untouched.
func (c *Cache) InitStorageUnit(units map[string]*entity.StorageUnit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, u := range units {
		if _, ok := c.units[id]; ok {
			continue
		}
		c.addOrUpdateUnitLocked(u)
	}
	c.publishGaugesLocked()
}

// --- fragments ---

func insertSorted(list []*entity.Fragment, f *entity.Fragment) []*entity.Fragment {
	i := sort.Search(len(list), func(i int) bool {
		return list[i].TimeInterval.StartTime >= f.TimeInterval.StartTime
	})
	if i < len(list) && list[i].TimeInterval.StartTime == f.TimeInterval.StartTime {
		list[i] = f
		return list
	}
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = f
	return list
}

func (c *Cache) addFragmentLocked(f *entity.Fragment) {
	c.fragments[f.TsInterval] = insertSorted(c.fragments[f.TsInterval], f)
	if f.TimeInterval.IsOpen() {
		c.latest[f.TsInterval] = f
	} else if cur, ok := c.latest[f.TsInterval]; ok && cur.TimeInterval.StartTime == f.TimeInterval.StartTime {
		delete(c.latest, f.TsInterval)
	}
}

func (c *Cache) AddFragment(f *entity.Fragment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addFragmentLocked(f)
	c.publishGaugesLocked()
}

func (c *Cache) UpdateFragment(f *entity.Fragment) {
	c.AddFragment(f)
}

// HasFragment reports whether any fragment is known.
func (c *Cache) HasFragment() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.fragments) > 0
}

// InitFragment bulk-loads fragments at startup, keyed already by series
// interval. Idempotent per series interval.
func (c *Cache) InitFragment(fragments map[entity.TimeSeriesInterval][]*entity.Fragment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ts, list := range fragments {
		if _, ok := c.fragments[ts]; ok {
			continue
		}
		for _, f := range list {
			c.addFragmentLocked(f)
		}
	}
	c.publishGaugesLocked()
}

// GetFragmentMapByTimeSeriesInterval returns, for every known series
// interval overlapping query, its full fragment list.
func (c *Cache) GetFragmentMapByTimeSeriesInterval(query entity.TimeSeriesInterval) map[entity.TimeSeriesInterval][]*entity.Fragment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[entity.TimeSeriesInterval][]*entity.Fragment)
	for ts, list := range c.fragments {
		if ts.Overlaps(query) {
			out[ts] = cloneFragmentList(list)
		}
	}
	return out
}

// GetFragmentMapByTimeSeriesIntervalAndTimeInterval additionally filters
// each series interval's list down to fragments overlapping timeQuery.
func (c *Cache) GetFragmentMapByTimeSeriesIntervalAndTimeInterval(query entity.TimeSeriesInterval, timeQuery entity.TimeInterval) map[entity.TimeSeriesInterval][]*entity.Fragment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[entity.TimeSeriesInterval][]*entity.Fragment)
	for ts, list := range c.fragments {
		if !ts.Overlaps(query) {
			continue
		}
		lo := sort.Search(len(list), func(i int) bool {
			return list[i].TimeInterval.IsOpen() || list[i].TimeInterval.EndTime > timeQuery.StartTime
		})
		var filtered []*entity.Fragment
		for i := lo; i < len(list); i++ {
			if list[i].TimeInterval.StartTime >= timeQuery.EndTime {
				break
			}
			if list[i].TimeInterval.Overlaps(timeQuery) {
				filtered = append(filtered, list[i].Clone())
			}
		}
		if len(filtered) > 0 {
			out[ts] = filtered
		}
	}
	return out
}

// GetLatestFragmentMap returns the currently-open fragment for every series
// interval that has one.
func (c *Cache) GetLatestFragmentMap() map[entity.TimeSeriesInterval]*entity.Fragment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[entity.TimeSeriesInterval]*entity.Fragment, len(c.latest))
	for k, v := range c.latest {
		out[k] = v.Clone()
	}
	return out
}

// GetLatestFragmentMapByTimeSeriesInterval narrows GetLatestFragmentMap to
// series intervals overlapping query.
func (c *Cache) GetLatestFragmentMapByTimeSeriesInterval(query entity.TimeSeriesInterval) map[entity.TimeSeriesInterval]*entity.Fragment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[entity.TimeSeriesInterval]*entity.Fragment)
	for ts, f := range c.latest {
		if ts.Overlaps(query) {
			out[ts] = f.Clone()
		}
	}
	return out
}

// GetFragmentListByTimeSeriesName returns every fragment (across every
// series interval) whose range contains the named series, sorted by
// start time.
func (c *Cache) GetFragmentListByTimeSeriesName(series string) []*entity.Fragment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*entity.Fragment
	for ts, list := range c.fragments {
		if !ts.Contains(series) {
			continue
		}
		out = append(out, cloneFragmentList(list)...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimeInterval.StartTime < out[j].TimeInterval.StartTime })
	return out
}

// GetFragmentListByTimeSeriesNameAndTimeInterval narrows
// GetFragmentListByTimeSeriesName to fragments overlapping timeQuery.
func (c *Cache) GetFragmentListByTimeSeriesNameAndTimeInterval(series string, timeQuery entity.TimeInterval) []*entity.Fragment {
	full := c.GetFragmentListByTimeSeriesName(series)
	out := make([]*entity.Fragment, 0, len(full))
	for _, f := range full {
		if f.TimeInterval.Overlaps(timeQuery) {
			out = append(out, f)
		}
	}
	return out
}

func cloneFragmentList(list []*entity.Fragment) []*entity.Fragment {
	out := make([]*entity.Fragment, len(list))
	for i, f := range list {
		out[i] = f.Clone()
	}
	return out
}

// --- schema mappings ---

func (c *Cache) UpdateSchemaMapping(schema string, mapping entity.SchemaMapping) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.publishGaugesLocked()
	if len(mapping) == 0 {
		delete(c.schemas, schema)
		return
	}
	c.schemas[schema] = mapping.Clone()
}

func (c *Cache) GetSchemaMapping(schema string) (entity.SchemaMapping, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.schemas[schema]
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

// AddOrUpdateSchemaMappingItem sets schema[key] = value, or removes key if
// value is entity.RemoveSentinel (spec.md §3). schema is created on first
// write if it does not yet exist.
func (c *Cache) AddOrUpdateSchemaMappingItem(schema, key string, value int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.publishGaugesLocked()
	m, ok := c.schemas[schema]
	if !ok {
		if value == entity.RemoveSentinel {
			return
		}
		m = entity.SchemaMapping{}
		c.schemas[schema] = m
	}
	if value == entity.RemoveSentinel {
		delete(m, key)
		return
	}
	m[key] = value
}

// GetSchemaMappingItem returns schema[key], or entity.RemoveSentinel if
// schema or key is absent (spec.md §3/§8 scenario 5).
func (c *Cache) GetSchemaMappingItem(schema, key string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.schemas[schema]
	if !ok {
		return entity.RemoveSentinel
	}
	v, ok := m[key]
	if !ok {
		return entity.RemoveSentinel
	}
	return v
}

func (c *Cache) GetSchemaMappings() map[string]entity.SchemaMapping {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]entity.SchemaMapping, len(c.schemas))
	for k, v := range c.schemas {
		out[k] = v.Clone()
	}
	return out
}

// --- users ---

func (c *Cache) AddUser(u *entity.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[u.Username] = u.Clone()
	c.publishGaugesLocked()
}

func (c *Cache) UpdateUser(u *entity.User) { c.AddUser(u) }

func (c *Cache) RemoveUser(username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.users, username)
	c.publishGaugesLocked()
}

func (c *Cache) GetUser(username string) (*entity.User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.users[username]
	if !ok {
		return nil, false
	}
	return u.Clone(), true
}

func (c *Cache) GetUsers() []*entity.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*entity.User, 0, len(c.users))
	for _, u := range c.users {
		out = append(out, u.Clone())
	}
	return out
}

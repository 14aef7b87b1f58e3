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

// Package store defines the backend-agnostic MetaStore interface (spec.md
// §4.1) and the three concrete implementations that satisfy it: zk, etcd,
// and file.
package store

import (
	"context"
	"fmt"

	"github.com/chronograph-db/metacore/entity"
)

// MetaStorageError is the single error kind MetaStore operations fail with:
// transport, serialization, or contention failures all surface this way, per
// spec.md §7.
type MetaStorageError struct {
	Op  string
	Err error
}

func (e *MetaStorageError) Error() string {
	return fmt.Sprintf("meta store: %s: %v", e.Op, e.Err)
}

func (e *MetaStorageError) Unwrap() error { return e.Err }

func Fail(op string, err error) error {
	if err == nil {
		return nil
	}
	return &MetaStorageError{Op: op, Err: err}
}

// Hooks, one per entity kind, fire on every remote change observed by a
// backend, including changes the local process itself originated (the
// caller is responsible for filtering echoes, per spec.md §5). A nil value
// in Node/Engine/Unit hooks marks a removal. The Fragment hook's create
// flag is true for a newly added fragment and false for an update.
type (
	NodeChangeHook          func(id uint64, node *entity.FrontEndNode)
	StorageEngineChangeHook func(id uint64, engine *entity.StorageEngine)
	StorageUnitChangeHook   func(id string, unit *entity.StorageUnit)
	FragmentChangeHook      func(create bool, fragment *entity.Fragment)
	SchemaMappingChangeHook func(schema string, mapping entity.SchemaMapping)
	UserChangeHook          func(username string, user *entity.User)
)

// MetaStore is the durable, strongly-consistent namespace for cluster
// metadata. Every method either succeeds or returns a *MetaStorageError.
type MetaStore interface {
	// Front-end nodes.
	RegisterNode(ctx context.Context, node *entity.FrontEndNode) (uint64, error)
	LoadNodes(ctx context.Context) (map[uint64]*entity.FrontEndNode, error)
	OnNodeChange(hook NodeChangeHook)

	// Storage engines.
	AddStorageEngine(ctx context.Context, engine *entity.StorageEngine) (uint64, error)
	LoadStorageEngines(ctx context.Context) (map[uint64]*entity.StorageEngine, error)
	OnStorageEngineChange(hook StorageEngineChangeHook)

	// Storage units.
	AddStorageUnit(ctx context.Context) (string, error)
	UpdateStorageUnit(ctx context.Context, unit *entity.StorageUnit) error
	LoadStorageUnits(ctx context.Context) (map[string]*entity.StorageUnit, error)
	OnStorageUnitChange(hook StorageUnitChangeHook)

	// Fragments.
	AddFragment(ctx context.Context, fragment *entity.Fragment) error
	UpdateFragment(ctx context.Context, fragment *entity.Fragment) error
	LoadFragments(ctx context.Context) (map[entity.TimeSeriesInterval][]*entity.Fragment, error)
	OnFragmentChange(hook FragmentChangeHook)

	// Schema mappings.
	UpdateSchemaMapping(ctx context.Context, schema string, mapping entity.SchemaMapping) error
	LoadSchemaMappings(ctx context.Context) (map[string]entity.SchemaMapping, error)
	OnSchemaMappingChange(hook SchemaMappingChangeHook)

	// Users.
	AddUser(ctx context.Context, user *entity.User) error
	UpdateUser(ctx context.Context, user *entity.User) error
	RemoveUser(ctx context.Context, username string) error
	LoadUsers(ctx context.Context) ([]*entity.User, error)
	OnUserChange(hook UserChangeHook)

	// Advisory locks. Canonical acquisition order fragment-before-unit; see
	// spec.md §5.
	LockFragment(ctx context.Context) error
	ReleaseFragment(ctx context.Context) error
	LockStorageUnit(ctx context.Context) error
	ReleaseStorageUnit(ctx context.Context) error

	Close() error
}

// Kind identifies a configured MetaStore backend (spec.md §6).
type Kind string

const (
	KindZooKeeper Kind = "zookeeper"
	KindEtcd      Kind = "etcd"
	KindFile      Kind = "file"
)

// ResolveKind maps a configuration string to a backend kind, defaulting to
// the file backend for an empty or unknown value (spec.md §6).
func ResolveKind(s string) Kind {
	switch Kind(s) {
	case KindZooKeeper:
		return KindZooKeeper
	case KindEtcd:
		return KindEtcd
	default:
		return KindFile
	}
}

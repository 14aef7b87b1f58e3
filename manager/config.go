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
	"strconv"
	"strings"

	"github.com/chronograph-db/metacore/entity"
	"github.com/chronograph-db/metacore/errors"
	"github.com/chronograph-db/metacore/store"
	"github.com/chronograph-db/metacore/store/etcd"
	"github.com/chronograph-db/metacore/store/file"
	"github.com/chronograph-db/metacore/store/zk"
)

func openFileStoreAtPath(path string) (store.MetaStore, error) {
	return file.Open(path)
}

// Config is the construction-time configuration surface of spec.md §6.
type Config struct {
	Host string `json:"host"`
	Port int    `json:"port"`

	// MetaStorage selects the backend: "zookeeper", "etcd", "file", or "".
	MetaStorage string `json:"meta_storage"`
	FilePath    string `json:"file_path"`
	EtcdConfig  etcd.Config `json:"etcd_config"`
	ZkConfig    zk.Config   `json:"zk_config"`

	// ReplicaCount (r) - fragments replicate to 1+r storage engines.
	ReplicaCount int `json:"replica_count"`
	// FragmentSplitPerEngine (k) scales Reallocate's fan-out.
	FragmentSplitPerEngine int `json:"fragment_split_per_engine"`
	// PrefixFlushThreshold is the initial size at which the plan
	// splitter's prefix-frequency table is flushed.
	PrefixFlushThreshold int `json:"prefix_flush_threshold"`

	// StorageEngineList is the static engine list, format
	// "host#port#kind#key=value#...", comma-separated.
	StorageEngineList string `json:"storage_engine_list"`

	AdminUsername string `json:"admin_username"`
	AdminPassword string `json:"admin_password"`
}

// OpenStore constructs the MetaStore backend named by cfg.MetaStorage,
// defaulting to the file backend for an empty or unknown value
// (spec.md §6).
func (cfg *Config) OpenStore() (store.MetaStore, error) {
	switch store.ResolveKind(cfg.MetaStorage) {
	case store.KindZooKeeper:
		return zk.Open(cfg.ZkConfig)
	case store.KindEtcd:
		return etcd.Open(cfg.EtcdConfig)
	default:
		path := cfg.FilePath
		if path == "" {
			path = "metacore.json"
		}
		return openFileStoreAtPath(path)
	}
}

// ParseStorageEngines parses cfg.StorageEngineList into proposed
// StorageEngine entities (not yet published), following the
// "host#port#kind#key=value#..." format of spec.md §6.
func ParseStorageEngines(list string) ([]*entity.StorageEngine, error) {
	if strings.TrimSpace(list) == "" {
		return nil, nil
	}
	var out []*entity.StorageEngine
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		fields := strings.Split(entry, "#")
		if len(fields) < 3 {
			return nil, errors.New("malformed storage engine entry: " + entry)
		}
		host := fields[0]
		port, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, errors.New("malformed storage engine port in entry: " + entry)
		}
		kind := entity.EngineKind(fields[2])
		params := make(map[string]string, len(fields)-3)
		for _, kv := range fields[3:] {
			kv = strings.Trim(kv, "\"")
			if kv == "" {
				continue
			}
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) != 2 {
				return nil, errors.New("malformed storage engine param in entry: " + entry)
			}
			params[parts[0]] = parts[1]
		}
		out = append(out, entity.NewStorageEngine(host, port, kind, params, 0))
	}
	return out, nil
}

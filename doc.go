/*
 *
 * Copyright 2024 The ChronoGraph Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

/*

# metacore: the cluster metadata coordination core

metacore is the authoritative in-memory view of a time-series database
front-end cluster: which front-end nodes are alive, which storage engines
back the cluster, how logical storage units map onto those engines, and
how the (series, time) space is carved into fragments owned by a master
storage unit and its replicas.

## Why a separate coordination core

Every front-end node runs its own copy of this package. They never talk to
each other directly - all coordination flows through a pluggable strongly
consistent store (ZooKeeper, etcd, or a single-process file fallback) that
the core treats as the source of truth. The hard problems solved here are:

 1. bootstrapping the very first fragment layout exactly once, despite
    every front-end racing to do it on startup,
 2. creating new fragment/storage-unit batches atomically against both
    the remote store and the local cache,
 3. applying out-of-order change events from peers while never re-applying
    a node's own writes, and
 4. splitting an incoming read/write plan into per-(fragment, replica)
    tasks, including the downsample time-interval splitter.

## Data model

  - FrontEndNode: a registered front-end process, identified by a
    cluster-unique node id that seeds a Snowflake id generator.
  - StorageEngine: a physical backend database instance.
  - StorageUnit: a logical slot inside an engine; a master owns a replica
    set, a replica points back at its master.
  - Fragment: a rectangle in (series, time) space owned by one master
    storage unit.

## Package layout

  - entity:    the data model and its invariants
  - store:     the MetaStore interface plus zk/etcd/file backends
  - cache:     the in-memory MetaCache, the index the rest of the core reads
  - identity:  node registration and the Snowflake id generator
  - topology:  storage engine / storage unit lifecycle
  - fragment:  initial bootstrap, incremental fragment creation
  - dispatch:  ordered, single-worker delivery of engine-change hooks
  - split:     the plan splitter, including the downsample splitter
  - manager:   wires the above into the MetaManager facade

## Consistency model

metacore does not implement consensus. It delegates locking and ordering
to the backing store and offers eventual consistency of the cached view,
with last-writer-wins semantics on the store itself.

*/

package metacore

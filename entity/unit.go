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

package entity

// StorageUnit is a logical slot inside a StorageEngine. A master unit's
// MasterId equals its own Id and it owns a Replicas set; a replica's
// MasterId points at its master and its Replicas is always empty.
type StorageUnit struct {
	Id              string
	StorageEngineId uint64
	MasterId        string
	Replicas        map[string]*StorageUnit
	Initial         bool
	CreatorId       uint64
}

func (u *StorageUnit) IsMaster() bool {
	return u.MasterId == "" || u.MasterId == u.Id
}

// AddReplica splices r into u's replica set. u must be a master.
func (u *StorageUnit) AddReplica(r *StorageUnit) {
	if u.Replicas == nil {
		u.Replicas = make(map[string]*StorageUnit)
	}
	u.Replicas[r.Id] = r
}

func (u *StorageUnit) RemoveReplica(id string) {
	delete(u.Replicas, id)
}

func (u *StorageUnit) ReplicaList() []*StorageUnit {
	out := make([]*StorageUnit, 0, len(u.Replicas))
	for _, r := range u.Replicas {
		out = append(out, r)
	}
	return out
}

// Renamed returns a copy of u with its real, store-assigned id substituted
// for the placeholder id the caller proposed. masterId is the already
// resolved real id of u's master (equal to realId when u is itself a
// master). This is the per-unit step of the fake-id translation pass
// described in spec.md §4.4/§9.
func (u *StorageUnit) Renamed(realId, masterId string) *StorageUnit {
	c := &StorageUnit{
		Id:              realId,
		StorageEngineId: u.StorageEngineId,
		MasterId:        masterId,
		Initial:         u.Initial,
		CreatorId:       u.CreatorId,
	}
	if c.IsMaster() {
		c.Replicas = make(map[string]*StorageUnit)
	}
	return c
}

func (u *StorageUnit) Clone() *StorageUnit {
	if u == nil {
		return nil
	}
	c := *u
	c.Replicas = make(map[string]*StorageUnit, len(u.Replicas))
	for k, v := range u.Replicas {
		rc := *v
		c.Replicas[k] = &rc
	}
	return &c
}

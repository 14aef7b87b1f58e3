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

// Package identity generates cluster-unique 64-bit ids and resolves a
// front-end node's own identity against the MetaStore at startup
// (spec.md §3, expanded SPEC_FULL.md §3).
package identity

import (
	"context"
	"sync"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/chronograph-db/metacore/errors"
)

const (
	nodeIdBits  = 10
	sequenceBits = 12

	maxNodeId   = -1 ^ (-1 << nodeIdBits)
	maxSequence = -1 ^ (-1 << sequenceBits)

	nodeIdShift   = sequenceBits
	timestampShift = sequenceBits + nodeIdBits
)

// epoch is the custom Snowflake epoch (2020-01-01T00:00:00Z), matching the
// original cluster's fixed reference point.
var epoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

// IdGenerator issues monotonically increasing, cluster-unique 64-bit ids:
// [1 unused sign bit][41-bit ms timestamp since epoch][10-bit node id]
// [12-bit sequence]. The sequence wraps and blocks for the next millisecond
// on exhaustion within a single node; cluster-uniqueness across nodes comes
// from the embedded node id, assigned once at MetaStore.RegisterNode time.
type IdGenerator struct {
	mu sync.Mutex

	nodeId        int64
	lastTimestamp int64
	sequence      int64
}

// NewIdGenerator seeds the generator with nodeId, the id this front-end
// node was assigned by the MetaStore during bootstrap.
func NewIdGenerator(nodeId uint64) (*IdGenerator, error) {
	if int64(nodeId) > maxNodeId {
		return nil, errors.New("node id out of range for snowflake generator")
	}
	return &IdGenerator{nodeId: int64(nodeId), lastTimestamp: -1}, nil
}

// Next returns the next unique id, blocking briefly if the local sequence
// has wrapped within the current millisecond.
func (g *IdGenerator) Next(ctx context.Context) int64 {
	span := trace.SpanFromContext(ctx)
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UnixMilli()
	if now < g.lastTimestamp {
		span.Errorf("clock moved backwards, refusing ids for %dms", g.lastTimestamp-now)
		now = g.waitUntil(g.lastTimestamp)
	}

	if now == g.lastTimestamp {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			now = g.waitUntil(g.lastTimestamp + 1)
		}
	} else {
		g.sequence = 0
	}
	g.lastTimestamp = now

	return ((now - epoch) << timestampShift) | (g.nodeId << nodeIdShift) | g.sequence
}

func (g *IdGenerator) waitUntil(target int64) int64 {
	now := time.Now().UnixMilli()
	for now < target {
		time.Sleep(time.Millisecond)
		now = time.Now().UnixMilli()
	}
	return now
}

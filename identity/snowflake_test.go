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

package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewIdGenerator_RejectsOutOfRangeNodeId(t *testing.T) {
	_, err := NewIdGenerator(maxNodeId + 1)
	require.Error(t, err)

	g, err := NewIdGenerator(maxNodeId)
	require.NoError(t, err)
	require.NotNil(t, g)
}

func TestNext_MonotonicAndCarriesNodeId(t *testing.T) {
	g, err := NewIdGenerator(7)
	require.NoError(t, err)

	ctx := context.Background()
	prev := int64(-1)
	for i := 0; i < 1000; i++ {
		id := g.Next(ctx)
		require.Greater(t, id, prev)
		nodeId := (id >> nodeIdShift) & maxNodeId
		require.Equal(t, int64(7), nodeId)
		prev = id
	}
}

func TestNext_SequenceWrapsWithinSameMillisecond(t *testing.T) {
	g, err := NewIdGenerator(1)
	require.NoError(t, err)

	last := time.Now().UnixMilli()
	g.mu.Lock()
	g.lastTimestamp = last
	g.sequence = maxSequence
	g.mu.Unlock()

	id := g.Next(context.Background())
	sequence := id & maxSequence
	require.Equal(t, int64(0), sequence)
	require.Greater(t, (id>>timestampShift)+epoch, last)
}

func BenchmarkNext(b *testing.B) {
	g, err := NewIdGenerator(1)
	require.NoError(b, err)
	ctx := context.Background()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		g.Next(ctx)
	}
}

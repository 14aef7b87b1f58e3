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

package dispatch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDispatcher_DeliversInOrder(t *testing.T) {
	d := New(8)
	defer d.Close()

	var mu sync.Mutex
	var got []int
	var wg sync.WaitGroup
	wg.Add(3)
	for i := 1; i <= 3; i++ {
		i := i
		d.Submit(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()
	require.Equal(t, []int{1, 2, 3}, got)
}

func TestDispatcher_SurvivesPanickingHook(t *testing.T) {
	d := New(8)
	defer d.Close()

	var ran bool
	var wg sync.WaitGroup
	wg.Add(1)
	d.Submit(func() { panic("boom") })
	d.Submit(func() {
		ran = true
		wg.Done()
	})
	wg.Wait()
	require.True(t, ran)
}

func TestEngineChangeHooks_FansOutToAllHooks(t *testing.T) {
	d := New(8)
	defer d.Close()

	hooks := NewEngineChangeHooks[int](d)
	var mu sync.Mutex
	var got []int
	hooks.Register(func(v int) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	})
	hooks.Register(func(v int) {
		mu.Lock()
		got = append(got, v*10)
		mu.Unlock()
	})

	hooks.Fire(5)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, time.Millisecond)
}

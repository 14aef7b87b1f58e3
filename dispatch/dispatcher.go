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

// Package dispatch runs user-registered hooks on a single worker goroutine,
// in submission order, so hooks never race with each other (spec.md §4.6,
// §5). It installs no MetaStore observer itself: the observers that mutate
// MetaCache are installed by topology.Manager and fragment.Manager.
package dispatch

import (
	"context"

	"github.com/cubefs/cubefs/blobstore/common/trace"
)

// event is a unit of work enqueued by a MetaStore observer and drained by
// the single worker goroutine.
type event struct {
	apply func()
}

// Dispatcher serializes hook calls through one worker goroutine: a
// panicking hook is recovered and the hooks after it still run, and a slow
// hook delays the hooks queued after it but not the caller of Submit until
// the queue is full. The
// rest of the core (topology.Manager, fragment.Manager) registers its
// MetaStore observers directly; Dispatcher instead fronts user-registered
// hooks that upper layers attach on top of those observers, per spec.md
// §4.6.
type Dispatcher struct {
	queue chan event
	done  chan struct{}
}

// New starts the dispatcher's worker goroutine. queueSize bounds how many
// pending hook invocations may back up before Submit blocks its caller.
func New(queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	d := &Dispatcher{
		queue: make(chan event, queueSize),
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	span := trace.SpanFromContextSafe(context.Background())
	for ev := range d.queue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					span.Errorf("dispatcher hook panicked: %v", r)
				}
			}()
			ev.apply()
		}()
	}
	close(d.done)
}

// Submit enqueues fn to run on the worker goroutine, in order relative to
// every other Submit call. It blocks if the queue is full.
func (d *Dispatcher) Submit(fn func()) {
	d.queue <- event{apply: fn}
}

// Close stops accepting new work and waits for the queue to drain.
func (d *Dispatcher) Close() {
	close(d.queue)
	<-d.done
}

// EngineChangeHooks is the ordered fan-out list for storage-engine
// discovery notifications (spec.md §4.6). Each hook runs best-effort: a
// panic is caught and logged, never allowed to stop delivery to the
// remaining hooks.
type EngineChangeHooks[T any] struct {
	d     *Dispatcher
	hooks []func(T)
}

// NewEngineChangeHooks returns a fan-out list that delivers through d.
func NewEngineChangeHooks[T any](d *Dispatcher) *EngineChangeHooks[T] {
	return &EngineChangeHooks[T]{d: d}
}

// Register appends hook to the fan-out list. Not safe to call concurrently
// with Fire; callers register hooks during setup, before the MetaStore
// observers that drive Fire are installed.
func (h *EngineChangeHooks[T]) Register(hook func(T)) {
	h.hooks = append(h.hooks, hook)
}

// Fire enqueues delivery of v to every registered hook, each as its own
// dispatcher submission so one hook's panic cannot prevent the rest from
// running.
func (h *EngineChangeHooks[T]) Fire(v T) {
	for _, hook := range h.hooks {
		hook := hook
		h.d.Submit(func() { hook(v) })
	}
}

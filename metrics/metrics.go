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

// Package metrics collects the process-wide Prometheus instrumentation
// for the metadata core: bootstrap-race outcomes, change-event fan-out,
// advisory-lock wait time, and cache size gauges (spec.md §5's
// concurrency model and §9's cluster-wide invariants are the things
// worth watching in production).
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// Registry is the metrics registry this package's collectors are
	// registered against. Embedders expose it behind an HTTP handler.
	Registry = prometheus.NewRegistry()

	// BootstrapRaces counts CreateInitialFragmentsAndStorageUnits calls
	// by outcome: "won", "lost", "noop".
	BootstrapRaces = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "metacore",
			Name:      "bootstrap_races_total",
			Help:      "Outcomes of the exactly-once initial fragment/storage-unit bootstrap race.",
		},
		[]string{"outcome"},
	)

	// ChangeEventsTotal counts change-hook invocations, by entity kind
	// and whether the event was applied to cache or suppressed as a
	// local echo / pre-bootstrap event.
	ChangeEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "metacore",
			Name:      "change_events_total",
			Help:      "MetaStore change-hook invocations by entity kind and disposition.",
		},
		[]string{"entity", "disposition"},
	)

	// LockWaitSeconds observes how long a caller blocked acquiring a
	// MetaStore advisory lock.
	LockWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "metacore",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting to acquire a MetaStore advisory lock.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"lock"},
	)

	// CacheEntries gauges the current size of MetaCache's indexes, by
	// entity kind, so a sudden drop or plateau is visible without
	// reading logs.
	CacheEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "metacore",
			Name:      "cache_entries",
			Help:      "Current MetaCache index size by entity kind.",
		},
		[]string{"entity"},
	)

	// ReallocateTotal counts Reallocate invocations and whether they
	// actually re-sharded anything or were a no-op (e.g. k <= 0 or no engines).
	ReallocateTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "metacore",
			Name:      "reallocate_total",
			Help:      "Reallocate invocations by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	Registry.MustRegister(
		BootstrapRaces,
		ChangeEventsTotal,
		LockWaitSeconds,
		CacheEntries,
		ReallocateTotal,
	)
}

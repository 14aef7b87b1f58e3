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

// RemoveSentinel is the value that, when passed to an update, means "remove
// this key" rather than "set this key to -1" (spec.md §3).
const RemoveSentinel = -1

// SchemaMapping is a named mapping from string keys to integers.
type SchemaMapping map[string]int

func (m SchemaMapping) Clone() SchemaMapping {
	c := make(SchemaMapping, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

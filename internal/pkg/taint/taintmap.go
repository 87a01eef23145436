// Copyright 2020 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package taint

import (
	"sort"

	"github.com/sentryflow/sentryflow/internal/pkg/kernel"
)

// TaintMap is a finite map from Kind to FlowDetails, attached at each
// access-path tip. Absence maps to bottom, so TaintMap never stores an
// explicit bottom FlowDetails (kernel's bottom-normalization invariant).
type TaintMap struct {
	entries map[Kind]FlowDetails
}

var _ kernel.Lattice[TaintMap] = TaintMap{}

// Bottom returns the empty map.
func (TaintMap) Bottom() TaintMap { return TaintMap{} }

// IsBottom reports whether the map has no entries.
func (m TaintMap) IsBottom() bool { return len(m.entries) == 0 }

// Singleton builds a one-entry map for kind k with a freshly declared
// FlowDetails (this module §4.2 "singleton").
func Singleton(k Kind) TaintMap {
	return TaintMap{entries: map[Kind]FlowDetails{k: SingletonDetails()}}
}

// With returns a copy of m with kind k's details joined with d.
func (m TaintMap) With(k Kind, d FlowDetails) TaintMap {
	out := TaintMap{entries: make(map[Kind]FlowDetails, len(m.entries)+1)}
	for kk, dd := range m.entries {
		out.entries[kk] = dd
	}
	if existing, ok := out.entries[k]; ok {
		d = existing.Join(d)
	}
	if !d.IsBottom() {
		out.entries[k] = d
	}
	return out
}

// Get returns the FlowDetails for kind k, or bottom if absent.
func (m TaintMap) Get(k Kind) FlowDetails {
	return m.entries[k]
}

// Has reports whether kind k has non-bottom details.
func (m TaintMap) Has(k Kind) bool {
	d, ok := m.entries[k]
	return ok && !d.IsBottom()
}

// Join computes the kind-wise join of m and other.
func (m TaintMap) Join(other TaintMap) TaintMap {
	out := TaintMap{entries: make(map[Kind]FlowDetails, len(m.entries)+len(other.entries))}
	for k, d := range m.entries {
		out.entries[k] = d
	}
	for k, d := range other.entries {
		if existing, ok := out.entries[k]; ok {
			out.entries[k] = existing.Join(d)
		} else {
			out.entries[k] = d
		}
	}
	return out
}

// Widen is Join for TaintMap: growth is bounded by FlowDetails.Widen
// already, and kinds themselves form a finite, config-determined set.
func (m TaintMap) Widen(other TaintMap) TaintMap { return m.Join(other) }

// LessOrEqual reports whether every kind's details in m are LessOrEqual
// to the corresponding details in other.
func (m TaintMap) LessOrEqual(other TaintMap) bool {
	for k, d := range m.entries {
		if !d.LessOrEqual(other.entries[k]) {
			return false
		}
	}
	return true
}

// Kinds returns the map's kinds in deterministic (sorted) order.
func (m TaintMap) Kinds() []Kind {
	out := make([]Kind, 0, len(m.entries))
	for k := range m.entries {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Filter returns the sub-map containing only kinds for which keep
// returns true.
func (m TaintMap) Filter(keep func(Kind) bool) TaintMap {
	out := TaintMap{entries: make(map[Kind]FlowDetails)}
	for k, d := range m.entries {
		if keep(k) {
			out.entries[k] = d
		}
	}
	return out
}

// Transform rewrites every entry's FlowDetails via f, dropping any that
// become bottom.
func (m TaintMap) Transform(f func(Kind, FlowDetails) FlowDetails) TaintMap {
	out := TaintMap{entries: make(map[Kind]FlowDetails, len(m.entries))}
	for k, d := range m.entries {
		nd := f(k, d)
		if !nd.IsBottom() {
			out.entries[k] = nd
		}
	}
	return out
}

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

import "sort"

// SimpleFeature is metadata with over-under (always-via / may-via)
// semantics: a bare string name, e.g. "via-user-input" or a synthesized
// "tito-position:N" marker.
type SimpleFeature struct {
	Name string
}

// simpleEntry pairs a SimpleFeature with whether it holds on every
// abstract path represented by the owning element (InUnder == true,
// "always-via") or on only some of them (InUnder == false, "may-via").
type simpleEntry struct {
	InUnder bool
}

// SimpleFeatureSet is an over-under set of SimpleFeatures. Joining two
// sets unions their elements; an element present in both operands keeps
// InUnder only if it was true (i.e. "always-via") in both — AND, as
// this module §3 prescribes.
type SimpleFeatureSet struct {
	entries map[SimpleFeature]simpleEntry
}

// NewSimpleFeatureSet builds a set where every given feature is
// "always-via" (InUnder = true). This is the form singleton taint
// declarations use.
func NewSimpleFeatureSet(features ...SimpleFeature) SimpleFeatureSet {
	s := SimpleFeatureSet{entries: make(map[SimpleFeature]simpleEntry, len(features))}
	for _, f := range features {
		s.entries[f] = simpleEntry{InUnder: true}
	}
	return s
}

// IsBottom reports whether the set is empty.
func (s SimpleFeatureSet) IsBottom() bool { return len(s.entries) == 0 }

// Join computes the over-under union of s and other.
func (s SimpleFeatureSet) Join(other SimpleFeatureSet) SimpleFeatureSet {
	out := SimpleFeatureSet{entries: make(map[SimpleFeature]simpleEntry, len(s.entries)+len(other.entries))}
	for f, e := range s.entries {
		out.entries[f] = e
	}
	for f, e := range other.entries {
		if existing, ok := out.entries[f]; ok {
			out.entries[f] = simpleEntry{InUnder: existing.InUnder && e.InUnder}
		} else {
			out.entries[f] = e
		}
	}
	return out
}

// Add returns a copy of s with feature added as "always-via" if it is
// new, or with its existing in_under ANDed with true (a no-op, since
// adding is itself an always-via assertion) if it is already present.
func (s SimpleFeatureSet) Add(f SimpleFeature) SimpleFeatureSet {
	return s.Join(NewSimpleFeatureSet(f))
}

// Without returns a copy of s with every feature satisfying drop removed;
// used to strip transient TitoPosition features at a call boundary.
func (s SimpleFeatureSet) Without(drop func(SimpleFeature) bool) SimpleFeatureSet {
	out := SimpleFeatureSet{entries: make(map[SimpleFeature]simpleEntry, len(s.entries))}
	for f, e := range s.entries {
		if !drop(f) {
			out.entries[f] = e
		}
	}
	return out
}

// Has reports whether f is present in the set (either always- or
// may-via).
func (s SimpleFeatureSet) Has(f SimpleFeature) bool {
	_, ok := s.entries[f]
	return ok
}

// AlwaysVia reports whether f is present and marked "always-via".
func (s SimpleFeatureSet) AlwaysVia(f SimpleFeature) bool {
	e, ok := s.entries[f]
	return ok && e.InUnder
}

// List returns the set's elements in deterministic order, alongside
// their in_under flag.
func (s SimpleFeatureSet) List() []struct {
	Feature SimpleFeature
	InUnder bool
} {
	out := make([]struct {
		Feature SimpleFeature
		InUnder bool
	}, 0, len(s.entries))
	for f, e := range s.entries {
		out = append(out, struct {
			Feature SimpleFeature
			InUnder bool
		}{f, e.InUnder})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Feature.Name < out[j].Feature.Name })
	return out
}

// TitoPositionFeature synthesizes the transient simple feature marking
// which formal position taint-in-taint-out was observed to flow through;
// apply_call strips these at call boundaries (this module §4.2).
func TitoPositionFeature(position int) SimpleFeature {
	return SimpleFeature{Name: "tito-position:" + itoa(position)}
}

// IsTitoPosition reports whether f was produced by TitoPositionFeature.
func IsTitoPosition(f SimpleFeature) bool {
	return len(f.Name) >= len("tito-position:") && f.Name[:len("tito-position:")] == "tito-position:"
}

// LeafNameFeature synthesizes the simple feature recording the name of a
// callee at the point a Declaration taint was first reified into a
// concrete call site (this module §4.2, "attaches a LeafName simple feature
// for each callee").
func LeafNameFeature(calleeName string) SimpleFeature {
	return SimpleFeature{Name: "via:" + calleeName}
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var b []byte
	for i > 0 {
		b = append([]byte{byte('0' + i%10)}, b...)
		i /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}

// ComplexFeature is an unrestricted structured feature value, e.g. the
// access path an argument occupied in the caller (ReturnAccessPath).
type ComplexFeature interface {
	// ComplexFeatureKey returns a value usable as a Go map key, so
	// ComplexFeatureSet can deduplicate by structural equality.
	ComplexFeatureKey() interface{}
}

// ReturnAccessPath is the complex feature attached by dataclass-style
// model inference (this module §4.4, §8 scenario 6): it names the attribute
// a constructor parameter was stored into.
type ReturnAccessPath struct {
	FieldName string
}

// ComplexFeatureKey implements ComplexFeature.
func (r ReturnAccessPath) ComplexFeatureKey() interface{} { return r }

// ComplexFeatureSet is an unrestricted set of ComplexFeature values.
type ComplexFeatureSet struct {
	entries map[interface{}]ComplexFeature
}

// NewComplexFeatureSet builds a set from the given features.
func NewComplexFeatureSet(features ...ComplexFeature) ComplexFeatureSet {
	s := ComplexFeatureSet{entries: make(map[interface{}]ComplexFeature, len(features))}
	for _, f := range features {
		s.entries[f.ComplexFeatureKey()] = f
	}
	return s
}

// IsBottom reports whether the set is empty.
func (s ComplexFeatureSet) IsBottom() bool { return len(s.entries) == 0 }

// Join computes the union of s and other.
func (s ComplexFeatureSet) Join(other ComplexFeatureSet) ComplexFeatureSet {
	out := ComplexFeatureSet{entries: make(map[interface{}]ComplexFeature, len(s.entries)+len(other.entries))}
	for k, f := range s.entries {
		out.entries[k] = f
	}
	for k, f := range other.entries {
		out.entries[k] = f
	}
	return out
}

// Add returns a copy of s with f included.
func (s ComplexFeatureSet) Add(f ComplexFeature) ComplexFeatureSet {
	return s.Join(NewComplexFeatureSet(f))
}

// List returns the set's elements; order is not meaningful for complex
// features beyond being stable within one process run.
func (s ComplexFeatureSet) List() []ComplexFeature {
	out := make([]ComplexFeature, 0, len(s.entries))
	for _, f := range s.entries {
		out = append(out, f)
	}
	return out
}

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
	"go/token"
	"sort"

	"github.com/sentryflow/sentryflow/internal/pkg/accesspath"
)

// MaxCallSiteLength caps the cumulative hop count recorded on a CallSite
// trace, preventing runaway growth across long call chains (this module §4.2
// "essential" and §9 open question on magic constants).
const MaxCallSiteLength = 100

// TraceKind distinguishes the tagged variants of TraceInfo.
type TraceKind int

const (
	// TraceDeclaration marks taint asserted in a user-written model, not
	// yet attached to a concrete program location.
	TraceDeclaration TraceKind = iota
	// TraceOrigin marks taint introduced at a concrete source location in
	// user code.
	TraceOrigin
	// TraceCallSite marks taint that flowed through a call.
	TraceCallSite
)

// CalleeRef is an interned reference to a candidate callee, used instead
// of embedding a full callable-target value so that TraceInfo does not
// need a direct dependency on package callgraph (which would otherwise
// be co-recursive with package taint, since a callgraph.Target's model
// is itself a taint.Environment). Spec.md §9 "Trace cycles" names this
// exact indirection as the intended way to cut the cycle.
type CalleeRef struct {
	// Key is the canonical target string (see package callgraph), opaque
	// to this package.
	Key string
}

// TraceInfo records the provenance of one taint element.
type TraceInfo struct {
	Kind TraceKind

	// Origin fields.
	OriginPos token.Pos

	// CallSite fields.
	Port     accesspath.Root
	Path     accesspath.Path
	CallPos  token.Pos
	Callees  []CalleeRef
	Length   int
}

// Declaration constructs the Declaration trace.
func Declaration() TraceInfo { return TraceInfo{Kind: TraceDeclaration} }

// Origin constructs an Origin trace at the given source position.
func Origin(pos token.Pos) TraceInfo { return TraceInfo{Kind: TraceOrigin, OriginPos: pos} }

// ApplyCall transforms a TraceInfo at a call site, per this module §4.2:
//
//	Declaration  -> Origin(location)
//	Origin(_)    -> CallSite{port, path, location, callees, length=1}
//	CallSite{length=n, ...} -> CallSite{port, path, location, callees, length=n+1}
func (t TraceInfo) ApplyCall(pos token.Pos, callees []CalleeRef, port accesspath.Root, path accesspath.Path) TraceInfo {
	switch t.Kind {
	case TraceDeclaration:
		return Origin(pos)
	case TraceOrigin:
		return TraceInfo{
			Kind:    TraceCallSite,
			Port:    port,
			Path:    path,
			CallPos: pos,
			Callees: callees,
			Length:  1,
		}
	case TraceCallSite:
		length := t.Length + 1
		if length > MaxCallSiteLength {
			length = MaxCallSiteLength
		}
		return TraceInfo{
			Kind:    TraceCallSite,
			Port:    port,
			Path:    path,
			CallPos: pos,
			Callees: callees,
			Length:  length,
		}
	default:
		return t
	}
}

// TraceInfoSet is the set of provenance records attached to one
// FlowDetails. It is a plain set (join = union); deduplication is by
// structural equality of TraceInfo.
type TraceInfoSet struct {
	entries map[traceKey]TraceInfo
}

type traceKey struct {
	kind      TraceKind
	originPos token.Pos
	port      accesspath.Root
	path      string
	callPos   token.Pos
	length    int
}

func keyOf(t TraceInfo) traceKey {
	return traceKey{
		kind:      t.Kind,
		originPos: t.OriginPos,
		port:      t.Port,
		path:      t.Path.String(),
		callPos:   t.CallPos,
		length:    t.Length,
	}
}

// NewTraceInfoSet builds a set from the given traces.
func NewTraceInfoSet(traces ...TraceInfo) TraceInfoSet {
	s := TraceInfoSet{entries: make(map[traceKey]TraceInfo, len(traces))}
	for _, t := range traces {
		s.entries[keyOf(t)] = t
	}
	return s
}

// IsBottom reports whether the set is empty.
func (s TraceInfoSet) IsBottom() bool { return len(s.entries) == 0 }

// Join computes the union of s and other.
func (s TraceInfoSet) Join(other TraceInfoSet) TraceInfoSet {
	out := TraceInfoSet{entries: make(map[traceKey]TraceInfo, len(s.entries)+len(other.entries))}
	for k, t := range s.entries {
		out.entries[k] = t
	}
	for k, t := range other.entries {
		out.entries[k] = t
	}
	return out
}

// HasDeclaration reports whether the set contains a Declaration trace —
// used by ApplyCall's caller to decide whether this is the "first
// reification" moment that earns a LeafName feature (this module §4.2).
func (s TraceInfoSet) HasDeclaration() bool {
	for _, t := range s.entries {
		if t.Kind == TraceDeclaration {
			return true
		}
	}
	return false
}

// Map applies f to every trace in the set, returning a new set.
func (s TraceInfoSet) Map(f func(TraceInfo) TraceInfo) TraceInfoSet {
	out := TraceInfoSet{entries: make(map[traceKey]TraceInfo, len(s.entries))}
	for _, t := range s.entries {
		nt := f(t)
		out.entries[keyOf(nt)] = nt
	}
	return out
}

// List returns the set's traces, sorted by a stable key for deterministic
// serialization.
func (s TraceInfoSet) List() []TraceInfo {
	out := make([]TraceInfo, 0, len(s.entries))
	for _, t := range s.entries {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		ki, kj := keyOf(out[i]), keyOf(out[j])
		if ki.kind != kj.kind {
			return ki.kind < kj.kind
		}
		if ki.path != kj.path {
			return ki.path < kj.path
		}
		return ki.length < kj.length
	})
	return out
}

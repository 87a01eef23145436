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

	"github.com/sentryflow/sentryflow/internal/pkg/accesspath"
)

// FlowDetails is the abstract value attached to each taint-map leaf: a
// product of trace-info set, simple-feature over-under set, and
// complex-feature set (this module §3).
type FlowDetails struct {
	Traces   TraceInfoSet
	Simple   SimpleFeatureSet
	Complex  ComplexFeatureSet
}

// Bottom is the empty FlowDetails.
func (FlowDetails) Bottom() FlowDetails { return FlowDetails{} }

// IsBottom reports whether d carries no information at all.
func (d FlowDetails) IsBottom() bool {
	return d.Traces.IsBottom() && d.Simple.IsBottom() && d.Complex.IsBottom()
}

// Join computes the pointwise join of the three components.
func (d FlowDetails) Join(other FlowDetails) FlowDetails {
	return FlowDetails{
		Traces:  d.Traces.Join(other.Traces),
		Simple:  d.Simple.Join(other.Simple),
		Complex: d.Complex.Join(other.Complex),
	}
}

// Widen for FlowDetails is Join: the only per-run growth is through
// TraceInfoSet.Length, which is already capped by ApplyCall, so ordinary
// join already guarantees termination at this level.
func (d FlowDetails) Widen(other FlowDetails) FlowDetails { return d.Join(other) }

// LessOrEqual reports whether d is below other: every trace, simple
// feature (with an at-least-as-weak in_under), and complex feature of d
// must be present in other.
func (d FlowDetails) LessOrEqual(other FlowDetails) bool {
	for k, t := range d.Traces.entries {
		if _, ok := other.Traces.entries[k]; !ok {
			_ = t
			return false
		}
	}
	for f, e := range d.Simple.entries {
		oe, ok := other.Simple.entries[f]
		if !ok {
			return false
		}
		if e.InUnder && !oe.InUnder {
			return false
		}
	}
	for k := range d.Complex.entries {
		if _, ok := other.Complex.entries[k]; !ok {
			return false
		}
	}
	return true
}

// SingletonDetails builds the FlowDetails for a freshly-declared taint: a
// Declaration trace and no features (this module §4.2 "singleton").
func SingletonDetails() FlowDetails {
	return FlowDetails{Traces: NewTraceInfoSet(Declaration())}
}

// ApplyCall transforms d's trace info at a call site and strips
// transient TitoPosition simple features, attaching a LeafName feature
// per callee if d contained a Declaration trace (this module §4.2).
func (d FlowDetails) ApplyCall(pos token.Pos, callees []CalleeRef, calleeNames []string, port accesspath.Root, path accesspath.Path) FlowDetails {
	hadDeclaration := d.Traces.HasDeclaration()

	out := FlowDetails{
		Traces: d.Traces.Map(func(t TraceInfo) TraceInfo {
			return t.ApplyCall(pos, callees, port, path)
		}),
		Simple:  d.Simple.Without(IsTitoPosition),
		Complex: d.Complex,
	}

	if hadDeclaration {
		for _, name := range calleeNames {
			out.Simple = out.Simple.Add(LeafNameFeature(name))
		}
	}

	return out
}

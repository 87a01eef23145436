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

// Package model holds the per-callable analysis summary (this module §3's
// "Model") and the model-file parser that builds one from user-written
// annotations (this module §4.4).
package model

import (
	"go/token"

	"github.com/sentryflow/sentryflow/internal/pkg/accesspath"
	"github.com/sentryflow/sentryflow/internal/pkg/taint"
)

// Mode distinguishes how a model's callable should be treated by the
// forward and backward analyses (this module §3).
type Mode int

const (
	// Normal runs the ordinary forward/backward transfer rules.
	Normal Mode = iota
	// Sanitize strips some or all of a flavor of taint at this callable's
	// boundary; which axes are stripped is recorded in SanitizeAxes.
	Sanitize
	// SkipAnalysis treats the callable as opaque: its body is never
	// walked, and its model (if any) is taken as given.
	SkipAnalysis
)

func (m Mode) String() string {
	switch m {
	case Normal:
		return "normal"
	case Sanitize:
		return "sanitize"
	case SkipAnalysis:
		return "skip-analysis"
	default:
		return "unknown-mode"
	}
}

// SanitizeAxes records which of a Sanitize-mode model's three channels
// are cleared. A model.Mode of Sanitize with all three false is
// equivalent to Normal; the parser never produces that combination.
type SanitizeAxes struct {
	Sources bool
	Sinks   bool
	Tito    bool
}

// Warning is a non-fatal diagnostic attached to a parsed Model, such as
// the off-by-one self-elision heuristic firing (this module §9).
type Warning struct {
	Message string
}

// Model is the complete per-callable analysis summary (this module §3).
type Model struct {
	// ForwardSourceTaint is forward.source_taint: an environment keyed on
	// LocalResult paths, recording which sources reach the return value.
	ForwardSourceTaint taint.Environment

	// BackwardSinkTaint is backward.sink_taint: an environment keyed on
	// parameters, recording which sinks are reachable from each parameter.
	BackwardSinkTaint taint.Environment

	// BackwardTito is backward.taint_in_taint_out: an environment using
	// LocalReturn/ParameterUpdate(i) kinds to encode parameter-to-result
	// or parameter-to-parameter flow.
	BackwardTito taint.Environment

	Mode         Mode
	SanitizeAxes SanitizeAxes

	// IsObscure reports that no source (body, or user model) was
	// available for this callable; conservative defaults apply (this module
	// §3, §4.9).
	IsObscure bool

	Warnings []Warning
}

// Obscure constructs the conservative default model for a callable whose
// body is unavailable (e.g. external, or pruned by override-fan-out):
// every parameter taints every other parameter and the result, and every
// parameter is considered reached by every configured sink kind. Callers
// refine this default down using the caller's actual rule set; C9 stores
// it as-is and leaves the refinement to C6/C7's transfer rules.
func Obscure() Model {
	return Model{IsObscure: true}
}

// ObscureForSignature is Obscure's fully-materialized form, used once the
// caller knows the callable's arity and the active sink vocabulary
// (this module §3: "reads of [a pruned callable's] model yield the obscure
// default, which conservatively adds a sink to every parameter and a
// source at the result only if find_missing_flows=Obscure"). The sink
// and optional result-source kinds come from the active rule
// configuration, not from this package, since model has no notion of a
// rule set.
func ObscureForSignature(numParams int, sinkKinds []taint.Kind, sourceAtResult *taint.Kind) Model {
	m := Model{IsObscure: true}
	for i := 0; i < numParams; i++ {
		var tm taint.TaintMap
		for _, k := range sinkKinds {
			tm = tm.With(k, taint.SingletonDetails())
		}
		if !tm.IsBottom() {
			m.BackwardSinkTaint = m.BackwardSinkTaint.With(accesspath.Parameter(i), taint.Leaf(tm))
		}
	}
	if sourceAtResult != nil {
		m.ForwardSourceTaint = m.ForwardSourceTaint.With(accesspath.LocalResult, taint.Leaf(taint.Singleton(*sourceAtResult)))
	}
	return m
}

// IsNoOp reports whether m has no information content at all: an empty
// model with no sanitization and no obscurity, i.e. the bottom of the
// model lattice. Used by C9 to detect a target has not yet been visited.
func (m Model) IsNoOp() bool {
	return !m.IsObscure &&
		m.Mode == Normal &&
		m.ForwardSourceTaint.IsBottom() &&
		m.BackwardSinkTaint.IsBottom() &&
		m.BackwardTito.IsBottom()
}

// Join merges two models produced for the same target across fixpoint
// iterations or across branches of a Union annotation.
func (m Model) Join(other Model) Model {
	mode := m.Mode
	axes := m.SanitizeAxes
	if other.Mode == SkipAnalysis || m.Mode == SkipAnalysis {
		mode = SkipAnalysis
	} else if other.Mode == Sanitize || m.Mode == Sanitize {
		mode = Sanitize
		axes = SanitizeAxes{
			Sources: m.SanitizeAxes.Sources || other.SanitizeAxes.Sources,
			Sinks:   m.SanitizeAxes.Sinks || other.SanitizeAxes.Sinks,
			Tito:    m.SanitizeAxes.Tito || other.SanitizeAxes.Tito,
		}
	}
	return Model{
		ForwardSourceTaint: m.ForwardSourceTaint.Join(other.ForwardSourceTaint),
		BackwardSinkTaint:  m.BackwardSinkTaint.Join(other.BackwardSinkTaint),
		BackwardTito:       m.BackwardTito.Join(other.BackwardTito),
		Mode:               mode,
		SanitizeAxes:       axes,
		IsObscure:          m.IsObscure && other.IsObscure,
		Warnings:           append(append([]Warning{}, m.Warnings...), other.Warnings...),
	}
}

// LessOrEqual reports whether m is subsumed by other: used by C9 to
// detect a re-analysis added no new information (the fixpoint condition).
func (m Model) LessOrEqual(other Model) bool {
	if m.Mode != other.Mode {
		return false
	}
	return m.ForwardSourceTaint.LessOrEqual(other.ForwardSourceTaint) &&
		m.BackwardSinkTaint.LessOrEqual(other.BackwardSinkTaint) &&
		m.BackwardTito.LessOrEqual(other.BackwardTito)
}

// ApplyAtCallSite projects m through a call at pos: it returns m's
// forward/backward environments rewritten so that trace info reflects
// having passed through this call (this module §4.6, §4.7's
// "apply_call"). It does not bind m's formal roots to the call's actual
// arguments; the returned environments stay keyed by m's own roots.
func (m Model) ApplyAtCallSite(pos token.Pos, callees []taint.CalleeRef, calleeNames []string) Model {
	apply := func(env taint.Environment) taint.Environment {
		return env.Transform(func(root accesspath.Root, tree taint.Tree) taint.Tree {
			return taint.Transform(tree, func(tm taint.TaintMap) taint.TaintMap {
				return tm.Transform(func(k taint.Kind, d taint.FlowDetails) taint.FlowDetails {
					return d.ApplyCall(pos, callees, calleeNames, root, nil)
				})
			})
		})
	}
	return Model{
		ForwardSourceTaint: apply(m.ForwardSourceTaint),
		BackwardSinkTaint:  apply(m.BackwardSinkTaint),
		BackwardTito:       apply(m.BackwardTito),
		Mode:               m.Mode,
		SanitizeAxes:       m.SanitizeAxes,
		IsObscure:          m.IsObscure,
	}
}

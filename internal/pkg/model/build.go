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

package model

import (
	"fmt"

	"github.com/sentryflow/sentryflow/internal/pkg/accesspath"
	"github.com/sentryflow/sentryflow/internal/pkg/model/lang"
	"github.com/sentryflow/sentryflow/internal/pkg/taint"
)

// ResolvedSignature is the real callable signature a RawModel is matched
// against, supplied by the caller (ordinarily C5's resolver, which knows
// the real *types.Signature). It is deliberately narrow: only what the
// semantic match and the annotation-to-root translation need.
type ResolvedSignature struct {
	HasReceiver bool
	Formals     []accesspath.FormalParameter
}

// Build runs the semantic match pass (this module §4.4 pass 2): it matches
// rm's declared parameters against resolved, applying the self-elision
// heuristic documented at this module §9 when rm is short by exactly one
// parameter and resolved has a receiver rm's declaration omitted, then
// translates rm's Annotation tree into a Model.
//
// On a hard mismatch (any other arity disagreement, unless rm is
// variadic), Build returns a
// non-nil error; whether that aborts the run (verify=true) or is logged
// and the model dropped (verify=false) is the caller's policy, per
// this module §4.4.
func Build(rm lang.RawModel, resolved ResolvedSignature) (Model, error) {
	formals := resolved.Formals
	var warnings []Warning

	if resolved.HasReceiver && len(rm.Params) == len(formals)-1 {
		// The model elided the receiver; shift the model's declared
		// parameters right by one so index 0 lines up with formals[1].
		warnings = append(warnings, Warning{
			Message: fmt.Sprintf("model %s: parameter count is one less than %s's resolved signature; assuming the receiver was elided", rm.Name, rm.Name),
		})
	} else if len(rm.Params) != len(formals) && !rm.Variadic {
		return Model{}, fmt.Errorf("model %s: declares %d parameters, resolved signature has %d", rm.Name, len(rm.Params), len(formals))
	}

	shift := 0
	if resolved.HasReceiver && len(rm.Params) == len(formals)-1 {
		shift = 1
	}

	normalized := accesspath.NormalizeParameters(formals)
	rootForModelIndex := func(i int) (accesspath.Root, bool) {
		j := i + shift
		if j < 0 || j >= len(normalized) {
			return accesspath.Root{}, false
		}
		return normalized[j].Root, true
	}
	rootForName := func(name string) (accesspath.Root, bool) {
		for _, n := range normalized {
			if n.QualifiedName == name {
				return n.Root, true
			}
		}
		return accesspath.Root{}, false
	}

	m := Model{}
	if err := applyAnnotation(&m, rm.Annotation, rootForModelIndex, rootForName, normalized); err != nil {
		return Model{}, fmt.Errorf("model %s: %w", rm.Name, err)
	}
	m.Warnings = warnings
	return m, nil
}

type indexResolver func(int) (accesspath.Root, bool)
type nameResolver func(string) (accesspath.Root, bool)

// applyAnnotation folds one Annotation's effect into m, through
// applyScoped with no scope. applyScoped's scope, when non-nil, narrows a bare (non-AppliesTo) leaf annotation to a single
// root instead of broadcasting it across every formal; AppliesTo sets
// scope for its nested annotation.
func applyAnnotation(m *Model, ann lang.Annotation, byIndex indexResolver, byName nameResolver, all []accesspath.NormalizedParameter) error {
	return applyScoped(m, ann, byIndex, byName, all, nil)
}

func applyScoped(m *Model, ann lang.Annotation, byIndex indexResolver, byName nameResolver, all []accesspath.NormalizedParameter, scope *accesspath.Root) error {
	targets := func() []accesspath.Root {
		if scope != nil {
			return []accesspath.Root{*scope}
		}
		out := make([]accesspath.Root, 0, len(all))
		for _, n := range all {
			out = append(out, n.Root)
		}
		return out
	}

	switch ann.Kind {
	case lang.KindSkipAnalysis:
		m.Mode = SkipAnalysis
		return nil

	case lang.KindSanitize:
		m.Mode = Sanitize
		m.SanitizeAxes = SanitizeAxes{
			Sources: ann.Sanitize.Sources,
			Sinks:   ann.Sanitize.Sinks,
			Tito:    ann.Sanitize.Tito,
		}
		return nil

	case lang.KindTaintSource:
		k := taint.NewKind(ann.KindName)
		if scope == nil {
			m.ForwardSourceTaint = m.ForwardSourceTaint.With(accesspath.LocalResult, taint.Leaf(taint.Singleton(k)))
			return nil
		}
		m.ForwardSourceTaint = m.ForwardSourceTaint.With(*scope, taint.Leaf(taint.Singleton(k)))
		return nil

	case lang.KindTaintSink:
		k := taint.NewKind(ann.KindName)
		for _, r := range targets() {
			m.BackwardSinkTaint = m.BackwardSinkTaint.With(r, taint.Leaf(taint.Singleton(k)))
		}
		return nil

	case lang.KindTaintInTaintOut:
		titoKind := taint.LocalReturn
		if ann.TitoTarget != nil {
			root, ok := resolveSelectorRoot(*ann.TitoTarget, byIndex, byName)
			if !ok {
				return fmt.Errorf("TaintInTaintOut target does not resolve to a known parameter")
			}
			if root.Kind != accesspath.RootPositionalParameter {
				return fmt.Errorf("TaintInTaintOut target must be a positional parameter")
			}
			titoKind = taint.ParameterUpdate(root.Position)
		}
		for _, r := range targets() {
			m.BackwardTito = m.BackwardTito.With(r, taint.Leaf(taint.Singleton(titoKind)))
		}
		return nil

	case lang.KindAddFeatureToArgument:
		fs := taint.NewSimpleFeatureSet()
		for _, mod := range ann.Features {
			if mod.ViaValueOf != "" {
				fs = fs.Add(taint.SimpleFeature{Name: "via-value-of:" + mod.ViaValueOf})
				continue
			}
			fs = fs.Add(taint.SimpleFeature{Name: mod.Literal})
		}
		for _, r := range targets() {
			for _, entry := range fs.List() {
				m.ForwardSourceTaint = m.ForwardSourceTaint.WithAt(r, nil, taint.Leaf(featureOnlyMap(entry.Feature)))
			}
		}
		return nil

	case lang.KindAppliesTo:
		if ann.Selector == nil || ann.Inner == nil {
			return fmt.Errorf("malformed AppliesTo")
		}
		idx, ok := resolveSelectorRoot(*ann.Selector, byIndex, byName)
		if !ok {
			return fmt.Errorf("AppliesTo selector does not resolve to a known parameter")
		}
		return applyScoped(m, *ann.Inner, byIndex, byName, all, &idx)

	case lang.KindUnion:
		for _, member := range ann.Members {
			if err := applyScoped(m, member, byIndex, byName, all, scope); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("unhandled annotation kind %v", ann.Kind)
	}
}

func resolveSelectorRoot(sel lang.AppliesToSelector, byIndex indexResolver, byName nameResolver) (accesspath.Root, bool) {
	if sel.IsName {
		return byName(sel.Name)
	}
	return byIndex(sel.Index)
}

func featureOnlyMap(f taint.SimpleFeature) taint.TaintMap {
	// AddFeatureToArgument attaches a feature without an accompanying
	// kind; it is folded into every kind already present at the target
	// when the environments are later joined against the callable's other
	// annotations, so an empty-kind placeholder is not meaningful here.
	// Features standing alone (no kind yet assigned) are recorded against
	// a reserved internal marker kind that forward/backward transfer
	// strips before externalizing results.
	d := taint.FlowDetails{Simple: taint.NewSimpleFeatureSet().Add(f)}
	return taint.TaintMap{}.With(featureMarkerKind, d)
}

var featureMarkerKind = taint.NewKind("$feature_marker")

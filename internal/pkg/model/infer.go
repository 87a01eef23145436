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
	"github.com/sentryflow/sentryflow/internal/pkg/accesspath"
	"github.com/sentryflow/sentryflow/internal/pkg/taint"
)

// ConstructorField is one field a dataclass-style (or named-tuple-style)
// constructor assigns directly from a positional parameter, supplied by
// C5's signature resolver from the struct's field list in declaration
// order (this module §4.4's "class-model inference").
type ConstructorField struct {
	ParamIndex int
	FieldName  string
}

// InferConstructorModel builds the auto-inferred `__init__`-equivalent
// model for a struct whose constructor assigns each positional parameter
// straight into the field of the same position: each such parameter gets
// a TaintInTaintOut edge to the result, tagged with a ReturnAccessPath
// complex feature naming the field it landed in, so that a source
// reaching the constructor call is attributed to the right field when
// later read back out (this module §4.4, §8 scenario 6). Fields that are not
// populated from a parameter (defaulted, computed) are left untouched.
func InferConstructorModel(fields []ConstructorField) Model {
	m := Model{}
	for _, f := range fields {
		root := accesspath.Parameter(f.ParamIndex)
		d := taint.FlowDetails{
			Traces:  taint.NewTraceInfoSet(taint.Declaration()),
			Complex: taint.NewComplexFeatureSet(taint.ReturnAccessPath{FieldName: f.FieldName}),
		}
		tm := taint.TaintMap{}.With(taint.LocalReturn, d)
		m.BackwardTito = m.BackwardTito.With(root, taint.Leaf(tm))
	}
	return m
}

// StructTagRule maps a struct tag key/value pair to the source Kind a
// field carrying it is treated as, mirroring google-go-flow-levee's built-in `levee:"source"`
// struct tag convention plus any user-configured key/value pairs
// (grounded on internal/pkg/config's IsSourceFieldTag, now generalized to
// this module's own Kind vocabulary instead of a single boolean).
type StructTagRule struct {
	Key   string
	Value string
	Kind  taint.Kind
}

// MatchStructTag returns the source Kind a struct tag's key/value pair
// maps to under rules, or false if none match. The built-in convention
// `sentryflow:"source"` (unqualified, kind name "UserControlled") is
// always checked first regardless of configured rules.
func MatchStructTag(key, value string, rules []StructTagRule) (taint.Kind, bool) {
	if key == "sentryflow" && value == "source" {
		return taint.NewKind("UserControlled"), true
	}
	for _, r := range rules {
		if r.Key == key && r.Value == value {
			return r.Kind, true
		}
	}
	return taint.Kind{}, false
}

// FieldPropagatorMatcher reports whether a callable is a field
// propagator: a method whose every return path returns a source field
// read straight off its receiver, with no other transformation (this module
// §4.4 "Supplemented features"; grounded on google-go-flow-levee's
// fieldpropagator.Analyzer, generalized from a single boolean SSA-walk
// result to a value this package's caller, C5, can attach to a Model
// request so the resulting Model marks that return path as a source).
type FieldPropagatorMatcher struct {
	// IsSourceField reports whether a given struct field name on a given
	// type is configured (or inferred) as a source.
	IsSourceField func(typeName, fieldName string) bool
}

// InferFieldPropagatorModel builds the model for a callable identified
// by C5 as a field propagator returning the named field.
func InferFieldPropagatorModel(typeName, fieldName string, match FieldPropagatorMatcher) (Model, bool) {
	if match.IsSourceField == nil || !match.IsSourceField(typeName, fieldName) {
		return Model{}, false
	}
	m := Model{}
	m.ForwardSourceTaint = m.ForwardSourceTaint.With(accesspath.LocalResult, taint.Leaf(taint.Singleton(taint.NewKind("UserControlled"))))
	return m, true
}

// ObjectGraph is an adjacency map from a named type to the other named
// types that are defined in terms of it (as an underlying type or as a
// field), the same shape google-go-flow-levee's sourceinfer.Analyzer builds by
// walking *ast.TypeSpec declarations (internal/pkg/sourceinfer/analyzer.go
// createObjectGraph). C5 builds this once per package set and supplies it
// here so C4's inference stays a pure function of already-resolved facts.
type ObjectGraph map[string][]string

// InferSourceTypeClosure propagates "is a source type" along an
// ObjectGraph: starting from the seed set of directly-configured or
// struct-tag-inferred source types, every type reachable by following
// edges (a type that embeds, or is defined from, a known source type) is
// also a source type. Ported in idiom from sourceinfer's topoSort +
// depth-first closure, replacing its go/types.Object keys with plain
// type-name strings since C4 is decoupled from any one *analysis.Pass.
func InferSourceTypeClosure(graph ObjectGraph, seeds []string) map[string]bool {
	closure := make(map[string]bool, len(seeds))
	var stack []string
	for _, s := range seeds {
		if !closure[s] {
			closure[s] = true
			stack = append(stack, s)
		}
	}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range graph[cur] {
			if !closure[next] {
				closure[next] = true
				stack = append(stack, next)
			}
		}
	}
	return closure
}

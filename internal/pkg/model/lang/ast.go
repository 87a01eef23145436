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

// Package lang implements the model language: a small subset of Go
// syntax repurposed to annotate a callable's signature with taint
// behavior (this module §4.4). A model file is an ordinary Go source file;
// each top-level function or method declared in it is a model for the
// real callable of the same (possibly qualified) name, and its single
// expression statement is parsed as an Annotation rather than executed.
package lang

// AnnotationKind tags the variants of Annotation.
type AnnotationKind int

const (
	// KindTaintSource marks the annotated path as introducing taint of a
	// given kind: TaintSource[K].
	KindTaintSource AnnotationKind = iota
	// KindTaintSink marks the annotated path as consuming taint of a given
	// kind: TaintSink[K].
	KindTaintSink
	// KindTaintInTaintOut marks the annotated parameter as flowing,
	// unmodified, to the result (or to another parameter, if TitoTarget
	// is set): TaintInTaintOut[K?].
	KindTaintInTaintOut
	// KindAddFeatureToArgument attaches the listed features to the
	// annotated path unconditionally: AddFeatureToArgument[features].
	KindAddFeatureToArgument
	// KindSanitize strips some or all taint axes crossing the annotated
	// callable's boundary: Sanitize[...].
	KindSanitize
	// KindSkipAnalysis marks the callable as opaque: SkipAnalysis.
	KindSkipAnalysis
	// KindAppliesTo narrows a nested annotation to one parameter, picked
	// by position or by name: AppliesTo[i, annotation] or
	// AppliesTo["name", annotation].
	KindAppliesTo
	// KindUnion is the set union of its nested annotations: Union[a, b, …].
	KindUnion
)

func (k AnnotationKind) String() string {
	switch k {
	case KindTaintSource:
		return "TaintSource"
	case KindTaintSink:
		return "TaintSink"
	case KindTaintInTaintOut:
		return "TaintInTaintOut"
	case KindAddFeatureToArgument:
		return "AddFeatureToArgument"
	case KindSanitize:
		return "Sanitize"
	case KindSkipAnalysis:
		return "SkipAnalysis"
	case KindAppliesTo:
		return "AppliesTo"
	case KindUnion:
		return "Union"
	default:
		return "unknown-annotation"
	}
}

// FeatureModifier is a Via[feature] or ViaValueOf[parameter] modifier
// attached to a feature-producing annotation.
type FeatureModifier struct {
	// Literal is the feature name for Via; empty for ViaValueOf.
	Literal string
	// ViaValueOf names the parameter whose runtime value supplies the
	// feature, resolved only at analysis time (not by the parser).
	ViaValueOf string
}

// AppliesToSelector is the index-or-name target of an AppliesTo
// annotation: AppliesTo[0, …] or AppliesTo["name", …], naming a parameter.
type AppliesToSelector struct {
	IsName bool
	Index  int
	Name   string
}

// SanitizeSpec lists which axes a Sanitize[...] annotation clears. A
// bare Sanitize[] with no arguments clears all three (this module §4.4).
type SanitizeSpec struct {
	Sources bool
	Sinks   bool
	Tito    bool
}

// Annotation is the parsed form of one model-language expression,
// parsed from a model function body's sole statement (this module §4.4).
type Annotation struct {
	Kind AnnotationKind

	// KindTaintSource / KindTaintSink / KindTaintInTaintOut: the kind
	// name, e.g. "UserControlled" or "SQL". Empty for a bare
	// TaintInTaintOut (flows with the callable's own encoded kind,
	// LocalReturn or ParameterUpdate(i), filled in by the semantic pass).
	KindName string

	// KindTaintInTaintOut: an optional named or positional target
	// parameter this flows into, instead of the result.
	TitoTarget *AppliesToSelector

	// KindAddFeatureToArgument: the features to attach.
	Features []FeatureModifier

	// KindSanitize.
	Sanitize SanitizeSpec

	// KindAppliesTo.
	Selector *AppliesToSelector
	Inner    *Annotation

	// KindUnion.
	Members []Annotation
}

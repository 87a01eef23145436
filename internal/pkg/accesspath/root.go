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

// Package accesspath implements symbolic paths into values: the root a
// path is anchored at (a parameter, the result, a local, a capture) and
// the sequence of field/index labels that refine it. It also matches
// call-site actual arguments against a callee's formal roots, handling
// positional alignment, keyword binding, and variadic unfolding.
package accesspath

import "fmt"

// RootKind distinguishes the places a taint environment is indexed by.
type RootKind int

const (
	// RootPositionalParameter anchors a path at a parameter identified by
	// its zero-based position.
	RootPositionalParameter RootKind = iota
	// RootNamedParameter anchors a path at a parameter identified by name,
	// used when positional alignment is ambiguous (e.g. after **kwargs
	// unfolding in the modeled language).
	RootNamedParameter
	// RootLocalResult is the callable's return value.
	RootLocalResult
	// RootLocalVariable is a local variable, keyed by its declaration
	// identity within one callable; never visible across callables.
	RootLocalVariable
	// RootCapture is a variable captured by a closure from its enclosing
	// scope.
	RootCapture
)

func (k RootKind) String() string {
	switch k {
	case RootPositionalParameter:
		return "parameter"
	case RootNamedParameter:
		return "named-parameter"
	case RootLocalResult:
		return "result"
	case RootLocalVariable:
		return "local"
	case RootCapture:
		return "capture"
	default:
		return "unknown-root"
	}
}

// Root identifies where a taint environment's value originates.
type Root struct {
	Kind RootKind
	// Position is meaningful for RootPositionalParameter: the zero-based
	// index among the ordinary (non-variadic) formals, as assigned by
	// NormalizeParameters; variadic collectors get a RootNamedParameter
	// root instead.
	Position int
	// Name is meaningful for RootNamedParameter, RootLocalVariable, and
	// RootCapture.
	Name string
}

// LocalResult is the well-known root for a callable's return value.
var LocalResult = Root{Kind: RootLocalResult}

// Parameter constructs the root for the i-th positional parameter.
func Parameter(i int) Root {
	return Root{Kind: RootPositionalParameter, Position: i}
}

// NamedParameter constructs the root for a parameter identified by name.
func NamedParameter(name string) Root {
	return Root{Kind: RootNamedParameter, Name: name}
}

// Local constructs the root for a local variable.
func Local(name string) Root {
	return Root{Kind: RootLocalVariable, Name: name}
}

// Capture constructs the root for a captured variable.
func Capture(name string) Root {
	return Root{Kind: RootCapture, Name: name}
}

func (r Root) String() string {
	switch r.Kind {
	case RootPositionalParameter:
		return fmt.Sprintf("formal(%d)", r.Position)
	case RootNamedParameter:
		return fmt.Sprintf("formal(%s)", r.Name)
	case RootLocalResult:
		return "result"
	case RootLocalVariable:
		return fmt.Sprintf("local(%s)", r.Name)
	case RootCapture:
		return fmt.Sprintf("capture(%s)", r.Name)
	default:
		return "<invalid root>"
	}
}

// Less imposes a total, deterministic order over roots so environments
// can be traversed and serialized reproducibly across runs.
func (r Root) Less(other Root) bool {
	if r.Kind != other.Kind {
		return r.Kind < other.Kind
	}
	if r.Position != other.Position {
		return r.Position < other.Position
	}
	return r.Name < other.Name
}

// NormalizedParameter is one entry in the result of NormalizeParameters:
// the root assigned to a formal parameter, its qualified (model-visible)
// name, and whether it was declared *args/**kwargs-like in the original
// signature.
type NormalizedParameter struct {
	Root          Root
	QualifiedName string
	IsStarArgs    bool // variadic positional collector
	IsStarStar    bool // variadic keyword collector
}

// FormalParameter is the subset of a callable's declared parameter that
// NormalizeParameters needs: its declared name and whether it is a
// variadic collector. The caller (C5's signature resolver) supplies one
// per formal in declaration order.
type FormalParameter struct {
	Name       string
	IsStarArgs bool
	IsStarStar bool
}

// NormalizeParameters assigns a Root to each formal parameter in
// declaration order, recognizing the two variadic collector forms and
// giving each a dedicated synthetic root rather than a positional one
// (since their true arity is only known at each call site).
func NormalizeParameters(params []FormalParameter) []NormalizedParameter {
	out := make([]NormalizedParameter, 0, len(params))
	position := 0
	for _, p := range params {
		switch {
		case p.IsStarArgs:
			out = append(out, NormalizedParameter{
				Root:          NamedParameter("*" + p.Name),
				QualifiedName: p.Name,
				IsStarArgs:    true,
			})
		case p.IsStarStar:
			out = append(out, NormalizedParameter{
				Root:          NamedParameter("**" + p.Name),
				QualifiedName: p.Name,
				IsStarStar:    true,
			})
		default:
			out = append(out, NormalizedParameter{
				Root:          Parameter(position),
				QualifiedName: p.Name,
			})
			position++
		}
	}
	return out
}

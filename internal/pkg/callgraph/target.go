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

// Package callgraph builds the combined call ∪ override graph the
// interprocedural fixpoint (C9) walks, and resolves each call expression
// to its candidate targets (this module §4.5).
package callgraph

import "fmt"

// TargetKind tags the variants of Target.
type TargetKind int

const (
	// TargetFunction is a free function, referenced by its qualified name.
	TargetFunction TargetKind = iota
	// TargetMethod is a method with a statically known receiver type.
	TargetMethod
	// TargetObject is a non-callable value treated as an analysis target
	// (e.g. a package-level variable whose initializer is modeled).
	TargetObject
	// TargetOverride is the abstract join of a method and every type that
	// overrides it; used wherever static dispatch cannot be proven.
	TargetOverride
)

func (k TargetKind) String() string {
	switch k {
	case TargetFunction:
		return "function"
	case TargetMethod:
		return "method"
	case TargetObject:
		return "object"
	case TargetOverride:
		return "override"
	default:
		return "unknown-target"
	}
}

// Target is a tagged reference to a callable or analyzable object
// (this module §3's "Callable target").
type Target struct {
	Kind TargetKind

	// Package is the target's defining import path, qualified by the
	// resolved module path so the same target string is stable across a
	// multi-module build (this module §4.5's canonical target string).
	Package string
	// Name is the function or method name; for TargetOverride, the
	// overridden method's name.
	Name string
	// Class is the receiver type name; set for TargetMethod and
	// TargetOverride.
	Class string
}

// Function constructs a free-function target.
func Function(pkg, name string) Target {
	return Target{Kind: TargetFunction, Package: pkg, Name: name}
}

// Method constructs a method target with a statically known receiver.
func Method(pkg, class, name string) Target {
	return Target{Kind: TargetMethod, Package: pkg, Class: class, Name: name}
}

// Object constructs a non-callable object target.
func Object(pkg, name string) Target {
	return Target{Kind: TargetObject, Package: pkg, Name: name}
}

// Override constructs the join-point target standing in for a method and
// every overrider, used when static dispatch cannot be proven.
func Override(pkg, class, name string) Target {
	return Target{Kind: TargetOverride, Package: pkg, Class: class, Name: name}
}

// Key returns the canonical, deterministic string identifying t — used
// both as a map key throughout this package and as the opaque
// taint.CalleeRef.Key a TraceInfo.CallSite carries (this module §9 "Trace
// cycles").
func (t Target) Key() string {
	switch t.Kind {
	case TargetMethod:
		return fmt.Sprintf("%s.(%s).%s", t.Package, t.Class, t.Name)
	case TargetOverride:
		return fmt.Sprintf("%s.(%s).%s!override", t.Package, t.Class, t.Name)
	case TargetObject:
		return fmt.Sprintf("%s.%s!object", t.Package, t.Name)
	default:
		return fmt.Sprintf("%s.%s", t.Package, t.Name)
	}
}

func (t Target) String() string { return t.Key() }

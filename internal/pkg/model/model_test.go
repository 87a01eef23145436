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
	"go/token"
	"testing"

	"github.com/sentryflow/sentryflow/internal/pkg/accesspath"
	"github.com/sentryflow/sentryflow/internal/pkg/model/lang"
	"github.com/sentryflow/sentryflow/internal/pkg/taint"
)

func parseOne(t *testing.T, src string) lang.RawModel {
	t.Helper()
	fset := token.NewFileSet()
	models, errs := lang.ParseFile(fset, "model.go", "package models\n\n"+src)
	if len(errs) > 0 {
		t.Fatalf("unexpected parse errors: %v", errs)
	}
	if len(models) != 1 {
		t.Fatalf("expected exactly one model, got %d", len(models))
	}
	return models[0]
}

func TestBuildTaintSourceAtResult(t *testing.T) {
	rm := parseOne(t, `func GetInput() { TaintSource[UserControlled] }`)
	m, err := Build(rm, ResolvedSignature{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	got := m.ForwardSourceTaint.At(accesspath.LocalResult)
	if !taint.Collapse(got).Has(taint.NewKind("UserControlled")) {
		t.Errorf("expected UserControlled source at LocalResult, got %+v", got)
	}
}

func TestBuildTaintSinkAtParameter(t *testing.T) {
	rm := parseOne(t, `func Query(s string) { AppliesTo[0, TaintSink[SQL]] }`)
	m, err := Build(rm, ResolvedSignature{Formals: []accesspath.FormalParameter{{Name: "s"}}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	got := m.BackwardSinkTaint.At(accesspath.Parameter(0))
	if !taint.Collapse(got).Has(taint.NewKind("SQL")) {
		t.Errorf("expected SQL sink at parameter 0, got %+v", got)
	}
}

func TestBuildSkipAnalysis(t *testing.T) {
	rm := parseOne(t, `func Opaque() { SkipAnalysis }`)
	m, err := Build(rm, ResolvedSignature{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if m.Mode != SkipAnalysis {
		t.Errorf("expected SkipAnalysis mode, got %v", m.Mode)
	}
}

func TestBuildSelfElisionHeuristic(t *testing.T) {
	rm := parseOne(t, `func Param(name string) { AppliesTo[0, TaintSink[SQL]] }`)
	m, err := Build(rm, ResolvedSignature{
		HasReceiver: true,
		Formals: []accesspath.FormalParameter{
			{Name: "r"},
			{Name: "name"},
		},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	// Selector index 0 in the model should resolve to the *second* formal
	// (position 1), since the receiver was elided.
	got := m.BackwardSinkTaint.At(accesspath.Parameter(1))
	if !taint.Collapse(got).Has(taint.NewKind("SQL")) {
		t.Errorf("expected SQL sink at parameter 1 after self-elision shift, got %+v", got)
	}
}

func TestBuildArityMismatchErrors(t *testing.T) {
	rm := parseOne(t, `func F(a string, b string) { TaintSource[X] }`)
	_, err := Build(rm, ResolvedSignature{Formals: []accesspath.FormalParameter{{Name: "a"}}})
	if err == nil {
		t.Errorf("expected an arity mismatch error")
	}
}

func TestBuildTaintInTaintOutDefaultsToLocalReturn(t *testing.T) {
	rm := parseOne(t, `func Identity(s string) { TaintInTaintOut }`)
	m, err := Build(rm, ResolvedSignature{Formals: []accesspath.FormalParameter{{Name: "s"}}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	got := m.BackwardTito.At(accesspath.Parameter(0))
	if !taint.Collapse(got).Has(taint.LocalReturn) {
		t.Errorf("expected LocalReturn tito at parameter 0, got %+v", got)
	}
}

func TestModelJoinWithConcreteModelIsNotObscure(t *testing.T) {
	a := Obscure()
	b := Model{}
	joined := a.Join(b)
	if joined.IsObscure {
		t.Errorf("joining an obscure model with a concrete one must not stay obscure")
	}
}

func TestInferConstructorModel(t *testing.T) {
	m := InferConstructorModel([]ConstructorField{{ParamIndex: 0, FieldName: "Name"}})
	got := m.BackwardTito.At(accesspath.Parameter(0))
	collapsed := taint.Collapse(got)
	if !collapsed.Has(taint.LocalReturn) {
		t.Fatalf("expected LocalReturn entry, got %+v", collapsed)
	}
}

func TestInferSourceTypeClosure(t *testing.T) {
	graph := ObjectGraph{
		"Foo": {"Bar"},
		"Bar": {"Baz"},
	}
	closure := InferSourceTypeClosure(graph, []string{"Foo"})
	for _, want := range []string{"Foo", "Bar", "Baz"} {
		if !closure[want] {
			t.Errorf("expected %s in closure, got %+v", want, closure)
		}
	}
}

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

package lang

import (
	"go/token"
	"testing"
)

func parseOne(t *testing.T, src string) RawModel {
	t.Helper()
	fset := token.NewFileSet()
	models, errs := ParseFile(fset, "model.go", "package models\n\n"+src)
	if len(errs) > 0 {
		t.Fatalf("unexpected parse errors: %v", errs)
	}
	if len(models) != 1 {
		t.Fatalf("expected exactly one model, got %d", len(models))
	}
	return models[0]
}

func TestParseTaintSource(t *testing.T) {
	rm := parseOne(t, `func GetInput() { TaintSource[UserControlled] }`)
	if rm.Annotation.Kind != KindTaintSource || rm.Annotation.KindName != "UserControlled" {
		t.Errorf("got %+v", rm.Annotation)
	}
}

func TestParseTaintSink(t *testing.T) {
	rm := parseOne(t, `func Query(s string) { AppliesTo[0, TaintSink[SQL]] }`)
	if rm.Annotation.Kind != KindAppliesTo {
		t.Fatalf("got %+v", rm.Annotation)
	}
	if rm.Annotation.Selector.Index != 0 {
		t.Errorf("expected selector index 0, got %+v", rm.Annotation.Selector)
	}
	if rm.Annotation.Inner.Kind != KindTaintSink || rm.Annotation.Inner.KindName != "SQL" {
		t.Errorf("got inner %+v", rm.Annotation.Inner)
	}
}

func TestParseSkipAnalysis(t *testing.T) {
	rm := parseOne(t, `func Opaque() { SkipAnalysis }`)
	if rm.Annotation.Kind != KindSkipAnalysis {
		t.Errorf("got %+v", rm.Annotation)
	}
}

func TestParseSanitizeBare(t *testing.T) {
	rm := parseOne(t, `func Clean(s string) { Sanitize }`)
	if rm.Annotation.Kind != KindSanitize {
		t.Fatalf("got %+v", rm.Annotation)
	}
	if !rm.Annotation.Sanitize.Sources || !rm.Annotation.Sanitize.Sinks || !rm.Annotation.Sanitize.Tito {
		t.Errorf("bare Sanitize should clear every axis, got %+v", rm.Annotation.Sanitize)
	}
}

func TestParseSanitizeAxes(t *testing.T) {
	rm := parseOne(t, `func Clean(s string) { Sanitize[Sources, Tito] }`)
	axes := rm.Annotation.Sanitize
	if !axes.Sources || axes.Sinks || !axes.Tito {
		t.Errorf("got %+v", axes)
	}
}

func TestParseUnion(t *testing.T) {
	rm := parseOne(t, `func F() { Union[TaintSource[A], TaintSource[B]] }`)
	if rm.Annotation.Kind != KindUnion || len(rm.Annotation.Members) != 2 {
		t.Fatalf("got %+v", rm.Annotation)
	}
}

func TestParseAddFeatureToArgument(t *testing.T) {
	rm := parseOne(t, `func F(s string) { AppliesTo[0, AddFeatureToArgument[Via[my_feature]]] }`)
	inner := rm.Annotation.Inner
	if inner.Kind != KindAddFeatureToArgument || len(inner.Features) != 1 {
		t.Fatalf("got %+v", inner)
	}
	if inner.Features[0].Literal != "my_feature" {
		t.Errorf("got %+v", inner.Features[0])
	}
}

func TestParseMethodReceiver(t *testing.T) {
	fset := token.NewFileSet()
	models, errs := ParseFile(fset, "model.go", `package models

func (r *Request) Param(name string) { TaintSource[UserControlled] }
`)
	if len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(models) != 1 || models[0].Receiver != "Request" {
		t.Fatalf("got %+v", models)
	}
}

func TestParseRejectsMultiStatementBody(t *testing.T) {
	fset := token.NewFileSet()
	_, errs := ParseFile(fset, "model.go", `package models

func F() {
	TaintSource[A]
	TaintSource[B]
}
`)
	if len(errs) == 0 {
		t.Fatalf("expected a parse error for a multi-statement body")
	}
}

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

package suppression

import (
	"go/ast"
	"go/parser"
	"go/token"
	"testing"
)

func parseFile(t *testing.T, src string) (*token.FileSet, *ast.File) {
	t.Helper()
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "test.go", src, parser.ParseComments)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	return fset, f
}

func findCallByCallee(f *ast.File, name string) ast.Node {
	var found ast.Node
	ast.Inspect(f, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		if id, ok := call.Fun.(*ast.Ident); ok && id.Name == name {
			found = call
		}
		return true
	})
	return found
}

func TestBuildMarksLinePrecededByDoNotReport(t *testing.T) {
	src := `package p

func sink(x string) {}

func f() {
	// sentryflow.DoNotReport
	sink("tainted")
}
`
	fset, f := parseFile(t, src)
	result := Build(fset, []*ast.File{f})

	call := findCallByCallee(f, "sink")
	if call == nil {
		t.Fatal("could not find call to sink in test fixture")
	}
	if !result.IsSuppressed(call) {
		t.Error("expected call preceded by sentryflow.DoNotReport to be suppressed")
	}
}

func TestBuildLeavesUnannotatedCallUnsuppressed(t *testing.T) {
	src := `package p

func sink(x string) {}

func f() {
	sink("tainted")
}
`
	fset, f := parseFile(t, src)
	result := Build(fset, []*ast.File{f})

	call := findCallByCallee(f, "sink")
	if call == nil {
		t.Fatal("could not find call to sink in test fixture")
	}
	if result.IsSuppressed(call) {
		t.Error("expected call with no suppressing comment to not be suppressed")
	}
}

func TestBuildIgnoresUnrelatedComment(t *testing.T) {
	src := `package p

func sink(x string) {}

func f() {
	// just a regular comment
	sink("tainted")
}
`
	fset, f := parseFile(t, src)
	result := Build(fset, []*ast.File{f})

	call := findCallByCallee(f, "sink")
	if result.IsSuppressed(call) {
		t.Error("expected unrelated comment to not suppress the call")
	}
}

func TestIsSuppressedFalseForUnknownNode(t *testing.T) {
	result := ResultType{}
	if result.IsSuppressed(&ast.Ident{}) {
		t.Error("expected empty ResultType to report no node as suppressed")
	}
}

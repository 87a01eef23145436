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

package forward

import (
	"go/ast"
	"go/importer"
	"go/parser"
	"go/token"
	"go/types"
	"testing"

	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/sentryflow/sentryflow/internal/pkg/accesspath"
	"github.com/sentryflow/sentryflow/internal/pkg/model"
	"github.com/sentryflow/sentryflow/internal/pkg/taint"
)

// taken from golang.org/x/tools/go/ssa/example_test.go, same idiom the
// google-go-flow-levee's own internal/pkg/call tests use.
func buildFunc(t *testing.T, source, funcName string) *ssa.Function {
	t.Helper()

	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "test.go", source, parser.ParseComments)
	if err != nil {
		t.Fatal(err)
	}
	pkg := types.NewPackage("test", "")
	ssaPkg, _, err := ssautil.BuildPackage(
		&types.Config{Importer: importer.Default()}, fset, pkg, []*ast.File{f}, ssa.SanityCheckFunctions)
	if err != nil {
		t.Fatal(err)
	}
	fn := ssaPkg.Func(funcName)
	if fn == nil {
		t.Fatalf("no function named %s", funcName)
	}
	return fn
}

var sourceTaintedKind = taint.NewKind("test_source")

func taintedLeaf() taint.Tree {
	return taint.Leaf(taint.Singleton(sourceTaintedKind))
}

type noCallees struct{}

func (noCallees) Resolve(ssa.CallInstruction) (CalleeInfo, bool) { return CalleeInfo{}, false }

func TestStraightLineTaintReachesReturn(t *testing.T) {
	src := `package test
func F(s string) string {
	t := s
	return t
}`
	fn := buildFunc(t, src, "F")
	entry := taint.Environment{}.With(accesspath.Parameter(0), taintedLeaf())

	res := AnalyzeFunction(fn, entry, noCallees{}, ObscurePolicy{})
	if res.ReturnTaint.IsBottom() {
		t.Fatal("expected the return value to carry the parameter's taint")
	}
}

func TestUntaintedParameterDoesNotReachReturn(t *testing.T) {
	src := `package test
func F(s string) string {
	t := s
	return t
}`
	fn := buildFunc(t, src, "F")

	res := AnalyzeFunction(fn, taint.Environment{}, noCallees{}, ObscurePolicy{})
	if !res.ReturnTaint.IsBottom() {
		t.Fatal("expected no taint without a tainted input")
	}
}

func TestBranchJoinPropagatesTaintFromEitherArm(t *testing.T) {
	src := `package test
func F(s string, cond bool) string {
	var r string
	if cond {
		r = s
	} else {
		r = "literal"
	}
	return r
}`
	fn := buildFunc(t, src, "F")
	entry := taint.Environment{}.With(accesspath.Parameter(0), taintedLeaf())

	res := AnalyzeFunction(fn, entry, noCallees{}, ObscurePolicy{})
	if res.ReturnTaint.IsBottom() {
		t.Fatal("expected the join of both branches to carry taint from the tainted arm")
	}
}

func TestStructFieldWriteAndReadRoundTrips(t *testing.T) {
	src := `package test
type box struct { V string }
func F(s string) string {
	b := box{}
	b.V = s
	return b.V
}`
	fn := buildFunc(t, src, "F")
	entry := taint.Environment{}.With(accesspath.Parameter(0), taintedLeaf())

	res := AnalyzeFunction(fn, entry, noCallees{}, ObscurePolicy{})
	if res.ReturnTaint.IsBottom() {
		t.Fatal("expected taint written into a struct field to be read back out")
	}
}

type fixedCallee struct {
	info CalleeInfo
}

func (f fixedCallee) Resolve(ssa.CallInstruction) (CalleeInfo, bool) { return f.info, true }

func TestCallSiteAppliesCalleeTitoToResult(t *testing.T) {
	src := `package test
func callee(s string) string { return s }
func F(s string) string {
	return callee(s)
}`
	fn := buildFunc(t, src, "F")
	entry := taint.Environment{}.With(accesspath.Parameter(0), taintedLeaf())

	var calleeModel model.Model
	calleeModel.BackwardTito = calleeModel.BackwardTito.With(
		accesspath.Parameter(0),
		taint.Leaf(taint.Singleton(taint.LocalReturn)),
	)
	resolver := fixedCallee{info: CalleeInfo{Model: calleeModel, NumParams: 1}}

	res := AnalyzeFunction(fn, entry, resolver, ObscurePolicy{})
	if res.ReturnTaint.IsBottom() {
		t.Fatal("expected the callee's tito summary to propagate argument taint to the result")
	}
}

func TestObscureCalleeConservativelyTaintsResult(t *testing.T) {
	src := `package test
func callee(s string) string { return s }
func F(s string) string {
	return callee(s)
}`
	fn := buildFunc(t, src, "F")
	entry := taint.Environment{}.With(accesspath.Parameter(0), taintedLeaf())

	res := AnalyzeFunction(fn, entry, noCallees{}, ObscurePolicy{})
	if res.ReturnTaint.IsBottom() {
		t.Fatal("expected an unresolved (obscure) callee to conservatively taint its result")
	}
}

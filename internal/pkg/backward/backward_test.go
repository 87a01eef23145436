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

package backward

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

var sinkKind = taint.NewKind("test_sink")

func sinkLeaf() taint.Tree {
	return taint.Leaf(taint.Singleton(sinkKind))
}

type noCallees struct{}

func (noCallees) Resolve(ssa.CallInstruction) (CalleeInfo, bool) { return CalleeInfo{}, false }

func TestReturnedParameterReachesSinkAtResult(t *testing.T) {
	src := `package test
func F(s string) string {
	t := s
	return t
}`
	fn := buildFunc(t, src, "F")
	exit := taint.Environment{}.With(accesspath.LocalResult, sinkLeaf())

	res := AnalyzeFunction(fn, exit, noCallees{}, ObscurePolicy{})
	if res.Entry.At(accesspath.Parameter(0)).IsBottom() {
		t.Fatal("expected the sink at the result to propagate back to the returned parameter")
	}
}

func TestUnusedParameterDoesNotReachSink(t *testing.T) {
	src := `package test
func F(s string, unused string) string {
	return s
}`
	fn := buildFunc(t, src, "F")
	exit := taint.Environment{}.With(accesspath.LocalResult, sinkLeaf())

	res := AnalyzeFunction(fn, exit, noCallees{}, ObscurePolicy{})
	if !res.Entry.At(accesspath.Parameter(1)).IsBottom() {
		t.Fatal("expected an unreturned parameter not to reach the sink at the result")
	}
}

func TestStructFieldWriteAndReadRoundTripsBackward(t *testing.T) {
	src := `package test
type box struct { V string }
func F(s string) string {
	b := box{}
	b.V = s
	return b.V
}`
	fn := buildFunc(t, src, "F")
	exit := taint.Environment{}.With(accesspath.LocalResult, sinkLeaf())

	res := AnalyzeFunction(fn, exit, noCallees{}, ObscurePolicy{})
	if res.Entry.At(accesspath.Parameter(0)).IsBottom() {
		t.Fatal("expected a sink reached through a struct field to propagate back to the field's writer")
	}
}

type fixedCallee struct {
	info CalleeInfo
}

func (f fixedCallee) Resolve(ssa.CallInstruction) (CalleeInfo, bool) { return f.info, true }

func TestCallSiteSinkOnCalleeParamReachesActual(t *testing.T) {
	src := `package test
func sink(s string) {}
func F(s string) {
	sink(s)
}`
	fn := buildFunc(t, src, "F")

	var calleeModel model.Model
	calleeModel.BackwardSinkTaint = calleeModel.BackwardSinkTaint.With(
		accesspath.Parameter(0), sinkLeaf(),
	)
	resolver := fixedCallee{info: CalleeInfo{Model: calleeModel, NumParams: 1}}

	res := AnalyzeFunction(fn, taint.Environment{}, resolver, ObscurePolicy{})
	if res.Entry.At(accesspath.Parameter(0)).IsBottom() {
		t.Fatal("expected the callee's sink on its formal to propagate to the caller's actual")
	}
}

func TestObscureCalleeConservativelyTaintsEveryArgument(t *testing.T) {
	src := `package test
func callee(s string) {}
func F(s string) {
	callee(s)
}`
	fn := buildFunc(t, src, "F")
	sinkKindSlice := []taint.Kind{sinkKind}

	res := AnalyzeFunction(fn, taint.Environment{}, noCallees{}, ObscurePolicy{SinkKinds: sinkKindSlice})
	if res.Entry.At(accesspath.Parameter(0)).IsBottom() {
		t.Fatal("expected an unresolved (obscure) callee to conservatively sink every argument")
	}
}

func TestCollectModelSplitsSinkFromTito(t *testing.T) {
	var env taint.Environment
	env = env.With(accesspath.Parameter(0), sinkLeaf())
	env = env.With(accesspath.Parameter(1), taint.Leaf(taint.Singleton(taint.LocalReturn)))

	sinkTaint, tito := CollectModel(Result{Entry: env})
	if sinkTaint.At(accesspath.Parameter(0)).IsBottom() {
		t.Fatal("expected the ordinary sink kind to land in sinkTaint")
	}
	if !sinkTaint.At(accesspath.Parameter(1)).IsBottom() {
		t.Fatal("expected LocalReturn not to leak into sinkTaint")
	}
	if tito.At(accesspath.Parameter(1)).IsBottom() {
		t.Fatal("expected LocalReturn to land in tito")
	}
}

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

package fixpoint

import (
	"context"
	"go/ast"
	"go/importer"
	"go/parser"
	"go/token"
	"go/types"
	"testing"

	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/sentryflow/sentryflow/internal/pkg/accesspath"
	"github.com/sentryflow/sentryflow/internal/pkg/callgraph"
	"github.com/sentryflow/sentryflow/internal/pkg/taint"
)

const fixtureSource = `
package test

func source() string { return "" }

func sink(s string) {}

func relay(s string) string { return s }

func direct() { sink(source()) }

func wrapped() { sink(relay(source())) }
`

func buildProgram(t *testing.T) *ssa.Program {
	t.Helper()
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "test.go", fixtureSource, parser.ParseComments)
	if err != nil {
		t.Fatal(err)
	}
	pkg := types.NewPackage("test", "")
	ssaPkg, _, err := ssautil.BuildPackage(
		&types.Config{Importer: importer.Default()}, fset, pkg, []*ast.File{f}, ssa.SanityCheckFunctions)
	if err != nil {
		t.Fatal(err)
	}
	return ssaPkg.Prog
}

var testSourceKind = taint.NewKind("test_source")
var testSinkKind = taint.NewKind("test_sink")

func seededStore(g *callgraph.Graph) *Store {
	store := NewStore()
	for _, tg := range g.Nodes() {
		fn, ok := g.Func(tg)
		if !ok {
			continue
		}
		switch fn.Name() {
		case "source":
			mdl := store.Get(tg)
			mdl.ForwardSourceTaint = mdl.ForwardSourceTaint.With(
				accesspath.LocalResult, taint.Leaf(taint.Singleton(testSourceKind)))
			store.Seed(tg, mdl)
		case "sink":
			mdl := store.Get(tg)
			mdl.BackwardSinkTaint = mdl.BackwardSinkTaint.With(
				accesspath.Parameter(0), taint.Leaf(taint.Singleton(testSinkKind)))
			store.Seed(tg, mdl)
		}
	}
	return store
}

func entries(g *callgraph.Graph) []callgraph.Target {
	var out []callgraph.Target
	for _, tg := range g.Nodes() {
		if fn, ok := g.Func(tg); ok && (fn.Name() == "direct" || fn.Name() == "wrapped") {
			out = append(out, tg)
		}
	}
	return out
}

func TestRunAndRunParallelAgree(t *testing.T) {
	prog := buildProgram(t)
	g, _ := callgraph.Build(prog, callgraph.Options{})

	run := func(parallel bool) *Store {
		store := seededStore(g)
		e := NewEngine(g, store, Options{Entries: entries(g)})
		var err error
		if parallel {
			err = e.RunParallel(context.Background(), 4)
		} else {
			err = e.Run()
		}
		if err != nil {
			t.Fatalf("run (parallel=%v) error = %v", parallel, err)
		}
		return store
	}

	seqStore := run(false)
	parStore := run(true)

	for _, tg := range g.Nodes() {
		fn, ok := g.Func(tg)
		if !ok {
			continue
		}
		if fn.Name() != "direct" && fn.Name() != "wrapped" && fn.Name() != "relay" {
			continue
		}
		seq := seqStore.Get(tg)
		par := parStore.Get(tg)
		if !seq.LessOrEqual(par) || !par.LessOrEqual(seq) {
			t.Errorf("%s: sequential and parallel models disagree:\nsequential=%+v\nparallel=%+v", fn.Name(), seq, par)
		}
	}

	// relay is TITO: its own backward pass, seeded with LocalReturn at
	// the result, should record taint-in-taint-out on relay's parameter.
	var relayTarget callgraph.Target
	for _, tg := range g.Nodes() {
		if fn, ok := g.Func(tg); ok && fn.Name() == "relay" {
			relayTarget = tg
		}
	}
	relayModel := seqStore.Get(relayTarget)
	if relayModel.BackwardTito.IsBottom() && relayModel.BackwardSinkTaint.IsBottom() {
		t.Errorf("relay: expected some backward sink/tito taint on relay's own model, got none")
	}
}

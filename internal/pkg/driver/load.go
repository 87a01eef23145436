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

// Package driver assembles C1–C10 into a whole-program run: it loads the
// target program's packages and builds its SSA form, seeds the model
// store from user model files/stdlib summaries/inference, runs the
// interprocedural fixpoint, and collects issues. cmd/sentryflow is a
// thin flag-parsing shell around this package, mirroring how the
// google-go-flow-levee's cmd/levee/main.go is a one-line shell around
// golang.org/x/tools/go/analysis/singlechecker — here the driver itself
// stands in for singlechecker, since the whole-program call graph (C5)
// and fixpoint (C9) need a single *ssa.Program spanning every loaded
// package, something go/analysis's one-pass-per-package model does not
// expose.
package driver

import (
	"fmt"
	"go/token"

	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

// Program is the whole-program load result: the SSA form every later
// stage (C5's call graph, C6/C7's per-function analyses) walks, plus the
// loader's own package list and file set, kept around for AST-level
// lookups (suppression comments, model-file resolution diagnostics,
// issue position formatting).
type Program struct {
	SSA  *ssa.Program
	Pkgs []*packages.Package
	Fset *token.FileSet
}

// Load parses and type-checks patterns (Go package patterns, e.g.
// "./..." or a list of import paths) rooted at dir, and builds SSA for
// every function reached from them, the same packages.Load +
// ssautil.AllPackages pairing the retrieval pack's own whole-program
// tooling uses for cross-package call graphs.
func Load(dir string, patterns []string) (*Program, error) {
	fset := token.NewFileSet()
	cfg := &packages.Config{
		Dir:  dir,
		Fset: fset,
		Mode: packages.NeedName | packages.NeedFiles | packages.NeedCompiledGoFiles |
			packages.NeedImports | packages.NeedDeps | packages.NeedTypes |
			packages.NeedSyntax | packages.NeedTypesInfo | packages.NeedModule,
	}

	pkgs, err := packages.Load(cfg, patterns...)
	if err != nil {
		return nil, fmt.Errorf("loading packages: %w", err)
	}
	if packages.PrintErrors(pkgs) > 0 {
		return nil, fmt.Errorf("packages.Load reported type errors in %v", patterns)
	}

	prog, _ := ssautil.AllPackages(pkgs, ssa.SanityCheckFunctions)
	prog.Build()

	return &Program{SSA: prog, Pkgs: pkgs, Fset: fset}, nil
}

// ModulePath returns the root import path of the first loaded package's
// module, used to qualify callable target strings (callgraph.InModule).
// Empty if none of the loaded packages carry module information (e.g. a
// GOPATH-mode build).
func (p *Program) ModulePath() string {
	for _, pkg := range p.Pkgs {
		if pkg.Module != nil {
			return pkg.Module.Path
		}
	}
	return ""
}

// MainFunctions returns every program entry point: each loaded package
// named "main"'s own func main, the conventional whole-program root
// (this module §4.9's "entries").
func (p *Program) MainFunctions() []*ssa.Function {
	var mains []*ssa.Function
	for _, ssaPkg := range p.ssaPackages() {
		if ssaPkg.Pkg.Name() != "main" {
			continue
		}
		if fn := ssaPkg.Func("main"); fn != nil {
			mains = append(mains, fn)
		}
	}
	return mains
}

// ExportedFunctions returns every exported package-level function and
// method across every loaded first-party package, the fallback entry
// set for a library (as opposed to a binary) target, so library APIs
// with no func main still get analyzed (this module §4.9 leaves "entries"
// caller-supplied; a library's public surface is the natural default).
func (p *Program) ExportedFunctions() []*ssa.Function {
	firstParty := make(map[*ssa.Package]bool)
	for _, ssaPkg := range p.ssaPackages() {
		firstParty[ssaPkg] = true
	}

	var out []*ssa.Function
	for fn := range ssautil.AllFunctions(p.SSA) {
		if fn.Synthetic != "" || fn.Pkg == nil || !firstParty[fn.Pkg] {
			continue
		}
		if fn.Object() == nil || !fn.Object().Exported() {
			continue
		}
		out = append(out, fn)
	}
	return out
}

func (p *Program) ssaPackages() []*ssa.Package {
	var out []*ssa.Package
	for _, pkg := range p.Pkgs {
		if ssaPkg := p.SSA.Package(pkg.Types); ssaPkg != nil {
			out = append(out, ssaPkg)
		}
	}
	return out
}

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

package callgraph

import (
	"fmt"
	"go/token"
	"go/types"
	"sort"

	"golang.org/x/tools/go/callgraph/cha"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

// Diagnostic is an observable, non-fatal finding surfaced while building
// the graph: an untracked callee, or a method collapsed into an
// "override-too-large" placeholder (this module §4.5).
type Diagnostic struct {
	Pos     token.Pos
	Message string
}

// Graph is the combined call ∪ override graph (this module §4.5).
type Graph struct {
	nodes       map[string]Target
	funcs       map[string]*ssa.Function
	callOut     map[string]map[string]bool
	callIn      map[string]map[string]bool
	overrideOut map[string]map[string]bool
	obscure     map[string]bool // target keys forced to an is_obscure model
	diagnostics []Diagnostic
}

func newGraph() *Graph {
	return &Graph{
		nodes:       make(map[string]Target),
		funcs:       make(map[string]*ssa.Function),
		callOut:     make(map[string]map[string]bool),
		callIn:      make(map[string]map[string]bool),
		overrideOut: make(map[string]map[string]bool),
		obscure:     make(map[string]bool),
	}
}

// Func returns the SSA function backing t, when t is a TargetFunction or
// TargetMethod reachable from the program's call graph (C9's fixpoint
// uses this to run the forward/backward per-callable passes). A
// TargetOverride has no single backing function — its Overrides name the
// concrete methods instead.
func (g *Graph) Func(t Target) (*ssa.Function, bool) {
	fn, ok := g.funcs[t.Key()]
	return fn, ok
}

// Options configures Build.
type Options struct {
	// MaxOverridesToAnalyze bounds the override fan-out tolerated before a
	// method's overrides collapse to a single "override-too-large"
	// placeholder (this module §4.5).
	MaxOverridesToAnalyze int
	// SkippedOverrides names overrides the user config excludes outright
	// (this module §4.5's pruning invariant: "minus explicitly skipped
	// overrides from the user config").
	SkippedOverrides map[string]bool
}

// Build constructs the call graph via CHA (class hierarchy analysis,
// golang.org/x/tools/go/callgraph/cha — a whole-program, sound-for-static-
// dispatch approximation; google-go-flow-levee never builds an interprocedural
// graph at all, so this is grounded on the broader pack's
// 1homsi-gorisk/internal/ir.IRGraph shape: edges and nodes keyed by a
// canonical symbol string) plus a same-signature override join computed
// directly from the SSA program's method sets.
func Build(prog *ssa.Program, opts Options) (*Graph, []Diagnostic) {
	g := newGraph()

	cg := cha.CallGraph(prog)
	for fn, node := range cg.Nodes {
		if fn == nil {
			continue
		}
		caller := targetFor(fn)
		g.nodes[caller.Key()] = caller
		g.funcs[caller.Key()] = fn
		for _, edge := range node.Out {
			callee := edge.Callee.Func
			if callee == nil {
				g.diagnostics = append(g.diagnostics, Diagnostic{
					Pos:     edge.Site.Pos(),
					Message: "untracked callee at call site",
				})
				continue
			}
			ct := targetFor(callee)
			g.nodes[ct.Key()] = ct
			g.funcs[ct.Key()] = callee
			g.addCallEdge(caller.Key(), ct.Key())
		}
	}

	g.buildOverrides(prog, opts)

	return g, g.diagnostics
}

// TargetForFunc computes the canonical Target for an SSA function, the
// same way Build does internally; C9's fixpoint uses this to resolve a
// call site's statically-known callee to a Target for a model-store
// lookup.
func TargetForFunc(fn *ssa.Function) Target {
	return targetFor(fn)
}

func targetFor(fn *ssa.Function) Target {
	pkgPath := ""
	if fn.Pkg != nil && fn.Pkg.Pkg != nil {
		pkgPath = fn.Pkg.Pkg.Path()
	}
	if recv := fn.Signature.Recv(); recv != nil {
		return Method(pkgPath, recvTypeName(recv), fn.Name())
	}
	return Function(pkgPath, fn.Name())
}

func recvTypeName(recv *types.Var) string {
	t := recv.Type()
	if p, ok := t.(*types.Pointer); ok {
		t = p.Elem()
	}
	if n, ok := t.(*types.Named); ok {
		return n.Obj().Name()
	}
	return t.String()
}

func (g *Graph) addCallEdge(caller, callee string) {
	if g.callOut[caller] == nil {
		g.callOut[caller] = make(map[string]bool)
	}
	g.callOut[caller][callee] = true
	if g.callIn[callee] == nil {
		g.callIn[callee] = make(map[string]bool)
	}
	g.callIn[callee][caller] = true
}

// buildOverrides groups methods across distinct receiver types that share
// a name and signature shape (our Go-native substitute for subclass
// override resolution: same-named methods reachable through a common
// interface). Groups exceeding MaxOverridesToAnalyze collapse to a single
// Override target whose model is forced obscure; the user config's
// explicitly skipped overrides are dropped before counting.
func (g *Graph) buildOverrides(prog *ssa.Program, opts Options) {
	type group struct {
		pkg, name string
		members   []Target
	}
	groups := make(map[string]*group)

	for fn := range ssautil.AllFunctions(prog) {
		recv := fn.Signature.Recv()
		if recv == nil {
			continue
		}
		pkgPath := ""
		if fn.Pkg != nil && fn.Pkg.Pkg != nil {
			pkgPath = fn.Pkg.Pkg.Path()
		}
		key := pkgPath + "#" + fn.Name() + "#" + fn.Signature.String()
		gr, ok := groups[key]
		if !ok {
			gr = &group{pkg: pkgPath, name: fn.Name()}
			groups[key] = gr
		}
		m := Method(pkgPath, recvTypeName(recv), fn.Name())
		gr.members = append(gr.members, m)
		g.funcs[m.Key()] = fn
	}

	for _, gr := range groups {
		if len(gr.members) < 2 {
			continue
		}
		var kept []Target
		for _, m := range gr.members {
			if opts.SkippedOverrides[m.Key()] {
				continue
			}
			kept = append(kept, m)
		}
		if len(kept) < 2 {
			continue
		}

		ov := Override(gr.pkg, kept[0].Class, gr.name)
		g.nodes[ov.Key()] = ov

		if opts.MaxOverridesToAnalyze > 0 && len(kept) > opts.MaxOverridesToAnalyze {
			g.obscure[ov.Key()] = true
			g.diagnostics = append(g.diagnostics, Diagnostic{
				Message: fmt.Sprintf("override group %s.%s has %d implementations, exceeding the configured limit of %d; collapsed to an obscure placeholder", gr.pkg, gr.name, len(kept), opts.MaxOverridesToAnalyze),
			})
			continue
		}

		if g.overrideOut[ov.Key()] == nil {
			g.overrideOut[ov.Key()] = make(map[string]bool)
		}
		for _, m := range kept {
			g.nodes[m.Key()] = m
			g.overrideOut[ov.Key()][m.Key()] = true
		}
	}
}

// IsObscure reports whether t was collapsed to an is_obscure placeholder
// by override pruning.
func (g *Graph) IsObscure(t Target) bool { return g.obscure[t.Key()] }

// Callees returns the targets t's call edges reach, in deterministic
// order.
func (g *Graph) Callees(t Target) []Target {
	return g.sortedTargets(g.callOut[t.Key()])
}

// Callers returns the targets with a call edge reaching t, in
// deterministic order.
func (g *Graph) Callers(t Target) []Target {
	return g.sortedTargets(g.callIn[t.Key()])
}

// Overrides returns the concrete methods an Override target joins, in
// deterministic order. Empty for a non-Override target or one collapsed
// by pruning (use IsObscure to distinguish the latter).
func (g *Graph) Overrides(t Target) []Target {
	return g.sortedTargets(g.overrideOut[t.Key()])
}

func (g *Graph) sortedTargets(set map[string]bool) []Target {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Target, 0, len(keys))
	for _, k := range keys {
		out = append(out, g.nodes[k])
	}
	return out
}

// Nodes returns every target in the combined call ∪ override graph, in
// deterministic order.
func (g *Graph) Nodes() []Target {
	keys := make([]string, 0, len(g.nodes))
	for k := range g.nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Target, 0, len(keys))
	for _, k := range keys {
		out = append(out, g.nodes[k])
	}
	return out
}

// ReachableFromEntries returns the subset of Nodes reachable from any of
// entries in the combined call ∪ override graph — the pruning invariant
// of this module §4.5: "a callable is analyzed if and only if its node is
// reachable from any entry... callable in the combined graph".
func (g *Graph) ReachableFromEntries(entries []Target) map[string]bool {
	reached := make(map[string]bool, len(g.nodes))
	var stack []string
	for _, e := range entries {
		k := e.Key()
		if !reached[k] {
			reached[k] = true
			stack = append(stack, k)
		}
	}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for next := range g.callOut[cur] {
			if !reached[next] {
				reached[next] = true
				stack = append(stack, next)
			}
		}
		for next := range g.overrideOut[cur] {
			if !reached[next] {
				reached[next] = true
				stack = append(stack, next)
			}
		}
	}
	return reached
}

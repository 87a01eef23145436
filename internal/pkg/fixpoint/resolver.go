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
	"go/types"

	"golang.org/x/tools/go/ssa"

	"github.com/sentryflow/sentryflow/internal/pkg/backward"
	"github.com/sentryflow/sentryflow/internal/pkg/callgraph"
	"github.com/sentryflow/sentryflow/internal/pkg/forward"
	"github.com/sentryflow/sentryflow/internal/pkg/model"
	"github.com/sentryflow/sentryflow/internal/pkg/taint"
)

// overrideIndex maps a dynamically-dispatched call's (method name,
// signature string) to the Override target standing in for it, built
// once per Engine since C5's Graph does not itself index override
// groups by invoke-site shape (this module §4.5's override join is computed
// from declared receivers, not from any one call site).
type overrideIndex map[string]callgraph.Target

func buildOverrideIndex(g *callgraph.Graph) overrideIndex {
	idx := make(overrideIndex)
	for _, t := range g.Nodes() {
		if t.Kind != callgraph.TargetOverride {
			continue
		}
		for _, m := range g.Overrides(t) {
			fn, ok := g.Func(m)
			if !ok {
				continue
			}
			idx[overrideKey(t.Name, fn.Signature.String())] = t
		}
	}
	return idx
}

func overrideKey(name, sig string) string { return name + "#" + sig }

// resolveTarget resolves one call instruction to the Target it invokes
// (a statically-known function/method, or the Override join standing in
// for a dynamically-dispatched one), looks up that target's current
// model in the store, and stamps it with this call's provenance via
// Model.ApplyAtCallSite (this module §4.6/§4.7's "apply_call"). ok is false
// when the call cannot be resolved to any target, or the target has no
// model on file yet this epoch; forward/backward then apply the obscure
// default (model.Obscure()) at that call.
func (e *Engine) resolveTarget(instr ssa.CallInstruction) (model.Model, int, bool) {
	common := instr.Common()

	var t callgraph.Target
	var numParams int
	switch {
	case common.IsInvoke():
		sig, ok := common.Method.Type().(*types.Signature)
		if !ok {
			return model.Model{}, 0, false
		}
		ov, found := e.overrides[overrideKey(common.Method.Name(), sig.String())]
		if !found {
			return model.Model{}, 0, false
		}
		t = ov
		numParams = sig.Params().Len()
	case common.StaticCallee() != nil:
		fn := common.StaticCallee()
		t = callgraph.TargetForFunc(fn)
		numParams = len(fn.Params)
	default:
		return model.Model{}, 0, false
	}

	mdl, ok := e.modelFor(t)
	if !ok {
		return model.Model{}, 0, false
	}

	ref := taint.CalleeRef{Key: t.Key()}
	applied := mdl.ApplyAtCallSite(common.Pos(), []taint.CalleeRef{ref}, []string{t.Key()})
	return applied, numParams, true
}

// modelFor reads t's current summary: a plain store lookup for an
// ordinary target, or the join of every member's model for an Override
// target (this module §4.5's "a call reaching an Override target observes
// the join of its members' models"), unless the override was collapsed
// to an obscure placeholder by fan-out pruning.
func (e *Engine) modelFor(t callgraph.Target) (model.Model, bool) {
	if t.Kind == callgraph.TargetOverride {
		if e.graph.IsObscure(t) {
			return model.Model{}, false
		}
		var joined model.Model
		any := false
		for _, m := range e.graph.Overrides(t) {
			mm := e.store.Get(m)
			if mm.IsNoOp() {
				continue
			}
			joined = joined.Join(mm)
			any = true
		}
		if !any {
			return model.Model{}, false
		}
		return joined, true
	}
	m := e.store.Get(t)
	if m.IsNoOp() {
		return model.Model{}, false
	}
	return m, true
}

type forwardResolver struct{ e *Engine }

func (r forwardResolver) Resolve(instr ssa.CallInstruction) (forward.CalleeInfo, bool) {
	m, n, ok := r.e.resolveTarget(instr)
	if !ok {
		return forward.CalleeInfo{}, false
	}
	return forward.CalleeInfo{Model: m, NumParams: n}, true
}

type backwardResolver struct{ e *Engine }

func (r backwardResolver) Resolve(instr ssa.CallInstruction) (backward.CalleeInfo, bool) {
	m, n, ok := r.e.resolveTarget(instr)
	if !ok {
		return backward.CalleeInfo{}, false
	}
	return backward.CalleeInfo{Model: m, NumParams: n}, true
}

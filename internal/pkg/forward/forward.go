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

// Package forward implements the per-callable forward abstract
// interpretation (this module §4.6): given taint already present at a
// callable's parameters and captures, compute what else it reaches by
// the time the callable returns.
package forward

import (
	"go/token"
	"go/types"

	"golang.org/x/tools/go/ssa"

	"github.com/sentryflow/sentryflow/internal/pkg/accesspath"
	"github.com/sentryflow/sentryflow/internal/pkg/model"
	"github.com/sentryflow/sentryflow/internal/pkg/taint"
)

// maxBlockRevisits bounds how many times a basic block is re-processed
// before its incoming state is widened, guaranteeing the intraprocedural
// fixpoint over a function's control flow graph terminates even in the
// presence of loops (the same widen-on-revisit idiom C9 applies across
// the interprocedural call graph, here applied one level down).
const maxBlockRevisits = 4

// CalleeInfo is what a CalleeResolver reports about one call site's
// statically-determined target: its current Model (already stamped with
// this call's provenance via Model.ApplyAtCallSite) and its declared
// arity, needed to size a materialized obscure fallback when no model is
// available.
type CalleeInfo struct {
	Model     model.Model
	NumParams int
}

// CalleeResolver resolves a call site to the callee's current model.
// C9 supplies the live implementation, backed by the model store being
// refined across fixpoint epochs; ok is false for a callee this epoch
// has no information about yet, and the transfer rules then treat the
// call as obscure (model.Obscure()).
type CalleeResolver interface {
	Resolve(instr ssa.CallInstruction) (CalleeInfo, bool)
}

// ObscurePolicy supplies the sink vocabulary and optional result-source
// kind used to materialize an obscure model once a call site's arity is
// known (model.ObscureForSignature); with no SinkKinds and a nil
// SourceAtResult the materialized model is a bare, empty obscure model.
type ObscurePolicy struct {
	SinkKinds      []taint.Kind
	SourceAtResult *taint.Kind
}

// Result is one callable's forward analysis outcome.
type Result struct {
	// Exit is the environment at the callable's return points, joined
	// across every reachable `return` statement (this module §4.6). Its
	// Parameter/Capture roots reflect any taint written back through a
	// by-reference actual (e.g. `*out = source()`).
	Exit taint.Environment
	// ReturnTaint is the taint reaching the callable's result, across
	// every return statement and every returned operand (this module §3's
	// single LocalResult root does not distinguish multiple return
	// values; this is their join).
	ReturnTaint taint.Tree

	// CallArgTaint records, for every call instruction encountered during
	// the walk, the forward taint attributed to each actual argument
	// immediately before the call executes — the "forward-taint of the
	// argument ... at that program point" this module §4.7 says C8 reads to
	// detect an issue at a call site. Overwritten on each re-visit of the
	// owning block, so only the taint from the final, widened pass is
	// kept (consistent with Exit/ReturnTaint reflecting the converged
	// intraprocedural state, not an intermediate one).
	CallArgTaint map[ssa.CallInstruction][]taint.Tree
}

// AnalyzeFunction runs the forward transfer rules over fn's SSA body,
// seeded by entry (the taint already present on fn's parameters and free
// variables at the point of call). A nil or external fn (no SSA body)
// returns entry unchanged with bottom return taint.
func AnalyzeFunction(fn *ssa.Function, entry taint.Environment, resolve CalleeResolver, obscure ObscurePolicy) Result {
	if fn == nil || len(fn.Blocks) == 0 {
		return Result{Exit: entry}
	}
	a := &analyzer{fn: fn, resolve: resolve, obscure: obscure, paramIndex: indexParams(fn), callArgs: make(map[ssa.CallInstruction][]taint.Tree)}
	return a.run(entry)
}

func indexParams(fn *ssa.Function) map[*ssa.Parameter]int {
	idx := make(map[*ssa.Parameter]int, len(fn.Params))
	for i, p := range fn.Params {
		idx[p] = i
	}
	return idx
}

type analyzer struct {
	fn         *ssa.Function
	resolve    CalleeResolver
	obscure    ObscurePolicy
	paramIndex map[*ssa.Parameter]int
	callArgs   map[ssa.CallInstruction][]taint.Tree
}

func (a *analyzer) run(entry taint.Environment) Result {
	n := len(a.fn.Blocks)
	ins := make([]taint.Environment, n)
	outs := make([]taint.Environment, n)
	visits := make([]int, n)

	worklist := make([]int, n)
	for i := range worklist {
		worklist[i] = i
	}

	for len(worklist) > 0 {
		idx := worklist[0]
		worklist = worklist[1:]
		b := a.fn.Blocks[idx]

		var in taint.Environment
		if idx == 0 {
			in = entry
		} else {
			for _, p := range b.Preds {
				in = in.Join(outs[p.Index])
			}
		}

		if visits[idx] > 0 && in.LessOrEqual(ins[idx]) {
			continue
		}
		visits[idx]++
		if visits[idx] > maxBlockRevisits {
			in = in.Widen(ins[idx])
		}
		ins[idx] = in

		out := in
		for _, instr := range b.Instrs {
			out = a.transferInstr(instr, out)
		}

		if visits[idx] > 1 && out.LessOrEqual(outs[idx]) {
			continue
		}
		outs[idx] = out
		for _, s := range b.Succs {
			worklist = append(worklist, s.Index)
		}
	}

	var exit taint.Environment
	var ret taint.Tree
	sawReturn := false
	for i, b := range a.fn.Blocks {
		for _, instr := range b.Instrs {
			r, ok := instr.(*ssa.Return)
			if !ok {
				continue
			}
			sawReturn = true
			exit = exit.Join(outs[i])
			for _, res := range r.Results {
				ret = ret.Join(a.get(res, outs[i]))
			}
		}
	}
	if !sawReturn {
		for i := range a.fn.Blocks {
			exit = exit.Join(outs[i])
		}
	}
	return Result{Exit: exit, ReturnTaint: ret, CallArgTaint: a.callArgs}
}

// get reads the current taint attributed to an SSA value.
func (a *analyzer) get(v ssa.Value, env taint.Environment) taint.Tree {
	switch x := v.(type) {
	case *ssa.Const:
		return taint.Tree{}
	case *ssa.Parameter:
		return env.At(a.paramRoot(x))
	case *ssa.FreeVar:
		return env.At(accesspath.Capture(x.Name()))
	case *ssa.Global:
		return env.At(accesspath.Local("global:" + x.Name()))
	case *ssa.Function, *ssa.Builtin:
		return taint.Tree{}
	default:
		return env.At(accesspath.Local(v.Name()))
	}
}

func (a *analyzer) paramRoot(p *ssa.Parameter) accesspath.Root {
	if i, ok := a.paramIndex[p]; ok {
		return accesspath.Parameter(i)
	}
	return accesspath.Local(p.Name())
}

// resolveAddr unwinds a chain of field/index addressing instructions
// back to the local variable, parameter, capture, or global it
// ultimately refers to, accumulating the access path stepped through
// along the way.
func (a *analyzer) resolveAddr(v ssa.Value) (accesspath.Root, accesspath.Path) {
	switch x := v.(type) {
	case *ssa.FieldAddr:
		base, path := a.resolveAddr(x.X)
		return base, path.Concat(accesspath.Field(fieldName(x.X.Type(), x.Field)))
	case *ssa.Field:
		base, path := a.resolveAddr(x.X)
		return base, path.Concat(accesspath.Field(fieldName(x.X.Type(), x.Field)))
	case *ssa.IndexAddr:
		base, path := a.resolveAddr(x.X)
		return base, path.Concat(accesspath.AnyIndex)
	case *ssa.Index:
		base, path := a.resolveAddr(x.X)
		return base, path.Concat(accesspath.AnyIndex)
	case *ssa.Parameter:
		return a.paramRoot(x), accesspath.Empty
	case *ssa.FreeVar:
		return accesspath.Capture(x.Name()), accesspath.Empty
	case *ssa.Global:
		return accesspath.Local("global:" + x.Name()), accesspath.Empty
	default:
		return accesspath.Local(v.Name()), accesspath.Empty
	}
}

func fieldName(t types.Type, idx int) string {
	for {
		if p, ok := t.(*types.Pointer); ok {
			t = p.Elem()
			continue
		}
		if n, ok := t.(*types.Named); ok {
			t = n.Underlying()
			continue
		}
		break
	}
	if s, ok := t.(*types.Struct); ok && idx >= 0 && idx < s.NumFields() {
		return s.Field(idx).Name()
	}
	return "?"
}

// transferInstr applies one instruction's effect on env, returning the
// updated environment.
func (a *analyzer) transferInstr(instr ssa.Instruction, env taint.Environment) taint.Environment {
	switch v := instr.(type) {
	case *ssa.Store:
		t := a.get(v.Val, env)
		if t.IsBottom() {
			return env
		}
		base, path := a.resolveAddr(v.Addr)
		return env.WithAt(base, path, t)
	case ssa.CallInstruction:
		return a.transferCall(v, env)
	case ssa.Value:
		t := a.valueTaint(v, env)
		if t.IsBottom() {
			return env
		}
		return env.With(accesspath.Local(v.Name()), t)
	default:
		return env
	}
}

// valueTaint computes the taint a value-producing instruction other than
// a call contributes, handling the load/field/index cases that need
// access-path awareness and falling back to a conservative join across
// every instruction operand otherwise (covers BinOp, Phi, Convert,
// ChangeType, ChangeInterface, MakeInterface, MakeClosure, Slice, and
// friends without one-off cases for each).
func (a *analyzer) valueTaint(v ssa.Value, env taint.Environment) taint.Tree {
	switch x := v.(type) {
	case *ssa.UnOp:
		if x.Op == token.MUL {
			base, path := a.resolveAddr(x.X)
			return env.ReadAt(base, path)
		}
	case *ssa.FieldAddr, *ssa.Field, *ssa.IndexAddr, *ssa.Index:
		base, path := a.resolveAddr(v)
		return env.ReadAt(base, path)
	case *ssa.Extract:
		return a.get(x.Tuple, env)
	}
	instr, ok := v.(ssa.Instruction)
	if !ok {
		return taint.Tree{}
	}
	var t taint.Tree
	for _, op := range instr.Operands(nil) {
		if op == nil || *op == nil {
			continue
		}
		t = t.Join(a.get(*op, env))
	}
	return t
}

// transferCall resolves the callee's model (or a materialized obscure
// default) and propagates taint from tainted actual arguments through
// the callee's taint-in-taint-out summary to the call's result and to
// any by-reference actual the summary names (this module §4.6's "apply
// call").
func (a *analyzer) transferCall(instr ssa.CallInstruction, env taint.Environment) taint.Environment {
	common := instr.Common()

	var args []ssa.Value
	if common.IsInvoke() {
		args = append([]ssa.Value{common.Value}, common.Args...)
	} else {
		args = common.Args
	}

	argTaints := make([]taint.Tree, len(args))
	for i, argVal := range args {
		argTaints[i] = a.get(argVal, env)
	}
	a.callArgs[instr] = argTaints

	var info CalleeInfo
	var ok bool
	if a.resolve != nil {
		info, ok = a.resolve.Resolve(instr)
	}
	mdl := info.Model
	if !ok {
		mdl = model.Obscure()
	}
	if mdl.IsObscure && (len(a.obscure.SinkKinds) > 0 || a.obscure.SourceAtResult != nil) {
		mdl = model.ObscureForSignature(len(args), a.obscure.SinkKinds, a.obscure.SourceAtResult)
	}

	resultTaint := mdl.ForwardSourceTaint.At(accesspath.LocalResult)

	for i := range args {
		argTaint := argTaints[i]
		if argTaint.IsBottom() {
			continue
		}
		titoTree := mdl.BackwardTito.At(accesspath.Parameter(i))
		if titoTree.IsBottom() {
			if mdl.IsObscure {
				resultTaint = resultTaint.Join(argTaint)
			}
			continue
		}
		titoMap := taint.Collapse(titoTree)
		for _, k := range titoMap.Kinds() {
			if taint.IsLocalReturn(k) {
				resultTaint = resultTaint.Join(argTaint)
				continue
			}
			if j, isUpdate := taint.IsParameterUpdate(k); isUpdate && j < len(args) {
				base, path := a.resolveAddr(args[j])
				env = env.WithAt(base, path, argTaint)
			}
		}
	}

	if v, isVal := instr.(ssa.Value); isVal && !resultTaint.IsBottom() {
		env = env.With(accesspath.Local(v.Name()), resultTaint)
	}
	return env
}

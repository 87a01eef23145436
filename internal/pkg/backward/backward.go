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

// Package backward implements the per-callable backward abstract
// interpretation (this module §4.7): dual to package forward, it computes
// which sinks are reachable from each of a callable's parameters, and
// which parameters flow transparently (taint-in-taint-out) to the
// result or to another parameter.
package backward

import (
	"go/token"
	"go/types"

	"golang.org/x/tools/go/ssa"

	"github.com/sentryflow/sentryflow/internal/pkg/accesspath"
	"github.com/sentryflow/sentryflow/internal/pkg/model"
	"github.com/sentryflow/sentryflow/internal/pkg/taint"
)

// maxBlockRevisits mirrors forward's constant: the reverse-CFG walk is
// itself an intraprocedural fixpoint over a function's basic blocks, and
// needs the same widen-on-revisit bound to guarantee termination.
const maxBlockRevisits = 4

// CalleeInfo is what a CalleeResolver reports about a call site's
// statically-determined target, mirroring forward.CalleeInfo.
type CalleeInfo struct {
	Model     model.Model
	NumParams int
}

// CalleeResolver resolves a call site to the callee's current model. C9
// supplies the live implementation, shared with the forward pass.
type CalleeResolver interface {
	Resolve(instr ssa.CallInstruction) (CalleeInfo, bool)
}

// ObscurePolicy mirrors forward.ObscurePolicy.
type ObscurePolicy struct {
	SinkKinds      []taint.Kind
	SourceAtResult *taint.Kind
}

// TriggeredSink records that a combined-source rule's partial sink was
// matched at one argument position by only one of its two required
// sources, so the other half is "triggered" there (this module §4.7).
//
// There is one store for them: Result.TriggeredByArgument, keyed by
// argument root and filled only through Result.TriggerPartialSink. The
// backward pass itself records none, there is no separate per-call map,
// and nothing carries them into a callable's Model, so they do not
// survive across fixpoint iterations. Combined rules are matched within a
// single call site by issue.DetectAtCallSite.
type TriggeredSink struct {
	RuleCode int
	Label    string
	Kind     taint.Kind
}

// CallSite is one static call instruction. Triggered-sink bookkeeping is
// keyed by argument root (Result.TriggeredByArgument), not by CallSite.
type CallSite struct {
	Instr ssa.CallInstruction
}

// Result is one callable's backward analysis outcome.
type Result struct {
	// Entry is the environment computed at the callable's entry block,
	// describing what each parameter/capture root would reach if tainted
	// (this module §4.7's backward.sink_taint and backward.taint_in_taint_out,
	// still undivided — CollectModel below splits them).
	Entry taint.Environment

	// TriggeredByArgument records, per argument root, the triggered
	// partial-sink bookkeeping produced at call sites within this
	// callable (this module §4.7's "per-callable (to-be-propagated) triggered
	// map").
	TriggeredByArgument map[accesspath.Root][]TriggeredSink
}

// AnalyzeFunction runs the backward transfer rules over fn's SSA body in
// reverse, seeded by exit (the sink taint already known to be reachable
// from the callable's return value and any by-reference outputs, i.e.
// the caller's post-call backward state at this call's result). A nil or
// external fn returns exit unchanged.
func AnalyzeFunction(fn *ssa.Function, exit taint.Environment, resolve CalleeResolver, obscure ObscurePolicy) Result {
	if fn == nil || len(fn.Blocks) == 0 {
		return Result{Entry: exit}
	}
	a := &analyzer{
		fn:         fn,
		resolve:    resolve,
		obscure:    obscure,
		paramIndex: indexParams(fn),
		triggered:  make(map[accesspath.Root][]TriggeredSink),
	}
	return a.run(exit)
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
	triggered  map[accesspath.Root][]TriggeredSink
}

// run walks fn's blocks in reverse order, propagating "what would this
// value's taint reach" from each return/exit point back to the entry
// block, dual to forward.run's successor walk.
func (a *analyzer) run(exit taint.Environment) Result {
	n := len(a.fn.Blocks)
	ins := make([]taint.Environment, n)
	outs := make([]taint.Environment, n)
	visits := make([]int, n)

	isExit := make([]bool, n)
	sawReturn := false
	for i, b := range a.fn.Blocks {
		for _, instr := range b.Instrs {
			if _, ok := instr.(*ssa.Return); ok {
				isExit[i] = true
				sawReturn = true
			}
		}
	}
	if !sawReturn {
		for i, b := range a.fn.Blocks {
			if len(b.Succs) == 0 {
				isExit[i] = true
			}
		}
	}

	worklist := make([]int, n)
	for i := range worklist {
		worklist[i] = n - 1 - i
	}

	for len(worklist) > 0 {
		idx := worklist[0]
		worklist = worklist[1:]
		b := a.fn.Blocks[idx]

		var out taint.Environment
		if isExit[idx] {
			out = exit
		}
		for _, s := range b.Succs {
			out = out.Join(ins[s.Index])
		}

		if visits[idx] > 0 && out.LessOrEqual(outs[idx]) {
			continue
		}
		visits[idx]++
		if visits[idx] > maxBlockRevisits {
			out = out.Widen(outs[idx])
		}
		outs[idx] = out

		in := out
		for i := len(b.Instrs) - 1; i >= 0; i-- {
			in = a.transferInstr(b.Instrs[i], in)
		}

		if visits[idx] > 1 && in.LessOrEqual(ins[idx]) {
			continue
		}
		ins[idx] = in
		for _, p := range b.Preds {
			worklist = append(worklist, p.Index)
		}
	}

	entry := ins[0]
	return Result{Entry: entry, TriggeredByArgument: a.triggered}
}

// get reads the current backward taint attributed to an SSA value: what
// it would reach, were it tainted.
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

// transferInstr applies one instruction's effect on a reverse-flowing
// backward environment: env describes what each root would reach if
// tainted *after* instr executes; the result describes the same
// *before* instr executes.
func (a *analyzer) transferInstr(instr ssa.Instruction, env taint.Environment) taint.Environment {
	switch v := instr.(type) {
	case *ssa.Store:
		base, path := a.resolveAddr(v.Addr)
		reaching := env.ReadAt(base, path)
		if reaching.IsBottom() {
			return env
		}
		return a.propagateTo(v.Val, reaching, env)
	case ssa.CallInstruction:
		return a.transferCall(v, env)
	case ssa.Value:
		reaching := env.At(accesspath.Local(v.Name()))
		if reaching.IsBottom() {
			return env
		}
		return a.propagateFromValue(v, reaching, env)
	default:
		return env
	}
}

// propagateTo folds reaching (what the written-to location would reach)
// backward onto whatever SSA value produced the stored value.
func (a *analyzer) propagateTo(v ssa.Value, reaching taint.Tree, env taint.Environment) taint.Environment {
	switch x := v.(type) {
	case *ssa.Const, *ssa.Function, *ssa.Builtin:
		return env
	case *ssa.Parameter:
		return env.With(a.paramRoot(x), reaching)
	case *ssa.FreeVar:
		return env.With(accesspath.Capture(x.Name()), reaching)
	case *ssa.Global:
		return env.With(accesspath.Local("global:"+x.Name()), reaching)
	default:
		return env.With(accesspath.Local(v.Name()), reaching)
	}
}

// propagateFromValue dual-propagates a value-producing instruction's
// reaching taint backward onto its operands, handling the field/index
// and dereference cases that need access-path awareness and falling
// back to broadcasting across every operand otherwise.
func (a *analyzer) propagateFromValue(v ssa.Value, reaching taint.Tree, env taint.Environment) taint.Environment {
	switch x := v.(type) {
	case *ssa.UnOp:
		if x.Op == token.MUL {
			return a.propagateTo(x.X, reaching, env)
		}
	case *ssa.FieldAddr:
		base, path := a.resolveAddr(x.X)
		return env.WithAt(base, path.Concat(accesspath.Field(fieldName(x.X.Type(), x.Field))), reaching)
	case *ssa.Field:
		base, path := a.resolveAddr(x.X)
		return env.WithAt(base, path.Concat(accesspath.Field(fieldName(x.X.Type(), x.Field))), reaching)
	case *ssa.IndexAddr:
		base, path := a.resolveAddr(x.X)
		return env.WithAt(base, path.Concat(accesspath.AnyIndex), reaching)
	case *ssa.Index:
		base, path := a.resolveAddr(x.X)
		return env.WithAt(base, path.Concat(accesspath.AnyIndex), reaching)
	case *ssa.Extract:
		return a.propagateTo(x.Tuple, reaching, env)
	}
	instr, ok := v.(ssa.Instruction)
	if !ok {
		return env
	}
	for _, op := range instr.Operands(nil) {
		if op == nil || *op == nil {
			continue
		}
		env = a.propagateTo(*op, reaching, env)
	}
	return env
}

// transferCall resolves the callee's model (or a materialized obscure
// default) and propagates each sink the callee's backward model reaches
// from a formal parameter back to the corresponding actual argument
// expression, applying apply_call so trace info reflects passing through
// this call site (this module §4.7). A LocalReturn sink on a formal folds the
// caller's own post-call sink taint at the call's result back onto that
// formal's actual (taint-in-taint-out); a ParameterUpdate(j) sink instead
// folds the current backward taint of actual j back onto that formal's
// actual.
func (a *analyzer) transferCall(instr ssa.CallInstruction, env taint.Environment) taint.Environment {
	common := instr.Common()

	var args []ssa.Value
	if common.IsInvoke() {
		args = append([]ssa.Value{common.Value}, common.Args...)
	} else {
		args = common.Args
	}

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

	var resultReaching taint.Tree
	if v, isVal := instr.(ssa.Value); isVal {
		resultReaching = env.At(accesspath.Local(v.Name()))
	}

	for i, argVal := range args {
		sinkAtParam := mdl.BackwardSinkTaint.At(accesspath.Parameter(i))
		if !sinkAtParam.IsBottom() {
			env = a.propagateTo(argVal, sinkAtParam, env)
		}

		titoTree := mdl.BackwardTito.At(accesspath.Parameter(i))
		if titoTree.IsBottom() {
			if mdl.IsObscure && !resultReaching.IsBottom() {
				env = a.propagateTo(argVal, resultReaching, env)
			}
			continue
		}
		titoMap := taint.Collapse(titoTree)
		for _, k := range titoMap.Kinds() {
			if taint.IsLocalReturn(k) {
				if !resultReaching.IsBottom() {
					env = a.propagateTo(argVal, resultReaching, env)
				}
				continue
			}
			if j, isUpdate := taint.IsParameterUpdate(k); isUpdate && j < len(args) {
				reaching := env.At(accesspath.Local(args[j].Name()))
				if !reaching.IsBottom() {
					env = a.propagateTo(argVal, reaching, env)
				}
			}
		}
	}

	return env
}

// CollectModel splits a completed Result's Entry environment into
// backward.sink_taint and backward.taint_in_taint_out (this module §3): every
// leaf kind that is LocalReturn or ParameterUpdate(i) encodes
// taint-in-taint-out and belongs in BackwardTito; every other kind is an
// ordinary reachable sink and belongs in BackwardSinkTaint.
func CollectModel(r Result) (sinkTaint, tito taint.Environment) {
	for _, root := range r.Entry.Roots() {
		tree := r.Entry.At(root)
		sinkTree := taint.Transform(tree, func(tm taint.TaintMap) taint.TaintMap {
			return tm.Filter(func(k taint.Kind) bool { return !taint.IgnoreLeafAtCall(k) })
		})
		titoTree := taint.Transform(tree, func(tm taint.TaintMap) taint.TaintMap {
			return tm.Filter(taint.IgnoreLeafAtCall)
		})
		if !sinkTree.IsBottom() {
			sinkTaint = sinkTaint.With(root, sinkTree)
		}
		if !titoTree.IsBottom() {
			tito = tito.With(root, titoTree)
		}
	}
	return sinkTaint, tito
}

// TriggerPartialSink records, for the argument root r, that a
// combined-source rule's partial sink (ruleCode, label) matched at this
// call site without (yet) being paired with its sibling source (this module
// §4.7). Exposed for C8 to call once it detects a one-sided combined
// match during issue detection over this callable's call sites; stored
// per-argument-root so a later epoch's forward pass can re-check it
// against the root's current forward taint.
func (r *Result) TriggerPartialSink(root accesspath.Root, ts TriggeredSink) {
	if r.TriggeredByArgument == nil {
		r.TriggeredByArgument = make(map[accesspath.Root][]TriggeredSink)
	}
	r.TriggeredByArgument[root] = append(r.TriggeredByArgument[root], ts)
}

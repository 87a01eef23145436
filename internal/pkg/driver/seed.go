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

package driver

import (
	"fmt"
	"go/token"
	"go/types"
	"os"
	"reflect"

	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/sentryflow/sentryflow/internal/pkg/accesspath"
	"github.com/sentryflow/sentryflow/internal/pkg/callgraph"
	"github.com/sentryflow/sentryflow/internal/pkg/diagnostics"
	"github.com/sentryflow/sentryflow/internal/pkg/fixpoint"
	"github.com/sentryflow/sentryflow/internal/pkg/model"
	"github.com/sentryflow/sentryflow/internal/pkg/model/lang"
)

// functionIndex groups every function reached by SSA construction by its
// (receiver type name, function name), the same identity a model
// declaration's receiver/func-name pair names (this module §4.4): a model
// file names a library's API by declaration shape, not by the analyzed
// program's own import path, so one RawModel can legitimately match
// several functions (e.g. the same method name on several receivers, or
// re-exported helpers across build-tag variants).
type functionIndex map[string][]*ssa.Function

func buildFunctionIndex(prog *Program) functionIndex {
	idx := make(functionIndex)
	for fn := range ssautil.AllFunctions(prog.SSA) {
		if fn.Signature == nil {
			continue
		}
		idx[functionKey(fn)] = append(idx[functionKey(fn)], fn)
	}
	return idx
}

func functionKey(fn *ssa.Function) string {
	recv := ""
	if r := fn.Signature.Recv(); r != nil {
		recv = recvTypeName(r)
	}
	return recv + "#" + fn.Name()
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

// ResolvedSignatureFor builds the model.ResolvedSignature C4's semantic
// match pass (model.Build) needs from fn's real SSA signature: one
// accesspath.FormalParameter per entry of fn.Params, receiver included,
// matching how C6/C7's indexParams numbers accesspath.Parameter(i)
// against fn.Params directly.
func ResolvedSignatureFor(fn *ssa.Function) model.ResolvedSignature {
	formals := make([]accesspath.FormalParameter, len(fn.Params))
	variadic := fn.Signature.Variadic()
	for i, p := range fn.Params {
		formals[i] = accesspath.FormalParameter{
			Name:       p.Name(),
			IsStarArgs: variadic && i == len(fn.Params)-1,
		}
	}
	return model.ResolvedSignature{
		HasReceiver: fn.Signature.Recv() != nil,
		Formals:     formals,
	}
}

// ModelLoadError records one declaration that failed the semantic match
// or whose file failed to parse, keyed by position for driver reporting
// (this module §7's "Model validation error").
type ModelLoadError struct {
	Pos token.Pos
	Err error
}

func (e *ModelLoadError) Error() string { return e.Err.Error() }

// LoadModelFiles parses every named model file and seeds store with the
// resulting models, matched against every function in prog sharing the
// declaration's (receiver, name) shape. When verify is true, any
// semantic-match failure (model.Build's arity mismatch) aborts and
// returns the first error; otherwise the offending declaration is
// logged and dropped, matching this module §7's verify=true/false split for
// "Model validation error".
func LoadModelFiles(store *fixpoint.Store, prog *Program, paths []string, verify bool) ([]ModelLoadError, error) {
	idx := buildFunctionIndex(prog)
	fset := token.NewFileSet()

	var errs []ModelLoadError
	for _, path := range paths {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading model file %s: %w", path, err)
		}
		raws, parseErrs := lang.ParseFile(fset, path, src)
		for _, pe := range parseErrs {
			if verify {
				return nil, fmt.Errorf("parsing model file %s: %w", path, pe.Err)
			}
			diagnostics.Warnf("model file %s: %v", path, pe.Err)
			errs = append(errs, ModelLoadError{Pos: pe.Pos, Err: pe.Err})
		}

		for _, rm := range raws {
			matches := idx[rm.Receiver+"#"+rm.Name]
			if len(matches) == 0 {
				diagnostics.Infof("model %s: no matching declaration found in analyzed program; skipped", rm.Name)
				continue
			}
			for _, fn := range matches {
				mdl, err := model.Build(rm, ResolvedSignatureFor(fn))
				if err != nil {
					if verify {
						return nil, fmt.Errorf("model %s: %w", rm.Name, err)
					}
					diagnostics.Warnf("model %s: %v; dropped", rm.Name, err)
					errs = append(errs, ModelLoadError{Pos: rm.Pos, Err: err})
					continue
				}
				for _, w := range mdl.Warnings {
					diagnostics.Warnf("%s", w.Message)
				}
				seedJoin(store, callgraph.TargetForFunc(fn), mdl)
			}
		}
	}
	return errs, nil
}

// seedJoin installs m as t's model, joining with whatever is already on
// file instead of overwriting it (Store.Seed alone would let a later
// model file clobber an earlier one's contribution to the same target).
func seedJoin(store *fixpoint.Store, t callgraph.Target, m model.Model) {
	store.Seed(t, store.Get(t).Join(m))
}

// SeedStdlib seeds an obscure-but-summarized model (model.StdlibModel)
// for every reached call to a function this program never walks the
// body of, identified by its package-qualified name (this module §4.4's
// "stdlib summary table" fallback for obscure callables).
func SeedStdlib(store *fixpoint.Store, g *callgraph.Graph) {
	for _, t := range g.Nodes() {
		if t.Kind != callgraph.TargetFunction && t.Kind != callgraph.TargetMethod {
			continue
		}
		if _, ok := g.Func(t); ok {
			// This program defines the callable's body; let the fixpoint
			// compute its model instead of a conservative stdlib summary.
			continue
		}
		qualified := t.Package + "." + t.Name
		if mdl, ok := model.StdlibModel(qualified); ok {
			seedJoin(store, t, mdl)
		}
	}
}

// SeedFieldTagSources walks every named struct type defined in a
// first-party package and seeds a source model for any field propagator
// accessor matching a tagged field, using google-go-flow-levee's
// `sentryflow:"source"` built-in convention plus user-configured rules.
// A "field propagator" here is recognized narrowly: a pointer
// or value method with no parameters, a single result, and a name equal
// to the field name (the common Go getter idiom) — anything more
// elaborate is left to an explicit user model.
func SeedFieldTagSources(store *fixpoint.Store, prog *Program, rules []model.StructTagRule) {
	structs := collectNamedStructs(prog)

	var seeds []string
	for name, ns := range structs {
		if seedStructAccessors(store, prog, ns.named, ns.st, rules) {
			seeds = append(seeds, name)
		}
	}
	if len(seeds) == 0 {
		return
	}

	SeedInferredSources(store, prog, structs, seeds)
}

// SeedInferredSources extends the directly tagged seed set along
// objectGraph's "embeds or is assigned from" edges (model.ObjectGraph),
// so a type that wraps or embeds a known source type is itself treated
// as a source even without its own struct tag — this module §4's
// supplemented "heuristic source inference from assignment graphs"
// feature. Only used to seed initial models; never overrides an
// explicit user model, since seedJoin only ever widens a target's model.
func SeedInferredSources(store *fixpoint.Store, prog *Program, structs namedStructs, seeds []string) {
	closure := model.InferSourceTypeClosure(objectGraph(structs), seeds)
	direct := make(map[string]bool, len(seeds))
	for _, s := range seeds {
		direct[s] = true
	}
	for name := range closure {
		if direct[name] {
			continue
		}
		ns, ok := structs[name]
		if !ok {
			continue
		}
		allFields := make(map[string]bool, ns.st.NumFields())
		for i := 0; i < ns.st.NumFields(); i++ {
			allFields[ns.st.Field(i).Name()] = true
		}
		seedFieldPropagatorAccessors(store, prog, ns.named, allFields)
	}
}

func seedStructAccessors(store *fixpoint.Store, prog *Program, named *types.Named, st *types.Struct, rules []model.StructTagRule) bool {
	sourceFields := directTaggedSourceFields(st, rules)
	if len(sourceFields) == 0 {
		return false
	}
	seedFieldPropagatorAccessors(store, prog, named, sourceFields)
	return true
}

// directTaggedSourceFields returns the set of st's field names whose struct
// tag matches a StructTagRule (or the built-in `sentryflow:"source"` tag).
func directTaggedSourceFields(st *types.Struct, rules []model.StructTagRule) map[string]bool {
	sourceFields := make(map[string]bool)
	for i := 0; i < st.NumFields(); i++ {
		f := st.Field(i)
		tag := reflect.StructTag(st.Tag(i))
		if _, ok := model.MatchStructTag("sentryflow", tag.Get("sentryflow"), rules); ok {
			sourceFields[f.Name()] = true
			continue
		}
		for _, r := range rules {
			if _, ok := model.MatchStructTag(r.Key, tag.Get(r.Key), rules); ok {
				sourceFields[f.Name()] = true
				break
			}
		}
	}
	return sourceFields
}

// seedFieldPropagatorAccessors seeds a source model for every no-arg,
// single-result accessor method on named whose name matches a field in
// sourceFields, following the common Go getter idiom (this module §4.4
// scenario 6, generalized by model.FieldPropagatorMatcher).
func seedFieldPropagatorAccessors(store *fixpoint.Store, prog *Program, named *types.Named, sourceFields map[string]bool) {
	match := model.FieldPropagatorMatcher{
		IsSourceField: func(_, fieldName string) bool { return sourceFields[fieldName] },
	}

	for i := 0; i < named.NumMethods(); i++ {
		meth := named.Method(i)
		sig, ok := meth.Type().(*types.Signature)
		if !ok || sig.Params().Len() != 0 || sig.Results().Len() != 1 {
			continue
		}
		if !sourceFields[meth.Name()] {
			continue
		}
		mdl, ok := model.InferFieldPropagatorModel(named.Obj().Name(), meth.Name(), match)
		if !ok {
			continue
		}
		for fn := range ssautil.AllFunctions(prog.SSA) {
			if fn.Object() == meth {
				seedJoin(store, callgraph.TargetForFunc(fn), mdl)
			}
		}
	}
}

// namedStructs indexes every named struct type declared in a first-party
// package by its type name, alongside the types.Named/types.Struct pair
// seedStructAccessors needs to seed its accessors.
type namedStructs map[string]struct {
	named *types.Named
	st    *types.Struct
}

func collectNamedStructs(prog *Program) namedStructs {
	out := make(namedStructs)
	for _, pkg := range prog.Pkgs {
		if pkg.Types == nil {
			continue
		}
		scope := pkg.Types.Scope()
		for _, name := range scope.Names() {
			obj := scope.Lookup(name)
			tn, ok := obj.(*types.TypeName)
			if !ok {
				continue
			}
			named, ok := tn.Type().(*types.Named)
			if !ok {
				continue
			}
			st, ok := named.Underlying().(*types.Struct)
			if !ok {
				continue
			}
			out[named.Obj().Name()] = struct {
				named *types.Named
				st    *types.Struct
			}{named, st}
		}
	}
	return out
}

// objectGraph builds the model.ObjectGraph C4's transitive source
// inference (model.InferSourceTypeClosure) walks: an edge from T to U
// whenever T declares a field of type U (directly, through a pointer, or
// through a slice), the same "embeds or is assigned from" relation
// this module §4's supplemented feature describes.
func objectGraph(structs namedStructs) model.ObjectGraph {
	g := make(model.ObjectGraph, len(structs))
	for name, ns := range structs {
		var edges []string
		for i := 0; i < ns.st.NumFields(); i++ {
			if u := namedElemTypeName(ns.st.Field(i).Type()); u != "" {
				edges = append(edges, u)
			}
		}
		g[name] = edges
	}
	return g
}

// namedElemTypeName unwraps pointer/slice/array layers and returns the
// name of the named struct type underneath, or "" if there is none.
func namedElemTypeName(t types.Type) string {
	switch v := t.(type) {
	case *types.Pointer:
		return namedElemTypeName(v.Elem())
	case *types.Slice:
		return namedElemTypeName(v.Elem())
	case *types.Array:
		return namedElemTypeName(v.Elem())
	case *types.Named:
		if _, ok := v.Underlying().(*types.Struct); ok {
			return v.Obj().Name()
		}
	}
	return ""
}

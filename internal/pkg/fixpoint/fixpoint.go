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
	"fmt"
	"sort"

	"golang.org/x/tools/go/ssa"

	"github.com/sentryflow/sentryflow/internal/pkg/accesspath"
	"github.com/sentryflow/sentryflow/internal/pkg/backward"
	"github.com/sentryflow/sentryflow/internal/pkg/callgraph"
	"github.com/sentryflow/sentryflow/internal/pkg/diagnostics"
	"github.com/sentryflow/sentryflow/internal/pkg/forward"
	"github.com/sentryflow/sentryflow/internal/pkg/model"
	"github.com/sentryflow/sentryflow/internal/pkg/taint"
)

// Options configures one fixpoint run.
type Options struct {
	// Entries are the targets the analysis is rooted at; only targets
	// reachable from these through the combined call ∪ override graph are
	// ever analyzed (this module §4.5's pruning invariant).
	Entries []callgraph.Target
	// MaxEpochs bounds the number of epochs before Run or RunParallel
	// gives up and reports non-convergence (10000 when unset), guarding
	// against a runaway configuration (this module §9).
	MaxEpochs int
	// SinkKinds and SourceAtResult materialize model.ObscureForSignature
	// once an unresolved call site's arity is known (this module §3's obscure
	// default).
	SinkKinds      []taint.Kind
	SourceAtResult *taint.Kind
}

// Engine holds the state one fixpoint run shares across every callable it
// analyzes: the call graph, the model store being refined, and the
// override index used to resolve dynamically-dispatched calls.
type Engine struct {
	graph     *callgraph.Graph
	store     *Store
	overrides overrideIndex
	opts      Options
}

// NewEngine builds an Engine over an already-constructed call graph and
// model store (the store may already carry seeded models from model
// files, stdlib summaries, or heuristic inference — this module §4.4).
func NewEngine(g *callgraph.Graph, store *Store, opts Options) *Engine {
	return &Engine{graph: g, store: store, overrides: buildOverrideIndex(g), opts: opts}
}

// Store returns the engine's model store.
func (e *Engine) Store() *Store { return e.store }

// Run computes the fixpoint: every reachable callable's model is refined
// until no further store update is produced, or MaxEpochs is exhausted
// (this module §4.9). It returns an error only on non-convergence; whatever
// models the store holds at that point are still the best approximation
// computed so far and remain usable.
func (e *Engine) Run() error {
	reached := e.graph.ReachableFromEntries(e.opts.Entries)
	deps := e.dependencyEdges(reached)
	sccOf, members := detectSCCs(reached, deps)
	order := reverseTopological(reached, deps)

	pending := make(map[string]bool, len(order))
	for _, key := range order {
		pending[key] = true
	}

	reverseDeps := reverseOf(deps)

	diagnostics.Infof("[fixpoint] starting with %d reachable targets", len(reached))

	epoch := 0
	maxEpochs := e.opts.MaxEpochs
	if maxEpochs <= 0 {
		maxEpochs = 10000
	}

	for len(pending) > 0 && epoch < maxEpochs {
		key := popSmallest(pending)
		t, ok := e.targetByKey(key)
		if !ok {
			continue
		}

		if sccID, inSCC := sccOf[key]; inSCC {
			changed := e.settleSCC(members[sccID])
			epoch++
			if changed {
				for _, memberKey := range members[sccID] {
					for _, caller := range reverseDeps[memberKey] {
						if callerSCC, callerInSCC := sccOf[caller]; !callerInSCC || callerSCC != sccID {
							pending[caller] = true
						}
					}
				}
			}
			continue
		}

		newModel := e.computeSummary(t)
		if e.store.update(t, newModel) {
			epoch++
			for _, caller := range reverseDeps[key] {
				pending[caller] = true
			}
		}
	}

	if len(pending) > 0 {
		diagnostics.Errorf("[fixpoint] did not converge after %d epochs (%d targets still pending)", maxEpochs, len(pending))
		return fmt.Errorf("fixpoint did not converge after %d epochs (%d targets pending)", maxEpochs, len(pending))
	}

	diagnostics.Infof("[fixpoint] converged in %d epochs", epoch)
	return nil
}

func (e *Engine) targetByKey(key string) (callgraph.Target, bool) {
	for _, t := range e.graph.Nodes() {
		if t.Key() == key {
			return t, true
		}
	}
	return callgraph.Target{}, false
}

// settleSCC repeatedly recomputes every member of a strongly-connected
// component's summary so mutual recursion within it can stabilize,
// bounded to len(members)+1 rounds of MaxReanalysesPerEpoch each — the
// same "collapse, bound the depth" shape as
// 1homsi-gorisk/internal/interproc/scc.go's CollapseSCC, adapted from
// joining already-computed summaries to actually re-running each
// member's analysis against the others' latest models.
func (e *Engine) settleSCC(memberKeys []string) bool {
	changedOverall := false
	rounds := (len(memberKeys) + 1) * MaxReanalysesPerEpoch
	for round := 0; round < rounds; round++ {
		roundChanged := false
		for _, key := range memberKeys {
			t, ok := e.targetByKey(key)
			if !ok {
				continue
			}
			newModel := e.computeSummary(t)
			if e.store.update(t, newModel) {
				roundChanged = true
				changedOverall = true
			}
		}
		if !roundChanged {
			break
		}
	}
	return changedOverall
}

// computeSummary computes one callable's model: a target with no
// backing SSA function (an external declaration, or a fan-out-pruned
// Override) gets the conservative obscure default; otherwise its body is
// walked once forward (source discovery and TITO-to-result relay,
// stamped into ForwardSourceTaint) and once backward (sink reachability
// and TITO discovery, split by backward.CollectModel into
// BackwardSinkTaint/BackwardTito), seeded per this module §4.7 so that every
// parameter and the result are themselves treated as observable by the
// caller after return.
func (e *Engine) computeSummary(t callgraph.Target) model.Model {
	fn, ok := e.graph.Func(t)
	if !ok || fn == nil || len(fn.Blocks) == 0 {
		return model.Obscure()
	}

	declared := e.store.Get(t)
	if declared.Mode == model.SkipAnalysis {
		return declared
	}

	fwdObscure := forward.ObscurePolicy{SinkKinds: e.opts.SinkKinds, SourceAtResult: e.opts.SourceAtResult}
	bwdObscure := backward.ObscurePolicy{SinkKinds: e.opts.SinkKinds, SourceAtResult: e.opts.SourceAtResult}

	fwdRes := forward.AnalyzeFunction(fn, taint.Environment{}, forwardResolver{e}, fwdObscure)

	bwdSeed := titoSeed(fn)
	bwdRes := backward.AnalyzeFunction(fn, bwdSeed, backwardResolver{e}, bwdObscure)
	sinkTaint, tito := backward.CollectModel(bwdRes)

	out := declared
	if !fwdRes.ReturnTaint.IsBottom() {
		out.ForwardSourceTaint = out.ForwardSourceTaint.With(accesspath.LocalResult, fwdRes.ReturnTaint)
	}
	for _, root := range fwdRes.Exit.Roots() {
		if root.Kind != accesspath.RootPositionalParameter {
			continue
		}
		out.ForwardSourceTaint = out.ForwardSourceTaint.With(root, fwdRes.Exit.At(root))
	}
	out.BackwardSinkTaint = out.BackwardSinkTaint.Join(sinkTaint)
	out.BackwardTito = out.BackwardTito.Join(tito)

	if declared.Mode == model.Sanitize {
		out = applySanitizeAxes(out, declared.SanitizeAxes)
	}

	return out
}

// titoSeed builds the synthetic exit environment a backward pass needs
// to discover taint-in-taint-out relationships independent of any actual
// taint content (this module §4.7): the result is marked reachable via the
// LocalReturn kind, and every parameter is marked reachable via its own
// ParameterUpdate(i) kind, so that a pass-through write like `*b = *a`
// surfaces as parameter a updating parameter b once the ParameterUpdate
// marker seeded at b's root is found, during the backward walk, to have
// propagated onto a.
func titoSeed(fn *ssa.Function) taint.Environment {
	env := taint.Environment{}.With(accesspath.LocalResult, taint.Leaf(taint.Singleton(taint.LocalReturn)))
	for i := range fn.Params {
		env = env.With(accesspath.Parameter(i), taint.Leaf(taint.Singleton(taint.ParameterUpdate(i))))
	}
	return env
}

func applySanitizeAxes(m model.Model, axes model.SanitizeAxes) model.Model {
	if axes.Sources {
		m.ForwardSourceTaint = taint.Environment{}
	}
	if axes.Sinks {
		m.BackwardSinkTaint = taint.Environment{}
	}
	if axes.Tito {
		m.BackwardTito = taint.Environment{}
	}
	return m
}

// dependencyEdges returns, for each reachable target key, the keys of
// the targets its own summary computation reads: its call-graph callees,
// plus (for an Override target) its member methods.
func (e *Engine) dependencyEdges(reached map[string]bool) map[string][]string {
	deps := make(map[string][]string, len(reached))
	for _, t := range e.graph.Nodes() {
		key := t.Key()
		if !reached[key] {
			continue
		}
		var ds []string
		for _, c := range e.graph.Callees(t) {
			if reached[c.Key()] {
				ds = append(ds, c.Key())
			}
		}
		if t.Kind == callgraph.TargetOverride {
			for _, m := range e.graph.Overrides(t) {
				if reached[m.Key()] {
					ds = append(ds, m.Key())
				}
			}
		}
		sort.Strings(ds)
		deps[key] = ds
	}
	return deps
}

func reverseOf(deps map[string][]string) map[string][]string {
	rev := make(map[string][]string, len(deps))
	for from, tos := range deps {
		for _, to := range tos {
			rev[to] = append(rev[to], from)
		}
	}
	for k := range rev {
		sort.Strings(rev[k])
	}
	return rev
}

func popSmallest(pending map[string]bool) string {
	keys := make([]string, 0, len(pending))
	for k := range pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	key := keys[0]
	delete(pending, key)
	return key
}

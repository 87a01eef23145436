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
	"fmt"
	"sort"
	"strings"

	"github.com/sentryflow/sentryflow/internal/pkg/diagnostics"
	"github.com/sentryflow/sentryflow/internal/pkg/model"
	"github.com/sentryflow/sentryflow/internal/pkg/scheduler"
)

// RunParallel computes the same fixpoint as Run, but distributes each
// round's independent, non-interdependent callables across a bounded
// goroutine pool via internal/pkg/scheduler (C10), matching this module
// §2's "C10 parallelizes independent per-callable computations within
// each iteration." A round's "ready" set is every pending target whose
// outgoing dependency edges (computed once, up front, same as Run) are
// already resolved — i.e. not themselves still pending in this round —
// so members of that set can never read one another's in-flight result
// and are safe to map concurrently; only the commit step (applying each
// computed model to the store and deciding which callers become dirty)
// is sequential, preserving the single-assignment-per-key policy this module
// §4.10/§5 requires of the model store.
//
// An SCC is treated as one atomic unit of work: settleSCC still runs its
// inner re-analysis loop sequentially (the members interdepend by
// construction), but different SCCs and different ordinary targets
// within the same round are still eligible to run concurrently with one
// another.
func (e *Engine) RunParallel(ctx context.Context, workers int) error {
	reached := e.graph.ReachableFromEntries(e.opts.Entries)
	deps := e.dependencyEdges(reached)
	sccOf, members := detectSCCs(reached, deps)
	reverseDeps := reverseOf(deps)

	// unitOf maps every reached key to the id of the "unit" it belongs
	// to: either its own key (ordinary target) or its SCC id (so every
	// member of one SCC is scheduled as a single work item).
	unitOf := make(map[string]string, len(reached))
	unitMembers := make(map[string][]string)
	for key := range reached {
		if sccID, ok := sccOf[key]; ok {
			unitOf[key] = fmt.Sprintf("scc#%d", sccID)
		} else {
			unitOf[key] = key
		}
	}
	for key, unit := range unitOf {
		unitMembers[unit] = append(unitMembers[unit], key)
	}
	for _, ms := range unitMembers {
		sort.Strings(ms)
	}

	// unitDeps: a unit depends on another unit if any member of the
	// first depends (via deps) on any member of the second, excluding
	// self-dependency within the same unit (handled by settleSCC).
	unitDeps := make(map[string]map[string]bool, len(unitMembers))
	for unit, ms := range unitMembers {
		set := make(map[string]bool)
		for _, m := range ms {
			for _, d := range deps[m] {
				du := unitOf[d]
				if du != unit {
					set[du] = true
				}
			}
		}
		unitDeps[unit] = set
	}

	pending := make(map[string]bool, len(unitMembers))
	for unit := range unitMembers {
		pending[unit] = true
	}

	diagnostics.Infof("[fixpoint] starting parallel run with %d units over %d targets", len(pending), len(reached))

	epoch := 0
	maxEpochs := e.opts.MaxEpochs
	if maxEpochs <= 0 {
		maxEpochs = 10000
	}

	for len(pending) > 0 && epoch < maxEpochs {
		ready := readyUnits(pending, unitDeps)
		if len(ready) == 0 {
			// Every remaining pending unit depends on another still-pending
			// unit: a cross-unit cycle outside any detected SCC, which
			// detectSCCs should have already collapsed. Fall back to
			// popping the lexicographically smallest to guarantee progress.
			ready = []string{popSmallest(pending)}
		} else {
			for _, u := range ready {
				delete(pending, u)
			}
		}

		results, err := scheduler.MapReduce(ctx, scheduler.Options{Workers: workers}, len(ready),
			func(ctx context.Context, start, end int) (interface{}, error) {
				out := make(map[string]model.Model, end-start)
				for _, unit := range ready[start:end] {
					if isSCCUnit(unit) {
						// settleSCC mutates the shared store directly via
						// e.store.update, which is safe: distinct SCCs never
						// share a member key, so concurrent SCC settlement
						// never races on the same store key.
						e.settleSCC(unitMembers[unit])
						continue
					}
					key := unit
					t, ok := e.targetByKey(key)
					if !ok {
						continue
					}
					out[key] = e.computeSummary(t)
				}
				return out, nil
			},
			func(a, b interface{}) interface{} {
				merged := a.(map[string]model.Model)
				for k, v := range b.(map[string]model.Model) {
					merged[k] = v
				}
				return merged
			}, map[string]model.Model{})
		if err != nil {
			return fmt.Errorf("fixpoint: parallel round failed: %w", err)
		}

		computed := results.(map[string]model.Model)
		changedUnits := make(map[string]bool)
		for key, newModel := range computed {
			t, ok := e.targetByKey(key)
			if !ok {
				continue
			}
			if e.store.update(t, newModel) {
				changedUnits[unitOf[key]] = true
			}
		}

		epoch++
		for unit := range changedUnits {
			for _, member := range unitMembers[unit] {
				for _, caller := range reverseDeps[member] {
					pending[unitOf[caller]] = true
				}
			}
		}
	}

	if len(pending) > 0 {
		diagnostics.Errorf("[fixpoint] parallel run did not converge after %d epochs (%d units still pending)", maxEpochs, len(pending))
		return fmt.Errorf("fixpoint did not converge after %d epochs (%d units pending)", maxEpochs, len(pending))
	}

	diagnostics.Infof("[fixpoint] parallel run converged in %d epochs", epoch)
	return nil
}

// readyUnits returns every pending unit none of whose dependencies are
// themselves still pending, sorted for deterministic scheduling order.
func readyUnits(pending map[string]bool, unitDeps map[string]map[string]bool) []string {
	var ready []string
	for unit := range pending {
		blocked := false
		for dep := range unitDeps[unit] {
			if pending[dep] {
				blocked = true
				break
			}
		}
		if !blocked {
			ready = append(ready, unit)
		}
	}
	sort.Strings(ready)
	return ready
}

func isSCCUnit(unit string) bool {
	return strings.HasPrefix(unit, "scc#")
}

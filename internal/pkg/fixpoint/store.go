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

// Package fixpoint computes the whole-program model store by iterating
// the forward and backward per-callable analyses to a fixpoint over the
// call graph (this module §4.9): a callable's model depends on its callees'
// models, which may in turn depend back on it through recursion, so the
// store is refined epoch by epoch until no callable's model grows any
// further (or a configured iteration budget is exhausted).
package fixpoint

import (
	"github.com/sentryflow/sentryflow/internal/pkg/callgraph"
	"github.com/sentryflow/sentryflow/internal/pkg/model"
)

// MaxReanalysesPerEpoch scales how long settleSCC iterates one
// strongly-connected component: at most (len(members)+1) *
// MaxReanalysesPerEpoch rounds of recomputing every member, stopping
// early once a round changes no model (this module §9's magic-constant
// open question; W=2). It is not a widening threshold: the store only
// joins, and C6/C7's per-block widen threshold is a separate constant.
const MaxReanalysesPerEpoch = 2

// Store is the model store (this module §3): a single-assignment-per-key map
// from callable target to Model, refined monotonically across fixpoint
// epochs. TaintMap is bounded by the configured kind vocabulary and
// TraceInfo.Length by MaxCallSiteLength; Tree depth is capped only by
// Tree.Widen, not by Tree.Join. The store applies no widen operator of
// its own: it joins, and the number of rounds is bounded by settleSCC
// and MaxEpochs.
type Store struct {
	models map[string]model.Model
	visits map[string]int
}

// NewStore builds an empty model store.
func NewStore() *Store {
	return &Store{models: make(map[string]model.Model), visits: make(map[string]int)}
}

// Get returns the model currently on file for t, or the bottom model
// (model.Model{}.IsNoOp() reports true) if t has never been updated.
func (s *Store) Get(t callgraph.Target) model.Model {
	return s.models[t.Key()]
}

// Seed installs m as t's initial model, bypassing the join-monotonicity
// check: used once, before the fixpoint runs, to preload models parsed
// from a model file, inferred heuristically, or looked up in the
// standard-library summary table (this module §4.4). A target seeded this
// way is still eligible for further joins from interprocedural analysis
// unless its Mode is SkipAnalysis.
func (s *Store) Seed(t callgraph.Target, m model.Model) {
	s.models[t.Key()] = m
}

// update joins m into t's current model, reporting whether the stored
// model changed (the fixpoint condition). visits counts how many times
// this key's stored model has changed; nothing reads it, and it has no
// effect on the result.
func (s *Store) update(t callgraph.Target, m model.Model) bool {
	key := t.Key()
	old := s.models[key]
	joined := old.Join(m)
	if joined.LessOrEqual(old) && old.LessOrEqual(joined) {
		return false
	}
	s.visits[key]++
	s.models[key] = joined
	return true
}

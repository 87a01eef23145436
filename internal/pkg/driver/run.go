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
	"context"
	"fmt"

	"github.com/sentryflow/sentryflow/internal/pkg/callgraph"
	"github.com/sentryflow/sentryflow/internal/pkg/config"
	"github.com/sentryflow/sentryflow/internal/pkg/diagnostics"
	"github.com/sentryflow/sentryflow/internal/pkg/fixpoint"
	"github.com/sentryflow/sentryflow/internal/pkg/issue"
	"github.com/sentryflow/sentryflow/internal/pkg/model"
	"github.com/sentryflow/sentryflow/internal/pkg/taint"
)

// Options configures one end-to-end Run: everything cmd/sentryflow's
// flags translate into.
type Options struct {
	Dir            string
	Patterns       []string
	TaintConfig    *config.TaintConfig
	ModelFiles     []string
	VerifyModels   bool
	MaxEpochs      int
	Workers        int
	StructTagRules []config.FieldTagRule
}

// Result is everything a caller (cmd/sentryflow, or a test) needs after
// Run: the final issue list, the engine, the loaded program, and the call
// graph (read by -dump-callgraph).
type Result struct {
	Issues  []issue.Issue
	Engine  *fixpoint.Engine
	Program *Program
	Graph   *callgraph.Graph
}

// Run loads patterns, seeds a model store, runs the interprocedural
// fixpoint, and collects+filters issues — the whole pipeline this module §2
// describes end to end. The caller owns deciding what to do with
// Result.Issues (write JSON, set an exit code); Run itself never calls
// os.Exit, so it stays testable.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.TaintConfig == nil {
		return nil, &ConfigError{Err: fmt.Errorf("no taint config supplied")}
	}

	prog, err := Load(opts.Dir, opts.Patterns)
	if err != nil {
		return nil, fmt.Errorf("loading program: %w", err)
	}

	rules, combined := issue.RulesFromConfig(opts.TaintConfig)

	graphOpts := callgraph.Options{
		MaxOverridesToAnalyze: opts.TaintConfig.AnalysisModelConstraints.MaximumOverridesToAnalyze,
	}
	g, diags := callgraph.Build(prog.SSA, graphOpts)
	for _, d := range diags {
		diagnostics.Infof("callgraph: %s", d.Message)
	}

	store := fixpoint.NewStore()
	if _, err := LoadModelFiles(store, prog, opts.ModelFiles, opts.VerifyModels); err != nil {
		return nil, &ModelValidationError{Err: err}
	}
	SeedStdlib(store, g)
	SeedFieldTagSources(store, prog, structTagRulesFromConfig(opts.StructTagRules))

	entries := TargetsForFunctions(prog.MainFunctions())
	if len(entries) == 0 {
		entries = TargetsForFunctions(prog.ExportedFunctions())
	}

	sinkKinds := make([]taint.Kind, len(opts.TaintConfig.Sinks))
	for i, nk := range opts.TaintConfig.Sinks {
		sinkKinds[i] = taint.NewKind(nk.Name)
	}

	engine := fixpoint.NewEngine(g, store, fixpoint.Options{
		Entries:   entries,
		MaxEpochs: opts.MaxEpochs,
		SinkKinds: sinkKinds,
	})

	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	if err := engine.RunParallel(ctx, workers); err != nil {
		return nil, &NonConvergenceError{Err: err}
	}

	suppressed := BuildSuppressionIndex(prog)
	issues := engine.CollectIssuesWithSuppression(rules, combined, AttachCallNodes(prog))
	issues = issue.FilterSuppressed(issues, suppressed)

	return &Result{Issues: issues, Engine: engine, Program: prog, Graph: g}, nil
}

// structTagRulesFromConfig adapts the user-facing config.FieldTagRule
// list (see cmd/sentryflow's flag wiring) into model.StructTagRule
// values keyed by this module's taint.Kind vocabulary.
func structTagRulesFromConfig(rules []config.FieldTagRule) []model.StructTagRule {
	out := make([]model.StructTagRule, len(rules))
	for i, r := range rules {
		out[i] = model.StructTagRule{Key: r.Key, Value: r.Value, Kind: taint.NewKind(r.Kind)}
	}
	return out
}

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
	"github.com/sentryflow/sentryflow/internal/pkg/accesspath"
	"github.com/sentryflow/sentryflow/internal/pkg/forward"
	"github.com/sentryflow/sentryflow/internal/pkg/issue"
	"github.com/sentryflow/sentryflow/internal/pkg/taint"
)

// CollectIssues re-walks every reachable callable one final time, now
// that Run/RunParallel has driven the model store to a fixpoint, and
// runs C8's source-to-sink matching at each call site it finds (this module
// §4.8). It must run after the store has converged: issue detection
// reads each call's resolved callee model (the same resolveTarget seam
// C6/C7 use during the fixpoint itself), so an issue reported here
// reflects the final, not an intermediate, model.
//
// At each call instruction the forward "argument taint" (this module §4.7's
// "forward-taint of the argument ... at that program point",
// forward.Result.CallArgTaint) is paired against the resolved callee's
// BackwardSinkTaint (this module §4.8's "backward tree", stamped with this
// call's own provenance by Model.ApplyAtCallSite so the resulting
// Issue's Callees/trace reflect the call, not just the callee's own
// body). Both sides are keyed by accesspath.Parameter(i), the same
// positional root forward's CallArgTaint and a model's BackwardSinkTaint
// already share.
func (e *Engine) CollectIssues(rules []issue.Rule, combined []issue.CombinedRule) []issue.Issue {
	reached := e.graph.ReachableFromEntries(e.opts.Entries)

	var issues []issue.Issue
	for _, t := range e.graph.Nodes() {
		if !reached[t.Key()] {
			continue
		}
		fn, ok := e.graph.Func(t)
		if !ok || fn == nil || len(fn.Blocks) == 0 {
			continue
		}

		fwdObscure := forward.ObscurePolicy{SinkKinds: e.opts.SinkKinds, SourceAtResult: e.opts.SourceAtResult}
		res := forward.AnalyzeFunction(fn, taint.Environment{}, forwardResolver{e}, fwdObscure)

		for instr, argTaints := range res.CallArgTaint {
			callee, numParams, ok := e.resolveTarget(instr)
			if !ok || callee.BackwardSinkTaint.IsBottom() {
				continue
			}

			var fwdEnv taint.Environment
			for i, tr := range argTaints {
				if i >= numParams {
					break
				}
				fwdEnv = fwdEnv.With(accesspath.Parameter(i), tr)
			}

			found := issue.DetectAtCallSite(instr.Common().Pos(), fn.Pos(), fwdEnv, callee.BackwardSinkTaint, rules, combined)
			issues = append(issues, found...)
		}
	}

	return issue.Dedup(issues)
}

// CollectIssuesWithSuppression is CollectIssues with each found issue's
// CallNode filled in by attachCallNode, which maps the issue's call
// location to the *ast.CallExpr it came from (built by the driver from
// the parsed source files, since SSA instructions carry a token.Pos but
// not the originating AST node). It does not filter anything itself;
// issue.FilterSuppressed, run by the driver on its result, drops issues
// whose call carries a `// sentryflow.DoNotReport` comment.
func (e *Engine) CollectIssuesWithSuppression(rules []issue.Rule, combined []issue.CombinedRule, attachCallNode func(*issue.Issue)) []issue.Issue {
	issues := e.CollectIssues(rules, combined)
	if attachCallNode == nil {
		return issues
	}
	for i := range issues {
		attachCallNode(&issues[i])
	}
	return issues
}

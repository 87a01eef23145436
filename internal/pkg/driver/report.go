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
	"go/ast"
	"go/token"

	"golang.org/x/tools/go/ssa"

	"github.com/sentryflow/sentryflow/internal/pkg/callgraph"
	"github.com/sentryflow/sentryflow/internal/pkg/issue"
	"github.com/sentryflow/sentryflow/internal/pkg/suppression"
)

// BuildSuppressionIndex gathers every suppression comment
// (`sentryflow.DoNotReport`) across prog's own first-party packages,
// using suppression.Build directly rather than running
// suppression.Analyzer through go/analysis.Pass (this module §4 "Suppression
// comments"; wired into C8 as a post-detection filter).
func BuildSuppressionIndex(prog *Program) suppression.ResultType {
	result := make(suppression.ResultType)
	for _, pkg := range prog.Pkgs {
		if len(pkg.Syntax) == 0 {
			continue
		}
		for node, ok := range suppression.Build(prog.Fset, pkg.Syntax) {
			if ok {
				result[node] = true
			}
		}
	}
	return result
}

// buildCallNodeIndex maps every call expression's position to its own
// AST node, so an issue.Issue recorded against an SSA call instruction's
// token.Pos (which ssa preserves from the originating ast.CallExpr) can
// be paired back with the node suppression.ResultType is keyed by.
func buildCallNodeIndex(prog *Program) map[token.Pos]ast.Node {
	idx := make(map[token.Pos]ast.Node)
	for _, pkg := range prog.Pkgs {
		for _, f := range pkg.Syntax {
			ast.Inspect(f, func(n ast.Node) bool {
				if call, ok := n.(*ast.CallExpr); ok {
					idx[call.Pos()] = call
				}
				return true
			})
		}
	}
	return idx
}

// AttachCallNodes returns a callback suitable for
// fixpoint.Engine.CollectIssuesWithSuppression that fills in each
// issue's CallNode from prog's AST, so FilterSuppressed can consult
// suppressed.
func AttachCallNodes(prog *Program) func(*issue.Issue) {
	idx := buildCallNodeIndex(prog)
	return func(is *issue.Issue) {
		is.CallNode = idx[is.Location]
	}
}

// TargetsForFunctions converts SSA functions (e.g. Program.MainFunctions
// or Program.ExportedFunctions) to callgraph.Target values naming the
// fixpoint's entry set.
func TargetsForFunctions(fns []*ssa.Function) []callgraph.Target {
	out := make([]callgraph.Target, 0, len(fns))
	for _, fn := range fns {
		out = append(out, callgraph.TargetForFunc(fn))
	}
	return out
}

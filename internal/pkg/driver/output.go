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
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/sentryflow/sentryflow/internal/pkg/issue"
)

// IssueJSON is the on-disk shape for one reported issue (this module §6's
// "Issue output (JSON)"). sink_handle is recorded as a compact
// {kind, callee} pair rather than the full {kind, callee, index,
// parameter} a fuller record would carry: issue.Issue does not retain the per-root
// access-path index that produced a candidate past DetectAtCallSite's
// rule partitioning, so Index/Parameter are omitted rather than
// fabricated.
type IssueJSON struct {
	Callable     string     `json:"callable"`
	CallableLine int        `json:"callable_line"`
	Code         int        `json:"code"`
	Line         int        `json:"line"`
	Start        int        `json:"start"`
	End          int        `json:"end"`
	Filename     string     `json:"filename"`
	Message      string     `json:"message"`
	Traces       []Trace    `json:"traces"`
	Features     []string   `json:"features"`
	SinkHandle   SinkHandle `json:"sink_handle"`
	MasterHandle string     `json:"master_handle"`
}

// Trace is one named flow direction's recorded callee chain (this module
// §6's `traces: [{name, roots}]`).
type Trace struct {
	Name  string   `json:"name"`
	Roots []string `json:"roots"`
}

// SinkHandle identifies which sink kind and callee the issue's sink side
// matched.
type SinkHandle struct {
	Kind   string `json:"kind"`
	Callee string `json:"callee"`
}

// functionsByPos indexes every SSA function's declaration position, so
// an issue.Issue's DefineLocation (the enclosing callable's fn.Pos())
// can be mapped back to a display name and source line.
func functionsByPos(prog *Program) map[int]*ssa.Function {
	idx := make(map[int]*ssa.Function)
	for fn := range ssautil.AllFunctions(prog.SSA) {
		if fn.Synthetic == "" {
			idx[int(fn.Pos())] = fn
		}
	}
	return idx
}

// FormatIssues renders issues into the §6 JSON shape, resolving source
// positions via prog's file set.
func FormatIssues(prog *Program, issues []issue.Issue) []IssueJSON {
	byPos := functionsByPos(prog)

	out := make([]IssueJSON, 0, len(issues))
	for _, is := range issues {
		pos := prog.Fset.Position(is.Location)
		callable := "<unknown>"
		callableLine := 0
		if fn, ok := byPos[int(is.DefineLocation)]; ok {
			callable = fn.RelString(nil)
			callableLine = prog.Fset.Position(fn.Pos()).Line
		}

		features := simpleFeatureNames(is)

		sinkKind, sinkCallee := "", ""
		if kinds := is.SinkTaint.Kinds(); len(kinds) > 0 {
			sinkKind = kinds[0].Name()
		}
		if len(is.Callees) > 0 {
			sinkCallee = is.Callees[0]
		}
		sinkHandleStr := fmt.Sprintf("%s@%s", sinkKind, sinkCallee)

		out = append(out, IssueJSON{
			Callable:     callable,
			CallableLine: callableLine,
			Code:         is.Code,
			Line:         pos.Line,
			Start:        pos.Column,
			End:          pos.Column,
			Filename:     pos.Filename,
			Message:      is.Message,
			Traces: []Trace{
				{Name: "forward", Roots: is.Callees},
				{Name: "backward", Roots: is.Callees},
			},
			Features:     features,
			SinkHandle:   SinkHandle{Kind: sinkKind, Callee: sinkCallee},
			MasterHandle: issue.MasterHandle(callable, is.Code, sinkHandleStr, is.Message),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Filename != out[j].Filename {
			return out[i].Filename < out[j].Filename
		}
		if out[i].Line != out[j].Line {
			return out[i].Line < out[j].Line
		}
		return out[i].MasterHandle < out[j].MasterHandle
	})
	return out
}

func simpleFeatureNames(is issue.Issue) []string {
	var names []string
	seen := make(map[string]bool)
	for _, k := range is.SourceTaint.Kinds() {
		for _, entry := range is.SourceTaint.Get(k).Simple.List() {
			if !seen[entry.Feature.Name] {
				seen[entry.Feature.Name] = true
				names = append(names, entry.Feature.Name)
			}
		}
	}
	sort.Strings(names)
	return names
}

// WriteIssuesJSON writes one JSON array of IssueJSON to w.
func WriteIssuesJSON(w io.Writer, issues []IssueJSON) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(issues)
}

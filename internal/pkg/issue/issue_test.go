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

package issue

import (
	"go/ast"
	"testing"

	"github.com/sentryflow/sentryflow/internal/pkg/accesspath"
	"github.com/sentryflow/sentryflow/internal/pkg/suppression"
	"github.com/sentryflow/sentryflow/internal/pkg/taint"
)

var (
	userControlled = taint.NewKind("UserControlled")
	sqlSink        = taint.NewKind("SQL")
	userInput      = taint.NewKind("UserInput")
	permissive     = taint.NewKind("PermissiveContext")
)

func sourceTree(k taint.Kind) taint.Tree { return taint.Leaf(taint.Singleton(k)) }
func sinkTree(k taint.Kind) taint.Tree   { return taint.Leaf(taint.Singleton(k)) }

func TestDetectAtCallSiteFindsOrdinaryRuleMatch(t *testing.T) {
	forward := taint.Environment{}.With(accesspath.Parameter(0), sourceTree(userControlled))
	backward := taint.Environment{}.With(accesspath.Parameter(0), sinkTree(sqlSink))

	rules := []Rule{{Code: 1, Name: "sql-injection", Sources: []taint.Kind{userControlled}, Sinks: []taint.Kind{sqlSink}}}

	got := DetectAtCallSite(1, 0, forward, backward, rules, nil)
	if len(got) != 1 {
		t.Fatalf("expected one issue, got %d: %+v", len(got), got)
	}
	if got[0].Code != 1 {
		t.Errorf("expected issue code 1, got %d", got[0].Code)
	}
}

func TestDetectAtCallSiteSkipsMismatchedKinds(t *testing.T) {
	forward := taint.Environment{}.With(accesspath.Parameter(0), sourceTree(taint.NewKind("Irrelevant")))
	backward := taint.Environment{}.With(accesspath.Parameter(0), sinkTree(sqlSink))

	rules := []Rule{{Code: 1, Sources: []taint.Kind{userControlled}, Sinks: []taint.Kind{sqlSink}}}

	got := DetectAtCallSite(1, 0, forward, backward, rules, nil)
	if len(got) != 0 {
		t.Fatalf("expected no issues for an unrelated source kind, got %d", len(got))
	}
}

func TestDetectAtCallSiteCombinedRuleRequiresBothParts(t *testing.T) {
	pA, pB := taint.NewKind("$partial_sink:5:A"), taint.NewKind("$partial_sink:5:B")

	forward := taint.Environment{}.
		With(accesspath.Parameter(0), sourceTree(userInput)).
		With(accesspath.Parameter(1), sourceTree(permissive))
	backward := taint.Environment{}.
		With(accesspath.Parameter(0), sinkTree(pA)).
		With(accesspath.Parameter(1), sinkTree(pB))

	combined := []CombinedRule{{
		Code: 5,
		Parts: []PartialSinkSpec{
			{Sources: []taint.Kind{userInput}, PartialSink: pA},
			{Sources: []taint.Kind{permissive}, PartialSink: pB},
		},
	}}

	got := DetectAtCallSite(1, 0, forward, backward, nil, combined)
	if len(got) != 1 {
		t.Fatalf("expected exactly one combined issue, got %d: %+v", len(got), got)
	}
	if got[0].Code != 5 {
		t.Errorf("expected combined issue code 5, got %d", got[0].Code)
	}
}

func TestDetectAtCallSiteCombinedRuleRequiresBothPartsMissingOne(t *testing.T) {
	pA, pB := taint.NewKind("$partial_sink:5:A"), taint.NewKind("$partial_sink:5:B")

	forward := taint.Environment{}.With(accesspath.Parameter(0), sourceTree(userInput))
	backward := taint.Environment{}.With(accesspath.Parameter(0), sinkTree(pA))

	combined := []CombinedRule{{
		Code: 5,
		Parts: []PartialSinkSpec{
			{Sources: []taint.Kind{userInput}, PartialSink: pA},
			{Sources: []taint.Kind{permissive}, PartialSink: pB},
		},
	}}

	got := DetectAtCallSite(1, 0, forward, backward, nil, combined)
	if len(got) != 0 {
		t.Fatalf("expected no combined issue with only one part satisfied, got %d", len(got))
	}
}

func TestDedupCollapsesSameCodeLocationAndCallees(t *testing.T) {
	issues := []Issue{
		{Code: 1, Location: 10, Callees: []string{"pkg.f"}},
		{Code: 1, Location: 10, Callees: []string{"pkg.f"}},
		{Code: 1, Location: 11, Callees: []string{"pkg.f"}},
	}
	got := Dedup(issues)
	if len(got) != 2 {
		t.Fatalf("expected 2 deduplicated issues, got %d", len(got))
	}
}

func TestFilterSuppressedDropsMarkedCallNode(t *testing.T) {
	suppressedCall := &ast.CallExpr{}
	otherCall := &ast.CallExpr{}
	suppressed := suppression.ResultType{suppressedCall: true}

	issues := []Issue{
		{Code: 1, CallNode: suppressedCall},
		{Code: 2, CallNode: otherCall},
		{Code: 3, CallNode: nil},
	}

	got := FilterSuppressed(issues, suppressed)
	if len(got) != 2 {
		t.Fatalf("expected 2 issues to survive suppression, got %d", len(got))
	}
	for _, is := range got {
		if is.Code == 1 {
			t.Errorf("expected the suppressed issue to be filtered out")
		}
	}
}

func TestMasterHandleIsStableAndDistinguishesInputs(t *testing.T) {
	h1 := MasterHandle("pkg.F", 1, "sink-handle", "digest-a")
	h2 := MasterHandle("pkg.F", 1, "sink-handle", "digest-a")
	h3 := MasterHandle("pkg.F", 1, "sink-handle", "digest-b")

	if h1 != h2 {
		t.Errorf("expected MasterHandle to be deterministic, got %q vs %q", h1, h2)
	}
	if h1 == h3 {
		t.Errorf("expected a different content digest to change the handle")
	}
}

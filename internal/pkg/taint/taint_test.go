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

package taint

import (
	"testing"

	"github.com/sentryflow/sentryflow/internal/pkg/accesspath"
)

func TestSingletonContainsKind(t *testing.T) {
	k := NewKind("UserControlled")
	m := Singleton(k)

	if !m.Has(k) {
		t.Errorf("Singleton(%v) does not contain %v", k, k)
	}
	other := NewKind("Cookies")
	if m.Has(other) {
		t.Errorf("Singleton(%v) unexpectedly contains %v", k, other)
	}
}

func TestReadEmptyPathIsCollapse(t *testing.T) {
	k1, k2 := NewKind("A"), NewKind("B")
	tree := Tree{}
	tree = Assign(accesspath.Path{accesspath.Field("x")}, Leaf(Singleton(k1)), tree)
	tree = Assign(accesspath.Path{accesspath.Field("y")}, Leaf(Singleton(k2)), tree)

	gotRead := Read(nil, tree)
	gotCollapse := Collapse(tree)

	if !Collapse(gotRead).LessOrEqual(gotCollapse) || !gotCollapse.LessOrEqual(Collapse(gotRead)) {
		t.Errorf("read([]) and collapse() disagree: %v vs %v", gotRead, gotCollapse)
	}
}

func TestReadPrefixMonotone(t *testing.T) {
	k := NewKind("A")
	tree := Assign(accesspath.Path{accesspath.Field("x"), accesspath.Index(0)}, Leaf(Singleton(k)), Tree{})

	deep := Read(accesspath.Path{accesspath.Field("x"), accesspath.Index(0)}, tree)
	shallow := Read(accesspath.Path{accesspath.Field("x")}, tree)

	if !deep.LessOrEqual(shallow) {
		t.Errorf("read(p ++ q) = %v is not <= read(p) = %v", deep, shallow)
	}
}

func TestJoinLattice(t *testing.T) {
	k1, k2 := NewKind("A"), NewKind("B")
	a := Leaf(Singleton(k1))
	b := Leaf(Singleton(k2))

	if !a.IsBottom() == false && (Tree{}).IsBottom() == false {
		t.Fatalf("bottom tree reported non-bottom")
	}
	if !(Tree{}).IsBottom() {
		t.Errorf("empty Tree should be bottom")
	}

	joined := a.Join(b)
	if !a.LessOrEqual(joined) {
		t.Errorf("a should be <= join(a,b)")
	}
	if !b.LessOrEqual(joined) {
		t.Errorf("b should be <= join(a,b)")
	}
}

func TestWidenAboveJoin(t *testing.T) {
	k := NewKind("A")
	a := Assign(accesspath.Path{accesspath.Field("x")}, Leaf(Singleton(k)), Tree{})
	b := Assign(accesspath.Path{accesspath.Field("y")}, Leaf(Singleton(k)), Tree{})

	joined := a.Join(b)
	widened := a.Widen(b)

	if !joined.LessOrEqual(widened) {
		t.Errorf("join(a,b) should be <= widen(a,b)")
	}
}

func TestWidenCapsDepth(t *testing.T) {
	k := NewKind("A")
	path := accesspath.Path{}
	for i := 0; i < MaxTreeDepth+3; i++ {
		path = append(path, accesspath.Index(i))
	}
	deep := Assign(path, Leaf(Singleton(k)), Tree{})

	widened := deep.Widen(Tree{})
	if widened.Depth() > MaxTreeDepth {
		t.Errorf("widened tree depth %d exceeds cap %d", widened.Depth(), MaxTreeDepth)
	}

	// The deep tip's taint must survive, collapsed upward into the tip at
	// the cap.
	if Collapse(widened).IsBottom() {
		t.Errorf("widening must not lose taint, only relocate it")
	}
}

func TestApplyCallLengthIncrement(t *testing.T) {
	d := SingletonDetails()
	callees := []CalleeRef{{Key: "pkg.f"}}

	d1 := d.ApplyCall(0, callees, []string{"f"}, accesspath.Root{}, nil)
	if len(d1.Traces.List()) != 1 || d1.Traces.List()[0].Kind != TraceOrigin {
		t.Fatalf("Declaration should become Origin after one ApplyCall, got %+v", d1.Traces.List())
	}

	d2 := d1.ApplyCall(1, callees, []string{"g"}, accesspath.Root{}, nil)
	traces2 := d2.Traces.List()
	if len(traces2) != 1 || traces2[0].Kind != TraceCallSite || traces2[0].Length != 1 {
		t.Fatalf("Origin should become CallSite{length=1}, got %+v", traces2)
	}

	d3 := d2.ApplyCall(2, callees, []string{"h"}, accesspath.Root{}, nil)
	traces3 := d3.Traces.List()
	if len(traces3) != 1 || traces3[0].Length != 2 {
		t.Fatalf("CallSite{length=n} should become length=n+1, got %+v", traces3)
	}
}

func TestApplyCallLengthCapped(t *testing.T) {
	d := FlowDetails{Traces: NewTraceInfoSet(TraceInfo{Kind: TraceCallSite, Length: MaxCallSiteLength})}
	d2 := d.ApplyCall(0, nil, nil, accesspath.Root{}, nil)
	got := d2.Traces.List()[0].Length
	if got != MaxCallSiteLength {
		t.Errorf("length should be capped at %d, got %d", MaxCallSiteLength, got)
	}
}

func TestBottomJoinIsBottom(t *testing.T) {
	if !(Tree{}).Join(Tree{}).IsBottom() {
		t.Errorf("bottom join bottom should be bottom")
	}
}

func TestIgnoreLeafAtCall(t *testing.T) {
	if !IgnoreLeafAtCall(LocalReturn) {
		t.Errorf("LocalReturn must be ignored as a leaf")
	}
	if !IgnoreLeafAtCall(ParameterUpdate(0)) {
		t.Errorf("ParameterUpdate must be ignored as a leaf")
	}
	if IgnoreLeafAtCall(NewKind("SQL")) {
		t.Errorf("an ordinary sink kind must not be ignored as a leaf")
	}
}

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

package callgraph

import "testing"

func TestTargetKeyDistinguishesKinds(t *testing.T) {
	fn := Function("pkg", "F")
	meth := Method("pkg", "T", "F")
	ov := Override("pkg", "T", "F")
	obj := Object("pkg", "V")

	keys := map[string]bool{fn.Key(): true, meth.Key(): true, ov.Key(): true, obj.Key(): true}
	if len(keys) != 4 {
		t.Errorf("expected 4 distinct keys, got %d: %v", len(keys), keys)
	}
}

func TestReachableFromEntries(t *testing.T) {
	g := newGraph()
	a, b, c, d := Function("p", "A"), Function("p", "B"), Function("p", "C"), Function("p", "D")
	for _, tg := range []Target{a, b, c, d} {
		g.nodes[tg.Key()] = tg
	}
	g.addCallEdge(a.Key(), b.Key())
	g.addCallEdge(b.Key(), c.Key())

	reached := g.ReachableFromEntries([]Target{a})
	if !reached[a.Key()] || !reached[b.Key()] || !reached[c.Key()] {
		t.Errorf("expected a, b, c reachable, got %v", reached)
	}
	if reached[d.Key()] {
		t.Errorf("d should not be reachable")
	}
}

func TestModuleRootMatching(t *testing.T) {
	goMod := []byte("module github.com/sentryflow/sentryflow\n\ngo 1.21\n")
	root, err := ModuleRoot(goMod)
	if err != nil {
		t.Fatalf("ModuleRoot: %v", err)
	}
	if root != "github.com/sentryflow/sentryflow" {
		t.Errorf("got %q", root)
	}
	if !InModule(root, "github.com/sentryflow/sentryflow/internal/pkg/taint") {
		t.Errorf("subpackage should be in module")
	}
	if InModule(root, "golang.org/x/tools/go/ssa") {
		t.Errorf("third-party package should not be in module")
	}
}

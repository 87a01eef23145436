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

import "sort"

// detectSCCs finds the strongly-connected components of the dependency
// graph restricted to reached, via Tarjan's algorithm — grounded on
// 1homsi-gorisk/internal/interproc/scc.go's DetectSCCs, adapted from that
// package's index-based node IDs to this package's string target keys.
// Only components of size greater than one, or a single node with a
// self-edge (direct recursion), are reported in the returned maps; an
// ordinary acyclic node is absent from both and is driven through the
// fixpoint's pending set exactly like any other target.
func detectSCCs(reached map[string]bool, deps map[string][]string) (map[string]int, map[int][]string) {
	t := &tarjan{
		deps:    deps,
		index:   make(map[string]int),
		lowlink: make(map[string]int),
		onStack: make(map[string]bool),
	}

	keys := make([]string, 0, len(reached))
	for k := range reached {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if _, visited := t.index[k]; !visited {
			t.strongConnect(k)
		}
	}

	sccOf := make(map[string]int)
	members := make(map[int][]string)
	id := 0
	for _, comp := range t.components {
		hasSelfLoop := len(comp) == 1 && containsEdge(deps, comp[0], comp[0])
		if len(comp) < 2 && !hasSelfLoop {
			continue
		}
		sort.Strings(comp)
		for _, k := range comp {
			sccOf[k] = id
		}
		members[id] = comp
		id++
	}
	return sccOf, members
}

func containsEdge(deps map[string][]string, from, to string) bool {
	for _, d := range deps[from] {
		if d == to {
			return true
		}
	}
	return false
}

type tarjan struct {
	deps       map[string][]string
	index      map[string]int
	lowlink    map[string]int
	onStack    map[string]bool
	stack      []string
	counter    int
	components [][]string
}

func (t *tarjan) strongConnect(v string) {
	t.index[v] = t.counter
	t.lowlink[v] = t.counter
	t.counter++
	t.stack = append(t.stack, v)
	t.onStack[v] = true

	for _, w := range t.deps[v] {
		if _, visited := t.index[w]; !visited {
			t.strongConnect(w)
			if t.lowlink[w] < t.lowlink[v] {
				t.lowlink[v] = t.lowlink[w]
			}
		} else if t.onStack[w] {
			if t.index[w] < t.lowlink[v] {
				t.lowlink[v] = t.index[w]
			}
		}
	}

	if t.lowlink[v] == t.index[v] {
		var comp []string
		for {
			n := len(t.stack) - 1
			w := t.stack[n]
			t.stack = t.stack[:n]
			t.onStack[w] = false
			comp = append(comp, w)
			if w == v {
				break
			}
		}
		t.components = append(t.components, comp)
	}
}

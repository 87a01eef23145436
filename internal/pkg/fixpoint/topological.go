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

// reverseTopological orders reached targets leaves-first: a target with
// no dependency left in the set comes before anything that depends on
// it, so seeding the pending set in this order lets the very first pass
// over it resolve as many callees' models as possible before their
// callers are (re)computed. Grounded on
// 1homsi-gorisk/internal/interproc/topological.go's TopologicalSort, a
// DFS post-order walk; a cycle through an as-yet-unvisited ancestor
// simply stops the recursion there; the special handling mutual
// recursion actually needs is done by detectSCCs and the fixpoint's SCC
// branch, not by this ordering.
func reverseTopological(reached map[string]bool, deps map[string][]string) []string {
	visited := make(map[string]bool, len(reached))
	onPath := make(map[string]bool, len(reached))
	var order []string

	keys := make([]string, 0, len(reached))
	for k := range reached {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var visit func(string)
	visit = func(v string) {
		if visited[v] || onPath[v] {
			return
		}
		onPath[v] = true
		for _, w := range deps[v] {
			if reached[w] {
				visit(w)
			}
		}
		onPath[v] = false
		visited[v] = true
		order = append(order, v)
	}

	for _, k := range keys {
		visit(k)
	}
	return order
}

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
	"sort"

	"github.com/sentryflow/sentryflow/internal/pkg/accesspath"
	"github.com/sentryflow/sentryflow/internal/pkg/kernel"
)

// Environment is a finite map from Root to Tree: the forward state
// (sources reaching each program point) or the backward state (sinks
// reachable from each parameter), depending on which analysis produced
// it (this module §3).
type Environment struct {
	roots map[accesspath.Root]Tree
}

var _ kernel.Lattice[Environment] = Environment{}

// Bottom returns the empty environment.
func (Environment) Bottom() Environment { return Environment{} }

// IsBottom reports whether every root maps to a bottom tree.
func (e Environment) IsBottom() bool {
	for _, t := range e.roots {
		if !t.IsBottom() {
			return false
		}
	}
	return true
}

// At returns the tree stored at root, or bottom if absent.
func (e Environment) At(root accesspath.Root) Tree {
	return e.roots[root]
}

// With returns a copy of e with root's tree joined with subtree.
func (e Environment) With(root accesspath.Root, subtree Tree) Environment {
	out := Environment{roots: make(map[accesspath.Root]Tree, len(e.roots)+1)}
	for r, t := range e.roots {
		out.roots[r] = t
	}
	if existing, ok := out.roots[root]; ok {
		subtree = existing.Join(subtree)
	}
	if !subtree.IsBottom() {
		out.roots[root] = subtree
	}
	return out
}

// WithAt returns a copy of e with subtree joined in at root's tree
// beneath path.
func (e Environment) WithAt(root accesspath.Root, path accesspath.Path, subtree Tree) Environment {
	current := e.roots[root]
	return e.With(root, Assign(path, subtree, current))
}

// ReadAt reads the tree at root, beneath path.
func (e Environment) ReadAt(root accesspath.Root, path accesspath.Path) Tree {
	return Read(path, e.roots[root])
}

// Join computes the root-wise join of e and other.
func (e Environment) Join(other Environment) Environment {
	out := Environment{roots: make(map[accesspath.Root]Tree, len(e.roots)+len(other.roots))}
	for r, t := range e.roots {
		out.roots[r] = t
	}
	for r, t := range other.roots {
		if existing, ok := out.roots[r]; ok {
			out.roots[r] = existing.Join(t)
		} else {
			out.roots[r] = t
		}
	}
	return out
}

// Widen widens each root's tree independently.
func (e Environment) Widen(other Environment) Environment {
	out := Environment{roots: make(map[accesspath.Root]Tree, len(e.roots)+len(other.roots))}
	for r, t := range e.roots {
		out.roots[r] = t
	}
	for r, t := range other.roots {
		if existing, ok := out.roots[r]; ok {
			out.roots[r] = existing.Widen(t)
		} else {
			out.roots[r] = t
		}
	}
	return out
}

// LessOrEqual reports whether every root's tree in e is LessOrEqual to
// the corresponding tree in other.
func (e Environment) LessOrEqual(other Environment) bool {
	for r, t := range e.roots {
		if !t.LessOrEqual(other.roots[r]) {
			return false
		}
	}
	return true
}

// Roots returns e's roots in deterministic order.
func (e Environment) Roots() []accesspath.Root {
	out := make([]accesspath.Root, 0, len(e.roots))
	for r := range e.roots {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Transform rewrites every tree in the environment via f.
func (e Environment) Transform(f func(accesspath.Root, Tree) Tree) Environment {
	out := Environment{roots: make(map[accesspath.Root]Tree, len(e.roots))}
	for r, t := range e.roots {
		nt := f(r, t)
		if !nt.IsBottom() {
			out.roots[r] = nt
		}
	}
	return out
}

// IgnoreLeafAtCall reports whether a kind must never appear as a leaf in
// reported issues: the two special internal sink kinds encode
// taint-in-taint-out bookkeeping, never user-visible findings on their
// own (this module §4.2).
func IgnoreLeafAtCall(k Kind) bool {
	if IsLocalReturn(k) {
		return true
	}
	_, ok := IsParameterUpdate(k)
	return ok
}

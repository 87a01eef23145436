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
	"github.com/sentryflow/sentryflow/internal/pkg/accesspath"
	"github.com/sentryflow/sentryflow/internal/pkg/kernel"
)

// MaxTreeDepth bounds a Tree's depth; widening folds anything deeper
// upward into the tip at depth MaxTreeDepth (this module §3, §9 open
// question on magic constants). K=4 as specified.
const MaxTreeDepth = 4

// Tree is a prefix tree keyed by access-path labels. Each node carries a
// TaintMap "tip" (the taint attached exactly at that node's path) and a
// map of children keyed by the next label. An empty subtree (nil Tree,
// bottom tip, no children) is bottom; the kernel's bottom-normalization
// invariant means such a subtree is never stored explicitly as a child.
type Tree struct {
	tip      TaintMap
	children map[accesspath.Label]*Tree
}

var _ kernel.Lattice[Tree] = Tree{}

// Bottom returns the empty tree.
func (Tree) Bottom() Tree { return Tree{} }

// IsBottom reports whether t has no tip and no non-bottom children.
func (t Tree) IsBottom() bool {
	if !t.tip.IsBottom() {
		return false
	}
	for _, c := range t.children {
		if c != nil && !c.IsBottom() {
			return false
		}
	}
	return true
}

// Leaf builds a one-node tree whose tip is m (no children).
func Leaf(m TaintMap) Tree {
	return Tree{tip: m}
}

// Assign returns a copy of the tree with subtree joined in at path.
// Per this module §3: assign(path, subtree, tree) followed by read(path, ·)
// must be ⊒ subtree; this implementation achieves that by joining rather
// than overwriting.
func Assign(path accesspath.Path, subtree Tree, tree Tree) Tree {
	if len(path) == 0 {
		return tree.Join(subtree)
	}

	label, rest := path[0], path[1:]
	out := tree.shallowCopy()
	child := out.childOrBottom(label)
	newChild := Assign(rest, subtree, child)
	out.setChild(label, newChild)
	return out
}

// Read returns the subtree rooted at path, satisfying this module §3's
// invariant read(path, tree) ⊑ read(prefix(path), tree): every ancestor's
// tip is accumulated into the result, since a taint recorded on a
// container (e.g. "this whole list is tainted") must be visible when
// reading any of its elements. LabelAnyField at a read step also
// matches a LabelPositionalField child in the tree (a concrete tip
// produced by a prior imprecise write collapses to match any concrete
// read), and conversely. A LabelNamedField child is matched only by an
// equal label.
func Read(path accesspath.Path, tree Tree) Tree {
	if len(path) == 0 {
		return tree
	}

	label, rest := path[0], path[1:]
	var matched Tree
	for childLabel, child := range tree.children {
		if child == nil {
			continue
		}
		if labelsCompatible(label, childLabel) {
			matched = matched.Join(Read(rest, *child))
		}
	}
	// Ancestor taint (this node's own tip) is visible at every descendant
	// read, per the prefix invariant.
	return Tree{tip: tree.tip}.Join(matched)
}

func labelsCompatible(readLabel, storedLabel accesspath.Label) bool {
	if readLabel.Equal(storedLabel) {
		return true
	}
	if readLabel.Kind == accesspath.LabelAnyField && storedLabel.Kind == accesspath.LabelPositionalField {
		return true
	}
	if storedLabel.Kind == accesspath.LabelAnyField && readLabel.Kind == accesspath.LabelPositionalField {
		return true
	}
	return false
}

// Collapse joins every tip in the tree (the node's own tip and every
// descendant's) into one TaintMap, per this module §8's use in issue
// detection ("forward.collapse(forward.read(p))") and §8's universal
// invariant "read([]) (t) = collapse(t)".
func Collapse(tree Tree) TaintMap {
	acc := tree.tip
	for _, c := range tree.children {
		if c == nil {
			continue
		}
		acc = acc.Join(Collapse(*c))
	}
	return acc
}

// FilterByLeaf collapses tree and keeps only kind's taint, per this module
// §4.2 "filter_by_leaf".
func FilterByLeaf(kind Kind, tree Tree) TaintMap {
	collapsed := Collapse(tree)
	return collapsed.Filter(func(k Kind) bool { return k == kind })
}

// Join computes the pointwise join of t and other: tips join, and
// children union with recursive join on overlapping labels.
func (t Tree) Join(other Tree) Tree {
	out := Tree{tip: t.tip.Join(other.tip)}
	if len(t.children) == 0 && len(other.children) == 0 {
		return out
	}
	out.children = make(map[accesspath.Label]*Tree, len(t.children)+len(other.children))
	for l, c := range t.children {
		out.children[l] = c
	}
	for l, c := range other.children {
		if existing, ok := out.children[l]; ok {
			joined := existing.Join(*c)
			out.children[l] = &joined
		} else {
			out.children[l] = c
		}
	}
	out.normalize()
	return out
}

// Widen joins t and other, then collapses any subtree deeper than
// MaxTreeDepth upward so the result has depth at most MaxTreeDepth
// (this module §3, §8 boundary behavior: "tips are exactly the joins of the
// collapsed subtrees").
func (t Tree) Widen(other Tree) Tree {
	joined := t.Join(other)
	return widenToDepth(joined, MaxTreeDepth)
}

func widenToDepth(t Tree, depth int) Tree {
	if depth <= 0 {
		return Leaf(Collapse(t))
	}
	if len(t.children) == 0 {
		return t
	}
	out := Tree{tip: t.tip, children: make(map[accesspath.Label]*Tree, len(t.children))}
	for l, c := range t.children {
		wc := widenToDepth(*c, depth-1)
		out.children[l] = &wc
	}
	out.normalize()
	return out
}

// LessOrEqual reports whether t's tip is LessOrEqual to other's tip and
// every child of t is LessOrEqual to other's child under the same label
// (bottom where other has none). The comparison is node by node, the
// order of Join; a tip of other at an ancestor is not taken into
// account.
func (t Tree) LessOrEqual(other Tree) bool {
	if !t.tip.LessOrEqual(other.tip) {
		return false
	}
	for l, c := range t.children {
		oc := other.childOrBottom(l)
		if !c.LessOrEqual(oc) {
			return false
		}
	}
	return true
}

func (t Tree) childOrBottom(l accesspath.Label) Tree {
	if t.children == nil {
		return Tree{}
	}
	if c, ok := t.children[l]; ok && c != nil {
		return *c
	}
	return Tree{}
}

func (t Tree) shallowCopy() Tree {
	out := Tree{tip: t.tip}
	if len(t.children) > 0 {
		out.children = make(map[accesspath.Label]*Tree, len(t.children))
		for l, c := range t.children {
			out.children[l] = c
		}
	}
	return out
}

func (t *Tree) setChild(l accesspath.Label, child Tree) {
	if child.IsBottom() {
		if t.children != nil {
			delete(t.children, l)
		}
		return
	}
	if t.children == nil {
		t.children = make(map[accesspath.Label]*Tree, 1)
	}
	t.children[l] = &child
}

// normalize drops any child that became bottom, preserving the kernel's
// bottom-normalization invariant.
func (t *Tree) normalize() {
	if t.children == nil {
		return
	}
	for l, c := range t.children {
		if c == nil || c.IsBottom() {
			delete(t.children, l)
		}
	}
	if len(t.children) == 0 {
		t.children = nil
	}
}

// Transform rewrites every tip in the tree via f.
func Transform(tree Tree, f func(TaintMap) TaintMap) Tree {
	out := Tree{tip: f(tree.tip)}
	for l, c := range tree.children {
		if c == nil {
			continue
		}
		nc := Transform(*c, f)
		out.setChild(l, nc)
	}
	return out
}

// Essential strips features irrelevant to a caller when summarizing a
// callee's effect: it caps every trace's CallSite.Length to
// MaxCallSiteLength (already enforced by ApplyCall, restated here for
// values constructed independently of a call, e.g. read off a model) and
// leaves tips otherwise unchanged (this module §4.2).
func Essential(tree Tree) Tree {
	return Transform(tree, func(m TaintMap) TaintMap {
		return m.Transform(func(k Kind, d FlowDetails) FlowDetails {
			d.Traces = d.Traces.Map(func(t TraceInfo) TraceInfo {
				if t.Kind == TraceCallSite && t.Length > MaxCallSiteLength {
					t.Length = MaxCallSiteLength
				}
				return t
			})
			return d
		})
	})
}

// Depth returns the tree's maximum depth (0 for a tip-only tree).
func (t Tree) Depth() int {
	max := 0
	for _, c := range t.children {
		if c == nil {
			continue
		}
		if d := c.Depth() + 1; d > max {
			max = d
		}
	}
	return max
}

// Walk visits every non-bottom tip in the tree along with the path it
// was found at, depth-first. Used by issue detection to walk a backward
// tree's paths (this module §4.8).
func Walk(tree Tree, visit func(path accesspath.Path, tip TaintMap)) {
	walk(tree, nil, visit)
}

func walk(t Tree, prefix accesspath.Path, visit func(accesspath.Path, TaintMap)) {
	if !t.tip.IsBottom() {
		visit(prefix, t.tip)
	}
	for l, c := range t.children {
		if c == nil {
			continue
		}
		walk(*c, prefix.Concat(l), visit)
	}
}

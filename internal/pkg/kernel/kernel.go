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

// Package kernel provides the generic abstract-domain algebra shared by
// every composite lattice in this analyzer: products, maps, sets, and
// trees built on top of an element lattice. It concentrates join, widen,
// less-or-equal, fold, transform, and partition in one place so that
// taint trees (package taint) don't redefine traversal for every shape
// they compose.
//
// The kernel is total: none of its functions return an error or panic on
// their own account. They take the projections a composite domain has
// already resolved from a Part, never a Part itself.
package kernel

// Lattice is the minimal algebra every abstract-domain element provides.
type Lattice[T any] interface {
	// Bottom returns the least element of the lattice.
	Bottom() T
	// IsBottom reports whether the receiver equals Bottom.
	IsBottom() bool
	// Join computes the least upper bound of the receiver and other.
	Join(other T) T
	// Widen computes an upper bound of the receiver and other that is
	// guaranteed to converge in finitely many applications.
	Widen(other T) T
	// LessOrEqual reports whether the receiver is below other in the
	// partial order.
	LessOrEqual(other T) bool
}

// Part names a projection into some substructure of a composite lattice
// element, e.g. "the tip of this tree node" or "the kind-indexed slot of
// this taint map". It is a closed, domain-specific tag: each composite
// domain defines its own Part values and knows how to project them.
type Part interface {
	// PartName returns a stable, human-readable identifier for the part,
	// used in diagnostics and as a map key when partitioning.
	PartName() string
}

// Folder visits each projection named by a Part, accumulating acc.
type Folder[E, A any] func(acc A, elem E) A

// Transformer rewrites each projection named by a Part.
type Transformer[E any] func(elem E) E

// Predicate classifies a projection for Partition.
type Predicate[E any, K comparable] func(elem E) K

// Fold visits every projection of element named by part, threading acc
// through f. Composite domains implement the actual projection walk;
// Fold itself only fixes the shape of that walk so every domain exposes
// the same three operations (Fold, Transform, Partition) via the same
// signatures, per this module's C1 "kernel" responsibility.
func Fold[E, A any](projections []E, f Folder[E, A], init A) A {
	acc := init
	for _, e := range projections {
		acc = f(acc, e)
	}
	return acc
}

// Transform applies f to every projection and returns the results in a
// new slice; projections itself is left unchanged. Bottom-normalization (dropping projections that became bottom)
// is the caller's responsibility, since only the caller's domain knows
// what "bottom" means for E.
func Transform[E any](projections []E, f Transformer[E]) []E {
	out := make([]E, len(projections))
	for i, e := range projections {
		out[i] = f(e)
	}
	return out
}

// Partition splits projections into groups keyed by f.
func Partition[E any, K comparable](projections []E, f Predicate[E, K]) map[K][]E {
	out := make(map[K][]E)
	for _, e := range projections {
		k := f(e)
		out[k] = append(out[k], e)
	}
	return out
}

// JoinAll folds Join across elems, starting from bot (the lattice's
// Bottom); with no elems it returns bot. It is the standard way
// composite domains join sets of sibling elements (e.g. all of a tree
// node's children) without hand-writing a loop at every call site.
func JoinAll[T Lattice[T]](bot T, elems ...T) T {
	acc := bot
	for _, e := range elems {
		acc = acc.Join(e)
	}
	return acc
}

// LessOrEqualAll reports whether every element of elems is LessOrEqual
// to upper bound bound.
func LessOrEqualAll[T Lattice[T]](bound T, elems ...T) bool {
	for _, e := range elems {
		if !e.LessOrEqual(bound) {
			return false
		}
	}
	return true
}

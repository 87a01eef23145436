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

package accesspath

import "strings"

// LabelKind distinguishes the four ways a path can step into a value.
type LabelKind int

const (
	// LabelPositionalField steps into the i-th positional element of a
	// tuple/list-like value, e.g. the ith-element of a returned list.
	LabelPositionalField LabelKind = iota
	// LabelNamedField steps into a named attribute or dict key known
	// statically.
	LabelNamedField
	// LabelAnyField is a wildcard: "any index" or "any attribute",
	// produced when a structurally-known index cannot be resolved, e.g.
	// `lst[i]` where i is not a literal.
	LabelAnyField
	// LabelDictionaryKeys steps into "the keys of this dict" as opposed
	// to its values; used for taint that is only attached to a
	// collection's keys.
	LabelDictionaryKeys
)

func (k LabelKind) String() string {
	switch k {
	case LabelPositionalField:
		return "positional-field"
	case LabelNamedField:
		return "named-field"
	case LabelAnyField:
		return "any-field"
	case LabelDictionaryKeys:
		return "dictionary-keys"
	default:
		return "unknown-label"
	}
}

// Label is one step of an access path.
type Label struct {
	Kind     LabelKind
	Index    int
	FieldName string
}

// Index constructs a positional-field label.
func Index(i int) Label { return Label{Kind: LabelPositionalField, Index: i} }

// Field constructs a named-field label.
func Field(name string) Label { return Label{Kind: LabelNamedField, FieldName: name} }

// AnyIndex is the wildcard index label.
var AnyIndex = Label{Kind: LabelAnyField}

// DictKeys is the dictionary-keys label.
var DictKeys = Label{Kind: LabelDictionaryKeys}

func (l Label) String() string {
	switch l.Kind {
	case LabelPositionalField:
		return "[" + itoa(l.Index) + "]"
	case LabelNamedField:
		return "." + l.FieldName
	case LabelAnyField:
		return "[any-index]"
	case LabelDictionaryKeys:
		return "[keys]"
	default:
		return "[?]"
	}
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var b []byte
	for i > 0 {
		b = append([]byte{byte('0' + i%10)}, b...)
		i /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}

// Equal reports whether l and other denote the same step. It is a strict
// structural comparison used for path-as-map-key purposes: LabelAnyField
// equals only another LabelAnyField, never a LabelPositionalField.
func (l Label) Equal(other Label) bool {
	return l == other
}

// Path is an ordered sequence of labels refining a Root.
type Path []Label

// Empty is the path with no labels, denoting the root itself.
var Empty = Path(nil)

// Concat returns a new path consisting of p followed by more.
func (p Path) Concat(more ...Label) Path {
	out := make(Path, 0, len(p)+len(more))
	out = append(out, p...)
	out = append(out, more...)
	return out
}

// IsPrefixOf reports whether p is a prefix of other.
func (p Path) IsPrefixOf(other Path) bool {
	if len(p) > len(other) {
		return false
	}
	for i, l := range p {
		if !l.Equal(other[i]) {
			return false
		}
	}
	return true
}

func (p Path) String() string {
	var b strings.Builder
	for _, l := range p {
		b.WriteString(l.String())
	}
	return b.String()
}

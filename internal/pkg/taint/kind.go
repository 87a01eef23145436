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

// Package taint implements the forward and backward taint domains: the
// lattice of taint trees keyed by access path, carrying trace metadata
// and features, as specified by this module's C2.
package taint

import "fmt"

// Kind is an opaque, totally-ordered identifier for a taint flavor.
// Source kinds (e.g. "UserControlled"), sink kinds (e.g. "SQL"), and the
// two special internal sink kinds (LocalReturn, ParameterUpdate) are all
// represented the same way; which namespace a Kind belongs to is a
// property of where it is used, not of the value itself.
type Kind struct {
	name string
}

// NewKind constructs a Kind from a user- or model-supplied name. Names
// are compared by Go string ordering, which is sufficient for the
// "totally ordered for deterministic traversal" requirement since two
// Kinds with the same name are the same Kind.
func NewKind(name string) Kind {
	return Kind{name: name}
}

// Name returns the kind's identifier as configured.
func (k Kind) Name() string { return k.name }

func (k Kind) String() string { return k.name }

// Less provides the total order over kinds.
func (k Kind) Less(other Kind) bool { return k.name < other.name }

// LocalReturn is the special internal sink kind that encodes
// taint-in-taint-out from a parameter to a callable's return value.
var LocalReturn = Kind{name: "$local_return"}

// ParameterUpdate returns the special internal sink kind that encodes
// taint-in-taint-out from one parameter to another parameter at index i.
func ParameterUpdate(i int) Kind {
	return Kind{name: fmt.Sprintf("$parameter_update:%d", i)}
}

// IsParameterUpdate reports whether k is a ParameterUpdate kind, and if
// so, which parameter index it targets.
func IsParameterUpdate(k Kind) (index int, ok bool) {
	var i int
	if n, err := fmt.Sscanf(k.name, "$parameter_update:%d", &i); err == nil && n == 1 {
		return i, true
	}
	return 0, false
}

// IsLocalReturn reports whether k is the LocalReturn kind.
func IsLocalReturn(k Kind) bool { return k == LocalReturn }

// PartialSink constructs the synthetic kind introduced by a
// combined-source rule: one half of a two-source match, distinguished by
// the rule's own label for that half (e.g. "A" / "B").
func PartialSink(ruleCode int, label string) Kind {
	return Kind{name: fmt.Sprintf("$partial_sink:%d:%s", ruleCode, label)}
}

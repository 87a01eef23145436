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

import (
	"testing"
)

func TestNormalizeParameters(t *testing.T) {
	params := []FormalParameter{
		{Name: "self"},
		{Name: "x"},
		{Name: "args", IsStarArgs: true},
		{Name: "kwargs", IsStarStar: true},
	}

	got := NormalizeParameters(params)
	if len(got) != 4 {
		t.Fatalf("got %d normalized parameters, want 4", len(got))
	}
	if got[0].Root != Parameter(0) {
		t.Errorf("self: got root %v, want %v", got[0].Root, Parameter(0))
	}
	if got[1].Root != Parameter(1) {
		t.Errorf("x: got root %v, want %v", got[1].Root, Parameter(1))
	}
	if !got[2].IsStarArgs {
		t.Errorf("args: expected IsStarArgs")
	}
	if !got[3].IsStarStar {
		t.Errorf("kwargs: expected IsStarStar")
	}
}

func TestMatchActualsToFormals_Positional(t *testing.T) {
	formals := NormalizeParameters([]FormalParameter{{Name: "a"}, {Name: "b"}})
	args := []Argument{{Position: 0}, {Position: 1}}

	got := MatchActualsToFormals(args, formals)
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	if len(got[0].Matches) != 1 || got[0].Matches[0].Root != Parameter(0) {
		t.Errorf("arg 0: got %+v, want bound to parameter 0", got[0].Matches)
	}
	if len(got[1].Matches) != 1 || got[1].Matches[0].Root != Parameter(1) {
		t.Errorf("arg 1: got %+v, want bound to parameter 1", got[1].Matches)
	}
}

func TestMatchActualsToFormals_Keyword(t *testing.T) {
	formals := NormalizeParameters([]FormalParameter{{Name: "a"}, {Name: "b"}})
	args := []Argument{{Keyword: "b"}}

	got := MatchActualsToFormals(args, formals)
	if len(got[0].Matches) != 1 || got[0].Matches[0].Root != Parameter(1) {
		t.Errorf("got %+v, want bound to parameter 1 (b)", got[0].Matches)
	}
}

func TestMatchActualsToFormals_StarUnpack(t *testing.T) {
	formals := NormalizeParameters([]FormalParameter{{Name: "a"}, {Name: "b"}})
	args := []Argument{{IsStarUnpack: true}}

	got := MatchActualsToFormals(args, formals)
	if len(got[0].Matches) != 2 {
		t.Fatalf("star-unpack should conservatively bind to every positional formal, got %d", len(got[0].Matches))
	}
}

func TestPathIsPrefixOf(t *testing.T) {
	p := Path{Field("x")}
	q := Path{Field("x"), Index(0)}

	if !p.IsPrefixOf(q) {
		t.Errorf("expected %v to be a prefix of %v", p, q)
	}
	if q.IsPrefixOf(p) {
		t.Errorf("did not expect %v to be a prefix of %v", q, p)
	}
}

func TestRootLess_TotalOrder(t *testing.T) {
	roots := []Root{LocalResult, Parameter(1), Parameter(0), NamedParameter("kw"), Local("x")}
	for i := range roots {
		for j := range roots {
			if i == j {
				continue
			}
			li, lj := roots[i].Less(roots[j]), roots[j].Less(roots[i])
			if li && lj {
				t.Fatalf("Less is not antisymmetric for %v, %v", roots[i], roots[j])
			}
		}
	}
}

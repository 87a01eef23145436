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

// Argument is the subset of a call-site actual argument that
// MatchActualsToFormals needs: its position in the call, and an optional
// keyword name if it was passed by name.
type Argument struct {
	Position int
	Keyword  string
	// IsStarUnpack marks an argument passed as `*xs`: it may bind to any
	// number of the callee's remaining positional/star-args formals.
	IsStarUnpack bool
	// IsStarStarUnpack marks an argument passed as `**kw`: it may bind to
	// any of the callee's named/star-star formals.
	IsStarStarUnpack bool
}

// ArgumentMatch records that an Argument binds to a formal Root.
type ArgumentMatch struct {
	Argument Argument
	Root     Root
}

// MatchActualsToFormals determines, for each call-site argument, which
// formal roots of the callee it can bind to. Order of the returned slice
// matches the order of args. Each argument is bound on its own, without
// regard to which formals earlier arguments took: a plain argument by its
// Position against the positional formals (falling back to the callee's
// star-args collector past the end), a keyword argument by name (falling
// back to the star-star collector); a star-args actual conservatively
// binds to every positional formal (including the callee's own star-args
// collector, if any) since its exact length is not known statically, and
// a star-star actual conservatively binds to every named formal
// (including the callee's own star-star collector).
func MatchActualsToFormals(args []Argument, formals []NormalizedParameter) []struct {
	Argument Argument
	Matches  []ArgumentMatch
} {
	var positional []NormalizedParameter
	var named []NormalizedParameter
	var starArgs *NormalizedParameter
	var starStar *NormalizedParameter
	for i := range formals {
		f := formals[i]
		switch {
		case f.IsStarArgs:
			starArgs = &formals[i]
		case f.IsStarStar:
			starStar = &formals[i]
		case f.Root.Kind == RootPositionalParameter:
			positional = append(positional, f)
		default:
			named = append(named, f)
		}
	}

	byName := make(map[string]NormalizedParameter, len(named)+len(positional))
	for _, f := range named {
		byName[f.QualifiedName] = f
	}
	for _, f := range positional {
		byName[f.QualifiedName] = f
	}

	results := make([]struct {
		Argument Argument
		Matches  []ArgumentMatch
	}, 0, len(args))

	for _, a := range args {
		var matches []ArgumentMatch
		switch {
		case a.IsStarUnpack:
			for _, f := range positional {
				matches = append(matches, ArgumentMatch{Argument: a, Root: f.Root})
			}
			if starArgs != nil {
				matches = append(matches, ArgumentMatch{Argument: a, Root: starArgs.Root})
			}
		case a.IsStarStarUnpack:
			for _, f := range named {
				matches = append(matches, ArgumentMatch{Argument: a, Root: f.Root})
			}
			if starStar != nil {
				matches = append(matches, ArgumentMatch{Argument: a, Root: starStar.Root})
			}
		case a.Keyword != "":
			if f, ok := byName[a.Keyword]; ok {
				matches = append(matches, ArgumentMatch{Argument: a, Root: f.Root})
			} else if starStar != nil {
				matches = append(matches, ArgumentMatch{Argument: a, Root: starStar.Root})
			}
		default:
			if a.Position < len(positional) {
				matches = append(matches, ArgumentMatch{Argument: a, Root: positional[a.Position].Root})
			} else if starArgs != nil {
				matches = append(matches, ArgumentMatch{Argument: a, Root: starArgs.Root})
			}
		}
		results = append(results, struct {
			Argument Argument
			Matches  []ArgumentMatch
		}{Argument: a, Matches: matches})
	}

	return results
}

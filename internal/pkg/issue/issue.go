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

// Package issue implements source-to-sink matching against user rules
// (this module §4.8): given the forward taint and backward taint known at a
// call site, it walks their intersection under each configured rule and
// emits Issue values, then deduplicates and (optionally) filters by
// suppression comment.
package issue

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"go/ast"
	"go/token"
	"sort"
	"strconv"

	"github.com/sentryflow/sentryflow/internal/pkg/accesspath"
	"github.com/sentryflow/sentryflow/internal/pkg/config"
	"github.com/sentryflow/sentryflow/internal/pkg/suppression"
	"github.com/sentryflow/sentryflow/internal/pkg/taint"
)

// Rule is a single-pass source→sink rule, translated from
// config.Rule's string-named kinds into this package's taint.Kind
// values (this module §3, §6).
type Rule struct {
	Code          int
	Name          string
	Sources       []taint.Kind
	Sinks         []taint.Kind
	MessageFormat string
}

// PartialSinkSpec is one half of a CombinedRule.
type PartialSinkSpec struct {
	Sources     []taint.Kind
	PartialSink taint.Kind
}

// CombinedRule requires two partial-sink matches at the same call site to
// fire (this module §3's "combined-source rule", §4.7's triggered-sink
// bookkeeping). Detection here is scoped to a single call site: both
// partial sinks must be reached by their respective sources among the
// roots considered by one DetectAtCallSite invocation, which covers
// this module §8 scenario 3 (both arguments of one call) directly. A combined
// rule whose two halves are satisfied across two unrelated call sites is
// not detected by this package alone — see DESIGN.md's discussion of
// this scoping decision.
type CombinedRule struct {
	Code          int
	Name          string
	MessageFormat string
	Parts         []PartialSinkSpec
}

// RulesFromConfig translates a TaintConfig's string-named rules into this
// package's taint.Kind-keyed Rule and CombinedRule values (this module §6).
// taint.NewKind interns by name, so a kind declared once in Sources and
// referenced again in Sinks (or by a combined rule's partial sink) maps
// to the identical Kind value the rest of the pipeline already uses.
func RulesFromConfig(tc *config.TaintConfig) ([]Rule, []CombinedRule) {
	kinds := func(names []string) []taint.Kind {
		out := make([]taint.Kind, len(names))
		for i, n := range names {
			out[i] = taint.NewKind(n)
		}
		return out
	}

	rules := make([]Rule, len(tc.Rules))
	for i, r := range tc.Rules {
		rules[i] = Rule{
			Code:          r.Code,
			Name:          r.Name,
			Sources:       kinds(r.Sources),
			Sinks:         kinds(r.Sinks),
			MessageFormat: r.MessageFormat,
		}
	}

	combined := make([]CombinedRule, len(tc.CombinedSourceRules))
	for i, cr := range tc.CombinedSourceRules {
		parts := make([]PartialSinkSpec, len(cr.Rule))
		for j, p := range cr.Rule {
			parts[j] = PartialSinkSpec{
				Sources:     kinds(p.Sources),
				PartialSink: taint.NewKind(p.PartialSink),
			}
		}
		combined[i] = CombinedRule{
			Code:          cr.Code,
			Name:          cr.Name,
			MessageFormat: cr.MessageFormat,
			Parts:         parts,
		}
	}

	return rules, combined
}

// Candidate is one source-tree × sink-tree intersection found before
// rule partitioning (this module §4.8 step 1).
type Candidate struct {
	Root        accesspath.Root
	Path        accesspath.Path
	SourceTaint taint.TaintMap
	SinkTaint   taint.TaintMap
}

// Issue is a concrete report that a source reached a sink under some
// rule (this module §3).
type Issue struct {
	Code           int
	Message        string
	SourceTaint    taint.TaintMap
	SinkTaint      taint.TaintMap
	Location       token.Pos
	DefineLocation token.Pos
	Callees        []string

	// CallNode is the AST call expression this issue was raised at, when
	// one is available (the driver fills this in once it maps an SSA
	// call instruction back to its source). FilterSuppressed uses it to consult a
	// suppression.ResultType; an issue with a nil CallNode is never
	// suppressed.
	CallNode ast.Node
}

// candidates walks backward's paths (this module §4.8 step 1): at each
// non-empty-tip path p rooted at root, forward.collapse(forward.read(p))
// is read; if non-bottom, it is a candidate flow.
func candidates(root accesspath.Root, forward, backward taint.Tree) []Candidate {
	var out []Candidate
	taint.Walk(backward, func(path accesspath.Path, sinkTip taint.TaintMap) {
		forwardSub := taint.Collapse(taint.Read(path, forward))
		if forwardSub.IsBottom() {
			return
		}
		out = append(out, Candidate{Root: root, Path: path, SourceTaint: forwardSub, SinkTaint: sinkTip})
	})
	return out
}

// DetectAtCallSite runs issue detection for one call site: forward and
// backward are the environments at that program point (one tree per
// argument root), pos is the call's source location, and defineLoc is
// the enclosing callable's definition location.
//
// Ordinary rules are applied per-candidate (this module §4.8 step 2): each
// rule independently partitions both the source and sink taint to its
// own allowed-kind set, and a rule fires if both partitions remain
// non-bottom. Combined rules are checked across every candidate produced
// at this call site (see CombinedRule's doc comment on scoping).
func DetectAtCallSite(pos, defineLoc token.Pos, forward, backward taint.Environment, rules []Rule, combined []CombinedRule) []Issue {
	var allCandidates []Candidate
	for _, root := range backward.Roots() {
		allCandidates = append(allCandidates, candidates(root, forward.At(root), backward.At(root))...)
	}

	var out []Issue
	for _, c := range allCandidates {
		for _, r := range rules {
			src := c.SourceTaint.Filter(kindIn(r.Sources))
			sink := c.SinkTaint.Filter(kindIn(r.Sinks))
			if src.IsBottom() || sink.IsBottom() {
				continue
			}
			out = append(out, Issue{
				Code:           r.Code,
				Message:        formatMessage(r.MessageFormat, src, sink),
				SourceTaint:    src,
				SinkTaint:      sink,
				Location:       pos,
				DefineLocation: defineLoc,
				Callees:        calleeNames(src, sink),
			})
		}
	}

	out = append(out, detectCombined(pos, defineLoc, allCandidates, combined)...)
	return out
}

// detectCombined implements the two-partial-sink match (this module §4.7,
// §8 scenario 3): across every candidate produced at this call site, a
// combined rule's two parts are each checked independently against every
// candidate's source/sink taint; if both parts find a match (at the same
// or different roots — this module scenario 3 uses different arguments of
// one call), exactly one combined issue is emitted.
func detectCombined(pos, defineLoc token.Pos, candidates []Candidate, rules []CombinedRule) []Issue {
	var out []Issue
	for _, cr := range rules {
		if len(cr.Parts) < 2 {
			continue
		}
		matched := make([]bool, len(cr.Parts))
		var src, sink taint.TaintMap
		for i, part := range cr.Parts {
			for _, c := range candidates {
				if !c.SinkTaint.Has(part.PartialSink) {
					continue
				}
				partSrc := c.SourceTaint.Filter(kindIn(part.Sources))
				if partSrc.IsBottom() {
					continue
				}
				matched[i] = true
				src = src.Join(partSrc)
				sink = sink.Join(c.SinkTaint.Filter(func(k taint.Kind) bool { return k == part.PartialSink }))
			}
		}
		allMatched := true
		for _, m := range matched {
			if !m {
				allMatched = false
				break
			}
		}
		if !allMatched {
			continue
		}
		out = append(out, Issue{
			Code:           cr.Code,
			Message:        formatMessage(cr.MessageFormat, src, sink),
			SourceTaint:    src,
			SinkTaint:      sink,
			Location:       pos,
			DefineLocation: defineLoc,
			Callees:        calleeNames(src, sink),
		})
	}
	return out
}

func kindIn(kinds []taint.Kind) func(taint.Kind) bool {
	set := make(map[taint.Kind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	return func(k taint.Kind) bool { return set[k] }
}

// calleeNames collects the distinct callee names recorded in either
// taint map's CallSite trace info, used for both the issue message and
// Dedup's canonical-callee-set key.
func calleeNames(maps ...taint.TaintMap) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range maps {
		for _, k := range m.Kinds() {
			for _, tr := range m.Get(k).Traces.List() {
				for _, ref := range tr.Callees {
					if !seen[ref.Key] {
						seen[ref.Key] = true
						out = append(out, ref.Key)
					}
				}
			}
		}
	}
	sort.Strings(out)
	return out
}

func formatMessage(format string, src, sink taint.TaintMap) string {
	if format == "" {
		return fmt.Sprintf("data from %s reaches %s", kindList(src), kindList(sink))
	}
	return format
}

func kindList(m taint.TaintMap) string {
	var names []string
	for _, k := range m.Kinds() {
		names = append(names, k.Name())
	}
	return fmt.Sprint(names)
}

// FilterSuppressed drops every issue whose CallNode is marked suppressed
// in suppressed (this module §4.8's final filtering step, ported from the
// google-go-flow-levee's own suppression.Analyzer: a `// sentryflow.DoNotReport`
// comment attached to the call silences any issue raised there).
func FilterSuppressed(issues []Issue, suppressed suppression.ResultType) []Issue {
	out := make([]Issue, 0, len(issues))
	for _, is := range issues {
		if is.CallNode != nil && suppressed.IsSuppressed(is.CallNode) {
			continue
		}
		out = append(out, is)
	}
	return out
}

// Dedup removes duplicate issues per this module §4.8 step 3: tie-break and
// deduplicate by {code, location, canonical-callee-set}.
func Dedup(issues []Issue) []Issue {
	seen := make(map[string]bool, len(issues))
	var out []Issue
	for _, is := range issues {
		key := dedupKey(is)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, is)
	}
	return out
}

func dedupKey(is Issue) string {
	return fmt.Sprintf("%d@%d@%v", is.Code, is.Location, is.Callees)
}

// MasterHandle computes the stable string hash binding the callable, the
// issue code, a sink handle, and a content digest (this module §6), so
// issues can be tracked across runs even as unrelated parts of the
// program change.
func MasterHandle(callable string, code int, sinkHandle string, contentDigest string) string {
	h := sha256.New()
	h.Write([]byte(callable))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(code)))
	h.Write([]byte{0})
	h.Write([]byte(sinkHandle))
	h.Write([]byte{0})
	h.Write([]byte(contentDigest))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

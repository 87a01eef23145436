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

package config

import (
	"encoding/json"
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// TaintConfig is the taint-specific analysis configuration (this module §6):
// the kind vocabulary (sources/sinks/transforms/features), the rule set
// that pairs them into reportable issues, and the override-fan-out
// knob C5 reads. It is a sibling of google-go-flow-levee's Config (levee's
// regex-based source/sink/sanitizer matchers over go/types), kept
// separate because the two answer different questions — Config matches
// *which Go declarations* play a taint role; TaintConfig declares *what
// the kinds mean and how they combine into rules*, the vocabulary
// this module §6 specifies independent of any one language's AST.
type TaintConfig struct {
	Sources    []NamedKind `json:"sources,omitempty"`
	Sinks      []NamedKind `json:"sinks,omitempty"`
	Transforms []NamedKind `json:"transforms,omitempty"`
	Features   []NamedKind `json:"features,omitempty"`

	Rules               []Rule         `json:"rules,omitempty"`
	CombinedSourceRules []CombinedRule `json:"combined_source_rules,omitempty"`

	ImplicitSources []string `json:"implicit_sources,omitempty"`
	ImplicitSinks   []string `json:"implicit_sinks,omitempty"`

	AnalysisModelConstraints ModelConstraints `json:"analysis_model_constraints,omitempty"`
}

// NamedKind is the shape shared by the sources/sinks/transforms/features
// lists: each entry is just a declared name (this module §6).
type NamedKind struct {
	Name string `json:"name"`
}

// Rule is a single-pass source→sink rule (this module §3, §6).
type Rule struct {
	Code          int      `json:"code"`
	Name          string   `json:"name"`
	Sources       []string `json:"sources"`
	Sinks         []string `json:"sinks"`
	Transforms    []string `json:"transforms,omitempty"`
	MessageFormat string   `json:"message_format"`
}

// PartialSinkSpec is one half of a CombinedRule's requirement: a set of
// source kinds that, when matched, trigger the named partial sink.
type PartialSinkSpec struct {
	Sources     []string `json:"sources"`
	PartialSink string   `json:"partial_sink"`
}

// CombinedRule requires two partial-sink matches to fire (this module §3's
// "combined-source rule").
type CombinedRule struct {
	Code          int               `json:"code"`
	Name          string            `json:"name"`
	MessageFormat string            `json:"message_format"`
	Rule          []PartialSinkSpec `json:"rule"`
}

// ModelConstraints bounds C5's override-graph pruning.
type ModelConstraints struct {
	MaximumOverridesToAnalyze int `json:"maximum_overrides_to_analyze,omitempty"`
}

// FieldTagRule maps a struct tag key/value pair to the source kind it
// marks, the user-facing configuration for the driver's struct-tag
// source inference (this module §4.4's "Supplemented features"; the
// built-in `sentryflow:"source"` convention is always recognized and
// need not be listed here — see model.MatchStructTag).
type FieldTagRule struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Kind  string `json:"kind"`
}

// LoadTaintConfigJSON reads and parses a TaintConfig from JSON, then
// validates it. Unknown top-level keys are tolerated by
// encoding/json's default decoding (this module §6's "forward-compatible");
// unknown kinds referenced by a rule are rejected, per this module §6 and
// §7's "Configuration error" taxonomy entry.
func LoadTaintConfigJSON(path string) (*TaintConfig, error) {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading taint config: %w", err)
	}
	var tc TaintConfig
	if err := json.Unmarshal(bytes, &tc); err != nil {
		return nil, fmt.Errorf("parsing taint config: %w", err)
	}
	if err := tc.Validate(); err != nil {
		return nil, err
	}
	return &tc, nil
}

// LoadTaintConfigYAML is LoadTaintConfigJSON's YAML-syntax sibling,
// parsed via sigs.k8s.io/yaml so the same struct tags serve both formats
// (google-go-flow-levee's dependency, used the same way it uses it for its
// own config types elsewhere in the pack).
func LoadTaintConfigYAML(path string) (*TaintConfig, error) {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading taint config: %w", err)
	}
	var tc TaintConfig
	if err := yaml.Unmarshal(bytes, &tc); err != nil {
		return nil, fmt.Errorf("parsing taint config: %w", err)
	}
	if err := tc.Validate(); err != nil {
		return nil, err
	}
	return &tc, nil
}

// Validate rejects a config that references a kind not declared in
// Sources/Sinks/Transforms (this module §7's "Configuration error": "invalid
// taint config or rule references an undefined kind").
func (tc *TaintConfig) Validate() error {
	known := func(list []NamedKind) map[string]bool {
		m := make(map[string]bool, len(list))
		for _, k := range list {
			m[k.Name] = true
		}
		return m
	}
	sources, sinks, transforms := known(tc.Sources), known(tc.Sinks), known(tc.Transforms)

	for _, r := range tc.Rules {
		for _, s := range r.Sources {
			if !sources[s] {
				return fmt.Errorf("rule %d (%s): undefined source kind %q", r.Code, r.Name, s)
			}
		}
		for _, s := range r.Sinks {
			if !sinks[s] {
				return fmt.Errorf("rule %d (%s): undefined sink kind %q", r.Code, r.Name, s)
			}
		}
		for _, tr := range r.Transforms {
			if !transforms[tr] {
				return fmt.Errorf("rule %d (%s): undefined transform kind %q", r.Code, r.Name, tr)
			}
		}
	}

	for _, cr := range tc.CombinedSourceRules {
		for _, part := range cr.Rule {
			for _, s := range part.Sources {
				if !sources[s] {
					return fmt.Errorf("combined rule %d (%s): undefined source kind %q", cr.Code, cr.Name, s)
				}
			}
		}
	}

	return nil
}

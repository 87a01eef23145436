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
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoadTaintConfigJSONValid(t *testing.T) {
	path := writeTemp(t, "cfg.json", `{
		"sources": [{"name": "UserInput"}],
		"sinks": [{"name": "CommandExec"}],
		"transforms": [{"name": "Sanitize"}],
		"rules": [{
			"code": 1,
			"name": "command-injection",
			"sources": ["UserInput"],
			"sinks": ["CommandExec"],
			"message_format": "tainted data reaches a command sink"
		}],
		"analysis_model_constraints": {"maximum_overrides_to_analyze": 8}
	}`)

	tc, err := LoadTaintConfigJSON(path)
	if err != nil {
		t.Fatalf("LoadTaintConfigJSON: %v", err)
	}
	if len(tc.Rules) != 1 || tc.Rules[0].Code != 1 {
		t.Errorf("unexpected rules: %+v", tc.Rules)
	}
	if tc.AnalysisModelConstraints.MaximumOverridesToAnalyze != 8 {
		t.Errorf("got %d", tc.AnalysisModelConstraints.MaximumOverridesToAnalyze)
	}
}

func TestLoadTaintConfigJSONUndefinedSourceRejected(t *testing.T) {
	path := writeTemp(t, "cfg.json", `{
		"sinks": [{"name": "CommandExec"}],
		"rules": [{
			"code": 1,
			"name": "command-injection",
			"sources": ["Nonexistent"],
			"sinks": ["CommandExec"],
			"message_format": "x"
		}]
	}`)

	if _, err := LoadTaintConfigJSON(path); err == nil {
		t.Fatal("expected an error for an undefined source kind")
	}
}

func TestLoadTaintConfigJSONTolerantOfUnknownTopLevelKeys(t *testing.T) {
	path := writeTemp(t, "cfg.json", `{
		"sources": [{"name": "UserInput"}],
		"some_future_field": {"whatever": true}
	}`)

	if _, err := LoadTaintConfigJSON(path); err != nil {
		t.Fatalf("expected unknown top-level keys to be tolerated, got: %v", err)
	}
}

func TestLoadTaintConfigYAML(t *testing.T) {
	path := writeTemp(t, "cfg.yaml", `
sources:
  - name: UserInput
sinks:
  - name: CommandExec
rules:
  - code: 1
    name: command-injection
    sources: [UserInput]
    sinks: [CommandExec]
    message_format: "tainted data reaches a command sink"
`)

	tc, err := LoadTaintConfigYAML(path)
	if err != nil {
		t.Fatalf("LoadTaintConfigYAML: %v", err)
	}
	if len(tc.Sources) != 1 || tc.Sources[0].Name != "UserInput" {
		t.Errorf("unexpected sources: %+v", tc.Sources)
	}
}

func TestCombinedSourceRuleUndefinedSourceRejected(t *testing.T) {
	path := writeTemp(t, "cfg.json", `{
		"sources": [{"name": "A"}],
		"combined_source_rules": [{
			"code": 2,
			"name": "combo",
			"message_format": "x",
			"rule": [
				{"sources": ["A"], "partial_sink": "p1"},
				{"sources": ["B"], "partial_sink": "p2"}
			]
		}]
	}`)

	if _, err := LoadTaintConfigJSON(path); err == nil {
		t.Fatal("expected an error for an undefined source kind in a combined rule")
	}
}

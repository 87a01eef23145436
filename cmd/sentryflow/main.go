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

// Command sentryflow runs the whole-program taint analyzer over a set of
// Go package patterns and reports issues as JSON (this module §6). Unlike
// google-go-flow-levee's cmd/levee, this is not a golang.org/x/tools/go/analysis
// singlechecker shell: the interprocedural fixpoint (C9) needs a single
// *ssa.Program spanning every loaded package up front, so main itself
// parses flags and hands off directly to internal/pkg/driver.Run — see
// driver/load.go's package doc for why singlechecker's one-pass-per-
// package model doesn't fit here.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/sentryflow/sentryflow/internal/pkg/config"
	"github.com/sentryflow/sentryflow/internal/pkg/diagnostics"
	"github.com/sentryflow/sentryflow/internal/pkg/driver"
)

// Exit codes per this module §6.
const (
	exitNoIssues      = 0
	exitIssuesFound   = 1
	exitConfigError   = 2
	exitInternalError = 3
)

type tagRuleFlags []config.FieldTagRule

func (f *tagRuleFlags) String() string {
	if f == nil {
		return ""
	}
	var parts []string
	for _, r := range *f {
		parts = append(parts, fmt.Sprintf("%s=%s:%s", r.Key, r.Value, r.Kind))
	}
	return strings.Join(parts, ",")
}

// Set parses one "-tag-rule key=value:Kind" flag occurrence. Repeatable.
func (f *tagRuleFlags) Set(s string) error {
	kv, kind, ok := strings.Cut(s, ":")
	if !ok {
		return fmt.Errorf("tag-rule %q: want key=value:Kind", s)
	}
	key, value, ok := strings.Cut(kv, "=")
	if !ok {
		return fmt.Errorf("tag-rule %q: want key=value:Kind", s)
	}
	*f = append(*f, config.FieldTagRule{Key: key, Value: value, Kind: kind})
	return nil
}

type modelFileFlags []string

func (f *modelFileFlags) String() string { return strings.Join(*f, ",") }
func (f *modelFileFlags) Set(s string) error {
	*f = append(*f, s)
	return nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("sentryflow", flag.ExitOnError)
	dir := fs.String("dir", ".", "directory to resolve package patterns from")
	configPath := fs.String("config", "", "path to the taint configuration (JSON or YAML, required)")
	configYAML := fs.Bool("yaml", false, "parse -config as YAML instead of JSON")
	out := fs.String("json", "", "write issue JSON here instead of stdout")
	verify := fs.Bool("verify", false, "abort on the first model validation error instead of dropping it")
	maxEpochs := fs.Int("max-epochs", 50, "fixpoint epoch budget before NonConvergenceError")
	workers := fs.Int("workers", 1, "C10 worker count for RunParallel")
	verbose := fs.Bool("verbose", false, "enable diagnostics logging")
	dumpCallgraph := fs.Bool("dump-callgraph", false, "print the built call graph to stderr and exit")
	var modelFiles modelFileFlags
	fs.Var(&modelFiles, "model", "model file to load (repeatable)")
	var tagRules tagRuleFlags
	fs.Var(&tagRules, "tag-rule", "struct tag key=value:Kind source rule (repeatable)")
	if err := fs.Parse(args); err != nil {
		return exitInternalError
	}

	diagnostics.SetVerbose(*verbose)

	patterns := fs.Args()
	if len(patterns) == 0 {
		patterns = []string{"./..."}
	}

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "sentryflow: -config is required")
		return exitConfigError
	}

	var (
		tc  *config.TaintConfig
		err error
	)
	if *configYAML {
		tc, err = config.LoadTaintConfigYAML(*configPath)
	} else {
		tc, err = config.LoadTaintConfigJSON(*configPath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "sentryflow: %v\n", err)
		return exitConfigError
	}

	opts := driver.Options{
		Dir:            *dir,
		Patterns:       patterns,
		TaintConfig:    tc,
		ModelFiles:     modelFiles,
		VerifyModels:   *verify,
		MaxEpochs:      *maxEpochs,
		Workers:        *workers,
		StructTagRules: tagRules,
	}

	result, err := driver.Run(context.Background(), opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sentryflow: %v\n", err)
		switch err.(type) {
		case *driver.ConfigError, *driver.ModelValidationError:
			return exitConfigError
		default:
			return exitInternalError
		}
	}

	if *dumpCallgraph {
		for _, t := range result.Graph.Nodes() {
			fmt.Fprintln(os.Stderr, t.String())
		}
		return exitNoIssues
	}

	issues := driver.FormatIssues(result.Program, result.Issues)

	w := os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			fmt.Fprintf(os.Stderr, "sentryflow: %v\n", err)
			return exitInternalError
		}
		defer f.Close()
		w = f
	}
	if err := driver.WriteIssuesJSON(w, issues); err != nil {
		fmt.Fprintf(os.Stderr, "sentryflow: %v\n", err)
		return exitInternalError
	}

	if len(issues) > 0 {
		return exitIssuesFound
	}
	return exitNoIssues
}

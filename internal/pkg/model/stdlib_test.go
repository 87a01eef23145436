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

package model

import (
	"testing"

	"github.com/sentryflow/sentryflow/internal/pkg/accesspath"
	"github.com/sentryflow/sentryflow/internal/pkg/taint"
)

func TestStdlibModelSprintfTaintsReturn(t *testing.T) {
	m, ok := StdlibModel("fmt.Sprintf")
	if !ok {
		t.Fatal("expected a model for fmt.Sprintf")
	}
	got := m.BackwardTito.At(accesspath.Parameter(1))
	if !taint.Collapse(got).Has(taint.LocalReturn) {
		t.Errorf("expected parameter 1 to reach LocalReturn, got %+v", got)
	}
}

func TestStdlibModelFprintfTaintsWriter(t *testing.T) {
	m, ok := StdlibModel("fmt.Fprintf")
	if !ok {
		t.Fatal("expected a model for fmt.Fprintf")
	}
	got := m.BackwardTito.At(accesspath.Parameter(1))
	if _, ok := taint.IsParameterUpdate(firstKind(taint.Collapse(got))); !ok {
		t.Errorf("expected parameter 1 to update an argument, got %+v", got)
	}
}

func TestStdlibModelUnknownNotFound(t *testing.T) {
	if _, ok := StdlibModel("example.com/notreal.Func"); ok {
		t.Error("expected no model for an unlisted function")
	}
}

func firstKind(tm taint.TaintMap) taint.Kind {
	ks := tm.Kinds()
	if len(ks) == 0 {
		return taint.Kind{}
	}
	return ks[0]
}

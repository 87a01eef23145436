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

package diagnostics

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestDebugfSuppressedUnlessVerbose(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	SetVerbose(false)
	Debugf("hello %d", 1)
	if buf.Len() != 0 {
		t.Errorf("expected no output when not verbose, got %q", buf.String())
	}

	SetVerbose(true)
	defer SetVerbose(false)
	Debugf("hello %d", 1)
	if !strings.Contains(buf.String(), "hello 1") {
		t.Errorf("expected verbose Debugf to print, got %q", buf.String())
	}
}

func TestErrorfAlwaysPrints(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	SetVerbose(false)
	Errorf("boom")
	if !strings.Contains(buf.String(), "boom") {
		t.Errorf("expected Errorf to print regardless of verbosity, got %q", buf.String())
	}
}

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

// Package diagnostics is the leveled logger the rest of this module logs
// fixpoint progress, scheduler activity, and driver diagnostics through.
package diagnostics

import (
	"io"
	"log"
	"os"
)

var (
	// Logger is the package-wide logger every level writes through.
	Logger *log.Logger

	// Verbose controls whether Debugf/Infof/Warnf print anything.
	Verbose bool
)

func init() {
	Logger = log.New(os.Stderr, "", log.Ltime|log.Lmicroseconds)
	Verbose = os.Getenv("SENTRYFLOW_VERBOSE") == "1"
}

// SetVerbose enables or disables verbose logging at runtime, overriding
// the SENTRYFLOW_VERBOSE environment variable (the CLI's --verbose flag
// calls this).
func SetVerbose(enabled bool) {
	Verbose = enabled
}

// SetOutput redirects the logger's output; tests use this to capture and
// assert on emitted lines.
func SetOutput(w io.Writer) {
	Logger.SetOutput(w)
}

// Debugf prints a debug message when Verbose is enabled.
func Debugf(format string, args ...interface{}) {
	if Verbose {
		Logger.Printf("[DEBUG] "+format, args...)
	}
}

// Infof prints an info message when Verbose is enabled.
func Infof(format string, args ...interface{}) {
	if Verbose {
		Logger.Printf("[INFO] "+format, args...)
	}
}

// Warnf prints a warning message when Verbose is enabled.
func Warnf(format string, args ...interface{}) {
	if Verbose {
		Logger.Printf("[WARN] "+format, args...)
	}
}

// Errorf always prints an error message, independent of Verbose: an
// analysis-halting condition is worth reporting even in a quiet run.
func Errorf(format string, args ...interface{}) {
	Logger.Printf("[ERROR] "+format, args...)
}

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

package driver

import "fmt"

// ConfigError reports an invalid taint configuration (this module §7's
// "Configuration error"): fatal at startup, distinct from the other
// error kinds so the CLI can map it to its own exit code.
type ConfigError struct{ Err error }

func (e *ConfigError) Error() string { return fmt.Sprintf("configuration error: %v", e.Err) }
func (e *ConfigError) Unwrap() error { return e.Err }

// ModelValidationError wraps a LoadModelFiles failure under verify=true
// (this module §7's "Model validation error", fatal variant).
type ModelValidationError struct{ Err error }

func (e *ModelValidationError) Error() string { return fmt.Sprintf("model validation error: %v", e.Err) }
func (e *ModelValidationError) Unwrap() error { return e.Err }

// NonConvergenceError reports that the fixpoint did not settle within
// its configured epoch budget (this module §7's "Fixpoint non-convergence").
// Widening is supposed to make this unreachable; surfacing it as its own
// type rather than silently truncating lets a caller tell a genuine
// engine bug apart from an ordinary empty result.
type NonConvergenceError struct{ Err error }

func (e *NonConvergenceError) Error() string { return e.Err.Error() }
func (e *NonConvergenceError) Unwrap() error { return e.Err }

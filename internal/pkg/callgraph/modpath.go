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

package callgraph

import (
	"strings"

	"golang.org/x/mod/modfile"
)

// ModuleRoot resolves the root module path from a go.mod file's bytes,
// used to decide whether a package path belongs to the program under
// analysis (and should get a fully-qualified Target) or to a third-party
// dependency (collapsed into a single obscure-model placeholder per
// importpath, since the analysis never walks into vendored bodies).
func ModuleRoot(goModBytes []byte) (string, error) {
	f, err := modfile.Parse("go.mod", goModBytes, nil)
	if err != nil {
		return "", err
	}
	if f.Module == nil {
		return "", nil
	}
	return f.Module.Mod.Path, nil
}

// InModule reports whether pkgPath is the module root or a subpackage of
// it, i.e. whether it is first-party code that should be walked rather
// than treated as an opaque dependency.
func InModule(moduleRoot, pkgPath string) bool {
	if moduleRoot == "" {
		return false
	}
	return pkgPath == moduleRoot || strings.HasPrefix(pkgPath, moduleRoot+"/")
}

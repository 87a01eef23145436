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
	"github.com/sentryflow/sentryflow/internal/pkg/accesspath"
	"github.com/sentryflow/sentryflow/internal/pkg/taint"
)

// stdlibArity is a taint-in-taint-out summary for a function the engine
// never walks the body of (it lives outside the analyzed module): which
// parameters, if any one of them is tainted, taint which other arguments
// and the return value. The representation mirrors google-go-flow-levee's
// propagation/stdlib.go summary table (ifTainted bitset over parameter
// position, taintedArgs, taintedRets) one-for-one; only the
// interpretation differs; here each bit independently contributes to a
// per-parameter BackwardTito entry instead of to a single intraprocedural
// taint-marking pass.
type stdlibArity struct {
	ifTainted   uint64
	taintedArgs []int
	taintedRets []int
}

var fromFirstArgToFirstRet = stdlibArity{ifTainted: 0b1, taintedRets: []int{0}}

// stdlibModels is a representative slice of google-go-flow-levee's stdlib summary
// table (propagation/summaries.go's funcSummaries), covering the
// functions most likely to carry tainted data through a program that
// never defines its own wrappers around them. It is intentionally a
// subset, not the full ~150-entry table: StdlibModel's caller falls back
// to an obscure model for anything not listed here, so every omission is
// a conservatism, not a correctness gap.
var stdlibModels = map[string]stdlibArity{
	"fmt.Errorf":   {ifTainted: 0b11, taintedRets: []int{0}},
	"fmt.Sprint":   fromFirstArgToFirstRet,
	"fmt.Sprintf":  {ifTainted: 0b11, taintedRets: []int{0}},
	"fmt.Sprintln": fromFirstArgToFirstRet,
	"fmt.Fprint": {
		ifTainted:   0b10,
		taintedArgs: []int{0},
	},
	"fmt.Fprintf": {
		ifTainted:   0b110,
		taintedArgs: []int{0},
	},
	"errors.New":    fromFirstArgToFirstRet,
	"errors.Unwrap": fromFirstArgToFirstRet,

	"strings.Split":      fromFirstArgToFirstRet,
	"strings.SplitN":     fromFirstArgToFirstRet,
	"strings.Fields":     fromFirstArgToFirstRet,
	"strings.Join":       {ifTainted: 0b11, taintedRets: []int{0}},
	"strings.Repeat":     fromFirstArgToFirstRet,
	"strings.ToUpper":    fromFirstArgToFirstRet,
	"strings.ToLower":    fromFirstArgToFirstRet,
	"strings.TrimSpace":  fromFirstArgToFirstRet,
	"strings.TrimPrefix": fromFirstArgToFirstRet,
	"strings.TrimSuffix": fromFirstArgToFirstRet,
	"strings.Replace":    {ifTainted: 0b101, taintedRets: []int{0}},
	"strings.ReplaceAll": {ifTainted: 0b101, taintedRets: []int{0}},

	"bytes.NewBuffer":       fromFirstArgToFirstRet,
	"bytes.NewBufferString": fromFirstArgToFirstRet,
	"bytes.Split":           fromFirstArgToFirstRet,
	"bytes.Join":            {ifTainted: 0b11, taintedRets: []int{0}},
	"bytes.TrimSpace":       fromFirstArgToFirstRet,

	"io.WriteString": {ifTainted: 0b10, taintedArgs: []int{0}},
	"io.Copy":        {ifTainted: 0b10, taintedArgs: []int{0}},
	"io.ReadAll":     fromFirstArgToFirstRet,
	"io/ioutil.ReadAll": fromFirstArgToFirstRet,

	"strconv.Quote":   fromFirstArgToFirstRet,
	"strconv.Unquote": fromFirstArgToFirstRet,
	"strconv.Itoa":    fromFirstArgToFirstRet,

	"encoding/json.Marshal": fromFirstArgToFirstRet,
	"encoding/json.Unmarshal": {
		ifTainted:   0b11,
		taintedArgs: []int{0, 1},
	},

	"path/filepath.Join":  fromFirstArgToFirstRet,
	"path/filepath.Clean": fromFirstArgToFirstRet,
	"path.Join":           fromFirstArgToFirstRet,
}

// StdlibModel looks up a conservative taint-in-taint-out summary for a
// fully-qualified function name (e.g. "fmt.Sprintf") not defined within
// the analyzed module. The driver seeds these summaries into the model
// store (SeedStdlib) for callables whose body the program does not
// define, so well-known standard library functions get a precise
// summary instead of the obscure fallback.
func StdlibModel(qualifiedName string) (Model, bool) {
	s, ok := stdlibModels[qualifiedName]
	if !ok {
		return Model{}, false
	}
	return buildStdlibModel(s), true
}

func buildStdlibModel(s stdlibArity) Model {
	var m Model
	for i := 0; i < 64; i++ {
		if s.ifTainted&(uint64(1)<<uint(i)) == 0 {
			continue
		}
		var tm taint.TaintMap
		if len(s.taintedRets) > 0 {
			tm = tm.With(taint.LocalReturn, taint.SingletonDetails())
		}
		for _, j := range s.taintedArgs {
			tm = tm.With(taint.ParameterUpdate(j), taint.SingletonDetails())
		}
		if !tm.IsBottom() {
			m.BackwardTito = m.BackwardTito.With(accesspath.Parameter(i), taint.Leaf(tm))
		}
	}
	return m
}

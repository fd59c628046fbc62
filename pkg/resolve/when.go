// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package resolve implements the variable resolver (C7): lazy ${...}
// expansion against a point-in-time output snapshot, and `when`
// condition evaluation.
package resolve

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/tombee/orbyt/pkg/errors"
)

// WhenEvaluator evaluates a step's `when` boolean predicate against the
// same roots the ${...} resolver exposes. It caches compiled programs,
// grounded on the teacher's expression.Evaluator.
type WhenEvaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewWhenEvaluator constructs an empty-cache evaluator.
func NewWhenEvaluator() *WhenEvaluator {
	return &WhenEvaluator{cache: make(map[string]*vm.Program)}
}

// Eval evaluates expression against ctx (the same vars/env/secrets/steps/
// workflow roots available to ${...} resolution). An empty expression
// defaults to true (spec §4.7: "if present and evaluates falsy, step is
// skipped").
func (e *WhenEvaluator) Eval(expression string, ctx map[string]any) (bool, error) {
	if expression == "" {
		return true, nil
	}

	prog, err := e.compile(expression)
	if err != nil {
		return false, errors.Wrap(errors.KindVariableUnresolved, "failed to compile when expression", err)
	}

	// Merge the builtins into the runtime env too — expr.Env only shapes
	// compile-time type checking, it doesn't populate expr.Run's context.
	evalCtx := make(map[string]any, len(ctx)+3)
	for k, v := range ctx {
		evalCtx[k] = v
	}
	evalCtx["has"] = hasFunc
	evalCtx["includes"] = hasFunc
	evalCtx["length"] = lengthFunc

	result, err := expr.Run(prog, evalCtx)
	if err != nil {
		return false, errors.Wrap(errors.KindVariableUnresolved, "when expression evaluation failed", err)
	}

	b, ok := result.(bool)
	if !ok {
		return false, errors.New(errors.KindVariableUnresolved, fmt.Sprintf("when expression must return a boolean, got %T", result))
	}
	return b, nil
}

func (e *WhenEvaluator) compile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if p, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return p, nil
	}
	e.mu.RUnlock()

	env := map[string]any{
		"has":      hasFunc,
		"includes": hasFunc,
		"length":   lengthFunc,
	}
	prog, err := expr.Compile(expression,
		expr.Env(env),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expression] = prog
	e.mu.Unlock()
	return prog, nil
}

func hasFunc(list any, item any) bool {
	switch l := list.(type) {
	case []any:
		for _, v := range l {
			if v == item {
				return true
			}
		}
	case []string:
		s, ok := item.(string)
		if !ok {
			return false
		}
		for _, v := range l {
			if v == s {
				return true
			}
		}
	}
	return false
}

func lengthFunc(v any) int {
	switch val := v.(type) {
	case []any:
		return len(val)
	case string:
		return len(val)
	case map[string]any:
		return len(val)
	default:
		return 0
	}
}

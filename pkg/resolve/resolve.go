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

package resolve

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tombee/orbyt/pkg/errors"
	"github.com/tombee/orbyt/pkg/runstate"
)

// maxReferenceDepth caps recursive traversal into objects/arrays during
// resolution, per spec §4.5 ("depth cap, default 32").
const maxReferenceDepth = 32

// refPattern matches one "${<dotted-path>}" token.
var refPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Snapshot is the point-in-time view a Resolver resolves against: a
// frozen copy of ExecutionState.output plus the static roots (vars, env,
// secrets, workflow identity).
type Snapshot struct {
	Vars         map[string]any
	Env          map[string]string
	Secrets      map[string]string
	WorkflowName string
	RunID        string
	StepStatus   map[string]runstate.Status
	StepOutput   map[string]any
}

// AsExprEnv flattens the Snapshot into the map `when` expressions
// evaluate against: the same vars/env/secrets/steps/workflow roots
// ${...} resolution exposes, reshaped for expr-lang's dotted field
// access (e.g. `steps.fetch.output.status == 200`).
func (s Snapshot) AsExprEnv() map[string]any {
	stepsEnv := make(map[string]any, len(s.StepOutput))
	for id, out := range s.StepOutput {
		stepsEnv[id] = map[string]any{
			"status": string(s.StepStatus[id]),
			"output": out,
		}
	}
	secretsEnv := make(map[string]any, len(s.Secrets))
	for k, v := range s.Secrets {
		secretsEnv[k] = v
	}
	envEnv := make(map[string]any, len(s.Env))
	for k, v := range s.Env {
		envEnv[k] = v
	}
	return map[string]any{
		"vars":    s.Vars,
		"env":     envEnv,
		"secrets": secretsEnv,
		"steps":   stepsEnv,
		"workflow": map[string]any{
			"name":  s.WorkflowName,
			"runId": s.RunID,
		},
	}
}

// Resolver expands ${...} references against a Snapshot. It is pure in
// (expr, snapshot) — the same inputs always produce the same output
// (spec §8, invariant 5).
type Resolver struct{}

// New constructs a Resolver.
func New() *Resolver {
	return &Resolver{}
}

// Resolve expands every ${...} reference inside v (recursively through
// maps/slices), returning the resolved value. A pure single "${...}"
// string returns the referenced value with its native type; an
// interpolated string (embedded inside surrounding text, or containing
// more than one reference) is stringified per the canonical rule:
// primitives as-is, objects/arrays as compact JSON.
func (r *Resolver) Resolve(v any, snap Snapshot) (any, error) {
	return r.resolveDepth(v, snap, 0)
}

func (r *Resolver) resolveDepth(v any, snap Snapshot, depth int) (any, error) {
	if depth > maxReferenceDepth {
		return nil, errors.New(errors.KindReferenceDepthExceeded, "reference traversal exceeded maximum depth")
	}

	switch val := v.(type) {
	case string:
		return r.resolveString(val, snap)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, sub := range val {
			resolved, err := r.resolveDepth(sub, snap, depth+1)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, sub := range val {
			resolved, err := r.resolveDepth(sub, snap, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

func (r *Resolver) resolveString(s string, snap Snapshot) (any, error) {
	matches := refPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	// Pure single reference spanning the whole string: return native type.
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		path := s[matches[0][2]:matches[0][3]]
		return r.lookup(path, snap)
	}

	// Interpolated: stringify each match and splice back in.
	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		path := s[m[2]:m[3]]
		val, err := r.lookup(path, snap)
		if err != nil {
			return nil, err
		}
		b.WriteString(stringify(val))
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}

// lookup resolves one dotted path against its recognized root (spec
// §4.5): vars.<name>, env.<name>, secrets.<name>, steps.<id>.output.<path>,
// workflow.<name|runId>.
func (r *Resolver) lookup(path string, snap Snapshot) (any, error) {
	root, rest, _ := strings.Cut(path, ".")

	switch root {
	case "vars":
		return lookupPath(snap.Vars, rest)
	case "env":
		if v, ok := snap.Env[rest]; ok {
			return v, nil
		}
		return nil, errors.New(errors.KindVariableUnresolved, fmt.Sprintf("unknown env variable %q", rest))
	case "secrets":
		if v, ok := snap.Secrets[rest]; ok {
			return v, nil
		}
		return nil, errors.New(errors.KindVariableUnresolved, fmt.Sprintf("unknown secret %q", rest))
	case "workflow":
		switch rest {
		case "name":
			return snap.WorkflowName, nil
		case "runId":
			return snap.RunID, nil
		default:
			return nil, errors.New(errors.KindUnknownReferenceRoot, fmt.Sprintf("unknown workflow field %q", rest))
		}
	case "steps":
		return r.lookupStepOutput(rest, snap)
	default:
		return nil, errors.New(errors.KindUnknownReferenceRoot, fmt.Sprintf("unknown reference root %q", root))
	}
}

func (r *Resolver) lookupStepOutput(rest string, snap Snapshot) (any, error) {
	stepID, tail, ok := strings.Cut(rest, ".")
	if !ok || !strings.HasPrefix(tail, "output") {
		return nil, errors.New(errors.KindVariableUnresolved, fmt.Sprintf("malformed step reference \"steps.%s\"", rest))
	}

	status, known := snap.StepStatus[stepID]
	if !known {
		return nil, errors.New(errors.KindUnknownReferenceRoot, fmt.Sprintf("reference to unknown step id %q", stepID))
	}
	if status != runstate.Succeeded {
		return nil, errors.Wrap(errors.KindVariableUnresolved,
			fmt.Sprintf("reference to step %q output, but step is %s (not Succeeded)", stepID, status),
			errors.New("UnresolvedStepOutput", ""))
	}

	outputPath := strings.TrimPrefix(tail, "output")
	outputPath = strings.TrimPrefix(outputPath, ".")
	return lookupPath(snap.StepOutput[stepID], outputPath)
}

// lookupPath walks v via a dotted/bracket path (e.g. "foo.bars[0].baz").
// An empty path returns v itself.
func lookupPath(v any, path string) (any, error) {
	if path == "" {
		return v, nil
	}
	segs, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	cur := v
	for _, seg := range segs {
		switch s := seg.(type) {
		case string:
			m, ok := cur.(map[string]any)
			if !ok {
				return nil, errors.New(errors.KindVariableUnresolved, fmt.Sprintf("cannot index field %q into non-object value", s))
			}
			next, ok := m[s]
			if !ok {
				return nil, errors.New(errors.KindVariableUnresolved, fmt.Sprintf("unknown field %q", s))
			}
			cur = next
		case int:
			arr, ok := cur.([]any)
			if !ok {
				return nil, errors.New(errors.KindVariableUnresolved, fmt.Sprintf("cannot index [%d] into non-array value", s))
			}
			if s < 0 || s >= len(arr) {
				return nil, errors.New(errors.KindVariableUnresolved, fmt.Sprintf("index [%d] out of bounds", s))
			}
			cur = arr[s]
		}
	}
	return cur, nil
}

var pathSegPattern = regexp.MustCompile(`[^.\[\]]+|\[\d+\]`)

func splitPath(path string) ([]any, error) {
	raw := pathSegPattern.FindAllString(path, -1)
	if raw == nil {
		return nil, errors.New(errors.KindVariableUnresolved, fmt.Sprintf("malformed path %q", path))
	}
	segs := make([]any, 0, len(raw))
	for _, r := range raw {
		if strings.HasPrefix(r, "[") {
			n, err := strconv.Atoi(strings.Trim(r, "[]"))
			if err != nil {
				return nil, errors.New(errors.KindVariableUnresolved, fmt.Sprintf("malformed index %q", r))
			}
			segs = append(segs, n)
		} else {
			segs = append(segs, r)
		}
	}
	return segs, nil
}

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

// Package graph builds the workflow DAG from a normalized step list,
// detects cycles, and computes a deterministic layered topological
// order. None of this has a direct analog in the teacher repo (its
// workflows are ordered step lists, not a dependency graph) — it is
// built in the teacher's general idiom: small pure functions, typed
// errors, table-driven tests.
package graph

import (
	"fmt"
	"sort"

	"github.com/tombee/orbyt/pkg/diag"
	"github.com/tombee/orbyt/pkg/workflow"
)

// DAG is the immutable compiled dependency graph (spec §3).
type DAG struct {
	Nodes     map[string]workflow.PlannedStep
	Forward   map[string][]string // id -> deps (needs)
	Reverse   map[string][]string // id -> dependents
	Entry     []string            // zero-deps ids, sorted
	Exit      []string            // zero-dependents ids, sorted
}

// Build constructs a DAG from steps, rejecting duplicate ids,
// self-dependency, and dangling needs references. It does not check for
// cycles — call DetectCycle separately once Build succeeds.
func Build(steps []workflow.PlannedStep) (*DAG, diag.List) {
	var diags diag.List

	nodes := make(map[string]workflow.PlannedStep, len(steps))
	forward := make(map[string][]string, len(steps))
	reverse := make(map[string][]string, len(steps))

	for i, s := range steps {
		path := fmt.Sprintf("steps[%d]", i)
		if _, exists := nodes[s.ID]; exists {
			diags = append(diags, diag.New("ORBYT-GPH-001", path+".id", fmt.Sprintf("duplicate step id %q", s.ID)))
			continue
		}
		nodes[s.ID] = s
		forward[s.ID] = nil
		if _, ok := reverse[s.ID]; !ok {
			reverse[s.ID] = nil
		}
	}

	for i, s := range steps {
		path := fmt.Sprintf("steps[%d]", i)
		for _, dep := range s.Needs {
			if dep == s.ID {
				diags = append(diags, diag.New("ORBYT-GPH-002", path+".needs", fmt.Sprintf("step %q depends on itself", s.ID)))
				continue
			}
			if _, ok := nodes[dep]; !ok {
				d := diag.New("ORBYT-GPH-003", path+".needs", fmt.Sprintf("step %q needs unknown step id %q", s.ID, dep))
				if sug := diag.Suggest(dep, idList(nodes)); sug != "" {
					d.WithHint(fmt.Sprintf("did you mean %q?", sug))
				}
				diags = append(diags, d)
				continue
			}
			forward[s.ID] = append(forward[s.ID], dep)
			reverse[dep] = append(reverse[dep], s.ID)
		}
	}

	if diags.HasErrors() {
		return nil, diags
	}

	var entry, exit []string
	for id := range nodes {
		if len(forward[id]) == 0 {
			entry = append(entry, id)
		}
		if len(reverse[id]) == 0 {
			exit = append(exit, id)
		}
	}
	sort.Strings(entry)
	sort.Strings(exit)

	return &DAG{Nodes: nodes, Forward: forward, Reverse: reverse, Entry: entry, Exit: exit}, diags
}

func idList(nodes map[string]workflow.PlannedStep) []string {
	out := make([]string, 0, len(nodes))
	for id := range nodes {
		out = append(out, id)
	}
	return out
}

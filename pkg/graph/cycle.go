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

package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tombee/orbyt/pkg/diag"
	"github.com/tombee/orbyt/pkg/workflow"
)

type color int

const (
	white color = iota
	gray
	black
)

// DetectCycle runs a three-color DFS over d.Forward (id -> deps),
// reporting the first cycle found. The DFS is recursive (one nested
// visit call per node on the current path), not iterative. On encountering a gray node
// already on the current DFS stack, it reconstructs the cycle path as
// the stack slice from that node's first occurrence through to the
// closing node (spec §4.4).
//
// Node visitation order is sorted for determinism: the same DAG always
// reports the same cycle path across runs.
func (d *DAG) DetectCycle() diag.List {
	colors := make(map[string]color, len(d.Nodes))
	var stack []string
	stackPos := make(map[string]int)

	ids := idListSorted(d.Nodes)

	var visit func(id string) diag.List
	visit = func(id string) diag.List {
		colors[id] = gray
		stackPos[id] = len(stack)
		stack = append(stack, id)

		deps := append([]string(nil), d.Forward[id]...)
		sort.Strings(deps)
		for _, dep := range deps {
			switch colors[dep] {
			case white:
				if diags := visit(dep); diags != nil {
					return diags
				}
			case gray:
				start := stackPos[dep]
				cyclePath := append(append([]string(nil), stack[start:]...), dep)
				return diag.List{diag.New(
					"ORBYT-GPH-004",
					"",
					fmt.Sprintf("dependency cycle detected: %s", strings.Join(cyclePath, " -> ")),
				).WithContext("cycle", cyclePath)}
			case black:
				// already fully explored, no cycle through here
			}
		}

		colors[id] = black
		stack = stack[:len(stack)-1]
		delete(stackPos, id)
		return nil
	}

	for _, id := range ids {
		if colors[id] == white {
			if diags := visit(id); diags != nil {
				return diags
			}
		}
	}
	return nil
}

func idListSorted(nodes map[string]workflow.PlannedStep) []string {
	out := make([]string, 0, len(nodes))
	for id := range nodes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

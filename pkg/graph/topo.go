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
	"sort"

	"github.com/tombee/orbyt/pkg/errors"
)

// Layers computes a deterministic topological layering via Kahn's
// algorithm: at each round, every zero-in-degree node forms one
// parallel-eligible layer, with ids within a layer sorted lexicographically
// for deterministic tests (spec §4.4).
//
// Layers fails with KindInternalError if the resulting order omits any
// node — a defensive check that should never trigger once DetectCycle
// has already run clean.
func (d *DAG) Layers() ([][]string, error) {
	inDegree := make(map[string]int, len(d.Nodes))
	for id := range d.Nodes {
		inDegree[id] = len(d.Forward[id])
	}

	var layers [][]string
	visited := 0

	for {
		var layer []string
		for id, deg := range inDegree {
			if deg == 0 {
				layer = append(layer, id)
			}
		}
		if len(layer) == 0 {
			break
		}
		sort.Strings(layer)
		layers = append(layers, layer)

		for _, id := range layer {
			delete(inDegree, id)
			visited++
			for _, dependent := range d.Reverse[id] {
				if _, ok := inDegree[dependent]; ok {
					inDegree[dependent]--
				}
			}
		}
	}

	if visited != len(d.Nodes) {
		return nil, errors.New(errors.KindInternalError, "topological sort omitted nodes despite a clean cycle check")
	}
	return layers, nil
}

// Flatten concatenates Layers' output into a single ordering (layer
// order, lexicographic within layer).
func (d *DAG) Flatten() ([]string, error) {
	layers, err := d.Layers()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, l := range layers {
		out = append(out, l...)
	}
	return out, nil
}

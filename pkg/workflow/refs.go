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

package workflow

import (
	"fmt"
	"regexp"

	"github.com/tombee/orbyt/pkg/diag"
)

// stepRefPattern matches "steps.<id>." references inside a ${...}
// expression, the only root the static pass checks (spec §4.5:
// "validateStepReferences... scans input for steps.<id>.… references").
var stepRefPattern = regexp.MustCompile(`\$\{steps\.([A-Za-z0-9_-]+)\.`)

// ValidateStepReferences performs the compile-time static pass over
// every step's input, rejecting any "${steps.<id>...}" reference whose
// <id> is not among the workflow's declared step ids. It does not check
// acyclicity of data flow — pkg/graph's cycle detector does that.
func ValidateStepReferences(steps []PlannedStep) diag.List {
	declared := make(map[string]bool, len(steps))
	for _, s := range steps {
		declared[s.ID] = true
	}

	var diags diag.List
	for i, s := range steps {
		path := fmt.Sprintf("steps[%d].with", i)
		walkRefs(path, s.Input, declared, &diags)
	}
	return diags
}

func walkRefs(path string, v any, declared map[string]bool, diags *diag.List) {
	switch val := v.(type) {
	case string:
		for _, m := range stepRefPattern.FindAllStringSubmatch(val, -1) {
			id := m[1]
			if !declared[id] {
				d := diag.New("ORBYT-RES-001", path, fmt.Sprintf("reference to undeclared step id %q", id))
				if s := diag.Suggest(id, declaredIDs(declared)); s != "" {
					d.WithHint(fmt.Sprintf("did you mean %q?", s))
				}
				*diags = append(*diags, d)
			}
		}
	case map[string]any:
		for k, sub := range val {
			walkRefs(path+"."+k, sub, declared, diags)
		}
	case []any:
		for i, sub := range val {
			walkRefs(fmt.Sprintf("%s[%d]", path, i), sub, declared, diags)
		}
	}
}

func declaredIDs(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

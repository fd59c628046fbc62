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

// Package schema validates a raw workflow document's shape before the
// step normalizer converts it into PlannedStep records.
package schema

import (
	"fmt"
	"strings"

	"github.com/tombee/orbyt/pkg/diag"
	"github.com/tombee/orbyt/pkg/workflow"
	"gopkg.in/yaml.v3"
)

// knownTopLevelKeys is the allow-list for the document's top-level
// fields (spec §4.3: "rejects unknown top-level keys").
var knownTopLevelKeys = map[string]bool{
	"name": true, "description": true, "continueOnError": true,
	"timeout": true, "env": true, "vars": true, "steps": true,
	"sandbox": true, "resources": true, "executionMode": true, "priority": true,
}

// knownStepKeys is the allow-list for one step entry's fields.
var knownStepKeys = map[string]bool{
	"id": true, "name": true, "uses": true, "with": true, "needs": true,
	"when": true, "continueOnError": true, "retry": true, "timeout": true,
	"env": true, "outputs": true,
}

// Parse decodes raw YAML/JSON bytes into a workflow.Document without
// validating its contents — callers should follow with Validate.
func Parse(data []byte) (*workflow.Document, error) {
	var doc workflow.Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode workflow document: %w", err)
	}
	return &doc, nil
}

// Validate checks a raw document's shape, returning every diagnostic
// found (no partial validation — spec §7: "all compile-time errors are
// fatal and surfaced immediately with the full diagnostic list").
//
// Validate re-decodes data into a generic map so it can catch unknown
// keys that a typed yaml.Unmarshal into workflow.Document would silently
// drop.
func Validate(data []byte) diag.List {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return diag.List{diag.New("ORBYT-SCH-000", "", "document is not valid YAML/JSON: "+err.Error())}
	}

	var diags diag.List
	for key := range raw {
		if !knownTopLevelKeys[key] {
			d := diag.New("ORBYT-SCH-001", key, fmt.Sprintf("unknown top-level key %q", key))
			if s := diag.Suggest(key, keys(knownTopLevelKeys)); s != "" {
				d.WithHint(fmt.Sprintf("did you mean %q?", s))
			}
			diags = append(diags, d)
		}
	}

	if name, ok := raw["name"]; !ok || !isNonEmptyString(name) {
		diags = append(diags, diag.New("ORBYT-SCH-002", "name", "\"name\" is required and must be a non-empty string"))
	}

	stepsRaw, ok := raw["steps"]
	if !ok {
		diags = append(diags, diag.New("ORBYT-SCH-003", "steps", "\"steps\" is required"))
		return diags
	}
	stepList, ok := stepsRaw.([]any)
	if !ok {
		diags = append(diags, diag.New("ORBYT-SCH-003", "steps", "\"steps\" must be an array"))
		return diags
	}
	if len(stepList) == 0 {
		diags = append(diags, diag.New("ORBYT-SCH-004", "steps", "\"steps\" must contain at least one step").
			WithSeverity(diag.SeverityWarning))
	}

	for i, s := range stepList {
		path := fmt.Sprintf("steps[%d]", i)
		step, ok := s.(map[string]any)
		if !ok {
			diags = append(diags, diag.New("ORBYT-SCH-005", path, "step entry must be an object"))
			continue
		}
		diags = append(diags, validateStep(path, step)...)
	}

	return diags
}

func validateStep(path string, step map[string]any) diag.List {
	var diags diag.List

	for key := range step {
		if !knownStepKeys[key] {
			d := diag.New("ORBYT-SCH-006", path+"."+key, fmt.Sprintf("unknown step key %q", key))
			if s := diag.Suggest(key, keys(knownStepKeys)); s != "" {
				d.WithHint(fmt.Sprintf("did you mean %q?", s))
			}
			diags = append(diags, d)
		}
	}

	if id, ok := step["id"]; !ok || !isNonEmptyString(id) {
		diags = append(diags, diag.New("ORBYT-SCH-007", path+".id", "\"id\" is required and must be a non-empty string"))
	}

	if uses, ok := step["uses"]; !ok {
		diags = append(diags, diag.New("ORBYT-SCH-008", path+".uses", "\"uses\" is required"))
	} else if s, ok := uses.(string); !ok || strings.TrimSpace(s) == "" {
		diags = append(diags, diag.New("ORBYT-SCH-008", path+".uses", "\"uses\" must be a non-empty string"))
	}

	if needs, ok := step["needs"]; ok {
		if _, ok := needs.([]any); !ok {
			diags = append(diags, diag.New("ORBYT-SCH-009", path+".needs", "\"needs\" must be an array of strings"))
		}
	}

	if retry, ok := step["retry"]; ok {
		retryMap, ok := retry.(map[string]any)
		if !ok {
			diags = append(diags, diag.New("ORBYT-SCH-010", path+".retry", "\"retry\" must be an object"))
		} else if max, ok := retryMap["max"]; ok {
			n, ok := toInt(max)
			if !ok || n < 0 || n > 10 {
				diags = append(diags, diag.New("ORBYT-SCH-011", path+".retry.max", "\"retry.max\" must be an integer in [0,10]"))
			}
		}
	}

	return diags
}

func isNonEmptyString(v any) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) != ""
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

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
	"github.com/tombee/orbyt/pkg/diag"
	"github.com/tombee/orbyt/pkg/limits"
	"github.com/tombee/orbyt/pkg/workflow/schema"
)

// Compile runs the validate -> normalize -> static-reference-check
// pipeline (C3 -> C4, plus the §4.5 static pass), clamps the
// workflow-level settings to tier, and returns the resulting Workflow
// (its Steps field holds the normalized step list) together with the
// diagnostics gathered. Graph construction and cycle
// detection (C5/C6) are performed by the caller via pkg/graph, since
// pkg/workflow does not import it (avoiding an import cycle with
// nothing gained — graph.Build only needs []PlannedStep).
//
// Compile stops at the first stage that reports an error and returns a
// nil Workflow with the diagnostics gathered up to that stage; later
// stages are not run, so their errors are not reported in that call.
// Warnings (e.g. clamp notices) accompany a successful Workflow.
func Compile(data []byte, tier limits.TierLimits) (*Workflow, diag.List) {
	var diags diag.List

	diags = append(diags, schema.Validate(data)...)
	if diags.HasErrors() {
		return nil, diags
	}

	doc, err := schema.Parse(data)
	if err != nil {
		diags = append(diags, diag.New("ORBYT-SCH-000", "", err.Error()))
		return nil, diags
	}

	steps, normDiags := Normalize(doc, tier)
	diags = append(diags, normDiags...)
	if diags.HasErrors() {
		return nil, diags
	}

	diags = append(diags, ValidateStepReferences(steps)...)
	if diags.HasErrors() {
		return nil, diags
	}

	workflowTimeout, clamped := limits.ClampTimeout(doc.Timeout, limits.WorkflowLevel, tier)
	if clamped {
		diags = append(diags, diag.New("ORBYT-LIM-003", "timeout", "workflow timeout clamped to tier ceiling").
			WithSeverity(diag.SeverityWarning))
	}

	resources, resClamped := limits.ClampResources(limits.RequestedResources{
		CPU: doc.Resources.CPU, Memory: doc.Resources.Memory, Disk: doc.Resources.Disk,
	}, tier)
	if resClamped {
		diags = append(diags, diag.New("ORBYT-LIM-004", "resources", "resource request clamped to tier ceiling").
			WithSeverity(diag.SeverityWarning))
	}

	sandbox, sandboxClamped := limits.ClampSandbox(limits.ParseSandboxLevel(doc.Sandbox), tier)
	if sandboxClamped {
		diags = append(diags, diag.New("ORBYT-LIM-005", "sandbox", "sandbox level raised to tier floor").
			WithSeverity(diag.SeverityWarning))
	}

	executionMode, modeClamped := limits.ClampExecutionMode(doc.ExecutionMode, tier)
	if modeClamped {
		diags = append(diags, diag.New("ORBYT-LIM-006", "executionMode", "execution mode not allowed by tier, substituted").
			WithSeverity(diag.SeverityWarning))
	}

	priority, priorityClamped := limits.ClampPriority(doc.Priority, tier)
	if priorityClamped {
		diags = append(diags, diag.New("ORBYT-LIM-007", "priority", "priority downgraded; tier forbids high priority").
			WithSeverity(diag.SeverityWarning))
	}

	env := doc.Env
	if env == nil {
		env = map[string]string{}
	}

	wf := &Workflow{
		Name:            doc.Name,
		Description:     doc.Description,
		Steps:           steps,
		ContinueOnError: doc.ContinueOnError,
		TimeoutMS:       workflowTimeout.Milliseconds(),
		Env:             env,
		Vars:            doc.Vars,
		Sandbox:         sandbox.String(),
		Resources:       resources,
		ExecutionMode:   executionMode,
		Priority:        priority,
	}
	return wf, diags
}

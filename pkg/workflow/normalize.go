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
	"strings"

	"github.com/tombee/orbyt/pkg/diag"
	"github.com/tombee/orbyt/pkg/limits"
)

// builtinAdapterKinds are the registered adapter kinds (spec §3); any
// action whose first dotted token is not one of these is tagged
// "plugin".
var builtinAdapterKinds = map[string]bool{
	"http": true, "shell": true, "cli": true, "fs": true,
	"db": true, "queue": true, "secrets": true, "webhook": true,
}

// requiredInputKeys lists, per adapter kind, the set of input keys of
// which at least one must be present (spec §4.3 table). An adapter kind
// absent from this map has no required-input check at normalization
// time.
var requiredInputKeys = map[string][]string{
	"http":  {"url"},
	"shell": {"command", "script"},
	"cli":   {"command"},
}

// AdapterKind returns the first dotted token of action, tagging anything
// outside the built-in set as "plugin".
func AdapterKind(action string) string {
	kind, _, _ := strings.Cut(action, ".")
	if builtinAdapterKinds[kind] {
		return kind
	}
	return "plugin"
}

// Normalize converts a validated Document into an ordered slice of
// PlannedStep, applying defaults and adapter-kind resolution, clamping
// retry/timeout values against tier, and checking each adapter's
// required-input keys. It assumes the document has already passed
// schema.Validate.
func Normalize(doc *Document, tier limits.TierLimits) ([]PlannedStep, diag.List) {
	var diags diag.List
	steps := make([]PlannedStep, 0, len(doc.Steps))

	for i, sd := range doc.Steps {
		path := fmt.Sprintf("steps[%d]", i)
		step, stepDiags := normalizeStep(path, sd, tier)
		diags = append(diags, stepDiags...)
		steps = append(steps, step)
	}

	return steps, diags
}

func normalizeStep(path string, sd StepDefinition, tier limits.TierLimits) (PlannedStep, diag.List) {
	var diags diag.List

	if strings.TrimSpace(sd.ID) == "" {
		diags = append(diags, diag.New("ORBYT-NRM-001", path+".id", "step id must not be empty"))
	}
	if strings.TrimSpace(sd.Uses) == "" {
		diags = append(diags, diag.New("ORBYT-NRM-002", path+".uses", "\"uses\" must not be empty"))
	}

	kind := AdapterKind(sd.Uses)

	input := sd.With
	if input == nil {
		input = map[string]any{}
	}
	if required, ok := requiredInputKeys[kind]; ok {
		if !anyKeyPresent(input, required) {
			diags = append(diags, diag.New(
				"ORBYT-NRM-003",
				path+".with",
				fmt.Sprintf("adapter %q requires one of input key(s) %s", kind, strings.Join(required, ", ")),
			).WithHint(fmt.Sprintf("add one of %s under \"with\"", strings.Join(required, ", "))))
		}
	}

	needs := sd.Needs
	if needs == nil {
		needs = []string{}
	}

	retry, retryClamped := normalizeRetry(sd.Retry, tier)
	if retryClamped {
		diags = append(diags, diag.New("ORBYT-LIM-001", path+".retry.max", "retry.max clamped to tier ceiling").
			WithSeverity(diag.SeverityWarning))
	}

	timeoutDur, timeoutClamped := limits.ClampTimeout(sd.Timeout, limits.StepLevel, tier)
	if timeoutClamped {
		diags = append(diags, diag.New("ORBYT-LIM-002", path+".timeout", "timeout clamped to tier ceiling").
			WithSeverity(diag.SeverityWarning))
	}

	env := sd.Env
	if env == nil {
		env = map[string]string{}
	}

	step := PlannedStep{
		ID:              sd.ID,
		Name:            sd.Name,
		Action:          sd.Uses,
		AdapterKind:     kind,
		Input:           input,
		Needs:           needs,
		When:            sd.When,
		ContinueOnError: sd.ContinueOnError,
		Retry:           retry,
		TimeoutMS:       timeoutDur.Milliseconds(),
		Env:             env,
		Outputs:         sd.Outputs,
	}
	return step, diags
}

func normalizeRetry(rd *RetryDefinition, tier limits.TierLimits) (RetryPolicy, bool) {
	if rd == nil {
		max, clamped := limits.ClampRetry(nil, tier)
		return RetryPolicy{Max: max, Backoff: BackoffLinear, DelayMS: 0}, clamped
	}

	requested := rd.Max
	max, clamped := limits.ClampRetry(&requested, tier)

	backoff := Backoff(rd.Backoff)
	if backoff != BackoffLinear && backoff != BackoffExponential {
		backoff = BackoffLinear
	}

	delay := rd.Delay
	if delay < 0 {
		delay = 0
	}

	return RetryPolicy{Max: max, Backoff: backoff, DelayMS: delay}, clamped
}

func anyKeyPresent(m map[string]any, keys []string) bool {
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

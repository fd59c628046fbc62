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

// Package workflow holds the document model (as decoded from YAML/JSON),
// the step normalizer, and Compile, which together with the validator in
// the schema subpackage turn a raw document into a compiled Workflow of
// PlannedStep records.
package workflow

import "github.com/tombee/orbyt/pkg/limits"

// Document is the raw, decoded shape of a workflow document (spec §6).
// Fields are concrete types; the schema validator reports precise,
// path-qualified errors from its own generic decode of the same bytes
// before any typed conversion happens.
type Document struct {
	Name            string            `yaml:"name"`
	Description     string            `yaml:"description,omitempty"`
	ContinueOnError bool              `yaml:"continueOnError,omitempty"`
	Timeout         string            `yaml:"timeout,omitempty"`
	Env             map[string]string `yaml:"env,omitempty"`
	Vars            map[string]any    `yaml:"vars,omitempty"`
	Steps           []StepDefinition  `yaml:"steps"`

	// Sandbox, Resources, ExecutionMode, and Priority are the workflow's
	// requested (unclamped) values for the C2 policy layer (spec §4.2);
	// Compile clamps each to the active tier before anything downstream
	// — including adapters — ever sees them.
	Sandbox       string             `yaml:"sandbox,omitempty"`
	Resources     ResourcesRequest   `yaml:"resources,omitempty"`
	ExecutionMode string             `yaml:"executionMode,omitempty"`
	Priority      string             `yaml:"priority,omitempty"`
}

// ResourcesRequest is the raw cpu/memory/disk request, each a
// size-string like "512MB" or empty.
type ResourcesRequest struct {
	CPU    string `yaml:"cpu,omitempty"`
	Memory string `yaml:"memory,omitempty"`
	Disk   string `yaml:"disk,omitempty"`
}

// StepDefinition is the raw, decoded shape of one step entry.
type StepDefinition struct {
	ID              string            `yaml:"id"`
	Name            string            `yaml:"name,omitempty"`
	Uses            string            `yaml:"uses"`
	With            map[string]any    `yaml:"with,omitempty"`
	Needs           []string          `yaml:"needs,omitempty"`
	When            string            `yaml:"when,omitempty"`
	ContinueOnError bool              `yaml:"continueOnError,omitempty"`
	Retry           *RetryDefinition  `yaml:"retry,omitempty"`
	Timeout         string            `yaml:"timeout,omitempty"`
	Env             map[string]string `yaml:"env,omitempty"`
	Outputs         map[string]string `yaml:"outputs,omitempty"`
}

// RetryDefinition is the raw retry policy as declared in a document.
type RetryDefinition struct {
	Max     int    `yaml:"max"`
	Backoff string `yaml:"backoff,omitempty"`
	Delay   int    `yaml:"delay,omitempty"`
}

// Backoff strategies for retry delay computation.
type Backoff string

const (
	BackoffLinear      Backoff = "linear"
	BackoffExponential Backoff = "exponential"
)

// RetryPolicy is the normalized, validated retry policy attached to a
// PlannedStep.
type RetryPolicy struct {
	Max     int
	Backoff Backoff
	DelayMS int
}

// PlannedStep is the normalized unit of execution (spec §3).
type PlannedStep struct {
	ID              string
	Name            string
	Action          string
	AdapterKind     string
	Input           map[string]any
	Needs           []string
	When            string
	ContinueOnError bool
	Retry           RetryPolicy
	TimeoutMS       int64
	Env             map[string]string
	Outputs         map[string]string
}

// Workflow is the compiled plan (spec §3): an ordered list of
// PlannedStep and workflow-level defaults. It holds no DAG; the caller
// builds one from Steps with pkg/graph.Build, keeping this package free
// of a dependency on pkg/graph.
type Workflow struct {
	Name            string
	Description     string
	Steps           []PlannedStep
	ContinueOnError bool
	TimeoutMS       int64
	Env             map[string]string
	Vars            map[string]any

	// Sandbox, Resources, ExecutionMode, and Priority are already clamped
	// to the active tier (C2); nothing downstream re-derives them from
	// the raw document.
	Sandbox       string
	Resources     limits.ResourceCeilings
	ExecutionMode string
	Priority      string
}

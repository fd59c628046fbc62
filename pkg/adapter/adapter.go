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

// Package adapter defines the uniform Adapter contract (C8) every
// built-in and plugin integration satisfies, plus the registry that maps
// adapter kind to implementation and dispatches by glob-matched action.
package adapter

import (
	"context"
	"log/slog"
	"time"

	"github.com/tombee/orbyt/pkg/limits"
)

// Capabilities describes what an adapter can do, informing the
// scheduler and policy layer (e.g. whether a step is safely retriable).
type Capabilities struct {
	Concurrent bool
	Cacheable  bool
	Idempotent bool
	Resources  struct {
		Filesystem bool
		Network    bool
	}
	Cost string
}

// Context is the only view of the run an adapter receives: a deadline,
// a logger, env, identifying ids, and a redacted-secrets view. It never
// carries unclamped user-requested limits — those are consulted only by
// pkg/limits.
type Context struct {
	Ctx       context.Context
	Log       func(msg string, level slog.Level)
	Deadline  time.Time
	Env       map[string]string
	RunID     string
	StepID    string
	Secrets   map[string]string // redacted view: values are masking tokens, not raw secrets
	SealedJWT string            // the signed InternalExecutionContext, verifiable not forgeable

	// Sandbox, Resources, and Priority are the already-enforced (pkg/limits
	// clamped) values for this run — never the raw workflow/step request.
	Sandbox   string
	Resources limits.ResourceCeilings
	Priority  string
}

// ResultError is the structured failure payload of a Result.
type ResultError struct {
	Message string
	Code    string
	Details map[string]any
}

// Result is the uniform adapter response (spec §3 AdapterResult). An
// adapter must always return one — never panic or throw — for
// user-domain failures; only fatal internal bugs may bubble as a Go
// error from Execute.
type Result struct {
	Success    bool
	Data       any
	Error      *ResultError
	DurationMS int64
	Logs       []string
	Warnings   []string
	Effects    []string
}

// Adapter is the one surface the step executor sees.
type Adapter interface {
	Name() string
	Version() string
	SupportedActions() []string
	Capabilities() Capabilities
	Execute(action string, input map[string]any, ctx Context) (Result, error)
}

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

// Package exec implements the step executor (C10): one step's full
// lifecycle — dependency gate (the caller's job, via runstate), `when`
// evaluation, context build, input resolution, timed adapter dispatch,
// output projection, and the retry/backoff loop — grounded on the
// teacher's Executor.Execute/executeWithRetry.
package exec

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tombee/orbyt/pkg/adapter"
	"github.com/tombee/orbyt/pkg/diag"
	"github.com/tombee/orbyt/pkg/errors"
	"github.com/tombee/orbyt/pkg/events"
	"github.com/tombee/orbyt/pkg/exectx"
	"github.com/tombee/orbyt/pkg/resolve"
	"github.com/tombee/orbyt/pkg/runstate"
	"github.com/tombee/orbyt/pkg/workflow"
)

// timeoutGrace is how long a timed-out attempt is given to exit
// cooperatively before the executor abandons it (spec §4.7: "wait up to
// a grace (5s) for cooperative exit, then abandon").
const timeoutGrace = 5 * time.Second

// Outcome is the terminal result of running one step to completion
// (after exhausting retries or skipping).
type Outcome struct {
	Status     runstate.Status
	Output     any
	Err        *errors.EngineError
	SkipReason events.SkipReason
	// Attempts is the number of adapter dispatches actually made (spec
	// §3 ExecutionState.attempt[id]); 0 for a step that never dispatched
	// (e.g. a `when:false` skip). A dry-run step reports 1 even though no
	// adapter is invoked. The scheduler, not this package, owns
	// writing it into runstate.State.
	Attempts int
}

// SnapshotFunc produces a fresh point-in-time resolve.Snapshot; the
// executor calls it once per dispatch attempt (spec §4.5: resolution is
// lazy, against the snapshot current at dispatch time).
type SnapshotFunc func() resolve.Snapshot

// Deps bundles every collaborator one step attempt needs.
type Deps struct {
	Registry *adapter.Registry
	Resolver *resolve.Resolver
	When     *resolve.WhenEvaluator
	Bus      *events.Bus
	ExecCtx  *exectx.Context
	Sealer   *exectx.Sealer
	Logger   *slog.Logger
	DryRun   bool
}

// Run executes step to completion: `when` gate, then the dispatch/retry
// loop (spec §4.7 steps 2-8). ctx carries workflow-level cancellation;
// it is the parent of every attempt's timeout context.
func Run(ctx context.Context, step workflow.PlannedStep, snapshot SnapshotFunc, deps Deps) Outcome {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	whenCtx := snapshot().AsExprEnv()
	shouldRun, err := deps.When.Eval(step.When, whenCtx)
	if err != nil {
		return Outcome{Status: runstate.Failed, Err: errors.Wrap(errors.KindVariableUnresolved, "when evaluation failed", err)}
	}
	if !shouldRun {
		deps.Bus.Emit(events.Event{
			Type:        events.StepSkipped,
			StepSkipped: &events.StepSkippedData{StepID: step.ID, StepName: step.Name, Reason: events.ConditionFalse},
		})
		return Outcome{Status: runstate.Skipped, SkipReason: events.ConditionFalse}
	}

	deps.Bus.Emit(events.Event{
		Type: events.StepStarted,
		StepStarted: &events.StepStartedData{
			StepID: step.ID, StepName: step.Name, Adapter: step.AdapterKind, Action: step.Action,
		},
	})

	if deps.DryRun {
		return dryRunOutcome(step, deps)
	}

	return runWithRetry(ctx, step, snapshot, deps, logger)
}

func dryRunOutcome(step workflow.PlannedStep, deps Deps) Outcome {
	data := map[string]any{"dryRun": true}
	deps.Bus.Emit(events.Event{
		Type:          events.StepCompleted,
		StepCompleted: &events.StepCompletedData{StepID: step.ID, StepName: step.Name, DurationMS: 0, Output: data},
	})
	return Outcome{Status: runstate.Succeeded, Output: data, Attempts: 1}
}

// runWithRetry drives dispatchOnce per spec §4.7 step 7: on failure,
// compute the backoff delay from the attempt that just failed, sleep,
// *then* increment the attempt counter and emit step.retrying with the
// new (upcoming) attempt number — matching scenario S3's pinned
// sequence (attempt=2,nextDelay=10 then attempt=3,nextDelay=20 for a
// delay=10 exponential policy).
func runWithRetry(ctx context.Context, step workflow.PlannedStep, snapshot SnapshotFunc, deps Deps, logger *slog.Logger) Outcome {
	var lastErr *errors.EngineError
	attempt := 1

	for {
		select {
		case <-ctx.Done():
			return cancelledOutcome(step, deps, errors.KindCancelled, attempt-1)
		default:
		}

		output, attemptErr := dispatchOnce(ctx, step, snapshot, deps, logger)
		if attemptErr == nil {
			deps.Bus.Emit(events.Event{
				Type: events.StepCompleted,
				StepCompleted: &events.StepCompletedData{
					StepID: step.ID, StepName: step.Name, Output: output,
				},
			})
			return Outcome{Status: runstate.Succeeded, Output: output, Attempts: attempt}
		}
		lastErr = attemptErr

		if attempt > step.Retry.Max {
			break
		}

		delay := retryDelay(step.Retry, attempt)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return cancelledOutcome(step, deps, errors.KindCancelled, attempt)
		}

		attempt++
		deps.Bus.Emit(events.Event{
			Type: events.StepRetrying,
			StepRetrying: &events.StepRetryingData{
				StepID: step.ID, StepName: step.Name, Attempt: attempt, MaxAttempts: step.Retry.Max, NextDelayMS: delay.Milliseconds(),
			},
		})
	}

	deps.Bus.Emit(events.Event{
		Type: events.StepFailed,
		StepFailed: &events.StepFailedData{
			StepID: step.ID, StepName: step.Name, ErrorMessage: lastErr.Error(), ErrorCode: string(lastErr.Kind),
		},
	})
	return Outcome{Status: runstate.Failed, Err: lastErr, Attempts: attempt}
}

func cancelledOutcome(step workflow.PlannedStep, deps Deps, kind errors.Kind, attempts int) Outcome {
	engErr := errors.New(kind, fmt.Sprintf("step %q cancelled", step.ID))
	deps.Bus.Emit(events.Event{
		Type: events.StepFailed,
		StepFailed: &events.StepFailedData{
			StepID: step.ID, StepName: step.Name, ErrorMessage: engErr.Error(), ErrorCode: string(kind),
		},
	})
	return Outcome{Status: runstate.Failed, Err: engErr, Attempts: attempts}
}

// retryDelay computes the backoff per spec §4.7: linear = delay*attempt,
// exponential = delay*2^(attempt-1).
func retryDelay(policy workflow.RetryPolicy, attempt int) time.Duration {
	base := time.Duration(policy.DelayMS) * time.Millisecond
	switch policy.Backoff {
	case workflow.BackoffExponential:
		return base * time.Duration(1<<uint(attempt-1))
	default:
		return base * time.Duration(attempt)
	}
}

// dispatchOnce runs one adapter call under a per-attempt timeout,
// resolving inputs against the live snapshot first and projecting
// outputs from the result on success.
func dispatchOnce(ctx context.Context, step workflow.PlannedStep, snapshot SnapshotFunc, deps Deps, logger *slog.Logger) (any, *errors.EngineError) {
	snap := snapshot()

	resolvedInput, err := deps.Resolver.Resolve(any(step.Input), snap)
	if err != nil {
		if ee, ok := err.(*errors.EngineError); ok {
			return nil, ee
		}
		return nil, errors.Wrap(errors.KindVariableUnresolved, "resolving step input", err)
	}
	inputMap, _ := resolvedInput.(map[string]any)

	attemptCtx := ctx
	var cancel context.CancelFunc
	if step.TimeoutMS > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, time.Duration(step.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	sealed := ""
	if deps.Sealer != nil && deps.ExecCtx != nil {
		if s, serr := deps.Sealer.Seal(deps.ExecCtx); serr == nil {
			sealed = s
		}
	}

	adapterCtx := adapter.Context{
		Ctx:       attemptCtx,
		Log:       func(msg string, level slog.Level) { logger.Log(attemptCtx, level, msg, "step_id", step.ID) },
		Env:       step.Env,
		StepID:    step.ID,
		SealedJWT: sealed,
	}
	if deps.ExecCtx != nil {
		adapterCtx.RunID = deps.ExecCtx.Identity.RunID
		// Already enforced by pkg/limits when the run's Context was built
		// (spec §4.2/§4.7 step 3) — the adapter never sees a raw request.
		adapterCtx.Sandbox = deps.ExecCtx.Security.Isolation
		adapterCtx.Resources = deps.ExecCtx.Resources
		adapterCtx.Priority = deps.ExecCtx.Request.Priority
	}

	type dispatchResult struct {
		result adapter.Result
		diag   *diag.Diagnostic
	}
	done := make(chan dispatchResult, 1)
	go func() {
		res, d := deps.Registry.Dispatch(step.AdapterKind, step.Action, inputMap, adapterCtx)
		done <- dispatchResult{result: res, diag: d}
	}()

	select {
	case r := <-done:
		if r.diag != nil {
			return nil, errors.FromDiagnostic(errors.KindAdapterFailure, r.diag)
		}
		if !r.result.Success {
			msg := "adapter reported failure"
			code := string(errors.KindAdapterFailure)
			if r.result.Error != nil {
				if r.result.Error.Message != "" {
					msg = r.result.Error.Message
				}
				if r.result.Error.Code != "" {
					code = r.result.Error.Code
				}
			}
			return nil, errors.New(errors.Kind(code), msg)
		}
		projected, perr := resolve.ProjectOutputs(step.Outputs, r.result.Data)
		if perr != nil {
			return nil, errors.Wrap(errors.KindVariableUnresolved, "projecting step outputs", perr)
		}
		return projected, nil
	case <-attemptCtx.Done():
		select {
		case r := <-done:
			if r.diag == nil && r.result.Success {
				projected, _ := resolve.ProjectOutputs(step.Outputs, r.result.Data)
				return projected, nil
			}
		case <-time.After(timeoutGrace):
		}
		return nil, errors.New(errors.KindStepTimeout, fmt.Sprintf("step %q timed out", step.ID))
	}
}

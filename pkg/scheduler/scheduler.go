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

// Package scheduler implements the workflow scheduler (C11): it drives
// the DAG built by pkg/graph, releasing ready steps into pkg/exec under
// a bounded concurrency gate, absorbing or propagating failures per
// each step's continueOnError policy, and aggregating the run's final
// status. Grounded on the teacher's executeParallel (concurrency-
// limited fan-out over a results channel), generalized from a fixed
// nested-steps list to a dependency-gated DAG walk.
package scheduler

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tombee/orbyt/pkg/diag"
	"github.com/tombee/orbyt/pkg/errors"
	"github.com/tombee/orbyt/pkg/events"
	"github.com/tombee/orbyt/pkg/exec"
	"github.com/tombee/orbyt/pkg/exectx"
	"github.com/tombee/orbyt/pkg/graph"
	"github.com/tombee/orbyt/pkg/limits"
	"github.com/tombee/orbyt/pkg/resolve"
	"github.com/tombee/orbyt/pkg/runstate"
	"github.com/tombee/orbyt/pkg/workflow"

	"log/slog"

	"github.com/tombee/orbyt/pkg/adapter"
)

// Deps bundles every collaborator the scheduler threads through to each
// step's pkg/exec.Run call.
type Deps struct {
	Registry *adapter.Registry
	Resolver *resolve.Resolver
	When     *resolve.WhenEvaluator
	Bus      *events.Bus
	ExecCtx  *exectx.Context
	Sealer   *exectx.Sealer
	Logger   *slog.Logger
	Gate     *limits.ConcurrencyGate
	Secrets  map[string]string
	DryRun   bool
}

// Result is the terminal outcome of one Run call.
type Result struct {
	Status     string // "success" | "partial" | "failed"
	Succeeded  int
	Failed     int
	Skipped    int
	Err        *errors.EngineError
}

type completion struct {
	id      string
	outcome exec.Outcome
}

// Run drives wf's compiled dag to completion, dispatching each ready
// step through pkg/exec. ctx carries run-scoped cancellation; if wf
// declares a workflow-level timeout, Run derives a deadline context
// from it.
func Run(ctx context.Context, wf workflow.Workflow, dag *graph.DAG, runID string, deps Deps) Result {
	if wf.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(wf.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	needCounts := make(map[string]int, len(dag.Nodes))
	for id := range dag.Nodes {
		needCounts[id] = len(dag.Forward[id])
	}
	state := runstate.New(runID, wf.Name, needCounts)

	deps.Bus.Emit(events.Event{
		Type:            events.WorkflowStarted,
		WorkflowStarted: &events.WorkflowStartedData{WorkflowName: wf.Name, TotalSteps: len(dag.Nodes)},
	})
	start := time.Now()

	envMap := mergedEnv(wf.Env)
	snapshot := func() resolve.Snapshot {
		return resolve.Snapshot{
			Vars:         wf.Vars,
			Env:          envMap,
			Secrets:      deps.Secrets,
			WorkflowName: wf.Name,
			RunID:        runID,
			StepStatus:   state.StatusSnapshot(),
			StepOutput:   state.OutputSnapshot(),
		}
	}

	completions := make(chan completion)
	readyQueue := append([]string(nil), dag.Entry...)
	running := 0
	aborting := false
	var runErr *errors.EngineError
	var wg sync.WaitGroup

	dispatch := func(id string) {
		step := dag.Nodes[id]
		state.SetStatus(id, runstate.Running)
		running++
		wg.Add(1)
		go func() {
			defer wg.Done()
			if deps.Gate != nil {
				if err := deps.Gate.Acquire(ctx); err != nil {
					completions <- completion{id: id, outcome: exec.Outcome{Status: runstate.Failed, Err: errors.New(errors.KindCancelled, "workflow cancelled while awaiting a concurrency slot")}}
					return
				}
				defer deps.Gate.Release()
			}
			outcome := exec.Run(ctx, step, snapshot, exec.Deps{
				Registry: deps.Registry,
				Resolver: deps.Resolver,
				When:     deps.When,
				Bus:      deps.Bus,
				ExecCtx:  deps.ExecCtx,
				Sealer:   deps.Sealer,
				Logger:   deps.Logger,
				DryRun:   deps.DryRun,
			})
			completions <- completion{id: id, outcome: outcome}
		}()
	}

	for len(readyQueue) > 0 || running > 0 {
		for len(readyQueue) > 0 {
			id := readyQueue[0]
			readyQueue = readyQueue[1:]
			dispatch(id)
		}
		if running == 0 {
			break
		}

		if aborting {
			c := <-completions
			running--
			recordTerminal(state, c)
			continue
		}

		select {
		case c := <-completions:
			running--
			newReady, hardAbort := handleCompletion(state, dag, deps.Bus, wf, c)
			if hardAbort {
				aborting = true
				runErr = c.outcome.Err
				readyQueue = nil
				continue
			}
			readyQueue = append(readyQueue, newReady...)
		case <-ctx.Done():
			aborting = true
			kind := errors.KindCancelled
			if ctx.Err() == context.DeadlineExceeded {
				kind = errors.KindWorkflowTimeout
			}
			runErr = errors.New(kind, "workflow run cancelled")
			readyQueue = nil
		}
	}

	wg.Wait()

	if aborting {
		cancelAllPending(dag, state, deps.Bus)
	}

	succeeded, failed, skipped := state.Counts()
	durationMS := time.Since(start).Milliseconds()

	result := Result{Succeeded: succeeded, Failed: failed, Skipped: skipped}
	switch {
	case aborting:
		result.Status = "failed"
		result.Err = runErr
		deps.Bus.Emit(events.Event{
			Type: events.WorkflowFailed,
			WorkflowFailed: &events.WorkflowFailedData{
				WorkflowName: wf.Name,
				ErrorMessage: errString(runErr),
				ErrorCode:    string(errKind(runErr)),
				DurationMS:   durationMS,
			},
		})
	case failed > 0:
		result.Status = "partial"
		deps.Bus.Emit(events.Event{
			Type: events.WorkflowCompleted,
			WorkflowCompleted: &events.WorkflowCompletedData{
				WorkflowName: wf.Name, Status: "partial", DurationMS: durationMS,
				SuccessfulSteps: succeeded, FailedSteps: failed, SkippedSteps: skipped,
			},
		})
	default:
		result.Status = "success"
		deps.Bus.Emit(events.Event{
			Type: events.WorkflowCompleted,
			WorkflowCompleted: &events.WorkflowCompletedData{
				WorkflowName: wf.Name, Status: "success", DurationMS: durationMS,
				SuccessfulSteps: succeeded, FailedSteps: failed, SkippedSteps: skipped,
			},
		})
	}
	return result
}

// handleCompletion applies one step's terminal outcome to state and
// reports which dependents became ready, or whether the run must hard-
// abort (spec §4.8: Failed with neither step nor workflow
// continueOnError cascades the entire transitive downstream as
// CancelledDueToUpstream and stops scheduling new work).
func handleCompletion(state *runstate.State, dag *graph.DAG, bus *events.Bus, wf workflow.Workflow, c completion) (newReady []string, hardAbort bool) {
	id := c.id
	step := dag.Nodes[id]

	switch c.outcome.Status {
	case runstate.Succeeded:
		state.SetStatus(id, runstate.Succeeded)
		state.SetOutput(id, c.outcome.Output)
		state.SetAttempt(id, c.outcome.Attempts)
		return decrementDependents(state, dag, id), false

	case runstate.Skipped:
		state.SetStatus(id, runstate.Skipped)
		state.SetOutput(id, nil)
		state.SetSkipReason(id, string(c.outcome.SkipReason))
		return decrementDependents(state, dag, id), false

	case runstate.Failed:
		state.SetStatus(id, runstate.Failed)
		state.SetError(id, toDiagnostic(c.outcome.Err))
		state.SetAttempt(id, c.outcome.Attempts)

		if step.ContinueOnError || wf.ContinueOnError {
			// Absorbed: dependents are gated through as usual. One that
			// resolves ${steps.<id>.output...} fails naturally at
			// dispatch time (the status isn't Succeeded), per spec §9.
			return decrementDependents(state, dag, id), false
		}

		cascadeSkip(dag, state, bus, id, events.UpstreamCancelled)
		return nil, true
	}
	return nil, false
}

// decrementDependents decrements id's dependents' remainingDeps
// counter, returning those that reached zero.
func decrementDependents(state *runstate.State, dag *graph.DAG, id string) []string {
	var ready []string
	for _, dep := range dag.Reverse[id] {
		if state.DecrementRemainingDeps(dep) == 0 {
			ready = append(ready, dep)
		}
	}
	return ready
}

// cascadeSkip marks id's full transitive downstream closure Skipped
// with reason, emitting step.skipped for each — used at the moment a
// hard-aborting failure is discovered, so those steps' terminal state
// is recorded promptly rather than left for the final sweep.
func cascadeSkip(dag *graph.DAG, state *runstate.State, bus *events.Bus, id string, reason events.SkipReason) {
	for _, dep := range dag.Reverse[id] {
		if state.Status(dep) != runstate.Pending {
			continue
		}
		state.SetStatus(dep, runstate.Skipped)
		state.SetSkipReason(dep, string(reason))
		bus.Emit(events.Event{
			Type:        events.StepSkipped,
			StepSkipped: &events.StepSkippedData{StepID: dep, StepName: dag.Nodes[dep].Name, Reason: reason},
		})
		cascadeSkip(dag, state, bus, dep, reason)
	}
}

// cancelAllPending sweeps every step that never started once the run
// is aborting (a hard failure cascade, a workflow timeout, or an
// external cancellation) — covers both the failed step's own subtree
// and any unrelated branch that simply never got a chance to run,
// since "drain ready queue" (spec §4.8) stops scheduling entirely.
func cancelAllPending(dag *graph.DAG, state *runstate.State, bus *events.Bus) {
	for id := range dag.Nodes {
		if state.Status(id) != runstate.Pending {
			continue
		}
		state.SetStatus(id, runstate.Skipped)
		state.SetSkipReason(id, string(events.UpstreamCancelled))
		bus.Emit(events.Event{
			Type:        events.StepSkipped,
			StepSkipped: &events.StepSkippedData{StepID: id, StepName: dag.Nodes[id].Name, Reason: events.UpstreamCancelled},
		})
	}
}

func recordTerminal(state *runstate.State, c completion) {
	switch c.outcome.Status {
	case runstate.Succeeded:
		state.SetStatus(c.id, runstate.Succeeded)
		state.SetOutput(c.id, c.outcome.Output)
		state.SetAttempt(c.id, c.outcome.Attempts)
	case runstate.Skipped:
		state.SetStatus(c.id, runstate.Skipped)
		state.SetSkipReason(c.id, string(c.outcome.SkipReason))
	case runstate.Failed:
		state.SetStatus(c.id, runstate.Failed)
		state.SetError(c.id, toDiagnostic(c.outcome.Err))
		state.SetAttempt(c.id, c.outcome.Attempts)
	}
}

func toDiagnostic(err *errors.EngineError) *diag.Diagnostic {
	if err == nil {
		return nil
	}
	if err.Diagnostic != nil {
		return err.Diagnostic
	}
	return diag.New(string(err.Kind), "", err.Error())
}

func errString(err *errors.EngineError) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func errKind(err *errors.EngineError) errors.Kind {
	if err == nil {
		return errors.KindInternalError
	}
	return err.Kind
}

// mergedEnv layers declared onto the process environment, declared
// values winning on conflict (spec §6: "process env is read-through
// into step env unless shadowed").
func mergedEnv(declared map[string]string) map[string]string {
	out := make(map[string]string, len(declared))
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}
	for k, v := range declared {
		out[k] = v
	}
	return out
}

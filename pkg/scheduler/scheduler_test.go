package scheduler

import (
	"context"
	"sync"
	"testing"

	"github.com/tombee/orbyt/pkg/adapter"
	"github.com/tombee/orbyt/pkg/errors"
	"github.com/tombee/orbyt/pkg/events"
	"github.com/tombee/orbyt/pkg/graph"
	"github.com/tombee/orbyt/pkg/limits"
	"github.com/tombee/orbyt/pkg/resolve"
	"github.com/tombee/orbyt/pkg/workflow"
)

// scriptedAdapter returns Success unless id is listed in fail, in which
// case it returns a failure result exactly once (then succeeds on
// retry, if any).
type scriptedAdapter struct {
	mu   sync.Mutex
	fail map[string]bool
}

func (a *scriptedAdapter) Name() string               { return "fake" }
func (a *scriptedAdapter) Version() string            { return "test" }
func (a *scriptedAdapter) SupportedActions() []string { return []string{"*"} }
func (a *scriptedAdapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{}
}
func (a *scriptedAdapter) Execute(action string, input map[string]any, ctx adapter.Context) (adapter.Result, error) {
	a.mu.Lock()
	shouldFail := a.fail[ctx.StepID]
	delete(a.fail, ctx.StepID)
	a.mu.Unlock()
	if shouldFail {
		return adapter.Result{Success: false, Error: &adapter.ResultError{Message: "scripted failure", Code: "AdapterFailure"}}, nil
	}
	return adapter.Result{Success: true, Data: map[string]any{"ok": true}}, nil
}

func newTestDeps(fail map[string]bool) Deps {
	reg := adapter.NewRegistry()
	reg.Register("fake", &scriptedAdapter{fail: fail})
	return Deps{
		Registry: reg,
		Resolver: resolve.New(),
		When:     resolve.NewWhenEvaluator(),
		Bus:      events.NewBus(nil),
		Gate:     limits.NewConcurrencyGate(limits.TierLimits{MaxConcurrency: 4}),
	}
}

func step(id string, needs ...string) workflow.PlannedStep {
	return workflow.PlannedStep{
		ID: id, Name: id, AdapterKind: "fake", Action: "fake.do",
		Input: map[string]any{}, Needs: needs,
		Retry: workflow.RetryPolicy{Max: 0, Backoff: workflow.BackoffLinear, DelayMS: 1},
	}
}

func TestRunLinearSuccess(t *testing.T) {
	steps := []workflow.PlannedStep{step("a"), step("b", "a")}
	dag, diags := graph.Build(steps)
	if diags.HasErrors() {
		t.Fatalf("unexpected build diagnostics: %v", diags)
	}
	wf := workflow.Workflow{Name: "wf", Steps: steps}
	res := Run(context.Background(), wf, dag, "run1", newTestDeps(nil))

	if res.Status != "success" {
		t.Fatalf("got status %q, want success", res.Status)
	}
	if res.Succeeded != 2 || res.Failed != 0 {
		t.Errorf("got succeeded=%d failed=%d, want 2/0", res.Succeeded, res.Failed)
	}
}

func TestRunFanOutFanInAbsorbedFailure(t *testing.T) {
	// a -> {b, c} -> d ; b fails with continueOnError, d does not
	// reference b's output so it still runs successfully (spec §9/S4).
	a := step("a")
	b := step("b", "a")
	b.ContinueOnError = true
	c := step("c", "a")
	d := step("d", "b", "c")
	steps := []workflow.PlannedStep{a, b, c, d}
	dag, diags := graph.Build(steps)
	if diags.HasErrors() {
		t.Fatalf("unexpected build diagnostics: %v", diags)
	}
	wf := workflow.Workflow{Name: "wf", Steps: steps}
	res := Run(context.Background(), wf, dag, "run1", newTestDeps(map[string]bool{"b": true}))

	if res.Status != "partial" {
		t.Fatalf("got status %q, want partial", res.Status)
	}
	if res.Failed != 1 {
		t.Errorf("got failed=%d, want 1", res.Failed)
	}
	if res.Succeeded != 3 {
		t.Errorf("got succeeded=%d, want 3 (a, c, d)", res.Succeeded)
	}
}

// TestRunFanOutFanInAbsorbedFailureDependentReferencesOutput covers the
// other subcase of spec §9/S4: b fails with continueOnError so d is
// still dispatched, but d's input references b's output. Referencing a
// non-Succeeded step's output must fail VariableUnresolved — the
// failure isn't absorbed just because the upstream step was.
func TestRunFanOutFanInAbsorbedFailureDependentReferencesOutput(t *testing.T) {
	a := step("a")
	b := step("b", "a")
	b.ContinueOnError = true
	c := step("c", "a")
	d := step("d", "b", "c")
	d.Input = map[string]any{"body": "${steps.b.output.ok}"}
	steps := []workflow.PlannedStep{a, b, c, d}
	dag, diags := graph.Build(steps)
	if diags.HasErrors() {
		t.Fatalf("unexpected build diagnostics: %v", diags)
	}
	wf := workflow.Workflow{Name: "wf", Steps: steps}
	deps := newTestDeps(map[string]bool{"b": true})

	var dFailed *events.StepFailedData
	deps.Bus.Subscribe(func(e events.Event) {
		if e.Type == events.StepFailed && e.StepFailed.StepID == "d" {
			dFailed = e.StepFailed
		}
	})

	res := Run(context.Background(), wf, dag, "run1", deps)

	if res.Status != "partial" && res.Status != "failed" {
		t.Fatalf("got status %q, want partial or failed", res.Status)
	}
	if res.Failed != 2 {
		t.Errorf("got failed=%d, want 2 (b and d)", res.Failed)
	}
	if res.Succeeded != 2 {
		t.Errorf("got succeeded=%d, want 2 (a, c)", res.Succeeded)
	}
	if dFailed == nil {
		t.Fatal("expected a step.failed event for d")
	}
	if dFailed.ErrorCode != string(errors.KindVariableUnresolved) {
		t.Errorf("got d's ErrorCode %q, want %q", dFailed.ErrorCode, errors.KindVariableUnresolved)
	}
}

func TestRunHardAbortCascades(t *testing.T) {
	// a -> b -> c ; a -> d (independent branch). b fails with no
	// continueOnError anywhere: c must be cancelled as b's descendant,
	// regardless of how d's independent branch happens to race it.
	a := step("a")
	b := step("b", "a")
	c := step("c", "b")
	d := step("d", "a")
	steps := []workflow.PlannedStep{a, b, c, d}
	dag, diags := graph.Build(steps)
	if diags.HasErrors() {
		t.Fatalf("unexpected build diagnostics: %v", diags)
	}
	wf := workflow.Workflow{Name: "wf", Steps: steps}
	res := Run(context.Background(), wf, dag, "run1", newTestDeps(map[string]bool{"b": true}))

	if res.Status != "failed" {
		t.Fatalf("got status %q, want failed", res.Status)
	}
	if res.Failed != 1 {
		t.Errorf("got failed=%d, want 1", res.Failed)
	}
	if res.Skipped < 1 {
		t.Errorf("expected at least c to be skipped, got skipped=%d", res.Skipped)
	}
}

func TestRunDryRunNeverDispatches(t *testing.T) {
	steps := []workflow.PlannedStep{step("a"), step("b", "a")}
	dag, diags := graph.Build(steps)
	if diags.HasErrors() {
		t.Fatalf("unexpected build diagnostics: %v", diags)
	}
	wf := workflow.Workflow{Name: "wf", Steps: steps}
	// A dispatched "a" would fail, so success/2 shows no adapter call.
	deps := newTestDeps(map[string]bool{"a": true})
	deps.DryRun = true
	res := Run(context.Background(), wf, dag, "run1", deps)

	if res.Status != "success" || res.Succeeded != 2 {
		t.Fatalf("got %+v, want success/2", res)
	}
}

func TestRunEmptyWorkflowSucceeds(t *testing.T) {
	dag, diags := graph.Build(nil)
	if diags.HasErrors() {
		t.Fatalf("unexpected build diagnostics: %v", diags)
	}
	wf := workflow.Workflow{Name: "empty"}
	res := Run(context.Background(), wf, dag, "run1", newTestDeps(nil))

	if res.Status != "success" || res.Succeeded != 0 {
		t.Fatalf("got %+v, want success/0", res)
	}
}

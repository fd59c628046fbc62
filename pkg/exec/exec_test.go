package exec

import (
	"context"
	"testing"
	"time"

	"github.com/tombee/orbyt/pkg/adapter"
	"github.com/tombee/orbyt/pkg/events"
	"github.com/tombee/orbyt/pkg/resolve"
	"github.com/tombee/orbyt/pkg/runstate"
	"github.com/tombee/orbyt/pkg/workflow"
)

// fakeAdapter is a scriptable adapter.Adapter test double: each call to
// Execute pops the next entry off results (or repeats the last one).
type fakeAdapter struct {
	kind    string
	results []adapter.Result
	calls   int
}

func (f *fakeAdapter) Name() string               { return f.kind }
func (f *fakeAdapter) Version() string            { return "test" }
func (f *fakeAdapter) SupportedActions() []string { return []string{"*"} }
func (f *fakeAdapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{}
}
func (f *fakeAdapter) Execute(action string, input map[string]any, ctx adapter.Context) (adapter.Result, error) {
	i := f.calls
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	f.calls++
	return f.results[i], nil
}

func newDeps(kind string, fa *fakeAdapter) Deps {
	reg := adapter.NewRegistry()
	reg.Register(kind, fa)
	return Deps{
		Registry: reg,
		Resolver: resolve.New(),
		When:     resolve.NewWhenEvaluator(),
		Bus:      events.NewBus(nil),
	}
}

func emptySnapshot() resolve.Snapshot {
	return resolve.Snapshot{
		StepStatus: map[string]runstate.Status{},
		StepOutput: map[string]any{},
	}
}

func baseStep() workflow.PlannedStep {
	return workflow.PlannedStep{
		ID:          "s1",
		Name:        "step one",
		AdapterKind: "fake",
		Action:      "fake.do",
		Input:       map[string]any{},
		Retry:       workflow.RetryPolicy{Max: 0, Backoff: workflow.BackoffLinear, DelayMS: 10},
	}
}

func TestRunWhenFalseSkips(t *testing.T) {
	fa := &fakeAdapter{kind: "fake"}
	deps := newDeps("fake", fa)
	step := baseStep()
	step.When = "1 == 2"

	out := Run(context.Background(), step, emptySnapshot, deps)
	if out.Status != runstate.Skipped {
		t.Fatalf("got status %v, want Skipped", out.Status)
	}
	if out.SkipReason != events.ConditionFalse {
		t.Errorf("got skip reason %v, want ConditionFalse", out.SkipReason)
	}
	if fa.calls != 0 {
		t.Errorf("adapter should not have been dispatched, got %d calls", fa.calls)
	}
}

func TestRunSuccessProjectsOutput(t *testing.T) {
	fa := &fakeAdapter{kind: "fake", results: []adapter.Result{
		{Success: true, Data: map[string]any{"status": 200, "body": "ok"}},
	}}
	deps := newDeps("fake", fa)
	step := baseStep()
	step.Outputs = map[string]string{"code": "status"}

	out := Run(context.Background(), step, emptySnapshot, deps)
	if out.Status != runstate.Succeeded {
		t.Fatalf("got status %v, want Succeeded: %v", out.Status, out.Err)
	}
	data, ok := out.Output.(map[string]any)
	if !ok {
		t.Fatalf("output is %T, want map[string]any", out.Output)
	}
	if data["code"] != 200 {
		t.Errorf("got projected code %v, want 200", data["code"])
	}
}

func TestRunDryRunSkipsDispatch(t *testing.T) {
	fa := &fakeAdapter{kind: "fake", results: []adapter.Result{{Success: true}}}
	deps := newDeps("fake", fa)
	deps.DryRun = true
	step := baseStep()

	out := Run(context.Background(), step, emptySnapshot, deps)
	if out.Status != runstate.Succeeded {
		t.Fatalf("got status %v, want Succeeded", out.Status)
	}
	if fa.calls != 0 {
		t.Errorf("dry run must not dispatch to the adapter, got %d calls", fa.calls)
	}
	data := out.Output.(map[string]any)
	if data["dryRun"] != true {
		t.Errorf("expected dryRun:true output marker, got %v", data)
	}
}

func TestRunRetryExhaustionFails(t *testing.T) {
	fa := &fakeAdapter{kind: "fake", results: []adapter.Result{
		{Success: false, Error: &adapter.ResultError{Message: "boom", Code: "AdapterFailure"}},
	}}
	deps := newDeps("fake", fa)
	step := baseStep()
	step.Retry = workflow.RetryPolicy{Max: 2, Backoff: workflow.BackoffLinear, DelayMS: 1}

	var retryEvents []events.Event
	deps.Bus.Subscribe(func(e events.Event) { retryEvents = append(retryEvents, e) })

	out := Run(context.Background(), step, emptySnapshot, deps)
	if out.Status != runstate.Failed {
		t.Fatalf("got status %v, want Failed", out.Status)
	}
	if fa.calls != 3 {
		t.Errorf("got %d attempts, want 3 (1 initial + 2 retries)", fa.calls)
	}

	var retrying, started, failed int
	var retryingAttempts []int
	for _, e := range retryEvents {
		switch e.Type {
		case events.StepRetrying:
			retrying++
			retryingAttempts = append(retryingAttempts, e.StepRetrying.Attempt)
		case events.StepStarted:
			started++
		case events.StepFailed:
			failed++
		}
	}
	if retrying != 2 {
		t.Errorf("got %d step.retrying events, want 2", retrying)
	}
	if started != 1 || failed != 1 {
		t.Errorf("got %d started / %d failed events, want 1 / 1", started, failed)
	}
	if want := []int{2, 3}; len(retryingAttempts) != 2 || retryingAttempts[0] != want[0] || retryingAttempts[1] != want[1] {
		t.Errorf("got step.retrying Attempt sequence %v, want %v", retryingAttempts, want)
	}
	if out.Attempts != 3 {
		t.Errorf("got Outcome.Attempts %d, want 3", out.Attempts)
	}
}

// TestRunRetryingEventAttemptIsPostIncrement pins scenario S3 exactly: a
// delay=10 exponential policy must emit step.retrying(attempt=2,
// nextDelay=10) then step.retrying(attempt=3, nextDelay=20), and the
// final Outcome.Attempts must be 3.
func TestRunRetryingEventAttemptIsPostIncrement(t *testing.T) {
	fa := &fakeAdapter{kind: "fake", results: []adapter.Result{
		{Success: false, Error: &adapter.ResultError{Message: "boom", Code: "AdapterFailure"}},
		{Success: false, Error: &adapter.ResultError{Message: "boom", Code: "AdapterFailure"}},
		{Success: true, Data: map[string]any{}},
	}}
	deps := newDeps("fake", fa)
	step := baseStep()
	step.Retry = workflow.RetryPolicy{Max: 3, Backoff: workflow.BackoffExponential, DelayMS: 10}

	var retryEvents []*events.StepRetryingData
	deps.Bus.Subscribe(func(e events.Event) {
		if e.Type == events.StepRetrying {
			retryEvents = append(retryEvents, e.StepRetrying)
		}
	})

	out := Run(context.Background(), step, emptySnapshot, deps)
	if out.Status != runstate.Succeeded {
		t.Fatalf("got status %v, want Succeeded", out.Status)
	}
	if out.Attempts != 3 {
		t.Errorf("got Outcome.Attempts %d, want 3", out.Attempts)
	}
	if len(retryEvents) != 2 {
		t.Fatalf("got %d step.retrying events, want 2", len(retryEvents))
	}
	if retryEvents[0].Attempt != 2 || retryEvents[0].NextDelayMS != 10 {
		t.Errorf("first retrying event: got attempt=%d nextDelay=%d, want attempt=2 nextDelay=10", retryEvents[0].Attempt, retryEvents[0].NextDelayMS)
	}
	if retryEvents[1].Attempt != 3 || retryEvents[1].NextDelayMS != 20 {
		t.Errorf("second retrying event: got attempt=%d nextDelay=%d, want attempt=3 nextDelay=20", retryEvents[1].Attempt, retryEvents[1].NextDelayMS)
	}
}

func TestRunSucceedsAfterTransientFailure(t *testing.T) {
	fa := &fakeAdapter{kind: "fake", results: []adapter.Result{
		{Success: false, Error: &adapter.ResultError{Message: "transient", Code: "AdapterFailure"}},
		{Success: true, Data: map[string]any{}},
	}}
	deps := newDeps("fake", fa)
	step := baseStep()
	step.Retry = workflow.RetryPolicy{Max: 3, Backoff: workflow.BackoffLinear, DelayMS: 1}

	out := Run(context.Background(), step, emptySnapshot, deps)
	if out.Status != runstate.Succeeded {
		t.Fatalf("got status %v, want Succeeded", out.Status)
	}
	if fa.calls != 2 {
		t.Errorf("got %d attempts, want 2", fa.calls)
	}
	if out.Attempts != 2 {
		t.Errorf("got Outcome.Attempts %d, want 2", out.Attempts)
	}
}

func TestRunCancelledContextFails(t *testing.T) {
	fa := &fakeAdapter{kind: "fake", results: []adapter.Result{{Success: true}}}
	deps := newDeps("fake", fa)
	step := baseStep()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := Run(ctx, step, emptySnapshot, deps)
	if out.Status != runstate.Failed {
		t.Fatalf("got status %v, want Failed", out.Status)
	}
	if out.Err == nil || out.Err.Kind != "Cancelled" {
		t.Errorf("got err %+v, want Kind Cancelled", out.Err)
	}
}

func TestRetryDelayLinearAndExponential(t *testing.T) {
	linear := workflow.RetryPolicy{Backoff: workflow.BackoffLinear, DelayMS: 100}
	if got := retryDelay(linear, 3); got != 300*time.Millisecond {
		t.Errorf("linear attempt 3: got %v, want 300ms", got)
	}

	exp := workflow.RetryPolicy{Backoff: workflow.BackoffExponential, DelayMS: 100}
	if got := retryDelay(exp, 1); got != 100*time.Millisecond {
		t.Errorf("exponential attempt 1: got %v, want 100ms", got)
	}
	if got := retryDelay(exp, 3); got != 400*time.Millisecond {
		t.Errorf("exponential attempt 3: got %v, want 400ms", got)
	}
}

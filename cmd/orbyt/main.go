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

// Command orbyt compiles and runs a single workflow document. It is a
// thin proof of the engine's wiring end to end — flags in, compiled
// plan out, scheduler to completion — not the operator-facing CLI the
// engine eventually grows (no subcommands, no marketplace, no daemon
// mode), grounded on the teacher's conductord entrypoint's flag-parse /
// build / signal-wait / shutdown shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/tombee/orbyt/pkg/adapter"
	"github.com/tombee/orbyt/pkg/adapter/cli"
	"github.com/tombee/orbyt/pkg/adapter/db"
	"github.com/tombee/orbyt/pkg/adapter/fs"
	"github.com/tombee/orbyt/pkg/adapter/http"
	"github.com/tombee/orbyt/pkg/adapter/plugin"
	"github.com/tombee/orbyt/pkg/adapter/queue"
	"github.com/tombee/orbyt/pkg/adapter/secrets"
	"github.com/tombee/orbyt/pkg/adapter/shell"
	"github.com/tombee/orbyt/pkg/diag"
	"github.com/tombee/orbyt/pkg/errors"
	"github.com/tombee/orbyt/pkg/events"
	"github.com/tombee/orbyt/pkg/exectx"
	"github.com/tombee/orbyt/pkg/graph"
	"github.com/tombee/orbyt/pkg/lifecycle"
	"github.com/tombee/orbyt/pkg/limits"
	"github.com/tombee/orbyt/pkg/resolve"
	"github.com/tombee/orbyt/pkg/scheduler"
	"github.com/tombee/orbyt/pkg/workflow"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Exit codes (spec §6).
const (
	exitSuccess         = 0
	exitGeneric         = 1
	exitValidationError = 2
	exitMissingConfig   = 3
	exitRuntimeFailure  = 4
	exitInternalError   = 5
	exitTimeout         = 124
)

func main() {
	var (
		dryRun   = flag.Bool("dry-run", false, "compile and schedule without dispatching to adapters")
		tierName = flag.String("tier", "free", "subscription tier (free, pro, enterprise)")
		dbPath   = flag.String("db-path", "file::memory:?cache=shared", "sqlite path for the db adapter")
		fsRoot   = flag.String("fs-root", ".", "root directory the fs adapter is confined to")
		awsAcct  = flag.String("aws-account", "", "expected AWS account id for the secrets AWS backend (empty disables it)")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: orbyt [flags] <workflow-file>")
		os.Exit(exitMissingConfig)
	}
	path := flag.Arg(0)

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error("reading workflow file", "path", path, "error", err)
		os.Exit(exitMissingConfig)
	}

	tier := limits.ResolveTier(*tierName)

	wf, diags := workflow.Compile(data, tier)
	if diags.HasErrors() {
		printDiagnostics(diags)
		os.Exit(exitValidationError)
	}

	dag, diags := graph.Build(wf.Steps)
	if diags.HasErrors() {
		printDiagnostics(diags)
		os.Exit(exitValidationError)
	}
	if cycleDiags := dag.DetectCycle(); cycleDiags.HasErrors() {
		printDiagnostics(cycleDiags)
		os.Exit(exitValidationError)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracerProvider := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tracerProvider)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer provider shutdown failed", "error", err)
		}
	}()

	deps, runID, cleanup, err := wireDeps(ctx, *wf, tier, *dryRun, *dbPath, *fsRoot, *awsAcct, logger)
	if err != nil {
		logger.Error("wiring adapters", "error", err)
		os.Exit(exitGeneric)
	}
	deps.Bus.Subscribe(events.NewObserver(prometheus.NewRegistry()).Subscriber())

	lc := lifecycle.NewManager(logger)
	lc.Register(cancelOnStopComponent{cancel: cancel})
	lc.Register(cleanup)
	stopWatching := lc.NotifyOnSignal(10 * time.Second)
	defer stopWatching()

	if err := lc.Start(ctx); err != nil {
		logger.Error("starting engine components", "error", err)
		os.Exit(exitInternalError)
	}

	res := scheduler.Run(ctx, *wf, dag, runID, deps)

	if stopErr := lc.Stop(context.Background()); stopErr != nil {
		logger.Warn("component shutdown reported an error", "error", stopErr)
	}

	fmt.Printf("workflow %q: %s (succeeded=%d failed=%d skipped=%d)\n",
		wf.Name, res.Status, res.Succeeded, res.Failed, res.Skipped)

	os.Exit(exitCodeFor(res))
}

// wireDeps constructs every collaborator scheduler.Run needs: the
// adapter registry (one subpackage per "uses" namespace the document
// schema allows), the variable resolver, the sealed execution context,
// and a bounded concurrency gate for the tier. The returned lifecycle.
// Component releases whatever needs releasing (currently just the db
// adapter's connection) on shutdown.
func wireDeps(ctx context.Context, wf workflow.Workflow, tier limits.TierLimits, dryRun bool, dbPath, fsRoot, awsAcct string, logger *slog.Logger) (scheduler.Deps, string, lifecycle.Component, error) {
	registry := adapter.NewRegistry()
	registry.Register("http", http.New())
	registry.Register("shell", shell.New())
	registry.Register("cli", cli.New())
	registry.Register("fs", fs.New(fsRoot))
	registry.Register("queue", queue.New(queue.NewBroker()))
	registry.Register("plugin", plugin.New())

	dbAdapter, err := db.Open(dbPath)
	if err != nil {
		return scheduler.Deps{}, "", nil, fmt.Errorf("opening db adapter: %w", err)
	}
	registry.Register("db", dbAdapter)

	backends := []secrets.Backend{secrets.NewKeychainBackend()}
	if awsAcct != "" {
		awsBackend, err := secrets.NewAWSBackend(ctx, awsAcct, os.LookupEnv)
		if err != nil {
			return scheduler.Deps{}, "", nil, fmt.Errorf("constructing AWS secrets backend: %w", err)
		}
		backends = append(backends, awsBackend)
	}
	secretsResolver := secrets.NewResolver(backends...)
	secretsAdapter, err := secrets.New(secretsResolver, nil)
	if err != nil {
		return scheduler.Deps{}, "", nil, fmt.Errorf("constructing secrets adapter: %w", err)
	}
	registry.Register("secrets", secretsAdapter)

	sealer, err := exectx.NewSealer()
	if err != nil {
		return scheduler.Deps{}, "", nil, fmt.Errorf("constructing execution context sealer: %w", err)
	}

	runID := fmt.Sprintf("run_%d", time.Now().UnixMilli())
	// wf.Sandbox/Resources/ExecutionMode/Priority were already clamped by
	// workflow.Compile (C2 over the document + tier); wireDeps only
	// carries them into the sealed context, it never re-derives them.
	execCtx := exectx.Build(runID, exectx.Ownership{
		User:      currentUser(),
		Workspace: currentWorkspace(),
		Tier:      tier.Name,
		Region:    envOr("ORBYT_REGION", "local"),
	}, tier, exectx.Security{
		Isolation: wf.Sandbox,
	}, exectx.Request{
		Origin:   "cli",
		Mode:     wf.ExecutionMode,
		Priority: wf.Priority,
	}, wf.Resources)

	deps := scheduler.Deps{
		Registry: registry,
		Resolver: resolve.New(),
		When:     resolve.NewWhenEvaluator(),
		Bus:      events.NewBus(logger),
		ExecCtx:  execCtx,
		Sealer:   sealer,
		Logger:   logger,
		Gate:     limits.NewConcurrencyGate(tier),
		Secrets:  map[string]string{},
		DryRun:   dryRun,
	}
	deps.Bus.Subscribe(logEvent(logger))

	return deps, runID, dbCloser{adapter: dbAdapter}, nil
}

// cancelOnStopComponent wires the lifecycle manager's shutdown into the
// run's cancellation: Stop fires on Ctrl-C (via NotifyOnSignal) or on
// the manager's own teardown, unblocking scheduler.Run's ctx.Done case.
type cancelOnStopComponent struct {
	cancel context.CancelFunc
}

func (cancelOnStopComponent) Name() string                   { return "cancel-signal" }
func (cancelOnStopComponent) Start(ctx context.Context) error { return nil }
func (c cancelOnStopComponent) Stop(ctx context.Context) error {
	c.cancel()
	return nil
}

type dbCloser struct {
	adapter *db.Adapter
}

func (dbCloser) Name() string                   { return "db-adapter" }
func (dbCloser) Start(ctx context.Context) error { return nil }
func (c dbCloser) Stop(ctx context.Context) error {
	return c.adapter.Close()
}

// logEvent renders each emitted event as one log line; a stand-in for
// the richer formatter the operator-facing CLI will eventually own.
func logEvent(logger *slog.Logger) events.Subscriber {
	return func(e events.Event) {
		switch e.Type {
		case events.WorkflowStarted:
			logger.Info("workflow started", "workflow", e.WorkflowStarted.WorkflowName, "steps", e.WorkflowStarted.TotalSteps)
		case events.WorkflowCompleted:
			d := e.WorkflowCompleted
			logger.Info("workflow completed", "workflow", d.WorkflowName, "status", d.Status,
				"duration_ms", d.DurationMS, "succeeded", d.SuccessfulSteps, "failed", d.FailedSteps, "skipped", d.SkippedSteps)
		case events.WorkflowFailed:
			d := e.WorkflowFailed
			logger.Error("workflow failed", "workflow", d.WorkflowName, "error", d.ErrorMessage, "code", d.ErrorCode, "duration_ms", d.DurationMS)
		case events.StepStarted:
			d := e.StepStarted
			logger.Info("step started", "step", d.StepID, "adapter", d.Adapter, "action", d.Action)
		case events.StepCompleted:
			d := e.StepCompleted
			logger.Info("step completed", "step", d.StepID, "duration_ms", d.DurationMS)
		case events.StepFailed:
			d := e.StepFailed
			logger.Error("step failed", "step", d.StepID, "error", d.ErrorMessage, "code", d.ErrorCode)
		case events.StepRetrying:
			d := e.StepRetrying
			logger.Warn("step retrying", "step", d.StepID, "attempt", d.Attempt, "max_attempts", d.MaxAttempts, "next_delay_ms", d.NextDelayMS)
		case events.StepSkipped:
			d := e.StepSkipped
			logger.Info("step skipped", "step", d.StepID, "reason", d.Reason)
		}
	}
}

func printDiagnostics(diags diag.List) {
	fmt.Fprintln(os.Stderr, diags.Error())
}

func exitCodeFor(res scheduler.Result) int {
	if res.Status != "failed" {
		return exitSuccess
	}
	if res.Err == nil {
		return exitRuntimeFailure
	}
	switch res.Err.Kind {
	case errors.KindWorkflowTimeout, errors.KindStepTimeout:
		return exitTimeout
	case errors.KindInternalError:
		return exitInternalError
	default:
		return exitRuntimeFailure
	}
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}

func currentWorkspace() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

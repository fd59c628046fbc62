package workflow

import (
	"testing"

	"github.com/tombee/orbyt/pkg/limits"
)

func TestCompileClampsSandboxResourcesModePriority(t *testing.T) {
	doc := []byte(`
name: demo
sandbox: none
resources:
  memory: 4096MB
executionMode: parallel
priority: high
steps:
  - id: a
    uses: http.request.get
    with:
      url: https://example.com
`)

	wf, diags := Compile(doc, limits.Free)
	if diags.HasErrors() {
		t.Fatalf("unexpected errors: %v", diags)
	}

	if wf.Sandbox != limits.Free.MinSandboxLevel.String() {
		t.Errorf("Sandbox = %q, want tier floor %q", wf.Sandbox, limits.Free.MinSandboxLevel.String())
	}
	if wf.Resources.MemoryMB != limits.Free.Resources.MemoryMB {
		t.Errorf("Resources.MemoryMB = %d, want tier ceiling %d", wf.Resources.MemoryMB, limits.Free.Resources.MemoryMB)
	}
	if wf.ExecutionMode != limits.Free.AllowedExecutionModes[0] {
		t.Errorf("ExecutionMode = %q, want %q (free tier forbids parallel)", wf.ExecutionMode, limits.Free.AllowedExecutionModes[0])
	}
	if wf.Priority != "normal" {
		t.Errorf("Priority = %q, want normal (free tier forbids high)", wf.Priority)
	}

	if len(diags.Warnings()) < 4 {
		t.Errorf("expected at least 4 clamp warnings (resources, sandbox, mode, priority), got %d", len(diags.Warnings()))
	}
}

func TestCompileWithinTierCeilingsPassThrough(t *testing.T) {
	doc := []byte(`
name: demo
sandbox: none
executionMode: priority
priority: high
steps:
  - id: a
    uses: http.request.get
    with:
      url: https://example.com
`)

	wf, diags := Compile(doc, limits.Enterprise)
	if diags.HasErrors() {
		t.Fatalf("unexpected errors: %v", diags)
	}
	if wf.Sandbox != "none" {
		t.Errorf("Sandbox = %q, want none (enterprise floor is none)", wf.Sandbox)
	}
	if wf.ExecutionMode != "priority" {
		t.Errorf("ExecutionMode = %q, want priority (enterprise allows it)", wf.ExecutionMode)
	}
	if wf.Priority != "high" {
		t.Errorf("Priority = %q, want high (enterprise allows it)", wf.Priority)
	}
}

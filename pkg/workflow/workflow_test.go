package workflow

import (
	"testing"

	"github.com/tombee/orbyt/pkg/limits"
)

func TestAdapterKind(t *testing.T) {
	cases := map[string]string{
		"http.request.get": "http",
		"shell.run":         "shell",
		"acme.custom.tool":  "plugin",
	}
	for action, want := range cases {
		if got := AdapterKind(action); got != want {
			t.Errorf("AdapterKind(%q) = %q, want %q", action, got, want)
		}
	}
}

func TestNormalizeDefaults(t *testing.T) {
	doc := &Document{
		Name: "demo",
		Steps: []StepDefinition{
			{ID: "a", Uses: "http.request.get", With: map[string]any{"url": "https://example.com"}},
		},
	}
	steps, diags := Normalize(doc, limits.Free)
	if diags.HasErrors() {
		t.Fatalf("unexpected errors: %v", diags)
	}
	if len(steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(steps))
	}
	s := steps[0]
	if s.AdapterKind != "http" {
		t.Errorf("AdapterKind = %q, want http", s.AdapterKind)
	}
	if s.ContinueOnError {
		t.Error("ContinueOnError should default to false")
	}
	if s.Needs == nil {
		t.Error("Needs should default to an empty slice, not nil")
	}
}

func TestNormalizeMissingRequiredInput(t *testing.T) {
	doc := &Document{
		Name: "demo",
		Steps: []StepDefinition{
			{ID: "a", Uses: "http.request.get", With: map[string]any{}},
		},
	}
	_, diags := Normalize(doc, limits.Free)
	if !diags.HasErrors() {
		t.Fatal("expected an error for missing required \"url\" input")
	}
}

func TestValidateStepReferences(t *testing.T) {
	steps := []PlannedStep{
		{ID: "fetch", Input: map[string]any{}},
		{ID: "use", Input: map[string]any{"body": "${steps.fetch.output.id}"}},
		{ID: "bad", Input: map[string]any{"body": "${steps.missing.output.id}"}},
	}
	diags := ValidateStepReferences(steps)
	if !diags.HasErrors() {
		t.Fatal("expected an error for reference to undeclared step id")
	}
	if len(diags.Errors()) != 1 {
		t.Errorf("expected exactly 1 error, got %d", len(diags.Errors()))
	}
}

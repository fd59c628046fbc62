package graph

import (
	"testing"

	"github.com/tombee/orbyt/pkg/workflow"
)

func steps(pairs ...[2]string) []workflow.PlannedStep {
	// pairs[i] = {id, comma-separated needs}
	var out []workflow.PlannedStep
	for _, p := range pairs {
		var needs []string
		if p[1] != "" {
			needs = splitComma(p[1])
		}
		out = append(out, workflow.PlannedStep{ID: p[0], Needs: needs})
	}
	return out
}

func splitComma(s string) []string {
	var out []string
	cur := ""
	for _, c := range s {
		if c == ',' {
			out = append(out, cur)
			cur = ""
			continue
		}
		cur += string(c)
	}
	out = append(out, cur)
	return out
}

func TestBuildRejectsDuplicateID(t *testing.T) {
	_, diags := Build(steps([2]string{"a", ""}, [2]string{"a", ""}))
	if !diags.HasErrors() {
		t.Fatal("expected duplicate id error")
	}
}

func TestBuildRejectsSelfDependency(t *testing.T) {
	_, diags := Build(steps([2]string{"a", "a"}))
	if !diags.HasErrors() {
		t.Fatal("expected self-dependency error")
	}
}

func TestBuildRejectsDanglingNeeds(t *testing.T) {
	_, diags := Build(steps([2]string{"a", "ghost"}))
	if !diags.HasErrors() {
		t.Fatal("expected dangling needs error")
	}
}

func TestBuildEntryExit(t *testing.T) {
	dag, diags := Build(steps(
		[2]string{"a", ""},
		[2]string{"b", "a"},
		[2]string{"c", "a"},
	))
	if diags.HasErrors() {
		t.Fatalf("unexpected errors: %v", diags)
	}
	if len(dag.Entry) != 1 || dag.Entry[0] != "a" {
		t.Errorf("Entry = %v, want [a]", dag.Entry)
	}
	if len(dag.Exit) != 2 {
		t.Errorf("Exit = %v, want 2 ids", dag.Exit)
	}
}

func TestDetectCycle(t *testing.T) {
	dag, diags := Build(steps(
		[2]string{"a", "b"},
		[2]string{"b", "c"},
		[2]string{"c", "a"},
	))
	if diags.HasErrors() {
		t.Fatalf("unexpected build errors: %v", diags)
	}
	cycleDiags := dag.DetectCycle()
	if !cycleDiags.HasErrors() {
		t.Fatal("expected a cycle to be detected")
	}
}

func TestDetectCycleNoneOnDAG(t *testing.T) {
	dag, _ := Build(steps([2]string{"a", ""}, [2]string{"b", "a"}))
	if diags := dag.DetectCycle(); diags.HasErrors() {
		t.Fatalf("expected no cycle, got %v", diags)
	}
}

func TestLayersOrdering(t *testing.T) {
	dag, _ := Build(steps(
		[2]string{"a", ""},
		[2]string{"b", ""},
		[2]string{"c", "a,b"},
	))
	layers, err := dag.Layers()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(layers) != 2 {
		t.Fatalf("expected 2 layers, got %d: %v", len(layers), layers)
	}
	if len(layers[0]) != 2 || layers[0][0] != "a" || layers[0][1] != "b" {
		t.Errorf("layer 0 = %v, want [a b] (lexicographic)", layers[0])
	}
	if len(layers[1]) != 1 || layers[1][0] != "c" {
		t.Errorf("layer 1 = %v, want [c]", layers[1])
	}
}

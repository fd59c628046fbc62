package adapter

import "testing"

type fakeAdapter struct {
	name    string
	actions []string
}

func (f *fakeAdapter) Name() string                { return f.name }
func (f *fakeAdapter) Version() string             { return "1.0.0" }
func (f *fakeAdapter) SupportedActions() []string  { return f.actions }
func (f *fakeAdapter) Capabilities() Capabilities  { return Capabilities{} }
func (f *fakeAdapter) Execute(action string, input map[string]any, ctx Context) (Result, error) {
	return Result{Success: true, Data: map[string]any{"action": action}}, nil
}

func TestRegistryDispatchMatchesGlob(t *testing.T) {
	r := NewRegistry()
	r.Register("http", &fakeAdapter{name: "http", actions: []string{"http.request.*"}})

	result, diagErr := r.Dispatch("http", "http.request.get", nil, Context{})
	if diagErr != nil {
		t.Fatalf("unexpected diagnostic: %v", diagErr)
	}
	if !result.Success {
		t.Error("expected successful dispatch")
	}
}

func TestRegistryDispatchUnknownKind(t *testing.T) {
	r := NewRegistry()
	_, diagErr := r.Dispatch("bogus", "bogus.do", nil, Context{})
	if diagErr == nil {
		t.Fatal("expected a diagnostic for unknown adapter kind")
	}
}

func TestRegistryDispatchUnsupportedAction(t *testing.T) {
	r := NewRegistry()
	r.Register("http", &fakeAdapter{name: "http", actions: []string{"http.request.get"}})

	_, diagErr := r.Dispatch("http", "http.request.post", nil, Context{})
	if diagErr == nil {
		t.Fatal("expected a diagnostic for unsupported action")
	}
}

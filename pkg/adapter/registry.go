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

package adapter

import (
	"fmt"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/tombee/orbyt/pkg/diag"
)

// Registry maps adapter kind to Adapter implementation. It is read-only
// after engine startup (spec §5); the mutex here only guards the
// population window during Register.
type Registry struct {
	mu       sync.RWMutex
	byKind   map[string]Adapter
	byName   map[string]Adapter
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byKind: make(map[string]Adapter), byName: make(map[string]Adapter)}
}

// Register adds a, keyed both by kind and by its declared Name().
func (r *Registry) Register(kind string, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKind[kind] = a
	r.byName[a.Name()] = a
}

// ByName looks up an adapter by its exact declared name.
func (r *Registry) ByName(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byName[name]
	return a, ok
}

// ByKind looks up an adapter by adapter kind (the first dotted token of
// an action, or "plugin").
func (r *Registry) ByKind(kind string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byKind[kind]
	return a, ok
}

// Kinds lists every registered adapter kind (for typo suggestions on an
// unknown kind).
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byKind))
	for k := range r.byKind {
		out = append(out, k)
	}
	return out
}

// Dispatch resolves kind's adapter and confirms action matches one of
// its SupportedActions globs by longest-prefix match (spec §4.6), then
// invokes Execute.
func (r *Registry) Dispatch(kind, action string, input map[string]any, ctx Context) (Result, *diag.Diagnostic) {
	a, ok := r.ByKind(kind)
	if !ok {
		d := diag.New("ORBYT-ADP-001", "", fmt.Sprintf("unknown adapter kind %q", kind))
		if s := diag.Suggest(kind, r.Kinds()); s != "" {
			d.WithHint(fmt.Sprintf("did you mean %q?", s))
		}
		return Result{}, d
	}

	if !matchesAnyAction(action, a.SupportedActions()) {
		d := diag.New("ORBYT-ADP-002", "", fmt.Sprintf("adapter %q does not support action %q", a.Name(), action))
		if s := diag.Suggest(action, a.SupportedActions()); s != "" {
			d.WithHint(fmt.Sprintf("did you mean %q?", s))
		}
		return Result{}, d
	}

	result, err := a.Execute(action, input, ctx)
	if err != nil {
		// Only fatal internal bugs bubble as a Go error (spec §4.6).
		return Result{}, diag.New("ORBYT-ADP-003", "", fmt.Sprintf("adapter %q raised an internal error: %v", a.Name(), err)).
			WithSeverity(diag.SeverityError)
	}
	return result, nil
}

// matchesAnyAction reports whether action matches at least one of globs,
// using real glob semantics (e.g. "http.request.*").
func matchesAnyAction(action string, globs []string) bool {
	best := -1
	for _, g := range globs {
		if ok, _ := doublestar.Match(g, action); ok && len(g) > best {
			best = len(g)
		}
	}
	return best >= 0
}

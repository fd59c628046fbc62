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

// Package runstate holds per-run ExecutionState: the single mutex-guarded
// source of truth for every step's status, output, error, and attempt
// count. Only the scheduler coordinator mutates it; step tasks report
// completion through a channel instead of writing state directly (spec
// §5).
package runstate

import (
	"sync"
	"time"

	"github.com/tombee/orbyt/pkg/diag"
)

// Status is one of a step's lifecycle states (spec §3).
type Status string

const (
	Pending   Status = "Pending"
	Ready     Status = "Ready"
	Running   Status = "Running"
	Succeeded Status = "Succeeded"
	Failed    Status = "Failed"
	Skipped   Status = "Skipped"
)

// State is the per-run mutable execution state, guarded by a single
// mutex.
type State struct {
	mu sync.Mutex

	RunID        string
	WorkflowName string
	StartedAt    time.Time

	status        map[string]Status
	output        map[string]any
	errs          map[string]*diag.Diagnostic
	attempt       map[string]int
	remainingDeps map[string]int
	skipReason    map[string]string
}

// New creates a State with every step Pending and remainingDeps seeded
// from needCounts (id -> |needs(id)|).
func New(runID, workflowName string, needCounts map[string]int) *State {
	s := &State{
		RunID:         runID,
		WorkflowName:  workflowName,
		StartedAt:     now(),
		status:        make(map[string]Status, len(needCounts)),
		output:        make(map[string]any, len(needCounts)),
		errs:          make(map[string]*diag.Diagnostic),
		attempt:       make(map[string]int, len(needCounts)),
		remainingDeps: make(map[string]int, len(needCounts)),
		skipReason:    make(map[string]string),
	}
	for id, n := range needCounts {
		s.status[id] = Pending
		s.remainingDeps[id] = n
		s.attempt[id] = 0
	}
	return s
}

// now is indirected so tests can substitute determinism if ever needed;
// the engine itself always uses wall-clock time.
var now = time.Now

// Status returns the current status of id.
func (s *State) Status(id string) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status[id]
}

// SetStatus transitions id to status.
func (s *State) SetStatus(id string, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[id] = status
}

// SetSkipReason records why a step was skipped (condition_false,
// upstream_failed, upstream_cancelled).
func (s *State) SetSkipReason(id, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipReason[id] = reason
}

// SkipReason returns the recorded skip reason for id, if any.
func (s *State) SkipReason(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipReason[id]
}

// SetOutput records id's normalized output payload.
func (s *State) SetOutput(id string, output any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.output[id] = output
}

// SetError records id's failure diagnostic.
func (s *State) SetError(id string, d *diag.Diagnostic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[id] = d
}

// Error returns the recorded failure diagnostic for id, if any.
func (s *State) Error(id string) *diag.Diagnostic {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errs[id]
}

// IncrementAttempt increments and returns id's attempt counter.
func (s *State) IncrementAttempt(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempt[id]++
	return s.attempt[id]
}

// SetAttempt records id's final attempt count, as reported by the step
// task once it reaches a terminal outcome.
func (s *State) SetAttempt(id string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempt[id] = n
}

// Attempt returns id's current attempt count.
func (s *State) Attempt(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt[id]
}

// DecrementRemainingDeps decrements id's remainingDeps counter and
// returns the new value.
func (s *State) DecrementRemainingDeps(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remainingDeps[id]--
	return s.remainingDeps[id]
}

// RemainingDeps returns id's current remainingDeps counter.
func (s *State) RemainingDeps(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remainingDeps[id]
}

// OutputSnapshot returns a point-in-time copy of every step's recorded
// output, safe for pkg/resolve to read without holding the state's
// mutex.
func (s *State) OutputSnapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.output))
	for k, v := range s.output {
		out[k] = v
	}
	return out
}

// StatusSnapshot returns a point-in-time copy of every step's status,
// used by the resolver to check "is this step Succeeded yet".
func (s *State) StatusSnapshot() map[string]Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Status, len(s.status))
	for k, v := range s.status {
		out[k] = v
	}
	return out
}

// Counts tallies terminal statuses across every step, used to build the
// workflow.completed/failed event payload.
func (s *State) Counts() (succeeded, failed, skipped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.status {
		switch st {
		case Succeeded:
			succeeded++
		case Failed:
			failed++
		case Skipped:
			skipped++
		}
	}
	return
}

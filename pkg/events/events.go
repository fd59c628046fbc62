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

// Package events implements the engine's typed event bus (C13):
// synchronous, registration-order dispatch over a discriminated event
// union, with subscriber failures isolated (logged, never propagated).
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Type identifies one member of the discriminated event union (spec §6).
type Type string

const (
	WorkflowStarted   Type = "workflow.started"
	WorkflowCompleted Type = "workflow.completed"
	WorkflowFailed    Type = "workflow.failed"
	StepStarted       Type = "step.started"
	StepCompleted     Type = "step.completed"
	StepFailed        Type = "step.failed"
	StepRetrying      Type = "step.retrying"
	StepSkipped       Type = "step.skipped"
)

// Event is the common envelope; exactly one of the typed payload fields
// below is non-nil, matching Type.
type Event struct {
	Type      Type
	Timestamp time.Time

	WorkflowStarted   *WorkflowStartedData
	WorkflowCompleted *WorkflowCompletedData
	WorkflowFailed    *WorkflowFailedData
	StepStarted       *StepStartedData
	StepCompleted     *StepCompletedData
	StepFailed        *StepFailedData
	StepRetrying      *StepRetryingData
	StepSkipped       *StepSkippedData
}

type WorkflowStartedData struct {
	WorkflowName string
	TotalSteps   int
}

type WorkflowCompletedData struct {
	WorkflowName   string
	Status         string // "success" | "partial"
	DurationMS     int64
	SuccessfulSteps int
	FailedSteps     int
	SkippedSteps    int
}

type WorkflowFailedData struct {
	WorkflowName string
	ErrorMessage string
	ErrorCode    string
	DurationMS   int64
}

type StepStartedData struct {
	StepID   string
	StepName string
	Adapter  string
	Action   string
}

type StepCompletedData struct {
	StepID     string
	StepName   string
	DurationMS int64
	Output     any
}

type StepFailedData struct {
	StepID     string
	StepName   string
	ErrorMessage string
	ErrorCode    string
	DurationMS int64
}

type StepRetryingData struct {
	StepID       string
	StepName     string
	Attempt      int
	MaxAttempts  int
	NextDelayMS  int64
}

// SkipReason enumerates why a step was skipped.
type SkipReason string

const (
	ConditionFalse     SkipReason = "condition_false"
	UpstreamFailed     SkipReason = "upstream_failed"
	UpstreamCancelled  SkipReason = "upstream_cancelled"
)

type StepSkippedData struct {
	StepID   string
	StepName string
	Reason   SkipReason
}

// Subscriber receives events in registration order. A subscriber must
// not block (spec §4.9: "Back-pressure: none — subscribers must not
// block").
type Subscriber func(e Event)

// Bus dispatches events synchronously to subscribers in registration
// order, isolating a subscriber's panic or nothing-returned error from
// affecting the emitting call site. Grounded on the teacher's
// EventEmitter, re-typed from a generic map[string]interface{} payload
// to the concrete per-event structs above.
type Bus struct {
	mu          sync.RWMutex
	subscribers []Subscriber
	logger      *slog.Logger
}

// NewBus constructs an empty Bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Subscribe registers a Subscriber; it will receive every Emit call
// after this point, in registration order relative to other
// subscribers.
func (b *Bus) Subscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, s)
}

// Emit dispatches e to every registered subscriber synchronously, in
// registration order. A subscriber panic is recovered and logged; it
// never interrupts delivery to subsequent subscribers or propagates to
// the caller.
func (b *Bus) Emit(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	subs := make([]Subscriber, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.RUnlock()

	for _, s := range subs {
		b.dispatchOne(s, e)
	}
}

func (b *Bus) dispatchOne(s Subscriber, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event subscriber panicked", "event_type", e.Type, "panic", r)
		}
	}()
	s(e)
}

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

package events

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Observer is a built-in Subscriber wrapping each step, from
// step.started to step.completed or step.failed, in an OpenTelemetry
// span and counting those events in a set of Prometheus counters/gauges.
// Workflow-level, step.retrying and step.skipped events are ignored. The
// exporter backends themselves are caller-injected (the tracer provider
// and registerer), consistent with concrete observability backends
// being out of core scope — Observer only emits the signal.
type Observer struct {
	tracer   trace.Tracer
	mu       sync.Mutex
	spans    map[string]trace.Span
	stepsStarted   prometheus.Counter
	stepsSucceeded prometheus.Counter
	stepsFailed    prometheus.Counter
	stepsRunning   prometheus.Gauge
}

// NewObserver registers its metrics against reg and derives its tracer
// from the global otel TracerProvider (set by the caller at process
// start).
func NewObserver(reg prometheus.Registerer) *Observer {
	o := &Observer{
		tracer: otel.Tracer("github.com/tombee/orbyt"),
		spans:  make(map[string]trace.Span),
		stepsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orbyt_steps_started_total",
			Help: "Total number of workflow steps started.",
		}),
		stepsSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orbyt_steps_succeeded_total",
			Help: "Total number of workflow steps that succeeded.",
		}),
		stepsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orbyt_steps_failed_total",
			Help: "Total number of workflow steps that failed.",
		}),
		stepsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orbyt_steps_running",
			Help: "Number of workflow steps currently Running.",
		}),
	}
	if reg != nil {
		reg.MustRegister(o.stepsStarted, o.stepsSucceeded, o.stepsFailed, o.stepsRunning)
	}
	return o
}

// Subscriber returns the Subscriber function to register on a Bus.
func (o *Observer) Subscriber() Subscriber {
	return o.handle
}

func (o *Observer) handle(e Event) {
	switch e.Type {
	case StepStarted:
		o.stepsStarted.Inc()
		o.stepsRunning.Inc()
		_, span := o.tracer.Start(context.Background(), "step:"+e.StepStarted.StepID,
			trace.WithAttributes(
				attribute.String("step.id", e.StepStarted.StepID),
				attribute.String("step.adapter", e.StepStarted.Adapter),
				attribute.String("step.action", e.StepStarted.Action),
			))
		o.mu.Lock()
		o.spans[e.StepStarted.StepID] = span
		o.mu.Unlock()

	case StepCompleted:
		o.stepsSucceeded.Inc()
		o.stepsRunning.Dec()
		o.endSpan(e.StepCompleted.StepID, nil)

	case StepFailed:
		o.stepsFailed.Inc()
		o.stepsRunning.Dec()
		o.endSpan(e.StepFailed.StepID, &e.StepFailed.ErrorMessage)
	}
}

func (o *Observer) endSpan(stepID string, errMsg *string) {
	o.mu.Lock()
	span, ok := o.spans[stepID]
	delete(o.spans, stepID)
	o.mu.Unlock()
	if !ok {
		return
	}
	if errMsg != nil {
		span.SetStatus(codes.Error, *errMsg)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

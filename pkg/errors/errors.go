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

// Package errors defines the engine's stable error-kind taxonomy as typed
// values, each carrying an optional diag.Diagnostic for path-qualified
// rendering.
package errors

import (
	"fmt"

	"github.com/tombee/orbyt/pkg/diag"
)

// Kind is one of the engine's stable error codes (spec §7).
type Kind string

const (
	KindSchemaValidation     Kind = "SchemaValidation"
	KindDuplicateStepId      Kind = "DuplicateStepId"
	KindMissingDependency    Kind = "MissingDependency"
	KindSelfDependency       Kind = "SelfDependency"
	KindCycleDetected        Kind = "CycleDetected"
	KindUnknownAdapter       Kind = "UnknownAdapter"
	KindUnknownAction        Kind = "UnknownAction"
	KindInputValidation      Kind = "InputValidation"
	KindVariableUnresolved   Kind = "VariableUnresolved"
	KindUnknownReferenceRoot Kind = "UnknownReferenceRoot"
	KindReferenceDepthExceeded Kind = "ReferenceDepthExceeded"
	KindStepTimeout          Kind = "StepTimeout"
	KindWorkflowTimeout      Kind = "WorkflowTimeout"
	KindAdapterFailure       Kind = "AdapterFailure"
	KindCancelled            Kind = "Cancelled"
	KindCancelledDueToUpstream Kind = "CancelledDueToUpstream"
	KindLimitExceeded        Kind = "LimitExceeded"
	KindInternalError        Kind = "InternalError"
)

// fatal reports whether a Kind always aborts the run regardless of
// continueOnError flags.
func (k Kind) fatal() bool {
	return k == KindInternalError
}

// EngineError is the one typed error value the engine returns for every
// Kind in the taxonomy. It wraps an optional diag.Diagnostic for
// path-qualified, human-rendered output and an optional underlying cause.
type EngineError struct {
	// Kind is the stable error code.
	Kind Kind

	// Diagnostic carries the path/hint/context rendering, when available.
	// May be nil for errors raised outside compile-time diagnostics (e.g.
	// a runtime adapter timeout).
	Diagnostic *diag.Diagnostic

	// Message is used when Diagnostic is nil.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Diagnostic != nil {
		return e.Diagnostic.Error()
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Fatal reports whether this error always aborts the run, independent of
// any continueOnError flag (spec §7: "InternalError always aborts").
func (e *EngineError) Fatal() bool {
	return e.Kind.fatal()
}

// New constructs an EngineError from a Kind and message.
func New(kind Kind, message string) *EngineError {
	return &EngineError{Kind: kind, Message: message}
}

// Wrap constructs an EngineError from a Kind, message, and underlying
// cause.
func Wrap(kind Kind, message string, cause error) *EngineError {
	return &EngineError{Kind: kind, Message: message, Cause: cause}
}

// FromDiagnostic constructs an EngineError carrying a rendered
// diag.Diagnostic.
func FromDiagnostic(kind Kind, d *diag.Diagnostic) *EngineError {
	return &EngineError{Kind: kind, Diagnostic: d}
}

// Is supports errors.Is comparisons against a bare Kind value wrapped in
// an EngineError with no other state, e.g. errors.Is(err, errors.New(KindCancelled, "")).
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

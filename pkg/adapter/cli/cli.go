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

// Package cli is the reference "cli" adapter: a thin variant of shell
// restricted to invoking a single resolved binary directly (no shell
// interpolation), for authors who want to avoid the injection surface of
// "sh -c".
package cli

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/tombee/orbyt/pkg/adapter"
)

// Adapter implements the cli adapter.
type Adapter struct{}

// New constructs the cli Adapter.
func New() *Adapter { return &Adapter{} }

func (a *Adapter) Name() string                 { return "cli" }
func (a *Adapter) Version() string              { return "1.0.0" }
func (a *Adapter) SupportedActions() []string   { return []string{"cli.run"} }

func (a *Adapter) Capabilities() adapter.Capabilities {
	c := adapter.Capabilities{Concurrent: true, Cacheable: false, Idempotent: false, Cost: "low"}
	c.Resources.Filesystem = true
	return c
}

func (a *Adapter) Execute(action string, input map[string]any, ctx adapter.Context) (adapter.Result, error) {
	binary, ok := input["command"].(string)
	if !ok || binary == "" {
		return adapter.Result{Success: false, Error: &adapter.ResultError{
			Message: "\"command\" is required and must be a non-empty string",
			Code:    "InputValidation",
		}}, nil
	}

	args := parseArgs(input["args"])
	cmd := exec.CommandContext(ctx.Ctx, binary, args...)
	cmd.Env = os.Environ()
	for k, v := range ctx.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start).Milliseconds()

	exitCode := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	}

	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return adapter.Result{
			Success:    false,
			Error:      &adapter.ResultError{Message: msg, Code: "AdapterFailure", Details: map[string]any{"exit_code": exitCode}},
			DurationMS: duration,
		}, nil
	}

	return adapter.Result{
		Success: true,
		Data: map[string]any{
			"stdout":    strings.TrimSpace(stdout.String()),
			"stderr":    strings.TrimSpace(stderr.String()),
			"exit_code": exitCode,
		},
		DurationMS: duration,
	}, nil
}

func parseArgs(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		out = append(out, fmt.Sprintf("%v", item))
	}
	return out
}

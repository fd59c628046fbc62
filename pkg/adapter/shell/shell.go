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

// Package shell is the reference "shell" adapter: runs a command or
// script via /bin/sh, enforcing ctx.Deadline cancellation with a
// SIGTERM-then-SIGKILL grace period, grounded on the teacher's
// ShellConnector.
package shell

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/tombee/orbyt/pkg/adapter"
)

// killGrace is how long a terminated process is given to exit
// cooperatively before it is forcefully killed (spec §4.6: "SIGTERM then
// SIGKILL after 5s").
const killGrace = 5 * time.Second

// Adapter implements the shell adapter.
type Adapter struct{}

// New constructs the shell Adapter.
func New() *Adapter { return &Adapter{} }

func (a *Adapter) Name() string    { return "shell" }
func (a *Adapter) Version() string { return "1.0.0" }

func (a *Adapter) SupportedActions() []string {
	return []string{"shell.run", "shell.script"}
}

func (a *Adapter) Capabilities() adapter.Capabilities {
	c := adapter.Capabilities{Concurrent: true, Cacheable: false, Idempotent: false, Cost: "low"}
	c.Resources.Filesystem = true
	return c
}

func (a *Adapter) Execute(action string, input map[string]any, ctx adapter.Context) (adapter.Result, error) {
	command, ok := stringField(input, "command")
	if !ok {
		command, ok = stringField(input, "script")
	}
	if !ok {
		return adapter.Result{Success: false, Error: &adapter.ResultError{
			Message: "one of \"command\" or \"script\" is required",
			Code:    "InputValidation",
		}}, nil
	}

	cmd := exec.CommandContext(ctx.Ctx, "sh", "-c", command)
	cmd.Env = os.Environ()
	for k, v := range ctx.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return adapter.Result{Success: false, Error: &adapter.ResultError{Message: err.Error(), Code: "AdapterFailure"}}, nil
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Ctx.Done():
		_ = cmd.Process.Signal(syscall.SIGTERM)
		select {
		case runErr = <-done:
		case <-time.After(killGrace):
			_ = cmd.Process.Kill()
			runErr = <-done
		}
	}
	duration := time.Since(start).Milliseconds()

	exitCode := 0
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	}

	if runErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = runErr.Error()
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

func stringField(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

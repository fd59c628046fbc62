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

// Package fs is the reference "fs" adapter: read/write/list operations
// confined to a configured root directory, grounded on the teacher's
// FileConnector (path resolution, size quota).
package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tombee/orbyt/pkg/adapter"
)

// DefaultMaxFileSize mirrors the teacher's Config.MaxFileSize default.
const DefaultMaxFileSize = 100 * 1024 * 1024

// Adapter implements the fs adapter, confined to Root.
type Adapter struct {
	Root        string
	MaxFileSize int64
}

// New constructs an fs Adapter rooted at root.
func New(root string) *Adapter {
	return &Adapter{Root: root, MaxFileSize: DefaultMaxFileSize}
}

func (a *Adapter) Name() string    { return "fs" }
func (a *Adapter) Version() string { return "1.0.0" }

func (a *Adapter) SupportedActions() []string {
	return []string{"fs.read", "fs.write", "fs.list", "fs.delete"}
}

func (a *Adapter) Capabilities() adapter.Capabilities {
	c := adapter.Capabilities{Concurrent: true, Cacheable: false, Idempotent: true, Cost: "low"}
	c.Resources.Filesystem = true
	return c
}

func (a *Adapter) Execute(action string, input map[string]any, ctx adapter.Context) (adapter.Result, error) {
	path, ok := input["path"].(string)
	if !ok || path == "" {
		return adapter.Result{Success: false, Error: &adapter.ResultError{Message: "\"path\" is required", Code: "InputValidation"}}, nil
	}

	resolved, err := a.resolve(path)
	if err != nil {
		return adapter.Result{Success: false, Error: &adapter.ResultError{Message: err.Error(), Code: "InputValidation"}}, nil
	}

	switch action {
	case "fs.read":
		return a.read(resolved)
	case "fs.write":
		content, _ := input["content"].(string)
		return a.write(resolved, content)
	case "fs.list":
		return a.list(resolved)
	case "fs.delete":
		return a.delete(resolved)
	default:
		return adapter.Result{Success: false, Error: &adapter.ResultError{Message: "unsupported fs action " + action, Code: "UnknownAction"}}, nil
	}
}

// resolve confines path to a.Root, rejecting traversal outside it
// (the same confinement concern as the teacher's PathResolver, reduced
// to a single-root check for the reference implementation).
func (a *Adapter) resolve(path string) (string, error) {
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute paths are not permitted: %q", path)
	}
	joined := filepath.Join(a.Root, path)
	rel, err := filepath.Rel(filepath.Clean(a.Root), joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the allowed root", path)
	}
	return joined, nil
}

func (a *Adapter) read(path string) (adapter.Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return adapter.Result{Success: false, Error: &adapter.ResultError{Message: err.Error(), Code: "AdapterFailure"}}, nil
	}
	if info.Size() > a.MaxFileSize {
		return adapter.Result{Success: false, Error: &adapter.ResultError{Message: "file exceeds max read size", Code: "LimitExceeded"}}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return adapter.Result{Success: false, Error: &adapter.ResultError{Message: err.Error(), Code: "AdapterFailure"}}, nil
	}
	return adapter.Result{Success: true, Data: map[string]any{"content": string(data), "size": info.Size()}}, nil
}

func (a *Adapter) write(path, content string) (adapter.Result, error) {
	if int64(len(content)) > a.MaxFileSize {
		return adapter.Result{Success: false, Error: &adapter.ResultError{Message: "content exceeds max write size", Code: "LimitExceeded"}}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return adapter.Result{Success: false, Error: &adapter.ResultError{Message: err.Error(), Code: "AdapterFailure"}}, nil
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return adapter.Result{Success: false, Error: &adapter.ResultError{Message: err.Error(), Code: "AdapterFailure"}}, nil
	}
	return adapter.Result{Success: true, Data: map[string]any{"bytesWritten": len(content)}}, nil
}

func (a *Adapter) list(path string) (adapter.Result, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return adapter.Result{Success: false, Error: &adapter.ResultError{Message: err.Error(), Code: "AdapterFailure"}}, nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return adapter.Result{Success: true, Data: map[string]any{"entries": names}}, nil
}

func (a *Adapter) delete(path string) (adapter.Result, error) {
	if err := os.Remove(path); err != nil {
		return adapter.Result{Success: false, Error: &adapter.ResultError{Message: err.Error(), Code: "AdapterFailure"}}, nil
	}
	return adapter.Result{Success: true, Data: map[string]any{"deleted": path}}, nil
}

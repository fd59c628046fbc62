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

// Package plugin is the reference adapter for any action whose first
// dotted token is not a built-in kind (§3 "everything else routes to
// plugin"). It dispatches through a mark3labs/mcp-go client as an MCP
// tool call, grounded on the teacher's MCPTool adapter
// (internal/mcp/tool_adapter.go), re-expressed against the real
// mcp-go client/types instead of the teacher's own MCP protocol types.
package plugin

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tombee/orbyt/pkg/adapter"
)

// Client is the subset of an MCP client's surface a plugin dispatch needs.
type Client interface {
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// Adapter dispatches actions to MCP servers registered by name. An
// action is addressed as "<server>.<tool>"; everything after the first
// dot is the tool name, supporting dotted tool names themselves.
type Adapter struct {
	mu      sync.RWMutex
	clients map[string]Client
}

// New constructs an empty plugin Adapter; servers are registered with
// Register as they're discovered/started.
func New() *Adapter {
	return &Adapter{clients: make(map[string]Client)}
}

// Register associates serverName with an MCP client.
func (a *Adapter) Register(serverName string, c Client) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clients[serverName] = c
}

// NewStdioClient is a convenience wrapper around mcp-go's stdio
// transport, for servers launched as a local subprocess.
func NewStdioClient(command string, env []string, args ...string) (*client.Client, error) {
	return client.NewStdioMCPClient(command, env, args...)
}

func (a *Adapter) Name() string               { return "plugin" }
func (a *Adapter) Version() string            { return "1.0.0" }
func (a *Adapter) SupportedActions() []string { return []string{"*"} }

func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{Concurrent: true, Cacheable: false, Idempotent: false, Cost: "medium"}
}

func (a *Adapter) Execute(action string, input map[string]any, ctx adapter.Context) (adapter.Result, error) {
	server, tool, ok := strings.Cut(action, ".")
	if !ok || server == "" || tool == "" {
		return adapter.Result{Success: false, Error: &adapter.ResultError{
			Message: fmt.Sprintf("plugin action %q must be of the form <server>.<tool>", action),
			Code:    "UnknownAction",
		}}, nil
	}

	a.mu.RLock()
	c, found := a.clients[server]
	a.mu.RUnlock()
	if !found {
		return adapter.Result{Success: false, Error: &adapter.ResultError{
			Message: fmt.Sprintf("no MCP server registered under name %q", server),
			Code:    "UnknownAdapter",
		}}, nil
	}

	runCtx := ctx.Ctx
	if runCtx == nil {
		runCtx = context.Background()
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = input

	resp, err := c.CallTool(runCtx, req)
	if err != nil {
		return adapter.Result{Success: false, Error: &adapter.ResultError{Message: err.Error(), Code: "AdapterFailure"}}, nil
	}

	return adapter.Result{Success: true, Data: convertContent(resp)}, nil
}

// convertContent flattens an MCP tool result into adapter output data,
// mirroring the teacher's single-text-content shortcut with a
// multi-content fallback.
func convertContent(resp *mcp.CallToolResult) map[string]any {
	if resp == nil {
		return map[string]any{}
	}
	if len(resp.Content) == 1 {
		if tc, ok := mcp.AsTextContent(resp.Content[0]); ok {
			return map[string]any{"result": tc.Text, "isError": resp.IsError}
		}
	}
	items := make([]map[string]any, 0, len(resp.Content))
	for _, c := range resp.Content {
		item := map[string]any{}
		if tc, ok := mcp.AsTextContent(c); ok {
			item["type"] = "text"
			item["text"] = tc.Text
		}
		items = append(items, item)
	}
	return map[string]any{"content": items, "isError": resp.IsError}
}

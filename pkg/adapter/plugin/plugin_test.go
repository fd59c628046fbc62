package plugin

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tombee/orbyt/pkg/adapter"
)

type fakeClient struct {
	result *mcp.CallToolResult
	err    error
	gotReq mcp.CallToolRequest
}

func (f *fakeClient) CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f.gotReq = req
	return f.result, f.err
}

func TestPluginExecuteDispatchesToRegisteredServer(t *testing.T) {
	fc := &fakeClient{result: &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent("ok")}}}
	a := New()
	a.Register("github", fc)

	res, err := a.Execute("github.list_repos", map[string]any{"org": "tombee"}, adapter.Context{Ctx: context.Background()})
	if err != nil {
		t.Fatalf("unexpected go error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if fc.gotReq.Params.Name != "list_repos" {
		t.Errorf("got tool name %q, want list_repos", fc.gotReq.Params.Name)
	}
}

func TestPluginExecuteUnknownServer(t *testing.T) {
	a := New()
	res, err := a.Execute("unregistered.tool", nil, adapter.Context{Ctx: context.Background()})
	if err != nil {
		t.Fatalf("unexpected go error: %v", err)
	}
	if res.Success {
		t.Fatal("expected failure for unregistered server")
	}
	if res.Error.Code != "UnknownAdapter" {
		t.Errorf("got code %v", res.Error.Code)
	}
}

func TestPluginExecuteMalformedAction(t *testing.T) {
	a := New()
	res, _ := a.Execute("noserver", nil, adapter.Context{Ctx: context.Background()})
	if res.Success {
		t.Fatal("expected failure for action without a dot separator")
	}
}

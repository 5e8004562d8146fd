package toolsfabric

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/gatewaycore/internal/configstore"
	"github.com/nextlevelbuilder/gatewaycore/internal/protocol"
)

type fakeMCPSource struct{ defs []ToolDefinition }

func (f *fakeMCPSource) ListTools(cfg *configstore.Config) []ToolDefinition { return f.defs }

type fakeMCPInvoker struct{ result interface{} }

func (f *fakeMCPInvoker) CallTool(ctx context.Context, providerID, command string, args map[string]interface{}, timeoutMs int) (interface{}, error) {
	return f.result, nil
}

func TestListFiltersByKindAndBuiltin(t *testing.T) {
	mcp := &fakeMCPSource{defs: []ToolDefinition{
		{Name: "mcp:exa.search", ProviderID: "mcp:exa", ProviderKind: KindMCP, Command: "search"},
	}}
	f := New(nil, nil, mcp, &fakeMCPInvoker{}, NewPolicy(&configstore.ToolsConfig{Profile: "full"}))
	f.RegisterBuiltin("status", ToolDefinition{ProviderID: "builtin", Description: "status"}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return "ok", nil
	})

	cfg := configstore.Default()
	all := f.List(context.Background(), cfg, ListParams{})
	if len(all) != 2 {
		t.Fatalf("expected 2 defs, got %d: %+v", len(all), all)
	}

	noBuiltin := false
	mcpOnly := f.List(context.Background(), cfg, ListParams{ProviderKind: KindMCP})
	if len(mcpOnly) != 1 || mcpOnly[0].ProviderKind != KindMCP {
		t.Fatalf("expected only mcp defs, got %+v", mcpOnly)
	}

	excluded := f.List(context.Background(), cfg, ListParams{IncludeBuiltin: &noBuiltin})
	for _, d := range excluded {
		if d.ProviderKind == KindBuiltin {
			t.Fatalf("builtin should have been excluded: %+v", excluded)
		}
	}
}

func TestCallToolNotFound(t *testing.T) {
	f := New(nil, nil, &fakeMCPSource{}, &fakeMCPInvoker{}, NewPolicy(nil))
	_, err := f.Call(context.Background(), configstore.Default(), CallParams{ProviderID: "mcp:exa", ToolName: "mcp:exa.search"})
	if err == nil || err.Code != protocol.ErrToolNotFound {
		t.Fatalf("expected TOOL_NOT_FOUND, got %v", err)
	}
}

func TestCallMCPRoundTrip(t *testing.T) {
	mcp := &fakeMCPSource{defs: []ToolDefinition{
		{Name: "mcp:exa.search", ProviderID: "mcp:exa", ProviderKind: KindMCP, Command: "search"},
	}}
	invoker := &fakeMCPInvoker{result: map[string]interface{}{"hits": 1}}
	f := New(nil, nil, mcp, invoker, NewPolicy(nil))

	result, err := f.Call(context.Background(), configstore.Default(), CallParams{
		ProviderID: "mcp:exa", ToolName: "mcp:exa.search", Args: map[string]interface{}{"q": "hello"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.OK || result.ProviderID != "mcp:exa" || result.Command != "search" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestOrderingPolicyCompanionBeforeMCP(t *testing.T) {
	companion := &fakeCompanionSource{nodes: []CompanionNode{
		{NodeID: "n1", DisplayName: "Desk", Actions: []NodeAction{{Command: "search", Params: map[string]interface{}{"providerId": "mcp:exa"}}}},
	}}
	mcp := &fakeMCPSource{defs: []ToolDefinition{
		{Name: "mcp:exa.search", ProviderID: "mcp:exa", ProviderKind: KindMCP, Command: "search"},
	}}
	f := New(companion, nil, mcp, nil, NewPolicy(nil))
	defs := f.ListDefinitions(context.Background(), configstore.Default())
	if len(defs) != 1 {
		t.Fatalf("expected collision deduped to 1, got %d: %+v", len(defs), defs)
	}
	if defs[0].NodeID != "n1" {
		t.Fatalf("expected companion-sourced definition to win tie-break, got %+v", defs[0])
	}
}

type fakeCompanionSource struct{ nodes []CompanionNode }

func (f *fakeCompanionSource) Nodes() []CompanionNode { return f.nodes }

// Package toolsfabric unifies companion-node actions, MCP runtime tools,
// and process-local builtin handlers into one filtered, dispatchable view,
// following the "tagged variant" discriminator style the gateway uses
// elsewhere for polymorphic sources (§9 Design notes).
package toolsfabric

// ProviderKind discriminates where a tool definition comes from.
type ProviderKind string

const (
	KindCompanion ProviderKind = "companion"
	KindMCP       ProviderKind = "mcp"
	KindBuiltin   ProviderKind = "builtin"
)

// kindOrder gives the tie-break order used when two definitions collide on
// the same (providerId, command): companion < mcp < builtin.
var kindOrder = map[ProviderKind]int{
	KindCompanion: 0,
	KindMCP:       1,
	KindBuiltin:   2,
}

// ToolDefinition is the runtime-only, never-persisted unified tool shape.
type ToolDefinition struct {
	Name          string                 `json:"name"` // "<providerId>.<command>"
	ProviderID    string                 `json:"providerId"`
	ProviderKind  ProviderKind           `json:"providerKind"`
	ProviderLabel string                 `json:"providerLabel,omitempty"`
	Description   string                 `json:"description,omitempty"`
	InputSchema   map[string]interface{} `json:"inputSchema,omitempty"`
	Command       string                 `json:"command"`
	NodeID        string                 `json:"nodeId,omitempty"`
	NodeName      string                 `json:"nodeName,omitempty"`
}

// CallResult is the result of toolsfabric.Call.
type CallResult struct {
	OK         bool        `json:"ok"`
	ProviderID string      `json:"providerId"`
	ToolName   string      `json:"toolName"`
	Command    string      `json:"command"`
	Result     interface{} `json:"result,omitempty"`
}

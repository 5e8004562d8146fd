package toolsfabric

import (
	"context"
	"sort"
	"strings"

	"github.com/nextlevelbuilder/gatewaycore/internal/configstore"
	"github.com/nextlevelbuilder/gatewaycore/internal/protocol"
)

// CompanionNode is the minimal view the fabric needs of a connected node
// (internal/noderegistry provides the concrete implementation).
type CompanionNode struct {
	NodeID      string
	DisplayName string
	Actions     []NodeAction
}

// NodeAction is a single action a companion node publishes.
type NodeAction struct {
	ID          string
	Label       string
	Description string
	Command     string
	Params      map[string]interface{}
}

// CompanionSource lists currently connected nodes and their actions.
type CompanionSource interface {
	Nodes() []CompanionNode
}

// CompanionInvoker invokes a command on a specific node.
type CompanionInvoker interface {
	Invoke(ctx context.Context, nodeID, command string, args map[string]interface{}, timeoutMs int) (interface{}, error)
}

// MCPSource lists materialized runtime tool definitions for enabled,
// credential-satisfied MCP providers (internal/mcphub provides this).
type MCPSource interface {
	ListTools(cfg *configstore.Config) []ToolDefinition
}

// MCPInvoker invokes a tool on an MCP provider.
type MCPInvoker interface {
	CallTool(ctx context.Context, providerID, command string, args map[string]interface{}, timeoutMs int) (interface{}, error)
}

// BuiltinHandler is a process-local command handler.
type BuiltinHandler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// BuiltinTool pairs a definition with its handler.
type BuiltinTool struct {
	Definition ToolDefinition
	Handler    BuiltinHandler
}

// Fabric unifies the three sources into list/call operations.
type Fabric struct {
	companions CompanionSource
	invoker    CompanionInvoker
	mcp        MCPSource
	mcpInvoker MCPInvoker
	builtins   map[string]BuiltinTool // keyed by command
	policy     *Policy
}

func New(companions CompanionSource, invoker CompanionInvoker, mcp MCPSource, mcpInvoker MCPInvoker, policy *Policy) *Fabric {
	return &Fabric{
		companions: companions,
		invoker:    invoker,
		mcp:        mcp,
		mcpInvoker: mcpInvoker,
		builtins:   map[string]BuiltinTool{},
		policy:     policy,
	}
}

// RegisterBuiltin registers a process-local command handler under the
// "builtin" providerId.
func (f *Fabric) RegisterBuiltin(command string, def ToolDefinition, handler BuiltinHandler) {
	def.Command = command
	def.ProviderKind = KindBuiltin
	if def.ProviderID == "" {
		def.ProviderID = "builtin"
	}
	def.Name = def.ProviderID + "." + command
	f.builtins[command] = BuiltinTool{Definition: def, Handler: handler}
}

// inferKind applies the prefix-based discriminator rule from §4.E: a
// companion action whose explicit providerId starts with "mcp:" or
// "builtin:" is reclassified to that kind.
func inferKind(providerID string) ProviderKind {
	switch {
	case strings.HasPrefix(providerID, "mcp:"):
		return KindMCP
	case strings.HasPrefix(providerID, "builtin:"):
		return KindBuiltin
	default:
		return KindCompanion
	}
}

// synthesizeSchema reflects a params example map into a shallow
// JSON-Schema-like object, matching the companion-action inference rule.
func synthesizeSchema(params map[string]interface{}) map[string]interface{} {
	if len(params) == 0 {
		return nil
	}
	props := map[string]interface{}{}
	for k, v := range params {
		props[k] = map[string]interface{}{"type": jsonType(v)}
	}
	return map[string]interface{}{"type": "object", "properties": props}
}

func jsonType(v interface{}) string {
	switch v.(type) {
	case bool:
		return "boolean"
	case float64, int, int64:
		return "number"
	case string:
		return "string"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	default:
		return "string"
	}
}

// companionDefinitions derives ToolDefinitions from connected nodes.
func (f *Fabric) companionDefinitions() []ToolDefinition {
	if f.companions == nil {
		return nil
	}
	var defs []ToolDefinition
	for _, node := range f.companions.Nodes() {
		for _, action := range node.Actions {
			providerID := "companion:" + node.NodeID
			if pid, ok := action.Params["providerId"].(string); ok && pid != "" {
				providerID = pid
			}
			kind := inferKind(providerID)
			defs = append(defs, ToolDefinition{
				Name:          providerID + "." + action.Command,
				ProviderID:    providerID,
				ProviderKind:  kind,
				ProviderLabel: node.DisplayName,
				Description:   action.Description,
				InputSchema:   synthesizeSchema(action.Params),
				Command:       action.Command,
				NodeID:        node.NodeID,
				NodeName:      node.DisplayName,
			})
		}
	}
	return defs
}

// ListDefinitions returns the union of all three sources, filtered by
// config (disabled MCP providers contribute zero definitions because
// MCPSource.ListTools already excludes them).
func (f *Fabric) ListDefinitions(ctx context.Context, cfg *configstore.Config) []ToolDefinition {
	var all []ToolDefinition
	all = append(all, f.companionDefinitions()...)
	if f.mcp != nil {
		all = append(all, f.mcp.ListTools(cfg)...)
	}
	for _, bt := range f.builtins {
		all = append(all, bt.Definition)
	}
	return dedupeOrdered(all)
}

// dedupeOrdered applies the ordering policy: when multiple definitions
// collide on (providerId, command), prefer exact-name matches over prefix
// matches, tie-broken by source order (companion < mcp < builtin). Because
// this package has no notion of "prefix match" among its own definitions
// (that concept applies to name resolution in Call), dedupe here simply
// keeps the lowest kindOrder entry per (providerId, command).
func dedupeOrdered(defs []ToolDefinition) []ToolDefinition {
	best := map[string]ToolDefinition{}
	order := make([]string, 0, len(defs))
	for _, d := range defs {
		key := d.ProviderID + "\x00" + d.Command
		existing, ok := best[key]
		if !ok {
			best[key] = d
			order = append(order, key)
			continue
		}
		if kindOrder[d.ProviderKind] < kindOrder[existing.ProviderKind] {
			best[key] = d
		}
	}
	out := make([]ToolDefinition, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListParams mirrors the wire params for tools.list.
type ListParams struct {
	ProviderKind   ProviderKind
	ProviderID     string
	ProviderIDs    []string
	IncludeBuiltin *bool // nil = default included (§9 open question, resolved as "included")
}

// List further filters ListDefinitions per the tools.list protocol method.
func (f *Fabric) List(ctx context.Context, cfg *configstore.Config, params ListParams) []ToolDefinition {
	defs := f.ListDefinitions(ctx, cfg)
	includeBuiltin := true
	if params.IncludeBuiltin != nil {
		includeBuiltin = *params.IncludeBuiltin
	}

	var out []ToolDefinition
	for _, d := range defs {
		if !includeBuiltin && d.ProviderKind == KindBuiltin {
			continue
		}
		if params.ProviderKind != "" && d.ProviderKind != params.ProviderKind {
			continue
		}
		if params.ProviderID != "" && d.ProviderID != params.ProviderID {
			continue
		}
		if len(params.ProviderIDs) > 0 && !containsStr(params.ProviderIDs, d.ProviderID) {
			continue
		}
		out = append(out, d)
	}
	return f.applyPolicy(out)
}

// applyPolicy narrows defs to what the tools-policy engine allows for each
// def's provider, matching §4.E's "provider-scoped filtering". Grouped by
// ProviderID so each provider's allow/deny/profile pipeline runs once over
// its own command set.
func (f *Fabric) applyPolicy(defs []ToolDefinition) []ToolDefinition {
	if f.policy == nil {
		return defs
	}
	byProvider := map[string][]string{}
	for _, d := range defs {
		byProvider[d.ProviderID] = append(byProvider[d.ProviderID], d.Command)
	}
	allowed := map[string]map[string]bool{}
	for providerID, names := range byProvider {
		set := map[string]bool{}
		for _, n := range f.policy.Filter(names, providerID, nil, nil) {
			set[n] = true
		}
		allowed[providerID] = set
	}
	out := make([]ToolDefinition, 0, len(defs))
	for _, d := range defs {
		if allowed[d.ProviderID][d.Command] {
			out = append(out, d)
		}
	}
	return out
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// normalizeProviderID applies the MCP "mcp:" prefix + lowercase rule.
func normalizeProviderID(providerID string, kindHint ProviderKind) string {
	if kindHint == KindMCP || strings.HasPrefix(strings.ToLower(providerID), "mcp:") {
		providerID = strings.ToLower(providerID)
		if !strings.HasPrefix(providerID, "mcp:") {
			providerID = "mcp:" + providerID
		}
	}
	return providerID
}

// CallParams mirrors the wire params for tools.call.
type CallParams struct {
	ProviderID string
	ToolName   string
	Args       map[string]interface{}
	TimeoutMs  int
}

// Call resolves and invokes a tool, following §4.E's normalize → strip
// prefix → resolve → dispatch sequence.
func (f *Fabric) Call(ctx context.Context, cfg *configstore.Config, p CallParams) (*CallResult, *protocol.Error) {
	providerID := normalizeProviderID(p.ProviderID, "")
	command := strings.TrimPrefix(p.ToolName, providerID+".")

	defs := f.applyPolicy(f.ListDefinitions(ctx, cfg))
	var match *ToolDefinition
	for i := range defs {
		d := &defs[i]
		if d.ProviderID != providerID {
			continue
		}
		if d.Command == command {
			match = d
			break
		}
	}
	if match == nil {
		// Prefix-match fallback: a command name that itself contains dots.
		for i := range defs {
			d := &defs[i]
			if d.ProviderID == providerID && strings.HasPrefix(command, d.Command) {
				match = d
				break
			}
		}
	}
	if match == nil {
		return nil, protocol.NewError(protocol.ErrToolNotFound, "no tool matches "+p.ToolName)
	}

	switch match.ProviderKind {
	case KindMCP:
		if f.mcpInvoker == nil {
			return nil, protocol.NewError(protocol.ErrUnavailable, "mcp hub unavailable")
		}
		result, err := f.mcpInvoker.CallTool(ctx, providerID, match.Command, p.Args, p.TimeoutMs)
		if err != nil {
			return nil, protocol.NewError(protocol.ErrUnavailable, truncate(err.Error(), 500))
		}
		return &CallResult{OK: true, ProviderID: providerID, ToolName: p.ToolName, Command: match.Command, Result: result}, nil
	case KindBuiltin:
		bt, ok := f.builtins[match.Command]
		if !ok {
			return nil, protocol.NewError(protocol.ErrToolNotFound, "builtin tool not registered: "+match.Command)
		}
		result, err := bt.Handler(ctx, p.Args)
		if err != nil {
			return nil, protocol.NewError(protocol.ErrInternal, err.Error())
		}
		return &CallResult{OK: true, ProviderID: match.ProviderID, ToolName: p.ToolName, Command: match.Command, Result: result}, nil
	default: // companion
		if match.NodeID == "" {
			return nil, protocol.NewError(protocol.ErrInvalidRequest, "companion tool has no bound node")
		}
		if f.invoker == nil {
			return nil, protocol.NewError(protocol.ErrUnavailable, "node registry unavailable")
		}
		result, err := f.invoker.Invoke(ctx, match.NodeID, match.Command, p.Args, p.TimeoutMs)
		if err != nil {
			return nil, protocol.NewError(protocol.ErrUnavailable, truncate(err.Error(), 500))
		}
		return &CallResult{OK: true, ProviderID: match.ProviderID, ToolName: p.ToolName, Command: match.Command, Result: result}, nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

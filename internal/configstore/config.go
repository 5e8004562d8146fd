// Package configstore implements the gateway's config snapshot model: a
// typed tree loaded from a tolerant JSON5 file, a deterministic hash over
// its canonical serialization, and diff-based classification of changed
// paths into hot-reloadable vs restart-required.
package configstore

// Config is the root typed configuration tree. It intentionally covers only
// what the gateway core reads; channel-plugin and provider-SDK specific
// configuration is out of scope and lives in the external collaborators
// that own those surfaces.
type Config struct {
	Gateway   GatewayConfig                `json:"gateway"`
	Admin     AdminConfig                  `json:"admin"`
	Sessions  SessionsConfig               `json:"sessions"`
	Tools     ToolsConfig                  `json:"tools"`
	MCP       map[string]MCPProviderEntry  `json:"mcp,omitempty"`
	Heartbeat HeartbeatConfig              `json:"heartbeat"`
	StateDir  string                       `json:"stateDir,omitempty"`
	// Auth maps a provider id to the authprofiles key holding its OAuth
	// profile, set by internal/oauthflows on every successful device/PKCE
	// completion (§4.L: "the config is updated to reference that profile").
	Auth map[string]string `json:"auth,omitempty"`
}

// GatewayConfig configures the WebSocket server (internal/gateway).
type GatewayConfig struct {
	Host            string   `json:"host"`
	Port            int      `json:"port"`
	Token           string   `json:"token,omitempty"`
	OwnerIDs        []string `json:"ownerIds,omitempty"`
	AllowedOrigins  []string `json:"allowedOrigins,omitempty"`
	MaxMessageChars int      `json:"maxMessageChars"`
	RateLimitRPM    int      `json:"rateLimitRpm"`
	ReloadMode      string   `json:"reloadMode"` // "hot" | "restart" | "off"
}

// AdminConfig configures the local admin pipe (internal/adminpipe).
type AdminConfig struct {
	PipePath string `json:"pipePath,omitempty"`
}

// SessionsConfig configures the session store (internal/sessionstore).
type SessionsConfig struct {
	Store string `json:"store"`
}

// ToolsConfig configures the tools fabric's filtering pipeline
// (internal/toolsfabric), directly grounded on the teacher's tools.policy
// shape (profile/allow/deny/alsoAllow/byProvider).
type ToolsConfig struct {
	Profile       string                       `json:"profile,omitempty"`
	Allow         []string                     `json:"allow,omitempty"`
	Deny          []string                     `json:"deny,omitempty"`
	AlsoAllow     []string                     `json:"alsoAllow,omitempty"`
	ByProvider    map[string]ToolPolicySpec    `json:"byProvider,omitempty"`
	IncludeBuiltin *bool                       `json:"includeBuiltin,omitempty"`
}

// ToolPolicySpec is a per-provider or per-agent allow/deny override.
type ToolPolicySpec struct {
	Profile   string   `json:"profile,omitempty"`
	Allow     []string `json:"allow,omitempty"`
	Deny      []string `json:"deny,omitempty"`
	AlsoAllow []string `json:"alsoAllow,omitempty"`
}

// HeartbeatConfig controls whether heartbeat (non-user-initiated) agent
// runs are visible on the chat stream (§4.J).
type HeartbeatConfig struct {
	ShowOK bool `json:"showOk"`
}

// MCPConnection describes how to reach an MCP provider over HTTP.
type MCPConnection struct {
	Type           string                 `json:"type"` // always "http"
	DeploymentURL  string                 `json:"deploymentUrl"`
	AuthType       string                 `json:"authType,omitempty"` // "none" | "bearer"
	ConfigSchema   map[string]interface{} `json:"configSchema,omitempty"`
}

// MCPTool is the cached runtime tool schema for a provider, populated by
// discovery (tools/list) and consulted by the tools fabric.
type MCPTool struct {
	Name        string                 `json:"name"`
	Command     string                 `json:"command"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"inputSchema,omitempty"`
}

// MCPProviderEntry is the persisted shape of a configured MCP provider,
// keyed by normalized providerId ("mcp:<slug>") in Config.MCP.
type MCPProviderEntry struct {
	Enabled         bool                   `json:"enabled"`
	Label           string                 `json:"label,omitempty"`
	Source          string                 `json:"source,omitempty"` // "manual" | "catalog"
	QualifiedName   string                 `json:"qualifiedName,omitempty"`
	Connection      MCPConnection          `json:"connection"`
	Fields          map[string]interface{} `json:"fields,omitempty"`
	SecretRefs      map[string]string      `json:"secretRefs,omitempty"`
	RequiredSecrets []string               `json:"requiredSecrets,omitempty"`
	Tools           []MCPTool              `json:"tools,omitempty"`
	UpdatedAt       int64                  `json:"updatedAt,omitempty"`
	InstalledAt     int64                  `json:"installedAt,omitempty"`
}

// Default returns a Config with sensible defaults, mirroring the teacher's
// config.Default() boot values for gateway networking and rate limiting.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:            "0.0.0.0",
			Port:            18790,
			MaxMessageChars: 32000,
			RateLimitRPM:    20,
			ReloadMode:      "hot",
		},
		Admin: AdminConfig{
			PipePath: "gateway.sock",
		},
		Sessions: SessionsConfig{
			Store: "sessions.json",
		},
		Tools: ToolsConfig{
			Profile: "full",
		},
		MCP: map[string]MCPProviderEntry{},
	}
}

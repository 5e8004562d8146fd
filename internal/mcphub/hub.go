package mcphub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/gatewaycore/internal/configstore"
	"github.com/nextlevelbuilder/gatewaycore/internal/protocol"
	"github.com/nextlevelbuilder/gatewaycore/internal/restart"
	"github.com/nextlevelbuilder/gatewaycore/internal/secretstore"
	"github.com/nextlevelbuilder/gatewaycore/internal/toolsfabric"
)

// Preset is a provider template offered by mcp.presets.list, defined in the
// static config-driven catalog (label, icon, required secrets, optional
// schema, docs links). Unrecognized fields are never round-tripped.
type Preset struct {
	ID              string                 `json:"id"`
	Label           string                 `json:"label"`
	Icon            string                 `json:"icon,omitempty"`
	RequiredSecrets []string               `json:"requiredSecrets,omitempty"`
	ConfigSchema    map[string]interface{} `json:"configSchema,omitempty"`
	DocsURL         string                 `json:"docsUrl,omitempty"`
}

// Hub owns the MCP provider registry: config-backed entries, their secrets,
// and the HTTP client used to talk to each deployment.
type Hub struct {
	cfgStore        *configstore.Store
	secrets         *secretstore.Store
	scheduler       *restart.Scheduler
	presets         []Preset
	registryBaseURL string
	allowPrivate    bool
	httpClient      *http.Client
}

func New(cfgStore *configstore.Store, secrets *secretstore.Store, scheduler *restart.Scheduler, presets []Preset, registryBaseURL string) *Hub {
	return &Hub{
		cfgStore:        cfgStore,
		secrets:         secrets,
		scheduler:       scheduler,
		presets:         presets,
		registryBaseURL: registryBaseURL,
		httpClient:      newGuardedClient(false),
	}
}

// PresetsList implements mcp.presets.list.
func (h *Hub) PresetsList() []Preset { return h.presets }

// ProviderRow is a materialized snapshot row for mcp.providers.snapshot.
type ProviderRow struct {
	ProviderID        string `json:"providerId"`
	Enabled           bool   `json:"enabled"`
	Configured        bool   `json:"configured"`
	Label             string `json:"label,omitempty"`
	ToolCount         int    `json:"toolCount"`
	SecretsSatisfied  bool   `json:"secretsSatisfied"`
	DeploymentURL     string `json:"deploymentUrl,omitempty"`
}

// ProvidersSnapshot implements mcp.providers.snapshot.
func (h *Hub) ProvidersSnapshot() ([]ProviderRow, string, error) {
	snap, err := h.cfgStore.ReadSnapshot()
	if err != nil {
		return nil, "", err
	}
	var rows []ProviderRow
	for id, entry := range snap.Config.MCP {
		satisfied := true
		for _, field := range entry.RequiredSecrets {
			if !h.requiredSecretSatisfied(id, field) {
				satisfied = false
				break
			}
		}
		rows = append(rows, ProviderRow{
			ProviderID:       id,
			Enabled:          entry.Enabled,
			Configured:       true,
			Label:            entry.Label,
			ToolCount:        len(entry.Tools),
			SecretsSatisfied: satisfied,
			DeploymentURL:    entry.Connection.DeploymentURL,
		})
	}
	return rows, snap.Hash, nil
}

// requiredSecretSatisfied applies the alias rule: token/apiKey/authToken
// are interchangeable, so a requiredSecrets entry of any alias is satisfied
// by any alias being set.
func (h *Hub) requiredSecretSatisfied(providerID, field string) bool {
	for _, alias := range secretstore.SecretAliases {
		if alias == field || containsAlias(field) {
			if _, ok, _ := h.secrets.HasAnyAlias(providerID); ok {
				return true
			}
			break
		}
	}
	has, _ := h.secrets.Has(secretstore.ProviderRef(providerID, field))
	return has
}

func containsAlias(field string) bool {
	for _, a := range secretstore.SecretAliases {
		if a == field {
			return true
		}
	}
	return false
}

// ApplyProviderInput is one entry of the mcp.providers.apply request body.
type ApplyProviderInput struct {
	ProviderID      string
	Configured      bool
	Label           string
	Fields          map[string]interface{}
	Connection      *configstore.MCPConnection
	RequiredSecrets []string
	SecretValues    map[string]*string // nil or "" => delete; else write
	DiscoverTools   bool
	Enabled         bool
}

// ApplyResult is the response of ProvidersApply.
type ApplyResult struct {
	Snapshot         *configstore.Snapshot
	RestartRequired  bool
	FieldErrors      []protocol.FieldError
}

// ProvidersApply implements the optimistic-concurrency, atomic-rollback
// editor described in §4.F.
func (h *Hub) ProvidersApply(ctx context.Context, baseHash string, inputs []ApplyProviderInput) (*ApplyResult, *protocol.Error) {
	current, err := h.cfgStore.ReadSnapshot()
	if err != nil {
		return nil, protocol.NewError(protocol.ErrInternal, err.Error())
	}
	if current.Hash != baseHash {
		return nil, protocol.NewError(protocol.ErrStaleHash, "base hash does not match current config snapshot")
	}

	next := cloneConfig(current.Config)
	type undoEntry struct {
		ref      string
		hadValue bool
		prior    string
	}
	var undo []undoEntry
	rollback := func() {
		for i := len(undo) - 1; i >= 0; i-- {
			u := undo[i]
			if u.hadValue {
				_ = h.secrets.Set(u.ref, u.prior)
			} else {
				_ = h.secrets.Delete(u.ref)
			}
		}
	}

	var fieldErrors []protocol.FieldError
	now := time.Now().UnixMilli()

	for _, in := range inputs {
		if in.ProviderID == "" {
			fieldErrors = append(fieldErrors, protocol.FieldError{Field: "providerId", Message: "providerId is required"})
			continue
		}
		id := strings.ToLower(in.ProviderID)

		if !in.Configured {
			existing, has := next.MCP[id]
			if has {
				for field := range existing.SecretRefs {
					ref := existing.SecretRefs[field]
					prior, hadValue, _ := h.secrets.Get(ref)
					undo = append(undo, undoEntry{ref: ref, hadValue: hadValue, prior: prior})
					if err := h.secrets.Delete(ref); err != nil {
						fieldErrors = append(fieldErrors, protocol.FieldError{ProviderID: id, Field: "secretRefs", Message: err.Error()})
					}
				}
			}
			delete(next.MCP, id)
			continue
		}

		existing := next.MCP[id]
		merged := existing
		merged.Label = in.Label
		merged.Fields = sanitizeFields(in.Fields)
		if in.Connection != nil {
			merged.Connection = *in.Connection
		}
		merged.RequiredSecrets = in.RequiredSecrets
		merged.Enabled = in.Enabled
		merged.UpdatedAt = now
		if merged.InstalledAt == 0 || existing.InstalledAt == 0 {
			merged.InstalledAt = now
		} else {
			merged.InstalledAt = existing.InstalledAt
		}
		if merged.Connection.DeploymentURL == "" {
			fieldErrors = append(fieldErrors, protocol.FieldError{ProviderID: id, Field: "connection.deploymentUrl", Message: "deploymentUrl is required"})
			continue
		}

		if merged.SecretRefs == nil {
			merged.SecretRefs = map[string]string{}
		}
		applyFailed := false
		for field, valuePtr := range in.SecretValues {
			ref := secretstore.ProviderRef(id, field)
			prior, hadValue, _ := h.secrets.Get(ref)
			undo = append(undo, undoEntry{ref: ref, hadValue: hadValue, prior: prior})

			if valuePtr == nil || *valuePtr == "" {
				if err := h.secrets.Delete(ref); err != nil {
					fieldErrors = append(fieldErrors, protocol.FieldError{ProviderID: id, Field: field, Message: err.Error()})
					applyFailed = true
					break
				}
				delete(merged.SecretRefs, field)
				continue
			}
			if err := h.secrets.Set(ref, *valuePtr); err != nil {
				fieldErrors = append(fieldErrors, protocol.FieldError{ProviderID: id, Field: field, Message: err.Error()})
				applyFailed = true
				break
			}
			merged.SecretRefs[field] = ref
		}
		if applyFailed {
			continue
		}

		if in.DiscoverTools {
			token, _, _ := h.secrets.HasAnyAlias(id)
			client := NewClient(ClientOptions{
				DeploymentURL: merged.Connection.DeploymentURL,
				AuthType:      merged.Connection.AuthType,
				BearerToken:   token,
				AllowPrivate:  h.allowPrivate,
			})
			init, ierr := client.Initialize(ctx, "gatewaycore", "1.0.0")
			if ierr != nil {
				fieldErrors = append(fieldErrors, protocol.FieldError{ProviderID: id, Field: "connection.deploymentUrl", Message: ierr.Error()})
				continue
			}
			discovered, derr := client.ListTools(ctx, init.URL)
			if derr != nil {
				fieldErrors = append(fieldErrors, protocol.FieldError{ProviderID: id, Field: "tools", Message: derr.Error()})
				continue
			}
			tools := make([]configstore.MCPTool, 0, len(discovered))
			for _, t := range discovered {
				tools = append(tools, configstore.MCPTool{Name: t.Name, Command: t.Command, Description: t.Description, InputSchema: t.InputSchema})
			}
			merged.Tools = tools
		}

		next.MCP[id] = merged
	}

	if len(fieldErrors) > 0 {
		rollback()
		return nil, protocol.NewError(protocol.ErrInvalidRequest, "one or more providers failed validation").WithDetails(
			map[string]interface{}{"fieldErrors": fieldErrors},
		)
	}

	snap, werr := h.cfgStore.Write(next, baseHash)
	if werr != nil {
		rollback()
		if werr == configstore.ErrStaleHash {
			return nil, protocol.NewError(protocol.ErrStaleHash, "base hash does not match current config snapshot")
		}
		return nil, protocol.NewError(protocol.ErrInternal, werr.Error())
	}

	if h.scheduler != nil {
		_ = h.scheduler.WriteSentinel(restart.Sentinel{
			Status:     "pending",
			DoctorHint: "run `gatewaycore doctor` after restart to confirm MCP providers came back healthy",
			Stats:      restart.SentinelStats{Mode: "config", Reason: "mcp.providers.apply"},
		})
		h.scheduler.ScheduleSelfRestart(restart.DefaultDelay)
	}

	return &ApplyResult{Snapshot: snap, RestartRequired: true}, nil
}

func sanitizeFields(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		switch v.(type) {
		case string, float64, bool, nil:
			out[k] = v
		}
	}
	return out
}

func cloneConfig(cfg *configstore.Config) *configstore.Config {
	raw, _ := json.Marshal(cfg)
	var out configstore.Config
	_ = json.Unmarshal(raw, &out)
	if out.MCP == nil {
		out.MCP = map[string]configstore.MCPProviderEntry{}
	}
	return &out
}

// MarketSearchResult is the normalized response of mcp.market.search.
type MarketSearchResult struct {
	Items      []MarketItem `json:"items"`
	Pagination Pagination   `json:"pagination"`
}

type MarketItem struct {
	QualifiedName string `json:"qualifiedName"`
	DisplayName   string `json:"displayName"`
	Description   string `json:"description,omitempty"`
	IconURL       string `json:"iconUrl,omitempty"`
}

type Pagination struct {
	CurrentPage int `json:"currentPage"`
	PageSize    int `json:"pageSize"`
	TotalPages  int `json:"totalPages"`
	TotalCount  int `json:"totalCount"`
}

// MarketSearch proxies to a remote MCP server registry, mapping /servers
// results. The HTTP call is SSRF-guarded like all other outbound calls.
func (h *Hub) MarketSearch(ctx context.Context, query string, page, pageSize int, registryBaseURL string) (*MarketSearchResult, error) {
	base := registryBaseURL
	if base == "" {
		base = h.registryBaseURL
	}
	if err := CheckSSRF(base, h.allowPrivate); err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/servers?q=%s&page=%d&pageSize=%d", strings.TrimRight(base, "/"), query, page, pageSize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var raw struct {
		Servers []struct {
			QualifiedName string `json:"qualifiedName"`
			DisplayName   string `json:"displayName"`
			Description   string `json:"description"`
			IconURL       string `json:"iconUrl"`
		} `json:"servers"`
		Pagination Pagination `json:"pagination"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	items := make([]MarketItem, 0, len(raw.Servers))
	for _, s := range raw.Servers {
		items = append(items, MarketItem{QualifiedName: s.QualifiedName, DisplayName: s.DisplayName, Description: s.Description, IconURL: s.IconURL})
	}
	return &MarketSearchResult{Items: items, Pagination: raw.Pagination}, nil
}

// toolsfabric.MCPSource implementation.

// ListTools implements toolsfabric.MCPSource: materializes runtime tool
// definitions only for enabled providers whose required secrets are
// satisfied, from the cached tools list.
func (h *Hub) ListTools(cfg *configstore.Config) []toolsfabric.ToolDefinition {
	var defs []toolsfabric.ToolDefinition
	for id, entry := range cfg.MCP {
		if !entry.Enabled {
			continue
		}
		satisfied := true
		for _, field := range entry.RequiredSecrets {
			if !h.requiredSecretSatisfied(id, field) {
				satisfied = false
				break
			}
		}
		if !satisfied {
			continue
		}
		for _, t := range entry.Tools {
			defs = append(defs, toolsfabric.ToolDefinition{
				Name:          id + "." + t.Command,
				ProviderID:    id,
				ProviderKind:  toolsfabric.KindMCP,
				ProviderLabel: entry.Label,
				Description:   t.Description,
				InputSchema:   t.InputSchema,
				Command:       t.Command,
			})
		}
	}
	return defs
}

// CallTool implements toolsfabric.MCPInvoker.
func (h *Hub) CallTool(ctx context.Context, providerID, command string, args map[string]interface{}, timeoutMs int) (interface{}, error) {
	snap, err := h.cfgStore.ReadSnapshot()
	if err != nil {
		return nil, err
	}
	entry, ok := snap.Config.MCP[providerID]
	if !ok {
		return nil, fmt.Errorf("mcphub: unknown provider %q", providerID)
	}
	token, _, _ := h.secrets.HasAnyAlias(providerID)
	client := NewClient(ClientOptions{
		DeploymentURL: entry.Connection.DeploymentURL,
		AuthType:      entry.Connection.AuthType,
		BearerToken:   token,
		AllowPrivate:  h.allowPrivate,
	})
	init, err := client.Initialize(ctx, "gatewaycore", "1.0.0")
	if err != nil {
		return nil, err
	}
	raw, err := client.CallTool(ctx, init.URL, command, args, timeoutMs)
	if err != nil {
		return nil, err
	}
	var result interface{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

package cmd

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nextlevelbuilder/gatewaycore/internal/configstore"
	"github.com/nextlevelbuilder/gatewaycore/internal/gateway"
	"github.com/nextlevelbuilder/gatewaycore/internal/mcphub"
	"github.com/nextlevelbuilder/gatewaycore/internal/modelcache"
	"github.com/nextlevelbuilder/gatewaycore/internal/noderegistry"
	"github.com/nextlevelbuilder/gatewaycore/internal/protocol"
	"github.com/nextlevelbuilder/gatewaycore/internal/restart"
	"github.com/nextlevelbuilder/gatewaycore/internal/runbus"
	"github.com/nextlevelbuilder/gatewaycore/internal/sessionstore"
	"github.com/nextlevelbuilder/gatewaycore/internal/toolsfabric"
)

// registerMethods wires every protocol method this daemon answers. Channel,
// pairing, and skills methods are registered as NOT_FOUND stubs: their
// backing features live outside this gateway's scope, but the method names
// still need to resolve so a client gets a clean error instead of a
// connection-level failure.
func registerMethods(
	server *gateway.Server,
	cfgStore *configstore.Store,
	hub *mcphub.Hub,
	fabric *toolsfabric.Fabric,
	sessStore *sessionstore.Store,
	nodes *noderegistry.Registry,
	bus *runbus.Bus,
	models *modelcache.Cache,
	scheduler *restart.Scheduler,
) {
	r := server.Router()

	r.Register(protocol.MethodConnect, handleConnect(server))
	r.Register(protocol.MethodHealth, handleHealth())
	r.Register(protocol.MethodStatus, handleStatus(server, nodes))

	r.Register(protocol.MethodConfigGet, handleConfigGet(cfgStore))
	r.Register(protocol.MethodConfigSchema, handleConfigSchema())
	r.Register(protocol.MethodConfigApply, handleConfigApply(cfgStore, server))
	r.Register(protocol.MethodConfigPatch, handleConfigApply(cfgStore, server))

	r.Register(protocol.MethodUpdateRun, handleUpdateRun(sessStore, bus))
	r.Register(protocol.MethodRestartSchedule, handleRestartSchedule(scheduler))

	r.Register(protocol.MethodMCPPresetsList, handleMCPPresetsList(hub))
	r.Register(protocol.MethodMCPProvidersSnap, handleMCPProvidersSnapshot(hub))
	r.Register(protocol.MethodMCPProvidersApply, handleMCPProvidersApply(hub))
	r.Register(protocol.MethodMCPMarketSearch, handleMCPMarketSearch(hub))
	r.Register(protocol.MethodMCPMarketDetail, notImplemented("market detail lookups are not wired"))
	r.Register(protocol.MethodMCPMarketInstall, notImplemented("market installs are not wired"))
	r.Register(protocol.MethodMCPMarketUninstall, notImplemented("market uninstalls are not wired"))
	r.Register(protocol.MethodMCPMarketRefresh, notImplemented("market refresh is not wired"))

	r.Register(protocol.MethodToolsList, handleToolsList(fabric, cfgStore))
	r.Register(protocol.MethodToolsCall, handleToolsCall(fabric, cfgStore))

	for _, m := range []string{
		protocol.MethodChannelsStatus, protocol.MethodChannelsList, protocol.MethodChannelsAdd,
		protocol.MethodChannelsRemove, protocol.MethodChannelsLogin, protocol.MethodChannelsLogout,
		protocol.MethodChannelsCapabilities, protocol.MethodChannelsResolve, protocol.MethodChannelsLogs,
		protocol.MethodPairingList, protocol.MethodPairingApprove,
		protocol.MethodSkillsList, protocol.MethodSkillsStatus, protocol.MethodSkillsBins,
		protocol.MethodSkillsInstall, protocol.MethodSkillsUpdate, protocol.MethodSkillsUninstall,
	} {
		r.Register(m, notImplemented("channel plugins and skill installers are not part of this gateway"))
	}
}

func notImplemented(reason string) gateway.HandlerFunc {
	return func(ctx context.Context, c *gateway.Client, params json.RawMessage) (interface{}, *protocol.Error) {
		return nil, protocol.NewError(protocol.ErrNotFound, reason)
	}
}

func handleConnect(server *gateway.Server) gateway.HandlerFunc {
	return func(ctx context.Context, c *gateway.Client, raw json.RawMessage) (interface{}, *protocol.Error) {
		var p protocol.Params
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, protocol.NewError(protocol.ErrInvalidRequest, "malformed connect params")
		}
		token, _ := p.String("token")
		if !server.CheckToken(token) {
			return nil, protocol.NewError(protocol.ErrUnauthorized, "invalid token")
		}
		sessionKey, _ := p.String("sessionKey")
		ownerID, _ := p.String("ownerId")
		if ownerID != "" && !server.IsOwner(ownerID) {
			return nil, protocol.NewError(protocol.ErrUnauthorized, "unknown owner")
		}
		server.BindSession(c, sessionKey, ownerID)
		return map[string]interface{}{"connected": true, "sessionKey": sessionKey}, nil
	}
}

func handleHealth() gateway.HandlerFunc {
	return func(ctx context.Context, c *gateway.Client, raw json.RawMessage) (interface{}, *protocol.Error) {
		return map[string]interface{}{"ok": true, "ts": time.Now().UnixMilli()}, nil
	}
}

func handleStatus(server *gateway.Server, nodes *noderegistry.Registry) gateway.HandlerFunc {
	return func(ctx context.Context, c *gateway.Client, raw json.RawMessage) (interface{}, *protocol.Error) {
		return map[string]interface{}{
			"connections": server.ConnectionCount(),
			"nodes":       nodes.ListConnected(),
			"version":     Version,
		}, nil
	}
}

func handleConfigGet(cfgStore *configstore.Store) gateway.HandlerFunc {
	return func(ctx context.Context, c *gateway.Client, raw json.RawMessage) (interface{}, *protocol.Error) {
		snap, err := cfgStore.ReadSnapshot()
		if err != nil {
			return nil, protocol.NewError(protocol.ErrInternal, err.Error())
		}
		return snap, nil
	}
}

func handleConfigSchema() gateway.HandlerFunc {
	return func(ctx context.Context, c *gateway.Client, raw json.RawMessage) (interface{}, *protocol.Error) {
		return map[string]interface{}{"type": "object"}, nil
	}
}

func handleConfigApply(cfgStore *configstore.Store, server *gateway.Server) gateway.HandlerFunc {
	return func(ctx context.Context, c *gateway.Client, raw json.RawMessage) (interface{}, *protocol.Error) {
		var body struct {
			BaseHash string             `json:"baseHash"`
			Config   *configstore.Config `json:"config"`
		}
		if err := json.Unmarshal(raw, &body); err != nil || body.Config == nil {
			return nil, protocol.NewError(protocol.ErrInvalidRequest, "malformed config params")
		}

		prev, err := cfgStore.ReadSnapshot()
		if err != nil {
			return nil, protocol.NewError(protocol.ErrInternal, err.Error())
		}

		next, err := cfgStore.Write(body.Config, body.BaseHash)
		if err != nil {
			if err == configstore.ErrStaleHash {
				return nil, protocol.NewError(protocol.ErrStaleHash, "base hash does not match current config snapshot")
			}
			return nil, protocol.NewError(protocol.ErrInternal, err.Error())
		}
		if prev.Config != nil && next.Config != nil {
			server.ApplyConfigChange(prev.Config, next.Config)
		}
		return next, nil
	}
}

func handleUpdateRun(sessStore *sessionstore.Store, bus *runbus.Bus) gateway.HandlerFunc {
	return func(ctx context.Context, c *gateway.Client, raw json.RawMessage) (interface{}, *protocol.Error) {
		var p protocol.Params
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, protocol.NewError(protocol.ErrInvalidRequest, "malformed update.run params")
		}
		sessionID, _ := p.String("sessionId")
		clientRunID, _ := p.String("clientRunId")
		if sessionID == "" || clientRunID == "" {
			return nil, protocol.NewError(protocol.ErrInvalidRequest, "sessionId and clientRunId are required")
		}
		bus.RegisterChatRun(sessionID, runbus.ChatLink{SessionKey: c.SessionKey(), ClientRunID: clientRunID})
		return map[string]interface{}{"accepted": true}, nil
	}
}

// handleRestartSchedule implements restart.schedule (spec.md's "gateway
// restart tool"): stage a best-effort sentinel for the requesting session,
// then signal this process to restart after delayMs.
func handleRestartSchedule(scheduler *restart.Scheduler) gateway.HandlerFunc {
	return func(ctx context.Context, c *gateway.Client, raw json.RawMessage) (interface{}, *protocol.Error) {
		if scheduler == nil {
			return nil, protocol.NewError(protocol.ErrUnavailable, "restart scheduler not wired")
		}
		var p protocol.Params
		json.Unmarshal(raw, &p)

		delayMs := time.Duration(p.Int("delayMs", int(restart.DefaultDelay/time.Millisecond), 0, 600000)) * time.Millisecond
		reason, _ := p.String("reason")
		sessionKey, _ := p.String("sessionKey")
		if sessionKey == "" {
			sessionKey = c.SessionKey()
		}

		_ = scheduler.WriteSentinel(restart.Sentinel{
			Status:     "pending",
			SessionKey: sessionKey,
			DoctorHint: "run `gatewaycore doctor` after restart to confirm the gateway came back healthy",
			Stats:      restart.SentinelStats{Mode: "requested", Reason: reason},
		})
		result := scheduler.ScheduleSelfRestart(delayMs)
		return result, nil
	}
}

func handleMCPPresetsList(hub *mcphub.Hub) gateway.HandlerFunc {
	return func(ctx context.Context, c *gateway.Client, raw json.RawMessage) (interface{}, *protocol.Error) {
		return hub.PresetsList(), nil
	}
}

func handleMCPProvidersSnapshot(hub *mcphub.Hub) gateway.HandlerFunc {
	return func(ctx context.Context, c *gateway.Client, raw json.RawMessage) (interface{}, *protocol.Error) {
		rows, hash, err := hub.ProvidersSnapshot()
		if err != nil {
			return nil, protocol.NewError(protocol.ErrInternal, err.Error())
		}
		return map[string]interface{}{"providers": rows, "hash": hash}, nil
	}
}

func handleMCPProvidersApply(hub *mcphub.Hub) gateway.HandlerFunc {
	return func(ctx context.Context, c *gateway.Client, raw json.RawMessage) (interface{}, *protocol.Error) {
		var body struct {
			BaseHash string                       `json:"baseHash"`
			Inputs   []mcphub.ApplyProviderInput `json:"inputs"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, protocol.NewError(protocol.ErrInvalidRequest, "malformed mcp.providers.apply params")
		}
		return hub.ProvidersApply(ctx, body.BaseHash, body.Inputs)
	}
}

func handleMCPMarketSearch(hub *mcphub.Hub) gateway.HandlerFunc {
	return func(ctx context.Context, c *gateway.Client, raw json.RawMessage) (interface{}, *protocol.Error) {
		var p protocol.Params
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, protocol.NewError(protocol.ErrInvalidRequest, "malformed market search params")
		}
		query, _ := p.String("query")
		page := p.Int("page", 1, 1, 1000)
		pageSize := p.Int("pageSize", 20, 1, 100)
		result, err := hub.MarketSearch(ctx, query, page, pageSize, "")
		if err != nil {
			return nil, protocol.NewError(protocol.ErrUnavailable, err.Error())
		}
		return result, nil
	}
}

func handleToolsList(fabric *toolsfabric.Fabric, cfgStore *configstore.Store) gateway.HandlerFunc {
	return func(ctx context.Context, c *gateway.Client, raw json.RawMessage) (interface{}, *protocol.Error) {
		snap, err := cfgStore.ReadSnapshot()
		if err != nil || snap.Config == nil {
			return nil, protocol.NewError(protocol.ErrInternal, "config unavailable")
		}
		var p protocol.Params
		json.Unmarshal(raw, &p)

		listParams := toolsfabric.ListParams{
			ProviderKind: toolsfabric.ProviderKind(mustString(p, "providerKind")),
			ProviderID:   mustString(p, "providerId"),
			ProviderIDs:  stringSlice(p.Array("providerIds")),
		}
		if v, exists := p["includeBuiltin"]; exists {
			if b, ok := v.(bool); ok {
				listParams.IncludeBuiltin = &b
			}
		}
		return fabric.List(ctx, snap.Config, listParams), nil
	}
}

func handleToolsCall(fabric *toolsfabric.Fabric, cfgStore *configstore.Store) gateway.HandlerFunc {
	return func(ctx context.Context, c *gateway.Client, raw json.RawMessage) (interface{}, *protocol.Error) {
		snap, err := cfgStore.ReadSnapshot()
		if err != nil || snap.Config == nil {
			return nil, protocol.NewError(protocol.ErrInternal, "config unavailable")
		}
		var p protocol.Params
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, protocol.NewError(protocol.ErrInvalidRequest, "malformed tools.call params")
		}
		args := protocol.FirstNonEmptyObject(p, "toolArgs", "params", "arguments")
		callParams := toolsfabric.CallParams{
			ProviderID: mustString(p, "providerId"),
			ToolName:   mustString(p, "toolName"),
			Args:       args,
			TimeoutMs:  p.Int("timeoutMs", 30000, 1, 600000),
		}
		return fabric.Call(ctx, snap.Config, callParams)
	}
}

func mustString(p protocol.Params, key string) string {
	v, _ := p.String(key)
	return v
}

func stringSlice(arr []interface{}) []string {
	if arr == nil {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

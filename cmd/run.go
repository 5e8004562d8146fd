package cmd

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nextlevelbuilder/gatewaycore/internal/adminpipe"
	"github.com/nextlevelbuilder/gatewaycore/internal/authprofiles"
	"github.com/nextlevelbuilder/gatewaycore/internal/configstore"
	"github.com/nextlevelbuilder/gatewaycore/internal/gateway"
	"github.com/nextlevelbuilder/gatewaycore/internal/mcphub"
	"github.com/nextlevelbuilder/gatewaycore/internal/modelcache"
	"github.com/nextlevelbuilder/gatewaycore/internal/noderegistry"
	"github.com/nextlevelbuilder/gatewaycore/internal/oauthflows"
	"github.com/nextlevelbuilder/gatewaycore/internal/protocol"
	"github.com/nextlevelbuilder/gatewaycore/internal/restart"
	"github.com/nextlevelbuilder/gatewaycore/internal/runbus"
	"github.com/nextlevelbuilder/gatewaycore/internal/secretstore"
	"github.com/nextlevelbuilder/gatewaycore/internal/sessionstore"
	"github.com/nextlevelbuilder/gatewaycore/internal/toolsfabric"
)

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

func runGateway() {
	setupLogging()

	cfgPath := resolveConfigPath()
	cfgStore := configstore.Open(cfgPath)
	snap, err := cfgStore.ReadSnapshot()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	if !snap.Valid {
		slog.Error("config invalid", "issues", configstore.FormatIssues(snap.Issues))
		os.Exit(1)
	}
	cfg := snap.Config

	stateDir := cfg.StateDir
	if stateDir == "" {
		stateDir = filepath.Dir(cfgPath)
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		slog.Error("state dir create failed", "error", err)
		os.Exit(1)
	}

	secrets, err := secretstore.Open(filepath.Join(stateDir, "secrets"))
	if err != nil {
		slog.Error("secret store open failed", "error", err)
		os.Exit(1)
	}

	sessionPath := sessionstore.ResolveStorePath(stateDir, cfg.Sessions.Store)
	sessStore := sessionstore.Open(sessionPath)

	sentinelPath := filepath.Join(stateDir, "restart-sentinel.json")
	restartSched := restart.New(sentinelPath, restart.SelfSignalFunc(), restart.PlatformSignalName())

	hub := mcphub.New(cfgStore, secrets, restartSched, nil, "")

	nodes := noderegistry.New()
	toolsPolicy := toolsfabric.NewPolicy(&cfg.Tools)
	fabric := toolsfabric.New(nodes, nodeInvoker{registry: nodes}, hub, hub, toolsPolicy)

	server := gateway.NewServer(&cfg.Gateway)
	bus := runbus.New(server, cfg.Heartbeat.ShowOK)

	authStore := authprofiles.Open(filepath.Join(stateDir, "auth-profiles.json"))
	oauthMgr := oauthflows.New(authStore, nil, nil, cfgStore, server)
	modelCache := modelcache.Open(filepath.Join(stateDir, "models.json"))

	registerMethods(server, cfgStore, hub, fabric, sessStore, nodes, bus, modelCache, restartSched)

	if sentinel, err := restartSched.ReadAndClear(); err == nil {
		slog.Info("resuming after restart", "sessionKey", sentinel.SessionKey, "reason", sentinel.Stats.Reason, "doctorHint", sentinel.DoctorHint)
		if sentinel.SessionKey != "" {
			server.SendToSession(sentinel.SessionKey, "restart.resumed", sentinel)
		}
	} else if err != restart.ErrNoSentinel {
		slog.Warn("restart sentinel read failed", "error", err)
	}

	admin := adminpipe.New(resolveAdminSocketPath(stateDir, cfg.Admin.PipePath), adminpipe.Deps{
		Status: func() adminpipe.StatusView {
			return adminpipe.StatusView{Connections: server.ConnectionCount(), Version: Version}
		},
		ListNodes: func() []adminpipe.NodeView {
			var views []adminpipe.NodeView
			for _, n := range nodes.ListConnected() {
				views = append(views, adminpipe.NodeView{NodeID: n.NodeID, DisplayName: n.DisplayName})
			}
			return views
		},
		InvokeNode: func(ctx context.Context, nodeID, command string, args map[string]interface{}, timeoutMs int, idempotencyKey string) (interface{}, error) {
			result, aerr := nodes.Invoke(ctx, nodeInvoker{registry: nodes}, noderegistry.InvokeParams{
				NodeID: nodeID, Command: command, Args: args, TimeoutMs: timeoutMs, IdempotencyKey: idempotencyKey,
			})
			if aerr != nil {
				return nil, aerr
			}
			return result, nil
		},
		GetConfig: func() (interface{}, string, error) {
			s, err := cfgStore.ReadSnapshot()
			if err != nil {
				return nil, "", err
			}
			return s.Config, s.Hash, nil
		},
		Reload: func() error {
			_, err := cfgStore.ReadSnapshot()
			return err
		},
		OAuthStart: func(provider, flow string) (interface{}, error) {
			if flow == string(oauthflows.FlowPKCE) {
				sess, aerr := oauthMgr.StartPKCE(provider)
				if aerr != nil {
					return nil, aerr
				}
				return sess, nil
			}
			sess, aerr := oauthMgr.StartDevice(provider)
			if aerr != nil {
				return nil, aerr
			}
			return sess, nil
		},
		OAuthPoll: func(provider, state string) (interface{}, error) {
			sess, aerr := oauthMgr.Poll(state)
			if aerr != nil {
				return nil, aerr
			}
			return sess, nil
		},
		OAuthComplete: func(provider, state, code string) (interface{}, error) {
			sess, aerr := oauthMgr.Complete(state, code)
			if aerr != nil {
				return nil, aerr
			}
			return sess, nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	watchConfigFile(ctx, cfgPath, cfgStore, server)

	go func() {
		if err := admin.Start(ctx); err != nil {
			slog.Error("admin pipe error", "error", err)
		}
	}()

	go func() {
		sig := <-sigCh
		slog.Info("shutdown initiated", "signal", sig)
		server.Broadcast(protocol.EventShutdown, nil)
		cancel()
	}()

	slog.Info("gatewaycore starting", "version", Version, "addr", cfg.Gateway.Host)
	if err := server.Start(ctx); err != nil {
		slog.Error("gateway error", "error", err)
		os.Exit(1)
	}
}

func resolveAdminSocketPath(stateDir, configured string) string {
	if configured == "" {
		configured = "gateway.sock"
	}
	if filepath.IsAbs(configured) {
		return configured
	}
	return filepath.Join(stateDir, configured)
}

// watchConfigFile reacts to on-disk edits (not API-driven applies, which
// already know their own diff) by re-reading the snapshot and running the
// same hot/restart classification.
func watchConfigFile(ctx context.Context, path string, cfgStore *configstore.Store, server *gateway.Server) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("config watcher unavailable", "error", err)
		return
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		slog.Warn("config watch failed", "error", err)
		watcher.Close()
		return
	}

	prev, _ := cfgStore.ReadSnapshot()

	go func() {
		defer watcher.Close()
		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				debounce.Reset(150 * time.Millisecond)
			case <-debounce.C:
				next, err := cfgStore.ReadSnapshot()
				if err != nil || !next.Valid {
					slog.Warn("config reload failed", "error", err)
					continue
				}
				if prev.Config != nil {
					if err := server.ApplyConfigChange(prev.Config, next.Config); err != nil {
						slog.Warn("config apply failed", "error", err)
					}
				}
				prev = next
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "error", err)
			}
		}
	}()
}

// nodeInvoker adapts the companion-node registry to toolsfabric's
// CompanionInvoker interface; the actual transport (sending a
// nodes.invoke request down the node's WebSocket connection) lives with
// whatever registered the node — out of scope here, so this only enforces
// the "must be connected" contract before the gateway wires a real
// transport in, and returns the JSON-encoded args as the result.
type nodeInvoker struct {
	registry *noderegistry.Registry
}

func (n nodeInvoker) Invoke(ctx context.Context, nodeID, command string, args map[string]interface{}, timeoutMs int) (interface{}, error) {
	connected := false
	for _, node := range n.registry.ListConnected() {
		if node.NodeID == nodeID {
			connected = true
			break
		}
	}
	if !connected {
		return nil, protocol.NewError(protocol.ErrUnavailable, "node not connected: "+nodeID)
	}
	b, _ := json.Marshal(args)
	return json.RawMessage(b), nil
}

package mcphub

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/gatewaycore/internal/configstore"
	"github.com/nextlevelbuilder/gatewaycore/internal/protocol"
	"github.com/nextlevelbuilder/gatewaycore/internal/restart"
	"github.com/nextlevelbuilder/gatewaycore/internal/secretstore"
)

func newTestHub(t *testing.T) (*Hub, *configstore.Store, func() string) {
	t.Helper()
	dir := t.TempDir()
	cfgStore := configstore.Open(filepath.Join(dir, "config.json"))
	secrets, err := secretstore.Open(filepath.Join(dir, "secrets"))
	if err != nil {
		t.Fatal(err)
	}
	sched := restart.New(filepath.Join(dir, "sentinel.json"), func() error { return nil }, "SIGUSR1")
	hub := New(cfgStore, secrets, sched, nil, "")
	currentHash := func() string {
		snap, err := cfgStore.ReadSnapshot()
		if err != nil {
			t.Fatal(err)
		}
		return snap.Hash
	}
	return hub, cfgStore, currentHash
}

func strPtr(s string) *string { return &s }

func TestProvidersApplyHappyPath(t *testing.T) {
	hub, cfgStore, hash := newTestHub(t)

	result, aerr := hub.ProvidersApply(context.Background(), hash(), []ApplyProviderInput{
		{
			ProviderID:      "mcp:exa",
			Configured:      true,
			Enabled:         true,
			Connection:      &configstore.MCPConnection{Type: "http", DeploymentURL: "https://exa.run.tools"},
			RequiredSecrets: []string{"token"},
			SecretValues:    map[string]*string{"token": strPtr("t")},
		},
	})
	if aerr != nil {
		t.Fatalf("apply: %v", aerr)
	}
	if !result.RestartRequired {
		t.Fatalf("expected restartRequired=true")
	}

	snap, err := cfgStore.ReadSnapshot()
	if err != nil {
		t.Fatal(err)
	}
	entry, ok := snap.Config.MCP["mcp:exa"]
	if !ok {
		t.Fatalf("provider not persisted")
	}
	if entry.Connection.DeploymentURL != "https://exa.run.tools" {
		t.Fatalf("unexpected deploymentUrl: %s", entry.Connection.DeploymentURL)
	}

	v, ok, err := hub.secrets.Get(secretstore.ProviderRef("mcp:exa", "token"))
	if err != nil || !ok || v != "t" {
		t.Fatalf("secret not written: %q %v %v", v, ok, err)
	}
}

func TestProvidersApplyStaleHash(t *testing.T) {
	hub, _, hash := newTestHub(t)
	base := hash()

	_, aerr := hub.ProvidersApply(context.Background(), base, []ApplyProviderInput{
		{ProviderID: "mcp:a", Configured: true, Connection: &configstore.MCPConnection{DeploymentURL: "https://a.test"}},
	})
	if aerr != nil {
		t.Fatalf("first apply: %v", aerr)
	}

	_, aerr2 := hub.ProvidersApply(context.Background(), base, []ApplyProviderInput{
		{ProviderID: "mcp:b", Configured: true, Connection: &configstore.MCPConnection{DeploymentURL: "https://b.test"}},
	})
	if aerr2 == nil || aerr2.Code != protocol.ErrStaleHash {
		t.Fatalf("expected STALE_HASH, got %v", aerr2)
	}

	snap, _ := hub.cfgStore.ReadSnapshot()
	if _, exists := snap.Config.MCP["mcp:b"]; exists {
		t.Fatalf("stale apply must not mutate config")
	}
}

func TestProvidersApplyAtomicRollback(t *testing.T) {
	hub, _, hash := newTestHub(t)

	_, aerr := hub.ProvidersApply(context.Background(), hash(), []ApplyProviderInput{
		{ProviderID: "mcp:exa", Configured: true, Connection: &configstore.MCPConnection{DeploymentURL: "https://exa.run.tools"}, SecretValues: map[string]*string{"token": strPtr("t")}},
		{ProviderID: "", Configured: true},
	})
	if aerr == nil || aerr.Code != protocol.ErrInvalidRequest {
		t.Fatalf("expected INVALID_REQUEST for missing providerId, got %v", aerr)
	}

	if v, ok, _ := hub.secrets.Get(secretstore.ProviderRef("mcp:exa", "token")); ok {
		t.Fatalf("no secret should have been written, got %q", v)
	}
}

func TestProvidersApplyUninstallDeletesSecrets(t *testing.T) {
	hub, _, hash := newTestHub(t)

	h1 := hash()
	_, aerr := hub.ProvidersApply(context.Background(), h1, []ApplyProviderInput{
		{
			ProviderID:   "mcp:exa",
			Configured:   true,
			Connection:   &configstore.MCPConnection{DeploymentURL: "https://exa.run.tools"},
			SecretValues: map[string]*string{"token": strPtr("t")},
		},
	})
	if aerr != nil {
		t.Fatalf("install: %v", aerr)
	}

	h2 := hash()
	_, aerr2 := hub.ProvidersApply(context.Background(), h2, []ApplyProviderInput{
		{ProviderID: "mcp:exa", Configured: false},
	})
	if aerr2 != nil {
		t.Fatalf("uninstall: %v", aerr2)
	}

	if has, _ := hub.secrets.Has(secretstore.ProviderRef("mcp:exa", "token")); has {
		t.Fatalf("expected secret deleted on uninstall")
	}
}

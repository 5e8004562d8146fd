package configstore

import (
	"path/filepath"
	"testing"
)

func TestHashDeterministic(t *testing.T) {
	cfg := Default()
	h1, _, err := Hash(cfg)
	if err != nil {
		t.Fatal(err)
	}
	h2, _, err := Hash(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatalf("hash not deterministic: %s != %s", h1, h2)
	}

	cfg.Gateway.Port = 9999
	h3, _, err := Hash(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if h3 == h1 {
		t.Fatalf("mutation did not change hash")
	}
}

func TestWriteStaleHash(t *testing.T) {
	dir := t.TempDir()
	store := Open(filepath.Join(dir, "config.json"))

	snap, err := store.ReadSnapshot()
	if err != nil {
		t.Fatal(err)
	}

	cfg := snap.Config
	cfg.Gateway.Port = 18791
	if _, err := store.Write(cfg, snap.Hash); err != nil {
		t.Fatalf("first write: %v", err)
	}

	cfg2 := snap.Config
	cfg2.Gateway.Port = 18792
	_, err = store.Write(cfg2, snap.Hash)
	if err != ErrStaleHash {
		t.Fatalf("expected ErrStaleHash, got %v", err)
	}

	after, err := store.ReadSnapshot()
	if err != nil {
		t.Fatal(err)
	}
	if after.Config.Gateway.Port != 18791 {
		t.Fatalf("config mutated despite stale hash: %d", after.Config.Gateway.Port)
	}
}

func TestDiffPathsAndClassify(t *testing.T) {
	prev := Default()
	next := Default()
	next.Tools.Profile = "minimal"
	next.Gateway.Port = 9999

	paths, err := DiffPaths(prev, next)
	if err != nil {
		t.Fatal(err)
	}
	found := map[string]bool{}
	for _, p := range paths {
		found[p] = true
	}
	if !found["tools.profile"] || !found["gateway.port"] {
		t.Fatalf("diff paths missing expected entries: %v", paths)
	}

	hot, restart := ClassifyReload("hot", paths)
	if !restart {
		t.Fatalf("expected restart required due to gateway.port change")
	}
	_ = hot

	hot2, restart2 := ClassifyReload("off", paths)
	if hot2 || restart2 {
		t.Fatalf("reloadMode=off must never hot-reload or restart")
	}
}

func TestInvalidMCPEntryMissingURL(t *testing.T) {
	cfg := Default()
	cfg.MCP["mcp:exa"] = MCPProviderEntry{Enabled: true}
	issues := validate(cfg)
	if len(issues) != 1 {
		t.Fatalf("expected 1 issue, got %d: %v", len(issues), issues)
	}
}

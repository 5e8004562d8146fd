package modelcache

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestRefreshPersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.json")
	c := Open(path)

	err := c.Refresh(func() ([]Model, error) {
		return []Model{{ID: "claude-x", Provider: "anthropic", DisplayName: "Claude X"}}, nil
	}, 1000)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(c.Models()) != 1 {
		t.Fatalf("expected 1 model, got %d", len(c.Models()))
	}

	reopened := Open(path)
	models := reopened.Models()
	if len(models) != 1 || models[0].ID != "claude-x" {
		t.Fatalf("unexpected reloaded models: %+v", models)
	}
}

func TestFailedRefreshKeepsPriorSnapshot(t *testing.T) {
	dir := t.TempDir()
	c := Open(filepath.Join(dir, "models.json"))

	if err := c.Refresh(func() ([]Model, error) {
		return []Model{{ID: "m1"}}, nil
	}, 1000); err != nil {
		t.Fatalf("first refresh: %v", err)
	}

	err := c.Refresh(func() ([]Model, error) {
		return nil, errors.New("upstream down")
	}, 2000)
	if err == nil {
		t.Fatalf("expected refresh error to propagate")
	}
	models := c.Models()
	if len(models) != 1 || models[0].ID != "m1" {
		t.Fatalf("expected prior snapshot retained, got %+v", models)
	}
}

func TestMissingFileReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	c := Open(filepath.Join(dir, "nonexistent.json"))
	if models := c.Models(); len(models) != 0 {
		t.Fatalf("expected empty catalog, got %+v", models)
	}
}

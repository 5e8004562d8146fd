package secretstore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSetGetDelete(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "secrets"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	ref := ProviderRef("mcp:exa", "token")
	if has, _ := s.Has(ref); has {
		t.Fatalf("expected no secret before Set")
	}

	if err := s.Set(ref, "t"); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok, err := s.Get(ref)
	if err != nil || !ok || v != "t" {
		t.Fatalf("get after set = %q, %v, %v", v, ok, err)
	}

	info, err := os.Stat(filepath.Join(dir, "secrets"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o700 {
		t.Fatalf("dir mode = %v, want 0700", info.Mode().Perm())
	}

	if err := s.Delete(ref); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if has, _ := s.Has(ref); has {
		t.Fatalf("expected no secret after delete")
	}

	// Deleting an already-absent ref is not an error.
	if err := s.Delete(ref); err != nil {
		t.Fatalf("delete absent: %v", err)
	}
}

func TestHasAnyAlias(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.HasAnyAlias("mcp:exa"); ok {
		t.Fatalf("expected no alias set")
	}
	if err := s.Set(ProviderRef("mcp:exa", "apiKey"), "k"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := s.HasAnyAlias("mcp:exa")
	if err != nil || !ok || v != "k" {
		t.Fatalf("HasAnyAlias = %q, %v, %v", v, ok, err)
	}
}

package authprofiles

import (
	"path/filepath"
	"testing"
)

func TestSaveGetDeleteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := Open(filepath.Join(dir, "auth.json"))

	if err := s.SaveProfile("anthropic", map[string]interface{}{"accessToken": "a"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	profile, ok, err := s.Get("anthropic")
	if err != nil || !ok || profile["accessToken"] != "a" {
		t.Fatalf("unexpected get result: %+v ok=%v err=%v", profile, ok, err)
	}

	names, err := s.List()
	if err != nil || len(names) != 1 || names[0] != "anthropic" {
		t.Fatalf("unexpected list: %v err=%v", names, err)
	}

	if err := s.Delete("anthropic"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.Get("anthropic"); ok {
		t.Fatalf("expected profile gone after delete")
	}
	// deleting again is not an error
	if err := s.Delete("anthropic"); err != nil {
		t.Fatalf("double delete: %v", err)
	}
}

func TestGetMissingFile(t *testing.T) {
	dir := t.TempDir()
	s := Open(filepath.Join(dir, "nope", "auth.json"))
	_, ok, err := s.Get("anthropic")
	if err != nil || ok {
		t.Fatalf("expected no profile, no error for missing file: ok=%v err=%v", ok, err)
	}
}

package sessionstore

import (
	"path/filepath"
	"sync"
	"testing"
)

func TestUpdateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	store := Open(path)

	key := BuildKey("main", "whatsapp", "per-peer", "+15551234567", "")
	err := store.Update(func(m map[string]Entry) {
		m[key] = Entry{SessionID: "s1", UpdatedAt: 1}
	})
	if err != nil {
		t.Fatal(err)
	}

	m, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if m[key].SessionID != "s1" {
		t.Fatalf("unexpected entry: %+v", m[key])
	}
}

func TestConcurrentUpdatesLinearize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	store := Open(path)
	key := "agent:main:telegram:per-peer:1"

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = store.Update(func(m map[string]Entry) {
				e := m[key]
				e.SessionID = "s"
				e.UpdatedAt++
				m[key] = e
			})
		}(i)
	}
	wg.Wait()

	m, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if m[key].UpdatedAt != 50 {
		t.Fatalf("expected 50 linearized increments, got %d", m[key].UpdatedAt)
	}
}

func TestSanitizeLegacyKeyAndMigrate(t *testing.T) {
	legacy := "agent:main:whatsapp:per-peer:desktop-abc123"
	sanitized, ok := SanitizeLegacyKey(legacy, "abc123", "My Desktop")
	if !ok {
		t.Fatalf("expected legacy key to match")
	}
	if sanitized != "agent:main:whatsapp:per-peer:my-desktop" {
		t.Fatalf("unexpected sanitized key: %s", sanitized)
	}

	m := map[string]Entry{
		legacy:    {SessionID: "old", UpdatedAt: 5},
		sanitized: {SessionID: "new", UpdatedAt: 10},
	}
	MigrateLegacyKey(m, legacy, "abc123", "My Desktop")
	if _, exists := m[legacy]; exists {
		t.Fatalf("legacy key should be removed")
	}
	if m[sanitized].SessionID != "new" {
		t.Fatalf("expected newer entry retained, got %+v", m[sanitized])
	}

	// Reverse case: legacy is newer, should win.
	m2 := map[string]Entry{
		legacy:    {SessionID: "fresh", UpdatedAt: 99},
		sanitized: {SessionID: "stale", UpdatedAt: 1},
	}
	MigrateLegacyKey(m2, legacy, "abc123", "My Desktop")
	if m2[sanitized].SessionID != "fresh" {
		t.Fatalf("expected legacy (newer) entry to win, got %+v", m2[sanitized])
	}
}

func TestParseKey(t *testing.T) {
	key := BuildKey("main", "telegram", "per-peer", "123", "99")
	pk, ok := ParseKey(key)
	if !ok {
		t.Fatal("expected parse ok")
	}
	if pk.AgentID != "main" || pk.Channel != "telegram" || pk.ThreadID != "99" {
		t.Fatalf("unexpected parse: %+v", pk)
	}
}

package restart

import (
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduleSelfRestartFiresSignal(t *testing.T) {
	var fired atomic.Bool
	sched := New(filepath.Join(t.TempDir(), "sentinel.json"), func() error {
		fired.Store(true)
		return nil
	}, "SIGUSR1")

	result := sched.ScheduleSelfRestart(5 * time.Millisecond)
	if result.Signal != "SIGUSR1" {
		t.Fatalf("signal = %q", result.Signal)
	}
	if result.DelayMs != 5 {
		t.Fatalf("delayMs = %d", result.DelayMs)
	}

	deadline := time.After(200 * time.Millisecond)
	for !fired.Load() {
		select {
		case <-deadline:
			t.Fatal("signal never fired")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestWriteAndReadAndClearSentinel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sentinel.json")
	sched := New(path, func() error { return nil }, "SIGUSR1")

	if _, err := sched.ReadAndClear(); err != ErrNoSentinel {
		t.Fatalf("expected ErrNoSentinel, got %v", err)
	}

	payload := Sentinel{
		Status:     "staged",
		SessionKey: "agent:main:whatsapp:per-peer:+1555",
		DoctorHint: "check mcp:exa",
		Stats:      SentinelStats{Mode: "config-apply"},
	}
	if err := sched.WriteSentinel(payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := sched.ReadAndClear()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Kind != "restart" || got.SessionKey != payload.SessionKey {
		t.Fatalf("unexpected sentinel: %+v", got)
	}

	// Consumed exactly once.
	if _, err := sched.ReadAndClear(); err != ErrNoSentinel {
		t.Fatalf("expected sentinel to be cleared after first read, got %v", err)
	}
}

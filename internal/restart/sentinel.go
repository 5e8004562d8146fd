// Package restart implements the gateway's cooperative self-restart plane:
// scheduling a signal to the current process after a short delay, and
// persisting a one-shot sentinel payload consumed exactly once on the next
// startup.
package restart

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"
)

// Sentinel is the best-effort on-disk payload written before a restart and
// read exactly once after the next startup.
type Sentinel struct {
	Kind            string             `json:"kind"` // always "restart"
	Status          string             `json:"status,omitempty"`
	TS              int64              `json:"ts"`
	SessionKey      string             `json:"sessionKey,omitempty"`
	DeliveryContext *DeliveryContext   `json:"deliveryContext,omitempty"`
	ThreadID        string             `json:"threadId,omitempty"`
	Message         string             `json:"message,omitempty"`
	DoctorHint      string             `json:"doctorHint,omitempty"`
	Stats           SentinelStats      `json:"stats"`
}

// DeliveryContext is the channel routing triple attached to a sentinel.
type DeliveryContext struct {
	Channel   string `json:"channel"`
	To        string `json:"to"`
	AccountID string `json:"accountId,omitempty"`
}

// SentinelStats records why the restart happened.
type SentinelStats struct {
	Mode   string `json:"mode"`
	Reason string `json:"reason,omitempty"`
}

// ScheduleResult is returned from ScheduleSelfRestart.
type ScheduleResult struct {
	PID     int    `json:"pid"`
	Signal  string `json:"signal"`
	DelayMs int    `json:"delayMs"`
}

// DefaultDelay matches the spec's "e.g. 1.2s" default.
const DefaultDelay = 1200 * time.Millisecond

// Scheduler owns the sentinel file path and the pending self-restart timer.
// A process has exactly one Scheduler; Signal/Sentinel failures are logged
// by the caller and never block the restart itself.
type Scheduler struct {
	sentinelPath string
	pending      atomic.Bool
	signalFunc   func() error
	signalName   string
}

// New returns a Scheduler whose sentinel lives at sentinelPath. signalFunc
// delivers the cooperative restart signal to the current process; on
// platforms with SIGUSR1 it sends that signal to os.Getpid(), documented by
// signalName for the ScheduleResult.
func New(sentinelPath string, signalFunc func() error, signalName string) *Scheduler {
	return &Scheduler{sentinelPath: sentinelPath, signalFunc: signalFunc, signalName: signalName}
}

// ScheduleSelfRestart arranges for signalFunc to run after delay (default
// DefaultDelay when delay is negative; delay==0 restarts on the next tick,
// honoring an explicit "restart now" request). It never blocks the caller;
// it fires the signal on its own goroutine. Best-effort: a second call
// while one is pending still schedules (a lapsed caller is not prevented
// from re-requesting), but only the process's actual signal delivery
// determines the eventual restart.
func (s *Scheduler) ScheduleSelfRestart(delay time.Duration) ScheduleResult {
	if delay < 0 {
		delay = DefaultDelay
	}
	s.pending.Store(true)
	go func() {
		time.Sleep(delay)
		_ = s.signalFunc()
	}()
	return ScheduleResult{PID: os.Getpid(), Signal: s.signalName, DelayMs: int(delay / time.Millisecond)}
}

// WriteSentinel persists payload atomically. Failures are non-fatal to the
// caller's restart path (per §4.C "best-effort"); callers should log and
// continue rather than abort the restart on error.
func (s *Scheduler) WriteSentinel(payload Sentinel) error {
	payload.Kind = "restart"
	if payload.TS == 0 {
		payload.TS = time.Now().UnixMilli()
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.sentinelPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".sentinel-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanTmp := true
	defer func() {
		if cleanTmp {
			os.Remove(tmpPath)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, s.sentinelPath); err != nil {
		return err
	}
	cleanTmp = false
	return nil
}

// ErrNoSentinel is returned by ReadAndClear when no sentinel file exists.
var ErrNoSentinel = errors.New("restart: no sentinel present")

// ReadAndClear reads the sentinel (if any) and deletes it, so it is
// consumed exactly once per startup regardless of what the caller does with
// it afterward.
func (s *Scheduler) ReadAndClear() (*Sentinel, error) {
	data, err := os.ReadFile(s.sentinelPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSentinel
	}
	if err != nil {
		return nil, err
	}
	// Best-effort delete: a failure here must not prevent the caller from
	// using the payload it already read.
	_ = os.Remove(s.sentinelPath)

	var sentinel Sentinel
	if err := json.Unmarshal(data, &sentinel); err != nil {
		return nil, err
	}
	return &sentinel, nil
}

// PlatformSignalName documents the restart signal chosen for this GOOS. On
// unix-like platforms the real SIGUSR1 is used (signal_unix.go);
// elsewhere an equivalent cooperative restart is substituted.
func PlatformSignalName() string {
	if runtime.GOOS == "windows" {
		return "RESTART_EVENT"
	}
	return "SIGUSR1"
}

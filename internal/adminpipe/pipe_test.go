package adminpipe

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func startTestServer(t *testing.T, deps Deps) (client *http.Client, stop func()) {
	t.Helper()
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "admin.sock")
	s := New(socketPath, deps)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(socketPath); err == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	c := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
	}
	return c, func() {
		cancel()
		<-done
	}
}

func TestStatusEndpoint(t *testing.T) {
	deps := Deps{Status: func() StatusView { return StatusView{Uptime: "1s", Connections: 2, Version: "test"} }}
	c, stop := startTestServer(t, deps)
	defer stop()

	resp, err := c.Get("http://unix/api/v1/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got StatusView
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Connections != 2 {
		t.Fatalf("unexpected body: %+v", got)
	}
}

func TestUnknownPathReturns404(t *testing.T) {
	c, stop := startTestServer(t, Deps{})
	defer stop()

	resp, err := c.Get("http://unix/api/v1/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestWrongMethodReturns405(t *testing.T) {
	c, stop := startTestServer(t, Deps{Status: func() StatusView { return StatusView{} }})
	defer stop()

	resp, err := c.Post("http://unix/api/v1/status", "application/json", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestReloadEndpoint(t *testing.T) {
	called := false
	deps := Deps{Reload: func() error { called = true; return nil }}
	c, stop := startTestServer(t, deps)
	defer stop()

	resp, err := c.Post("http://unix/api/v1/reload", "application/json", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !called {
		t.Fatalf("expected reload to run, status=%d called=%v", resp.StatusCode, called)
	}
}

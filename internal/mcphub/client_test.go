package mcphub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseSSETakesLastDataLine(t *testing.T) {
	body := "event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":\"0\",\"result\":{\"tools\":[{\"name\":\"stale\"}]}}\n\nevent: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":\"1\",\"result\":{\"tools\":[]}}\n\n"
	resp, err := parseSSE(strings.NewReader(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var result struct {
		Tools []interface{} `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if len(result.Tools) != 0 {
		t.Fatalf("expected empty tools, got %v", result.Tools)
	}
}

func TestAuthHeaderBearer(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":"1","result":{}}`))
	}))
	defer srv.Close()

	client := NewClient(ClientOptions{DeploymentURL: srv.URL, AuthType: "bearer", BearerToken: "k", AllowPrivate: true})
	if _, err := client.call(context.Background(), srv.URL, "initialize", nil, "1"); err != nil {
		t.Fatalf("call: %v", err)
	}
	if gotAuth != "Bearer k" {
		t.Fatalf("Authorization header = %q, want %q", gotAuth, "Bearer k")
	}
}

func TestAuthHeaderNoneSendsNoHeader(t *testing.T) {
	var gotAuth string
	seen := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		seen = true
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":"1","result":{}}`))
	}))
	defer srv.Close()

	client := NewClient(ClientOptions{DeploymentURL: srv.URL, AuthType: "none", BearerToken: "k", AllowPrivate: true})
	if _, err := client.call(context.Background(), srv.URL, "initialize", nil, "1"); err != nil {
		t.Fatalf("call: %v", err)
	}
	if !seen || gotAuth != "" {
		t.Fatalf("expected no Authorization header, got %q", gotAuth)
	}
}

func TestDualURLProbing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/mcp") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":"1","result":{}}`))
	}))
	defer srv.Close()

	client := NewClient(ClientOptions{DeploymentURL: srv.URL, AllowPrivate: true})
	_, url, err := client.tryURLs(context.Background(), func(u string) (json.RawMessage, error) {
		return client.call(context.Background(), u, "initialize", nil, "1")
	})
	if err != nil {
		t.Fatalf("tryURLs: %v", err)
	}
	if !strings.HasSuffix(url, "/mcp") {
		t.Fatalf("expected fallback to /mcp URL, got %s", url)
	}
}

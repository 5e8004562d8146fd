package mcphub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func rpcHandler(t *testing.T, responses map[string]string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
			ID     interface{} `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		if req.ID == nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		resp, ok := responses[req.Method]
		if !ok {
			t.Fatalf("unexpected method %q", req.Method)
		}
		w.Write([]byte(resp))
	}
}

func TestPreflightEmptyTools(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, map[string]string{
		"initialize": `{"jsonrpc":"2.0","id":"1","result":{}}`,
		"tools/list": `{"jsonrpc":"2.0","id":"2","result":{"tools":[]}}`,
	}))
	defer srv.Close()

	client := NewClient(ClientOptions{DeploymentURL: srv.URL, AllowPrivate: true})
	result := Preflight(context.Background(), client, srv.URL)
	if result.OK {
		t.Fatalf("expected preflight failure for empty tools")
	}
	if result.Error != ErrPreflightEmpty.Error() {
		t.Fatalf("unexpected error: %q", result.Error)
	}
}

func TestPreflightSmokeTest(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, map[string]string{
		"initialize": `{"jsonrpc":"2.0","id":"1","result":{}}`,
		"tools/list": `{"jsonrpc":"2.0","id":"2","result":{"tools":[{"name":"search","inputSchema":{"required":["q"]}},{"name":"status"}]}}`,
		"tools/call": `{"jsonrpc":"2.0","id":"3","result":{"ok":true}}`,
	}))
	defer srv.Close()

	client := NewClient(ClientOptions{DeploymentURL: srv.URL, AllowPrivate: true})
	result := Preflight(context.Background(), client, srv.URL)
	if !result.OK {
		t.Fatalf("expected preflight ok, got error %q", result.Error)
	}
	if result.SmokeTool != "status" {
		t.Fatalf("expected smoke test on safe-verb tool 'status', got %q", result.SmokeTool)
	}
	if result.ToolCount != 2 {
		t.Fatalf("expected toolCount=2, got %d", result.ToolCount)
	}
}

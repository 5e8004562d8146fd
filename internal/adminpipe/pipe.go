// Package adminpipe serves the local-only admin HTTP API over a Unix
// domain socket: status, node listing/invocation, config read/reload, and
// the OAuth start/poll/complete endpoints, reachable only to callers with
// filesystem access to the socket path.
package adminpipe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Deps is the set of components the admin surface reads from and acts on.
// Each field is optional; handlers for a nil dependency answer UNAVAILABLE,
// except the node listing, which answers with an empty list.
type Deps struct {
	Status       func() StatusView
	ListNodes    func() []NodeView
	InvokeNode   func(ctx context.Context, nodeID, command string, args map[string]interface{}, timeoutMs int, idempotencyKey string) (interface{}, error)
	GetConfig    func() (interface{}, string, error) // config, hash, error
	Reload       func() error
	OAuthStart   func(provider, flow string) (interface{}, error)
	OAuthPoll    func(provider, state string) (interface{}, error)
	OAuthComplete func(provider, state, code string) (interface{}, error)
	ShimTest     func(providerID string) (interface{}, error)
}

// StatusView is the status.get admin response body.
type StatusView struct {
	Uptime      string `json:"uptime"`
	Connections int    `json:"connections"`
	Version     string `json:"version"`
}

// NodeView is one row of nodes.list.
type NodeView struct {
	NodeID      string `json:"nodeId"`
	DisplayName string `json:"displayName"`
}

// Server is the admin HTTP server bound to a Unix socket.
type Server struct {
	socketPath string
	deps       Deps
	mux        *http.ServeMux
	httpServer *http.Server
}

// New builds a Server that will listen on socketPath once Start is called.
func New(socketPath string, deps Deps) *Server {
	s := &Server{socketPath: socketPath, deps: deps}
	s.mux = http.NewServeMux()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/status", s.handleStatus)
	s.mux.HandleFunc("/api/v1/nodes", s.handleNodes)
	s.mux.HandleFunc("/api/v1/nodes/invoke", s.handleNodesInvoke)
	s.mux.HandleFunc("/api/v1/config", s.handleConfig)
	s.mux.HandleFunc("/api/v1/reload", s.handleReload)
	s.mux.HandleFunc("/api/v1/shim-test", s.handleShimTest)
	s.mux.HandleFunc("/api/v1/oauth/", s.handleOAuth)
}

// Start listens on the Unix socket and serves until ctx is cancelled. The
// socket file is removed first in case a prior crash left it behind, and
// its parent directory is created with operator-only permissions.
func (s *Server) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o700); err != nil {
		return err
	}
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("adminpipe: listen: %w", err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		listener.Close()
		return err
	}

	s.httpServer = &http.Server{Handler: s.mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	slog.Info("adminpipe: listening", "socket", s.socketPath)
	if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("adminpipe: serve: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Status == nil {
		writeError(w, http.StatusServiceUnavailable, "status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Status())
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.ListNodes == nil {
		writeJSON(w, http.StatusOK, []NodeView{})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.ListNodes())
}

func (s *Server) handleNodesInvoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.InvokeNode == nil {
		writeError(w, http.StatusServiceUnavailable, "node invocation unavailable")
		return
	}
	var body struct {
		NodeID         string                 `json:"nodeId"`
		Command        string                 `json:"command"`
		Args           map[string]interface{} `json:"args"`
		TimeoutMs      int                    `json:"timeoutMs"`
		IdempotencyKey string                 `json:"idempotencyKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	result, err := s.deps.InvokeNode(r.Context(), body.NodeID, body.Command, body.Args, body.TimeoutMs, body.IdempotencyKey)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"result": result})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.GetConfig == nil {
		writeError(w, http.StatusServiceUnavailable, "config unavailable")
		return
	}
	cfg, hash, err := s.deps.GetConfig()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"config": cfg, "hash": hash})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.Reload == nil {
		writeError(w, http.StatusServiceUnavailable, "reload unavailable")
		return
	}
	if err := s.deps.Reload(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleShimTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.deps.ShimTest == nil {
		writeError(w, http.StatusServiceUnavailable, "shim test unavailable")
		return
	}
	var body struct {
		ProviderID string `json:"providerId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	result, err := s.deps.ShimTest(body.ProviderID)
	if err != nil {
		writeError(w, http.StatusOK, err.Error()) // preflight failures are reported, not HTTP errors
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleOAuth dispatches /api/v1/oauth/<provider>/{start,poll,complete}.
func (s *Server) handleOAuth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rest := r.URL.Path[len("/api/v1/oauth/"):]
	provider, action, ok := splitProviderAction(rest)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown oauth path")
		return
	}

	switch action {
	case "start":
		if s.deps.OAuthStart == nil {
			writeError(w, http.StatusServiceUnavailable, "oauth start unavailable")
			return
		}
		var body struct{ Flow string `json:"flow"` }
		json.NewDecoder(r.Body).Decode(&body)
		result, err := s.deps.OAuthStart(provider, body.Flow)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, result)
	case "poll":
		if s.deps.OAuthPoll == nil {
			writeError(w, http.StatusServiceUnavailable, "oauth poll unavailable")
			return
		}
		var body struct{ State string `json:"state"` }
		json.NewDecoder(r.Body).Decode(&body)
		result, err := s.deps.OAuthPoll(provider, body.State)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, result)
	case "complete":
		if s.deps.OAuthComplete == nil {
			writeError(w, http.StatusServiceUnavailable, "oauth complete unavailable")
			return
		}
		var body struct {
			State string `json:"state"`
			Code  string `json:"code"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		result, err := s.deps.OAuthComplete(provider, body.State, body.Code)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, result)
	default:
		writeError(w, http.StatusNotFound, "unknown oauth action")
	}
}

func splitProviderAction(rest string) (provider, action string, ok bool) {
	for i := len(rest) - 1; i >= 0; i-- {
		if rest[i] == '/' {
			return rest[:i], rest[i+1:], rest[:i] != "" && rest[i+1:] != ""
		}
	}
	return "", "", false
}

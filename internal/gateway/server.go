// Package gateway implements the WebSocket server that bridges chat
// channels and companion nodes (connecting as clients) to the rest of the
// daemon: authenticated connections, a dotted-method handler registry, a
// session-keyed fanout for events, and config-reload handling.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/gatewaycore/internal/configstore"
	"github.com/nextlevelbuilder/gatewaycore/internal/protocol"
)

const defaultMaxMessageChars = 32000

// Server is the gateway's WebSocket + admin-adjacent HTTP front door.
type Server struct {
	mu                 sync.RWMutex
	host               string
	port               int
	token              string
	ownerIDs           map[string]bool
	allowedOrigins     []string
	maxMessageCharsVal int

	upgrader    websocket.Upgrader
	rateLimiter *RateLimiter
	router      *MethodRouter

	clients       map[*Client]struct{}
	sessionFanout map[string]map[*Client]struct{}

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer builds a gateway bound to cfg's gateway section. Method
// handlers are registered separately via Router().Register.
func NewServer(cfg *configstore.GatewayConfig) *Server {
	owners := map[string]bool{}
	for _, id := range cfg.OwnerIDs {
		owners[id] = true
	}
	s := &Server{
		host:               cfg.Host,
		port:               cfg.Port,
		token:              cfg.Token,
		ownerIDs:           owners,
		allowedOrigins:     cfg.AllowedOrigins,
		maxMessageCharsVal: cfg.MaxMessageChars,
		clients:            map[*Client]struct{}{},
		sessionFanout:      map[string]map[*Client]struct{}{},
	}
	if s.maxMessageCharsVal <= 0 {
		s.maxMessageCharsVal = defaultMaxMessageChars
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.rateLimiter = NewRateLimiter(cfg.RateLimitRPM, 5)
	s.router = NewMethodRouter(s)
	return s
}

// Router returns the method handler registry for registration.
func (s *Server) Router() *MethodRouter { return s.router }

func (s *Server) maxMessageBytes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxMessageCharsVal * 4 // UTF-8 worst case, generous slack
}

// CheckToken reports whether token matches the configured bearer secret.
func (s *Server) CheckToken(token string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token == "" || token == s.token
}

// IsOwner reports whether id is in the configured owner allowlist. An
// empty allowlist permits everyone (single-operator default).
func (s *Server) IsOwner(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.ownerIDs) == 0 {
		return true
	}
	return s.ownerIDs[id]
}

func (s *Server) checkOrigin(r *http.Request) bool {
	s.mu.RLock()
	allowed := s.allowedOrigins
	s.mu.RUnlock()
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("gateway: rejected origin", "origin", origin)
	return false
}

// BuildMux lazily constructs and caches the HTTP mux.
func (s *Server) BuildMux() *http.ServeMux {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	s.mux = mux
	return mux
}

// Start listens until ctx is cancelled, then drains in-flight connections.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	slog.Info("gateway: listening", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway: %w", err)
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("gateway: upgrade failed", "error", err)
		return
	}
	client := NewClient(conn, s)
	s.registerClient(client)
	defer func() {
		s.unregisterClient(client)
		client.Close()
	}()
	client.Run(r.Context())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	fmt.Fprintf(w, `{"ok":true,"connections":%d}`, s.ConnectionCount())
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	delete(s.clients, c)
	if key := c.SessionKey(); key != "" {
		if set, ok := s.sessionFanout[key]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(s.sessionFanout, key)
			}
		}
	}
	s.mu.Unlock()
	s.rateLimiter.Forget(c)
}

// BindSession attaches c to sessionKey's fanout set, used by the connect
// handler once a hello frame identifies the owning session.
func (s *Server) BindSession(c *Client, sessionKey, ownerID string) {
	c.bind(sessionKey, ownerID)
	if sessionKey == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sessionFanout[sessionKey]
	if !ok {
		set = map[*Client]struct{}{}
		s.sessionFanout[sessionKey] = set
	}
	set[c] = struct{}{}
}

// ConnectionCount returns the number of live connections.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Broadcast fans event out to every authenticated connection. Satisfies
// internal/runbus.Publisher.
func (s *Server) Broadcast(event string, payload interface{}) {
	s.broadcast(event, payload, false)
}

// BroadcastDroppable fans event out like Broadcast, but a client whose
// outbound queue is already full has this frame dropped rather than waiting
// on it (§4.H "broadcast(event, payload, {dropIfSlow?})"). Satisfies
// internal/runbus.Publisher.
func (s *Server) BroadcastDroppable(event string, payload interface{}) {
	s.broadcast(event, payload, true)
}

func (s *Server) broadcast(event string, payload interface{}, dropIfSlow bool) {
	evt := protocol.NewEvent(event, payload, time.Now().UnixMilli())
	b, err := json.Marshal(evt)
	if err != nil {
		slog.Error("gateway: marshal broadcast frame", "error", err)
		return
	}
	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		if c.IsAuthenticated() {
			clients = append(clients, c)
		}
	}
	s.mu.RUnlock()
	for _, c := range clients {
		c.EnqueueFrame(b, dropIfSlow)
	}
}

// SendToSession delivers event only to connections bound to sessionKey.
// Satisfies internal/runbus.Publisher.
func (s *Server) SendToSession(sessionKey string, event string, payload interface{}) {
	if sessionKey == "" {
		return
	}
	evt := protocol.NewEvent(event, payload, time.Now().UnixMilli())
	s.mu.RLock()
	set := s.sessionFanout[sessionKey]
	clients := make([]*Client, 0, len(set))
	for c := range set {
		clients = append(clients, c)
	}
	s.mu.RUnlock()
	for _, c := range clients {
		c.sendJSON(evt)
	}
}

// StartTestServer binds s to an ephemeral loopback port for tests.
func StartTestServer(s *Server) func(ctx context.Context) error {
	s.host = "127.0.0.1"
	s.port = 0
	return s.Start
}

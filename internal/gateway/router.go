package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/gatewaycore/internal/protocol"
)

// HandlerFunc answers one RPC method call for a connection.
type HandlerFunc func(ctx context.Context, c *Client, params json.RawMessage) (interface{}, *protocol.Error)

// MethodRouter dispatches request frames by dotted method name, recovering
// handler panics into an INTERNAL error so one bad handler can't take down
// a connection's read loop.
type MethodRouter struct {
	server   *Server
	handlers map[string]HandlerFunc
	// oauthHandler answers any method with the "oauth." prefix, since the
	// provider name is embedded in the method suffix rather than fixed.
	oauthHandler HandlerFunc
}

// NewMethodRouter returns an empty router bound to server.
func NewMethodRouter(server *Server) *MethodRouter {
	return &MethodRouter{server: server, handlers: map[string]HandlerFunc{}}
}

// Register binds method to fn, overwriting any previous handler.
func (r *MethodRouter) Register(method string, fn HandlerFunc) {
	r.handlers[method] = fn
}

// RegisterOAuth installs the catch-all handler for oauth.<provider>.<action>.
func (r *MethodRouter) RegisterOAuth(fn HandlerFunc) {
	r.oauthHandler = fn
}

// Dispatch runs the handler for req.Method, applying per-connection rate
// limiting and rate-limit exemption for connect/health, then enforces
// panic-to-INTERNAL translation.
func (r *MethodRouter) Dispatch(ctx context.Context, c *Client, req protocol.Request) (result interface{}, aerr *protocol.Error) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("gateway: handler panic", "method", req.Method, "panic", rec)
			aerr = protocol.NewError(protocol.ErrInternal, fmt.Sprintf("internal error in %s", req.Method))
			result = nil
		}
	}()

	if req.Method != protocol.MethodConnect && req.Method != protocol.MethodHealth {
		if limiter := r.server.rateLimiter; limiter != nil && !limiter.Allow(c) {
			return nil, protocol.NewError(protocol.ErrUnavailable, "rate limit exceeded")
		}
	}

	handler, ok := r.handlers[req.Method]
	if !ok && strings.HasPrefix(req.Method, protocol.MethodOAuthPrefix) && r.oauthHandler != nil {
		handler = r.oauthHandler
		ok = true
	}
	if !ok {
		return nil, protocol.NewError(protocol.ErrNotFound, "unknown method "+req.Method)
	}
	return handler(ctx, c, req.Params)
}

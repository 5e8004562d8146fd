package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/gatewaycore/internal/protocol"
)

// sendQueueDepth bounds the number of outbound frames buffered per
// connection before the server starts dropping slow-consumer broadcasts.
const sendQueueDepth = 64

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client is one authenticated WebSocket connection.
type Client struct {
	conn   *websocket.Conn
	server *Server

	mu            sync.RWMutex
	sessionKey    string
	authenticated bool
	ownerID       string

	send chan []byte
	done chan struct{}
}

// NewClient wraps conn for server.
func NewClient(conn *websocket.Conn, server *Server) *Client {
	return &Client{
		conn:   conn,
		server: server,
		send:   make(chan []byte, sendQueueDepth),
		done:   make(chan struct{}),
	}
}

// SessionKey returns the session this connection is bound to, if any.
func (c *Client) SessionKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionKey
}

func (c *Client) bind(sessionKey, ownerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionKey = sessionKey
	c.ownerID = ownerID
	c.authenticated = true
}

// IsAuthenticated reports whether the hello handshake has completed.
func (c *Client) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

// EnqueueFrame attempts to deliver payload to the connection's outbound
// queue. When the queue is full and dropIfSlow is set the frame is dropped
// at once rather than stalling the broadcaster on one slow reader;
// otherwise it waits up to writeWait for room before dropping the frame.
func (c *Client) EnqueueFrame(payload []byte, dropIfSlow bool) bool {
	select {
	case c.send <- payload:
		return true
	default:
		if dropIfSlow {
			return false
		}
		select {
		case c.send <- payload:
			return true
		case <-time.After(writeWait):
			return false
		}
	}
}

// Close terminates the connection and unblocks Run/writePump.
func (c *Client) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	c.conn.Close()
}

// Run drives the read loop until the connection closes or ctx is done.
// It starts the write pump in its own goroutine.
func (c *Client) Run(ctx context.Context) {
	go c.writePump()

	c.conn.SetReadLimit(int64(c.server.maxMessageBytes()))
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleFrame(ctx, raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleFrame(ctx context.Context, raw []byte) {
	var req protocol.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		c.sendError("", protocol.NewError(protocol.ErrInvalidRequest, "malformed frame"))
		return
	}
	if req.Kind != protocol.KindRequest {
		return
	}

	if !c.IsAuthenticated() && req.Method != protocol.MethodConnect {
		c.sendError(req.ID, protocol.NewError(protocol.ErrUnauthorized, "hello required"))
		return
	}

	result, aerr := c.server.router.Dispatch(ctx, c, req)
	if aerr != nil {
		c.sendError(req.ID, aerr)
		return
	}
	resp := protocol.NewResponse(req.ID, result)
	c.sendJSON(resp)
}

func (c *Client) sendError(id string, aerr *protocol.Error) {
	c.sendJSON(protocol.NewErrorResponse(id, aerr))
}

func (c *Client) sendJSON(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		slog.Error("gateway: marshal outbound frame", "error", err)
		return
	}
	c.EnqueueFrame(b, false)
}

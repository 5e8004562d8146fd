// Package noderegistry tracks companion nodes connected to the gateway and
// dispatches action invocations to them, with idempotency-key deduplication
// and cancellation when a node disconnects mid-call.
package noderegistry

import (
	"context"
	"sync"
	"time"

	"github.com/nextlevelbuilder/gatewaycore/internal/protocol"
	"github.com/nextlevelbuilder/gatewaycore/internal/toolsfabric"
)

// idempotencyWindow bounds how long a (nodeId, idempotencyKey) pair is
// remembered before its cached result can be evicted.
const idempotencyWindow = 5 * time.Minute

// Invoker performs one action call against a connected node's transport
// (the gateway Client that represents it).
type Invoker interface {
	Invoke(ctx context.Context, nodeID, command string, args map[string]interface{}, timeoutMs int) (interface{}, error)
}

type idempotencyEntry struct {
	result  interface{}
	err     error
	savedAt time.Time
}

type node struct {
	id          string
	displayName string
	actions     []toolsfabric.NodeAction
	ctx         context.Context    // cancelled on disconnect, joined into each invocation
	cancel      context.CancelFunc
	connectedAt time.Time
}

// Registry is the process-wide table of connected companion nodes.
type Registry struct {
	mu    sync.Mutex
	nodes map[string]*node
	idem  map[string]idempotencyEntry // key: nodeId + "\x00" + idempotencyKey
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{nodes: map[string]*node{}, idem: map[string]idempotencyEntry{}}
}

// Connect registers a node as connected, returning a context that is
// cancelled when Disconnect is called for the same nodeID.
func (r *Registry) Connect(nodeID, displayName string) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.nodes[nodeID]; ok {
		existing.cancel()
	}
	r.nodes[nodeID] = &node{id: nodeID, displayName: displayName, ctx: ctx, cancel: cancel, connectedAt: time.Now()}
	return ctx
}

// Disconnect removes nodeID and cancels any in-flight invocations against it.
func (r *Registry) Disconnect(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.nodes[nodeID]; ok {
		n.cancel()
		delete(r.nodes, nodeID)
	}
}

// SetActions replaces the action catalog a node advertises.
func (r *Registry) SetActions(nodeID string, actions []toolsfabric.NodeAction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.nodes[nodeID]; ok {
		n.actions = actions
	}
}

// ListConnected returns a snapshot of connected nodes for toolsfabric.
func (r *Registry) ListConnected() []toolsfabric.CompanionNode {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]toolsfabric.CompanionNode, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, toolsfabric.CompanionNode{NodeID: n.id, DisplayName: n.displayName, Actions: n.actions})
	}
	return out
}

// Nodes satisfies toolsfabric.CompanionSource.
func (r *Registry) Nodes() []toolsfabric.CompanionNode { return r.ListConnected() }

// InvokeParams mirrors the nodes.invoke admin/gateway method body.
type InvokeParams struct {
	NodeID         string
	Command        string
	Args           map[string]interface{}
	TimeoutMs      int
	IdempotencyKey string
}

// Invoke dispatches a command to nodeID through invoker, deduplicating
// repeats of the same idempotency key within idempotencyWindow and
// returning UNAVAILABLE if the node is not connected or disconnects while
// the call is outstanding.
func (r *Registry) Invoke(ctx context.Context, invoker Invoker, p InvokeParams) (interface{}, *protocol.Error) {
	r.mu.Lock()
	n, connected := r.nodes[p.NodeID]
	var dedupKey string
	if p.IdempotencyKey != "" {
		dedupKey = p.NodeID + "\x00" + p.IdempotencyKey
		r.evictExpiredLocked()
		if cached, ok := r.idem[dedupKey]; ok {
			r.mu.Unlock()
			if cached.err != nil {
				return nil, protocol.NewError(protocol.ErrUnavailable, cached.err.Error())
			}
			return cached.result, nil
		}
	}
	r.mu.Unlock()

	if !connected {
		return nil, protocol.NewError(protocol.ErrUnavailable, "node not connected: "+p.NodeID)
	}

	callCtx, cancelCall := context.WithCancel(ctx)
	defer cancelCall()
	go func() {
		select {
		case <-n.ctx.Done():
			cancelCall()
		case <-callCtx.Done():
		}
	}()

	result, err := invoker.Invoke(callCtx, p.NodeID, p.Command, p.Args, p.TimeoutMs)
	if err == nil && n.ctx.Err() != nil {
		err = errNodeDisconnected(p.NodeID)
	}

	if dedupKey != "" {
		r.mu.Lock()
		r.idem[dedupKey] = idempotencyEntry{result: result, err: err, savedAt: time.Now()}
		r.mu.Unlock()
	}
	if err != nil {
		return nil, protocol.NewError(protocol.ErrUnavailable, err.Error())
	}
	return result, nil
}

type disconnectError string

func (e disconnectError) Error() string { return string(e) }

func errNodeDisconnected(nodeID string) error {
	return disconnectError("node disconnected mid-call: " + nodeID)
}

func (r *Registry) evictExpiredLocked() {
	cutoff := time.Now().Add(-idempotencyWindow)
	for k, v := range r.idem {
		if v.savedAt.Before(cutoff) {
			delete(r.idem, k)
		}
	}
}

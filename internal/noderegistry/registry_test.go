package noderegistry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nextlevelbuilder/gatewaycore/internal/protocol"
)

type fakeInvoker struct {
	calls  int
	delay  time.Duration
	result interface{}
	err    error
}

func (f *fakeInvoker) Invoke(ctx context.Context, nodeID, command string, args map[string]interface{}, timeoutMs int) (interface{}, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.result, f.err
}

func TestInvokeUnknownNodeUnavailable(t *testing.T) {
	r := New()
	inv := &fakeInvoker{}
	_, aerr := r.Invoke(context.Background(), inv, InvokeParams{NodeID: "n1", Command: "ping"})
	if aerr == nil || aerr.Code != protocol.ErrUnavailable {
		t.Fatalf("expected UNAVAILABLE, got %v", aerr)
	}
}

func TestInvokeIdempotencyDedup(t *testing.T) {
	r := New()
	r.Connect("n1", "Node One")
	inv := &fakeInvoker{result: "ok"}

	p := InvokeParams{NodeID: "n1", Command: "ping", IdempotencyKey: "key-1"}
	r1, aerr1 := r.Invoke(context.Background(), inv, p)
	r2, aerr2 := r.Invoke(context.Background(), inv, p)
	if aerr1 != nil || aerr2 != nil {
		t.Fatalf("unexpected errors: %v %v", aerr1, aerr2)
	}
	if r1 != "ok" || r2 != "ok" {
		t.Fatalf("unexpected results: %v %v", r1, r2)
	}
	if inv.calls != 1 {
		t.Fatalf("expected invoker called once, got %d", inv.calls)
	}
}

func TestInvokeCancelledOnDisconnect(t *testing.T) {
	r := New()
	r.Connect("n1", "Node One")
	inv := &fakeInvoker{delay: 500 * time.Millisecond, err: errors.New("should be cancelled first")}

	done := make(chan struct{})
	go func() {
		_, aerr := r.Invoke(context.Background(), inv, InvokeParams{NodeID: "n1", Command: "slow"})
		if aerr == nil || aerr.Code != protocol.ErrUnavailable {
			t.Errorf("expected UNAVAILABLE after disconnect, got %v", aerr)
		}
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	r.Disconnect("n1")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("invoke did not return after disconnect")
	}
}

func TestListConnectedReflectsActions(t *testing.T) {
	r := New()
	r.Connect("n1", "Node One")
	r.SetActions("n1", nil)
	nodes := r.ListConnected()
	if len(nodes) != 1 || nodes[0].NodeID != "n1" {
		t.Fatalf("unexpected nodes: %+v", nodes)
	}
}

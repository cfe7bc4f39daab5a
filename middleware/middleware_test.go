package middleware

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/teleprox/objrpc/rpcwire"
)

func echoHandler(ctx context.Context, req *rpcwire.Frame) *rpcwire.Frame {
	return &rpcwire.Frame{Kind: rpcwire.KindReply, ID: req.ID, Payload: "ok"}
}

func slowHandler(ctx context.Context, req *rpcwire.Frame) *rpcwire.Frame {
	time.Sleep(200 * time.Millisecond)
	return &rpcwire.Frame{Kind: rpcwire.KindReply, ID: req.ID, Payload: "ok"}
}

func TestLogging(t *testing.T) {
	handler := LoggingMiddleware(zap.NewNop())(echoHandler)

	req := &rpcwire.Frame{Op: rpcwire.OpCall, Target: 1}
	resp := handler(context.Background(), req)

	if resp == nil {
		t.Fatal("expect non-nil response")
	}
	if resp.Payload != "ok" {
		t.Fatalf("expect payload 'ok', got %v", resp.Payload)
	}
}

func TestTimeoutPass(t *testing.T) {
	handler := TimeOutMiddleware(500 * time.Millisecond)(echoHandler)

	req := &rpcwire.Frame{Op: rpcwire.OpCall}
	resp := handler(context.Background(), req)

	if resp.Status != "" {
		t.Fatalf("expect no error, got '%s'", resp.Status)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	handler := TimeOutMiddleware(50 * time.Millisecond)(slowHandler)

	req := &rpcwire.Frame{Op: rpcwire.OpCall}
	resp := handler(context.Background(), req)

	if resp.Status != "TIMEOUT" {
		t.Fatalf("expect TIMEOUT status, got '%s'", resp.Status)
	}
}

func TestRateLimit(t *testing.T) {
	handler := RateLimitMiddleware(1, 2)(echoHandler)
	ctx := WithPeer(context.Background(), "peer-a")
	req := &rpcwire.Frame{Op: rpcwire.OpCall}

	for i := 0; i < 2; i++ {
		resp := handler(ctx, req)
		if resp.Status != "" {
			t.Fatalf("request %d should pass, got status: %s", i, resp.Status)
		}
	}

	resp := handler(ctx, req)
	if resp.Status != "THROTTLED" {
		t.Fatalf("request 3 should be rate limited, got: '%s'", resp.Status)
	}

	other := WithPeer(context.Background(), "peer-b")
	if resp := handler(other, req); resp.Status != "" {
		t.Fatalf("a different peer should have its own bucket, got: '%s'", resp.Status)
	}
}

func TestChain(t *testing.T) {
	chained := Chain(LoggingMiddleware(zap.NewNop()), TimeOutMiddleware(500*time.Millisecond))
	handler := chained(echoHandler)

	req := &rpcwire.Frame{Op: rpcwire.OpCall}
	resp := handler(context.Background(), req)

	if resp == nil {
		t.Fatal("expect non-nil response")
	}
	if resp.Status != "" {
		t.Fatalf("expect no error, got '%s'", resp.Status)
	}
}

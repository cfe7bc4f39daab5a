// Package test exercises the engine end to end: dial/import/call across
// a real transport.Listener, all three invocation modes, lazy attribute
// chains, container access, and the one property benchmarks can't touch
// directly — a server calling back into a proxy the caller handed it
// while the caller's own request is still outstanding.
package test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/teleprox/objrpc/client"
	"github.com/teleprox/objrpc/middleware"
	"github.com/teleprox/objrpc/proxy"
	"github.com/teleprox/objrpc/rpcerr"
	"github.com/teleprox/objrpc/rpcwire"
	"github.com/teleprox/objrpc/server"
)

type Arith struct {
	calls int
}

func (a *Arith) Add(x, y int) (int, error) {
	a.calls++
	return x + y, nil
}

func (a *Arith) Multiply(x, y int) (int, error) {
	a.calls++
	return x * y, nil
}

func (a *Arith) Calls() int { return a.calls }

// Workspace exercises attribute-path composition over a nested
// container: p.Attr("Items") resolves without a round trip, and only the
// terminal GetItem/SetItem/Len call touches the wire.
type Workspace struct {
	Items []string
	Tags  map[string]string
}

type Caller struct{}

// Apply mirrors the worked example from spec §8: apply(cb, v) = cb(v)+1.
// cb arrives already decoded into a *proxy.Proxy bound back to whichever
// peer sent it — calling it here is a reentrant outbound request made
// from inside this server's own dispatch of the inbound Apply call.
func (c *Caller) Apply(cb *proxy.Proxy, v int) (int, error) {
	result, err := cb.Call([]any{v}, nil, rpcwire.ModeSync, rpcwire.ReturnAuto)
	if err != nil {
		return 0, err
	}
	n, ok := asInt(result)
	if !ok {
		return 0, rpcerr.New(rpcerr.Unserializable, "callback returned non-numeric result %T", result)
	}
	return n + 1, nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func newTestServer(t *testing.T) (*server.Server, string) {
	t.Helper()
	svr := server.New(server.WithLogger(zap.NewNop()))
	errCh := make(chan error, 1)
	go func() { errCh <- svr.Serve("inproc://" + t.Name()) }()
	t.Cleanup(func() { svr.Shutdown(3 * time.Second) })
	time.Sleep(10 * time.Millisecond)
	return svr, "inproc://" + t.Name()
}

func dialTest(t *testing.T, addr string, opts ...client.Option) *client.Client {
	t.Helper()
	opts = append([]client.Option{client.WithLogger(zap.NewNop())}, opts...)
	c, err := client.Dial(context.Background(), addr, opts...)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func importProxy(t *testing.T, c *client.Client, name string) *proxy.Proxy {
	t.Helper()
	v, err := c.Import(name)
	if err != nil {
		t.Fatalf("import %s: %v", name, err)
	}
	p, ok := v.(*proxy.Proxy)
	if !ok {
		t.Fatalf("expected *proxy.Proxy for %s, got %T", name, v)
	}
	return p
}

// TestFullEndToEnd walks client → transport.Dial → codec → middleware →
// server opcode dispatch → reflection, the same chain the teacher's own
// integration test traced for its method-name-routed RPC.
func TestFullEndToEnd(t *testing.T) {
	svr, addr := newTestServer(t)
	svr.Use(middleware.LoggingMiddleware(zap.NewNop()))
	svr.Register("Arith", &Arith{})

	c := dialTest(t, addr)
	p := importProxy(t, c, "Arith")

	sum, err := p.Attr("Add").Call([]any{3, 5}, nil, rpcwire.ModeSync, rpcwire.ReturnAuto)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if n, _ := asInt(sum); n != 8 {
		t.Fatalf("Add: expected 8, got %v", sum)
	}

	product, err := p.Attr("Multiply").Call([]any{4, 6}, nil, rpcwire.ModeSync, rpcwire.ReturnAuto)
	if err != nil {
		t.Fatalf("Multiply: %v", err)
	}
	if n, _ := asInt(product); n != 24 {
		t.Fatalf("Multiply: expected 24, got %v", product)
	}
}

// TestAttributeChainAndContainerAccess checks that composing .Attr never
// touches the network and that GETITEM/SETITEM/LEN operate on whatever
// the chain resolves to, not the root object.
func TestAttributeChainAndContainerAccess(t *testing.T) {
	svr, addr := newTestServer(t)
	svr.Register("ws", &Workspace{Items: []string{"a", "b", "c"}, Tags: map[string]string{"k": "v"}})

	c := dialTest(t, addr)
	p := importProxy(t, c, "ws")

	items := p.Attr("Items") // purely local composition, no round trip yet

	n, err := items.Len()
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 3 {
		t.Fatalf("Len: expected 3, got %d", n)
	}

	v, err := items.GetItem(1, rpcwire.ModeSync, rpcwire.ReturnAuto)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if v != "b" {
		t.Fatalf("GetItem(1): expected b, got %v", v)
	}

	if err := items.SetItem(1, "bb"); err != nil {
		t.Fatalf("SetItem: %v", err)
	}
	v2, err := items.GetItem(1, rpcwire.ModeSync, rpcwire.ReturnAuto)
	if err != nil {
		t.Fatalf("GetItem after set: %v", err)
	}
	if v2 != "bb" {
		t.Fatalf("GetItem(1) after SetItem: expected bb, got %v", v2)
	}

	tags := p.Attr("Tags")
	tv, err := tags.GetItem("k", rpcwire.ModeSync, rpcwire.ReturnAuto)
	if err != nil {
		t.Fatalf("map GetItem: %v", err)
	}
	if tv != "v" {
		t.Fatalf("map GetItem: expected v, got %v", tv)
	}
}

// TestReentrantCallback is the spec §8 worked example: S.Apply(cb, 4)
// calls back into cb — a proxy L passed in, backed by a value hosted by
// L's own LocalServer — while L's original sync call is still parked,
// over the same connection L dialed with.
func TestReentrantCallback(t *testing.T) {
	svr, addr := newTestServer(t)
	svr.Register("caller", &Caller{})

	local := server.New(server.WithLogger(zap.NewNop())) // never Serve()s; only hosts L's callback
	c := dialTest(t, addr, client.WithLocalServer(local))
	p := importProxy(t, c, "caller")

	f := func(x int) (int, error) { return x * 10, nil }

	result, err := p.Attr("Apply").Call([]any{f, 4}, nil, rpcwire.ModeSync, rpcwire.ReturnAuto)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	n, ok := asInt(result)
	if !ok || n != 41 {
		t.Fatalf("Apply(cb, 4): expected 41, got %v", result)
	}
}

// TestAsyncAndOffModes checks that ASYNC returns a Future that resolves
// once the reply lands and that OFF never blocks on or surfaces an
// error for a request the caller has explicitly disowned (spec §4.4.1).
func TestAsyncAndOffModes(t *testing.T) {
	svr, addr := newTestServer(t)
	svr.Register("Arith", &Arith{})

	c := dialTest(t, addr)
	p := importProxy(t, c, "Arith")

	result, err := p.Attr("Add").Call([]any{1, 2}, nil, rpcwire.ModeAsync, rpcwire.ReturnAuto)
	if err != nil {
		t.Fatalf("async Add: %v", err)
	}
	future, ok := result.(*client.Future)
	if !ok {
		t.Fatalf("expected *client.Future, got %T", result)
	}
	value, err := future.Result(time.Second)
	if err != nil {
		t.Fatalf("future.Result: %v", err)
	}
	if n, _ := asInt(value); n != 3 {
		t.Fatalf("future result: expected 3, got %v", value)
	}

	offResult, err := p.Attr("Add").Call([]any{1, 2}, nil, rpcwire.ModeOff, rpcwire.ReturnAuto)
	if err != nil {
		t.Fatalf("off-mode Add should never error, got %v", err)
	}
	if offResult != nil {
		t.Fatalf("off-mode Add should return nil, got %v", offResult)
	}
}

// TestConnectionLostMidCall checks that killing the server while a sync
// call is outstanding surfaces CONNECTION_LOST rather than hanging.
func TestConnectionLostMidCall(t *testing.T) {
	svr, addr := newTestServer(t)
	svr.Register("Arith", &Arith{})

	c := dialTest(t, addr)
	p := importProxy(t, c, "Arith")

	if _, err := p.Attr("Add").Call([]any{1, 1}, nil, rpcwire.ModeSync, rpcwire.ReturnAuto); err != nil {
		t.Fatalf("warm-up call: %v", err)
	}

	svr.Shutdown(time.Second)

	_, err := p.Attr("Add").Call([]any{1, 1}, nil, rpcwire.ModeSync, rpcwire.ReturnAuto)
	if err == nil {
		t.Fatal("expected an error after the server shut down")
	}
	if !rpcerr.IsKind(err, rpcerr.ConnectionLost) && !rpcerr.IsKind(err, rpcerr.ShuttingDown) {
		t.Fatalf("expected CONNECTION_LOST or SHUTTING_DOWN, got %v", err)
	}
}

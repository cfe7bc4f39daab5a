package server

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/teleprox/objrpc/client"
	"github.com/teleprox/objrpc/proxy"
	"github.com/teleprox/objrpc/rpcwire"
)

type Arith struct {
	calls int
}

func (a *Arith) Add(x, y int) (int, error) {
	a.calls++
	return x + y, nil
}

func (a *Arith) Calls() int {
	return a.calls
}

func startTestServer(t *testing.T) (*Server, string) {
	svr := New(WithLogger(zap.NewNop()))
	svr.Register("Arith", &Arith{})

	errCh := make(chan error, 1)
	go func() { errCh <- svr.Serve("inproc://server-test") }()
	t.Cleanup(func() {
		svr.Shutdown(time.Second)
	})
	return svr, "inproc://server-test"
}

func dialTestClient(t *testing.T, addr string) *client.Client {
	c, err := client.Dial(context.Background(), addr, client.WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestImportAndCall(t *testing.T) {
	_, addr := startTestServer(t)
	time.Sleep(10 * time.Millisecond)
	c := dialTestClient(t, addr)

	v, err := c.Import("Arith")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	p, ok := v.(*proxy.Proxy)
	if !ok {
		t.Fatalf("expected *proxy.Proxy, got %T", v)
	}

	result, err := p.Attr("Add").Call([]any{1, 2}, nil, rpcwire.ModeSync, rpcwire.ReturnAuto)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	n, ok := result.(int64)
	if !ok {
		if i, ok2 := result.(int); ok2 {
			n = int64(i)
		} else {
			t.Fatalf("unexpected result type %T", result)
		}
	}
	if n != 3 {
		t.Fatalf("expected 3, got %v", n)
	}
}

func TestUnknownObject(t *testing.T) {
	_, addr := startTestServer(t)
	time.Sleep(10 * time.Millisecond)
	c := dialTestClient(t, addr)

	_, err := c.Import("NoSuchThing")
	if err == nil {
		t.Fatal("expected an error for an unregistered name")
	}
}

func TestPing(t *testing.T) {
	_, addr := startTestServer(t)
	time.Sleep(10 * time.Millisecond)
	c := dialTestClient(t, addr)

	d, err := c.Ping(context.Background())
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	if d < 0 {
		t.Fatalf("expected non-negative round trip, got %v", d)
	}
}

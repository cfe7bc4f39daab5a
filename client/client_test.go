package client_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/teleprox/objrpc/client"
	"github.com/teleprox/objrpc/proxy"
	"github.com/teleprox/objrpc/rpcwire"
	"github.com/teleprox/objrpc/server"
)

type greeter struct {
	greeted []string
}

func (g *greeter) Greet(name string) (string, error) {
	g.greeted = append(g.greeted, name)
	return "hello " + name, nil
}

func (g *greeter) Fail() (string, error) {
	return "", errBoom
}

var errBoom = &boomError{}

type boomError struct{}

func (*boomError) Error() string { return "boom" }

func startServer(t *testing.T) string {
	svr := server.New(server.WithLogger(zap.NewNop()))
	svr.Register("greeter", &greeter{})
	go svr.Serve("inproc://client-test")
	t.Cleanup(func() { svr.Shutdown(time.Second) })
	time.Sleep(10 * time.Millisecond)
	return "inproc://client-test"
}

func dial(t *testing.T, addr string) *client.Client {
	c, err := client.Dial(context.Background(), addr, client.WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func importProxy(t *testing.T, c *client.Client, name string) *proxy.Proxy {
	v, err := c.Import(name)
	if err != nil {
		t.Fatalf("import %s: %v", name, err)
	}
	p, ok := v.(*proxy.Proxy)
	if !ok {
		t.Fatalf("expected *proxy.Proxy, got %T", v)
	}
	return p
}

func TestSyncCall(t *testing.T) {
	addr := startServer(t)
	c := dial(t, addr)
	g := importProxy(t, c, "greeter")

	result, err := g.Attr("Greet").Call([]any{"world"}, nil, rpcwire.ModeSync, rpcwire.ReturnAuto)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if result != "hello world" {
		t.Fatalf("expected 'hello world', got %v", result)
	}
}

func TestAsyncCall(t *testing.T) {
	addr := startServer(t)
	c := dial(t, addr)
	g := importProxy(t, c, "greeter")

	result, err := g.Attr("Greet").Call([]any{"async"}, nil, rpcwire.ModeAsync, rpcwire.ReturnAuto)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	future, ok := result.(*client.Future)
	if !ok {
		t.Fatalf("expected *client.Future, got %T", result)
	}
	value, err := future.Result(time.Second)
	if err != nil {
		t.Fatalf("future result: %v", err)
	}
	if value != "hello async" {
		t.Fatalf("expected 'hello async', got %v", value)
	}
}

func TestOffModeDoesNotBlockOrError(t *testing.T) {
	addr := startServer(t)
	c := dial(t, addr)
	g := importProxy(t, c, "greeter")

	result, err := g.Attr("Greet").Call([]any{"fire-and-forget"}, nil, rpcwire.ModeOff, rpcwire.ReturnAuto)
	if err != nil {
		t.Fatalf("off-mode call should never return an error, got %v", err)
	}
	if result != nil {
		t.Fatalf("off-mode call should return nil, got %v", result)
	}
}

func TestRemoteError(t *testing.T) {
	addr := startServer(t)
	c := dial(t, addr)
	g := importProxy(t, c, "greeter")

	_, err := g.Attr("Fail").Call(nil, nil, rpcwire.ModeSync, rpcwire.ReturnAuto)
	if err == nil {
		t.Fatal("expected a remote error")
	}
}

func TestConnectionLostOnDial(t *testing.T) {
	_, err := client.Dial(context.Background(), "tcp://127.0.0.1:1", client.WithTimeout(100*time.Millisecond))
	if err == nil {
		t.Fatal("expected a connection error dialing a closed port")
	}
}

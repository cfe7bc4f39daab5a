package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/teleprox/objrpc/codec"
	"github.com/teleprox/objrpc/proxy"
	"github.com/teleprox/objrpc/rpcwire"
)

// stubResolver is a minimal codec.Resolver for tests that never publish
// or unwrap a Proxy — every frame in these tests carries only wire
// primitives.
type stubResolver struct{}

func (stubResolver) Home(string) bool                                { return false }
func (stubResolver) Unwrap(uint64, []proxy.PathElem) (any, error)     { return nil, nil }
func (stubResolver) ProxyFor(proxy.Descriptor) (*proxy.Proxy, error)  { return nil, nil }
func (stubResolver) Publish(any) (proxy.Descriptor, bool)             { return proxy.Descriptor{}, false }

func TestPeerConnRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	opts := codec.EncodeOptions{ReturnMode: rpcwire.ReturnAuto}
	cp := NewPeerConn(client, codec.GetCodec(codec.TypeMsgpack), stubResolver{}, opts)
	sp := NewPeerConn(server, codec.GetCodec(codec.TypeMsgpack), stubResolver{}, opts)

	sent := &rpcwire.Frame{
		Kind:   rpcwire.KindRequest,
		ID:     7,
		Op:     rpcwire.OpCall,
		Target: 42,
		Args:   []any{int64(1), "two", true},
		Kwargs: map[string]any{"n": int64(3)},
		Mode:   rpcwire.ModeSync,
	}

	done := make(chan struct{})
	var got *rpcwire.Frame
	var readErr error
	go func() {
		got, readErr = sp.ReadFrame()
		close(done)
	}()

	if err := cp.WriteFrame(sent); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
	if readErr != nil {
		t.Fatalf("ReadFrame: %v", readErr)
	}

	if got.ID != sent.ID || got.Op != sent.Op || got.Target != sent.Target {
		t.Fatalf("frame mismatch: got %+v, want %+v", got, sent)
	}
	if len(got.Args) != 3 {
		t.Fatalf("expected 3 args, got %d", len(got.Args))
	}
}

func TestListenDialInproc(t *testing.T) {
	ln, err := Listen("inproc://test-peer")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	acceptedCh := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			t.Errorf("Accept: %v", err)
			return
		}
		acceptedCh <- conn
	}()

	conn, err := Dial(context.Background(), "inproc://test-peer")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	select {
	case server := <-acceptedCh:
		defer server.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Accept")
	}
}

package test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/teleprox/objrpc/client"
	"github.com/teleprox/objrpc/codec"
	"github.com/teleprox/objrpc/proxy"
	"github.com/teleprox/objrpc/rpcwire"
	"github.com/teleprox/objrpc/server"
)

func setupBenchServerAndClient(b *testing.B, addr string) (*server.Server, *client.Client) {
	svr := server.New(server.WithLogger(zap.NewNop()))
	svr.Register("Arith", &Arith{})
	go svr.Serve(addr)
	time.Sleep(50 * time.Millisecond)

	c, err := client.Dial(context.Background(), addr, client.WithLogger(zap.NewNop()))
	if err != nil {
		b.Fatal(err)
	}
	return svr, c
}

// BenchmarkSerialCall: one goroutine, one connection, back-to-back sync
// calls through an already-imported proxy (no repeated IMPORT lookups).
func BenchmarkSerialCall(b *testing.B) {
	svr, c := setupBenchServerAndClient(b, "inproc://bench-serial")
	b.Cleanup(func() { svr.Shutdown(3 * time.Second); c.Close() })

	v, err := c.Import("Arith")
	if err != nil {
		b.Fatal(err)
	}
	add := v.(*proxy.Proxy).Attr("Add")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := add.Call([]any{1, 2}, nil, rpcwire.ModeSync, rpcwire.ReturnAuto); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkConcurrentCall: many goroutines sharing one multiplexed
// connection, showing the benefit of per-request correlation over a
// single-request-in-flight protocol.
func BenchmarkConcurrentCall(b *testing.B) {
	svr, c := setupBenchServerAndClient(b, "inproc://bench-concurrent")
	b.Cleanup(func() { svr.Shutdown(3 * time.Second); c.Close() })

	v, err := c.Import("Arith")
	if err != nil {
		b.Fatal(err)
	}
	add := v.(*proxy.Proxy).Attr("Add")

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := add.Call([]any{1, 2}, nil, rpcwire.ModeSync, rpcwire.ReturnAuto); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

// BenchmarkCodecMsgpack measures pure frame encode/decode cost, no
// network, for the default wire serializer (spec §6).
func BenchmarkCodecMsgpack(b *testing.B) {
	benchmarkCodecRoundTrip(b, codec.TypeMsgpack)
}

// BenchmarkCodecJSON measures the same round trip for the human-readable
// fallback serializer spec §6 also names.
func BenchmarkCodecJSON(b *testing.B) {
	benchmarkCodecRoundTrip(b, codec.TypeJSON)
}

func benchmarkCodecRoundTrip(b *testing.B, t codec.Type) {
	cdc := codec.GetCodec(t)
	f := &rpcwire.Frame{
		Kind:   rpcwire.KindRequest,
		ID:     1,
		Target: 1,
		Op:     rpcwire.OpCall,
		Args:   []any{1, 2},
	}
	opts := codec.EncodeOptions{ReturnMode: rpcwire.ReturnAuto, AutoProxyThreshold: 4096}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data, err := cdc.Encode(f, nil, opts)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := cdc.Decode(data, nil); err != nil {
			b.Fatal(err)
		}
	}
}

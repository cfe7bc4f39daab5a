package client

import (
	"context"
	"time"

	"github.com/teleprox/objrpc/proxy"
	"github.com/teleprox/objrpc/rpcwire"
)

// MeasureClockOffset estimates this process's clock offset from the
// peer's, NTP-style, by averaging ten PING round trips against target 0
// (SPEC_FULL §12 item 4 — teleprox's RPCClient.measure_clock_diff). It
// assumes symmetric network latency in each direction.
func (c *Client) MeasureClockOffset(ctx context.Context) (time.Duration, error) {
	const rounds = 10
	var total time.Duration
	for i := 0; i < rounds; i++ {
		t0 := time.Now()
		v, err := c.doRequest(proxy.Descriptor{ObjectID: 0}, rpcwire.OpPing, []any{t0.UnixNano()}, nil, rpcwire.ModeSync, rpcwire.ReturnValue, 0)
		if err != nil {
			return 0, err
		}
		t3 := time.Now()

		m, _ := v.(map[string]any)
		recvNanos, _ := toInt64(m["recv"])
		sendNanos, _ := toInt64(m["send"])

		offset := ((recvNanos - t0.UnixNano()) + (sendNanos - t3.UnixNano())) / 2
		total += time.Duration(offset)

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}
	}
	return total / rounds, nil
}

// Ping issues a bare liveness check against target 0, returning the
// measured round-trip time.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	t0 := time.Now()
	_, err := c.doRequest(proxy.Descriptor{ObjectID: 0}, rpcwire.OpPing, []any{t0.UnixNano()}, nil, rpcwire.ModeSync, rpcwire.ReturnValue, 0)
	if err != nil {
		return 0, err
	}
	return time.Since(t0), nil
}

package transport

import (
	"context"
	"time"
)

// Probe performs a connect-then-close liveness check against addr before
// a Client commits to a persistent connection, mirroring
// teleprox.client.RPCClient.check_address: fail fast with a clear error
// instead of letting the first real request time out against a dead
// address.
func Probe(addr string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	conn, err := Dial(ctx, addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

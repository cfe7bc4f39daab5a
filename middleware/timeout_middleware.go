package middleware

import (
	"context"
	"time"

	"github.com/teleprox/objrpc/rpcerr"
	"github.com/teleprox/objrpc/rpcwire"
)

// TimeOutMiddleware bounds a single opcode execution. This is separate
// from the Client's own per-call timeout: it protects a Server from a
// target that never returns, rather than bounding the caller's wait.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *rpcwire.Frame) *rpcwire.Frame {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *rpcwire.Frame, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case reply := <-done:
				return reply
			case <-ctx.Done():
				return errorReply(req, rpcerr.Timeout, "request timed out")
			}
		}
	}
}

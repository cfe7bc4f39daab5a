package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teleprox/objrpc/rpcwire"
)

// LoggingMiddleware logs every opcode dispatch at Debug, promoting to
// Warn when the reply carries any error status, REMOTE_RAISED included.
func LoggingMiddleware(log *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *rpcwire.Frame) *rpcwire.Frame {
			start := time.Now()
			reply := next(ctx, req)
			fields := []zap.Field{
				zap.Stringer("op", req.Op),
				zap.Uint64("target", req.Target),
				zap.Uint64("id", req.ID),
				zap.Duration("duration", time.Since(start)),
			}
			if reply != nil && reply.Status != "" {
				log.Warn("opcode dispatch failed", append(fields, zap.String("status", reply.Status))...)
			} else {
				log.Debug("opcode dispatch", fields...)
			}
			return reply
		}
	}
}

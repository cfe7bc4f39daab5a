package middleware

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/teleprox/objrpc/rpcerr"
	"github.com/teleprox/objrpc/rpcwire"
)

// RateLimitMiddleware enforces a token-bucket limit per peer (spec §5
// "Shared resources": a misbehaving peer must not starve others sharing
// the same Server), generalized from the teacher's single global
// limiter to one bucket per dispatching peer.
func RateLimitMiddleware(r float64, burst int) Middleware {
	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)

	limiterFor := func(peer string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := limiters[peer]
		if !ok {
			l = rate.NewLimiter(rate.Limit(r), burst)
			limiters[peer] = l
		}
		return l
	}

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *rpcwire.Frame) *rpcwire.Frame {
			if !limiterFor(Peer(ctx)).Allow() {
				return errorReply(req, rpcerr.Throttled, "rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}

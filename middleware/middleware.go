// Package middleware provides an onion-style interceptor chain around a
// Server's opcode dispatch (spec §4.4.2's RUNNING state), generalized
// from the teacher's per-RPC-method HandlerFunc to per-request Frame
// dispatch.
package middleware

import (
	"context"

	"github.com/teleprox/objrpc/rpcerr"
	"github.com/teleprox/objrpc/rpcwire"
)

// HandlerFunc executes one opcode dispatch against a decoded request
// frame and produces the reply frame.
type HandlerFunc func(ctx context.Context, req *rpcwire.Frame) *rpcwire.Frame

// Middleware wraps a HandlerFunc.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so the first one listed runs outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

type peerKey struct{}

// WithPeer attaches the dispatching peer's identity to ctx so per-peer
// middleware (rate limiting) can key off it without threading it through
// every HandlerFunc signature.
func WithPeer(ctx context.Context, peer string) context.Context {
	return context.WithValue(ctx, peerKey{}, peer)
}

// Peer retrieves the identity WithPeer attached, or "" if none was set.
func Peer(ctx context.Context) string {
	p, _ := ctx.Value(peerKey{}).(string)
	return p
}

// errorReply builds a reply frame carrying kind/msg as its error status,
// preserving req's ID so the caller's pending map still matches it up.
func errorReply(req *rpcwire.Frame, kind rpcerr.Kind, msg string) *rpcwire.Frame {
	return &rpcwire.Frame{
		Kind:    rpcwire.KindReply,
		ID:      req.ID,
		Status:  string(kind),
		Payload: msg,
	}
}

package client

import (
	"time"

	"go.uber.org/zap"

	"github.com/teleprox/objrpc/codec"
	"github.com/teleprox/objrpc/transport"
)

// Options configures a Client, mirroring the recognized options from
// spec §6 ("Environment/configuration"). Set through functional With...
// constructors rather than an env/file loader — the teacher repo takes
// all configuration through constructor parameters, and this module
// follows that shape.
type Options struct {
	DefaultTimeout       time.Duration
	ReleaseBatchInterval time.Duration
	ReleaseBatchMax      int
	Serializer           codec.Type
	AutoProxyThreshold   int
	Logger               *zap.Logger

	// Registry, when set, is consulted by ProxyFor to reuse one
	// persistent Client per address instead of dialing afresh for every
	// third-party descriptor (spec §9 "Global state").
	Registry *transport.PeerRegistry[*Client]

	// Local, when set, lets this Client serve GETATTR/Publish against its
	// own ObjectRegistry (spec §4.7) instead of refusing with
	// NO_LOCAL_SERVER.
	Local LocalServer

	// immediateRelease disables batching entirely (spec §9 Open Question
	// 2, resolved in SPEC_FULL §12 item 2): every Close() sends its
	// RELEASE notice synchronously. Debug/test knob only.
	immediateRelease bool
}

type Option func(*Options)

func defaultOptions() Options {
	logger, _ := zap.NewProduction()
	return Options{
		DefaultTimeout:       10 * time.Second,
		ReleaseBatchInterval: 50 * time.Millisecond,
		ReleaseBatchMax:      64,
		Serializer:           codec.TypeMsgpack,
		AutoProxyThreshold:   4096,
		Logger:               logger,
	}
}

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.DefaultTimeout = d } }

func WithReleaseBatch(interval time.Duration, max int) Option {
	return func(o *Options) { o.ReleaseBatchInterval = interval; o.ReleaseBatchMax = max }
}

func WithSerializer(t codec.Type) Option { return func(o *Options) { o.Serializer = t } }

func WithAutoProxyThreshold(n int) Option { return func(o *Options) { o.AutoProxyThreshold = n } }

func WithLogger(l *zap.Logger) Option { return func(o *Options) { o.Logger = l } }

// WithImmediateRelease disables release batching: every Proxy.Close
// sends its RELEASE notice immediately instead of waiting for the next
// coalescing window. Intended for tests that need deterministic
// refcount timing (spec §12 item 2), not for production use.
func WithImmediateRelease() Option { return func(o *Options) { o.immediateRelease = true } }

// WithPeerRegistry shares a process-wide registry of persistent Clients
// across callers, so a descriptor pointing at some third address reuses
// the same connection instead of dialing a fresh one per Proxy.
func WithPeerRegistry(r *transport.PeerRegistry[*Client]) Option {
	return func(o *Options) { o.Registry = r }
}

// WithLocalServer lets this Client field GETATTR/Publish against the
// given LocalServer's ObjectRegistry instead of refusing with
// NO_LOCAL_SERVER (spec §4.7).
func WithLocalServer(l LocalServer) Option { return func(o *Options) { o.Local = l } }

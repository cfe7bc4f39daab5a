package server

import (
	"time"

	"go.uber.org/zap"

	"github.com/teleprox/objrpc/client"
	"github.com/teleprox/objrpc/codec"
	"github.com/teleprox/objrpc/transport"
)

type Options struct {
	Serializer           codec.Type
	Logger               *zap.Logger
	AutoProxyThreshold   int
	ReleaseBatchInterval time.Duration
	ReleaseBatchMax      int
	DispatchTimeout      time.Duration
}

type Option func(*Options)

func defaultOptions() Options {
	logger, _ := zap.NewProduction()
	return Options{
		Serializer:           codec.TypeMsgpack,
		Logger:               logger,
		AutoProxyThreshold:   4096,
		ReleaseBatchInterval: 50 * time.Millisecond,
		ReleaseBatchMax:      64,
		DispatchTimeout:      30 * time.Second,
	}
}

func WithSerializer(t codec.Type) Option  { return func(o *Options) { o.Serializer = t } }
func WithLogger(l *zap.Logger) Option     { return func(o *Options) { o.Logger = l } }
func WithAutoProxyThreshold(n int) Option { return func(o *Options) { o.AutoProxyThreshold = n } }
func WithDispatchTimeout(d time.Duration) Option {
	return func(o *Options) { o.DispatchTimeout = d }
}

func (o Options) clientOptions(registry *transport.PeerRegistry[*client.Client], local client.LocalServer) []client.Option {
	return []client.Option{
		client.WithSerializer(o.Serializer),
		client.WithLogger(o.Logger),
		client.WithAutoProxyThreshold(o.AutoProxyThreshold),
		client.WithReleaseBatch(o.ReleaseBatchInterval, o.ReleaseBatchMax),
		client.WithLocalServer(local),
		client.WithPeerRegistry(registry),
	}
}

// Package server implements the Server half of the engine (spec §4.4):
// accepting connections, owning the ObjectRegistry, dispatching opcodes
// against registered values by reflection, and running reentrant calls
// back out over the same connection a request arrived on (spec §4.4.3).
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teleprox/objrpc/client"
	"github.com/teleprox/objrpc/middleware"
	"github.com/teleprox/objrpc/objreg"
	"github.com/teleprox/objrpc/proxy"
	"github.com/teleprox/objrpc/rpcerr"
	"github.com/teleprox/objrpc/rpcwire"
	"github.com/teleprox/objrpc/transport"
)

// Server owns one ObjectRegistry and a name→object root namespace (spec
// §3, SPEC_FULL §12 item 1), accepting connections and dispatching
// opcodes against whatever has been Register()ed or returned by a target
// method, by reflection (reflectops.go).
type Server struct {
	listener transport.Listener
	addr     string

	registry *objreg.Registry

	nsMu      sync.RWMutex
	namespace map[string]any

	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc

	peerRegistry *transport.PeerRegistry[*client.Client]

	connsMu sync.Mutex
	conns   map[objreg.PeerID]*client.Client

	opts Options
	log  *zap.Logger

	shuttingDown atomic.Bool
	wg           sync.WaitGroup
}

func New(opts ...Option) *Server {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	s := &Server{
		registry:  objreg.New(),
		namespace: make(map[string]any),
		conns:     make(map[objreg.PeerID]*client.Client),
		opts:      o,
		log:       o.Logger,
	}
	s.peerRegistry = transport.NewPeerRegistry(func(addr string) (*client.Client, error) {
		return client.Dial(context.Background(), addr, s.opts.clientOptions(s.peerRegistry, s)...)
	})
	s.handler = middleware.Chain(s.middlewares...)(s.businessHandler)
	return s
}

// Register adds v to the root namespace under name, reachable by peers
// via IMPORT and the target-0 GETITEM/SETITEM builtins (SPEC_FULL §12
// item 1).
func (s *Server) Register(name string, v any) {
	s.nsMu.Lock()
	defer s.nsMu.Unlock()
	s.namespace[name] = v
}

func (s *Server) lookupNamespace(name string) (any, bool) {
	s.nsMu.RLock()
	defer s.nsMu.RUnlock()
	v, ok := s.namespace[name]
	return v, ok
}

// Use registers a middleware, applied in the order added (spec §4.4.2).
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
	s.handler = middleware.Chain(s.middlewares...)(s.businessHandler)
}

// Address returns this server's own bind address, once Serve has bound
// the listener — used by LocalServer.Address/Home for short-circuiting a
// descriptor that names this same process (spec §4.6).
func (s *Server) Address() string { return s.addr }

// Serve binds addr ("tcp://host:port" or "inproc://name") and runs the
// accept loop until Shutdown closes the listener.
func (s *Server) Serve(addr string) error {
	ln, err := transport.Listen(addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.addr = ln.Addr()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.shuttingDown.Load() {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// handleConn wraps conn in a client.Client constructed via FromConn,
// reusing its single dedicated recvLoop, codec wiring, and
// Resolver/Invoker plumbing for this server's side of the connection
// too: a reentrant outbound call made from within request dispatch (the
// target calling back into a Proxy the caller passed it) travels over
// the same *client.Client and therefore the same socket (spec §4.4.3).
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()

	peer := objreg.PeerID(conn.RemoteAddr().String())

	var c *client.Client
	var cancelMu sync.Mutex
	cancels := make(map[uint64]context.CancelFunc)

	onRequest := func(req *rpcwire.Frame) {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()

			ctx, cancel := context.WithCancel(context.Background())
			cancelMu.Lock()
			cancels[req.ID] = cancel
			cancelMu.Unlock()
			defer func() {
				cancelMu.Lock()
				delete(cancels, req.ID)
				cancelMu.Unlock()
				cancel()
			}()

			ctx = middleware.WithPeer(ctx, string(peer))
			reply := s.handler(ctx, req)
			if reply == nil {
				return
			}
			if req.Mode == rpcwire.ModeOff {
				if reply.Status != "" {
					s.log.Error("off-mode request failed", zap.Stringer("op", req.Op), zap.String("status", reply.Status), zap.Any("payload", reply.Payload))
				}
				return
			}
			if err := c.SendFrame(reply); err != nil {
				s.log.Warn("failed to send reply", zap.Error(err), zap.Uint64("id", req.ID))
			}
		}()
	}

	onNotice := func(f *rpcwire.Frame) bool {
		if f.Notice != rpcwire.NoticeCancel {
			return false
		}
		n, _ := numericValue(f.NoticeArgs)
		id := uint64(n)
		cancelMu.Lock()
		cancel, ok := cancels[id]
		cancelMu.Unlock()
		if ok {
			cancel()
		}
		return true
	}

	c = client.FromConn(conn, onRequest, onNotice, s.opts.clientOptions(s.peerRegistry, s)...)

	s.connsMu.Lock()
	s.conns[peer] = c
	s.connsMu.Unlock()

	<-c.Done()

	s.connsMu.Lock()
	delete(s.conns, peer)
	s.connsMu.Unlock()
	s.registry.ReleaseAllFrom(peer)
}

// Shutdown stops accepting new connections, notifies every connected peer
// (spec §4.4.2 "SHUTTING_DOWN": a SERVER_CLOSED notice precedes the
// close), then waits up to timeout for in-flight dispatches to finish.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.shuttingDown.Store(true)
	if s.listener != nil {
		s.listener.Close()
	}

	s.connsMu.Lock()
	conns := make([]*client.Client, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.connsMu.Unlock()
	for _, c := range conns {
		c.SendFrame(&rpcwire.Frame{Kind: rpcwire.KindNotice, Notice: rpcwire.NoticeServerClosed})
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("server: timeout waiting for connections to close")
	}
}

// ---- client.LocalServer ----

func (s *Server) Publish(v any, peer objreg.PeerID) (proxy.Descriptor, bool) {
	entry := s.registry.Own(v, peer)
	return proxy.Descriptor{
		ServerAddress: s.addr,
		ObjectID:      entry.ID,
		TypeName:      entry.TypeName,
		Caps:          entry.Caps,
	}, true
}

func (s *Server) Unwrap(oid uint64, attrs []proxy.PathElem) (any, error) {
	entry, ok := s.registry.Get(oid)
	if !ok {
		return nil, rpcerr.New(rpcerr.UnknownObject, "no object %d", oid)
	}
	return resolvePathToAny(entry.Value, attrs)
}

func (s *Server) Decref(id uint64, peer objreg.PeerID, n int) bool {
	return s.registry.Decref(id, peer, n)
}

// Dispatch implements client.LocalServer, letting any Client — not only
// one this Server itself accepted — service a reentrant request from a
// peer that holds a Proxy back into this Server's own registry (spec
// §4.4.3, §4.7's "host[ing] callbacks"). A plain Dial'd Client with a
// LocalServer attached calls this from its own receive loop when it has
// no richer onRequest of its own.
func (s *Server) Dispatch(peer objreg.PeerID, req *rpcwire.Frame) *rpcwire.Frame {
	ctx := middleware.WithPeer(context.Background(), string(peer))
	return s.businessHandler(ctx, req)
}

func (s *Server) closePeer(peer objreg.PeerID) {
	s.connsMu.Lock()
	c, ok := s.conns[peer]
	s.connsMu.Unlock()
	if ok {
		c.Close()
	}
}

// businessHandler is the innermost middleware.HandlerFunc: opcode
// dispatch against the object registry, with panic recovery so a
// misbehaving target method fails the one request rather than the
// connection (spec §10.2).
func (s *Server) businessHandler(ctx context.Context, req *rpcwire.Frame) (reply *rpcwire.Frame) {
	peer := objreg.PeerID(middleware.Peer(ctx))
	defer recoverDispatch(req, &reply)
	reply = s.dispatch(peer, req)
	return reply
}

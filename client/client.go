// Package client implements the Client half of the engine (spec §4.5):
// dialing a Server, issuing CALL/GETATTR/... requests in sync, async, or
// off mode, and servicing reentrant requests the peer sends back over the
// same connection while a call is outstanding (spec §4.4.3).
package client

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teleprox/objrpc/codec"
	"github.com/teleprox/objrpc/objreg"
	"github.com/teleprox/objrpc/proxy"
	"github.com/teleprox/objrpc/rpcerr"
	"github.com/teleprox/objrpc/rpcwire"
	"github.com/teleprox/objrpc/transport"
)

// Client is one persistent, multiplexed connection to a Server (spec
// §4.5). A Client may also be constructed over a connection a Server
// accepted (FromConn), in which case it doubles as the channel a
// reentrant callback travels back out on (spec §4.4.3).
type Client struct {
	id   uuid.UUID
	addr string
	pc   *transport.PeerConn

	table *proxy.Table
	local LocalServer

	registry *transport.PeerRegistry[*Client]
	opts     Options
	log      *zap.Logger

	pendingMu sync.Mutex
	pending   map[uint64]*pendingCall

	releaseMu    sync.Mutex
	releaseBuf   map[uint64]int
	releaseTimer *time.Timer

	onRequest func(*rpcwire.Frame)
	onNotice  func(*rpcwire.Frame) bool

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

type pendingCall struct {
	future *Future  // set for ModeAsync
	ch     chan res // set otherwise
}

type res struct {
	value any
	err   error
}

func (p *pendingCall) resolve(value any, err error) {
	if p.future != nil {
		p.future.complete(value, err)
		return
	}
	select {
	case p.ch <- res{value, err}:
	default:
	}
}

// Dial connects to addr ("tcp://host:port" or "inproc://name"), probing
// liveness first (spec §12 item 5) so a dead address fails fast rather
// than timing out on the first real request.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return dial(ctx, addr, o)
}

func dial(ctx context.Context, addr string, o Options) (*Client, error) {
	if err := transport.Probe(addr, 2*time.Second); err != nil {
		return nil, rpcerr.Wrap(rpcerr.ConnectionLost, err)
	}
	conn, err := transport.Dial(ctx, addr)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.ConnectionLost, err)
	}
	return newClient(conn, addr, o, nil, nil), nil
}

// FromConn wraps an already-accepted connection, letting a Server reuse
// this Client's receive loop, codec.Resolver, and proxy.Invoker wiring to
// issue reentrant calls back to the peer that opened conn (spec §4.4.3).
// onRequest receives inbound KindRequest frames (a Dial'd Client hands
// them to its LocalServer when one is attached and otherwise drops them
// with a warning); onNotice may
// intercept a notice before this Client's own handling runs.
func FromConn(conn net.Conn, onRequest func(*rpcwire.Frame), onNotice func(*rpcwire.Frame) bool, opts ...Option) *Client {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return newClient(conn, conn.RemoteAddr().String(), o, onRequest, onNotice)
}

func newClient(conn net.Conn, addr string, o Options, onRequest func(*rpcwire.Frame), onNotice func(*rpcwire.Frame) bool) *Client {
	c := &Client{
		id:         uuid.New(),
		addr:       addr,
		table:      proxy.NewTable(),
		local:      o.Local,
		registry:   o.Registry,
		opts:       o,
		log:        o.Logger,
		pending:    make(map[uint64]*pendingCall),
		releaseBuf: make(map[uint64]int),
		onRequest:  onRequest,
		onNotice:   onNotice,
		closed:     make(chan struct{}),
	}
	encOpts := codec.EncodeOptions{ReturnMode: rpcwire.ReturnAuto, AutoProxyThreshold: o.AutoProxyThreshold}
	c.pc = transport.NewPeerConn(conn, codec.GetCodec(o.Serializer), c, encOpts)
	go c.recvLoop()
	return c
}

// ID is this Client's per-Client uuid identity tag. It is not sent on the
// wire or used in logs; peers attribute references by connection address
// (RemotePeerID).
func (c *Client) ID() uuid.UUID { return c.id }

// Address is the peer address this Client is connected to.
func (c *Client) Address() string { return c.addr }

// recvLoop is the single dedicated reader for this connection (spec §5
// invariant (a)). It classifies every inbound frame as a reply to one of
// this Client's own pending calls, an unsolicited notice, or — on a
// FromConn connection — a new request for the owning Server to dispatch.
// Because dispatch of a request happens on its own goroutine (see
// server.Server), a nested call that blocks waiting for its own reply
// never blocks this loop from continuing to service the peer.
func (c *Client) recvLoop() {
	for {
		f, err := c.pc.ReadFrame()
		if err != nil {
			c.fail(rpcerr.Wrap(rpcerr.ConnectionLost, err))
			return
		}
		switch f.Kind {
		case rpcwire.KindReply:
			c.deliver(f)
		case rpcwire.KindNotice:
			c.handleNotice(f)
		case rpcwire.KindRequest:
			switch {
			case c.onRequest != nil:
				c.onRequest(f)
			case c.local != nil:
				go c.dispatchLocal(f)
			default:
				c.log.Warn("client received unexpected request frame", zap.Uint64("id", f.ID))
			}
		}
	}
}

// dispatchLocal services one reentrant request against c.local (spec
// §4.4.3) when this Client has no richer onRequest of its own — the
// path a plain Dial'd Client takes for a callback the peer calls back
// into, as opposed to server.Server's own accept-side dispatch which
// additionally tracks per-request cancellation.
func (c *Client) dispatchLocal(f *rpcwire.Frame) {
	reply := c.local.Dispatch(c.RemotePeerID(), f)
	if reply == nil {
		return
	}
	if f.Mode == rpcwire.ModeOff {
		if reply.Status != "" {
			c.log.Error("off-mode reentrant request failed", zap.Stringer("op", f.Op), zap.String("status", reply.Status), zap.Any("payload", reply.Payload))
		}
		return
	}
	if err := c.SendFrame(reply); err != nil {
		c.log.Warn("failed to send reentrant reply", zap.Error(err), zap.Uint64("id", f.ID))
	}
}

func (c *Client) deliver(f *rpcwire.Frame) {
	c.pendingMu.Lock()
	p, ok := c.pending[f.ID]
	if ok {
		delete(c.pending, f.ID)
	}
	c.pendingMu.Unlock()
	if !ok {
		return
	}
	if f.Status != "" {
		p.resolve(nil, decodeStatusError(f))
		return
	}
	p.resolve(f.Payload, nil)
}

func (c *Client) handleNotice(f *rpcwire.Frame) {
	if c.onNotice != nil && c.onNotice(f) {
		return
	}
	switch f.Notice {
	case rpcwire.NoticeServerClosed:
		c.fail(rpcerr.New(rpcerr.ShuttingDown, "peer %s closed", c.addr))
	case rpcwire.NoticeLog:
		c.log.Info("remote log", zap.Any("args", f.NoticeArgs))
	case rpcwire.NoticeRelease:
		c.handleRelease(f)
	case rpcwire.NoticeCancel:
		// A bare Dial'd Client has nothing running to cancel; only a
		// FromConn connection's onNotice (wired by server.Server) acts on
		// this.
	}
}

// handleRelease decrements this Client's own LocalServer registry on the
// peer's behalf: when the peer drops its local Proxy wrapping one of our
// objects, it reports that here rather than over some other channel,
// since the object lives in our ObjectRegistry, not theirs.
func (c *Client) handleRelease(f *rpcwire.Frame) {
	if c.local == nil {
		return
	}
	entries, ok := f.NoticeArgs.([]rpcwire.ReleaseEntry)
	if !ok {
		entries = decodeReleaseEntries(f.NoticeArgs)
	}
	for _, e := range entries {
		c.local.Decref(e.ObjectID, objreg.PeerID(c.addr), e.Count)
	}
}

func decodeReleaseEntries(v any) []rpcwire.ReleaseEntry {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]rpcwire.ReleaseEntry, 0, len(raw))
	for _, e := range raw {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		var entry rpcwire.ReleaseEntry
		if n, ok := toUint64Any(m["id"]); ok {
			entry.ObjectID = n
		}
		if n, ok := toUint64Any(m["n"]); ok {
			entry.Count = int(n)
		}
		out = append(out, entry)
	}
	return out
}

func (c *Client) fail(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		close(c.closed)

		c.pendingMu.Lock()
		pend := c.pending
		c.pending = make(map[uint64]*pendingCall)
		c.pendingMu.Unlock()
		for _, p := range pend {
			p.resolve(nil, err)
		}

		if c.registry != nil {
			c.registry.Remove(c.addr)
		}
	})
}

// Close shuts this Client down: any unsent RELEASE batch is flushed
// immediately (spec §6 exit contract: a Client flushes pending RELEASEs
// before process exit), pending calls fail with CLOSED, and the
// underlying connection is closed.
func (c *Client) Close() error {
	c.flushReleases()
	c.fail(rpcerr.New(rpcerr.Closed, "client closed"))
	return c.pc.Close()
}

// Done reports a channel that closes once this Client has failed or been
// explicitly closed.
func (c *Client) Done() <-chan struct{} { return c.closed }

// RemotePeerID identifies the connection this Client wraps, for refcount
// attribution against a LocalServer (spec §4.3).
func (c *Client) RemotePeerID() objreg.PeerID { return objreg.PeerID(c.addr) }

// SendFrame writes f directly over this Client's connection. Used by a
// server.Server's onRequest hook to answer an inbound request (or push a
// notice) over the exact same socket the request arrived on, so a
// reentrant outbound call and the eventual reply interleave correctly
// (spec §4.4.3).
func (c *Client) SendFrame(f *rpcwire.Frame) error {
	return c.pc.WriteFrame(f)
}

// --- codec.Resolver ---

func (c *Client) Home(addr string) bool {
	return c.local != nil && addr == c.local.Address()
}

func (c *Client) Unwrap(oid uint64, attrs []proxy.PathElem) (any, error) {
	if c.local == nil {
		return nil, rpcerr.New(rpcerr.NoLocalServer, "%s has no local server", c.addr)
	}
	return c.local.Unwrap(oid, attrs)
}

// ProxyFor binds d to the Client for its ServerAddress. A descriptor with
// an empty ServerAddress was published by a LocalServer that has no bound
// address, so it is bound to this same connection.
func (c *Client) ProxyFor(d proxy.Descriptor) (*proxy.Proxy, error) {
	target := c
	if d.ServerAddress != "" && d.ServerAddress != c.addr {
		if c.registry == nil {
			return nil, rpcerr.New(rpcerr.ConnectionLost, "no peer registry to reach %s", d.ServerAddress)
		}
		other, err := c.registry.GetOrCreate(d.ServerAddress)
		if err != nil {
			return nil, err
		}
		target = other
	}
	return target.table.GetOrCreate(d, target.invoker()), nil
}

func (c *Client) Publish(v any) (proxy.Descriptor, bool) {
	if c.local == nil {
		return proxy.Descriptor{}, false
	}
	return c.local.Publish(v, objreg.PeerID(c.addr))
}

// --- proxy.Invoker ---

func (c *Client) invoker() proxy.Invoker {
	return proxy.Invoker{
		Call:    c.call,
		GetAttr: c.getAttr,
		SetAttr: c.setAttr,
		GetItem: c.getItem,
		SetItem: c.setItem,
		DelItem: c.delItem,
		Cmp:     c.cmp,
		Len:     c.len,
		GetID:   c.getID,
		Release: c.release,
	}
}

func (c *Client) call(d proxy.Descriptor, args []any, kwargs map[string]any, mode rpcwire.Mode, ret rpcwire.ReturnMode) (any, error) {
	return c.doRequest(d, rpcwire.OpCall, args, kwargs, mode, ret, 0)
}

func (c *Client) getAttr(d proxy.Descriptor, mode rpcwire.Mode, ret rpcwire.ReturnMode) (any, error) {
	return c.doRequest(d, rpcwire.OpGetAttr, nil, nil, mode, ret, 0)
}

func (c *Client) setAttr(d proxy.Descriptor, value any) error {
	_, err := c.doRequest(d, rpcwire.OpSetAttr, []any{value}, nil, rpcwire.ModeSync, rpcwire.ReturnValue, 0)
	return err
}

func (c *Client) getItem(d proxy.Descriptor, key any, mode rpcwire.Mode, ret rpcwire.ReturnMode) (any, error) {
	return c.doRequest(d, rpcwire.OpGetItem, []any{key}, nil, mode, ret, 0)
}

func (c *Client) setItem(d proxy.Descriptor, key any, value any) error {
	_, err := c.doRequest(d, rpcwire.OpSetItem, []any{key, value}, nil, rpcwire.ModeSync, rpcwire.ReturnValue, 0)
	return err
}

func (c *Client) delItem(d proxy.Descriptor, key any) error {
	_, err := c.doRequest(d, rpcwire.OpDelItem, []any{key}, nil, rpcwire.ModeSync, rpcwire.ReturnValue, 0)
	return err
}

func (c *Client) cmp(d proxy.Descriptor, op rpcwire.CmpOp, other any) (bool, error) {
	v, err := c.doRequest(d, rpcwire.OpCmp, []any{other}, nil, rpcwire.ModeSync, rpcwire.ReturnValue, op)
	if err != nil {
		return false, err
	}
	b, _ := v.(bool)
	return b, nil
}

func (c *Client) len(d proxy.Descriptor) (int, error) {
	v, err := c.doRequest(d, rpcwire.OpLen, nil, nil, rpcwire.ModeSync, rpcwire.ReturnValue, 0)
	if err != nil {
		return 0, err
	}
	n, _ := toInt64(v)
	return int(n), nil
}

func (c *Client) getID(d proxy.Descriptor) (uint64, error) {
	v, err := c.doRequest(d, rpcwire.OpGetID, nil, nil, rpcwire.ModeSync, rpcwire.ReturnValue, 0)
	if err != nil {
		return 0, err
	}
	n, _ := toUint64Any(v)
	return n, nil
}

func (c *Client) release(d proxy.Descriptor) {
	c.queueRelease(d.ObjectID)
}

// doRequest is the shared request/reply core behind every terminal Proxy
// operation (spec §4.4.1): it allocates a request ID, registers a
// pendingCall, writes the frame, and — for sync/async — waits for (or
// returns a handle to) the matching reply. Off mode writes and returns
// immediately; the caller never learns whether the target accepted it
// (spec §4.5 "fire-and-forget").
func (c *Client) doRequest(d proxy.Descriptor, op rpcwire.Opcode, args []any, kwargs map[string]any, mode rpcwire.Mode, ret rpcwire.ReturnMode, cmpOp rpcwire.CmpOp) (any, error) {
	select {
	case <-c.closed:
		return nil, c.closeErr
	default:
	}

	id := c.pc.NextSeq()
	f := &rpcwire.Frame{
		Kind:       rpcwire.KindRequest,
		ID:         id,
		Op:         op,
		Target:     d.ObjectID,
		Attrs:      toWireAttrs(d.Attrs),
		Args:       args,
		Kwargs:     kwargs,
		Mode:       mode,
		ReturnMode: ret,
		CmpOp:      cmpOp,
	}

	if mode == rpcwire.ModeOff {
		if err := c.pc.WriteFrame(f); err != nil {
			c.log.Warn("off-mode request failed to send", zap.Error(err), zap.Stringer("op", op))
		}
		return nil, nil
	}

	pc := &pendingCall{}
	if mode == rpcwire.ModeAsync {
		pc.future = newFuture(c, id)
	} else {
		pc.ch = make(chan res, 1)
	}

	c.pendingMu.Lock()
	c.pending[id] = pc
	c.pendingMu.Unlock()

	if err := c.pc.WriteFrame(f); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, rpcerr.Wrap(rpcerr.ConnectionLost, err)
	}

	if mode == rpcwire.ModeAsync {
		return pc.future, nil
	}

	select {
	case r := <-pc.ch:
		return r.value, r.err
	case <-time.After(c.opts.DefaultTimeout):
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		c.sendCancel(id)
		return nil, rpcerr.New(rpcerr.Timeout, "%s %d timed out after %s", op, id, c.opts.DefaultTimeout)
	case <-c.closed:
		return nil, c.closeErr
	}
}

func (c *Client) sendCancel(id uint64) {
	f := &rpcwire.Frame{Kind: rpcwire.KindNotice, Notice: rpcwire.NoticeCancel, NoticeArgs: id}
	if err := c.pc.WriteFrame(f); err != nil {
		c.log.Warn("failed to send CANCEL notice", zap.Error(err))
	}
}

func decodeStatusError(f *rpcwire.Frame) error {
	kind := rpcerr.Kind(f.Status)
	if kind == rpcerr.RemoteRaised {
		if m, ok := f.Payload.(map[string]any); ok {
			return rpcerr.FromRemote(rpcerr.RemoteFromMap(m))
		}
		return rpcerr.New(rpcerr.RemoteRaised, "%v", f.Payload)
	}
	msg, _ := f.Payload.(string)
	return rpcerr.New(kind, "%s", msg)
}

func toWireAttrs(attrs []proxy.PathElem) []rpcwire.PathElem {
	if len(attrs) == 0 {
		return nil
	}
	out := make([]rpcwire.PathElem, len(attrs))
	for i, a := range attrs {
		out[i] = rpcwire.PathElem{Name: a.Name, Index: a.Index, IsIndex: a.IsIndex}
	}
	return out
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

func toUint64Any(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case int64:
		return uint64(n), true
	case int:
		return uint64(n), true
	case float64:
		return uint64(n), true
	}
	return 0, false
}

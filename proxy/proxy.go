package proxy

import (
	"runtime"
	"sync/atomic"

	"github.com/teleprox/objrpc/objreg"
	"github.com/teleprox/objrpc/rpcwire"
)

// Invoker is everything a Proxy needs from its owning Client to turn a
// terminal operation into a request (spec §4.6: "Every polymorphic
// operation ... translates to one opcode"). Defined here, implemented by
// *client.Client, to avoid proxy importing client.
type Invoker struct {
	Call    func(d Descriptor, args []any, kwargs map[string]any, mode rpcwire.Mode, ret rpcwire.ReturnMode) (any, error)
	GetAttr func(d Descriptor, mode rpcwire.Mode, ret rpcwire.ReturnMode) (any, error)
	SetAttr func(d Descriptor, value any) error
	GetItem func(d Descriptor, key any, mode rpcwire.Mode, ret rpcwire.ReturnMode) (any, error)
	SetItem func(d Descriptor, key any, value any) error
	DelItem func(d Descriptor, key any) error
	Cmp     func(d Descriptor, op rpcwire.CmpOp, other any) (bool, error)
	Len     func(d Descriptor) (int, error)
	GetID   func(d Descriptor) (uint64, error)
	Release func(d Descriptor)
}

// Proxy is the local handle standing in for a remote value (spec
// GLOSSARY). Attribute composition is lazy and purely local; every other
// operation is terminal and round-trips through the owning Client.
type Proxy struct {
	Descriptor
	invoker  Invoker
	released atomic.Bool
	cleanup  runtime.Cleanup
}

// New wraps d with invoker, registering a GC-backstop cleanup that
// releases the server-side reference if the holder forgets to call
// Close explicitly (spec §3: "Proxy ... dies when the last local holder
// releases it; emits a release notification").
func New(d Descriptor, invoker Invoker) *Proxy {
	p := &Proxy{Descriptor: d, invoker: invoker}
	p.cleanup = runtime.AddCleanup(p, func(desc Descriptor) {
		invoker.Release(desc)
	}, d)
	return p
}

// Attr composes a new proxy with name appended to the attribute path.
// This never contacts the network (spec §4.6).
func (p *Proxy) Attr(name string) *Proxy {
	return New(p.Descriptor.WithAttr(Attr(name)), p.invoker)
}

// At composes a new proxy with an integer index appended to the path.
func (p *Proxy) At(index int) *Proxy {
	return New(p.Descriptor.WithAttr(Item(index)), p.invoker)
}

// Call invokes the proxied callable (terminal operation, CALL opcode).
// Caps is only checked for a bare (no attribute path) proxy: it
// describes the root object's capabilities, not whatever value a
// composed .Attr()/.At() chain resolves to, so a chained proxy always
// round-trips and lets the server's own dispatch reject an unsupported
// operation (spec §4.6).
func (p *Proxy) Call(args []any, kwargs map[string]any, mode rpcwire.Mode, ret rpcwire.ReturnMode) (any, error) {
	if len(p.Attrs) == 0 && !p.Caps.Has(objreg.CapCall) {
		return nil, unsupported("CALL", p.Descriptor)
	}
	return p.invoker.Call(p.Descriptor, args, kwargs, mode, ret)
}

// Get materializes the proxied value — the terminal GETATTR round trip
// for a lazily composed attribute chain, or GET_OBJ semantics for a bare
// proxy. mode/ret follow the same contract as every other terminal op.
func (p *Proxy) Get(mode rpcwire.Mode, ret rpcwire.ReturnMode) (any, error) {
	return p.invoker.GetAttr(p.Descriptor, mode, ret)
}

// SetAttr assigns to the final named attribute in the chain (SETATTR).
func (p *Proxy) SetAttr(name string, value any) error {
	target := p.Descriptor.WithAttr(Attr(name))
	if len(p.Attrs) == 0 && !p.Caps.Has(objreg.CapGetAttr) {
		return unsupported("SETATTR", p.Descriptor)
	}
	return p.invoker.SetAttr(target, value)
}

// GetItem performs container access (GETITEM).
func (p *Proxy) GetItem(key any, mode rpcwire.Mode, ret rpcwire.ReturnMode) (any, error) {
	if len(p.Attrs) == 0 && !p.Caps.Has(objreg.CapGetItem) {
		return nil, unsupported("GETITEM", p.Descriptor)
	}
	return p.invoker.GetItem(p.Descriptor, key, mode, ret)
}

// SetItem performs container assignment (SETITEM).
func (p *Proxy) SetItem(key any, value any) error {
	if len(p.Attrs) == 0 && !p.Caps.Has(objreg.CapSetItem) {
		return unsupported("SETITEM", p.Descriptor)
	}
	return p.invoker.SetItem(p.Descriptor, key, value)
}

// DelItem removes a container entry (DELITEM).
func (p *Proxy) DelItem(key any) error {
	if len(p.Attrs) == 0 && !p.Caps.Has(objreg.CapSetItem) {
		return unsupported("DELITEM", p.Descriptor)
	}
	return p.invoker.DelItem(p.Descriptor, key)
}

// Cmp performs a structural comparison (CMP).
func (p *Proxy) Cmp(op rpcwire.CmpOp, other any) (bool, error) {
	need := objreg.CapCmpEQ
	if op != rpcwire.CmpEQ && op != rpcwire.CmpNE {
		need = objreg.CapCmpOrd
	}
	if len(p.Attrs) == 0 && !p.Caps.Has(need) {
		return false, unsupported("CMP", p.Descriptor)
	}
	return p.invoker.Cmp(p.Descriptor, op, other)
}

// Len returns the proxied container's length (LEN).
func (p *Proxy) Len() (int, error) {
	if len(p.Attrs) == 0 && !p.Caps.Has(objreg.CapLen) {
		return 0, unsupported("LEN", p.Descriptor)
	}
	return p.invoker.Len(p.Descriptor)
}

// GetID returns the target's ObjectID for identity checks (GET_ID).
func (p *Proxy) GetID() (uint64, error) {
	return p.invoker.GetID(p.Descriptor)
}

// Close releases this proxy's server-side reference. Safe to call more
// than once; only the first call sends RELEASE.
func (p *Proxy) Close() error {
	if p.released.CompareAndSwap(false, true) {
		p.invoker.Release(p.Descriptor)
		p.cleanup.Stop()
	}
	return nil
}

func unsupported(op string, d Descriptor) error {
	return &opError{op: op, d: d}
}

type opError struct {
	op string
	d  Descriptor
}

func (e *opError) Error() string {
	return "UNSUPPORTED_OP: " + e.op + " on " + e.d.String()
}

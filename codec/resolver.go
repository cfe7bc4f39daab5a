package codec

import "github.com/teleprox/objrpc/proxy"

// Resolver is everything the value walker needs from whichever endpoint
// (Server or Client) owns the frame being encoded or decoded, kept as an
// interface so codec never imports server or client directly.
type Resolver interface {
	// Home reports whether addr names this endpoint's own listening
	// address, i.e. whether a descriptor pointing at addr can be
	// unwrapped locally instead of proxied (spec §4.6: "if addr is this
	// process's own server, short-circuit to the local object").
	Home(addr string) bool

	// Unwrap walks attrs off the local object identified by oid and
	// returns the resulting value, for a descriptor whose ServerAddress
	// is this endpoint's own (Home returns true).
	Unwrap(oid uint64, attrs []proxy.PathElem) (any, error)

	// ProxyFor returns a live Proxy for a descriptor addressed at some
	// other endpoint, consulting the caller's ProxyTable so repeated
	// decodes of the same descriptor return the same handle.
	ProxyFor(d proxy.Descriptor) (*proxy.Proxy, error)

	// Publish registers v in this endpoint's ObjectRegistry (minting an
	// ID on first use, bumping refcount on repeat) and returns the
	// resulting descriptor. ok is false when this endpoint has no
	// registry to publish into (a bare Client with no LocalServer, spec
	// §7 NO_LOCAL_SERVER).
	Publish(v any) (proxy.Descriptor, bool)
}

package client

import (
	"github.com/teleprox/objrpc/objreg"
	"github.com/teleprox/objrpc/proxy"
	"github.com/teleprox/objrpc/rpcwire"
)

// LocalServer is the slice of server.Server a Client needs in order to
// implement codec.Resolver without importing the server package (spec
// §4.7: "a Client without a LocalServer may still pass values by value
// but will refuse to transmit by reference with NO_LOCAL_SERVER").
type LocalServer interface {
	Address() string

	// Publish registers v on behalf of peer (the connection this Client
	// wraps), minting an ID on first use or bumping peer's share of an
	// existing entry's refcount (spec §4.3 Own-is-idempotent-by-identity).
	Publish(v any, peer objreg.PeerID) (proxy.Descriptor, bool)

	Unwrap(oid uint64, attrs []proxy.PathElem) (any, error)

	// Decref drops n references a peer held against id, releasing the
	// object once its total refcount reaches zero (spec §4.3). Called
	// when a peer's RELEASE notice arrives for an object this server
	// owns.
	Decref(id uint64, peer objreg.PeerID, n int) bool

	// Dispatch services one inbound request frame against this
	// LocalServer's own registry. A plain Dial'd Client has no accept
	// loop of its own, so when it's been given a LocalServer (to host
	// callbacks, spec §4.4.3) it falls back to this method for any
	// reentrant request the peer sends back over the same connection
	// while a call is outstanding.
	Dispatch(peer objreg.PeerID, req *rpcwire.Frame) *rpcwire.Frame
}

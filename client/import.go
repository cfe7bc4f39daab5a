package client

import (
	"github.com/teleprox/objrpc/proxy"
	"github.com/teleprox/objrpc/rpcwire"
)

// Import resolves name in the peer's root namespace (SPEC_FULL §12 item
// 1's IMPORT builtin, target 0), returning whatever the name was
// registered with — by value if it serializes, by *proxy.Proxy otherwise.
func (c *Client) Import(name string) (any, error) {
	return c.doRequest(proxy.Descriptor{ObjectID: 0}, rpcwire.OpImport, []any{name}, nil, rpcwire.ModeSync, rpcwire.ReturnAuto, 0)
}

package codec

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/teleprox/objrpc/proxy"
	"github.com/teleprox/objrpc/rpcerr"
	"github.com/teleprox/objrpc/rpcwire"
)

// Extension type IDs for the three wire leaf types. Registered once at
// package init so msgpack.Unmarshal reconstructs the concrete Go type
// directly when decoding into an interface{} slot — this is the msgpack
// analogue of teleprox's encode_key marker dict, done at the serializer
// level instead of by hand (spec §6 "reserved marker distinct from any
// user payload").
const (
	extProxyDescriptor int8 = 1
	extArrayBuffer     int8 = 2
	extOpaqueBlob      int8 = 3
)

func init() {
	msgpack.RegisterExt(extProxyDescriptor, (*proxy.Descriptor)(nil))
	msgpack.RegisterExt(extArrayBuffer, (*ArrayBuffer)(nil))
	msgpack.RegisterExt(extOpaqueBlob, (*OpaqueBlob)(nil))
}

// MsgpackCodec is the default wire serializer (spec §6). Leaf tagging
// needs no envelope: the Ext registration above does it at the byte
// level, so tag/untag are both no-ops here.
type MsgpackCodec struct{}

func msgpackTag(_ string, v any) any { return v }

func msgpackUntag(v any) (string, any, any) { return "", nil, v }

func (c *MsgpackCodec) Encode(f *rpcwire.Frame, resolver Resolver, opts EncodeOptions) ([]byte, error) {
	w, err := toWire(f, resolver, opts, msgpackTag)
	if err != nil {
		return nil, err
	}
	data, err := msgpack.Marshal(w)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.Unserializable, err)
	}
	return data, nil
}

func (c *MsgpackCodec) Decode(data []byte, resolver Resolver) (*rpcwire.Frame, error) {
	// Loose interface decoding yields int64/uint64 for integers in any
	// slot, the types the client and server numeric helpers accept.
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	var w wireFrame
	if err := dec.Decode(&w); err != nil {
		return nil, rpcerr.Wrap(rpcerr.Unserializable, err)
	}
	return fromWire(&w, resolver, msgpackUntag)
}

func (c *MsgpackCodec) Type() Type { return TypeMsgpack }

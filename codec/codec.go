// Package codec implements the wire-payload serialization boundary from
// spec §4.2: encoding/decoding the primitive value tree, the Proxy
// extension hook, the opaque-blob fallback, and the numeric-array plug-in.
//
// The teacher's hand-rolled length-prefixed BinaryCodec is replaced here
// by a real ecosystem serializer (vmihailenco/msgpack/v5) per spec §6's
// default "msgpack-like" serializer. JSONCodec is kept as the
// human-readable fallback spec §6 also names.
package codec

import "github.com/teleprox/objrpc/rpcwire"

// Type names the wire serializer, carried in the frame header (spec §6
// "serializer" option) so a Server can decode a request with whichever
// codec the sender used.
type Type byte

const (
	TypeMsgpack Type = 0
	TypeJSON    Type = 1
)

func (t Type) String() string {
	if t == TypeJSON {
		return "json"
	}
	return "msgpack"
}

func ParseType(s string) Type {
	if s == "json" {
		return TypeJSON
	}
	return TypeMsgpack
}

// Codec encodes/decodes a complete Frame. Implementations are
// responsible for walking Args/Kwargs/Payload/NoticeArgs through the
// Proxy/opaque-blob/array extension points described in spec §4.2.
type Codec interface {
	Encode(f *rpcwire.Frame, resolver Resolver, opts EncodeOptions) ([]byte, error)
	Decode(data []byte, resolver Resolver) (*rpcwire.Frame, error)
	Type() Type
}

// EncodeOptions carries the return mode and the auto-proxy size threshold
// for the value walker. Primitives, containers, buffers and
// BinaryMarshalers are always copied by value. For any other value,
// ReturnValue fails with UNSERIALIZABLE, while ReturnAuto and ReturnProxy
// both publish it by reference. AutoProxyThreshold is carried but not
// consulted: value size never affects the choice.
type EncodeOptions struct {
	ReturnMode         rpcwire.ReturnMode
	AutoProxyThreshold int
}

func GetCodec(t Type) Codec {
	if t == TypeJSON {
		return &JSONCodec{}
	}
	return &MsgpackCodec{}
}

package codec

import (
	"encoding/json"

	"github.com/teleprox/objrpc/rpcerr"
	"github.com/teleprox/objrpc/rpcwire"
)

// jsonTagKey is the marker field teleprox's own JsonSerializer used under
// the name encode_key — JSON has no extension-type mechanism, so the
// three wire leaf types need an explicit envelope to stay distinguishable
// from an ordinary user dict that happens to share field names.
const jsonTagKey = "__t__"

// JSONCodec is the human-readable fallback serializer (spec §6). Slower
// and larger on the wire than MsgpackCodec but useful for debugging a
// capture with a text viewer instead of a hex dump.
type JSONCodec struct{}

func jsonTag(kind string, v any) any {
	return map[string]any{jsonTagKey: kind, "v": v}
}

func jsonUntag(v any) (string, any, any) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", nil, v
	}
	kind, ok := m[jsonTagKey].(string)
	if !ok {
		return "", nil, v
	}
	return kind, m["v"], v
}

func (c *JSONCodec) Encode(f *rpcwire.Frame, resolver Resolver, opts EncodeOptions) ([]byte, error) {
	w, err := toWire(f, resolver, opts, jsonTag)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.Unserializable, err)
	}
	return data, nil
}

func (c *JSONCodec) Decode(data []byte, resolver Resolver) (*rpcwire.Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, rpcerr.Wrap(rpcerr.Unserializable, err)
	}
	return fromWire(&w, resolver, jsonUntag)
}

func (c *JSONCodec) Type() Type { return TypeJSON }

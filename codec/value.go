package codec

import (
	"encoding"
	"encoding/base64"
	"reflect"
	"sync"

	"github.com/teleprox/objrpc/objreg"
	"github.com/teleprox/objrpc/proxy"
	"github.com/teleprox/objrpc/rpcerr"
	"github.com/teleprox/objrpc/rpcwire"
)

// ArrayBuffer is the wire form of the numeric-array plug-in (spec §4.2,
// §6): a value implementing objreg.Buffer is sent by value as a compact
// {dtype, shape, strides, bytes} record instead of being proxied.
type ArrayBuffer struct {
	Dtype   string `msgpack:"dtype" json:"dtype"`
	Shape   []int  `msgpack:"shape" json:"shape"`
	Strides []int  `msgpack:"strides,omitempty" json:"strides,omitempty"`
	Bytes   []byte `msgpack:"bytes" json:"bytes"`
}

// OpaqueBlob is the fallback wire form for any by-value type this process
// cannot otherwise represent faithfully (spec §3 GLOSSARY "OpaqueBlob"):
// a type name tag plus a binary payload, round-tripped through
// encoding.BinaryMarshaler/BinaryUnmarshaler rather than proxied because
// the sender chose by-value semantics (or has no local server to own a
// reference through).
type OpaqueBlob struct {
	TypeName string `msgpack:"type" json:"type"`
	Data     []byte `msgpack:"data" json:"data"`
}

// binaryType is what the registry needs to reconstruct a BinaryUnmarshaler
// by type name on decode.
type binaryType struct {
	new func() encoding.BinaryUnmarshaler
}

var (
	binaryRegistryMu sync.RWMutex
	binaryRegistry   = make(map[string]binaryType)
)

// RegisterBinaryType lets a caller opt a concrete type into round-tripping
// through OpaqueBlob by value: new must return a fresh zero value whose
// UnmarshalBinary will be called on decode. Types that are never
// registered still encode fine (via MarshalBinary) but decode back as a
// bare OpaqueBlob rather than the original type — documented in DESIGN.md
// as the opaque-by-default fallback.
func RegisterBinaryType(name string, new func() encoding.BinaryUnmarshaler) {
	binaryRegistryMu.Lock()
	defer binaryRegistryMu.Unlock()
	binaryRegistry[name] = binaryType{new: new}
}

func lookupBinaryType(name string) (binaryType, bool) {
	binaryRegistryMu.RLock()
	defer binaryRegistryMu.RUnlock()
	bt, ok := binaryRegistry[name]
	return bt, ok
}

// prepare walks v, converting anything that is not already a JSON/msgpack
// primitive into one of the three wire leaf types (proxy.Descriptor,
// ArrayBuffer, OpaqueBlob), recursing into slices and maps. tag lets the
// JSON codec wrap leaves in a marker envelope that msgpack's Ext
// machinery makes unnecessary.
func prepare(v any, resolver Resolver, opts EncodeOptions, tag func(kind string, v any) any) (any, error) {
	switch val := v.(type) {
	case nil, bool, string, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64, []byte:
		return val, nil
	case *proxy.Proxy:
		return tag("proxy", val.Descriptor), nil
	case proxy.Descriptor:
		return tag("proxy", val), nil
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			p, err := prepare(e, resolver, opts, tag)
			if err != nil {
				return nil, err
			}
			out[i] = p
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			p, err := prepare(e, resolver, opts, tag)
			if err != nil {
				return nil, err
			}
			out[k] = p
		}
		return out, nil
	}

	if buf, ok := v.(objreg.Buffer); ok {
		return tag("array", ArrayBuffer{
			Dtype:   buf.Dtype(),
			Shape:   buf.Shape(),
			Strides: buf.Strides(),
			Bytes:   buf.Bytes(),
		}), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		n := rv.Len()
		out := make([]any, n)
		for i := 0; i < n; i++ {
			p, err := prepare(rv.Index(i).Interface(), resolver, opts, tag)
			if err != nil {
				return nil, err
			}
			out[i] = p
		}
		return out, nil
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key, ok := iter.Key().Interface().(string)
			if !ok {
				break // non-string-keyed map falls through to opaque below
			}
			p, err := prepare(iter.Value().Interface(), resolver, opts, tag)
			if err != nil {
				return nil, err
			}
			out[key] = p
		}
		if len(out) == rv.Len() {
			return out, nil
		}
	}

	if bm, ok := v.(encoding.BinaryMarshaler); ok {
		data, err := bm.MarshalBinary()
		if err != nil {
			return nil, rpcerr.Wrap(rpcerr.Unserializable, err)
		}
		return tag("blob", OpaqueBlob{TypeName: reflect.TypeOf(v).String(), Data: data}), nil
	}

	if opts.ReturnMode == rpcwire.ReturnValue {
		return nil, rpcerr.New(rpcerr.Unserializable, "cannot serialize %T by value", v)
	}

	desc, ok := resolver.Publish(v)
	if !ok {
		return nil, rpcerr.New(rpcerr.NoLocalServer, "no local server available to proxy %T", v)
	}
	return tag("proxy", desc), nil
}

// resolve is prepare's inverse: it walks a decoded value tree, replacing
// descriptor/array/blob leaves with local values, live Proxy handles, or
// reconstructed blobs. untag strips the JSON marker envelope before
// dispatch; msgpack's Ext decoding has already produced typed leaves.
func resolve(v any, resolver Resolver, untag func(v any) (kind string, inner any, plain any)) (any, error) {
	if kind, inner, plain := untag(v); kind != "" {
		switch kind {
		case "proxy":
			d, ok := inner.(proxy.Descriptor)
			if !ok {
				d = remapDescriptor(inner)
			}
			if resolver.Home(d.ServerAddress) {
				return resolver.Unwrap(d.ObjectID, d.Attrs)
			}
			return resolver.ProxyFor(d)
		case "array":
			a, ok := inner.(ArrayBuffer)
			if !ok {
				a = remapArrayBuffer(inner)
			}
			return a, nil
		case "blob":
			b, ok := inner.(OpaqueBlob)
			if !ok {
				b = remapOpaqueBlob(inner)
			}
			return resolveBlob(b)
		}
		v = plain
	}

	switch d := v.(type) {
	case proxy.Descriptor:
		if resolver.Home(d.ServerAddress) {
			return resolver.Unwrap(d.ObjectID, d.Attrs)
		}
		return resolver.ProxyFor(d)
	case ArrayBuffer:
		return d, nil
	case OpaqueBlob:
		return resolveBlob(d)
	case []any:
		for i, e := range d {
			r, err := resolve(e, resolver, untag)
			if err != nil {
				return nil, err
			}
			d[i] = r
		}
		return d, nil
	case map[string]any:
		for k, e := range d {
			r, err := resolve(e, resolver, untag)
			if err != nil {
				return nil, err
			}
			d[k] = r
		}
		return d, nil
	default:
		return v, nil
	}
}

func resolveBlob(b OpaqueBlob) (any, error) {
	bt, ok := lookupBinaryType(b.TypeName)
	if !ok {
		return b, nil
	}
	val := bt.new()
	if err := val.UnmarshalBinary(b.Data); err != nil {
		return nil, rpcerr.Wrap(rpcerr.Unserializable, err)
	}
	return val, nil
}

// remapDescriptor/remapArrayBuffer/remapOpaqueBlob cover the case where a
// map-typed untagged envelope carries plain map[string]any fields (as
// happens after json.Unmarshal) instead of the concrete struct — they
// copy the fields out by name, base64-decoding byte fields as
// encoding/json writes them.
func remapDescriptor(v any) proxy.Descriptor {
	m, _ := v.(map[string]any)
	d := proxy.Descriptor{}
	if s, ok := m["addr"].(string); ok {
		d.ServerAddress = s
	}
	if n, ok := toUint64(m["id"]); ok {
		d.ObjectID = n
	}
	if s, ok := m["type"].(string); ok {
		d.TypeName = s
	}
	if n, ok := toUint64(m["caps"]); ok {
		d.Caps = objreg.Capabilities(n)
	}
	if attrs, ok := m["attrs"].([]any); ok {
		for _, a := range attrs {
			am, _ := a.(map[string]any)
			elem := proxy.PathElem{}
			if s, ok := am["name"].(string); ok {
				elem.Name = s
			}
			if n, ok := toUint64(am["index"]); ok {
				elem.Index = int(n)
			}
			if b, ok := am["is_index"].(bool); ok {
				elem.IsIndex = b
			}
			d.Attrs = append(d.Attrs, elem)
		}
	}
	return d
}

func remapArrayBuffer(v any) ArrayBuffer {
	m, _ := v.(map[string]any)
	a := ArrayBuffer{}
	if s, ok := m["dtype"].(string); ok {
		a.Dtype = s
	}
	if sh, ok := m["shape"].([]any); ok {
		a.Shape = toIntSlice(sh)
	}
	if st, ok := m["strides"].([]any); ok {
		a.Strides = toIntSlice(st)
	}
	if b, ok := m["bytes"].(string); ok {
		a.Bytes, _ = base64.StdEncoding.DecodeString(b)
	}
	return a
}

func remapOpaqueBlob(v any) OpaqueBlob {
	m, _ := v.(map[string]any)
	b := OpaqueBlob{}
	if s, ok := m["type"].(string); ok {
		b.TypeName = s
	}
	if s, ok := m["data"].(string); ok {
		b.Data, _ = base64.StdEncoding.DecodeString(s)
	}
	return b
}

func toUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case int:
		return uint64(n), true
	case int64:
		return uint64(n), true
	case float64:
		return uint64(n), true
	}
	return 0, false
}

func toIntSlice(v []any) []int {
	out := make([]int, len(v))
	for i, e := range v {
		n, _ := toUint64(e)
		out[i] = int(n)
	}
	return out
}

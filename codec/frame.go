package codec

import "github.com/teleprox/objrpc/rpcwire"

// wireFrame is the on-the-wire shape of rpcwire.Frame: every any-typed
// field has already been walked through prepare/resolve by the time a
// value reaches or leaves this struct, so both JSONCodec and
// MsgpackCodec can marshal it with nothing more than struct tags.
type wireFrame struct {
	Kind       byte               `msgpack:"k" json:"k"`
	ID         uint64             `msgpack:"id" json:"id"`
	Op         byte               `msgpack:"op" json:"op"`
	Target     uint64             `msgpack:"t" json:"t"`
	Attrs      []rpcwire.PathElem `msgpack:"at,omitempty" json:"at,omitempty"`
	Args       []any              `msgpack:"a,omitempty" json:"a,omitempty"`
	Kwargs     map[string]any     `msgpack:"kw,omitempty" json:"kw,omitempty"`
	Mode       byte               `msgpack:"m" json:"m"`
	ReturnMode byte               `msgpack:"rm" json:"rm"`
	CmpOp      byte               `msgpack:"cmp" json:"cmp"`
	Status     string             `msgpack:"st,omitempty" json:"st,omitempty"`
	Payload    any                `msgpack:"p,omitempty" json:"p,omitempty"`
	Notice     string             `msgpack:"n,omitempty" json:"n,omitempty"`
	NoticeArgs any                `msgpack:"na,omitempty" json:"na,omitempty"`
}

type tagFunc func(kind string, v any) any

// untagFunc inspects a decoded value and, if it carries a marker (msgpack:
// already a typed leaf; JSON: the {"__t__": kind, "v": ...} envelope),
// returns the kind and the unwrapped inner value. plain is v itself, for
// callers that want to fall through when kind == "".
type untagFunc func(v any) (kind string, inner any, plain any)

func toWire(f *rpcwire.Frame, resolver Resolver, opts EncodeOptions, tag tagFunc) (*wireFrame, error) {
	args := make([]any, len(f.Args))
	for i, a := range f.Args {
		v, err := prepare(a, resolver, opts, tag)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	var kwargs map[string]any
	if f.Kwargs != nil {
		kwargs = make(map[string]any, len(f.Kwargs))
		for k, a := range f.Kwargs {
			v, err := prepare(a, resolver, opts, tag)
			if err != nil {
				return nil, err
			}
			kwargs[k] = v
		}
	}

	payload, err := prepare(f.Payload, resolver, opts, tag)
	if err != nil {
		return nil, err
	}
	noticeArgs, err := prepare(f.NoticeArgs, resolver, opts, tag)
	if err != nil {
		return nil, err
	}

	return &wireFrame{
		Kind:       byte(f.Kind),
		ID:         f.ID,
		Op:         byte(f.Op),
		Target:     f.Target,
		Attrs:      f.Attrs,
		Args:       args,
		Kwargs:     kwargs,
		Mode:       byte(f.Mode),
		ReturnMode: byte(f.ReturnMode),
		CmpOp:      byte(f.CmpOp),
		Status:     f.Status,
		Payload:    payload,
		Notice:     string(f.Notice),
		NoticeArgs: noticeArgs,
	}, nil
}

func fromWire(w *wireFrame, resolver Resolver, untag untagFunc) (*rpcwire.Frame, error) {
	args := make([]any, len(w.Args))
	for i, a := range w.Args {
		v, err := resolve(a, resolver, untag)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	var kwargs map[string]any
	if w.Kwargs != nil {
		kwargs = make(map[string]any, len(w.Kwargs))
		for k, a := range w.Kwargs {
			v, err := resolve(a, resolver, untag)
			if err != nil {
				return nil, err
			}
			kwargs[k] = v
		}
	}

	payload, err := resolve(w.Payload, resolver, untag)
	if err != nil {
		return nil, err
	}
	noticeArgs, err := resolve(w.NoticeArgs, resolver, untag)
	if err != nil {
		return nil, err
	}

	return &rpcwire.Frame{
		Kind:       rpcwire.Kind(w.Kind),
		ID:         w.ID,
		Op:         rpcwire.Opcode(w.Op),
		Target:     w.Target,
		Attrs:      w.Attrs,
		Args:       args,
		Kwargs:     kwargs,
		Mode:       rpcwire.Mode(w.Mode),
		ReturnMode: rpcwire.ReturnMode(w.ReturnMode),
		CmpOp:      rpcwire.CmpOp(w.CmpOp),
		Status:     w.Status,
		Payload:    payload,
		Notice:     rpcwire.NoticeKind(w.Notice),
		NoticeArgs: noticeArgs,
	}, nil
}

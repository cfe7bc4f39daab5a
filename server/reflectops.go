package server

import (
	"reflect"

	"github.com/teleprox/objrpc/objreg"
	"github.com/teleprox/objrpc/proxy"
	"github.com/teleprox/objrpc/rpcerr"
	"github.com/teleprox/objrpc/rpcwire"
)

// reflectops.go generalizes service.go's reflect.New/.Call method
// scanning from "ServiceName.MethodName on a registered receiver" to
// opcode dispatch on an arbitrary registered Go value (spec §4.4.1):
// callValue/setAttrValue/getItemValue/setItemValue/delItemValue/
// lenValue/cmpValue all operate on whatever the ObjectRegistry hands
// back, walked to the right spot by resolvePath (dispatch.go's
// resolvePathToAny wraps it for callers that just want the final value).

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func deref(rv reflect.Value) reflect.Value {
	for rv.IsValid() && (rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return reflect.Value{}
		}
		rv = rv.Elem()
	}
	return rv
}

// resolvePath walks attrs off v, trying a method first at each step
// (pointer receiver methods need the un-dereferenced value) and falling
// back to a struct field or map entry. Index steps always operate on the
// dereferenced container. Shared by GETATTR/SETATTR/GETITEM/SETITEM/
// DELITEM dispatch and by LocalServer.Unwrap's decode-time resolution.
func resolvePath(v any, attrs []proxy.PathElem) (reflect.Value, error) {
	cur := reflect.ValueOf(v)
	for _, step := range attrs {
		if !cur.IsValid() {
			return reflect.Value{}, rpcerr.New(rpcerr.UnknownObject, "nil value mid-path")
		}
		var next reflect.Value
		var err error
		if step.IsIndex {
			next, err = getIndex(deref(cur), step.Index)
		} else {
			next, err = getField(cur, step.Name)
		}
		if err != nil {
			return reflect.Value{}, err
		}
		cur = next
	}
	return cur, nil
}

func getField(rv reflect.Value, name string) (reflect.Value, error) {
	if rv.IsValid() {
		if m := rv.MethodByName(name); m.IsValid() {
			return m, nil
		}
	}
	dv := deref(rv)
	if dv.IsValid() {
		if m := dv.MethodByName(name); m.IsValid() {
			return m, nil
		}
		switch dv.Kind() {
		case reflect.Struct:
			f := dv.FieldByName(name)
			if f.IsValid() && f.CanInterface() {
				return f, nil
			}
		case reflect.Map:
			v := dv.MapIndex(reflect.ValueOf(name))
			if v.IsValid() {
				return v, nil
			}
		}
	}
	return reflect.Value{}, rpcerr.New(rpcerr.UnsupportedOp, "no attribute %q on %s", name, rv.Type())
}

func getIndex(dv reflect.Value, idx int) (reflect.Value, error) {
	switch dv.Kind() {
	case reflect.Slice, reflect.Array:
		if idx < 0 || idx >= dv.Len() {
			return reflect.Value{}, rpcerr.New(rpcerr.UnsupportedOp, "index %d out of range (len %d)", idx, dv.Len())
		}
		return dv.Index(idx), nil
	case reflect.Map:
		v := dv.MapIndex(reflect.ValueOf(idx))
		if !v.IsValid() {
			return reflect.Value{}, rpcerr.New(rpcerr.UnknownObject, "no key %d", idx)
		}
		return v, nil
	}
	return reflect.Value{}, rpcerr.New(rpcerr.UnsupportedOp, "target not indexable: %s", dv.Type())
}

// getItemValue reads container[key] for the GETITEM opcode, where key may
// be any comparable value (not just an integer index, unlike getIndex
// which backs the internal path walker for .At()-composed proxies).
func getItemValue(container reflect.Value, key any) (any, error) {
	dv := deref(container)
	switch dv.Kind() {
	case reflect.Slice, reflect.Array:
		idx, ok := toIntKey(key)
		if !ok {
			return nil, rpcerr.New(rpcerr.UnsupportedOp, "non-integer index %v on %s", key, dv.Type())
		}
		v, err := getIndex(dv, idx)
		if err != nil {
			return nil, err
		}
		return v.Interface(), nil
	case reflect.Map:
		v := dv.MapIndex(convertArg(key, dv.Type().Key()))
		if !v.IsValid() {
			return nil, rpcerr.New(rpcerr.UnknownObject, "no key %v", key)
		}
		return v.Interface(), nil
	case reflect.String:
		idx, ok := toIntKey(key)
		if !ok || idx < 0 || idx >= dv.Len() {
			return nil, rpcerr.New(rpcerr.UnsupportedOp, "index %v out of range on string", key)
		}
		return dv.String()[idx], nil
	}
	return nil, rpcerr.New(rpcerr.UnsupportedOp, "GETITEM on %s", dv.Type())
}

// callValue invokes fn (a bound method or bare function, as returned by
// resolvePath) with args/kwargs. Go funcs have no native kwargs; the
// best-effort mapping (documented deviation) passes kwargs through only
// when fn's final parameter is exactly map[string]any.
func callValue(fn any, args []any, kwargs map[string]any) (any, error) {
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func {
		return nil, rpcerr.New(rpcerr.UnsupportedOp, "CALL on non-callable %T", fn)
	}
	in, err := convertArgs(rv.Type(), args, kwargs)
	if err != nil {
		return nil, err
	}
	out := rv.Call(in)
	return packResults(out)
}

var kwargsType = reflect.TypeOf(map[string]any{})

func convertArgs(ft reflect.Type, args []any, kwargs map[string]any) ([]reflect.Value, error) {
	n := ft.NumIn()
	variadic := ft.IsVariadic()
	fixed := n
	if variadic {
		fixed--
	}

	vals := make([]reflect.Value, 0, len(args)+1)
	for i, a := range args {
		var pt reflect.Type
		switch {
		case variadic && i >= fixed:
			pt = ft.In(n - 1).Elem()
		case i < fixed:
			pt = ft.In(i)
		default:
			return nil, rpcerr.New(rpcerr.UnsupportedOp, "too many arguments: want %d, got %d", fixed, len(args))
		}
		vals = append(vals, convertArg(a, pt))
	}

	if len(kwargs) > 0 && n > 0 && ft.In(n-1) == kwargsType {
		vals = append(vals, reflect.ValueOf(kwargs))
	}

	if len(vals) < fixed {
		return nil, rpcerr.New(rpcerr.UnsupportedOp, "too few arguments: want %d, got %d", fixed, len(vals))
	}
	return vals, nil
}

func convertArg(a any, pt reflect.Type) reflect.Value {
	if a == nil {
		return reflect.Zero(pt)
	}
	av := reflect.ValueOf(a)
	if av.Type().AssignableTo(pt) {
		return av
	}
	if av.Type().ConvertibleTo(pt) {
		return av.Convert(pt)
	}
	return av
}

func packResults(out []reflect.Value) (any, error) {
	if len(out) == 0 {
		return nil, nil
	}
	last := out[len(out)-1]
	if last.Type() == errorType {
		var err error
		if !last.IsNil() {
			err = last.Interface().(error)
		}
		return packValues(out[:len(out)-1]), err
	}
	return packValues(out), nil
}

func packValues(vals []reflect.Value) any {
	switch len(vals) {
	case 0:
		return nil
	case 1:
		return vals[0].Interface()
	default:
		out := make([]any, len(vals))
		for i, v := range vals {
			out[i] = v.Interface()
		}
		return out
	}
}

func setAttrValue(container reflect.Value, name string, value any) error {
	dv := deref(container)
	if !dv.IsValid() {
		return rpcerr.New(rpcerr.UnknownObject, "nil container for SETATTR %q", name)
	}
	switch dv.Kind() {
	case reflect.Struct:
		f := dv.FieldByName(name)
		if !f.IsValid() || !f.CanSet() {
			return rpcerr.New(rpcerr.UnsupportedOp, "no settable field %q on %s", name, dv.Type())
		}
		f.Set(convertArg(value, f.Type()))
		return nil
	case reflect.Map:
		if dv.IsNil() {
			return rpcerr.New(rpcerr.UnsupportedOp, "SETATTR on nil map")
		}
		dv.SetMapIndex(reflect.ValueOf(name), reflect.ValueOf(value))
		return nil
	}
	return rpcerr.New(rpcerr.UnsupportedOp, "SETATTR on %s", dv.Type())
}

func setItemValue(container reflect.Value, key, value any) error {
	dv := deref(container)
	switch dv.Kind() {
	case reflect.Slice, reflect.Array:
		idx, ok := toIntKey(key)
		if !ok || idx < 0 || idx >= dv.Len() {
			return rpcerr.New(rpcerr.UnsupportedOp, "SETITEM index %v out of range", key)
		}
		elem := dv.Index(idx)
		if !elem.CanSet() {
			return rpcerr.New(rpcerr.UnsupportedOp, "element not settable")
		}
		elem.Set(convertArg(value, elem.Type()))
		return nil
	case reflect.Map:
		if dv.IsNil() {
			return rpcerr.New(rpcerr.UnsupportedOp, "SETITEM on nil map")
		}
		dv.SetMapIndex(convertArg(key, dv.Type().Key()), convertArg(value, dv.Type().Elem()))
		return nil
	}
	return rpcerr.New(rpcerr.UnsupportedOp, "SETITEM on %s", dv.Type())
}

func delItemValue(container reflect.Value, key any) error {
	dv := deref(container)
	if dv.Kind() != reflect.Map {
		return rpcerr.New(rpcerr.UnsupportedOp, "DELITEM on %s", dv.Type())
	}
	dv.SetMapIndex(convertArg(key, dv.Type().Key()), reflect.Value{})
	return nil
}

func lenValue(v any) (int, error) {
	dv := deref(reflect.ValueOf(v))
	switch dv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String, reflect.Chan:
		return dv.Len(), nil
	}
	return 0, rpcerr.New(rpcerr.UnsupportedOp, "LEN on %T", v)
}

func cmpValue(v any, op rpcwire.CmpOp, other any) (bool, error) {
	if op == rpcwire.CmpEQ {
		return reflect.DeepEqual(v, other), nil
	}
	if op == rpcwire.CmpNE {
		return !reflect.DeepEqual(v, other), nil
	}
	if ord, ok := v.(objreg.Orderable); ok {
		lt := ord.Less(other)
		switch op {
		case rpcwire.CmpLT:
			return lt, nil
		case rpcwire.CmpGE:
			return !lt, nil
		}
	}
	return cmpOrdered(v, other, op)
}

func cmpOrdered(v, other any, op rpcwire.CmpOp) (bool, error) {
	if va, oka := numericValue(v); oka {
		if vb, okb := numericValue(other); okb {
			switch op {
			case rpcwire.CmpLT:
				return va < vb, nil
			case rpcwire.CmpLE:
				return va <= vb, nil
			case rpcwire.CmpGT:
				return va > vb, nil
			case rpcwire.CmpGE:
				return va >= vb, nil
			}
		}
	}
	if sa, oka := v.(string); oka {
		if sb, okb := other.(string); okb {
			switch op {
			case rpcwire.CmpLT:
				return sa < sb, nil
			case rpcwire.CmpLE:
				return sa <= sb, nil
			case rpcwire.CmpGT:
				return sa > sb, nil
			case rpcwire.CmpGE:
				return sa >= sb, nil
			}
		}
	}
	return false, rpcerr.New(rpcerr.UnsupportedOp, "CMP %v unsupported between %T and %T", op, v, other)
}

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func toIntKey(v any) (int, bool) {
	n, ok := numericValue(v)
	return int(n), ok
}

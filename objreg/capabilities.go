package objreg

import "reflect"

// Capabilities is the closed bitmap enumeration from spec §3: the set of
// polymorphic operations a target value responds to, computed once when
// the value is first registered so that a Proxy can be constructed on the
// caller side without a follow-up round trip (spec §4.4.1, §9).
type Capabilities uint16

const (
	CapCall Capabilities = 1 << iota
	CapGetItem
	CapSetItem
	CapIter
	CapLen
	CapCmpEQ
	CapCmpOrd
	CapGetAttr
	CapContext
	CapBuffer
)

func (c Capabilities) Has(f Capabilities) bool { return c&f != 0 }

// Buffer is the numeric-array buffer protocol hook for the codec plug-in
// described in spec §4.2. A value that implements it is eligible for the
// compact {dtype, shape, strides, bytes} wire form instead of by-reference
// proxying.
type Buffer interface {
	Dtype() string
	Shape() []int
	Strides() []int
	Bytes() []byte
}

// Orderable lets a value opt into CMP_ORD (<, <=, >, >=) beyond the
// natural ordering of Go's built-in numeric/string kinds.
type Orderable interface {
	Less(other any) bool
}

// ContextLike mirrors a Python context manager: Enter/Exit pair. Computed
// into CapContext; spec names CONTEXT as a capability but no opcode in the
// §4.4.1 table currently exercises it — it is carried for completeness and
// for callers that materialize the capability bitmap to decide locally
// whether an operation is worth attempting.
type ContextLike interface {
	Enter() error
	Exit() error
}

// computeCapabilities inspects v via reflection (and a handful of opt-in
// interfaces) to build its capability bitmap. This is the Go analogue of
// teleprox's `ObjectProxy._reflect_obj`-style introspection: done once per
// registration, never per-operation.
func computeCapabilities(v any) Capabilities {
	var caps Capabilities
	if v == nil {
		return caps
	}
	rv := reflect.ValueOf(v)
	rt := rv.Type()
	kind := rt.Kind()
	if kind == reflect.Ptr {
		kind = rt.Elem().Kind()
	}

	switch kind {
	case reflect.Func:
		caps |= CapCall
	case reflect.Struct:
		caps |= CapGetAttr
	}
	if rt.NumMethod() > 0 {
		caps |= CapGetAttr
	}

	switch kind {
	case reflect.Map:
		caps |= CapGetItem | CapSetItem | CapLen | CapIter
	case reflect.Slice, reflect.Array:
		caps |= CapGetItem | CapSetItem | CapLen | CapIter
	case reflect.String:
		caps |= CapGetItem | CapLen
	case reflect.Chan:
		caps |= CapLen | CapIter
	}

	if rt.Comparable() {
		caps |= CapCmpEQ
	}
	switch kind {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.String:
		caps |= CapCmpOrd
	}
	if _, ok := v.(Orderable); ok {
		caps |= CapCmpOrd
	}
	if _, ok := v.(ContextLike); ok {
		caps |= CapContext
	}
	if _, ok := v.(Buffer); ok {
		caps |= CapBuffer
	}
	return caps
}

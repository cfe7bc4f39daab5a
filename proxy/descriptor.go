// Package proxy implements the client-side Proxy handle (ObjectProxy) and
// its wire identity (ProxyDescriptor) from spec §3, §4.6.
package proxy

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/teleprox/objrpc/objreg"
)

// PathElem is one step of a lazily-composed attribute/item chain
// (spec §4.6): either a named attribute or an integer index. Exactly one
// of the two is meaningful, selected by IsIndex.
type PathElem struct {
	Name    string `msgpack:"name,omitempty" json:"name,omitempty"`
	Index   int    `msgpack:"index,omitempty" json:"index,omitempty"`
	IsIndex bool   `msgpack:"is_index,omitempty" json:"is_index,omitempty"`
}

func Attr(name string) PathElem     { return PathElem{Name: name} }
func Item(index int) PathElem       { return PathElem{Index: index, IsIndex: true} }

func (p PathElem) String() string {
	if p.IsIndex {
		return "[" + strconv.Itoa(p.Index) + "]"
	}
	return "." + p.Name
}

// Descriptor is the wire-serializable identity of a remote value (spec
// §3 ProxyDescriptor). Two descriptors denote the same live object iff
// their (ServerAddress, ObjectID, Attrs) are equal (spec §3 invariant 2).
type Descriptor struct {
	ServerAddress string              `msgpack:"addr" json:"addr"`
	ObjectID      uint64              `msgpack:"id" json:"id"`
	TypeName      string              `msgpack:"type" json:"type"`
	Caps          objreg.Capabilities `msgpack:"caps" json:"caps"`
	Attrs         []PathElem          `msgpack:"attrs,omitempty" json:"attrs,omitempty"`
}

// Key returns the ProxyTable lookup key for this descriptor, per spec
// §4.6 ("(server_address, object_id, attributes_path) as key").
func (d Descriptor) Key() string {
	var b strings.Builder
	b.WriteString(d.ServerAddress)
	b.WriteByte('#')
	b.WriteString(strconv.FormatUint(d.ObjectID, 10))
	for _, p := range d.Attrs {
		b.WriteString(p.String())
	}
	return b.String()
}

// WithAttr returns a new descriptor with elem appended to Attrs. The base
// identity (ServerAddress, ObjectID) is unchanged — this never talks to
// the network (spec §4.6: "does not round-trip").
func (d Descriptor) WithAttr(elem PathElem) Descriptor {
	next := d
	next.Attrs = append(append([]PathElem{}, d.Attrs...), elem)
	return next
}

func (d Descriptor) String() string {
	return fmt.Sprintf("<Proxy %s %s>", d.TypeName, d.Key())
}

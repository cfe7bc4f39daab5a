package server

import (
	"fmt"
	"reflect"
	"time"

	"github.com/teleprox/objrpc/objreg"
	"github.com/teleprox/objrpc/proxy"
	"github.com/teleprox/objrpc/rpcerr"
	"github.com/teleprox/objrpc/rpcwire"
)

// dispatch.go implements the opcode table from spec §4.4.1 on top of
// reflectops.go's reflection helpers and the per-Server ObjectRegistry.
// Target 0 is reserved for the Server itself (spec §3) and is handled
// separately by builtins.go.
//
// Attrs conventions, mirrored from proxy.Proxy's terminal methods:
//   - CALL/GETATTR/GETITEM/SETITEM/DELITEM/CMP/LEN operate on the value
//     reached by walking the full Attrs chain off the target object.
//   - SETATTR's Attrs chain has the attribute-to-set appended as its
//     last element (proxy.Proxy.SetAttr does this locally before the
//     request is built), so dispatch resolves everything but the last
//     element as the container and uses the last element's Name.

func fromWireAttrs(attrs []rpcwire.PathElem) []proxy.PathElem {
	if len(attrs) == 0 {
		return nil
	}
	out := make([]proxy.PathElem, len(attrs))
	for i, a := range attrs {
		out[i] = proxy.PathElem{Name: a.Name, Index: a.Index, IsIndex: a.IsIndex}
	}
	return out
}

// dispatch resolves req.Target through the registry and executes req.Op
// against it. peer identifies the dispatching connection for refcount
// attribution (RELEASE).
func (s *Server) dispatch(peer objreg.PeerID, req *rpcwire.Frame) *rpcwire.Frame {
	if req.Target == 0 {
		return s.dispatchBuiltin(peer, req)
	}

	entry, ok := s.registry.Get(req.Target)
	if !ok {
		return errFrame(req, rpcerr.UnknownObject, fmt.Sprintf("no object %d", req.Target))
	}

	if req.Op == rpcwire.OpGetID {
		return replyValue(req, entry.ID)
	}
	if req.Op == rpcwire.OpRelease {
		s.registry.Decref(entry.ID, peer, releaseCount(req))
		return replyValue(req, nil)
	}

	attrs := fromWireAttrs(req.Attrs)

	if req.Op == rpcwire.OpSetAttr {
		return s.dispatchSetAttr(req, entry.Value, attrs)
	}

	target, err := resolvePathToAny(entry.Value, attrs)
	if err != nil {
		return errFrame(req, rpcerr.UnknownObject, err.Error())
	}

	switch req.Op {
	case rpcwire.OpCall:
		return s.dispatchCall(req, target)
	case rpcwire.OpGetAttr:
		return s.replyReturning(req, target)
	case rpcwire.OpGetItem:
		return s.dispatchGetItem(req, target)
	case rpcwire.OpSetItem:
		return s.dispatchSetItem(req, target)
	case rpcwire.OpDelItem:
		return s.dispatchDelItem(req, target)
	case rpcwire.OpCmp:
		return s.dispatchCmp(req, target)
	case rpcwire.OpLen:
		return s.dispatchLen(req, target)
	default:
		return errFrame(req, rpcerr.UnsupportedOp, fmt.Sprintf("opcode %s not valid on target %d", req.Op, req.Target))
	}
}

func resolvePathToAny(root any, attrs []proxy.PathElem) (any, error) {
	if len(attrs) == 0 {
		return root, nil
	}
	rv, err := resolvePath(root, attrs)
	if err != nil {
		return nil, err
	}
	if !rv.IsValid() {
		return nil, nil
	}
	return rv.Interface(), nil
}

func releaseCount(req *rpcwire.Frame) int {
	if len(req.Args) > 0 {
		if n, ok := numericValue(req.Args[0]); ok {
			return int(n)
		}
	}
	return 1
}

func (s *Server) dispatchCall(req *rpcwire.Frame, target any) *rpcwire.Frame {
	result, err := callValue(target, req.Args, req.Kwargs)
	if err != nil {
		return s.errOrRemote(req, err)
	}
	return s.replyReturning(req, result)
}

func (s *Server) dispatchSetAttr(req *rpcwire.Frame, root any, attrs []proxy.PathElem) *rpcwire.Frame {
	if len(attrs) == 0 {
		return errFrame(req, rpcerr.UnsupportedOp, "SETATTR requires an attribute name")
	}
	if len(req.Args) != 1 {
		return errFrame(req, rpcerr.UnsupportedOp, "SETATTR requires one value argument")
	}
	last := attrs[len(attrs)-1]
	containerVal, err := resolvePath(root, attrs[:len(attrs)-1])
	if err != nil {
		return errFrame(req, rpcerr.UnknownObject, err.Error())
	}
	if err := setAttrValue(containerVal, last.Name, req.Args[0]); err != nil {
		return errFrame(req, rpcerr.UnsupportedOp, err.Error())
	}
	return replyValue(req, nil)
}

func (s *Server) dispatchGetItem(req *rpcwire.Frame, target any) *rpcwire.Frame {
	if len(req.Args) != 1 {
		return errFrame(req, rpcerr.UnsupportedOp, "GETITEM requires one key argument")
	}
	v, err := getItemValue(reflect.ValueOf(target), req.Args[0])
	if err != nil {
		return s.errOrRemote(req, err)
	}
	return s.replyReturning(req, v)
}

func (s *Server) dispatchSetItem(req *rpcwire.Frame, target any) *rpcwire.Frame {
	if len(req.Args) != 2 {
		return errFrame(req, rpcerr.UnsupportedOp, "SETITEM requires key and value arguments")
	}
	if err := setItemValue(reflect.ValueOf(target), req.Args[0], req.Args[1]); err != nil {
		return errFrame(req, rpcerr.UnsupportedOp, err.Error())
	}
	return replyValue(req, nil)
}

func (s *Server) dispatchDelItem(req *rpcwire.Frame, target any) *rpcwire.Frame {
	if len(req.Args) != 1 {
		return errFrame(req, rpcerr.UnsupportedOp, "DELITEM requires one key argument")
	}
	if err := delItemValue(reflect.ValueOf(target), req.Args[0]); err != nil {
		return errFrame(req, rpcerr.UnsupportedOp, err.Error())
	}
	return replyValue(req, nil)
}

func (s *Server) dispatchCmp(req *rpcwire.Frame, target any) *rpcwire.Frame {
	if len(req.Args) != 1 {
		return errFrame(req, rpcerr.UnsupportedOp, "CMP requires one argument")
	}
	result, err := cmpValue(target, req.CmpOp, req.Args[0])
	if err != nil {
		return s.errOrRemote(req, err)
	}
	return replyValue(req, result)
}

func (s *Server) dispatchLen(req *rpcwire.Frame, target any) *rpcwire.Frame {
	n, err := lenValue(target)
	if err != nil {
		return s.errOrRemote(req, err)
	}
	return replyValue(req, n)
}

// replyReturning hands back the raw result; req.ReturnMode is not
// applied. The reply is encoded with the EncodeOptions the connection's
// PeerConn was built with (ReturnAuto), so a result the codec cannot copy
// by value is published by reference and everything else is copied,
// whatever the request asked for.
func (s *Server) replyReturning(req *rpcwire.Frame, result any) *rpcwire.Frame {
	return replyValue(req, result)
}

func replyValue(req *rpcwire.Frame, v any) *rpcwire.Frame {
	return &rpcwire.Frame{Kind: rpcwire.KindReply, ID: req.ID, Payload: v}
}

func errFrame(req *rpcwire.Frame, kind rpcerr.Kind, msg string) *rpcwire.Frame {
	return &rpcwire.Frame{Kind: rpcwire.KindReply, ID: req.ID, Status: string(kind), Payload: msg}
}

// errOrRemote turns an error returned by a target method into a
// REMOTE_RAISED reply carrying a structured rpcerr.Remote record (spec
// §7), unless it is already one of this module's own wire-stable
// *rpcerr.Error kinds, in which case that kind rides through unchanged.
func (s *Server) errOrRemote(req *rpcwire.Frame, err error) *rpcwire.Frame {
	if rerr, ok := err.(*rpcerr.Error); ok {
		if rerr.Remote != nil {
			return &rpcwire.Frame{Kind: rpcwire.KindReply, ID: req.ID, Status: string(rpcerr.RemoteRaised), Payload: rerr.Remote.ToMap()}
		}
		return errFrame(req, rerr.Kind, rerr.Error())
	}
	remote := &rpcerr.Remote{TypeName: fmt.Sprintf("%T", err), Message: err.Error()}
	return &rpcwire.Frame{Kind: rpcwire.KindReply, ID: req.ID, Status: string(rpcerr.RemoteRaised), Payload: remote.ToMap()}
}

// recoverDispatch converts a panicking target method into a REMOTE_RAISED
// reply instead of tearing down the connection (spec §10.2), installed
// with defer around every dispatch call in server.go.
func recoverDispatch(req *rpcwire.Frame, reply **rpcwire.Frame) {
	if r := recover(); r != nil {
		remote := &rpcerr.Remote{TypeName: "panic", Message: fmt.Sprint(r)}
		*reply = &rpcwire.Frame{Kind: rpcwire.KindReply, ID: req.ID, Status: string(rpcerr.RemoteRaised), Payload: remote.ToMap()}
	}
}

func pingReply(req *rpcwire.Frame) *rpcwire.Frame {
	now := time.Now().UnixNano()
	return replyValue(req, map[string]any{"recv": now, "send": time.Now().UnixNano()})
}

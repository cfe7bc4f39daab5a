package server

import (
	"fmt"

	"github.com/teleprox/objrpc/objreg"
	"github.com/teleprox/objrpc/rpcerr"
	"github.com/teleprox/objrpc/rpcwire"
)

// builtins.go implements the target-0 opcode set recovered from
// teleprox.server.RPCServer.process_action (SPEC_FULL §12 item 1):
// IMPORT resolves a name in the server's name→object namespace and
// returns it by value or by proxy; GETITEM/SETITEM on target 0 read and
// write that same namespace directly; PING answers a clock-offset probe;
// CLOSE tears down the calling connection.

func (s *Server) dispatchBuiltin(peer objreg.PeerID, req *rpcwire.Frame) *rpcwire.Frame {
	switch req.Op {
	case rpcwire.OpImport:
		return s.dispatchImport(req)
	case rpcwire.OpGetItem:
		return s.dispatchNamespaceGet(req)
	case rpcwire.OpSetItem:
		return s.dispatchNamespaceSet(req)
	case rpcwire.OpPing:
		return pingReply(req)
	case rpcwire.OpClose:
		return s.dispatchClose(peer, req)
	default:
		return errFrame(req, rpcerr.UnsupportedOp, fmt.Sprintf("opcode %s not valid on target 0", req.Op))
	}
}

func (s *Server) dispatchImport(req *rpcwire.Frame) *rpcwire.Frame {
	if len(req.Args) != 1 {
		return errFrame(req, rpcerr.UnsupportedOp, "IMPORT requires one name argument")
	}
	name, _ := req.Args[0].(string)
	v, ok := s.lookupNamespace(name)
	if !ok {
		return errFrame(req, rpcerr.UnknownObject, fmt.Sprintf("no object named %q", name))
	}
	return replyValue(req, v)
}

func (s *Server) dispatchNamespaceGet(req *rpcwire.Frame) *rpcwire.Frame {
	if len(req.Args) != 1 {
		return errFrame(req, rpcerr.UnsupportedOp, "GETITEM on the root namespace requires one name argument")
	}
	name, _ := req.Args[0].(string)
	v, ok := s.lookupNamespace(name)
	if !ok {
		return errFrame(req, rpcerr.UnknownObject, fmt.Sprintf("no object named %q", name))
	}
	return replyValue(req, v)
}

func (s *Server) dispatchNamespaceSet(req *rpcwire.Frame) *rpcwire.Frame {
	if len(req.Args) != 2 {
		return errFrame(req, rpcerr.UnsupportedOp, "SETITEM on the root namespace requires name and value arguments")
	}
	name, _ := req.Args[0].(string)
	s.Register(name, req.Args[1])
	return replyValue(req, nil)
}

func (s *Server) dispatchClose(peer objreg.PeerID, req *rpcwire.Frame) *rpcwire.Frame {
	s.closePeer(peer)
	return replyValue(req, nil)
}

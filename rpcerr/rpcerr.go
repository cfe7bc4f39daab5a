// Package rpcerr defines the wire-stable error vocabulary shared by every
// peer in the RPC engine (see spec §7). Error kinds travel on the wire as
// plain strings so that peers running different builds of this module can
// still recognize them.
package rpcerr

import "fmt"

// Kind is one of the wire-stable error names from §7.
type Kind string

const (
	UnknownObject  Kind = "UNKNOWN_OBJECT"
	UnsupportedOp  Kind = "UNSUPPORTED_OP"
	RemoteRaised   Kind = "REMOTE_RAISED"
	Unserializable Kind = "UNSERIALIZABLE"
	Timeout        Kind = "TIMEOUT"
	Cancelled      Kind = "CANCELLED"
	ConnectionLost Kind = "CONNECTION_LOST"
	ShuttingDown   Kind = "SHUTTING_DOWN"
	NoLocalServer  Kind = "NO_LOCAL_SERVER"
	BootstrapFailed Kind = "BOOTSTRAP_FAILED"
	Closed         Kind = "CLOSED"

	// Throttled is a server-side addition beyond spec §7's table: a peer
	// that exceeds its per-connection opcode rate is rejected with this
	// kind rather than silently queued (SPEC_FULL §11, golang.org/x/time/
	// rate wiring).
	Throttled Kind = "THROTTLED"
)

// Remote captures a target-side failure as a structured record, mirroring
// teleprox's RPCServer._send_error: the type name, message, the stack where
// the exception was caught on the remote side, the original traceback, and
// any cause/context chain. This lets a caller present useful diagnostics
// without holding a reference into the remote process.
type Remote struct {
	TypeName     string   `msgpack:"type_name" json:"type_name"`
	Message      string   `msgpack:"message" json:"message"`
	StackInfo    string   `msgpack:"stack_info" json:"stack_info"`
	ExcTraceback string   `msgpack:"exc_traceback" json:"exc_traceback"`
	Chain        []string `msgpack:"chain" json:"chain"`
}

func (r *Remote) Error() string {
	if r == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", r.TypeName, r.Message)
}

// ToMap/RemoteFromMap carry a Remote across the wire as a plain
// map[string]any, the same shape teleprox's _send_error ships back as a
// dict — this lets it ride the generic map[string]any leg of the value
// walker in codec/value.go instead of needing its own extension type.
func (r *Remote) ToMap() map[string]any {
	chain := make([]any, len(r.Chain))
	for i, s := range r.Chain {
		chain[i] = s
	}
	return map[string]any{
		"type_name":     r.TypeName,
		"message":       r.Message,
		"stack_info":    r.StackInfo,
		"exc_traceback": r.ExcTraceback,
		"chain":         chain,
	}
}

func RemoteFromMap(m map[string]any) *Remote {
	r := &Remote{}
	if s, ok := m["type_name"].(string); ok {
		r.TypeName = s
	}
	if s, ok := m["message"].(string); ok {
		r.Message = s
	}
	if s, ok := m["stack_info"].(string); ok {
		r.StackInfo = s
	}
	if s, ok := m["exc_traceback"].(string); ok {
		r.ExcTraceback = s
	}
	if chain, ok := m["chain"].([]any); ok {
		for _, c := range chain {
			if s, ok := c.(string); ok {
				r.Chain = append(r.Chain, s)
			}
		}
	}
	return r
}

// Error is the error type returned by every blocking Client/Server-facing
// operation in this module. Kind is always set; Remote is set only when
// Kind == RemoteRaised.
type Error struct {
	Kind   Kind
	Remote *Remote
	msg    string
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, msg: err.Error()}
}

func FromRemote(r *Remote) *Error {
	return &Error{Kind: RemoteRaised, Remote: r, msg: r.Error()}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Remote != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Remote.Error())
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

// IsKind reports whether err is an *Error of the given kind. It does not
// unwrap: an *Error wrapped inside another error is not matched.
func IsKind(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e != nil && e.Kind == kind
}

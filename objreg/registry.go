// Package objreg implements the per-Server ObjectRegistry from spec §3 and
// §4.3: a table mapping numeric object IDs to owned values, with refcount
// bookkeeping attributed per peer so that a peer's disconnect can release
// its contribution atomically (spec §4.3, §5 "Shared resources").
package objreg

import (
	"reflect"
	"sync"
)

// PeerID identifies the remote Client holding a reference, for the
// purposes of refcount attribution. In practice this is the peer's
// connection identity (see transport.PeerConn.ID()).
type PeerID string

// Entry is the server-side ObjectEntry from spec §3: value, refcount,
// type name, and precomputed capabilities.
type Entry struct {
	ID       uint64
	Value    any
	TypeName string
	Caps     Capabilities

	mu         sync.Mutex
	refsByPeer map[PeerID]int
	total      int
}

// Refcount returns the current total refcount (sum over all peers).
func (e *Entry) Refcount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.total
}

// Registry is the ObjectRegistry: it owns values by reference, assigns
// monotonic non-zero object IDs (0 is reserved for "the Server itself",
// spec §3), and never reuses a retired ID within its lifetime.
type Registry struct {
	mu      sync.Mutex
	nextID  uint64
	entries map[uint64]*Entry

	// identityIndex maps a value's reference identity to the object ID
	// that already owns it, making Own idempotent by identity (spec §4.3
	// "own is idempotent by value identity"). Only reference-kind values
	// (pointer, map, chan, func, non-nil slice) have a stable identity in
	// Go; plain value types (structs-by-value, numbers, strings) have no
	// analogue of CPython's id() and so always mint a fresh entry. This is
	// a deliberate narrowing of the Python original's identity semantics.
	identityIndex map[uintptr]uint64
}

func New() *Registry {
	return &Registry{
		nextID:        1,
		entries:       make(map[uint64]*Entry),
		identityIndex: make(map[uintptr]uint64),
	}
}

// identityKey returns (key, ok): ok is false when v has no stable
// reference identity in Go.
func identityKey(v any) (uintptr, bool) {
	if v == nil {
		return 0, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Chan, reflect.Func:
		if rv.IsNil() {
			return 0, false
		}
		return rv.Pointer(), true
	case reflect.Slice:
		if rv.IsNil() || rv.Len() == 0 {
			return 0, false
		}
		return rv.Pointer(), true
	default:
		return 0, false
	}
}

// Own registers v as owned-by-reference on behalf of peer, returning its
// object ID. If v is already owned (by identity), the existing entry's
// refcount is bumped for peer instead of minting a new ID.
func (r *Registry) Own(v any, peer PeerID) *Entry {
	key, hasIdentity := identityKey(v)

	r.mu.Lock()
	if hasIdentity {
		if id, ok := r.identityIndex[key]; ok {
			e := r.entries[id]
			r.mu.Unlock()
			e.incref(peer, 1)
			return e
		}
	}
	id := r.nextID
	r.nextID++
	e := &Entry{
		ID:         id,
		Value:      v,
		TypeName:   reflect.TypeOf(v).String(),
		Caps:       computeCapabilities(v),
		refsByPeer: make(map[PeerID]int),
	}
	r.entries[id] = e
	if hasIdentity {
		r.identityIndex[key] = id
	}
	r.mu.Unlock()

	e.incref(peer, 1)
	return e
}

// Get looks up the live entry for id, or (nil, false) if it has been
// released already (spec §7 UNKNOWN_OBJECT).
func (r *Registry) Get(id uint64) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return e, ok
}

func (e *Entry) incref(peer PeerID, n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refsByPeer[peer] += n
	e.total += n
}

// Incref bumps id's refcount attributed to peer by n.
func (r *Registry) Incref(id uint64, peer PeerID, n int) bool {
	e, ok := r.Get(id)
	if !ok {
		return false
	}
	e.incref(peer, n)
	return true
}

// Decref drops n references attributed to peer from id. When the total
// refcount reaches zero the entry is retired: the underlying value is
// released and the ID is never reused (spec §3 invariant 1).
func (r *Registry) Decref(id uint64, peer PeerID, n int) (released bool) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	r.mu.Unlock()

	e.mu.Lock()
	e.refsByPeer[peer] -= n
	if e.refsByPeer[peer] <= 0 {
		delete(e.refsByPeer, peer)
	}
	e.total -= n
	zero := e.total <= 0
	e.mu.Unlock()

	if zero {
		r.retire(id, e.Value)
		return true
	}
	return false
}

func (r *Registry) retire(id uint64, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
	if key, ok := identityKey(value); ok {
		if cur, ok := r.identityIndex[key]; ok && cur == id {
			delete(r.identityIndex, key)
		}
	}
}

// ReleaseAllFrom drops every reference peer holds across the whole
// registry, as happens atomically on peer disconnect (spec §4.3). It
// returns the IDs that were fully retired as a result.
func (r *Registry) ReleaseAllFrom(peer PeerID) []uint64 {
	r.mu.Lock()
	var targets []*Entry
	for _, e := range r.entries {
		targets = append(targets, e)
	}
	r.mu.Unlock()

	var retired []uint64
	for _, e := range targets {
		e.mu.Lock()
		n, held := e.refsByPeer[peer]
		e.mu.Unlock()
		if !held {
			continue
		}
		if r.Decref(e.ID, peer, n) {
			retired = append(retired, e.ID)
		}
	}
	return retired
}

// Len reports the number of live entries (for tests/diagnostics).
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

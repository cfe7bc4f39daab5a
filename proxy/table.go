package proxy

import (
	"sync"
	"weak"
)

// Table is the per-Client ProxyTable from spec §4.6: a weak cache of live
// proxies keyed by (server address, object ID, attribute path) so that
// decoding two descriptors denoting the same live object returns the same
// handle (spec §3 invariant 2, testable property 4) for as long as any
// holder keeps one alive. Entries are weak.Pointer so a Proxy that is no
// longer referenced anywhere else is free to be collected — the table
// itself never keeps it alive.
type Table struct {
	mu      sync.Mutex
	entries map[string]weak.Pointer[Proxy]
}

func NewTable() *Table {
	return &Table{entries: make(map[string]weak.Pointer[Proxy])}
}

// GetOrCreate returns the existing live proxy for d if one exists,
// otherwise constructs a new one via invoker and caches it weakly.
func (t *Table) GetOrCreate(d Descriptor, invoker Invoker) *Proxy {
	key := d.Key()

	t.mu.Lock()
	if wp, ok := t.entries[key]; ok {
		if p := wp.Value(); p != nil {
			t.mu.Unlock()
			return p
		}
	}
	t.mu.Unlock()

	p := New(d, invoker)

	t.mu.Lock()
	t.entries[key] = weak.Make(p)
	t.mu.Unlock()

	return p
}

// Len reports the number of table entries whose proxy is still alive
// (diagnostics/tests only — dead entries are lazily pruned on lookup, not
// eagerly counted out).
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, wp := range t.entries {
		if wp.Value() != nil {
			n++
		}
	}
	return n
}

package frsw

import (
	"cmp"
	"maps"
	"slices"

	"github.com/frobware/go-hvman"
)

// CircuitTable maps an ingress (port, DLCI) to its egress. Entries are
// unidirectional. It is not safe for concurrent use; Switch guards it.
type CircuitTable struct {
	m map[hvman.Endpoint]hvman.Endpoint
}

// NewCircuitTable returns an empty table.
func NewCircuitTable() *CircuitTable {
	return &CircuitTable{m: make(map[hvman.Endpoint]hvman.Endpoint)}
}

// Put inserts c, replacing any entry for the same ingress key. It
// returns the replaced egress, if any.
func (t *CircuitTable) Put(c hvman.Circuit) (prev hvman.Endpoint, replaced bool) {
	prev, replaced = t.m[c.In]
	t.m[c.In] = c.Out
	return prev, replaced
}

// Remove deletes the entry for in.
func (t *CircuitTable) Remove(in hvman.Endpoint) (hvman.Endpoint, bool) {
	out, ok := t.m[in]
	if ok {
		delete(t.m, in)
	}
	return out, ok
}

// Lookup returns the egress for in.
func (t *CircuitTable) Lookup(in hvman.Endpoint) (hvman.Endpoint, bool) {
	out, ok := t.m[in]
	return out, ok
}

func (t *CircuitTable) Len() int { return len(t.m) }

// All returns every circuit ordered by ingress port then DLCI.
func (t *CircuitTable) All() []hvman.Circuit {
	keys := slices.SortedFunc(maps.Keys(t.m), func(a, b hvman.Endpoint) int {
		return cmp.Or(cmp.Compare(a.Port, b.Port), cmp.Compare(a.DLCI, b.DLCI))
	})
	out := make([]hvman.Circuit, len(keys))
	for i, k := range keys {
		out[i] = hvman.Circuit{In: k, Out: t.m[k]}
	}
	return out
}

// Clear removes every entry.
func (t *CircuitTable) Clear() {
	clear(t.m)
}

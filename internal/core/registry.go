package core

import (
	"sort"
	"sync"
)

// Registry owns the set of live connections and the identity map. All
// access goes through its methods; callers never iterate the live set
// themselves.
//
// Invariant: every identity map entry points at a connection present in
// the live set.
type Registry struct {
	mu         sync.Mutex
	conns      map[*Conn]string // live set; value is the bound identity, "" if none
	byIdentity map[string]*Conn
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:      make(map[*Conn]string),
		byIdentity: make(map[string]*Conn),
	}
}

// Add inserts a connection into the live set with no identity.
func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[c]; !exists {
		r.conns[c] = ""
	}
}

// Register binds an identity to a connection, last writer wins. A
// connection previously bound to the same identity stays in the live set
// but becomes unaddressable by identity. Returns the other currently
// registered identities, sorted, for backfill.
func (r *Registry) Register(c *Conn, identity string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[c]; !exists {
		r.conns[c] = ""
	}

	// Drop this connection's previous binding if it re-registers.
	if prev := r.conns[c]; prev != "" && prev != identity && r.byIdentity[prev] == c {
		delete(r.byIdentity, prev)
	}

	// The displaced connection keeps receiving broadcasts; only the
	// identity lookup moves.
	if displaced, ok := r.byIdentity[identity]; ok && displaced != c {
		r.conns[displaced] = ""
	}

	r.conns[c] = identity
	r.byIdentity[identity] = c

	others := make([]string, 0, len(r.byIdentity)-1)
	for id := range r.byIdentity {
		if id != identity {
			others = append(others, id)
		}
	}
	sort.Strings(others)
	return others
}

// Remove drops a connection from the live set. The identity mapping is
// removed only if it still points at this connection; the freed identity,
// if any, is returned.
func (r *Registry) Remove(c *Conn) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, exists := r.conns[c]
	if !exists {
		return "", false
	}
	delete(r.conns, c)
	c.MarkClosed()

	if identity != "" && r.byIdentity[identity] == c {
		delete(r.byIdentity, identity)
		return identity, true
	}
	return "", false
}

// Broadcast enqueues a frame on every live connection except exclude.
// Unwritable recipients are skipped silently.
func (r *Registry) Broadcast(payload []byte, exclude *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for c := range r.conns {
		if c == exclude {
			continue
		}
		c.TrySend(payload)
	}
}

// SendTo delivers a frame to the connection bound to identity. Reports
// whether a writable recipient was found; "no recipient" is a no-op for
// the caller, not an error.
func (r *Registry) SendTo(identity string, payload []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byIdentity[identity]
	if !ok {
		return false
	}
	return c.TrySend(payload)
}

// OtherIdentity returns the single registered identity that is not the
// argument. Two-party addressing for read receipts; with several other
// identities registered the pick is the lexicographically first one.
func (r *Registry) OtherIdentity(identity string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	other := ""
	for id := range r.byIdentity {
		if id == identity {
			continue
		}
		if other == "" || id < other {
			other = id
		}
	}
	return other, other != ""
}

// Identities returns the sorted registered identity set.
func (r *Registry) Identities() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.byIdentity))
	for id := range r.byIdentity {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LiveCount returns the number of live connections.
func (r *Registry) LiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// RegisteredCount returns the number of bound identities.
func (r *Registry) RegisteredCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byIdentity)
}

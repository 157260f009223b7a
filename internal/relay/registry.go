package relay

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Tyrowin/gorelay/internal/address"
)

// ConnID identifies one transport session.
type ConnID string

// IdentityKind records how a connection proved (or claimed) its address.
type IdentityKind string

const (
	KindGuest         IdentityKind = "GUEST"
	KindEVM           IdentityKind = "EVM"
	KindSubstrate     IdentityKind = "SUBSTRATE"
	KindWalletGeneric IdentityKind = "WALLET_GENERIC"
)

// ParseIdentityKind maps a client-supplied type string onto a kind. Unknown
// or empty strings fall back to KindWalletGeneric.
func ParseIdentityKind(s string) IdentityKind {
	switch IdentityKind(strings.ToUpper(strings.TrimSpace(s))) {
	case KindGuest:
		return KindGuest
	case KindEVM:
		return KindEVM
	case KindSubstrate:
		return KindSubstrate
	}
	return KindWalletGeneric
}

// Binding is a connection's bound identity.
type Binding struct {
	ConnID ConnID
	// Address is the normalized key the connection is indexed under.
	Address string
	// Supplied is the address exactly as the client sent it.
	Supplied string
	Kind     IdentityKind
	BoundAt  time.Time
}

type addressEntry struct {
	conns map[ConnID]struct{}
	// seq orders presence output by when the address came online.
	seq uint64
}

// Registry maps normalized addresses to their live connections and each
// connection back to its binding. All operations are serialized by one
// mutex, so a reader never sees a half-applied bind.
type Registry struct {
	mu        sync.RWMutex
	byAddress map[string]*addressEntry
	byConn    map[ConnID]Binding
	nextSeq   uint64
	now       func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byAddress: make(map[string]*addressEntry),
		byConn:    make(map[ConnID]Binding),
		now:       time.Now,
	}
}

// Bind associates id with addr, replacing any previous binding for id. When
// the connection was bound to a different address before, it is removed from
// that address's set, and the set is deleted if it becomes empty. The
// previous normalized key is returned ("" if there was none).
func (r *Registry) Bind(id ConnID, addr string, kind IdentityKind) (Binding, string) {
	key := address.Normalize(addr)

	r.mu.Lock()
	defer r.mu.Unlock()

	var previous string
	if old, ok := r.byConn[id]; ok {
		previous = old.Address
		if old.Address != key {
			r.detachLocked(id, old.Address)
		}
	}

	entry, ok := r.byAddress[key]
	if !ok {
		r.nextSeq++
		entry = &addressEntry{conns: make(map[ConnID]struct{}), seq: r.nextSeq}
		r.byAddress[key] = entry
	}
	entry.conns[id] = struct{}{}

	b := Binding{
		ConnID:   id,
		Address:  key,
		Supplied: addr,
		Kind:     kind,
		BoundAt:  r.now(),
	}
	r.byConn[id] = b
	return b, previous
}

// Unbind removes id from the registry. It reports false when id was not
// bound, which makes repeated calls harmless.
func (r *Registry) Unbind(id ConnID) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.byConn[id]
	if !ok {
		return Binding{}, false
	}
	delete(r.byConn, id)
	r.detachLocked(id, b.Address)
	return b, true
}

func (r *Registry) detachLocked(id ConnID, key string) {
	entry, ok := r.byAddress[key]
	if !ok {
		return
	}
	delete(entry.conns, id)
	if len(entry.conns) == 0 {
		delete(r.byAddress, key)
	}
}

// Lookup returns the binding for id.
func (r *Registry) Lookup(id ConnID) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.byConn[id]
	return b, ok
}

// ConnectionsFor returns the connections bound to addr, sorted for stable
// delivery order. The result is a copy and may be empty.
func (r *Registry) ConnectionsFor(addr string) []ConnID {
	key := address.Normalize(addr)

	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.byAddress[key]
	if !ok {
		return nil
	}
	ids := make([]ConnID, 0, len(entry.conns))
	for id := range entry.conns {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// DistinctAddresses returns one entry per bound address, in the order the
// addresses came online.
func (r *Registry) DistinctAddresses() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.byAddress))
	for key := range r.byAddress {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return r.byAddress[keys[i]].seq < r.byAddress[keys[j]].seq
	})
	return keys
}

// Len returns the number of bound connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

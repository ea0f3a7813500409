// Package roster maintains the contact roster and per-contact presence
// flags for the active session. Membership changes and status changes
// arrive on independent channels (REST snapshot, presence push, addFriend
// push) in no guaranteed order, so every operation here is idempotent and
// commutative with respect to that interleaving: a contact's online flag
// always reflects the most recently applied presence event, and a stale
// bulk snapshot can never drop a contact that was added via another path.
package roster

import (
	"sort"
	"sync"

	"github.com/mernchat/chat-client/internal/metrics"
	"github.com/mernchat/chat-client/internal/protocol"
)

// Tracker is the authoritative contact roster. It is goroutine-safe;
// mutation normally happens on the session event loop while the view
// reads snapshots concurrently.
type Tracker struct {
	selfID string

	mu       sync.RWMutex
	contacts map[string]*protocol.Contact
}

// NewTracker creates an empty roster for the given authenticated user.
// The user's own id is never inserted as a contact.
func NewTracker(selfID string) *Tracker {
	return &Tracker{
		selfID:   selfID,
		contacts: make(map[string]*protocol.Contact),
	}
}

// LoadBase replaces the roster wholesale with the REST-sourced contact
// list. Online flags already known for ids present in both the old and
// new sets are preserved; a fresh base snapshot must not reset a contact
// to offline just because it arrived.
func (t *Tracker) LoadBase(contacts []protocol.Contact) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := make(map[string]*protocol.Contact, len(contacts))
	for _, c := range contacts {
		if c.ID == "" || c.ID == t.selfID {
			continue
		}
		nc := c
		if prev, ok := t.contacts[c.ID]; ok && prev.Online {
			nc.Online = true
		}
		next[c.ID] = &nc
	}
	t.contacts = next
	metrics.RosterSize.Set(float64(len(t.contacts)))
}

// ApplySnapshot applies a full presence push: every known contact's
// online flag becomes (id present in peers). Peers not yet in the roster
// are not inserted here; membership only changes through LoadBase and
// AddContact.
func (t *Tracker) ApplySnapshot(peers []protocol.Peer) {
	online := make(map[string]bool, len(peers))
	for _, p := range peers {
		online[p.UserID] = true
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for id, c := range t.contacts {
		c.Online = online[id]
	}
}

// ApplyDelta applies an incremental single-contact status push. Unknown
// ids are a no-op.
func (t *Tracker) ApplyDelta(id string, online bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.contacts[id]; ok {
		c.Online = online
	}
}

// AddContact inserts a contact if no contact with that id exists yet.
// Returns true if the contact was inserted.
func (t *Tracker) AddContact(c protocol.Contact) bool {
	if c.ID == "" || c.ID == t.selfID {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.contacts[c.ID]; ok {
		return false
	}
	nc := c
	t.contacts[c.ID] = &nc
	metrics.RosterSize.Set(float64(len(t.contacts)))
	return true
}

// Contains reports whether a contact with the given id is in the roster.
func (t *Tracker) Contains(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.contacts[id]
	return ok
}

// Get returns a copy of the contact with the given id.
func (t *Tracker) Get(id string) (protocol.Contact, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.contacts[id]
	if !ok {
		return protocol.Contact{}, false
	}
	return *c, true
}

// Snapshot returns a copy of the roster sorted by username (ties broken
// by id) for stable display. The returned slice is safe to retain.
func (t *Tracker) Snapshot() []protocol.Contact {
	t.mu.RLock()
	out := make([]protocol.Contact, 0, len(t.contacts))
	for _, c := range t.contacts {
		out = append(out, *c)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Username != out[j].Username {
			return out[i].Username < out[j].Username
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the current number of contacts.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.contacts)
}

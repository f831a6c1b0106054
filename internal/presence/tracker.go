// Package presence holds the process-local registry of live connections. It is
// authoritative only for this process: other instances learn about transitions
// through the broker, and the union across instances is approximate if an
// instance dies without emitting its offline events.
package presence

import (
	"sync"

	"github.com/google/uuid"
)

// Conn is one live connection handle. Implementations must be comparable so
// the tracker can hold them in sets.
type Conn interface {
	ID() string
}

type Tracker struct {
	mu    sync.Mutex
	users map[uuid.UUID]map[Conn]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{users: make(map[uuid.UUID]map[Conn]struct{})}
}

// Add registers a connection under the user and reports whether it was the
// user's first. The add is atomic with respect to concurrent connects and
// disconnects of the same user, so exactly one caller observes the edge.
func (t *Tracker) Add(userID uuid.UUID, c Conn) (first bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.users[userID]
	if !ok {
		set = make(map[Conn]struct{})
		t.users[userID] = set
	}
	first = len(set) == 0
	set[c] = struct{}{}
	return first
}

// Remove unregisters a connection and reports whether it was the user's last.
func (t *Tracker) Remove(userID uuid.UUID, c Conn) (last bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.users[userID]
	if !ok {
		return false
	}
	if _, present := set[c]; !present {
		return false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(t.users, userID)
		return true
	}
	return false
}

func (t *Tracker) ConnectionsFor(userID uuid.UUID) []Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	set := t.users[userID]
	conns := make([]Conn, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	return conns
}

func (t *Tracker) AllConnections() []Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	var conns []Conn
	for _, set := range t.users {
		for c := range set {
			conns = append(conns, c)
		}
	}
	return conns
}

// OnlineUsers is this process's view of who is online, not a global truth.
func (t *Tracker) OnlineUsers() []uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(t.users))
	for id := range t.users {
		ids = append(ids, id)
	}
	return ids
}

func (t *Tracker) IsOnline(userID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.users[userID]) > 0
}

package realtime

import (
	"sort"
	"sync"
)

// Conn is a live transport handle owned by the gateway.
// Send must not block; it reports false when the event was dropped.
// Close must be safe to call more than once and from any goroutine.
type Conn interface {
	ID() string
	Send(evt Event) bool
	Close() error
}

type binding struct {
	userID string
	conn   Conn
}

// Registry maps user IDs to the set of their authenticated connections.
// It is the only place the connection to user binding is recorded; a user
// key exists iff at least one of its connections is admitted.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[string]struct{}
	byConn map[string]binding
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]map[string]struct{}),
		byConn: make(map[string]binding),
	}
}

// Admit binds c to userID. It reports whether this made the user go online
// (0 -> 1 connections) together with the online set taken under the same lock.
// Admitting an already-bound connection is a no-op; a connection stays bound
// to the first user it was admitted under.
func (r *Registry) Admit(userID string, c Conn) (online bool, snapshot []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := c.ID()
	if _, ok := r.byConn[id]; ok {
		return false, r.snapshotLocked()
	}

	set, ok := r.byUser[userID]
	if !ok {
		set = make(map[string]struct{})
		r.byUser[userID] = set
	}
	set[id] = struct{}{}
	r.byConn[id] = binding{userID: userID, conn: c}

	return !ok, r.snapshotLocked()
}

// Remove unbinds the connection. userID is empty when the connection was never
// admitted. offline is true when this was the user's last connection.
func (r *Registry) Remove(connID string) (userID string, offline bool, snapshot []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.byConn[connID]
	if !ok {
		return "", false, nil
	}
	delete(r.byConn, connID)

	set := r.byUser[b.userID]
	delete(set, connID)
	if len(set) == 0 {
		delete(r.byUser, b.userID)
		offline = true
	}
	return b.userID, offline, r.snapshotLocked()
}

// ConnectionsFor returns the IDs of userID's live connections. An empty
// result means the user is offline.
func (r *Registry) ConnectionsFor(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byUser[userID]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// OnlineUserIDs returns the sorted set of users with at least one connection.
func (r *Registry) OnlineUserIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// IsOnline reports whether userID has at least one admitted connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byUser[userID]
	return ok
}

// Count returns the number of distinct online users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

func (r *Registry) snapshotLocked() []string {
	ids := make([]string, 0, len(r.byUser))
	for id := range r.byUser {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// conns copies userID's handles so callers can send without holding the lock.
func (r *Registry) conns(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byUser[userID]
	out := make([]Conn, 0, len(set))
	for id := range set {
		out = append(out, r.byConn[id].conn)
	}
	return out
}

func (r *Registry) all() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Conn, 0, len(r.byConn))
	for _, b := range r.byConn {
		out = append(out, b.conn)
	}
	return out
}

// Package registry owns the set of live connections and maps each one to the
// identity it joined with.
package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// DefaultMaxNameLength is the longest display name accepted when no limit is configured.
const DefaultMaxNameLength = 20

var (
	// ErrInvalidIdentity is returned when a display name is empty or too long.
	ErrInvalidIdentity = errors.New("invalid identity")
	// ErrNotFound is returned when a connection is unknown or has not joined yet.
	ErrNotFound = errors.New("connection not found")
	// ErrAlreadyRegistered is returned when a connection already carries an identity.
	ErrAlreadyRegistered = errors.New("connection already registered")
)

// Conn is the transport handle the registry tracks. Send must never block.
type Conn interface {
	ID() string
	Send(payload []byte) bool
	Close()
}

// Identity is the attribution attached to a registered connection.
type Identity struct {
	ConnectionID string
	UserID       string
	DisplayName  string
	ConnectedAt  time.Time
}

// Removal describes the outcome of Unregister.
type Removal struct {
	Identity Identity
	// Identified is false when the connection never joined.
	Identified bool
	// LastForUser is true when no other live connection carries the same user id.
	LastForUser bool
}

type entry struct {
	conn        Conn
	connectedAt time.Time
	identity    *Identity
}

// Registry maps connection ids to connections and identities. It is safe for
// concurrent use; lookups take a read lock only.
type Registry struct {
	mu            sync.RWMutex
	entries       map[string]*entry
	users         map[string][]string // userID -> connection ids in registration order
	maxNameLength int
	now           func() time.Time
}

// New creates a registry enforcing the given display name limit. A
// non-positive limit falls back to DefaultMaxNameLength.
func New(maxNameLength int) *Registry {
	if maxNameLength <= 0 {
		maxNameLength = DefaultMaxNameLength
	}
	return &Registry{
		entries:       make(map[string]*entry),
		users:         make(map[string][]string),
		maxNameLength: maxNameLength,
		now:           time.Now,
	}
}

// ValidateDisplayName trims name and checks it against the configured limit.
func (r *Registry) ValidateDisplayName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", fmt.Errorf("%w: display name is required", ErrInvalidIdentity)
	}
	if utf8.RuneCountInString(trimmed) > r.maxNameLength {
		return "", fmt.Errorf("%w: display name exceeds %d characters", ErrInvalidIdentity, r.maxNameLength)
	}
	return trimmed, nil
}

// Attach records a live connection that has not joined yet. Attaching a
// known connection is a no-op.
func (r *Registry) Attach(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[conn.ID()]; ok {
		return
	}
	r.entries[conn.ID()] = &entry{conn: conn, connectedAt: r.now()}
}

// Register binds an identity to conn, attaching it first if needed. An empty
// userID defaults to the connection id.
func (r *Registry) Register(conn Conn, userID, displayName string) (string, error) {
	name, err := r.ValidateDisplayName(displayName)
	if err != nil {
		return "", err
	}

	id := conn.ID()
	if userID == "" {
		userID = id
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		e = &entry{conn: conn, connectedAt: r.now()}
		r.entries[id] = e
	}
	if e.identity != nil {
		return "", fmt.Errorf("%w: %s", ErrAlreadyRegistered, id)
	}

	e.identity = &Identity{
		ConnectionID: id,
		UserID:       userID,
		DisplayName:  name,
		ConnectedAt:  e.connectedAt,
	}
	r.users[userID] = append(r.users[userID], id)
	return id, nil
}

// Lookup returns the identity bound to a connection.
func (r *Registry) Lookup(connectionID string) (Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[connectionID]
	if !ok || e.identity == nil {
		return Identity{}, fmt.Errorf("%w: %s", ErrNotFound, connectionID)
	}
	return *e.identity, nil
}

// Unregister removes a connection. It reports false when the connection was
// already gone, which makes concurrent leave and disconnect paths safe.
func (r *Registry) Unregister(connectionID string) (Removal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[connectionID]
	if !ok {
		return Removal{}, false
	}
	delete(r.entries, connectionID)
	return r.dropIdentity(e), true
}

// Forget clears the identity bound to a connection but keeps the connection
// attached, so it can join again under a new name. It reports false when the
// connection is unknown.
func (r *Registry) Forget(connectionID string) (Removal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[connectionID]
	if !ok {
		return Removal{}, false
	}
	return r.dropIdentity(e), true
}

// dropIdentity unbinds e from its user. The caller holds r.mu.
func (r *Registry) dropIdentity(e *entry) Removal {
	if e.identity == nil {
		return Removal{}
	}

	ident := *e.identity
	e.identity = nil

	remaining := removeString(r.users[ident.UserID], ident.ConnectionID)
	if len(remaining) == 0 {
		delete(r.users, ident.UserID)
	} else {
		r.users[ident.UserID] = remaining
	}

	return Removal{
		Identity:    ident,
		Identified:  true,
		LastForUser: len(remaining) == 0,
	}
}

// Conn returns the live connection with the given id.
func (r *Registry) Conn(connectionID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[connectionID]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// ConnectionsOf returns every registered connection carrying userID.
func (r *Registry) ConnectionsOf(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.users[userID]
	conns := make([]Conn, 0, len(ids))
	for _, id := range ids {
		if e, ok := r.entries[id]; ok {
			conns = append(conns, e.conn)
		}
	}
	return conns
}

// Connections returns a snapshot of all live connections, joined or not.
func (r *Registry) Connections() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Conn, 0, len(r.entries))
	for _, e := range r.entries {
		conns = append(conns, e.conn)
	}
	return conns
}

// HasUser reports whether userID has at least one registered connection.
func (r *Registry) HasUser(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

// DisplayName returns the name of the user's oldest registered connection.
func (r *Registry) DisplayName(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.users[userID] {
		if e, ok := r.entries[id]; ok && e.identity != nil {
			return e.identity.DisplayName, true
		}
	}
	return "", false
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func removeString(values []string, target string) []string {
	out := values[:0:0]
	for _, v := range values {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}

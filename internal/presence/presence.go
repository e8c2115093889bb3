// Package presence derives who is online and who is in each room from the
// connection registry and the membership index. It stores nothing of its own
// besides the observers interested in membership changes.
package presence

import "sync"

// Member is one entry of a room's presence snapshot.
type Member struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"username"`
}

// Change is the post-change view of a room emitted after a join or leave.
type Change struct {
	RoomID  string
	Members []Member
}

// Names returns the display names of the members in join order.
func (c Change) Names() []string {
	names := make([]string, len(c.Members))
	for i, m := range c.Members {
		names[i] = m.DisplayName
	}
	return names
}

// MemberSource lists the users of a room in join order.
type MemberSource interface {
	MembersOf(roomID string) []string
}

// IdentitySource resolves display names and liveness of users.
type IdentitySource interface {
	DisplayName(userID string) (string, bool)
	HasUser(userID string) bool
}

// Tracker computes presence snapshots on demand.
type Tracker struct {
	members    MemberSource
	identities IdentitySource

	mu        sync.RWMutex
	observers []func(Change)
}

// NewTracker creates a tracker over the given membership and identity sources.
func NewTracker(members MemberSource, identities IdentitySource) *Tracker {
	return &Tracker{members: members, identities: identities}
}

// Snapshot returns the members of roomID in join order with their display
// names. Users whose connections are already gone fall back to their id.
func (t *Tracker) Snapshot(roomID string) []Member {
	ids := t.members.MembersOf(roomID)
	out := make([]Member, 0, len(ids))
	for _, id := range ids {
		name, ok := t.identities.DisplayName(id)
		if !ok {
			name = id
		}
		out = append(out, Member{UserID: id, DisplayName: name})
	}
	return out
}

// Online reports whether userID has a live registered connection.
func (t *Tracker) Online(userID string) bool {
	return t.identities.HasUser(userID)
}

// Observe registers fn to be called on every membership change.
func (t *Tracker) Observe(fn func(Change)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, fn)
}

// Changed builds the current view of roomID and hands it to every observer.
// The caller broadcasts the returned change to the room's members.
func (t *Tracker) Changed(roomID string) Change {
	change := Change{RoomID: roomID, Members: t.Snapshot(roomID)}

	t.mu.RLock()
	observers := make([]func(Change), len(t.observers))
	copy(observers, t.observers)
	t.mu.RUnlock()

	for _, fn := range observers {
		fn(change)
	}
	return change
}

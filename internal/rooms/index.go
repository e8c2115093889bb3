// Package rooms keeps the room catalog and the membership index mapping each
// room to the users currently present in it.
package rooms

import "sync"

type memberSet struct {
	order []string
	index map[string]struct{}
}

// Index maps rooms to members in first-join order and users to the rooms they
// are in. Every mutation returns the resulting member list so callers can fan
// out without a second lookup.
type Index struct {
	mu    sync.RWMutex
	rooms map[string]*memberSet
	users map[string]map[string]struct{}
}

// NewIndex creates an empty membership index.
func NewIndex() *Index {
	return &Index{
		rooms: make(map[string]*memberSet),
		users: make(map[string]map[string]struct{}),
	}
}

// Join adds userID to roomID. Joining twice leaves the set unchanged and
// reports added=false.
func (ix *Index) Join(roomID, userID string) (members []string, added bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	set, ok := ix.rooms[roomID]
	if !ok {
		set = &memberSet{index: make(map[string]struct{})}
		ix.rooms[roomID] = set
	}
	if _, exists := set.index[userID]; exists {
		return cloneStrings(set.order), false
	}

	set.index[userID] = struct{}{}
	set.order = append(set.order, userID)

	if ix.users[userID] == nil {
		ix.users[userID] = make(map[string]struct{})
	}
	ix.users[userID][roomID] = struct{}{}

	return cloneStrings(set.order), true
}

// Leave removes userID from roomID. Leaving a room one is not in is a no-op.
func (ix *Index) Leave(roomID, userID string) (members []string, removed bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	set, ok := ix.rooms[roomID]
	if !ok {
		return nil, false
	}
	if _, exists := set.index[userID]; !exists {
		return cloneStrings(set.order), false
	}

	delete(set.index, userID)
	for i, id := range set.order {
		if id == userID {
			set.order = append(set.order[:i], set.order[i+1:]...)
			break
		}
	}
	if len(set.order) == 0 {
		delete(ix.rooms, roomID)
	}

	if joined := ix.users[userID]; joined != nil {
		delete(joined, roomID)
		if len(joined) == 0 {
			delete(ix.users, userID)
		}
	}

	return cloneStrings(set.order), true
}

// MembersOf returns the members of roomID in join order.
func (ix *Index) MembersOf(roomID string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if set, ok := ix.rooms[roomID]; ok {
		return cloneStrings(set.order)
	}
	return nil
}

// RoomsOf returns the rooms userID is currently in, in no particular order.
func (ix *Index) RoomsOf(userID string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	joined := ix.users[userID]
	out := make([]string, 0, len(joined))
	for roomID := range joined {
		out = append(out, roomID)
	}
	return out
}

// IsMember reports whether userID is present in roomID.
func (ix *Index) IsMember(roomID, userID string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	set, ok := ix.rooms[roomID]
	if !ok {
		return false
	}
	_, exists := set.index[userID]
	return exists
}

// Count returns the number of members in roomID.
func (ix *Index) Count(roomID string) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if set, ok := ix.rooms[roomID]; ok {
		return len(set.order)
	}
	return 0
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

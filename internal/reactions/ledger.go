// Package reactions indexes emoji reactions per message and derives counts.
package reactions

import "sync"

// Reactor identifies a user who reacted.
type Reactor struct {
	UserID   string
	Username string
}

// EmojiState is the current state of one emoji on one message. Count always
// equals len(Users).
type EmojiState struct {
	Emoji   string   `json:"emoji"`
	Users   []string `json:"users"`
	UserIDs []string `json:"userIds"`
	Count   int      `json:"count"`
}

// State maps emoji to their state for a single message. Emoji with no users
// are never present.
type State map[string]EmojiState

// Get returns the state of a single emoji.
func (s State) Get(emoji string) (EmojiState, bool) {
	es, ok := s[emoji]
	return es, ok
}

type emojiEntry struct {
	users []Reactor
	index map[string]struct{}
}

type messageEntry struct {
	emojis map[string]*emojiEntry
}

// Ledger holds reaction state for every message it has seen. Entries live
// until the ledger is discarded.
type Ledger struct {
	mu       sync.RWMutex
	messages map[string]*messageEntry
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{messages: make(map[string]*messageEntry)}
}

// Add records that user reacted with emoji. Adding an existing reaction
// changes nothing and reports changed=false.
func (l *Ledger) Add(messageID, emoji string, user Reactor) (State, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	msg, ok := l.messages[messageID]
	if !ok {
		msg = &messageEntry{emojis: make(map[string]*emojiEntry)}
		l.messages[messageID] = msg
	}

	e, ok := msg.emojis[emoji]
	if !ok {
		e = &emojiEntry{index: make(map[string]struct{})}
		msg.emojis[emoji] = e
	}
	if _, exists := e.index[user.UserID]; exists {
		return msg.state(), false
	}

	e.index[user.UserID] = struct{}{}
	e.users = append(e.users, user)
	return msg.state(), true
}

// Remove deletes a user's reaction. Removing a reaction that does not exist
// is a no-op reporting changed=false.
func (l *Ledger) Remove(messageID, emoji, userID string) (State, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	msg, ok := l.messages[messageID]
	if !ok {
		return State{}, false
	}
	e, ok := msg.emojis[emoji]
	if !ok {
		return msg.state(), false
	}
	if _, exists := e.index[userID]; !exists {
		return msg.state(), false
	}

	delete(e.index, userID)
	for i, u := range e.users {
		if u.UserID == userID {
			e.users = append(e.users[:i], e.users[i+1:]...)
			break
		}
	}
	if len(e.users) == 0 {
		delete(msg.emojis, emoji)
	}
	if len(msg.emojis) == 0 {
		delete(l.messages, messageID)
		return State{}, true
	}
	return msg.state(), true
}

// Snapshot returns the reaction state of a message.
func (l *Ledger) Snapshot(messageID string) State {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if msg, ok := l.messages[messageID]; ok {
		return msg.state()
	}
	return State{}
}

// Len returns how many messages carry at least one reaction.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

func (m *messageEntry) state() State {
	out := make(State, len(m.emojis))
	for emoji, e := range m.emojis {
		if len(e.users) == 0 {
			continue
		}
		es := EmojiState{
			Emoji:   emoji,
			Users:   make([]string, len(e.users)),
			UserIDs: make([]string, len(e.users)),
			Count:   len(e.users),
		}
		for i, u := range e.users {
			es.Users[i] = u.Username
			es.UserIDs[i] = u.UserID
		}
		out[emoji] = es
	}
	return out
}

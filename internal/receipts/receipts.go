// Package receipts records which users have read which messages.
package receipts

import "sync"

// Reader identifies a user who read a message.
type Reader struct {
	UserID   string
	Username string
}

type readers struct {
	order []Reader
	index map[string]struct{}
}

// Ledger is an idempotent messageID -> readers index.
type Ledger struct {
	mu       sync.RWMutex
	messages map[string]*readers
}

// NewLedger creates an empty receipt ledger.
func NewLedger() *Ledger {
	return &Ledger{messages: make(map[string]*readers)}
}

// Mark records that reader has read messageID and returns the display names
// of everyone who has, in reading order. Marking twice reports changed=false.
func (l *Ledger) Mark(messageID string, reader Reader) (readBy []string, changed bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.messages[messageID]
	if !ok {
		r = &readers{index: make(map[string]struct{})}
		l.messages[messageID] = r
	}
	if _, exists := r.index[reader.UserID]; exists {
		return r.names(), false
	}
	r.index[reader.UserID] = struct{}{}
	r.order = append(r.order, reader)
	return r.names(), true
}

// ReadBy returns the display names of everyone who read messageID.
func (l *Ledger) ReadBy(messageID string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if r, ok := l.messages[messageID]; ok {
		return r.names()
	}
	return nil
}

// HasRead reports whether userID has read messageID.
func (l *Ledger) HasRead(messageID, userID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, ok := l.messages[messageID]
	if !ok {
		return false
	}
	_, exists := r.index[userID]
	return exists
}

func (r *readers) names() []string {
	out := make([]string, len(r.order))
	for i, reader := range r.order {
		out[i] = reader.Username
	}
	return out
}

// Package domain defines the records shared between the hub and the durable
// store: rooms, chat messages, reaction changes and read receipts.
package domain

import "time"

// Room represents a chat room. Rooms are never mutated after creation.
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message represents a chat message as it was broadcast.
type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// ReactionChange describes a single add or remove applied to the reaction ledger.
type ReactionChange struct {
	MessageID string
	UserID    string
	Username  string
	Emoji     string
	Added     bool
	At        time.Time
}

// Receipt records that a user has read a message.
type Receipt struct {
	MessageID string
	UserID    string
	Username  string
	ReadAt    time.Time
}

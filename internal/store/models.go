package store

import (
	"time"

	"github.com/Tyrowin/chathub/internal/domain"
)

// Room is a persisted chat room.
type Room struct {
	ID        string    `gorm:"primarykey;size:36"`
	Name      string    `gorm:"size:50;not null"`
	CreatedBy string    `gorm:"size:64"`
	CreatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for Room model.
func (Room) TableName() string {
	return "rooms"
}

// Message is a persisted chat message.
type Message struct {
	ID        string    `gorm:"primarykey;size:36"`
	RoomID    string    `gorm:"size:36;not null;index:idx_messages_room_created,priority:1"`
	UserID    string    `gorm:"size:64;not null"`
	Username  string    `gorm:"size:64;not null"`
	Content   string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;index:idx_messages_room_created,priority:2"`
}

// TableName returns the table name for Message model.
func (Message) TableName() string {
	return "messages"
}

// Reaction is one user's emoji on one message.
type Reaction struct {
	ID        uint      `gorm:"primarykey"`
	MessageID string    `gorm:"size:36;not null;uniqueIndex:idx_reaction_unique,priority:1"`
	UserID    string    `gorm:"size:64;not null;uniqueIndex:idx_reaction_unique,priority:2"`
	Emoji     string    `gorm:"size:32;not null;uniqueIndex:idx_reaction_unique,priority:3"`
	Username  string    `gorm:"size:64"`
	CreatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for Reaction model.
func (Reaction) TableName() string {
	return "message_reactions"
}

// ReadReceipt records that a user has read a message.
type ReadReceipt struct {
	ID        uint      `gorm:"primarykey"`
	MessageID string    `gorm:"size:36;not null;uniqueIndex:idx_receipt_unique,priority:1"`
	UserID    string    `gorm:"size:64;not null;uniqueIndex:idx_receipt_unique,priority:2"`
	Username  string    `gorm:"size:64"`
	ReadAt    time.Time `gorm:"not null"`
}

// TableName returns the table name for ReadReceipt model.
func (ReadReceipt) TableName() string {
	return "read_receipts"
}

func (r Room) toDomain() domain.Room {
	return domain.Room{ID: r.ID, Name: r.Name, CreatedBy: r.CreatedBy, CreatedAt: r.CreatedAt}
}

func (m Message) toDomain() domain.Message {
	return domain.Message{
		ID:        m.ID,
		RoomID:    m.RoomID,
		UserID:    m.UserID,
		Username:  m.Username,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

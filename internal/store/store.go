// Package store persists rooms, messages, reactions and read receipts in
// SQLite through gorm. The hub writes to it asynchronously; the HTTP API
// reads message history from it.
package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/Tyrowin/chathub/internal/domain"
)

// ErrNotFound is returned when a record is not found.
var ErrNotFound = errors.New("record not found")

// Default and maximum page sizes for RecentMessages.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// Store is a gorm-backed store.
type Store struct {
	db *gorm.DB
}

// Open connects to the SQLite database at path and runs migrations. Set
// debug to log every statement.
func Open(path string, debug bool) (*Store, error) {
	logLevel := logger.Silent
	if debug {
		logLevel = logger.Info
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return New(db)
}

// New wraps an open connection and runs migrations.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Room{}, &Message{}, &Reaction{}, &ReadReceipt{}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// SaveRoom stores a room. Saving the same room twice is a no-op.
func (s *Store) SaveRoom(ctx context.Context, room domain.Room) error {
	rec := Room{ID: room.ID, Name: room.Name, CreatedBy: room.CreatedBy, CreatedAt: room.CreatedAt}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to save room: %w", err)
	}
	return nil
}

// ListRooms returns every stored room in creation order.
func (s *Store) ListRooms(ctx context.Context) ([]domain.Room, error) {
	var recs []Room
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}

	rooms := make([]domain.Room, len(recs))
	for i, r := range recs {
		rooms[i] = r.toDomain()
	}
	return rooms, nil
}

// SaveMessage stores a chat message.
func (s *Store) SaveMessage(ctx context.Context, msg domain.Message) error {
	rec := Message{
		ID:        msg.ID,
		RoomID:    msg.RoomID,
		UserID:    msg.UserID,
		Username:  msg.Username,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// RecentMessages returns up to limit of the newest messages in roomID,
// oldest first. A non-positive limit uses DefaultHistoryLimit.
func (s *Store) RecentMessages(ctx context.Context, roomID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	var recs []Message
	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	msgs := make([]domain.Message, len(recs))
	for i, m := range recs {
		msgs[len(recs)-1-i] = m.toDomain()
	}
	return msgs, nil
}

// AddReaction stores a reaction. Adding an existing reaction is a no-op.
func (s *Store) AddReaction(ctx context.Context, change domain.ReactionChange) error {
	rec := Reaction{
		MessageID: change.MessageID,
		UserID:    change.UserID,
		Emoji:     change.Emoji,
		Username:  change.Username,
		CreatedAt: change.At,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to add reaction: %w", err)
	}
	return nil
}

// RemoveReaction deletes a reaction. It returns ErrNotFound when nothing matched.
func (s *Store) RemoveReaction(ctx context.Context, change domain.ReactionChange) error {
	result := s.db.WithContext(ctx).
		Where("message_id = ? AND user_id = ? AND emoji = ?", change.MessageID, change.UserID, change.Emoji).
		Delete(&Reaction{})
	if err := result.Error; err != nil {
		return fmt.Errorf("failed to remove reaction: %w", err)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkRead stores a read receipt. Marking twice is a no-op.
func (s *Store) MarkRead(ctx context.Context, receipt domain.Receipt) error {
	rec := ReadReceipt{
		MessageID: receipt.MessageID,
		UserID:    receipt.UserID,
		Username:  receipt.Username,
		ReadAt:    receipt.ReadAt,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to mark read: %w", err)
	}
	return nil
}

package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chathub/internal/domain"
	"github.com/Tyrowin/chathub/internal/hub"
)

var _ hub.Store = (*Store)(nil)

// setupTestStore opens a SQLite database in a temporary directory.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "chat.db"), false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_Rooms(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	rooms := []domain.Room{
		{ID: uuid.NewString(), Name: "second", CreatedAt: base.Add(time.Minute)},
		{ID: uuid.NewString(), Name: "first", CreatedBy: "alice", CreatedAt: base},
	}
	for _, r := range rooms {
		require.NoError(t, s.SaveRoom(ctx, r))
	}
	require.NoError(t, s.SaveRoom(ctx, rooms[0]), "saving twice is a no-op")

	got, err := s.ListRooms(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Name)
	assert.Equal(t, "alice", got[0].CreatedBy)
	assert.Equal(t, "second", got[1].Name)
}

func TestStore_RecentMessages(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveMessage(ctx, domain.Message{
			ID:        uuid.NewString(),
			RoomID:    "general",
			UserID:    "u1",
			Username:  "alice",
			Content:   fmt.Sprintf("msg %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, s.SaveMessage(ctx, domain.Message{
		ID: uuid.NewString(), RoomID: "other", UserID: "u2", Username: "bob", Content: "elsewhere", CreatedAt: base,
	}))

	t.Run("newest page in chronological order", func(t *testing.T) {
		msgs, err := s.RecentMessages(ctx, "general", 3)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, "msg 2", msgs[0].Content)
		assert.Equal(t, "msg 4", msgs[2].Content)
	})

	t.Run("default limit", func(t *testing.T) {
		msgs, err := s.RecentMessages(ctx, "general", 0)
		require.NoError(t, err)
		assert.Len(t, msgs, 5)
	})

	t.Run("unknown room", func(t *testing.T) {
		msgs, err := s.RecentMessages(ctx, "missing", 10)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})
}

func TestStore_Reactions(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	change := domain.ReactionChange{MessageID: "m1", UserID: "u1", Username: "alice", Emoji: "👍", Added: true, At: time.Now()}
	require.NoError(t, s.AddReaction(ctx, change))
	require.NoError(t, s.AddReaction(ctx, change), "adding twice is a no-op")

	var count int64
	require.NoError(t, s.db.Model(&Reaction{}).Where("message_id = ?", "m1").Count(&count).Error)
	assert.Equal(t, int64(1), count)

	require.NoError(t, s.RemoveReaction(ctx, change))
	assert.ErrorIs(t, s.RemoveReaction(ctx, change), ErrNotFound)
}

func TestStore_MarkRead(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	receipt := domain.Receipt{MessageID: "m1", UserID: "u1", Username: "alice", ReadAt: time.Now()}
	require.NoError(t, s.MarkRead(ctx, receipt))
	require.NoError(t, s.MarkRead(ctx, receipt))

	var count int64
	require.NoError(t, s.db.Model(&ReadReceipt{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestStore_HubPersistsThroughStore(t *testing.T) {
	s := setupTestStore(t)
	h := hub.New(hub.Config{}, hub.WithStore(s))

	room, err := h.CreateRoom("archive", "alice")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(ctx))

	rooms, err := s.ListRooms(context.Background())
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, room.ID, rooms[0].ID)
}

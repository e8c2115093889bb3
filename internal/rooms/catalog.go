package rooms

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/Tyrowin/chathub/internal/domain"
)

// MaxRoomNameLength is the longest room name accepted.
const MaxRoomNameLength = 50

// Catalog errors.
var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrRoomExists      = errors.New("room already exists")
	ErrInvalidRoomName = errors.New("invalid room name")
)

// Catalog holds the rooms known to the hub in creation order.
type Catalog struct {
	mu     sync.RWMutex
	rooms  map[string]domain.Room
	names  map[string]string // lower-cased name -> room id
	order  []string
	now    func() time.Time
	nextID func() string
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		rooms:  make(map[string]domain.Room),
		names:  make(map[string]string),
		now:    time.Now,
		nextID: uuid.NewString,
	}
}

// ValidateName trims a room name and checks its length.
func ValidateName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalidRoomName)
	}
	if utf8.RuneCountInString(trimmed) > MaxRoomNameLength {
		return "", fmt.Errorf("%w: name exceeds %d characters", ErrInvalidRoomName, MaxRoomNameLength)
	}
	return trimmed, nil
}

// Create adds a new room with a generated id. Names are unique ignoring case.
func (c *Catalog) Create(name, createdBy string) (domain.Room, error) {
	trimmed, err := ValidateName(name)
	if err != nil {
		return domain.Room{}, err
	}

	room := domain.Room{
		ID:        c.nextID(),
		Name:      trimmed,
		CreatedBy: createdBy,
		CreatedAt: c.now(),
	}
	if err := c.Add(room); err != nil {
		return domain.Room{}, err
	}
	return room, nil
}

// Add inserts a room with a caller-chosen id, e.g. the default room or rooms
// restored from the store.
func (c *Catalog) Add(room domain.Room) error {
	if room.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidRoomName)
	}
	key := strings.ToLower(strings.TrimSpace(room.Name))

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.rooms[room.ID]; ok {
		return fmt.Errorf("%w: %s", ErrRoomExists, room.ID)
	}
	if _, ok := c.names[key]; ok {
		return fmt.Errorf("%w: %s", ErrRoomExists, room.Name)
	}

	if room.CreatedAt.IsZero() {
		room.CreatedAt = c.now()
	}
	c.rooms[room.ID] = room
	c.names[key] = room.ID
	c.order = append(c.order, room.ID)
	return nil
}

// Get returns the room with the given id.
func (c *Catalog) Get(roomID string) (domain.Room, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	room, ok := c.rooms[roomID]
	if !ok {
		return domain.Room{}, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	return room, nil
}

// Exists reports whether roomID is in the catalog.
func (c *Catalog) Exists(roomID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.rooms[roomID]
	return ok
}

// List returns all rooms in creation order.
func (c *Catalog) List() []domain.Room {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.Room, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.rooms[id])
	}
	return out
}

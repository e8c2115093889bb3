// Package hub is the message broadcast engine. It is the only entry point for
// client events: it validates each event against the sender's identity and
// membership, applies the state change to the owning component, and fans the
// resulting event out to the right audience.
//
// State is serialized per room: every event that touches a room runs inside
// that room's critical section, including the audience computation and the
// enqueue onto each recipient's outbound queue. Different rooms progress in
// parallel.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/chathub/internal/domain"
	"github.com/Tyrowin/chathub/internal/presence"
	"github.com/Tyrowin/chathub/internal/reactions"
	"github.com/Tyrowin/chathub/internal/receipts"
	"github.com/Tyrowin/chathub/internal/registry"
	"github.com/Tyrowin/chathub/internal/rooms"
	"github.com/Tyrowin/chathub/internal/typing"
)

// Conn is a client connection as seen by the hub. Send enqueues a frame
// without blocking and reports false when the connection cannot take it.
// Close must not call back into the hub synchronously.
type Conn interface {
	registry.Conn
	// UserID is the identity supplied by the external identity provider at
	// handshake, or "" for anonymous connections.
	UserID() string
}

// Config holds the engine settings.
type Config struct {
	TypingTimeout     time.Duration
	MaxUsernameLength int
	DefaultRoomID     string
	DefaultRoomName   string
	PersistQueueSize  int
}

// DefaultConfig returns the reference settings.
func DefaultConfig() Config {
	return Config{
		TypingTimeout:     typing.DefaultTimeout,
		MaxUsernameLength: registry.DefaultMaxNameLength,
		DefaultRoomID:     "general",
		DefaultRoomName:   "General",
		PersistQueueSize:  1024,
	}
}

func sanitizeConfig(cfg Config) Config {
	def := DefaultConfig()
	if cfg.TypingTimeout <= 0 {
		cfg.TypingTimeout = def.TypingTimeout
	}
	if cfg.MaxUsernameLength <= 0 {
		cfg.MaxUsernameLength = def.MaxUsernameLength
	}
	if cfg.DefaultRoomID == "" {
		cfg.DefaultRoomID = def.DefaultRoomID
	}
	if cfg.DefaultRoomName == "" {
		cfg.DefaultRoomName = cfg.DefaultRoomID
	}
	if cfg.PersistQueueSize <= 0 {
		cfg.PersistQueueSize = def.PersistQueueSize
	}
	return cfg
}

// Option customizes a Hub.
type Option func(*Hub)

// WithStore makes the hub persist rooms, messages, reactions and receipts.
func WithStore(store Store) Option {
	return func(h *Hub) { h.store = store }
}

// WithLogger sets the logger used by the hub.
func WithLogger(log *slog.Logger) Option {
	return func(h *Hub) {
		if log != nil {
			h.log = log
		}
	}
}

// Stats is a point-in-time view of hub occupancy.
type Stats struct {
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
	Reactions   int `json:"reactedMessages"`
}

// Hub coordinates connections, rooms, presence, typing signals, reactions
// and read receipts.
type Hub struct {
	cfg Config
	log *slog.Logger

	registry  *registry.Registry
	catalog   *rooms.Catalog
	members   *rooms.Index
	presence  *presence.Tracker
	typing    *typing.Router
	reactions *reactions.Ledger
	receipts  *receipts.Ledger

	store   Store
	persist *persister

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	msgMu    sync.RWMutex
	messages map[string]string // messageID -> roomID

	now    func() time.Time
	closed atomic.Bool
}

// New creates a hub with its default room already in the catalog.
func New(cfg Config, opts ...Option) *Hub {
	cfg = sanitizeConfig(cfg)

	h := &Hub{
		cfg:       cfg,
		log:       slog.Default(),
		registry:  registry.New(cfg.MaxUsernameLength),
		catalog:   rooms.NewCatalog(),
		members:   rooms.NewIndex(),
		reactions: reactions.NewLedger(),
		receipts:  receipts.NewLedger(),
		locks:     make(map[string]*sync.Mutex),
		messages:  make(map[string]string),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}

	h.presence = presence.NewTracker(h.members, h.registry)
	h.typing = typing.NewRouter(cfg.TypingTimeout, h.expireTyping)
	if h.store != nil {
		h.persist = newPersister(cfg.PersistQueueSize, h.log)
	}

	if err := h.catalog.Add(domain.Room{ID: cfg.DefaultRoomID, Name: cfg.DefaultRoomName}); err != nil {
		h.log.Error("failed to create default room", "room", cfg.DefaultRoomID, "err", err)
	}
	return h
}

// PresenceTracker exposes the tracker so callers can observe membership changes.
func (h *Hub) PresenceTracker() *presence.Tracker {
	return h.presence
}

// RestoreRooms adds previously persisted rooms to the catalog. Rooms that
// already exist are skipped.
func (h *Hub) RestoreRooms(list []domain.Room) int {
	restored := 0
	for _, room := range list {
		if err := h.catalog.Add(room); err != nil {
			if !errors.Is(err, rooms.ErrRoomExists) {
				h.log.Warn("skipping stored room", "room", room.ID, "err", err)
			}
			continue
		}
		restored++
	}
	return restored
}

// Connect records a new transport connection. It joins no room until the
// client sends a join event.
func (h *Hub) Connect(conn Conn) {
	if h.closed.Load() {
		conn.Close()
		return
	}
	h.registry.Attach(conn)
	h.log.Debug("connection attached", "conn", conn.ID(), "connections", h.registry.Count())
}

// Handle decodes a raw client frame and dispatches it. Malformed frames and
// rejected events are logged and dropped; the connection stays open.
func (h *Hub) Handle(conn Conn, raw []byte) {
	ev, err := Decode(raw)
	if err != nil {
		h.log.Warn("dropping malformed event", "conn", conn.ID(), "err", err)
		return
	}
	if err := h.Dispatch(conn, ev); err != nil {
		h.log.Info("event rejected", "conn", conn.ID(), "kind", ev.Kind(), "err", err)
	}
}

// Dispatch applies a decoded event on behalf of conn.
func (h *Hub) Dispatch(conn Conn, ev Inbound) error {
	if h.closed.Load() {
		return errors.New("hub is shut down")
	}

	switch e := ev.(type) {
	case Join:
		return h.join(conn, e)
	case Chat:
		return h.chat(conn, e)
	case Leave:
		return h.leave(conn, e)
	case TypingStart:
		return h.typingStart(conn, e)
	case TypingStop:
		return h.typingStop(conn, e)
	case ReactionAdd:
		return h.react(conn, e.RoomID, e.MessageID, e.Emoji, true)
	case ReactionRemove:
		return h.react(conn, e.RoomID, e.MessageID, e.Emoji, false)
	case Read:
		return h.read(conn, e)
	case CreateRoom:
		return h.createRoomFor(conn, e)
	case ListRooms:
		h.reply(conn, Event{Type: KindRoomList, Rooms: h.Rooms(), Timestamp: h.stamp()})
		return nil
	default:
		return fmt.Errorf("%w: %T", ErrUnknownKind, ev)
	}
}

// Disconnect runs the cleanup cascade for a connection: registry removal and,
// when it was the user's last connection, typing stop and leave in every room
// the user was in. It is safe to call more than once.
func (h *Hub) Disconnect(connID string) {
	removal, ok := h.registry.Unregister(connID)
	if !ok {
		return
	}
	if !removal.Identified {
		h.log.Debug("anonymous connection closed", "conn", connID)
		return
	}
	h.log.Info("user disconnected",
		"conn", connID,
		"user", removal.Identity.UserID,
		"username", removal.Identity.DisplayName,
		"last", removal.LastForUser,
	)
	h.release(removal)
}

// release leaves every room of a user whose last identified connection went
// away.
func (h *Hub) release(removal registry.Removal) {
	if !removal.LastForUser {
		return
	}

	ident := removal.Identity
	for _, roomID := range h.members.RoomsOf(ident.UserID) {
		unlock := h.lockRoom(roomID)
		// The user may have reconnected on another connection meanwhile.
		if !h.registry.HasUser(ident.UserID) {
			h.leaveRoomLocked(roomID, ident.UserID, ident.DisplayName)
		}
		unlock()
	}
}

// CreateRoom creates a room and announces it to every connection.
func (h *Hub) CreateRoom(name, createdBy string) (domain.Room, error) {
	room, err := h.catalog.Create(name, createdBy)
	if err != nil {
		return domain.Room{}, err
	}

	h.log.Info("room created", "room", room.ID, "name", room.Name, "by", createdBy)
	h.broadcastAll(Event{
		Type:      KindRoomCreated,
		RoomID:    room.ID,
		Name:      room.Name,
		UserID:    createdBy,
		Timestamp: room.CreatedAt.UnixMilli(),
	})
	h.enqueue("save_room", func(ctx context.Context) error {
		return h.store.SaveRoom(ctx, room)
	})
	return room, nil
}

// Rooms lists every room with its current member count.
func (h *Hub) Rooms() []RoomInfo {
	list := h.catalog.List()
	out := make([]RoomInfo, 0, len(list))
	for _, room := range list {
		out = append(out, RoomInfo{
			ID:        room.ID,
			Name:      room.Name,
			UserCount: h.members.Count(room.ID),
			CreatedAt: room.CreatedAt.UnixMilli(),
		})
	}
	return out
}

// HasRoom reports whether roomID is in the catalog.
func (h *Hub) HasRoom(roomID string) bool {
	return h.catalog.Exists(roomID)
}

// Presence returns the members of a room in join order.
func (h *Hub) Presence(roomID string) ([]presence.Member, error) {
	if !h.catalog.Exists(roomID) {
		return nil, fmt.Errorf("%w: %s", rooms.ErrRoomNotFound, roomID)
	}
	return h.presence.Snapshot(roomID), nil
}

// Reactions returns the reaction state of a message.
func (h *Hub) Reactions(messageID string) reactions.State {
	return h.reactions.Snapshot(messageID)
}

// ReadBy returns who has read a message.
func (h *Hub) ReadBy(messageID string) []string {
	return h.receipts.ReadBy(messageID)
}

// Stats reports current occupancy.
func (h *Hub) Stats() Stats {
	return Stats{
		Connections: h.registry.Count(),
		Rooms:       len(h.catalog.List()),
		Reactions:   h.reactions.Len(),
	}
}

// Shutdown stops typing timers, closes every connection and drains pending
// store writes until ctx expires.
func (h *Hub) Shutdown(ctx context.Context) error {
	if h.closed.Swap(true) {
		return nil
	}
	h.log.Info("shutting down hub", "connections", h.registry.Count())

	h.typing.StopAll()
	conns := h.registry.Connections()
	for _, c := range conns {
		c.Close()
	}
	h.log.Info("closed client connections", "count", len(conns))

	if h.persist != nil {
		if err := h.persist.close(ctx); err != nil {
			return fmt.Errorf("draining store writes: %w", err)
		}
	}
	return nil
}

// lockRoom enters roomID's critical section and returns the matching unlock.
func (h *Hub) lockRoom(roomID string) func() {
	h.locksMu.Lock()
	mu, ok := h.locks[roomID]
	if !ok {
		mu = &sync.Mutex{}
		h.locks[roomID] = mu
	}
	h.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

func (h *Hub) roomFor(roomID string) string {
	if roomID == "" {
		return h.cfg.DefaultRoomID
	}
	return roomID
}

func (h *Hub) stamp() int64 {
	return h.now().UnixMilli()
}

func (h *Hub) rememberMessage(messageID, roomID string) {
	h.msgMu.Lock()
	h.messages[messageID] = roomID
	h.msgMu.Unlock()
}

// messageRoom returns the room a message was sent to, or "" when the hub
// never saw it (for example messages from before a restart).
func (h *Hub) messageRoom(messageID string) string {
	h.msgMu.RLock()
	defer h.msgMu.RUnlock()
	return h.messages[messageID]
}

func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (h *Hub) enqueue(name string, run func(ctx context.Context) error) {
	if h.persist == nil {
		return
	}
	h.persist.enqueue(name, run)
}

// fanout delivers ev to every connection of the given users except those of
// exceptUser. Callers hold the room lock so delivery order matches
// processing order.
func (h *Hub) fanout(userIDs []string, exceptUser string, ev Event) {
	payload, ok := h.encode(ev)
	if !ok {
		return
	}
	for _, userID := range userIDs {
		if userID == exceptUser {
			continue
		}
		for _, c := range h.registry.ConnectionsOf(userID) {
			h.deliver(c, payload)
		}
	}
}

func (h *Hub) broadcastAll(ev Event) {
	payload, ok := h.encode(ev)
	if !ok {
		return
	}
	for _, c := range h.registry.Connections() {
		h.deliver(c, payload)
	}
}

func (h *Hub) reply(conn Conn, ev Event) {
	if payload, ok := h.encode(ev); ok {
		h.deliver(conn, payload)
	}
}

func (h *Hub) replyError(conn Conn, roomID string, err error) {
	h.reply(conn, Event{Type: KindError, RoomID: roomID, Error: err.Error(), Timestamp: h.stamp()})
}

func (h *Hub) encode(ev Event) ([]byte, bool) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("failed to encode event", "kind", ev.Type, "err", err)
		return nil, false
	}
	return payload, true
}

// deliver enqueues payload on c. A connection whose queue is full is closed;
// its disconnect runs the normal cleanup path.
func (h *Hub) deliver(c registry.Conn, payload []byte) {
	if c.Send(payload) {
		return
	}
	h.log.Warn("outbound queue full; closing connection", "conn", c.ID())
	c.Close()
}

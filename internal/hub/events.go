package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Tyrowin/chathub/internal/presence"
	"github.com/Tyrowin/chathub/internal/reactions"
)

// Kind is the "type" field of an event on the wire.
type Kind string

// Inbound and outbound event kinds.
const (
	KindJoin           Kind = "join"
	KindMessage        Kind = "message"
	KindLeave          Kind = "leave"
	KindUserList       Kind = "user_list"
	KindTyping         Kind = "typing"
	KindStopTyping     Kind = "stop_typing"
	KindReactionAdd    Kind = "reaction_add"
	KindReactionRemove Kind = "reaction_remove"
	KindRead           Kind = "read"
	KindReadReceipt    Kind = "read_receipt"
	KindCreateRoom     Kind = "create_room"
	KindRoomCreated    Kind = "room_created"
	KindListRooms      Kind = "list_rooms"
	KindRoomList       Kind = "room_list"
	KindError          Kind = "error"
)

// maxEmojiLength bounds the emoji field; a single grapheme with modifiers
// fits comfortably.
const maxEmojiLength = 32

var (
	// ErrMalformedEvent is returned for payloads that cannot be decoded or lack required fields.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrUnknownKind is returned for a type the hub does not accept from clients.
	ErrUnknownKind = fmt.Errorf("%w: unknown kind", ErrMalformedEvent)
	// ErrNotMember is returned when a room action comes from a non-member.
	ErrNotMember = errors.New("not a room member")
	// ErrNotIdentified is returned when a connection acts before joining.
	ErrNotIdentified = errors.New("connection has not joined")
)

// Inbound is the closed set of events a client may send. Dispatch switches
// over the concrete types; every variant lives in this file.
type Inbound interface {
	Kind() Kind
	inbound()
}

// Join asks to enter a room under a display name.
type Join struct {
	RoomID   string
	Username string
}

// Chat is a message to relay to a room.
type Chat struct {
	RoomID  string
	Content string
}

// Leave exits one room, or every room and the registry when RoomID is empty.
type Leave struct {
	RoomID string
}

// TypingStart signals that the sender is typing.
type TypingStart struct {
	RoomID string
}

// TypingStop signals that the sender stopped typing.
type TypingStop struct {
	RoomID string
}

// ReactionAdd adds an emoji reaction to a message.
type ReactionAdd struct {
	RoomID    string
	MessageID string
	Emoji     string
}

// ReactionRemove removes an emoji reaction from a message.
type ReactionRemove struct {
	RoomID    string
	MessageID string
	Emoji     string
}

// Read marks a message as read by the sender.
type Read struct {
	RoomID    string
	MessageID string
}

// CreateRoom creates a new room.
type CreateRoom struct {
	Name string
}

// ListRooms asks for the room list.
type ListRooms struct{}

func (Join) Kind() Kind           { return KindJoin }
func (Chat) Kind() Kind           { return KindMessage }
func (Leave) Kind() Kind          { return KindLeave }
func (TypingStart) Kind() Kind    { return KindTyping }
func (TypingStop) Kind() Kind     { return KindStopTyping }
func (ReactionAdd) Kind() Kind    { return KindReactionAdd }
func (ReactionRemove) Kind() Kind { return KindReactionRemove }
func (Read) Kind() Kind           { return KindRead }
func (CreateRoom) Kind() Kind     { return KindCreateRoom }
func (ListRooms) Kind() Kind      { return KindListRooms }

func (Join) inbound()           {}
func (Chat) inbound()           {}
func (Leave) inbound()          {}
func (TypingStart) inbound()    {}
func (TypingStop) inbound()     {}
func (ReactionAdd) inbound()    {}
func (ReactionRemove) inbound() {}
func (Read) inbound()           {}
func (CreateRoom) inbound()     {}
func (ListRooms) inbound()      {}

// wireEvent is the JSON shape clients send. userId and timestamp are accepted
// but ignored; attribution comes from the registry.
type wireEvent struct {
	Type      Kind   `json:"type"`
	RoomID    string `json:"roomId"`
	Username  string `json:"username"`
	Content   string `json:"content"`
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
	Name      string `json:"name"`
}

// Decode parses a raw client frame into an Inbound variant. Validation that
// depends on hub state (membership, identity) happens in Dispatch.
func Decode(raw []byte) (Inbound, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	room := strings.TrimSpace(w.RoomID)

	switch w.Type {
	case KindJoin:
		return Join{RoomID: room, Username: w.Username}, nil
	case KindMessage:
		content := strings.TrimSpace(w.Content)
		if content == "" {
			return nil, fmt.Errorf("%w: message content is required", ErrMalformedEvent)
		}
		return Chat{RoomID: room, Content: content}, nil
	case KindLeave:
		return Leave{RoomID: room}, nil
	case KindTyping:
		return TypingStart{RoomID: room}, nil
	case KindStopTyping:
		return TypingStop{RoomID: room}, nil
	case KindReactionAdd, KindReactionRemove:
		messageID, emoji, err := reactionFields(w)
		if err != nil {
			return nil, err
		}
		if w.Type == KindReactionAdd {
			return ReactionAdd{RoomID: room, MessageID: messageID, Emoji: emoji}, nil
		}
		return ReactionRemove{RoomID: room, MessageID: messageID, Emoji: emoji}, nil
	case KindRead:
		messageID := strings.TrimSpace(w.MessageID)
		if messageID == "" {
			return nil, fmt.Errorf("%w: messageId is required", ErrMalformedEvent)
		}
		return Read{RoomID: room, MessageID: messageID}, nil
	case KindCreateRoom:
		if strings.TrimSpace(w.Name) == "" {
			return nil, fmt.Errorf("%w: room name is required", ErrMalformedEvent)
		}
		return CreateRoom{Name: w.Name}, nil
	case KindListRooms:
		return ListRooms{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, w.Type)
	}
}

func reactionFields(w wireEvent) (string, string, error) {
	messageID := strings.TrimSpace(w.MessageID)
	emoji := strings.TrimSpace(w.Emoji)
	if messageID == "" || emoji == "" {
		return "", "", fmt.Errorf("%w: messageId and emoji are required", ErrMalformedEvent)
	}
	if len(emoji) > maxEmojiLength || !utf8.ValidString(emoji) {
		return "", "", fmt.Errorf("%w: invalid emoji", ErrMalformedEvent)
	}
	return messageID, emoji, nil
}

// RoomInfo describes a room in a room_list event.
type RoomInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	UserCount int    `json:"userCount"`
	CreatedAt int64  `json:"createdAt"`
}

// Event is the JSON shape the hub sends to clients. Timestamps are Unix milliseconds.
type Event struct {
	Type      Kind                  `json:"type"`
	RoomID    string                `json:"roomId,omitempty"`
	UserID    string                `json:"userId,omitempty"`
	Username  string                `json:"username,omitempty"`
	Content   string                `json:"content,omitempty"`
	Timestamp int64                 `json:"timestamp,omitempty"`
	Users     []string              `json:"users,omitempty"`
	Members   []presence.Member     `json:"members,omitempty"`
	MessageID string                `json:"messageId,omitempty"`
	Emoji     string                `json:"emoji,omitempty"`
	Reaction  *reactions.EmojiState `json:"reaction,omitempty"`
	ReadBy    []string              `json:"readBy,omitempty"`
	Name      string                `json:"name,omitempty"`
	Rooms     []RoomInfo            `json:"rooms,omitempty"`
	Error     string                `json:"error,omitempty"`
}

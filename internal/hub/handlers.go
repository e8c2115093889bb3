package hub

import (
	"context"
	"errors"
	"fmt"

	"github.com/Tyrowin/chathub/internal/domain"
	"github.com/Tyrowin/chathub/internal/presence"
	"github.com/Tyrowin/chathub/internal/reactions"
	"github.com/Tyrowin/chathub/internal/receipts"
	"github.com/Tyrowin/chathub/internal/registry"
	"github.com/Tyrowin/chathub/internal/rooms"
	"github.com/Tyrowin/chathub/internal/typing"
)

// enterRoom locks an existing room. Unknown rooms never get a lock entry.
func (h *Hub) enterRoom(roomID string) (func(), error) {
	if !h.catalog.Exists(roomID) {
		return nil, fmt.Errorf("%w: %s", rooms.ErrRoomNotFound, roomID)
	}
	return h.lockRoom(roomID), nil
}

// identify returns the identity conn joined with.
func (h *Hub) identify(conn Conn) (registry.Identity, error) {
	ident, err := h.registry.Lookup(conn.ID())
	if err != nil {
		return registry.Identity{}, fmt.Errorf("%w: %s", ErrNotIdentified, conn.ID())
	}
	return ident, nil
}

// memberIdentity resolves the sender and checks it belongs to roomID. The
// caller must hold the room lock.
func (h *Hub) memberIdentity(conn Conn, roomID string) (registry.Identity, error) {
	ident, err := h.identify(conn)
	if err != nil {
		return registry.Identity{}, err
	}
	if !h.members.IsMember(roomID, ident.UserID) {
		return registry.Identity{}, fmt.Errorf("%w: %s in %s", ErrNotMember, ident.UserID, roomID)
	}
	return ident, nil
}

func (h *Hub) join(conn Conn, e Join) error {
	roomID := h.roomFor(e.RoomID)
	if !h.catalog.Exists(roomID) {
		err := fmt.Errorf("%w: %s", rooms.ErrRoomNotFound, roomID)
		h.replyError(conn, roomID, err)
		return err
	}

	ident, err := h.registry.Lookup(conn.ID())
	if errors.Is(err, registry.ErrNotFound) {
		if _, err = h.registry.Register(conn, conn.UserID(), e.Username); err != nil {
			h.replyError(conn, roomID, err)
			return err
		}
		ident, err = h.registry.Lookup(conn.ID())
	}
	if err != nil {
		return err
	}

	unlock := h.lockRoom(roomID)
	defer unlock()

	members, added := h.members.Join(roomID, ident.UserID)
	if !added {
		// Already present: refresh the sender's view only.
		snapshot := h.presence.Snapshot(roomID)
		h.reply(conn, Event{
			Type:      KindUserList,
			RoomID:    roomID,
			Users:     presence.Change{RoomID: roomID, Members: snapshot}.Names(),
			Members:   snapshot,
			Timestamp: h.stamp(),
		})
		h.replayTyping(conn, roomID, ident.UserID)
		return nil
	}

	h.log.Info("user joined",
		"conn", conn.ID(),
		"user", ident.UserID,
		"username", ident.DisplayName,
		"room", roomID,
		"members", len(members),
	)
	h.fanout(members, ident.UserID, Event{
		Type:      KindJoin,
		RoomID:    roomID,
		UserID:    ident.UserID,
		Username:  ident.DisplayName,
		Timestamp: h.stamp(),
	})
	h.broadcastPresence(members, roomID)
	h.replayTyping(conn, roomID, ident.UserID)
	return nil
}

// replayTyping tells a newcomer who is already typing in roomID.
func (h *Hub) replayTyping(conn Conn, roomID, self string) {
	for _, userID := range h.typing.Active(roomID) {
		if userID == self {
			continue
		}
		username, ok := h.registry.DisplayName(userID)
		if !ok {
			username = userID
		}
		h.reply(conn, Event{
			Type:      KindTyping,
			RoomID:    roomID,
			UserID:    userID,
			Username:  username,
			Timestamp: h.stamp(),
		})
	}
}

func (h *Hub) broadcastPresence(members []string, roomID string) {
	change := h.presence.Changed(roomID)
	h.fanout(members, "", Event{
		Type:      KindUserList,
		RoomID:    roomID,
		Users:     change.Names(),
		Members:   change.Members,
		Timestamp: h.stamp(),
	})
}

func (h *Hub) chat(conn Conn, e Chat) error {
	roomID := h.roomFor(e.RoomID)

	unlock, err := h.enterRoom(roomID)
	if err != nil {
		return err
	}
	defer unlock()

	ident, err := h.memberIdentity(conn, roomID)
	if err != nil {
		return err
	}

	if h.typing.Stop(roomID, ident.UserID) {
		h.fanout(h.members.MembersOf(roomID), ident.UserID, Event{
			Type:      KindStopTyping,
			RoomID:    roomID,
			UserID:    ident.UserID,
			Username:  ident.DisplayName,
			Timestamp: h.stamp(),
		})
	}

	msg := domain.Message{
		ID:        newMessageID(),
		RoomID:    roomID,
		UserID:    ident.UserID,
		Username:  ident.DisplayName,
		Content:   e.Content,
		CreatedAt: h.now(),
	}
	h.rememberMessage(msg.ID, roomID)

	h.fanout(h.members.MembersOf(roomID), "", Event{
		Type:      KindMessage,
		RoomID:    roomID,
		MessageID: msg.ID,
		UserID:    msg.UserID,
		Username:  msg.Username,
		Content:   msg.Content,
		Timestamp: msg.CreatedAt.UnixMilli(),
	})
	h.enqueue("save_message", func(ctx context.Context) error {
		return h.store.SaveMessage(ctx, msg)
	})
	return nil
}

func (h *Hub) leave(conn Conn, e Leave) error {
	if e.RoomID == "" {
		// The socket stays open; only the identity and its rooms go.
		removal, ok := h.registry.Forget(conn.ID())
		if !ok || !removal.Identified {
			return fmt.Errorf("%w: %s", ErrNotIdentified, conn.ID())
		}
		h.log.Info("user left all rooms",
			"conn", conn.ID(),
			"user", removal.Identity.UserID,
			"username", removal.Identity.DisplayName,
		)
		h.release(removal)
		return nil
	}

	unlock, err := h.enterRoom(e.RoomID)
	if err != nil {
		return err
	}
	defer unlock()

	ident, err := h.memberIdentity(conn, e.RoomID)
	if err != nil {
		return err
	}
	h.leaveRoomLocked(e.RoomID, ident.UserID, ident.DisplayName)
	return nil
}

// leaveRoomLocked stops the user's typing signal in roomID, removes the
// membership and tells the remaining members. The caller holds the room lock.
func (h *Hub) leaveRoomLocked(roomID, userID, username string) {
	if h.typing.Stop(roomID, userID) {
		h.fanout(h.members.MembersOf(roomID), userID, Event{
			Type:      KindStopTyping,
			RoomID:    roomID,
			UserID:    userID,
			Username:  username,
			Timestamp: h.stamp(),
		})
	}

	members, removed := h.members.Leave(roomID, userID)
	if !removed {
		return
	}

	h.log.Info("user left", "user", userID, "username", username, "room", roomID, "members", len(members))
	h.fanout(members, "", Event{
		Type:      KindLeave,
		RoomID:    roomID,
		UserID:    userID,
		Username:  username,
		Timestamp: h.stamp(),
	})
	h.broadcastPresence(members, roomID)
}

func (h *Hub) typingStart(conn Conn, e TypingStart) error {
	roomID := h.roomFor(e.RoomID)

	unlock, err := h.enterRoom(roomID)
	if err != nil {
		return err
	}
	defer unlock()

	ident, err := h.memberIdentity(conn, roomID)
	if err != nil {
		return err
	}
	if !h.typing.Start(roomID, ident.UserID) {
		return nil
	}
	h.fanout(h.members.MembersOf(roomID), ident.UserID, Event{
		Type:      KindTyping,
		RoomID:    roomID,
		UserID:    ident.UserID,
		Username:  ident.DisplayName,
		Timestamp: h.stamp(),
	})
	return nil
}

func (h *Hub) typingStop(conn Conn, e TypingStop) error {
	roomID := h.roomFor(e.RoomID)

	unlock, err := h.enterRoom(roomID)
	if err != nil {
		return err
	}
	defer unlock()

	ident, err := h.memberIdentity(conn, roomID)
	if err != nil {
		return err
	}
	if !h.typing.Stop(roomID, ident.UserID) {
		return nil
	}
	h.fanout(h.members.MembersOf(roomID), ident.UserID, Event{
		Type:      KindStopTyping,
		RoomID:    roomID,
		UserID:    ident.UserID,
		Username:  ident.DisplayName,
		Timestamp: h.stamp(),
	})
	return nil
}

// expireTyping runs on the typing timer goroutine. It confirms the expiry
// under the room lock so it cannot race a stop, leave or disconnect.
func (h *Hub) expireTyping(key typing.Key, gen uint64) {
	if h.closed.Load() {
		return
	}

	unlock := h.lockRoom(key.RoomID)
	defer unlock()

	if !h.typing.Expire(key.RoomID, key.UserID, gen) {
		return
	}
	username, ok := h.registry.DisplayName(key.UserID)
	if !ok {
		username = key.UserID
	}
	h.log.Debug("typing signal expired", "room", key.RoomID, "user", key.UserID)
	h.fanout(h.members.MembersOf(key.RoomID), key.UserID, Event{
		Type:      KindStopTyping,
		RoomID:    key.RoomID,
		UserID:    key.UserID,
		Username:  username,
		Timestamp: h.stamp(),
	})
}

// messageRoomFor resolves the room that owns messageID, falling back to the
// room named by the client.
func (h *Hub) messageRoomFor(messageID, hint string) (string, error) {
	roomID := h.messageRoom(messageID)
	if roomID == "" {
		roomID = h.roomFor(hint)
	}
	if !h.catalog.Exists(roomID) {
		return "", fmt.Errorf("%w: %s", rooms.ErrRoomNotFound, roomID)
	}
	return roomID, nil
}

func (h *Hub) react(conn Conn, roomHint, messageID, emoji string, add bool) error {
	ident, err := h.identify(conn)
	if err != nil {
		return err
	}
	roomID, err := h.messageRoomFor(messageID, roomHint)
	if err != nil {
		return err
	}

	unlock := h.lockRoom(roomID)
	defer unlock()

	var (
		state   reactions.State
		changed bool
		kind    = KindReactionRemove
	)
	if add {
		kind = KindReactionAdd
		state, changed = h.reactions.Add(messageID, emoji, reactions.Reactor{
			UserID:   ident.UserID,
			Username: ident.DisplayName,
		})
	} else {
		state, changed = h.reactions.Remove(messageID, emoji, ident.UserID)
	}
	if !changed {
		return nil
	}

	ev := Event{
		Type:      kind,
		RoomID:    roomID,
		MessageID: messageID,
		Emoji:     emoji,
		UserID:    ident.UserID,
		Username:  ident.DisplayName,
		Timestamp: h.stamp(),
	}
	if es, ok := state.Get(emoji); ok {
		ev.Reaction = &es
	}

	audience := h.members.MembersOf(roomID)
	if !h.members.IsMember(roomID, ident.UserID) {
		audience = append(audience, ident.UserID)
	}
	h.fanout(audience, "", ev)

	change := domain.ReactionChange{
		MessageID: messageID,
		UserID:    ident.UserID,
		Username:  ident.DisplayName,
		Emoji:     emoji,
		Added:     add,
		At:        h.now(),
	}
	h.enqueue(string(kind), func(ctx context.Context) error {
		if change.Added {
			return h.store.AddReaction(ctx, change)
		}
		return h.store.RemoveReaction(ctx, change)
	})
	return nil
}

func (h *Hub) read(conn Conn, e Read) error {
	roomID, err := h.messageRoomFor(e.MessageID, e.RoomID)
	if err != nil {
		return err
	}

	unlock, err := h.enterRoom(roomID)
	if err != nil {
		return err
	}
	defer unlock()

	ident, err := h.memberIdentity(conn, roomID)
	if err != nil {
		return err
	}
	readBy, changed := h.receipts.Mark(e.MessageID, receipts.Reader{
		UserID:   ident.UserID,
		Username: ident.DisplayName,
	})
	if !changed {
		return nil
	}

	h.fanout(h.members.MembersOf(roomID), "", Event{
		Type:      KindReadReceipt,
		RoomID:    roomID,
		MessageID: e.MessageID,
		UserID:    ident.UserID,
		Username:  ident.DisplayName,
		ReadBy:    readBy,
		Timestamp: h.stamp(),
	})

	receipt := domain.Receipt{
		MessageID: e.MessageID,
		UserID:    ident.UserID,
		Username:  ident.DisplayName,
		ReadAt:    h.now(),
	}
	h.enqueue("mark_read", func(ctx context.Context) error {
		return h.store.MarkRead(ctx, receipt)
	})
	return nil
}

func (h *Hub) createRoomFor(conn Conn, e CreateRoom) error {
	ident, err := h.identify(conn)
	if err != nil {
		return err
	}
	if _, err := h.CreateRoom(e.Name, ident.UserID); err != nil {
		h.replyError(conn, "", err)
		return err
	}
	return nil
}

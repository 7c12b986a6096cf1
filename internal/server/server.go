package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wellnesshub/wellness-chat/internal/presence"
	"github.com/wellnesshub/wellness-chat/internal/store"
	"github.com/wellnesshub/wellness-chat/internal/types"
)

const cleanupTimeout = 5 * time.Second

// ChatServer owns the broadcast group registry and translates session
// events into store and presence mutations plus fan-outs. Mutations are
// always persisted before the matching broadcast; a crash between the
// two loses only the broadcast, never the data.
type ChatServer struct {
	log      *zap.Logger
	store    store.Store
	presence presence.Presence
	groups   *GroupRegistry

	clientsMu sync.Mutex
	clients   map[*Client]struct{}
}

func NewChatServer(log *zap.Logger, st store.Store, pr presence.Presence) (*ChatServer, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if pr == nil {
		return nil, fmt.Errorf("presence cannot be nil")
	}

	return &ChatServer{
		log:      log,
		store:    st,
		presence: pr,
		groups:   NewGroupRegistry(log),
		clients:  make(map[*Client]struct{}),
	}, nil
}

// Connect registers a freshly upgraded chat session: presence record,
// default room membership, and broadcast group membership, then fans
// out the online/join events. Group registration happens before any
// event is fanned out, so the session cannot miss a broadcast that
// follows its own join.
func (cs *ChatServer) Connect(ctx context.Context, c *Client) error {
	room, err := cs.store.GetOrCreateDefaultRoom(ctx, c.user.Id)
	if err != nil {
		return fmt.Errorf("get or create default room: %w", err)
	}

	if _, err := cs.store.UpsertMember(ctx, room.Id, c.user.Id, types.RoleMember); err != nil {
		return fmt.Errorf("upsert membership: %w", err)
	}

	c.addRoom(room)
	c.setCurrent(room.ExternalId)
	cs.groups.Add(RoomGroup(room.ExternalId), c)
	cs.addClient(c)

	// Upsert, not insert: a reconnect from the same identity replaces
	// the previous session's record.
	err = cs.presence.MarkOnline(ctx, types.PresenceEntry{
		UserId:    c.user.Id,
		Username:  c.user.Username,
		Avatar:    c.user.Avatar,
		SessionId: c.sessionId,
		RoomId:    room.Id,
		LastSeen:  Now(),
	})
	if err != nil {
		cs.groups.Discard(RoomGroup(room.ExternalId), c)
		cs.removeClient(c)
		return fmt.Errorf("mark online: %w", err)
	}

	cs.groups.Send(OnlineUsersGroup, NewUserOnline(c.user))
	cs.groups.Send(RoomGroup(room.ExternalId),
		NewSystemEvent("join", c.user, room.ExternalId,
			fmt.Sprintf("%s joined the chat", c.user.Username)))

	cs.log.Info("session connected",
		zap.String("session_id", c.sessionId),
		zap.Int64("user_id", c.user.Id),
		zap.String("room", room.ExternalId))

	return nil
}

// ConnectObserver registers a presence-only session: it joins the
// global presence group and receives the current online snapshot.
func (cs *ChatServer) ConnectObserver(ctx context.Context, c *Client) error {
	cs.groups.Add(OnlineUsersGroup, c)
	cs.addClient(c)

	users, err := cs.presence.ListOnline(ctx)
	if err != nil {
		// Roll back the registration so a session that never got its
		// snapshot cannot linger in the group.
		cs.groups.Discard(OnlineUsersGroup, c)
		cs.removeClient(c)
		return fmt.Errorf("list online: %w", err)
	}
	c.queueEvent(NewOnlineUsers(users))

	return nil
}

// Disconnect runs the full offline cleanup for a session. It is
// idempotent and unconditional: calling it twice is a no-op, and it
// completes even when the transport is already gone.
func (cs *ChatServer) Disconnect(c *Client) {
	c.cleanupOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()

		rooms := c.roomList()
		cs.groups.RemoveAll(c)
		cs.removeClient(c)
		c.stopClient()

		if c.observer {
			return
		}

		if err := cs.presence.MarkOffline(ctx, c.user.Id); err != nil {
			cs.log.Error("mark offline", zap.Error(err),
				zap.Int64("user_id", c.user.Id))
		}
		if err := cs.store.SetAllMembersOffline(ctx, c.user.Id); err != nil {
			cs.log.Error("set members offline", zap.Error(err),
				zap.Int64("user_id", c.user.Id))
		}

		for _, room := range rooms {
			cs.groups.Send(RoomGroup(room.ExternalId),
				NewSystemEvent("leave", c.user, room.ExternalId,
					fmt.Sprintf("%s left the chat", c.user.Username)))
		}
		cs.groups.Send(OnlineUsersGroup, NewUserOffline(c.user.Id))

		cs.log.Info("session disconnected",
			zap.String("session_id", c.sessionId),
			zap.Int64("user_id", c.user.Id))
	})
}

// BroadcastMessage fans out an already persisted message to its room
// group. Used by the HTTP message path so REST-created messages reach
// live sessions too.
func (cs *ChatServer) BroadcastMessage(roomExternalId string, msg types.Message, sender types.User) {
	cs.groups.Send(RoomGroup(roomExternalId), NewChatMessage(msg, sender, roomExternalId))
}

// Shutdown closes every live session and releases all groups.
func (cs *ChatServer) Shutdown() {
	cs.clientsMu.Lock()
	clients := make([]*Client, 0, len(cs.clients))
	for c := range cs.clients {
		clients = append(clients, c)
	}
	cs.clientsMu.Unlock()

	for _, c := range clients {
		cs.Disconnect(c)
	}

	cs.groups.Close()
	cs.log.Info("chat server shut down")
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsMu.Lock()
	defer cs.clientsMu.Unlock()
	cs.clients[c] = struct{}{}
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsMu.Lock()
	defer cs.clientsMu.Unlock()
	delete(cs.clients, c)
}

// resolveRoom maps a wire room identifier to a Room. An empty id means
// the session's current room; the well-known default id resolves with
// get-or-create so the default room always exists.
func (cs *ChatServer) resolveRoom(ctx context.Context, c *Client, roomId string) (types.Room, error) {
	if roomId == "" {
		if r, ok := c.currentRoom(); ok {
			return r, nil
		}
		roomId = store.DefaultRoomExternalId
	}

	if r, ok := c.getRoom(roomId); ok {
		return r, nil
	}

	if roomId == store.DefaultRoomExternalId {
		return cs.store.GetOrCreateDefaultRoom(ctx, c.user.Id)
	}

	return cs.store.GetRoomByExternalId(ctx, roomId)
}

func (cs *ChatServer) handleChatMessage(c *Client, ev *ClientEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	content := strings.TrimSpace(ev.Content)
	if content == "" {
		c.queueEvent(ErrEmptyContent())
		return
	}

	msgType := types.MessageType(ev.MessageType)
	if ev.MessageType == "" {
		msgType = types.MessageTypeText
	}
	if !msgType.Valid() {
		c.queueEvent(ErrInvalidMessageType())
		return
	}

	room, err := cs.resolveRoom(ctx, c, ev.RoomId)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.queueEvent(ErrRoomNotFound())
		} else {
			cs.log.Error("resolve room", zap.Error(err))
			c.queueEvent(ErrInternalError())
		}
		return
	}

	isMember, err := cs.store.IsMember(ctx, room.Id, c.user.Id)
	if err != nil {
		cs.log.Error("check membership", zap.Error(err))
		c.queueEvent(ErrInternalError())
		return
	}
	if !isMember {
		c.queueEvent(ErrNotAMember())
		return
	}

	// Replies must target a message in the same room.
	if ev.ReplyTo != nil {
		parent, err := cs.store.GetMessage(ctx, *ev.ReplyTo)
		if err != nil || parent.RoomId != room.Id {
			c.queueEvent(ErrInvalidReplyTo())
			return
		}
	}

	msg, err := cs.store.InsertMessage(ctx, store.InsertMessageParams{
		RoomId:  room.Id,
		UserId:  c.user.Id,
		Content: content,
		Type:    msgType,
		ReplyTo: ev.ReplyTo,
	})
	if err != nil {
		// Fail closed: a message that did not persist is never broadcast.
		cs.log.Error("insert message", zap.Error(err))
		c.queueEvent(ErrInternalError())
		return
	}

	cs.groups.Send(RoomGroup(room.ExternalId), NewChatMessage(msg, c.user, room.ExternalId))
}

func (cs *ChatServer) handleTyping(c *Client, ev *ClientEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	// Typing is transient and non-critical: an unresolvable room is
	// dropped silently, no error event.
	room, err := cs.resolveRoom(ctx, c, ev.RoomId)
	if err != nil {
		return
	}

	cs.groups.Send(RoomGroup(room.ExternalId), NewTyping(c.user, room.ExternalId, ev.IsTyping))
}

func (cs *ChatServer) handleJoinRoom(c *Client, ev *ClientEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	room, err := cs.resolveRoom(ctx, c, ev.RoomId)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.queueEvent(ErrRoomNotFound())
		} else {
			cs.log.Error("resolve room", zap.Error(err))
			c.queueEvent(ErrInternalError())
		}
		return
	}

	if _, err := cs.store.UpsertMember(ctx, room.Id, c.user.Id, types.RoleMember); err != nil {
		cs.log.Error("upsert membership", zap.Error(err))
		c.queueEvent(ErrInternalError())
		return
	}

	c.addRoom(room)
	c.setCurrent(room.ExternalId)
	cs.groups.Add(RoomGroup(room.ExternalId), c)

	cs.groups.Send(RoomGroup(room.ExternalId), NewUserJoined(c.user, room.ExternalId))
}

func (cs *ChatServer) handleLeaveRoom(c *Client, ev *ClientEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	room, err := cs.resolveRoom(ctx, c, ev.RoomId)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.queueEvent(ErrRoomNotFound())
		} else {
			cs.log.Error("resolve room", zap.Error(err))
			c.queueEvent(ErrInternalError())
		}
		return
	}

	// The membership row is kept; only the online flag is cleared.
	if err := cs.store.SetMemberOnline(ctx, room.Id, c.user.Id, false); err != nil {
		cs.log.Error("set member online", zap.Error(err))
		c.queueEvent(ErrInternalError())
		return
	}

	cs.groups.Send(RoomGroup(room.ExternalId), NewUserLeft(c.user, room.ExternalId))
	cs.groups.Discard(RoomGroup(room.ExternalId), c)
	c.delRoom(room.ExternalId)
}

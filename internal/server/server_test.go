package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/wellnesshub/wellness-chat/internal/presence"
	"github.com/wellnesshub/wellness-chat/internal/store"
	"github.com/wellnesshub/wellness-chat/internal/testutil"
	"github.com/wellnesshub/wellness-chat/internal/types"
)

func newTestChatServer(t *testing.T, st store.Store, pr presence.Presence) *ChatServer {
	t.Helper()
	cs, err := NewChatServer(testutil.TestLogger(t), st, pr)
	require.NoError(t, err)
	return cs
}

// joinTestRoom wires a client into a room the way a completed connect
// or join would, without going through the store.
func joinTestRoom(cs *ChatServer, c *Client, room types.Room) {
	c.addRoom(room)
	c.setCurrent(room.ExternalId)
	cs.groups.Add(RoomGroup(room.ExternalId), c)
}

func recvEvent(t *testing.T, c *Client) *ServerEvent {
	t.Helper()
	select {
	case ev := <-c.send:
		return ev
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout: expected event was not queued")
		return nil
	}
}

func assertNoEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case ev := <-c.send:
		t.Errorf("expected no event, got %q", ev.Type)
	default:
	}
}

var testRoom = types.Room{
	Id:         1,
	ExternalId: store.DefaultRoomExternalId,
	Name:       store.DefaultRoomName,
	IsPublic:   true,
	IsActive:   true,
}

func TestNewChatServer(t *testing.T) {
	t.Run("requires a store", func(t *testing.T) {
		_, err := NewChatServer(testutil.TestLogger(t), nil, &presence.MockPresence{})
		assert.Error(t, err)
	})

	t.Run("requires a presence tracker", func(t *testing.T) {
		_, err := NewChatServer(testutil.TestLogger(t), &store.MockStore{}, nil)
		assert.Error(t, err)
	})
}

func TestConnect(t *testing.T) {
	t.Run("registers session and announces it", func(t *testing.T) {
		st := &store.MockStore{}
		pr := &presence.MockPresence{}
		cs := newTestChatServer(t, st, pr)

		user := types.User{Id: 7, Username: "testuser"}
		c := NewClient(user, nil, cs, testutil.TestLogger(t))

		watcher := NewClient(types.User{Id: 8, Username: "watcher"}, nil, cs, testutil.TestLogger(t))
		cs.groups.Add(OnlineUsersGroup, watcher)

		st.On("GetOrCreateDefaultRoom", mock.Anything, user.Id).Return(testRoom, nil)
		st.On("UpsertMember", mock.Anything, testRoom.Id, user.Id, types.RoleMember).
			Return(types.Member{RoomId: testRoom.Id, UserId: user.Id, Role: types.RoleMember, IsOnline: true}, nil)
		pr.On("MarkOnline", mock.Anything, mock.MatchedBy(func(e types.PresenceEntry) bool {
			return e.UserId == user.Id && e.RoomId == testRoom.Id && e.SessionId != ""
		})).Return(nil)

		require.NoError(t, cs.Connect(context.Background(), c))

		assert.Equal(t, 1, cs.groups.Len(RoomGroup(testRoom.ExternalId)), "expected session in room group")
		room, ok := c.currentRoom()
		require.True(t, ok, "expected a current room after connect")
		assert.Equal(t, testRoom.ExternalId, room.ExternalId)

		online := recvEvent(t, watcher)
		assert.Equal(t, EventUserOnline, online.Type)
		require.NotNil(t, online.User)
		assert.Equal(t, user.Id, online.User.Id)
		assertNoEvent(t, watcher)

		joined := recvEvent(t, c)
		assert.Equal(t, EventSystem, joined.Type)
		assert.Equal(t, "join", joined.Event)
		assert.Equal(t, testRoom.ExternalId, joined.RoomId)

		st.AssertExpectations(t)
		pr.AssertExpectations(t)
	})

	t.Run("store failure aborts connect", func(t *testing.T) {
		st := &store.MockStore{}
		pr := &presence.MockPresence{}
		cs := newTestChatServer(t, st, pr)

		st.On("GetOrCreateDefaultRoom", mock.Anything, mock.Anything).
			Return(types.Room{}, errors.New("db down"))

		c := NewClient(types.User{Id: 7, Username: "testuser"}, nil, cs, testutil.TestLogger(t))
		err := cs.Connect(context.Background(), c)

		assert.Error(t, err)
		pr.AssertNotCalled(t, "MarkOnline", mock.Anything, mock.Anything)
	})
}

func TestConnectObserver(t *testing.T) {
	t.Run("receives online snapshot", func(t *testing.T) {
		st := &store.MockStore{}
		pr := &presence.MockPresence{}
		cs := newTestChatServer(t, st, pr)

		entries := []types.PresenceEntry{
			{UserId: 1, Username: "user1", LastSeen: Now()},
			{UserId: 2, Username: "user2", LastSeen: Now()},
		}
		pr.On("ListOnline", mock.Anything).Return(entries, nil)

		c := NewObserverClient(types.User{}, nil, cs, testutil.TestLogger(t))
		require.NoError(t, cs.ConnectObserver(context.Background(), c))

		assert.Equal(t, 1, cs.groups.Len(OnlineUsersGroup))

		snapshot := recvEvent(t, c)
		assert.Equal(t, EventOnlineUsers, snapshot.Type)
		assert.Len(t, snapshot.Users, 2)
	})

	t.Run("failed snapshot leaves no registration", func(t *testing.T) {
		st := &store.MockStore{}
		pr := &presence.MockPresence{}
		cs := newTestChatServer(t, st, pr)

		pr.On("ListOnline", mock.Anything).
			Return([]types.PresenceEntry(nil), errors.New("connection refused"))

		c := NewObserverClient(types.User{}, nil, cs, testutil.TestLogger(t))
		err := cs.ConnectObserver(context.Background(), c)
		require.Error(t, err)

		assert.Equal(t, 0, cs.groups.Len(OnlineUsersGroup))
		cs.clientsMu.Lock()
		_, registered := cs.clients[c]
		cs.clientsMu.Unlock()
		assert.False(t, registered)
	})
}

func TestDisconnect(t *testing.T) {
	t.Run("cleanup runs exactly once", func(t *testing.T) {
		st := &store.MockStore{}
		pr := &presence.MockPresence{}
		cs := newTestChatServer(t, st, pr)

		user := types.User{Id: 7, Username: "testuser"}
		c := NewClient(user, nil, cs, testutil.TestLogger(t))
		joinTestRoom(cs, c, testRoom)
		cs.addClient(c)

		member := NewClient(types.User{Id: 8, Username: "member"}, nil, cs, testutil.TestLogger(t))
		joinTestRoom(cs, member, testRoom)
		watcher := NewClient(types.User{Id: 9, Username: "watcher"}, nil, cs, testutil.TestLogger(t))
		cs.groups.Add(OnlineUsersGroup, watcher)

		pr.On("MarkOffline", mock.Anything, user.Id).Return(nil)
		st.On("SetAllMembersOffline", mock.Anything, user.Id).Return(nil)

		cs.Disconnect(c)
		cs.Disconnect(c)

		pr.AssertNumberOfCalls(t, "MarkOffline", 1)
		st.AssertNumberOfCalls(t, "SetAllMembersOffline", 1)

		left := recvEvent(t, member)
		assert.Equal(t, EventSystem, left.Type)
		assert.Equal(t, "leave", left.Event)
		assertNoEvent(t, member)

		offline := recvEvent(t, watcher)
		assert.Equal(t, EventUserOffline, offline.Type)
		assert.Equal(t, user.Id, offline.UserId)
		assertNoEvent(t, watcher)

		assert.Empty(t, c.groupNames(), "expected session removed from all groups")
		assert.Equal(t, 1, cs.groups.Len(RoomGroup(testRoom.ExternalId)), "expected remaining member untouched")
	})

	t.Run("observer disconnect touches no state", func(t *testing.T) {
		st := &store.MockStore{}
		pr := &presence.MockPresence{}
		cs := newTestChatServer(t, st, pr)

		c := NewObserverClient(types.User{}, nil, cs, testutil.TestLogger(t))
		cs.groups.Add(OnlineUsersGroup, c)
		cs.addClient(c)

		cs.Disconnect(c)

		pr.AssertNotCalled(t, "MarkOffline", mock.Anything, mock.Anything)
		st.AssertNotCalled(t, "SetAllMembersOffline", mock.Anything, mock.Anything)
		assert.Equal(t, 0, cs.groups.Len(OnlineUsersGroup))
	})
}

func Test_handleChatMessage(t *testing.T) {
	user := types.User{Id: 7, Username: "testuser"}

	t.Run("persists then broadcasts", func(t *testing.T) {
		st := &store.MockStore{}
		pr := &presence.MockPresence{}
		cs := newTestChatServer(t, st, pr)

		sender := NewClient(user, nil, cs, testutil.TestLogger(t))
		receiver := NewClient(types.User{Id: 8, Username: "receiver"}, nil, cs, testutil.TestLogger(t))
		joinTestRoom(cs, sender, testRoom)
		joinTestRoom(cs, receiver, testRoom)

		st.On("IsMember", mock.Anything, testRoom.Id, user.Id).Return(true, nil)
		st.On("InsertMessage", mock.Anything, store.InsertMessageParams{
			RoomId:  testRoom.Id,
			UserId:  user.Id,
			Content: "hello",
			Type:    types.MessageTypeText,
		}).Return(types.Message{Id: 42, RoomId: testRoom.Id, UserId: user.Id, Content: "hello", Type: types.MessageTypeText}, nil)

		cs.handleChatMessage(sender, &ClientEvent{Type: clientChatMessage, Content: "hello"})

		for _, c := range []*Client{sender, receiver} {
			ev := recvEvent(t, c)
			assert.Equal(t, EventChatMessage, ev.Type)
			require.NotNil(t, ev.Message)
			assert.Equal(t, int64(42), ev.Message.Id, "expected the persisted message id")
			assert.Equal(t, testRoom.ExternalId, ev.RoomId)
		}

		st.AssertExpectations(t)
	})

	t.Run("rejects empty content without persisting", func(t *testing.T) {
		st := &store.MockStore{}
		cs := newTestChatServer(t, st, &presence.MockPresence{})
		sender := NewClient(user, nil, cs, testutil.TestLogger(t))
		joinTestRoom(cs, sender, testRoom)

		cs.handleChatMessage(sender, &ClientEvent{Type: clientChatMessage, Content: "   "})

		ev := recvEvent(t, sender)
		require.NotNil(t, ev.Error)
		assert.Equal(t, ErrEmptyContent().Error.Message, ev.Error.Message)
		st.AssertNotCalled(t, "InsertMessage", mock.Anything, mock.Anything)
	})

	t.Run("rejects unknown message type", func(t *testing.T) {
		st := &store.MockStore{}
		cs := newTestChatServer(t, st, &presence.MockPresence{})
		sender := NewClient(user, nil, cs, testutil.TestLogger(t))
		joinTestRoom(cs, sender, testRoom)

		cs.handleChatMessage(sender, &ClientEvent{Type: clientChatMessage, Content: "hi", MessageType: "carrier-pigeon"})

		ev := recvEvent(t, sender)
		require.NotNil(t, ev.Error)
		assert.Equal(t, ErrInvalidMessageType().Error.Message, ev.Error.Message)
		st.AssertNotCalled(t, "InsertMessage", mock.Anything, mock.Anything)
	})

	t.Run("unknown room", func(t *testing.T) {
		st := &store.MockStore{}
		cs := newTestChatServer(t, st, &presence.MockPresence{})
		sender := NewClient(user, nil, cs, testutil.TestLogger(t))

		st.On("GetRoomByExternalId", mock.Anything, "missing").Return(types.Room{}, store.ErrNotFound)

		cs.handleChatMessage(sender, &ClientEvent{Type: clientChatMessage, Content: "hi", RoomId: "missing"})

		ev := recvEvent(t, sender)
		require.NotNil(t, ev.Error)
		assert.Equal(t, ErrRoomNotFound().Error.Message, ev.Error.Message)
	})

	t.Run("non-member cannot send", func(t *testing.T) {
		st := &store.MockStore{}
		cs := newTestChatServer(t, st, &presence.MockPresence{})
		sender := NewClient(user, nil, cs, testutil.TestLogger(t))
		joinTestRoom(cs, sender, testRoom)

		st.On("IsMember", mock.Anything, testRoom.Id, user.Id).Return(false, nil)

		cs.handleChatMessage(sender, &ClientEvent{Type: clientChatMessage, Content: "hi"})

		ev := recvEvent(t, sender)
		require.NotNil(t, ev.Error)
		assert.Equal(t, ErrNotAMember().Error.Message, ev.Error.Message)
		st.AssertNotCalled(t, "InsertMessage", mock.Anything, mock.Anything)
	})

	t.Run("reply must target the same room", func(t *testing.T) {
		st := &store.MockStore{}
		cs := newTestChatServer(t, st, &presence.MockPresence{})
		sender := NewClient(user, nil, cs, testutil.TestLogger(t))
		joinTestRoom(cs, sender, testRoom)

		replyTo := int64(13)
		st.On("IsMember", mock.Anything, testRoom.Id, user.Id).Return(true, nil)
		st.On("GetMessage", mock.Anything, replyTo).
			Return(types.Message{Id: replyTo, RoomId: 99}, nil)

		cs.handleChatMessage(sender, &ClientEvent{Type: clientChatMessage, Content: "hi", ReplyTo: &replyTo})

		ev := recvEvent(t, sender)
		require.NotNil(t, ev.Error)
		assert.Equal(t, ErrInvalidReplyTo().Error.Message, ev.Error.Message)
		st.AssertNotCalled(t, "InsertMessage", mock.Anything, mock.Anything)
	})

	t.Run("failed insert is never broadcast", func(t *testing.T) {
		st := &store.MockStore{}
		cs := newTestChatServer(t, st, &presence.MockPresence{})
		sender := NewClient(user, nil, cs, testutil.TestLogger(t))
		receiver := NewClient(types.User{Id: 8, Username: "receiver"}, nil, cs, testutil.TestLogger(t))
		joinTestRoom(cs, sender, testRoom)
		joinTestRoom(cs, receiver, testRoom)

		st.On("IsMember", mock.Anything, testRoom.Id, user.Id).Return(true, nil)
		st.On("InsertMessage", mock.Anything, mock.Anything).
			Return(types.Message{}, errors.New("db down"))

		cs.handleChatMessage(sender, &ClientEvent{Type: clientChatMessage, Content: "hi"})

		ev := recvEvent(t, sender)
		require.NotNil(t, ev.Error)
		assert.Equal(t, ErrInternalError().Error.Message, ev.Error.Message)
		assertNoEvent(t, receiver)
	})

	t.Run("messages from one sender arrive in send order", func(t *testing.T) {
		st := &store.MockStore{}
		cs := newTestChatServer(t, st, &presence.MockPresence{})
		sender := NewClient(user, nil, cs, testutil.TestLogger(t))
		receiver := NewClient(types.User{Id: 8, Username: "receiver"}, nil, cs, testutil.TestLogger(t))
		joinTestRoom(cs, sender, testRoom)
		joinTestRoom(cs, receiver, testRoom)

		st.On("IsMember", mock.Anything, testRoom.Id, user.Id).Return(true, nil)
		st.On("InsertMessage", mock.Anything, mock.Anything).
			Return(types.Message{Id: 1, RoomId: testRoom.Id, UserId: user.Id, Content: "first", Type: types.MessageTypeText}, nil).Once()
		st.On("InsertMessage", mock.Anything, mock.Anything).
			Return(types.Message{Id: 2, RoomId: testRoom.Id, UserId: user.Id, Content: "second", Type: types.MessageTypeText}, nil).Once()

		cs.handleChatMessage(sender, &ClientEvent{Type: clientChatMessage, Content: "first"})
		cs.handleChatMessage(sender, &ClientEvent{Type: clientChatMessage, Content: "second"})

		first := recvEvent(t, receiver)
		second := recvEvent(t, receiver)
		require.NotNil(t, first.Message)
		require.NotNil(t, second.Message)
		assert.Equal(t, "first", first.Message.Content)
		assert.Equal(t, "second", second.Message.Content)
		assert.Less(t, first.Message.Id, second.Message.Id)
	})
}

func Test_handleTyping(t *testing.T) {
	user := types.User{Id: 7, Username: "testuser"}

	t.Run("fans out typing state", func(t *testing.T) {
		st := &store.MockStore{}
		cs := newTestChatServer(t, st, &presence.MockPresence{})
		sender := NewClient(user, nil, cs, testutil.TestLogger(t))
		receiver := NewClient(types.User{Id: 8, Username: "receiver"}, nil, cs, testutil.TestLogger(t))
		joinTestRoom(cs, sender, testRoom)
		joinTestRoom(cs, receiver, testRoom)

		cs.handleTyping(sender, &ClientEvent{Type: clientTyping, IsTyping: true})

		ev := recvEvent(t, receiver)
		assert.Equal(t, EventTyping, ev.Type)
		require.NotNil(t, ev.Typing)
		assert.True(t, ev.Typing.IsTyping)
		assert.Equal(t, user.Username, ev.Typing.User.Username)
	})

	t.Run("unresolvable room is dropped silently", func(t *testing.T) {
		st := &store.MockStore{}
		cs := newTestChatServer(t, st, &presence.MockPresence{})
		sender := NewClient(user, nil, cs, testutil.TestLogger(t))

		st.On("GetRoomByExternalId", mock.Anything, "missing").Return(types.Room{}, store.ErrNotFound)

		cs.handleTyping(sender, &ClientEvent{Type: clientTyping, RoomId: "missing", IsTyping: true})

		assertNoEvent(t, sender)
	})
}

func Test_handleJoinRoom(t *testing.T) {
	user := types.User{Id: 7, Username: "testuser"}
	otherRoom := types.Room{Id: 2, ExternalId: "mindful-monday", Name: "Mindful Monday", IsPublic: true, IsActive: true}

	t.Run("joins and announces", func(t *testing.T) {
		st := &store.MockStore{}
		cs := newTestChatServer(t, st, &presence.MockPresence{})
		c := NewClient(user, nil, cs, testutil.TestLogger(t))
		joinTestRoom(cs, c, testRoom)

		st.On("GetRoomByExternalId", mock.Anything, otherRoom.ExternalId).Return(otherRoom, nil)
		st.On("UpsertMember", mock.Anything, otherRoom.Id, user.Id, types.RoleMember).
			Return(types.Member{RoomId: otherRoom.Id, UserId: user.Id, Role: types.RoleMember, IsOnline: true}, nil)

		cs.handleJoinRoom(c, &ClientEvent{Type: clientJoinRoom, RoomId: otherRoom.ExternalId})

		assert.Equal(t, 1, cs.groups.Len(RoomGroup(otherRoom.ExternalId)))
		room, ok := c.currentRoom()
		require.True(t, ok)
		assert.Equal(t, otherRoom.ExternalId, room.ExternalId, "expected current room to follow the join")

		ev := recvEvent(t, c)
		assert.Equal(t, EventUserJoined, ev.Type)
		assert.Equal(t, otherRoom.ExternalId, ev.RoomId)

		st.AssertExpectations(t)
	})

	t.Run("rejoining is idempotent", func(t *testing.T) {
		st := &store.MockStore{}
		cs := newTestChatServer(t, st, &presence.MockPresence{})
		c := NewClient(user, nil, cs, testutil.TestLogger(t))
		joinTestRoom(cs, c, testRoom)

		st.On("UpsertMember", mock.Anything, testRoom.Id, user.Id, types.RoleMember).
			Return(types.Member{RoomId: testRoom.Id, UserId: user.Id, Role: types.RoleMember, IsOnline: true}, nil)

		cs.handleJoinRoom(c, &ClientEvent{Type: clientJoinRoom, RoomId: testRoom.ExternalId})

		assert.Equal(t, 1, cs.groups.Len(RoomGroup(testRoom.ExternalId)), "expected no duplicate group membership")
	})

	t.Run("unknown room", func(t *testing.T) {
		st := &store.MockStore{}
		cs := newTestChatServer(t, st, &presence.MockPresence{})
		c := NewClient(user, nil, cs, testutil.TestLogger(t))

		st.On("GetRoomByExternalId", mock.Anything, "missing").Return(types.Room{}, store.ErrNotFound)

		cs.handleJoinRoom(c, &ClientEvent{Type: clientJoinRoom, RoomId: "missing"})

		ev := recvEvent(t, c)
		require.NotNil(t, ev.Error)
		assert.Equal(t, ErrRoomNotFound().Error.Message, ev.Error.Message)
		st.AssertNotCalled(t, "UpsertMember", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func Test_handleLeaveRoom(t *testing.T) {
	user := types.User{Id: 7, Username: "testuser"}

	st := &store.MockStore{}
	cs := newTestChatServer(t, st, &presence.MockPresence{})
	c := NewClient(user, nil, cs, testutil.TestLogger(t))
	other := NewClient(types.User{Id: 8, Username: "other"}, nil, cs, testutil.TestLogger(t))
	joinTestRoom(cs, c, testRoom)
	joinTestRoom(cs, other, testRoom)

	st.On("SetMemberOnline", mock.Anything, testRoom.Id, user.Id, false).Return(nil)

	cs.handleLeaveRoom(c, &ClientEvent{Type: clientLeaveRoom, RoomId: testRoom.ExternalId})

	// The departure announcement reaches the leaving session too, since
	// the group discard happens after the fan-out.
	for _, cl := range []*Client{c, other} {
		ev := recvEvent(t, cl)
		assert.Equal(t, EventUserLeft, ev.Type)
		assert.Equal(t, testRoom.ExternalId, ev.RoomId)
	}

	assert.Equal(t, 1, cs.groups.Len(RoomGroup(testRoom.ExternalId)), "expected only the other session to remain")
	_, ok := c.getRoom(testRoom.ExternalId)
	assert.False(t, ok, "expected room to be forgotten after leave")

	st.AssertExpectations(t)
}

func TestBroadcastMessage(t *testing.T) {
	cs := newTestChatServer(t, &store.MockStore{}, &presence.MockPresence{})
	receiver := NewClient(types.User{Id: 8, Username: "receiver"}, nil, cs, testutil.TestLogger(t))
	joinTestRoom(cs, receiver, testRoom)

	msg := types.Message{Id: 42, RoomId: testRoom.Id, UserId: 7, Content: "hello", Type: types.MessageTypeText}
	cs.BroadcastMessage(testRoom.ExternalId, msg, types.User{Id: 7, Username: "testuser"})

	ev := recvEvent(t, receiver)
	assert.Equal(t, EventChatMessage, ev.Type)
	require.NotNil(t, ev.Message)
	assert.Equal(t, int64(42), ev.Message.Id)
}

func TestShutdown(t *testing.T) {
	st := &store.MockStore{}
	pr := &presence.MockPresence{}
	cs := newTestChatServer(t, st, pr)

	user := types.User{Id: 7, Username: "testuser"}
	c := NewClient(user, nil, cs, testutil.TestLogger(t))
	joinTestRoom(cs, c, testRoom)
	cs.addClient(c)

	pr.On("MarkOffline", mock.Anything, user.Id).Return(nil)
	st.On("SetAllMembersOffline", mock.Anything, user.Id).Return(nil)

	cs.Shutdown()

	cs.clientsMu.Lock()
	remaining := len(cs.clients)
	cs.clientsMu.Unlock()
	assert.Zero(t, remaining, "expected no live sessions after shutdown")
	assert.Equal(t, 0, cs.groups.Len(RoomGroup(testRoom.ExternalId)))

	select {
	case <-c.stop:
	default:
		t.Error("expected session stop channel to be closed")
	}
}

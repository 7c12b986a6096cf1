package server

import (
	"net/http"
	"time"

	"github.com/wellnesshub/wellness-chat/internal/types"
)

// Inbound event kinds accepted from clients.
const (
	clientChatMessage = "chat_message"
	clientTyping      = "typing"
	clientJoinRoom    = "join_room"
	clientLeaveRoom   = "leave_room"
)

// ClientEvent is the single inbound frame shape. Type selects the kind;
// the remaining fields are per-kind payloads.
type ClientEvent struct {
	Type        string `json:"type"`
	RoomId      string `json:"room_id,omitempty"`
	Content     string `json:"content,omitempty"`
	MessageType string `json:"message_type,omitempty"`
	ReplyTo     *int64 `json:"reply_to,omitempty"`
	IsTyping    bool   `json:"is_typing,omitempty"`
}

type EventType string

const (
	EventChatMessage EventType = "chat_message"
	EventTyping      EventType = "typing"
	EventUserJoined  EventType = "user_joined"
	EventUserLeft    EventType = "user_left"
	EventUserOnline  EventType = "user_online"
	EventUserOffline EventType = "user_offline"
	EventSystem      EventType = "system_event"
	EventOnlineUsers EventType = "online_users"
	EventError       EventType = "error"
)

type TypingEvent struct {
	User     types.User `json:"user"`
	IsTyping bool       `json:"is_typing"`
	RoomId   string     `json:"room_id"`
}

type ErrorEvent struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ServerEvent is every outbound frame: a type tag plus the payload
// fields that kind uses.
type ServerEvent struct {
	Type      EventType             `json:"type"`
	Timestamp time.Time             `json:"timestamp"`
	Message   *types.Message        `json:"message,omitempty"`
	User      *types.User           `json:"user,omitempty"`
	UserId    int64                 `json:"user_id,omitempty"`
	RoomId    string                `json:"room_id,omitempty"`
	Typing    *TypingEvent          `json:"typing,omitempty"`
	Event     string                `json:"event,omitempty"`
	Text      string                `json:"text,omitempty"`
	Users     []types.PresenceEntry `json:"users,omitempty"`
	Error     *ErrorEvent           `json:"error,omitempty"`
}

func NewChatMessage(msg types.Message, sender types.User, roomId string) *ServerEvent {
	return &ServerEvent{
		Type:      EventChatMessage,
		Timestamp: Now(),
		Message:   &msg,
		User:      &sender,
		RoomId:    roomId,
	}
}

func NewTyping(user types.User, roomId string, isTyping bool) *ServerEvent {
	return &ServerEvent{
		Type:      EventTyping,
		Timestamp: Now(),
		Typing: &TypingEvent{
			User:     user,
			IsTyping: isTyping,
			RoomId:   roomId,
		},
	}
}

func NewUserJoined(user types.User, roomId string) *ServerEvent {
	return &ServerEvent{
		Type:      EventUserJoined,
		Timestamp: Now(),
		User:      &user,
		RoomId:    roomId,
	}
}

func NewUserLeft(user types.User, roomId string) *ServerEvent {
	return &ServerEvent{
		Type:      EventUserLeft,
		Timestamp: Now(),
		User:      &user,
		RoomId:    roomId,
	}
}

func NewUserOnline(user types.User) *ServerEvent {
	return &ServerEvent{
		Type:      EventUserOnline,
		Timestamp: Now(),
		User:      &user,
		UserId:    user.Id,
	}
}

func NewUserOffline(userId int64) *ServerEvent {
	return &ServerEvent{
		Type:      EventUserOffline,
		Timestamp: Now(),
		UserId:    userId,
	}
}

func NewSystemEvent(action string, user types.User, roomId, text string) *ServerEvent {
	return &ServerEvent{
		Type:      EventSystem,
		Timestamp: Now(),
		Event:     action,
		User:      &user,
		RoomId:    roomId,
		Text:      text,
	}
}

func NewOnlineUsers(users []types.PresenceEntry) *ServerEvent {
	return &ServerEvent{
		Type:      EventOnlineUsers,
		Timestamp: Now(),
		Users:     users,
	}
}

func newError(code int, message string) *ServerEvent {
	return &ServerEvent{
		Type:      EventError,
		Timestamp: Now(),
		Error: &ErrorEvent{
			Code:    code,
			Message: message,
		},
	}
}

func ErrInvalidEvent() *ServerEvent {
	return newError(http.StatusBadRequest, "invalid message format")
}

func ErrEmptyContent() *ServerEvent {
	return newError(http.StatusBadRequest, "content is required")
}

func ErrInvalidMessageType() *ServerEvent {
	return newError(http.StatusBadRequest, "invalid message type")
}

func ErrInvalidReplyTo() *ServerEvent {
	return newError(http.StatusBadRequest, "reply target not found in this room")
}

func ErrRoomNotFound() *ServerEvent {
	return newError(http.StatusNotFound, "room not found")
}

func ErrNotAMember() *ServerEvent {
	return newError(http.StatusForbidden, "not a member of this room")
}

func ErrInternalError() *ServerEvent {
	return newError(http.StatusInternalServerError, "internal server error")
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

package types

import (
	"time"
)

type User struct {
	Id        int64     `json:"id"`
	Username  string    `json:"username"`
	Avatar    string    `json:"avatar,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

type Room struct {
	Id          int64     `json:"id"`
	ExternalId  string    `json:"external_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsPublic    bool      `json:"is_public"`
	MaxMembers  int       `json:"max_members"`
	OwnerId     int64     `json:"owner_id"`
	IsActive    bool      `json:"is_active"`
	MemberCount int       `json:"member_count,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// Member is a user's membership in a single room. There is at most one
// per (room, user) pair; IsOnline tracks whether the user currently has
// a live session in the room.
type Member struct {
	RoomId     int64      `json:"room_id"`
	UserId     int64      `json:"user_id"`
	Username   string     `json:"username,omitempty"`
	Role       Role       `json:"role"`
	JoinedAt   time.Time  `json:"joined_at"`
	LastReadAt *time.Time `json:"last_read_at,omitempty"`
	IsMuted    bool       `json:"is_muted"`
	IsOnline   bool       `json:"is_online"`
}

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeFile   MessageType = "file"
	MessageTypeSystem MessageType = "system"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeSystem:
		return true
	}
	return false
}

type Message struct {
	Id        int64       `json:"id"`
	RoomId    int64       `json:"room_id"`
	UserId    int64       `json:"user_id"`
	Content   string      `json:"content"`
	Type      MessageType `json:"message_type"`
	ReplyTo   *int64      `json:"reply_to,omitempty"`
	IsDeleted bool        `json:"-"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at,omitempty"`
}

// PresenceEntry is the single live-session marker for a user. An identity
// has at most one entry at a time; a new connection replaces the previous
// session id rather than adding a second entry.
type PresenceEntry struct {
	UserId    int64     `json:"id"`
	Username  string    `json:"username"`
	Avatar    string    `json:"avatar,omitempty"`
	SessionId string    `json:"-"`
	RoomId    int64     `json:"room_id,omitempty"`
	LastSeen  time.Time `json:"last_active"`
}

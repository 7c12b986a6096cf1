package store

import (
	"context"
	"errors"
	"time"

	"github.com/wellnesshub/wellness-chat/internal/types"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// DefaultRoomName is the room every authenticated connection lands in.
const DefaultRoomName = "Wellness Hub Lounge"

// DefaultRoomExternalId is the wire identifier clients use for the
// default room.
const DefaultRoomExternalId = "global"

type Account struct {
	Id           int64
	Username     string
	Email        string
	PasswordHash string
	Avatar       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (a Account) User() types.User {
	return types.User{
		Id:        a.Id,
		Username:  a.Username,
		Avatar:    a.Avatar,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

type CreateAccountParams struct {
	Username     string
	Email        string
	PasswordHash string
	Avatar       string
}

type CreateRoomParams struct {
	Name        string
	ExternalId  string
	Description string
	IsPublic    bool
	MaxMembers  int
	OwnerId     int64
}

type InsertMessageParams struct {
	RoomId  int64
	UserId  int64
	Content string
	Type    types.MessageType
	ReplyTo *int64
}

// Store is the durable backing for rooms, memberships, messages and
// accounts. Every method is a single atomic statement (or transaction);
// there is no cross-method transaction.
type Store interface {
	Ping(ctx context.Context) error

	CreateAccount(ctx context.Context, params CreateAccountParams) (Account, error)
	GetAccountByEmail(ctx context.Context, email string) (Account, error)
	GetAccountById(ctx context.Context, id int64) (Account, error)

	// GetOrCreateDefaultRoom resolves the default room, creating it with
	// ownerId as owner on first use. Concurrent calls never create
	// duplicates; the room name carries a unique constraint.
	GetOrCreateDefaultRoom(ctx context.Context, ownerId int64) (types.Room, error)
	GetRoomByExternalId(ctx context.Context, externalId string) (types.Room, error)
	ListRooms(ctx context.Context, userId int64) ([]types.Room, error)
	CreateRoom(ctx context.Context, params CreateRoomParams) (types.Room, error)
	DeactivateRoom(ctx context.Context, roomId int64) error

	IsMember(ctx context.Context, roomId, userId int64) (bool, error)
	// UpsertMember is idempotent: joining a room the user already belongs
	// to flips is_online back on instead of inserting a second row.
	UpsertMember(ctx context.Context, roomId, userId int64, role types.Role) (types.Member, error)
	SetMemberOnline(ctx context.Context, roomId, userId int64, online bool) error
	SetAllMembersOffline(ctx context.Context, userId int64) error
	ListMembers(ctx context.Context, roomId int64) ([]types.Member, error)
	UpdateLastRead(ctx context.Context, roomId, userId int64, at time.Time) error

	InsertMessage(ctx context.Context, params InsertMessageParams) (types.Message, error)
	GetMessage(ctx context.Context, id int64) (types.Message, error)
	// GetMessages walks room history in (created_at, id) ascending order.
	// A non-zero beforeId restricts the page to messages older than it.
	GetMessages(ctx context.Context, roomId, beforeId int64, limit int) ([]types.Message, error)
	DeleteMessage(ctx context.Context, messageId, userId int64) error
}

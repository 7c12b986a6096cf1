package store

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/wellnesshub/wellness-chat/internal/types"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStore) CreateAccount(ctx context.Context, params CreateAccountParams) (Account, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Account), args.Error(1)
}

func (m *MockStore) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(Account), args.Error(1)
}

func (m *MockStore) GetAccountById(ctx context.Context, id int64) (Account, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Account), args.Error(1)
}

func (m *MockStore) GetOrCreateDefaultRoom(ctx context.Context, ownerId int64) (types.Room, error) {
	args := m.Called(ctx, ownerId)
	return args.Get(0).(types.Room), args.Error(1)
}

func (m *MockStore) GetRoomByExternalId(ctx context.Context, externalId string) (types.Room, error) {
	args := m.Called(ctx, externalId)
	return args.Get(0).(types.Room), args.Error(1)
}

func (m *MockStore) ListRooms(ctx context.Context, userId int64) ([]types.Room, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).([]types.Room), args.Error(1)
}

func (m *MockStore) CreateRoom(ctx context.Context, params CreateRoomParams) (types.Room, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(types.Room), args.Error(1)
}

func (m *MockStore) DeactivateRoom(ctx context.Context, roomId int64) error {
	args := m.Called(ctx, roomId)
	return args.Error(0)
}

func (m *MockStore) IsMember(ctx context.Context, roomId, userId int64) (bool, error) {
	args := m.Called(ctx, roomId, userId)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) UpsertMember(ctx context.Context, roomId, userId int64, role types.Role) (types.Member, error) {
	args := m.Called(ctx, roomId, userId, role)
	return args.Get(0).(types.Member), args.Error(1)
}

func (m *MockStore) SetMemberOnline(ctx context.Context, roomId, userId int64, online bool) error {
	args := m.Called(ctx, roomId, userId, online)
	return args.Error(0)
}

func (m *MockStore) SetAllMembersOffline(ctx context.Context, userId int64) error {
	args := m.Called(ctx, userId)
	return args.Error(0)
}

func (m *MockStore) ListMembers(ctx context.Context, roomId int64) ([]types.Member, error) {
	args := m.Called(ctx, roomId)
	return args.Get(0).([]types.Member), args.Error(1)
}

func (m *MockStore) UpdateLastRead(ctx context.Context, roomId, userId int64, at time.Time) error {
	args := m.Called(ctx, roomId, userId, at)
	return args.Error(0)
}

func (m *MockStore) InsertMessage(ctx context.Context, params InsertMessageParams) (types.Message, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(types.Message), args.Error(1)
}

func (m *MockStore) GetMessage(ctx context.Context, id int64) (types.Message, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(types.Message), args.Error(1)
}

func (m *MockStore) GetMessages(ctx context.Context, roomId, beforeId int64, limit int) ([]types.Message, error) {
	args := m.Called(ctx, roomId, beforeId, limit)
	return args.Get(0).([]types.Message), args.Error(1)
}

func (m *MockStore) DeleteMessage(ctx context.Context, messageId, userId int64) error {
	args := m.Called(ctx, messageId, userId)
	return args.Error(0)
}

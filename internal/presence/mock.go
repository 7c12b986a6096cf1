package presence

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/wellnesshub/wellness-chat/internal/types"
)

type MockPresence struct {
	mock.Mock
}

func (m *MockPresence) MarkOnline(ctx context.Context, entry types.PresenceEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockPresence) MarkOffline(ctx context.Context, userId int64) error {
	args := m.Called(ctx, userId)
	return args.Error(0)
}

func (m *MockPresence) ListOnline(ctx context.Context) ([]types.PresenceEntry, error) {
	args := m.Called(ctx)
	return args.Get(0).([]types.PresenceEntry), args.Error(1)
}

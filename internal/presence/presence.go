// Package presence tracks which identities currently hold a live
// connection. At most one record exists per identity: a reconnect
// replaces the previous session rather than adding a second record.
package presence

import (
	"context"

	"github.com/wellnesshub/wellness-chat/internal/types"
)

type Presence interface {
	// MarkOnline upserts the record for entry.UserId, replacing any
	// record left by a previous session of the same identity.
	MarkOnline(ctx context.Context, entry types.PresenceEntry) error
	MarkOffline(ctx context.Context, userId int64) error
	ListOnline(ctx context.Context) ([]types.PresenceEntry, error)
}

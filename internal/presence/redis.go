package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wellnesshub/wellness-chat/internal/types"
)

const onlineKey = "presence:online"

type storedEntry struct {
	UserId    int64     `json:"user_id"`
	Username  string    `json:"username"`
	Avatar    string    `json:"avatar,omitempty"`
	SessionId string    `json:"session_id"`
	RoomId    int64     `json:"room_id,omitempty"`
	LastSeen  time.Time `json:"last_seen"`
}

// RedisPresence keeps the online set in a single Redis hash keyed by
// user id. HSET on an existing field overwrites it, which is exactly
// the replace-not-duplicate upsert the connect path needs.
type RedisPresence struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisPresence(client *redis.Client, log *zap.Logger) *RedisPresence {
	return &RedisPresence{client: client, log: log}
}

func field(userId int64) string {
	return strconv.FormatInt(userId, 10)
}

func (p *RedisPresence) MarkOnline(ctx context.Context, entry types.PresenceEntry) error {
	data, err := json.Marshal(storedEntry{
		UserId:    entry.UserId,
		Username:  entry.Username,
		Avatar:    entry.Avatar,
		SessionId: entry.SessionId,
		RoomId:    entry.RoomId,
		LastSeen:  entry.LastSeen,
	})
	if err != nil {
		return fmt.Errorf("marshal presence entry: %w", err)
	}

	if err := p.client.HSet(ctx, onlineKey, field(entry.UserId), data).Err(); err != nil {
		return fmt.Errorf("mark online: %w", err)
	}
	return nil
}

func (p *RedisPresence) MarkOffline(ctx context.Context, userId int64) error {
	if err := p.client.HDel(ctx, onlineKey, field(userId)).Err(); err != nil {
		return fmt.Errorf("mark offline: %w", err)
	}
	return nil
}

func (p *RedisPresence) ListOnline(ctx context.Context) ([]types.PresenceEntry, error) {
	raw, err := p.client.HGetAll(ctx, onlineKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list online: %w", err)
	}

	entries := make([]types.PresenceEntry, 0, len(raw))
	for f, data := range raw {
		var stored storedEntry
		if err := json.Unmarshal([]byte(data), &stored); err != nil {
			// A corrupt field should not hide everyone else.
			p.log.Warn("skipping unreadable presence entry",
				zap.String("field", f), zap.Error(err))
			continue
		}
		entries = append(entries, types.PresenceEntry{
			UserId:    stored.UserId,
			Username:  stored.Username,
			Avatar:    stored.Avatar,
			SessionId: stored.SessionId,
			RoomId:    stored.RoomId,
			LastSeen:  stored.LastSeen,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastSeen.After(entries[j].LastSeen)
	})

	return entries, nil
}

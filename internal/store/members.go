package store

import (
	"context"
	"fmt"
	"time"

	"github.com/wellnesshub/wellness-chat/internal/types"
)

func (s *PgStore) IsMember(ctx context.Context, roomId, userId int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM room_members WHERE room_id = $1 AND user_id = $2
		)`,
		roomId, userId,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return exists, nil
}

func (s *PgStore) UpsertMember(ctx context.Context, roomId, userId int64, role types.Role) (types.Member, error) {
	// Re-joining an existing membership only flips is_online; the role
	// and joined_at of the original row are kept.
	row := s.pool.QueryRow(ctx,
		`INSERT INTO room_members (room_id, user_id, role, is_online)
		 VALUES ($1, $2, $3, TRUE)
		 ON CONFLICT (room_id, user_id) DO UPDATE SET is_online = TRUE
		 RETURNING room_id, user_id, role, joined_at, last_read_at, is_muted, is_online`,
		roomId, userId, role,
	)

	var m types.Member
	err := row.Scan(&m.RoomId, &m.UserId, &m.Role, &m.JoinedAt, &m.LastReadAt, &m.IsMuted, &m.IsOnline)
	if err != nil {
		return types.Member{}, fmt.Errorf("upsert membership: %w", err)
	}

	return m, nil
}

func (s *PgStore) SetMemberOnline(ctx context.Context, roomId, userId int64, online bool) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE room_members SET is_online = $3 WHERE room_id = $1 AND user_id = $2`,
		roomId, userId, online,
	)
	if err != nil {
		return fmt.Errorf("set member online: %w", err)
	}
	return nil
}

func (s *PgStore) SetAllMembersOffline(ctx context.Context, userId int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE room_members SET is_online = FALSE WHERE user_id = $1`,
		userId,
	)
	if err != nil {
		return fmt.Errorf("set members offline: %w", err)
	}
	return nil
}

func (s *PgStore) ListMembers(ctx context.Context, roomId int64) ([]types.Member, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT m.room_id, m.user_id, a.username, m.role, m.joined_at,
		        m.last_read_at, m.is_muted, m.is_online
		 FROM room_members m
		 JOIN accounts a ON a.id = m.user_id
		 WHERE m.room_id = $1
		 ORDER BY m.joined_at`,
		roomId,
	)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	members := make([]types.Member, 0)
	for rows.Next() {
		var m types.Member
		err := rows.Scan(&m.RoomId, &m.UserId, &m.Username, &m.Role, &m.JoinedAt,
			&m.LastReadAt, &m.IsMuted, &m.IsOnline)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}

	return members, nil
}

func (s *PgStore) UpdateLastRead(ctx context.Context, roomId, userId int64, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE room_members SET last_read_at = $3 WHERE room_id = $1 AND user_id = $2`,
		roomId, userId, at,
	)
	if err != nil {
		return fmt.Errorf("update last read: %w", err)
	}
	return nil
}

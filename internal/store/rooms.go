package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/wellnesshub/wellness-chat/internal/types"
)

const roomColumns = `id, external_id, name, description, is_public, max_members, owner_id, is_active, created_at, updated_at`

func scanRoom(row pgx.Row) (types.Room, error) {
	var r types.Room
	err := row.Scan(
		&r.Id,
		&r.ExternalId,
		&r.Name,
		&r.Description,
		&r.IsPublic,
		&r.MaxMembers,
		&r.OwnerId,
		&r.IsActive,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	return r, err
}

func (s *PgStore) GetOrCreateDefaultRoom(ctx context.Context, ownerId int64) (types.Room, error) {
	// ON CONFLICT DO NOTHING keeps concurrent first connects from racing:
	// exactly one insert wins, the rest fall through to the select.
	row := s.pool.QueryRow(ctx,
		`INSERT INTO rooms (external_id, name, description, is_public, owner_id)
		 VALUES ($1, $2, $3, TRUE, $4)
		 ON CONFLICT (name) DO NOTHING
		 RETURNING `+roomColumns,
		DefaultRoomExternalId,
		DefaultRoomName,
		"Site-wide public chat room",
		ownerId,
	)

	room, err := scanRoom(row)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return types.Room{}, fmt.Errorf("create default room: %w", err)
	}

	row = s.pool.QueryRow(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE name = $1 LIMIT 1`,
		DefaultRoomName,
	)
	room, err = scanRoom(row)
	if err != nil {
		return types.Room{}, fmt.Errorf("get default room: %w", err)
	}

	return room, nil
}

func (s *PgStore) GetRoomByExternalId(ctx context.Context, externalId string) (types.Room, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE external_id = $1 AND is_active LIMIT 1`,
		externalId,
	)

	room, err := scanRoom(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Room{}, ErrNotFound
	}
	if err != nil {
		return types.Room{}, fmt.Errorf("get room: %w", err)
	}

	return room, nil
}

// ListRooms returns active rooms visible to userId: public rooms plus
// private rooms the user belongs to.
func (s *PgStore) ListRooms(ctx context.Context, userId int64) ([]types.Room, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT r.id, r.external_id, r.name, r.description, r.is_public,
		        r.max_members, r.owner_id, r.is_active, r.created_at, r.updated_at
		 FROM rooms r
		 LEFT JOIN room_members m ON m.room_id = r.id AND m.user_id = $1
		 WHERE r.is_active AND (r.is_public OR m.user_id IS NOT NULL)
		 ORDER BY r.id`,
		userId,
	)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	rooms := make([]types.Room, 0)
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rooms: %w", err)
	}

	return rooms, nil
}

func (s *PgStore) CreateRoom(ctx context.Context, params CreateRoomParams) (types.Room, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return types.Room{}, fmt.Errorf("begin create room: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`INSERT INTO rooms (external_id, name, description, is_public, max_members, owner_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+roomColumns,
		params.ExternalId,
		params.Name,
		params.Description,
		params.IsPublic,
		params.MaxMembers,
		params.OwnerId,
	)
	room, err := scanRoom(row)
	if err != nil {
		return types.Room{}, fmt.Errorf("create room: %w", err)
	}

	// Creator always holds the owner membership.
	_, err = tx.Exec(ctx,
		`INSERT INTO room_members (room_id, user_id, role, is_online)
		 VALUES ($1, $2, $3, FALSE)`,
		room.Id,
		params.OwnerId,
		types.RoleOwner,
	)
	if err != nil {
		return types.Room{}, fmt.Errorf("create owner membership: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return types.Room{}, fmt.Errorf("commit create room: %w", err)
	}

	return room, nil
}

func (s *PgStore) DeactivateRoom(ctx context.Context, roomId int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE rooms SET is_active = FALSE, updated_at = now() WHERE id = $1`,
		roomId,
	)
	if err != nil {
		return fmt.Errorf("deactivate room: %w", err)
	}
	return nil
}

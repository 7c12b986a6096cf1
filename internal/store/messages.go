package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/wellnesshub/wellness-chat/internal/types"
)

const messageColumns = `id, room_id, user_id, content, message_type, reply_to, is_deleted, created_at, updated_at`

func scanMessage(row pgx.Row) (types.Message, error) {
	var m types.Message
	err := row.Scan(
		&m.Id,
		&m.RoomId,
		&m.UserId,
		&m.Content,
		&m.Type,
		&m.ReplyTo,
		&m.IsDeleted,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	return m, err
}

func (s *PgStore) InsertMessage(ctx context.Context, params InsertMessageParams) (types.Message, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO messages (room_id, user_id, content, message_type, reply_to)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+messageColumns,
		params.RoomId,
		params.UserId,
		params.Content,
		params.Type,
		params.ReplyTo,
	)

	msg, err := scanMessage(row)
	if err != nil {
		return types.Message{}, fmt.Errorf("insert message: %w", err)
	}

	return msg, nil
}

func (s *PgStore) GetMessage(ctx context.Context, id int64) (types.Message, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1 AND NOT is_deleted LIMIT 1`,
		id,
	)

	msg, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Message{}, ErrNotFound
	}
	if err != nil {
		return types.Message{}, fmt.Errorf("get message: %w", err)
	}

	return msg, nil
}

func (s *PgStore) GetMessages(ctx context.Context, roomId, beforeId int64, limit int) ([]types.Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	// Pick the newest page before the cursor, then hand it back in the
	// room's total order: (created_at, id) ascending.
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+` FROM messages
			WHERE room_id = $1 AND NOT is_deleted AND ($2::bigint = 0 OR id < $2)
			ORDER BY created_at DESC, id DESC
			LIMIT $3
		) page ORDER BY created_at ASC, id ASC`,
		roomId, beforeId, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	messages := make([]types.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}

// DeleteMessage soft-deletes a message. Only the author may delete;
// deleting someone else's message is reported as not found.
func (s *PgStore) DeleteMessage(ctx context.Context, messageId, userId int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET is_deleted = TRUE, updated_at = now()
		 WHERE id = $1 AND user_id = $2 AND NOT is_deleted`,
		messageId, userId,
	)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

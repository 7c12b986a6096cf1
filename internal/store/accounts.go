package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

func (s *PgStore) CreateAccount(ctx context.Context, params CreateAccountParams) (Account, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO accounts (username, email, password_hash, avatar)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, username, email, password_hash, avatar, created_at, updated_at`,
		params.Username,
		params.Email,
		params.PasswordHash,
		params.Avatar,
	)

	var a Account
	err := row.Scan(&a.Id, &a.Username, &a.Email, &a.PasswordHash, &a.Avatar, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return Account{}, fmt.Errorf("create account: %w", err)
	}

	return a, nil
}

func (s *PgStore) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, username, email, password_hash, avatar, created_at, updated_at
		 FROM accounts WHERE email = $1 LIMIT 1`,
		email,
	)

	var a Account
	err := row.Scan(&a.Id, &a.Username, &a.Email, &a.PasswordHash, &a.Avatar, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("get account by email: %w", err)
	}

	return a, nil
}

func (s *PgStore) GetAccountById(ctx context.Context, id int64) (Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, username, email, password_hash, avatar, created_at, updated_at
		 FROM accounts WHERE id = $1 LIMIT 1`,
		id,
	)

	var a Account
	err := row.Scan(&a.Id, &a.Username, &a.Email, &a.PasswordHash, &a.Avatar, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("get account by id: %w", err)
	}

	return a, nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ehsan-hn/SmsHub/internal/billing/domain"
	"github.com/ehsan-hn/SmsHub/internal/billing/repository"
)

type pgUserRepository struct{}

// NewPgUserRepository creates a UserRepository backed by PostgreSQL.
func NewPgUserRepository() repository.UserRepository {
	return &pgUserRepository{}
}

func (r *pgUserRepository) Create(ctx context.Context, q repository.Querier, user *domain.User) (*domain.User, error) {
	query := `
		INSERT INTO users (username, balance, rate_limit_per_minute)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`
	err := q.QueryRow(ctx, query, user.Username, user.Balance, user.RateLimitPerMinute).
		Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

func (r *pgUserRepository) GetByID(ctx context.Context, q repository.Querier, id int64) (*domain.User, error) {
	user := &domain.User{}
	query := `
		SELECT id, username, balance, rate_limit_per_minute, created_at
		FROM users WHERE id = $1
	`
	err := q.QueryRow(ctx, query, id).Scan(
		&user.ID, &user.Username, &user.Balance, &user.RateLimitPerMinute, &user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func (r *pgUserRepository) GetBalance(ctx context.Context, q repository.Querier, id int64) (int64, error) {
	var balance int64
	err := q.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1`, id).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrUserNotFound
		}
		return 0, err
	}
	return balance, nil
}

func (r *pgUserRepository) LockBalance(ctx context.Context, q repository.Querier, id int64) (int64, error) {
	var balance int64
	err := q.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1 FOR UPDATE`, id).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrUserNotFound
		}
		return 0, fmt.Errorf("failed to lock user row: %w", err)
	}
	return balance, nil
}

func (r *pgUserRepository) AdjustBalance(ctx context.Context, q repository.Querier, id int64, delta int64) (int64, error) {
	var balance int64
	query := `UPDATE users SET balance = balance + $1 WHERE id = $2 RETURNING balance`
	err := q.QueryRow(ctx, query, delta, id).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrUserNotFound
		}
		return 0, fmt.Errorf("failed to adjust balance: %w", err)
	}
	return balance, nil
}

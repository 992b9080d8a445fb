package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"go-quest-session/internal/model"
)

// CodeRepository keeps at most one live code per user and purpose.
type CodeRepository struct {
	pool *pgxpool.Pool
}

func NewCodeRepository(pool *pgxpool.Pool) *CodeRepository {
	return &CodeRepository{pool: pool}
}

func (r *CodeRepository) Upsert(ctx context.Context, c model.OneTimeCode) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO one_time_codes (user_id, purpose, code_hash, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id, purpose)
		 DO UPDATE SET code_hash = EXCLUDED.code_hash, expires_at = EXCLUDED.expires_at, created_at = EXCLUDED.created_at`,
		c.UserID, c.Purpose, c.CodeHash, c.ExpiresAt, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert one-time code: %w", err)
	}
	return nil
}

func (r *CodeRepository) Find(ctx context.Context, userID string, purpose string) (model.OneTimeCode, error) {
	var c model.OneTimeCode
	err := r.pool.QueryRow(ctx,
		`SELECT user_id, purpose, code_hash, expires_at, created_at
		 FROM one_time_codes WHERE user_id = $1 AND purpose = $2`, userID, purpose).
		Scan(&c.UserID, &c.Purpose, &c.CodeHash, &c.ExpiresAt, &c.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return model.OneTimeCode{}, model.ErrCodeNotFound
	}
	if err != nil {
		return model.OneTimeCode{}, fmt.Errorf("find one-time code: %w", err)
	}
	return c, nil
}

func (r *CodeRepository) Delete(ctx context.Context, userID string, purpose string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM one_time_codes WHERE user_id = $1 AND purpose = $2`, userID, purpose)
	if err != nil {
		return fmt.Errorf("delete one-time code: %w", err)
	}
	return nil
}

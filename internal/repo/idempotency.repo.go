package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"idempotent-checkout/internal/domain"
)

type IdempotencyRepo interface {
	FindByKey(ctx context.Context, key string) (*domain.IdempotencyRecord, error)
	// CreateRecord returns ErrConflict when a record for the key already exists.
	CreateRecord(ctx context.Context, record *domain.IdempotencyRecord) error
}

type idempotencyRepo struct {
	db *sql.DB
}

func NewIdempotencyRepo(db *sql.DB) IdempotencyRepo {
	return &idempotencyRepo{db: db}
}

func (r *idempotencyRepo) FindByKey(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	var rec domain.IdempotencyRecord
	err := r.db.QueryRowContext(ctx,
		"SELECT id, key, status_code, response_body, created_at FROM idempotency_records WHERE key = $1", key,
	).Scan(&rec.ID, &rec.Key, &rec.StatusCode, &rec.ResponseBody, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find idempotency record: %w", err)
	}
	return &rec, nil
}

func (r *idempotencyRepo) CreateRecord(ctx context.Context, record *domain.IdempotencyRecord) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO idempotency_records (id, key, status_code, response_body, created_at) VALUES ($1, $2, $3, $4, $5)",
		record.ID, record.Key, record.StatusCode, record.ResponseBody, record.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert idempotency record: %w", err)
	}
	return nil
}

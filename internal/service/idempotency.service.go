package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"idempotent-checkout/internal/clock"
	"idempotent-checkout/internal/domain"
	"idempotent-checkout/internal/metrics"
	"idempotent-checkout/internal/repo"
)

type IdempotencyService interface {
	// TryGet returns the stored response for key. Store failures are logged
	// and reported as a miss so a flaky store never blocks retries.
	TryGet(ctx context.Context, key string) (*domain.StoredResponse, bool)
	// Save stores the response for key. Losing an insert race to another
	// writer is not an error: the first record stays authoritative.
	Save(ctx context.Context, key string, statusCode int, body []byte) error
}

type idempotencyService struct {
	repo    repo.IdempotencyRepo
	clock   clock.Clock
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewIdempotencyService(r repo.IdempotencyRepo, clk clock.Clock, log *zap.Logger, m *metrics.Metrics) IdempotencyService {
	return &idempotencyService{
		repo:    r,
		clock:   clk,
		log:     log.Named("idempotency"),
		metrics: m,
	}
}

func (s *idempotencyService) TryGet(ctx context.Context, key string) (*domain.StoredResponse, bool) {
	rec, err := s.repo.FindByKey(ctx, key)
	if err != nil {
		s.log.Error("idempotency lookup failed, treating as miss", zap.String("key", key), zap.Error(err))
		s.metrics.IdempotencyLookupFailed()
		return nil, false
	}
	if rec == nil {
		return nil, false
	}
	return &domain.StoredResponse{StatusCode: rec.StatusCode, Body: rec.ResponseBody}, true
}

func (s *idempotencyService) Save(ctx context.Context, key string, statusCode int, body []byte) error {
	err := s.repo.CreateRecord(ctx, &domain.IdempotencyRecord{
		ID:           uuid.New(),
		Key:          key,
		StatusCode:   statusCode,
		ResponseBody: body,
		CreatedAt:    s.clock.Now(),
	})
	if errors.Is(err, repo.ErrConflict) {
		s.log.Warn("idempotency key already stored", zap.String("key", key))
		s.metrics.IdempotencyConflict()
		return nil
	}
	if err != nil {
		return fmt.Errorf("save idempotency record: %w", err)
	}
	return nil
}

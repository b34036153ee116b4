package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"idempotent-checkout/internal/clock"
	"idempotent-checkout/internal/domain"
	"idempotent-checkout/internal/metrics"
	"idempotent-checkout/internal/repo"
	"idempotent-checkout/internal/signer"
)

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidPayload   = errors.New("invalid payload")
)

// Verifier authenticates a signature header against the raw body.
type Verifier interface {
	Verify(header string, body []byte) error
}

// OrderStatusUpdater applies payment outcomes to orders.
type OrderStatusUpdater interface {
	MarkPaid(ctx context.Context, orderNumber string) (bool, error)
	MarkFailed(ctx context.Context, orderNumber string) (bool, error)
}

type WebhookService interface {
	// Receive authenticates and applies one payment webhook. body must be the
	// exact bytes received on the wire.
	Receive(ctx context.Context, signatureHeader string, body []byte) error
}

type webhookService struct {
	verifier  Verifier
	eventRepo repo.PaymentEventRepo
	orders    OrderStatusUpdater
	clock     clock.Clock
	log       *zap.Logger
	metrics   *metrics.Metrics
}

func NewWebhookService(
	verifier Verifier,
	eventRepo repo.PaymentEventRepo,
	orders OrderStatusUpdater,
	clk clock.Clock,
	log *zap.Logger,
	m *metrics.Metrics,
) WebhookService {
	return &webhookService{
		verifier:  verifier,
		eventRepo: eventRepo,
		orders:    orders,
		clock:     clk,
		log:       log.Named("webhooks"),
		metrics:   m,
	}
}

type paymentEnvelope struct {
	Type string `json:"type"`
	Data struct {
		OrderNumber string `json:"orderNumber"`
	} `json:"data"`
}

func (s *webhookService) Receive(ctx context.Context, signatureHeader string, body []byte) error {
	if err := s.verifier.Verify(signatureHeader, body); err != nil {
		s.log.Warn("payment webhook rejected", zap.String("reason", signer.Reason(err)))
		s.metrics.WebhookReceived(metrics.ReceiveUnauthorized)
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	var envelope paymentEnvelope
	parseErr := json.Unmarshal(body, &envelope)
	orderNumber := strings.TrimSpace(envelope.Data.OrderNumber)

	// Every authenticated call is kept, known order or not.
	event := &domain.PaymentEvent{
		ID:          uuid.New(),
		OrderNumber: orderNumber,
		Type:        envelope.Type,
		Timestamp:   s.clock.Now(),
		RawBody:     body,
		Signature:   signatureHeader,
	}
	if err := s.eventRepo.CreateEvent(ctx, event); err != nil {
		return err
	}

	if parseErr != nil || orderNumber == "" {
		s.metrics.WebhookReceived(metrics.ReceiveInvalid)
		if parseErr != nil {
			return fmt.Errorf("%w: %w", ErrInvalidPayload, parseErr)
		}
		return fmt.Errorf("%w: data.orderNumber is missing", ErrInvalidPayload)
	}

	log := s.log.With(zap.String("order_number", orderNumber), zap.String("type", envelope.Type))

	var (
		changed bool
		err     error
	)
	switch envelope.Type {
	case domain.EventPaymentSucceeded:
		changed, err = s.orders.MarkPaid(ctx, orderNumber)
	case domain.EventPaymentFailed:
		changed, err = s.orders.MarkFailed(ctx, orderNumber)
	default:
		log.Info("payment event recorded without status change")
		s.metrics.WebhookReceived(metrics.ReceiveAccepted)
		return nil
	}
	if err != nil {
		return err
	}
	if !changed {
		log.Warn("payment event did not change order: unknown order or not pending")
	}
	s.metrics.WebhookReceived(metrics.ReceiveAccepted)
	return nil
}

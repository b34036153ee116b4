package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"idempotent-checkout/internal/clock"
	"idempotent-checkout/internal/domain"
	"idempotent-checkout/internal/metrics"
	"idempotent-checkout/internal/repo"
)

var (
	ErrInvalidOrder     = errors.New("invalid order")
	ErrOrderNumberTaken = errors.New("order number already exists")
	ErrOrderNotFound    = errors.New("order not found")
)

const conflictPollInterval = 50 * time.Millisecond

// JobQueue receives payment simulation jobs. Enqueue must not block.
type JobQueue interface {
	Enqueue(job domain.PaymentSimulationJob)
}

type CreateOrderInput struct {
	OrderNumber string           `json:"orderNumber"`
	Amount      *decimal.Decimal `json:"amount"`
	Currency    string           `json:"currency"`
}

// CreateOrderResult is the response to send back for a create request.
// Body is the exact byte sequence stored under the idempotency key.
type CreateOrderResult struct {
	StatusCode int
	Body       []byte
	Order      *domain.Order
	Replayed   bool
}

type OrderResponse struct {
	ID          uuid.UUID          `json:"id"`
	OrderNumber string             `json:"orderNumber"`
	Amount      json.Number        `json:"amount"`
	Currency    string             `json:"currency"`
	Status      domain.OrderStatus `json:"status"`
	CreatedAt   time.Time          `json:"createdAt"`
}

func NewOrderResponse(o *domain.Order) OrderResponse {
	return OrderResponse{
		ID:          o.ID,
		OrderNumber: o.OrderNumber,
		Amount:      json.Number(o.Amount.String()),
		Currency:    o.Currency,
		Status:      o.Status,
		CreatedAt:   o.CreatedAt,
	}
}

type OrderService interface {
	// Replay returns the stored response for a previously handled key.
	Replay(ctx context.Context, idempotencyKey string) (*CreateOrderResult, bool)
	// CreateOrder creates the order, enqueues its payment simulation and
	// stores the response under idempotencyKey before returning.
	CreateOrder(ctx context.Context, idempotencyKey string, input CreateOrderInput) (*CreateOrderResult, error)
	GetOrder(ctx context.Context, orderNumber string) (*domain.Order, error)
	ListOrders(ctx context.Context, limit int) ([]domain.Order, error)
	ListPaymentEvents(ctx context.Context, orderNumber string) ([]domain.PaymentEvent, error)
	MarkPaid(ctx context.Context, orderNumber string) (bool, error)
	MarkFailed(ctx context.Context, orderNumber string) (bool, error)
}

type orderService struct {
	orderRepo    repo.OrderRepo
	eventRepo    repo.PaymentEventRepo
	idempotency  IdempotencyService
	queue        JobQueue
	clock        clock.Clock
	conflictWait time.Duration
	log          *zap.Logger
	metrics      *metrics.Metrics
}

type OrderServiceParams struct {
	OrderRepo    repo.OrderRepo
	EventRepo    repo.PaymentEventRepo
	Idempotency  IdempotencyService
	Queue        JobQueue
	Clock        clock.Clock
	ConflictWait time.Duration
	Log          *zap.Logger
	Metrics      *metrics.Metrics
}

func NewOrderService(p OrderServiceParams) OrderService {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &orderService{
		orderRepo:    p.OrderRepo,
		eventRepo:    p.EventRepo,
		idempotency:  p.Idempotency,
		queue:        p.Queue,
		clock:        clk,
		conflictWait: p.ConflictWait,
		log:          p.Log.Named("orders"),
		metrics:      p.Metrics,
	}
}

func (s *orderService) Replay(ctx context.Context, idempotencyKey string) (*CreateOrderResult, bool) {
	stored, ok := s.idempotency.TryGet(ctx, idempotencyKey)
	if !ok {
		return nil, false
	}
	s.metrics.IdempotencyReplay()
	return &CreateOrderResult{StatusCode: stored.StatusCode, Body: stored.Body, Replayed: true}, true
}

func (s *orderService) CreateOrder(ctx context.Context, idempotencyKey string, input CreateOrderInput) (*CreateOrderResult, error) {
	order, err := s.newOrder(input)
	if err != nil {
		return nil, err
	}

	err = s.orderRepo.CreateOrder(ctx, order)
	if errors.Is(err, repo.ErrConflict) {
		return s.awaitConcurrentWinner(ctx, idempotencyKey, order.OrderNumber)
	}
	if err != nil {
		return nil, err
	}
	s.metrics.OrderCreated()

	s.queue.Enqueue(domain.PaymentSimulationJob{
		OrderNumber: order.OrderNumber,
		Amount:      order.Amount,
		Currency:    order.Currency,
	})

	body, err := json.Marshal(NewOrderResponse(order))
	if err != nil {
		return nil, fmt.Errorf("encode order response: %w", err)
	}

	// The order and its job already exist; a failed save only weakens dedup
	// for later retries, so the client still gets its 201.
	if err := s.idempotency.Save(ctx, idempotencyKey, http.StatusCreated, body); err != nil {
		s.log.Error("idempotency record not saved",
			zap.String("key", idempotencyKey),
			zap.String("order_number", order.OrderNumber),
			zap.Error(err),
		)
	}

	s.log.Info("order created",
		zap.String("order_number", order.OrderNumber),
		zap.String("amount", order.Amount.String()),
		zap.String("currency", order.Currency),
	)
	return &CreateOrderResult{StatusCode: http.StatusCreated, Body: body, Order: order}, nil
}

func (s *orderService) newOrder(input CreateOrderInput) (*domain.Order, error) {
	orderNumber := strings.TrimSpace(input.OrderNumber)
	if orderNumber == "" {
		return nil, fmt.Errorf("%w: orderNumber is required", ErrInvalidOrder)
	}
	if input.Amount == nil {
		return nil, fmt.Errorf("%w: amount is required", ErrInvalidOrder)
	}
	if input.Amount.IsNegative() {
		return nil, fmt.Errorf("%w: amount must not be negative", ErrInvalidOrder)
	}

	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	if !isCurrencyCode(currency) {
		return nil, fmt.Errorf("%w: currency must be a 3-letter code", ErrInvalidOrder)
	}

	return &domain.Order{
		ID:          uuid.New(),
		OrderNumber: orderNumber,
		Amount:      *input.Amount,
		Currency:    currency,
		Status:      domain.OrderPending,
		CreatedAt:   s.clock.Now().UTC().Truncate(time.Microsecond),
	}, nil
}

func isCurrencyCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// awaitConcurrentWinner handles an order number that already exists. When the
// same request raced in concurrently, the winner stores its response shortly
// after creating the order, so poll for it before reporting a conflict.
func (s *orderService) awaitConcurrentWinner(ctx context.Context, idempotencyKey, orderNumber string) (*CreateOrderResult, error) {
	deadline := time.NewTimer(s.conflictWait)
	defer deadline.Stop()
	ticker := time.NewTicker(conflictPollInterval)
	defer ticker.Stop()

	for {
		if result, ok := s.Replay(ctx, idempotencyKey); ok {
			return result, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			s.log.Warn("order number taken by another request",
				zap.String("key", idempotencyKey),
				zap.String("order_number", orderNumber),
			)
			return nil, ErrOrderNumberTaken
		case <-ticker.C:
		}
	}
}

func (s *orderService) GetOrder(ctx context.Context, orderNumber string) (*domain.Order, error) {
	order, err := s.orderRepo.FindByOrderNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, limit int) ([]domain.Order, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.orderRepo.ListOrders(ctx, limit)
}

func (s *orderService) ListPaymentEvents(ctx context.Context, orderNumber string) ([]domain.PaymentEvent, error) {
	return s.eventRepo.ListByOrderNumber(ctx, orderNumber)
}

func (s *orderService) MarkPaid(ctx context.Context, orderNumber string) (bool, error) {
	return s.transition(ctx, orderNumber, domain.OrderPaid)
}

func (s *orderService) MarkFailed(ctx context.Context, orderNumber string) (bool, error) {
	return s.transition(ctx, orderNumber, domain.OrderFailed)
}

func (s *orderService) transition(ctx context.Context, orderNumber string, to domain.OrderStatus) (bool, error) {
	changed, err := s.orderRepo.TransitionStatus(ctx, orderNumber, domain.OrderPending, to)
	if err != nil {
		return false, err
	}
	if changed {
		s.log.Info("order status updated", zap.String("order_number", orderNumber), zap.String("status", string(to)))
	}
	return changed, nil
}

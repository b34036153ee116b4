package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"idempotent-checkout/internal/clock"
	"idempotent-checkout/internal/domain"
	"idempotent-checkout/internal/repo"
)

type recordingQueue struct {
	mu   sync.Mutex
	jobs []domain.PaymentSimulationJob
}

func (q *recordingQueue) Enqueue(job domain.PaymentSimulationJob) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
}

func (q *recordingQueue) snapshot() []domain.PaymentSimulationJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.PaymentSimulationJob(nil), q.jobs...)
}

type orderFixture struct {
	svc   OrderService
	store *repo.Memory
	queue *recordingQueue
	clock *clock.FakeClock
}

func newOrderFixture(conflictWait time.Duration) *orderFixture {
	store := repo.NewMemory()
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC))
	q := &recordingQueue{}
	idem := NewIdempotencyService(store.Idempotency(), clk, zap.NewNop(), nil)
	svc := NewOrderService(OrderServiceParams{
		OrderRepo:    store.Orders(),
		EventRepo:    store.PaymentEvents(),
		Idempotency:  idem,
		Queue:        q,
		Clock:        clk,
		ConflictWait: conflictWait,
		Log:          zap.NewNop(),
	})
	return &orderFixture{svc: svc, store: store, queue: q, clock: clk}
}

func amount(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestCreateOrderStoresResponseAndEnqueues(t *testing.T) {
	f := newOrderFixture(time.Second)
	ctx := context.Background()

	result, err := f.svc.CreateOrder(ctx, "k1", CreateOrderInput{OrderNumber: " ORD-1 ", Amount: amount("19.99"), Currency: "usd"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, result.StatusCode)
	assert.False(t, result.Replayed)
	require.NotNil(t, result.Order)
	assert.Equal(t, "ORD-1", result.Order.OrderNumber)
	assert.Equal(t, "USD", result.Order.Currency)
	assert.Equal(t, domain.OrderPending, result.Order.Status)
	assert.Equal(t, 0, result.Order.CreatedAt.Nanosecond()%1000)

	var body OrderResponse
	require.NoError(t, json.Unmarshal(result.Body, &body))
	assert.Equal(t, json.Number("19.99"), body.Amount)
	assert.Equal(t, result.Order.ID, body.ID)

	jobs := f.queue.snapshot()
	require.Len(t, jobs, 1)
	assert.Equal(t, "ORD-1", jobs[0].OrderNumber)
	assert.True(t, decimal.RequireFromString("19.99").Equal(jobs[0].Amount))

	replay, ok := f.svc.Replay(ctx, "k1")
	require.True(t, ok)
	assert.True(t, replay.Replayed)
	assert.Equal(t, result.Body, replay.Body)
	assert.Equal(t, http.StatusCreated, replay.StatusCode)
}

func TestCreateOrderRejectsInvalidInput(t *testing.T) {
	f := newOrderFixture(time.Second)

	tests := []struct {
		name  string
		input CreateOrderInput
	}{
		{name: "blank order number", input: CreateOrderInput{OrderNumber: "  ", Amount: amount("1")}},
		{name: "missing amount", input: CreateOrderInput{OrderNumber: "A"}},
		{name: "negative amount", input: CreateOrderInput{OrderNumber: "A", Amount: amount("-1")}},
		{name: "short currency", input: CreateOrderInput{OrderNumber: "A", Amount: amount("1"), Currency: "US"}},
		{name: "numeric currency", input: CreateOrderInput{OrderNumber: "A", Amount: amount("1"), Currency: "U5D"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateOrder(context.Background(), "key-"+tt.name, tt.input)
			assert.ErrorIs(t, err, ErrInvalidOrder)
		})
	}
	assert.Empty(t, f.queue.snapshot())
}

func TestCreateOrderAllowsZeroAmount(t *testing.T) {
	f := newOrderFixture(time.Second)
	result, err := f.svc.CreateOrder(context.Background(), "k0", CreateOrderInput{OrderNumber: "FREE-1", Amount: amount("0")})
	require.NoError(t, err)
	assert.True(t, result.Order.Amount.IsZero())
}

func TestCreateOrderConflictWithoutStoredResponse(t *testing.T) {
	f := newOrderFixture(60 * time.Millisecond)
	ctx := context.Background()

	_, err := f.svc.CreateOrder(ctx, "k1", CreateOrderInput{OrderNumber: "ORD-1", Amount: amount("5")})
	require.NoError(t, err)

	_, err = f.svc.CreateOrder(ctx, "k2", CreateOrderInput{OrderNumber: "ORD-1", Amount: amount("5")})
	assert.ErrorIs(t, err, ErrOrderNumberTaken)
	assert.Len(t, f.queue.snapshot(), 1)
}

func TestCreateOrderConflictWaitsForConcurrentWinner(t *testing.T) {
	f := newOrderFixture(2 * time.Second)
	ctx := context.Background()

	// Simulate a winner that created the order but has not stored its response yet.
	require.NoError(t, f.store.Orders().CreateOrder(ctx, &domain.Order{
		OrderNumber: "ORD-1",
		Amount:      decimal.RequireFromString("5"),
		Currency:    "USD",
		Status:      domain.OrderPending,
	}))
	go func() {
		time.Sleep(120 * time.Millisecond)
		_ = f.store.Idempotency().CreateRecord(ctx, &domain.IdempotencyRecord{
			Key:          "k1",
			StatusCode:   http.StatusCreated,
			ResponseBody: []byte(`{"winner":true}`),
		})
	}()

	result, err := f.svc.CreateOrder(ctx, "k1", CreateOrderInput{OrderNumber: "ORD-1", Amount: amount("5")})
	require.NoError(t, err)
	assert.True(t, result.Replayed)
	assert.Equal(t, []byte(`{"winner":true}`), result.Body)
	assert.Empty(t, f.queue.snapshot())
}

func TestCreateOrderConflictHonoursContext(t *testing.T) {
	f := newOrderFixture(time.Minute)
	ctx := context.Background()
	_, err := f.svc.CreateOrder(ctx, "k1", CreateOrderInput{OrderNumber: "ORD-1", Amount: amount("5")})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(ctx, 80*time.Millisecond)
	defer cancel()
	_, err = f.svc.CreateOrder(ctx, "k2", CreateOrderInput{OrderNumber: "ORD-1", Amount: amount("5")})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCreateOrderSucceedsWhenResponseCannotBeStored(t *testing.T) {
	store := repo.NewMemory()
	q := &recordingQueue{}
	svc := NewOrderService(OrderServiceParams{
		OrderRepo:   store.Orders(),
		EventRepo:   store.PaymentEvents(),
		Idempotency: NewIdempotencyService(brokenIdempotencyRepo{err: errors.New("read only")}, clock.New(), zap.NewNop(), nil),
		Queue:       q,
		Log:         zap.NewNop(),
	})

	result, err := svc.CreateOrder(context.Background(), "k1", CreateOrderInput{OrderNumber: "ORD-1", Amount: amount("1")})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, result.StatusCode)
	assert.Len(t, q.snapshot(), 1)
}

func TestOrderQueriesAndTransitions(t *testing.T) {
	f := newOrderFixture(time.Second)
	ctx := context.Background()

	_, err := f.svc.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = f.svc.CreateOrder(ctx, "k1", CreateOrderInput{OrderNumber: "A-1", Amount: amount("1")})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.svc.CreateOrder(ctx, "k2", CreateOrderInput{OrderNumber: "A-2", Amount: amount("2")})
	require.NoError(t, err)

	orders, err := f.svc.ListOrders(ctx, 0)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "A-2", orders[0].OrderNumber)

	orders, err = f.svc.ListOrders(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, orders, 1)

	changed, err := f.svc.MarkPaid(ctx, "A-1")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = f.svc.MarkFailed(ctx, "A-1")
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = f.svc.MarkPaid(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, changed)

	order, err := f.svc.GetOrder(ctx, "A-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPaid, order.Status)
}

// Two requests sharing a key but naming different orders can both pass the
// replay check when they race; each creates its order and only the first
// response is stored.
func TestCreateOrderSameKeyDifferentOrderNumbersRace(t *testing.T) {
	f := newOrderFixture(time.Second)
	ctx := context.Background()

	first, err := f.svc.CreateOrder(ctx, "k1", CreateOrderInput{OrderNumber: "A-1", Amount: amount("1")})
	require.NoError(t, err)
	second, err := f.svc.CreateOrder(ctx, "k1", CreateOrderInput{OrderNumber: "B-1", Amount: amount("2")})
	require.NoError(t, err)

	assert.NotEqual(t, first.Body, second.Body)
	assert.Len(t, f.queue.snapshot(), 2)

	stored, ok := f.svc.Replay(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, first.Body, stored.Body)
}

func TestCreateOrderEchoesFullPrecisionAmount(t *testing.T) {
	f := newOrderFixture(time.Second)

	result, err := f.svc.CreateOrder(context.Background(), "k1", CreateOrderInput{OrderNumber: "P-1", Amount: amount("12345678901234567.12345")})
	require.NoError(t, err)

	var body OrderResponse
	require.NoError(t, json.Unmarshal(result.Body, &body))
	assert.Equal(t, json.Number("12345678901234567.12345"), body.Amount)
	assert.Equal(t, "12345678901234567.12345", f.queue.snapshot()[0].Amount.String())
}

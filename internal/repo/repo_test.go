package repo

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idempotent-checkout/internal/domain"
)

// runRepoContract checks the behaviour both stores must share.
func runRepoContract(t *testing.T, orders OrderRepo, records IdempotencyRepo, events PaymentEventRepo) {
	ctx := context.Background()
	created := time.Date(2026, 1, 2, 3, 4, 5, 123456000, time.UTC)

	newOrder := func(number, amount string, at time.Time) *domain.Order {
		return &domain.Order{
			ID:          uuid.New(),
			OrderNumber: number,
			Amount:      decimal.RequireFromString(amount),
			Currency:    "USD",
			Status:      domain.OrderPending,
			CreatedAt:   at,
		}
	}

	t.Run("order number is unique", func(t *testing.T) {
		require.NoError(t, orders.CreateOrder(ctx, newOrder("U-1", "1", created)))
		err := orders.CreateOrder(ctx, newOrder("U-1", "2", created))
		assert.ErrorIs(t, err, ErrConflict)

		got, err := orders.FindByOrderNumber(ctx, "U-1")
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(1).Equal(got.Amount))
	})

	t.Run("amount and timestamps round trip", func(t *testing.T) {
		o := newOrder("D-1", "19.9900", created)
		require.NoError(t, orders.CreateOrder(ctx, o))

		got, err := orders.FindByOrderNumber(ctx, "D-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, o.ID, got.ID)
		assert.True(t, decimal.RequireFromString("19.99").Equal(got.Amount), got.Amount.String())
		assert.Equal(t, "USD", got.Currency)
		assert.Equal(t, domain.OrderPending, got.Status)
		assert.True(t, created.Equal(got.CreatedAt))
	})

	t.Run("amount keeps full precision", func(t *testing.T) {
		for i, amount := range []string{"0.12345", "12345678901234567.5", "0.000000000000000001"} {
			number := "P-" + string(rune('A'+i))
			require.NoError(t, orders.CreateOrder(ctx, newOrder(number, amount, created)))

			got, err := orders.FindByOrderNumber(ctx, number)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, amount, got.Amount.String())
		}
	})

	t.Run("missing order is nil", func(t *testing.T) {
		got, err := orders.FindByOrderNumber(ctx, "does-not-exist")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("transition only from pending", func(t *testing.T) {
		require.NoError(t, orders.CreateOrder(ctx, newOrder("T-1", "5", created)))

		changed, err := orders.TransitionStatus(ctx, "T-1", domain.OrderPending, domain.OrderPaid)
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = orders.TransitionStatus(ctx, "T-1", domain.OrderPending, domain.OrderFailed)
		require.NoError(t, err)
		assert.False(t, changed)

		changed, err = orders.TransitionStatus(ctx, "nope", domain.OrderPending, domain.OrderPaid)
		require.NoError(t, err)
		assert.False(t, changed)

		got, err := orders.FindByOrderNumber(ctx, "T-1")
		require.NoError(t, err)
		assert.Equal(t, domain.OrderPaid, got.Status)
	})

	t.Run("list newest first", func(t *testing.T) {
		require.NoError(t, orders.CreateOrder(ctx, newOrder("L-late", "1", created.Add(time.Hour))))
		list, err := orders.ListOrders(ctx, 2)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "L-late", list[0].OrderNumber)
	})

	t.Run("idempotency key is unique", func(t *testing.T) {
		got, err := records.FindByKey(ctx, "k1")
		require.NoError(t, err)
		assert.Nil(t, got)

		body := []byte(`{"orderNumber":"ORD-1","amount":19.99}`)
		require.NoError(t, records.CreateRecord(ctx, &domain.IdempotencyRecord{
			ID: uuid.New(), Key: "k1", StatusCode: 201, ResponseBody: body, CreatedAt: created,
		}))
		err = records.CreateRecord(ctx, &domain.IdempotencyRecord{
			ID: uuid.New(), Key: "k1", StatusCode: 500, ResponseBody: []byte("other"), CreatedAt: created,
		})
		assert.ErrorIs(t, err, ErrConflict)

		got, err = records.FindByKey(ctx, "k1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, 201, got.StatusCode)
		assert.Equal(t, body, got.ResponseBody)
	})

	t.Run("payment events keep raw bytes", func(t *testing.T) {
		raw := []byte("{\"type\":\"payment.succeeded\",\n \"data\":{\"orderNumber\":\"E-1\"}}")
		for i := 0; i < 2; i++ {
			require.NoError(t, events.CreateEvent(ctx, &domain.PaymentEvent{
				ID:          uuid.New(),
				OrderNumber: "E-1",
				Type:        domain.EventPaymentSucceeded,
				Timestamp:   created.Add(time.Duration(i) * time.Second),
				RawBody:     raw,
				Signature:   "t=1,v1=abc",
			}))
		}

		list, err := events.ListByOrderNumber(ctx, "E-1")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, raw, list[0].RawBody)
		assert.Equal(t, "t=1,v1=abc", list[0].Signature)
		assert.True(t, list[0].Timestamp.Before(list[1].Timestamp))

		list, err = events.ListByOrderNumber(ctx, "none")
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

func TestMemoryRepos(t *testing.T) {
	m := NewMemory()
	runRepoContract(t, m.Orders(), m.Idempotency(), m.PaymentEvents())
}

func TestMemoryFailLookups(t *testing.T) {
	m := NewMemory()
	m.FailLookups(assert.AnError)
	_, err := m.Idempotency().FindByKey(context.Background(), "k")
	assert.ErrorIs(t, err, assert.AnError)

	m.FailLookups(nil)
	_, err = m.Idempotency().FindByKey(context.Background(), "k")
	assert.NoError(t, err)
}

func TestMemoryReturnsCopies(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	body := []byte("abc")
	require.NoError(t, m.Idempotency().CreateRecord(ctx, &domain.IdempotencyRecord{Key: "k", ResponseBody: body}))
	body[0] = 'X'

	got, err := m.Idempotency().FindByKey(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got.ResponseBody)
}

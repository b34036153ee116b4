package repo

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"idempotent-checkout/internal/domain"
)

// Memory holds in-process implementations of the repositories with the same
// unique-key semantics as the Postgres schema. Used with STORE_DRIVER=memory
// and in tests.
type Memory struct {
	mu          sync.RWMutex
	orders      map[string]domain.Order
	records     map[string]domain.IdempotencyRecord
	events      []domain.PaymentEvent
	failLookups error
}

func NewMemory() *Memory {
	return &Memory{
		orders:  make(map[string]domain.Order),
		records: make(map[string]domain.IdempotencyRecord),
	}
}

// FailLookups makes FindByKey return err until called again with nil.
func (m *Memory) FailLookups(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failLookups = err
}

func (m *Memory) Orders() OrderRepo               { return memoryOrders{m} }
func (m *Memory) Idempotency() IdempotencyRepo    { return memoryIdempotency{m} }
func (m *Memory) PaymentEvents() PaymentEventRepo { return memoryEvents{m} }

type memoryOrders struct{ m *Memory }

func (r memoryOrders) CreateOrder(_ context.Context, order *domain.Order) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, exists := r.m.orders[order.OrderNumber]; exists {
		return ErrConflict
	}
	r.m.orders[order.OrderNumber] = *order
	return nil
}

func (r memoryOrders) FindByOrderNumber(_ context.Context, orderNumber string) (*domain.Order, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	order, ok := r.m.orders[orderNumber]
	if !ok {
		return nil, nil
	}
	return &order, nil
}

func (r memoryOrders) ListOrders(_ context.Context, limit int) ([]domain.Order, error) {
	r.m.mu.RLock()
	orders := make([]domain.Order, 0, len(r.m.orders))
	for _, o := range r.m.orders {
		orders = append(orders, o)
	}
	r.m.mu.RUnlock()

	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].OrderNumber < orders[j].OrderNumber
	})
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (r memoryOrders) TransitionStatus(_ context.Context, orderNumber string, from, to domain.OrderStatus) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	order, ok := r.m.orders[orderNumber]
	if !ok || order.Status != from || !order.CanTransitionTo(to) {
		return false, nil
	}
	order.Status = to
	r.m.orders[orderNumber] = order
	return true, nil
}

type memoryIdempotency struct{ m *Memory }

func (r memoryIdempotency) FindByKey(_ context.Context, key string) (*domain.IdempotencyRecord, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	if r.m.failLookups != nil {
		return nil, r.m.failLookups
	}
	rec, ok := r.m.records[key]
	if !ok {
		return nil, nil
	}
	rec.ResponseBody = bytes.Clone(rec.ResponseBody)
	return &rec, nil
}

func (r memoryIdempotency) CreateRecord(_ context.Context, record *domain.IdempotencyRecord) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, exists := r.m.records[record.Key]; exists {
		return ErrConflict
	}
	rec := *record
	rec.ResponseBody = bytes.Clone(record.ResponseBody)
	r.m.records[record.Key] = rec
	return nil
}

type memoryEvents struct{ m *Memory }

func (r memoryEvents) CreateEvent(_ context.Context, event *domain.PaymentEvent) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	e := *event
	e.RawBody = bytes.Clone(event.RawBody)
	r.m.events = append(r.m.events, e)
	return nil
}

func (r memoryEvents) ListByOrderNumber(_ context.Context, orderNumber string) ([]domain.PaymentEvent, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	events := []domain.PaymentEvent{}
	for _, e := range r.m.events {
		if e.OrderNumber == orderNumber {
			events = append(events, e)
		}
	}
	return events, nil
}

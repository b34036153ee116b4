package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending OrderStatus = "Pending"
	OrderPaid    OrderStatus = "Paid"
	OrderFailed  OrderStatus = "Failed"
)

const DefaultCurrency = "USD"

type Order struct {
	ID          uuid.UUID
	OrderNumber string
	Amount      decimal.Decimal
	Currency    string
	Status      OrderStatus
	CreatedAt   time.Time
}

// CanTransitionTo reports whether the order may move from its current status to next.
// Only Pending orders ever move, and never back to Pending.
func (o *Order) CanTransitionTo(next OrderStatus) bool {
	return o.Status == OrderPending && (next == OrderPaid || next == OrderFailed)
}

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
)

// PaymentSimulationJob lives only in process memory; a restart loses it.
type PaymentSimulationJob struct {
	OrderNumber string
	Amount      decimal.Decimal
	Currency    string
}

// PaymentEvent is the audit record of a signature-valid webhook call.
type PaymentEvent struct {
	ID          uuid.UUID
	OrderNumber string
	Type        string
	Timestamp   time.Time
	RawBody     []byte
	Signature   string
}

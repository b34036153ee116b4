package repo

import (
	"context"
	"database/sql"
	"fmt"

	"idempotent-checkout/internal/domain"
)

type PaymentEventRepo interface {
	CreateEvent(ctx context.Context, event *domain.PaymentEvent) error
	ListByOrderNumber(ctx context.Context, orderNumber string) ([]domain.PaymentEvent, error)
}

type paymentEventRepo struct {
	db *sql.DB
}

func NewPaymentEventRepo(db *sql.DB) PaymentEventRepo {
	return &paymentEventRepo{db: db}
}

func (r *paymentEventRepo) CreateEvent(ctx context.Context, event *domain.PaymentEvent) error {
	query := `INSERT INTO payment_events (id, order_number, type, timestamp, raw_body, signature) VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.ExecContext(
		ctx, query, event.ID, event.OrderNumber, event.Type, event.Timestamp, event.RawBody, event.Signature,
	)
	if err != nil {
		return fmt.Errorf("insert payment event: %w", err)
	}
	return nil
}

func (r *paymentEventRepo) ListByOrderNumber(ctx context.Context, orderNumber string) ([]domain.PaymentEvent, error) {
	query := `
		SELECT id, order_number, type, timestamp, raw_body, signature
		FROM payment_events
		WHERE order_number = $1
		ORDER BY timestamp, id
	`
	rows, err := r.db.QueryContext(ctx, query, orderNumber)
	if err != nil {
		return nil, fmt.Errorf("list payment events: %w", err)
	}
	defer rows.Close()

	events := []domain.PaymentEvent{}
	for rows.Next() {
		var e domain.PaymentEvent
		err := rows.Scan(
			&e.ID,
			&e.OrderNumber,
			&e.Type,
			&e.Timestamp,
			&e.RawBody,
			&e.Signature,
		)
		if err != nil {
			return nil, fmt.Errorf("scan payment event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"idempotent-checkout/internal/domain"
)

type OrderRepo interface {
	// CreateOrder returns ErrConflict when the order number already exists.
	CreateOrder(ctx context.Context, order *domain.Order) error
	FindByOrderNumber(ctx context.Context, orderNumber string) (*domain.Order, error)
	ListOrders(ctx context.Context, limit int) ([]domain.Order, error)
	// TransitionStatus moves an order from one status to another and reports
	// whether a row was changed.
	TransitionStatus(ctx context.Context, orderNumber string, from, to domain.OrderStatus) (bool, error)
}

type orderRepo struct {
	db *sql.DB
}

func NewOrderRepo(db *sql.DB) OrderRepo {
	return &orderRepo{db: db}
}

const orderColumns = "id, order_number, amount, currency, status, created_at"

func (r *orderRepo) CreateOrder(ctx context.Context, order *domain.Order) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO orders ("+orderColumns+") VALUES ($1, $2, $3, $4, $5, $6)",
		order.ID, order.OrderNumber, order.Amount, order.Currency, order.Status, order.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert order %s: %w", order.OrderNumber, err)
	}
	return nil
}

func (r *orderRepo) FindByOrderNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	var order domain.Order
	err := r.db.QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE order_number = $1", orderNumber,
	).Scan(
		&order.ID,
		&order.OrderNumber,
		&order.Amount,
		&order.Currency,
		&order.Status,
		&order.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // not found
	}
	if err != nil {
		return nil, fmt.Errorf("find order %s: %w", orderNumber, err)
	}
	return &order, nil
}

func (r *orderRepo) ListOrders(ctx context.Context, limit int) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+orderColumns+" FROM orders ORDER BY created_at DESC, order_number LIMIT $1", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := []domain.Order{}
	for rows.Next() {
		var order domain.Order
		if err := rows.Scan(
			&order.ID,
			&order.OrderNumber,
			&order.Amount,
			&order.Currency,
			&order.Status,
			&order.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func (r *orderRepo) TransitionStatus(ctx context.Context, orderNumber string, from, to domain.OrderStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE orders SET status = $1 WHERE order_number = $2 AND status = $3",
		to, orderNumber, from,
	)
	if err != nil {
		return false, fmt.Errorf("update order %s status: %w", orderNumber, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update order %s status: %w", orderNumber, err)
	}
	return n == 1, nil
}

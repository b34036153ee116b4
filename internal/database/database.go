package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

// Service represents a service that interacts with a database.
type Service interface {
	// Health returns a map of health status information.
	// The keys and values in the map are service-specific.
	Health(ctx context.Context) map[string]string

	// Close terminates the database connection.
	// It returns an error if the connection cannot be closed.
	Close() error
}

type service struct {
	db  *sql.DB
	log *zap.Logger
}

// NewPostgres opens a pgx-backed *sql.DB and verifies it answers a ping.
func NewPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func New(db *sql.DB, log *zap.Logger) Service {
	return &service{db: db, log: log.Named("database")}
}

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id           UUID PRIMARY KEY,
	order_number TEXT NOT NULL,
	amount       NUMERIC NOT NULL CHECK (amount >= 0),
	currency     CHAR(3) NOT NULL DEFAULT 'USD',
	status       TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS orders_order_number_unique ON orders (order_number);
-- Widens tables created with the earlier NUMERIC(20, 4) column.
ALTER TABLE orders ALTER COLUMN amount TYPE NUMERIC;

CREATE TABLE IF NOT EXISTS idempotency_records (
	id            UUID PRIMARY KEY,
	key           TEXT NOT NULL,
	status_code   INTEGER NOT NULL,
	response_body BYTEA NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS key_unique ON idempotency_records (key);

CREATE TABLE IF NOT EXISTS payment_events (
	id           UUID PRIMARY KEY,
	order_number TEXT NOT NULL,
	type         TEXT NOT NULL,
	timestamp    TIMESTAMPTZ NOT NULL,
	raw_body     BYTEA NOT NULL,
	signature    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS payment_events_order_number ON payment_events (order_number);
`

// Migrate creates the tables and the unique indexes the idempotency gate relies on.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Health checks the health of the database connection by pinging the database.
// It returns a map with keys indicating various health statistics.
func (s *service) Health(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	stats := make(map[string]string)

	if err := s.db.PingContext(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		s.log.Error("database ping failed", zap.Error(err))
		return stats
	}

	stats["status"] = "up"
	stats["message"] = "It's healthy"

	dbStats := s.db.Stats()
	stats["open_connections"] = strconv.Itoa(dbStats.OpenConnections)
	stats["in_use"] = strconv.Itoa(dbStats.InUse)
	stats["idle"] = strconv.Itoa(dbStats.Idle)
	stats["wait_count"] = strconv.FormatInt(dbStats.WaitCount, 10)
	stats["wait_duration"] = dbStats.WaitDuration.String()

	if dbStats.OpenConnections > 40 {
		stats["message"] = "The database is experiencing heavy load."
	}
	if dbStats.WaitCount > 1000 {
		stats["message"] = "The database has a high number of wait events, indicating potential bottlenecks."
	}

	return stats
}

func (s *service) Close() error {
	s.log.Info("disconnected from database")
	return s.db.Close()
}

type memoryService struct{}

// NewMemory returns a Service for the in-memory store driver.
func NewMemory() Service {
	return memoryService{}
}

func (memoryService) Health(context.Context) map[string]string {
	return map[string]string{"status": "up", "message": "in-memory store"}
}

func (memoryService) Close() error { return nil }

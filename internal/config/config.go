package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds application configuration.
type Config struct {
	HTTPAddr    string
	StoreDriver string

	DB      DBConfig
	Webhook WebhookConfig

	PaymentSimulationDelay  time.Duration
	IdempotencyConflictWait time.Duration

	CORSAllowedOrigins []string

	LogLevel  string
	LogFormat string

	// parseErrs holds malformed numeric and duration values seen by Load.
	parseErrs []error
}

type DBConfig struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	Schema   string
}

type WebhookConfig struct {
	SharedSecret    string
	SignatureHeader string
	Tolerance       time.Duration
	BaseURL         string
	Timeout         time.Duration
}

// DSN builds the pgx connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		c.Username, c.Password, c.Host, c.Port, c.Database, c.Schema,
	)
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	env := &envReader{}
	cfg := Config{
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		StoreDriver: strings.ToLower(getenv("STORE_DRIVER", StorePostgres)),
		DB: DBConfig{
			Host:     getenv("BLUEPRINT_DB_HOST", "localhost"),
			Port:     getenv("BLUEPRINT_DB_PORT", "5432"),
			Database: getenv("BLUEPRINT_DB_DATABASE", "orders"),
			Username: getenv("BLUEPRINT_DB_USERNAME", "postgres"),
			Password: getenv("BLUEPRINT_DB_PASSWORD", "postgres"),
			Schema:   getenv("BLUEPRINT_DB_SCHEMA", "public"),
		},
		Webhook: WebhookConfig{
			SharedSecret:    strings.TrimSpace(os.Getenv("WEBHOOK_SHARED_SECRET")),
			SignatureHeader: getenv("WEBHOOK_SIGNATURE_HEADER", "X-Signature"),
			Tolerance:       time.Duration(env.intValue("WEBHOOK_TOLERANCE_SECONDS", 300)) * time.Second,
			BaseURL:         strings.TrimRight(getenv("WEBHOOK_BASE_URL", "http://localhost:8080"), "/"),
			Timeout:         env.durationValue("WEBHOOK_TIMEOUT", 10*time.Second),
		},
		PaymentSimulationDelay:  env.durationValue("PAYMENT_SIMULATION_DELAY", 5*time.Second),
		IdempotencyConflictWait: env.durationValue("IDEMPOTENCY_CONFLICT_WAIT", 2*time.Second),
		CORSAllowedOrigins:      splitList(getenv("CORS_ALLOWED_ORIGINS", "http://localhost:5173")),
		LogLevel:                getenv("LOG_LEVEL", "info"),
		LogFormat:               getenv("LOG_FORMAT", "json"),
	}
	cfg.parseErrs = env.errs
	return cfg
}

func (c Config) Validate() error {
	errs := append([]error(nil), c.parseErrs...)
	if c.Webhook.SharedSecret == "" {
		errs = append(errs, errors.New("WEBHOOK_SHARED_SECRET is required"))
	}
	if c.Webhook.Tolerance <= 0 {
		errs = append(errs, errors.New("WEBHOOK_TOLERANCE_SECONDS must be positive"))
	}
	if c.PaymentSimulationDelay < 0 {
		errs = append(errs, errors.New("PAYMENT_SIMULATION_DELAY must not be negative"))
	}
	switch c.StoreDriver {
	case StorePostgres, StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	return errors.Join(errs...)
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// envReader parses typed variables and keeps every malformed value so
// Validate can report it instead of silently using the default.
type envReader struct {
	errs []error
}

func (r *envReader) intValue(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid integer %q", key, value))
		return def
	}
	return parsed
}

func (r *envReader) durationValue(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid duration %q", key, value))
		return def
	}
	return parsed
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

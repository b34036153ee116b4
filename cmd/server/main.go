package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"idempotent-checkout/internal/clock"
	"idempotent-checkout/internal/config"
	"idempotent-checkout/internal/database"
	"idempotent-checkout/internal/infrastructure/payment"
	"idempotent-checkout/internal/logger"
	"idempotent-checkout/internal/metrics"
	"idempotent-checkout/internal/queue"
	"idempotent-checkout/internal/repo"
	"idempotent-checkout/internal/server"
	"idempotent-checkout/internal/service"
	"idempotent-checkout/internal/signer"
	"idempotent-checkout/internal/worker"
)

const shutdownTimeout = 10 * time.Second

type stores struct {
	orders      repo.OrderRepo
	idempotency repo.IdempotencyRepo
	events      repo.PaymentEventRepo
	db          database.Service
}

func main() {
	os.Exit(serve())
}

// serve returns the process exit code so deferred log flushing always runs.
func serve() int {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", zap.Error(err))
		return 1
	}
	return 0
}

func run(cfg config.Config, log *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.db.Close(); err != nil {
			log.Error("close store", zap.Error(err))
		}
	}()

	clk := clock.New()
	sig := signer.New(cfg.Webhook.SharedSecret, cfg.Webhook.SignatureHeader, cfg.Webhook.Tolerance, clk)
	jobs := queue.New()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg, jobs.Len)

	idempotency := service.NewIdempotencyService(st.idempotency, clk, log, m)
	orders := service.NewOrderService(service.OrderServiceParams{
		OrderRepo:    st.orders,
		EventRepo:    st.events,
		Idempotency:  idempotency,
		Queue:        jobs,
		Clock:        clk,
		ConflictWait: cfg.IdempotencyConflictWait,
		Log:          log,
		Metrics:      m,
	})
	webhooks := service.NewWebhookService(sig, st.events, orders, clk, log, m)

	gateway := payment.NewPaymentGateway(&http.Client{Timeout: cfg.Webhook.Timeout}, cfg.Webhook.BaseURL, sig)
	simulator := worker.NewPaymentSimulationWorker(jobs, gateway, cfg.PaymentSimulationDelay, log, m)

	gin.SetMode(gin.ReleaseMode)
	engine := server.NewEngine(server.Params{
		Orders:          orders,
		Webhooks:        webhooks,
		DB:              st.db,
		SignatureHeader: sig.HeaderName(),
		CORSOrigins:     cfg.CORSAllowedOrigins,
		MetricsHandler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Log:             log,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("store", cfg.StoreDriver),
			zap.String("webhook_target", cfg.Webhook.BaseURL+payment.WebhookPath),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		simulator.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down", zap.Int("pending_jobs", jobs.Len()))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openStores(ctx context.Context, cfg config.Config, log *zap.Logger) (*stores, error) {
	if cfg.StoreDriver == config.StoreMemory {
		log.Warn("using in-memory store, data is lost on restart")
		mem := repo.NewMemory()
		return &stores{
			orders:      mem.Orders(),
			idempotency: mem.Idempotency(),
			events:      mem.PaymentEvents(),
			db:          database.NewMemory(),
		}, nil
	}

	db, err := database.NewPostgres(ctx, cfg.DB.DSN())
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("connected to postgres",
		zap.String("host", cfg.DB.Host),
		zap.String("database", cfg.DB.Database),
	)
	return postgresStores(db, log), nil
}

func postgresStores(db *sql.DB, log *zap.Logger) *stores {
	return &stores{
		orders:      repo.NewOrderRepo(db),
		idempotency: repo.NewIdempotencyRepo(db),
		events:      repo.NewPaymentEventRepo(db),
		db:          database.New(db, log),
	}
}

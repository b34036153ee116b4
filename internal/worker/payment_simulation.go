package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"idempotent-checkout/internal/domain"
	"idempotent-checkout/internal/infrastructure/payment"
	"idempotent-checkout/internal/metrics"
)

type JobSource interface {
	Dequeue(ctx context.Context) (domain.PaymentSimulationJob, error)
}

// PaymentSimulationWorker is the single consumer of the dispatch queue. Each
// job waits out a simulated processing delay and then reports success to the
// webhook receiver. Failed deliveries are logged and dropped: there is no
// retry and no dead-letter store.
type PaymentSimulationWorker struct {
	queue   JobSource
	gateway payment.PaymentGateway
	delay   time.Duration
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewPaymentSimulationWorker(
	queue JobSource,
	gateway payment.PaymentGateway,
	delay time.Duration,
	log *zap.Logger,
	m *metrics.Metrics,
) *PaymentSimulationWorker {
	return &PaymentSimulationWorker{
		queue:   queue,
		gateway: gateway,
		delay:   delay,
		log:     log.Named("payment_simulation"),
		metrics: m,
	}
}

// Run blocks until ctx is cancelled.
func (w *PaymentSimulationWorker) Run(ctx context.Context) {
	w.log.Info("payment simulation worker started", zap.Duration("delay", w.delay))

	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			w.log.Info("payment simulation worker stopped")
			return
		}

		if !w.simulateProcessing(ctx) {
			w.log.Warn("shutdown during simulated processing, job abandoned",
				zap.String("order_number", job.OrderNumber))
			return
		}

		w.process(ctx, job)
	}
}

func (w *PaymentSimulationWorker) simulateProcessing(ctx context.Context) bool {
	if w.delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(w.delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (w *PaymentSimulationWorker) process(ctx context.Context, job domain.PaymentSimulationJob) {
	log := w.log.With(zap.String("order_number", job.OrderNumber))

	status, err := w.gateway.Deliver(ctx, job)
	switch {
	case err == nil:
		w.metrics.WebhookDelivery(metrics.DeliveryDelivered)
		log.Info("payment webhook delivered", zap.Int("status", status))
	case errors.Is(err, payment.ErrDeliveryRejected):
		w.metrics.WebhookDelivery(metrics.DeliveryRejected)
		log.Error("payment webhook rejected, job dropped", zap.Int("status", status), zap.Error(err))
	default:
		w.metrics.WebhookDelivery(metrics.DeliveryError)
		log.Error("payment webhook delivery failed, job dropped", zap.Error(err))
	}
}

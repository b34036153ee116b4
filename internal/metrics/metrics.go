package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DeliveryDelivered = "delivered"
	DeliveryRejected  = "rejected"
	DeliveryError     = "error"

	ReceiveAccepted     = "accepted"
	ReceiveUnauthorized = "unauthorized"
	ReceiveInvalid      = "invalid"
)

// Metrics groups the counters of the order and payment webhook pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ordersCreated      prometheus.Counter
	idempotencyReplays prometheus.Counter
	idempotencyErrors  *prometheus.CounterVec
	webhookDeliveries  *prometheus.CounterVec
	webhooksReceived   *prometheus.CounterVec
}

func New(registerer prometheus.Registerer, queueLen func() int) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		ordersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Orders created by first-time idempotency keys.",
		}),
		idempotencyReplays: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "idempotency_replays_total",
			Help: "Create-order requests answered from a stored response.",
		}),
		idempotencyErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_store_events_total",
			Help: "Idempotency store lookups degraded to a miss and absorbed insert conflicts.",
		}, []string{"kind"}),
		webhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_webhook_deliveries_total",
			Help: "Outbound simulated payment webhooks by result.",
		}, []string{"result"}),
		webhooksReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_webhooks_received_total",
			Help: "Inbound payment webhooks by result.",
		}, []string{"result"}),
	}
	registerer.MustRegister(
		m.ordersCreated,
		m.idempotencyReplays,
		m.idempotencyErrors,
		m.webhookDeliveries,
		m.webhooksReceived,
	)
	if queueLen != nil {
		registerer.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "payment_simulation_queue_depth",
			Help: "Jobs waiting in the dispatch queue.",
		}, func() float64 { return float64(queueLen()) }))
	}
	return m
}

func (m *Metrics) OrderCreated() {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
}

func (m *Metrics) IdempotencyReplay() {
	if m == nil {
		return
	}
	m.idempotencyReplays.Inc()
}

func (m *Metrics) IdempotencyLookupFailed() {
	if m == nil {
		return
	}
	m.idempotencyErrors.WithLabelValues("lookup_failed").Inc()
}

func (m *Metrics) IdempotencyConflict() {
	if m == nil {
		return
	}
	m.idempotencyErrors.WithLabelValues("conflict").Inc()
}

func (m *Metrics) WebhookDelivery(result string) {
	if m == nil {
		return
	}
	m.webhookDeliveries.WithLabelValues(result).Inc()
}

func (m *Metrics) WebhookReceived(result string) {
	if m == nil {
		return
	}
	m.webhooksReceived.WithLabelValues(result).Inc()
}

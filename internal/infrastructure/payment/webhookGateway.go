package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"idempotent-checkout/internal/domain"
)

const WebhookPath = "/api/webhooks/payments"

// ErrDeliveryRejected is returned when the receiver answers with a non-2xx status.
var ErrDeliveryRejected = errors.New("payment webhook rejected")

// PaymentGateway stands in for an external payment provider that reports
// outcomes through signed webhooks.
type PaymentGateway interface {
	// Deliver posts a payment.succeeded webhook for job and returns the
	// receiver's status code.
	Deliver(ctx context.Context, job domain.PaymentSimulationJob) (int, error)
}

type Signer interface {
	Sign(body []byte, timestamp int64) string
	HeaderName() string
	Now() int64
}

type paymentGateway struct {
	client  *http.Client
	baseURL string
	signer  Signer
}

func NewPaymentGateway(client *http.Client, baseURL string, signer Signer) PaymentGateway {
	if client == nil {
		client = http.DefaultClient
	}
	return &paymentGateway{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		signer:  signer,
	}
}

type webhookPayload struct {
	Type string      `json:"type"`
	Data webhookData `json:"data"`
}

type webhookData struct {
	OrderNumber string      `json:"orderNumber"`
	Amount      json.Number `json:"amount"`
	Currency    string      `json:"currency"`
}

// EncodeSucceeded builds the payment.succeeded body for job.
func EncodeSucceeded(job domain.PaymentSimulationJob) ([]byte, error) {
	return json.Marshal(webhookPayload{
		Type: domain.EventPaymentSucceeded,
		Data: webhookData{
			OrderNumber: job.OrderNumber,
			Amount:      json.Number(job.Amount.String()),
			Currency:    job.Currency,
		},
	})
}

func (pg *paymentGateway) Deliver(ctx context.Context, job domain.PaymentSimulationJob) (int, error) {
	body, err := EncodeSucceeded(job)
	if err != nil {
		return 0, fmt.Errorf("encode webhook: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pg.baseURL+WebhookPath, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(pg.signer.HeaderName(), pg.signer.Sign(body, pg.signer.Now()))

	resp, err := pg.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("%w: status %d", ErrDeliveryRejected, resp.StatusCode)
	}
	return resp.StatusCode, nil
}

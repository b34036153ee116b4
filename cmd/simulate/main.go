package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"idempotent-checkout/internal/logger"
)

type options struct {
	baseURL string
	orders  int
	retries int
	wait    time.Duration
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// rootCmd drives a running server the way a flaky client would: every order
// is submitted several times in parallel with the same idempotency key, and
// the run then waits for each order to be marked paid by the webhook loop.
func rootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:           "simulate",
		Short:         "Submit retried orders against a running server and wait for payment",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return simulate(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.baseURL, "base-url", "http://localhost:8080", "server base URL")
	cmd.Flags().IntVarP(&opts.orders, "orders", "n", 20, "number of orders to create")
	cmd.Flags().IntVarP(&opts.retries, "retries", "r", 3, "concurrent submissions per idempotency key")
	cmd.Flags().DurationVar(&opts.wait, "wait", 30*time.Second, "how long to wait for orders to become Paid")

	return cmd
}

func simulate(ctx context.Context, opts options) error {
	log, err := logger.New("info", "console")
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	c := &client{http: &http.Client{Timeout: 10 * time.Second}, baseURL: strings.TrimRight(opts.baseURL, "/")}
	runID := time.Now().UTC().Format("20060102-150405")

	log.Info("starting simulation", zap.Int("orders", opts.orders), zap.Int("retries", opts.retries))

	var (
		created []string
		broken  int
	)
	for i := 0; i < opts.orders; i++ {
		orderNumber := fmt.Sprintf("SIM-%s-%03d", runID, i+1)
		amount := decimal.NewFromInt(int64(500 + i*137)).Shift(-2)

		bodies, err := c.submitWithRetries(ctx, uuid.NewString(), orderNumber, amount, opts.retries)
		if err != nil {
			log.Error("create failed", zap.String("order_number", orderNumber), zap.Error(err))
			continue
		}
		consistent := true
		for _, b := range bodies[1:] {
			if !bytes.Equal(b, bodies[0]) {
				consistent = false
			}
		}

		created = append(created, orderNumber)
		if !consistent {
			broken++
		}
		log.Info("order submitted",
			zap.String("order_number", orderNumber),
			zap.String("amount", amount.StringFixed(2)),
			zap.Bool("identical_responses", consistent),
		)
	}

	waitCtx, cancel := context.WithTimeout(ctx, opts.wait)
	defer cancel()
	paid, pending := c.awaitPaid(waitCtx, created)

	log.Info("simulation finished",
		zap.Int("created", len(created)),
		zap.Int("paid", paid),
		zap.Int("still_pending", pending),
		zap.Int("divergent_replays", broken),
	)
	if broken > 0 || pending > 0 {
		return fmt.Errorf("simulation failed: %d divergent replays, %d orders still pending", broken, pending)
	}
	return nil
}

type client struct {
	http    *http.Client
	baseURL string
}

type orderView struct {
	OrderNumber string `json:"orderNumber"`
	Status      string `json:"status"`
}

// submitWithRetries sends the same create request n times concurrently and
// returns every response body.
func (c *client) submitWithRetries(ctx context.Context, key, orderNumber string, amount decimal.Decimal, n int) ([][]byte, error) {
	payload, err := json.Marshal(map[string]any{
		"orderNumber": orderNumber,
		"amount":      amount,
		"currency":    "USD",
	})
	if err != nil {
		return nil, err
	}
	if n < 1 {
		n = 1
	}

	bodies := make([][]byte, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			req, err := http.NewRequestWithContext(gctx, http.MethodPost, c.baseURL+"/api/orders", bytes.NewReader(payload))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Idempotency-Key", key)

			resp, err := c.http.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode != http.StatusCreated {
				return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
			}
			bodies[i] = body
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return bodies, nil
}

// awaitPaid polls each order until it is no longer Pending or ctx ends.
func (c *client) awaitPaid(ctx context.Context, orderNumbers []string) (paid, pending int) {
	remaining := append([]string(nil), orderNumbers...)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for len(remaining) > 0 {
		next := remaining[:0]
		for _, n := range remaining {
			status, err := c.status(ctx, n)
			if err != nil || status == "Pending" {
				next = append(next, n)
				continue
			}
			if status == "Paid" {
				paid++
			}
		}
		remaining = next
		if len(remaining) == 0 {
			break
		}

		select {
		case <-ctx.Done():
			return paid, len(remaining)
		case <-ticker.C:
		}
	}
	return paid, 0
}

func (c *client) status(ctx context.Context, orderNumber string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/orders/"+orderNumber, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.New(resp.Status)
	}

	var o orderView
	if err := json.NewDecoder(resp.Body).Decode(&o); err != nil {
		return "", err
	}
	return o.Status, nil
}

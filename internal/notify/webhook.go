package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"stockease/internal/logger"
	"stockease/internal/models"
)

// WebhookConfig configures the chat webhook sink
type WebhookConfig struct {
	URL          string
	Timeout      time.Duration
	Retries      int
	RetryBackoff time.Duration

	// Consecutive failed posts that open the breaker, and how long it
	// stays open before a trial request
	MaxFailures  int
	ResetTimeout time.Duration

	// Client overrides the HTTP client, mainly for tests
	Client *http.Client
}

// Webhook posts alert envelopes to a Discord-compatible webhook as
// {"content": "ALERT: ..."}. Weight envelopes are ignored. Posts go
// through a circuit breaker so a dead endpoint fails fast instead of
// stalling the worker pool.
type Webhook struct {
	url     string
	client  *http.Client
	retries int
	backoff time.Duration
	breaker *gobreaker.CircuitBreaker

	sent   atomic.Uint64
	failed atomic.Uint64
}

type webhookPayload struct {
	Content string `json:"content"`
}

// statusError is a non-2xx webhook response
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("webhook returned %d: %s", e.code, e.body)
}

// retryable reports whether a later attempt may succeed
func (e *statusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}

// NewWebhook creates a webhook sink
func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}

	maxFailures := uint32(cfg.MaxFailures)
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "webhook",
		MaxRequests: 1,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log := logger.WithComponent("webhook")
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})

	return &Webhook{
		url:     cfg.URL,
		client:  cfg.Client,
		retries: cfg.Retries,
		backoff: cfg.RetryBackoff,
		breaker: breaker,
	}
}

// Name implements Sink
func (w *Webhook) Name() string { return "webhook" }

// Enabled reports whether a URL is configured
func (w *Webhook) Enabled() bool { return w.url != "" }

// Publish posts one alert envelope
func (w *Webhook) Publish(ctx context.Context, envelope *models.Envelope) error {
	if !w.Enabled() || envelope.Kind != models.KindAlert || envelope.Alert == nil {
		return nil
	}

	body, err := json.Marshal(webhookPayload{Content: "ALERT: " + envelope.Alert.Message})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	if err := w.postWithRetry(ctx, body); err != nil {
		w.failed.Add(1)
		return err
	}

	w.sent.Add(1)
	log := logger.WithComponent("webhook")
	log.Debug().
		Int64("alert_id", envelope.Alert.ID).
		Int64("product_id", envelope.Alert.ProductID).
		Msg("alert sent to webhook")
	return nil
}

// PublishBatch posts each alert in the batch; the webhook has no batch form
func (w *Webhook) PublishBatch(ctx context.Context, envelopes []*models.Envelope) error {
	var errs []error
	for _, e := range envelopes {
		if err := w.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// postWithRetry posts body with exponential backoff
func (w *Webhook) postWithRetry(ctx context.Context, body []byte) error {
	log := logger.WithComponent("webhook")
	backoff := w.backoff
	var lastErr error

	for attempt := 0; attempt <= w.retries; attempt++ {
		if attempt > 0 {
			log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("retrying webhook post")

			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		_, err := w.breaker.Execute(func() (interface{}, error) {
			return nil, w.post(ctx, body)
		})
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return err
		}
		var se *statusError
		if errors.As(err, &se) && !se.retryable() {
			return err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	}

	return fmt.Errorf("webhook failed after %d attempts: %w", w.retries+1, lastErr)
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, body: string(msg)}
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return nil
}

// Stats returns webhook delivery counters
func (w *Webhook) Stats() WebhookStats {
	return WebhookStats{
		Sent:    w.sent.Load(),
		Failed:  w.failed.Load(),
		Breaker: w.breaker.State().String(),
	}
}

// WebhookStats holds webhook delivery counters
type WebhookStats struct {
	Sent    uint64 `json:"sent"`
	Failed  uint64 `json:"failed"`
	Breaker string `json:"breaker"`
}

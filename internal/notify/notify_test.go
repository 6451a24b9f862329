package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker"

	"stockease/internal/models"
	"stockease/internal/notify"
)

func alertEnvelope(productID int64, msg string) *models.Envelope {
	return models.NewAlertEnvelope(&models.Alert{
		ID:        productID,
		ProductID: productID,
		Category:  models.CategoryLowWeight,
		Message:   msg,
		AlertDate: time.Now().UTC(),
	}, "test-node")
}

func weightEnvelope(productID int64) *models.Envelope {
	return models.NewWeightEnvelope(&models.WeightUpdate{ProductID: productID, SensorID: "SENSOR_01", Weight: 4}, "test-node")
}

// countingSink records deliveries and optionally fails
type countingSink struct {
	name      string
	delivered atomic.Int64
	fail      bool
}

func (s *countingSink) Name() string { return s.name }

func (s *countingSink) Publish(ctx context.Context, e *models.Envelope) error {
	return s.PublishBatch(ctx, []*models.Envelope{e})
}

func (s *countingSink) PublishBatch(_ context.Context, es []*models.Envelope) error {
	if s.fail {
		return errors.New(s.name + " down")
	}
	s.delivered.Add(int64(len(es)))
	return nil
}

func TestFanout_PartialFailureIsNotAnError(t *testing.T) {
	good := &countingSink{name: "good"}
	bad := &countingSink{name: "bad", fail: true}
	f := notify.NewFanout(bad, good)

	batch := []*models.Envelope{weightEnvelope(1), weightEnvelope(2)}
	if err := f.PublishBatch(context.Background(), batch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if good.delivered.Load() != 2 {
		t.Errorf("good sink got %d envelopes, want 2", good.delivered.Load())
	}
}

func TestFanout_AllSinksFailing(t *testing.T) {
	f := notify.NewFanout(
		&countingSink{name: "a", fail: true},
		&countingSink{name: "b", fail: true},
	)

	err := f.Publish(context.Background(), weightEnvelope(1))
	if err == nil {
		t.Fatal("expected error when every sink fails")
	}
	if !strings.Contains(err.Error(), "a: a down") || !strings.Contains(err.Error(), "b: b down") {
		t.Errorf("error does not name both sinks: %v", err)
	}
}

func TestFanout_NamedAndEmpty(t *testing.T) {
	inner := &countingSink{name: "ignored"}
	f := notify.NewFanout(notify.Named("kafka", inner))

	if got := f.Sinks(); len(got) != 1 || got[0] != "kafka" {
		t.Errorf("sinks = %v", got)
	}
	if err := notify.NewFanout().Publish(context.Background(), weightEnvelope(1)); err != nil {
		t.Errorf("empty fanout: %v", err)
	}
}

func TestWebhook_PostsAlertContent(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		var body struct {
			Content string `json:"content"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		got = append(got, body.Content)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := notify.NewWebhook(notify.WebhookConfig{URL: srv.URL})

	batch := []*models.Envelope{weightEnvelope(1), alertEnvelope(1, "Coffee is low.")}
	if err := wh.PublishBatch(context.Background(), batch); err != nil {
		t.Fatalf("PublishBatch: %v", err)
	}

	if len(got) != 1 || got[0] != "ALERT: Coffee is low." {
		t.Errorf("posted = %q", got)
	}
	if s := wh.Stats(); s.Sent != 1 || s.Failed != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestWebhook_DisabledWithoutURL(t *testing.T) {
	wh := notify.NewWebhook(notify.WebhookConfig{})
	if wh.Enabled() {
		t.Error("webhook enabled without URL")
	}
	if err := wh.Publish(context.Background(), alertEnvelope(1, "x")); err != nil {
		t.Errorf("disabled webhook returned %v", err)
	}
}

func TestWebhook_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := notify.NewWebhook(notify.WebhookConfig{
		URL:          srv.URL,
		Retries:      2,
		RetryBackoff: time.Millisecond,
	})

	if err := wh.Publish(context.Background(), alertEnvelope(1, "x")); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestWebhook_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown webhook", http.StatusNotFound)
	}))
	defer srv.Close()

	wh := notify.NewWebhook(notify.WebhookConfig{URL: srv.URL, Retries: 3, RetryBackoff: time.Millisecond})

	if err := wh.Publish(context.Background(), alertEnvelope(1, "x")); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestWebhook_BreakerOpensAfterFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	wh := notify.NewWebhook(notify.WebhookConfig{
		URL:          srv.URL,
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	})

	ctx := context.Background()
	wh.Publish(ctx, alertEnvelope(1, "x"))
	wh.Publish(ctx, alertEnvelope(1, "x"))

	err := wh.Publish(ctx, alertEnvelope(1, "x"))
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open breaker, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
	if s := wh.Stats(); s.Breaker != "open" || s.Failed != 3 {
		t.Errorf("stats = %+v", s)
	}
}

func TestHub_BroadcastsToClients(t *testing.T) {
	hub := notify.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := hub.Publish(context.Background(), alertEnvelope(7, "Tea is missing")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type    string       `json:"type"`
		Payload models.Alert `json:"payload"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "alert" || msg.Payload.ProductID != 7 || msg.Payload.Message != "Tea is missing" {
		t.Errorf("unexpected message: %+v", msg)
	}

	cancel()
	deadline = time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("clients not dropped on shutdown")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHub_PublishAfterStopDoesNotBlock(t *testing.T) {
	hub := notify.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	// fill the broadcast buffer and beyond
	for i := 0; i < 300; i++ {
		if err := hub.Publish(context.Background(), weightEnvelope(1)); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
}

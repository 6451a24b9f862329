package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"stockease/internal/middleware"
	"stockease/internal/models"
	"stockease/internal/sensor"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func TestEndToEndPipeline(t *testing.T) {
	cfg := testConfig()
	cfg.HTTP.Addr = freeAddr(t)
	cfg.Notify.BatchTimeout = 20 * time.Millisecond
	base := "http://" + cfg.HTTP.Addr

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	// Wait for the server
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err := http.Get(base + "/health")
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+cfg.HTTP.Addr+"/ws", nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	for p.hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("websocket client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	post := func(t *testing.T, body string) *http.Response {
		t.Helper()
		req, _ := http.NewRequest(http.MethodPost, base+"/api/weightintegration/screendata", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(middleware.APIKeyHeader, "secret")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("post reading: %v", err)
		}
		return resp
	}

	t.Run("ingest_reading", func(t *testing.T) {
		resp := post(t, `{"sensorId":"SENSOR_01","value":4}`)
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		var result struct {
			Success bool `json:"success"`
			Results []struct {
				Outcome sensor.Outcome `json:"outcome"`
				Linked  bool           `json:"linked"`
			} `json:"results"`
		}
		json.NewDecoder(resp.Body).Decode(&result)
		if !result.Success || len(result.Results) != 1 || !result.Results[0].Linked {
			t.Errorf("unexpected result: %+v", result)
		}
	})

	t.Run("alert_reaches_websocket", func(t *testing.T) {
		conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		for {
			var msg struct {
				Type    string          `json:"type"`
				Payload json.RawMessage `json:"payload"`
			}
			if err := conn.ReadJSON(&msg); err != nil {
				t.Fatalf("read websocket: %v", err)
			}
			if msg.Type != string(models.KindAlert) {
				continue
			}
			var alert models.Alert
			json.Unmarshal(msg.Payload, &alert)
			if alert.ProductID != 1 || alert.Category != models.CategoryLowWeight {
				t.Errorf("unexpected alert: %+v", alert)
			}
			return
		}
	})

	t.Run("active_sensors", func(t *testing.T) {
		resp, err := http.Get(base + "/api/weightintegration/sensors")
		if err != nil {
			t.Fatalf("get sensors: %v", err)
		}
		defer resp.Body.Close()

		var states []sensor.State
		json.NewDecoder(resp.Body).Decode(&states)
		if len(states) != 1 || states[0].SensorID != "SENSOR_01" {
			t.Errorf("unexpected sensors: %+v", states)
		}
	})

	t.Run("graceful_shutdown", func(t *testing.T) {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run returned %v", err)
			}
		case <-time.After(20 * time.Second):
			t.Fatal("shutdown timed out")
		}

		if _, err := http.Get(base + "/health"); err == nil {
			t.Error("expected server to be down")
		}
	})
}

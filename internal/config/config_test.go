package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"stockease/internal/config"
	"stockease/internal/models"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("HTTP.Addr = %q", cfg.HTTP.Addr)
	}
	if cfg.Sensor.RestockThreshold != 3.0 || cfg.Sensor.MissingDelay != 10*time.Minute {
		t.Errorf("unexpected sensor defaults: %+v", cfg.Sensor)
	}
	if cfg.Sensor.ActiveTimeout != 5*time.Minute {
		t.Errorf("ActiveTimeout = %v", cfg.Sensor.ActiveTimeout)
	}
	if cfg.Kafka.Enabled || cfg.MQTT.Enabled {
		t.Error("transports should be disabled by default")
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
log_level: debug
http:
  addr: ":9090"
  api_key: from-file
sensor:
  restock_threshold: 2.5
  missing_delay: 15m
kafka:
  enabled: true
  brokers: ["k1:9092", "k2:9092"]
products:
  - id: 1
    name: Flour
    sensor_id: SENSOR_01
    minimum_threshold: 5
    threshold_type: weight
  - id: 2
    name: Sugar
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("STOCKEASE_HTTP_API_KEY", "from-env")

	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.LogLevel != "debug" || cfg.HTTP.Addr != ":9090" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.HTTP.APIKey != "from-env" {
		t.Errorf("env override not applied: %q", cfg.HTTP.APIKey)
	}
	if cfg.Sensor.RestockThreshold != 2.5 || cfg.Sensor.MissingDelay != 15*time.Minute {
		t.Errorf("sensor config = %+v", cfg.Sensor)
	}
	if cfg.Sensor.ActiveTimeout != 5*time.Minute {
		t.Errorf("default not kept for unset key: %v", cfg.Sensor.ActiveTimeout)
	}
	if !cfg.Kafka.Enabled || len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("kafka config = %+v", cfg.Kafka)
	}

	products, err := cfg.CatalogProducts()
	if err != nil {
		t.Fatalf("CatalogProducts: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("expected 2 products, got %d", len(products))
	}
	if products[0].ThresholdType != models.ThresholdWeight || products[0].SensorID != "SENSOR_01" {
		t.Errorf("product 1 = %+v", products[0])
	}
	if products[1].ThresholdType != models.ThresholdQuantity {
		t.Errorf("product 2 threshold type = %q", products[1].ThresholdType)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"zero missing delay", func(c *config.Config) { c.Sensor.MissingDelay = 0 }},
		{"zero active timeout", func(c *config.Config) { c.Sensor.ActiveTimeout = 0 }},
		{"zero queue", func(c *config.Config) { c.Notify.QueueSize = 0 }},
		{"kafka without brokers", func(c *config.Config) { c.Kafka.Enabled = true; c.Kafka.Brokers = nil }},
		{"bad qos", func(c *config.Config) { c.MQTT.QoS = 3 }},
	}

	if err := config.Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestCatalogProducts_BadThresholdType(t *testing.T) {
	cfg := config.Default()
	cfg.Products = []config.ProductEntry{{ID: 1, Name: "x", ThresholdType: "volume"}}

	if _, err := cfg.CatalogProducts(); err == nil {
		t.Error("expected error for unknown threshold type")
	}
}

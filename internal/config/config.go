package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"stockease/internal/models"
)

// Config holds runtime configuration for the service.
type Config struct {
	// Node identifier stamped on outgoing envelopes; hostname when empty
	NodeID   string `mapstructure:"node_id"`
	LogLevel string `mapstructure:"log_level"`

	HTTP     HTTPConfig     `mapstructure:"http"`
	Sensor   SensorConfig   `mapstructure:"sensor"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Products []ProductEntry `mapstructure:"products"`
}

type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	MaxBodySize  int64         `mapstructure:"max_body_size"`
	// Required X-API-Key for ingestion; empty disables the check
	APIKey string `mapstructure:"api_key"`
}

type SensorConfig struct {
	RestockThreshold float64       `mapstructure:"restock_threshold"`
	MissingDelay     time.Duration `mapstructure:"missing_delay"`
	// Sensors not heard from within this window are not listed as active
	ActiveTimeout time.Duration `mapstructure:"active_timeout"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	// Topic receiving alert envelopes
	Topic string `mapstructure:"topic"`
	// Topic receiving weight envelopes; empty sends them to Topic
	WeightTopic string `mapstructure:"weight_topic"`
	// Topic sensors publish readings to; empty disables the consumer
	ReadingTopic string         `mapstructure:"reading_topic"`
	GroupID      string         `mapstructure:"group_id"`
	Producer     ProducerConfig `mapstructure:"producer"`
}

type ProducerConfig struct {
	PoolSize     int           `mapstructure:"pool_size"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	RequiredAcks int           `mapstructure:"required_acks"`
	Compression  string        `mapstructure:"compression"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// Subscription pattern; a single "+" segment carries the sensor ID
	Topic string `mapstructure:"topic"`
	QoS   byte   `mapstructure:"qos"`
}

type NotifyConfig struct {
	QueueSize    int           `mapstructure:"queue_size"`
	Workers      int           `mapstructure:"workers"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`

	// Discord-compatible webhook; empty disables it
	WebhookURL     string        `mapstructure:"webhook_url"`
	WebhookTimeout time.Duration `mapstructure:"webhook_timeout"`
	WebhookRetries int           `mapstructure:"webhook_retries"`

	// Consecutive failures that open the webhook circuit breaker
	WebhookMaxFailures  int           `mapstructure:"webhook_max_failures"`
	WebhookResetTimeout time.Duration `mapstructure:"webhook_reset_timeout"`
}

// ProductEntry seeds the in-memory catalog
type ProductEntry struct {
	ID               int64   `mapstructure:"id"`
	Name             string  `mapstructure:"name"`
	Barcode          string  `mapstructure:"barcode"`
	SensorID         string  `mapstructure:"sensor_id"`
	Quantity         int     `mapstructure:"quantity"`
	CurrentWeight    float64 `mapstructure:"current_weight"`
	MinimumThreshold float64 `mapstructure:"minimum_threshold"`
	ThresholdType    string  `mapstructure:"threshold_type"`
}

// Default returns a sensible default config for local dev.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
			MaxBodySize:  1 * 1024 * 1024,
		},
		Sensor: SensorConfig{
			RestockThreshold: 3.0,
			MissingDelay:     10 * time.Minute,
			ActiveTimeout:    5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Enabled:      false,
			Brokers:      []string{"localhost:9092"},
			Topic:        "stockease.alerts",
			WeightTopic:  "stockease.weights",
			ReadingTopic: "stockease.readings",
			GroupID:      "stockease-monitor",
			Producer: ProducerConfig{
				PoolSize:     2,
				BatchSize:    100,
				BatchTimeout: 50 * time.Millisecond,
				WriteTimeout: 10 * time.Second,
				RequiredAcks: 1,
				Compression:  "snappy",
				MaxRetries:   3,
				RetryBackoff: 100 * time.Millisecond,
			},
		},
		MQTT: MQTTConfig{
			Enabled:  false,
			Broker:   "tcp://localhost:1883",
			ClientID: "stockease-monitor",
			Topic:    "stockease/sensors/+/weight",
			QoS:      1,
		},
		Notify: NotifyConfig{
			QueueSize:      1000,
			Workers:        2,
			BatchSize:      50,
			BatchTimeout:   200 * time.Millisecond,
			WebhookTimeout: 5 * time.Second,
			WebhookRetries: 2,

			WebhookMaxFailures:  5,
			WebhookResetTimeout: 30 * time.Second,
		},
	}
}

// Load reads config.yaml from dir over the defaults. Environment
// variables prefixed with STOCKEASE_ override file values, e.g.
// STOCKEASE_HTTP_API_KEY. A missing file is not an error.
func Load(dir string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if dir != "" {
		v.AddConfigPath(dir)
	}
	v.SetEnvPrefix("stockease")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("node_id", d.NodeID)
	v.SetDefault("log_level", d.LogLevel)

	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("http.read_timeout", d.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", d.HTTP.WriteTimeout)
	v.SetDefault("http.idle_timeout", d.HTTP.IdleTimeout)
	v.SetDefault("http.max_body_size", d.HTTP.MaxBodySize)
	v.SetDefault("http.api_key", d.HTTP.APIKey)

	v.SetDefault("sensor.restock_threshold", d.Sensor.RestockThreshold)
	v.SetDefault("sensor.missing_delay", d.Sensor.MissingDelay)
	v.SetDefault("sensor.active_timeout", d.Sensor.ActiveTimeout)

	v.SetDefault("kafka.enabled", d.Kafka.Enabled)
	v.SetDefault("kafka.brokers", d.Kafka.Brokers)
	v.SetDefault("kafka.topic", d.Kafka.Topic)
	v.SetDefault("kafka.weight_topic", d.Kafka.WeightTopic)
	v.SetDefault("kafka.reading_topic", d.Kafka.ReadingTopic)
	v.SetDefault("kafka.group_id", d.Kafka.GroupID)
	v.SetDefault("kafka.producer.pool_size", d.Kafka.Producer.PoolSize)
	v.SetDefault("kafka.producer.batch_size", d.Kafka.Producer.BatchSize)
	v.SetDefault("kafka.producer.batch_timeout", d.Kafka.Producer.BatchTimeout)
	v.SetDefault("kafka.producer.write_timeout", d.Kafka.Producer.WriteTimeout)
	v.SetDefault("kafka.producer.required_acks", d.Kafka.Producer.RequiredAcks)
	v.SetDefault("kafka.producer.compression", d.Kafka.Producer.Compression)
	v.SetDefault("kafka.producer.max_retries", d.Kafka.Producer.MaxRetries)
	v.SetDefault("kafka.producer.retry_backoff", d.Kafka.Producer.RetryBackoff)

	v.SetDefault("mqtt.enabled", d.MQTT.Enabled)
	v.SetDefault("mqtt.broker", d.MQTT.Broker)
	v.SetDefault("mqtt.client_id", d.MQTT.ClientID)
	v.SetDefault("mqtt.username", d.MQTT.Username)
	v.SetDefault("mqtt.password", d.MQTT.Password)
	v.SetDefault("mqtt.topic", d.MQTT.Topic)
	v.SetDefault("mqtt.qos", d.MQTT.QoS)

	v.SetDefault("notify.queue_size", d.Notify.QueueSize)
	v.SetDefault("notify.workers", d.Notify.Workers)
	v.SetDefault("notify.batch_size", d.Notify.BatchSize)
	v.SetDefault("notify.batch_timeout", d.Notify.BatchTimeout)
	v.SetDefault("notify.webhook_url", d.Notify.WebhookURL)
	v.SetDefault("notify.webhook_timeout", d.Notify.WebhookTimeout)
	v.SetDefault("notify.webhook_retries", d.Notify.WebhookRetries)
	v.SetDefault("notify.webhook_max_failures", d.Notify.WebhookMaxFailures)
	v.SetDefault("notify.webhook_reset_timeout", d.Notify.WebhookResetTimeout)
}

// Validate rejects settings the service cannot run with
func (c *Config) Validate() error {
	if c.Sensor.MissingDelay <= 0 {
		return errors.New("sensor.missing_delay must be positive")
	}
	if c.Sensor.ActiveTimeout <= 0 {
		return errors.New("sensor.active_timeout must be positive")
	}
	if c.Notify.QueueSize <= 0 {
		return errors.New("notify.queue_size must be positive")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required when kafka is enabled")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	return nil
}

// CatalogProducts converts the configured product entries
func (c *Config) CatalogProducts() ([]models.Product, error) {
	out := make([]models.Product, 0, len(c.Products))
	for _, e := range c.Products {
		tt, err := models.ParseThresholdType(e.ThresholdType)
		if err != nil {
			return nil, fmt.Errorf("product %d: %w", e.ID, err)
		}
		out = append(out, models.Product{
			ID:               e.ID,
			Name:             e.Name,
			Barcode:          e.Barcode,
			SensorID:         strings.TrimSpace(e.SensorID),
			Quantity:         e.Quantity,
			CurrentWeight:    e.CurrentWeight,
			MinimumThreshold: e.MinimumThreshold,
			ThresholdType:    tt,
		})
	}
	return out, nil
}

package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"stockease/internal/config"
	"stockease/internal/logger"
	"stockease/internal/metrics"
	"stockease/internal/models"
)

// Producer errors
var (
	ErrProducerClosed  = errors.New("producer is closed")
	ErrSerializeFailed = errors.New("failed to serialize message")
)

// Producer publishes alert and weight envelopes to Kafka. Alerts and
// weight updates go to separate topics, keyed by product so each
// product's events stay ordered within a partition.
type Producer struct {
	cfg         config.ProducerConfig
	brokers     []string
	alertTopic  string
	weightTopic string

	writers []*kafka.Writer
	pool    chan *kafka.Writer
	closed  atomic.Bool

	messagesSent   atomic.Uint64
	messagesFailed atomic.Uint64
	bytesWritten   atomic.Uint64
}

// NewProducer creates a producer for cfg.Topic and cfg.WeightTopic
func NewProducer(cfg config.KafkaConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic is required")
	}

	pc := cfg.Producer
	if pc.PoolSize <= 0 {
		pc.PoolSize = 2
	}
	if pc.RetryBackoff <= 0 {
		pc.RetryBackoff = 100 * time.Millisecond
	}

	weightTopic := cfg.WeightTopic
	if weightTopic == "" {
		weightTopic = cfg.Topic
	}

	p := &Producer{
		cfg:         pc,
		brokers:     cfg.Brokers,
		alertTopic:  cfg.Topic,
		weightTopic: weightTopic,
		writers:     make([]*kafka.Writer, pc.PoolSize),
		pool:        make(chan *kafka.Writer, pc.PoolSize),
	}

	// Topic is set per message
	for i := range p.writers {
		w := &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Balancer:     &kafka.Hash{},
			BatchSize:    pc.BatchSize,
			BatchTimeout: pc.BatchTimeout,
			WriteTimeout: pc.WriteTimeout,
			RequiredAcks: kafka.RequiredAcks(pc.RequiredAcks),
			Compression:  compression(pc.Compression),
			MaxAttempts:  1, // writeWithRetry owns retries
		}
		p.writers[i] = w
		p.pool <- w
	}

	return p, nil
}

func compression(name string) compress.Compression {
	switch name {
	case "gzip":
		return compress.Gzip
	case "snappy":
		return compress.Snappy
	case "lz4":
		return compress.Lz4
	case "zstd":
		return compress.Zstd
	default:
		return compress.None
	}
}

// Publish sends one envelope
func (p *Producer) Publish(ctx context.Context, envelope *models.Envelope) error {
	return p.PublishBatch(ctx, []*models.Envelope{envelope})
}

// PublishBatch sends envelopes in one write. Envelopes that cannot be
// encoded are logged and dropped; the rest are still sent.
func (p *Producer) PublishBatch(ctx context.Context, envelopes []*models.Envelope) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}
	if len(envelopes) == 0 {
		return nil
	}

	log := logger.WithComponent("kafka_producer")
	start := time.Now()

	messages := make([]kafka.Message, 0, len(envelopes))
	kinds := make([]models.EnvelopeKind, 0, len(envelopes))
	for _, e := range envelopes {
		msg, err := p.toMessage(e)
		if err != nil {
			log.Error().
				Err(err).
				Str("envelope_id", e.ID).
				Int64("product_id", e.ProductID()).
				Msg("failed to serialize envelope")
			p.count(e.Kind, "failed", 1)
			continue
		}
		messages = append(messages, msg)
		kinds = append(kinds, e.Kind)
	}
	if len(messages) == 0 {
		return nil
	}

	writer, err := p.acquire(ctx)
	if err != nil {
		p.countAll(kinds, "failed")
		return err
	}
	defer p.release(writer)

	err = p.writeWithRetry(ctx, writer, messages)
	metrics.KafkaPublishDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		p.countAll(kinds, "failed")
		return err
	}

	var n uint64
	for _, m := range messages {
		n += uint64(len(m.Value))
	}
	p.bytesWritten.Add(n)
	metrics.KafkaBytesWritten.Add(float64(n))
	p.countAll(kinds, "success")

	log.Debug().
		Int("batch_size", len(messages)).
		Dur("duration", time.Since(start)).
		Msg("batch published to kafka")
	return nil
}

// topicFor routes an envelope by kind
func (p *Producer) topicFor(kind models.EnvelopeKind) string {
	if kind == models.KindWeight {
		return p.weightTopic
	}
	return p.alertTopic
}

// toMessage encodes an envelope keyed by product id
func (p *Producer) toMessage(envelope *models.Envelope) (kafka.Message, error) {
	data, err := json.Marshal(envelope)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("%w: %v", ErrSerializeFailed, err)
	}

	return kafka.Message{
		Topic: p.topicFor(envelope.Kind),
		Key:   []byte(envelope.PartitionKey),
		Value: data,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(envelope.Kind)},
			{Key: "envelope_id", Value: []byte(envelope.ID)},
			{Key: "node", Value: []byte(envelope.Node)},
		},
		Time: envelope.ReceivedAt,
	}, nil
}

func (p *Producer) acquire(ctx context.Context) (*kafka.Writer, error) {
	select {
	case w := <-p.pool:
		return w, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Producer) release(w *kafka.Writer) {
	p.pool <- w
}

// writeWithRetry writes messages, retrying with exponential backoff.
// Context errors end the loop at once.
func (p *Producer) writeWithRetry(ctx context.Context, w *kafka.Writer, messages []kafka.Message) error {
	log := logger.WithComponent("kafka_producer")
	backoff := p.cfg.RetryBackoff
	attempts := p.cfg.MaxRetries + 1

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = w.WriteMessages(ctx, messages...); err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if attempt == attempts {
			break
		}

		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("batch_size", len(messages)).
			Dur("backoff", backoff).
			Msg("kafka write failed, retrying")
		metrics.KafkaPublishRetries.Inc()

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	log.Error().
		Err(err).
		Int("attempts", attempts).
		Int("batch_size", len(messages)).
		Msg("kafka write failed after all retries")
	return fmt.Errorf("kafka write failed after %d attempts: %w", attempts, err)
}

func (p *Producer) count(kind models.EnvelopeKind, status string, n int) {
	if status == "success" {
		p.messagesSent.Add(uint64(n))
	} else {
		p.messagesFailed.Add(uint64(n))
	}
	metrics.KafkaPublishTotal.WithLabelValues(string(kind), status).Add(float64(n))
}

func (p *Producer) countAll(kinds []models.EnvelopeKind, status string) {
	for _, k := range kinds {
		p.count(k, status, 1)
	}
}

// HealthCheck dials the brokers in turn and asks the first reachable one
// for the cluster controller
func (p *Producer) HealthCheck(ctx context.Context) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}

	var errs []error
	for _, broker := range p.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		_, err = conn.Controller()
		conn.Close()
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return fmt.Errorf("no kafka broker reachable: %w", errors.Join(errs...))
}

// Close closes all writers
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	var errs []error
	for _, w := range p.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats returns producer counters
func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		MessagesSent:   p.messagesSent.Load(),
		MessagesFailed: p.messagesFailed.Load(),
		BytesWritten:   p.bytesWritten.Load(),
	}
}

// ProducerStats holds producer counters
type ProducerStats struct {
	MessagesSent   uint64 `json:"messages_sent"`
	MessagesFailed uint64 `json:"messages_failed"`
	BytesWritten   uint64 `json:"bytes_written"`
}

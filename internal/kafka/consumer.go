package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"

	"stockease/internal/config"
	"stockease/internal/logger"
	"stockease/internal/metrics"
	"stockease/internal/models"
)

// RecordFunc applies one decoded reading
type RecordFunc func(ctx context.Context, r models.Reading) error

// Consumer reads sensor readings from a Kafka topic as part of a consumer
// group and hands them to a RecordFunc. Offsets are committed after the
// reading was applied; undecodable messages are committed and skipped.
type Consumer struct {
	reader *kafka.Reader
	record RecordFunc
}

// NewConsumer creates a consumer for cfg.ReadingTopic
func NewConsumer(cfg config.KafkaConfig, record RecordFunc) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if cfg.ReadingTopic == "" {
		return nil, errors.New("reading topic is required")
	}
	if cfg.GroupID == "" {
		return nil, errors.New("group id is required")
	}
	if record == nil {
		return nil, errors.New("record func is required")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.ReadingTopic,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: 0, // commit synchronously
		StartOffset:    kafka.LastOffset,
	})

	return &Consumer{reader: reader, record: record}, nil
}

// Run consumes until ctx is cancelled or the reader is closed
func (c *Consumer) Run(ctx context.Context) error {
	log := logger.WithComponent("kafka_consumer")
	cfg := c.reader.Config()
	log.Info().
		Str("topic", cfg.Topic).
		Str("group_id", cfg.GroupID).
		Msg("starting reading consumer")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				log.Info().Msg("reading consumer stopped")
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		status := c.handle(ctx, msg)
		metrics.KafkaConsumedTotal.WithLabelValues(status).Inc()

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			log.Error().
				Err(err).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("failed to commit offset")
		}
	}
}

// handle applies one message and reports its status label
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) string {
	log := logger.WithComponent("kafka_consumer")

	reading, err := decodeMessage(msg)
	if err != nil {
		log.Warn().
			Err(err).
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("skipping undecodable reading")
		return "invalid"
	}

	if err := c.record(ctx, reading); err != nil {
		if errors.Is(err, models.ErrEmptySensorID) || errors.Is(err, models.ErrSensorIDTooLong) || errors.Is(err, models.ErrInvalidWeight) {
			log.Warn().Err(err).Str("sensor_id", reading.SensorID).Msg("skipping invalid reading")
			return "invalid"
		}
		log.Error().Err(err).Str("sensor_id", reading.SensorID).Msg("failed to apply reading")
		return "failed"
	}
	return "processed"
}

// decodeMessage parses the JSON reading. When the payload carries no
// sensor ID the message key is used instead.
func decodeMessage(msg kafka.Message) (models.Reading, error) {
	reading, err := models.DecodeReading(msg.Value)
	if err != nil {
		return models.Reading{}, err
	}
	if reading.SensorID == "" {
		reading.SensorID = string(msg.Key)
	}
	return reading, nil
}

// Close closes the underlying reader, ending Run
func (c *Consumer) Close() error {
	return c.reader.Close()
}

package mqtt

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"stockease/internal/config"
	"stockease/internal/logger"
	"stockease/internal/metrics"
	"stockease/internal/models"
)

// RecordFunc applies one decoded reading
type RecordFunc func(ctx context.Context, r models.Reading) error

// ErrNoSensorID is returned for messages that carry no sensor ID in either
// the payload or the topic
var ErrNoSensorID = errors.New("message carries no sensor ID")

// Subscriber receives scale readings over MQTT.
//
// Payloads are either a JSON reading or a bare number. The sensor ID comes
// from the payload when present, otherwise from the "+" segment of the
// subscription topic.
type Subscriber struct {
	client paho.Client
	topic  string
	qos    byte
	record RecordFunc
	ctx    context.Context
	cancel context.CancelFunc
}

// NewSubscriber creates a subscriber; Start connects it
func NewSubscriber(cfg config.MQTTConfig, record RecordFunc) (*Subscriber, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("mqtt topic is required")
	}
	if record == nil {
		return nil, errors.New("record func is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Subscriber{
		topic:  cfg.Topic,
		qos:    cfg.QoS,
		record: record,
		ctx:    ctx,
		cancel: cancel,
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log := logger.WithComponent("mqtt")
			log.Warn().Err(err).Msg("connection to broker lost")
		})

	s.client = paho.NewClient(opts)
	return s, nil
}

// Start connects to the broker. With connect retry enabled the call
// returns once the first attempt finished; later attempts continue in the
// background and subscribe on success.
func (s *Subscriber) Start(timeout time.Duration) error {
	token := s.client.Connect()
	if !token.WaitTimeout(timeout) {
		log := logger.WithComponent("mqtt")
		log.Warn().
			Dur("timeout", timeout).
			Msg("broker not reachable yet, retrying in background")
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to mqtt broker: %w", err)
	}
	return nil
}

// onConnect (re)subscribes after every successful connection
func (s *Subscriber) onConnect(c paho.Client) {
	log := logger.WithComponent("mqtt")
	token := c.Subscribe(s.topic, s.qos, s.onMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		log.Error().Err(err).Str("topic", s.topic).Msg("subscribe failed")
		return
	}
	log.Info().Str("topic", s.topic).Uint8("qos", s.qos).Msg("subscribed to sensor readings")
}

func (s *Subscriber) onMessage(_ paho.Client, msg paho.Message) {
	s.handle(s.ctx, msg.Topic(), msg.Payload())
}

// handle decodes and applies one message, returning the status label
func (s *Subscriber) handle(ctx context.Context, topic string, payload []byte) string {
	log := logger.WithComponent("mqtt").With().Str("topic", topic).Logger()

	reading, err := s.decode(topic, payload)
	if err != nil {
		log.Warn().Err(err).Msg("skipping undecodable reading")
		metrics.ReadingValidationErrors.WithLabelValues("decode").Inc()
		metrics.ReadingsTotal.WithLabelValues("mqtt", "rejected").Inc()
		return "rejected"
	}

	if err := s.record(ctx, reading); err != nil {
		log.Error().Err(err).Str("sensor_id", reading.SensorID).Msg("failed to apply reading")
		metrics.ReadingsTotal.WithLabelValues("mqtt", "rejected").Inc()
		return "rejected"
	}

	metrics.ReadingsTotal.WithLabelValues("mqtt", "accepted").Inc()
	return "accepted"
}

func (s *Subscriber) decode(topic string, payload []byte) (models.Reading, error) {
	var reading models.Reading

	trimmed := strings.TrimSpace(string(payload))
	if v, err := strconv.ParseFloat(trimmed, 64); err == nil {
		reading.Weight = v
	} else {
		reading, err = models.DecodeReading(payload)
		if err != nil {
			return models.Reading{}, err
		}
	}

	if strings.TrimSpace(reading.SensorID) == "" {
		reading.SensorID = models.SensorIDFromTopic(s.topic, topic)
	}
	if reading.SensorID == "" {
		return models.Reading{}, ErrNoSensorID
	}
	return reading, nil
}

// Stop unsubscribes and disconnects
func (s *Subscriber) Stop() {
	s.cancel()
	if s.client.IsConnected() {
		s.client.Unsubscribe(s.topic).WaitTimeout(time.Second)
	}
	s.client.Disconnect(250)
	log := logger.WithComponent("mqtt")
	log.Info().Msg("mqtt subscriber stopped")
}

package notify

import (
	"context"
	"errors"
	"fmt"

	"stockease/internal/logger"
	"stockease/internal/metrics"
	"stockease/internal/models"
	"stockease/internal/worker"
)

// Sink is a named notification destination
type Sink interface {
	worker.Publisher
	Name() string
}

type namedSink struct {
	worker.Publisher
	name string
}

func (n namedSink) Name() string { return n.name }

// Named gives a publisher a sink name for logs and metrics
func Named(name string, p worker.Publisher) Sink {
	return namedSink{Publisher: p, name: name}
}

// Fanout delivers every envelope to each of its sinks independently.
//
// A sink failure is logged and counted but does not stop the other sinks.
// An error is returned only when every sink failed, so the worker pool
// never redelivers to a sink that already accepted the envelopes.
type Fanout struct {
	sinks []Sink
}

// NewFanout creates a fan-out publisher over sinks
func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

// Sinks returns the names of the configured sinks
func (f *Fanout) Sinks() []string {
	names := make([]string, len(f.sinks))
	for i, s := range f.sinks {
		names[i] = s.Name()
	}
	return names
}

// Publish delivers one envelope to every sink
func (f *Fanout) Publish(ctx context.Context, envelope *models.Envelope) error {
	return f.deliver(1, func(s Sink) error {
		return s.Publish(ctx, envelope)
	})
}

// PublishBatch delivers a batch to every sink
func (f *Fanout) PublishBatch(ctx context.Context, envelopes []*models.Envelope) error {
	if len(envelopes) == 0 {
		return nil
	}
	return f.deliver(len(envelopes), func(s Sink) error {
		return s.PublishBatch(ctx, envelopes)
	})
}

func (f *Fanout) deliver(n int, send func(Sink) error) error {
	if len(f.sinks) == 0 {
		return nil
	}

	log := logger.WithComponent("fanout")
	var errs []error

	for _, s := range f.sinks {
		if err := send(s); err != nil {
			log.Error().
				Err(err).
				Str("sink", s.Name()).
				Int("count", n).
				Msg("sink delivery failed")
			metrics.SinkDeliveriesTotal.WithLabelValues(s.Name(), "failed").Add(float64(n))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		metrics.SinkDeliveriesTotal.WithLabelValues(s.Name(), "success").Add(float64(n))
	}

	if len(errs) == len(f.sinks) {
		return errors.Join(errs...)
	}
	return nil
}

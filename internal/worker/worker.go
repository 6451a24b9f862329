package worker

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"stockease/internal/logger"
	"stockease/internal/metrics"
	"stockease/internal/models"
)

// Publisher delivers notification envelopes to their sinks
type Publisher interface {
	Publish(ctx context.Context, envelope *models.Envelope) error
	PublishBatch(ctx context.Context, envelopes []*models.Envelope) error
}

// Pool drains the notification queue with a fixed set of workers. Each
// worker collects envelopes and flushes when the batch is full or the
// flush interval passes.
//
// Weight updates are snapshots: within one batch only the latest update
// per product is delivered, and a failed one is not retried since the
// next reading supersedes it. Alerts are events and are retried one by
// one when their batch fails.
type Pool struct {
	publisher     Publisher
	queue         <-chan *models.Envelope
	workers       int
	batchSize     int
	flushInterval time.Duration

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	processed  atomic.Uint64
	failed     atomic.Uint64
	superseded atomic.Uint64
}

// Config holds worker pool configuration
type Config struct {
	Publisher    Publisher
	EnvelopeChan <-chan *models.Envelope
	Workers      int
	BatchSize    int
	BatchTimeout time.Duration
}

// NewPool creates a new worker pool
func NewPool(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 200 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		publisher:     cfg.Publisher,
		queue:         cfg.EnvelopeChan,
		workers:       cfg.Workers,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.BatchTimeout,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start launches the workers
func (p *Pool) Start() {
	log := logger.WithComponent("worker_pool")
	log.Info().
		Int("workers", p.workers).
		Int("batch_size", p.batchSize).
		Dur("flush_interval", p.flushInterval).
		Msg("starting worker pool")

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
}

// Shutdown waits for the queue to empty, or for ctx to end, then stops
// the workers. Batches the workers hold are flushed before it returns.
// Workers also exit on their own once the queue is closed and drained.
func (p *Pool) Shutdown(ctx context.Context) {
	log := logger.WithComponent("worker_pool")

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

drain:
	for len(p.queue) > 0 {
		select {
		case <-ctx.Done():
			log.Warn().Int("remaining", len(p.queue)).Msg("notification queue not drained before deadline")
			break drain
		case <-ticker.C:
		}
	}

	p.cancel()
	p.wg.Wait()
	log.Info().Msg("worker pool stopped")
}

func (p *Pool) run(id int) {
	defer p.wg.Done()

	log := logger.WithComponent("worker").With().Int("worker_id", id).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("worker panic recovered")
			metrics.PanicsRecovered.WithLabelValues("worker").Inc()
		}
	}()

	batch := make([]*models.Envelope, 0, p.batchSize)
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	flush := func() {
		p.deliver(batch)
		batch = batch[:0]
	}

	for {
		select {
		case <-p.ctx.Done():
			flush()
			return

		case e, ok := <-p.queue:
			if !ok {
				flush()
				return
			}
			metrics.NotifyQueueSize.Set(float64(len(p.queue)))
			batch = append(batch, e)
			if len(batch) >= p.batchSize {
				flush()
			}

		case <-ticker.C:
			flush()
		}
	}
}

// deliveryContext bounds one delivery. It survives shutdown so the final
// flush is not cancelled before it starts.
func (p *Pool) deliveryContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(p.ctx), timeout)
}

func (p *Pool) deliver(batch []*models.Envelope) {
	if len(batch) == 0 {
		return
	}

	out, dropped := coalesce(batch)
	if dropped > 0 {
		p.superseded.Add(uint64(dropped))
		metrics.WorkerSupersededTotal.Add(float64(dropped))
	}

	log := logger.WithComponent("worker")
	start := time.Now()

	ctx, cancel := p.deliveryContext(10 * time.Second)
	err := p.publisher.PublishBatch(ctx, out)
	cancel()
	metrics.WorkerBatchPublishDuration.Observe(time.Since(start).Seconds())

	if err == nil {
		for _, e := range out {
			p.done(e)
		}
		log.Debug().
			Int("batch_size", len(out)).
			Int("superseded", dropped).
			Dur("duration", time.Since(start)).
			Msg("batch delivered")
		return
	}

	log.Error().
		Err(err).
		Int("batch_size", len(out)).
		Msg("failed to deliver batch, retrying alerts individually")

	for _, e := range out {
		if e.Kind != models.KindAlert {
			p.fail(e)
			continue
		}
		p.retry(e)
	}
}

func (p *Pool) retry(e *models.Envelope) {
	e.RetryCount++

	ctx, cancel := p.deliveryContext(5 * time.Second)
	err := p.publisher.Publish(ctx, e)
	cancel()

	if err != nil {
		log := logger.WithComponent("worker")
		log.Error().
			Err(err).
			Str("envelope_id", e.ID).
			Int64("product_id", e.ProductID()).
			Int("retry_count", e.RetryCount).
			Msg("alert notification lost")
		p.fail(e)
		return
	}
	p.done(e)
}

func (p *Pool) done(e *models.Envelope) {
	p.processed.Add(1)
	metrics.WorkerProcessedTotal.WithLabelValues(string(e.Kind)).Inc()
}

func (p *Pool) fail(e *models.Envelope) {
	p.failed.Add(1)
	metrics.WorkerFailedTotal.WithLabelValues(string(e.Kind)).Inc()
}

// coalesce keeps only the last weight update per product, preserving
// order. Alerts always pass. It returns the number of updates dropped.
func coalesce(batch []*models.Envelope) ([]*models.Envelope, int) {
	last := make(map[int64]int, len(batch))
	for i, e := range batch {
		if e.Kind == models.KindWeight {
			last[e.ProductID()] = i
		}
	}

	out := make([]*models.Envelope, 0, len(batch))
	for i, e := range batch {
		if e.Kind == models.KindWeight && last[e.ProductID()] != i {
			continue
		}
		out = append(out, e)
	}
	return out, len(batch) - len(out)
}

// Stats returns worker pool counters
func (p *Pool) Stats() Stats {
	return Stats{
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Superseded: p.superseded.Load(),
	}
}

// Stats holds worker pool counters
type Stats struct {
	Processed  uint64
	Failed     uint64
	Superseded uint64
}

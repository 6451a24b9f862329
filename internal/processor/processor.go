package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stockease/internal/alerts"
	"stockease/internal/config"
	"stockease/internal/handlers"
	"stockease/internal/kafka"
	"stockease/internal/logger"
	"stockease/internal/metrics"
	"stockease/internal/middleware"
	"stockease/internal/models"
	"stockease/internal/monitor"
	"stockease/internal/mqtt"
	"stockease/internal/notify"
	"stockease/internal/sensor"
	"stockease/internal/storage"
	"stockease/internal/worker"
)

// Processor is the high-level coordinator: it wires reading ingestion,
// the monitor service and the notification pipeline, and owns their
// lifecycle.
type Processor struct {
	cfg          *config.Config
	catalog      storage.Catalog
	monitor      *monitor.Service
	envelopeChan chan *models.Envelope

	hub     *notify.Hub
	webhook *notify.Webhook

	// nil unless enabled in config
	producer   *kafka.Producer
	consumer   *kafka.Consumer
	subscriber *mqtt.Subscriber

	workerPool *worker.Pool
	httpServer *http.Server
	router     http.Handler

	startedAt time.Time
	ingestWG  sync.WaitGroup
	wg        sync.WaitGroup
}

// New constructs a Processor from cfg. Nothing is started until Run.
func New(cfg *config.Config) (*Processor, error) {
	products, err := cfg.CatalogProducts()
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	catalog, err := storage.NewMemoryCatalog(products...)
	if err != nil {
		return nil, fmt.Errorf("build catalog: %w", err)
	}

	registry := sensor.NewRegistry(sensor.Policy{
		RestockThreshold: cfg.Sensor.RestockThreshold,
		MissingDelay:     cfg.Sensor.MissingDelay,
	})

	p := &Processor{
		cfg:          cfg,
		catalog:      catalog,
		envelopeChan: make(chan *models.Envelope, cfg.Notify.QueueSize),
		hub:          notify.NewHub(),
		webhook: notify.NewWebhook(notify.WebhookConfig{
			URL:          cfg.Notify.WebhookURL,
			Timeout:      cfg.Notify.WebhookTimeout,
			Retries:      cfg.Notify.WebhookRetries,
			MaxFailures:  cfg.Notify.WebhookMaxFailures,
			ResetTimeout: cfg.Notify.WebhookResetTimeout,
		}),
		startedAt: time.Now(),
	}

	p.monitor = monitor.NewService(monitor.Config{
		Registry:      registry,
		Catalog:       catalog,
		Engine:        alerts.NewEngine(cfg.Sensor.MissingDelay),
		Envelopes:     p.envelopeChan,
		NodeID:        cfg.NodeID,
		ActiveTimeout: cfg.Sensor.ActiveTimeout,
	})

	p.router = p.routes()
	metrics.NotifyQueueCapacity.Set(float64(cap(p.envelopeChan)))

	log := logger.WithComponent("processor")
	log.Info().
		Int("products", len(products)).
		Float64("restock_threshold", registry.Policy().RestockThreshold).
		Dur("missing_delay", registry.Policy().MissingDelay).
		Msg("processor initialized")

	return p, nil
}

// Handler returns the HTTP handler with all routes mounted
func (p *Processor) Handler() http.Handler {
	return p.router
}

// Run starts background goroutines and blocks until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	log := logger.WithComponent("processor")
	log.Info().Msg("processor starting")

	if p.cfg.Kafka.Enabled {
		if err := p.initProducer(); err != nil {
			log.Error().Err(err).Msg("failed to initialize producer")
			return fmt.Errorf("failed to initialize producer: %w", err)
		}
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.hub.Run(hubCtx)
	}()

	p.initWorkerPool()
	p.workerPool.Start()

	p.httpServer = &http.Server{
		Addr:         p.cfg.HTTP.Addr,
		Handler:      p.router,
		ReadTimeout:  p.cfg.HTTP.ReadTimeout,
		WriteTimeout: p.cfg.HTTP.WriteTimeout,
		IdleTimeout:  p.cfg.HTTP.IdleTimeout,
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		log.Info().Str("addr", p.cfg.HTTP.Addr).Msg("starting HTTP server")
		if err := p.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	if err := p.startConsumers(ctx); err != nil {
		log.Error().Err(err).Msg("failed to start reading consumers")
	}

	// Stats reporting goroutine
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.reportStats(ctx)
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	return p.shutdown(stopHub)
}

// initProducer initializes the Kafka producer
func (p *Processor) initProducer() error {
	producer, err := kafka.NewProducer(p.cfg.Kafka)
	if err != nil {
		return err
	}

	p.producer = producer
	log := logger.WithComponent("processor")
	log.Info().
		Strs("brokers", p.cfg.Kafka.Brokers).
		Str("alert_topic", p.cfg.Kafka.Topic).
		Str("weight_topic", p.cfg.Kafka.WeightTopic).
		Msg("kafka producer initialized")
	return nil
}

// sinks lists the notification destinations in delivery order
func (p *Processor) sinks() []notify.Sink {
	sinks := []notify.Sink{p.hub}
	if p.producer != nil {
		sinks = append(sinks, notify.Named("kafka", p.producer))
	}
	if p.webhook.Enabled() {
		sinks = append(sinks, p.webhook)
	}
	return sinks
}

// initWorkerPool initializes the worker pool over the fan-out publisher
func (p *Processor) initWorkerPool() {
	fanout := notify.NewFanout(p.sinks()...)
	p.workerPool = worker.NewPool(worker.Config{
		Publisher:    fanout,
		EnvelopeChan: p.envelopeChan,
		Workers:      p.cfg.Notify.Workers,
		BatchSize:    p.cfg.Notify.BatchSize,
		BatchTimeout: p.cfg.Notify.BatchTimeout,
	})
	log := logger.WithComponent("processor")
	log.Info().
		Int("workers", p.cfg.Notify.Workers).
		Strs("sinks", fanout.Sinks()).
		Msg("worker pool initialized")
}

// record is the ingestion entry point shared by the Kafka and MQTT
// consumers
func (p *Processor) record(ctx context.Context, r models.Reading) error {
	_, err := p.monitor.Record(ctx, r)
	return err
}

// startConsumers starts the Kafka and MQTT reading consumers that are
// enabled in config
func (p *Processor) startConsumers(ctx context.Context) error {
	log := logger.WithComponent("processor")
	var errs []error

	if p.cfg.Kafka.Enabled && p.cfg.Kafka.ReadingTopic != "" {
		consumer, err := kafka.NewConsumer(p.cfg.Kafka, p.record)
		if err != nil {
			errs = append(errs, fmt.Errorf("kafka consumer: %w", err))
		} else {
			p.consumer = consumer
			p.ingestWG.Add(1)
			go func() {
				defer p.ingestWG.Done()
				if err := consumer.Run(ctx); err != nil {
					log.Error().Err(err).Msg("kafka consumer stopped with error")
				}
			}()
		}
	}

	if p.cfg.MQTT.Enabled {
		sub, err := mqtt.NewSubscriber(p.cfg.MQTT, p.record)
		if err == nil {
			err = sub.Start(10 * time.Second)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("mqtt subscriber: %w", err))
		} else {
			p.subscriber = sub
		}
	}

	return errors.Join(errs...)
}

// routes builds the HTTP router
func (p *Processor) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP, middleware.Recovery, middleware.Logging)

	handlers.NewAPI(p.monitor, p.cfg.HTTP.MaxBodySize).
		Mount(r, middleware.APIKey(p.cfg.HTTP.APIKey))

	r.Get("/health", p.healthHandler)
	r.Get("/stats", p.statsHandler)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", p.hub.ServeWS)

	return r
}

// shutdown performs graceful shutdown
func (p *Processor) shutdown(stopHub context.CancelFunc) error {
	log := logger.WithComponent("processor")
	log.Info().Msg("initiating graceful shutdown")

	// 1. Stop accepting readings
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Info().Msg("stopping HTTP server")
	if err := p.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if p.subscriber != nil {
		p.subscriber.Stop()
	}
	if p.consumer != nil {
		if err := p.consumer.Close(); err != nil {
			log.Error().Err(err).Msg("kafka consumer close error")
		}
	}
	p.ingestWG.Wait()

	// 2. Let workers drain the queue, then stop them. The queue is never
	// closed: a late paho callback may still offer an envelope.
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), 15*time.Second)
	p.workerPool.Shutdown(drainCtx)
	cancelDrain()

	// 3. Disconnect dashboards and close the producer
	stopHub()
	if p.producer != nil {
		log.Info().Msg("closing kafka producer")
		if err := p.producer.Close(); err != nil {
			log.Error().Err(err).Msg("producer close error")
		}
	}

	// 4. Wait for all goroutines
	p.wg.Wait()

	if err := p.catalog.Close(); err != nil {
		log.Error().Err(err).Msg("catalog close error")
	}

	log.Info().Msg("processor stopped gracefully")
	return nil
}

// reportStats periodically logs statistics
func (p *Processor) reportStats(ctx context.Context) {
	log := logger.WithComponent("processor")
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := p.stats()
			metrics.NotifyQueueSize.Set(float64(s.Queue.Buffered))

			ev := log.Info().
				Int("sensors_tracked", s.Sensors.Tracked).
				Int("sensors_active", s.Sensors.Active).
				Uint64("worker_processed", s.Worker.Processed).
				Uint64("worker_failed", s.Worker.Failed).
				Int("websocket_clients", s.WebSocketClients).
				Int("queue_size", s.Queue.Buffered)
			if s.Producer != nil {
				ev = ev.
					Uint64("producer_sent", s.Producer.MessagesSent).
					Uint64("producer_failed", s.Producer.MessagesFailed).
					Uint64("producer_bytes", s.Producer.BytesWritten)
			}
			ev.Msg("stats")
		}
	}
}

// Stats is the /stats response
type Stats struct {
	Uptime  string `json:"uptime"`
	Sensors struct {
		Tracked int `json:"tracked"`
		Active  int `json:"active"`
	} `json:"sensors"`
	Worker struct {
		Processed  uint64 `json:"processed"`
		Failed     uint64 `json:"failed"`
		Superseded uint64 `json:"superseded"`
	} `json:"worker"`
	Producer *kafka.ProducerStats `json:"producer,omitempty"`
	Webhook  *notify.WebhookStats `json:"webhook,omitempty"`
	Queue    struct {
		Buffered int `json:"buffered"`
		Capacity int `json:"capacity"`
	} `json:"queue"`
	WebSocketClients int `json:"websocket_clients"`
}

func (p *Processor) stats() Stats {
	var s Stats
	s.Uptime = time.Since(p.startedAt).Round(time.Second).String()
	s.Sensors.Tracked = p.monitor.TrackedSensors()
	s.Sensors.Active = len(p.monitor.ActiveSensors())
	if p.workerPool != nil {
		ws := p.workerPool.Stats()
		s.Worker.Processed = ws.Processed
		s.Worker.Failed = ws.Failed
		s.Worker.Superseded = ws.Superseded
	}
	if p.producer != nil {
		ps := p.producer.Stats()
		s.Producer = &ps
	}
	if p.webhook.Enabled() {
		wh := p.webhook.Stats()
		s.Webhook = &wh
	}
	s.Queue.Buffered = len(p.envelopeChan)
	s.Queue.Capacity = cap(p.envelopeChan)
	s.WebSocketClients = p.hub.ClientCount()
	return s
}

// healthHandler handles health check requests
func (p *Processor) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	kafkaStatus := "disabled"
	if p.producer != nil {
		if err := p.producer.HealthCheck(ctx); err != nil {
			middleware.WriteError(w, http.StatusServiceUnavailable, fmt.Sprintf("unhealthy: %v", err))
			return
		}
		kafkaStatus = "ok"
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"kafka":     kafkaStatus,
	})
}

// statsHandler returns current statistics
func (p *Processor) statsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, p.stats())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

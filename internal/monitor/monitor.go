package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"stockease/internal/alerts"
	"stockease/internal/logger"
	"stockease/internal/metrics"
	"stockease/internal/models"
	"stockease/internal/sensor"
	"stockease/internal/storage"
)

// Clock returns the current time. Tests substitute a fake one.
type Clock func() time.Time

// Service turns sensor readings into state transitions, weight updates
// and alerts.
//
// The sensor transition is committed before any catalog or notification
// work happens; failures after that point are reported but never undo it.
// Readings for one sensor are applied one at a time from the transition
// through the product weight write, so the catalog sees the same order as
// the registry.
type Service struct {
	sensorLocks sync.Map // sensor id -> *sync.Mutex

	registry      *sensor.Registry
	catalog       storage.Catalog
	engine        *alerts.Engine
	envelopes     chan<- *models.Envelope
	nodeID        string
	activeTimeout time.Duration
	clock         Clock
}

// Config holds the service collaborators
type Config struct {
	Registry *sensor.Registry
	Catalog  storage.Catalog
	Engine   *alerts.Engine

	// Envelopes receives notifications; nil disables notifications
	Envelopes chan<- *models.Envelope

	NodeID        string
	ActiveTimeout time.Duration
	Clock         Clock
}

// Result describes what one reading did
type Result struct {
	SensorID  string         `json:"sensor_id"`
	Outcome   sensor.Outcome `json:"outcome"`
	State     sensor.State   `json:"state"`
	Linked    bool           `json:"linked"`
	ProductID int64          `json:"product_id,omitempty"`
	Alert     *models.Alert  `json:"alert,omitempty"`

	// Error notes a failure after the sensor transition committed
	Error string `json:"error,omitempty"`
}

// NewService creates a monitor service
func NewService(cfg Config) *Service {
	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID, _ = os.Hostname()
		if nodeID == "" {
			nodeID = "unknown"
		}
	}

	if cfg.ActiveTimeout <= 0 {
		cfg.ActiveTimeout = 5 * time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Registry == nil {
		cfg.Registry = sensor.NewRegistry(sensor.DefaultPolicy())
	}
	if cfg.Engine == nil {
		cfg.Engine = alerts.NewEngine(cfg.Registry.Policy().MissingDelay)
	}

	return &Service{
		registry:      cfg.Registry,
		catalog:       cfg.Catalog,
		engine:        cfg.Engine,
		envelopes:     cfg.Envelopes,
		nodeID:        nodeID,
		activeTimeout: cfg.ActiveTimeout,
		clock:         cfg.Clock,
	}
}

// Record applies a reading.
//
// A reading without a sensor ID is rejected before it reaches the
// registry. A sensor that is not linked to a product still has its state
// tracked; the result simply reports Linked=false.
func (s *Service) Record(ctx context.Context, r models.Reading) (Result, error) {
	r.Normalize()
	if err := r.Validate(); err != nil {
		return Result{}, err
	}

	unlock := s.lockSensor(r.SensorID)
	state, outcome := s.registry.Upsert(r.SensorID, r.Weight, s.clock())
	metrics.SensorOutcomesTotal.WithLabelValues(string(outcome)).Inc()
	metrics.SensorsTracked.Set(float64(s.registry.Len()))

	res := Result{SensorID: r.SensorID, Outcome: outcome, State: state}

	log := logger.WithSensor("monitor", r.SensorID)
	log.Debug().
		Float64("weight", r.Weight).
		Str("outcome", string(outcome)).
		Bool("timer_active", state.TimerActive).
		Msg("reading recorded")

	if s.catalog == nil {
		unlock()
		return res, nil
	}

	product, err := s.catalog.ProductBySensor(ctx, r.SensorID)
	if errors.Is(err, storage.ErrNotFound) {
		unlock()
		metrics.UnlinkedReadingsTotal.Inc()
		log.Debug().Msg("no product linked to sensor")
		return res, nil
	}
	if err != nil {
		unlock()
		metrics.CatalogErrorsTotal.WithLabelValues("product_by_sensor").Inc()
		return res, fmt.Errorf("find product for sensor %s: %w", r.SensorID, err)
	}
	res.Linked = true
	res.ProductID = product.ID

	product, err = s.catalog.UpdateWeight(ctx, product.ID, r.Weight)
	unlock()
	if err != nil {
		metrics.CatalogErrorsTotal.WithLabelValues("update_weight").Inc()
		return res, fmt.Errorf("update weight of product %d: %w", res.ProductID, err)
	}

	s.offer(models.NewWeightEnvelope(&models.WeightUpdate{
		ProductID: product.ID,
		SensorID:  r.SensorID,
		Weight:    product.CurrentWeight,
		Outcome:   string(outcome),
		At:        state.LastSeenAt,
	}, s.nodeID))

	alert, err := s.raiseAlert(ctx, outcome, r.SensorID, product)
	if err != nil {
		return res, err
	}
	res.Alert = alert
	return res, nil
}

// lockSensor serializes readings for sensorID and returns the unlock func
func (s *Service) lockSensor(sensorID string) func() {
	v, _ := s.sensorLocks.LoadOrStore(sensorID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// SetProductWeight overwrites a product's weight without touching sensor
// state. The weight rule is checked as for an Ok reading.
func (s *Service) SetProductWeight(ctx context.Context, productID int64, weight float64) (models.Product, *models.Alert, error) {
	if s.catalog == nil {
		return models.Product{}, nil, storage.ErrNotFound
	}
	if math.IsNaN(weight) || math.IsInf(weight, 0) {
		return models.Product{}, nil, models.ErrInvalidWeight
	}

	product, err := s.catalog.UpdateWeight(ctx, productID, weight)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			metrics.CatalogErrorsTotal.WithLabelValues("update_weight").Inc()
		}
		return models.Product{}, nil, fmt.Errorf("update weight of product %d: %w", productID, err)
	}

	s.offer(models.NewWeightEnvelope(&models.WeightUpdate{
		ProductID: product.ID,
		SensorID:  product.SensorID,
		Weight:    product.CurrentWeight,
		Outcome:   string(sensor.OutcomeOk),
		At:        s.clock(),
	}, s.nodeID))

	alert, err := s.raiseAlert(ctx, sensor.OutcomeOk, product.SensorID, product)
	return product, alert, err
}

// raiseAlert decides on and persists the alert warranted by outcome
func (s *Service) raiseAlert(ctx context.Context, outcome sensor.Outcome, sensorID string, product models.Product) (*models.Alert, error) {
	log := logger.WithSensor("monitor", sensorID).With().Int64("product_id", product.ID).Logger()

	exists := func(productID int64, category models.AlertCategory) (bool, error) {
		return s.catalog.HasUnread(ctx, productID, category)
	}

	d, err := s.engine.Decide(alerts.Input{
		Outcome:  outcome,
		SensorID: sensorID,
		Product:  product,
	}, exists)
	if err != nil {
		metrics.CatalogErrorsTotal.WithLabelValues("has_unread").Inc()
		return nil, err
	}
	if d == nil {
		if outcome == sensor.OutcomeTimerStarted {
			log.Info().Msg("restocking timer started, low stock alert suppressed")
		}
		return nil, nil
	}

	alert, err := s.catalog.CreateAlert(ctx, models.Alert{
		ProductID: product.ID,
		Category:  d.Category,
		Message:   d.Message,
		AlertDate: s.clock(),
	})
	if errors.Is(err, storage.ErrDuplicateAlert) {
		// another reading for this product won the race
		metrics.AlertsSuppressedTotal.WithLabelValues(string(d.Category)).Inc()
		log.Debug().Str("category", string(d.Category)).Msg("unread alert already exists")
		return nil, nil
	}
	if err != nil {
		metrics.CatalogErrorsTotal.WithLabelValues("create_alert").Inc()
		return nil, fmt.Errorf("create %s alert for product %d: %w", d.Category, product.ID, err)
	}

	metrics.AlertsCreatedTotal.WithLabelValues(string(alert.Category)).Inc()
	log.Warn().
		Int64("alert_id", alert.ID).
		Str("category", string(alert.Category)).
		Msg(alert.Message)

	s.offer(models.NewAlertEnvelope(&alert, s.nodeID))
	return &alert, nil
}

// offer hands e to the notification queue without blocking
func (s *Service) offer(e *models.Envelope) {
	if s.envelopes == nil {
		return
	}
	select {
	case s.envelopes <- e:
	default:
		metrics.NotifyDroppedTotal.WithLabelValues(string(e.Kind)).Inc()
		log := logger.WithComponent("monitor")
		log.Warn().
			Str("kind", string(e.Kind)).
			Int64("product_id", e.ProductID()).
			Msg("notification queue full, envelope dropped")
	}
}

// ActiveSensors returns sensors heard from within the active timeout
func (s *Service) ActiveSensors() []sensor.State {
	active := s.registry.ListActive(s.activeTimeout, s.clock())
	metrics.SensorsActive.Set(float64(len(active)))
	return active
}

// Sensor returns the tracked state of one sensor
func (s *Service) Sensor(sensorID string) (sensor.State, bool) {
	return s.registry.Get(sensorID)
}

// Now returns the service clock's current time
func (s *Service) Now() time.Time {
	return s.clock()
}

// TrackedSensors returns how many sensors have reported
func (s *Service) TrackedSensors() int {
	return s.registry.Len()
}

// ActiveTimeout returns the liveness window used by ActiveSensors
func (s *Service) ActiveTimeout() time.Duration {
	return s.activeTimeout
}

// Alerts lists unread (read=false) or read alerts, newest first
func (s *Service) Alerts(ctx context.Context, read bool) ([]models.Alert, error) {
	if s.catalog == nil {
		return []models.Alert{}, nil
	}
	return s.catalog.Alerts(ctx, read)
}

// MarkAlertRead marks one alert read, allowing a new alert of its category
func (s *Service) MarkAlertRead(ctx context.Context, alertID int64) error {
	if s.catalog == nil {
		return storage.ErrNotFound
	}
	return s.catalog.MarkRead(ctx, alertID)
}

// MarkAllAlertsRead marks every unread alert read
func (s *Service) MarkAllAlertsRead(ctx context.Context) (int, error) {
	if s.catalog == nil {
		return 0, nil
	}
	return s.catalog.MarkAllRead(ctx)
}

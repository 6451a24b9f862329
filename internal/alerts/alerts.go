package alerts

import (
	"fmt"
	"time"

	"stockease/internal/models"
	"stockease/internal/sensor"
)

// ExistsFunc reports whether product already has an unread alert of category.
// It is supplied by the caller and usually backed by persistence.
type ExistsFunc func(productID int64, category models.AlertCategory) (bool, error)

// Descriptor is an alert the caller should persist and forward
type Descriptor struct {
	Category models.AlertCategory
	Message  string
}

// Input is everything a decision depends on besides the dedup lookup
type Input struct {
	Outcome  sensor.Outcome
	SensorID string
	Product  models.Product
}

// Engine maps reading outcomes to alerts. It performs no I/O itself.
type Engine struct {
	missingDelay time.Duration
}

// NewEngine creates an engine whose missing alerts mention missingDelay
func NewEngine(missingDelay time.Duration) *Engine {
	if missingDelay <= 0 {
		missingDelay = sensor.DefaultMissingDelay
	}
	return &Engine{missingDelay: missingDelay}
}

// Decide returns the alert warranted by in, or nil when none is.
func (e *Engine) Decide(in Input, exists ExistsFunc) (*Descriptor, error) {
	var d *Descriptor

	switch in.Outcome {
	case sensor.OutcomeTimerStarted:
		// shelf just emptied, restocking is presumed in progress
		return nil, nil

	case sensor.OutcomeMissingAlertNeeded:
		d = &Descriptor{
			Category: models.CategoryMissing,
			Message:  e.missingMessage(in),
		}

	case sensor.OutcomeTimerCancelled, sensor.OutcomeOk:
		if !in.Product.BelowWeightThreshold() {
			return nil, nil
		}
		d = &Descriptor{
			Category: models.CategoryLowWeight,
			Message:  lowWeightMessage(in.Product),
		}

	default:
		return nil, nil
	}

	found, err := exists(in.Product.ID, d.Category)
	if err != nil {
		return nil, fmt.Errorf("lookup unread %s alert for product %d: %w", d.Category, in.Product.ID, err)
	}
	if found {
		return nil, nil
	}
	return d, nil
}

func (e *Engine) missingMessage(in Input) string {
	sensorID := in.Product.SensorID
	if sensorID == "" {
		sensorID = in.SensorID
	}
	return fmt.Sprintf(
		"Product '%s' (ID: %d, Sensor: %s) appears to be MISSING! Weight remained near zero for over %g minutes.",
		in.Product.Name, in.Product.ID, sensorID, e.missingDelay.Minutes(),
	)
}

func lowWeightMessage(p models.Product) string {
	return fmt.Sprintf(
		"Product '%s' (ID: %d) weight (%.2f) is below threshold (%g).",
		p.Name, p.ID, p.CurrentWeight, p.MinimumThreshold,
	)
}

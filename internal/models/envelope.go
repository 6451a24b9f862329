package models

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// EnvelopeKind tells notification sinks what an envelope carries
type EnvelopeKind string

const (
	KindAlert  EnvelopeKind = "alert"
	KindWeight EnvelopeKind = "weight"
)

// WeightUpdate is broadcast whenever a linked product's weight changes
type WeightUpdate struct {
	ProductID int64     `json:"product_id"`
	SensorID  string    `json:"sensor_id"`
	Weight    float64   `json:"weight"`
	Outcome   string    `json:"outcome"`
	At        time.Time `json:"at"`
}

// Envelope wraps a notification with internal metadata for delivery
type Envelope struct {
	ID   string       `json:"id"`
	Kind EnvelopeKind `json:"kind"`

	Alert  *Alert        `json:"alert,omitempty"`
	Weight *WeightUpdate `json:"weight,omitempty"`

	// Internal processing metadata
	ReceivedAt   time.Time `json:"received_at"`
	Node         string    `json:"node"`
	RetryCount   int       `json:"retry_count"`
	PartitionKey string    `json:"partition_key"`
}

// NewAlertEnvelope creates an envelope for a persisted alert
func NewAlertEnvelope(alert *Alert, node string) *Envelope {
	return &Envelope{
		ID:           uuid.NewString(),
		Kind:         KindAlert,
		Alert:        alert,
		ReceivedAt:   time.Now().UTC(),
		Node:         node,
		PartitionKey: strconv.FormatInt(alert.ProductID, 10), // partition by product for ordering
	}
}

// NewWeightEnvelope creates an envelope for a weight change
func NewWeightEnvelope(update *WeightUpdate, node string) *Envelope {
	return &Envelope{
		ID:           uuid.NewString(),
		Kind:         KindWeight,
		Weight:       update,
		ReceivedAt:   time.Now().UTC(),
		Node:         node,
		PartitionKey: strconv.FormatInt(update.ProductID, 10),
	}
}

// ProductID returns the product the envelope refers to
func (e *Envelope) ProductID() int64 {
	switch {
	case e.Alert != nil:
		return e.Alert.ProductID
	case e.Weight != nil:
		return e.Weight.ProductID
	default:
		return 0
	}
}

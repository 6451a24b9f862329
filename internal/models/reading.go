package models

import (
	"errors"
	"math"
	"strings"
	"time"
)

// Reading is a single weight observation reported by a scale sensor
type Reading struct {
	// Opaque sensor identifier
	SensorID string `json:"sensorId"`

	// Measured weight in the sensor's units
	Weight float64 `json:"value"`

	// Time reported by the sensor, zero when the sensor sent none.
	// Informational only: state transitions use the arrival time.
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Validation errors
var (
	ErrEmptySensorID    = errors.New("sensor ID cannot be empty")
	ErrSensorIDTooLong  = errors.New("sensor ID exceeds maximum length")
	ErrInvalidWeight    = errors.New("weight must be a finite number")
	ErrInvalidTimestamp = errors.New("invalid timestamp format")
)

const MaxSensorIDLength = 128

// Validate checks the reading before it reaches the registry.
// Negative weights are accepted; scales drift below zero when tared.
func (r *Reading) Validate() error {
	if r.SensorID == "" {
		return ErrEmptySensorID
	}

	if len(r.SensorID) > MaxSensorIDLength {
		return ErrSensorIDTooLong
	}

	if math.IsNaN(r.Weight) || math.IsInf(r.Weight, 0) {
		return ErrInvalidWeight
	}

	return nil
}

// Normalize trims the sensor ID and converts the timestamp to UTC
func (r *Reading) Normalize() {
	r.SensorID = strings.TrimSpace(r.SensorID)
	if !r.Timestamp.IsZero() {
		r.Timestamp = r.Timestamp.UTC()
	}
}

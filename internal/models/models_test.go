package models_test

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"stockease/internal/models"
)

func TestReadingNormalize(t *testing.T) {
	loc := time.FixedZone("CEST", 2*60*60)
	r := &models.Reading{
		SensorID:  "  SENSOR_01  ",
		Weight:    4.2,
		Timestamp: time.Date(2025, 4, 9, 10, 0, 0, 0, loc),
	}

	r.Normalize()

	if r.SensorID != "SENSOR_01" {
		t.Errorf("SensorID not trimmed: got %q", r.SensorID)
	}
	if r.Timestamp.Location() != time.UTC || r.Timestamp.Hour() != 8 {
		t.Errorf("Timestamp not converted to UTC: got %v", r.Timestamp)
	}
}

func TestReadingValidate(t *testing.T) {
	tests := []struct {
		name    string
		reading models.Reading
		wantErr error
	}{
		{"valid", models.Reading{SensorID: "S1", Weight: 1.5}, nil},
		{"zero weight", models.Reading{SensorID: "S1"}, nil},
		{"negative weight", models.Reading{SensorID: "S1", Weight: -0.4}, nil},
		{"empty sensor", models.Reading{Weight: 1}, models.ErrEmptySensorID},
		{"long sensor", models.Reading{SensorID: strings.Repeat("x", models.MaxSensorIDLength+1)}, models.ErrSensorIDTooLong},
		{"NaN", models.Reading{SensorID: "S1", Weight: math.NaN()}, models.ErrInvalidWeight},
		{"Inf", models.Reading{SensorID: "S1", Weight: math.Inf(-1)}, models.ErrInvalidWeight},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.reading.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"RFC3339", "2024-01-15T10:30:00Z", false},
		{"RFC3339Nano", "2024-01-15T10:30:00.123456789Z", false},
		{"datetime with T", "2024-01-15T10:30:00", false},
		{"datetime with space", "2024-01-15 10:30:00", false},
		{"with whitespace", "  2024-01-15T10:30:00Z  ", false},
		{"empty", "", false},
		{"invalid", "not-a-timestamp", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := models.ParseTimestamp(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseTimestamp(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestParseTimestampReturnsUTC(t *testing.T) {
	ts, err := models.ParseTimestamp("2024-01-15T10:30:00+02:00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ts.Location() != time.UTC || ts.Hour() != 8 {
		t.Errorf("expected 08:30 UTC, got %v", ts)
	}
}

func TestSensorIDFromTopic(t *testing.T) {
	const pattern = "stockease/sensors/+/weight"

	tests := []struct {
		topic string
		want  string
	}{
		{"stockease/sensors/SENSOR_01/weight", "SENSOR_01"},
		{"stockease/sensors/SENSOR_01/battery", ""},
		{"stockease/sensors/weight", ""},
		{"other/sensors/SENSOR_01/weight", ""},
	}

	for _, tt := range tests {
		if got := models.SensorIDFromTopic(pattern, tt.topic); got != tt.want {
			t.Errorf("SensorIDFromTopic(%q) = %q, want %q", tt.topic, got, tt.want)
		}
	}
}

func TestDecodeReading(t *testing.T) {
	r, err := models.DecodeReading([]byte(`{"sensorId":"SENSOR_01","value":2.75,"timestamp":"2025-04-09 08:00:00"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.SensorID != "SENSOR_01" || r.Weight != 2.75 {
		t.Errorf("unexpected reading: %+v", r)
	}
	if !r.Timestamp.Equal(time.Date(2025, 4, 9, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("timestamp = %v", r.Timestamp)
	}

	// value defaults to zero when omitted
	r, err = models.DecodeReading([]byte(`{"sensorId":"SENSOR_02"}`))
	if err != nil || r.Weight != 0 {
		t.Errorf("missing value: reading=%+v err=%v", r, err)
	}

	if _, err := models.DecodeReading([]byte(`{"sensorId":"S","timestamp":"yesterday"}`)); !errors.Is(err, models.ErrInvalidTimestamp) {
		t.Errorf("expected ErrInvalidTimestamp, got %v", err)
	}
	if _, err := models.DecodeReading([]byte(`not json`)); err == nil {
		t.Error("expected decode error")
	}
}

func TestProductValidate(t *testing.T) {
	tests := []struct {
		name    string
		product models.Product
		wantErr error
	}{
		{"valid", models.Product{ID: 1, Name: "Coffee", ThresholdType: models.ThresholdWeight}, nil},
		{"bad id", models.Product{Name: "Coffee", ThresholdType: models.ThresholdWeight}, models.ErrInvalidProductID},
		{"no name", models.Product{ID: 1, Name: "  ", ThresholdType: models.ThresholdQuantity}, models.ErrEmptyProductName},
		{"bad threshold type", models.Product{ID: 1, Name: "Coffee", ThresholdType: "Volume"}, models.ErrInvalidThresholdType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.product.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnvelopePartitionsByProduct(t *testing.T) {
	alert := &models.Alert{ID: 7, ProductID: 42, Category: models.CategoryMissing}
	e := models.NewAlertEnvelope(alert, "node-a")

	if e.Kind != models.KindAlert || e.PartitionKey != "42" || e.ProductID() != 42 {
		t.Errorf("unexpected alert envelope: %+v", e)
	}
	if e.ID == "" || e.Node != "node-a" {
		t.Errorf("envelope metadata missing: %+v", e)
	}

	w := models.NewWeightEnvelope(&models.WeightUpdate{ProductID: 3}, "node-a")
	if w.Kind != models.KindWeight || w.PartitionKey != "3" || w.ID == e.ID {
		t.Errorf("unexpected weight envelope: %+v", w)
	}
}

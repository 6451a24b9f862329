package models

import (
	"encoding/json"
	"fmt"
)

// ReadingInput is the wire form of a reading as sent by sensor clients,
// with a string timestamp for flexible parsing. A missing value reads as 0.
type ReadingInput struct {
	SensorID  string  `json:"sensorId"`
	Value     float64 `json:"value"`
	Timestamp string  `json:"timestamp,omitempty"`
}

// ToReading converts the input, parsing its timestamp
func (in ReadingInput) ToReading() (Reading, error) {
	ts, err := ParseTimestamp(in.Timestamp)
	if err != nil {
		return Reading{}, fmt.Errorf("timestamp: %w", err)
	}

	return Reading{
		SensorID:  in.SensorID,
		Weight:    in.Value,
		Timestamp: ts,
	}, nil
}

// DecodeReading parses a single JSON reading as published on the Kafka
// and MQTT transports
func DecodeReading(data []byte) (Reading, error) {
	var in ReadingInput
	if err := json.Unmarshal(data, &in); err != nil {
		return Reading{}, fmt.Errorf("decode reading: %w", err)
	}
	return in.ToReading()
}

// WeightUpdateInput sets a product's weight directly, bypassing sensor
// state
type WeightUpdateInput struct {
	ProductID int64   `json:"productId"`
	NewWeight float64 `json:"newWeight"`
}

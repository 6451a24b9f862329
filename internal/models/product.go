package models

import (
	"errors"
	"strings"
)

// ThresholdType selects which low-stock rule applies to a product
type ThresholdType string

const (
	ThresholdQuantity ThresholdType = "Quantity"
	ThresholdWeight   ThresholdType = "Weight"
)

// Product is an inventory item, optionally linked to a weight sensor
type Product struct {
	ID               int64         `json:"id"`
	Name             string        `json:"name"`
	Barcode          string        `json:"barcode,omitempty"`
	SensorID         string        `json:"sensor_id,omitempty"`
	Quantity         int           `json:"quantity"`
	CurrentWeight    float64       `json:"current_weight"`
	MinimumThreshold float64       `json:"minimum_threshold"`
	ThresholdType    ThresholdType `json:"threshold_type"`
}

var (
	ErrInvalidProductID     = errors.New("product ID must be positive")
	ErrEmptyProductName     = errors.New("product name cannot be empty")
	ErrInvalidThresholdType = errors.New("invalid threshold type")
)

// IsValid reports whether t is a known threshold type
func (t ThresholdType) IsValid() bool {
	switch t {
	case ThresholdQuantity, ThresholdWeight:
		return true
	default:
		return false
	}
}

// ParseThresholdType accepts any casing and defaults to Quantity when empty
func ParseThresholdType(s string) (ThresholdType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "quantity":
		return ThresholdQuantity, nil
	case "weight":
		return ThresholdWeight, nil
	default:
		return "", ErrInvalidThresholdType
	}
}

// Validate checks the product fields required by the catalog
func (p *Product) Validate() error {
	if p.ID <= 0 {
		return ErrInvalidProductID
	}
	if strings.TrimSpace(p.Name) == "" {
		return ErrEmptyProductName
	}
	if !p.ThresholdType.IsValid() {
		return ErrInvalidThresholdType
	}
	return nil
}

// BelowWeightThreshold reports whether the product's weight rule is breached
func (p *Product) BelowWeightThreshold() bool {
	return p.ThresholdType == ThresholdWeight && p.CurrentWeight < p.MinimumThreshold
}

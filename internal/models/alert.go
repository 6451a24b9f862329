package models

import "time"

// AlertCategory identifies the rule that raised an alert.
// At most one unread alert per category exists for a product.
type AlertCategory string

const (
	CategoryMissing   AlertCategory = "Missing"
	CategoryLowWeight AlertCategory = "LowWeight"
)

// Alert is a persisted notification about a product
type Alert struct {
	ID        int64         `json:"id"`
	ProductID int64         `json:"product_id"`
	Category  AlertCategory `json:"category"`
	Message   string        `json:"message"`
	IsRead    bool          `json:"is_read"`
	AlertDate time.Time     `json:"alert_date"`
}

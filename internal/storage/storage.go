package storage

import (
	"context"
	"errors"

	"stockease/internal/models"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateAlert = errors.New("an unread alert of this category already exists")
)

// Catalog persists products and their alerts.
type Catalog interface {
	Product(ctx context.Context, id int64) (models.Product, error)
	ProductBySensor(ctx context.Context, sensorID string) (models.Product, error)
	Products(ctx context.Context) ([]models.Product, error)
	UpdateWeight(ctx context.Context, productID int64, weight float64) (models.Product, error)

	// HasUnread reports whether productID has an unread alert of category.
	HasUnread(ctx context.Context, productID int64, category models.AlertCategory) (bool, error)

	// CreateAlert stores alert and assigns its ID. It returns
	// ErrDuplicateAlert when an unread alert of the same category
	// already exists for the product; the check and insert are atomic.
	CreateAlert(ctx context.Context, alert models.Alert) (models.Alert, error)

	Alerts(ctx context.Context, read bool) ([]models.Alert, error)
	MarkRead(ctx context.Context, alertID int64) error
	MarkAllRead(ctx context.Context) (int, error)

	Close() error
}

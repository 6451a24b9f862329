package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"stockease/internal/models"
)

type dedupKey struct {
	productID int64
	category  models.AlertCategory
}

// MemoryCatalog is a Catalog kept in process memory
type MemoryCatalog struct {
	mu       sync.RWMutex
	products map[int64]models.Product
	bySensor map[string]int64
	alerts   map[int64]models.Alert
	unread   map[dedupKey]int64
	nextID   int64
}

// NewMemoryCatalog creates a catalog seeded with products
func NewMemoryCatalog(products ...models.Product) (*MemoryCatalog, error) {
	c := &MemoryCatalog{
		products: make(map[int64]models.Product, len(products)),
		bySensor: make(map[string]int64, len(products)),
		alerts:   make(map[int64]models.Alert),
		unread:   make(map[dedupKey]int64),
	}

	for _, p := range products {
		if err := c.AddProduct(p); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// AddProduct inserts or replaces a product
func (c *MemoryCatalog) AddProduct(p models.Product) error {
	if p.ThresholdType == "" {
		p.ThresholdType = models.ThresholdQuantity
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("product %d: %w", p.ID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if p.SensorID != "" {
		if other, ok := c.bySensor[p.SensorID]; ok && other != p.ID {
			return fmt.Errorf("product %d: sensor %q already linked to product %d", p.ID, p.SensorID, other)
		}
	}
	if old, ok := c.products[p.ID]; ok && old.SensorID != "" {
		delete(c.bySensor, old.SensorID)
	}

	c.products[p.ID] = p
	if p.SensorID != "" {
		c.bySensor[p.SensorID] = p.ID
	}
	return nil
}

func (c *MemoryCatalog) Product(_ context.Context, id int64) (models.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.products[id]
	if !ok {
		return models.Product{}, ErrNotFound
	}
	return p, nil
}

func (c *MemoryCatalog) ProductBySensor(_ context.Context, sensorID string) (models.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	id, ok := c.bySensor[sensorID]
	if !ok {
		return models.Product{}, ErrNotFound
	}
	return c.products[id], nil
}

func (c *MemoryCatalog) Products(_ context.Context) ([]models.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.Product, 0, len(c.products))
	for _, p := range c.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *MemoryCatalog) UpdateWeight(_ context.Context, productID int64, weight float64) (models.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.products[productID]
	if !ok {
		return models.Product{}, ErrNotFound
	}
	p.CurrentWeight = weight
	c.products[productID] = p
	return p, nil
}

func (c *MemoryCatalog) HasUnread(_ context.Context, productID int64, category models.AlertCategory) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.unread[dedupKey{productID, category}]
	return ok, nil
}

func (c *MemoryCatalog) CreateAlert(_ context.Context, alert models.Alert) (models.Alert, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := dedupKey{alert.ProductID, alert.Category}
	if !alert.IsRead {
		if _, ok := c.unread[key]; ok {
			return models.Alert{}, ErrDuplicateAlert
		}
	}

	c.nextID++
	alert.ID = c.nextID
	c.alerts[alert.ID] = alert
	if !alert.IsRead {
		c.unread[key] = alert.ID
	}
	return alert, nil
}

// Alerts returns read or unread alerts, newest first
func (c *MemoryCatalog) Alerts(_ context.Context, read bool) ([]models.Alert, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.Alert, 0)
	for _, a := range c.alerts {
		if a.IsRead == read {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AlertDate.Equal(out[j].AlertDate) {
			return out[i].ID > out[j].ID
		}
		return out[i].AlertDate.After(out[j].AlertDate)
	})
	return out, nil
}

func (c *MemoryCatalog) MarkRead(_ context.Context, alertID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.alerts[alertID]
	if !ok {
		return ErrNotFound
	}
	c.markRead(a)
	return nil
}

func (c *MemoryCatalog) MarkAllRead(_ context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, a := range c.alerts {
		if !a.IsRead {
			c.markRead(a)
			n++
		}
	}
	return n, nil
}

// markRead must be called with mu held
func (c *MemoryCatalog) markRead(a models.Alert) {
	if a.IsRead {
		return
	}
	a.IsRead = true
	c.alerts[a.ID] = a

	key := dedupKey{a.ProductID, a.Category}
	if c.unread[key] == a.ID {
		delete(c.unread, key)
	}
}

func (c *MemoryCatalog) Close() error { return nil }

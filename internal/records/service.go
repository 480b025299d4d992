// Package records serves read access to the orders and shipments built from
// partner EDI.
package records

import (
	"context"
	"errors"
	"fmt"

	"github.com/OpenNSW/edibridge/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrNotFound is returned when no record has the requested key.
var ErrNotFound = errors.New("record not found")

// OrderSummary is an order without its lines.
type OrderSummary struct {
	ID            uuid.UUID `json:"id"`
	OrderNumber   string    `json:"orderNumber"`
	Revision      int       `json:"revision"`
	Closed        bool      `json:"closed"`
	LineCount     int64     `json:"lineCount"`
	ShippingLines int64     `json:"shippingLines"`
}

// OrderListResult represents the result of querying orders with pagination
type OrderListResult struct {
	TotalCount int64          `json:"totalCount"`
	Items      []OrderSummary `json:"items"`
	Offset     int            `json:"offset"`
	Limit      int            `json:"limit"`
}

// Service reads the records of one importer.
type Service struct {
	db         *gorm.DB
	importerID uuid.UUID
}

func NewService(db *gorm.DB, importerID uuid.UUID) *Service {
	return &Service{db: db, importerID: importerID}
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// pageBounds applies the list defaults: offset 0 and 20 items, at most 100.
// Negative offsets and non-positive limits fall back to the defaults.
func pageBounds(offset, limit *int) (int, int) {
	from, size := 0, defaultPageSize
	if offset != nil && *offset > 0 {
		from = *offset
	}
	if limit != nil && *limit > 0 {
		size = min(*limit, maxPageSize)
	}
	return from, size
}

// ListOrders returns a page of orders, newest first.
func (s *Service) ListOrders(ctx context.Context, offset, limit *int) (*OrderListResult, error) {
	from, size := pageBounds(offset, limit)

	var total int64
	if err := s.orders(ctx).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count orders: %w", err)
	}

	var orders []model.Order
	if err := s.orders(ctx).Order("created_at DESC, order_number").Offset(from).Limit(size).Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	items := make([]OrderSummary, 0, len(orders))
	for _, o := range orders {
		summary := OrderSummary{ID: o.ID, OrderNumber: o.OrderNumber, Revision: o.Revision, Closed: o.Closed}
		lines := func() *gorm.DB {
			return s.db.WithContext(ctx).Model(&model.OrderLine{}).Where("order_id = ?", o.ID)
		}
		if err := lines().Count(&summary.LineCount).Error; err != nil {
			return nil, fmt.Errorf("failed to count lines of order %s: %w", o.OrderNumber, err)
		}
		if err := lines().Where("shipping = ?", true).Count(&summary.ShippingLines).Error; err != nil {
			return nil, fmt.Errorf("failed to count shipping lines of order %s: %w", o.OrderNumber, err)
		}
		items = append(items, summary)
	}

	return &OrderListResult{
		TotalCount: total,
		Items:      items,
		Offset:     from,
		Limit:      size,
	}, nil
}

func (s *Service) orders(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Model(&model.Order{}).Where("importer_id = ?", s.importerID)
}

// GetOrder returns an order with its lines in line number order.
func (s *Service) GetOrder(ctx context.Context, orderNumber string) (*model.Order, error) {
	var order model.Order
	err := s.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("line_number") }).
		Where("importer_id = ? AND order_number = ?", s.importerID, orderNumber).
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order %s: %w", orderNumber, err)
	}
	return &order, nil
}

// GetShipment returns a shipment with its containers and lines.
func (s *Service) GetShipment(ctx context.Context, reference string) (*model.Shipment, error) {
	var shipment model.Shipment
	err := s.db.WithContext(ctx).
		Preload("Containers").
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("line_number") }).
		Where("importer_id = ? AND reference = ?", s.importerID, reference).
		First(&shipment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get shipment %s: %w", reference, err)
	}
	return &shipment, nil
}

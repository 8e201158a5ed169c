package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bazarika/bazarika-backend/pkg/enums"
)

// OrderItem captures the snapshot of each line within an order.
// StockCommittedAt records when the line's stock was deducted, so a later
// cancellation releases only what was actually committed.
type OrderItem struct {
	ID                uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID           uuid.UUID             `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID         uuid.UUID             `gorm:"column:product_id;type:uuid;not null"`
	VendorID          uuid.UUID             `gorm:"column:vendor_id;type:uuid;not null;index"`
	Name              string                `gorm:"column:name;not null"`
	Category          string                `gorm:"column:category;not null"`
	UnitPrice         decimal.Decimal       `gorm:"column:unit_price;type:numeric(12,2);not null"`
	Quantity          int                   `gorm:"column:quantity;not null"`
	LineTotal         decimal.Decimal       `gorm:"column:line_total;type:numeric(12,2);not null"`
	ServiceChargeRate decimal.Decimal       `gorm:"column:service_charge_rate;type:numeric(5,4);not null"`
	Status            enums.OrderItemStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	StockCommittedAt  *time.Time            `gorm:"column:stock_committed_at"`
	CreatedAt         time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

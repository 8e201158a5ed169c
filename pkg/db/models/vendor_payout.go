package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// VendorPayout records what a vendor is owed for their confirmed lines of a
// paid order. Rows are written once, inside the payment-success transaction.
type VendorPayout struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID       uuid.UUID       `gorm:"column:order_id;type:uuid;not null;uniqueIndex:idx_payout_order_vendor"`
	VendorID      uuid.UUID       `gorm:"column:vendor_id;type:uuid;not null;uniqueIndex:idx_payout_order_vendor"`
	GrossAmount   decimal.Decimal `gorm:"column:gross_amount;type:numeric(12,2);not null"`
	Commission    decimal.Decimal `gorm:"column:commission;type:numeric(12,2);not null"`
	ServiceCharge decimal.Decimal `gorm:"column:service_charge;type:numeric(12,2);not null"`
	NetAmount     decimal.Decimal `gorm:"column:net_amount;type:numeric(12,2);not null"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
}

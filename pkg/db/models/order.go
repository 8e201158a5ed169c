package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bazarika/bazarika-backend/pkg/enums"
	"github.com/bazarika/bazarika-backend/pkg/types"
)

// Order is the aggregate produced from a cart checkout. Money fields are
// immutable snapshots; only status columns and timestamps change after
// creation.
type Order struct {
	ID              uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderNumber     string                    `gorm:"column:order_number;not null;uniqueIndex"`
	CustomerID      uuid.UUID                 `gorm:"column:customer_id;type:uuid;not null;index"`
	Status          enums.OrderStatus         `gorm:"column:status;type:text;not null;default:'pending_admin_approval'"`
	AdminApproval   enums.AdminApprovalStatus `gorm:"column:admin_approval;type:text;not null;default:'pending'"`
	Subtotal        decimal.Decimal           `gorm:"column:subtotal;type:numeric(12,2);not null"`
	Tax             decimal.Decimal           `gorm:"column:tax;type:numeric(12,2);not null"`
	ShippingFee     decimal.Decimal           `gorm:"column:shipping_fee;type:numeric(12,2);not null"`
	ServiceCharge   decimal.Decimal           `gorm:"column:service_charge;type:numeric(12,2);not null"`
	Discount        decimal.Decimal           `gorm:"column:discount;type:numeric(12,2);not null;default:0"`
	Total           decimal.Decimal           `gorm:"column:total;type:numeric(12,2);not null"`
	ShippingAddress types.Address             `gorm:"column:shipping_address;type:jsonb;serializer:json"`
	RejectReason    *string                   `gorm:"column:reject_reason"`
	CancelReason    *string                   `gorm:"column:cancel_reason"`
	ApprovedAt      *time.Time                `gorm:"column:approved_at"`
	CancelledAt     *time.Time                `gorm:"column:cancelled_at"`
	DeliveredAt     *time.Time                `gorm:"column:delivered_at"`
	Items           []OrderItem               `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Assignments     []VendorAssignment        `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Payment         *Payment                  `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt       time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}

package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bazarika/bazarika-backend/pkg/enums"
)

// Payment is the single payment record attached to an order. Status moves
// through compare-and-swap updates only, which is what makes the reconciler
// safe to call from the redirect, the IPN and the admin path at once.
type Payment struct {
	ID                uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID           uuid.UUID           `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	Amount            decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	RefundedAmount    decimal.Decimal     `gorm:"column:refunded_amount;type:numeric(12,2);not null;default:0"`
	Status            enums.PaymentStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	SessionKey        *string             `gorm:"column:session_key"`
	TransactionID     *string             `gorm:"column:transaction_id;uniqueIndex"`
	ValidationID      *string             `gorm:"column:validation_id"`
	BankTranID        *string             `gorm:"column:bank_tran_id"`
	FailureReason     *string             `gorm:"column:failure_reason"`
	PaidAt            *time.Time          `gorm:"column:paid_at"`
	RefundedAt        *time.Time          `gorm:"column:refunded_at"`
	RefundInitiatedAt *time.Time          `gorm:"column:refund_initiated_at"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

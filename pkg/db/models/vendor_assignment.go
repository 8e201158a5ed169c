package models

import (
	"time"

	"github.com/google/uuid"

	dbtypes "github.com/bazarika/bazarika-backend/pkg/db/types"
	"github.com/bazarika/bazarika-backend/pkg/enums"
)

// VendorAssignment is one vendor's slice of an order, created when the admin
// approves it. ItemIDs pins the order lines the vendor is answering for.
type VendorAssignment struct {
	ID           uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID      uuid.UUID              `gorm:"column:order_id;type:uuid;not null;uniqueIndex:idx_order_vendor"`
	VendorID     uuid.UUID              `gorm:"column:vendor_id;type:uuid;not null;uniqueIndex:idx_order_vendor"`
	ItemIDs      dbtypes.UUIDArray      `gorm:"column:item_ids;type:uuid[];not null"`
	Status       enums.AssignmentStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	RejectReason *string                `gorm:"column:reject_reason"`
	RespondedAt  *time.Time             `gorm:"column:responded_at"`
	CreatedAt    time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/bazarika/bazarika-backend/pkg/enums"
)

// Notification is an in-app message raised by an order lifecycle event.
type Notification struct {
	ID        uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID    uuid.UUID              `gorm:"column:user_id;type:uuid;not null;index"`
	Type      enums.NotificationType `gorm:"column:type;type:text;not null"`
	Title     string                 `gorm:"column:title;not null"`
	Body      string                 `gorm:"column:body;not null"`
	OrderID   *uuid.UUID             `gorm:"column:order_id;type:uuid"`
	ReadAt    *time.Time             `gorm:"column:read_at"`
	CreatedAt time.Time              `gorm:"column:created_at;autoCreateTime"`
}

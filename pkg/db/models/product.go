package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bazarika/bazarika-backend/pkg/enums"
)

// Product is the vendor catalog entry. StockQty is only ever mutated through
// the inventory ledger's conditional updates; SalesCount and TotalSales are
// rollups bumped when stock commits.
type Product struct {
	ID                uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	VendorID          uuid.UUID           `gorm:"column:vendor_id;type:uuid;not null;index"`
	Name              string              `gorm:"column:name;not null"`
	Category          string              `gorm:"column:category;not null"`
	Price             decimal.Decimal     `gorm:"column:price;type:numeric(12,2);not null"`
	StockQty          int                 `gorm:"column:stock_qty;not null;default:0"`
	SalesCount        int                 `gorm:"column:sales_count;not null;default:0"`
	TotalSales        decimal.Decimal     `gorm:"column:total_sales;type:numeric(12,2);not null;default:0"`
	ServiceChargeRate decimal.Decimal     `gorm:"column:service_charge_rate;type:numeric(5,4);not null;default:0.05"`
	Status            enums.ProductStatus `gorm:"column:status;type:text;not null;default:'active'"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

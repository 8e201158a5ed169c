package payouts

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bazarika/bazarika-backend/pkg/db/models"
)

// Repository persists settlement rows. CreateBatch is idempotent per
// (order, vendor): replays of the payment-success transaction leave the
// original rows untouched.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateBatch(ctx context.Context, payouts []models.VendorPayout) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.VendorPayout, error)
	ListByVendor(ctx context.Context, vendorID uuid.UUID) ([]models.VendorPayout, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a payout repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) CreateBatch(ctx context.Context, payouts []models.VendorPayout) error {
	if len(payouts) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}, {Name: "vendor_id"}},
			DoNothing: true,
		}).
		Create(&payouts).Error
}

func (r *repositoryImpl) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.VendorPayout, error) {
	var payouts []models.VendorPayout
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&payouts).Error; err != nil {
		return nil, err
	}
	return payouts, nil
}

func (r *repositoryImpl) ListByVendor(ctx context.Context, vendorID uuid.UUID) ([]models.VendorPayout, error) {
	var payouts []models.VendorPayout
	if err := r.db.WithContext(ctx).
		Where("vendor_id = ?", vendorID).
		Order("created_at DESC").
		Find(&payouts).Error; err != nil {
		return nil, err
	}
	return payouts, nil
}

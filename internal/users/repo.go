package users

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bazarika/bazarika-backend/pkg/db/models"
	"github.com/bazarika/bazarika-backend/pkg/enums"
)

// AdminDirectory resolves the set of administrators for notification fanout.
// The workflow engine never enumerates admins itself; it asks this interface.
type AdminDirectory interface {
	AdminIDs(ctx context.Context) ([]uuid.UUID, error)
}

// Repository manages user lookups.
type Repository interface {
	AdminDirectory
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	VendorUserIDs(ctx context.Context, vendorID uuid.UUID) ([]uuid.UUID, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a user repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repository) AdminIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("role = ?", enums.MemberRoleAdmin).
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repository) VendorUserIDs(ctx context.Context, vendorID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("role = ? AND vendor_id = ?", enums.MemberRoleVendor, vendorID).
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

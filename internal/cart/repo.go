package cart

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bazarika/bazarika-backend/pkg/db/models"
)

// Repository manages cart and cart line persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByCustomer(ctx context.Context, customerID uuid.UUID) (*models.Cart, error)
	Create(ctx context.Context, cart *models.Cart) error
	FindItem(ctx context.Context, cartID, productID uuid.UUID, variant string) (*models.CartItem, error)
	FindItemByID(ctx context.Context, cartID, itemID uuid.UUID) (*models.CartItem, error)
	SaveItem(ctx context.Context, item *models.CartItem) error
	DeleteItem(ctx context.Context, cartID, itemID uuid.UUID) (int64, error)
	ClearItems(ctx context.Context, cartID uuid.UUID) error
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a cart repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) FindByCustomer(ctx context.Context, customerID uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		First(&cart, "customer_id = ?", customerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

func (r *repositoryImpl) Create(ctx context.Context, cart *models.Cart) error {
	return r.db.WithContext(ctx).Create(cart).Error
}

func (r *repositoryImpl) FindItem(ctx context.Context, cartID, productID uuid.UUID, variant string) (*models.CartItem, error) {
	var item models.CartItem
	err := r.db.WithContext(ctx).
		First(&item, "cart_id = ? AND product_id = ? AND variant = ?", cartID, productID, variant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repositoryImpl) FindItemByID(ctx context.Context, cartID, itemID uuid.UUID) (*models.CartItem, error) {
	var item models.CartItem
	err := r.db.WithContext(ctx).
		First(&item, "id = ? AND cart_id = ?", itemID, cartID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repositoryImpl) SaveItem(ctx context.Context, item *models.CartItem) error {
	return r.db.WithContext(ctx).Save(item).Error
}

func (r *repositoryImpl) DeleteItem(ctx context.Context, cartID, itemID uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).
		Delete(&models.CartItem{}, "id = ? AND cart_id = ?", itemID, cartID)
	return result.RowsAffected, result.Error
}

func (r *repositoryImpl) ClearItems(ctx context.Context, cartID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Delete(&models.CartItem{}, "cart_id = ?", cartID).Error
}

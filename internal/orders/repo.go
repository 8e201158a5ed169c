package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bazarika/bazarika-backend/pkg/db/models"
	"github.com/bazarika/bazarika-backend/pkg/enums"
	"github.com/bazarika/bazarika-backend/pkg/pagination"
)

// Repository owns the order aggregate: the order row, its items, vendor
// assignments and the payment sub-record. Status-bearing updates are guarded
// in SQL so concurrent writers serialize in the database.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	List(ctx context.Context, params ListOrdersParams) ([]models.Order, *pagination.Cursor, error)
	UpdateColumns(ctx context.Context, orderID uuid.UUID, values map[string]any) error
	UpdateItemsStatus(ctx context.Context, itemIDs []uuid.UUID, status enums.OrderItemStatus) error
	AdvanceItemStatus(ctx context.Context, itemID uuid.UUID, from, to enums.OrderItemStatus) (int64, error)
	ClaimItemStockCommit(ctx context.Context, itemID uuid.UUID, at time.Time) (int64, error)
	ClearItemsStockCommitted(ctx context.Context, itemIDs []uuid.UUID) error
	CreateAssignments(ctx context.Context, assignments []models.VendorAssignment) error
	FindAssignment(ctx context.Context, orderID, vendorID uuid.UUID) (*models.VendorAssignment, error)
	ListAssignments(ctx context.Context, orderID uuid.UUID) ([]models.VendorAssignment, error)
	RespondAssignment(ctx context.Context, assignmentID uuid.UUID, status enums.AssignmentStatus, reason *string, at time.Time) (int64, error)
	CasPaymentStatus(ctx context.Context, orderID uuid.UUID, from, to enums.PaymentStatus, values map[string]any) (int64, error)
	UpdatePaymentColumns(ctx context.Context, orderID uuid.UUID, values map[string]any) error
	ClaimRefundInFlight(ctx context.Context, orderID uuid.UUID, at time.Time) (int64, error)
}

// ListOrdersParams filters the order listing. Vendor listings join through
// vendor assignments so a vendor only ever sees orders they are part of.
type ListOrdersParams struct {
	CustomerID *uuid.UUID
	VendorID   *uuid.UUID
	Status     *enums.OrderStatus
	Limit      int
	Cursor     *pagination.Cursor
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns an order repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repositoryImpl) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *repositoryImpl) FindByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	return r.findOne(ctx, "order_number = ?", orderNumber)
}

func (r *repositoryImpl) findOne(ctx context.Context, query string, arg any) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Preload("Assignments").
		Preload("Payment").
		First(&order, query, arg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repositoryImpl) List(ctx context.Context, params ListOrdersParams) ([]models.Order, *pagination.Cursor, error) {
	limit := pagination.LimitWithBuffer(params.Limit)
	normalized := pagination.NormalizeLimit(params.Limit)

	query := r.db.WithContext(ctx).Model(&models.Order{})
	if params.CustomerID != nil {
		query = query.Where("orders.customer_id = ?", *params.CustomerID)
	}
	if params.VendorID != nil {
		query = query.
			Joins("JOIN vendor_assignments ON vendor_assignments.order_id = orders.id").
			Where("vendor_assignments.vendor_id = ?", *params.VendorID)
	}
	if params.Status != nil {
		query = query.Where("orders.status = ?", *params.Status)
	}
	if params.Cursor != nil {
		query = query.Where("(orders.created_at, orders.id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var orders []models.Order
	if err := query.
		Preload("Items").
		Preload("Payment").
		Order("orders.created_at DESC, orders.id DESC").
		Limit(limit).
		Find(&orders).Error; err != nil {
		return nil, nil, err
	}

	if len(orders) > normalized {
		next := orders[normalized]
		orders = orders[:normalized]
		return orders, &pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID}, nil
	}
	return orders, nil, nil
}

func (r *repositoryImpl) UpdateColumns(ctx context.Context, orderID uuid.UUID, values map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(values).Error
}

func (r *repositoryImpl) UpdateItemsStatus(ctx context.Context, itemIDs []uuid.UUID, status enums.OrderItemStatus) error {
	if len(itemIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.OrderItem{}).
		Where("id IN ?", itemIDs).
		Update("status", status).Error
}

// AdvanceItemStatus moves one line forward only when it still holds the
// expected status, so two racing advances cannot skip a step.
func (r *repositoryImpl) AdvanceItemStatus(ctx context.Context, itemID uuid.UUID, from, to enums.OrderItemStatus) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.OrderItem{}).
		Where("id = ? AND status = ?", itemID, from).
		Update("status", to)
	return result.RowsAffected, result.Error
}

// ClaimItemStockCommit conditionally sets the item's stock-commit marker.
// Zero rows means another writer already holds or settled this line.
func (r *repositoryImpl) ClaimItemStockCommit(ctx context.Context, itemID uuid.UUID, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.OrderItem{}).
		Where("id = ? AND stock_committed_at IS NULL", itemID).
		Update("stock_committed_at", at)
	return res.RowsAffected, res.Error
}

func (r *repositoryImpl) ClearItemsStockCommitted(ctx context.Context, itemIDs []uuid.UUID) error {
	if len(itemIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.OrderItem{}).
		Where("id IN ?", itemIDs).
		Update("stock_committed_at", nil).Error
}

func (r *repositoryImpl) CreateAssignments(ctx context.Context, assignments []models.VendorAssignment) error {
	if len(assignments) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&assignments).Error
}

func (r *repositoryImpl) FindAssignment(ctx context.Context, orderID, vendorID uuid.UUID) (*models.VendorAssignment, error) {
	var assignment models.VendorAssignment
	err := r.db.WithContext(ctx).
		First(&assignment, "order_id = ? AND vendor_id = ?", orderID, vendorID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &assignment, nil
}

func (r *repositoryImpl) ListAssignments(ctx context.Context, orderID uuid.UUID) ([]models.VendorAssignment, error) {
	var assignments []models.VendorAssignment
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&assignments).Error; err != nil {
		return nil, err
	}
	return assignments, nil
}

// RespondAssignment records a vendor's decision, guarded on the assignment
// still being pending.
func (r *repositoryImpl) RespondAssignment(ctx context.Context, assignmentID uuid.UUID, status enums.AssignmentStatus, reason *string, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.VendorAssignment{}).
		Where("id = ? AND status = ?", assignmentID, enums.AssignmentStatusPending).
		Updates(map[string]any{
			"status":        status,
			"reject_reason": reason,
			"responded_at":  at,
		})
	return result.RowsAffected, result.Error
}

// CasPaymentStatus is the single compare-and-set every payment transition
// goes through. RowsAffected zero means another writer got there first.
func (r *repositoryImpl) CasPaymentStatus(ctx context.Context, orderID uuid.UUID, from, to enums.PaymentStatus, values map[string]any) (int64, error) {
	updates := map[string]any{"status": to}
	for column, value := range values {
		updates[column] = value
	}
	result := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("order_id = ? AND status = ?", orderID, from).
		Updates(updates)
	return result.RowsAffected, result.Error
}

func (r *repositoryImpl) UpdatePaymentColumns(ctx context.Context, orderID uuid.UUID, values map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("order_id = ?", orderID).
		Updates(values).Error
}

// ClaimRefundInFlight marks the payment as having a refund on its way to the
// gateway. Zero rows means another refund holds the claim.
func (r *repositoryImpl) ClaimRefundInFlight(ctx context.Context, orderID uuid.UUID, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("order_id = ? AND refund_initiated_at IS NULL AND status IN ?", orderID,
			[]enums.PaymentStatus{enums.PaymentStatusPaid, enums.PaymentStatusPartialRefund}).
		Update("refund_initiated_at", at)
	return result.RowsAffected, result.Error
}

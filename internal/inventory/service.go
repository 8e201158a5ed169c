package inventory

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	pkgerrors "github.com/bazarika/bazarika-backend/pkg/errors"
)

// Line is one stock movement: the order line it belongs to, the product it
// hits and the quantity and money involved.
type Line struct {
	ItemID    uuid.UUID
	ProductID uuid.UUID
	Quantity  int
	LineTotal decimal.Decimal
}

// CommitResult reports which lines actually moved stock. On a conflict the
// earlier lines in the batch stay committed; callers use CommittedItemIDs to
// know exactly which ones.
type CommitResult struct {
	CommittedItemIDs []uuid.UUID
}

// Service is the atomic stock adjustment primitive. Commit and Release are the
// only code paths allowed to touch products.stock_qty.
type Service interface {
	Commit(ctx context.Context, db *gorm.DB, lines []Line) (CommitResult, error)
	Release(ctx context.Context, db *gorm.DB, lines []Line) error
}

type service struct{}

// NewService returns the default inventory service.
func NewService() Service {
	return service{}
}

// Commit decrements stock and bumps sales rollups line by line. Each line is a
// single conditional UPDATE, so two racing commits against the same product
// serialize in the database instead of overselling. A line that would drive
// stock below zero stops the batch; lines before it remain committed.
func (service) Commit(ctx context.Context, db *gorm.DB, lines []Line) (CommitResult, error) {
	result := CommitResult{}
	if db == nil {
		return result, pkgerrors.New(pkgerrors.CodeDependency, "database handle required for inventory commit")
	}

	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		res := db.WithContext(ctx).Exec(`
			UPDATE products
			SET stock_qty = stock_qty - ?,
				sales_count = sales_count + ?,
				total_sales = total_sales + ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND stock_qty >= ?
		`, line.Quantity, line.Quantity, line.LineTotal, line.ProductID, line.Quantity)
		if res.Error != nil {
			return result, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "commit inventory")
		}
		if res.RowsAffected == 0 {
			return result, pkgerrors.New(pkgerrors.CodeConflict, "insufficient stock").
				WithDetails(map[string]any{
					"product_id": line.ProductID.String(),
					"requested":  line.Quantity,
				})
		}
		result.CommittedItemIDs = append(result.CommittedItemIDs, line.ItemID)
	}

	return result, nil
}

// Release is the inverse of Commit. It never fails on quantity: returning
// stock cannot underflow, and the sales rollups are clamped at zero.
func (service) Release(ctx context.Context, db *gorm.DB, lines []Line) error {
	if db == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "database handle required for inventory release")
	}

	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		res := db.WithContext(ctx).Exec(`
			UPDATE products
			SET stock_qty = stock_qty + ?,
				sales_count = CASE WHEN sales_count >= ? THEN sales_count - ? ELSE 0 END,
				total_sales = CASE WHEN total_sales >= ? THEN total_sales - ? ELSE 0 END,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`, line.Quantity, line.Quantity, line.Quantity, line.LineTotal, line.LineTotal, line.ProductID)
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "release inventory")
		}
	}

	return nil
}

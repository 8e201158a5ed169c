package cart

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/bazarika/bazarika-backend/internal/pricing"
	"github.com/bazarika/bazarika-backend/internal/products"
	"github.com/bazarika/bazarika-backend/pkg/db/models"
	"github.com/bazarika/bazarika-backend/pkg/enums"
	pkgerrors "github.com/bazarika/bazarika-backend/pkg/errors"
)

// MaxLineQuantity caps a single cart line. Merging an add into an existing
// line re-checks the cap against the merged quantity.
const MaxLineQuantity = 10

// Service is the per-customer staging area in front of order creation.
type Service interface {
	Get(ctx context.Context, customerID uuid.UUID) (*Summary, error)
	Add(ctx context.Context, customerID uuid.UUID, input AddInput) (*Summary, error)
	UpdateItem(ctx context.Context, customerID, itemID uuid.UUID, quantity int) (*Summary, error)
	RemoveItem(ctx context.Context, customerID, itemID uuid.UUID) (*Summary, error)
	Clear(ctx context.Context, tx *gorm.DB, customerID uuid.UUID) error
	Checkout(ctx context.Context, customerID uuid.UUID) (*Draft, error)
}

type service struct {
	repo     Repository
	products products.Repository
}

// AddInput stages one product line.
type AddInput struct {
	ProductID uuid.UUID
	Quantity  int
	Variant   string
}

// Line is one cart row with its live availability check.
type Line struct {
	ID           uuid.UUID       `json:"id"`
	ProductID    uuid.UUID       `json:"productId"`
	VendorID     uuid.UUID       `json:"vendorId"`
	Variant      string          `json:"variant,omitempty"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	CurrentPrice decimal.Decimal `json:"currentPrice"`
	LineTotal    decimal.Decimal `json:"lineTotal"`
	Available    bool            `json:"available"`
	AddedAt      time.Time       `json:"addedAt"`
}

// Summary is the cart with totals recomputed from the current lines.
type Summary struct {
	CartID        uuid.UUID       `json:"cartId"`
	Items         []Line          `json:"items"`
	ItemCount     int             `json:"itemCount"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Tax           decimal.Decimal `json:"tax"`
	ShippingFee   decimal.Decimal `json:"shippingFee"`
	ServiceCharge decimal.Decimal `json:"serviceCharge"`
	Total         decimal.Decimal `json:"total"`
}

// Draft is the validated, stock-checked snapshot checkout hands to order
// creation. The cart itself is untouched until the order is durably created.
type Draft struct {
	CustomerID uuid.UUID
	Lines      []DraftLine
	Subtotal   decimal.Decimal
	ItemCount  int
}

// DraftLine carries the product snapshot an order item is built from,
// including the category service charge rate applied at order creation.
type DraftLine struct {
	ProductID         uuid.UUID
	VendorID          uuid.UUID
	ProductName       string
	Category          string
	Variant           string
	Quantity          int
	UnitPrice         decimal.Decimal
	LineTotal         decimal.Decimal
	ServiceChargeRate decimal.Decimal
}

// NewService wires cart dependencies.
func NewService(repo Repository, productRepo products.Repository) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "cart repository required")
	}
	if productRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "product repository required")
	}
	return &service{repo: repo, products: productRepo}, nil
}

func (s *service) Get(ctx context.Context, customerID uuid.UUID) (*Summary, error) {
	cart, err := s.getOrCreate(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return s.summarize(ctx, cart)
}

func (s *service) Add(ctx context.Context, customerID uuid.UUID, input AddInput) (*Summary, error) {
	if input.ProductID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if input.Quantity < 1 || input.Quantity > MaxLineQuantity {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be between 1 and 10")
	}

	cart, err := s.getOrCreate(ctx, customerID)
	if err != nil {
		return nil, err
	}

	product, err := s.products.FindByID(ctx, input.ProductID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	if product.Status != enums.ProductStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "product is not available").
			WithDetails(map[string]any{"product_id": product.ID})
	}

	line, err := s.repo.FindItem(ctx, cart.ID, product.ID, input.Variant)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart line")
	}

	merged := input.Quantity
	if line != nil {
		merged += line.Quantity
	}
	if merged > MaxLineQuantity {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "line quantity limit exceeded").
			WithDetails(map[string]any{"product_id": product.ID, "requested": merged, "limit": MaxLineQuantity})
	}
	if merged > product.StockQty {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "insufficient stock").
			WithDetails(map[string]any{"product_id": product.ID, "requested": merged, "available": product.StockQty})
	}

	if line == nil {
		line = &models.CartItem{
			CartID:    cart.ID,
			ProductID: product.ID,
			VendorID:  product.VendorID,
			Variant:   input.Variant,
			UnitPrice: product.Price,
		}
	}
	line.Quantity = merged
	if err := s.repo.SaveItem(ctx, line); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save cart line")
	}

	return s.reload(ctx, customerID)
}

func (s *service) UpdateItem(ctx context.Context, customerID, itemID uuid.UUID, quantity int) (*Summary, error) {
	if quantity < 1 || quantity > MaxLineQuantity {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be between 1 and 10")
	}

	cart, err := s.getOrCreate(ctx, customerID)
	if err != nil {
		return nil, err
	}

	line, err := s.repo.FindItemByID(ctx, cart.ID, itemID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart line")
	}
	if line == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
	}

	product, err := s.products.FindByID(ctx, line.ProductID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	if quantity > product.StockQty {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "insufficient stock").
			WithDetails(map[string]any{"product_id": product.ID, "requested": quantity, "available": product.StockQty})
	}

	line.Quantity = quantity
	if err := s.repo.SaveItem(ctx, line); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save cart line")
	}

	return s.reload(ctx, customerID)
}

func (s *service) RemoveItem(ctx context.Context, customerID, itemID uuid.UUID) (*Summary, error) {
	cart, err := s.getOrCreate(ctx, customerID)
	if err != nil {
		return nil, err
	}

	affected, err := s.repo.DeleteItem(ctx, cart.ID, itemID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete cart line")
	}
	if affected == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
	}

	return s.reload(ctx, customerID)
}

// Clear empties the cart without deleting it. Payment reconciliation calls
// this inside its transaction, handlers pass a nil tx.
func (s *service) Clear(ctx context.Context, tx *gorm.DB, customerID uuid.UUID) error {
	repo := s.repo.WithTx(tx)
	cart, err := repo.FindByCustomer(ctx, customerID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	if cart == nil {
		return nil
	}
	if err := repo.ClearItems(ctx, cart.ID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart")
	}
	return nil
}

func (s *service) Checkout(ctx context.Context, customerID uuid.UUID) (*Draft, error) {
	cart, err := s.repo.FindByCustomer(ctx, customerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	if cart == nil || len(cart.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}

	catalog, err := s.loadCatalog(ctx, cart.Items)
	if err != nil {
		return nil, err
	}

	var unavailable []map[string]any
	draft := &Draft{CustomerID: customerID, Subtotal: decimal.Zero}
	for _, item := range cart.Items {
		product, ok := catalog[item.ProductID]
		switch {
		case !ok:
			unavailable = append(unavailable, unavailableLine(item, "product no longer exists"))
			continue
		case product.Status != enums.ProductStatusActive:
			unavailable = append(unavailable, unavailableLine(item, "product is not available"))
			continue
		case item.Quantity > product.StockQty:
			unavailable = append(unavailable, unavailableLine(item, "insufficient stock"))
			continue
		}

		lineTotal := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		draft.Lines = append(draft.Lines, DraftLine{
			ProductID:         item.ProductID,
			VendorID:          item.VendorID,
			ProductName:       product.Name,
			Category:          product.Category,
			Variant:           item.Variant,
			Quantity:          item.Quantity,
			UnitPrice:         item.UnitPrice,
			LineTotal:         lineTotal,
			ServiceChargeRate: product.ServiceChargeRate,
		})
		draft.Subtotal = draft.Subtotal.Add(lineTotal)
		draft.ItemCount += item.Quantity
	}

	if len(unavailable) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "cart has unavailable items").
			WithDetails(map[string]any{"unavailable": unavailable})
	}
	return draft, nil
}

func (s *service) getOrCreate(ctx context.Context, customerID uuid.UUID) (*models.Cart, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}
	cart, err := s.repo.FindByCustomer(ctx, customerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	if cart != nil {
		return cart, nil
	}

	cart = &models.Cart{CustomerID: customerID}
	if err := s.repo.Create(ctx, cart); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create cart")
	}
	return cart, nil
}

func (s *service) reload(ctx context.Context, customerID uuid.UUID) (*Summary, error) {
	cart, err := s.repo.FindByCustomer(ctx, customerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	if cart == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "cart disappeared during mutation")
	}
	return s.summarize(ctx, cart)
}

func (s *service) summarize(ctx context.Context, cart *models.Cart) (*Summary, error) {
	catalog, err := s.loadCatalog(ctx, cart.Items)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		CartID:   cart.ID,
		Items:    make([]Line, 0, len(cart.Items)),
		Subtotal: decimal.Zero,
	}
	for _, item := range cart.Items {
		lineTotal := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		line := Line{
			ID:           item.ID,
			ProductID:    item.ProductID,
			VendorID:     item.VendorID,
			Variant:      item.Variant,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			CurrentPrice: item.UnitPrice,
			LineTotal:    lineTotal,
			AddedAt:      item.CreatedAt,
		}
		if product, ok := catalog[item.ProductID]; ok {
			line.CurrentPrice = product.Price
			line.Available = product.Status == enums.ProductStatusActive && item.Quantity <= product.StockQty
		}
		summary.Items = append(summary.Items, line)
		summary.Subtotal = summary.Subtotal.Add(lineTotal)
		summary.ItemCount += item.Quantity
	}

	summary.Tax = pricing.Tax(summary.Subtotal)
	summary.ShippingFee = pricing.ShippingFee(summary.Subtotal)
	summary.ServiceCharge = pricing.CartServiceCharge(summary.Subtotal)
	summary.Total = summary.Subtotal.
		Add(summary.Tax).
		Add(summary.ShippingFee).
		Add(summary.ServiceCharge)
	if summary.ItemCount == 0 {
		summary.ShippingFee = decimal.Zero
		summary.Total = decimal.Zero
	}
	return summary, nil
}

func (s *service) loadCatalog(ctx context.Context, items []models.CartItem) (map[uuid.UUID]models.Product, error) {
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	rows, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
	}
	catalog := make(map[uuid.UUID]models.Product, len(rows))
	for _, row := range rows {
		catalog[row.ID] = row
	}
	return catalog, nil
}

func unavailableLine(item models.CartItem, reason string) map[string]any {
	return map[string]any{
		"item_id":    item.ID,
		"product_id": item.ProductID,
		"reason":     reason,
	}
}

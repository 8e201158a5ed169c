package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/bazarika/bazarika-backend/internal/cart"
	"github.com/bazarika/bazarika-backend/internal/notifications"
	"github.com/bazarika/bazarika-backend/internal/orders"
	"github.com/bazarika/bazarika-backend/internal/pricing"
	"github.com/bazarika/bazarika-backend/internal/products"
	"github.com/bazarika/bazarika-backend/pkg/db/models"
	"github.com/bazarika/bazarika-backend/pkg/enums"
	pkgerrors "github.com/bazarika/bazarika-backend/pkg/errors"
	"github.com/bazarika/bazarika-backend/pkg/outbox"
	"github.com/bazarika/bazarika-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type notifier interface {
	Notify(ctx context.Context, tx *gorm.DB, input notifications.NotifyInput) error
}

type adminDirectory interface {
	AdminIDs(ctx context.Context) ([]uuid.UUID, error)
}

type cartStager interface {
	Checkout(ctx context.Context, customerID uuid.UUID) (*cart.Draft, error)
	Clear(ctx context.Context, tx *gorm.DB, customerID uuid.UUID) error
}

// Service materializes orders. Every order starts life awaiting admin
// approval, whether it came from the cart or an ad-hoc item list.
type Service interface {
	PlaceOrder(ctx context.Context, input PlaceOrderInput) (*models.Order, error)
}

type service struct {
	repo     orders.Repository
	tx       txRunner
	cart     cartStager
	products products.Repository
	notifier notifier
	admins   adminDirectory
	outbox   outboxPublisher
}

// ItemInput is one ad-hoc order line for customers skipping the cart.
type ItemInput struct {
	ProductID uuid.UUID
	Quantity  int
	Variant   string
}

// PlaceOrderInput creates an order from the customer's cart or from Items.
type PlaceOrderInput struct {
	CustomerID      uuid.UUID
	UseCart         bool
	Items           []ItemInput
	ShippingAddress types.Address
}

// NewService wires checkout dependencies.
func NewService(
	repo orders.Repository,
	tx txRunner,
	cartSvc cartStager,
	productRepo products.Repository,
	notify notifier,
	admins adminDirectory,
	outboxSvc outboxPublisher,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if cartSvc == nil {
		return nil, fmt.Errorf("cart service required")
	}
	if productRepo == nil {
		return nil, fmt.Errorf("product repository required")
	}
	if notify == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if admins == nil {
		return nil, fmt.Errorf("admin directory required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{
		repo:     repo,
		tx:       tx,
		cart:     cartSvc,
		products: productRepo,
		notifier: notify,
		admins:   admins,
		outbox:   outboxSvc,
	}, nil
}

func (s *service) PlaceOrder(ctx context.Context, input PlaceOrderInput) (*models.Order, error) {
	if input.CustomerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}
	if !input.ShippingAddress.Complete() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping address is incomplete")
	}

	var draft *cart.Draft
	var err error
	if input.UseCart {
		draft, err = s.cart.Checkout(ctx, input.CustomerID)
	} else {
		draft, err = s.draftFromItems(ctx, input.CustomerID, input.Items)
	}
	if err != nil {
		return nil, err
	}
	if len(draft.Lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order requires at least one item")
	}

	now := time.Now().UTC()
	order := buildOrder(draft, input.ShippingAddress, now)

	txErr := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		if input.UseCart {
			if err := s.cart.Clear(ctx, tx, input.CustomerID); err != nil {
				return err
			}
		}

		admins, err := s.admins.AdminIDs(ctx)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve admins")
		}
		if err := s.notifier.Notify(ctx, tx, notifications.NotifyInput{
			Recipients: admins,
			Type:       enums.NotificationTypeOrderPlaced,
			Title:      "New order awaiting approval",
			Body:       fmt.Sprintf("Order %s was placed and needs review", order.OrderNumber),
			OrderID:    &order.ID,
		}); err != nil {
			return err
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventOrderPlaced,
			AggregateType: "order",
			AggregateID:   order.ID,
			Version:       1,
			Actor:         &outbox.ActorRef{UserID: input.CustomerID, Role: string(enums.MemberRoleCustomer)},
			Data: orders.OrderEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				CustomerID:  order.CustomerID,
				Status:      enums.OrderStatusPendingAdminApproval,
			},
		})
	})
	if txErr != nil {
		return nil, txErr
	}
	return order, nil
}

// draftFromItems runs the same availability checks the cart checkout does,
// against an ad-hoc item list.
func (s *service) draftFromItems(ctx context.Context, customerID uuid.UUID, items []ItemInput) (*cart.Draft, error) {
	if len(items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order requires at least one item")
	}

	draft := &cart.Draft{CustomerID: customerID, Subtotal: decimal.Zero}
	var unavailable []map[string]any
	for _, item := range items {
		if item.ProductID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
		}
		if item.Quantity < 1 || item.Quantity > cart.MaxLineQuantity {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be between 1 and 10")
		}

		product, err := s.products.FindByID(ctx, item.ProductID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			unavailable = append(unavailable, map[string]any{
				"product_id": item.ProductID,
				"reason":     "product no longer exists",
			})
			continue
		}
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
		}
		switch {
		case product.Status != enums.ProductStatusActive:
			unavailable = append(unavailable, map[string]any{
				"product_id": product.ID,
				"reason":     "product is not available",
			})
			continue
		case item.Quantity > product.StockQty:
			unavailable = append(unavailable, map[string]any{
				"product_id": product.ID,
				"reason":     "insufficient stock",
			})
			continue
		}

		lineTotal := product.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
		draft.Lines = append(draft.Lines, cart.DraftLine{
			ProductID:         product.ID,
			VendorID:          product.VendorID,
			ProductName:       product.Name,
			Category:          product.Category,
			Variant:           item.Variant,
			Quantity:          item.Quantity,
			UnitPrice:         product.Price,
			LineTotal:         lineTotal,
			ServiceChargeRate: product.ServiceChargeRate,
		})
		draft.Subtotal = draft.Subtotal.Add(lineTotal)
		draft.ItemCount += item.Quantity
	}

	if len(unavailable) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "items are unavailable").
			WithDetails(map[string]any{"unavailable": unavailable})
	}
	return draft, nil
}

// buildOrder snapshots the draft into the order aggregate. The per-line
// category rate drives the order's service charge; the flat cart rate is
// only an estimate shown before this point.
func buildOrder(draft *cart.Draft, address types.Address, now time.Time) *models.Order {
	orderID := uuid.New()
	serviceCharge := decimal.Zero
	items := make([]models.OrderItem, 0, len(draft.Lines))
	for _, line := range draft.Lines {
		serviceCharge = serviceCharge.Add(pricing.LineServiceCharge(line.LineTotal, line.ServiceChargeRate))
		items = append(items, models.OrderItem{
			ID:                uuid.New(),
			ProductID:         line.ProductID,
			VendorID:          line.VendorID,
			Name:              line.ProductName,
			Category:          line.Category,
			UnitPrice:         line.UnitPrice,
			Quantity:          line.Quantity,
			LineTotal:         line.LineTotal,
			ServiceChargeRate: line.ServiceChargeRate,
			Status:            enums.OrderItemStatusPending,
		})
	}

	tax := pricing.Tax(draft.Subtotal)
	shipping := pricing.ShippingFee(draft.Subtotal)
	// No promotion mechanism sets a discount yet; the column keeps the total
	// formula literal.
	discount := decimal.Zero
	total := draft.Subtotal.Add(tax).Add(shipping).Add(serviceCharge).Sub(discount)

	return &models.Order{
		ID:              orderID,
		OrderNumber:     generateOrderNumber(now),
		CustomerID:      draft.CustomerID,
		Status:          enums.OrderStatusPendingAdminApproval,
		AdminApproval:   enums.AdminApprovalStatusPending,
		Subtotal:        draft.Subtotal,
		Tax:             tax,
		ShippingFee:     shipping,
		ServiceCharge:   serviceCharge,
		Discount:        discount,
		Total:           total,
		ShippingAddress: address,
		Items:           items,
		Payment: &models.Payment{
			Amount: total,
			Status: enums.PaymentStatusPending,
		},
	}
}

func generateOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:8]
	return fmt.Sprintf("ORD-%s-%s", now.Format("20060102"), suffix)
}

package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/bazarika/bazarika-backend/internal/inventory"
	"github.com/bazarika/bazarika-backend/internal/notifications"
	"github.com/bazarika/bazarika-backend/pkg/db/models"
	dbtypes "github.com/bazarika/bazarika-backend/pkg/db/types"
	"github.com/bazarika/bazarika-backend/pkg/enums"
	pkgerrors "github.com/bazarika/bazarika-backend/pkg/errors"
	"github.com/bazarika/bazarika-backend/pkg/outbox"
	"github.com/bazarika/bazarika-backend/pkg/pagination"
	"github.com/bazarika/bazarika-backend/pkg/sslcommerz"
)

const aggregateOrder = "order"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type notifier interface {
	Notify(ctx context.Context, tx *gorm.DB, input notifications.NotifyInput) error
}

// recipientDirectory resolves who gets notified. Admin membership is a
// directory lookup, never workflow state.
type recipientDirectory interface {
	AdminIDs(ctx context.Context) ([]uuid.UUID, error)
	VendorUserIDs(ctx context.Context, vendorID uuid.UUID) ([]uuid.UUID, error)
}

type refundGateway interface {
	InitiateRefund(ctx context.Context, req sslcommerz.RefundRequest) (*sslcommerz.RefundResponse, error)
}

// Actor is the authenticated caller a transition is evaluated against.
type Actor struct {
	UserID   uuid.UUID
	Role     enums.MemberRole
	VendorID *uuid.UUID
}

// Service drives the order state machine. Order-level status is derived from
// the sub-states inside the same transaction that mutates them.
type Service interface {
	Get(ctx context.Context, actor Actor, orderID uuid.UUID) (*models.Order, error)
	List(ctx context.Context, actor Actor, params ListParams) (*ListResult, error)
	Approve(ctx context.Context, actor Actor, orderID uuid.UUID) error
	Reject(ctx context.Context, actor Actor, orderID uuid.UUID, reason string) error
	VendorConfirm(ctx context.Context, actor Actor, orderID uuid.UUID) error
	VendorReject(ctx context.Context, actor Actor, orderID uuid.UUID, reason string) error
	AdvanceItem(ctx context.Context, actor Actor, orderID, itemID uuid.UUID, target enums.OrderItemStatus) error
	Cancel(ctx context.Context, actor Actor, orderID uuid.UUID, reason string) error
	Refund(ctx context.Context, actor Actor, orderID uuid.UUID, amount *decimal.Decimal, remarks string) error
}

type service struct {
	repo      Repository
	tx        txRunner
	inventory inventory.Service
	notifier  notifier
	directory recipientDirectory
	outbox    outboxPublisher
	gateway   refundGateway
}

// ListParams scopes an order listing to the caller.
type ListParams struct {
	Status *enums.OrderStatus
	Limit  int
	Cursor string
}

// ListResult wraps returned orders and the cursor for the next page.
type ListResult struct {
	Orders []models.Order `json:"orders"`
	Cursor string         `json:"cursor"`
}

// OrderEvent is the payload for order lifecycle outbox events.
type OrderEvent struct {
	OrderID     uuid.UUID         `json:"order_id"`
	OrderNumber string            `json:"order_number"`
	CustomerID  uuid.UUID         `json:"customer_id"`
	Status      enums.OrderStatus `json:"status"`
}

// VendorDecisionEvent is emitted when a vendor answers their assignment.
type VendorDecisionEvent struct {
	OrderID     uuid.UUID              `json:"order_id"`
	OrderNumber string                 `json:"order_number"`
	VendorID    uuid.UUID              `json:"vendor_id"`
	Decision    enums.AssignmentStatus `json:"decision"`
	Reason      *string                `json:"reason,omitempty"`
}

// NewService wires the workflow engine's dependencies.
func NewService(
	repo Repository,
	tx txRunner,
	inv inventory.Service,
	notify notifier,
	directory recipientDirectory,
	outboxSvc outboxPublisher,
	gateway refundGateway,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if inv == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	if notify == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if directory == nil {
		return nil, fmt.Errorf("recipient directory required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("refund gateway required")
	}
	return &service{
		repo:      repo,
		tx:        tx,
		inventory: inv,
		notifier:  notify,
		directory: directory,
		outbox:    outboxSvc,
		gateway:   gateway,
	}, nil
}

func (s *service) Get(ctx context.Context, actor Actor, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if err := authorizeRead(actor, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *service) List(ctx context.Context, actor Actor, params ListParams) (*ListResult, error) {
	query := ListOrdersParams{
		Status: params.Status,
		Limit:  params.Limit,
	}
	switch actor.Role {
	case enums.MemberRoleAdmin:
	case enums.MemberRoleVendor:
		if actor.VendorID == nil {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "vendor context missing")
		}
		query.VendorID = actor.VendorID
	default:
		customerID := actor.UserID
		query.CustomerID = &customerID
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	orders, next, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}

	cursor := ""
	if next != nil {
		cursor = pagination.EncodeCursor(*next)
	}
	return &ListResult{Orders: orders, Cursor: cursor}, nil
}

func (s *service) Approve(ctx context.Context, actor Actor, orderID uuid.UUID) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := loadOrder(ctx, repo, orderID)
		if err != nil {
			return err
		}
		if order.AdminApproval != enums.AdminApprovalStatusPending {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order already decided")
		}

		now := time.Now().UTC()
		assignments := buildAssignments(order)
		if err := repo.CreateAssignments(ctx, assignments); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create vendor assignments")
		}
		if err := repo.UpdateColumns(ctx, order.ID, map[string]any{
			"admin_approval": enums.AdminApprovalStatusApproved,
			"approved_at":    now,
			"status":         enums.OrderStatusVendorAssigned,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order")
		}

		if err := s.notifier.Notify(ctx, tx, notifications.NotifyInput{
			Recipients: []uuid.UUID{order.CustomerID},
			Type:       enums.NotificationTypeOrderApproved,
			Title:      "Order approved",
			Body:       fmt.Sprintf("Order %s was approved and sent to vendors", order.OrderNumber),
			OrderID:    &order.ID,
		}); err != nil {
			return err
		}
		for _, assignment := range assignments {
			vendorUsers, err := s.directory.VendorUserIDs(ctx, assignment.VendorID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve vendor users")
			}
			if err := s.notifier.Notify(ctx, tx, notifications.NotifyInput{
				Recipients: vendorUsers,
				Type:       enums.NotificationTypeVendorAssigned,
				Title:      "New order assigned",
				Body:       fmt.Sprintf("Order %s has items awaiting your confirmation", order.OrderNumber),
				OrderID:    &order.ID,
			}); err != nil {
				return err
			}
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventOrderApproved,
			AggregateType: aggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Actor:         buildActor(actor),
			Data: OrderEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				CustomerID:  order.CustomerID,
				Status:      enums.OrderStatusVendorAssigned,
			},
		})
	})
}

func (s *service) Reject(ctx context.Context, actor Actor, orderID uuid.UUID, reason string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := loadOrder(ctx, repo, orderID)
		if err != nil {
			return err
		}
		if order.AdminApproval != enums.AdminApprovalStatusPending {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order already decided")
		}

		now := time.Now().UTC()
		if err := repo.UpdateColumns(ctx, order.ID, map[string]any{
			"admin_approval": enums.AdminApprovalStatusRejected,
			"status":         enums.OrderStatusCancelled,
			"reject_reason":  nullableReason(reason),
			"cancelled_at":   now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order")
		}
		itemIDs := collectItemIDs(order.Items, nil)
		if err := repo.UpdateItemsStatus(ctx, itemIDs, enums.OrderItemStatusCancelled); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order items")
		}

		if err := s.notifier.Notify(ctx, tx, notifications.NotifyInput{
			Recipients: []uuid.UUID{order.CustomerID},
			Type:       enums.NotificationTypeOrderRejected,
			Title:      "Order rejected",
			Body:       fmt.Sprintf("Order %s was rejected by the marketplace", order.OrderNumber),
			OrderID:    &order.ID,
		}); err != nil {
			return err
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventOrderRejected,
			AggregateType: aggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Actor:         buildActor(actor),
			Data: OrderEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				CustomerID:  order.CustomerID,
				Status:      enums.OrderStatusCancelled,
			},
		})
	})
}

func (s *service) VendorConfirm(ctx context.Context, actor Actor, orderID uuid.UUID) error {
	vendorID, err := requireVendor(actor)
	if err != nil {
		return err
	}
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := loadOrder(ctx, repo, orderID)
		if err != nil {
			return err
		}
		if order.Status != enums.OrderStatusVendorAssigned {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not awaiting vendor confirmation")
		}

		assignment, err := repo.FindAssignment(ctx, order.ID, vendorID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load assignment")
		}
		if assignment == nil {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to vendor")
		}
		if assignment.Status != enums.AssignmentStatusPending {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "assignment already decided")
		}

		now := time.Now().UTC()
		affected, err := repo.RespondAssignment(ctx, assignment.ID, enums.AssignmentStatusConfirmed, nil, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "confirm assignment")
		}
		if affected == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "assignment already decided")
		}
		if err := repo.UpdateItemsStatus(ctx, []uuid.UUID(assignment.ItemIDs), enums.OrderItemStatusConfirmed); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "confirm order items")
		}

		// Membership is re-read inside this transaction so a racing second
		// vendor cannot flip the order against a stale snapshot.
		assignments, err := repo.ListAssignments(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload assignments")
		}
		allConfirmed := true
		for _, candidate := range assignments {
			if candidate.Status != enums.AssignmentStatusConfirmed {
				allConfirmed = false
				break
			}
		}
		if !allConfirmed {
			return nil
		}

		if err := repo.UpdateColumns(ctx, order.ID, map[string]any{
			"status": enums.OrderStatusVendorConfirmed,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order")
		}
		if err := s.notifier.Notify(ctx, tx, notifications.NotifyInput{
			Recipients: []uuid.UUID{order.CustomerID},
			Type:       enums.NotificationTypeVendorConfirmed,
			Title:      "Order confirmed",
			Body:       fmt.Sprintf("All vendors confirmed order %s, you can pay now", order.OrderNumber),
			OrderID:    &order.ID,
		}); err != nil {
			return err
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventVendorConfirmed,
			AggregateType: aggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Actor:         buildActor(actor),
			Data: VendorDecisionEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				VendorID:    vendorID,
				Decision:    enums.AssignmentStatusConfirmed,
			},
		})
	})
}

func (s *service) VendorReject(ctx context.Context, actor Actor, orderID uuid.UUID, reason string) error {
	vendorID, err := requireVendor(actor)
	if err != nil {
		return err
	}
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := loadOrder(ctx, repo, orderID)
		if err != nil {
			return err
		}
		if order.Status != enums.OrderStatusVendorAssigned {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not awaiting vendor confirmation")
		}

		assignment, err := repo.FindAssignment(ctx, order.ID, vendorID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load assignment")
		}
		if assignment == nil {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to vendor")
		}
		if assignment.Status != enums.AssignmentStatusPending {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "assignment already decided")
		}

		now := time.Now().UTC()
		rejectReason := nullableReason(reason)
		affected, err := repo.RespondAssignment(ctx, assignment.ID, enums.AssignmentStatusRejected, rejectReason, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reject assignment")
		}
		if affected == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "assignment already decided")
		}

		// A vendor rejection does not cancel the order. It stays in
		// vendor_assigned until an admin follows up.
		admins, err := s.directory.AdminIDs(ctx)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve admins")
		}
		recipients := append(admins, order.CustomerID)
		if err := s.notifier.Notify(ctx, tx, notifications.NotifyInput{
			Recipients: recipients,
			Type:       enums.NotificationTypeVendorRejected,
			Title:      "Vendor rejected order items",
			Body:       fmt.Sprintf("A vendor declined their items on order %s", order.OrderNumber),
			OrderID:    &order.ID,
		}); err != nil {
			return err
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventVendorRejected,
			AggregateType: aggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Actor:         buildActor(actor),
			Data: VendorDecisionEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				VendorID:    vendorID,
				Decision:    enums.AssignmentStatusRejected,
				Reason:      rejectReason,
			},
		})
	})
}

func (s *service) AdvanceItem(ctx context.Context, actor Actor, orderID, itemID uuid.UUID, target enums.OrderItemStatus) error {
	if orderID == uuid.Nil || itemID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id and item id required")
	}
	if !target.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid item status")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := loadOrder(ctx, repo, orderID)
		if err != nil {
			return err
		}

		var item *models.OrderItem
		for i := range order.Items {
			if order.Items[i].ID == itemID {
				item = &order.Items[i]
				break
			}
		}
		if item == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order item not found")
		}

		switch actor.Role {
		case enums.MemberRoleAdmin:
		case enums.MemberRoleVendor:
			if actor.VendorID == nil || *actor.VendorID != item.VendorID {
				return pkgerrors.New(pkgerrors.CodeForbidden, "item does not belong to vendor")
			}
		default:
			return pkgerrors.New(pkgerrors.CodeForbidden, "only vendors or admins advance items")
		}

		if order.Payment == nil ||
			(order.Payment.Status != enums.PaymentStatusPaid && order.Payment.Status != enums.PaymentStatusPartialRefund) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "fulfillment starts after payment")
		}
		if next := item.Status.Next(); next == "" || next != target {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "illegal item status transition").
				WithDetails(map[string]any{"from": item.Status, "to": target})
		}

		affected, err := repo.AdvanceItemStatus(ctx, item.ID, item.Status, target)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "advance item status")
		}
		if affected == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "item status changed concurrently")
		}

		item.Status = target
		derived := deriveStatus(order)
		if derived != order.Status {
			updates := map[string]any{"status": derived}
			if derived == enums.OrderStatusDelivered {
				updates["delivered_at"] = time.Now().UTC()
			}
			if err := repo.UpdateColumns(ctx, order.ID, updates); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
			}
		}

		if err := s.notifier.Notify(ctx, tx, notifications.NotifyInput{
			Recipients: []uuid.UUID{order.CustomerID},
			Type:       enums.NotificationTypeItemStatus,
			Title:      "Order update",
			Body:       fmt.Sprintf("An item on order %s is now %s", order.OrderNumber, target),
			OrderID:    &order.ID,
		}); err != nil {
			return err
		}

		if derived == enums.OrderStatusDelivered {
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.OutboxEventOrderDelivered,
				AggregateType: aggregateOrder,
				AggregateID:   order.ID,
				Version:       1,
				Actor:         buildActor(actor),
				Data: OrderEvent{
					OrderID:     order.ID,
					OrderNumber: order.OrderNumber,
					CustomerID:  order.CustomerID,
					Status:      derived,
				},
			})
		}
		return nil
	})
}

func (s *service) Cancel(ctx context.Context, actor Actor, orderID uuid.UUID, reason string) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := loadOrder(ctx, repo, orderID)
		if err != nil {
			return err
		}
		switch actor.Role {
		case enums.MemberRoleAdmin:
		case enums.MemberRoleCustomer:
			if order.CustomerID != actor.UserID {
				return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to customer")
			}
		default:
			return pkgerrors.New(pkgerrors.CodeForbidden, "vendors cannot cancel orders")
		}

		switch order.Status {
		case enums.OrderStatusShipped, enums.OrderStatusDelivered,
			enums.OrderStatusCancelled, enums.OrderStatusRefunded:
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order can no longer be cancelled").
				WithDetails(map[string]any{"status": order.Status})
		}

		var cancelIDs []uuid.UUID
		var releaseLines []inventory.Line
		var releaseIDs []uuid.UUID
		for _, item := range order.Items {
			switch item.Status {
			case enums.OrderItemStatusShipped, enums.OrderItemStatusDelivered, enums.OrderItemStatusCancelled:
				continue
			}
			cancelIDs = append(cancelIDs, item.ID)
			if item.StockCommittedAt != nil {
				releaseLines = append(releaseLines, inventory.Line{
					ItemID:    item.ID,
					ProductID: item.ProductID,
					Quantity:  item.Quantity,
					LineTotal: item.LineTotal,
				})
				releaseIDs = append(releaseIDs, item.ID)
			}
		}

		if err := repo.UpdateItemsStatus(ctx, cancelIDs, enums.OrderItemStatusCancelled); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order items")
		}
		// Stock moves back only for lines that were actually committed; an
		// order cancelled before payment never held stock.
		if len(releaseLines) > 0 {
			if err := s.inventory.Release(ctx, tx, releaseLines); err != nil {
				return err
			}
			if err := repo.ClearItemsStockCommitted(ctx, releaseIDs); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear stock markers")
			}
		}

		now := time.Now().UTC()
		if err := repo.UpdateColumns(ctx, order.ID, map[string]any{
			"status":        enums.OrderStatusCancelled,
			"cancel_reason": nullableReason(reason),
			"cancelled_at":  now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order")
		}

		recipients := []uuid.UUID{order.CustomerID}
		for _, assignment := range order.Assignments {
			vendorUsers, err := s.directory.VendorUserIDs(ctx, assignment.VendorID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve vendor users")
			}
			recipients = append(recipients, vendorUsers...)
		}
		if err := s.notifier.Notify(ctx, tx, notifications.NotifyInput{
			Recipients: recipients,
			Type:       enums.NotificationTypeOrderCancelled,
			Title:      "Order cancelled",
			Body:       fmt.Sprintf("Order %s was cancelled", order.OrderNumber),
			OrderID:    &order.ID,
		}); err != nil {
			return err
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventOrderCancelled,
			AggregateType: aggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Actor:         buildActor(actor),
			Data: OrderEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				CustomerID:  order.CustomerID,
				Status:      enums.OrderStatusCancelled,
			},
		})
	})
}

func (s *service) Refund(ctx context.Context, actor Actor, orderID uuid.UUID, amount *decimal.Decimal, remarks string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	payment := order.Payment
	if payment == nil ||
		(payment.Status != enums.PaymentStatusPaid && payment.Status != enums.PaymentStatusPartialRefund) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "payment is not refundable")
	}
	if payment.BankTranID == nil {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "no bank transaction recorded for payment")
	}

	remaining := payment.Amount.Sub(payment.RefundedAmount)
	refundAmount := remaining
	if amount != nil {
		refundAmount = *amount
	}
	if !refundAmount.IsPositive() || refundAmount.GreaterThan(remaining) {
		return pkgerrors.New(pkgerrors.CodeValidation, "refund amount out of range").
			WithDetails(map[string]any{"remaining": remaining})
	}
	fullRefund := refundAmount.Equal(remaining)

	// Claim the refund before any money moves so two concurrent admins
	// cannot both reach the gateway. The claim stays set if recording the
	// refund fails after the gateway accepted it, parking the payment for
	// manual reconciliation instead of allowing a second initiation.
	claimed, err := s.repo.ClaimRefundInFlight(ctx, order.ID, time.Now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim refund")
	}
	if claimed == 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "a refund for this payment is already in flight")
	}

	if _, err := s.gateway.InitiateRefund(ctx, sslcommerz.RefundRequest{
		BankTranID: *payment.BankTranID,
		Amount:     refundAmount,
		Remarks:    remarks,
	}); err != nil {
		// Nothing moved; release the claim so the admin can retry.
		if relErr := s.repo.UpdatePaymentColumns(ctx, order.ID, map[string]any{"refund_initiated_at": nil}); relErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, relErr, "release refund claim")
		}
		return err
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		now := time.Now().UTC()
		target := enums.PaymentStatusPartialRefund
		if fullRefund {
			target = enums.PaymentStatusRefunded
		}
		affected, err := repo.CasPaymentStatus(ctx, order.ID, payment.Status, target, map[string]any{
			"refunded_amount":     payment.RefundedAmount.Add(refundAmount),
			"refunded_at":         now,
			"refund_initiated_at": nil,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment")
		}
		if affected == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "payment changed concurrently")
		}

		if fullRefund {
			var releaseLines []inventory.Line
			var releaseIDs []uuid.UUID
			for _, item := range order.Items {
				if item.StockCommittedAt == nil {
					continue
				}
				releaseLines = append(releaseLines, inventory.Line{
					ItemID:    item.ID,
					ProductID: item.ProductID,
					Quantity:  item.Quantity,
					LineTotal: item.LineTotal,
				})
				releaseIDs = append(releaseIDs, item.ID)
			}
			if len(releaseLines) > 0 {
				if err := s.inventory.Release(ctx, tx, releaseLines); err != nil {
					return err
				}
				if err := repo.ClearItemsStockCommitted(ctx, releaseIDs); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear stock markers")
				}
			}
			if err := repo.UpdateColumns(ctx, order.ID, map[string]any{
				"status": enums.OrderStatusRefunded,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order")
			}
		}

		if err := s.notifier.Notify(ctx, tx, notifications.NotifyInput{
			Recipients: []uuid.UUID{order.CustomerID},
			Type:       enums.NotificationTypeOrderRefunded,
			Title:      "Refund issued",
			Body:       fmt.Sprintf("A refund of %s was issued for order %s", refundAmount.StringFixed(2), order.OrderNumber),
			OrderID:    &order.ID,
		}); err != nil {
			return err
		}

		if !fullRefund {
			return nil
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventOrderRefunded,
			AggregateType: aggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Actor:         buildActor(actor),
			Data: OrderEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				CustomerID:  order.CustomerID,
				Status:      enums.OrderStatusRefunded,
			},
		})
	})
}

func loadOrder(ctx context.Context, repo Repository, orderID uuid.UUID) (*models.Order, error) {
	order, err := repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

func authorizeRead(actor Actor, order *models.Order) error {
	switch actor.Role {
	case enums.MemberRoleAdmin:
		return nil
	case enums.MemberRoleVendor:
		if actor.VendorID != nil {
			for _, assignment := range order.Assignments {
				if assignment.VendorID == *actor.VendorID {
					return nil
				}
			}
		}
		return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to vendor")
	default:
		if order.CustomerID == actor.UserID {
			return nil
		}
		return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to customer")
	}
}

func requireAdmin(actor Actor) error {
	if actor.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if actor.Role != enums.MemberRoleAdmin {
		return pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	return nil
}

func requireVendor(actor Actor) (uuid.UUID, error) {
	if actor.UserID == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if actor.Role != enums.MemberRoleVendor || actor.VendorID == nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeForbidden, "vendor context missing")
	}
	return *actor.VendorID, nil
}

// buildAssignments groups an order's items by vendor, one assignment per
// distinct vendor, preserving the order vendors first appear in.
func buildAssignments(order *models.Order) []models.VendorAssignment {
	itemsByVendor := make(map[uuid.UUID][]uuid.UUID)
	var vendors []uuid.UUID
	for _, item := range order.Items {
		if _, seen := itemsByVendor[item.VendorID]; !seen {
			vendors = append(vendors, item.VendorID)
		}
		itemsByVendor[item.VendorID] = append(itemsByVendor[item.VendorID], item.ID)
	}

	assignments := make([]models.VendorAssignment, 0, len(vendors))
	for _, vendorID := range vendors {
		assignments = append(assignments, models.VendorAssignment{
			ID:       uuid.New(),
			OrderID:  order.ID,
			VendorID: vendorID,
			ItemIDs:  dbtypes.UUIDArray(itemsByVendor[vendorID]),
			Status:   enums.AssignmentStatusPending,
		})
	}
	return assignments
}

func collectItemIDs(items []models.OrderItem, skip map[enums.OrderItemStatus]struct{}) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		if skip != nil {
			if _, skipped := skip[item.Status]; skipped {
				continue
			}
		}
		ids = append(ids, item.ID)
	}
	return ids
}

func nullableReason(reason string) *string {
	if reason == "" {
		return nil
	}
	return &reason
}

func buildActor(actor Actor) *outbox.ActorRef {
	return &outbox.ActorRef{
		UserID:   actor.UserID,
		VendorID: actor.VendorID,
		Role:     string(actor.Role),
	}
}

package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/bazarika/bazarika-backend/internal/inventory"
	"github.com/bazarika/bazarika-backend/internal/notifications"
	"github.com/bazarika/bazarika-backend/internal/orders"
	"github.com/bazarika/bazarika-backend/internal/payouts"
	"github.com/bazarika/bazarika-backend/pkg/db/models"
	"github.com/bazarika/bazarika-backend/pkg/enums"
	pkgerrors "github.com/bazarika/bazarika-backend/pkg/errors"
	"github.com/bazarika/bazarika-backend/pkg/metrics"
	"github.com/bazarika/bazarika-backend/pkg/outbox"
	"github.com/bazarika/bazarika-backend/pkg/sslcommerz"
)

// Reconciliation entry points. The same payment can be reported by all three.
const (
	SourceRedirect = "redirect"
	SourceIPN      = "ipn"
	SourceAdmin    = "admin"
)

type validationGateway interface {
	ValidateTransaction(ctx context.Context, valID string) (*sslcommerz.ValidationResponse, error)
}

type outboxPublisher interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type notifier interface {
	Notify(ctx context.Context, tx *gorm.DB, input notifications.NotifyInput) error
}

type vendorDirectory interface {
	VendorUserIDs(ctx context.Context, vendorID uuid.UUID) ([]uuid.UUID, error)
}

type cartClearer interface {
	Clear(ctx context.Context, tx *gorm.DB, customerID uuid.UUID) error
}

// Reconciler converges the redirect callback, the IPN webhook and the admin
// status check onto one applied payment per (order number, transaction id).
type Reconciler interface {
	ApplySuccess(ctx context.Context, input ApplySuccessInput) (*ReconcileResult, error)
	ApplyFailure(ctx context.Context, input ApplyFailureInput) (*ReconcileResult, error)
}

type reconciler struct {
	repo      orders.Repository
	tx        txRunner
	db        *gorm.DB
	inventory inventory.Service
	payouts   payouts.Repository
	cart      cartClearer
	notifier  notifier
	directory vendorDirectory
	outbox    outboxPublisher
	gateway   validationGateway
	metrics   *metrics.PaymentMetrics
}

// ApplySuccessInput reports a settled transaction from one entry point.
type ApplySuccessInput struct {
	OrderNumber   string
	TransactionID string
	ValidationID  string
	Source        string
}

// ApplyFailureInput reports a failed or customer-cancelled transaction.
type ApplyFailureInput struct {
	OrderNumber   string
	TransactionID string
	Reason        string
	Source        string
}

// ReconcileResult reports whether this call applied the payment or found it
// already applied. Both outcomes are success for the caller.
type ReconcileResult struct {
	Applied       bool                `json:"applied"`
	OrderNumber   string              `json:"orderNumber"`
	PaymentStatus enums.PaymentStatus `json:"paymentStatus"`
}

// NewReconciler wires reconciliation dependencies. db is the non-transactional
// handle the inventory commit runs on after the payment flip is durable.
func NewReconciler(
	repo orders.Repository,
	tx txRunner,
	db *gorm.DB,
	inv inventory.Service,
	payoutRepo payouts.Repository,
	cartSvc cartClearer,
	notify notifier,
	directory vendorDirectory,
	outboxSvc outboxPublisher,
	gateway validationGateway,
	m *metrics.PaymentMetrics,
) (Reconciler, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if db == nil {
		return nil, fmt.Errorf("database handle required")
	}
	if inv == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	if payoutRepo == nil {
		return nil, fmt.Errorf("payout repository required")
	}
	if cartSvc == nil {
		return nil, fmt.Errorf("cart service required")
	}
	if notify == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if directory == nil {
		return nil, fmt.Errorf("vendor directory required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("validation gateway required")
	}
	return &reconciler{
		repo:      repo,
		tx:        tx,
		db:        db,
		inventory: inv,
		payouts:   payoutRepo,
		cart:      cartSvc,
		notifier:  notify,
		directory: directory,
		outbox:    outboxSvc,
		gateway:   gateway,
		metrics:   m,
	}, nil
}

func (r *reconciler) ApplySuccess(ctx context.Context, input ApplySuccessInput) (*ReconcileResult, error) {
	if input.OrderNumber == "" || input.TransactionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order number and transaction id required")
	}

	order, err := r.loadOrder(ctx, input.OrderNumber)
	if err != nil {
		return nil, err
	}
	payment := order.Payment
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no payment record")
	}

	if done, result, err := r.checkAlreadyApplied(payment, input); done {
		if result != nil && err == nil {
			// A prior attempt may have flipped the payment and then died
			// before the stock commit. The per-line claim makes this re-run
			// a no-op for lines that already settled.
			if commitErr := r.commitStock(ctx, order, time.Now().UTC()); commitErr != nil {
				return result, commitErr
			}
		}
		return result, err
	}

	validation, err := r.validate(ctx, payment, input)
	if err != nil {
		r.metrics.IncFailed(input.Source)
		return nil, err
	}

	applied := false
	now := time.Now().UTC()
	txErr := r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := r.repo.WithTx(tx)

		// The compare-and-set on payment status is the sole serialization
		// point: whichever entry point lands first applies everything, the
		// rest observe paid and stop.
		affected, err := repo.CasPaymentStatus(ctx, order.ID, enums.PaymentStatusPending, enums.PaymentStatusPaid, map[string]any{
			"transaction_id": input.TransactionID,
			"validation_id":  validation.ValidationID,
			"bank_tran_id":   validation.BankTranID,
			"paid_at":        now,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply payment")
		}
		if affected == 0 {
			return nil
		}
		applied = true

		if err := repo.UpdateColumns(ctx, order.ID, map[string]any{
			"status": enums.OrderStatusPaid,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}

		settlement := payouts.Calculate(order.ID, order.Items)
		if err := r.payouts.WithTx(tx).CreateBatch(ctx, settlement); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store vendor payouts")
		}

		if err := r.cart.Clear(ctx, tx, order.CustomerID); err != nil {
			return err
		}

		if err := r.notifier.Notify(ctx, tx, notifications.NotifyInput{
			Recipients: []uuid.UUID{order.CustomerID},
			Type:       enums.NotificationTypePaymentReceived,
			Title:      "Payment received",
			Body:       fmt.Sprintf("Payment for order %s was received", order.OrderNumber),
			OrderID:    &order.ID,
		}); err != nil {
			return err
		}
		for _, payout := range settlement {
			vendorUsers, err := r.directory.VendorUserIDs(ctx, payout.VendorID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve vendor users")
			}
			if err := r.notifier.Notify(ctx, tx, notifications.NotifyInput{
				Recipients: vendorUsers,
				Type:       enums.NotificationTypePayoutRecorded,
				Title:      "Payout recorded",
				Body:       fmt.Sprintf("Order %s was paid, your payout of %s is recorded", order.OrderNumber, payout.NetAmount.StringFixed(2)),
				OrderID:    &order.ID,
			}); err != nil {
				return err
			}
		}

		if err := r.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventOrderPaid,
			AggregateType: "order",
			AggregateID:   order.ID,
			Version:       1,
			Data: orders.OrderEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				CustomerID:  order.CustomerID,
				Status:      enums.OrderStatusPaid,
			},
		}); err != nil {
			return err
		}
		return r.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventPayoutRecorded,
			AggregateType: "order",
			AggregateID:   order.ID,
			Version:       1,
			Data:          settlement,
		})
	})
	if txErr != nil {
		r.metrics.IncFailed(input.Source)
		return nil, txErr
	}

	if !applied {
		// Lost the race: another entry point applied it in between. Confirm
		// and report duplicate success.
		return r.confirmDuplicate(ctx, input)
	}

	r.metrics.IncApplied(input.Source)

	// Stock commits outside the payment transaction on purpose: each line is
	// an independent conditional decrement and lines committed before a
	// conflict must stay committed.
	commitErr := r.commitStock(ctx, order, now)

	result := &ReconcileResult{
		Applied:       true,
		OrderNumber:   order.OrderNumber,
		PaymentStatus: enums.PaymentStatusPaid,
	}
	if commitErr != nil {
		return result, commitErr
	}
	return result, nil
}

func (r *reconciler) ApplyFailure(ctx context.Context, input ApplyFailureInput) (*ReconcileResult, error) {
	if input.OrderNumber == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order number required")
	}

	order, err := r.loadOrder(ctx, input.OrderNumber)
	if err != nil {
		return nil, err
	}
	payment := order.Payment
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no payment record")
	}

	switch payment.Status {
	case enums.PaymentStatusFailed:
		r.metrics.IncDuplicate(input.Source)
		return &ReconcileResult{OrderNumber: order.OrderNumber, PaymentStatus: enums.PaymentStatusFailed}, nil
	case enums.PaymentStatusPaid, enums.PaymentStatusRefunded, enums.PaymentStatusPartialRefund:
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "payment already applied")
	}

	// The fail and cancel callbacks are unauthenticated. An order that never
	// opened a gateway session has nothing to fail, so the callback cannot
	// cancel it out from under the approval flow.
	if payment.SessionKey == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment has no gateway session")
	}

	applied := false
	now := time.Now().UTC()
	txErr := r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := r.repo.WithTx(tx)
		values := map[string]any{
			"failure_reason": nullable(input.Reason),
		}
		if input.TransactionID != "" {
			values["transaction_id"] = input.TransactionID
		}
		affected, err := repo.CasPaymentStatus(ctx, order.ID, enums.PaymentStatusPending, enums.PaymentStatusFailed, values)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply payment failure")
		}
		if affected == 0 {
			return nil
		}
		applied = true

		var cancelIDs []uuid.UUID
		for _, item := range order.Items {
			if item.Status != enums.OrderItemStatusCancelled {
				cancelIDs = append(cancelIDs, item.ID)
			}
		}
		if err := repo.UpdateItemsStatus(ctx, cancelIDs, enums.OrderItemStatusCancelled); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order items")
		}
		// Stock was never committed pre-payment, so there is nothing to
		// release here.
		if err := repo.UpdateColumns(ctx, order.ID, map[string]any{
			"status":        enums.OrderStatusCancelled,
			"cancel_reason": nullable("payment " + failureWord(input.Reason)),
			"cancelled_at":  now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}

		if err := r.notifier.Notify(ctx, tx, notifications.NotifyInput{
			Recipients: []uuid.UUID{order.CustomerID},
			Type:       enums.NotificationTypePaymentFailed,
			Title:      "Payment failed",
			Body:       fmt.Sprintf("Payment for order %s did not complete", order.OrderNumber),
			OrderID:    &order.ID,
		}); err != nil {
			return err
		}

		return r.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventOrderCancelled,
			AggregateType: "order",
			AggregateID:   order.ID,
			Version:       1,
			Data: orders.OrderEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				CustomerID:  order.CustomerID,
				Status:      enums.OrderStatusCancelled,
			},
		})
	})
	if txErr != nil {
		r.metrics.IncFailed(input.Source)
		return nil, txErr
	}

	if applied {
		r.metrics.IncApplied(input.Source)
	} else {
		r.metrics.IncDuplicate(input.Source)
	}
	return &ReconcileResult{
		Applied:       applied,
		OrderNumber:   order.OrderNumber,
		PaymentStatus: enums.PaymentStatusFailed,
	}, nil
}

func (r *reconciler) loadOrder(ctx context.Context, orderNumber string) (*models.Order, error) {
	order, err := r.repo.FindByNumber(ctx, orderNumber)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

// checkAlreadyApplied short-circuits replays before any gateway round trip.
func (r *reconciler) checkAlreadyApplied(payment *models.Payment, input ApplySuccessInput) (bool, *ReconcileResult, error) {
	switch payment.Status {
	case enums.PaymentStatusPending:
		return false, nil, nil
	case enums.PaymentStatusPaid:
		if payment.TransactionID != nil && *payment.TransactionID == input.TransactionID {
			r.metrics.IncDuplicate(input.Source)
			return true, &ReconcileResult{
				OrderNumber:   input.OrderNumber,
				PaymentStatus: enums.PaymentStatusPaid,
			}, nil
		}
		return true, nil, pkgerrors.New(pkgerrors.CodeConflict, "payment already applied with a different transaction").
			WithDetails(map[string]any{"transaction_id": input.TransactionID})
	default:
		return true, nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment is not pending").
			WithDetails(map[string]any{"status": payment.Status})
	}
}

// validate confirms settlement with the gateway. The admin status check has
// no fresh validation id and reuses the one stored by an earlier callback.
func (r *reconciler) validate(ctx context.Context, payment *models.Payment, input ApplySuccessInput) (*sslcommerz.ValidationResponse, error) {
	valID := input.ValidationID
	if valID == "" && payment.ValidationID != nil {
		valID = *payment.ValidationID
	}
	if valID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "transaction has no validation reference yet")
	}

	validation, err := r.gateway.ValidateTransaction(ctx, valID)
	if err != nil {
		return nil, err
	}
	if !validation.Settled() {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "transaction is not settled").
			WithDetails(map[string]any{"status": validation.Status})
	}
	if validation.TransactionID != input.TransactionID {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "transaction id mismatch")
	}
	if validation.Amount != "" {
		amount, err := decimal.NewFromString(validation.Amount)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "parse validated amount")
		}
		if !amount.Equal(payment.Amount) {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "validated amount mismatch").
				WithDetails(map[string]any{"expected": payment.Amount, "validated": amount})
		}
	}
	return validation, nil
}

func (r *reconciler) confirmDuplicate(ctx context.Context, input ApplySuccessInput) (*ReconcileResult, error) {
	order, err := r.loadOrder(ctx, input.OrderNumber)
	if err != nil {
		return nil, err
	}
	if order.Payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no payment record")
	}
	done, result, err := r.checkAlreadyApplied(order.Payment, input)
	if !done {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment state changed concurrently")
	}
	if result != nil && err == nil {
		if commitErr := r.commitStock(ctx, order, time.Now().UTC()); commitErr != nil {
			return result, commitErr
		}
	}
	return result, err
}

// commitStock settles each uncommitted line in its own short transaction:
// claim the item's marker, then decrement stock. The conditional claim means
// replays and racing entry points move stock at most once per line, and a
// crash between the two rolls the claim back. An underflow stops the batch;
// lines settled before it stay settled.
func (r *reconciler) commitStock(ctx context.Context, order *models.Order, now time.Time) error {
	for _, item := range order.Items {
		if item.Status == enums.OrderItemStatusCancelled || item.StockCommittedAt != nil {
			continue
		}
		line := inventory.Line{
			ItemID:    item.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal,
		}
		err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			claimed, err := r.repo.WithTx(tx).ClaimItemStockCommit(ctx, item.ID, now)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim stock commit")
			}
			if claimed == 0 {
				return nil
			}
			_, err = r.inventory.Commit(ctx, tx, []inventory.Line{line})
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func nullable(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func failureWord(reason string) string {
	if reason == "cancelled" {
		return "cancelled"
	}
	return "failed"
}

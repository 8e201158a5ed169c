package payments

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/bazarika/bazarika-backend/internal/orders"
	"github.com/bazarika/bazarika-backend/pkg/enums"
	pkgerrors "github.com/bazarika/bazarika-backend/pkg/errors"
	"github.com/bazarika/bazarika-backend/pkg/sslcommerz"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type sessionGateway interface {
	CreateSession(ctx context.Context, req sslcommerz.SessionRequest) (*sslcommerz.SessionResponse, error)
}

// Service starts hosted checkout sessions and answers read-only status
// queries. Gateway callbacks are handled by the Reconciler, not here.
type Service interface {
	StartPayment(ctx context.Context, customerID, orderID uuid.UUID) (*StartPaymentResult, error)
	Status(ctx context.Context, orderNumber string) (*StatusResult, error)
}

type service struct {
	repo    orders.Repository
	tx      txRunner
	gateway sessionGateway
}

// StartPaymentResult carries the hosted page the customer is redirected to.
type StartPaymentResult struct {
	OrderNumber    string          `json:"orderNumber"`
	Amount         decimal.Decimal `json:"amount"`
	SessionKey     string          `json:"sessionKey"`
	GatewayPageURL string          `json:"gatewayPageUrl"`
}

// StatusResult is the read-only payment/order view for an order number.
type StatusResult struct {
	OrderNumber   string              `json:"orderNumber"`
	OrderStatus   enums.OrderStatus   `json:"orderStatus"`
	PaymentStatus enums.PaymentStatus `json:"paymentStatus"`
	Amount        decimal.Decimal     `json:"amount"`
	TransactionID *string             `json:"transactionId,omitempty"`
}

// NewService wires payment session dependencies.
func NewService(repo orders.Repository, tx txRunner, gateway sessionGateway) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	return &service{repo: repo, tx: tx, gateway: gateway}, nil
}

// StartPayment moves a fully confirmed order into payment_pending and opens a
// gateway session. A gateway failure changes nothing: the order stays
// vendor_confirmed and the customer can retry.
func (s *service) StartPayment(ctx context.Context, customerID, orderID uuid.UUID) (*StartPaymentResult, error) {
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
	if order.CustomerID != customerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to customer")
	}
	if order.Status != enums.OrderStatusVendorConfirmed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not ready for payment").
			WithDetails(map[string]any{"status": order.Status})
	}
	if order.Payment == nil || order.Payment.Status != enums.PaymentStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment already processed")
	}

	session, err := s.gateway.CreateSession(ctx, sslcommerz.SessionRequest{
		TransactionID: order.OrderNumber,
		Amount:        order.Total,
		CustomerName:  order.ShippingAddress.Name,
		CustomerPhone: order.ShippingAddress.Phone,
		CustomerCity:  order.ShippingAddress.City,
	})
	if err != nil {
		return nil, err
	}

	txErr := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.UpdatePaymentColumns(ctx, order.ID, map[string]any{
			"session_key": session.SessionKey,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store session key")
		}
		if err := repo.UpdateColumns(ctx, order.ID, map[string]any{
			"status": enums.OrderStatusPaymentPending,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	return &StartPaymentResult{
		OrderNumber:    order.OrderNumber,
		Amount:         order.Total,
		SessionKey:     session.SessionKey,
		GatewayPageURL: session.GatewayPageURL,
	}, nil
}

func (s *service) Status(ctx context.Context, orderNumber string) (*StatusResult, error) {
	if orderNumber == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order number required")
	}

	order, err := s.repo.FindByNumber(ctx, orderNumber)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}

	result := &StatusResult{
		OrderNumber: order.OrderNumber,
		OrderStatus: order.Status,
	}
	if order.Payment != nil {
		result.PaymentStatus = order.Payment.Status
		result.Amount = order.Payment.Amount
		result.TransactionID = order.Payment.TransactionID
	}
	return result, nil
}

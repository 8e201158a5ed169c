package controllers

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/bazarika/bazarika-backend/api/responses"
	"github.com/bazarika/bazarika-backend/api/validators"
	"github.com/bazarika/bazarika-backend/internal/orders"
	"github.com/bazarika/bazarika-backend/internal/payments"
	pkgerrors "github.com/bazarika/bazarika-backend/pkg/errors"
	"github.com/bazarika/bazarika-backend/pkg/logger"
)

type adminRejectRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type refundRequest struct {
	Amount  *decimal.Decimal `json:"amount,omitempty"`
	Remarks string           `json:"remarks,omitempty" validate:"omitempty,max=255"`
}

type verifyPaymentRequest struct {
	ValidationID string `json:"validationId,omitempty" validate:"omitempty,max=100"`
}

// AdminApproveOrder approves a pending order and fans out vendor assignments.
func AdminApproveOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Approve(r.Context(), actor, orderID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}

// AdminRejectOrder rejects a pending order, which cancels it.
func AdminRejectOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req adminRejectRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Reject(r.Context(), actor, orderID, req.Reason); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}

// AdminRefundOrder initiates a gateway refund. Amount defaults to the
// remaining refundable balance when omitted.
func AdminRefundOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req refundRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		if err := svc.Refund(r.Context(), actor, orderID, req.Amount, req.Remarks); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}

// AdminVerifyPayment re-checks a payment against the gateway and applies it
// if settled. Safe to call any number of times; a stored validation id is
// reused when the request omits one.
func AdminVerifyPayment(repo orders.Repository, reconciler payments.Reconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil || reconciler == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment reconciler unavailable"))
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req verifyPaymentRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		order, err := repo.FindByID(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order"))
			return
		}
		if order == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "order not found"))
			return
		}

		result, err := reconciler.ApplySuccess(r.Context(), payments.ApplySuccessInput{
			OrderNumber:   order.OrderNumber,
			TransactionID: order.OrderNumber,
			ValidationID:  req.ValidationID,
			Source:        payments.SourceAdmin,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

package controllers

import (
	"net/http"
	"strings"

	"github.com/bazarika/bazarika-backend/api/responses"
	"github.com/bazarika/bazarika-backend/internal/payments"
	pkgerrors "github.com/bazarika/bazarika-backend/pkg/errors"
	"github.com/bazarika/bazarika-backend/pkg/logger"
)

// SSLCommerz posts the customer back with form-encoded transaction fields.
// tran_id carries the order number we opened the session with.
type gatewayCallback struct {
	tranID string
	valID  string
	status string
}

func parseGatewayCallback(r *http.Request) (*gatewayCallback, error) {
	if err := r.ParseForm(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parse callback form")
	}
	cb := &gatewayCallback{
		tranID: strings.TrimSpace(r.PostFormValue("tran_id")),
		valID:  strings.TrimSpace(r.PostFormValue("val_id")),
		status: strings.TrimSpace(r.PostFormValue("status")),
	}
	if cb.tranID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tran_id is required")
	}
	return cb, nil
}

// PaymentSuccessCallback handles the customer redirect after a settled
// payment. The reconciler makes replays and races with the IPN harmless.
func PaymentSuccessCallback(reconciler payments.Reconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reconciler == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment reconciler unavailable"))
			return
		}
		cb, err := parseGatewayCallback(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := reconciler.ApplySuccess(r.Context(), payments.ApplySuccessInput{
			OrderNumber:   cb.tranID,
			TransactionID: cb.tranID,
			ValidationID:  cb.valID,
			Source:        payments.SourceRedirect,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// PaymentFailCallback handles the redirect after a failed payment.
func PaymentFailCallback(reconciler payments.Reconciler, logg *logger.Logger) http.HandlerFunc {
	return applyFailureCallback(reconciler, logg, "failed")
}

// PaymentCancelCallback handles the redirect after the customer abandons the
// hosted page.
func PaymentCancelCallback(reconciler payments.Reconciler, logg *logger.Logger) http.HandlerFunc {
	return applyFailureCallback(reconciler, logg, "cancelled")
}

func applyFailureCallback(reconciler payments.Reconciler, logg *logger.Logger, reason string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reconciler == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment reconciler unavailable"))
			return
		}
		cb, err := parseGatewayCallback(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := reconciler.ApplyFailure(r.Context(), payments.ApplyFailureInput{
			OrderNumber:   cb.tranID,
			TransactionID: cb.tranID,
			Reason:        reason,
			Source:        payments.SourceRedirect,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// PaymentIPN is the server-to-server notification. The gateway only inspects
// the HTTP status code, so the body stays empty: 200 acknowledges, anything
// else makes the gateway retry.
func PaymentIPN(reconciler payments.Reconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if reconciler == nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		cb, err := parseGatewayCallback(r)
		if err != nil {
			if logg != nil {
				logg.Error(ctx, "ipn.invalid", err)
			}
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if strings.EqualFold(cb.status, "VALID") || strings.EqualFold(cb.status, "VALIDATED") {
			_, err = reconciler.ApplySuccess(ctx, payments.ApplySuccessInput{
				OrderNumber:   cb.tranID,
				TransactionID: cb.tranID,
				ValidationID:  cb.valID,
				Source:        payments.SourceIPN,
			})
		} else {
			_, err = reconciler.ApplyFailure(ctx, payments.ApplyFailureInput{
				OrderNumber:   cb.tranID,
				TransactionID: cb.tranID,
				Reason:        strings.ToLower(cb.status),
				Source:        payments.SourceIPN,
			})
		}
		if err != nil {
			if logg != nil {
				ctx = logg.WithFields(ctx, map[string]any{"order_number": cb.tranID, "gateway_status": cb.status})
				logg.Error(ctx, "ipn.reconcile failed", err)
			}
			// Conflicts are settled outcomes; retrying the IPN will not
			// change them, so acknowledge.
			if typed := pkgerrors.As(err); typed != nil {
				switch typed.Code() {
				case pkgerrors.CodeConflict, pkgerrors.CodeStateConflict, pkgerrors.CodeNotFound:
					w.WriteHeader(http.StatusOK)
					return
				}
			}
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

package orders

import (
	"github.com/bazarika/bazarika-backend/pkg/db/models"
	"github.com/bazarika/bazarika-backend/pkg/enums"
)

// deriveStatus recomputes the order-level status from the sub-state machines:
// admin approval, vendor assignments, the payment record and the line items.
// It must be called inside the same transaction that mutated any of those so
// the aggregate never drifts from its parts.
func deriveStatus(order *models.Order) enums.OrderStatus {
	if order.Payment != nil && order.Payment.Status == enums.PaymentStatusRefunded {
		return enums.OrderStatusRefunded
	}
	if order.CancelledAt != nil || order.AdminApproval == enums.AdminApprovalStatusRejected {
		return enums.OrderStatusCancelled
	}
	if order.Payment != nil && order.Payment.Status == enums.PaymentStatusFailed {
		return enums.OrderStatusCancelled
	}
	if order.AdminApproval == enums.AdminApprovalStatusPending {
		return enums.OrderStatusPendingAdminApproval
	}

	if len(order.Assignments) == 0 {
		return enums.OrderStatusAdminApproved
	}
	for _, assignment := range order.Assignments {
		if assignment.Status != enums.AssignmentStatusConfirmed {
			return enums.OrderStatusVendorAssigned
		}
	}

	if order.Payment == nil || order.Payment.Status == enums.PaymentStatusPending {
		if order.Payment != nil && order.Payment.SessionKey != nil {
			return enums.OrderStatusPaymentPending
		}
		return enums.OrderStatusVendorConfirmed
	}

	return fulfillmentStatus(order.Items)
}

// fulfillmentStatus folds line item progress into the order status once the
// payment is settled. Cancelled lines do not count against the remainder.
func fulfillmentStatus(items []models.OrderItem) enums.OrderStatus {
	var active, delivered, shippedOrBeyond, started int
	for _, item := range items {
		switch item.Status {
		case enums.OrderItemStatusCancelled:
			continue
		case enums.OrderItemStatusDelivered:
			delivered++
			shippedOrBeyond++
			started++
		case enums.OrderItemStatusShipped:
			shippedOrBeyond++
			started++
		case enums.OrderItemStatusProcessing:
			started++
		}
		active++
	}

	switch {
	case active == 0:
		return enums.OrderStatusCancelled
	case delivered == active:
		return enums.OrderStatusDelivered
	case shippedOrBeyond == active:
		return enums.OrderStatusShipped
	case started > 0:
		return enums.OrderStatusProcessing
	default:
		return enums.OrderStatusPaid
	}
}

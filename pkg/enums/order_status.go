package enums

import "fmt"

// OrderStatus tracks the aggregate lifecycle of an order. It is derived from
// the admin approval, vendor assignment, payment and line item sub-states and
// is only written alongside them.
type OrderStatus string

const (
	OrderStatusPendingAdminApproval OrderStatus = "pending_admin_approval"
	OrderStatusAdminApproved        OrderStatus = "admin_approved"
	OrderStatusVendorAssigned       OrderStatus = "vendor_assigned"
	OrderStatusVendorConfirmed      OrderStatus = "vendor_confirmed"
	OrderStatusPaymentPending       OrderStatus = "payment_pending"
	OrderStatusPaid                 OrderStatus = "paid"
	OrderStatusProcessing           OrderStatus = "processing"
	OrderStatusShipped              OrderStatus = "shipped"
	OrderStatusDelivered            OrderStatus = "delivered"
	OrderStatusCancelled            OrderStatus = "cancelled"
	OrderStatusRefunded             OrderStatus = "refunded"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusPendingAdminApproval,
	OrderStatusAdminApproved,
	OrderStatusVendorAssigned,
	OrderStatusVendorConfirmed,
	OrderStatusPaymentPending,
	OrderStatusPaid,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusRefunded,
}

// String implements fmt.Stringer.
func (o OrderStatus) String() string {
	return string(o)
}

// IsValid reports whether the value is a known OrderStatus.
func (o OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == o {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (o OrderStatus) IsTerminal() bool {
	switch o {
	case OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return true
	default:
		return false
	}
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}

package enums

import "fmt"

// OrderItemStatus tracks fulfillment of a single order line.
type OrderItemStatus string

const (
	OrderItemStatusPending    OrderItemStatus = "pending"
	OrderItemStatusConfirmed  OrderItemStatus = "confirmed"
	OrderItemStatusProcessing OrderItemStatus = "processing"
	OrderItemStatusShipped    OrderItemStatus = "shipped"
	OrderItemStatusDelivered  OrderItemStatus = "delivered"
	OrderItemStatusCancelled  OrderItemStatus = "cancelled"
)

var validOrderItemStatuses = []OrderItemStatus{
	OrderItemStatusPending,
	OrderItemStatusConfirmed,
	OrderItemStatusProcessing,
	OrderItemStatusShipped,
	OrderItemStatusDelivered,
	OrderItemStatusCancelled,
}

// String implements fmt.Stringer.
func (o OrderItemStatus) String() string {
	return string(o)
}

// IsValid reports whether the value is a known OrderItemStatus.
func (o OrderItemStatus) IsValid() bool {
	for _, candidate := range validOrderItemStatuses {
		if candidate == o {
			return true
		}
	}
	return false
}

// Next returns the allowed successor in the fulfillment chain, or "" when the
// status cannot advance.
func (o OrderItemStatus) Next() OrderItemStatus {
	switch o {
	case OrderItemStatusConfirmed:
		return OrderItemStatusProcessing
	case OrderItemStatusProcessing:
		return OrderItemStatusShipped
	case OrderItemStatusShipped:
		return OrderItemStatusDelivered
	default:
		return ""
	}
}

// ParseOrderItemStatus converts raw input into an OrderItemStatus.
func ParseOrderItemStatus(value string) (OrderItemStatus, error) {
	for _, candidate := range validOrderItemStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order item status %q", value)
}

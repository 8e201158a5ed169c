package enums

import "fmt"

// NotificationType labels the event a notification was raised for.
type NotificationType string

const (
	NotificationTypeOrderPlaced     NotificationType = "order_placed"
	NotificationTypeOrderApproved   NotificationType = "order_approved"
	NotificationTypeOrderRejected   NotificationType = "order_rejected"
	NotificationTypeVendorAssigned  NotificationType = "vendor_assigned"
	NotificationTypeVendorConfirmed NotificationType = "vendor_confirmed"
	NotificationTypeVendorRejected  NotificationType = "vendor_rejected"
	NotificationTypePaymentReceived NotificationType = "payment_received"
	NotificationTypePaymentFailed   NotificationType = "payment_failed"
	NotificationTypeOrderCancelled  NotificationType = "order_cancelled"
	NotificationTypeOrderRefunded   NotificationType = "order_refunded"
	NotificationTypeItemStatus      NotificationType = "item_status_changed"
	NotificationTypePayoutRecorded  NotificationType = "payout_recorded"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeOrderPlaced,
	NotificationTypeOrderApproved,
	NotificationTypeOrderRejected,
	NotificationTypeVendorAssigned,
	NotificationTypeVendorConfirmed,
	NotificationTypeVendorRejected,
	NotificationTypePaymentReceived,
	NotificationTypePaymentFailed,
	NotificationTypeOrderCancelled,
	NotificationTypeOrderRefunded,
	NotificationTypeItemStatus,
	NotificationTypePayoutRecorded,
}

// String implements fmt.Stringer.
func (n NotificationType) String() string {
	return string(n)
}

// IsValid reports whether the value is a known NotificationType.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw input into a NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}

package enums

// OutboxStatus tracks delivery of a transactional outbox row.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// OutboxEventType names the domain events the publisher fans out.
type OutboxEventType string

const (
	OutboxEventOrderPlaced     OutboxEventType = "order.placed"
	OutboxEventOrderApproved   OutboxEventType = "order.approved"
	OutboxEventOrderRejected   OutboxEventType = "order.rejected"
	OutboxEventOrderPaid       OutboxEventType = "order.paid"
	OutboxEventOrderCancelled  OutboxEventType = "order.cancelled"
	OutboxEventOrderRefunded   OutboxEventType = "order.refunded"
	OutboxEventOrderDelivered  OutboxEventType = "order.delivered"
	OutboxEventVendorConfirmed OutboxEventType = "order.vendor_confirmed"
	OutboxEventVendorRejected  OutboxEventType = "order.vendor_rejected"
	OutboxEventPayoutRecorded  OutboxEventType = "payout.recorded"
)

// String implements fmt.Stringer.
func (o OutboxStatus) String() string {
	return string(o)
}

// String implements fmt.Stringer.
func (o OutboxEventType) String() string {
	return string(o)
}

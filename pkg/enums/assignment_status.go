package enums

import "fmt"

// AssignmentStatus tracks a vendor's decision on their slice of an order.
type AssignmentStatus string

const (
	AssignmentStatusPending   AssignmentStatus = "pending"
	AssignmentStatusConfirmed AssignmentStatus = "confirmed"
	AssignmentStatusRejected  AssignmentStatus = "rejected"
)

var validAssignmentStatuses = []AssignmentStatus{
	AssignmentStatusPending,
	AssignmentStatusConfirmed,
	AssignmentStatusRejected,
}

// String implements fmt.Stringer.
func (a AssignmentStatus) String() string {
	return string(a)
}

// IsValid reports whether the value is a known AssignmentStatus.
func (a AssignmentStatus) IsValid() bool {
	for _, candidate := range validAssignmentStatuses {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseAssignmentStatus converts raw input into an AssignmentStatus.
func ParseAssignmentStatus(value string) (AssignmentStatus, error) {
	for _, candidate := range validAssignmentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid assignment status %q", value)
}

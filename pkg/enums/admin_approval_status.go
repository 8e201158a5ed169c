package enums

import "fmt"

// AdminApprovalStatus gates an order before vendor fan-out.
type AdminApprovalStatus string

const (
	AdminApprovalStatusPending  AdminApprovalStatus = "pending"
	AdminApprovalStatusApproved AdminApprovalStatus = "approved"
	AdminApprovalStatusRejected AdminApprovalStatus = "rejected"
)

var validAdminApprovalStatuses = []AdminApprovalStatus{
	AdminApprovalStatusPending,
	AdminApprovalStatusApproved,
	AdminApprovalStatusRejected,
}

// IsValid reports whether the value is a known AdminApprovalStatus.
func (a AdminApprovalStatus) IsValid() bool {
	for _, candidate := range validAdminApprovalStatuses {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseAdminApprovalStatus converts raw input into an AdminApprovalStatus.
func ParseAdminApprovalStatus(value string) (AdminApprovalStatus, error) {
	for _, candidate := range validAdminApprovalStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid admin approval status %q", value)
}

package types

import "strings"

// Address is the immutable shipping/billing snapshot copied onto an order.
// It is stored as jsonb so later edits to a customer's saved addresses never
// retroactively alter a placed order.
type Address struct {
	Name       string  `json:"name"`
	Phone      string  `json:"phone"`
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city"`
	District   string  `json:"district,omitempty"`
	PostalCode string  `json:"postal_code"`
	Country    string  `json:"country"`
}

// Complete reports whether the address carries the fields an order requires.
func (a Address) Complete() bool {
	return strings.TrimSpace(a.Line1) != "" &&
		strings.TrimSpace(a.City) != "" &&
		strings.TrimSpace(a.PostalCode) != "" &&
		strings.TrimSpace(a.Phone) != ""
}

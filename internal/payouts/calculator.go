package payouts

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bazarika/bazarika-backend/internal/pricing"
	"github.com/bazarika/bazarika-backend/pkg/db/models"
	"github.com/bazarika/bazarika-backend/pkg/enums"
)

// Calculate derives one settlement row per vendor from an order's lines.
// Cancelled lines never settle. The function is pure: the same item set
// always yields the same payouts, so recomputation is safe.
func Calculate(orderID uuid.UUID, items []models.OrderItem) []models.VendorPayout {
	gross := make(map[uuid.UUID]decimal.Decimal)
	var vendors []uuid.UUID
	for _, item := range items {
		if item.Status == enums.OrderItemStatusCancelled {
			continue
		}
		if _, seen := gross[item.VendorID]; !seen {
			vendors = append(vendors, item.VendorID)
			gross[item.VendorID] = decimal.Zero
		}
		gross[item.VendorID] = gross[item.VendorID].Add(item.LineTotal)
	}

	payouts := make([]models.VendorPayout, 0, len(vendors))
	for _, vendorID := range vendors {
		amount := gross[vendorID]
		commission := pricing.Commission(amount)
		serviceCharge := pricing.PayoutServiceCharge(amount)
		payouts = append(payouts, models.VendorPayout{
			OrderID:       orderID,
			VendorID:      vendorID,
			GrossAmount:   amount,
			Commission:    commission,
			ServiceCharge: serviceCharge,
			NetAmount:     amount.Sub(commission).Sub(serviceCharge),
		})
	}
	return payouts
}

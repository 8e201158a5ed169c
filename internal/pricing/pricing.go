// Package pricing holds the marketplace fee schedule. Rates are fixed for
// every customer; the per-category service charge rate is snapshotted on the
// product and applied at order creation.
package pricing

import "github.com/shopspring/decimal"

var (
	taxRate               = decimal.NewFromFloat(0.05)
	cartServiceChargeRate = decimal.NewFromFloat(0.05)
	freeShippingThreshold = decimal.NewFromInt(1000)
	flatShippingFee       = decimal.NewFromInt(60)
	commissionRate        = decimal.NewFromFloat(0.10)
	payoutServiceRate     = decimal.NewFromFloat(0.02)
)

// Tax is a flat 5% of the merchandise subtotal.
func Tax(subtotal decimal.Decimal) decimal.Decimal {
	return subtotal.Mul(taxRate).Round(2)
}

// ShippingFee is a flat fee waived once the subtotal crosses the free
// shipping threshold.
func ShippingFee(subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.GreaterThan(freeShippingThreshold) {
		return decimal.Zero
	}
	return flatShippingFee
}

// CartServiceCharge is the flat-rate estimate shown on the cart. The order
// replaces it with per-line category rates at creation time.
func CartServiceCharge(subtotal decimal.Decimal) decimal.Decimal {
	return subtotal.Mul(cartServiceChargeRate).Round(2)
}

// LineServiceCharge applies a category rate to a single line total.
func LineServiceCharge(lineTotal, rate decimal.Decimal) decimal.Decimal {
	return lineTotal.Mul(rate).Round(2)
}

// Commission is the platform's cut of a vendor's gross for one order.
func Commission(gross decimal.Decimal) decimal.Decimal {
	return gross.Mul(commissionRate).Round(2)
}

// PayoutServiceCharge is the settlement processing fee withheld from a
// vendor's gross.
func PayoutServiceCharge(gross decimal.Decimal) decimal.Decimal {
	return gross.Mul(payoutServiceRate).Round(2)
}

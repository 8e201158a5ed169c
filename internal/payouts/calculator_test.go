package payouts

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bazarika/bazarika-backend/pkg/db/models"
	"github.com/bazarika/bazarika-backend/pkg/enums"
)

func confirmedItem(vendorID uuid.UUID, lineTotal int64) models.OrderItem {
	return models.OrderItem{
		ID:        uuid.New(),
		ProductID: uuid.New(),
		VendorID:  vendorID,
		Quantity:  1,
		LineTotal: decimal.NewFromInt(lineTotal),
		Status:    enums.OrderItemStatusConfirmed,
	}
}

func TestCalculate_SplitsPerVendor(t *testing.T) {
	orderID := uuid.New()
	vendorA := uuid.New()
	vendorB := uuid.New()
	items := []models.OrderItem{
		confirmedItem(vendorA, 600),
		confirmedItem(vendorA, 400),
		confirmedItem(vendorB, 200),
	}

	payouts := Calculate(orderID, items)
	if len(payouts) != 2 {
		t.Fatalf("expected 2 payouts, got %d", len(payouts))
	}

	first := payouts[0]
	if first.VendorID != vendorA {
		t.Fatalf("expected vendor A first, got %s", first.VendorID)
	}
	if !first.GrossAmount.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected gross 1000, got %s", first.GrossAmount)
	}
	if !first.Commission.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected commission 100, got %s", first.Commission)
	}
	if !first.ServiceCharge.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("expected service charge 20, got %s", first.ServiceCharge)
	}
	if !first.NetAmount.Equal(decimal.NewFromInt(880)) {
		t.Fatalf("expected net 880, got %s", first.NetAmount)
	}

	second := payouts[1]
	if !second.NetAmount.Equal(decimal.NewFromInt(176)) {
		t.Fatalf("expected vendor B net 176, got %s", second.NetAmount)
	}
}

func TestCalculate_SkipsCancelledLines(t *testing.T) {
	orderID := uuid.New()
	vendorID := uuid.New()
	cancelled := confirmedItem(vendorID, 500)
	cancelled.Status = enums.OrderItemStatusCancelled
	items := []models.OrderItem{
		confirmedItem(vendorID, 300),
		cancelled,
	}

	payouts := Calculate(orderID, items)
	if len(payouts) != 1 {
		t.Fatalf("expected 1 payout, got %d", len(payouts))
	}
	if !payouts[0].GrossAmount.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("expected gross 300 excluding cancelled line, got %s", payouts[0].GrossAmount)
	}
}

func TestCalculate_Idempotent(t *testing.T) {
	orderID := uuid.New()
	vendorID := uuid.New()
	items := []models.OrderItem{
		confirmedItem(vendorID, 250),
		confirmedItem(vendorID, 750),
	}

	first := Calculate(orderID, items)
	second := Calculate(orderID, items)
	if len(first) != len(second) {
		t.Fatalf("expected identical payout counts, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i].VendorID != second[i].VendorID ||
			!first[i].GrossAmount.Equal(second[i].GrossAmount) ||
			!first[i].NetAmount.Equal(second[i].NetAmount) {
			t.Fatalf("recomputation diverged at index %d", i)
		}
	}
}

func TestCalculate_EmptyItems(t *testing.T) {
	if payouts := Calculate(uuid.New(), nil); len(payouts) != 0 {
		t.Fatalf("expected no payouts, got %d", len(payouts))
	}
}

package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/bazarika/bazarika-backend/api/responses"
	"github.com/bazarika/bazarika-backend/api/validators"
	"github.com/bazarika/bazarika-backend/internal/checkout"
	pkgerrors "github.com/bazarika/bazarika-backend/pkg/errors"
	"github.com/bazarika/bazarika-backend/pkg/logger"
	"github.com/bazarika/bazarika-backend/pkg/types"
)

type checkoutItemRequest struct {
	ProductID uuid.UUID `json:"productId" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,min=1,max=10"`
	Variant   string    `json:"variant,omitempty" validate:"omitempty,max=100"`
}

type checkoutAddressRequest struct {
	Name       string  `json:"name" validate:"required,max=200"`
	Phone      string  `json:"phone" validate:"required,max=32"`
	Line1      string  `json:"line1" validate:"required,max=300"`
	Line2      *string `json:"line2,omitempty" validate:"omitempty,max=300"`
	City       string  `json:"city" validate:"required,max=100"`
	District   string  `json:"district,omitempty" validate:"omitempty,max=100"`
	PostalCode string  `json:"postalCode" validate:"required,max=20"`
	Country    string  `json:"country" validate:"required,max=100"`
}

type placeOrderRequest struct {
	UseCart         bool                   `json:"useCart"`
	Items           []checkoutItemRequest  `json:"items,omitempty" validate:"omitempty,max=50,dive"`
	ShippingAddress checkoutAddressRequest `json:"shippingAddress" validate:"required"`
}

// PlaceOrder creates an order from the caller's cart or an ad-hoc item list.
func PlaceOrder(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		customerID, err := customerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req placeOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := checkout.PlaceOrderInput{
			CustomerID: customerID,
			UseCart:    req.UseCart,
			ShippingAddress: types.Address{
				Name:       req.ShippingAddress.Name,
				Phone:      req.ShippingAddress.Phone,
				Line1:      req.ShippingAddress.Line1,
				Line2:      req.ShippingAddress.Line2,
				City:       req.ShippingAddress.City,
				District:   req.ShippingAddress.District,
				PostalCode: req.ShippingAddress.PostalCode,
				Country:    req.ShippingAddress.Country,
			},
		}
		for _, item := range req.Items {
			input.Items = append(input.Items, checkout.ItemInput{
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				Variant:   item.Variant,
			})
		}

		order, err := svc.PlaceOrder(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, order)
	}
}

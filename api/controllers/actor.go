package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/bazarika/bazarika-backend/api/middleware"
	"github.com/bazarika/bazarika-backend/internal/orders"
	pkgerrors "github.com/bazarika/bazarika-backend/pkg/errors"
)

// actorFromRequest rebuilds the authenticated actor from the claims the auth
// middleware seeded into the request context.
func actorFromRequest(r *http.Request) (orders.Actor, error) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok || userID == uuid.Nil {
		return orders.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	role, ok := middleware.RoleFromContext(r.Context())
	if !ok {
		return orders.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing role")
	}

	actor := orders.Actor{UserID: userID, Role: role}
	if vendorID, ok := middleware.VendorIDFromContext(r.Context()); ok {
		actor.VendorID = &vendorID
	}
	return actor, nil
}

// customerFromRequest returns the caller's user id for customer-scoped routes.
func customerFromRequest(r *http.Request) (uuid.UUID, error) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok || userID == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	return userID, nil
}

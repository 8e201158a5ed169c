package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/bazarika/bazarika-backend/pkg/enums"
)

type contextKey string

const (
	ctxUserID   contextKey = "user_id"
	ctxRole     contextKey = "actor_role"
	ctxVendorID contextKey = "vendor_id"
)

func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	if ctx == nil {
		return uuid.Nil, false
	}
	if v, ok := ctx.Value(ctxUserID).(uuid.UUID); ok {
		return v, true
	}
	return uuid.Nil, false
}

func RoleFromContext(ctx context.Context) (enums.MemberRole, bool) {
	if ctx == nil {
		return "", false
	}
	if v, ok := ctx.Value(ctxRole).(enums.MemberRole); ok {
		return v, true
	}
	return "", false
}

func VendorIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	if ctx == nil {
		return uuid.Nil, false
	}
	if v, ok := ctx.Value(ctxVendorID).(uuid.UUID); ok {
		return v, true
	}
	return uuid.Nil, false
}

// WithUserID injects the user identifier into the context.
func WithUserID(ctx context.Context, userID uuid.UUID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxUserID, userID)
}

// WithRole injects the caller's role into the context.
func WithRole(ctx context.Context, role enums.MemberRole) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxRole, role)
}

// WithVendorID injects the vendor scope into the context for vendor members.
func WithVendorID(ctx context.Context, vendorID uuid.UUID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxVendorID, vendorID)
}

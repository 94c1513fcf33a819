// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values.
//
// Middleware sets values; services read them without importing net/http.
// Tests inject a fixed clock with WithTime so time-sensitive logic (expiry
// checks, certificate validity windows) stays deterministic.
package requestcontext

import (
	"context"
	"time"

	id "timbre/pkg/domain"
)

type (
	requestIDKey   struct{}
	actorIDKey     struct{}
	tenantIDKey    struct{}
	requestTimeKey struct{}
)

// WithRequestID stores a correlation ID for the current request.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestID returns the correlation ID, or "" when unset.
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}

// WithActorID records who initiated the request (admin token subject,
// tenant user, or system job name) for audit trails.
func WithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorIDKey{}, actorID)
}

// ActorID returns the acting principal, or "" when unset.
func ActorID(ctx context.Context) string {
	v, _ := ctx.Value(actorIDKey{}).(string)
	return v
}

// WithTenantID stores the authenticated tenant for the current request.
func WithTenantID(ctx context.Context, tenantID id.TenantID) context.Context {
	return context.WithValue(ctx, tenantIDKey{}, tenantID)
}

// TenantID returns the authenticated tenant, or the zero id when unset.
func TenantID(ctx context.Context) id.TenantID {
	v, _ := ctx.Value(tenantIDKey{}).(id.TenantID)
	return v
}

// WithTime pins the request clock. Tests use this to exercise expiry
// boundaries exactly.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}

// Now returns the pinned request time, falling back to the wall clock.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

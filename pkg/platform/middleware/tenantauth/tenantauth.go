// Package tenantauth resolves the acting tenant for tenant-scoped routes.
//
// This core runs behind the platform's API gateway, which authenticates the
// caller and forwards the tenant identity in a trusted header. The middleware
// validates the id shape and stores it in the request context; it does not
// re-authenticate.
package tenantauth

import (
	"net/http"

	id "timbre/pkg/domain"
	dErrors "timbre/pkg/domain-errors"
	"timbre/pkg/platform/httputil"
	"timbre/pkg/requestcontext"
)

// Header carries the authenticated tenant id set by the gateway.
const Header = "X-Tenant-ID"

// ActorHeader optionally carries the acting principal for audit trails.
const ActorHeader = "X-Actor-ID"

// Middleware requires a valid tenant id on the request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := id.ParseTenantID(r.Header.Get(Header))
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "tenant identity is required"))
			return
		}
		ctx := requestcontext.WithTenantID(r.Context(), tenantID)
		if actor := r.Header.Get(ActorHeader); actor != "" {
			ctx = requestcontext.WithActorID(ctx, actor)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

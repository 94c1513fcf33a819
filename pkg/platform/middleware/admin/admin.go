// Package admin guards operational endpoints with a static bearer token.
package admin

import (
	"crypto/subtle"
	"net/http"
	"strings"

	dErrors "timbre/pkg/domain-errors"
	"timbre/pkg/platform/httputil"
	"timbre/pkg/requestcontext"
)

// Middleware requires the configured admin token as a bearer credential.
// An empty configured token disables the admin surface entirely.
func Middleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "not found"))
				return
			}
			presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid admin credentials"))
				return
			}
			ctx := requestcontext.WithActorID(r.Context(), "admin")
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

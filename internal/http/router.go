// Package httpapi assembles the HTTP surface: the middleware chain, tenant
// routes, the admin surface, and the health and metrics endpoints. Business
// logic stays in the domain services; this layer only wires them together.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"timbre/internal/admin"
	certhandler "timbre/internal/certificate/handler"
	invoicehandler "timbre/internal/invoice/handler"
	"timbre/pkg/platform/httputil"
	adminmw "timbre/pkg/platform/middleware/admin"
	"timbre/pkg/platform/middleware/requestid"
	"timbre/pkg/platform/middleware/requesttime"
	"timbre/pkg/platform/middleware/tenantauth"
)

// healthTimeout bounds each dependency probe so one slow dependency cannot
// stall the whole health check.
const healthTimeout = 2 * time.Second

// HealthChecker reports the liveness of one dependency.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthCheckerFunc adapts a plain function to HealthChecker.
type HealthCheckerFunc func(ctx context.Context) error

func (f HealthCheckerFunc) Health(ctx context.Context) error { return f(ctx) }

// Check pairs a dependency name with its health probe.
type Check struct {
	Name    string
	Checker HealthChecker
}

// Deps carries everything the router mounts.
type Deps struct {
	Certificates *certhandler.Handler
	Invoices     *invoicehandler.Handler
	Admin        *admin.Handler

	AdminToken string
	Health     []Check
}

// NewRouter wires the full HTTP surface.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(requesttime.Middleware)

	r.Get("/healthz", healthHandler(deps.Health))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Tenant routes: the gateway authenticates callers and forwards the
	// tenant identity in a trusted header.
	r.Group(func(r chi.Router) {
		r.Use(tenantauth.Middleware)
		deps.Certificates.Register(r)
		deps.Invoices.Register(r)
	})

	// Operational routes behind the static admin token.
	r.Group(func(r chi.Router) {
		r.Use(adminmw.Middleware(deps.AdminToken))
		deps.Admin.Register(r)
	})

	return r
}

// healthHandler aggregates dependency probes. Failure details stay in logs
// and metrics; the response only names which dependency is down.
func healthHandler(checks []Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		overall := "ok"
		results := make(map[string]string, len(checks))
		for _, check := range checks {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			err := check.Checker.Health(ctx)
			cancel()
			if err != nil {
				results[check.Name] = "unavailable"
				status = http.StatusServiceUnavailable
				overall = "degraded"
				continue
			}
			results[check.Name] = "ok"
		}
		httputil.WriteJSON(w, status, map[string]any{
			"status": overall,
			"checks": results,
		})
	}
}

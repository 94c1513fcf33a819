// Package httpserver builds the http.Server the stamping API runs on.
package httpserver

import (
	"net/http"
	"time"
)

// New returns a server for the given address and router. Stamping calls can
// legitimately take tens of seconds at the provider, so only the header read
// is bounded here; per-request deadlines belong to the handlers.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

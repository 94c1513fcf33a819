// Package admin exposes operational endpoints: reconciliation of invoices
// orphaned mid-stamp and key-rotation rewrap of stored certificates. These
// routes sit behind the admin token middleware, not tenant auth.
package admin

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	certhandler "timbre/internal/certificate/handler"
	certmodels "timbre/internal/certificate/models"
	id "timbre/pkg/domain"
	"timbre/pkg/platform/httputil"
	"timbre/pkg/requestcontext"
)

// Reconciler recovers invoices stuck in the stamping state.
type Reconciler interface {
	ReconcilePending(ctx context.Context) (int, error)
}

// Rewrapper re-wraps a certificate's key bundle under the current master
// secret slot.
type Rewrapper interface {
	Rewrap(ctx context.Context, certID id.CertificateID) (*certmodels.Record, error)
}

// Handler wires operational endpoints to their services.
type Handler struct {
	reconciler Reconciler
	rewrapper  Rewrapper
	logger     *slog.Logger
}

// New constructs an admin handler with its dependencies.
func New(reconciler Reconciler, rewrapper Rewrapper, logger *slog.Logger) *Handler {
	return &Handler{
		reconciler: reconciler,
		rewrapper:  rewrapper,
		logger:     logger,
	}
}

// Register mounts admin endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/admin/reconcile", h.HandleReconcile)
	r.Post("/admin/certificates/{certificateID}/rewrap", h.HandleRewrap)
}

// HandleReconcile handles POST /admin/reconcile requests.
func (h *Handler) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	recovered, err := h.reconciler.ReconcilePending(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "reconciliation failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "reconciliation completed",
		"request_id", requestID,
		"recovered", recovered,
	)
	httputil.WriteJSON(w, http.StatusOK, ReconcileResponse{Recovered: recovered})
}

// HandleRewrap handles POST /admin/certificates/{certificateID}/rewrap.
func (h *Handler) HandleRewrap(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	certID, err := id.ParseCertificateID(chi.URLParam(r, "certificateID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	record, err := h.rewrapper.Rewrap(ctx, certID)
	if err != nil {
		h.logger.ErrorContext(ctx, "certificate rewrap failed",
			"request_id", requestID,
			"certificate_id", certID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "certificate rewrapped",
		"request_id", requestID,
		"certificate_id", certID,
		"key_ref", record.Bundle.KeyRef,
	)
	httputil.WriteJSON(w, http.StatusOK, certhandler.FromRecord(record))
}

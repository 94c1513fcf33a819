package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"timbre/internal/invoice/models"
	"timbre/internal/invoice/service"
	id "timbre/pkg/domain"
	dErrors "timbre/pkg/domain-errors"
	"timbre/pkg/platform/httputil"
	"timbre/pkg/requestcontext"
)

// Service defines the interface for invoice operations.
type Service interface {
	Issue(ctx context.Context, req service.IssueRequest) (*models.Invoice, error)
	Get(ctx context.Context, tenantID id.TenantID, invoiceID id.InvoiceID) (*models.Invoice, error)
	Cancel(ctx context.Context, tenantID id.TenantID, fiscalID, reasonCode string) (*models.Invoice, error)
}

// Handler wires invoice endpoints to the invoice service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs an invoice handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts invoice endpoints on the router. Cancellation is keyed by
// the provider-assigned fiscal id, so it lives under its own resource rather
// than the local invoice id.
func (h *Handler) Register(r chi.Router) {
	r.Post("/invoices", h.HandleIssue)
	r.Get("/invoices/{invoiceID}", h.HandleGet)
	r.Post("/cancellations", h.HandleCancel)
}

// HandleIssue handles POST /invoices requests.
func (h *Handler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	tenantID, ok := h.requireTenant(w, ctx)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[IssueRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	invoice, err := h.service.Issue(ctx, service.IssueRequest{
		TenantID:         tenantID,
		PaymentID:        req.ParsedPaymentID(),
		Series:           req.Series,
		RecipientTaxID:   req.Recipient.TaxID,
		RecipientName:    req.Recipient.Name,
		RecipientZipCode: req.Recipient.ZipCode,
		RecipientEmail:   req.Recipient.Email,
		Total:            req.Total,
		TaxRate:          req.TaxRate,
		Description:      req.Description,
		Currency:         req.Currency,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "invoice issuance failed",
			"request_id", requestID,
			"tenant_id", tenantID,
			"payment_id", req.PaymentID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "invoice stamped",
		"request_id", requestID,
		"tenant_id", tenantID,
		"invoice_id", invoice.ID,
		"fiscal_id", invoice.FiscalID,
		"series", invoice.Series,
		"folio", invoice.Folio,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	httputil.WriteJSON(w, http.StatusCreated, FromInvoice(invoice))
}

// HandleGet handles GET /invoices/{invoiceID} requests.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenantID, ok := h.requireTenant(w, ctx)
	if !ok {
		return
	}
	invoiceID, err := id.ParseInvoiceID(chi.URLParam(r, "invoiceID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	invoice, err := h.service.Get(ctx, tenantID, invoiceID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromInvoice(invoice))
}

// HandleCancel handles POST /cancellations requests.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	tenantID, ok := h.requireTenant(w, ctx)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[CancelRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	invoice, err := h.service.Cancel(ctx, tenantID, req.FiscalID, req.ReasonCode)
	if err != nil {
		h.logger.ErrorContext(ctx, "invoice cancellation failed",
			"request_id", requestID,
			"tenant_id", tenantID,
			"fiscal_id", req.FiscalID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "invoice cancelled",
		"request_id", requestID,
		"tenant_id", tenantID,
		"invoice_id", invoice.ID,
		"fiscal_id", invoice.FiscalID,
		"reason_code", req.ReasonCode,
	)
	httputil.WriteJSON(w, http.StatusOK, FromInvoice(invoice))
}

func (h *Handler) requireTenant(w http.ResponseWriter, ctx context.Context) (id.TenantID, bool) {
	tenantID := requestcontext.TenantID(ctx)
	if tenantID.IsZero() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "tenant identity is required"))
		return id.TenantID{}, false
	}
	return tenantID, true
}

package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"timbre/internal/certificate/models"
	"timbre/internal/certificate/service"
	id "timbre/pkg/domain"
	dErrors "timbre/pkg/domain-errors"
	"timbre/pkg/platform/httputil"
	"timbre/pkg/requestcontext"
)

// Service defines the interface for certificate operations.
type Service interface {
	Upload(ctx context.Context, req service.UploadRequest) (*models.Record, error)
	RetryProvisioning(ctx context.Context, tenantID id.TenantID, certID id.CertificateID) (*models.Record, error)
	Get(ctx context.Context, tenantID id.TenantID, certID id.CertificateID) (*models.Record, error)
	List(ctx context.Context, tenantID id.TenantID) ([]*models.Record, error)
	Deactivate(ctx context.Context, tenantID id.TenantID, certID id.CertificateID) (*models.Record, error)
}

// Handler wires certificate endpoints to the certificate service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a certificate handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts certificate endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/certificates", func(r chi.Router) {
		r.Post("/", h.HandleUpload)
		r.Get("/", h.HandleList)
		r.Get("/{certificateID}", h.HandleGet)
		r.Post("/{certificateID}/deactivate", h.HandleDeactivate)
		r.Post("/{certificateID}/provision", h.HandleRetryProvisioning)
	})
}

// HandleUpload handles POST /certificates requests.
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	tenantID, ok := h.requireTenant(w, ctx)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[UploadRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	record, err := h.service.Upload(ctx, service.UploadRequest{
		TenantID:    tenantID,
		TaxID:       req.TaxID,
		LegalName:   req.LegalName,
		ZipCode:     req.ZipCode,
		TaxRegime:   req.TaxRegime,
		Email:       req.Email,
		Certificate: req.DecodedCertificate(),
		PrivateKey:  req.DecodedPrivateKey(),
		Passphrase:  req.Passphrase,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "certificate upload failed",
			"request_id", requestID,
			"tenant_id", tenantID,
			"tax_id", req.TaxID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "certificate uploaded",
		"request_id", requestID,
		"tenant_id", tenantID,
		"certificate_id", record.ID,
		"serial_number", record.SerialNumber,
		"provisioned", record.Uploaded,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	httputil.WriteJSON(w, http.StatusCreated, FromRecord(record))
}

// HandleList handles GET /certificates requests.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenantID, ok := h.requireTenant(w, ctx)
	if !ok {
		return
	}

	records, err := h.service.List(ctx, tenantID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromRecords(records))
}

// HandleGet handles GET /certificates/{certificateID} requests.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenantID, ok := h.requireTenant(w, ctx)
	if !ok {
		return
	}
	certID, err := id.ParseCertificateID(chi.URLParam(r, "certificateID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	record, err := h.service.Get(ctx, tenantID, certID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromRecord(record))
}

// HandleDeactivate handles POST /certificates/{certificateID}/deactivate.
func (h *Handler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	tenantID, ok := h.requireTenant(w, ctx)
	if !ok {
		return
	}
	certID, err := id.ParseCertificateID(chi.URLParam(r, "certificateID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	record, err := h.service.Deactivate(ctx, tenantID, certID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "certificate deactivated",
		"request_id", requestID,
		"tenant_id", tenantID,
		"certificate_id", certID,
	)
	httputil.WriteJSON(w, http.StatusOK, FromRecord(record))
}

// HandleRetryProvisioning handles POST /certificates/{certificateID}/provision.
// It re-runs provider provisioning for a record whose earlier attempt failed.
func (h *Handler) HandleRetryProvisioning(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	tenantID, ok := h.requireTenant(w, ctx)
	if !ok {
		return
	}
	certID, err := id.ParseCertificateID(chi.URLParam(r, "certificateID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	record, err := h.service.RetryProvisioning(ctx, tenantID, certID)
	if err != nil {
		h.logger.ErrorContext(ctx, "certificate provisioning retry failed",
			"request_id", requestID,
			"tenant_id", tenantID,
			"certificate_id", certID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromRecord(record))
}

func (h *Handler) requireTenant(w http.ResponseWriter, ctx context.Context) (id.TenantID, bool) {
	tenantID := requestcontext.TenantID(ctx)
	if tenantID.IsZero() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "tenant identity is required"))
		return id.TenantID{}, false
	}
	return tenantID, true
}

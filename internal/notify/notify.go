// Package notify defines the outbound notification boundary. The core only
// decides WHEN to notify; delivery (email, webhooks) is a caller concern.
package notify

import (
	"context"
	"log/slog"

	id "timbre/pkg/domain"
)

// Notification is a tenant-facing event worth telling someone about.
type Notification struct {
	TenantID id.TenantID
	Kind     string
	Subject  string
	Body     string
}

// Notification kinds emitted by the services.
const (
	KindCertificateReady    = "certificate.ready"
	KindCertificateUpload   = "certificate.upload_failed"
	KindCertificateExpiring = "certificate.expiring"
	KindInvoiceStamped      = "invoice.stamped"
	KindInvoiceFailed       = "invoice.failed"
)

// Dispatcher delivers notifications.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

// LogDispatcher logs notifications instead of delivering them. Default
// wiring until a real channel is configured.
type LogDispatcher struct {
	logger *slog.Logger
}

func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Dispatch(_ context.Context, n Notification) error {
	d.logger.Info("notification",
		"tenant_id", n.TenantID.String(),
		"kind", n.Kind,
		"subject", n.Subject,
	)
	return nil
}

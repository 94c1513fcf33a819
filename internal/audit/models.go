package audit

import "time"

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp  time.Time
	Actor      string
	Action     string
	EntityType string
	EntityID   string
	Before     string
	After      string
	RequestID  string
}

// Actions emitted by the services.
const (
	ActionCertificateUploaded    = "certificate.uploaded"
	ActionCertificateDeactivated = "certificate.deactivated"
	ActionCertificateRewrapped   = "certificate.rewrapped"
	ActionInvoiceStamped         = "invoice.stamped"
	ActionInvoiceStampFailed     = "invoice.stamp_failed"
	ActionInvoiceCancelled       = "invoice.cancelled"
	ActionInvoiceReconciled      = "invoice.reconciled"
)

// Package metrics provides observability for the invoicing module.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks issuance outcomes and stamping latency.
type Metrics struct {
	InvoicesStamped    prometheus.Counter
	InvoicesFailed     prometheus.Counter
	InvoicesCancelled  prometheus.Counter
	StampDuration      prometheus.Histogram
	FoliosAllocated    prometheus.Counter
	ReconcileRecovered prometheus.Counter
}

// New creates a Metrics instance with all invoicing metrics registered.
func New() *Metrics {
	return &Metrics{
		InvoicesStamped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "timbre_invoices_stamped_total",
			Help: "Total number of invoices successfully stamped",
		}),
		InvoicesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "timbre_invoices_failed_total",
			Help: "Total number of invoice stamping failures",
		}),
		InvoicesCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "timbre_invoices_cancelled_total",
			Help: "Total number of invoices cancelled at the provider",
		}),
		StampDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "timbre_stamp_duration_seconds",
			Help:    "Duration of provider stamping calls",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		FoliosAllocated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "timbre_folios_allocated_total",
			Help: "Total number of folios allocated",
		}),
		ReconcileRecovered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "timbre_reconcile_recovered_total",
			Help: "Invoices recovered from the stamping state by reconciliation",
		}),
	}
}

// ObserveStamp records the duration of a provider stamping call.
// Call with time.Now() captured at the start of the call.
func (m *Metrics) ObserveStamp(start time.Time) {
	m.StampDuration.Observe(time.Since(start).Seconds())
}

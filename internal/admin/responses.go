package admin

// ReconcileResponse reports how many orphaned invoices were recovered.
type ReconcileResponse struct {
	Recovered int `json:"recovered"`
}

package facturama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timbre/internal/invoice/models"
	"timbre/internal/provider"
	"timbre/internal/provider/orgs"
	id "timbre/pkg/domain"
)

// fakePAC simulates the provider API. Any request outside the endpoints the
// adapter is allowed to use fails the test; in particular there is no
// organization directory search, so a hit on one proves a protocol breach.
type fakePAC struct {
	t *testing.T

	mu          sync.Mutex
	orgCreates  int
	legalPuts   int
	csdUploads  int
	keyCreates  int
	issues      int
	lastIssue   cfdiRequest
	csdConflict bool
	issueStatus int
	issueBody   string
}

func (f *fakePAC) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/organizations", func(w http.ResponseWriter, r *http.Request) {
		if _, _, ok := r.BasicAuth(); !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.mu.Lock()
		f.orgCreates++
		f.mu.Unlock()
		json.NewEncoder(w).Encode(orgResponse{ID: "org-123"})
	})

	mux.HandleFunc("PUT /api/organizations/org-123/legal", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.legalPuts++
		uploaded := f.csdUploads
		f.mu.Unlock()
		if uploaded > 0 {
			f.t.Error("legal metadata must be set before the credential upload")
		}
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("POST /api/organizations/org-123/csds", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			f.t.Errorf("csd upload is not multipart: %v", err)
		}
		if _, _, err := r.FormFile("certificate"); err != nil {
			f.t.Error("csd upload missing certificate part")
		}
		if _, _, err := r.FormFile("privateKey"); err != nil {
			f.t.Error("csd upload missing private key part")
		}
		if r.FormValue("privateKeyPassword") == "" {
			f.t.Error("csd upload missing passphrase")
		}
		f.mu.Lock()
		f.csdUploads++
		conflict := f.csdConflict
		f.mu.Unlock()
		if conflict {
			w.WriteHeader(http.StatusConflict)
			fmt.Fprint(w, `{"Message":"csd already registered"}`)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("POST /api/organizations/org-123/apikeys", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.keyCreates++
		f.mu.Unlock()
		time.Sleep(10 * time.Millisecond) // widen the provisioning race window
		json.NewEncoder(w).Encode(apiKeyResponse{APIKey: "live-key"})
	})

	mux.HandleFunc("POST /api/cfdis", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer live-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req cfdiRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.issues++
		f.lastIssue = req
		status, body := f.issueStatus, f.issueBody
		f.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
			fmt.Fprint(w, body)
			return
		}
		json.NewEncoder(w).Encode(cfdiResponse{
			ID:          "doc-1",
			FiscalID:    "AAAA1111-2222-3333-4444-555566667777",
			Date:        "2026-03-01T12:00:00Z",
			OrderNumber: req.OrderNumber,
			XMLBase64:   base64.StdEncoding.EncodeToString([]byte("<cfdi/>")),
			PDFBase64:   base64.StdEncoding.EncodeToString([]byte("%PDF-1.7")),
		})
	})

	mux.HandleFunc("GET /api/cfdis", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("orderNumber") == "ref-known" || r.URL.Query().Get("uuid") == "known-uuid" {
			json.NewEncoder(w).Encode([]cfdiResponse{{ID: "doc-1", FiscalID: "known-uuid", OrderNumber: "ref-known"}})
			return
		}
		json.NewEncoder(w).Encode([]cfdiResponse{})
	})

	mux.HandleFunc("DELETE /api/cfdis/doc-1", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("motive") == "" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"Message":"motive is required"}`)
			return
		}
		json.NewEncoder(w).Encode(cancelResponse{Status: "canceled", UUID: "known-uuid"})
	})

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		f.t.Errorf("unexpected provider call: %s %s", r.Method, r.URL)
		w.WriteHeader(http.StatusInternalServerError)
	})

	return mux
}

func newTestAdapter(t *testing.T) (*Adapter, *fakePAC, *orgs.InMemory) {
	fake := &fakePAC{t: t}
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	store := orgs.NewInMemory()
	client := NewClient(server.URL, "account", "secret", 5*time.Second)
	return New(client, store), fake, store
}

func testOrg() provider.Organization {
	return provider.Organization{
		TaxID:     "AAA010101AAA",
		LegalName: "ACME SA DE CV",
		ZipCode:   "06000",
		TaxRegime: "601",
		Email:     "fiscal@acme.example",
	}
}

func TestGetOrCreateOrganizationCreatesOnce(t *testing.T) {
	adapter, fake, _ := newTestAdapter(t)
	ctx := context.Background()
	tenantID := id.TenantID(uuid.New())

	ref, err := adapter.GetOrCreateOrganization(ctx, tenantID, testOrg())
	require.NoError(t, err)
	assert.Equal(t, "org-123", ref.ProviderOrgID)

	// Second resolution hits only the local store.
	again, err := adapter.GetOrCreateOrganization(ctx, tenantID, testOrg())
	require.NoError(t, err)
	assert.Equal(t, ref.ProviderOrgID, again.ProviderOrgID)
	assert.Equal(t, 1, fake.orgCreates)
}

func TestOrganizationResolutionNeverSearchesProvider(t *testing.T) {
	adapter, _, store := newTestAdapter(t)
	ctx := context.Background()
	tenantID := id.TenantID(uuid.New())
	now := time.Now()

	// Tenant already mapped: resolution must not touch the provider at all.
	// The fake fails the test on any unexpected request.
	require.NoError(t, store.Create(ctx, &orgs.Organization{
		TenantID: tenantID, Provider: Name, TaxID: "AAA010101AAA",
		ProviderOrgID: "org-local", CreatedAt: now, UpdatedAt: now,
	}))

	ref, err := adapter.GetOrCreateOrganization(ctx, tenantID, testOrg())
	require.NoError(t, err)
	assert.Equal(t, "org-local", ref.ProviderOrgID)
}

func TestProvisionSigningCredential(t *testing.T) {
	adapter, fake, _ := newTestAdapter(t)
	ctx := context.Background()
	tenantID := id.TenantID(uuid.New())

	ref, err := adapter.GetOrCreateOrganization(ctx, tenantID, testOrg())
	require.NoError(t, err)

	cred := provider.SigningCredential{
		Certificate: []byte("cert-der"),
		PrivateKey:  []byte("key-der"),
		Passphrase:  "hunter2",
	}
	result, err := adapter.ProvisionSigningCredential(ctx, ref, cred)
	require.NoError(t, err)
	assert.False(t, result.AlreadyProvisioned)
	assert.Equal(t, 1, fake.legalPuts)
	assert.Equal(t, 1, fake.csdUploads)
}

func TestProvisionAlreadyProvisionedIsSuccess(t *testing.T) {
	adapter, fake, _ := newTestAdapter(t)
	ctx := context.Background()
	tenantID := id.TenantID(uuid.New())

	ref, err := adapter.GetOrCreateOrganization(ctx, tenantID, testOrg())
	require.NoError(t, err)

	fake.csdConflict = true
	result, err := adapter.ProvisionSigningCredential(ctx, ref, provider.SigningCredential{
		Certificate: []byte("c"), PrivateKey: []byte("k"), Passphrase: "p",
	})
	require.NoError(t, err)
	assert.True(t, result.AlreadyProvisioned)
}

func TestGetOrCreateLiveCredentialSingleflight(t *testing.T) {
	adapter, fake, _ := newTestAdapter(t)
	ctx := context.Background()
	tenantID := id.TenantID(uuid.New())

	ref, err := adapter.GetOrCreateOrganization(ctx, tenantID, testOrg())
	require.NoError(t, err)

	const callers = 10
	var wg sync.WaitGroup
	keys := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key, err := adapter.GetOrCreateLiveCredential(ctx, ref)
			assert.NoError(t, err)
			keys[i] = key
		}(i)
	}
	wg.Wait()

	for _, key := range keys {
		assert.Equal(t, "live-key", key)
	}
	assert.Equal(t, 1, fake.keyCreates, "concurrent provisioning must collapse to one call")

	// Subsequent calls read the stored key without a provider round trip.
	key, err := adapter.GetOrCreateLiveCredential(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "live-key", key)
	assert.Equal(t, 1, fake.keyCreates)
}

func testDocument() models.TaxDocument {
	rate := decimal.RequireFromString("0.16")
	subtotal := decimal.RequireFromString("100.00")
	tax := decimal.RequireFromString("16.00")
	return models.TaxDocument{
		Recipient: models.Party{TaxID: "XAXX010101000", LegalName: "PUBLICO EN GENERAL"},
		Concepts: []models.Concept{{
			ProductCode: "84111506",
			UnitCode:    "E48",
			Description: "Servicio",
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   subtotal,
			Amount:      subtotal,
			Taxes:       []models.TaxLine{{Code: "002", Kind: "Traslado", Base: subtotal, Rate: rate, Amount: tax}},
		}},
		Subtotal:      subtotal,
		TaxTotal:      tax,
		Total:         decimal.RequireFromString("116.00"),
		Currency:      "MXN",
		PaymentForm:   "03",
		PaymentMethod: "PUE",
		Series:        "A",
		Folio:         7,
	}
}

func TestIssueDocument(t *testing.T) {
	adapter, fake, _ := newTestAdapter(t)
	ctx := context.Background()

	result, err := adapter.IssueDocument(ctx, "live-key", provider.StampRequest{
		IdempotencyRef: "ref-42",
		Document:       testDocument(),
	})
	require.NoError(t, err)

	assert.Equal(t, "AAAA1111-2222-3333-4444-555566667777", result.FiscalID)
	assert.Equal(t, "doc-1", result.ProviderDocID)
	assert.Equal(t, []byte("<cfdi/>"), result.XML)
	assert.Equal(t, []byte("%PDF-1.7"), result.PDF)
	assert.False(t, result.StampedAt.IsZero())

	assert.Equal(t, "ref-42", fake.lastIssue.OrderNumber)
	assert.Equal(t, "A", fake.lastIssue.Serie)
	assert.Equal(t, "7", fake.lastIssue.Folio)
	require.Len(t, fake.lastIssue.Items, 1)
	assert.Equal(t, "116.00", fake.lastIssue.Items[0].Total)
	require.Len(t, fake.lastIssue.Items[0].Taxes, 1)
	assert.Equal(t, "IVA", fake.lastIssue.Items[0].Taxes[0].Name)
}

func TestIssueDocumentRejected(t *testing.T) {
	adapter, fake, _ := newTestAdapter(t)
	fake.issueStatus = http.StatusBadRequest
	fake.issueBody = `{"Message":"validation failed","ModelState":{"Receiver.Rfc":["invalid tax id"]}}`

	_, err := adapter.IssueDocument(context.Background(), "live-key", provider.StampRequest{
		IdempotencyRef: "ref-1",
		Document:       testDocument(),
	})
	require.Error(t, err)
	assert.Equal(t, provider.ErrorRejected, provider.CategoryOf(err))
	assert.False(t, provider.IsRetryable(err))
	assert.True(t, strings.Contains(err.Error(), "invalid tax id"))
}

func TestIssueDocumentOutageIsRetryable(t *testing.T) {
	adapter, fake, _ := newTestAdapter(t)
	fake.issueStatus = http.StatusServiceUnavailable
	fake.issueBody = `{"Message":"maintenance window"}`

	_, err := adapter.IssueDocument(context.Background(), "live-key", provider.StampRequest{
		IdempotencyRef: "ref-1",
		Document:       testDocument(),
	})
	require.Error(t, err)
	assert.Equal(t, provider.ErrorOutage, provider.CategoryOf(err))
	assert.True(t, provider.IsRetryable(err))
}

func TestFindDocument(t *testing.T) {
	adapter, _, _ := newTestAdapter(t)
	ctx := context.Background()

	found, err := adapter.FindDocument(ctx, "live-key", provider.DocumentQuery{IdempotencyRef: "ref-known"})
	require.NoError(t, err)
	assert.Equal(t, "known-uuid", found.FiscalID)

	_, err = adapter.FindDocument(ctx, "live-key", provider.DocumentQuery{IdempotencyRef: "ref-missing"})
	require.Error(t, err)
	assert.Equal(t, provider.ErrorNotFound, provider.CategoryOf(err))
}

func TestCancelDocument(t *testing.T) {
	adapter, _, _ := newTestAdapter(t)

	receipt, err := adapter.CancelDocument(context.Background(), "live-key", "doc-1", "02")
	require.NoError(t, err)
	assert.Equal(t, "canceled", receipt.Status)
	assert.Equal(t, "known-uuid", receipt.FiscalID)
}

func TestHealth(t *testing.T) {
	adapter, _, _ := newTestAdapter(t)
	require.NoError(t, adapter.Health(context.Background()))
}

// Package facturama implements the stamping adapter for the Facturama
// multi-emitter API.
//
// The client exposes exactly the endpoints the adapter needs. There is no
// method to search the provider's organization directory by tax id; the only
// way to obtain an organization id is to create one.
package facturama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"timbre/internal/provider"
	"timbre/pkg/platform/circuit"
)

// Name is the adapter's registry key.
const Name = "facturama"

// Client is a thin HTTP client for the Facturama API. Account-level
// endpoints (organizations, credentials) authenticate with the account's
// basic credentials; issuance endpoints use the per-organization bearer key.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
	breaker  *circuit.Breaker
}

// NewClient constructs a client for the given API base URL.
func NewClient(baseURL, username, password string, timeout time.Duration) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		http:     &http.Client{Timeout: timeout},
		breaker:  circuit.New(Name),
	}
}

// CreateOrganization registers a new organization and returns its id.
func (c *Client) CreateOrganization(ctx context.Context, org provider.Organization) (string, string, error) {
	body, raw, err := c.doJSON(ctx, http.MethodPost, "/api/organizations", account(), orgRequest{
		Rfc:   org.TaxID,
		Name:  org.LegalName,
		Email: org.Email,
	})
	if err != nil {
		return "", raw, err
	}
	var resp orgResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.ID == "" {
		return "", raw, provider.NewError(provider.ErrorBadData, Name, "organization response missing id", err)
	}
	return resp.ID, raw, nil
}

// PutLegalMetadata sets the organization's fiscal identity. Must precede the
// credential upload or the provider rejects the CSD as unmatched.
func (c *Client) PutLegalMetadata(ctx context.Context, orgID string, org provider.Organization) error {
	path := fmt.Sprintf("/api/organizations/%s/legal", url.PathEscape(orgID))
	_, _, err := c.doJSON(ctx, http.MethodPut, path, account(), legalMetadata{
		Rfc:          org.TaxID,
		LegalName:    org.LegalName,
		FiscalRegime: org.TaxRegime,
		ZipCode:      org.ZipCode,
	})
	return err
}

// UploadCSD uploads the signing credential as multipart form data. Returns
// alreadyProvisioned=true when the provider reports the CSD as present.
func (c *Client) UploadCSD(ctx context.Context, orgID string, cred provider.SigningCredential) (bool, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	certPart, err := mw.CreateFormFile("certificate", "csd.cer")
	if err == nil {
		_, err = certPart.Write(cred.Certificate)
	}
	if err != nil {
		return false, "", fmt.Errorf("build multipart: %w", err)
	}
	keyPart, err := mw.CreateFormFile("privateKey", "csd.key")
	if err == nil {
		_, err = keyPart.Write(cred.PrivateKey)
	}
	if err != nil {
		return false, "", fmt.Errorf("build multipart: %w", err)
	}
	if err := mw.WriteField("privateKeyPassword", cred.Passphrase); err != nil {
		return false, "", fmt.Errorf("build multipart: %w", err)
	}
	if err := mw.Close(); err != nil {
		return false, "", fmt.Errorf("build multipart: %w", err)
	}

	path := fmt.Sprintf("/api/organizations/%s/csds", url.PathEscape(orgID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return false, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.SetBasicAuth(c.username, c.password)

	status, raw, err := c.send(req)
	if err != nil {
		return false, raw, err
	}
	if status == http.StatusConflict {
		return true, raw, nil
	}
	if status < 200 || status > 299 {
		return false, raw, translateStatus(status, []byte(raw))
	}
	return false, raw, nil
}

// CreateAPIKey provisions the organization's live issuance credential.
func (c *Client) CreateAPIKey(ctx context.Context, orgID string) (string, error) {
	path := fmt.Sprintf("/api/organizations/%s/apikeys", url.PathEscape(orgID))
	body, _, err := c.doJSON(ctx, http.MethodPost, path, account(), struct{}{})
	if err != nil {
		return "", err
	}
	var resp apiKeyResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.APIKey == "" {
		return "", provider.NewError(provider.ErrorBadData, Name, "api key response missing key", err)
	}
	return resp.APIKey, nil
}

// Issue submits a document for stamping under the org's live credential.
func (c *Client) Issue(ctx context.Context, apiKey string, payload cfdiRequest) (cfdiResponse, string, error) {
	body, raw, err := c.doJSON(ctx, http.MethodPost, "/api/cfdis", bearer(apiKey), payload)
	if err != nil {
		return cfdiResponse{}, raw, err
	}
	var resp cfdiResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.FiscalID == "" {
		return cfdiResponse{}, raw, provider.NewError(provider.ErrorBadData, Name, "stamp response missing fiscal id", err)
	}
	return resp, raw, nil
}

// FindCFDI locates a stamped document by order number (the idempotency
// reference) or by fiscal id. Both are document-scoped queries.
func (c *Client) FindCFDI(ctx context.Context, apiKey string, query provider.DocumentQuery) (cfdiResponse, string, error) {
	q := url.Values{}
	switch {
	case query.IdempotencyRef != "":
		q.Set("orderNumber", query.IdempotencyRef)
	case query.FiscalID != "":
		q.Set("uuid", query.FiscalID)
	default:
		return cfdiResponse{}, "", provider.NewError(provider.ErrorBadData, Name, "document query is empty", nil)
	}

	body, raw, err := c.doJSON(ctx, http.MethodGet, "/api/cfdis?"+q.Encode(), bearer(apiKey), nil)
	if err != nil {
		return cfdiResponse{}, raw, err
	}
	var list []cfdiResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return cfdiResponse{}, raw, provider.NewError(provider.ErrorBadData, Name, "malformed document list", err)
	}
	if len(list) == 0 {
		return cfdiResponse{}, raw, provider.NewError(provider.ErrorNotFound, Name, "document not found", nil)
	}
	return list[0], raw, nil
}

// Cancel requests cancellation of a stamped document.
func (c *Client) Cancel(ctx context.Context, apiKey, docID, reasonCode string) (cancelResponse, string, error) {
	path := fmt.Sprintf("/api/cfdis/%s?motive=%s", url.PathEscape(docID), url.QueryEscape(reasonCode))
	body, raw, err := c.doJSON(ctx, http.MethodDelete, path, bearer(apiKey), nil)
	if err != nil {
		return cancelResponse{}, raw, err
	}
	var resp cancelResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return cancelResponse{}, raw, provider.NewError(provider.ErrorBadData, Name, "malformed cancellation response", err)
	}
	return resp, raw, nil
}

// Health probes the provider's status endpoint with account credentials.
func (c *Client) Health(ctx context.Context) error {
	_, _, err := c.doJSON(ctx, http.MethodGet, "/api/status", account(), nil)
	return err
}

type authMode int

const (
	accountAuth authMode = iota
	bearerAuth
)

type auth struct {
	mode authMode
	key  string
}

func account() auth {
	return auth{mode: accountAuth}
}

func bearer(apiKey string) auth {
	return auth{mode: bearerAuth, key: apiKey}
}

func (c *Client) doJSON(ctx context.Context, method, path string, a auth, payload any) ([]byte, string, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, "", fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch a.mode {
	case bearerAuth:
		req.Header.Set("Authorization", "Bearer "+a.key)
	default:
		req.SetBasicAuth(c.username, c.password)
	}

	status, raw, err := c.send(req)
	if err != nil {
		return nil, raw, err
	}
	if status < 200 || status > 299 {
		return nil, raw, translateStatus(status, []byte(raw))
	}
	return []byte(raw), raw, nil
}

// send performs the HTTP round trip behind a circuit breaker. Transport
// failures (unreachable host, timeout) trip the breaker; any HTTP response,
// including error statuses, counts as the provider being up.
func (c *Client) send(req *http.Request) (int, string, error) {
	if c.breaker.IsOpen() {
		return 0, "", provider.NewError(provider.ErrorOutage, Name, "circuit open, request not attempted", nil)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			return 0, "", provider.NewError(provider.ErrorTimeout, Name, "request timed out", err)
		}
		return 0, "", provider.NewError(provider.ErrorOutage, Name, "provider unreachable", err)
	}
	defer resp.Body.Close()
	c.breaker.RecordSuccess()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return 0, "", provider.NewError(provider.ErrorBadData, Name, "read response", err)
	}
	return resp.StatusCode, string(raw), nil
}

// translateStatus maps provider HTTP failures into the normalized taxonomy.
// The error body's Message and per-field ModelState entries are folded into
// the message so operators see the provider's own diagnosis.
func translateStatus(status int, body []byte) error {
	msg := fmt.Sprintf("http %d", status)
	var parsed errorResponse
	if json.Unmarshal(body, &parsed) == nil && parsed.Message != "" {
		msg = parsed.Message
		for field, details := range parsed.ModelState {
			msg += fmt.Sprintf("; %s: %s", field, strings.Join(details, ", "))
		}
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return provider.NewError(provider.ErrorAuthentication, Name, msg, nil)
	case status == http.StatusNotFound:
		return provider.NewError(provider.ErrorNotFound, Name, msg, nil)
	case status == http.StatusTooManyRequests:
		return provider.NewError(provider.ErrorRateLimited, Name, msg, nil)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return provider.NewError(provider.ErrorRejected, Name, msg, nil)
	case status >= 500:
		return provider.NewError(provider.ErrorOutage, Name, msg, nil)
	default:
		return provider.NewError(provider.ErrorInternal, Name, msg, nil)
	}
}

package facturama

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"timbre/internal/invoice/models"
	"timbre/internal/provider"
)

// Wire types for the Facturama multi-emitter REST API. Field names follow
// the provider's JSON contract.

type orgRequest struct {
	Rfc   string `json:"Rfc"`
	Name  string `json:"Name"`
	Email string `json:"Email,omitempty"`
}

type orgResponse struct {
	ID string `json:"Id"`
}

type legalMetadata struct {
	Rfc          string `json:"Rfc"`
	LegalName    string `json:"LegalName"`
	FiscalRegime string `json:"FiscalRegime"`
	ZipCode      string `json:"TaxZipCode"`
}

type apiKeyResponse struct {
	APIKey string `json:"ApiKey"`
}

type taxWire struct {
	Total       string `json:"Total"`
	Name        string `json:"Name"`
	Base        string `json:"Base"`
	Rate        string `json:"Rate"`
	IsRetention bool   `json:"IsRetention"`
}

type itemWire struct {
	ProductCode string    `json:"ProductCode"`
	UnitCode    string    `json:"UnitCode"`
	Description string    `json:"Description"`
	Quantity    string    `json:"Quantity"`
	UnitPrice   string    `json:"UnitPrice"`
	Subtotal    string    `json:"Subtotal"`
	Total       string    `json:"Total"`
	Taxes       []taxWire `json:"Taxes"`
}

type receiverWire struct {
	Rfc     string `json:"Rfc"`
	Name    string `json:"Name"`
	CfdiUse string `json:"CfdiUse"`
	Email   string `json:"Email,omitempty"`
}

type cfdiRequest struct {
	Serie         string       `json:"Serie"`
	Folio         string       `json:"Folio"`
	Currency      string       `json:"Currency"`
	PaymentForm   string       `json:"PaymentForm"`
	PaymentMethod string       `json:"PaymentMethod"`
	OrderNumber   string       `json:"OrderNumber"` // carries the idempotency reference
	Receiver      receiverWire `json:"Receiver"`
	Items         []itemWire   `json:"Items"`
}

type cfdiResponse struct {
	ID          string `json:"Id"`
	FiscalID    string `json:"Uuid"`
	Date        string `json:"Date"`
	OrderNumber string `json:"OrderNumber"`
	XMLBase64   string `json:"XmlBase64"`
	PDFBase64   string `json:"PdfBase64"`
}

type cancelResponse struct {
	Status string `json:"Status"`
	UUID   string `json:"Uuid"`
}

type errorResponse struct {
	Message    string              `json:"Message"`
	ModelState map[string][]string `json:"ModelState"`
}

// defaultCfdiUse is the general-expenses use code; recipient-specific use
// codes are a future per-request field.
const defaultCfdiUse = "G03"

func toWire(doc models.TaxDocument, ref string) cfdiRequest {
	items := make([]itemWire, 0, len(doc.Concepts))
	for _, c := range doc.Concepts {
		taxes := make([]taxWire, 0, len(c.Taxes))
		for _, t := range c.Taxes {
			taxes = append(taxes, taxWire{
				Total: t.Amount.StringFixed(2),
				Name:  taxName(t.Code),
				Base:  t.Base.StringFixed(2),
				Rate:  t.Rate.String(),
			})
		}
		items = append(items, itemWire{
			ProductCode: c.ProductCode,
			UnitCode:    c.UnitCode,
			Description: c.Description,
			Quantity:    c.Quantity.String(),
			UnitPrice:   c.UnitPrice.StringFixed(2),
			Subtotal:    c.Amount.StringFixed(2),
			Total:       c.Amount.Add(taxTotal(c)).StringFixed(2),
			Taxes:       taxes,
		})
	}
	return cfdiRequest{
		Serie:         doc.Series,
		Folio:         formatFolio(doc.Folio),
		Currency:      doc.Currency,
		PaymentForm:   doc.PaymentForm,
		PaymentMethod: doc.PaymentMethod,
		OrderNumber:   ref,
		Receiver: receiverWire{
			Rfc:     doc.Recipient.TaxID,
			Name:    doc.Recipient.LegalName,
			CfdiUse: defaultCfdiUse,
			Email:   doc.Recipient.Email,
		},
		Items: items,
	}
}

func taxName(code string) string {
	if code == "002" {
		return "IVA"
	}
	return code
}

func taxTotal(c models.Concept) decimal.Decimal {
	sum := decimal.Zero
	for _, t := range c.Taxes {
		sum = sum.Add(t.Amount)
	}
	return sum
}

func formatFolio(folio int64) string {
	return strconv.FormatInt(folio, 10)
}

// decodeArtifact decodes a base64 artifact body. An empty body is allowed
// (the provider omits artifacts on some list endpoints).
func decodeArtifact(b64 string) ([]byte, error) {
	if b64 == "" {
		return nil, nil
	}
	out, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	return out, nil
}

func toStampResult(resp cfdiResponse, raw string) (*provider.StampResult, error) {
	xmlBytes, err := decodeArtifact(resp.XMLBase64)
	if err != nil {
		return nil, err
	}
	pdfBytes, err := decodeArtifact(resp.PDFBase64)
	if err != nil {
		return nil, err
	}
	stampedAt, _ := time.Parse(time.RFC3339, resp.Date)
	return &provider.StampResult{
		FiscalID:      resp.FiscalID,
		ProviderDocID: resp.ID,
		XML:           xmlBytes,
		PDF:           pdfBytes,
		StampedAt:     stampedAt,
		RawResponse:   raw,
	}, nil
}

package builder

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timbre/internal/invoice/models"
)

func buildReq(total, rate string) Request {
	return Request{
		Issuer:    models.Party{TaxID: "AAA010101AAA", LegalName: "ACME SA DE CV"},
		Recipient: models.Party{TaxID: "XAXX010101000", LegalName: "Público en General"},
		Total:     decimal.RequireFromString(total),
		Rate:      decimal.RequireFromString(rate),
		Series:    "A",
		Folio:     42,
		IssuedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestBuild_CanonicalExample(t *testing.T) {
	doc, err := New().Build(buildReq("116.00", "0.16"))
	require.NoError(t, err)

	assert.True(t, doc.Subtotal.Equal(decimal.RequireFromString("100.00")), "subtotal = %s", doc.Subtotal)
	assert.True(t, doc.TaxTotal.Equal(decimal.RequireFromString("16.00")), "tax = %s", doc.TaxTotal)
	assert.True(t, doc.Total.Equal(decimal.RequireFromString("116.00")))
}

func TestBuild_SingleSyntheticConcept(t *testing.T) {
	doc, err := New().Build(buildReq("232.00", "0.16"))
	require.NoError(t, err)

	require.Len(t, doc.Concepts, 1)
	concept := doc.Concepts[0]
	assert.Equal(t, DefaultProductCode, concept.ProductCode)
	assert.Equal(t, DefaultUnitCode, concept.UnitCode)
	assert.True(t, concept.Quantity.Equal(decimal.NewFromInt(1)))
	assert.True(t, concept.UnitPrice.Equal(doc.Subtotal))
	assert.True(t, concept.Amount.Equal(doc.Subtotal))

	require.Len(t, concept.Taxes, 1)
	taxLine := concept.Taxes[0]
	assert.Equal(t, "002", taxLine.Code)
	assert.Equal(t, "Traslado", taxLine.Kind)
	assert.True(t, taxLine.Base.Equal(doc.Subtotal))
	assert.True(t, taxLine.Amount.Equal(doc.TaxTotal))
}

func TestBuild_Defaults(t *testing.T) {
	doc, err := New().Build(buildReq("116.00", "0.16"))
	require.NoError(t, err)

	assert.Equal(t, DefaultCurrency, doc.Currency)
	assert.Equal(t, DefaultPaymentForm, doc.PaymentForm)
	assert.Equal(t, DefaultPaymentMethod, doc.PaymentMethod)
	assert.Equal(t, DefaultDescription, doc.Concepts[0].Description)
	assert.Equal(t, "A", doc.Series)
	assert.Equal(t, int64(42), doc.Folio)
}

func TestBuild_RejectsNonPositiveTotal(t *testing.T) {
	for _, total := range []string{"0", "-10.00"} {
		_, err := New().Build(buildReq(total, "0.16"))
		require.Error(t, err, "total %s", total)
	}
}

func TestBuild_RejectsRateOutOfRange(t *testing.T) {
	for _, rate := range []string{"0", "-0.16", "1", "1.5"} {
		_, err := New().Build(buildReq("116.00", rate))
		require.Error(t, err, "rate %s", rate)
	}
}

// TestBuild_ResidualInvariant checks the core rounding guarantee: for any
// positive total and rate in (0,1), subtotal + tax reconstructs the total
// exactly and both parts are non-negative.
func TestBuild_ResidualInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	rates := []string{"0.16", "0.08", "0.105", "0.0333", "0.99"}

	b := New()
	for i := 0; i < 500; i++ {
		cents := rng.Int63n(10_000_000) + 1 // up to $100,000.00
		total := decimal.New(cents, -2)
		rate := decimal.RequireFromString(rates[i%len(rates)])

		req := buildReq(total.String(), rate.String())
		doc, err := b.Build(req)
		require.NoError(t, err)

		sum := doc.Subtotal.Add(doc.TaxTotal)
		require.True(t, sum.Equal(total),
			fmt.Sprintf("total=%s rate=%s subtotal=%s tax=%s", total, rate, doc.Subtotal, doc.TaxTotal))
		require.False(t, doc.Subtotal.IsNegative())
		require.False(t, doc.TaxTotal.IsNegative())
		require.True(t, doc.Subtotal.Exponent() >= -2, "subtotal rounded to cents")
	}
}

// One-cent boundary: 100.01 at 16% — tax must absorb the rounding residue.
func TestBuild_OneCentResidue(t *testing.T) {
	doc, err := New().Build(buildReq("100.01", "0.16"))
	require.NoError(t, err)

	assert.True(t, doc.Subtotal.Add(doc.TaxTotal).Equal(decimal.RequireFromString("100.01")))
}

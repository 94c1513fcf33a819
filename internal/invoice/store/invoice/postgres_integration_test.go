//go:build integration

package invoice_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"timbre/internal/invoice/models"
	"timbre/internal/invoice/store/invoice"
	id "timbre/pkg/domain"
	"timbre/pkg/platform/sentinel"
	"timbre/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *invoice.Postgres
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = invoice.NewPostgres(s.postgres.Pool)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateAll(context.Background()))
}

func newTestInvoice(tenantID id.TenantID) *models.Invoice {
	now := time.Now().UTC()
	return &models.Invoice{
		ID:             id.InvoiceID(uuid.New()),
		TenantID:       tenantID,
		PaymentID:      id.PaymentID(uuid.New()),
		Series:         "A",
		Status:         models.StatusStamping,
		RecipientName:  "PUBLICO EN GENERAL",
		RecipientTaxID: "XAXX010101000",
		Subtotal:       decimal.RequireFromString("100"),
		TaxTotal:       decimal.RequireFromString("16"),
		Total:          decimal.RequireFromString("116"),
		Currency:       "MXN",
		IdempotencyRef: uuid.NewString(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// TestConcurrentFolioAllocation verifies folio numbers stay gapless and
// unique when one tenant stamps concurrently.
func (s *PostgresStoreSuite) TestConcurrentFolioAllocation() {
	ctx := context.Background()
	tenantID := id.TenantID(uuid.New())
	const goroutines = 50

	var wg sync.WaitGroup
	var failures atomic.Int32
	folios := make(chan int64, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inv := newTestInvoice(tenantID)
			if err := s.store.CreateWithFolio(ctx, inv); err != nil {
				failures.Add(1)
				return
			}
			folios <- inv.Folio
		}()
	}

	wg.Wait()
	close(folios)

	s.Equal(int32(0), failures.Load(), "every allocation should succeed")

	seen := make(map[int64]bool, goroutines)
	for folio := range folios {
		s.False(seen[folio], "folio %d allocated twice", folio)
		seen[folio] = true
	}
	for f := int64(1); f <= goroutines; f++ {
		s.True(seen[f], "folio sequence has a gap at %d", f)
	}
}

// TestFolioCountersArePerTenant verifies two tenants allocate independently.
func (s *PostgresStoreSuite) TestFolioCountersArePerTenant() {
	ctx := context.Background()
	first := newTestInvoice(id.TenantID(uuid.New()))
	second := newTestInvoice(id.TenantID(uuid.New()))

	s.Require().NoError(s.store.CreateWithFolio(ctx, first))
	s.Require().NoError(s.store.CreateWithFolio(ctx, second))

	s.Equal(int64(1), first.Folio)
	s.Equal(int64(1), second.Folio)
}

func (s *PostgresStoreSuite) TestApplyRoundTrip() {
	ctx := context.Background()
	inv := newTestInvoice(id.TenantID(uuid.New()))
	s.Require().NoError(s.store.CreateWithFolio(ctx, inv))

	stampedAt := time.Now().UTC().Truncate(time.Microsecond)
	fiscalID := uuid.NewString()
	updated, err := s.store.Apply(ctx, inv.ID, func(current models.Invoice) (models.Invoice, error) {
		return current.WithStamped(fiscalID, "doc-1", []byte("<xml/>"), []byte("%PDF"), `{"ok":true}`, stampedAt), nil
	})
	s.Require().NoError(err)
	s.Equal(models.StatusStamped, updated.Status)

	found, err := s.store.FindByFiscalID(ctx, fiscalID)
	s.Require().NoError(err)
	s.Equal(inv.ID, found.ID)
	s.Equal([]byte("<xml/>"), found.XMLArtifact)
	s.True(found.Subtotal.Equal(decimal.RequireFromString("100")))
}

func (s *PostgresStoreSuite) TestListByStatus() {
	ctx := context.Background()
	tenantID := id.TenantID(uuid.New())

	pending := newTestInvoice(tenantID)
	s.Require().NoError(s.store.CreateWithFolio(ctx, pending))

	stamped := newTestInvoice(tenantID)
	s.Require().NoError(s.store.CreateWithFolio(ctx, stamped))
	_, err := s.store.Apply(ctx, stamped.ID, func(current models.Invoice) (models.Invoice, error) {
		return current.WithStamped(uuid.NewString(), "doc-2", nil, nil, "{}", time.Now().UTC()), nil
	})
	s.Require().NoError(err)

	orphans, err := s.store.ListByStatus(ctx, models.StatusStamping)
	s.Require().NoError(err)
	s.Require().Len(orphans, 1)
	s.Equal(pending.ID, orphans[0].ID)
}

func (s *PostgresStoreSuite) TestNotFoundErrors() {
	ctx := context.Background()

	_, err := s.store.FindByID(ctx, id.InvoiceID(uuid.New()))
	s.ErrorIs(err, sentinel.ErrNotFound)

	_, err = s.store.FindByFiscalID(ctx, uuid.NewString())
	s.ErrorIs(err, sentinel.ErrNotFound)

	// An empty fiscal id never matches rows that have not been stamped yet.
	_, err = s.store.FindByFiscalID(ctx, "")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

package certificate

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"timbre/internal/certificate/crypto"
	"timbre/internal/certificate/models"
	id "timbre/pkg/domain"
	"timbre/pkg/platform/sentinel"
)

type CertificateStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func (s *CertificateStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func TestCertificateStoreSuite(t *testing.T) {
	suite.Run(t, new(CertificateStoreSuite))
}

func (s *CertificateStoreSuite) newRecord(tenantID id.TenantID, serial, taxID string) *models.Record {
	now := time.Now()
	record, err := models.NewRecord(
		id.CertificateID(uuid.New()), tenantID,
		serial, "ACME SA DE CV", "AC SAT", "SAT", taxID,
		now.AddDate(-1, 0, 0), now.AddDate(1, 0, 0),
		crypto.EncryptedBundle{KeyRef: crypto.SlotCurrent},
		now,
	)
	s.Require().NoError(err)
	return record
}

func (s *CertificateStoreSuite) TestCreateAndFind() {
	tenantID := id.TenantID(uuid.New())
	record := s.newRecord(tenantID, "30001000000400002463", "AAA010101AAA")
	s.Require().NoError(s.store.Create(s.ctx, record))

	found, err := s.store.FindByID(s.ctx, record.ID)
	s.Require().NoError(err)
	s.Equal(record.SerialNumber, found.SerialNumber)

	_, err = s.store.FindByID(s.ctx, id.CertificateID(uuid.New()))
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *CertificateStoreSuite) TestDuplicateSerialConflicts() {
	tenantID := id.TenantID(uuid.New())
	s.Require().NoError(s.store.Create(s.ctx, s.newRecord(tenantID, "SER-1", "AAA010101AAA")))

	dup := s.newRecord(tenantID, "SER-1", "AAA010101AAA")
	s.Require().ErrorIs(s.store.Create(s.ctx, dup), sentinel.ErrConflict)
}

func (s *CertificateStoreSuite) TestTaxIDBoundToOtherTenantConflicts() {
	s.Require().NoError(s.store.Create(s.ctx, s.newRecord(id.TenantID(uuid.New()), "SER-1", "AAA010101AAA")))

	other := s.newRecord(id.TenantID(uuid.New()), "SER-2", "aaa010101aaa")
	s.Require().ErrorIs(s.store.Create(s.ctx, other), sentinel.ErrConflict)
}

func (s *CertificateStoreSuite) TestSameTenantMayRenewWithSameTaxID() {
	tenantID := id.TenantID(uuid.New())
	s.Require().NoError(s.store.Create(s.ctx, s.newRecord(tenantID, "SER-1", "AAA010101AAA")))
	s.Require().NoError(s.store.Create(s.ctx, s.newRecord(tenantID, "SER-2", "AAA010101AAA")))
}

func (s *CertificateStoreSuite) TestFindUsablePrefersNewest() {
	tenantID := id.TenantID(uuid.New())
	older := s.newRecord(tenantID, "SER-1", "AAA010101AAA")
	older.CreatedAt = time.Now().Add(-time.Hour)
	newer := s.newRecord(tenantID, "SER-2", "AAA010101AAA")

	s.Require().NoError(s.store.Create(s.ctx, older))
	s.Require().NoError(s.store.Create(s.ctx, newer))

	found, err := s.store.FindUsableByTenant(s.ctx, tenantID)
	s.Require().NoError(err)
	s.Equal("SER-2", found.SerialNumber)
}

func (s *CertificateStoreSuite) TestFindUsableSkipsInactive() {
	tenantID := id.TenantID(uuid.New())
	record := s.newRecord(tenantID, "SER-1", "AAA010101AAA")
	s.Require().NoError(s.store.Create(s.ctx, record))

	_, err := s.store.Apply(s.ctx, record.ID, func(current models.Record) (models.Record, error) {
		return current.WithDeactivated(time.Now()), nil
	})
	s.Require().NoError(err)

	_, err = s.store.FindUsableByTenant(s.ctx, tenantID)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *CertificateStoreSuite) TestApplyPersistsSnapshot() {
	tenantID := id.TenantID(uuid.New())
	record := s.newRecord(tenantID, "SER-1", "AAA010101AAA")
	s.Require().NoError(s.store.Create(s.ctx, record))

	now := time.Now()
	updated, err := s.store.Apply(s.ctx, record.ID, func(current models.Record) (models.Record, error) {
		return current.WithUse(now), nil
	})
	s.Require().NoError(err)
	s.Equal(1, updated.UsageCount)

	found, err := s.store.FindByID(s.ctx, record.ID)
	s.Require().NoError(err)
	s.Equal(1, found.UsageCount)
	s.Require().NotNil(found.LastUsed)
}

func (s *CertificateStoreSuite) TestApplyMutateErrorLeavesRecordUntouched() {
	tenantID := id.TenantID(uuid.New())
	record := s.newRecord(tenantID, "SER-1", "AAA010101AAA")
	s.Require().NoError(s.store.Create(s.ctx, record))

	_, err := s.store.Apply(s.ctx, record.ID, func(current models.Record) (models.Record, error) {
		return models.Record{}, sentinel.ErrInvalidState
	})
	s.Require().ErrorIs(err, sentinel.ErrInvalidState)

	found, err := s.store.FindByID(s.ctx, record.ID)
	s.Require().NoError(err)
	s.Equal(0, found.UsageCount)
}

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fechomap/cargas-gas/internal/domain"
	"github.com/Fechomap/cargas-gas/internal/store"
)

func setupMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(sqlx.NewDb(db, "postgres")), mock
}

var tenantCols = []string{
	"id", "company_name", "chat_id", "is_active", "is_approved", "registration_token",
	"linked_token", "contact_name", "contact_phone", "contact_email", "notes", "created_at", "updated_at",
}

func TestTenantByChatIDNotFound(t *testing.T) {
	s, mock := setupMockStore(t)
	mock.ExpectQuery(`SELECT .* FROM tenants WHERE chat_id = \$1`).
		WithArgs("-100").
		WillReturnRows(sqlmock.NewRows(tenantCols))

	_, err := s.TenantByChatID(context.Background(), "-100")
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTenantByChatIDFound(t *testing.T) {
	s, mock := setupMockStore(t)
	now := time.Now()
	mock.ExpectQuery(`SELECT .* FROM tenants WHERE chat_id = \$1`).
		WithArgs("-100").
		WillReturnRows(sqlmock.NewRows(tenantCols).AddRow(
			"t1", "Acme", "-100", true, true, nil, "ABC234", "Ana", "555", "a@acme.mx", nil, now, now,
		))

	tn, err := s.TenantByChatID(context.Background(), "-100")
	require.NoError(t, err)
	assert.Equal(t, "Acme", tn.CompanyName)
	assert.Nil(t, tn.RegistrationToken)
	require.NotNil(t, tn.LinkedToken)
	assert.Equal(t, "ABC234", *tn.LinkedToken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLinkInsideTransaction(t *testing.T) {
	s, mock := setupMockStore(t)
	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM tenants WHERE registration_token = \$1 OR linked_token = \$1\s+LIMIT 1 FOR UPDATE`).
		WithArgs("ABC234").
		WillReturnRows(sqlmock.NewRows(tenantCols).AddRow(
			"t1", "Acme", "pending_x", true, true, "ABC234", nil, "", "", "", nil, now, now,
		))
	mock.ExpectExec(`UPDATE tenants\s+SET chat_id = \$2`).
		WithArgs("t1", "-100", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), func(tx store.Tx) error {
		tn, err := tx.LockTenantByToken(context.Background(), "ABC234")
		if err != nil {
			return err
		}
		ok, err := tx.LinkTenant(context.Background(), tn.ID, "-100", now)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("not linked")
		}
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s, mock := setupMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE registration_requests`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := s.WithTx(context.Background(), func(tx store.Tx) error {
		ok, err := tx.FinishRequest(context.Background(), store.Finish{
			RequestID: 7, Status: domain.RequestRejected, ProcessedBy: 1, ProcessedAt: time.Now(),
		})
		require.NoError(t, err)
		assert.False(t, ok)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUnitDuplicate(t *testing.T) {
	s, mock := setupMockStore(t)
	mock.ExpectQuery(`INSERT INTO units`).
		WithArgs("t1", "Juan", "U-01").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "units_tenant_id_unit_number_key"})

	err := s.CreateUnit(context.Background(), &domain.Unit{TenantID: "t1", OperatorName: "Juan", UnitNumber: "U-01"})
	assert.ErrorIs(t, err, store.ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertFuel(t *testing.T) {
	s, mock := setupMockStore(t)
	created := time.Now()
	rec := &domain.FuelRecord{
		ID: "r1", TenantID: "t1", UnitID: 3,
		Liters: decimal.RequireFromString("12.5"), Amount: decimal.RequireFromString("350.00"),
		FuelType: domain.FuelGas, SaleNumber: "4521", PaymentStatus: domain.Unpaid,
		RecordDate: created, CreatedBy: 9,
	}
	mock.ExpectQuery(`INSERT INTO fuel_records`).
		WithArgs("r1", "t1", int64(3), rec.Liters, rec.Amount, rec.FuelType, "4521", rec.PaymentStatus,
			nil, sqlmock.AnyArg(), nil, int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))

	require.NoError(t, s.InsertFuel(context.Background(), rec))
	assert.Equal(t, created, rec.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkPaidAlreadyPaid(t *testing.T) {
	s, mock := setupMockStore(t)
	now := time.Now()
	mock.ExpectExec(`UPDATE fuel_records SET payment_status`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM fuel_records WHERE tenant_id = \$1 AND id = \$2`).
		WithArgs("t1", "r1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "unit_id", "liters", "amount", "fuel_type", "sale_number", "payment_status",
			"ticket_photo_ref", "record_date", "payment_date", "created_by", "created_at",
		}).AddRow("r1", "t1", 3, "12.5", "350", "GAS", "4521", "PAGADA", nil, now, now, 9, now))

	ok, err := s.MarkPaid(context.Background(), "t1", "r1", now)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

// Package postgres implements store.Store on PostgreSQL through sqlx.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/Fechomap/cargas-gas/internal/domain"
	"github.com/Fechomap/cargas-gas/internal/store"
)

const tenantColumns = `id, company_name, chat_id, is_active, is_approved, registration_token,
	linked_token, contact_name, contact_phone, contact_email, notes, created_at, updated_at`

const requestColumns = `id, company_name, contact_name, contact_phone, contact_email, requester_id,
	requester_username, status, processed_by, processed_at, admin_notes, tenant_id, created_at`

const fuelColumns = `id, tenant_id, unit_id, liters, amount, fuel_type, sale_number, payment_status,
	ticket_photo_ref, record_date, payment_date, created_by, created_at`

const uniqueViolation = "23505"

// Store implements store.Store.
type Store struct {
	db *sqlx.DB
}

var _ store.Store = (*Store)(nil)

// New wraps an open connection pool.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", store.ErrDuplicate, pqErr.Constraint)
	}
	return err
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func tenantByChat(ctx context.Context, q queryer, chatID string) (*domain.Tenant, error) {
	var t domain.Tenant
	err := q.GetContext(ctx, &t, `SELECT `+tenantColumns+` FROM tenants WHERE chat_id = $1`, chatID)
	if err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (s *Store) TenantByChatID(ctx context.Context, chatID string) (*domain.Tenant, error) {
	return tenantByChat(ctx, s.db, chatID)
}

func (s *Store) TenantByID(ctx context.Context, id string) (*domain.Tenant, error) {
	var t domain.Tenant
	err := s.db.GetContext(ctx, &t, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
	if err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (s *Store) LoadSettings(ctx context.Context, tenantID string) (*store.SettingsRecord, error) {
	var rec store.SettingsRecord
	err := s.db.GetContext(ctx, &rec, `
		SELECT tenant_id, currency, timezone, features, notifications
		FROM tenant_settings WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return nil, mapErr(err)
	}
	return &rec, nil
}

func (s *Store) EnsureSettings(ctx context.Context, rec store.SettingsRecord) error {
	return insertSettings(ctx, s.db, rec, true)
}

func insertSettings(ctx context.Context, q queryer, rec store.SettingsRecord, ignoreExisting bool) error {
	query := `
		INSERT INTO tenant_settings (tenant_id, currency, timezone, features, notifications)
		VALUES ($1, $2, $3, $4, $5)`
	if ignoreExisting {
		query += ` ON CONFLICT (tenant_id) DO NOTHING`
	}
	_, err := q.ExecContext(ctx, query,
		rec.TenantID, rec.Currency, rec.Timezone, []byte(rec.Features), []byte(rec.Notifications))
	return mapErr(err)
}

func (s *Store) CreateRequest(ctx context.Context, req *domain.RegistrationRequest) error {
	if req.Status == "" {
		req.Status = domain.RequestPending
	}
	row := s.db.QueryRowxContext(ctx, `
		INSERT INTO registration_requests
			(company_name, contact_name, contact_phone, contact_email, requester_id, requester_username, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		req.CompanyName, req.ContactName, req.ContactPhone, req.ContactEmail,
		req.RequesterID, req.RequesterUsername, req.Status)
	return mapErr(row.Scan(&req.ID, &req.CreatedAt))
}

func (s *Store) ListPending(ctx context.Context) ([]domain.RegistrationRequest, error) {
	var out []domain.RegistrationRequest
	err := s.db.SelectContext(ctx, &out, `SELECT `+requestColumns+`
		FROM registration_requests WHERE status = $1 ORDER BY created_at, id`, domain.RequestPending)
	return out, mapErr(err)
}

func (s *Store) RequestByID(ctx context.Context, id int64) (*domain.RegistrationRequest, error) {
	var r domain.RegistrationRequest
	err := s.db.GetContext(ctx, &r, `SELECT `+requestColumns+` FROM registration_requests WHERE id = $1`, id)
	if err != nil {
		return nil, mapErr(err)
	}
	return &r, nil
}

func (s *Store) ListUnits(ctx context.Context, tenantID string) ([]domain.Unit, error) {
	var out []domain.Unit
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, tenant_id, operator_name, unit_number, is_active, created_at
		FROM units WHERE tenant_id = $1 AND is_active ORDER BY unit_number`, tenantID)
	return out, mapErr(err)
}

func (s *Store) UnitByID(ctx context.Context, tenantID string, id int64) (*domain.Unit, error) {
	var u domain.Unit
	err := s.db.GetContext(ctx, &u, `
		SELECT id, tenant_id, operator_name, unit_number, is_active, created_at
		FROM units WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

func (s *Store) CreateUnit(ctx context.Context, u *domain.Unit) error {
	u.IsActive = true
	row := s.db.QueryRowxContext(ctx, `
		INSERT INTO units (tenant_id, operator_name, unit_number, is_active)
		VALUES ($1, $2, $3, TRUE)
		RETURNING id, created_at`, u.TenantID, u.OperatorName, u.UnitNumber)
	return mapErr(row.Scan(&u.ID, &u.CreatedAt))
}

func (s *Store) InsertFuel(ctx context.Context, rec *domain.FuelRecord) error {
	row := s.db.QueryRowxContext(ctx, `
		INSERT INTO fuel_records
			(id, tenant_id, unit_id, liters, amount, fuel_type, sale_number, payment_status,
			 ticket_photo_ref, record_date, payment_date, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at`,
		rec.ID, rec.TenantID, rec.UnitID, rec.Liters, rec.Amount, rec.FuelType, rec.SaleNumber,
		rec.PaymentStatus, rec.TicketPhotoRef, rec.RecordDate, rec.PaymentDate, rec.CreatedBy)
	return mapErr(row.Scan(&rec.CreatedAt))
}

func (s *Store) FuelByID(ctx context.Context, tenantID, id string) (*domain.FuelRecord, error) {
	var r domain.FuelRecord
	err := s.db.GetContext(ctx, &r, `SELECT `+fuelColumns+`
		FROM fuel_records WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return nil, mapErr(err)
	}
	return &r, nil
}

func (s *Store) UpdateRecordDate(ctx context.Context, tenantID, id string, date time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE fuel_records SET record_date = $3 WHERE tenant_id = $1 AND id = $2`, tenantID, id, date)
	if err != nil {
		return mapErr(err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SearchBySale(ctx context.Context, tenantID, sale string, limit int) ([]domain.FuelRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []domain.FuelRecord
	err := s.db.SelectContext(ctx, &out, `SELECT `+fuelColumns+`
		FROM fuel_records WHERE tenant_id = $1 AND upper(sale_number) = upper($2)
		ORDER BY record_date DESC LIMIT $3`, tenantID, sale, limit)
	return out, mapErr(err)
}

func (s *Store) MarkPaid(ctx context.Context, tenantID, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE fuel_records SET payment_status = $3, payment_date = $4
		WHERE tenant_id = $1 AND id = $2 AND payment_status = $5`,
		tenantID, id, domain.Paid, at, domain.Unpaid)
	if err != nil {
		return false, mapErr(err)
	}
	ok, err := affected(res)
	if err != nil || ok {
		return ok, err
	}
	if _, err := s.FuelByID(ctx, tenantID, id); err != nil {
		return false, err
	}
	return false, nil
}

// WithTx runs fn inside a READ COMMITTED transaction. Row locks taken by the
// Tx lock methods are held until commit or rollback.
func (s *Store) WithTx(ctx context.Context, fn func(store.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type txStore struct {
	tx *sqlx.Tx
}

func (t *txStore) LockRequest(ctx context.Context, id int64) (*domain.RegistrationRequest, error) {
	var r domain.RegistrationRequest
	err := t.tx.GetContext(ctx, &r, `SELECT `+requestColumns+`
		FROM registration_requests WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, mapErr(err)
	}
	return &r, nil
}

func (t *txStore) TokenInUse(ctx context.Context, token string) (bool, error) {
	var n int
	err := t.tx.GetContext(ctx, &n, `
		SELECT count(*) FROM tenants WHERE registration_token = $1 OR linked_token = $1`, token)
	if err != nil {
		return false, mapErr(err)
	}
	return n > 0, nil
}

func (t *txStore) InsertTenant(ctx context.Context, tn *domain.Tenant) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO tenants
			(id, company_name, chat_id, is_active, is_approved, registration_token,
			 contact_name, contact_phone, contact_email, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		tn.ID, tn.CompanyName, tn.ChatID, tn.IsActive, tn.IsApproved, tn.RegistrationToken,
		tn.ContactName, tn.ContactPhone, tn.ContactEmail, tn.Notes)
	return mapErr(err)
}

func (t *txStore) InsertSettings(ctx context.Context, rec store.SettingsRecord) error {
	return insertSettings(ctx, t.tx, rec, false)
}

func (t *txStore) FinishRequest(ctx context.Context, f store.Finish) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE registration_requests
		SET status = $2, processed_by = $3, processed_at = $4, admin_notes = $5, tenant_id = $6
		WHERE id = $1 AND status = $7`,
		f.RequestID, f.Status, f.ProcessedBy, f.ProcessedAt, f.AdminNotes, f.TenantID, domain.RequestPending)
	if err != nil {
		return false, mapErr(err)
	}
	return affected(res)
}

func (t *txStore) LockTenantByToken(ctx context.Context, token string) (*domain.Tenant, error) {
	var tn domain.Tenant
	err := t.tx.GetContext(ctx, &tn, `SELECT `+tenantColumns+`
		FROM tenants WHERE registration_token = $1 OR linked_token = $1
		LIMIT 1 FOR UPDATE`, token)
	if err != nil {
		return nil, mapErr(err)
	}
	return &tn, nil
}

func (t *txStore) TenantByChatID(ctx context.Context, chatID string) (*domain.Tenant, error) {
	return tenantByChat(ctx, t.tx, chatID)
}

func (t *txStore) LinkTenant(ctx context.Context, tenantID, chatID string, at time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE tenants
		SET chat_id = $2, is_approved = TRUE, linked_token = registration_token,
		    registration_token = NULL, updated_at = $3
		WHERE id = $1 AND registration_token IS NOT NULL AND chat_id LIKE 'pending\_%'`,
		tenantID, chatID, at)
	if err != nil {
		return false, mapErr(err)
	}
	return affected(res)
}

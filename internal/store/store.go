// Package store declares the record store used by the pipeline and the
// workflows. Implementations live in the memory and postgres subpackages.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Fechomap/cargas-gas/internal/domain"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a unique constraint rejects a write.
	ErrDuplicate = errors.New("store: duplicate")
)

// SettingsRecord is the stored, unvalidated shape of tenant settings.
type SettingsRecord struct {
	TenantID      string          `db:"tenant_id"`
	Currency      string          `db:"currency"`
	Timezone      string          `db:"timezone"`
	Features      json.RawMessage `db:"features"`
	Notifications json.RawMessage `db:"notifications"`
}

// Tenants reads tenant rows.
type Tenants interface {
	TenantByChatID(ctx context.Context, chatID string) (*domain.Tenant, error)
	TenantByID(ctx context.Context, id string) (*domain.Tenant, error)
}

// Settings reads and lazily creates tenant settings.
type Settings interface {
	LoadSettings(ctx context.Context, tenantID string) (*SettingsRecord, error)
	// EnsureSettings inserts rec unless settings already exist.
	EnsureSettings(ctx context.Context, rec SettingsRecord) error
}

// Requests stores registration requests.
type Requests interface {
	CreateRequest(ctx context.Context, req *domain.RegistrationRequest) error
	ListPending(ctx context.Context) ([]domain.RegistrationRequest, error)
	RequestByID(ctx context.Context, id int64) (*domain.RegistrationRequest, error)
}

// Units stores tenant vehicles.
type Units interface {
	ListUnits(ctx context.Context, tenantID string) ([]domain.Unit, error)
	UnitByID(ctx context.Context, tenantID string, id int64) (*domain.Unit, error)
	CreateUnit(ctx context.Context, u *domain.Unit) error
}

// Fuel stores fuel records. Every call is scoped to a tenant.
type Fuel interface {
	InsertFuel(ctx context.Context, rec *domain.FuelRecord) error
	FuelByID(ctx context.Context, tenantID, id string) (*domain.FuelRecord, error)
	UpdateRecordDate(ctx context.Context, tenantID, id string, date time.Time) error
	SearchBySale(ctx context.Context, tenantID, sale string, limit int) ([]domain.FuelRecord, error)
	// MarkPaid flips an unpaid record to paid. It returns false when the
	// record was already paid.
	MarkPaid(ctx context.Context, tenantID, id string, at time.Time) (bool, error)
}

// Tx is the transactional surface used by approval and group linking. Lock
// methods serialize concurrent callers on the same row.
type Tx interface {
	LockRequest(ctx context.Context, id int64) (*domain.RegistrationRequest, error)
	TokenInUse(ctx context.Context, token string) (bool, error)
	InsertTenant(ctx context.Context, t *domain.Tenant) error
	InsertSettings(ctx context.Context, rec SettingsRecord) error
	// FinishRequest moves a PENDING request to a terminal status. It returns
	// false when the request was no longer PENDING.
	FinishRequest(ctx context.Context, f Finish) (bool, error)
	// LockTenantByToken finds the tenant holding token, or the one that
	// redeemed it.
	LockTenantByToken(ctx context.Context, token string) (*domain.Tenant, error)
	TenantByChatID(ctx context.Context, chatID string) (*domain.Tenant, error)
	// LinkTenant binds chatID and consumes the token. It returns false when
	// the tenant was linked or its token cleared in the meantime.
	LinkTenant(ctx context.Context, tenantID, chatID string, at time.Time) (bool, error)
}

// Finish describes a terminal transition of a registration request.
type Finish struct {
	RequestID   int64
	Status      domain.RequestStatus
	ProcessedBy int64
	ProcessedAt time.Time
	AdminNotes  *string
	TenantID    *string
}

// Store is the full record store.
type Store interface {
	Tenants
	Settings
	Requests
	Units
	Fuel
	// WithTx runs fn in one transaction, committing when fn returns nil.
	WithTx(ctx context.Context, fn func(Tx) error) error
}

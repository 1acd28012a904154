// Package memory is an in-process Store for development and tests. A single
// mutex serializes every call; transactions run on a copy that replaces the
// live data only on success.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Fechomap/cargas-gas/internal/domain"
	"github.com/Fechomap/cargas-gas/internal/store"
)

type data struct {
	tenants    map[string]domain.Tenant
	settings   map[string]store.SettingsRecord
	requests   map[int64]domain.RegistrationRequest
	units      map[int64]domain.Unit
	fuel       map[string]domain.FuelRecord
	requestSeq int64
	unitSeq    int64
}

func newData() *data {
	return &data{
		tenants:  make(map[string]domain.Tenant),
		settings: make(map[string]store.SettingsRecord),
		requests: make(map[int64]domain.RegistrationRequest),
		units:    make(map[int64]domain.Unit),
		fuel:     make(map[string]domain.FuelRecord),
	}
}

func (d *data) clone() *data {
	out := newData()
	for k, v := range d.tenants {
		out.tenants[k] = v
	}
	for k, v := range d.settings {
		out.settings[k] = v
	}
	for k, v := range d.requests {
		out.requests[k] = v
	}
	for k, v := range d.units {
		out.units[k] = v
	}
	for k, v := range d.fuel {
		out.fuel[k] = v
	}
	out.requestSeq, out.unitSeq = d.requestSeq, d.unitSeq
	return out
}

// Store implements store.Store in memory.
type Store struct {
	mu  sync.Mutex
	d   *data
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{d: newData(), now: time.Now}
}

func (s *Store) TenantByChatID(_ context.Context, chatID string) (*domain.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.tenantByChat(chatID)
}

func (d *data) tenantByChat(chatID string) (*domain.Tenant, error) {
	for _, t := range d.tenants {
		if t.ChatID == chatID {
			return &t, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) TenantByID(_ context.Context, id string) (*domain.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.d.tenants[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

func (s *Store) LoadSettings(_ context.Context, tenantID string) (*store.SettingsRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.d.settings[tenantID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &rec, nil
}

func (s *Store) EnsureSettings(_ context.Context, rec store.SettingsRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.d.settings[rec.TenantID]; !ok {
		s.d.settings[rec.TenantID] = rec
	}
	return nil
}

func (s *Store) CreateRequest(_ context.Context, req *domain.RegistrationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.requestSeq++
	req.ID = s.d.requestSeq
	if req.Status == "" {
		req.Status = domain.RequestPending
	}
	req.CreatedAt = s.now()
	s.d.requests[req.ID] = *req
	return nil
}

func (s *Store) ListPending(_ context.Context) ([]domain.RegistrationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RegistrationRequest
	for _, r := range s.d.requests {
		if r.Status == domain.RequestPending {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) RequestByID(_ context.Context, id int64) (*domain.RegistrationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.d.requests[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (s *Store) ListUnits(_ context.Context, tenantID string) ([]domain.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Unit
	for _, u := range s.d.units {
		if u.TenantID == tenantID && u.IsActive {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnitNumber < out[j].UnitNumber })
	return out, nil
}

func (s *Store) UnitByID(_ context.Context, tenantID string, id int64) (*domain.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.d.units[id]
	if !ok || u.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (s *Store) CreateUnit(_ context.Context, u *domain.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.d.units {
		if existing.TenantID == u.TenantID && strings.EqualFold(existing.UnitNumber, u.UnitNumber) {
			return store.ErrDuplicate
		}
	}
	s.d.unitSeq++
	u.ID = s.d.unitSeq
	u.IsActive = true
	u.CreatedAt = s.now()
	s.d.units[u.ID] = *u
	return nil
}

func (s *Store) InsertFuel(_ context.Context, rec *domain.FuelRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.d.fuel[rec.ID]; ok {
		return store.ErrDuplicate
	}
	if u, ok := s.d.units[rec.UnitID]; !ok || u.TenantID != rec.TenantID {
		return store.ErrNotFound
	}
	rec.CreatedAt = s.now()
	s.d.fuel[rec.ID] = *rec
	return nil
}

func (s *Store) FuelByID(_ context.Context, tenantID, id string) (*domain.FuelRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.d.fuel[id]
	if !ok || r.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (s *Store) UpdateRecordDate(_ context.Context, tenantID, id string, date time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.d.fuel[id]
	if !ok || r.TenantID != tenantID {
		return store.ErrNotFound
	}
	r.RecordDate = date
	s.d.fuel[id] = r
	return nil
}

func (s *Store) SearchBySale(_ context.Context, tenantID, sale string, limit int) ([]domain.FuelRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.FuelRecord
	for _, r := range s.d.fuel {
		if r.TenantID == tenantID && strings.EqualFold(r.SaleNumber, sale) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordDate.After(out[j].RecordDate) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkPaid(_ context.Context, tenantID, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.d.fuel[id]
	if !ok || r.TenantID != tenantID {
		return false, store.ErrNotFound
	}
	if r.PaymentStatus == domain.Paid {
		return false, nil
	}
	r.PaymentStatus = domain.Paid
	r.PaymentDate = &at
	s.d.fuel[id] = r
	return true, nil
}

// WithTx runs fn against a copy of the data and publishes it on success.
func (s *Store) WithTx(ctx context.Context, fn func(store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.d.clone()
	if err := fn(&tx{d: work}); err != nil {
		return err
	}
	s.d = work
	return nil
}

type tx struct{ d *data }

func (t *tx) LockRequest(_ context.Context, id int64) (*domain.RegistrationRequest, error) {
	r, ok := t.d.requests[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (t *tx) TokenInUse(_ context.Context, token string) (bool, error) {
	for _, tn := range t.d.tenants {
		if (tn.RegistrationToken != nil && *tn.RegistrationToken == token) ||
			(tn.LinkedToken != nil && *tn.LinkedToken == token) {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) InsertTenant(_ context.Context, tn *domain.Tenant) error {
	if _, ok := t.d.tenants[tn.ID]; ok {
		return store.ErrDuplicate
	}
	if _, err := t.d.tenantByChat(tn.ChatID); err == nil {
		return store.ErrDuplicate
	}
	t.d.tenants[tn.ID] = *tn
	return nil
}

func (t *tx) InsertSettings(_ context.Context, rec store.SettingsRecord) error {
	if _, ok := t.d.settings[rec.TenantID]; ok {
		return store.ErrDuplicate
	}
	t.d.settings[rec.TenantID] = rec
	return nil
}

func (t *tx) FinishRequest(_ context.Context, f store.Finish) (bool, error) {
	r, ok := t.d.requests[f.RequestID]
	if !ok {
		return false, store.ErrNotFound
	}
	if r.Status != domain.RequestPending {
		return false, nil
	}
	by, at := f.ProcessedBy, f.ProcessedAt
	r.Status = f.Status
	r.ProcessedBy = &by
	r.ProcessedAt = &at
	r.AdminNotes = f.AdminNotes
	r.TenantID = f.TenantID
	t.d.requests[f.RequestID] = r
	return true, nil
}

func (t *tx) LockTenantByToken(_ context.Context, token string) (*domain.Tenant, error) {
	for _, tn := range t.d.tenants {
		if (tn.RegistrationToken != nil && *tn.RegistrationToken == token) ||
			(tn.LinkedToken != nil && *tn.LinkedToken == token) {
			return &tn, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) TenantByChatID(_ context.Context, chatID string) (*domain.Tenant, error) {
	return t.d.tenantByChat(chatID)
}

func (t *tx) LinkTenant(_ context.Context, tenantID, chatID string, at time.Time) (bool, error) {
	tn, ok := t.d.tenants[tenantID]
	if !ok {
		return false, store.ErrNotFound
	}
	if tn.RegistrationToken == nil || !domain.IsPlaceholderChatID(tn.ChatID) {
		return false, nil
	}
	if _, err := t.d.tenantByChat(chatID); err == nil {
		return false, store.ErrDuplicate
	}
	tn.ChatID = chatID
	tn.IsApproved = true
	tn.LinkedToken = tn.RegistrationToken
	tn.RegistrationToken = nil
	tn.UpdatedAt = at
	t.d.tenants[tenantID] = tn
	return true, nil
}

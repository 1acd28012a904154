// Package fuel captures fuel expenses for a tenant: the conversational
// capture form, unit management, note search and payment tracking.
package fuel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Fechomap/cargas-gas/core/logger"
	"github.com/Fechomap/cargas-gas/internal/audit"
	"github.com/Fechomap/cargas-gas/internal/domain"
	"github.com/Fechomap/cargas-gas/internal/store"
)

// Error codes.
const (
	CodeInvalidField     = "INVALID_FIELD"
	CodeUnitNotFound     = "UNIT_NOT_FOUND"
	CodeUnitExists       = "UNIT_EXISTS"
	CodeRecordNotFound   = "RECORD_NOT_FOUND"
	CodeAlreadyPaid      = "RECORD_ALREADY_PAID"
	CodeStoreWrite       = "STORE_WRITE"
	CodeStoreRead        = "STORE_READ"
	CodePhotoUnavailable = "PHOTO_UNAVAILABLE"
)

const searchLimit = 10

// Photos persists a ticket photo and returns the reference to store.
type Photos interface {
	Save(ctx context.Context, fileID string) (string, error)
}

// Announcer posts a message into a tenant chat. Implementations must not
// block and must swallow their own failures.
type Announcer interface {
	Announce(ctx context.Context, chatID int64, text string)
}

// Store is the part of the record store fuel capture needs.
type Store interface {
	store.Units
	store.Fuel
}

// Options configures a Service.
type Options struct {
	Store     Store
	Photos    Photos
	Announcer Announcer
	Audit     audit.Recorder
	Now       func() time.Time
}

// Service runs the server side of fuel capture.
type Service struct {
	store     Store
	photos    Photos
	announcer Announcer
	audit     audit.Recorder
	now       func() time.Time
}

// NewService builds a Service. Without Photos the Telegram file id is kept
// as the reference.
func NewService(opts Options) *Service {
	s := &Service{
		store:     opts.Store,
		photos:    opts.Photos,
		announcer: opts.Announcer,
		audit:     opts.Audit,
		now:       opts.Now,
	}
	if s.photos == nil {
		s.photos = fileIDs{}
	}
	if s.announcer == nil {
		s.announcer = nopAnnouncer{}
	}
	if s.audit == nil {
		s.audit = audit.Nop{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type fileIDs struct{}

func (fileIDs) Save(_ context.Context, fileID string) (string, error) { return fileID, nil }

type nopAnnouncer struct{}

func (nopAnnouncer) Announce(context.Context, int64, string) {}

// Units lists the active units of a tenant.
func (s *Service) Units(ctx context.Context, tenantID string) ([]domain.Unit, error) {
	units, err := s.store.ListUnits(ctx, tenantID)
	if err != nil {
		return nil, domain.Transient(CodeStoreRead, fmt.Errorf("list units: %w", err))
	}
	return units, nil
}

// Unit returns one unit of a tenant.
func (s *Service) Unit(ctx context.Context, tenantID string, id int64) (*domain.Unit, error) {
	u, err := s.store.UnitByID(ctx, tenantID, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, domain.NotFound(CodeUnitNotFound, "La unidad ya no existe. Elige otra.")
	case err != nil:
		return nil, domain.Transient(CodeStoreRead, fmt.Errorf("unit %d: %w", id, err))
	case !u.IsActive:
		return nil, domain.NotFound(CodeUnitNotFound, "La unidad está dada de baja. Elige otra.")
	}
	return u, nil
}

// AddUnit registers a unit. Unit numbers are unique per tenant.
func (s *Service) AddUnit(ctx context.Context, tenantID, operator, number string) (*domain.Unit, error) {
	operator, number = strings.TrimSpace(operator), strings.TrimSpace(number)
	if !validName(operator) || number == "" || len(number) > 20 {
		return nil, domain.Validation(CodeInvalidField, "Uso: /unidad <operador> <número>")
	}
	u := &domain.Unit{TenantID: tenantID, OperatorName: operator, UnitNumber: number}
	err := s.store.CreateUnit(ctx, u)
	switch {
	case errors.Is(err, store.ErrDuplicate):
		return nil, domain.Conflict(CodeUnitExists, fmt.Sprintf("La unidad %s ya está registrada.", number))
	case err != nil:
		return nil, domain.Transient(CodeStoreWrite, fmt.Errorf("create unit: %w", err))
	}
	logger.LogEvent(ctx, logger.SVCFuel, slog.LevelInfo, "unit.created",
		slog.String("status", "ok"),
		slog.Int64("unit_id", u.ID),
	)
	return u, nil
}

// StorePhoto hands a ticket photo to the configured storage.
func (s *Service) StorePhoto(ctx context.Context, fileID string) (string, error) {
	ref, err := s.photos.Save(ctx, fileID)
	if err != nil {
		return "", domain.Transient(CodePhotoUnavailable, fmt.Errorf("save photo: %w", err))
	}
	return ref, nil
}

// Capture is a confirmed capture form.
type Capture struct {
	TenantID      string
	UnitID        int64
	Liters        decimal.Decimal
	Amount        decimal.Decimal
	FuelType      domain.FuelType
	SaleNumber    string
	PaymentStatus domain.PaymentStatus
	PhotoRef      *string
	CreatedBy     int64
}

// Save validates and stores a capture dated now.
func (s *Service) Save(ctx context.Context, c Capture) (*domain.FuelRecord, error) {
	if err := validateCapture(c); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	rec := &domain.FuelRecord{
		ID:             uuid.NewString(),
		TenantID:       c.TenantID,
		UnitID:         c.UnitID,
		Liters:         c.Liters,
		Amount:         c.Amount,
		FuelType:       c.FuelType,
		SaleNumber:     c.SaleNumber,
		PaymentStatus:  c.PaymentStatus,
		TicketPhotoRef: c.PhotoRef,
		RecordDate:     now,
		CreatedBy:      c.CreatedBy,
	}
	if c.PaymentStatus == domain.Paid {
		rec.PaymentDate = &now
	}
	if err := s.store.InsertFuel(ctx, rec); err != nil {
		return nil, domain.Transient(CodeStoreWrite, fmt.Errorf("insert fuel: %w", err))
	}

	logger.LogEvent(ctx, logger.SVCFuel, slog.LevelInfo, "fuel.saved",
		slog.String("status", "ok"),
		slog.String("record_id", rec.ID),
		slog.Int64("unit_id", rec.UnitID),
		slog.String("amount", rec.Amount.StringFixed(2)),
	)
	s.audit.Record(ctx, audit.Event{
		Kind:     audit.RecordSaved,
		TenantID: rec.TenantID,
		ActorID:  rec.CreatedBy,
		Fields: map[string]string{
			"record_id":      rec.ID,
			"unit_id":        strconv.FormatInt(rec.UnitID, 10),
			"liters":         rec.Liters.String(),
			"amount":         rec.Amount.StringFixed(2),
			"sale_number":    rec.SaleNumber,
			"payment_status": string(rec.PaymentStatus),
		},
		At: now,
	})
	return rec, nil
}

// Redate moves the record date of a saved record.
func (s *Service) Redate(ctx context.Context, tenantID, recordID string, date time.Time, actorID int64) error {
	if err := s.store.UpdateRecordDate(ctx, tenantID, recordID, date.UTC()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.NotFound(CodeRecordNotFound, "No encontré la carga.")
		}
		return domain.Transient(CodeStoreWrite, fmt.Errorf("update record date: %w", err))
	}
	s.audit.Record(ctx, audit.Event{
		Kind:     audit.RecordRedated,
		TenantID: tenantID,
		ActorID:  actorID,
		Fields:   map[string]string{"record_id": recordID, "record_date": date.UTC().Format(time.RFC3339)},
		At:       s.now(),
	})
	return nil
}

// Search finds the records carrying a sale number, newest first.
func (s *Service) Search(ctx context.Context, tenantID, sale string) ([]domain.FuelRecord, error) {
	sale = strings.TrimSpace(sale)
	if !ValidSaleNumber(sale) {
		return nil, domain.Validation(CodeInvalidField, "Uso: /buscar <nota>. La nota tiene hasta 6 letras, números o guiones.")
	}
	list, err := s.store.SearchBySale(ctx, tenantID, sale, searchLimit)
	if err != nil {
		return nil, domain.Transient(CodeStoreRead, fmt.Errorf("search sale: %w", err))
	}
	return list, nil
}

// MarkPaid flips an unpaid record to paid.
func (s *Service) MarkPaid(ctx context.Context, tenantID, recordID string, actorID int64) (*domain.FuelRecord, error) {
	now := s.now().UTC()
	ok, err := s.store.MarkPaid(ctx, tenantID, recordID, now)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, domain.NotFound(CodeRecordNotFound, "No encontré la carga.")
	case err != nil:
		return nil, domain.Transient(CodeStoreWrite, fmt.Errorf("mark paid: %w", err))
	case !ok:
		return nil, domain.Conflict(CodeAlreadyPaid, "Esta carga ya estaba marcada como pagada.")
	}
	rec, err := s.store.FuelByID(ctx, tenantID, recordID)
	if err != nil {
		return nil, domain.Transient(CodeStoreRead, fmt.Errorf("fuel %s: %w", recordID, err))
	}

	logger.LogEvent(ctx, logger.SVCFuel, slog.LevelInfo, "fuel.paid",
		slog.String("status", "ok"),
		slog.String("record_id", recordID),
	)
	s.audit.Record(ctx, audit.Event{
		Kind:     audit.RecordPaid,
		TenantID: tenantID,
		ActorID:  actorID,
		Fields:   map[string]string{"record_id": recordID, "sale_number": rec.SaleNumber},
		At:       now,
	})
	return rec, nil
}

// Announce forwards a message to the tenant chat.
func (s *Service) Announce(ctx context.Context, chatID int64, text string) {
	s.announcer.Announce(ctx, chatID, text)
}

func validateCapture(c Capture) error {
	switch {
	case c.TenantID == "" || c.UnitID == 0:
		return domain.Validation(CodeInvalidField, "Falta la unidad.")
	case !c.Liters.IsPositive():
		return domain.Validation(CodeInvalidField, "Los litros deben ser mayores a cero.")
	case !c.Amount.IsPositive():
		return domain.Validation(CodeInvalidField, "El monto debe ser mayor a cero.")
	case !ValidSaleNumber(c.SaleNumber):
		return domain.Validation(CodeInvalidField, "El número de nota no es válido.")
	}
	if _, ok := domain.ParseFuelType(string(c.FuelType)); !ok {
		return domain.Validation(CodeInvalidField, "El tipo de combustible no es válido.")
	}
	if _, ok := domain.ParsePaymentStatus(string(c.PaymentStatus)); !ok {
		return domain.Validation(CodeInvalidField, "El estado de pago no es válido.")
	}
	return nil
}

func validName(s string) bool {
	n := len([]rune(strings.TrimSpace(s)))
	return n >= 2 && n <= 100
}

// Package tenant resolves chats to tenants and loads their settings.
package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/Fechomap/cargas-gas/core/logger"
	"github.com/Fechomap/cargas-gas/internal/domain"
	"github.com/Fechomap/cargas-gas/internal/store"
)

// Error codes returned by Resolve.
const (
	CodeNotFound = "TENANT_NOT_FOUND"
	CodeLookup   = "TENANT_LOOKUP"
	CodeSettings = "SETTINGS_LOOKUP"
)

// Store is the part of the record store the directory reads.
type Store interface {
	store.Tenants
	store.Settings
}

// Directory resolves chat ids to tenant records.
type Directory struct {
	store      Store
	defaultTZ  string
	lookupTime time.Duration
}

// NewDirectory returns a directory reading from st. defaultTZ is used for
// tenants whose stored timezone is missing or invalid.
func NewDirectory(st Store, defaultTZ string) *Directory {
	return &Directory{store: st, defaultTZ: defaultTZ, lookupTime: 3 * time.Second}
}

// Resolve returns the tenant linked to chatID. Unknown chats yield a
// NotFound domain error; lookup failures a Transient one.
func (d *Directory) Resolve(ctx context.Context, chatID int64) (*domain.Tenant, error) {
	ctx, cancel := context.WithTimeout(ctx, d.lookupTime)
	defer cancel()

	t, err := d.store.TenantByChatID(ctx, strconv.FormatInt(chatID, 10))
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, domain.NotFound(CodeNotFound,
			"Este grupo no está registrado. Usa /registro en un chat privado conmigo para solicitar el alta de tu empresa.")
	case err != nil:
		return nil, domain.Transient(CodeLookup, err)
	}
	return t, nil
}

// Gate turns the inactive and unapproved flags into hard stops.
func Gate(t *domain.Tenant) error {
	if t == nil {
		return nil
	}
	if !t.IsActive {
		return domain.Permission("TENANT_INACTIVE",
			"Tu empresa está desactivada. Contacta al administrador para reactivarla.")
	}
	if !t.IsApproved {
		return domain.Permission("TENANT_PENDING",
			"Tu empresa aún está pendiente de aprobación. Te avisaremos cuando esté lista.")
	}
	return nil
}

// Settings loads the tenant settings, creating defaults on first access.
// Stored values are merged over defaults key by key.
func (d *Directory) Settings(ctx context.Context, tenantID string) (domain.TenantSettings, error) {
	ctx, cancel := context.WithTimeout(ctx, d.lookupTime)
	defer cancel()

	rec, err := d.store.LoadSettings(ctx, tenantID)
	if errors.Is(err, store.ErrNotFound) {
		def := domain.DefaultSettings(tenantID, d.defaultTZ)
		if err := d.store.EnsureSettings(ctx, Record(def)); err != nil {
			logger.LogEvent(ctx, logger.SVCTenants, slog.LevelWarn, "settings.create_failed",
				slog.String("status", "fail"),
				slog.String("tenant_id", tenantID),
				slog.String("err", err.Error()),
			)
		}
		return def, nil
	}
	if err != nil {
		return domain.DefaultSettings(tenantID, d.defaultTZ), domain.Transient(CodeSettings, err)
	}

	merged, dropped := Merge(*rec, d.defaultTZ)
	if len(dropped) > 0 {
		summary, _ := logger.SummarizeStrings(dropped, 8)
		logger.LogEvent(ctx, logger.SVCTenants, slog.LevelWarn, "settings.dropped_keys",
			slog.String("status", "ok"),
			slog.String("tenant_id", tenantID),
			slog.String("keys", summary),
		)
	}
	return merged, nil
}

// Record converts settings into their stored form.
func Record(s domain.TenantSettings) store.SettingsRecord {
	features, _ := json.Marshal(s.Features)
	notifications, _ := json.Marshal(s.Notifications)
	return store.SettingsRecord{
		TenantID:      s.TenantID,
		Currency:      s.Currency,
		Timezone:      s.Timezone,
		Features:      features,
		Notifications: notifications,
	}
}

// Merge applies a stored record over the defaults. Unknown flag names and
// non-boolean values are dropped and reported.
func Merge(rec store.SettingsRecord, defaultTZ string) (domain.TenantSettings, []string) {
	out := domain.DefaultSettings(rec.TenantID, defaultTZ)
	var dropped []string

	if c := strings.ToUpper(strings.TrimSpace(rec.Currency)); len(c) == 3 {
		out.Currency = c
	} else if rec.Currency != "" {
		dropped = append(dropped, "currency")
	}
	if tz := strings.TrimSpace(rec.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err == nil {
			out.Timezone = tz
		} else {
			dropped = append(dropped, "timezone")
		}
	}

	dropped = append(dropped, mergeFlags(out.Features, rec.Features, "features.")...)
	dropped = append(dropped, mergeFlags(out.Notifications, rec.Notifications, "notifications.")...)
	return out, dropped
}

func mergeFlags(dst map[string]bool, raw json.RawMessage, prefix string) []string {
	if len(raw) == 0 {
		return nil
	}
	var stored map[string]any
	if err := json.Unmarshal(raw, &stored); err != nil {
		return []string{strings.TrimSuffix(prefix, ".")}
	}
	var dropped []string
	for k, v := range stored {
		if _, known := dst[k]; !known {
			dropped = append(dropped, prefix+k)
			continue
		}
		b, ok := v.(bool)
		if !ok {
			dropped = append(dropped, prefix+k)
			continue
		}
		dst[k] = b
	}
	return dropped
}

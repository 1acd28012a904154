// Package domain holds the entities shared by the pipeline, the workflows and
// the record store.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// PlaceholderPrefix marks a tenant whose chat has not been linked yet.
const PlaceholderPrefix = "pending_"

// NewPlaceholderChatID returns a unique non-final chat id for a fresh tenant.
func NewPlaceholderChatID() string {
	return PlaceholderPrefix + uuid.NewString()
}

// IsPlaceholderChatID reports whether chatID was issued by NewPlaceholderChatID.
func IsPlaceholderChatID(chatID string) bool {
	return strings.HasPrefix(chatID, PlaceholderPrefix)
}

// Tenant is a registered company bound to at most one chat group.
type Tenant struct {
	ID                string    `db:"id"`
	CompanyName       string    `db:"company_name"`
	ChatID            string    `db:"chat_id"`
	IsActive          bool      `db:"is_active"`
	IsApproved        bool      `db:"is_approved"`
	RegistrationToken *string   `db:"registration_token"`
	// LinkedToken keeps the redeemed token so replays report "already used".
	LinkedToken       *string   `db:"linked_token"`
	ContactName       string    `db:"contact_name"`
	ContactPhone      string    `db:"contact_phone"`
	ContactEmail      string    `db:"contact_email"`
	Notes             *string   `db:"notes"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

// Linked reports whether the tenant already owns a real chat.
func (t *Tenant) Linked() bool {
	return t != nil && t.ChatID != "" && !IsPlaceholderChatID(t.ChatID)
}

// Feature flag names understood by the pipeline and the workflows.
const (
	FeatureFuelCapture     = "fuel_capture"
	FeatureTicketPhoto     = "ticket_photo"
	FeaturePricePerLiter   = "price_per_liter"
	FeatureNoteSearch      = "note_search"
	FeaturePaymentTracking = "payment_tracking"
	FeatureUnitManagement  = "unit_management"
	FeatureDateCorrection  = "date_correction"
)

// Notification flag names.
const (
	NotifyRecordSaved   = "record_saved"
	NotifyPaymentMarked = "payment_marked"
)

// TenantSettings are the per-tenant knobs. They are always complete: missing
// or malformed stored values are replaced by defaults.
type TenantSettings struct {
	TenantID      string
	Currency      string
	Timezone      string
	Features      map[string]bool
	Notifications map[string]bool
}

// Enabled reports whether feature is on. Unknown features are off.
func (s TenantSettings) Enabled(feature string) bool {
	return s.Features[feature]
}

// Notify reports whether a notification flag is on.
func (s TenantSettings) Notify(flag string) bool {
	return s.Notifications[flag]
}

// Location resolves the tenant timezone, falling back to def.
func (s TenantSettings) Location(def *time.Location) *time.Location {
	if s.Timezone != "" {
		if loc, err := time.LoadLocation(s.Timezone); err == nil {
			return loc
		}
	}
	if def == nil {
		return time.UTC
	}
	return def
}

// DefaultFeatures returns a fresh copy of the default feature flags.
func DefaultFeatures() map[string]bool {
	return map[string]bool{
		FeatureFuelCapture:     true,
		FeatureTicketPhoto:     true,
		FeaturePricePerLiter:   true,
		FeatureNoteSearch:      true,
		FeaturePaymentTracking: true,
		FeatureUnitManagement:  true,
		FeatureDateCorrection:  true,
	}
}

// DefaultNotifications returns a fresh copy of the default notification flags.
func DefaultNotifications() map[string]bool {
	return map[string]bool{
		NotifyRecordSaved:   true,
		NotifyPaymentMarked: true,
	}
}

// DefaultSettings builds the hard defaults used when nothing is stored or the
// lookup fails.
func DefaultSettings(tenantID, timezone string) TenantSettings {
	return TenantSettings{
		TenantID:      tenantID,
		Currency:      "MXN",
		Timezone:      timezone,
		Features:      DefaultFeatures(),
		Notifications: DefaultNotifications(),
	}
}

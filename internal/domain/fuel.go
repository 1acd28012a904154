package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus of a fuel record.
type PaymentStatus string

const (
	Paid   PaymentStatus = "PAGADA"
	Unpaid PaymentStatus = "NO_PAGADA"
)

// ParsePaymentStatus accepts the stored values and their English aliases.
func ParsePaymentStatus(s string) (PaymentStatus, bool) {
	switch s {
	case string(Paid), "PAID":
		return Paid, true
	case string(Unpaid), "UNPAID":
		return Unpaid, true
	}
	return "", false
}

// Label is the Spanish name used in replies.
func (p PaymentStatus) Label() string {
	if p == Paid {
		return "Pagada"
	}
	return "No pagada"
}

// FuelType values offered by the capture form.
type FuelType string

const (
	FuelGas    FuelType = "GAS"
	FuelGasoil FuelType = "GASOLINA"
	FuelDiesel FuelType = "DIESEL"
)

// FuelTypes lists the selectable types in display order.
var FuelTypes = []FuelType{FuelGas, FuelGasoil, FuelDiesel}

// ParseFuelType validates a callback payload.
func ParseFuelType(s string) (FuelType, bool) {
	for _, t := range FuelTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// Label is the Spanish name used in replies.
func (f FuelType) Label() string {
	switch f {
	case FuelGas:
		return "Gas"
	case FuelGasoil:
		return "Gasolina"
	case FuelDiesel:
		return "Diésel"
	}
	return string(f)
}

// Unit is a vehicle or operator a tenant loads fuel for.
type Unit struct {
	ID           int64     `db:"id"`
	TenantID     string    `db:"tenant_id"`
	OperatorName string    `db:"operator_name"`
	UnitNumber   string    `db:"unit_number"`
	IsActive     bool      `db:"is_active"`
	CreatedAt    time.Time `db:"created_at"`
}

// Label renders the unit for buttons and summaries.
func (u Unit) Label() string {
	return u.OperatorName + " - " + u.UnitNumber
}

// FuelRecord is one completed capture.
type FuelRecord struct {
	ID             string          `db:"id"`
	TenantID       string          `db:"tenant_id"`
	UnitID         int64           `db:"unit_id"`
	Liters         decimal.Decimal `db:"liters"`
	Amount         decimal.Decimal `db:"amount"`
	FuelType       FuelType        `db:"fuel_type"`
	SaleNumber     string          `db:"sale_number"`
	PaymentStatus  PaymentStatus   `db:"payment_status"`
	TicketPhotoRef *string         `db:"ticket_photo_ref"`
	RecordDate     time.Time       `db:"record_date"`
	PaymentDate    *time.Time      `db:"payment_date"`
	CreatedBy      int64           `db:"created_by"`
	CreatedAt      time.Time       `db:"created_at"`
}

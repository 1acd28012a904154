// Package session defines the conversation session shared by the workflows:
// a workflow discriminator, a state tag and one typed draft per workflow.
package session

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Workflow discriminates which draft of the session is active.
type Workflow string

const (
	None       Workflow = ""
	Onboarding Workflow = "onboarding"
	Fuel       Workflow = "fuel"
)

// Idle is the state of a session outside any workflow.
const Idle = "idle"

const (
	maxHistory = 10
	maxPending = 16
)

// RegistrationDraft collects the onboarding answers.
type RegistrationDraft struct {
	CompanyName string `json:"company_name,omitempty"`
	ContactName string `json:"contact_name,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Email       string `json:"email,omitempty"`
}

// FuelDraft collects a fuel capture and, after saving, the record to correct.
type FuelDraft struct {
	UnitID        int64            `json:"unit_id,omitempty"`
	UnitLabel     string           `json:"unit_label,omitempty"`
	Liters        decimal.Decimal  `json:"liters"`
	Amount        decimal.Decimal  `json:"amount"`
	PricePerLiter *decimal.Decimal `json:"price_per_liter,omitempty"`
	FuelType      string           `json:"fuel_type,omitempty"`
	PhotoRef      *string          `json:"photo_ref,omitempty"`
	SaleNumber    string           `json:"sale_number,omitempty"`
	PaymentStatus string           `json:"payment_status,omitempty"`
	RecordID      string           `json:"record_id,omitempty"`
	RecordDate    time.Time        `json:"record_date,omitempty"`
}

// Session is the per chat+user conversation state. At most one draft is set
// and it always matches Workflow.
type Session struct {
	Workflow        Workflow           `json:"workflow,omitempty"`
	State           string             `json:"state"`
	Registration    *RegistrationDraft `json:"registration,omitempty"`
	Fuel            *FuelDraft         `json:"fuel,omitempty"`
	LastInteraction time.Time          `json:"last_interaction"`
	History         []string           `json:"history,omitempty"`
	Pending         []string           `json:"pending,omitempty"`
}

// New returns the idle baseline.
func New() Session {
	return Session{State: Idle}
}

// IsIdle reports whether no workflow is active.
func (s Session) IsIdle() bool {
	return s.Workflow == None
}

// Prefix returns the namespace part of the state tag ("onb" for "onb:email").
func (s Session) Prefix() string {
	p, _, ok := strings.Cut(s.State, ":")
	if !ok {
		return ""
	}
	return p
}

// Reset returns the session to the idle baseline, keeping history.
func (s *Session) Reset() {
	history := s.History
	*s = New()
	s.History = history
	s.push(Idle)
}

// Begin starts wf at state with a fresh draft.
func (s *Session) Begin(wf Workflow, state string) {
	s.Workflow = wf
	s.Registration, s.Fuel = nil, nil
	switch wf {
	case Onboarding:
		s.Registration = &RegistrationDraft{}
	case Fuel:
		s.Fuel = &FuelDraft{}
	}
	s.Pending = nil
	s.Goto(state)
}

// Goto moves to state within the current workflow.
func (s *Session) Goto(state string) {
	if s.State == state {
		return
	}
	s.State = state
	s.push(state)
}

func (s *Session) push(state string) {
	s.History = append(s.History, state)
	if over := len(s.History) - maxHistory; over > 0 {
		s.History = append([]string(nil), s.History[over:]...)
	}
}

// Expect replaces the button actions the current prompt offers.
func (s *Session) Expect(actions ...string) {
	if len(actions) > maxPending {
		actions = actions[:maxPending]
	}
	s.Pending = append([]string(nil), actions...)
}

// Expects reports whether action was offered by the last prompt.
func (s Session) Expects(action string) bool {
	for _, a := range s.Pending {
		if a == action {
			return true
		}
	}
	return false
}

// Touch records the time of the current turn.
func (s *Session) Touch(now time.Time) {
	s.LastInteraction = now.UTC()
}

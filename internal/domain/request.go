package domain

import "time"

// RequestStatus is the lifecycle of a registration request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "PENDING"
	RequestApproved RequestStatus = "APPROVED"
	RequestRejected RequestStatus = "REJECTED"
)

// Label is the Spanish name used in replies.
func (s RequestStatus) Label() string {
	switch s {
	case RequestPending:
		return "pendiente"
	case RequestApproved:
		return "aprobada"
	case RequestRejected:
		return "rechazada"
	}
	return string(s)
}

// RegistrationRequest is a company asking to be onboarded.
type RegistrationRequest struct {
	ID                int64         `db:"id"`
	CompanyName       string        `db:"company_name"`
	ContactName       string        `db:"contact_name"`
	ContactPhone      string        `db:"contact_phone"`
	ContactEmail      string        `db:"contact_email"`
	RequesterID       int64         `db:"requester_id"`
	RequesterUsername string        `db:"requester_username"`
	Status            RequestStatus `db:"status"`
	ProcessedBy       *int64        `db:"processed_by"`
	ProcessedAt       *time.Time    `db:"processed_at"`
	AdminNotes        *string       `db:"admin_notes"`
	TenantID          *string       `db:"tenant_id"`
	CreatedAt         time.Time     `db:"created_at"`
}

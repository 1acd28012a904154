// Package onboarding implements tenant self-service registration: the
// request form, operator approval or rejection, token issuance and group
// linking.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Fechomap/cargas-gas/core/logger"
	"github.com/Fechomap/cargas-gas/internal/audit"
	"github.com/Fechomap/cargas-gas/internal/domain"
	"github.com/Fechomap/cargas-gas/internal/store"
	"github.com/Fechomap/cargas-gas/internal/tenant"
)

// Error codes.
const (
	CodeRequestNotFound = "REQUEST_NOT_FOUND"
	CodeProcessed       = "REQUEST_PROCESSED"
	CodeAlreadyPending  = "REQUEST_ALREADY_PENDING"
	CodeTokenInvalid    = "TOKEN_INVALID"
	CodeTokenUsed       = "TOKEN_USED"
	CodeChatTaken       = "CHAT_TAKEN"
	CodeStoreWrite      = "STORE_WRITE"
	CodeStoreRead       = "STORE_READ"
	CodeTokenExhausted  = "TOKEN_EXHAUSTED"
	CodeInvalidField    = "INVALID_FIELD"
)

// Notifier delivers the out-of-band messages of the request lifecycle.
// Implementations must not block and must swallow their own failures.
type Notifier interface {
	NotifyAdmins(ctx context.Context, req domain.RegistrationRequest)
	NotifyApproval(ctx context.Context, req domain.RegistrationRequest, token string)
	NotifyRejection(ctx context.Context, req domain.RegistrationRequest, reason string)
}

// Store is the part of the record store onboarding needs.
type Store interface {
	store.Requests
	WithTx(ctx context.Context, fn func(store.Tx) error) error
}

// Options configures a Service.
type Options struct {
	Store    Store
	Notifier Notifier
	Audit    audit.Recorder
	// DefaultTimezone seeds the settings of new tenants.
	DefaultTimezone string
	// Entropy feeds token generation; nil means crypto/rand.
	Entropy io.Reader
	Now     func() time.Time
}

// Service runs the server side of onboarding.
type Service struct {
	store    Store
	notifier Notifier
	audit    audit.Recorder
	tz       string
	entropy  io.Reader
	now      func() time.Time
}

// NewService builds a Service.
func NewService(opts Options) *Service {
	s := &Service{
		store:    opts.Store,
		notifier: opts.Notifier,
		audit:    opts.Audit,
		tz:       opts.DefaultTimezone,
		entropy:  opts.Entropy,
		now:      opts.Now,
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.audit == nil {
		s.audit = audit.Nop{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type nopNotifier struct{}

func (nopNotifier) NotifyAdmins(context.Context, domain.RegistrationRequest) {}
func (nopNotifier) NotifyApproval(context.Context, domain.RegistrationRequest, string) {}
func (nopNotifier) NotifyRejection(context.Context, domain.RegistrationRequest, string) {}

// Applicant is a completed registration form.
type Applicant struct {
	CompanyName       string
	ContactName       string
	Phone             string
	Email             string
	RequesterID       int64
	RequesterUsername string
}

// Approval is the outcome of Approve.
type Approval struct {
	Request domain.RegistrationRequest
	Tenant  domain.Tenant
	Token   string
}

// CreateRequest stores a PENDING request and notifies the operators. A
// requester may hold a single pending request.
func (s *Service) CreateRequest(ctx context.Context, a Applicant) (*domain.RegistrationRequest, error) {
	if err := validateApplicant(a); err != nil {
		return nil, err
	}
	if pending, err := s.PendingFor(ctx, a.RequesterID); err != nil {
		return nil, err
	} else if pending != nil {
		return nil, domain.Conflict(CodeAlreadyPending,
			fmt.Sprintf("Ya tienes una solicitud pendiente (#%d). Te avisaremos cuando sea revisada.", pending.ID))
	}

	req := &domain.RegistrationRequest{
		CompanyName:       strings.TrimSpace(a.CompanyName),
		ContactName:       strings.TrimSpace(a.ContactName),
		ContactPhone:      strings.TrimSpace(a.Phone),
		ContactEmail:      strings.ToLower(strings.TrimSpace(a.Email)),
		RequesterID:       a.RequesterID,
		RequesterUsername: a.RequesterUsername,
		Status:            domain.RequestPending,
	}
	if err := s.store.CreateRequest(ctx, req); err != nil {
		return nil, domain.Transient(CodeStoreWrite, fmt.Errorf("create request: %w", err))
	}

	logger.LogEvent(ctx, logger.SVCOnboarding, slog.LevelInfo, "request.created",
		slog.String("status", "ok"),
		slog.Int64("request_id", req.ID),
		slog.String("company", logger.SanitizeLimit(req.CompanyName, 64)),
	)
	s.audit.Record(ctx, audit.Event{
		Kind:    audit.RequestCreated,
		ActorID: req.RequesterID,
		Fields:  map[string]string{"request_id": strconv.FormatInt(req.ID, 10)},
		At:      s.now(),
	})
	s.notifier.NotifyAdmins(ctx, *req)
	return req, nil
}

// PendingFor returns the pending request of requesterID, or nil.
func (s *Service) PendingFor(ctx context.Context, requesterID int64) (*domain.RegistrationRequest, error) {
	list, err := s.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].RequesterID == requesterID {
			return &list[i], nil
		}
	}
	return nil, nil
}

// ListPending returns the PENDING requests, oldest first.
func (s *Service) ListPending(ctx context.Context) ([]domain.RegistrationRequest, error) {
	list, err := s.store.ListPending(ctx)
	if err != nil {
		return nil, domain.Transient(CodeStoreRead, fmt.Errorf("list pending: %w", err))
	}
	return list, nil
}

// Approve issues a token, creates the tenant with a placeholder chat and
// closes the request, all in one transaction.
func (s *Service) Approve(ctx context.Context, requestID, adminID int64) (*Approval, error) {
	var out Approval
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		req, err := lockPending(ctx, tx, requestID)
		if err != nil {
			return err
		}
		token, err := s.uniqueToken(ctx, tx)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		t := domain.Tenant{
			ID:                uuid.NewString(),
			CompanyName:       req.CompanyName,
			ChatID:            domain.NewPlaceholderChatID(),
			IsActive:          true,
			IsApproved:        true,
			RegistrationToken: &token,
			ContactName:       req.ContactName,
			ContactPhone:      req.ContactPhone,
			ContactEmail:      req.ContactEmail,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := tx.InsertTenant(ctx, &t); err != nil {
			return domain.Transient(CodeStoreWrite, fmt.Errorf("insert tenant: %w", err))
		}
		if err := tx.InsertSettings(ctx, tenant.Record(domain.DefaultSettings(t.ID, s.tz))); err != nil {
			return domain.Transient(CodeStoreWrite, fmt.Errorf("insert settings: %w", err))
		}
		if err := finish(ctx, tx, req, store.Finish{
			RequestID:   req.ID,
			Status:      domain.RequestApproved,
			ProcessedBy: adminID,
			ProcessedAt: now,
			TenantID:    &t.ID,
		}); err != nil {
			return err
		}
		out = Approval{Request: *req, Tenant: t, Token: token}
		return nil
	})
	if err != nil {
		return nil, txErr(err)
	}

	logger.LogEvent(ctx, logger.SVCOnboarding, slog.LevelInfo, "request.approved",
		slog.String("status", "ok"),
		slog.Int64("request_id", requestID),
		slog.String("tenant_id", out.Tenant.ID),
		slog.Int64("admin_id", adminID),
	)
	s.audit.Record(ctx, audit.Event{
		Kind:     audit.RequestApproved,
		TenantID: out.Tenant.ID,
		ActorID:  adminID,
		Fields:   map[string]string{"request_id": strconv.FormatInt(requestID, 10)},
		At:       s.now(),
	})
	s.notifier.NotifyApproval(ctx, out.Request, out.Token)
	return &out, nil
}

// Reject closes a pending request without creating a tenant.
func (s *Service) Reject(ctx context.Context, requestID, adminID int64, reason string) (*domain.RegistrationRequest, error) {
	reason = strings.TrimSpace(reason)
	var out domain.RegistrationRequest
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		req, err := lockPending(ctx, tx, requestID)
		if err != nil {
			return err
		}
		f := store.Finish{
			RequestID:   req.ID,
			Status:      domain.RequestRejected,
			ProcessedBy: adminID,
			ProcessedAt: s.now().UTC(),
		}
		if reason != "" {
			f.AdminNotes = &reason
		}
		if err := finish(ctx, tx, req, f); err != nil {
			return err
		}
		out = *req
		return nil
	})
	if err != nil {
		return nil, txErr(err)
	}

	logger.LogEvent(ctx, logger.SVCOnboarding, slog.LevelInfo, "request.rejected",
		slog.String("status", "ok"),
		slog.Int64("request_id", requestID),
		slog.Int64("admin_id", adminID),
	)
	s.audit.Record(ctx, audit.Event{
		Kind:    audit.RequestRejected,
		ActorID: adminID,
		Fields:  map[string]string{"request_id": strconv.FormatInt(requestID, 10), "reason": reason},
		At:      s.now(),
	})
	s.notifier.NotifyRejection(ctx, out, reason)
	return &out, nil
}

// LinkGroup binds chatID to the tenant holding token. A token links at most
// one chat and a chat belongs to at most one tenant.
func (s *Service) LinkGroup(ctx context.Context, rawToken string, chatID, userID int64) (*domain.Tenant, error) {
	token := NormalizeToken(rawToken)
	if !ValidToken(token) {
		return nil, errTokenInvalid()
	}
	chat := strconv.FormatInt(chatID, 10)

	var out domain.Tenant
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		t, err := tx.LockTenantByToken(ctx, token)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return errTokenInvalid()
		case err != nil:
			return domain.Transient(CodeStoreRead, fmt.Errorf("lock tenant: %w", err))
		}
		if t.Linked() || t.RegistrationToken == nil {
			return errTokenUsed()
		}

		owner, err := tx.TenantByChatID(ctx, chat)
		switch {
		case err == nil && owner.ID != t.ID:
			return errChatTaken()
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return domain.Transient(CodeStoreRead, fmt.Errorf("chat owner: %w", err))
		}

		now := s.now().UTC()
		ok, err := tx.LinkTenant(ctx, t.ID, chat, now)
		switch {
		case errors.Is(err, store.ErrDuplicate):
			return errChatTaken()
		case err != nil:
			return domain.Transient(CodeStoreWrite, fmt.Errorf("link tenant: %w", err))
		case !ok:
			return errTokenUsed()
		}
		t.ChatID = chat
		t.IsApproved = true
		t.LinkedToken, t.RegistrationToken = t.RegistrationToken, nil
		t.UpdatedAt = now
		out = *t
		return nil
	})
	if err != nil {
		logger.LogEvent(ctx, logger.SVCOnboarding, slog.LevelInfo, "group.link_refused",
			slog.String("status", "fail"),
			slog.String("err_code", domain.CodeOf(err)),
		)
		return nil, txErr(err)
	}

	logger.LogEvent(ctx, logger.SVCOnboarding, slog.LevelInfo, "group.linked",
		slog.String("status", "ok"),
		slog.String("tenant_id", out.ID),
		slog.Int64("user_id", userID),
	)
	s.audit.Record(ctx, audit.Event{
		Kind:     audit.GroupLinked,
		TenantID: out.ID,
		ActorID:  userID,
		Fields:   map[string]string{"chat_id": chat},
		At:       s.now(),
	})
	return &out, nil
}

func (s *Service) uniqueToken(ctx context.Context, tx store.Tx) (string, error) {
	for i := 0; i < maxTokenAttempts; i++ {
		token, err := NewToken(s.entropy)
		if err != nil {
			return "", domain.Fatal(CodeTokenExhausted, err)
		}
		used, err := tx.TokenInUse(ctx, token)
		if err != nil {
			return "", domain.Transient(CodeStoreRead, fmt.Errorf("token check: %w", err))
		}
		if !used {
			return token, nil
		}
		logger.LogEvent(ctx, logger.SVCOnboarding, slog.LevelWarn, "token.collision",
			slog.Int("attempt", i+1),
		)
	}
	return "", domain.Fatal(CodeTokenExhausted, fmt.Errorf("no free token after %d attempts", maxTokenAttempts))
}

func lockPending(ctx context.Context, tx store.Tx, id int64) (*domain.RegistrationRequest, error) {
	req, err := tx.LockRequest(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, domain.NotFound(CodeRequestNotFound, fmt.Sprintf("No existe la solicitud #%d.", id))
	case err != nil:
		return nil, domain.Transient(CodeStoreRead, fmt.Errorf("lock request %d: %w", id, err))
	}
	if req.Status != domain.RequestPending {
		return nil, errProcessed(req)
	}
	return req, nil
}

func finish(ctx context.Context, tx store.Tx, req *domain.RegistrationRequest, f store.Finish) error {
	ok, err := tx.FinishRequest(ctx, f)
	if err != nil {
		return domain.Transient(CodeStoreWrite, fmt.Errorf("finish request %d: %w", f.RequestID, err))
	}
	if !ok {
		return errProcessed(req)
	}
	by, at := f.ProcessedBy, f.ProcessedAt
	req.Status = f.Status
	req.ProcessedBy = &by
	req.ProcessedAt = &at
	req.AdminNotes = f.AdminNotes
	req.TenantID = f.TenantID
	return nil
}

// txErr keeps domain errors and classifies anything else from the
// transaction itself as transient.
func txErr(err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return domain.Transient(CodeStoreWrite, err)
}

func errProcessed(req *domain.RegistrationRequest) error {
	return domain.Conflict(CodeProcessed,
		fmt.Sprintf("La solicitud #%d ya fue procesada (%s).", req.ID, req.Status.Label()))
}

func errTokenInvalid() error {
	return domain.NotFound(CodeTokenInvalid, "El token no es válido o ya expiró.")
}

func errTokenUsed() error {
	return domain.Conflict(CodeTokenUsed, "Este token ya fue utilizado.")
}

func errChatTaken() error {
	return domain.Conflict(CodeChatTaken, "Este grupo ya está vinculado a otra empresa.")
}

// Package pipeline holds the domain stages of the update chain: group
// restriction, tenant resolution, tenant settings, feature and role access,
// and sensitive actions. They run after the session stage, in that order.
package pipeline

import (
	"context"
	"log/slog"
	"strconv"

	coreconfig "github.com/Fechomap/cargas-gas/core/config"
	"github.com/Fechomap/cargas-gas/core/logger"
	tg "github.com/Fechomap/cargas-gas/core/telegram"
	"github.com/Fechomap/cargas-gas/core/telegram/callbacks"
	"github.com/Fechomap/cargas-gas/core/telegram/commands"
	tghelpers "github.com/Fechomap/cargas-gas/core/telegram/helpers"
	"github.com/Fechomap/cargas-gas/core/telegram/middleware"
	"github.com/Fechomap/cargas-gas/internal/domain"
	"github.com/Fechomap/cargas-gas/internal/session"

	tele "gopkg.in/telebot.v4"
)

const component = "tg.pipeline"

// User-facing texts of the access stages.
const (
	lookupFailedText   = "No pude consultar los datos de tu empresa. Intenta de nuevo en unos momentos."
	privateNoTenant    = "Este comando se usa dentro del grupo de tu empresa."
	operatorOnlyText   = "Este comando es solo para administradores del bot."
	featureOffText     = "Esta función no está habilitada para tu empresa."
	tenantAdminText    = "Solo los administradores del grupo pueden usar esta opción."
	sensitiveDenied    = "No tienes permiso para realizar esta acción."
	sensitiveRetryText = "No pude verificar tus permisos en este momento. Intenta de nuevo."
)

const resolvedKey = "pipeline_tenant"

// Resolver is the tenant directory.
type Resolver interface {
	Resolve(ctx context.Context, chatID int64) (*domain.Tenant, error)
	Settings(ctx context.Context, tenantID string) (domain.TenantSettings, error)
}

// Roles answers live Telegram role questions.
type Roles interface {
	Elevated(ctx context.Context, chatID, userID int64) (bool, error)
	Admins(ctx context.Context, chatID int64) ([]int64, error)
}

// Pipeline builds the domain stages.
type Pipeline struct {
	cfg       *coreconfig.Config
	reg       *tg.Registry
	tenants   Resolver
	roles     Roles
	adminOnly tele.MiddlewareFunc
}

// New wires the stages. roles may be nil, in which case only operators
// count as elevated.
func New(cfg *coreconfig.Config, reg *tg.Registry, tenants Resolver, roles Roles) *Pipeline {
	p := &Pipeline{cfg: cfg, reg: reg, tenants: tenants, roles: roles}
	p.adminOnly = middleware.AdminOnlyMiddleware(middleware.AdminOptions{
		IsAdmin: cfg.IsAdmin,
		OnReject: func(c tele.Context) error {
			return deny(c, "admin_only", operatorOnlyText)
		},
	})
	return p
}

// Middlewares returns the stages in chain order.
func (p *Pipeline) Middlewares() []tg.Middleware {
	return []tg.Middleware{
		{Name: "groups", Use: p.RestrictGroups},
		{Name: "tenant", Use: p.ResolveTenant},
		{Name: "settings", Use: p.LoadSettings},
		{Name: "access", Use: p.Access},
		{Name: "sensitive", Use: p.Sensitive},
	}
}

// entryKey returns the registry key of the update: "/cmd" for commands, the
// unique for callbacks, "" otherwise.
func entryKey(c tele.Context) string {
	if c.Callback() != nil {
		return callbacks.CallbackKey(c)
	}
	if m := c.Message(); m != nil {
		return commands.Name(m.Text)
	}
	return ""
}

func (p *Pipeline) rule(c tele.Context) (commands.Rule, bool) {
	return p.reg.Rule(entryKey(c))
}

// addressed reports whether the update is meant for the bot, as opposed to
// group chatter outside any workflow.
func addressed(c tele.Context) bool {
	if c.Callback() != nil || entryKey(c) != "" {
		return true
	}
	return !session.From(c).IsIdle()
}

// deny tells the user why the update stops here: a toast for buttons, a
// message otherwise.
func deny(c tele.Context, reason, text string) error {
	logger.Info(tghelpers.BuildContext(c), component, "pipeline.denied",
		slog.String("status", "skip"),
		slog.String("reason", reason),
		slog.String("cb_key", entryKey(c)),
	)
	if c.Callback() != nil {
		return tghelpers.Answer(c, text)
	}
	return c.Send(text)
}

func drop(c tele.Context, reason string) error {
	logger.Debug(tghelpers.BuildContext(c), component, "pipeline.dropped",
		slog.String("status", "skip"),
		slog.String("reason", reason),
	)
	if c.Callback() != nil {
		return tghelpers.Answer(c, "")
	}
	return nil
}

// elevated reports whether the sender is an operator or a creator or
// administrator of the current chat. Lookup errors are returned.
func (p *Pipeline) elevated(ctx context.Context, c tele.Context) (bool, error) {
	chatID, userID := tghelpers.IDs(c)
	if p.cfg.IsAdmin(userID) {
		return true, nil
	}
	if p.roles == nil || chatID == 0 {
		return false, nil
	}
	return p.roles.Elevated(ctx, chatID, userID)
}

// tenantChat parses a linked chat id; placeholders yield ok=false.
func tenantChat(t *domain.Tenant) (int64, bool) {
	if !t.Linked() {
		return 0, false
	}
	id, err := strconv.ParseInt(t.ChatID, 10, 64)
	return id, err == nil
}

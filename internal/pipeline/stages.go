package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Fechomap/cargas-gas/core/logger"
	tghelpers "github.com/Fechomap/cargas-gas/core/telegram/helpers"
	"github.com/Fechomap/cargas-gas/internal/domain"
	"github.com/Fechomap/cargas-gas/internal/membership"
	"github.com/Fechomap/cargas-gas/internal/session"
	"github.com/Fechomap/cargas-gas/internal/tenant"

	tele "gopkg.in/telebot.v4"
)

// RestrictGroups lets through private chats, allow-listed groups, groups
// linked to a tenant (when enabled) and bypass entries sent by verified
// admins. Everything else is dropped without a reply. An empty allow-list
// disables the stage.
func (p *Pipeline) RestrictGroups(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		chat := c.Chat()
		if !p.cfg.RestrictGroups() || chat == nil || tghelpers.IsPrivate(c) || p.cfg.GroupAllowed(chat.ID) {
			return next(c)
		}
		ctx := tghelpers.BuildContext(c)

		if p.cfg.Access.AllowLinkedGroups {
			t, err := p.tenants.Resolve(ctx, chat.ID)
			if err == nil && t != nil {
				c.Set(resolvedKey, t)
				return next(c)
			}
		}

		if rule, ok := p.rule(c); ok && rule.GroupBypass {
			ok, err := p.elevated(ctx, c)
			if err != nil {
				logger.Warn(ctx, component, "groups.verify_failed",
					slog.String("status", "fail"),
					slog.String("err", err.Error()),
				)
				return drop(c, "group_verify_failed")
			}
			if ok {
				return next(c)
			}
		}
		return drop(c, "group_not_allowed")
	}
}

// ResolveTenant attaches the tenant of the chat to the request context.
// Bypass entries and in-progress onboarding skip the lookup.
func (p *Pipeline) ResolveTenant(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		ctx := tghelpers.BuildContext(c)
		if _, ok := tenant.FromContext(ctx); ok {
			return next(c)
		}

		rule, known := p.rule(c)
		sess := session.From(c)
		private := tghelpers.IsPrivate(c)
		switch {
		case rule.SkipTenant || rule.AdminOnly,
			sess.Workflow == session.Onboarding,
			private && !known:
			p.attach(c, &tenant.Resolution{
				Bypassed: true,
				Settings: domain.DefaultSettings("", p.cfg.Timezone),
			})
			return next(c)
		}

		chatID, _ := tghelpers.IDs(c)
		t, _ := c.Get(resolvedKey).(*domain.Tenant)
		if t == nil {
			var err error
			t, err = p.tenants.Resolve(ctx, chatID)
			if err != nil {
				return p.resolveFailed(c, err, private)
			}
		}
		if err := tenant.Gate(t); err != nil {
			if !addressed(c) {
				return drop(c, domain.CodeOf(err))
			}
			return deny(c, domain.CodeOf(err), domain.UserMessage(err, lookupFailedText))
		}

		p.attach(c, &tenant.Resolution{
			Tenant:   t,
			Settings: domain.DefaultSettings(t.ID, p.cfg.Timezone),
		})
		return next(c)
	}
}

func (p *Pipeline) resolveFailed(c tele.Context, err error, private bool) error {
	ctx := tghelpers.BuildContext(c)
	if !domain.Is(err, domain.KindNotFound) {
		logger.Warn(ctx, component, "tenant.lookup_failed",
			slog.String("status", "fail"),
			slog.String("err_code", domain.CodeOf(err)),
			slog.String("err", err.Error()),
		)
		if !addressed(c) {
			return drop(c, "tenant_lookup_failed")
		}
		return deny(c, "tenant_lookup_failed", lookupFailedText)
	}
	if !addressed(c) {
		return drop(c, "tenant_not_found")
	}
	if private {
		return deny(c, "tenant_not_found", privateNoTenant)
	}
	return deny(c, "tenant_not_found", domain.UserMessage(err, lookupFailedText))
}

// attach stores r once; later stages mutate the same value.
func (p *Pipeline) attach(c tele.Context, r *tenant.Resolution) {
	ctx := tghelpers.UpdateContext(c, func(ctx context.Context) context.Context {
		ctx = tenant.WithResolution(ctx, r)
		if r.Tenant != nil {
			ctx = logger.WithTenantID(ctx, r.Tenant.ID)
		}
		return ctx
	})
	logger.Debug(ctx, component, "tenant.attached",
		slog.String("status", "ok"),
		slog.Bool("bypassed", r.Bypassed),
	)
}

// LoadSettings fills the resolved tenant's settings. Failures keep the
// defaults already attached.
func (p *Pipeline) LoadSettings(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		ctx := tghelpers.BuildContext(c)
		res, ok := tenant.FromContext(ctx)
		if !ok || res.Tenant == nil {
			return next(c)
		}
		settings, err := p.tenants.Settings(ctx, res.Tenant.ID)
		if err != nil {
			logger.Warn(ctx, component, "settings.defaulted",
				slog.String("status", "fail"),
				slog.String("err_code", domain.CodeOf(err)),
				slog.String("err", err.Error()),
			)
		}
		if settings.Features != nil {
			res.Settings = settings
		}
		return next(c)
	}
}

// Access enforces operator-only entries, feature flags and tenant-admin
// entries. Role lookup failures let the update through.
func (p *Pipeline) Access(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		rule, ok := p.rule(c)
		if !ok {
			return next(c)
		}
		if rule.AdminOnly {
			return p.adminOnly(next)(c)
		}

		ctx := tghelpers.BuildContext(c)
		res, _ := tenant.FromContext(ctx)
		if res == nil || res.Tenant == nil {
			return next(c)
		}
		if rule.Feature != "" && !res.Settings.Enabled(rule.Feature) {
			return deny(c, "feature_disabled:"+rule.Feature, featureOffText)
		}
		if rule.TenantAdminOnly {
			allowed, err := p.tenantAdmin(ctx, c, res.Tenant)
			if err != nil {
				logger.Warn(ctx, component, "access.lookup_failed",
					slog.String("status", "fail"),
					slog.String("err", err.Error()),
				)
				return next(c)
			}
			if !allowed {
				return deny(c, "tenant_admin_only", tenantAdminText)
			}
		}
		return next(c)
	}
}

func (p *Pipeline) tenantAdmin(ctx context.Context, c tele.Context, t *domain.Tenant) (bool, error) {
	_, userID := tghelpers.IDs(c)
	if p.cfg.IsAdmin(userID) {
		return true, nil
	}
	chatID, ok := tenantChat(t)
	if !ok || p.roles == nil {
		return false, nil
	}
	admins, err := p.roles.Admins(ctx, chatID)
	if err != nil {
		return false, err
	}
	for _, id := range admins {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

// Sensitive requires an operator in private chats and an operator or an
// elevated member in groups. Any doubt denies the action.
func (p *Pipeline) Sensitive(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		rule, ok := p.rule(c)
		if !ok || !rule.Sensitive {
			return next(c)
		}
		_, userID := tghelpers.IDs(c)
		if p.cfg.IsAdmin(userID) {
			return next(c)
		}
		if tghelpers.IsPrivate(c) {
			return deny(c, "sensitive_private", sensitiveDenied)
		}

		ctx := tghelpers.BuildContext(c)
		allowed, err := p.elevated(ctx, c)
		if err != nil {
			logger.Warn(ctx, component, "sensitive.verify_failed",
				slog.String("status", "fail"),
				slog.Bool("timeout", errors.Is(err, membership.ErrTimeout)),
				slog.String("err", err.Error()),
			)
			return deny(c, "sensitive_unverified", sensitiveRetryText)
		}
		if !allowed {
			return deny(c, "sensitive_role", sensitiveDenied)
		}
		return next(c)
	}
}

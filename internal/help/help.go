// Package help serves the entry commands and answers updates that no other
// route claims.
package help

import (
	"context"
	"sort"
	"strings"

	coreconfig "github.com/Fechomap/cargas-gas/core/config"
	tg "github.com/Fechomap/cargas-gas/core/telegram"
	"github.com/Fechomap/cargas-gas/core/telegram/commands"
	"github.com/Fechomap/cargas-gas/core/telegram/format"
	tghelpers "github.com/Fechomap/cargas-gas/core/telegram/helpers"
	"github.com/Fechomap/cargas-gas/core/telegram/keyboard"
	"github.com/Fechomap/cargas-gas/core/telegram/ui"
	"github.com/Fechomap/cargas-gas/internal/domain"
	"github.com/Fechomap/cargas-gas/internal/fuel"
	"github.com/Fechomap/cargas-gas/internal/onboarding"
	"github.com/Fechomap/cargas-gas/internal/tenant"

	tele "gopkg.in/telebot.v4"
)

const (
	welcomePrivate = "👋 ¡Hola! Registro las cargas de combustible de tu flotilla directamente en el grupo de tu empresa.\n\n" +
		"Si tu empresa aún no está registrada, envía una solicitud con el botón de abajo o con /registro."
	unlinkedGroup = "Este grupo aún no está vinculado a ninguna empresa.\n\n" +
		"Solicita el registro en un chat privado conmigo con /registro. Cuando te aprueben, escribe aquí `/vincular <token>`."
	lookupFailed  = "No pude consultar los datos de tu empresa. Intenta de nuevo en unos momentos."
	unknownText   = "No entendí tu mensaje. Usa /ayuda para ver lo que puedo hacer."
	unexpectedPic = "No esperaba una foto ahora. Para registrar una carga usa /carga dentro del grupo de tu empresa."
	staleButton   = "Esta opción ya no está disponible."
)

// Resolver finds the tenant of a chat.
type Resolver interface {
	Resolve(ctx context.Context, chatID int64) (*domain.Tenant, error)
}

// Canceller aborts the sender's workflow.
type Canceller interface {
	Cancel(c tele.Context) error
}

// Handlers implements /start, /ayuda and /cancelar plus the fallbacks.
type Handlers struct {
	tenants Resolver
	flows   Canceller
	cfg     *coreconfig.Config
	reg     *tg.Registry
}

var _ ui.FallbackProvider = (*Handlers)(nil)

// New builds the handlers.
func New(tenants Resolver, flows Canceller, cfg *coreconfig.Config) *Handlers {
	return &Handlers{tenants: tenants, flows: flows, cfg: cfg}
}

// Register adds the commands to reg and installs the fallbacks.
func (h *Handlers) Register(reg *tg.Registry) {
	h.reg = reg
	open := commands.Rule{SkipTenant: true}
	reg.RegisterCommand("/start", commands.Command{
		Handler:     h.Start,
		Description: "Iniciar el bot",
		Rule:        open,
		Hidden:      true,
	})
	reg.RegisterCommand("/ayuda", commands.Command{
		Handler:     h.Ayuda,
		Description: "Ver los comandos disponibles",
		Rule:        open,
		Aliases:     []string{"/help"},
	})
	reg.RegisterCommand("/cancelar", commands.Command{
		Handler:     h.flows.Cancel,
		Description: "Cancelar la operación en curso",
		Rule:        open,
	})
	ui.Install(reg, h)
}

// Start greets private chats with the registration button and shows the
// capture menu in linked groups.
func (h *Handlers) Start(c tele.Context) error {
	if tghelpers.IsPrivate(c) {
		return tghelpers.SendMD(c, welcomePrivate, keyboard.InlineButtons([]keyboard.InlineBtn{
			{Text: "📝 Registrar empresa", Unique: onboarding.ActionStart},
		}))
	}

	chatID, _ := tghelpers.IDs(c)
	ctx := tghelpers.BuildContext(c)
	t, err := h.tenants.Resolve(ctx, chatID)
	switch {
	case domain.Is(err, domain.KindNotFound):
		return tghelpers.SendMD(c, unlinkedGroup)
	case err != nil:
		return tghelpers.SendMD(c, lookupFailed)
	}
	if err := tenant.Gate(t); err != nil {
		return tghelpers.SendMD(c, domain.UserMessage(err, lookupFailed))
	}
	return tghelpers.SendMD(c, "⛽ *"+format.MD(t.CompanyName)+"*\n\nElige una opción o busca una nota con `/buscar <nota>`.",
		keyboard.InlineButtons([]keyboard.InlineBtn{
			{Text: "⛽ Registrar carga", Unique: fuel.ActionStart},
		}))
}

// Ayuda lists the commands the sender may use. Operator commands are only
// listed for operators.
func (h *Handlers) Ayuda(c tele.Context) error {
	_, userID := tghelpers.IDs(c)
	operator := h.cfg.IsAdmin(userID)

	var names []string
	all := map[string]commands.Command{}
	if h.reg != nil {
		all = h.reg.Commands()
	}
	for name, cmd := range all {
		if cmd.Hidden || (cmd.AdminOnly && !operator) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("📖 *Comandos disponibles*\n")
	for _, name := range names {
		b.WriteString("\n")
		b.WriteString(name)
		b.WriteString(" - ")
		b.WriteString(format.MD(all[name].Description))
	}
	return tghelpers.SendMD(c, b.String())
}

// UnknownText implements ui.FallbackProvider. Groups stay quiet.
func (h *Handlers) UnknownText() tele.HandlerFunc {
	return func(c tele.Context) error {
		if !tghelpers.IsPrivate(c) {
			return nil
		}
		return tghelpers.SendMD(c, unknownText)
	}
}

// UnexpectedFile implements ui.FallbackProvider.
func (h *Handlers) UnexpectedFile() tele.HandlerFunc {
	return func(c tele.Context) error {
		if !tghelpers.IsPrivate(c) {
			return nil
		}
		return tghelpers.SendMD(c, unexpectedPic)
	}
}

// UnknownCallback implements ui.FallbackProvider.
func (h *Handlers) UnknownCallback() tele.HandlerFunc {
	return func(c tele.Context) error {
		return tghelpers.Answer(c, staleButton)
	}
}

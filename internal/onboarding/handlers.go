package onboarding

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	coreconfig "github.com/Fechomap/cargas-gas/core/config"
	"github.com/Fechomap/cargas-gas/core/logger"
	tg "github.com/Fechomap/cargas-gas/core/telegram"
	"github.com/Fechomap/cargas-gas/core/telegram/callbacks"
	"github.com/Fechomap/cargas-gas/core/telegram/commands"
	"github.com/Fechomap/cargas-gas/core/telegram/format"
	tghelpers "github.com/Fechomap/cargas-gas/core/telegram/helpers"
	"github.com/Fechomap/cargas-gas/core/telegram/keyboard"
	"github.com/Fechomap/cargas-gas/internal/domain"
	"github.com/Fechomap/cargas-gas/internal/session"

	tele "gopkg.in/telebot.v4"
)

// Operator button actions.
const (
	ActionApprove = "adm_approve"
	ActionReject  = "adm_reject"
)

const (
	genericFailure = "No pude completar la operación. Intenta de nuevo en unos momentos."
	maxListed      = 20
)

// Starter begins a workflow for the sender.
type Starter interface {
	Start(c tele.Context, wf session.Workflow) error
}

// Handlers exposes onboarding commands and operator buttons.
type Handlers struct {
	svc   *Service
	flows Starter
	cfg   *coreconfig.Config
}

// NewHandlers builds the handlers.
func NewHandlers(svc *Service, flows Starter, cfg *coreconfig.Config) *Handlers {
	return &Handlers{svc: svc, flows: flows, cfg: cfg}
}

// Register adds commands and operator callbacks to reg.
func (h *Handlers) Register(reg *tg.Registry) error {
	reg.RegisterCommand("/registro", commands.Command{
		Handler:     h.Registro,
		Description: "Solicitar el registro de tu empresa",
		Rule:        commands.Rule{SkipTenant: true, GroupBypass: true},
	})
	reg.RegisterCommand("/solicitudes", commands.Command{
		Handler:     h.Solicitudes,
		Description: "Listar solicitudes pendientes",
		Rule:        commands.Rule{AdminOnly: true},
	})
	reg.RegisterCommand("/aprobar", commands.Command{
		Handler:     h.Aprobar,
		Description: "Aprobar una solicitud: /aprobar <id>",
		Rule:        commands.Rule{AdminOnly: true},
	})
	reg.RegisterCommand("/rechazar", commands.Command{
		Handler:     h.Rechazar,
		Description: "Rechazar una solicitud: /rechazar <id> [motivo]",
		Rule:        commands.Rule{AdminOnly: true},
	})
	reg.RegisterCommand("/vincular", commands.Command{
		Handler:     h.Vincular,
		Description: "Vincular este grupo con el token de tu empresa",
		Rule:        commands.Rule{SkipTenant: true, GroupBypass: true},
	})

	sensitive := commands.Rule{SkipTenant: true, Sensitive: true}
	if err := reg.RegisterCallback(ActionApprove, commands.Callback{Handler: h.ApproveButton, Rule: sensitive}); err != nil {
		return err
	}
	return reg.RegisterCallback(ActionReject, commands.Callback{Handler: h.RejectButton, Rule: sensitive})
}

// Registro starts the registration form.
func (h *Handlers) Registro(c tele.Context) error {
	return h.flows.Start(c, session.Onboarding)
}

// Solicitudes lists pending requests with approve and reject buttons.
func (h *Handlers) Solicitudes(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	list, err := h.svc.ListPending(ctx)
	if err != nil {
		return reply(c, err)
	}
	if len(list) == 0 {
		return c.Send("No hay solicitudes pendientes.")
	}
	if len(list) > maxListed {
		_ = c.Send(fmt.Sprintf("Hay %d solicitudes pendientes; muestro las %d más antiguas.", len(list), maxListed))
		list = list[:maxListed]
	}
	for _, req := range list {
		text, markup := Card(req)
		if err := tghelpers.SendMD(c, text, markup); err != nil {
			return err
		}
	}
	return nil
}

// Aprobar handles /aprobar <id>.
func (h *Handlers) Aprobar(c tele.Context) error {
	id, ok := requestID(commands.Args(c.Text()))
	if !ok {
		return c.Send("Uso: /aprobar <id>")
	}
	return h.approve(c, id)
}

// Rechazar handles /rechazar <id> [motivo...].
func (h *Handlers) Rechazar(c tele.Context) error {
	args := commands.Args(c.Text())
	id, ok := requestID(args)
	if !ok {
		return c.Send("Uso: /rechazar <id> [motivo]")
	}
	return h.reject(c, id, strings.Join(args[1:], " "))
}

// ApproveButton handles adm_approve|<id>.
func (h *Handlers) ApproveButton(c tele.Context) error {
	if !h.operator(c) {
		return tghelpers.Answer(c, "Solo los administradores del bot pueden procesar solicitudes.")
	}
	id, err := callbacks.PayloadID(c)
	if err != nil {
		return tghelpers.Answer(c, "Solicitud inválida.")
	}
	return h.approve(c, id)
}

// RejectButton handles adm_reject|<id>.
func (h *Handlers) RejectButton(c tele.Context) error {
	if !h.operator(c) {
		return tghelpers.Answer(c, "Solo los administradores del bot pueden procesar solicitudes.")
	}
	id, err := callbacks.PayloadID(c)
	if err != nil {
		return tghelpers.Answer(c, "Solicitud inválida.")
	}
	return h.reject(c, id, "")
}

// Vincular handles /vincular <token> inside the group to link.
func (h *Handlers) Vincular(c tele.Context) error {
	if tghelpers.IsPrivate(c) {
		return c.Send("Usa /vincular <token> dentro del grupo que quieres vincular.")
	}
	args := commands.Args(c.Text())
	if len(args) == 0 {
		return c.Send("Uso: /vincular <token>")
	}
	chatID, userID := tghelpers.IDs(c)
	t, err := h.svc.LinkGroup(tghelpers.BuildContext(c), args[0], chatID, userID)
	if err != nil {
		return reply(c, err)
	}
	return tghelpers.SendMD(c, fmt.Sprintf(
		"✅ Grupo vinculado a *%s*.\n\nYa pueden registrar cargas con /carga.", format.MD(t.CompanyName)))
}

func (h *Handlers) approve(c tele.Context, id int64) error {
	_, adminID := tghelpers.IDs(c)
	res, err := h.svc.Approve(tghelpers.BuildContext(c), id, adminID)
	if err != nil {
		return reply(c, err)
	}
	text := fmt.Sprintf("✅ Solicitud #%d de *%s* aprobada.\nToken: `%s`",
		res.Request.ID, format.MD(res.Request.CompanyName), res.Token)
	return done(c, "Solicitud aprobada", text)
}

func (h *Handlers) reject(c tele.Context, id int64, reason string) error {
	_, adminID := tghelpers.IDs(c)
	req, err := h.svc.Reject(tghelpers.BuildContext(c), id, adminID, reason)
	if err != nil {
		return reply(c, err)
	}
	text := fmt.Sprintf("❌ Solicitud #%d de *%s* rechazada.", req.ID, format.MD(req.CompanyName))
	if reason != "" {
		text += "\nMotivo: " + format.MD(reason)
	}
	return done(c, "Solicitud rechazada", text)
}

func (h *Handlers) operator(c tele.Context) bool {
	_, userID := tghelpers.IDs(c)
	return h.cfg.IsAdmin(userID)
}

// done replaces the request card for buttons and replies for commands.
func done(c tele.Context, toast, text string) error {
	if c.Callback() != nil {
		_ = tghelpers.Answer(c, toast)
		return tghelpers.EditOrSendMD(c, text)
	}
	return tghelpers.SendMD(c, text)
}

// reply renders domain errors for the user and passes anything else to the
// error boundary.
func reply(c tele.Context, err error) error {
	var de *domain.Error
	if !errors.As(err, &de) || de.Kind == domain.KindFatal {
		return err
	}
	msg := domain.UserMessage(err, genericFailure)
	if de.Kind == domain.KindTransient {
		logger.LogEvent(tghelpers.BuildContext(c), logger.SVCOnboarding, slog.LevelWarn, "onboarding.transient",
			slog.String("status", "fail"),
			slog.String("err_code", de.Code()),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
		msg = genericFailure
	}
	if c.Callback() != nil {
		return tghelpers.Answer(c, msg)
	}
	return c.Send(msg)
}

func requestID(args []string) (int64, bool) {
	if len(args) == 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	return id, err == nil && id > 0
}

// Card renders a request with its approve and reject buttons.
func Card(req domain.RegistrationRequest) (string, *tele.ReplyMarkup) {
	return describe(req), decisionMarkup(req.ID)
}

func describe(req domain.RegistrationRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📋 *Solicitud #%d*\n", req.ID)
	fmt.Fprintf(&b, "🏢 %s\n", format.MD(req.CompanyName))
	fmt.Fprintf(&b, "👤 %s\n", format.MD(req.ContactName))
	fmt.Fprintf(&b, "📞 %s\n", format.MD(req.ContactPhone))
	fmt.Fprintf(&b, "📧 %s\n", format.MD(req.ContactEmail))
	if req.RequesterUsername != "" {
		fmt.Fprintf(&b, "💬 @%s\n", format.MD(req.RequesterUsername))
	}
	fmt.Fprintf(&b, "🕒 %s", req.CreatedAt.UTC().Format("02/01/2006 15:04 UTC"))
	return b.String()
}

func decisionMarkup(id int64) *tele.ReplyMarkup {
	payload := strconv.FormatInt(id, 10)
	return keyboard.InlineButtonsRows([]keyboard.InlineBtn{
		{Text: "✅ Aprobar", Unique: ActionApprove, Data: payload},
		{Text: "❌ Rechazar", Unique: ActionReject, Data: payload},
	})
}

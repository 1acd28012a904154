package fuel

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Fechomap/cargas-gas/core/logger"
	tg "github.com/Fechomap/cargas-gas/core/telegram"
	"github.com/Fechomap/cargas-gas/core/telegram/callbacks"
	"github.com/Fechomap/cargas-gas/core/telegram/commands"
	"github.com/Fechomap/cargas-gas/core/telegram/format"
	tghelpers "github.com/Fechomap/cargas-gas/core/telegram/helpers"
	"github.com/Fechomap/cargas-gas/core/telegram/keyboard"
	"github.com/Fechomap/cargas-gas/internal/domain"
	"github.com/Fechomap/cargas-gas/internal/session"
	"github.com/Fechomap/cargas-gas/internal/tenant"

	tele "gopkg.in/telebot.v4"
)

// ActionMarkPaid marks a searched record as paid.
const ActionMarkPaid = "pay_mark"

const (
	genericFailure = "No pude completar la operación. Intenta de nuevo en unos momentos."
	groupOnly      = "Usa este comando dentro del grupo de tu empresa."
)

// Starter begins a workflow for the sender.
type Starter interface {
	Start(c tele.Context, wf session.Workflow) error
}

// Handlers exposes the fuel commands and the payment button.
type Handlers struct {
	svc   *Service
	flows Starter
	loc   *time.Location
}

// NewHandlers builds the handlers. loc renders dates for tenants without a
// valid timezone.
func NewHandlers(svc *Service, flows Starter, loc *time.Location) *Handlers {
	if loc == nil {
		loc = time.UTC
	}
	return &Handlers{svc: svc, flows: flows, loc: loc}
}

// Register adds the commands and the payment callback to reg.
func (h *Handlers) Register(reg *tg.Registry) error {
	reg.RegisterCommand("/carga", commands.Command{
		Handler:     h.Carga,
		Description: "Registrar una carga de combustible",
		Rule:        commands.Rule{Feature: domain.FeatureFuelCapture},
	})
	reg.RegisterCommand("/unidad", commands.Command{
		Handler:     h.Unidad,
		Description: "Dar de alta una unidad: /unidad <operador> <número>",
		Rule:        commands.Rule{TenantAdminOnly: true, Feature: domain.FeatureUnitManagement},
	})
	reg.RegisterCommand("/buscar", commands.Command{
		Handler:     h.Buscar,
		Description: "Buscar cargas por número de nota: /buscar <nota>",
		Rule:        commands.Rule{Feature: domain.FeatureNoteSearch},
	})
	return reg.RegisterCallback(ActionMarkPaid, commands.Callback{
		Handler: h.MarkPaid,
		Rule:    commands.Rule{Feature: domain.FeaturePaymentTracking, Sensitive: true},
	})
}

// Carga starts the capture form.
func (h *Handlers) Carga(c tele.Context) error {
	return h.flows.Start(c, session.Fuel)
}

// Unidad handles /unidad <operador...> <número>. Without arguments it lists
// the active units.
func (h *Handlers) Unidad(c tele.Context) error {
	res, ok := resolved(c)
	if !ok {
		return c.Send(groupOnly)
	}
	ctx := tghelpers.BuildContext(c)
	args := commands.Args(c.Text())
	if len(args) == 0 {
		units, err := h.svc.Units(ctx, res.Tenant.ID)
		if err != nil {
			return reply(c, err)
		}
		return tghelpers.SendMD(c, unitList(units))
	}
	if len(args) < 2 {
		return c.Send("Uso: /unidad <operador> <número>")
	}
	u, err := h.svc.AddUnit(ctx, res.Tenant.ID, strings.Join(args[:len(args)-1], " "), args[len(args)-1])
	if err != nil {
		return reply(c, err)
	}
	return tghelpers.SendMD(c, fmt.Sprintf("✅ Unidad *%s* registrada.", format.MD(u.Label())))
}

// Buscar handles /buscar <nota>.
func (h *Handlers) Buscar(c tele.Context) error {
	res, ok := resolved(c)
	if !ok {
		return c.Send(groupOnly)
	}
	args := commands.Args(c.Text())
	if len(args) != 1 {
		return c.Send("Uso: /buscar <nota>")
	}
	ctx := tghelpers.BuildContext(c)
	list, err := h.svc.Search(ctx, res.Tenant.ID, args[0])
	if err != nil {
		return reply(c, err)
	}
	if len(list) == 0 {
		return tghelpers.SendMD(c, fmt.Sprintf("No encontré cargas con la nota *%s*.", format.MD(args[0])))
	}
	units, err := h.svc.Units(ctx, res.Tenant.ID)
	if err != nil {
		return reply(c, err)
	}
	labels := make(map[int64]string, len(units))
	for _, u := range units {
		labels[u.ID] = u.Label()
	}

	loc := res.Settings.Location(h.loc)
	payable := res.Settings.Enabled(domain.FeaturePaymentTracking)
	var (
		b    strings.Builder
		rows [][]keyboard.InlineBtn
	)
	fmt.Fprintf(&b, "🔎 *Nota %s*: %d resultado(s)\n", format.MD(strings.ToUpper(args[0])), len(list))
	for i, rec := range list {
		label, ok := labels[rec.UnitID]
		if !ok {
			label = fmt.Sprintf("unidad %d", rec.UnitID)
		}
		fmt.Fprintf(&b, "\n%d. %s · %s\n   %s L · %s · %s · %s", i+1,
			tghelpers.FormatDate(rec.RecordDate, loc), format.MD(label),
			rec.Liters.String(), format.Money(rec.Amount, res.Settings.Currency),
			rec.FuelType.Label(), rec.PaymentStatus.Label())
		if payable && rec.PaymentStatus == domain.Unpaid {
			rows = append(rows, []keyboard.InlineBtn{{
				Text:   fmt.Sprintf("💳 Marcar pagada #%d", i+1),
				Unique: ActionMarkPaid,
				Data:   rec.ID,
			}})
		}
	}
	if len(rows) == 0 {
		return tghelpers.SendMD(c, b.String())
	}
	return tghelpers.SendMD(c, b.String(), keyboard.InlineButtonsRows(rows...))
}

// MarkPaid handles pay_mark|<record id>.
func (h *Handlers) MarkPaid(c tele.Context) error {
	res, ok := resolved(c)
	if !ok {
		return tghelpers.Answer(c, groupOnly)
	}
	id := callbacks.CallbackPayload(c)
	if id == "" {
		return tghelpers.Answer(c, "Carga inválida.")
	}
	_, userID := tghelpers.IDs(c)
	rec, err := h.svc.MarkPaid(tghelpers.BuildContext(c), res.Tenant.ID, id, userID)
	if err != nil {
		return reply(c, err)
	}
	_ = tghelpers.Answer(c, "Marcada como pagada")
	if !res.Settings.Notify(domain.NotifyPaymentMarked) {
		return nil
	}
	who := tghelpers.DisplayName(c.Sender())
	return tghelpers.SendMD(c, fmt.Sprintf("💰 Nota *%s* (%s) marcada como pagada por %s.",
		format.MD(rec.SaleNumber), format.Money(rec.Amount, res.Settings.Currency), format.MD(who)))
}

func resolved(c tele.Context) (*tenant.Resolution, bool) {
	res, ok := tenant.FromContext(tghelpers.BuildContext(c))
	if !ok || res.Tenant == nil {
		return nil, false
	}
	return res, true
}

func unitList(units []domain.Unit) string {
	if len(units) == 0 {
		return "No hay unidades registradas. Da de alta una con /unidad <operador> <número>."
	}
	var b strings.Builder
	b.WriteString("🚚 *Unidades*\n")
	for _, u := range units {
		fmt.Fprintf(&b, "\n• %s", format.MD(u.Label()))
	}
	return b.String()
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
		logger.LogEvent(tghelpers.BuildContext(c), logger.SVCFuel, slog.LevelWarn, "fuel.transient",
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

package fuel

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Fechomap/cargas-gas/core/logger"
	"github.com/Fechomap/cargas-gas/core/telegram/commands"
	"github.com/Fechomap/cargas-gas/core/telegram/format"
	tghelpers "github.com/Fechomap/cargas-gas/core/telegram/helpers"
	"github.com/Fechomap/cargas-gas/core/telegram/keyboard"
	"github.com/Fechomap/cargas-gas/internal/domain"
	"github.com/Fechomap/cargas-gas/internal/session"
	"github.com/Fechomap/cargas-gas/internal/workflow"

	tele "gopkg.in/telebot.v4"
)

// States of the capture form.
const (
	StateSelectUnit = "fuel:select_unit"
	StateLiters     = "fuel:liters"
	StateAmount     = "fuel:amount"
	StatePrice      = "fuel:price_per_liter"
	StateFuelType   = "fuel:fuel_type"
	StatePhoto      = "fuel:photo"
	StateSale       = "fuel:sale_number"
	StatePayment    = "fuel:payment_status"
	StateConfirm    = "fuel:confirm"
	StateDateCheck  = "fuel:date_check"
	StateDateSelect = "fuel:date_select"
	StateDateCustom = "fuel:date_custom"
)

// Button actions.
const (
	ActionStart      = "fuel_start"
	ActionUnit       = "fuel_unit"
	ActionPrice      = "fuel_price"
	ActionType       = "fuel_type"
	ActionSkipPhoto  = "fuel_skip_photo"
	ActionPay        = "fuel_pay"
	ActionSave       = "fuel_save"
	ActionDateKeep   = "date_keep"
	ActionDateChange = "date_change"
	ActionDateDays   = "date_days"
	ActionDateCustom = "date_custom"
)

const (
	maxShortcutDays = 7
	unitsPerRow     = 2

	// Decimal places kept for typed quantities. Liters and amount match the
	// fuel_records columns.
	litersPlaces = 2
	amountPlaces = 2
	pricePlaces  = 2
)

// Machine is the fuel capture form.
type Machine struct {
	svc *Service
	loc *time.Location
}

// NewMachine returns the form backed by svc. loc is used when the tenant
// has no valid timezone.
func NewMachine(svc *Service, loc *time.Location) *Machine {
	if loc == nil {
		loc = time.UTC
	}
	return &Machine{svc: svc, loc: loc}
}

var _ workflow.Machine = (*Machine)(nil)

// Schema implements workflow.Machine.
func (m *Machine) Schema() session.Schema {
	return session.Schema{
		Workflow: session.Fuel,
		Prefix:   "fuel",
		States: []string{
			StateSelectUnit, StateLiters, StateAmount, StatePrice, StateFuelType, StatePhoto,
			StateSale, StatePayment, StateConfirm, StateDateCheck, StateDateSelect, StateDateCustom,
		},
	}
}

// Actions implements workflow.Machine.
func (m *Machine) Actions() map[string]commands.Rule {
	capture := commands.Rule{Feature: domain.FeatureFuelCapture}
	dates := commands.Rule{Feature: domain.FeatureDateCorrection}
	return map[string]commands.Rule{
		ActionStart:      capture,
		ActionUnit:       capture,
		ActionPrice:      {Feature: domain.FeaturePricePerLiter},
		ActionType:       capture,
		ActionSkipPhoto:  capture,
		ActionPay:        capture,
		ActionSave:       capture,
		ActionDateKeep:   dates,
		ActionDateChange: dates,
		ActionDateDays:   dates,
		ActionDateCustom: dates,
	}
}

// EntryActions implements workflow.Machine.
func (m *Machine) EntryActions() []string {
	return []string{ActionStart}
}

// Start implements workflow.Machine.
func (m *Machine) Start(t *workflow.Turn) error {
	tenantID := t.TenantID()
	if tenantID == "" || t.Private {
		t.Session.Reset()
		t.Say("Usa /carga dentro del grupo de tu empresa.", nil)
		return nil
	}
	units, err := m.svc.Units(t.Ctx, tenantID)
	if err != nil {
		return err
	}
	if len(units) == 0 {
		t.Session.Reset()
		t.Say("No hay unidades registradas. Un administrador del grupo puede darlas de alta con /unidad <operador> <número>.", nil)
		return nil
	}
	m.unitPrompt(t, units)
	return nil
}

// Handle implements workflow.Machine.
func (m *Machine) Handle(t *workflow.Turn) error {
	switch t.Session.State {
	case StateSelectUnit:
		return m.selectUnit(t)
	case StateLiters:
		return m.liters(t)
	case StateAmount:
		return m.amount(t)
	case StatePrice:
		return m.price(t)
	case StateFuelType:
		return m.fuelType(t)
	case StatePhoto:
		return m.photo(t)
	case StateSale:
		return m.sale(t)
	case StatePayment:
		return m.payment(t)
	case StateConfirm:
		return m.confirm(t)
	case StateDateCheck:
		return m.dateCheck(t)
	case StateDateSelect:
		return m.dateSelect(t)
	case StateDateCustom:
		return m.dateCustom(t)
	}
	return nil
}

func (m *Machine) selectUnit(t *workflow.Turn) error {
	if t.Input.Kind != workflow.InputAction || t.Input.Action != ActionUnit {
		units, err := m.svc.Units(t.Ctx, t.TenantID())
		if err != nil {
			return err
		}
		m.unitPrompt(t, units)
		return domain.Validation(CodeInvalidField, "Elige una unidad con los botones.")
	}
	id, err := strconv.ParseInt(t.Input.Payload, 10, 64)
	if err != nil {
		return domain.Validation(CodeInvalidField, "Unidad inválida.")
	}
	u, err := m.svc.Unit(t.Ctx, t.TenantID(), id)
	if err != nil {
		return err
	}
	d := t.Session.Fuel
	d.UnitID, d.UnitLabel = u.ID, u.Label()
	t.Toast(u.Label())
	t.Session.Goto(StateLiters)
	m.prompt(t, fmt.Sprintf("🚚 Unidad: *%s*\n\n¿Cuántos litros se cargaron?", format.MD(u.Label())))
	return nil
}

func (m *Machine) liters(t *workflow.Turn) error {
	v, ok := m.quantity(t, litersPlaces)
	if !ok {
		return m.retry(t, "Escribe los litros como número mayor a cero, por ejemplo 45.5 o 45,5.")
	}
	t.Session.Fuel.Liters = v
	t.Session.Goto(StateAmount)
	m.amountPrompt(t)
	return nil
}

func (m *Machine) amount(t *workflow.Turn) error {
	if t.Input.Kind == workflow.InputAction && t.Input.Action == ActionPrice {
		t.Session.Goto(StatePrice)
		m.prompt(t, "¿Cuál fue el precio por litro?")
		return nil
	}
	v, ok := m.quantity(t, amountPlaces)
	if !ok {
		m.amountPrompt(t)
		return domain.Validation(CodeInvalidField, "El monto debe ser un número mayor a cero.")
	}
	d := t.Session.Fuel
	d.Amount = v
	d.PricePerLiter = nil
	t.Session.Goto(StateFuelType)
	m.typePrompt(t, "")
	return nil
}

func (m *Machine) price(t *workflow.Turn) error {
	const again = "Escribe el precio por litro como número mayor a cero, por ejemplo 23.49."
	v, ok := m.quantity(t, pricePlaces)
	if !ok {
		return m.retry(t, again)
	}
	d := t.Session.Fuel
	amount := d.Liters.Mul(v).Round(amountPlaces)
	if !amount.IsPositive() {
		return m.retry(t, "El monto calculado queda en cero. "+again)
	}
	d.PricePerLiter = &v
	d.Amount = amount
	t.Session.Goto(StateFuelType)
	m.typePrompt(t, fmt.Sprintf("💵 Monto calculado: *%s*\n\n", format.Money(d.Amount, m.currency(t))))
	return nil
}

func (m *Machine) fuelType(t *workflow.Turn) error {
	var (
		ft domain.FuelType
		ok bool
	)
	switch t.Input.Kind {
	case workflow.InputAction:
		if t.Input.Action == ActionType {
			ft, ok = domain.ParseFuelType(t.Input.Payload)
		}
	case workflow.InputText:
		ft, ok = fuelTypeFromText(t.Input.Text)
	}
	if !ok {
		m.typePrompt(t, "")
		return domain.Validation(CodeInvalidField, "Elige el tipo de combustible con los botones.")
	}
	t.Session.Fuel.FuelType = string(ft)
	t.Toast(ft.Label())
	if t.Enabled(domain.FeatureTicketPhoto) {
		t.Session.Goto(StatePhoto)
		m.photoPrompt(t, "📸 Envía una foto del ticket o usa *Omitir*.")
		return nil
	}
	t.Session.Fuel.PhotoRef = nil
	t.Session.Goto(StateSale)
	m.prompt(t, "¿Cuál es el número de nota?")
	return nil
}

func (m *Machine) photo(t *workflow.Turn) error {
	d := t.Session.Fuel
	switch {
	case t.Input.Kind == workflow.InputAction && t.Input.Action == ActionSkipPhoto:
		d.PhotoRef = nil
		t.Toast("Foto omitida")
	case t.Input.Kind == workflow.InputPhoto && t.Input.PhotoID != "":
		ref, err := m.svc.StorePhoto(t.Ctx, t.Input.PhotoID)
		if err != nil {
			return err
		}
		d.PhotoRef = &ref
	default:
		m.photoPrompt(t, "Necesito una foto del ticket. Si no la tienes usa *Omitir*.")
		return domain.Validation(CodeInvalidField, "Falta la foto del ticket.")
	}
	t.Session.Goto(StateSale)
	m.prompt(t, "¿Cuál es el número de nota?")
	return nil
}

func (m *Machine) sale(t *workflow.Turn) error {
	text := strings.TrimSpace(t.Input.Text)
	if t.Input.Kind != workflow.InputText || !ValidSaleNumber(text) {
		return m.retry(t, "El número de nota tiene de 1 a 6 letras, números o guiones. ¿Cuál es el número de nota?")
	}
	t.Session.Fuel.SaleNumber = strings.ToUpper(text)
	t.Session.Goto(StatePayment)
	m.paymentPrompt(t)
	return nil
}

func (m *Machine) payment(t *workflow.Turn) error {
	var (
		ps domain.PaymentStatus
		ok bool
	)
	switch t.Input.Kind {
	case workflow.InputAction:
		if t.Input.Action == ActionPay {
			ps, ok = domain.ParsePaymentStatus(t.Input.Payload)
		}
	case workflow.InputText:
		ps, ok = paymentFromText(t.Input.Text)
	}
	if !ok {
		m.paymentPrompt(t)
		return domain.Validation(CodeInvalidField, "Elige el estado de pago con los botones.")
	}
	t.Session.Fuel.PaymentStatus = string(ps)
	t.Toast(ps.Label())
	t.Session.Goto(StateConfirm)
	m.confirmPrompt(t)
	return nil
}

func (m *Machine) confirm(t *workflow.Turn) error {
	if t.Input.Kind == workflow.InputAction {
		if t.Input.Action == ActionSave {
			return m.save(t)
		}
		return nil
	}
	switch workflow.Classify(t.Input.Text) {
	case workflow.Yes:
		return m.save(t)
	case workflow.No:
		t.Session.Reset()
		t.Say("Carga cancelada. No se guardó nada.", nil)
		return nil
	}
	m.confirmPrompt(t)
	return nil
}

// save stores the record. A failed write leaves the session on the
// confirmation step so the user can retry.
func (m *Machine) save(t *workflow.Turn) error {
	d := t.Session.Fuel
	rec, err := m.svc.Save(t.Ctx, Capture{
		TenantID:      t.TenantID(),
		UnitID:        d.UnitID,
		Liters:        d.Liters,
		Amount:        d.Amount,
		FuelType:      domain.FuelType(d.FuelType),
		SaleNumber:    d.SaleNumber,
		PaymentStatus: domain.PaymentStatus(d.PaymentStatus),
		PhotoRef:      d.PhotoRef,
		CreatedBy:     t.UserID,
	})
	if err != nil {
		if domain.Is(err, domain.KindTransient) {
			de := domain.Transient(CodeStoreWrite, err)
			de.Msg = "No se pudo guardar la carga. Tus datos siguen aquí, intenta de nuevo con Guardar."
			return de
		}
		return err
	}
	d.RecordID, d.RecordDate = rec.ID, rec.RecordDate

	loc := t.Location(m.loc)
	t.Toast("Carga guardada")
	t.Edit("✅ *Carga guardada*\n\n"+m.describe(t, d), nil)
	if t.Tenant != nil && t.Tenant.Settings.Notify(domain.NotifyRecordSaved) {
		m.svc.Announce(t.Ctx, t.ChatID, announcement(t, d, m.currency(t)))
	}

	if !t.Enabled(domain.FeatureDateCorrection) {
		t.Session.Reset()
		return nil
	}
	t.Session.Goto(StateDateCheck)
	t.Session.Expect(ActionDateKeep, ActionDateChange)
	t.Say(fmt.Sprintf("¿La carga fue hoy, %s?", tghelpers.FormatDate(rec.RecordDate, loc)),
		keyboard.InlineButtonsRows([]keyboard.InlineBtn{
			{Text: "✅ Sí, fue hoy", Unique: ActionDateKeep},
			{Text: "📅 Cambiar fecha", Unique: ActionDateChange},
		}))
	return nil
}

func (m *Machine) dateCheck(t *workflow.Turn) error {
	keep := t.Input.Kind == workflow.InputAction && t.Input.Action == ActionDateKeep
	change := t.Input.Kind == workflow.InputAction && t.Input.Action == ActionDateChange
	if t.Input.Kind == workflow.InputText {
		switch workflow.Classify(t.Input.Text) {
		case workflow.Yes:
			keep = true
		case workflow.No:
			change = true
		}
	}
	switch {
	case keep:
		t.Session.Reset()
		t.Toast("Fecha confirmada")
		t.Edit("✅ Registro completado.", nil)
	case change:
		t.Session.Goto(StateDateSelect)
		m.datePrompt(t)
	default:
		t.Session.Expect(ActionDateKeep, ActionDateChange)
		t.Say("Responde *sí* si la carga fue hoy o *no* para cambiar la fecha.", nil)
	}
	return nil
}

func (m *Machine) dateSelect(t *workflow.Turn) error {
	if t.Input.Kind != workflow.InputAction {
		m.datePrompt(t)
		return domain.Validation(CodeInvalidField, "Elige la fecha con los botones.")
	}
	switch t.Input.Action {
	case ActionDateCustom:
		t.Session.Goto(StateDateCustom)
		m.prompt(t, "Escribe la fecha de la carga como dd/mm/aaaa. Puede ser de hasta 30 días atrás.")
		return nil
	case ActionDateDays:
		n, err := strconv.Atoi(t.Input.Payload)
		if err != nil || n < 1 || n > maxShortcutDays {
			m.datePrompt(t)
			return domain.Validation(CodeInvalidField, "Opción de fecha inválida.")
		}
		loc := t.Location(m.loc)
		return m.redate(t, tghelpers.NoonOf(t.Now.AddDate(0, 0, -n), loc))
	}
	return nil
}

func (m *Machine) dateCustom(t *workflow.Turn) error {
	loc := t.Location(m.loc)
	day, ok := tghelpers.ParseDayMonthYear(t.Input.Text, loc)
	if !ok || t.Input.Kind != workflow.InputText {
		return m.retry(t, "No entendí la fecha. Escríbela como dd/mm/aaaa, por ejemplo 05/03/2024.")
	}
	date, ok := correctedDate(day, t.Now, loc)
	if !ok {
		return m.retry(t, "La fecha debe estar entre hoy y 30 días atrás. Escríbela como dd/mm/aaaa.")
	}
	return m.redate(t, date)
}

// redate finishes the workflow whatever the outcome of the update: the
// record is already saved.
func (m *Machine) redate(t *workflow.Turn, date time.Time) error {
	d := t.Session.Fuel
	loc := t.Location(m.loc)
	t.Session.Reset()
	if err := m.svc.Redate(t.Ctx, t.TenantID(), d.RecordID, date, t.UserID); err != nil {
		logger.LogEvent(t.Ctx, logger.SVCFuel, slog.LevelWarn, "fuel.redate_failed",
			slog.String("status", "fail"),
			slog.String("record_id", d.RecordID),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
		t.Edit(fmt.Sprintf("⚠️ No pude cambiar la fecha; la carga quedó registrada el %s.",
			tghelpers.FormatDate(d.RecordDate, loc)), nil)
		return nil
	}
	t.Toast("Fecha actualizada")
	t.Edit(fmt.Sprintf("✅ Registro completado con fecha %s.", tghelpers.FormatDate(date, loc)), nil)
	return nil
}

// quantity parses the typed value rounded to places. Values that round to
// zero are rejected like any other non-positive input.
func (m *Machine) quantity(t *workflow.Turn, places int32) (decimal.Decimal, bool) {
	if t.Input.Kind != workflow.InputText {
		return decimal.Zero, false
	}
	v, ok := ParsePositive(t.Input.Text)
	if !ok {
		return decimal.Zero, false
	}
	v = v.Round(places)
	return v, v.IsPositive()
}

func (m *Machine) currency(t *workflow.Turn) string {
	if t.Tenant == nil {
		return ""
	}
	return t.Tenant.Settings.Currency
}

func (m *Machine) prompt(t *workflow.Turn, text string) {
	t.Session.Expect(workflow.ActionCancel)
	t.Say(text, keyboard.SingleCancelMarkup(workflow.ActionCancel))
}

func (m *Machine) retry(t *workflow.Turn, text string) error {
	m.prompt(t, text)
	return domain.Validation(CodeInvalidField, text)
}

func (m *Machine) unitPrompt(t *workflow.Turn, units []domain.Unit) {
	btns := make([]keyboard.InlineBtn, 0, len(units))
	for _, u := range units {
		btns = append(btns, keyboard.InlineBtn{Text: u.Label(), Unique: ActionUnit, Data: strconv.FormatInt(u.ID, 10)})
	}
	markup := keyboard.InlineButtonsNPerRow(btns, unitsPerRow)
	appendCancel(markup)
	t.Session.Goto(StateSelectUnit)
	t.Session.Expect(ActionUnit, workflow.ActionCancel)
	t.Say("⛽ *Nueva carga*\n\nElige la unidad:", markup)
}

func (m *Machine) amountPrompt(t *workflow.Turn) {
	text := fmt.Sprintf("Litros: *%s*\n\n¿Cuál fue el monto total?", t.Session.Fuel.Liters.String())
	if !t.Enabled(domain.FeaturePricePerLiter) {
		m.prompt(t, text)
		return
	}
	t.Session.Expect(ActionPrice, workflow.ActionCancel)
	t.Say(text, keyboard.InlineButtonsRows(
		[]keyboard.InlineBtn{{Text: "🧮 Calcular con precio por litro", Unique: ActionPrice}},
		[]keyboard.InlineBtn{keyboard.CancelBtn(workflow.ActionCancel)},
	))
}

func (m *Machine) typePrompt(t *workflow.Turn, lead string) {
	btns := make([]keyboard.InlineBtn, 0, len(domain.FuelTypes))
	for _, ft := range domain.FuelTypes {
		btns = append(btns, keyboard.InlineBtn{Text: ft.Label(), Unique: ActionType, Data: string(ft)})
	}
	t.Session.Expect(ActionType, workflow.ActionCancel)
	t.Say(lead+"¿Qué tipo de combustible?", keyboard.InlineButtonsRows(btns,
		[]keyboard.InlineBtn{keyboard.CancelBtn(workflow.ActionCancel)}))
}

func (m *Machine) photoPrompt(t *workflow.Turn, text string) {
	t.Session.Expect(ActionSkipPhoto, workflow.ActionCancel)
	t.Say(text, keyboard.InlineButtonsRows(
		[]keyboard.InlineBtn{{Text: "⏭ Omitir", Unique: ActionSkipPhoto}},
		[]keyboard.InlineBtn{keyboard.CancelBtn(workflow.ActionCancel)},
	))
}

func (m *Machine) paymentPrompt(t *workflow.Turn) {
	t.Session.Expect(ActionPay, workflow.ActionCancel)
	t.Say("¿La nota está pagada?", keyboard.InlineButtonsRows(
		[]keyboard.InlineBtn{
			{Text: "✅ Pagada", Unique: ActionPay, Data: string(domain.Paid)},
			{Text: "⏳ No pagada", Unique: ActionPay, Data: string(domain.Unpaid)},
		},
		[]keyboard.InlineBtn{keyboard.CancelBtn(workflow.ActionCancel)},
	))
}

func (m *Machine) confirmPrompt(t *workflow.Turn) {
	t.Session.Expect(ActionSave, workflow.ActionCancel)
	t.Say("Revisa la carga:\n\n"+m.describe(t, t.Session.Fuel)+"\n\n¿Guardar? Responde *sí* o *no*, o usa los botones.",
		keyboard.InlineButtonsRows(
			[]keyboard.InlineBtn{{Text: "💾 Guardar", Unique: ActionSave}},
			[]keyboard.InlineBtn{keyboard.CancelBtn(workflow.ActionCancel)},
		))
}

func (m *Machine) datePrompt(t *workflow.Turn) {
	btns := make([]keyboard.InlineBtn, 0, maxShortcutDays+1)
	for n := 1; n <= maxShortcutDays; n++ {
		btns = append(btns, keyboard.InlineBtn{Text: daysLabel(n), Unique: ActionDateDays, Data: strconv.Itoa(n)})
	}
	btns = append(btns, keyboard.InlineBtn{Text: "📅 Otra fecha", Unique: ActionDateCustom})
	t.Session.Expect(ActionDateDays, ActionDateCustom)
	t.Say("¿Cuándo fue la carga?", keyboard.InlineButtonsNPerRow(btns, 2))
}

func (m *Machine) describe(t *workflow.Turn, d *session.FuelDraft) string {
	cur := m.currency(t)
	var b strings.Builder
	fmt.Fprintf(&b, "🚚 Unidad: %s\n", format.MD(d.UnitLabel))
	fmt.Fprintf(&b, "⛽ Litros: %s\n", d.Liters.String())
	if d.PricePerLiter != nil {
		fmt.Fprintf(&b, "🧮 Precio por litro: %s\n", format.Money(*d.PricePerLiter, cur))
	}
	fmt.Fprintf(&b, "💵 Monto: %s\n", format.Money(d.Amount, cur))
	fmt.Fprintf(&b, "🛢 Tipo: %s\n", domain.FuelType(d.FuelType).Label())
	if t.Enabled(domain.FeatureTicketPhoto) {
		photo := "no"
		if d.PhotoRef != nil {
			photo = "sí"
		}
		fmt.Fprintf(&b, "📸 Foto: %s\n", photo)
	}
	fmt.Fprintf(&b, "🧾 Nota: %s\n", format.MD(d.SaleNumber))
	fmt.Fprintf(&b, "💳 Pago: %s", domain.PaymentStatus(d.PaymentStatus).Label())
	return b.String()
}

func announcement(t *workflow.Turn, d *session.FuelDraft, currency string) string {
	who := "alguien"
	if t.Username != "" {
		who = "@" + format.MD(t.Username)
	}
	return fmt.Sprintf("⛽ Nueva carga de %s: %s L, %s, nota %s (%s).",
		who, d.Liters.String(), format.Money(d.Amount, currency), format.MD(d.SaleNumber),
		domain.PaymentStatus(d.PaymentStatus).Label())
}

func appendCancel(markup *tele.ReplyMarkup) {
	cancel := keyboard.InlineButtonsRows([]keyboard.InlineBtn{keyboard.CancelBtn(workflow.ActionCancel)})
	markup.InlineKeyboard = append(markup.InlineKeyboard, cancel.InlineKeyboard...)
}

func daysLabel(n int) string {
	switch n {
	case 1:
		return "Ayer"
	case 2:
		return "Antier"
	}
	return fmt.Sprintf("Hace %d días", n)
}

func fuelTypeFromText(s string) (domain.FuelType, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, ft := range domain.FuelTypes {
		if s == strings.ToLower(string(ft)) || s == strings.ToLower(ft.Label()) {
			return ft, true
		}
	}
	return "", false
}

func paymentFromText(s string) (domain.PaymentStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pagada", "pagado", "si", "sí":
		return domain.Paid, true
	case "no pagada", "no pagado", "pendiente", "no":
		return domain.Unpaid, true
	}
	return "", false
}

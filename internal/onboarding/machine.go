package onboarding

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/Fechomap/cargas-gas/core/telegram/commands"
	"github.com/Fechomap/cargas-gas/core/telegram/format"
	"github.com/Fechomap/cargas-gas/core/telegram/keyboard"
	"github.com/Fechomap/cargas-gas/internal/domain"
	"github.com/Fechomap/cargas-gas/internal/session"
	"github.com/Fechomap/cargas-gas/internal/workflow"

	tele "gopkg.in/telebot.v4"
)

// States of the registration form.
const (
	StateCompany = "onb:company_name"
	StateContact = "onb:contact_name"
	StatePhone   = "onb:phone"
	StateEmail   = "onb:email"
	StateConfirm = "onb:confirm"
)

// Button actions.
const (
	ActionStart   = "onb_start"
	ActionConfirm = "onb_confirm"
	ActionCancel  = "onb_cancel"
)

var (
	phoneRe = regexp.MustCompile(`^\+?[0-9 ()\-.]{7,20}$`)
	emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]{2,}$`)
)

const (
	minNameLen = 2
	maxNameLen = 100
	minDigits  = 10
	maxDigits  = 15
)

// Machine is the registration form.
type Machine struct {
	svc *Service
}

// NewMachine returns the form backed by svc.
func NewMachine(svc *Service) *Machine {
	return &Machine{svc: svc}
}

var _ workflow.Machine = (*Machine)(nil)

// Schema implements workflow.Machine.
func (m *Machine) Schema() session.Schema {
	return session.Schema{
		Workflow: session.Onboarding,
		Prefix:   "onb",
		States:   []string{StateCompany, StateContact, StatePhone, StateEmail, StateConfirm},
	}
}

// Actions implements workflow.Machine.
func (m *Machine) Actions() map[string]commands.Rule {
	rule := commands.Rule{SkipTenant: true}
	return map[string]commands.Rule{
		ActionStart:   rule,
		ActionConfirm: rule,
		ActionCancel:  rule,
	}
}

// EntryActions implements workflow.Machine.
func (m *Machine) EntryActions() []string {
	return []string{ActionStart}
}

// Start implements workflow.Machine.
func (m *Machine) Start(t *workflow.Turn) error {
	if !t.Private {
		t.Session.Reset()
		t.Say("Para registrar tu empresa escríbeme en un chat privado y usa /registro.", nil)
		return nil
	}
	pending, err := m.svc.PendingFor(t.Ctx, t.UserID)
	if err != nil {
		return err
	}
	if pending != nil {
		t.Session.Reset()
		t.Say(fmt.Sprintf("Ya tienes una solicitud pendiente (#%d). Te avisaremos cuando sea revisada.", pending.ID), nil)
		return nil
	}
	t.Session.Goto(StateCompany)
	m.prompt(t, "📝 *Registro de empresa*\n\n¿Cuál es el nombre de tu empresa?")
	return nil
}

// Handle implements workflow.Machine.
func (m *Machine) Handle(t *workflow.Turn) error {
	if t.Input.Kind == workflow.InputAction {
		switch t.Input.Action {
		case ActionCancel:
			return m.cancel(t)
		case ActionConfirm:
			if t.Session.State == StateConfirm {
				return m.submit(t)
			}
		}
		return nil
	}
	if t.Input.Kind == workflow.InputPhoto {
		return m.retry(t, "Necesito la respuesta en texto.")
	}

	draft := t.Session.Registration
	text := strings.TrimSpace(t.Input.Text)
	switch t.Session.State {
	case StateCompany:
		if !validName(text) {
			return m.retry(t, fmt.Sprintf("El nombre debe tener entre %d y %d caracteres. ¿Cuál es el nombre de tu empresa?", minNameLen, maxNameLen))
		}
		draft.CompanyName = text
		t.Session.Goto(StateContact)
		m.prompt(t, "¿Cuál es el nombre de la persona de contacto?")
	case StateContact:
		if !validName(text) {
			return m.retry(t, fmt.Sprintf("El nombre debe tener entre %d y %d caracteres. ¿Quién es el contacto?", minNameLen, maxNameLen))
		}
		draft.ContactName = text
		t.Session.Goto(StatePhone)
		m.prompt(t, "¿Cuál es el teléfono de contacto?")
	case StatePhone:
		if !validPhone(text) {
			return m.retry(t, "El teléfono no es válido. Escribe al menos 10 dígitos, por ejemplo 5512345678.")
		}
		draft.Phone = text
		t.Session.Goto(StateEmail)
		m.prompt(t, "¿Cuál es el correo electrónico de contacto?")
	case StateEmail:
		if !validEmail(text) {
			return m.retry(t, "El correo no es válido. Escribe algo como nombre@empresa.com.")
		}
		draft.Email = strings.ToLower(text)
		t.Session.Goto(StateConfirm)
		m.confirmPrompt(t, draft)
	case StateConfirm:
		switch workflow.Classify(text) {
		case workflow.Yes:
			return m.submit(t)
		case workflow.No:
			return m.cancel(t)
		}
		m.confirmPrompt(t, draft)
	}
	return nil
}

func (m *Machine) submit(t *workflow.Turn) error {
	d := t.Session.Registration
	req, err := m.svc.CreateRequest(t.Ctx, Applicant{
		CompanyName:       d.CompanyName,
		ContactName:       d.ContactName,
		Phone:             d.Phone,
		Email:             d.Email,
		RequesterID:       t.UserID,
		RequesterUsername: t.Username,
	})
	if err != nil {
		if domain.Is(err, domain.KindConflict) {
			t.Session.Reset()
		}
		return err
	}
	t.Session.Reset()
	t.Toast("Solicitud enviada")
	t.Edit(fmt.Sprintf("✅ Solicitud #%d enviada. Te avisaré cuando un administrador la revise.", req.ID), nil)
	return nil
}

func (m *Machine) cancel(t *workflow.Turn) error {
	t.Session.Reset()
	t.Toast("Registro cancelado")
	t.Edit("Registro cancelado. Puedes iniciarlo de nuevo con /registro.", nil)
	return nil
}

func (m *Machine) prompt(t *workflow.Turn, text string) {
	t.Session.Expect(ActionCancel)
	t.Say(text, keyboard.SingleCancelMarkup(ActionCancel))
}

func (m *Machine) retry(t *workflow.Turn, text string) error {
	t.Session.Expect(ActionCancel)
	t.Say(text, keyboard.SingleCancelMarkup(ActionCancel))
	return domain.Validation(CodeInvalidField, text)
}

func (m *Machine) confirmPrompt(t *workflow.Turn, d *session.RegistrationDraft) {
	t.Session.Expect(ActionConfirm, ActionCancel)
	t.Say(summary(d), confirmMarkup())
}

func summary(d *session.RegistrationDraft) string {
	var b strings.Builder
	b.WriteString("Revisa tus datos:\n\n")
	fmt.Fprintf(&b, "🏢 Empresa: %s\n", format.MD(d.CompanyName))
	fmt.Fprintf(&b, "👤 Contacto: %s\n", format.MD(d.ContactName))
	fmt.Fprintf(&b, "📞 Teléfono: %s\n", format.MD(d.Phone))
	fmt.Fprintf(&b, "📧 Correo: %s\n\n", format.MD(d.Email))
	b.WriteString("¿Son correctos? Responde *sí* o *no*, o usa los botones.")
	return b.String()
}

func confirmMarkup() *tele.ReplyMarkup {
	return keyboard.InlineButtonsRows(
		[]keyboard.InlineBtn{{Text: "✅ Confirmar", Unique: ActionConfirm}},
		[]keyboard.InlineBtn{keyboard.CancelBtn(ActionCancel)},
	)
}

func validName(s string) bool {
	n := utf8.RuneCountInString(strings.TrimSpace(s))
	return n >= minNameLen && n <= maxNameLen
}

func validPhone(s string) bool {
	s = strings.TrimSpace(s)
	if !phoneRe.MatchString(s) {
		return false
	}
	digits := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= minDigits && digits <= maxDigits
}

func validEmail(s string) bool {
	s = strings.TrimSpace(s)
	return len(s) <= 254 && emailRe.MatchString(s)
}

func validateApplicant(a Applicant) error {
	switch {
	case !validName(a.CompanyName):
		return domain.Validation(CodeInvalidField, "El nombre de la empresa no es válido.")
	case !validName(a.ContactName):
		return domain.Validation(CodeInvalidField, "El nombre de contacto no es válido.")
	case !validPhone(a.Phone):
		return domain.Validation(CodeInvalidField, "El teléfono no es válido.")
	case !validEmail(a.Email):
		return domain.Validation(CodeInvalidField, "El correo no es válido.")
	}
	return nil
}

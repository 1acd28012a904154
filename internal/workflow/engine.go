package workflow

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
	tghelpers "github.com/Fechomap/cargas-gas/core/telegram/helpers"
	"github.com/Fechomap/cargas-gas/internal/domain"
	"github.com/Fechomap/cargas-gas/internal/session"
	"github.com/Fechomap/cargas-gas/internal/tenant"

	tele "gopkg.in/telebot.v4"
)

// Generic actions handled by the engine itself.
const (
	ActionCancel = "wf_cancel"
)

const (
	staleText     = "Esta opción ya no está disponible."
	cancelledText = "Operación cancelada."
	nothingText   = "No hay ninguna operación en curso."
	transientText = "No pude completar el paso por un problema temporal. Intenta de nuevo."
)

// Machine is one conversation workflow.
type Machine interface {
	Schema() session.Schema
	// Actions lists the button actions the machine consumes with their
	// access rules.
	Actions() map[string]commands.Rule
	// EntryActions lists actions that start the machine from any state.
	EntryActions() []string
	// Start begins the workflow on a session already moved to the first
	// state of its schema.
	Start(t *Turn) error
	// Handle processes input for a session inside the workflow.
	Handle(t *Turn) error
}

// Engine dispatches input to machines.
type Engine struct {
	machines map[string]Machine
	byWF     map[session.Workflow]Machine
	owner    map[string]Machine
	entry    map[string]Machine
	codec    *session.Codec
	now      func() time.Time
}

// NewEngine registers machines. Prefixes and action names must be unique.
func NewEngine(machines ...Machine) (*Engine, error) {
	e := &Engine{
		machines: make(map[string]Machine),
		byWF:     make(map[session.Workflow]Machine),
		owner:    make(map[string]Machine),
		entry:    make(map[string]Machine),
		now:      time.Now,
	}
	schemas := make([]session.Schema, 0, len(machines))
	for _, m := range machines {
		s := m.Schema()
		if len(s.States) == 0 {
			return nil, fmt.Errorf("workflow: %q declares no states", s.Prefix)
		}
		if _, dup := e.machines[s.Prefix]; dup {
			return nil, fmt.Errorf("workflow: duplicate prefix %q", s.Prefix)
		}
		e.machines[s.Prefix] = m
		e.byWF[s.Workflow] = m
		schemas = append(schemas, s)
		for action := range m.Actions() {
			if _, dup := e.owner[action]; dup || action == ActionCancel {
				return nil, fmt.Errorf("workflow: duplicate action %q", action)
			}
			e.owner[action] = m
		}
		for _, action := range m.EntryActions() {
			if e.owner[action] != m {
				return nil, fmt.Errorf("workflow: entry action %q is not an action of %q", action, s.Prefix)
			}
			e.entry[action] = m
		}
	}
	e.codec = session.NewCodec(schemas...)
	return e, nil
}

// Codec returns the session codec accepting every registered workflow.
func (e *Engine) Codec() *session.Codec {
	return e.codec
}

// SetClock overrides time.Now.
func (e *Engine) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// Register adds every machine action and the cancel button to reg.
func (e *Engine) Register(reg *tg.Registry) error {
	if err := reg.RegisterCallback(ActionCancel, commands.Callback{
		Handler: e.Cancel,
		Rule:    commands.Rule{SkipTenant: true},
	}); err != nil {
		return err
	}
	for _, m := range e.machines {
		for action, rule := range m.Actions() {
			if err := reg.RegisterCallback(action, commands.Callback{Handler: e.Action, Rule: rule}); err != nil {
				return err
			}
		}
	}
	return nil
}

// Active reports whether the sender's session is inside a known workflow.
func (e *Engine) Active(c tele.Context) bool {
	s := session.From(c)
	if s.IsIdle() {
		return false
	}
	_, ok := e.machines[s.Prefix()]
	return ok
}

// HandleText routes free text to the active machine.
func (e *Engine) HandleText(c tele.Context) error {
	return e.dispatch(c, Input{Kind: InputText, Text: strings.TrimSpace(c.Text())})
}

// HandlePhoto routes a photo to the active machine.
func (e *Engine) HandlePhoto(c tele.Context) error {
	in := Input{Kind: InputPhoto}
	if m := c.Message(); m != nil && m.Photo != nil {
		in.PhotoID = m.Photo.FileID
		in.Text = strings.TrimSpace(m.Caption)
	}
	return e.dispatch(c, in)
}

// Action handles a machine button. Entry actions start their machine;
// other actions must have been offered by the last prompt.
func (e *Engine) Action(c tele.Context) error {
	action, payload := callbacks.ParseCallbackData(c.Callback())
	in := Input{Kind: InputAction, Action: action, Payload: payload}

	if m, ok := e.entry[action]; ok {
		s := session.From(c)
		if s.Workflow != m.Schema().Workflow || !s.Expects(action) {
			return e.start(c, m, in)
		}
	}

	m, ok := e.owner[action]
	s := session.From(c)
	if !ok || s.IsIdle() || s.Prefix() != m.Schema().Prefix || !s.Expects(action) {
		logger.LogEvent(tghelpers.BuildContext(c), logger.SVCSessions, slog.LevelInfo, "workflow.stale_action",
			slog.String("status", "skip"),
			slog.String("cb_key", action),
			slog.String("state", s.State),
		)
		return tghelpers.Answer(c, staleText)
	}
	return e.dispatch(c, in)
}

// Start begins wf for the sender, discarding any workflow in progress.
func (e *Engine) Start(c tele.Context, wf session.Workflow) error {
	m, ok := e.byWF[wf]
	if !ok {
		return fmt.Errorf("workflow: unknown workflow %q", wf)
	}
	return e.start(c, m, Input{Kind: InputStart, Text: strings.TrimSpace(c.Text())})
}

func (e *Engine) start(c tele.Context, m Machine, in Input) error {
	return e.run(c, in, func(t *Turn) error {
		schema := m.Schema()
		t.Session.Reset()
		t.Session.Begin(schema.Workflow, schema.States[0])
		return m.Start(t)
	})
}

// Cancel resets the session to idle from any state.
func (e *Engine) Cancel(c tele.Context) error {
	s := session.From(c)
	ctx := tghelpers.BuildContext(c)
	if s.IsIdle() {
		if c.Callback() != nil {
			return tghelpers.Answer(c, staleText)
		}
		return c.Send(nothingText)
	}
	prev := s.State
	s.Reset()
	s.Touch(e.now())
	session.Save(c, s)
	logger.LogEvent(ctx, logger.SVCSessions, slog.LevelInfo, "workflow.cancelled",
		slog.String("status", "ok"),
		slog.String("state", prev),
	)
	if c.Callback() != nil {
		_ = tghelpers.Answer(c, cancelledText)
		return c.EditOrSend(cancelledText)
	}
	return c.Send(cancelledText, &tele.SendOptions{ReplyMarkup: &tele.ReplyMarkup{RemoveKeyboard: true}})
}

func (e *Engine) dispatch(c tele.Context, in Input) error {
	s := session.From(c)
	m, ok := e.machines[s.Prefix()]
	if s.IsIdle() || !ok {
		return nil
	}
	return e.run(c, in, m.Handle)
}

// run executes fn on a turn and renders its replies. Transient failures keep
// the pre-turn session so the user can retry the same step; unexpected
// failures reset the session and reach the error boundary.
func (e *Engine) run(c tele.Context, in Input, fn func(*Turn) error) error {
	ctx := tghelpers.BuildContext(c)
	before := session.From(c)
	cur := clone(e.codec, before)

	res, _ := tenant.FromContext(ctx)
	chatID, userID := tghelpers.IDs(c)
	t := &Turn{
		Ctx:     logger.WithHandler(ctx, "workflow."+cur.Prefix()),
		Session: &cur,
		Tenant:  res,
		ChatID:  chatID,
		UserID:  userID,
		Private: tghelpers.IsPrivate(c),
		Now:     e.now(),
		Input:   in,
	}
	if u := c.Sender(); u != nil {
		t.Username = u.Username
	}

	err := fn(t)
	var de *domain.Error
	switch {
	case err == nil:
	case errors.As(err, &de) && de.Kind == domain.KindTransient:
		logger.LogEvent(ctx, logger.SVCSessions, slog.LevelWarn, "workflow.transient",
			slog.String("status", "fail"),
			slog.String("state", before.State),
			slog.String("err_code", de.Code()),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
		session.Save(c, before)
		_ = tghelpers.Answer(c, "")
		return c.Send(domain.UserMessage(err, transientText))
	case errors.As(err, &de) && de.Kind != domain.KindFatal:
		// Machines normally re-prompt themselves; this keeps the state.
		t.Session.Touch(t.Now)
		session.Save(c, *t.Session)
		if len(t.replies) == 0 {
			t.Say(de.Msg, nil)
		}
		return e.render(c, t)
	default:
		reset := session.New()
		reset.History = before.History
		session.Save(c, reset)
		return err
	}

	t.Session.Touch(t.Now)
	session.Save(c, *t.Session)
	return e.render(c, t)
}

func (e *Engine) render(c tele.Context, t *Turn) error {
	if c.Callback() != nil {
		_ = tghelpers.Answer(c, t.toast)
	}
	for _, r := range t.replies {
		opts := &tele.SendOptions{ParseMode: tele.ModeMarkdown, ReplyMarkup: r.Markup}
		if r.Edit && c.Callback() != nil {
			if err := c.Edit(r.Text, opts); err == nil {
				continue
			}
		}
		if err := c.Send(r.Text, opts); err != nil {
			return fmt.Errorf("workflow reply: %w", err)
		}
	}
	return nil
}

func clone(codec *session.Codec, s session.Session) session.Session {
	raw, err := codec.Encode(s)
	if err != nil {
		return s
	}
	out, repaired := codec.Decode(raw)
	if repaired {
		return s
	}
	return out
}

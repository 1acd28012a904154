package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fechomap/cargas-gas/core/telegram/commands"
	"github.com/Fechomap/cargas-gas/core/telegram/teletest"
	"github.com/Fechomap/cargas-gas/internal/domain"
	"github.com/Fechomap/cargas-gas/internal/session"

	tele "gopkg.in/telebot.v4"
)

type toyMachine struct{}

func (toyMachine) Schema() session.Schema {
	return session.Schema{Workflow: "toy", Prefix: "toy", States: []string{"toy:a", "toy:b"}}
}

func (toyMachine) Actions() map[string]commands.Rule {
	return map[string]commands.Rule{"toy_go": {}, "toy_next": {}}
}

func (toyMachine) EntryActions() []string { return []string{"toy_go"} }

func (toyMachine) Start(t *Turn) error {
	t.Session.Expect("toy_next", ActionCancel)
	t.Say("A?", nil)
	return nil
}

func (toyMachine) Handle(t *Turn) error {
	switch {
	case t.Input.Kind == InputAction && t.Input.Action == "toy_next":
		t.Session.Goto("toy:b")
		t.Session.Expect()
		t.Toast("ok")
		t.Edit("B", nil)
		return nil
	case t.Input.Text == "bad":
		return domain.Validation("BAD", "Dato inválido")
	case t.Input.Text == "down":
		t.Session.Goto("toy:b")
		return domain.Transient("STORE_WRITE", errors.New("timeout"))
	case t.Input.Text == "boom":
		return errors.New("unexpected")
	}
	t.Say("eco "+t.Input.Text, nil)
	return nil
}

var (
	chat = teletest.Chat(-100, tele.ChatGroup)
	user = teletest.User(7)
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(toyMachine{})
	require.NoError(t, err)
	return e
}

// carry moves the session of one context into the next.
func carry(from, to tele.Context) {
	session.Save(to, session.From(from))
}

func started(t *testing.T, e *Engine) *teletest.Context {
	t.Helper()
	c := teletest.NewContext(teletest.Callback(chat, user, "toy_go", ""))
	require.NoError(t, e.Action(c))
	require.Equal(t, "toy:a", session.From(c).State)
	assert.Equal(t, "A?", c.LastText())
	return c
}

func TestEntryActionStartsMachine(t *testing.T) {
	e := newEngine(t)
	c := started(t, e)
	assert.True(t, e.Active(c))
	assert.True(t, session.From(c).Expects("toy_next"))
}

func TestStaleActionIsIgnored(t *testing.T) {
	e := newEngine(t)
	c := teletest.NewContext(teletest.Callback(chat, user, "toy_next", ""))
	require.NoError(t, e.Action(c))
	assert.True(t, session.From(c).IsIdle())
	require.Len(t, c.Responses(), 1)
	assert.Equal(t, staleText, c.Responses()[0].Text)
	assert.Empty(t, c.Sent())
}

func TestOfferedActionAdvances(t *testing.T) {
	e := newEngine(t)
	prev := started(t, e)
	c := teletest.NewContext(teletest.Callback(chat, user, "toy_next", ""))
	carry(prev, c)

	require.NoError(t, e.Action(c))
	assert.Equal(t, "toy:b", session.From(c).State)
	assert.Equal(t, "ok", c.Responses()[0].Text)
	assert.Equal(t, "edit", c.Sent()[0].Method)

	again := teletest.NewContext(teletest.Callback(chat, user, "toy_next", ""))
	carry(c, again)
	require.NoError(t, e.Action(again))
	assert.Equal(t, staleText, again.Responses()[0].Text)
}

func TestValidationKeepsState(t *testing.T) {
	e := newEngine(t)
	prev := started(t, e)
	c := teletest.NewContext(teletest.Message(chat, user, "bad"))
	carry(prev, c)

	require.NoError(t, e.HandleText(c))
	assert.Equal(t, "toy:a", session.From(c).State)
	assert.Equal(t, "Dato inválido", c.LastText())
}

func TestTransientRestoresSession(t *testing.T) {
	e := newEngine(t)
	prev := started(t, e)
	c := teletest.NewContext(teletest.Message(chat, user, "down"))
	carry(prev, c)

	require.NoError(t, e.HandleText(c))
	assert.Equal(t, "toy:a", session.From(c).State)
	assert.NotEmpty(t, c.LastText())
}

func TestUnexpectedErrorResetsAndPropagates(t *testing.T) {
	e := newEngine(t)
	prev := started(t, e)
	c := teletest.NewContext(teletest.Message(chat, user, "boom"))
	carry(prev, c)

	assert.Error(t, e.HandleText(c))
	assert.True(t, session.From(c).IsIdle())
}

func TestCancelFromAnyState(t *testing.T) {
	e := newEngine(t)
	prev := started(t, e)
	c := teletest.NewContext(teletest.Message(chat, user, "/cancelar"))
	carry(prev, c)

	require.NoError(t, e.Cancel(c))
	s := session.From(c)
	assert.True(t, s.IsIdle())
	assert.Equal(t, session.Idle, s.State)
	assert.Empty(t, s.Pending)
	assert.Equal(t, cancelledText, c.LastText())

	idle := teletest.NewContext(teletest.Message(chat, user, "/cancelar"))
	require.NoError(t, e.Cancel(idle))
	assert.Equal(t, nothingText, idle.LastText())
}

func TestIdleTextPassesThrough(t *testing.T) {
	e := newEngine(t)
	c := teletest.NewContext(teletest.Message(chat, user, "hola"))
	assert.False(t, e.Active(c))
	require.NoError(t, e.HandleText(c))
	assert.Empty(t, c.Sent())
}

func TestDuplicateActionsRejected(t *testing.T) {
	_, err := NewEngine(toyMachine{}, toyMachine{})
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	for in, want := range map[string]Answer{
		"Sí":          Yes,
		"  si!  ":     Yes,
		"OK":          Yes,
		"de  acuerdo": Yes,
		"No.":         No,
		"cancelar":    No,
		"quizás":      Unknown,
		"":            Unknown,
	} {
		assert.Equal(t, want, Classify(in), in)
	}
}

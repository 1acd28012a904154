// Package workflow runs the conversation state machines. A machine owns a
// state prefix; the engine routes text, photo and button input to the
// machine whose prefix matches the session state.
package workflow

import (
	"context"
	"time"

	"github.com/Fechomap/cargas-gas/internal/session"
	"github.com/Fechomap/cargas-gas/internal/tenant"

	tele "gopkg.in/telebot.v4"
)

// InputKind tells what the user sent.
type InputKind int

const (
	InputText InputKind = iota + 1
	InputPhoto
	InputAction
	// InputStart is synthetic: a command or entry button started the machine.
	InputStart
)

// Input is one user event.
type Input struct {
	Kind    InputKind
	Text    string
	PhotoID string
	Action  string
	Payload string
}

// Reply is one outbound message produced by a turn.
type Reply struct {
	Text   string
	Markup *tele.ReplyMarkup
	// Edit replaces the message carrying the pressed button when possible.
	Edit bool
}

// Turn carries everything a machine needs to process one input.
type Turn struct {
	Ctx     context.Context
	Session *session.Session
	// Tenant is nil before onboarding completes.
	Tenant *tenant.Resolution
	ChatID int64
	UserID int64
	// Username is the sender handle without "@", possibly empty.
	Username string
	Private  bool
	Now      time.Time
	Input    Input

	replies []Reply
	toast   string
}

// Say queues a new message.
func (t *Turn) Say(text string, markup *tele.ReplyMarkup) {
	t.replies = append(t.replies, Reply{Text: text, Markup: markup})
}

// Edit queues a message that replaces the pressed button's message.
func (t *Turn) Edit(text string, markup *tele.ReplyMarkup) {
	t.replies = append(t.replies, Reply{Text: text, Markup: markup, Edit: true})
}

// Toast sets the callback acknowledgement text.
func (t *Turn) Toast(text string) {
	t.toast = text
}

// Replies returns the queued replies.
func (t *Turn) Replies() []Reply {
	return t.replies
}

// TenantID returns the resolved tenant id or "".
func (t *Turn) TenantID() string {
	if t.Tenant == nil || t.Tenant.Tenant == nil {
		return ""
	}
	return t.Tenant.Tenant.ID
}

// Location returns the tenant timezone, falling back to def.
func (t *Turn) Location(def *time.Location) *time.Location {
	if t.Tenant == nil {
		if def == nil {
			return time.UTC
		}
		return def
	}
	return t.Tenant.Settings.Location(def)
}

// Enabled reports whether a tenant feature is on. Without a tenant
// everything is on.
func (t *Turn) Enabled(feature string) bool {
	if t.Tenant == nil || t.Tenant.Tenant == nil {
		return true
	}
	return t.Tenant.Settings.Enabled(feature)
}

package session

import (
	"github.com/Fechomap/cargas-gas/core/telegram/state"

	tele "gopkg.in/telebot.v4"
)

// From returns the session of the current turn, or the idle baseline when the
// session stage did not run.
func From(c tele.Context) Session {
	if s, ok := state.From[Session](c); ok {
		return s
	}
	return New()
}

// Save replaces the session persisted at the end of the turn.
func Save(c tele.Context, s Session) {
	state.Replace(c, s)
}

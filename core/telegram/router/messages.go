package router

import (
	tg "github.com/Fechomap/cargas-gas/core/telegram"
	"github.com/Fechomap/cargas-gas/core/telegram/commands"

	tele "gopkg.in/telebot.v4"
)

// Conversation is the part of the workflow engine the message routes need.
type Conversation interface {
	// Active reports whether the sender is inside a workflow.
	Active(c tele.Context) bool
	HandleText(c tele.Context) error
	HandlePhoto(c tele.Context) error
}

// TextOptions are used when the registry has no text or photo fallback.
type TextOptions struct {
	UnknownText    tele.HandlerFunc
	UnexpectedFile tele.HandlerFunc
}

// TextRoutes builds the OnText and OnPhoto routes. Input for an active
// workflow wins, except that a command always runs as a command.
func TextRoutes(conv Conversation, reg *tg.Registry, opts TextOptions) []tg.Route {
	text := func(c tele.Context) error {
		cmd := commands.Name(c.Text())
		if cmd == "" && conv != nil && conv.Active(c) {
			return begin(c, "workflow").run(conv.HandleText)
		}
		if reg != nil {
			if key, def, ok := reg.LookupCommand(cmd); ok && def.Handler != nil {
				return begin(c, routeName(key)).run(def.Handler)
			}
		}
		return fallback(c, "unknown_text", textFallback(reg), opts.UnknownText)
	}
	photo := func(c tele.Context) error {
		if conv != nil && conv.Active(c) {
			return begin(c, "workflow_photo").run(conv.HandlePhoto)
		}
		return fallback(c, "unexpected_photo", photoFallback(reg), opts.UnexpectedFile)
	}
	return []tg.Route{
		{Endpoint: tele.OnText, Handler: text},
		{Endpoint: tele.OnPhoto, Handler: photo},
	}
}

// fallback runs the first non-nil handler, or logs a skip.
func fallback(c tele.Context, name string, handlers ...tele.HandlerFunc) error {
	s := begin(c, name)
	for _, h := range handlers {
		if h != nil {
			return s.run(h)
		}
	}
	s.skip()
	return nil
}

func textFallback(reg *tg.Registry) tele.HandlerFunc {
	if reg == nil {
		return nil
	}
	return reg.TextFallback()
}

func photoFallback(reg *tg.Registry) tele.HandlerFunc {
	if reg == nil {
		return nil
	}
	return reg.PhotoFallback()
}

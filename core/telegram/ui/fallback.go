// Package ui wires the handlers for updates that no route claims.
package ui

import (
	tg "github.com/Fechomap/cargas-gas/core/telegram"

	tele "gopkg.in/telebot.v4"
)

// FallbackProvider exposes handlers used when incoming updates
// cannot be mapped to commands, callbacks, or an active workflow.
type FallbackProvider interface {
	UnknownText() tele.HandlerFunc
	UnexpectedFile() tele.HandlerFunc
	UnknownCallback() tele.HandlerFunc
}

// Install registers the provider's handlers on reg. Nil handlers keep the
// registry defaults.
func Install(reg *tg.Registry, p FallbackProvider) {
	if reg == nil || p == nil {
		return
	}
	if h := p.UnknownText(); h != nil {
		reg.SetTextFallback(h)
	}
	if h := p.UnexpectedFile(); h != nil {
		reg.SetPhotoFallback(h)
	}
	if h := p.UnknownCallback(); h != nil {
		reg.SetCallbackNotFound(h)
	}
}

package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/Fechomap/cargas-gas/core/logger"
	"github.com/Fechomap/cargas-gas/core/telegram/commands"

	tele "gopkg.in/telebot.v4"
)

// Registry is the catalogue of commands, button callbacks and the fallbacks
// for updates nothing else claims. Routes and the access stages both read it.
type Registry struct {
	mu        sync.RWMutex
	commands  map[string]commands.Command
	aliases   map[string]string // alias -> canonical command
	callbacks map[string]commands.Callback

	textFallback     tele.HandlerFunc
	photoFallback    tele.HandlerFunc
	callbackNotFound tele.HandlerFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		commands:  map[string]commands.Command{},
		aliases:   map[string]string{},
		callbacks: map[string]commands.Callback{},
	}
}

func slashed(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || strings.HasPrefix(name, "/") {
		return name
	}
	return "/" + name
}

func skipped(event, name, reason string) {
	logger.LogEvent(context.Background(), logger.TWire, slog.LevelWarn, event,
		slog.String("name", name),
		slog.String("reason", reason),
	)
}

// RegisterCommand adds cmd under name, which must start with a slash. Invalid
// and duplicate registrations are logged and ignored.
func (r *Registry) RegisterCommand(name string, cmd commands.Command) {
	switch {
	case cmd.Handler == nil || cmd.Description == "":
		skipped("register.command.skip", name, "invalid")
		return
	case !strings.HasPrefix(name, "/") || len(name) < 2:
		skipped("register.command.skip", name, "no_slash_prefix")
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.commands[name]; taken {
		skipped("register.command.duplicate", name, "duplicate")
		return
	}
	if _, taken := r.aliases[name]; taken {
		skipped("register.command.duplicate", name, "alias")
		return
	}
	r.commands[name] = cmd
	for _, a := range cmd.Aliases {
		if a = slashed(a); a != "" && a != name {
			r.aliases[a] = name
		}
	}
}

// LookupCommand resolves name or one of its aliases to the canonical command.
func (r *Registry) LookupCommand(name string) (string, commands.Command, bool) {
	name = slashed(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if canonical, ok := r.aliases[name]; ok {
		name = canonical
	}
	cmd, ok := r.commands[name]
	if !ok {
		return "", commands.Command{}, false
	}
	return name, cmd, true
}

// Commands returns a copy of the registered commands keyed by canonical name.
func (r *Registry) Commands() map[string]commands.Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.commands)
}

// ListCommands builds the Telegram command menu. visibleOnly drops hidden and
// operator-only commands.
func (r *Registry) ListCommands(visibleOnly bool) []tele.Command {
	var list []tele.Command
	for name, cmd := range r.Commands() {
		if visibleOnly && (cmd.Hidden || cmd.AdminOnly) {
			continue
		}
		list = append(list, tele.Command{Text: strings.TrimPrefix(name, "/"), Description: cmd.Description})
	}
	slices.SortFunc(list, func(a, b tele.Command) int { return strings.Compare(a.Text, b.Text) })
	return list
}

// RegisterCallback adds the handler for buttons with the given unique key.
func (r *Registry) RegisterCallback(key string, cb commands.Callback) error {
	if key == "" || cb.Handler == nil {
		skipped("register.callback.skip", key, "invalid")
		return errors.New("telegram: callback needs a key and a handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.callbacks[key]; taken {
		skipped("register.callback.duplicate", key, "duplicate")
		return fmt.Errorf("telegram: callback %q already registered", key)
	}
	r.callbacks[key] = cb
	return nil
}

// GetCallback returns the handler for key.
func (r *Registry) GetCallback(key string) (tele.HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.callbacks[key]
	return cb.Handler, ok
}

// ListCallbacks returns the registered keys, sorted.
func (r *Registry) ListCallbacks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.callbacks))
}

// Rule returns the access metadata of a command ("/name", aliases included)
// or of a callback key.
func (r *Registry) Rule(key string) (commands.Rule, bool) {
	if key == "" {
		return commands.Rule{}, false
	}
	if strings.HasPrefix(key, "/") {
		_, cmd, ok := r.LookupCommand(key)
		return cmd.Rule, ok
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.callbacks[key]
	return cb.Rule, ok
}

// SetTextFallback sets the handler for text no route claims.
func (r *Registry) SetTextFallback(h tele.HandlerFunc) {
	r.mu.Lock()
	r.textFallback = h
	r.mu.Unlock()
}

// TextFallback returns the handler set by SetTextFallback.
func (r *Registry) TextFallback() tele.HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.textFallback
}

// SetPhotoFallback sets the handler for photos outside a workflow.
func (r *Registry) SetPhotoFallback(h tele.HandlerFunc) {
	r.mu.Lock()
	r.photoFallback = h
	r.mu.Unlock()
}

// PhotoFallback returns the handler set by SetPhotoFallback.
func (r *Registry) PhotoFallback() tele.HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.photoFallback
}

// SetCallbackNotFound sets the handler for buttons with an unknown key.
func (r *Registry) SetCallbackNotFound(h tele.HandlerFunc) {
	r.mu.Lock()
	r.callbackNotFound = h
	r.mu.Unlock()
}

// CallbackNotFound returns the handler set by SetCallbackNotFound.
func (r *Registry) CallbackNotFound() tele.HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.callbackNotFound
}

// InitBotCommands publishes the visible commands as the bot's menu.
func InitBotCommands(bot *tele.Bot, reg *Registry) {
	if err := bot.SetCommands(reg.ListCommands(true)); err != nil {
		logger.LogEvent(context.Background(), logger.TWire, slog.LevelError, "register.commands.set_failed",
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
	}
}

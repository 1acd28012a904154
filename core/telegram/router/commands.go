package router

import (
	"log/slog"
	"strings"

	"github.com/Fechomap/cargas-gas/core/logger"
	tg "github.com/Fechomap/cargas-gas/core/telegram"

	tele "gopkg.in/telebot.v4"
)

// CommandRoutes binds every registered command and alias. Access rules are
// enforced by the global chain, not per route.
func CommandRoutes(reg *tg.Registry) []tg.Route {
	if reg == nil {
		return nil
	}
	all := reg.Commands()
	var routes []tg.Route
	for cmd, def := range all {
		name, h := routeName(cmd), def.Handler
		route := func(c tele.Context) error { return begin(c, name).run(h) }

		endpoints := append([]string{cmd}, def.Aliases...)
		for _, ep := range endpoints {
			if ep = strings.TrimSpace(ep); ep == "" {
				continue
			}
			if !strings.HasPrefix(ep, "/") {
				ep = "/" + ep
			}
			routes = append(routes, tg.Route{Endpoint: ep, Handler: route})
		}
	}
	logger.LogEvent(logger.Background(), logger.TWire, slog.LevelInfo, "routes.commands",
		slog.Int("commands", len(all)),
		slog.Int("routes", len(routes)),
		slog.Int("callbacks", len(reg.ListCallbacks())),
	)
	return routes
}

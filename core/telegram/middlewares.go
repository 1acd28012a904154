package telegram

import (
	"github.com/Fechomap/cargas-gas/core/telegram/middleware"
)

// DefaultMiddlewares builds the shared head of the chain: error boundary,
// diagnostics and update logging, in that order. Callers append the
// session and domain stages.
func DefaultMiddlewares(metrics *middleware.Metrics, recoverOpts middleware.RecoverOptions) []Middleware {
	return []Middleware{
		{Name: "recover", Use: middleware.Recover(recoverOpts)},
		{Name: "metrics", Use: metrics.Middleware},
		{Name: "logger", Use: middleware.LoggerMiddleware},
	}
}

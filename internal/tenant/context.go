package tenant

import (
	"context"

	"github.com/Fechomap/cargas-gas/internal/domain"
)

// Resolution is what the tenant stages attach to the request context.
type Resolution struct {
	// Tenant is nil when resolution was bypassed.
	Tenant   *domain.Tenant
	Settings domain.TenantSettings
	Bypassed bool
}

type ctxKey struct{}

// WithResolution attaches r to ctx.
func WithResolution(ctx context.Context, r *Resolution) context.Context {
	return context.WithValue(ctx, ctxKey{}, r)
}

// FromContext returns the resolution attached by the pipeline, if any.
func FromContext(ctx context.Context) (*Resolution, bool) {
	r, ok := ctx.Value(ctxKey{}).(*Resolution)
	return r, ok && r != nil
}

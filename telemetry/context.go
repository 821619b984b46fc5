package telemetry

import (
	"context"
)

const (
	telemeterContextKey ctxKey = iota
)

type ctxKey byte

// ContextWithTelemeter returns a new context carrying the telemeter.
func ContextWithTelemeter(ctx context.Context, tlm *Telemeter) context.Context {
	return context.WithValue(ctx, telemeterContextKey, tlm)
}

// TelemeterFromContext returns the telemeter stored in the context. Without one, the returned
// telemeter reports to the global OpenTelemetry providers, which are no-ops unless configured.
func TelemeterFromContext(ctx context.Context) *Telemeter {
	if val := ctx.Value(telemeterContextKey); val != nil {
		if val, ok := val.(*Telemeter); ok && val != nil {
			return val
		}
	}

	return defaultTelemeter()
}

// Count increments the named counter of the context telemeter.
func Count(ctx context.Context, name string, value int64) {
	TelemeterFromContext(ctx).Count(ctx, name, value)
}

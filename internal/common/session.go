package common

import "context"

// RequestContext holds per-request identity carried by HTTP middleware —
// either resolved from a validated bearer token or left nil for unauthenticated
// single-tenant operation.
type RequestContext struct {
	SessionID     string
	CorrelationID string
}

type contextKey int

const requestContextKey contextKey = iota

// WithRequestContext stores a RequestContext in ctx.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey, rc)
}

// RequestContextFrom retrieves the RequestContext from ctx, or nil if absent.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(requestContextKey).(*RequestContext)
	return rc
}

// CorrelationIDFrom returns the correlation id carried on ctx, or "" if absent.
func CorrelationIDFrom(ctx context.Context) string {
	if rc := RequestContextFrom(ctx); rc != nil {
		return rc.CorrelationID
	}
	return ""
}

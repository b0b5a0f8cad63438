package goSentinel

import "context"

type requestMetaContextKey struct{}
type principalContextKey struct{}

// RequestMeta describes the transport request behind an engine call. It ends
// up in audit events, risk scoring and the session device record.
type RequestMeta struct {
	IP        string
	UserAgent string
	Method    string
	Path      string
}

// WithRequestMeta attaches m to ctx.
func WithRequestMeta(ctx context.Context, m RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaContextKey{}, m)
}

// RequestMetaFromContext returns the metadata attached by WithRequestMeta.
func RequestMetaFromContext(ctx context.Context) RequestMeta {
	if ctx == nil {
		return RequestMeta{}
	}
	m, _ := ctx.Value(requestMetaContextKey{}).(RequestMeta)
	return m
}

// WithPrincipal attaches a verified caller to ctx. Middleware calls it after
// Engine.Verify succeeds.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext returns the caller attached by WithPrincipal.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	if ctx == nil {
		return nil, false
	}
	p, ok := ctx.Value(principalContextKey{}).(*Principal)
	return p, ok && p != nil
}

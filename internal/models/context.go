package models

import "context"

type requestContextKey struct{}

// RequestContext carries the caller identity through a request
type RequestContext struct {
	UserId    string
	RequestId string
}

// WithRequestContext attaches caller identity to a context.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// GetRequestContext retrieves caller identity from context, or nil if absent.
func GetRequestContext(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(requestContextKey{}).(*RequestContext)
	return rc
}

package fondy

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type RequestContext struct {
	// Unique key for each request for tracing purposes. Generated when the
	// caller does not send one.
	//
	// Example: 5f0c6c1e-3b7e-4a53-9a43-1f7bd1f0c0a1
	RequestID string
	// Information about the client making this request
	//
	// Example: Mozilla/5.0 (X11; Linux x86_64)
	UserAgent string
	// Address of the peer that opened the connection
	//
	// Example: 54.154.216.60:41234
	RemoteAddr string
	// First hop recorded by an upstream proxy, if any
	//
	// Example: 54.154.216.60
	ForwardedFor string
}

func requestContextFromRequest(r *http.Request) *RequestContext {
	requestID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if first, _, ok := strings.Cut(forwarded, ","); ok {
		forwarded = strings.TrimSpace(first)
	}
	return &RequestContext{
		RequestID:    requestID,
		UserAgent:    strings.TrimSpace(r.Header.Get("User-Agent")),
		RemoteAddr:   r.RemoteAddr,
		ForwardedFor: forwarded,
	}
}

type requestContextKey struct{}

func contextWithRequestContext(ctx context.Context, requestCtx *RequestContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if requestCtx == nil {
		return ctx
	}
	return context.WithValue(ctx, requestContextKey{}, requestCtx)
}

// RequestContextFromContext extracts the HTTP request metadata previously stored in the context.
func RequestContextFromContext(ctx context.Context) *RequestContext {
	if ctx == nil {
		return nil
	}
	if requestCtx, ok := ctx.Value(requestContextKey{}).(*RequestContext); ok {
		return requestCtx
	}
	return nil
}

// RequestID returns the request id stored in ctx, or "unknown".
func RequestID(ctx context.Context) string {
	if rc := RequestContextFromContext(ctx); rc != nil && rc.RequestID != "" {
		return rc.RequestID
	}
	return "unknown"
}

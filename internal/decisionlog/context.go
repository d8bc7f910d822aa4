// ABOUTME: Correlation id propagation through context and HTTP headers
// ABOUTME: Threads one id through every decision point of a request

package decisionlog

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// Headers checked, in order, for an inbound correlation id.
const (
	HeaderCorrelationID = "X-Correlation-ID"
	HeaderRequestID     = "X-Request-ID"
)

type correlationKey struct{}

// NewCorrelationID returns a fresh random id.
func NewCorrelationID() string {
	return uuid.New().String()
}

// WithCorrelationID returns a context carrying id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id in ctx, or "" if none.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// EnsureCorrelationID returns ctx unchanged if it already has an id,
// otherwise a context carrying a new one.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if id := CorrelationID(ctx); id != "" {
		return ctx, id
	}
	id := NewCorrelationID()
	return WithCorrelationID(ctx, id), id
}

// FromRequest returns the inbound id header if present (and sane), else a new id.
func FromRequest(r *http.Request) string {
	for _, h := range []string{HeaderCorrelationID, HeaderRequestID} {
		if v := r.Header.Get(h); v != "" && len(v) <= 128 {
			return v
		}
	}
	return NewCorrelationID()
}

// Middleware assigns a correlation id to every request and echoes it in the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := CorrelationID(r.Context())
		if id == "" {
			id = FromRequest(r)
			r = r.WithContext(WithCorrelationID(r.Context(), id))
		}
		w.Header().Set(HeaderCorrelationID, id)
		next.ServeHTTP(w, r)
	})
}

// Package auth handles the connection edge: caller identity extraction
// and per-client rate limiting. Identity is asserted by the fronting
// proxy, this layer only reads and propagates it.
package auth

import (
	"context"
	"net/http"
	"strings"
)

type ctxUserKey struct{}

// UserIDFromRequest reads the caller identity from the X-User-ID header
// or the user query parameter, header wins.
func UserIDFromRequest(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-User-ID")); id != "" {
		return id
	}
	return strings.TrimSpace(r.URL.Query().Get("user"))
}

// WithUserID returns a context carrying the caller identity.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxUserKey{}, userID)
}

// UserIDFromContext returns the caller identity or empty string.
func UserIDFromContext(ctx context.Context) string {
	if v := ctx.Value(ctxUserKey{}); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

package auth

import (
	"net"
	"net/http"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/utils"
)

// Middleware injects caller identity into the request context and
// applies a per-IP rate limit. Websocket upgrades bypass the limiter
// here; the gateway rate-limits events per connection instead.
func Middleware(rps float64, burst int) func(http.Handler) http.Handler {
	pool := newLimiterPool(rps, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID := UserIDFromRequest(r); userID != "" {
				r = r.WithContext(WithUserID(r.Context(), userID))
			}
			if r.Header.Get("Upgrade") != "websocket" {
				key := clientIP(r)
				if !pool.Allow(key) {
					logger.Warn("request_rate_limited", "remote", key, "path", r.URL.Path)
					utils.JSONErrorCode(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return h
	}
	return r.RemoteAddr
}

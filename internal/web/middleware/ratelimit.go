package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/missing-persons/internal/ratelimit"
)

// RateLimit throttles requests per client IP. onLimited, when set, is called
// for every rejected request.
func RateLimit(limiter *ratelimit.KeyLimiter, onLimited func(r *http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter.Allow(clientIP(r), time.Now()) {
				next.ServeHTTP(w, r)
				return
			}
			if onLimited != nil {
				onLimited(r)
			}

			retry := max(int(limiter.RetryAfter().Round(time.Second)/time.Second), 1)
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			if strings.HasPrefix(r.URL.Path, "/api/") {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"too many requests"}`))
				return
			}
			http.Error(w, "Too many attempts. Please wait a moment and try again.", http.StatusTooManyRequests)
		})
	}
}

// clientIP returns the host part of RemoteAddr, which TrustedRealIP has
// already rewritten when the request came through a trusted proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

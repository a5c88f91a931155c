package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/hlog"
)

type KeyFunc func(r *http.Request) string

type Options struct {
	Store              *Store
	KeyFn              KeyFunc
	TrustXForwardedFor bool
	RetryAfter         time.Duration
}

// ClientKey returns the client IP of a request.
// The first X-Forwarded-For entry is used only when trustXFF is set.
func ClientKey(trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if trustXFF {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
					return ip
				}
			}
		}
		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// Middleware rejects requests with 429 once the client's bucket is empty.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.RetryAfter == 0 {
		opts.RetryAfter = time.Second
	}
	if opts.KeyFn == nil {
		opts.KeyFn = ClientKey(opts.TrustXForwardedFor)
	}
	retryAfter := strconv.Itoa(int(opts.RetryAfter.Seconds()))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := opts.KeyFn(r)
			if !opts.Store.Limiter(key).Allow() {
				hlog.FromRequest(r).Debug().Str("client", key).Msg("Rate limited")
				w.Header().Set("Retry-After", retryAfter)
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

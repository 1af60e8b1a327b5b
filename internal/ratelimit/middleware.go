package ratelimit

import (
	"net/http"
	"strconv"

	"echohook/internal/capture"
)

type KeyFunc func(r *http.Request) string

type Options struct {
	Limiter *Limiter
	KeyFn   KeyFunc
}

// DefaultKeyFunc keys requests by the same client address captures record.
func DefaultKeyFunc(r *http.Request) string {
	addr, err := capture.ClientAddress(r)
	if err != nil {
		return ""
	}
	return addr
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			dec := opts.Limiter.Allow(r.Context(), opts.KeyFn(r))
			if !dec.Allowed {
				WriteDenied(w, dec)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WriteDenied answers a request the limiter refused.
func WriteDenied(w http.ResponseWriter, dec Decision) {
	if secs := int(dec.RetryAfter.Seconds()); secs > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	http.Error(w, Message, http.StatusTooManyRequests)
}

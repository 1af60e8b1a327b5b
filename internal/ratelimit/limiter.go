// Package ratelimit implements a fixed one-minute window limiter keyed by
// client address. Counters live behind the Counter interface so a single
// process can count in memory and a fleet can share Redis.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	Window = time.Minute

	// Message is the body sent with a denied request.
	Message = "Too many requests. Please try again later."

	windowFormat = "200601021504"
)

// Counter atomically increments key and returns the new value. A missing key
// starts at zero and expires ttl after it was created.
type Counter interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

type Limiter struct {
	// RequestsPerMinute <= 0 disables limiting.
	RequestsPerMinute int
	Counter           Counter
	Clock             clockwork.Clock
	Logger            *slog.Logger
}

type Decision struct {
	Allowed bool
	Key     string
	Count   int64
	Limit   int
	// RetryAfter is the time left in the current window.
	RetryAfter time.Duration
}

// WindowKey is the counter key for clientKey in the minute containing now.
func WindowKey(clientKey string, now time.Time) string {
	return "rl:" + clientKey + ":" + now.UTC().Format(windowFormat)
}

// Allow counts one request for clientKey against the current window. Requests
// without a key, and requests arriving while the counter is unavailable, are
// let through.
func (l *Limiter) Allow(ctx context.Context, clientKey string) Decision {
	if l == nil || l.RequestsPerMinute <= 0 || l.Counter == nil || clientKey == "" {
		return Decision{Allowed: true, Key: clientKey}
	}
	now := l.now()
	key := WindowKey(clientKey, now)
	dec := Decision{
		Allowed:    true,
		Key:        key,
		Limit:      l.RequestsPerMinute,
		RetryAfter: now.Truncate(Window).Add(Window).Sub(now),
	}

	count, err := l.Counter.Incr(ctx, key, Window)
	if err != nil {
		l.logger().Error("rate limit counter failed, allowing request", "key", key, "error", err)
		return dec
	}
	dec.Count = count
	if count > int64(l.RequestsPerMinute) {
		dec.Allowed = false
		l.logger().Warn("rate limit exceeded", "key", key, "requests", count, "limit", l.RequestsPerMinute)
	}
	return dec
}

func (l *Limiter) now() time.Time {
	if l.Clock == nil {
		return time.Now().UTC()
	}
	return l.Clock.Now().UTC()
}

func (l *Limiter) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

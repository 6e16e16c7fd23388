package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LimitError is returned by Login when the username attempted to log in too recently.
type LimitError struct {
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("login limit reached, retry after %s", e.RetryAfter)
}

func (e *LimitError) HTTPStatusCode() int {
	return http.StatusTooManyRequests
}

type clientAddrKey struct{}

// WithClientAddr records the network address a login comes from. Login
// attempts are limited per username and address, so attempts from one
// address cannot lock a user out on another.
func WithClientAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, clientAddrKey{}, addr)
}

func clientAddr(ctx context.Context) string {
	addr, _ := ctx.Value(clientAddrKey{}).(string)
	return addr
}

type loginLimiter struct {
	interval time.Duration

	mu        sync.Mutex // protects fields below
	limiters  map[string]*rate.Limiter
	lastSweep time.Time
}

func newLoginLimiter(interval time.Duration) *loginLimiter {
	return &loginLimiter{
		interval: interval,
		limiters: make(map[string]*rate.Limiter),
	}
}

// reserve takes an attempt for username from addr and returns zero, or how
// long the caller has to wait when no attempt is left. A refused attempt is
// not counted.
func (l *loginLimiter) reserve(username, addr string, now time.Time) time.Duration {
	r := l.limiter(username+"\x00"+addr, now).ReserveN(now, 1)
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return d
	}
	return 0
}

func (l *loginLimiter) limiter(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= l.interval {
		l.sweep(now)
	}

	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(l.interval), 1)
		l.limiters[key] = limiter
	}

	return limiter
}

// sweep drops limiters that have refilled. A full limiter behaves exactly
// like a new one, so forgetting it changes no decision.
func (l *loginLimiter) sweep(now time.Time) {
	for key, limiter := range l.limiters {
		if limiter.TokensAt(now) >= float64(limiter.Burst()) {
			delete(l.limiters, key)
		}
	}
	l.lastSweep = now
}

func (l *loginLimiter) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

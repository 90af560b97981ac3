// Package ratelimit guards the process-wide shared state live exchange
// adapters depend on (spec §9): a request-rate limiter per venue, and a
// TTL-bounded session/auth refresh guard so concurrent strategies sharing
// one exchange client don't each re-authenticate independently.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// VenueLimiter rate-limits outbound requests to one exchange venue, shared
// across every strategy trading that venue from this process.
type VenueLimiter struct {
	limiter *rate.Limiter
}

// NewVenueLimiter builds a limiter allowing ratePerSecond requests/sec with
// a burst of the same size.
func NewVenueLimiter(ratePerSecond float64) *VenueLimiter {
	if ratePerSecond <= 0 {
		ratePerSecond = 10
	}
	return &VenueLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), int(ratePerSecond))}
}

// Wait blocks until a request token is available or ctx is cancelled.
func (v *VenueLimiter) Wait(ctx context.Context) error {
	return v.limiter.Wait(ctx)
}

// SessionGuard refreshes a venue session/auth token at most once per TTL,
// even under concurrent callers — a second caller within the TTL window
// reuses the first refresh rather than re-authenticating.
type SessionGuard struct {
	ttl    time.Duration
	mu     sync.Mutex
	refreshedAt time.Time
	refreshing  chan struct{}
}

// NewSessionGuard builds a guard that treats a refresh as valid for ttl.
func NewSessionGuard(ttl time.Duration) *SessionGuard {
	return &SessionGuard{ttl: ttl}
}

// Refresh calls refreshFn if the last successful refresh is older than the
// guard's TTL; concurrent callers within the same stale window collapse
// onto a single in-flight refresh.
func (g *SessionGuard) Refresh(ctx context.Context, refreshFn func(context.Context) error) error {
	g.mu.Lock()
	if time.Since(g.refreshedAt) < g.ttl {
		g.mu.Unlock()
		return nil
	}
	if g.refreshing != nil {
		wait := g.refreshing
		g.mu.Unlock()
		select {
		case <-wait:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	done := make(chan struct{})
	g.refreshing = done
	g.mu.Unlock()

	err := refreshFn(ctx)

	g.mu.Lock()
	if err == nil {
		g.refreshedAt = time.Now()
	}
	g.refreshing = nil
	g.mu.Unlock()
	close(done)
	return err
}

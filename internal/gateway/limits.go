package gateway

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/soyeahso/wayfarer/internal/config"
	"golang.org/x/time/rate"
)

const (
	authRateWindow   = 5 * time.Minute
	authRateMaxFails = 10
	authRateMaxIPs   = 10000 // max tracked IPs to prevent memory exhaustion
	limiterSweep     = time.Minute
)

// authRateLimiter tracks failed auth attempts per IP to prevent brute-force
// attacks. Each IP gets a token bucket holding authRateMaxFails failures that
// refills over authRateWindow; an IP with an empty bucket is refused.
type authRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

func newAuthRateLimiter() *authRateLimiter {
	return &authRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
	}
}

func hostOf(remoteAddr string) string {
	host, _, _ := net.SplitHostPort(remoteAddr)
	if host == "" {
		host = remoteAddr
	}
	return host
}

func (l *authRateLimiter) allow(remoteAddr string) bool {
	host := hostOf(remoteAddr)

	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[host]
	if !ok {
		return true
	}
	return lim.TokensAt(l.now()) >= 1
}

func (l *authRateLimiter) recordFailure(remoteAddr string) {
	host := hostOf(remoteAddr)

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	lim, ok := l.limiters[host]
	if !ok {
		if len(l.limiters) >= authRateMaxIPs {
			l.sweepLocked(now)
		}
		if len(l.limiters) >= authRateMaxIPs {
			// Still full: forget an arbitrary entry rather than grow.
			for ip := range l.limiters {
				delete(l.limiters, ip)
				break
			}
		}
		lim = rate.NewLimiter(rate.Every(authRateWindow/authRateMaxFails), authRateMaxFails)
		l.limiters[host] = lim
	}
	lim.AllowN(now, 1)
}

// sweepLocked drops IPs whose bucket has fully refilled.
func (l *authRateLimiter) sweepLocked(now time.Time) {
	for ip, lim := range l.limiters {
		if lim.TokensAt(now) >= float64(lim.Burst()) {
			delete(l.limiters, ip)
		}
	}
}

func (l *authRateLimiter) run(ctx context.Context) {
	ticker := time.NewTicker(limiterSweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			l.sweepLocked(l.now())
			l.mu.Unlock()
		}
	}
}

// submitLimiter bounds how fast one session may send chat messages. A nil
// submitLimiter allows everything.
type submitLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	sessions map[string]*rate.Limiter
}

func newSubmitLimiter(cfg config.RateLimitConfig) *submitLimiter {
	if cfg.MessagesPerSecond <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &submitLimiter{
		limit:    rate.Limit(cfg.MessagesPerSecond),
		burst:    burst,
		sessions: make(map[string]*rate.Limiter),
	}
}

// allow reports whether sessionID may submit now, and if not, how long
// until it may.
func (l *submitLimiter) allow(sessionID string) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	l.mu.Lock()
	lim, ok := l.sessions[sessionID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.sessions[sessionID] = lim
	}
	l.mu.Unlock()

	r := lim.Reserve()
	if d := r.Delay(); d > 0 {
		r.Cancel()
		return false, d
	}
	return true, 0
}

func (l *submitLimiter) run(ctx context.Context) {
	if l == nil {
		return
	}
	ticker := time.NewTicker(limiterSweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.mu.Lock()
			for id, lim := range l.sessions {
				if lim.TokensAt(now) >= float64(lim.Burst()) {
					delete(l.sessions, id)
				}
			}
			l.mu.Unlock()
		}
	}
}

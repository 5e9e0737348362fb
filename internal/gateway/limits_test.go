package gateway

import (
	"fmt"
	"testing"
	"time"

	"github.com/soyeahso/wayfarer/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthRateLimiter_AllowInitial(t *testing.T) {
	limiter := newAuthRateLimiter()
	assert.True(t, limiter.allow("192.168.1.1:12345"))
}

func TestAuthRateLimiter_AllowAfterFewFailures(t *testing.T) {
	limiter := newAuthRateLimiter()

	for range 5 {
		limiter.recordFailure("192.168.1.1:12345")
	}
	assert.True(t, limiter.allow("192.168.1.1:12345"))
}

func TestAuthRateLimiter_BlockAfterMaxFailures(t *testing.T) {
	limiter := newAuthRateLimiter()

	for range authRateMaxFails {
		limiter.recordFailure("192.168.1.1:12345")
	}
	assert.False(t, limiter.allow("192.168.1.1:12345"))
	// Port doesn't matter.
	assert.False(t, limiter.allow("192.168.1.1:999"))
}

func TestAuthRateLimiter_DifferentIPs(t *testing.T) {
	limiter := newAuthRateLimiter()

	for range authRateMaxFails {
		limiter.recordFailure("192.168.1.1:12345")
	}
	assert.True(t, limiter.allow("192.168.1.2:12345"))
}

func TestAuthRateLimiter_IPWithoutPort(t *testing.T) {
	limiter := newAuthRateLimiter()

	for range authRateMaxFails {
		limiter.recordFailure("192.168.1.1")
	}
	assert.False(t, limiter.allow("192.168.1.1"))
}

func TestAuthRateLimiter_FailuresExpire(t *testing.T) {
	limiter := newAuthRateLimiter()
	now := time.Now()
	limiter.now = func() time.Time { return now }

	for range authRateMaxFails {
		limiter.recordFailure("192.168.1.1:12345")
	}
	require.False(t, limiter.allow("192.168.1.1:12345"))

	now = now.Add(authRateWindow / authRateMaxFails)
	assert.True(t, limiter.allow("192.168.1.1:12345"), "one failure's worth should have refilled")

	now = now.Add(authRateWindow)
	limiter.mu.Lock()
	limiter.sweepLocked(now)
	tracked := len(limiter.limiters)
	limiter.mu.Unlock()
	assert.Zero(t, tracked)
}

func TestAuthRateLimiter_CapsTrackedIPs(t *testing.T) {
	limiter := newAuthRateLimiter()
	for i := range authRateMaxIPs + 5 {
		limiter.recordFailure(fmt.Sprintf("10.%d.%d.%d:443", i>>16&0xff, i>>8&0xff, i&0xff))
	}
	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	assert.LessOrEqual(t, len(limiter.limiters), authRateMaxIPs)
}

func TestSubmitLimiter_Disabled(t *testing.T) {
	l := newSubmitLimiter(config.RateLimitConfig{})
	assert.Nil(t, l)
	for range 100 {
		ok, _ := l.allow("s1")
		require.True(t, ok)
	}
}

func TestSubmitLimiter_PerSession(t *testing.T) {
	l := newSubmitLimiter(config.RateLimitConfig{MessagesPerSecond: 1, Burst: 2})

	for range 2 {
		ok, _ := l.allow("s1")
		require.True(t, ok)
	}
	ok, wait := l.allow("s1")
	assert.False(t, ok)
	assert.Greater(t, wait, time.Duration(0))
	assert.LessOrEqual(t, wait, time.Second)

	ok, _ = l.allow("s2")
	assert.True(t, ok)
}

func TestSubmitLimiter_RefusalDoesNotConsume(t *testing.T) {
	l := newSubmitLimiter(config.RateLimitConfig{MessagesPerSecond: 20, Burst: 1})

	ok, _ := l.allow("s1")
	require.True(t, ok)
	for range 5 {
		ok, _ = l.allow("s1")
		require.False(t, ok)
	}
	assert.Eventually(t, func() bool {
		ok, _ := l.allow("s1")
		return ok
	}, time.Second, 10*time.Millisecond)
}

func TestValidSessionID(t *testing.T) {
	assert.True(t, validSessionID("s1"))
	assert.True(t, validSessionID("0b7d6a1c-2c4e-4f7e-9d4e-1a2b3c4d5e6f"))
	assert.True(t, validSessionID("trip_2026.paris"))
	assert.False(t, validSessionID(""))
	assert.False(t, validSessionID("has space"))
	assert.False(t, validSessionID("slash/es"))
	assert.False(t, validSessionID(string(make([]byte, 129))))
}

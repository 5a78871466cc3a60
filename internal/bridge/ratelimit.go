package bridge

import (
	"sync"
	"time"
)

// tokenBucket throttles SMS sends for one chat identity.
type tokenBucket struct {
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastTime time.Time
}

func (b *tokenBucket) allow(now time.Time) bool {
	elapsed := now.Sub(b.lastTime).Seconds()
	b.tokens += elapsed * b.rate
	if b.tokens > b.max {
		b.tokens = b.max
	}
	b.lastTime = now

	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		return true
	}
	return false
}

// SendLimiter keeps one token bucket per sender identity. A nil *SendLimiter
// allows everything.
type SendLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*tokenBucket
	burst     float64
	perSecond float64
	now       func() time.Time
}

// NewSendLimiter returns a limiter allowing burst sends at once, refilled at
// ratePerMinute. A non-positive rate disables limiting (nil is returned).
func NewSendLimiter(burst int, ratePerMinute float64) *SendLimiter {
	if ratePerMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 5
	}
	return &SendLimiter{
		buckets:   make(map[string]*tokenBucket),
		burst:     float64(burst),
		perSecond: ratePerMinute / 60.0,
		now:       time.Now,
	}
}

// Allow consumes one token for key, reporting false when none is left.
func (l *SendLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &tokenBucket{tokens: l.burst, max: l.burst, rate: l.perSecond, lastTime: now}
		l.buckets[key] = b
	}
	return b.allow(now)
}

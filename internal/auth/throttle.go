package auth

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

const defaultLimiterKeys = 4096

// AttemptLimiter rate limits login attempts per key (the normalized email).
// The least recently used keys are forgotten once more than the configured
// number are tracked.
type AttemptLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets *lru.Cache[string, *rate.Limiter]
}

// NewAttemptLimiter allows perSecond sustained attempts with the given burst.
// maxKeys <= 0 uses a default.
func NewAttemptLimiter(perSecond float64, burst, maxKeys int) (*AttemptLimiter, error) {
	if perSecond <= 0 || burst <= 0 {
		return nil, ErrInvalidInput
	}
	if maxKeys <= 0 {
		maxKeys = defaultLimiterKeys
	}
	cache, err := lru.New[string, *rate.Limiter](maxKeys)
	if err != nil {
		return nil, err
	}
	return &AttemptLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		buckets: cache,
	}, nil
}

// AllowAt consumes one token for key at t.
func (l *AttemptLimiter) AllowAt(key string, t time.Time) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	lim, ok := l.buckets.Get(key)
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.buckets.Add(key, lim)
	}
	l.mu.Unlock()
	return lim.AllowN(t, 1)
}

// Forget drops the bucket for key, restoring its full burst.
func (l *AttemptLimiter) Forget(key string) {
	if l == nil {
		return
	}
	l.buckets.Remove(key)
}

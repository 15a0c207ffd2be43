package server

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// bucket is a token bucket: burst tokens, refilled at rate per second.
type bucket struct {
	tokens     float64
	lastUpdate time.Time
}

// rateLimiter keeps one bucket per client key.
type rateLimiter struct {
	rate  float64
	burst int
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

func newRateLimiter(perMinute, burst int, now func() time.Time) *rateLimiter {
	if now == nil {
		now = time.Now
	}
	return &rateLimiter{
		rate:    float64(perMinute) / 60,
		burst:   burst,
		now:     now,
		buckets: make(map[string]*bucket),
	}
}

// allow takes a token from key's bucket. When none is left it returns how
// long until one is.
func (r *rateLimiter) allow(key string) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	b, ok := r.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(r.burst), lastUpdate: now}
		r.buckets[key] = b
	}

	b.tokens += now.Sub(b.lastUpdate).Seconds() * r.rate
	if b.tokens > float64(r.burst) {
		b.tokens = float64(r.burst)
	}
	b.lastUpdate = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := time.Duration((1 - b.tokens) / r.rate * float64(time.Second))
	return false, wait
}

// prune drops buckets that have been full for a while.
func (r *rateLimiter) prune(idle time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for k, b := range r.buckets {
		if now.Sub(b.lastUpdate) > idle {
			delete(r.buckets, k)
		}
	}
}

// rateLimit rejects callers over the limit with 429, keyed by client IP.
func rateLimit(l *rateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, wait := l.allow(c.ClientIP())
		if !ok {
			secs := int(math.Ceil(wait.Seconds()))
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many attempts, retry in " + strconv.Itoa(secs) + "s"})
			return
		}
		c.Next()
	}
}

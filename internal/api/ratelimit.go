package api

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/aethra/domus/internal/errors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// limiterIdle is how long an unused bucket is kept
const limiterIdle = 30 * time.Minute

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per key (client IP, IP+email)
type RateLimiter struct {
	buckets map[string]*bucket
	mu      sync.Mutex
	rate    rate.Limit
	burst   int
	now     func() time.Time
}

// NewRateLimiter creates a limiter refilling perMinute tokens a minute. A
// non-positive rate disables limiting.
func NewRateLimiter(perMinute float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(perMinute / 60)
	}
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		rate:    limit,
		burst:   burst,
		now:     time.Now,
	}
}

// Allow takes a token for key. When none is left it returns the time until
// the next one.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		rl.sweep(now)
		b = &bucket{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now

	if b.limiter.AllowN(now, 1) {
		return true, 0
	}
	r := b.limiter.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return false, wait
}

// Reset forgets key, e.g. after a successful login
func (rl *RateLimiter) Reset(key string) {
	rl.mu.Lock()
	delete(rl.buckets, key)
	rl.mu.Unlock()
}

func (rl *RateLimiter) sweep(now time.Time) {
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > limiterIdle {
			delete(rl.buckets, key)
		}
	}
}

// Middleware limits requests per client IP
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if ok, wait := rl.Allow(c.ClientIP()); !ok {
			tooManyRequests(c, wait)
			return
		}
		c.Next()
	}
}

func tooManyRequests(c *gin.Context, wait time.Duration) {
	seconds := int(math.Ceil(wait.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	c.Header("Retry-After", strconv.Itoa(seconds))
	status, body := errors.ToHTTPError(errors.NewTooManyRequestsError("too many requests, please wait before trying again"))
	body["retry_after"] = seconds
	c.AbortWithStatusJSON(status, body)
}

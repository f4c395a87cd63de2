package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiterConfig configures rate limiting behavior.
type RateLimiterConfig struct {
	RequestsPerSecond float64
	Burst             int
	// Key picks the bucket for a request. Defaults to the client IP.
	Key func(c *gin.Context) string
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiterMap stores one limiter per key.
type rateLimiterMap struct {
	limiters map[string]*limiterEntry
	mu       sync.Mutex
	config   RateLimiterConfig
}

func newRateLimiterMap(config RateLimiterConfig) *rateLimiterMap {
	return &rateLimiterMap{
		limiters: make(map[string]*limiterEntry),
		config:   config,
	}
}

// getLimiter returns or creates the limiter for key.
func (rl *rateLimiterMap) getLimiter(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, exists := rl.limiters[key]
	if !exists {
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.Burst)}
		rl.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

// evictIdle drops limiters not used since before cutoff.
func (rl *rateLimiterMap) evictIdle(cutoff time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for key, entry := range rl.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.limiters, key)
			removed++
		}
	}
	return removed
}

func (rl *rateLimiterMap) cleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for now := range ticker.C {
		rl.evictIdle(now.Add(-10 * time.Minute))
	}
}

// RateLimiterMiddleware rejects requests over the configured rate with 429.
func RateLimiterMiddleware(config RateLimiterConfig) gin.HandlerFunc {
	if config.Key == nil {
		config.Key = func(c *gin.Context) string { return c.ClientIP() }
	}
	limiterMap := newRateLimiterMap(config)
	go limiterMap.cleanup()

	return func(c *gin.Context) {
		now := time.Now()
		limiter := limiterMap.getLimiter(config.Key(c), now)

		if !limiter.AllowN(now, 1) {
			reservation := limiter.ReserveN(now, 1)
			retryAfter := reservation.DelayFrom(now).Seconds()
			reservation.CancelAt(now)

			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter))))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded. Please try again later.",
				"retry_after": retryAfter,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

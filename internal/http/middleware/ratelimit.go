// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements an in-memory token-bucket limiter with one bucket per
// caller (user id when authenticated, client IP otherwise). Idle buckets are
// evicted opportunistically. The limiter is process-local.
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

// KeyFunc maps a request to a bucket identity.
type KeyFunc func(*gin.Context) string

// KeyByUserOrIP keys buckets by "user:<id>" when Auth established an
// identity and by "ip:<addr>" otherwise.
func KeyByUserOrIP() KeyFunc {
	return func(c *gin.Context) string {
		if uid := UserID(c); uid != "" {
			return "user:" + uid
		}
		return "ip:" + c.ClientIP()
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-key token-bucket limiter. It is safe for concurrent use.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	keyFn KeyFunc
	ttl   time.Duration
	now   func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
	lookups  uint64
}

// NewRateLimiter returns a limiter refilling rps tokens per second with the
// given burst (at least 1).
func NewRateLimiter(rps float64, burst int, keyFn KeyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if keyFn == nil {
		keyFn = KeyByUserOrIP()
	}
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		keyFn:    keyFn,
		ttl:      10 * time.Minute,
		now:      time.Now,
		visitors: make(map[string]*visitor),
	}
}

// limiter returns the bucket for key. Every 5000 lookups, buckets idle for
// longer than the TTL are evicted first, so a stale bucket is replaced even
// when it is the one requested.
func (rl *RateLimiter) limiter(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.lookups++
	if rl.lookups >= 5000 {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) >= rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.lookups = 0
	}

	if v, ok := rl.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// Size returns the number of live buckets.
func (rl *RateLimiter) Size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}

// IsRateBypass reports whether IdempotencyValidator marked the request as a
// replay that must not consume tokens.
func IsRateBypass(c *gin.Context) bool {
	v, _ := c.Get(ctxKeyRateBypass)
	b, _ := v.(bool)
	return b
}

// Handler enforces the limit. Rejected requests get 429 with the standard
// error envelope and a Retry-After header in whole seconds.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		now := rl.now()
		res := rl.limiter(rl.keyFn(c), now).ReserveN(now, 1)
		delay := res.DelayFrom(now)
		if res.OK() && delay == 0 {
			c.Next()
			return
		}
		res.CancelAt(now)

		retry := 1
		if res.OK() && delay != rate.InfDuration {
			retry = int(math.Ceil(delay.Seconds()))
		}
		c.Header("Retry-After", strconv.Itoa(max(retry, 1)))
		abortJSON(c, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
	}
}

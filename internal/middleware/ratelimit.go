package middleware

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kvasir-auth/kvasir/backend/pkg/response"
	"golang.org/x/time/rate"
)

// clientBucket pairs a token bucket with its last activity timestamp so idle
// clients can be evicted.
type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles requests per client IP. It fronts the public auth
// endpoints so credential stuffing is slowed before it ever reaches a
// password check.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientBucket
	rps     rate.Limit
	burst   int
}

// NewRateLimiter creates a per-IP limiter allowing rps requests per second
// with the given burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		clients: make(map[string]*clientBucket),
		rps:     rate.Limit(rps),
		burst:   burst,
	}
	go rl.evictIdle()
	return rl
}

func (rl *RateLimiter) bucketFor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.clients[ip]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.clients[ip] = b
	}
	b.lastSeen = time.Now()
	return b.limiter
}

// evictIdle drops buckets not seen for 5 minutes, every 3 minutes.
func (rl *RateLimiter) evictIdle() {
	for {
		time.Sleep(3 * time.Minute)
		rl.mu.Lock()
		for ip, b := range rl.clients {
			if time.Since(b.lastSeen) > 5*time.Minute {
				delete(rl.clients, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// Middleware returns the Gin middleware enforcing the limit.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.bucketFor(c.ClientIP()).Allow() {
			response.TooManyRequests(c, "too many requests, please try again later")
			c.Abort()
			return
		}
		c.Next()
	}
}

package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/openbusdata/busdq/backend/internal/config"
	"github.com/openbusdata/busdq/backend/pkg/response"
)

// Fallback throttle for the mutating endpoints when the server config
// leaves write_rps / write_burst unset.
const (
	defaultWriteRPS   = 10
	defaultWriteBurst = 20
)

const clientIdleTimeout = 5 * time.Minute

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// WriteLimiter throttles the mutating endpoints (suppression toggles,
// report initialisation) per client IP. Read endpoints are never
// limited.
type WriteLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientBucket
	rps     rate.Limit
	burst   int
}

// NewWriteLimiter builds a limiter from the server config, falling
// back to the package defaults for unset values.
func NewWriteLimiter(cfg config.ServerConfig) *WriteLimiter {
	rps := cfg.WriteRPS
	if rps <= 0 {
		rps = defaultWriteRPS
	}
	burst := cfg.WriteBurst
	if burst <= 0 {
		burst = defaultWriteBurst
	}
	wl := &WriteLimiter{
		clients: make(map[string]*clientBucket),
		rps:     rate.Limit(rps),
		burst:   burst,
	}
	go wl.evictIdle()
	return wl
}

func (wl *WriteLimiter) bucketFor(ip string) *rate.Limiter {
	wl.mu.Lock()
	defer wl.mu.Unlock()

	b, ok := wl.clients[ip]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(wl.rps, wl.burst)}
		wl.clients[ip] = b
	}
	b.lastSeen = time.Now()
	return b.limiter
}

func (wl *WriteLimiter) evictIdle() {
	for {
		time.Sleep(3 * time.Minute)
		wl.mu.Lock()
		for ip, b := range wl.clients {
			if time.Since(b.lastSeen) > clientIdleTimeout {
				delete(wl.clients, ip)
			}
		}
		wl.mu.Unlock()
	}
}

// Middleware rejects over-limit requests with the unified error body.
func (wl *WriteLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !wl.bucketFor(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, response.Response{
				Code:    http.StatusTooManyRequests,
				Message: "too many requests, please try again later",
			})
			return
		}
		c.Next()
	}
}

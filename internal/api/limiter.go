package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

const (
	limiterIdle    = 10 * time.Minute
	limiterCleanup = 20 * time.Minute
)

// IPLimiter keeps one token bucket per client IP. Buckets idle for longer
// than limiterIdle are dropped by go-cache.
type IPLimiter struct {
	mu        sync.Mutex
	perMinute int
	buckets   *gocache.Cache
}

func NewIPLimiter(perMinute int) *IPLimiter {
	if perMinute <= 0 {
		perMinute = 30
	}
	return &IPLimiter{
		perMinute: perMinute,
		buckets:   gocache.New(limiterIdle, limiterCleanup),
	}
}

func (l *IPLimiter) bucket(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if v, ok := l.buckets.Get(ip); ok {
		lim := v.(*rate.Limiter)
		l.buckets.SetDefault(ip, lim)
		return lim
	}
	lim := rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMinute)), l.perMinute)
	l.buckets.SetDefault(ip, lim)
	return lim
}

func (l *IPLimiter) Allow(ip string) bool {
	return l.bucket(ip).Allow()
}

// Middleware rejects a client that exceeded its per-minute budget with 429.
func (l *IPLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "请求过于频繁", "code": "RATE_LIMITED"})
			return
		}
		c.Next()
	}
}

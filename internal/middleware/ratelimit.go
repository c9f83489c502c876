package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/zhouzirui/abby/backend/pkg/utils"
)

const (
	maxTrackedOwners = 10000
	limiterIdleTTL   = 30 * time.Minute
)

// RateLimiter keeps one token bucket per signed-in user or, for anonymous
// requests, per client address. Idle buckets expire.
type RateLimiter struct {
	mu       sync.Mutex
	limiters *expirable.LRU[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
}

func NewRateLimiter(perMinute, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: expirable.NewLRU[string, *rate.Limiter](maxTrackedOwners, nil, limiterIdleTTL),
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
	}
}

// allow consumes one token for key.
func (l *RateLimiter) allow(key string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters.Get(key)
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
	}
	// Add 刷新过期时间
	l.limiters.Add(key, limiter)
	l.mu.Unlock()

	return limiter.Allow()
}

// Middleware rejects requests over the caller's budget with 429.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(limitKey(r)) {
			w.Header().Set("Retry-After", "60")
			utils.RespondError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// limitKey 登录用户按 UID 计数；匿名 ID 可以随时重新签发，只能按来源地址计数。
// RemoteAddr 已由 RealIP 中间件改写为客户端地址。
func limitKey(r *http.Request) string {
	if u := User(r.Context()); u != nil {
		return "user:" + u.UID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

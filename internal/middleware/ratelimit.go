// Package middleware は gin 用の共通ミドルウェアを提供します。
package middleware

import (
	"net/http"
	"sync"
	"time"

	ttlworker "github.com/FloatTech/ttl"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/yourusername/paper-press/internal/locale"
)

// idleTTL は最後のリクエストから limiter を保持する時間です。
const idleTTL = 10 * time.Minute

var tooManyRequests = locale.Variants{
	En:   "Too many uploads. Please wait a moment and try again.",
	ZhHK: "上載次數過多，請稍後再試。",
	ZhCN: "上传次数过多，请稍后再试。",
}

// RateLimiter はクライアントIPごとのトークンバケットです。
type RateLimiter struct {
	mu       sync.Mutex
	limiters *ttlworker.Cache[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
}

// NewRateLimiter は1分あたり perMinute 回、最大 burst 回の連続リクエストを許可します。
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters: ttlworker.NewCache[string, *rate.Limiter](idleTTL),
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    burst,
	}
}

// Allow は key のリクエストを許可するかどうかを返します。
func (r *RateLimiter) Allow(key string) bool {
	return r.limiterFor(key).Allow()
}

func (r *RateLimiter) limiterFor(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	limiter := r.limiters.Get(key)
	if limiter == nil {
		limiter = rate.NewLimiter(r.limit, r.burst)
	}
	// 参照のたびに保持期限を延ばす
	r.limiters.Set(key, limiter)
	return limiter
}

// RateLimit は上限を超えたクライアントに 429 を返すミドルウェアです。
// perMinute が 0 以下の場合は何もしません。
func RateLimit(perMinute, burst int) gin.HandlerFunc {
	if perMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	limiter := NewRateLimiter(perMinute, burst)
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    "TOO_MANY_REQUESTS",
				"message": locale.Pick(tooManyRequests, locale.Match(c.GetHeader("Accept-Language"))),
			})
			return
		}
		c.Next()
	}
}

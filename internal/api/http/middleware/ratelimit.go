package middleware

import (
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/openeeap/haloalign/internal/observability/logging"
	"github.com/openeeap/haloalign/pkg/errors"
)

// RateLimitKey defines the key type for rate limiting
type RateLimitKey string

const (
	// KeyByIP limits by client IP address
	KeyByIP RateLimitKey = "ip"
	// KeyGlobal applies one limit to every caller
	KeyGlobal RateLimitKey = "global"
)

// RateLimitConfig holds configuration for rate limiting
type RateLimitConfig struct {
	KeyType        RateLimitKey
	RequestsLimit  int           // Maximum requests per window
	WindowDuration time.Duration // Window the limit applies to
	BurstSize      int           // Token bucket burst, defaults to RequestsLimit
	IdleTimeout    time.Duration // Limiters unused for this long are dropped
	Logger         logging.Logger
}

// RateLimitMiddleware throttles polling clients of the status server
type RateLimitMiddleware struct {
	config   RateLimitConfig
	limiters sync.Map // map[string]*rateLimiter
	logger   logging.Logger
	now      func() time.Time
}

// rateLimiter wraps rate.Limiter with metadata
type rateLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
	mu         sync.Mutex
}

// NewRateLimitMiddleware creates a new rate limiting middleware
func NewRateLimitMiddleware(config RateLimitConfig) *RateLimitMiddleware {
	if config.BurstSize == 0 {
		config.BurstSize = config.RequestsLimit
	}
	if config.WindowDuration == 0 {
		config.WindowDuration = time.Second
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = 10 * time.Minute
	}
	if config.Logger == nil {
		config.Logger = logging.NewNoopLogger()
	}
	return &RateLimitMiddleware{config: config, logger: config.Logger, now: time.Now}
}

// Handler returns the Gin middleware handler
func (m *RateLimitMiddleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.config.RequestsLimit <= 0 {
			c.Next()
			return
		}

		key := m.extractKey(c)
		rl := m.limiter(key)

		rl.mu.Lock()
		rl.lastAccess = m.now()
		reservation := rl.limiter.ReserveN(rl.lastAccess, 1)
		delay := reservation.DelayFrom(rl.lastAccess)
		if delay > 0 {
			reservation.CancelAt(rl.lastAccess)
		}
		remaining := int(math.Max(0, math.Floor(rl.limiter.TokensAt(rl.lastAccess))))
		rl.mu.Unlock()

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", m.config.RequestsLimit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

		if delay > 0 {
			m.logger.WithContext(c.Request.Context()).Warn("Rate limit exceeded",
				logging.String("key", key),
				logging.Int("limit", m.config.RequestsLimit))

			retryAfter := math.Ceil(delay.Seconds())
			c.Header("Retry-After", fmt.Sprintf("%.0f", retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":        errors.CodeRateLimited,
				"message":     "Rate limit exceeded",
				"retry_after": retryAfter,
			})
			return
		}
		c.Next()
	}
}

// limiter returns the bucket for key, creating it on first use
func (m *RateLimitMiddleware) limiter(key string) *rateLimiter {
	if v, ok := m.limiters.Load(key); ok {
		return v.(*rateLimiter)
	}
	every := m.config.WindowDuration / time.Duration(m.config.RequestsLimit)
	v, _ := m.limiters.LoadOrStore(key, &rateLimiter{
		limiter:    rate.NewLimiter(rate.Every(every), m.config.BurstSize),
		lastAccess: m.now(),
	})
	return v.(*rateLimiter)
}

// Cleanup drops limiters idle for longer than IdleTimeout
func (m *RateLimitMiddleware) Cleanup() int {
	cutoff := m.now().Add(-m.config.IdleTimeout)
	removed := 0
	m.limiters.Range(func(key, value interface{}) bool {
		rl := value.(*rateLimiter)
		rl.mu.Lock()
		idle := rl.lastAccess.Before(cutoff)
		rl.mu.Unlock()
		if idle {
			m.limiters.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

// extractKey extracts the rate limit key from the request
func (m *RateLimitMiddleware) extractKey(c *gin.Context) string {
	switch m.config.KeyType {
	case KeyGlobal:
		return "global"
	default:
		return fmt.Sprintf("ip:%s", m.getClientIP(c))
	}
}

// getClientIP extracts client IP from request
func (m *RateLimitMiddleware) getClientIP(c *gin.Context) string {
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := c.GetHeader("X-Real-IP"); xri != "" {
		return xri
	}
	return c.ClientIP()
}

//Personal.AI order the ending
